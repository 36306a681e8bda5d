package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd/internal/server"
	"github.com/loykin/craftd/pkg/client"
)

type RemoteFlags struct {
	APIUrl     string
	Token      string
	APITimeout time.Duration
	CACert     string
	Insecure   bool
}

func (f *RemoteFlags) client() (*client.Client, error) {
	return client.New(client.Config{
		BaseURL:  f.APIUrl,
		Token:    f.Token,
		Timeout:  f.APITimeout,
		CACert:   f.CACert,
		Insecure: f.Insecure,
	})
}

// createRemoteCommand controls a "craftd serve" instance over HTTP.
func createRemoteCommand() *cobra.Command {
	f := &RemoteFlags{}
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Control a running craftd serve instance",
		Long: `Examples:
  craftd remote status --api-url http://host:8089/api
  craftd remote command say hello --token $CRAFTD_TOKEN
  craftd remote start --api-url https://host:8089/api --ca-cert ~/.craftd/tls/tls.crt`,
	}
	cmd.PersistentFlags().StringVar(&f.APIUrl, "api-url", client.DefaultBaseURL, "base URL of the craftd API")
	cmd.PersistentFlags().StringVar(&f.Token, "token", "", "bearer token for the API")
	cmd.PersistentFlags().DurationVar(&f.APITimeout, "api-timeout", client.DefaultTimeout, "request timeout")
	cmd.PersistentFlags().StringVar(&f.CACert, "ca-cert", "", "PEM file to trust for an HTTPS API")
	cmd.PersistentFlags().BoolVar(&f.Insecure, "insecure", false, "skip TLS certificate verification")

	// remote wraps fn with client construction and JSON output of its result.
	remote := func(use, short string, args cobra.PositionalArgs, fn func(context.Context, *client.Client, []string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use,
			Short: short,
			Args:  args,
			RunE: func(cmd *cobra.Command, a []string) error {
				c, err := f.client()
				if err != nil {
					return err
				}
				out, err := fn(cmd.Context(), c, a)
				if err != nil {
					return err
				}
				printJSON(cmd.OutOrStdout(), out)
				return nil
			},
		}
	}
	cmd.AddCommand(
		remote("status", "Show server status", cobra.NoArgs, func(ctx context.Context, c *client.Client, _ []string) (any, error) {
			return c.Status(ctx)
		}),
		remote("start", "Start the server", cobra.NoArgs, func(ctx context.Context, c *client.Client, _ []string) (any, error) {
			return c.Start(ctx)
		}),
		remote("stop", "Stop the server gracefully", cobra.NoArgs, func(ctx context.Context, c *client.Client, _ []string) (any, error) {
			return c.Stop(ctx)
		}),
		remote("restart", "Restart the server", cobra.NoArgs, func(ctx context.Context, c *client.Client, _ []string) (any, error) {
			return c.Restart(ctx)
		}),
		remote("command <text...>", "Send a console command", cobra.MinimumNArgs(1), func(ctx context.Context, c *client.Client, a []string) (any, error) {
			line := strings.Join(a, " ")
			if err := c.SendCommand(ctx, line); err != nil {
				return nil, err
			}
			return map[string]string{"sent": line}, nil
		}),
		remote("advise <version>", "Assess moving the remote's current profile to <version>", cobra.ExactArgs(1), func(ctx context.Context, c *client.Client, a []string) (any, error) {
			return c.Advise(ctx, a[0])
		}),
		remote("profiles", "List the remote's profiles", cobra.NoArgs, func(ctx context.Context, c *client.Client, _ []string) (any, error) {
			return c.Profiles(ctx)
		}),
		remote("use <id|name>", "Make a remote profile current", cobra.ExactArgs(1), func(ctx context.Context, c *client.Client, a []string) (any, error) {
			return c.UseProfile(ctx, a[0])
		}),
	)
	return cmd
}

// createTokenCommand produces the bcrypt hash stored in http.token_hash.
func createTokenCommand() *cobra.Command {
	cmd := &cobra.Command{Use: "token", Short: "API token helpers"}
	cmd.AddCommand(&cobra.Command{
		Use:   "hash <token>",
		Short: "Print the bcrypt hash of a token for http.token_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(args[0]) == "" {
				return errors.New("token cannot be empty")
			}
			h, err := server.HashToken(args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	})
	return cmd
}
