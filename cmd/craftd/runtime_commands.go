package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/jvm"
)

func createRuntimeCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "runtime", Short: "Find and install Java runtimes"}
	cmd.AddCommand(runtimeListCmd(g), runtimeLocateCmd(g), runtimeInstallCmd(g))
	return cmd
}

func parseMajor(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, errdefs.New("runtime", errdefs.KindInvalidOperation, "invalid major version %q", s)
	}
	return n, nil
}

func printRuntimes(cmd *cobra.Command, g *GlobalFlags, list []jvm.Installation) error {
	if g.JSON {
		printJSON(cmd.OutOrStdout(), list)
		return nil
	}
	tw := newTable(cmd.OutOrStdout(), "MAJOR", "SOURCE", "PATH")
	for _, in := range list {
		row(tw, in.Major, in.Source, in.Path)
	}
	return tw.Flush()
}

func runtimeListCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every runtime that can be found",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				return printRuntimes(cmd, g, s.app.Locator().All(cmd.Context()))
			})
		},
	}
}

func runtimeLocateCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "locate <major>",
		Short: "Find the best runtime of at least <major>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			major, err := parseMajor(args[0])
			if err != nil {
				return err
			}
			return withSession(g, func(s *session) error {
				in, err := s.app.Locator().Locate(cmd.Context(), major)
				if err != nil {
					return err
				}
				return printRuntimes(cmd, g, []jvm.Installation{in})
			})
		},
	}
}

func runtimeInstallCmd(g *GlobalFlags) *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "install <major>",
		Short: "Download and install a runtime into the runtimes directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			major, err := parseMajor(args[0])
			if err != nil {
				return err
			}
			if !jvm.Supported(major) {
				return errdefs.New("runtime.install", errdefs.KindInvalidOperation, "Java %d cannot be installed automatically", major)
			}
			return withSession(g, func(s *session) error {
				report, done := stderrProgress(quiet || g.JSON)
				in, err := s.app.InstallRuntime(cmd.Context(), major, report)
				done()
				if err != nil {
					return err
				}
				if g.JSON {
					printJSON(cmd.OutOrStdout(), in)
					return nil
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "installed Java %d at %s\n", in.Major, in.Path)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "do not print progress")
	return cmd
}
