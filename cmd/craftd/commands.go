package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd"
)

type FetchFlags struct {
	Overwrite bool
	To        string
	Quiet     bool
}

type ChangeVersionFlags struct {
	NewProfile  bool
	Name        string
	Description string
	ResetWorld  bool
	Quiet       bool
}

func createVersionsCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "versions",
		Short: "List available release versions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				list := s.app.Versions(cmd.Context())
				if g.JSON {
					printJSON(cmd.OutOrStdout(), list)
					return nil
				}
				for _, v := range list {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), v)
				}
				return nil
			})
		},
	}
}

func createFetchCommand(g *GlobalFlags) *cobra.Command {
	f := &FetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch <version>",
		Short: "Download a server jar, using the cache when possible",
		Long: `Fetch places the server jar for <version> at --to, or into the
current profile when --to is empty. "latest" resolves to the newest release.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				return runFetch(cmd.Context(), cmd, g, s.app, args[0], *f)
			})
		},
	}
	cmd.Flags().BoolVar(&f.Overwrite, "overwrite", false, "replace an existing target file")
	cmd.Flags().StringVar(&f.To, "to", "", "target path (default: current profile's server jar)")
	cmd.Flags().BoolVarP(&f.Quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func runFetch(ctx context.Context, cmd *cobra.Command, g *GlobalFlags, app *craftd.App, v string, f FetchFlags) error {
	report, done := stderrProgress(f.Quiet || g.JSON)
	res, err := app.Fetch(ctx, v, f.To, f.Overwrite, report)
	done()
	if err != nil {
		return err
	}
	if g.JSON {
		printJSON(cmd.OutOrStdout(), res)
		return nil
	}
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Message)
	return nil
}

func createDetectCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "detect <jar>",
		Short: "Detect the version of a server jar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				v, src := s.app.Detect(cmd.Context(), args[0])
				if g.JSON {
					printJSON(cmd.OutOrStdout(), map[string]any{"version": v, "source": src})
					return nil
				}
				if v == "" {
					return fmt.Errorf("could not detect a version for %s", filepath.Base(args[0]))
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", v, src)
				return nil
			})
		},
	}
}

func createCompatCommand(g *GlobalFlags) *cobra.Command {
	var v string
	cmd := &cobra.Command{
		Use:   "compat",
		Short: "Check runtime compatibility for the current profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				rep := s.app.Compat(cmd.Context(), v)
				if g.JSON {
					printJSON(cmd.OutOrStdout(), rep)
					return nil
				}
				out := cmd.OutOrStdout()
				shown := rep.Version
				if shown == "" {
					shown = "unknown"
				}
				_, _ = fmt.Fprintf(out, "version:    %s\n", shown)
				_, _ = fmt.Fprintf(out, "requires:   Java %d\n", rep.RequiredMajor)
				if rep.Runtime != nil {
					_, _ = fmt.Fprintf(out, "runtime:    Java %d (%s)\n", rep.Runtime.Major, rep.Runtime.Path)
				} else {
					_, _ = fmt.Fprintln(out, "runtime:    none")
				}
				_, _ = fmt.Fprintf(out, "compatible: %t\n", rep.Compatible)
				for _, w := range rep.Warnings {
					_, _ = fmt.Fprintf(out, "warning:    %s\n", w)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&v, "version", "", "check this version instead of the profile's")
	return cmd
}

func createAdviseCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "advise <version>",
		Short: "Assess the risk of moving the current profile to <version>",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				adv := s.app.Advise(cmd.Context(), args[0])
				if g.JSON {
					printJSON(cmd.OutOrStdout(), adv)
					return nil
				}
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "%s, %d major version(s), needs Java %d\n", adv.Transition, adv.Magnitude, adv.RequiredMajor)
				for _, w := range adv.Warnings {
					_, _ = fmt.Fprintf(out, "warning: %s\n", w.Message)
				}
				if adv.RecommendNewProfile {
					_, _ = fmt.Fprintln(out, "a new profile is recommended (change-version --new-profile)")
				}
				return nil
			})
		},
	}
}

func createChangeVersionCommand(g *GlobalFlags) *cobra.Command {
	f := &ChangeVersionFlags{}
	cmd := &cobra.Command{
		Use:   "change-version <version>",
		Short: "Move the current profile, or a new one, to <version>",
		Long: `change-version fetches the jar for <version> and records it on the
current profile. With --new-profile the current profile is left untouched
and a fresh one is created and selected. --reset-world deletes world data
when the change is a downgrade.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				report, done := stderrProgress(f.Quiet || g.JSON)
				s.app.SetOnRuntimeProgress(report)
				res, err := s.app.ChangeVersion(cmd.Context(), args[0], craftd.ChangeOptions{
					NewProfile:  f.NewProfile,
					ProfileName: f.Name,
					Description: f.Description,
					ResetWorld:  f.ResetWorld,
				}, report)
				done()
				if err != nil {
					return err
				}
				if g.JSON {
					printJSON(cmd.OutOrStdout(), res)
					return nil
				}
				out := cmd.OutOrStdout()
				for _, w := range res.Advice.Warnings {
					_, _ = fmt.Fprintf(out, "warning: %s\n", w.Message)
				}
				if len(res.Removed) > 0 {
					_, _ = fmt.Fprintf(out, "removed: %s\n", strings.Join(res.Removed, ", "))
				}
				verb := "updated"
				if res.Created {
					verb = "created"
				}
				_, _ = fmt.Fprintf(out, "%s profile %q at %s\n", verb, res.Profile.Name, res.Profile.Version)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&f.NewProfile, "new-profile", false, "create a new profile instead of changing the current one")
	cmd.Flags().StringVar(&f.Name, "name", "", "name for the new profile")
	cmd.Flags().StringVar(&f.Description, "description", "", "description for the new profile")
	cmd.Flags().BoolVar(&f.ResetWorld, "reset-world", false, "delete world data on a downgrade")
	cmd.Flags().BoolVarP(&f.Quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func createCacheCommand(g *GlobalFlags) *cobra.Command {
	cache := &cobra.Command{Use: "cache", Short: "Inspect the artifact cache"}
	cache.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List cached versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				entries, err := s.app.Cache().List()
				if err != nil {
					return err
				}
				if g.JSON {
					printJSON(cmd.OutOrStdout(), entries)
					return nil
				}
				tw := newTable(cmd.OutOrStdout(), "VERSION", "SIZE", "MODIFIED")
				for _, e := range entries {
					row(tw, e.Version, e.Size, e.Modified.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	})
	return cache
}
