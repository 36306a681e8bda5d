package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd/internal/profile"
)

type ProfileUpdateFlags struct {
	Name        string
	Version     string
	Description string
	MinMemory   string
	MaxMemory   string
}

func createProfileCommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage server profiles"}
	cmd.AddCommand(
		profileListCmd(g),
		profileCreateCmd(g),
		profileDeleteCmd(g),
		profileUseCmd(g),
		profileUpdateCmd(g),
	)
	return cmd
}

func profileListCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles; the current one is marked with *",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				list := s.app.ListProfiles()
				cur := s.app.CurrentProfile()
				if g.JSON {
					printJSON(cmd.OutOrStdout(), map[string]any{"current": cur.ID, "profiles": list})
					return nil
				}
				tw := newTable(cmd.OutOrStdout(), "", "ID", "NAME", "VERSION", "DIRECTORY")
				for _, p := range list {
					mark := ""
					if p.ID == cur.ID {
						mark = "*"
					}
					row(tw, mark, p.ID, p.Name, p.Version, p.ServerDirectory)
				}
				return tw.Flush()
			})
		},
	}
}

func profileCreateCmd(g *GlobalFlags) *cobra.Command {
	var version, desc string
	var use bool
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				p, err := s.app.Profiles().Create(args[0], version, desc)
				if err != nil {
					return err
				}
				if use {
					if p, err = s.app.UseProfile(p.ID); err != nil {
						return err
					}
				}
				return printProfile(cmd, g, p)
			})
		},
	}
	cmd.Flags().StringVar(&version, "version", profile.UnknownVersion, "declared server version")
	cmd.Flags().StringVar(&desc, "description", "", "free-form description")
	cmd.Flags().BoolVar(&use, "use", false, "make the new profile current")
	return cmd
}

func profileDeleteCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id|name>",
		Short: "Delete a profile (its server directory is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				if err := s.app.DeleteProfile(args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func profileUseCmd(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id|name>",
		Short: "Make a profile current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				p, err := s.app.UseProfile(args[0])
				if err != nil {
					return err
				}
				return printProfile(cmd, g, p)
			})
		},
	}
}

func profileUpdateCmd(g *GlobalFlags) *cobra.Command {
	f := &ProfileUpdateFlags{}
	cmd := &cobra.Command{
		Use:   "update <id|name>",
		Short: "Edit a profile's name, version, description or memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(g, func(s *session) error {
				p, err := s.app.Profiles().Find(args[0])
				if err != nil {
					return err
				}
				applyProfileFlags(cmd, &p, *f)
				if p, err = s.app.Profiles().Update(p); err != nil {
					return err
				}
				return printProfile(cmd, g, p)
			})
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "new name")
	cmd.Flags().StringVar(&f.Version, "version", "", "new declared version")
	cmd.Flags().StringVar(&f.Description, "description", "", "new description")
	cmd.Flags().StringVar(&f.MinMemory, "min-memory", "", "initial heap, e.g. 2G")
	cmd.Flags().StringVar(&f.MaxMemory, "max-memory", "", "maximum heap, e.g. 4G")
	return cmd
}

// applyProfileFlags copies only the flags the user actually set, so an
// explicit empty --description clears it.
func applyProfileFlags(cmd *cobra.Command, p *profile.Profile, f ProfileUpdateFlags) {
	set := cmd.Flags().Changed
	if set("name") {
		p.Name = f.Name
	}
	if set("version") {
		p.Version = f.Version
	}
	if set("description") {
		p.Description = f.Description
	}
	if set("min-memory") {
		p.MinMemory = f.MinMemory
	}
	if set("max-memory") {
		p.MaxMemory = f.MaxMemory
	}
}

func printProfile(cmd *cobra.Command, g *GlobalFlags, p profile.Profile) error {
	if g.JSON {
		printJSON(cmd.OutOrStdout(), p)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s\n", p.ID, p.Name, p.Version, p.ServerDirectory)
	return nil
}

func createEULACommand(g *GlobalFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "eula", Short: "Manage the server EULA for the current profile"}
	cmd.AddCommand(&cobra.Command{
		Use:   "accept",
		Short: "Accept the Minecraft EULA (https://aka.ms/MinecraftEULA)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				p := s.app.CurrentProfile()
				if err := profile.AcceptEULA(p.ServerDirectory); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "EULA accepted for %s\n", p.Name)
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "status",
		Short: "Report whether the EULA has been accepted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				p := s.app.CurrentProfile()
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: accepted=%t\n", p.Name, profile.EULAAccepted(p.ServerDirectory))
				return nil
			})
		},
	})
	return cmd
}
