package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd"
	"github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/logger"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	JSON       bool
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	g := &GlobalFlags{}
	root := createRootCommand(g)
	root.AddCommand(
		createVersionsCommand(g),
		createFetchCommand(g),
		createDetectCommand(g),
		createCompatCommand(g),
		createAdviseCommand(g),
		createChangeVersionCommand(g),
		createCacheCommand(g),
		createRuntimeCommand(g),
		createProfileCommand(g),
		createEULACommand(g),
		createStartCommand(g),
		createServeCommand(g),
		createRemoteCommand(),
		createTokenCommand(),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "craftd",
		Short: "Minecraft server supervisor",
		Long: `craftd fetches server jars, finds a matching Java runtime and
supervises the server process for the current profile.

Examples:
  craftd versions
  craftd change-version 1.21.1
  craftd start                      # foreground, Ctrl-C stops gracefully
  craftd serve                      # HTTP API + metrics`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	root.PersistentFlags().StringVar(&flags.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.JSON, "json", false, "print results as JSON")
	return root
}

// session is one command's view of the application.
type session struct {
	cfg    *config.Config
	app    *craftd.App
	logger *slog.Logger
	closer io.Closer
}

func (s *session) Close() {
	_ = s.app.Close()
	_ = s.closer.Close()
}

// openSession loads config, builds the logger and the App. Callers must
// Close it.
func openSession(g *GlobalFlags) (*session, error) {
	cfg, err := config.Load(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	log, closer, err := logger.New(cfg.LoggerConfig(), os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(log)
	app, err := craftd.New(cfg, log)
	if err != nil {
		_ = closer.Close()
		return nil, err
	}
	return &session{cfg: cfg, app: app, logger: log, closer: closer}, nil
}

// withSession runs fn with an open session.
func withSession(g *GlobalFlags, fn func(*session) error) error {
	s, err := openSession(g)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}
