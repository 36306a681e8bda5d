package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/craftd"
	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/supervisor"
)

type ServeFlags struct {
	Listen    string
	Daemonize bool
	PIDFile   string
	LogFile   string
	StartNow  bool
}

const shutdownTimeout = 30 * time.Second

// createStartCommand runs the current profile in the foreground. Console
// output goes to stdout and stdin lines are sent as server commands.
func createStartCommand(g *GlobalFlags) *cobra.Command {
	var noInput bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the current profile's server in the foreground",
		Long: `start launches the server and streams its console. Lines typed on
stdin are sent to the server. SIGINT or SIGTERM stop it gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(g, func(s *session) error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				var in io.Reader = cmd.InOrStdin()
				if noInput {
					in = nil
				}
				return runForeground(ctx, s.app, in, cmd.OutOrStdout())
			})
		},
	}
	cmd.Flags().BoolVar(&noInput, "no-input", false, "do not forward stdin to the server")
	return cmd
}

// runForeground starts the server and blocks until it exits or ctx is
// cancelled, in which case the server is stopped gracefully.
func runForeground(ctx context.Context, app *craftd.App, in io.Reader, out io.Writer) error {
	// Subscribe before starting so the first console lines are not lost
	lines, cancel := app.Console().Subscribe()
	defer cancel()
	if err := app.Start(ctx); err != nil {
		return err
	}
	if in != nil {
		go forwardInput(app, in, out)
	}

	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			printLine(out, l)
		case <-ctx.Done():
			_, _ = fmt.Fprintln(out, "stopping server...")
			sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer scancel()
			if err := app.Stop(sctx); err != nil && !errors.Is(err, errdefs.ErrNotRunning) {
				return err
			}
			drain(lines, out)
			return nil
		case <-tick.C:
			if !app.IsRunning() {
				drain(lines, out)
				st := app.Status()
				if st.ExitErr != "" {
					return fmt.Errorf("server exited: %s", st.ExitErr)
				}
				return nil
			}
		}
	}
}

func forwardInput(app *craftd.App, in io.Reader, out io.Writer) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if err := app.SendCommand(line); err != nil {
			_, _ = fmt.Fprintf(out, "command failed: %v\n", err)
		}
	}
}

func printLine(out io.Writer, l supervisor.Line) {
	_, _ = fmt.Fprintln(out, l.Text)
}

func drain(lines <-chan supervisor.Line, out io.Writer) {
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				return
			}
			printLine(out, l)
		default:
			return
		}
	}
}

func createServeCommand(g *GlobalFlags) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API (and metrics) until interrupted",
		Long: `serve exposes the supervisor over HTTP at http.listen under
http.base_path. When metrics.enabled is set it also serves /metrics and
samples the server's resource usage.

Examples:
  craftd serve
  craftd serve --listen 127.0.0.1:9090 --start
  craftd serve --daemonize --pidfile /run/craftd.pid --logfile /var/log/craftd.out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if f.Daemonize {
				if err := daemonize(f.PIDFile, f.LogFile); err != nil {
					return err
				}
			}
			return withSession(g, func(s *session) error {
				if f.Listen != "" {
					s.cfg.HTTP.Listen = f.Listen
				}
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()
				err := runServe(ctx, s.app, f.StartNow, cmd.OutOrStdout())
				if f.PIDFile != "" {
					_ = removePidFile(f.PIDFile)
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "override http.listen")
	cmd.Flags().BoolVar(&f.StartNow, "start", false, "start the current profile's server immediately")
	cmd.Flags().BoolVar(&f.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&f.PIDFile, "pidfile", "", "write the daemon PID to this file")
	cmd.Flags().StringVar(&f.LogFile, "logfile", "", "redirect daemon stdout/stderr to this file")
	return cmd
}

// runServe serves the API until ctx is done, then stops the game server
// and shuts the listener down.
func runServe(ctx context.Context, app *craftd.App, startNow bool, out io.Writer) error {
	cfg := app.Config()
	// Register metrics and start sampling the server process
	if cfg.Metrics.Enabled {
		if err := craftd.RegisterMetrics(); err != nil {
			app.Logger().Warn("register metrics", "error", err)
		}
		go app.RunSampler(ctx)
	}
	srv, err := app.NewHTTPServer()
	if err != nil {
		return err
	}
	if startNow {
		if err := app.Start(ctx); err != nil {
			return err
		}
	}
	// Serve in the background so shutdown can be driven by ctx
	scheme := "http"
	errCh := make(chan error, 1)
	if srv.TLSConfig != nil {
		scheme = "https"
		go func() { errCh <- srv.ListenAndServeTLS("", "") }()
	} else {
		go func() { errCh <- srv.ListenAndServe() }()
	}
	_, _ = fmt.Fprintf(out, "craftd API listening on %s://%s%s\n", scheme, cfg.HTTP.Listen, cfg.HTTP.BasePath)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			serveErr = nil
		}
	}

	// Stop the game server first, then drain the listener
	_, _ = fmt.Fprintln(out, "shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if app.IsRunning() {
		if err := app.Stop(sctx); err != nil {
			app.Logger().Warn("stop server on shutdown", "error", err)
		}
	}
	if err := srv.Shutdown(sctx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}
