// Package supervisor owns the lifecycle of one server process: launch,
// graceful stop with forced fallback, restart and console I/O.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/jvm"
	"github.com/loykin/craftd/internal/logger"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/profile"
)

const (
	DefaultGraceWindow = 10 * time.Second
	DefaultRestartPoll = 10 * time.Second
	DefaultSettleDelay = 2 * time.Second
	DefaultStopCommand = "stop"

	// reapTimeout bounds the wait for exit after a forced kill.
	reapTimeout = 5 * time.Second
	pollEvery   = 100 * time.Millisecond
)

// RuntimeSource picks the runtime used to launch a profile.
type RuntimeSource interface {
	RuntimeFor(ctx context.Context, p profile.Profile) (jvm.Installation, error)
}

// Options configures a Supervisor. Zero durations take the defaults; a
// negative SettleDelay disables the pause before a restart's start.
type Options struct {
	GraceWindow time.Duration
	RestartPoll time.Duration
	SettleDelay time.Duration
	StopCommand string
	// JVMArgs are inserted between the heap flags and -jar.
	JVMArgs []string
	// Env entries (KEY=VALUE) are added to the inherited environment.
	Env []string
	// Console controls the rotated stdout/stderr files. An empty Dir means
	// <profile dir>/logs.
	Console logger.ConsoleConfig
	Logger  *slog.Logger
	History *history.Recorder
}

func (o *Options) applyDefaults() {
	if o.GraceWindow <= 0 {
		o.GraceWindow = DefaultGraceWindow
	}
	if o.RestartPoll <= 0 {
		o.RestartPoll = DefaultRestartPoll
	}
	if o.SettleDelay < 0 {
		o.SettleDelay = 0
	} else if o.SettleDelay == 0 {
		o.SettleDelay = DefaultSettleDelay
	}
	if strings.TrimSpace(o.StopCommand) == "" {
		o.StopCommand = DefaultStopCommand
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Status is a snapshot of the supervised server.
type Status struct {
	ProfileID string    `json:"profile_id"`
	Profile   string    `json:"profile"`
	Version   string    `json:"version"`
	Running   bool      `json:"running"`
	PID       int       `json:"pid,omitempty"`
	Java      string    `json:"java,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
	LastStop  string    `json:"last_stop,omitempty"` // graceful, forced or exited
}

// Supervisor runs at most one server process for its current profile.
// Start, Stop, Restart and SetProfile are serialized.
type Supervisor struct {
	opMu sync.Mutex

	mu       sync.Mutex
	profile  profile.Profile
	proc     *process
	lastStop string
	last     Status

	runtime RuntimeSource
	console *Console
	opts    Options
}

// New returns a stopped supervisor for p.
func New(p profile.Profile, runtime RuntimeSource, opts Options) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{profile: p, runtime: runtime, console: NewConsole(0), opts: opts}
}

func (s *Supervisor) Console() *Console { return s.console }

func (s *Supervisor) Profile() profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// IsRunning reports whether a launched process has not yet exited.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !s.proc.exited()
}

// SetProfile switches the profile. It fails while a server is running.
func (s *Supervisor) SetProfile(p profile.Profile) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil && !s.proc.exited() {
		return errdefs.New("supervisor.SetProfile", errdefs.KindInvalidOperation, "cannot switch profile while %q is running", s.profile.Name)
	}
	s.profile = p
	return nil
}

// Start launches the current profile's artifact.
func (s *Supervisor) Start(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.start(ctx)
}

func (s *Supervisor) start(ctx context.Context) error {
	const op = "supervisor.Start"
	s.mu.Lock()
	if s.proc != nil && !s.proc.exited() {
		s.mu.Unlock()
		return errdefs.From(op, errdefs.ErrAlreadyRunning, nil)
	}
	p := s.profile
	s.mu.Unlock()

	// Artifact first: resolving the runtime may install one, which is wasted
	// work when there is nothing to run.
	if fi, err := os.Stat(p.ServerJarPath); err != nil || fi.IsDir() {
		return errdefs.From(op, errdefs.ErrArtifactMissing, errors.New(p.ServerJarPath))
	}
	if s.runtime == nil {
		return errdefs.From(op, errdefs.ErrRuntimeNotFound, errors.New("no runtime source configured"))
	}
	inst, err := s.runtime.RuntimeFor(ctx, p)
	if err != nil {
		if errors.Is(err, errdefs.ErrRuntimeNotFound) {
			return err
		}
		return errdefs.From(op, errdefs.ErrRuntimeNotFound, err)
	}

	args := append(p.HeapFlags(), s.opts.JVMArgs...)
	args = append(args, "-jar", p.ServerJarPath, "nogui")
	cmd := exec.Command(inst.Path, args...) // #nosec G204 runtime path comes from the locator
	cmd.Dir = p.ServerDirectory
	if len(s.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}
	cmd.WaitDelay = 2 * time.Second
	configureSysProcAttr(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%s: stdin pipe: %w", op, err)
	}
	proc := &process{cmd: cmd, stdin: stdin, javaPath: inst.Path, waitDone: make(chan struct{})}
	cmd.Stdout, cmd.Stderr = s.consoleWriters(p, proc)

	if err := cmd.Start(); err != nil {
		proc.closeStdin()
		proc.closeWriters()
		return fmt.Errorf("%s: launch %s: %w", op, inst.Path, err)
	}
	proc.pid = cmd.Process.Pid
	proc.startedAt = time.Now()

	s.mu.Lock()
	s.proc = proc
	s.mu.Unlock()
	go s.monitor(p, proc)

	s.opts.Logger.Info("server started", "profile", p.Name, "version", p.Version, "pid", proc.pid, "java", inst.Path, "java_major", inst.Major)
	metrics.IncStart(p.Name)
	s.opts.History.Record(ctx, history.Event{
		Type: history.EventStart, ProfileID: p.ID, Profile: p.Name, Version: p.Version, PID: proc.pid,
		Detail: fmt.Sprintf("java %d at %s", inst.Major, inst.Path),
	})
	return nil
}

// consoleWriters tees each child stream into its rotated log file and the
// console broadcaster.
func (s *Supervisor) consoleWriters(p profile.Profile, proc *process) (io.Writer, io.Writer) {
	cc := s.opts.Console
	if cc.Dir == "" && cc.StdoutPath == "" && cc.StderrPath == "" {
		cc.Dir = filepath.Join(p.ServerDirectory, "logs")
	}
	if cc.Dir != "" {
		_ = os.MkdirAll(cc.Dir, 0o750)
	}
	outLog, errLog := cc.Writers("server")
	outLine, errLine := s.console.Writer(Stdout), s.console.Writer(Stderr)
	proc.flushers = []*LineWriter{outLine, errLine}

	var stdout, stderr io.Writer = outLine, errLine
	if outLog != nil {
		proc.closers = append(proc.closers, outLog)
		stdout = io.MultiWriter(outLog, outLine)
	}
	if errLog != nil {
		proc.closers = append(proc.closers, errLog)
		stderr = io.MultiWriter(errLog, errLine)
	}
	return stdout, stderr
}

// monitor reaps the child. An exit nobody asked for is only recorded; the
// server is not restarted.
func (s *Supervisor) monitor(p profile.Profile, proc *process) {
	err := proc.cmd.Wait()
	proc.markExited(err)
	proc.closeWriters()
	close(proc.waitDone)

	if proc.stopRequested() {
		return
	}
	s.mu.Lock()
	s.lastStop = "exited"
	s.mu.Unlock()
	detail := "exit status 0"
	if err != nil {
		detail = err.Error()
	}
	s.opts.Logger.Warn("server exited", "profile", p.Name, "pid", proc.pid, "detail", detail)
	metrics.IncStop(p.Name, "exited")
	s.opts.History.Record(context.Background(), history.Event{
		Type: history.EventExit, ProfileID: p.ID, Profile: p.Name, Version: p.Version, PID: proc.pid, Detail: detail,
	})
}

// Stop asks the server to shut down through its console and waits up to the
// grace window before killing it. Stopping a stopped server is a no-op.
// Cancelling ctx skips the rest of the grace window.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	_, err := s.stop(ctx)
	return err
}

func (s *Supervisor) stop(ctx context.Context) (*process, error) {
	s.mu.Lock()
	proc := s.proc
	p := s.profile
	s.mu.Unlock()
	if proc == nil {
		return nil, nil
	}
	defer s.release(proc)
	if proc.exited() {
		return proc, nil
	}

	proc.setStopping(true)
	mode := "graceful"
	if err := proc.send(s.opts.StopCommand); err != nil {
		s.opts.Logger.Warn("stop command failed, killing server", "profile", p.Name, "pid", proc.pid, "error", err)
		mode = "forced"
	} else {
		timer := time.NewTimer(s.opts.GraceWindow)
		select {
		case <-proc.waitDone:
		case <-timer.C:
			s.opts.Logger.Warn("server ignored stop command, killing", "profile", p.Name, "pid", proc.pid, "grace", s.opts.GraceWindow)
			mode = "forced"
		case <-ctx.Done():
			mode = "forced"
		}
		timer.Stop()
	}
	proc.closeStdin()

	if mode == "forced" {
		if err := forceKill(proc.cmd); err != nil && !proc.exited() {
			s.opts.Logger.Error("kill failed", "profile", p.Name, "pid", proc.pid, "error", err)
		}
		select {
		case <-proc.waitDone:
		case <-time.After(reapTimeout):
			s.opts.Logger.Error("server did not exit after kill", "profile", p.Name, "pid", proc.pid)
		}
	}

	s.mu.Lock()
	s.lastStop = mode
	s.mu.Unlock()
	s.opts.Logger.Info("server stopped", "profile", p.Name, "pid", proc.pid, "mode", mode)
	metrics.IncStop(p.Name, mode)
	ev := history.EventStop
	if mode == "forced" {
		ev = history.EventKill
	}
	s.opts.History.Record(ctx, history.Event{Type: ev, ProfileID: p.ID, Profile: p.Name, Version: p.Version, PID: proc.pid, Detail: mode})
	return proc, nil
}

// release drops the handle so the next Start gets a fresh one.
func (s *Supervisor) release(proc *process) {
	proc.closeStdin()
	s.mu.Lock()
	if s.proc == proc {
		s.last = s.snapshot(proc)
		s.proc = nil
	}
	s.mu.Unlock()
}

// Restart stops the server, waits for it to exit and for the settle delay,
// then starts it again. It fails when the server is not running.
func (s *Supervisor) Restart(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if !s.IsRunning() {
		return errdefs.From("supervisor.Restart", errdefs.ErrNotRunning, nil)
	}
	proc, err := s.stop(ctx)
	if err != nil {
		return err
	}
	if proc != nil {
		deadline := time.Now().Add(s.opts.RestartPoll)
		for !proc.exited() && time.Now().Before(deadline) {
			if err := sleepCtx(ctx, pollEvery); err != nil {
				return err
			}
		}
	}
	if err := sleepCtx(ctx, s.opts.SettleDelay); err != nil {
		return err
	}
	if err := s.start(ctx); err != nil {
		return err
	}
	metrics.IncRestart(s.Profile().Name)
	return nil
}

// SendCommand writes an operator command line to the server console.
func (s *Supervisor) SendCommand(line string) error {
	line = strings.TrimRight(line, "\r\n")
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil || proc.exited() {
		return errdefs.From("supervisor.SendCommand", errdefs.ErrNotRunning, nil)
	}
	if err := proc.send(line); err != nil {
		return fmt.Errorf("supervisor.SendCommand: %w", err)
	}
	return nil
}

// Status returns the current state, or the state at the last stop.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc != nil {
		return s.snapshot(s.proc)
	}
	st := s.last
	st.ProfileID, st.Profile, st.Version = s.profile.ID, s.profile.Name, s.profile.Version
	st.Running = false
	st.PID = 0
	return st
}

// snapshot must be called with s.mu held.
func (s *Supervisor) snapshot(proc *process) Status {
	st := Status{
		ProfileID: s.profile.ID,
		Profile:   s.profile.Name,
		Version:   s.profile.Version,
		Running:   !proc.exited(),
		PID:       proc.pid,
		Java:      proc.javaPath,
		StartedAt: proc.startedAt,
		LastStop:  s.lastStop,
	}
	if !st.Running {
		at, err := proc.exitState()
		st.StoppedAt = at
		if err != nil {
			st.ExitErr = err.Error()
		}
	}
	return st
}

// PIDs maps the running profile to its pid, for resource sampling.
func (s *Supervisor) PIDs() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == nil || s.proc.exited() {
		return nil
	}
	return map[string]int{s.profile.Name: s.proc.pid}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
