// Package craftd wires the server supervisor, artifact fetcher, runtime
// locator and profile store into one embeddable application.
package craftd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/compat"
	"github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/download"
	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/history/factory"
	"github.com/loykin/craftd/internal/jvm"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/profile"
	"github.com/loykin/craftd/internal/progress"
	"github.com/loykin/craftd/internal/server"
	"github.com/loykin/craftd/internal/supervisor"
	apitls "github.com/loykin/craftd/internal/tls"
	"github.com/loykin/craftd/internal/version"
)

// Re-exported types for embedders.
type (
	Config       = config.Config
	Profile      = profile.Profile
	Status       = supervisor.Status
	FetchResult  = artifact.FetchResult
	CompatReport = compat.Report
	Advice       = compat.Advice
	Installation = jvm.Installation
	ProgressFunc = progress.Func
)

// App owns every long-lived component. Only one server runs at a time: the
// current profile's.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// mu serializes launches with everything that must only happen while
	// the server is stopped: profile switches and artifact replacement.
	mu sync.Mutex

	profiles    *profile.Store
	cache       *artifact.Cache
	fetcher     *artifact.Fetcher
	detector    *artifact.Detector
	locator     *jvm.Locator
	provisioner *jvm.Provisioner
	resolver    *compat.Resolver
	sup         *supervisor.Supervisor
	sampler     *metrics.Sampler

	history *history.Recorder
	sink    history.Sink
}

// New builds an App from cfg. A nil logger means slog.Default().
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("craftd: nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{cfg: cfg, logger: logger}

	if dsn := strings.TrimSpace(cfg.History.DSN); dsn != "" {
		sink, err := factory.NewSinkFromDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		a.sink = sink
		a.history = history.NewRecorder(sink, logger.With("component", "history"))
	}

	store, err := profile.Open(cfg.ProfilesDir(), logger.With("component", "profile"))
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.profiles = store

	a.cache = artifact.NewCache(cfg.CacheDir(),
		artifact.WithCopyPolicy(cfg.CopyPolicy()),
		artifact.WithSavePolicy(cfg.SavePolicy()),
		artifact.WithCacheLogger(logger.With("component", "cache")),
	)
	a.fetcher = artifact.NewFetcher(a.cache,
		artifact.WithManifestURL(cfg.Fetcher.ManifestURL),
		artifact.WithDefaultVersion(cfg.Fetcher.DefaultVersion),
		artifact.WithSettleDelay(cfg.Fetcher.SettleDelay),
		artifact.WithHTTPClient(&http.Client{Timeout: cfg.Fetcher.Timeout}),
		artifact.WithFetcherLogger(logger.With("component", "fetcher")),
	)

	a.locator = jvm.DefaultLocator(cfg.RuntimesDir(), jvm.ExecProber{Timeout: cfg.JVM.ProbeTimeout}, logger.With("component", "jvm"))
	a.provisioner = &jvm.Provisioner{
		Dir:     cfg.RuntimesDir(),
		APIBase: cfg.JVM.APIBase,
		Client:  &http.Client{Timeout: cfg.Fetcher.Timeout},
		Logger:  logger.With("component", "provisioner"),
		OnInstalled: func(inst jvm.Installation, res download.Result) {
			a.history.Record(context.Background(), history.Event{
				Type: history.EventRuntimeInstall, Version: fmt.Sprintf("java-%d", inst.Major),
				Detail: inst.Path, SHA256: res.SHA256,
			})
		},
	}
	a.detector = &artifact.Detector{
		Java:         a.probeJava,
		ProbeTimeout: cfg.Detector.ProbeTimeout,
		Logger:       logger.With("component", "detector"),
	}
	a.resolver = &compat.Resolver{
		Locator:     a.locator,
		Detector:    a.detector,
		Installer:   a.provisioner,
		AutoInstall: cfg.JVM.AutoInstall,
		Logger:      logger.With("component", "compat"),
	}

	opts, err := cfg.SupervisorOptions()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	opts.Logger = logger.With("component", "supervisor")
	opts.History = a.history
	a.sup = supervisor.New(store.Current(), a.resolver, opts)
	a.sampler = metrics.NewSampler(cfg.Metrics.SampleInterval)
	return a, nil
}

func (a *App) probeJava(ctx context.Context) string {
	inst, err := a.locator.Best(ctx)
	if err != nil {
		return ""
	}
	return inst.Path
}

// Close releases the history sink. It does not stop a running server.
func (a *App) Close() error {
	if c, ok := a.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (a *App) Config() *config.Config             { return a.cfg }
func (a *App) Logger() *slog.Logger               { return a.logger }
func (a *App) Profiles() *profile.Store           { return a.profiles }
func (a *App) Cache() *artifact.Cache             { return a.cache }
func (a *App) Fetcher() *artifact.Fetcher         { return a.fetcher }
func (a *App) Locator() *jvm.Locator              { return a.locator }
func (a *App) Supervisor() *supervisor.Supervisor { return a.sup }
func (a *App) Console() *supervisor.Console       { return a.sup.Console() }
func (a *App) Status() supervisor.Status          { return a.sup.Status() }
func (a *App) IsRunning() bool                    { return a.sup.IsRunning() }

// Detect infers the version of a server artifact.
func (a *App) Detect(ctx context.Context, jar string) (string, artifact.Source) {
	return a.detector.Detect(ctx, jar)
}

// SetOnRuntimeProgress routes auto-install progress during Start.
func (a *App) SetOnRuntimeProgress(fn progress.Func) { a.resolver.OnProgress = fn }

// Start launches the current profile. When nothing runs the supervisor is
// first pointed at the store's current profile so edits take effect.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sup.IsRunning() {
		if err := a.sup.SetProfile(a.profiles.Current()); err != nil {
			return err
		}
	}
	return a.sup.Start(ctx)
}

// Stop does not take the App lock, so it never queues behind a download.
func (a *App) Stop(ctx context.Context) error { return a.sup.Stop(ctx) }

func (a *App) Restart(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sup.Restart(ctx)
}

func (a *App) SendCommand(line string) error { return a.sup.SendCommand(line) }

func (a *App) ListProfiles() []profile.Profile { return a.profiles.List() }
func (a *App) CurrentProfile() profile.Profile  { return a.profiles.Current() }

// UseProfile makes ref (id or name) current. Switching while a server runs is
// rejected.
func (a *App) UseProfile(ref string) (profile.Profile, error) {
	const op = "craftd.UseProfile"
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.profiles.Find(ref)
	if err != nil {
		return profile.Profile{}, err
	}
	if a.sup.IsRunning() && a.sup.Profile().ID != p.ID {
		return profile.Profile{}, errdefs.New(op, errdefs.KindInvalidOperation, "stop the running server before switching profiles")
	}
	if err := a.profiles.SetCurrent(p.ID); err != nil {
		return profile.Profile{}, err
	}
	if !a.sup.IsRunning() {
		_ = a.sup.SetProfile(p)
	}
	return p, nil
}

// DeleteProfile removes ref unless its server is running.
func (a *App) DeleteProfile(ref string) error {
	const op = "craftd.DeleteProfile"
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := a.profiles.Find(ref)
	if err != nil {
		return err
	}
	if a.sup.IsRunning() && a.sup.Profile().ID == p.ID {
		return errdefs.New(op, errdefs.KindInvalidOperation, "profile %q is running", p.Name)
	}
	return a.profiles.Delete(p.ID)
}

// Versions lists remote release versions, newest first.
func (a *App) Versions(ctx context.Context) []string {
	return a.fetcher.ListAvailableVersions(ctx)
}

// Fetch downloads (or restores from cache) version into target. An empty
// target means the current profile's artifact path.
func (a *App) Fetch(ctx context.Context, v, target string, overwrite bool, report progress.Func) (artifact.FetchResult, error) {
	cur := a.profiles.Current()
	if target == "" || filepath.Clean(target) == filepath.Clean(cur.ServerJarPath) {
		// the profile's own jar: hold off launches until it is in place
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.sup.IsRunning() {
			return artifact.FetchResult{}, errdefs.New("craftd.Fetch", errdefs.KindInvalidOperation,
				"cannot replace the artifact of a running server")
		}
		target = cur.ServerJarPath
	}
	res, err := a.fetcher.FetchArtifact(ctx, v, target, overwrite, report)
	if err != nil {
		return res, err
	}
	a.recordFetch(ctx, cur, res)
	return res, nil
}

func (a *App) recordFetch(ctx context.Context, p profile.Profile, res artifact.FetchResult) {
	base := history.Event{ProfileID: p.ID, Profile: p.Name, Version: res.Version}
	switch {
	case res.Skipped:
		return
	case res.FromCache:
		e := base
		e.Type, e.Detail = history.EventCacheHit, res.Path
		a.history.Record(ctx, e)
	default:
		e := base
		e.Type, e.Detail, e.SHA256 = history.EventFetch, fmt.Sprintf("%d bytes to %s", res.Bytes, res.Path), res.SHA256
		a.history.Record(ctx, e)
		if res.Cached {
			e := base
			e.Type, e.Detail = history.EventCacheSave, a.cache.Path(res.Version)
			a.history.Record(ctx, e)
		}
	}
}

// Compat diagnoses the current profile. A non-empty v checks it as if the
// profile declared that version.
func (a *App) Compat(ctx context.Context, v string) compat.Report {
	p := a.profiles.Current()
	if v != "" {
		p.Version = v
	}
	return a.resolver.Check(ctx, p)
}

// Advise explains what changing the current profile to next implies.
func (a *App) Advise(ctx context.Context, next string) compat.Advice {
	p := a.profiles.Current()
	cur := p.Version
	if _, ok := version.Parse(cur); !ok && fileExists(p.ServerJarPath) {
		if d, src := a.detector.Detect(ctx, p.ServerJarPath); src != artifact.SourceNone {
			cur = d
		}
	}
	installed := 0
	if inst, err := a.locator.Best(ctx); err == nil {
		installed = inst.Major
	}
	return compat.Advise(cur, next, installed)
}

// InstallRuntime provisions a runtime major into the bundled directory.
func (a *App) InstallRuntime(ctx context.Context, major int, report progress.Func) (jvm.Installation, error) {
	return a.provisioner.Install(ctx, major, report)
}

// ChangeOptions tunes ChangeVersion.
type ChangeOptions struct {
	// NewProfile creates a fresh profile for the version and leaves the
	// current one untouched.
	NewProfile  bool
	ProfileName string
	Description string
	// ResetWorld deletes world state before a downgrade.
	ResetWorld bool
}

type ChangeResult struct {
	Profile profile.Profile      `json:"profile"`
	Advice  compat.Advice        `json:"advice"`
	Report  compat.Report        `json:"report"`
	Fetch   artifact.FetchResult `json:"fetch"`
	Removed []string             `json:"removed,omitempty"`
	Created bool                 `json:"created"`
}

// ChangeVersion moves the current profile (or a new one) to v. It refuses to
// run while the server is up.
func (a *App) ChangeVersion(ctx context.Context, v string, opts ChangeOptions, report progress.Func) (ChangeResult, error) {
	const op = "craftd.ChangeVersion"
	v = strings.TrimSpace(v)
	if v == "" {
		return ChangeResult{}, errdefs.New(op, errdefs.KindInvalidOperation, "version is required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup.IsRunning() {
		return ChangeResult{}, errdefs.New(op, errdefs.KindInvalidOperation, "stop the server before changing its version")
	}
	res := ChangeResult{Advice: a.Advise(ctx, v)}
	for _, w := range res.Advice.Warnings {
		a.logger.Warn("version change", "kind", w.Kind, "message", w.Message)
	}

	target := a.profiles.Current()
	if opts.NewProfile {
		name := strings.TrimSpace(opts.ProfileName)
		if name == "" {
			name = fmt.Sprintf("%s %s", target.Name, v)
		}
		p, err := a.profiles.Create(name, v, opts.Description)
		if err != nil {
			return res, err
		}
		target, res.Created = p, true
	} else if opts.ResetWorld && res.Advice.Transition == version.Downgrade {
		removed, err := profile.ResetWorldState(target.ServerDirectory)
		res.Removed = removed
		if err != nil {
			return res, fmt.Errorf("%s: reset world: %w", op, err)
		}
		a.logger.Info("world state reset", "profile", target.Name, "removed", len(removed))
	}

	check := target
	check.Version = v
	res.Report = a.resolver.Check(ctx, check)

	fr, err := a.fetcher.FetchArtifact(ctx, v, target.ServerJarPath, true, report)
	res.Fetch = fr
	if err != nil {
		if res.Created {
			// a profile without its jar is not worth keeping
			if derr := a.profiles.Delete(target.ID); derr != nil {
				a.logger.Warn("drop new profile", "profile", target.Name, "error", derr)
			} else {
				res.Created = false
			}
		}
		return res, err
	}
	a.recordFetch(ctx, target, fr)

	updated, err := a.profiles.SetVersion(target.ID, fr.Version)
	if err != nil {
		return res, err
	}
	if res.Created {
		if err := a.profiles.SetCurrent(updated.ID); err != nil {
			return res, err
		}
	}
	res.Profile = updated
	if !a.sup.IsRunning() {
		_ = a.sup.SetProfile(a.profiles.Current())
	}
	return res, nil
}

// RunSampler reads resource usage of the running server until ctx ends.
func (a *App) RunSampler(ctx context.Context) { a.sampler.Run(ctx, a.sup.PIDs) }

// Resources returns the last resource reading for the running profile.
func (a *App) Resources() (metrics.Sample, bool) {
	return a.sampler.Latest(a.sup.Profile().Name)
}

var _ server.Backend = (*App)(nil)

// NewHTTPServer builds the API server from the http and metrics sections.
// TLSConfig is set when http.tls is enabled; serve it with
// ListenAndServeTLS("", ""). The caller runs and shuts it down.
func (a *App) NewHTTPServer() (*http.Server, error) {
	tc, err := apitls.Setup(a.cfg.HTTP.TLS, a.cfg.TLSDir())
	if err != nil {
		return nil, err
	}
	srv := server.NewServer(a.cfg.HTTP.Listen, a, server.Options{
		BasePath:  a.cfg.HTTP.BasePath,
		TokenHash: a.cfg.HTTP.TokenHash,
		Metrics:   a.cfg.Metrics.Enabled,
		FetchRoot: a.cfg.Root,
	})
	srv.TLSConfig = tc
	return srv, nil
}

// RegisterMetrics registers collectors with the default registry.
func RegisterMetrics() error { return metrics.Register(prometheus.DefaultRegisterer) }

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
