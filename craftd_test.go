package craftd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/craftd/internal/config"
	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/history"
	"github.com/loykin/craftd/internal/history/sqlite"
	"github.com/loykin/craftd/internal/version"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

// fakeJava exits on "stop" and otherwise echoes console input.
const fakeJava = `#!/bin/sh
echo "launched $*"
while read line; do
  echo "> $line"
  if [ "$line" = "stop" ]; then exit 0; fi
done
`

type mojang struct {
	srv      *httptest.Server
	requests atomic.Int64

	// When gate is set jar downloads announce themselves on hit and block
	// until gate is closed.
	gate chan struct{}
	hit  chan struct{}
}

func newMojang(t *testing.T, ids ...string) *mojang {
	t.Helper()
	m := &mojang{}
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		type v struct {
			ID   string `json:"id"`
			Type string `json:"type"`
			URL  string `json:"url"`
		}
		var out struct {
			Versions []v `json:"versions"`
		}
		for _, id := range ids {
			out.Versions = append(out.Versions, v{ID: id, Type: "release", URL: m.srv.URL + "/v/" + id + ".json"})
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/v/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v/"), ".json")
		_, _ = fmt.Fprintf(w, `{"id":%q,"downloads":{"server":{"url":%q,"size":4096}}}`, id, m.srv.URL+"/jar/"+id)
	})
	mux.HandleFunc("/jar/", func(w http.ResponseWriter, r *http.Request) {
		if m.gate != nil {
			select {
			case m.hit <- struct{}{}:
			default:
			}
			<-m.gate
		}
		_, _ = w.Write([]byte(strings.Repeat("x", 4096)))
	})
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.requests.Add(1)
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func newTestApp(t *testing.T, manifestURL string) (*App, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Root = root
	cfg.Fetcher.ManifestURL = manifestURL
	cfg.Fetcher.SettleDelay = 0
	cfg.Supervisor.SettleDelay = 0
	cfg.Supervisor.GraceWindow = 2 * time.Second
	cfg.Metrics.Enabled = false
	cfg.History.DSN = "sqlite://" + filepath.Join(root, "history.db")

	bin := filepath.Join(cfg.RuntimesDir(), "runtime-21", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(bin, "java"), []byte(fakeJava), 0o755))

	app, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = app.Stop(context.Background())
		_ = app.Close()
	})
	return app, cfg
}

func historyCount(t *testing.T, app *App, typ history.EventType) int {
	t.Helper()
	s, ok := app.sink.(*sqlite.Sink)
	require.True(t, ok)
	n, err := s.Count(context.Background(), typ)
	require.NoError(t, err)
	return n
}

func TestNewBootstrapsDefaultProfile(t *testing.T) {
	app, cfg := newTestApp(t, "http://127.0.0.1:1/manifest.json")
	cur := app.CurrentProfile()
	assert.Equal(t, "Default Server", cur.Name)
	assert.Equal(t, "Unknown", cur.Version)
	assert.True(t, strings.HasPrefix(cur.ServerDirectory, cfg.ProfilesDir()))
	assert.False(t, app.IsRunning())
	assert.Equal(t, cur.ID, app.Status().ProfileID)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Cache.CopyAttempts = 0
	_, err = New(cfg, nil)
	assert.Error(t, err)

	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestChangeVersionLifecycle(t *testing.T) {
	requireUnix(t)
	m := newMojang(t, "1.21.1", "1.20.4")
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	ctx := context.Background()

	res, err := app.ChangeVersion(ctx, "1.21.1", ChangeOptions{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.21.1", res.Profile.Version)
	assert.False(t, res.Created)
	assert.Equal(t, int64(4096), res.Fetch.Bytes)
	assert.True(t, res.Fetch.Cached)
	assert.True(t, res.Report.Compatible, "%+v", res.Report)
	assert.FileExists(t, res.Profile.ServerJarPath)
	assert.Equal(t, 1, historyCount(t, app, history.EventFetch))
	assert.Equal(t, 1, historyCount(t, app, history.EventCacheSave))

	require.NoError(t, app.Start(ctx))
	assert.True(t, app.IsRunning())
	assert.Equal(t, "1.21.1", app.Status().Version)

	_, err = app.ChangeVersion(ctx, "1.20.4", ChangeOptions{}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)
	_, err = app.Fetch(ctx, "1.20.4", "", true, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)
	assert.ErrorIs(t, app.DeleteProfile(res.Profile.ID), errdefs.ErrInvalidOperation)

	require.NoError(t, app.SendCommand("list"))
	require.NoError(t, app.Stop(ctx))
	assert.False(t, app.IsRunning())
	assert.Equal(t, "graceful", app.Status().LastStop)
	assert.Equal(t, 1, historyCount(t, app, history.EventStart))
	assert.Equal(t, 1, historyCount(t, app, history.EventStop))
}

func TestChangeVersionNewProfileUsesCache(t *testing.T) {
	m := newMojang(t, "1.21.1")
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	ctx := context.Background()
	first := app.CurrentProfile()

	_, err := app.ChangeVersion(ctx, "1.21.1", ChangeOptions{}, nil)
	require.NoError(t, err)
	before := m.requests.Load()

	res, err := app.ChangeVersion(ctx, "1.21.1", ChangeOptions{NewProfile: true, ProfileName: "Fresh"}, nil)
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.True(t, res.Fetch.FromCache)
	assert.Equal(t, before, m.requests.Load(), "a cache hit must not touch the network")
	assert.Equal(t, "Fresh", app.CurrentProfile().Name)
	assert.Equal(t, "1.21.1", app.CurrentProfile().Version)
	assert.Equal(t, 1, historyCount(t, app, history.EventCacheHit))

	old, err := app.Profiles().Get(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.21.1", old.Version)
	assert.Len(t, app.ListProfiles(), 2)
}

func TestChangeVersionDowngradeResetsWorld(t *testing.T) {
	m := newMojang(t, "1.21.1", "1.20.4")
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	ctx := context.Background()

	_, err := app.ChangeVersion(ctx, "1.21.1", ChangeOptions{}, nil)
	require.NoError(t, err)
	dir := app.CurrentProfile().ServerDirectory
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world", "region"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server.properties"), []byte("motd=hi\n"), 0o644))

	res, err := app.ChangeVersion(ctx, "1.20.4", ChangeOptions{ResetWorld: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, version.Downgrade, res.Advice.Transition)
	assert.True(t, res.Advice.RecommendNewProfile)
	assert.NotEmpty(t, res.Removed)
	assert.NoDirExists(t, filepath.Join(dir, "world"))
	assert.FileExists(t, filepath.Join(dir, "server.properties"))
	assert.Equal(t, "1.20.4", app.CurrentProfile().Version)
}

func TestChangeVersionUpgradeKeepsWorld(t *testing.T) {
	m := newMojang(t, "1.21.1", "1.20.4")
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	ctx := context.Background()

	_, err := app.ChangeVersion(ctx, "1.20.4", ChangeOptions{}, nil)
	require.NoError(t, err)
	dir := app.CurrentProfile().ServerDirectory
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "world"), 0o755))

	res, err := app.ChangeVersion(ctx, "1.21.1", ChangeOptions{ResetWorld: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, version.Upgrade, res.Advice.Transition)
	assert.Empty(t, res.Removed)
	assert.DirExists(t, filepath.Join(dir, "world"))
}

func TestChangeVersionUnknownLeavesProfile(t *testing.T) {
	m := newMojang(t, "1.21.1")
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	_, err := app.ChangeVersion(context.Background(), "0.0.1", ChangeOptions{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errdefs.ErrRemoteResolutionFailed)
	assert.Equal(t, "Unknown", app.CurrentProfile().Version)

	_, err = app.ChangeVersion(context.Background(), " ", ChangeOptions{}, nil)
	assert.ErrorIs(t, err, errdefs.ErrInvalidOperation)
}

func TestCompatAgainstVersion(t *testing.T) {
	app, _ := newTestApp(t, "http://127.0.0.1:1/manifest.json")
	rep := app.Compat(context.Background(), "1.16.5")
	assert.Equal(t, 8, rep.RequiredMajor)
	assert.True(t, rep.Compatible)
	require.NotNil(t, rep.Runtime)
	assert.Equal(t, 21, rep.Runtime.Major)
	assert.False(t, rep.ArtifactPresent)
}

func TestUseProfile(t *testing.T) {
	app, _ := newTestApp(t, "http://127.0.0.1:1/manifest.json")
	p, err := app.Profiles().Create("Second", "1.20.4", "")
	require.NoError(t, err)
	got, err := app.UseProfile("Second")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, p.ID, app.Status().ProfileID)

	_, err = app.UseProfile("missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestVersionsFallsBackOffline(t *testing.T) {
	app, cfg := newTestApp(t, "http://127.0.0.1:1/manifest.json")
	assert.Equal(t, []string{cfg.Fetcher.DefaultVersion}, app.Versions(context.Background()))
}

func TestNewHTTPServerTLS(t *testing.T) {
	app, cfg := newTestApp(t, "http://127.0.0.1:1/manifest.json")
	srv, err := app.NewHTTPServer()
	require.NoError(t, err)
	assert.Nil(t, srv.TLSConfig)

	cfg.HTTP.TLS.Enabled = true
	cfg.HTTP.TLS.AutoGenerate = true
	srv, err = app.NewHTTPServer()
	require.NoError(t, err)
	require.NotNil(t, srv.TLSConfig)
	assert.FileExists(t, filepath.Join(cfg.TLSDir(), "tls.crt"))
	assert.FileExists(t, filepath.Join(cfg.TLSDir(), "tls.key"))
}

func TestChangeVersionNewProfileDroppedOnFailure(t *testing.T) {
	m := newMojang(t, "1.21.1")
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	first := app.CurrentProfile()

	res, err := app.ChangeVersion(context.Background(), "0.0.1", ChangeOptions{NewProfile: true, ProfileName: "Broken"}, nil)
	require.Error(t, err)
	assert.False(t, res.Created)
	assert.Len(t, app.ListProfiles(), 1)
	assert.Equal(t, first.ID, app.CurrentProfile().ID)
	_, err = app.Profiles().Find("Broken")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestStartWaitsForVersionChange(t *testing.T) {
	requireUnix(t)
	m := newMojang(t, "1.21.1")
	m.gate = make(chan struct{})
	m.hit = make(chan struct{}, 1)
	release := sync.OnceFunc(func() { close(m.gate) })
	app, _ := newTestApp(t, m.srv.URL+"/manifest.json")
	t.Cleanup(release)
	ctx := context.Background()

	changed := make(chan error, 1)
	go func() {
		_, err := app.ChangeVersion(ctx, "1.21.1", ChangeOptions{}, nil)
		changed <- err
	}()
	select {
	case <-m.hit:
	case <-time.After(5 * time.Second):
		t.Fatal("download never started")
	}

	// The jar is still downloading; a launch now must wait for it.
	started := make(chan error, 1)
	go func() { started <- app.Start(ctx) }()
	select {
	case err := <-started:
		t.Fatalf("start returned during a version change: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	assert.False(t, app.IsRunning())

	release()
	require.NoError(t, <-changed)
	require.NoError(t, <-started)
	assert.True(t, app.IsRunning())
	assert.Equal(t, "1.21.1", app.Status().Version)
}
