package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "craftd.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Supervisor.GraceWindow != 10*time.Second || cfg.Supervisor.RestartPoll != 10*time.Second {
		t.Fatalf("unexpected supervisor timings: %+v", cfg.Supervisor)
	}
	if cfg.Supervisor.SettleDelay != 2*time.Second || cfg.Supervisor.StopCommand != "stop" {
		t.Fatalf("unexpected supervisor settle/stop: %+v", cfg.Supervisor)
	}
	if cfg.Detector.ProbeTimeout != 2*time.Second || cfg.JVM.ProbeTimeout != 2*time.Second {
		t.Fatalf("unexpected probe timeouts: %v %v", cfg.Detector.ProbeTimeout, cfg.JVM.ProbeTimeout)
	}
	if cfg.Cache.CopyAttempts != 5 || cfg.Cache.CopyBackoff != 200*time.Millisecond || cfg.Cache.SaveAttempts != 5 {
		t.Fatalf("unexpected cache policy: %+v", cfg.Cache)
	}
	if cfg.Fetcher.DefaultVersion != "1.21.11" || cfg.Fetcher.SettleDelay != 500*time.Millisecond || cfg.Fetcher.Timeout != 30*time.Minute {
		t.Fatalf("unexpected fetcher: %+v", cfg.Fetcher)
	}
	if !strings.Contains(cfg.Fetcher.ManifestURL, "version_manifest_v2.json") {
		t.Fatalf("unexpected manifest url: %s", cfg.Fetcher.ManifestURL)
	}
	if cfg.HTTP.Listen != "127.0.0.1:8089" || cfg.HTTP.BasePath != "/api" || !cfg.Metrics.Enabled {
		t.Fatalf("unexpected http/metrics: %+v %+v", cfg.HTTP, cfg.Metrics)
	}
	if cfg.JVM.AutoInstall || cfg.History.DSN != "" {
		t.Fatalf("auto install and history must be off by default")
	}
	if filepath.Base(cfg.Root) != ".craftd" {
		t.Fatalf("unexpected root: %s", cfg.Root)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	root := t.TempDir()
	p := writeTOML(t, `
root = "`+root+`"

[supervisor]
grace_window = "3s"
settle_delay = "0s"
stop_command = "shutdown"
jvm_args = ["-XX:+UseG1GC"]

[cache]
copy_attempts = 8
dir = "/srv/cache"

[jvm]
auto_install = true

[log]
level = "debug"
format = "json"

[history]
dsn = "sqlite://`+root+`/history.db"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Root != root || cfg.ProfilesDir() != filepath.Join(root, "profiles") {
		t.Fatalf("unexpected root: %s", cfg.Root)
	}
	if cfg.Supervisor.GraceWindow != 3*time.Second || cfg.Supervisor.StopCommand != "shutdown" {
		t.Fatalf("unexpected supervisor: %+v", cfg.Supervisor)
	}
	if len(cfg.Supervisor.JVMArgs) != 1 || cfg.Supervisor.JVMArgs[0] != "-XX:+UseG1GC" {
		t.Fatalf("unexpected jvm args: %v", cfg.Supervisor.JVMArgs)
	}
	if cfg.Supervisor.RestartPoll != 10*time.Second {
		t.Fatalf("unset keys must keep defaults, got %v", cfg.Supervisor.RestartPoll)
	}
	if cfg.Cache.CopyAttempts != 8 || cfg.CacheDir() != "/srv/cache" {
		t.Fatalf("unexpected cache: %+v", cfg.Cache)
	}
	if cfg.RuntimesDir() != filepath.Join(root, "runtimes") {
		t.Fatalf("unexpected runtimes dir: %s", cfg.RuntimesDir())
	}
	if !cfg.JVM.AutoInstall || cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("unexpected jvm/log: %+v %+v", cfg.JVM, cfg.Log)
	}
	if !strings.HasPrefix(cfg.History.DSN, "sqlite://") {
		t.Fatalf("unexpected dsn: %s", cfg.History.DSN)
	}

	opts, err := cfg.SupervisorOptions()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	if opts.SettleDelay >= 0 {
		t.Fatalf("settle_delay 0 must disable the pause, got %v", opts.SettleDelay)
	}
	if opts.StopCommand != "shutdown" || opts.GraceWindow != 3*time.Second {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeTOML(t, "[supervisor]\ngrace_window = \"3s\"\n")
	t.Setenv("CRAFTD_SUPERVISOR_GRACE_WINDOW", "7s")
	t.Setenv("CRAFTD_HTTP_LISTEN", ":9999")
	t.Setenv("CRAFTD_JVM_AUTO_INSTALL", "true")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Supervisor.GraceWindow != 7*time.Second {
		t.Fatalf("env must win over file, got %v", cfg.Supervisor.GraceWindow)
	}
	if cfg.HTTP.Listen != ":9999" || !cfg.JVM.AutoInstall {
		t.Fatalf("unexpected env overrides: %+v %+v", cfg.HTTP, cfg.JVM)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"negative duration": "[supervisor]\ngrace_window = \"-1s\"\n",
		"zero attempts":     "[cache]\ncopy_attempts = 0\n",
		"bad level":         "[log]\nlevel = \"loud\"\n",
		"bad format":        "[log]\nformat = \"xml\"\n",
		"bad base path":     "[http]\nbase_path = \"api\"\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeTOML(t, data)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadMalformedTOML(t *testing.T) {
	if _, err := Load(writeTOML(t, "[supervisor\ngrace_window = 1")); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestValidateJoinsErrors(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg.Supervisor.GraceWindow = -time.Second
	cfg.Cache.SaveAttempts = 0
	err = cfg.Validate()
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "grace_window") || !strings.Contains(err.Error(), "save_attempts") {
		t.Fatalf("both problems should be reported: %v", err)
	}
}

func TestPolicies(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cp := cfg.CopyPolicy()
	if cp.MaxAttempts != 5 || cp.Backoff(1) != 200*time.Millisecond {
		t.Fatalf("unexpected copy policy: attempts=%d first=%v", cp.MaxAttempts, cp.Backoff(1))
	}
	sp := cfg.SavePolicy()
	if sp.MaxAttempts != 5 || sp.Backoff(1) != 200*time.Millisecond {
		t.Fatalf("unexpected save policy: attempts=%d first=%v", sp.MaxAttempts, sp.Backoff(1))
	}
}

func TestTLSSection(t *testing.T) {
	p := writeTOML(t, `
root = "/srv/craftd"

[http.tls]
enabled = true
min_version = "1.3"
hosts = ["mc.example"]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tc := cfg.HTTP.TLS
	if !tc.Enabled || !tc.AutoGenerate || tc.MinVersion != "1.3" || tc.ValidDays != 365 {
		t.Fatalf("unexpected tls config: %+v", tc)
	}
	if len(tc.Hosts) != 1 || tc.Hosts[0] != "mc.example" {
		t.Fatalf("hosts = %v", tc.Hosts)
	}
	if cfg.TLSDir() != filepath.Join("/srv/craftd", "tls") {
		t.Fatalf("tls dir = %s", cfg.TLSDir())
	}

	bad := writeTOML(t, `
[http.tls]
enabled = true
cert_file = "/etc/craftd/tls.crt"
min_version = "1.0"
`)
	_, err = Load(bad)
	if err == nil || !strings.Contains(err.Error(), "key_file") || !strings.Contains(err.Error(), "min_version") {
		t.Fatalf("expected cert/key pairing and version errors, got %v", err)
	}
}

func TestSampleConfigMatchesDefaults(t *testing.T) {
	def, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	cfg, err := Load(filepath.Join("..", "..", "config", "craftd.toml"))
	if err != nil {
		t.Fatalf("load sample: %v", err)
	}
	if cfg.Supervisor.GraceWindow != def.Supervisor.GraceWindow || cfg.Supervisor.StopCommand != def.Supervisor.StopCommand {
		t.Fatalf("supervisor: %+v vs %+v", cfg.Supervisor, def.Supervisor)
	}
	if cfg.Cache != def.Cache {
		t.Fatalf("cache: %+v vs %+v", cfg.Cache, def.Cache)
	}
	if cfg.Fetcher != def.Fetcher {
		t.Fatalf("fetcher: %+v vs %+v", cfg.Fetcher, def.Fetcher)
	}
	if cfg.HTTP.Listen != def.HTTP.Listen || cfg.HTTP.BasePath != def.HTTP.BasePath || cfg.HTTP.TLS.MinVersion != def.HTTP.TLS.MinVersion {
		t.Fatalf("http: %+v vs %+v", cfg.HTTP, def.HTTP)
	}
	if cfg.Metrics != def.Metrics || cfg.Log != def.Log {
		t.Fatalf("metrics/log: %+v %+v", cfg.Metrics, cfg.Log)
	}
}
