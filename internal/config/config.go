package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/jvm"
	"github.com/loykin/craftd/internal/logger"
	"github.com/loykin/craftd/internal/retry"
	"github.com/loykin/craftd/internal/supervisor"
)

// EnvPrefix prefixes environment overrides: CRAFTD_SUPERVISOR_GRACE_WINDOW=5s.
const EnvPrefix = "CRAFTD"

// Config is the top-level TOML structure.
type Config struct {
	Root       string           `toml:"root" mapstructure:"root"`
	Supervisor SupervisorConfig `toml:"supervisor" mapstructure:"supervisor"`
	Detector   DetectorConfig   `toml:"detector" mapstructure:"detector"`
	Cache      CacheConfig      `toml:"cache" mapstructure:"cache"`
	Fetcher    FetcherConfig    `toml:"fetcher" mapstructure:"fetcher"`
	JVM        JVMConfig        `toml:"jvm" mapstructure:"jvm"`
	Log        LogConfig        `toml:"log" mapstructure:"log"`
	Console    ConsoleConfig    `toml:"console" mapstructure:"console"`
	HTTP       HTTPConfig       `toml:"http" mapstructure:"http"`
	Metrics    MetricsConfig    `toml:"metrics" mapstructure:"metrics"`
	History    HistoryConfig    `toml:"history" mapstructure:"history"`
}

type SupervisorConfig struct {
	GraceWindow time.Duration `toml:"grace_window" mapstructure:"grace_window"`
	RestartPoll time.Duration `toml:"restart_poll" mapstructure:"restart_poll"`
	SettleDelay time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
	StopCommand string        `toml:"stop_command" mapstructure:"stop_command"`
	JVMArgs     []string      `toml:"jvm_args" mapstructure:"jvm_args"`
	// Env, EnvFiles and UseOSEnv build the server's extra environment.
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`
}

type DetectorConfig struct {
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
}

type CacheConfig struct {
	Dir          string        `toml:"dir" mapstructure:"dir"`
	CopyAttempts int           `toml:"copy_attempts" mapstructure:"copy_attempts"`
	CopyBackoff  time.Duration `toml:"copy_backoff" mapstructure:"copy_backoff"`
	CopyStep     time.Duration `toml:"copy_step" mapstructure:"copy_step"`
	SaveAttempts int           `toml:"save_attempts" mapstructure:"save_attempts"`
	SaveBackoff  time.Duration `toml:"save_backoff" mapstructure:"save_backoff"`
}

type FetcherConfig struct {
	ManifestURL    string        `toml:"manifest_url" mapstructure:"manifest_url"`
	DefaultVersion string        `toml:"default_version" mapstructure:"default_version"`
	SettleDelay    time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
}

type JVMConfig struct {
	Dir          string        `toml:"dir" mapstructure:"dir"`
	APIBase      string        `toml:"api_base" mapstructure:"api_base"`
	ProbeTimeout time.Duration `toml:"probe_timeout" mapstructure:"probe_timeout"`
	AutoInstall  bool          `toml:"auto_install" mapstructure:"auto_install"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	File       string `toml:"file" mapstructure:"file"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// ConsoleConfig rotates the server's stdout/stderr files. An empty Dir keeps
// them under each profile's logs directory.
type ConsoleConfig struct {
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HTTPConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`

	// TokenHash is a bcrypt hash; when set the API requires a bearer token.
	TokenHash string `toml:"token_hash" mapstructure:"token_hash"`

	TLS TLSConfig `toml:"tls" mapstructure:"tls"`
}

// TLSConfig serves the API over HTTPS. CertFile/KeyFile win over Dir; with
// AutoGenerate a self-signed pair is written to Dir when it has none.
type TLSConfig struct {
	Enabled      bool     `toml:"enabled" mapstructure:"enabled"`
	CertFile     string   `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string   `toml:"key_file" mapstructure:"key_file"`
	Dir          string   `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool     `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string   `toml:"min_version" mapstructure:"min_version"`
	Hosts        []string `toml:"hosts" mapstructure:"hosts"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled        bool          `toml:"enabled" mapstructure:"enabled"`
	SampleInterval time.Duration `toml:"sample_interval" mapstructure:"sample_interval"`
}

type HistoryConfig struct {
	// DSN selects the sink: sqlite://path, postgres://..., clickhouse://...
	// Empty disables history.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("root", filepath.Join(home, ".craftd"))

	v.SetDefault("supervisor.grace_window", supervisor.DefaultGraceWindow)
	v.SetDefault("supervisor.restart_poll", supervisor.DefaultRestartPoll)
	v.SetDefault("supervisor.settle_delay", supervisor.DefaultSettleDelay)
	v.SetDefault("supervisor.stop_command", supervisor.DefaultStopCommand)
	v.SetDefault("supervisor.jvm_args", []string{})
	v.SetDefault("supervisor.env", []string{})
	v.SetDefault("supervisor.env_files", []string{})
	v.SetDefault("supervisor.use_os_env", false)

	v.SetDefault("detector.probe_timeout", artifact.DefaultProbeTimeout)

	v.SetDefault("cache.dir", "")
	v.SetDefault("cache.copy_attempts", 5)
	v.SetDefault("cache.copy_backoff", 200*time.Millisecond)
	v.SetDefault("cache.copy_step", 100*time.Millisecond)
	v.SetDefault("cache.save_attempts", 5)
	v.SetDefault("cache.save_backoff", 200*time.Millisecond)

	v.SetDefault("fetcher.manifest_url", artifact.DefaultManifestURL)
	v.SetDefault("fetcher.default_version", artifact.DefaultVersion)
	v.SetDefault("fetcher.settle_delay", artifact.DefaultSettleDelay)
	v.SetDefault("fetcher.timeout", 30*time.Minute)

	v.SetDefault("jvm.dir", "")
	v.SetDefault("jvm.api_base", jvm.DefaultAPIBase)
	v.SetDefault("jvm.probe_timeout", jvm.DefaultProbeTimeout)
	v.SetDefault("jvm.auto_install", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("log.compress", false)

	v.SetDefault("console.dir", "")
	v.SetDefault("console.max_size_mb", 10)
	v.SetDefault("console.max_backups", 3)
	v.SetDefault("console.max_age_days", 7)
	v.SetDefault("console.compress", false)

	v.SetDefault("http.listen", "127.0.0.1:8089")
	v.SetDefault("http.base_path", "/api")
	v.SetDefault("http.token_hash", "")
	v.SetDefault("http.tls.enabled", false)
	v.SetDefault("http.tls.cert_file", "")
	v.SetDefault("http.tls.key_file", "")
	v.SetDefault("http.tls.dir", "")
	v.SetDefault("http.tls.auto_generate", true)
	v.SetDefault("http.tls.min_version", "1.2")
	v.SetDefault("http.tls.hosts", []string{"localhost", "127.0.0.1"})
	v.SetDefault("http.tls.valid_days", 365)
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.sample_interval", 15*time.Second)
	v.SetDefault("history.dsn", "")
}

// Load reads path (TOML) over the defaults and applies CRAFTD_* overrides.
// An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Root = expandHome(cfg.Root)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects negative durations and zero retry counts.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Root) == "" {
		errs = append(errs, errors.New("root must not be empty"))
	}
	durations := map[string]time.Duration{
		"supervisor.grace_window": c.Supervisor.GraceWindow,
		"supervisor.restart_poll": c.Supervisor.RestartPoll,
		"supervisor.settle_delay": c.Supervisor.SettleDelay,
		"detector.probe_timeout":  c.Detector.ProbeTimeout,
		"cache.copy_backoff":      c.Cache.CopyBackoff,
		"cache.copy_step":         c.Cache.CopyStep,
		"cache.save_backoff":      c.Cache.SaveBackoff,
		"fetcher.settle_delay":    c.Fetcher.SettleDelay,
		"fetcher.timeout":         c.Fetcher.Timeout,
		"jvm.probe_timeout":       c.JVM.ProbeTimeout,
		"metrics.sample_interval": c.Metrics.SampleInterval,
	}
	for k, d := range durations {
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %s)", k, d))
		}
	}
	if c.Cache.CopyAttempts < 1 {
		errs = append(errs, fmt.Errorf("cache.copy_attempts must be at least 1 (got %d)", c.Cache.CopyAttempts))
	}
	if c.Cache.SaveAttempts < 1 {
		errs = append(errs, fmt.Errorf("cache.save_attempts must be at least 1 (got %d)", c.Cache.SaveAttempts))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "plain", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text, plain or json (got %q)", c.Log.Format))
	}
	if c.HTTP.BasePath != "" && !strings.HasPrefix(c.HTTP.BasePath, "/") {
		errs = append(errs, fmt.Errorf("http.base_path must start with / (got %q)", c.HTTP.BasePath))
	}
	if t := c.HTTP.TLS; t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("http.tls.cert_file and http.tls.key_file must be set together"))
		}
		switch t.MinVersion {
		case "", "1.2", "1.3":
		default:
			errs = append(errs, fmt.Errorf("http.tls.min_version must be 1.2 or 1.3 (got %q)", t.MinVersion))
		}
	}
	return errors.Join(errs...)
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// ProfilesDir holds profiles.json and one directory per profile.
func (c *Config) ProfilesDir() string { return filepath.Join(c.Root, "profiles") }

func (c *Config) CacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(c.Root, "cache")
}

// TLSDir holds generated certificates.
func (c *Config) TLSDir() string {
	if c.HTTP.TLS.Dir != "" {
		return c.HTTP.TLS.Dir
	}
	return filepath.Join(c.Root, "tls")
}

func (c *Config) RuntimesDir() string {
	if c.JVM.Dir != "" {
		return c.JVM.Dir
	}
	return filepath.Join(c.Root, "runtimes")
}

// CopyPolicy is the cache restore retry policy.
func (c *Config) CopyPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Cache.CopyAttempts, Backoff: retry.Linear(c.Cache.CopyBackoff, c.Cache.CopyStep)}
}

// SavePolicy is the cache population retry policy.
func (c *Config) SavePolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Cache.SaveAttempts, Backoff: retry.Exponential(c.Cache.SaveBackoff)}
}

func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// SupervisorOptions maps the supervisor section. Logger and History are
// left to the caller.
func (c *Config) SupervisorOptions() (supervisor.Options, error) {
	env, err := c.ServerEnv()
	if err != nil {
		return supervisor.Options{}, err
	}
	settle := c.Supervisor.SettleDelay
	if settle == 0 {
		settle = -1
	}
	return supervisor.Options{
		GraceWindow: c.Supervisor.GraceWindow,
		RestartPoll: c.Supervisor.RestartPoll,
		SettleDelay: settle,
		StopCommand: c.Supervisor.StopCommand,
		JVMArgs:     c.Supervisor.JVMArgs,
		Env:         env,
		Console: logger.ConsoleConfig{
			Dir:        c.Console.Dir,
			MaxSizeMB:  c.Console.MaxSizeMB,
			MaxBackups: c.Console.MaxBackups,
			MaxAgeDays: c.Console.MaxAgeDays,
			Compress:   c.Console.Compress,
		},
	}, nil
}
