package config

import (
	"os"
	"path/filepath"
	"testing"
)

func toMap(pairs []string) map[string]string {
	m := make(map[string]string)
	for _, kv := range pairs {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}

func TestLoadEnvFile(t *testing.T) {
	dotenv := filepath.Join(t.TempDir(), ".env")
	data := "A=1\n#comment\n\nexport B=two\nC=\"quoted value\"\nbroken line\n"
	if err := os.WriteFile(dotenv, []byte(data), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	pairs, err := LoadEnvFile(dotenv)
	if err != nil {
		t.Fatalf("load env file: %v", err)
	}
	m := toMap(pairs)
	if len(m) != 3 || m["A"] != "1" || m["B"] != "two" || m["C"] != "quoted value" {
		t.Fatalf("unexpected pairs: %+v", m)
	}
}

func TestServerEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	dotenv := filepath.Join(dir, "server.env")
	if err := os.WriteFile(dotenv, []byte("FILE_ONLY=fv\nSHARED=file\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("CRAFTD_OS_ONLY", "osv")
	cfg := &Config{Supervisor: SupervisorConfig{
		UseOSEnv: true,
		EnvFiles: []string{dotenv},
		Env:      []string{"SHARED=top", "TOP=tv"},
	}}
	pairs, err := cfg.ServerEnv()
	if err != nil {
		t.Fatalf("server env: %v", err)
	}
	m := toMap(pairs)
	if m["CRAFTD_OS_ONLY"] != "osv" || m["FILE_ONLY"] != "fv" || m["TOP"] != "tv" {
		t.Fatalf("missing layers: %+v", m)
	}
	if m["SHARED"] != "top" {
		t.Fatalf("env entries must override files, got %q", m["SHARED"])
	}
}

func TestServerEnvEmpty(t *testing.T) {
	pairs, err := (&Config{}).ServerEnv()
	if err != nil || pairs != nil {
		t.Fatalf("expected no env, got %v %v", pairs, err)
	}
}

func TestServerEnvMissingFile(t *testing.T) {
	cfg := &Config{Supervisor: SupervisorConfig{EnvFiles: []string{filepath.Join(t.TempDir(), "missing.env")}}}
	if _, err := cfg.ServerEnv(); err == nil {
		t.Fatalf("expected error")
	}
}
