package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ServerEnv merges the server environment. Precedence, lowest first: the OS
// environment when use_os_env is set, env_files in order, then env entries.
// The supervisor adds the result on top of the inherited environment, so
// use_os_env only matters for values other layers reference.
func (c *Config) ServerEnv() ([]string, error) {
	m := make(map[string]string)
	if c.Supervisor.UseOSEnv {
		putPairs(m, os.Environ())
	}
	for _, p := range c.Supervisor.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	putPairs(m, c.Supervisor.Env)
	if len(m) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

func putPairs(m map[string]string, kvs []string) {
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
}

// LoadEnvFile parses a .env file into KEY=VALUE entries.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out, nil
}

// loadEnvFile reads KEY=VALUE lines. Blank lines and # comments are skipped,
// an "export " prefix and matching surrounding quotes are stripped.
func loadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		i := strings.IndexByte(line, '=')
		if i <= 0 {
			continue
		}
		k := strings.TrimSpace(line[:i])
		v := strings.TrimSpace(line[i+1:])
		if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
			v = v[1 : len(v)-1]
		}
		m[k] = v
	}
	return m, nil
}
