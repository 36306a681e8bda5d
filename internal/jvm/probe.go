package jvm

import (
	"context"
	"os/exec"
	"regexp"
	"strconv"
	"time"
)

// DefaultProbeTimeout bounds a `java -version` call.
const DefaultProbeTimeout = 2 * time.Second

// Handles both `java version "1.8.0_401"` and `openjdk version "21.0.1"`,
// and the bare `openjdk version "21" 2023-09-19` form of GA releases.
var versionRe = regexp.MustCompile(`version\s+["']?(\d+)(?:\.(\d+))?`)

// ParseMajor extracts the runtime major from `java -version` output.
// Legacy 1.x numbering maps to x. Returns 0 when nothing matches.
func ParseMajor(output string) int {
	m := versionRe.FindStringSubmatch(output)
	if m == nil {
		return 0
	}
	major, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	if major == 1 && m[2] != "" {
		minor, err := strconv.Atoi(m[2])
		if err != nil {
			return 0
		}
		return minor
	}
	return major
}

// Prober reports the major version of a runtime binary, 0 if unknown.
type Prober interface {
	Major(ctx context.Context, path string) int
}

// ExecProber runs `<path> -version` with a bounded wait.
type ExecProber struct {
	Timeout time.Duration
}

func (p ExecProber) Major(ctx context.Context, path string) int {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, "-version") // #nosec G204 path comes from discovery
	cmd.WaitDelay = 500 * time.Millisecond
	out, _ := cmd.CombinedOutput()
	return ParseMajor(string(out))
}
