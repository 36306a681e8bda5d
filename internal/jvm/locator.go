package jvm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strconv"
	"strings"

	"github.com/loykin/craftd/internal/errdefs"
)

// Installation is a located runtime binary.
type Installation struct {
	Major   int    `json:"major"`
	Path    string `json:"path"`
	Bundled bool   `json:"bundled"`
	Source  string `json:"source"`
}

// Strategy is one way of finding runtimes. Locate returns the best
// installation satisfying requiredMajor (0 means any).
type Strategy interface {
	Name() string
	Locate(ctx context.Context, requiredMajor int) (Installation, bool)
}

// Candidates is implemented by strategies that can enumerate everything
// they see, which is used for listing and diagnosis.
type Candidates interface {
	Candidates(ctx context.Context) []Installation
}

// JavaExe is the runtime binary name on this platform.
func JavaExe() string {
	if goruntime.GOOS == "windows" {
		return "java.exe"
	}
	return "java"
}

// pick prefers an exact major, then the highest major above the requirement.
// With requiredMajor 0 the highest major wins.
func pick(cands []Installation, requiredMajor int) (Installation, bool) {
	var best Installation
	found := false
	for _, c := range cands {
		if c.Major <= 0 {
			continue
		}
		if requiredMajor > 0 && c.Major == requiredMajor {
			return c, true
		}
		if c.Major < requiredMajor {
			continue
		}
		if !found || c.Major > best.Major {
			best, found = c, true
		}
	}
	return best, found
}

// BundledStrategy looks in the private installs directory. Entries are named
// runtime-<major> (or just <major>) with bin/java inside.
type BundledStrategy struct {
	Dir string
}

func (s BundledStrategy) Name() string { return "bundled" }

// HomeFor is where the installation of major lives.
func (s BundledStrategy) HomeFor(major int) string {
	return filepath.Join(s.Dir, "runtime-"+strconv.Itoa(major))
}

func (s BundledStrategy) Candidates(context.Context) []Installation {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return nil
	}
	var out []Installation
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		major, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "runtime-"))
		if err != nil || major <= 0 {
			continue
		}
		exe := filepath.Join(s.Dir, e.Name(), "bin", JavaExe())
		if isFile(exe) {
			out = append(out, Installation{Major: major, Path: exe, Bundled: true, Source: s.Name()})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Major > out[j].Major })
	return out
}

func (s BundledStrategy) Locate(ctx context.Context, requiredMajor int) (Installation, bool) {
	if requiredMajor > 0 {
		exe := filepath.Join(s.HomeFor(requiredMajor), "bin", JavaExe())
		if isFile(exe) {
			return Installation{Major: requiredMajor, Path: exe, Bundled: true, Source: s.Name()}, true
		}
	}
	return pick(s.Candidates(ctx), requiredMajor)
}

// SystemStrategy probes runtimes installed in well-known host locations.
type SystemStrategy struct {
	Patterns []string // glob patterns of runtime binaries
	Prober   Prober
}

// DefaultSystemPatterns returns the usual install locations for this OS.
func DefaultSystemPatterns() []string {
	switch goruntime.GOOS {
	case "windows":
		return []string{
			`C:\Program Files\Java\*\bin\java.exe`,
			`C:\Program Files\Eclipse Adoptium\*\bin\java.exe`,
			`C:\Program Files\Microsoft\*\bin\java.exe`,
		}
	case "darwin":
		return []string{
			"/Library/Java/JavaVirtualMachines/*/Contents/Home/bin/java",
			"/opt/homebrew/opt/openjdk*/bin/java",
		}
	default:
		return []string{
			"/usr/lib/jvm/*/bin/java",
			"/usr/java/*/bin/java",
			"/opt/java/*/bin/java",
		}
	}
}

func (s SystemStrategy) Name() string { return "system" }

func (s SystemStrategy) Candidates(ctx context.Context) []Installation {
	seen := map[string]bool{}
	var out []Installation
	for _, pat := range s.Patterns {
		matches, _ := filepath.Glob(pat)
		sort.Sort(sort.Reverse(sort.StringSlice(matches)))
		for _, m := range matches {
			if seen[m] || !isFile(m) {
				continue
			}
			seen[m] = true
			if major := s.Prober.Major(ctx, m); major > 0 {
				out = append(out, Installation{Major: major, Path: m, Source: s.Name()})
			}
		}
	}
	return out
}

func (s SystemStrategy) Locate(ctx context.Context, requiredMajor int) (Installation, bool) {
	return pick(s.Candidates(ctx), requiredMajor)
}

// PathStrategy uses whatever runtime PATH resolves to.
type PathStrategy struct {
	Prober Prober
}

func (s PathStrategy) Name() string { return "path" }

func (s PathStrategy) Candidates(ctx context.Context) []Installation {
	p, err := exec.LookPath(JavaExe())
	if err != nil {
		return nil
	}
	major := s.Prober.Major(ctx, p)
	if major <= 0 {
		return nil
	}
	return []Installation{{Major: major, Path: p, Source: s.Name()}}
}

func (s PathStrategy) Locate(ctx context.Context, requiredMajor int) (Installation, bool) {
	return pick(s.Candidates(ctx), requiredMajor)
}

// Locator tries strategies in order; the first hit wins.
type Locator struct {
	strategies []Strategy
	logger     *slog.Logger
}

// NewLocator builds a locator over an explicit strategy list.
func NewLocator(logger *slog.Logger, strategies ...Strategy) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{strategies: strategies, logger: logger}
}

// DefaultLocator searches bundled installs under runtimesDir, then the host,
// then PATH.
func DefaultLocator(runtimesDir string, prober Prober, logger *slog.Logger) *Locator {
	if prober == nil {
		prober = ExecProber{}
	}
	return NewLocator(logger,
		BundledStrategy{Dir: runtimesDir},
		SystemStrategy{Patterns: DefaultSystemPatterns(), Prober: prober},
		PathStrategy{Prober: prober},
	)
}

// Locate returns a runtime with major >= requiredMajor, or ErrRuntimeNotFound.
func (l *Locator) Locate(ctx context.Context, requiredMajor int) (Installation, error) {
	for _, s := range l.strategies {
		if inst, ok := s.Locate(ctx, requiredMajor); ok {
			l.logger.Debug("runtime located", "strategy", s.Name(), "major", inst.Major, "path", inst.Path)
			return inst, nil
		}
	}
	return Installation{}, errdefs.From("jvm.Locate", errdefs.ErrRuntimeNotFound,
		fmt.Errorf("no runtime with major >= %d", requiredMajor))
}

// Best returns the newest runtime any strategy can see, in strategy order.
func (l *Locator) Best(ctx context.Context) (Installation, error) {
	return l.Locate(ctx, 0)
}

// All lists every installation visible to enumerable strategies.
func (l *Locator) All(ctx context.Context) []Installation {
	var out []Installation
	for _, s := range l.strategies {
		if c, ok := s.(Candidates); ok {
			out = append(out, c.Candidates(ctx)...)
		}
	}
	return out
}

func isFile(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
