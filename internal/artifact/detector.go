package artifact

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/craftd/internal/metrics"
)

// Source names the heuristic that produced a detected version.
type Source string

const (
	SourceNone         Source = "none"
	SourceFilename     Source = "filename"
	SourceManifest     Source = "manifest"
	SourceVersionJSON  Source = "version_json"
	SourceRuntimeProbe Source = "runtime_probe"
)

const DefaultProbeTimeout = 2 * time.Second

const maxEntryBytes = 1 << 20

var (
	filenameRe = regexp.MustCompile(`(\d+\.\d+(?:\.\d+)?)`)

	manifestRes = []*regexp.Regexp{
		regexp.MustCompile(`(?im)^Implementation-Version:\s*(\d+\.\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?im)^Specification-Version:\s*(\d+\.\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?im)Version:\s*(\d+\.\d+(?:\.\d+)?)`),
	}

	versionJSONRe = regexp.MustCompile(`"id"\s*:\s*"(\d+\.\d+(?:\.\d+)?)"`)

	probeRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Starting\s+minecraft\s+server\s+version\s+(\d+\.\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)Minecraft\s+server\s+version\s+(\d+\.\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)minecraft.*version\s+(\d+\.\d+(?:\.\d+)?)`),
		regexp.MustCompile(`(?i)server\s+version\s+(\d+\.\d+(?:\.\d+)?)`),
	}
)

// Detector infers the application version of a server artifact.
type Detector struct {
	// Java returns the runtime used for the probe layer. It is only called
	// when the cheaper layers found nothing; "" skips the probe.
	Java         func(ctx context.Context) string
	ProbeTimeout time.Duration
	Logger       *slog.Logger
}

func (d *Detector) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Detect returns the first plausible version found by the filename,
// manifest, version.json and runtime probe layers, in that order. An
// inconclusive result is ("", SourceNone).
func (d *Detector) Detect(ctx context.Context, jarPath string) (string, Source) {
	v, src := d.detect(ctx, jarPath)
	metrics.IncDetection(string(src))
	if src != SourceNone {
		d.logger().Debug("version detected", "jar", jarPath, "version", v, "source", src)
	}
	return v, src
}

func (d *Detector) detect(ctx context.Context, jarPath string) (string, Source) {
	if fi, err := os.Stat(jarPath); err != nil || fi.IsDir() {
		return "", SourceNone
	}
	if v, ok := FromFilename(filepath.Base(jarPath)); ok {
		return v, SourceFilename
	}
	if v, src, ok := fromArchive(jarPath); ok {
		return v, src
	}
	if d.Java == nil {
		return "", SourceNone
	}
	java := d.Java(ctx)
	if java == "" {
		return "", SourceNone
	}
	if v, ok := d.probe(ctx, java, jarPath); ok {
		return v, SourceRuntimeProbe
	}
	return "", SourceNone
}

// FromFilename matches the first dotted number in name.
func FromFilename(name string) (string, bool) {
	m := filenameRe.FindStringSubmatch(name)
	if m == nil || !IsPlausible(m[1]) {
		return "", false
	}
	return m[1], true
}

func fromArchive(jarPath string) (string, Source, bool) {
	zr, err := zip.OpenReader(jarPath)
	if err != nil {
		return "", SourceNone, false
	}
	defer func() { _ = zr.Close() }()

	if data, ok := readEntry(&zr.Reader, "META-INF/MANIFEST.MF"); ok {
		if v, ok := FromManifest(data); ok {
			return v, SourceManifest, true
		}
	}
	if data, ok := readEntry(&zr.Reader, "version.json"); ok {
		if v, ok := FromVersionJSON(data); ok {
			return v, SourceVersionJSON, true
		}
	}
	return "", SourceNone, false
}

func readEntry(zr *zip.Reader, name string) ([]byte, bool) {
	for _, f := range zr.File {
		if !strings.EqualFold(f.Name, name) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, false
		}
		data, err := io.ReadAll(io.LimitReader(rc, maxEntryBytes))
		_ = rc.Close()
		return data, err == nil
	}
	return nil, false
}

// FromManifest scans a jar manifest, preferring Implementation-Version over
// Specification-Version over any other Version key.
func FromManifest(data []byte) (string, bool) {
	for _, re := range manifestRes {
		for _, m := range re.FindAllSubmatch(data, -1) {
			if v := string(m[1]); IsPlausible(v) {
				return v, true
			}
		}
	}
	return "", false
}

func FromVersionJSON(data []byte) (string, bool) {
	m := versionJSONRe.FindSubmatch(data)
	if m == nil || !IsPlausible(string(m[1])) {
		return "", false
	}
	return string(m[1]), true
}

// probe runs `java -jar <jar> --version` next to the jar. Output captured
// before the timeout kill is still scanned.
func (d *Detector) probe(ctx context.Context, java, jarPath string) (string, bool) {
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	pctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var out bytes.Buffer
	cmd := exec.CommandContext(pctx, java, "-jar", jarPath, "--version")
	cmd.Dir = filepath.Dir(jarPath)
	cmd.Stdout = &out
	cmd.Stderr = &out
	cmd.WaitDelay = 500 * time.Millisecond
	if err := cmd.Run(); err != nil && out.Len() == 0 {
		d.logger().Debug("version probe failed", "jar", jarPath, "error", err)
		return "", false
	}
	return FromProbeOutput(out.String())
}

// FromProbeOutput scans --version output after dropping lines in which the
// runtime identifies itself.
func FromProbeOutput(output string) (string, bool) {
	var kept []string
	for _, line := range strings.Split(output, "\n") {
		if isRuntimeBanner(line) {
			continue
		}
		kept = append(kept, line)
	}
	text := strings.Join(kept, "\n")
	for _, re := range probeRes {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if IsPlausible(m[1]) {
				return m[1], true
			}
		}
	}
	return "", false
}

func isRuntimeBanner(line string) bool {
	l := strings.ToLower(line)
	return strings.Contains(l, "java version") ||
		strings.Contains(l, "openjdk version") ||
		strings.Contains(l, "java.lang") ||
		strings.HasPrefix(strings.TrimSpace(line), "Picked up")
}

// IsPlausible rejects strings that look like a runtime version. Accepted
// values are either "1.x" releases other than 1.0 through 1.9, with a minor
// of at least 7 or a patch component, or year-numbered releases such as
// "26.1" whose minor is never 0. "17.0.2" style runtime strings are refused.
func IsPlausible(v string) bool {
	parts := strings.Split(v, ".")
	if len(parts) < 2 || len(parts) > 3 {
		return false
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	if major >= 2 {
		return minor >= 1
	}
	if major != 1 {
		return false
	}
	if len(parts) == 2 && len(parts[1]) == 1 {
		return false
	}
	return minor >= 7 || len(parts) == 3
}
