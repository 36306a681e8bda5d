package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/loykin/craftd/internal/download"
	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/progress"
	"github.com/loykin/craftd/internal/retry"
)

const (
	DefaultManifestURL    = "https://piston-meta.mojang.com/mc/game/version_manifest_v2.json"
	DefaultVersion        = "1.21.11"
	DefaultSettleDelay    = 500 * time.Millisecond
	maxSimilarSuggestions = 5
)

// Progress bands of a fetch.
var (
	BandResolve  = progress.Band{Lo: 0, Hi: 10}
	BandTransfer = progress.Band{Lo: 10, Hi: 90}
	BandFinalize = progress.Band{Lo: 90, Hi: 100}
)

var releaseRe = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

// IsRelease reports whether a manifest id is a plain release.
func IsRelease(id string) bool {
	if !releaseRe.MatchString(id) {
		return false
	}
	l := strings.ToLower(id)
	for _, marker := range []string{"-", "snapshot", "rc", "pre", "w"} {
		if strings.Contains(l, marker) {
			return false
		}
	}
	return true
}

// Manifest is the subset of the remote version manifest we read.
type Manifest struct {
	Versions []ManifestVersion `json:"versions"`
}

type ManifestVersion struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	URL  string `json:"url"`
}

type versionDetails struct {
	Downloads struct {
		Server *struct {
			URL  string `json:"url"`
			Size int64  `json:"size"`
		} `json:"server"`
	} `json:"downloads"`
}

// Download is a resolved artifact location.
type Download struct {
	Version string `json:"version"`
	URL     string `json:"url"`
	Size    int64  `json:"size"`
}

// FetchResult describes what FetchArtifact did.
type FetchResult struct {
	Version   string `json:"version"`
	Path      string `json:"path"`
	Skipped   bool   `json:"skipped"`    // target already present, nothing done
	FromCache bool   `json:"from_cache"` // served by the cache
	Cached    bool   `json:"cached"`     // freshly downloaded and saved to the cache
	Bytes     int64  `json:"bytes"`
	SHA256    string `json:"sha256,omitempty"`
	Message   string `json:"message"`
}

// Fetcher resolves versions against the remote manifest and downloads
// artifacts, consulting the cache first.
type Fetcher struct {
	manifestURL    string
	defaultVersion string
	settleDelay    time.Duration
	renamePolicy   retry.Policy
	client         *http.Client
	cache          *Cache
	logger         *slog.Logger
}

// FetcherOption customises a Fetcher.
type FetcherOption func(*Fetcher)

func WithManifestURL(u string) FetcherOption {
	return func(f *Fetcher) {
		if u != "" {
			f.manifestURL = u
		}
	}
}

func WithDefaultVersion(v string) FetcherOption {
	return func(f *Fetcher) {
		if v != "" {
			f.defaultVersion = v
		}
	}
}

func WithSettleDelay(d time.Duration) FetcherOption {
	return func(f *Fetcher) { f.settleDelay = d }
}

func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithReplacePolicy controls retries when moving a finished download over
// a target that may still be held open.
func WithReplacePolicy(p retry.Policy) FetcherOption {
	return func(f *Fetcher) { f.renamePolicy = p }
}

// NewFetcher builds a fetcher backed by cache (may be nil).
func NewFetcher(cache *Cache, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		manifestURL:    DefaultManifestURL,
		defaultVersion: DefaultVersion,
		settleDelay:    DefaultSettleDelay,
		renamePolicy:   retry.Policy{MaxAttempts: 10, Backoff: retry.Linear(500*time.Millisecond, 200*time.Millisecond)},
		client:         &http.Client{Timeout: 30 * time.Minute},
		cache:          cache,
		logger:         slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// DefaultVersion is what ListAvailableVersions falls back to.
func (f *Fetcher) DefaultVersion() string { return f.defaultVersion }

func (f *Fetcher) manifest(ctx context.Context) (Manifest, error) {
	var m Manifest
	body, err := download.Get(ctx, f.client, f.manifestURL)
	if err != nil {
		return m, errdefs.Wrap("fetcher.Manifest", errdefs.KindRemoteResolutionFailed, err, "fetch version manifest")
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return m, errdefs.Wrap("fetcher.Manifest", errdefs.KindRemoteResolutionFailed, err, "decode version manifest")
	}
	return m, nil
}

// ListAvailableVersions returns release ids in manifest order. Any failure
// yields just the built-in default version.
func (f *Fetcher) ListAvailableVersions(ctx context.Context) []string {
	m, err := f.manifest(ctx)
	if err != nil {
		f.logger.Warn("version list unavailable, using default", "default", f.defaultVersion, "error", err)
		return []string{f.defaultVersion}
	}
	var out []string
	for _, v := range m.Versions {
		if IsRelease(v.ID) {
			out = append(out, v.ID)
		}
	}
	if len(out) == 0 {
		return []string{f.defaultVersion}
	}
	return out
}

// Resolve maps version to its server download. Exact ids win over
// case-insensitive matches.
func (f *Fetcher) Resolve(ctx context.Context, version string) (Download, error) {
	const op = "fetcher.Resolve"
	version = strings.TrimSpace(version)
	m, err := f.manifest(ctx)
	if err != nil {
		return Download{}, err
	}
	entry, ok := findVersion(m, version)
	if !ok {
		msg := fmt.Sprintf("version %s not found in manifest", version)
		if similar := similarVersions(m, version); len(similar) > 0 {
			msg += "; similar versions: " + strings.Join(similar, ", ")
		}
		return Download{}, errdefs.New(op, errdefs.KindRemoteResolutionFailed, "%s", msg)
	}
	body, err := download.Get(ctx, f.client, entry.URL)
	if err != nil {
		return Download{}, errdefs.Wrap(op, errdefs.KindRemoteResolutionFailed, err, "fetch details of %s", entry.ID)
	}
	var d versionDetails
	if err := json.Unmarshal(body, &d); err != nil {
		return Download{}, errdefs.Wrap(op, errdefs.KindRemoteResolutionFailed, err, "decode details of %s", entry.ID)
	}
	if d.Downloads.Server == nil || d.Downloads.Server.URL == "" {
		return Download{}, errdefs.New(op, errdefs.KindRemoteResolutionFailed, "version %s has no server download", entry.ID)
	}
	return Download{Version: entry.ID, URL: d.Downloads.Server.URL, Size: d.Downloads.Server.Size}, nil
}

func findVersion(m Manifest, version string) (ManifestVersion, bool) {
	for _, v := range m.Versions {
		if v.ID == version {
			return v, true
		}
	}
	for _, v := range m.Versions {
		if strings.EqualFold(v.ID, version) {
			return v, true
		}
	}
	return ManifestVersion{}, false
}

// similarVersions lists up to five release ids sharing version's major.minor.
func similarVersions(m Manifest, version string) []string {
	parts := strings.Split(version, ".")
	if len(parts) < 2 {
		return nil
	}
	prefix := parts[0] + "." + parts[1]
	var out []string
	for _, v := range m.Versions {
		if !IsRelease(v.ID) {
			continue
		}
		if v.ID == prefix || strings.HasPrefix(v.ID, prefix+".") {
			out = append(out, v.ID)
			if len(out) == maxSimilarSuggestions {
				break
			}
		}
	}
	return out
}

// FetchArtifact makes target hold the artifact of version.
//
// With overwrite=false an existing target is left alone and reported as
// success without touching cache or network. Otherwise the cache is tried
// first; a cache entry that fails to restore falls through to a download.
// Downloads stream into a sibling .part file that replaces target only when
// complete, and are then copied into the cache on a best-effort basis.
func (f *Fetcher) FetchArtifact(ctx context.Context, version, target string, overwrite bool, report progress.Func) (FetchResult, error) {
	const op = "fetcher.Fetch"
	version = strings.TrimSpace(version)
	res := FetchResult{Version: version, Path: target}
	if version == "" {
		return res, errdefs.New(op, errdefs.KindInvalidOperation, "empty version")
	}
	if !overwrite {
		if fi, err := os.Stat(target); err == nil && !fi.IsDir() {
			res.Skipped = true
			res.Bytes = fi.Size()
			res.Message = "artifact already present"
			report.Report(res.Message, 100)
			return res, nil
		}
	}

	start := time.Now()
	if f.cache != nil && f.cache.IsCached(version) {
		report.Report(fmt.Sprintf("Using cached version %s...", version), BandResolve.Lo)
		if err := f.cache.Restore(ctx, version, target); err == nil {
			if fi, err := os.Stat(target); err == nil && fi.Size() > 0 {
				res.FromCache = true
				res.Bytes = fi.Size()
				res.Message = "used cache"
				metrics.ObserveFetch("cache", time.Since(start).Seconds())
				report.Report(fmt.Sprintf("Using cached version %s", version), 100)
				return res, nil
			}
		} else {
			f.logger.Warn("cached artifact unusable, downloading", "version", version, "error", err)
		}
	} else if f.cache != nil {
		metrics.IncCacheLookup("miss")
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	report.Report(fmt.Sprintf("Resolving version %s...", version), BandResolve.Lo)
	dl, err := f.Resolve(ctx, version)
	if err != nil {
		return res, err
	}
	report.Report(fmt.Sprintf("Downloading %s...", dl.Version), BandTransfer.Lo)

	part := target + ".part"
	got, err := download.ToFile(ctx, f.client, dl.URL, part, dl.Size, func(done, total int64) {
		report.Report(fmt.Sprintf("Downloading %s... %.1f MB", dl.Version, float64(done)/(1<<20)), BandTransfer.Scale(done, total))
	})
	metrics.ObserveDownload("artifact", got.Bytes, err)
	if err != nil {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, errdefs.Wrap(op, errdefs.KindTransferFailed, err, "download %s", dl.Version)
	}
	if got.Bytes == 0 {
		_ = os.Remove(part)
		return res, errdefs.New(op, errdefs.KindTransferFailed, "download of %s was empty", dl.Version)
	}
	if err := f.replace(ctx, part, target); err != nil {
		_ = os.Remove(part)
		return res, err
	}
	res.Bytes = got.Bytes
	res.SHA256 = got.SHA256
	res.Message = "downloaded"
	metrics.ObserveFetch("network", time.Since(start).Seconds())

	if f.cache != nil {
		report.Report("Saving to cache...", BandFinalize.Lo)
		if err := sleepCtx(ctx, f.settleDelay); err == nil {
			if err := f.cache.SaveToCache(ctx, version, target); err != nil {
				f.logger.Warn("artifact not cached", "version", version, "error", err)
			} else {
				res.Cached = true
			}
		}
	}
	report.Report(fmt.Sprintf("Downloaded %s", dl.Version), BandFinalize.Hi)
	return res, nil
}

func (f *Fetcher) replace(ctx context.Context, part, target string) error {
	err := f.renamePolicy.Do(ctx, func(int) error { return os.Rename(part, target) })
	if err == nil {
		return nil
	}
	kind := errdefs.KindTransferFailed
	if isLocked(err) {
		kind = errdefs.KindLocked
	}
	return errdefs.Wrap("fetcher.Fetch", kind, err, "replace %s", target)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
