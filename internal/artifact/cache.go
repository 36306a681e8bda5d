package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/retry"
)

// ArtifactName is the file name of every cached artifact.
const ArtifactName = "server.jar"

// DefaultCopyPolicy restores from cache: 5 attempts, 200ms growing by 100ms.
func DefaultCopyPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, Backoff: retry.Linear(200*time.Millisecond, 100*time.Millisecond), Retryable: retryableCopy}
}

// DefaultSavePolicy populates the cache: 5 attempts, 200ms doubling.
func DefaultSavePolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 5, Backoff: retry.Exponential(200 * time.Millisecond), Retryable: retryableCopy}
}

// Cache is a version keyed store of artifacts under one directory:
// <dir>/<normalized-version>/server.jar. Entries are never evicted.
type Cache struct {
	dir        string
	copyPolicy retry.Policy
	savePolicy retry.Policy
	logger     *slog.Logger
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

func WithCopyPolicy(p retry.Policy) CacheOption { return func(c *Cache) { c.copyPolicy = p } }
func WithSavePolicy(p retry.Policy) CacheOption { return func(c *Cache) { c.savePolicy = p } }
func WithCacheLogger(l *slog.Logger) CacheOption {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string, opts ...CacheOption) *Cache {
	c := &Cache{dir: dir, copyPolicy: DefaultCopyPolicy(), savePolicy: DefaultSavePolicy(), logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.copyPolicy.Retryable == nil {
		c.copyPolicy.Retryable = retryableCopy
	}
	if c.savePolicy.Retryable == nil {
		c.savePolicy.Retryable = retryableCopy
	}
	return c
}

// Dir is the cache root.
func (c *Cache) Dir() string { return c.dir }

// NormalizeKey trims version and replaces characters that are not valid in a
// path segment with '_'.
func NormalizeKey(version string) string {
	v := strings.TrimSpace(version)
	var b strings.Builder
	for _, r := range v {
		if r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	key := b.String()
	if key == "." || key == ".." {
		key = strings.Repeat("_", len(key))
	}
	return key
}

// Path is where version's artifact lives in the cache.
func (c *Cache) Path(version string) string {
	return filepath.Join(c.dir, NormalizeKey(version), ArtifactName)
}

// Size returns the cached length of version. Zero-length or missing entries
// report ok=false.
func (c *Cache) Size(version string) (int64, bool) {
	if NormalizeKey(version) == "" {
		return 0, false
	}
	fi, err := os.Stat(c.Path(version))
	if err != nil || fi.IsDir() || fi.Size() == 0 {
		return 0, false
	}
	return fi.Size(), true
}

// IsCached reports whether a non-empty artifact is cached for version.
func (c *Cache) IsCached(version string) bool {
	_, ok := c.Size(version)
	return ok
}

// CopyFromCache copies the cached artifact of version to target and reports
// whether the copy was verified.
func (c *Cache) CopyFromCache(ctx context.Context, version, target string) bool {
	if err := c.Restore(ctx, version, target); err != nil {
		c.logger.Warn("cache restore failed", "version", version, "target", target, "error", err)
		return false
	}
	return true
}

// Restore is CopyFromCache with the failure reason. All errors are advisory:
// NotFound for a missing or empty entry, Locked when the target stayed in
// use for every attempt, TransferFailed otherwise. On failure the target is
// not valid.
func (c *Cache) Restore(ctx context.Context, version, target string) error {
	const op = "cache.Restore"
	size, ok := c.Size(version)
	if !ok {
		metrics.IncCacheLookup("miss")
		return &errdefs.Error{Op: op, Kind: errdefs.KindNotFound, Severity: errdefs.Advisory, Msg: fmt.Sprintf("version %q not cached", version)}
	}
	src := c.Path(version)
	err := c.copyPolicy.Do(ctx, func(attempt int) error {
		if err := copyVerified(src, target, size); err != nil {
			c.logger.Debug("cache copy attempt failed", "version", version, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		metrics.IncCacheLookup("invalid")
		return &errdefs.Error{Op: op, Kind: copyErrorKind(err), Severity: errdefs.Advisory, Msg: fmt.Sprintf("copy %s to %s", version, target), Err: err}
	}
	metrics.IncCacheLookup("hit")
	return nil
}

// SaveToCache stores source as version's artifact. It never fails the
// caller's operation: any error returned is advisory and meant to be logged.
// A copy whose length does not match the source is logged and removed.
func (c *Cache) SaveToCache(ctx context.Context, version, source string) error {
	const op = "cache.Save"
	if NormalizeKey(version) == "" {
		return &errdefs.Error{Op: op, Kind: errdefs.KindInvalidOperation, Severity: errdefs.Advisory, Msg: "empty version"}
	}
	fi, err := os.Stat(source)
	if err != nil || fi.Size() == 0 {
		c.logger.Warn("not caching empty or missing artifact", "version", version, "source", source)
		return &errdefs.Error{Op: op, Kind: errdefs.KindNotFound, Severity: errdefs.Advisory, Msg: "source missing or empty", Err: err}
	}
	dst := c.Path(version)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return errdefs.AsAdvisory(op, errdefs.KindTransferFailed, err)
	}
	err = c.savePolicy.Do(ctx, func(int) error { return copyFile(source, dst) })
	if err != nil {
		c.logger.Warn("cache save failed", "version", version, "error", err)
		return errdefs.AsAdvisory(op, copyErrorKind(err), err)
	}
	if got, ok := c.Size(version); !ok || got != fi.Size() {
		c.logger.Warn("cached artifact length mismatch", "version", version, "want", fi.Size(), "got", got)
		_ = os.Remove(dst)
		return &errdefs.Error{Op: op, Kind: errdefs.KindTransferFailed, Severity: errdefs.Advisory, Msg: "length mismatch after copy"}
	}
	c.logger.Info("artifact cached", "version", version, "bytes", fi.Size())
	return nil
}

// Entry describes one cached artifact.
type Entry struct {
	Version  string    `json:"version"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
}

// List returns non-empty entries sorted by key.
func (c *Cache) List() ([]Entry, error) {
	dirs, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		p := filepath.Join(c.dir, d.Name(), ArtifactName)
		fi, err := os.Stat(p)
		if err != nil || fi.Size() == 0 {
			continue
		}
		out = append(out, Entry{Version: d.Name(), Path: p, Size: fi.Size(), Modified: fi.ModTime()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// copyVerified replaces target with src and checks the result length.
func copyVerified(src, target string, size int64) error {
	if err := copyFile(src, target); err != nil {
		return err
	}
	fi, err := os.Stat(target)
	if err != nil {
		return err
	}
	if fi.Size() != size {
		_ = os.Remove(target)
		return fmt.Errorf("length mismatch: target %d bytes, cache %d bytes", fi.Size(), size)
	}
	return nil
}

// copyFile writes src to a sibling temp file and renames it over dst, so
// readers never see a half written dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src) // #nosec G304 cache paths are derived internally
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}

// retryableCopy retries everything except a vanished source.
func retryableCopy(err error) bool {
	var pe *os.PathError
	if errors.As(err, &pe) && pe.Op == "open" && errors.Is(err, os.ErrNotExist) {
		return false
	}
	return true
}

// copyErrorKind classifies a failed copy: Locked when the file stayed held
// by another process, TransferFailed for anything else.
func copyErrorKind(err error) errdefs.Kind {
	if isLocked(err) {
		return errdefs.KindLocked
	}
	return errdefs.KindTransferFailed
}

// Windows sharing/lock violations and their closest POSIX equivalents.
const (
	errSharingViolation syscall.Errno = 32
	errLockViolation    syscall.Errno = 33
)

func isLocked(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.EBUSY, syscall.ETXTBSY:
		return true
	}
	return isWindowsLock(errno)
}
