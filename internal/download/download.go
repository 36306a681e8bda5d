// Package download streams HTTP bodies to files.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
)

// Result describes a finished download.
type Result struct {
	Bytes  int64
	SHA256 string
}

// OnBytes is called as data arrives. total is -1 when unknown.
type OnBytes func(done, total int64)

// ToFile GETs url into dest. The file is created fresh; on any failure,
// including cancellation of ctx, the partial file is closed and removed.
// expectedSize, when > 0, is used as the total when the server omits
// Content-Length.
func ToFile(ctx context.Context, client *http.Client, url, dest string, expectedSize int64, onBytes OnBytes) (res Result, err error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{}, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	total := resp.ContentLength
	if total <= 0 && expectedSize > 0 {
		total = expectedSize
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o750); err != nil {
		return Result{}, err
	}
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		cerr := f.Close()
		if err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dest)
		}
	}()

	h := sha256.New()
	cw := &countingWriter{total: total, onBytes: onBytes}
	n, err := io.Copy(io.MultiWriter(f, h, cw), &ctxReader{ctx: ctx, r: resp.Body})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, ctxErr
		}
		return Result{}, err
	}
	if total > 0 && resp.ContentLength > 0 && n != total {
		return Result{}, fmt.Errorf("short download: got %d of %d bytes", n, total)
	}
	return Result{Bytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}, nil
}

// Get fetches url and returns the body, bounded to 64 MiB.
func Get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 64<<20))
}

// FileSHA256 hashes a file on disk.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path) // #nosec G304 caller-controlled path
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

type countingWriter struct {
	done    int64
	total   int64
	onBytes OnBytes
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.done += int64(len(p))
	if w.onBytes != nil {
		w.onBytes(w.done, w.total)
	}
	return len(p), nil
}

// ctxReader fails reads once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := r.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && r.ctx.Err() != nil {
		return n, r.ctx.Err()
	}
	return n, err
}
