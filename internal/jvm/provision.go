package jvm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/craftd/internal/download"
	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/metrics"
	"github.com/loykin/craftd/internal/progress"
)

// DefaultAPIBase is the Adoptium v3 API.
const DefaultAPIBase = "https://api.adoptium.net/v3"

// Progress bands of an install.
var (
	bandResolve  = progress.Band{Lo: 0, Hi: 10}
	bandDownload = progress.Band{Lo: 10, Hi: 80}
)

// Supported reports whether a runtime major can be provisioned.
func Supported(major int) bool {
	switch major {
	case 8, 11, 16, 17:
		return true
	}
	return major >= 21
}

// Provisioner downloads and unpacks runtimes into the bundled directory.
type Provisioner struct {
	Dir     string // bundled runtimes directory
	APIBase string
	OS      string // adoptium os name; derived from GOOS when empty
	Arch    string // adoptium architecture; derived from GOARCH when empty
	Client  *http.Client
	Logger  *slog.Logger
	// OnInstalled, when set, is told about every finished install.
	OnInstalled func(inst Installation, res download.Result)
}

type assetEntry struct {
	Binary struct {
		Package struct {
			Link string `json:"link"`
			Name string `json:"name"`
			Size int64  `json:"size"`
		} `json:"package"`
	} `json:"binary"`
}

func (p *Provisioner) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.Default()
	}
	return p.Logger
}

// AssetURL is the API query for the latest JDK of major.
func (p *Provisioner) AssetURL(major int) string {
	base := strings.TrimRight(p.APIBase, "/")
	if base == "" {
		base = DefaultAPIBase
	}
	q := url.Values{}
	q.Set("architecture", p.archName())
	q.Set("image_type", "jdk")
	q.Set("os", p.osName())
	return fmt.Sprintf("%s/assets/latest/%d/hotspot?%s", base, major, q.Encode())
}

// ResolveLink asks the API for the package download link of major.
func (p *Provisioner) ResolveLink(ctx context.Context, major int) (string, int64, error) {
	const op = "jvm.ResolveLink"
	body, err := download.Get(ctx, p.Client, p.AssetURL(major))
	if err != nil {
		return "", 0, errdefs.Wrap(op, errdefs.KindRemoteResolutionFailed, err, "query runtime %d", major)
	}
	var assets []assetEntry
	if err := json.Unmarshal(body, &assets); err != nil {
		return "", 0, errdefs.Wrap(op, errdefs.KindRemoteResolutionFailed, err, "decode runtime %d assets", major)
	}
	if len(assets) == 0 || assets[0].Binary.Package.Link == "" {
		return "", 0, errdefs.New(op, errdefs.KindRemoteResolutionFailed, "no download link for runtime %d", major)
	}
	return assets[0].Binary.Package.Link, assets[0].Binary.Package.Size, nil
}

// Install provisions major and returns the installed binary. An existing
// bundled install of that major is returned as is.
func (p *Provisioner) Install(ctx context.Context, major int, report progress.Func) (Installation, error) {
	const op = "jvm.Install"
	if !Supported(major) {
		return Installation{}, errdefs.New(op, errdefs.KindInvalidOperation, "runtime %d cannot be provisioned", major)
	}
	bundled := BundledStrategy{Dir: p.Dir}
	home := bundled.HomeFor(major)
	if inst, ok := bundled.Locate(ctx, major); ok && inst.Major == major {
		report.Report(fmt.Sprintf("Runtime %d already installed", major), 100)
		return inst, nil
	}

	report.Report(fmt.Sprintf("Resolving runtime %d...", major), bandResolve.Lo)
	link, size, err := p.ResolveLink(ctx, major)
	if err != nil {
		return Installation{}, err
	}
	report.Report(fmt.Sprintf("Downloading runtime %d...", major), bandDownload.Lo)

	if err := os.MkdirAll(p.Dir, 0o750); err != nil {
		return Installation{}, err
	}
	archive := filepath.Join(p.Dir, "runtime-"+strconv.Itoa(major)+"-installer"+archiveExt(link))
	defer func() { _ = os.Remove(archive) }()

	start := time.Now()
	res, err := download.ToFile(ctx, p.Client, link, archive, size, func(done, total int64) {
		report.Report(fmt.Sprintf("Downloading runtime %d... %d MB", major, done>>20), bandDownload.Scale(done, total))
	})
	metrics.ObserveDownload("runtime", res.Bytes, err)
	if err != nil {
		return Installation{}, errdefs.Wrap(op, errdefs.KindTransferFailed, err, "download runtime %d", major)
	}
	p.logger().Info("runtime downloaded", "major", major, "bytes", res.Bytes, "took", time.Since(start))

	report.Report(fmt.Sprintf("Extracting runtime %d...", major), bandDownload.Hi)
	staging := home + ".staging"
	_ = os.RemoveAll(staging)
	defer func() { _ = os.RemoveAll(staging) }()
	if err := Extract(archive, staging); err != nil {
		return Installation{}, errdefs.Wrap(op, errdefs.KindTransferFailed, err, "extract runtime %d", major)
	}
	jhome, ok := findJavaHome(staging)
	if !ok {
		return Installation{}, errdefs.New(op, errdefs.KindNotFound, "runtime %d archive has no bin/%s", major, JavaExe())
	}
	_ = os.RemoveAll(home)
	if err := os.Rename(jhome, home); err != nil {
		return Installation{}, fmt.Errorf("%s: install runtime %d: %w", op, major, err)
	}
	inst := Installation{Major: major, Path: filepath.Join(home, "bin", JavaExe()), Bundled: true, Source: bundled.Name()}
	report.Report(fmt.Sprintf("Runtime %d installed", major), 100)
	if p.OnInstalled != nil {
		p.OnInstalled(inst, res)
	}
	return inst, nil
}

// findJavaHome finds bin/java directly in dir or one level below it. macOS
// bundles nest the home under Contents/Home.
func findJavaHome(dir string) (string, bool) {
	if isFile(filepath.Join(dir, "bin", JavaExe())) {
		return dir, true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		for _, cand := range []string{sub, filepath.Join(sub, "Contents", "Home")} {
			if isFile(filepath.Join(cand, "bin", JavaExe())) {
				return cand, true
			}
		}
	}
	return "", false
}

func archiveExt(link string) string {
	l := strings.ToLower(link)
	if strings.HasSuffix(l, ".tar.gz") || strings.HasSuffix(l, ".tgz") {
		return ".tar.gz"
	}
	return ".zip"
}

func (p *Provisioner) osName() string {
	if p.OS != "" {
		return p.OS
	}
	switch goruntime.GOOS {
	case "darwin":
		return "mac"
	default:
		return goruntime.GOOS
	}
}

func (p *Provisioner) archName() string {
	if p.Arch != "" {
		return p.Arch
	}
	switch goruntime.GOARCH {
	case "arm64":
		return "aarch64"
	case "386":
		return "x32"
	default:
		return "x64"
	}
}
