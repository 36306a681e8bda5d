// Package compat decides whether a profile can run on the runtimes at hand
// and explains version changes to the operator.
package compat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/loykin/craftd/internal/artifact"
	"github.com/loykin/craftd/internal/errdefs"
	"github.com/loykin/craftd/internal/jvm"
	"github.com/loykin/craftd/internal/profile"
	"github.com/loykin/craftd/internal/progress"
	"github.com/loykin/craftd/internal/version"
)

// Locator finds installed runtimes.
type Locator interface {
	Locate(ctx context.Context, requiredMajor int) (jvm.Installation, error)
}

// Installer provisions a runtime major.
type Installer interface {
	Install(ctx context.Context, major int, report progress.Func) (jvm.Installation, error)
}

// Detector infers an artifact's version.
type Detector interface {
	Detect(ctx context.Context, jarPath string) (string, artifact.Source)
}

// Report is the pre-launch diagnosis of one profile.
type Report struct {
	DeclaredVersion string          `json:"declared_version"`
	DetectedVersion string          `json:"detected_version,omitempty"`
	DetectedBy      artifact.Source `json:"detected_by"`
	// Version is what the requirement was computed from; empty when unknown.
	Version         string            `json:"version"`
	RequiredMajor   int               `json:"required_major"`
	Runtime         *jvm.Installation `json:"runtime,omitempty"`
	Compatible      bool              `json:"compatible"`
	ArtifactPresent bool              `json:"artifact_present"`
	Warnings        []string          `json:"warnings,omitempty"`
}

// Resolver composes version math, runtime location and artifact detection.
type Resolver struct {
	Locator  Locator
	Detector Detector
	// Installer, with AutoInstall set, lets RuntimeFor install a missing
	// runtime instead of failing.
	Installer   Installer
	AutoInstall bool
	OnProgress  progress.Func
	Logger      *slog.Logger
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// effectiveVersion prefers a parseable declared version and falls back to
// detection on the artifact. With crossCheck the artifact is inspected even
// when the declared version parses, so the caller can compare the two.
func (r *Resolver) effectiveVersion(ctx context.Context, p profile.Profile, crossCheck bool) (v string, detected string, src artifact.Source) {
	src = artifact.SourceNone
	_, declared := version.Parse(p.Version)
	if r.Detector != nil && (crossCheck || !declared) && isFile(p.ServerJarPath) {
		detected, src = r.Detector.Detect(ctx, p.ServerJarPath)
	}
	if declared {
		return p.Version, detected, src
	}
	return detected, detected, src
}

// Check diagnoses p without side effects. It never fails: problems are
// reported as warnings and Compatible=false.
func (r *Resolver) Check(ctx context.Context, p profile.Profile) Report {
	rep := Report{DeclaredVersion: p.Version, ArtifactPresent: isFile(p.ServerJarPath)}
	rep.Version, rep.DetectedVersion, rep.DetectedBy = r.effectiveVersion(ctx, p, true)
	rep.RequiredMajor = version.RequiredRuntimeMajor(rep.Version)

	if !rep.ArtifactPresent {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("server artifact %s is missing", p.ServerJarPath))
	}
	switch {
	case rep.Version == "":
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("server version unknown; assuming Java %d is required", rep.RequiredMajor))
	case rep.DetectedVersion != "" && rep.DetectedVersion != rep.Version:
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("profile declares %s but the artifact looks like %s", rep.Version, rep.DetectedVersion))
	}

	if r.Locator == nil {
		rep.Warnings = append(rep.Warnings, "no runtime locator configured")
		return rep
	}
	if inst, err := r.Locator.Locate(ctx, rep.RequiredMajor); err == nil {
		rep.Runtime = &inst
		rep.Compatible = version.IsCompatible(inst.Major, rep.RequiredMajor)
		return rep
	}
	if best, err := r.Locator.Locate(ctx, 0); err == nil {
		rep.Runtime = &best
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("Java %d required, but only Java %d was found", rep.RequiredMajor, best.Major))
	} else {
		rep.Warnings = append(rep.Warnings, fmt.Sprintf("Java %d required, but no Java runtime was found", rep.RequiredMajor))
	}
	return rep
}

// RuntimeFor picks the runtime that will launch p. A profile of unknown
// version runs on the newest runtime available.
func (r *Resolver) RuntimeFor(ctx context.Context, p profile.Profile) (jvm.Installation, error) {
	const op = "compat.RuntimeFor"
	if r.Locator == nil {
		return jvm.Installation{}, errdefs.From(op, errdefs.ErrRuntimeNotFound, errors.New("no runtime locator configured"))
	}
	v, _, _ := r.effectiveVersion(ctx, p, false)
	if v == "" {
		inst, err := r.Locator.Locate(ctx, 0)
		if err == nil {
			r.logger().Warn("server version unknown, using newest runtime", "profile", p.Name, "java", inst.Major)
		}
		return inst, err
	}
	required := version.RequiredRuntimeMajor(v)
	inst, err := r.Locator.Locate(ctx, required)
	if err == nil {
		return inst, nil
	}
	if !r.AutoInstall || r.Installer == nil || !jvm.Supported(required) {
		return jvm.Installation{}, errdefs.From(op, errdefs.ErrRuntimeNotFound,
			fmt.Errorf("version %s needs Java %d or newer: %w", v, required, err))
	}
	r.logger().Info("installing missing runtime", "profile", p.Name, "version", v, "java", required)
	inst, err = r.Installer.Install(ctx, required, r.OnProgress)
	if err != nil {
		return jvm.Installation{}, errdefs.From(op, errdefs.ErrRuntimeNotFound, fmt.Errorf("install Java %d: %w", required, err))
	}
	return inst, nil
}

func isFile(p string) bool {
	if p == "" {
		return false
	}
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
