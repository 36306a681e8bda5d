package errdefs

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("start: %w", New("supervisor.Start", KindAlreadyRunning, "profile %q", "default"))
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning match: %v", err)
	}
	if errors.Is(err, ErrNotRunning) {
		t.Fatalf("unexpected ErrNotRunning match")
	}
}

func TestSentinelMessageDistinguishes(t *testing.T) {
	err := From("supervisor.Start", ErrRuntimeNotFound, errors.New("no java"))
	if !errors.Is(err, ErrRuntimeNotFound) {
		t.Fatalf("expected runtime not found")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected generic not found")
	}
	if errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("artifact missing must not match runtime not found")
	}
	if got := err.Error(); got != "supervisor.Start: runtime not found: no java" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAdvisory(t *testing.T) {
	if IsAdvisory(errors.New("plain")) {
		t.Fatalf("plain errors are not advisory")
	}
	err := fmt.Errorf("wrapped: %w", AsAdvisory("cache.Save", KindLocked, errors.New("busy")))
	if !IsAdvisory(err) {
		t.Fatalf("expected advisory")
	}
	if KindOf(err) != KindLocked {
		t.Fatalf("kind = %v", KindOf(err))
	}
	if AsAdvisory("x", KindLocked, nil) != nil {
		t.Fatalf("nil in, nil out")
	}
}

func TestSentinelErrorString(t *testing.T) {
	if ErrNotRunning.Error() != "not running" {
		t.Fatalf("got %q", ErrNotRunning.Error())
	}
}
