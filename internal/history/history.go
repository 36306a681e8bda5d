package history

import (
	"context"
	"log/slog"
	"time"
)

// EventType defines the kind of recorded event.
type EventType string

const (
	EventStart          EventType = "start"
	EventStop           EventType = "stop"
	EventKill           EventType = "kill"
	EventExit           EventType = "exit"
	EventFetch          EventType = "fetch"
	EventCacheHit       EventType = "cache_hit"
	EventCacheSave      EventType = "cache_save"
	EventRuntimeInstall EventType = "runtime_install"
)

// Event is one server lifecycle or artifact event exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ProfileID  string    `json:"profile_id,omitempty"`
	Profile    string    `json:"profile,omitempty"`
	Version    string    `json:"version,omitempty"`
	PID        int       `json:"pid,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	// SHA256 of a fetched artifact. Recorded for reference, never verified.
	SHA256 string `json:"sha256,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Recorder forwards events to a sink on a best-effort basis. A nil
// *Recorder or one without a sink drops everything.
type Recorder struct {
	Sink    Sink
	Logger  *slog.Logger
	Timeout time.Duration
}

func NewRecorder(sink Sink, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{Sink: sink, Logger: logger, Timeout: 5 * time.Second}
}

// Record sends e, stamping OccurredAt when unset. Sink failures are logged.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.Sink == nil {
		return
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.WithoutCancel(ctx), r.Timeout)
		defer cancel()
	}
	if err := r.Sink.Send(ctx, e); err != nil && r.Logger != nil {
		r.Logger.Warn("history sink failed", "type", e.Type, "profile", e.Profile, "error", err)
	}
}
