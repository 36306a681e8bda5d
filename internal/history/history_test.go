package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memSink) Send(ctx context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, e)
	return nil
}

func TestRecorderStampsTime(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, nil)
	r.Record(context.Background(), Event{Type: EventStart, Profile: "Default Server", PID: 42})

	if len(sink.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(sink.events))
	}
	e := sink.events[0]
	if e.Type != EventStart || e.PID != 42 {
		t.Errorf("unexpected event %+v", e)
	}
	if e.OccurredAt.IsZero() {
		t.Error("OccurredAt was not set")
	}
}

func TestRecorderKeepsExplicitTime(t *testing.T) {
	sink := &memSink{}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	NewRecorder(sink, nil).Record(context.Background(), Event{Type: EventFetch, OccurredAt: at})
	if !sink.events[0].OccurredAt.Equal(at) {
		t.Errorf("OccurredAt = %v, want %v", sink.events[0].OccurredAt, at)
	}
}

func TestRecorderSurvivesSinkFailureAndCancel(t *testing.T) {
	NewRecorder(&memSink{err: errors.New("boom")}, nil).Record(context.Background(), Event{Type: EventStop})

	sink := &memSink{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	NewRecorder(sink, nil).Record(ctx, Event{Type: EventExit})
	if len(sink.events) != 1 {
		t.Errorf("event dropped after caller cancel")
	}
}

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.Record(context.Background(), Event{Type: EventStart})
	(&Recorder{}).Record(context.Background(), Event{Type: EventStart})
}
