// Package audit defines the append-only event trail written by agents, the
// reconnection supervisor and the execution core.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Kind string

const (
	KindLifecycle Kind = "lifecycle"
	KindRejection Kind = "risk_rejection"
	KindReconnect Kind = "reconnect"
	KindOrder     Kind = "order"
)

type Event struct {
	Kind   Kind
	Agent  string
	Symbol string
	Action string
	Reason string
	Detail map[string]any
	At     time.Time
}

// Sink persists events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, ev Event) error
}

// Emit writes ev to sink when one is configured. Failures are logged and
// never returned, the trail must not block the caller's operation.
func Emit(ctx context.Context, sink Sink, log *slog.Logger, ev Event) {
	if sink == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sink.Record(ctx, ev); err != nil && log != nil {
		log.Warn("audit record failed", "kind", ev.Kind, "action", ev.Action, "error", err)
	}
}

// Memory keeps events in memory.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Filter returns the events of the given kind in arrival order.
func (m *Memory) Filter(kind Kind) []Event {
	var out []Event
	for _, ev := range m.Events() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}
