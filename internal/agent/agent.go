// Package agent implements the lifecycle state machine shared by every
// long-running worker and the registry that starts, stops and inspects them.
package agent

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("agent already running")
	ErrStopPending    = errors.New("agent stop still pending")
	ErrInitialize     = errors.New("agent initialization failed")
	ErrNotFound       = errors.New("agent not found")
	ErrNoReceiver     = errors.New("agent does not accept messages")
)

type State int

const (
	StateInitialized State = iota
	StateStarting
	StateRunning
	StateStopping
	StateStopped
	StateFailed
)

var stateNames = [...]string{"initialized", "starting", "running", "stopping", "stopped", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(b)))
	for i, n := range stateNames {
		if n == name {
			*s = State(i)
			return nil
		}
	}
	return errors.New("unknown agent state: " + name)
}

// StateNames lists every state label, used to reset the state gauge.
func StateNames() []string {
	return append([]string(nil), stateNames[:]...)
}

// Health is the snapshot returned by HealthCheck.
type Health struct {
	Name       string         `json:"name"`
	State      State          `json:"state"`
	Running    bool           `json:"is_running"`
	LastUpdate time.Time      `json:"last_update"`
	Details    map[string]any `json:"details,omitempty"`
}

// Agent is a named unit with an explicit lifecycle and at most one
// background task.
type Agent interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	HealthCheck(ctx context.Context) (Health, error)
}

// Worker is the capability set a concrete agent provides. Initialize runs
// synchronously inside Start; Run is the single background task and must
// return once ctx is cancelled.
type Worker interface {
	Initialize(ctx context.Context) error
	Run(ctx context.Context) error
}

// Shutdowner releases worker resources after the background task exits.
type Shutdowner interface {
	Shutdown(ctx context.Context) error
}

// Prober contributes worker specific fields to HealthCheck.
type Prober interface {
	Details(ctx context.Context) (map[string]any, error)
}

// Message is a point-to-point note between agents.
type Message struct {
	From    string         `json:"from"`
	To      string         `json:"to"`
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload,omitempty"`
	SentAt  time.Time      `json:"sent_at"`
}

// Receiver is implemented by workers that accept messages.
type Receiver interface {
	Receive(ctx context.Context, msg Message) error
}
