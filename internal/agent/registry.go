package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roboai/internal/logger"
)

// Status is one entry of Registry.AllStatus. Error is set when the agent's
// health check failed; the embedded health then holds whatever was known.
type Status struct {
	Health
	Error string `json:"error,omitempty"`
}

// Registry maps names to agents. It owns no agent state and fans out
// lifecycle calls best-effort.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]Agent
	order  []string
	log    *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		agents: make(map[string]Agent),
		log:    logger.Component(log, "registry"),
	}
}

// Register adds a. A duplicate name replaces the previous agent with a
// warning and keeps its original listing position.
func (r *Registry) Register(a Agent) {
	if a == nil {
		return
	}
	name := a.Name()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[name]; exists {
		r.log.Warn("agent already registered, overwriting", "agent", name)
	} else {
		r.order = append(r.order, name)
	}
	r.agents[name] = a
	r.log.Info("agent registered", "agent", name)
}

func (r *Registry) Get(name string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[name]
	return a, ok
}

// List returns registered names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// StartAll starts every agent in registration order. Failures are logged and
// joined into the returned error; they never stop the remaining starts.
func (r *Registry) StartAll(ctx context.Context) error {
	var errs []error
	for _, a := range r.snapshot(false) {
		if err := r.call(ctx, a, "start", a.Start); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops agents in reverse registration order.
func (r *Registry) StopAll(ctx context.Context) error {
	var errs []error
	for _, a := range r.snapshot(true) {
		if err := r.call(ctx, a, "stop", a.Stop); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) StartOne(ctx context.Context, name string) bool {
	a, ok := r.Get(name)
	if !ok {
		r.log.Warn("start requested for unknown agent", "agent", name)
		return false
	}
	return r.call(ctx, a, "start", a.Start) == nil
}

func (r *Registry) StopOne(ctx context.Context, name string) bool {
	a, ok := r.Get(name)
	if !ok {
		r.log.Warn("stop requested for unknown agent", "agent", name)
		return false
	}
	return r.call(ctx, a, "stop", a.Stop) == nil
}

// AllStatus collects every agent's health. A failing or panicking check is
// recorded in that agent's entry only.
func (r *Registry) AllStatus(ctx context.Context) map[string]Status {
	agents := r.snapshot(false)
	out := make(map[string]Status, len(agents))
	for _, a := range agents {
		out[a.Name()] = r.status(ctx, a)
	}
	return out
}

// Send delivers msg to the named agent. It reports false when the target is
// unknown, does not accept messages or rejects the message.
func (r *Registry) Send(ctx context.Context, from, to string, msg Message) (delivered bool) {
	a, ok := r.Get(to)
	if !ok {
		r.log.Warn("message target not found", "from", from, "to", to)
		return false
	}
	d, ok := a.(interface {
		Deliver(context.Context, Message) error
	})
	if !ok {
		r.log.Warn("message target cannot receive", "from", from, "to", to)
		return false
	}
	msg.From, msg.To = from, to
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("message delivery panic", "from", from, "to", to, "kind", msg.Kind, "panic", rec)
			delivered = false
		}
	}()
	if err := d.Deliver(ctx, msg); err != nil {
		r.log.Warn("message delivery failed", "from", from, "to", to, "kind", msg.Kind, "error", err)
		return false
	}
	return true
}

func (r *Registry) status(ctx context.Context, a Agent) (st Status) {
	name := a.Name()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("health check panic", "agent", name, "panic", rec)
			st = Status{Health: Health{Name: name}, Error: fmt.Sprintf("panic: %v", rec)}
		}
	}()
	h, err := a.HealthCheck(ctx)
	if h.Name == "" {
		h.Name = name
	}
	st = Status{Health: h}
	if err != nil {
		r.log.Warn("health check failed", "agent", name, "error", err)
		st.Error = err.Error()
	}
	return st
}

func (r *Registry) call(ctx context.Context, a Agent, op string, fn func(context.Context) error) (err error) {
	name := a.Name()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%s %s panic: %v", op, name, rec)
			r.log.Error("agent call panic", "agent", name, "op", op, "panic", rec)
		}
	}()
	if err = fn(ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			r.log.Info("agent already running", "agent", name, "op", op)
		} else {
			r.log.Error("agent call failed", "agent", name, "op", op, "error", err)
		}
		return err
	}
	return nil
}

func (r *Registry) snapshot(reverse bool) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.agents[name])
	}
	if reverse {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}
