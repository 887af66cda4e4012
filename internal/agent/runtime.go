package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roboai/internal/audit"
	"roboai/internal/logger"
	"roboai/internal/metrics"
)

// Runtime drives a Worker through the lifecycle. Start and Stop are
// serialised by one mutex so concurrent callers observe each other's
// transitions; state reads go through a separate lock and never wait on a
// transition in progress.
type Runtime struct {
	name   string
	worker Worker
	log    *slog.Logger
	sink   audit.Sink
	nowFn  func() time.Time

	lifecycle sync.Mutex

	mu            sync.RWMutex
	state         State
	lastUpdate    time.Time
	cancel        context.CancelFunc
	done          chan struct{}
	stopRequested bool
	shutdownDone  bool
}

type Option func(*Runtime)

func WithLogger(l *slog.Logger) Option {
	return func(r *Runtime) {
		if l != nil {
			r.log = l
		}
	}
}

func WithAuditSink(s audit.Sink) Option {
	return func(r *Runtime) { r.sink = s }
}

func WithClock(fn func() time.Time) Option {
	return func(r *Runtime) {
		if fn != nil {
			r.nowFn = fn
		}
	}
}

func New(name string, w Worker, opts ...Option) *Runtime {
	r := &Runtime{
		name:   name,
		worker: w,
		log:    logger.L(),
		nowFn:  time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	r.log = r.log.With("agent", name)
	r.lastUpdate = r.nowFn()
	metrics.SetAgentState(name, StateInitialized.String(), StateNames())
	return r
}

func (r *Runtime) Name() string { return r.name }

// Worker exposes the wrapped worker for typed accessors.
func (r *Runtime) Worker() Worker { return r.worker }

func (r *Runtime) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// Start initializes the worker and spawns its background task. It returns
// ErrAlreadyRunning without side effects when a task is already live.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	switch st := r.State(); st {
	case StateStarting, StateRunning:
		r.log.Info("start ignored, agent already running", "state", st.String())
		return ErrAlreadyRunning
	case StateStopping:
		r.log.Warn("start refused, previous task has not terminated")
		return ErrStopPending
	}

	r.setState(ctx, StateStarting, "")
	if err := r.initialize(ctx); err != nil {
		r.setState(ctx, StateFailed, err.Error())
		return fmt.Errorf("%w: %s: %v", ErrInitialize, r.name, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	r.mu.Lock()
	if r.cancel != nil {
		// leftover from a task that failed on its own
		r.cancel()
	}
	r.cancel = cancel
	r.done = done
	r.stopRequested = false
	r.shutdownDone = false
	r.mu.Unlock()

	r.setState(ctx, StateRunning, "")
	go r.loop(runCtx, done)
	return nil
}

// Stop cancels the background task and waits for it to exit before
// reporting Stopped. When ctx expires first the agent stays in Stopping and
// Stop may be called again.
func (r *Runtime) Stop(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	done, cancel := r.done, r.cancel
	if done == nil {
		r.mu.Unlock()
		return nil
	}
	r.stopRequested = true
	r.mu.Unlock()

	if r.State() != StateStopping {
		r.setState(ctx, StateStopping, "")
	}
	cancel()

	select {
	case <-done:
	case <-ctx.Done():
		r.log.Warn("stop timed out waiting for task", "error", ctx.Err())
		return fmt.Errorf("stop %s: %w", r.name, ctx.Err())
	}

	r.shutdown(ctx)

	r.mu.Lock()
	r.done = nil
	r.cancel = nil
	r.mu.Unlock()
	r.setState(ctx, StateStopped, "")
	return nil
}

func (r *Runtime) HealthCheck(ctx context.Context) (Health, error) {
	r.mu.RLock()
	h := Health{
		Name:       r.name,
		State:      r.state,
		Running:    r.state == StateRunning,
		LastUpdate: r.lastUpdate,
	}
	r.mu.RUnlock()

	p, ok := r.worker.(Prober)
	if !ok {
		return h, nil
	}
	details, err := r.probe(ctx, p)
	if err != nil {
		return h, err
	}
	h.Details = details
	return h, nil
}

// Deliver hands msg to the worker when it implements Receiver.
func (r *Runtime) Deliver(ctx context.Context, msg Message) error {
	recv, ok := r.worker.(Receiver)
	if !ok {
		return ErrNoReceiver
	}
	return recv.Receive(ctx, msg)
}

func (r *Runtime) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	err := r.run(ctx)

	r.mu.RLock()
	requested := r.stopRequested
	r.mu.RUnlock()
	if requested {
		if err != nil && ctx.Err() == nil {
			r.log.Warn("run returned error during stop", "error", err)
		}
		return
	}
	reason := "run loop exited"
	if err != nil {
		reason = err.Error()
	}
	r.log.Error("background task exited without stop request", "reason", reason)
	r.setState(context.Background(), StateFailed, reason)
}

func (r *Runtime) run(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("run panic: %v", rec)
		}
	}()
	return r.worker.Run(ctx)
}

func (r *Runtime) initialize(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("initialize panic: %v", rec)
		}
	}()
	return r.worker.Initialize(ctx)
}

func (r *Runtime) shutdown(ctx context.Context) {
	sh, ok := r.worker.(Shutdowner)
	if !ok {
		return
	}
	r.mu.Lock()
	if r.shutdownDone {
		r.mu.Unlock()
		return
	}
	r.shutdownDone = true
	r.mu.Unlock()

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.log.Error("shutdown panic", "panic", rec)
			}
		}()
		if err := sh.Shutdown(ctx); err != nil {
			r.log.Warn("shutdown hook failed", "error", err)
		}
	}()
}

func (r *Runtime) probe(ctx context.Context, p Prober) (details map[string]any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("details panic: %v", rec)
		}
	}()
	return p.Details(ctx)
}

func (r *Runtime) setState(ctx context.Context, to State, reason string) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.lastUpdate = r.nowFn()
	r.mu.Unlock()

	attrs := []any{"from", from.String(), "to", to.String()}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if to == StateFailed {
		r.log.Error("agent state change", attrs...)
	} else {
		r.log.Info("agent state change", attrs...)
	}
	metrics.SetAgentState(r.name, to.String(), StateNames())
	audit.Emit(ctx, r.sink, r.log, audit.Event{
		Kind:   audit.KindLifecycle,
		Agent:  r.name,
		Action: to.String(),
		Reason: reason,
		Detail: map[string]any{"from": from.String()},
	})
}
