package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"roboai/internal/agent"
	"roboai/internal/config"
	"roboai/internal/config/loader"
	"roboai/internal/execution"
	livehttp "roboai/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

const stopTimeout = 30 * time.Second

// App owns the agent registry and the resources the agents share.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *agent.Registry
	core     *execution.Core
	flags    *loader.Watcher
	http     *livehttp.Server
	closers  []io.Closer
	Summary  *StartupSummary
}

// NewApp builds the application without starting anything. configPath may
// be empty, in which case runtime flags only change through the HTTP API.
func NewApp(cfg *config.Config, configPath string) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	return buildAppWithWire(context.Background(), cfg, configPath)
}

// Run starts every agent and the HTTP server, blocks until ctx is done and
// then stops the agents in reverse order and releases the stores. Agents
// that fail to start are reported but do not abort the process.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	if a.Summary != nil {
		a.Summary.Print()
	}
	if err := a.registry.StartAll(ctx); err != nil {
		a.log.Error("some agents failed to start", "error", err)
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(gctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := group.Wait()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stopTimeout)
	defer cancel()
	if err := a.registry.StopAll(stopCtx); err != nil {
		a.log.Error("some agents failed to stop", "error", err)
	}
	pnl := a.core.PnL()
	a.log.Info("shutdown complete", "realized", pnl.Realized, "open_positions", pnl.Open)
	return runErr
}

// Close releases the stores. It is safe to call more than once.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	closers := a.closers
	a.closers = nil
	return closeAll(closers, a.log)
}

func (a *App) Registry() *agent.Registry { return a.registry }

func (a *App) Core() *execution.Core { return a.core }

// Flags exposes the runtime toggles, mainly for tests.
func (a *App) Flags() *loader.Watcher { return a.flags }
