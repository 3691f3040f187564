// Package guardian implements the periodic auto-restart loop: every
// tick it reads the task store and the process registry and restarts
// eligible tasks, subject to manual-stop, max-attempts, and per-task
// backoff.
package guardian

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/taskyard/overseer/internal/registry"
	"github.com/taskyard/overseer/internal/store"
	"github.com/taskyard/overseer/internal/supervisor"
)

// TickInterval is how often the guardian evaluates every task.
const TickInterval = 5 * time.Second

// startupTimeout is the fixed startup window used for guardian-issued
// restarts, matching the window used for user-initiated starts.
const startupTimeout = 2 * time.Second

// Guardian ticks on TickInterval, restarting eligible tasks.
type Guardian struct {
	store      *store.Store
	registry   *registry.Registry
	supervisor *supervisor.Supervisor
	logger     *slog.Logger

	mu         sync.Mutex
	nextAttempt map[string]time.Time
}

// New builds a Guardian.
func New(st *store.Store, reg *registry.Registry, sup *supervisor.Supervisor, logger *slog.Logger) *Guardian {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Guardian{
		store:       st,
		registry:    reg,
		supervisor:  sup,
		logger:      logger,
		nextAttempt: make(map[string]time.Time),
	}
}

// Run blocks ticking every TickInterval until ctx is cancelled.
func (g *Guardian) Run(ctx context.Context) {
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.tick(ctx)
		}
	}
}

// Reset clears any recorded backoff state for id. Called whenever a
// user action (start, stop, restart) touches that task, so a manual
// retry is never held back by a stale backoff deadline.
func (g *Guardian) Reset(id string) {
	g.mu.Lock()
	delete(g.nextAttempt, id)
	g.mu.Unlock()
}

func (g *Guardian) tick(ctx context.Context) {
	now := time.Now()
	for _, t := range g.store.List() {
		if !g.eligible(t, now) {
			continue
		}
		g.attempt(ctx, t)
	}
}

func (g *Guardian) eligible(t store.Task, now time.Time) bool {
	if !t.AutoRestart {
		return false
	}
	if t.ManualStopped {
		return false
	}
	if !t.WasRunningBeforeShutdown {
		return false
	}
	if running, _ := g.registry.IsRunning(t.ID); running {
		return false
	}
	if t.MaxRestarts > 0 && t.RestartCount >= t.MaxRestarts {
		return false
	}

	g.mu.Lock()
	next, scheduled := g.nextAttempt[t.ID]
	g.mu.Unlock()
	if scheduled && now.Before(next) {
		return false
	}
	return true
}

func (g *Guardian) attempt(ctx context.Context, t store.Task) {
	res, err := g.supervisor.Start(ctx, t.ID, t.StartCommand, t.WorkingDirectory, t.EnvironmentVars, int(startupTimeout.Milliseconds()))
	if err != nil {
		g.logger.Error("guardian start failed", "id", t.ID, "error", err)
		return
	}

	if res.OK {
		if err := g.store.MarkGuardianSuccess(t.ID); err != nil {
			g.logger.Error("mark guardian success failed", "id", t.ID, "error", err)
		}
		g.mu.Lock()
		delete(g.nextAttempt, t.ID)
		g.mu.Unlock()
		g.logger.Info("guardian restart succeeded", "id", t.ID, "pid", res.PID)
		return
	}

	if err := g.store.IncrementGuardianFailure(t.ID); err != nil {
		g.logger.Error("increment guardian failure failed", "id", t.ID, "error", err)
	}

	interval := t.RestartIntervalSeconds
	if interval < 1 {
		interval = 1
	}
	g.mu.Lock()
	g.nextAttempt[t.ID] = time.Now().Add(time.Duration(interval) * time.Second)
	g.mu.Unlock()

	g.logger.Warn("guardian restart failed", "id", t.ID, "error", res.Error, "restart_count", t.RestartCount+1)
}
