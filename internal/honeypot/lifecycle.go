package honeypot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ashureev/honeypot/internal/observability"
	"github.com/ashureev/honeypot/internal/store"
)

const idleBatchSize = 100

// LifecycleOptions configures the background sweep.
type LifecycleOptions struct {
	// Schedule is a cron spec or descriptor such as "@every 1m".
	Schedule string
	// IdleAfter finalizes scam sessions inactive for this long.
	IdleAfter time.Duration
	// TTL evicts any session inactive for this long.
	TTL time.Duration
}

// SweepResult reports what one sweep did.
type SweepResult struct {
	Finalized int   `json:"finalized"`
	Evicted   int64 `json:"evicted"`
}

// LifecycleWorker finalizes idle scam sessions and evicts expired ones on a
// cron schedule.
type LifecycleWorker struct {
	orch   *Orchestrator
	store  *store.Store
	opts   LifecycleOptions
	logger *slog.Logger

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewLifecycleWorker creates a worker. It does nothing until Start.
func NewLifecycleWorker(orch *Orchestrator, st *store.Store, opts LifecycleOptions, logger *slog.Logger) *LifecycleWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Schedule == "" {
		opts.Schedule = "@every 1m"
	}
	return &LifecycleWorker{orch: orch, store: st, opts: opts, logger: logger}
}

// Start schedules the sweep. Overlapping runs are skipped.
func (w *LifecycleWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cron != nil {
		return errors.New("lifecycle worker already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(w.opts.Schedule, func() { w.Sweep(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("invalid lifecycle schedule %q: %w", w.opts.Schedule, err)
	}
	c.Start()
	w.cron, w.cancel = c, cancel

	w.logger.Info("Lifecycle worker started",
		"schedule", w.opts.Schedule,
		"idle_after", w.opts.IdleAfter,
		"ttl", w.opts.TTL)
	return nil
}

// Stop cancels a running sweep and waits for it to return.
func (w *LifecycleWorker) Stop() {
	w.mu.Lock()
	c, cancel := w.cron, w.cancel
	w.cron, w.cancel = nil, nil
	w.mu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	w.logger.Info("Lifecycle worker stopped")
}

// Sweep runs one pass: idle finalization first, then eviction, so sessions
// are reported before they can be dropped.
func (w *LifecycleWorker) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := w.orch.opts.Now()

	if w.opts.IdleAfter > 0 {
		res.Finalized = w.finalizeIdle(ctx, now.Add(-w.opts.IdleAfter))
	}

	if w.opts.TTL > 0 {
		n, err := w.store.EvictInactive(ctx, now.Add(-w.opts.TTL))
		if err != nil {
			observability.RecordStoreFailure("evict")
			w.logger.Error("Lifecycle worker failed to evict sessions", "error", err)
		} else if n > 0 {
			observability.RecordEvicted(n)
			w.logger.Info("Lifecycle worker evicted sessions", "count", n)
		}
		res.Evicted = n
	}
	return res
}

func (w *LifecycleWorker) finalizeIdle(ctx context.Context, before time.Time) int {
	ids, err := w.store.IdleSessions(ctx, before, idleBatchSize)
	if err != nil {
		observability.RecordStoreFailure("list_idle")
		w.logger.Error("Lifecycle worker failed to list idle sessions", "error", err)
		return 0
	}
	if len(ids) == 0 {
		return 0
	}

	w.logger.Info("Lifecycle worker found idle sessions", "count", len(ids))
	done := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		if _, err := w.orch.Finalize(ctx, id); err != nil {
			w.logger.Warn("Lifecycle worker failed to finalize session",
				"session_id", id,
				"error", err)
			continue
		}
		done++
	}
	return done
}
