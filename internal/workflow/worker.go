package workflow

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hpungsan/trove/internal/db"
	"github.com/hpungsan/trove/internal/logger"
)

// Runner executes one workflow run.
type Runner interface {
	Run(ctx context.Context, ev Event) (*Outcome, error)
}

// WorkerConfig configures a Worker.
type WorkerConfig struct {
	DB          *sql.DB
	Runner      Runner
	Concurrency int
	// PollInterval is how long the worker sleeps when nothing is pending
	PollInterval time.Duration
	// StaleAfter returns processing items older than this to pending at start
	StaleAfter time.Duration
	Logger     logger.Logger
}

// Worker claims pending items and runs their workflows. Different items run
// concurrently; each item's steps stay sequential inside its run.
type Worker struct {
	db           *sql.DB
	runner       Runner
	concurrency  int
	pollInterval time.Duration
	staleAfter   time.Duration
	log          logger.Logger
}

// NewWorker creates a Worker.
func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Worker{
		db:           cfg.DB,
		runner:       cfg.Runner,
		concurrency:  cfg.Concurrency,
		pollInterval: cfg.PollInterval,
		staleAfter:   cfg.StaleAfter,
		log:          cfg.Logger,
	}
}

// Run processes pending items until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	n, err := db.ResetStaleProcessing(ctx, w.db, time.Now().Add(-w.staleAfter))
	if err != nil {
		return err
	}
	if n > 0 {
		w.log.Info("requeued stale items", logger.Int64("count", n))
	}

	for {
		processed, err := w.Drain(ctx)
		if err != nil && ctx.Err() == nil {
			w.log.Error("worker batch failed", logger.Error(err))
		}
		if ctx.Err() != nil {
			return nil
		}
		if processed > 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.pollInterval):
		}
	}
}

// Drain claims one batch of pending items and waits for their runs.
// It returns how many items were claimed.
func (w *Worker) Drain(ctx context.Context) (int, error) {
	claimed, err := db.ClaimPending(ctx, w.db, w.concurrency*2)
	if err != nil {
		return 0, err
	}

	var g errgroup.Group
	g.SetLimit(w.concurrency)
	for i := range claimed {
		ev := EventFor(&claimed[i])
		g.Go(func() error {
			outcome, err := w.runner.Run(ctx, ev)
			if err != nil {
				w.log.Warn("workflow interrupted", logger.String("item_id", ev.ItemID), logger.Error(err))
				return nil
			}
			w.log.Debug("workflow finished",
				logger.String("item_id", ev.ItemID),
				logger.String("status", outcome.Status),
				logger.Int("attempts", outcome.Attempts),
			)
			return nil
		})
	}
	return len(claimed), g.Wait()
}
