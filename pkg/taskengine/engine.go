package taskengine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/metrics"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// maxBackoff caps the retry delay regardless of attempt count.
const maxBackoff = 5 * time.Minute

// Engine runs the dispatcher and the worker pool.
type Engine struct {
	cfg      config.TaskEngineConfig
	store    storage.Store
	registry *Registry
	logger   zerolog.Logger

	tasks chan *types.Task
	wake  chan struct{}
}

// New returns an engine executing tasks from store with the handlers in
// registry.
func New(cfg config.TaskEngineConfig, store storage.Store, registry *Registry) *Engine {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollIntervalSeconds <= 0 {
		cfg.PollIntervalSeconds = 2
	}
	return &Engine{
		cfg:      cfg,
		store:    store,
		registry: registry,
		logger:   log.WithComponent("taskengine"),
		tasks:    make(chan *types.Task),
		wake:     make(chan struct{}, 1),
	}
}

// Wake nudges the dispatcher ahead of its next tick. Task producers call it
// after inserting so fresh work does not wait out the poll interval.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run starts the workers and drives the dispatch loop until ctx ends.
// In-flight tasks keep their running status on shutdown; the boot-time
// recovery sweep requeues them.
func (e *Engine) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i := 0; i < e.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(ctx, id)
		}(i)
	}
	e.logger.Info().Int("workers", e.cfg.Workers).Msg("Task engine started")

	ticker := time.NewTicker(time.Duration(e.cfg.PollIntervalSeconds) * time.Second)
	defer ticker.Stop()

	for {
		e.housekeep(ctx)
		e.dispatch(ctx)

		select {
		case <-ctx.Done():
			wg.Wait()
			e.logger.Info().Msg("Task engine stopped")
			return ctx.Err()
		case <-ticker.C:
		case <-e.wake:
		}
	}
}

// housekeep propagates terminal outcomes between dispatch passes: dependents
// of failed or cancelled tasks are cancelled transitively, and aggregate
// parents whose children have all settled get their terminal status.
func (e *Engine) housekeep(ctx context.Context) {
	if n, err := e.store.CascadeCancellations(ctx); err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("Failed to cascade cancellations")
		}
	} else if n > 0 {
		e.logger.Info().Int64("tasks", n).Msg("Cancelled dependents of failed tasks")
	}

	if n, err := e.store.FinalizeAggregateParents(ctx); err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("Failed to finalize parent tasks")
		}
	} else if n > 0 {
		e.logger.Info().Int64("tasks", n).Msg("Settled aggregate parent tasks")
	}
}

// dispatch claims runnable tasks and hands them to workers until the queue
// is drained or every worker is busy.
func (e *Engine) dispatch(ctx context.Context) {
	for {
		task, err := e.store.ClaimNextTask(ctx)
		if err != nil {
			if ctx.Err() == nil {
				e.logger.Error().Err(err).Msg("Failed to claim next task")
			}
			return
		}
		if task == nil {
			return
		}

		select {
		case e.tasks <- task:
		case <-ctx.Done():
			// Claimed but never executed; the row stays running and the
			// boot-time recovery sweep requeues it.
			return
		}
	}
}

func (e *Engine) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-e.tasks:
			e.execute(ctx, task)
		}
	}
}

// execute runs one claimed task to an outcome.
func (e *Engine) execute(ctx context.Context, task *types.Task) {
	logger := e.logger.With().
		Str("task_id", task.ID).
		Str("zone", task.ZoneName).
		Str("operation", string(task.Operation)).
		Logger()

	handler, ok := e.registry.Lookup(task.Operation)
	if !ok {
		logger.Error().Msg("No handler registered for operation")
		e.finish(ctx, logger, task, "failed",
			e.store.MarkTaskFailed(ctx, task.ID, "no handler registered for operation "+string(task.Operation)))
		return
	}

	logger.Info().Int("attempt", task.Attempts+1).Msg("Executing task")
	timer := metrics.NewTimer()
	err := handler.Execute(ctx, task)
	timer.ObserveDurationVec(metrics.TaskDuration, string(task.Operation))

	switch {
	case err == nil:
		e.finish(ctx, logger, task, "completed", e.store.MarkTaskCompleted(ctx, task.ID))

	case ctx.Err() != nil:
		// Shutting down. Leave the row running so boot recovery requeues it
		// instead of recording a spurious failure.
		logger.Warn().Msg("Task interrupted by shutdown")

	case IsRetryable(err) && task.Attempts+1 < e.cfg.MaxAttempts:
		e.retry(ctx, logger, task, err)

	default:
		logger.Error().Err(err).Msg("Task failed")
		e.finish(ctx, logger, task, "failed", e.store.MarkTaskFailed(ctx, task.ID, err.Error()))
	}
}

// retry waits out the backoff, then moves the task back to pending. The row
// stays running through the wait so mutex-set duplicates cannot start.
func (e *Engine) retry(ctx context.Context, logger zerolog.Logger, task *types.Task, cause error) {
	backoff := e.backoff(task.Attempts)
	logger.Warn().Err(cause).
		Int("attempt", task.Attempts+1).
		Dur("backoff", backoff).
		Msg("Task failed, will retry")

	if backoff > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}

	if err := e.store.RequeueTask(ctx, task.ID, cause.Error()); err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Msg("Failed to requeue task")
		}
		return
	}
	metrics.TaskRetries.Inc()
	metrics.TasksExecuted.WithLabelValues(string(task.Operation), "retried").Inc()
	e.Wake()
}

// finish records a terminal outcome and its metric.
func (e *Engine) finish(ctx context.Context, logger zerolog.Logger, task *types.Task, outcome string, err error) {
	if err != nil {
		if ctx.Err() == nil {
			logger.Error().Err(err).Str("outcome", outcome).Msg("Failed to record task outcome")
		}
		return
	}
	metrics.TasksExecuted.WithLabelValues(string(task.Operation), outcome).Inc()
	if outcome == "completed" {
		logger.Info().Msg("Task completed")
	}
	// Terminal outcomes may unblock dependents or settle a parent.
	e.Wake()
}

// backoff returns the delay before attempt attempts+2, doubling from the
// configured base.
func (e *Engine) backoff(attempts int) time.Duration {
	base := time.Duration(e.cfg.RetryBackoffSeconds) * time.Second
	if base <= 0 {
		return 0
	}
	d := base
	for i := 0; i < attempts; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
