package collectors

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/metrics"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
)

// Sweeper deletes time-series rows past their retention horizon and,
// when task retention is configured, finished task rows. Sweep failures
// log and retry on the next tick; they never stop collection.
type Sweeper struct {
	store  storage.Store
	cfg    config.RetentionConfig
	logger zerolog.Logger
	now    func() time.Time
}

// NewSweeper builds a Sweeper. Sweeping does not start until Run is called.
func NewSweeper(store storage.Store, cfg config.RetentionConfig) *Sweeper {
	return &Sweeper{
		store:  store,
		cfg:    cfg,
		logger: log.WithComponent("retention"),
		now:    time.Now,
	}
}

func (w *Sweeper) interval() time.Duration {
	if w.cfg.SweepIntervalHours < 1 {
		return 6 * time.Hour
	}
	return time.Duration(w.cfg.SweepIntervalHours) * time.Hour
}

// Run sweeps immediately, then on every tick, until the context ends.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		w.sweep(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// retentionDays maps a time-series table to its configured horizon. Zero or
// negative means keep forever.
func (w *Sweeper) retentionDays(table string) int {
	switch table {
	case "network_usage":
		return w.cfg.NetworkUsageDays
	case "cpu_stats":
		return w.cfg.CPUDays
	case "memory_stats":
		return w.cfg.MemoryDays
	case "disk_io_stats":
		return w.cfg.DiskIODays
	case "pool_io_stats":
		return w.cfg.PoolIODays
	case "arc_stats":
		return w.cfg.ARCDays
	}
	return 0
}

func (w *Sweeper) sweep(ctx context.Context) {
	now := w.now().UTC()
	var pruned int64
	for _, table := range w.store.RetentionTables() {
		days := w.retentionDays(table)
		if days < 1 {
			continue
		}
		n, err := w.store.DeleteMetricRowsBefore(ctx, table, now.AddDate(0, 0, -days))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Str("table", table).Msg("Retention sweep failed for table")
			continue
		}
		if n > 0 {
			metrics.RetentionRowsPruned.Add(float64(n))
			w.logger.Debug().Str("table", table).Int64("rows", n).Msg("Removed expired samples")
		}
		pruned += n
	}

	if w.cfg.TasksDays > 0 {
		n, err := w.store.PruneTasks(ctx, now.AddDate(0, 0, -w.cfg.TasksDays))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn().Err(err).Msg("Task retention sweep failed")
		} else if n > 0 {
			w.logger.Info().Int64("tasks", n).Msg("Removed finished tasks past retention")
		}
	}

	if pruned > 0 {
		w.logger.Info().Int64("rows", pruned).Msg("Retention sweep complete")
	}
}
