package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/metrics"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

// Reconciler syncs the store's zone inventory from zoneadm and closes
// session rows whose processes are gone.
type Reconciler struct {
	store  storage.Store
	zones  *zones.Manager
	cfg    config.CollectorsConfig
	host   string
	logger zerolog.Logger

	now      func() time.Time
	pidAlive func(pid int) bool
}

// New creates a reconciler. host names this agent in multi-host rows.
func New(store storage.Store, zm *zones.Manager, cfg config.CollectorsConfig, host string) *Reconciler {
	return &Reconciler{
		store:    store,
		zones:    zm,
		cfg:      cfg,
		host:     host,
		logger:   log.WithComponent("reconciler"),
		now:      time.Now,
		pidAlive: hostcmd.PIDAlive,
	}
}

// Run drives reconciliation until the context ends. The first cycle runs
// immediately so a fresh agent has zone records and clean session rows
// before API traffic arrives.
func (r *Reconciler) Run(ctx context.Context) error {
	r.reconcile(ctx)

	ticker := time.NewTicker(r.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.reconcile(ctx)
		}
	}
}

func (r *Reconciler) interval() time.Duration {
	if r.cfg.ZoneIntervalSeconds > 0 {
		return time.Duration(r.cfg.ZoneIntervalSeconds) * time.Second
	}
	return time.Minute
}

// reconcile performs one cycle. Errors are logged, never fatal; the next
// tick gets a fresh look.
func (r *Reconciler) reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileCycles.Inc()
	}()

	if err := r.reconcileZones(ctx); err != nil && ctx.Err() == nil {
		r.logger.Warn().Err(err).Msg("Zone reconciliation failed")
	}
	r.sweepSessions(ctx)
}

// reconcileZones refreshes the store from the zoneadm inventory. Upserting
// with AutoDiscovered set only marks zones on first sight; existing rows
// keep their flag. Re-appearing zones get their orphan flag cleared by the
// upsert, everything the host stopped reporting is flagged by
// MarkZonesOrphaned.
func (r *Reconciler) reconcileZones(ctx context.Context) error {
	listed, err := r.zones.List(ctx)
	if err != nil {
		return fmt.Errorf("zone discovery: %w", err)
	}

	now := r.now().UTC()
	seen := make([]string, 0, len(listed))
	for i := range listed {
		hz := &listed[i]
		seen = append(seen, hz.Name)
		z := &types.Zone{
			Name:           hz.Name,
			ZoneID:         hz.UUID,
			Host:           r.host,
			Brand:          hz.Brand,
			Status:         hz.Status,
			Zonepath:       hz.Zonepath,
			AutoDiscovered: true,
			LastSeen:       now,
		}
		if err := r.store.UpsertZone(ctx, z); err != nil {
			r.logger.Warn().Err(err).Str("zone", hz.Name).
				Msg("Failed to upsert discovered zone")
		}
	}

	orphaned, err := r.store.MarkZonesOrphaned(ctx, r.host, seen)
	if err != nil {
		return fmt.Errorf("orphan marking: %w", err)
	}
	if orphaned > 0 {
		r.logger.Info().Int64("count", orphaned).
			Msg("Marked zones no longer reported by zoneadm as orphaned")
	}
	return nil
}

// sweepSessions closes console, terminal and VNC rows whose pid is dead.
// Rows still in connecting state without a pid belong to a manager that is
// mid-setup and are skipped.
func (r *Reconciler) sweepSessions(ctx context.Context) {
	if sessions, err := r.store.ListConsoleSessions(ctx, false); err == nil {
		for _, s := range sessions {
			if s.PID <= 0 || r.pidAlive(s.PID) {
				continue
			}
			if err := r.store.CloseConsoleSession(ctx, s.ID); err != nil {
				r.logger.Warn().Err(err).Str("session_id", s.ID).
					Msg("Failed to close dead console session")
				continue
			}
			r.logger.Info().Str("session_id", s.ID).Str("zone", s.ZoneName).
				Int("pid", s.PID).Msg("Closed console session with dead pid")
		}
	}

	if sessions, err := r.store.ListTerminalSessions(ctx, false); err == nil {
		for _, s := range sessions {
			if s.PID <= 0 || r.pidAlive(s.PID) {
				continue
			}
			if err := r.store.CloseTerminalSession(ctx, s.ID); err != nil {
				r.logger.Warn().Err(err).Str("session_id", s.ID).
					Msg("Failed to close dead terminal session")
				continue
			}
			r.logger.Info().Str("session_id", s.ID).
				Int("pid", s.PID).Msg("Closed terminal session with dead pid")
		}
	}

	if sessions, err := r.store.ListVNCSessions(ctx, false); err == nil {
		for _, s := range sessions {
			if s.PID <= 0 || r.pidAlive(s.PID) {
				continue
			}
			if err := r.store.CloseVNCSession(ctx, s.ID); err != nil {
				r.logger.Warn().Err(err).Str("session_id", s.ID).
					Msg("Failed to close dead VNC session")
				continue
			}
			r.logger.Info().Str("session_id", s.ID).Str("zone", s.ZoneName).
				Int("pid", s.PID).Msg("Closed VNC session with dead pid")
		}
	}
}
