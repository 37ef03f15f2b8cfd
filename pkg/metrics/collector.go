package metrics

import (
	"context"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

var taskStatuses = []types.TaskStatus{
	types.TaskStatusPending,
	types.TaskStatusRunning,
	types.TaskStatusCompleted,
	types.TaskStatusFailed,
	types.TaskStatusCancelled,
}

var zoneStatuses = []types.ZoneStatus{
	types.ZoneStatusConfigured,
	types.ZoneStatusInstalled,
	types.ZoneStatusReady,
	types.ZoneStatusRunning,
	types.ZoneStatusShuttingDown,
	types.ZoneStatusDown,
	types.ZoneStatusIncomplete,
	types.ZoneStatusUnknown,
}

// SubscriberCounter reports live console fan-out. The console manager
// implements it; the sampler stays decoupled from that package.
type SubscriberCounter interface {
	TotalSubscribers() int
}

// Collector samples gauge metrics from the store on a fixed interval.
// Counters and histograms are updated inline by the components that own
// them; only point-in-time totals are sampled here.
type Collector struct {
	store    storage.Store
	consoles SubscriberCounter
	stopCh   chan struct{}
}

// NewCollector creates a new gauge sampler. consoles may be nil when no
// console manager runs.
func NewCollector(store storage.Store, consoles SubscriberCounter) *Collector {
	return &Collector{
		store:    store,
		consoles: consoles,
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Sample immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the sampler
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectTaskMetrics(ctx)
	c.collectZoneMetrics(ctx)
	c.collectSessionMetrics(ctx)
}

func (c *Collector) collectTaskMetrics(ctx context.Context) {
	counts, err := c.store.CountTasksByStatus(ctx)
	if err != nil {
		return
	}

	// Set every status explicitly so emptied buckets drop back to zero.
	for _, status := range taskStatuses {
		TasksTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectZoneMetrics(ctx context.Context) {
	zones, err := c.store.ListZones(ctx)
	if err != nil {
		return
	}

	counts := make(map[types.ZoneStatus]int)
	for _, z := range zones {
		counts[z.Status]++
	}

	for _, status := range zoneStatuses {
		ZonesTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}

func (c *Collector) collectSessionMetrics(ctx context.Context) {
	if sessions, err := c.store.ListConsoleSessions(ctx, false); err == nil {
		ConsoleSessionsActive.Set(float64(len(sessions)))
	}

	if sessions, err := c.store.ListTerminalSessions(ctx, false); err == nil {
		TerminalSessionsActive.Set(float64(len(sessions)))
	}

	if sessions, err := c.store.ListVNCSessions(ctx, false); err == nil {
		VNCSessionsActive.Set(float64(len(sessions)))
	}

	if c.consoles != nil {
		ConsoleSubscribers.Set(float64(c.consoles.TotalSubscribers()))
	}
}
