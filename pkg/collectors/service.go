package collectors

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/metrics"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
)

// Service owns the collection loops for one host. Each enabled collector
// runs in its own goroutine on its own interval; the Service tracks
// consecutive failures per collector and pulls a collector out of rotation
// once it crosses the configured threshold.
type Service struct {
	store  storage.Store
	runner hostcmd.Runner
	cfg    config.CollectorsConfig
	host   string
	logger zerolog.Logger

	hostname string
	platform string

	now func() time.Time

	mu        sync.Mutex
	errCounts map[string]int
	disabled  map[string]bool
	cpuCount  int
	totalMem  int64

	// Previous samples for delta computation, keyed by entity. Each map is
	// touched only by its own collector goroutine.
	prevUsage map[string]usageSample
	prevCPU   map[int]cpuSample
	prevDisk  map[string]diskSample
}

// New builds a Service. Collection does not start until Run is called.
func New(store storage.Store, runner hostcmd.Runner, cfg config.CollectorsConfig, host string) *Service {
	hostname, _ := os.Hostname()
	return &Service{
		store:     store,
		runner:    runner,
		cfg:       cfg,
		host:      host,
		logger:    log.WithComponent("collectors"),
		hostname:  hostname,
		platform:  runtime.GOOS,
		now:       time.Now,
		errCounts: make(map[string]int),
		disabled:  make(map[string]bool),
		prevUsage: make(map[string]usageSample),
		prevCPU:   make(map[int]cpuSample),
		prevDisk:  make(map[string]diskSample),
	}
}

// loop is one collection schedule: a name for health bookkeeping, the
// host_info scan column it stamps on success, and the sampling function.
type loop struct {
	name     string
	column   storage.ScanColumn
	interval time.Duration
	collect  func(context.Context) error
}

func (s *Service) loops() []loop {
	return []loop{
		{"network_config", storage.ScanNetworkConfig, interval(s.cfg.NetworkConfigIntervalSeconds, 300), s.collectNetworkConfig},
		{"network_usage", storage.ScanNetworkUsage, interval(s.cfg.NetworkUsageIntervalSeconds, 30), s.collectNetworkUsage},
		{"cpu", storage.ScanCPU, interval(s.cfg.CPUIntervalSeconds, 30), s.collectCPU},
		{"memory", storage.ScanMemory, interval(s.cfg.MemoryIntervalSeconds, 60), s.collectMemory},
		{"storage", storage.ScanStorage, interval(s.cfg.StorageIntervalSeconds, 300), s.collectStorage},
		{"disk_io", storage.ScanStorage, interval(s.cfg.DiskIOIntervalSeconds, 30), s.collectDiskIO},
		{"arc", storage.ScanARC, interval(s.cfg.ARCIntervalSeconds, 60), s.collectARC},
		{"pci", storage.ScanPCI, interval(s.cfg.PCIIntervalSeconds, 3600), s.collectPCI},
	}
}

func interval(seconds, fallback int) time.Duration {
	if seconds < 1 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

// Run starts one goroutine per enabled collector and blocks until ctx is
// cancelled and every loop has drained.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	started := 0
	for _, l := range s.loops() {
		if !s.cfg.CollectorEnabled(l.name) {
			s.logger.Info().Str("collector", l.name).Msg("Collector disabled by configuration")
			continue
		}
		started++
		wg.Add(1)
		go func(l loop) {
			defer wg.Done()
			s.runLoop(ctx, l)
		}(l)
	}
	s.logger.Info().Int("collectors", started).Msg("Collectors started")
	wg.Wait()
	s.logger.Info().Msg("Collectors stopped")
	return ctx.Err()
}

// runLoop samples immediately, then on every tick, until the context ends
// or the collector disables itself.
func (s *Service) runLoop(ctx context.Context, l loop) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		s.runOnce(ctx, l)
		if s.isDisabled(l.name) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runOnce executes one collection cycle and updates the health bookkeeping.
// Failures during shutdown are not counted against the collector.
func (s *Service) runOnce(ctx context.Context, l loop) {
	start := time.Now()
	err := l.collect(ctx)
	metrics.CollectorDuration.WithLabelValues(l.name).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.CollectorFailures.WithLabelValues(l.name).Inc()
		s.recordFailure(ctx, l.name, err)
		return
	}
	s.recordSuccess(ctx, l.name)
	if err := s.store.TouchHostScan(ctx, s.host, l.column, s.now().UTC()); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("collector", l.name).Msg("Failed to stamp scan timestamp")
	}
}

func (s *Service) isDisabled(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled[name]
}

func (s *Service) errorThreshold() int {
	if s.cfg.ErrorThreshold < 1 {
		return 10
	}
	return s.cfg.ErrorThreshold
}

// recordFailure bumps the consecutive-error counter and, at the threshold,
// pulls the collector out of rotation. The health snapshot is persisted on
// every failure so the host record always shows the live counts.
func (s *Service) recordFailure(ctx context.Context, name string, cause error) {
	s.mu.Lock()
	s.errCounts[name]++
	count := s.errCounts[name]
	tripped := count >= s.errorThreshold() && !s.disabled[name]
	if tripped {
		s.disabled[name] = true
	}
	counts, disabled := s.healthLocked()
	s.mu.Unlock()

	s.logger.Warn().Err(cause).Str("collector", name).Int("consecutive_errors", count).Msg("Collection cycle failed")
	if tripped {
		metrics.CollectorDisabled.WithLabelValues(name).Set(1)
		s.logger.Error().Str("collector", name).Int("consecutive_errors", count).
			Msg("Collector disabled after repeated failures")
	}
	if err := s.store.SetCollectorHealth(ctx, s.host, counts, disabled, cause.Error()); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("collector", name).Msg("Failed to persist collector health")
	}
}

// recordSuccess clears the consecutive-error counter. The persisted health
// record is rewritten only when there was something to clear.
func (s *Service) recordSuccess(ctx context.Context, name string) {
	s.mu.Lock()
	hadErrors := s.errCounts[name] > 0
	if hadErrors {
		delete(s.errCounts, name)
	}
	counts, disabled := s.healthLocked()
	s.mu.Unlock()

	if !hadErrors {
		return
	}
	if err := s.store.SetCollectorHealth(ctx, s.host, counts, disabled, ""); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Str("collector", name).Msg("Failed to persist collector health")
	}
}

func (s *Service) healthLocked() (map[string]int, []string) {
	counts := make(map[string]int, len(s.errCounts))
	for k, v := range s.errCounts {
		counts[k] = v
	}
	disabled := make([]string, 0, len(s.disabled))
	for _, l := range s.loops() {
		if s.disabled[l.name] {
			disabled = append(disabled, l.name)
		}
	}
	return counts, disabled
}

// updateCapacity refreshes the host capacity record with the latest known
// CPU count and memory size. The CPU and memory collectors each learn one
// of the two, so the last-known value of the other is carried along.
func (s *Service) updateCapacity(ctx context.Context, cpuCount int, totalMem int64) {
	s.mu.Lock()
	if cpuCount > 0 {
		s.cpuCount = cpuCount
	}
	if totalMem > 0 {
		s.totalMem = totalMem
	}
	cpus, mem := s.cpuCount, s.totalMem
	s.mu.Unlock()

	if err := s.store.SetHostCapacity(ctx, s.host, s.hostname, s.platform, cpus, mem); err != nil && ctx.Err() == nil {
		s.logger.Warn().Err(err).Msg("Failed to update host capacity")
	}
}
