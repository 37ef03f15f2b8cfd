package collectors

import (
	"context"
	"sort"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// cpuSample holds the previous cumulative tick counters for one core.
type cpuSample struct {
	user   int64
	kernel int64
	idle   int64
	at     time.Time
}

// collectCPU samples per-core cumulative tick counters and derives
// per-interval percentages from the tick deltas. The first sample of a core
// stores raw ticks only. psrinfo feeds the host capacity record.
func (s *Service) collectCPU(ctx context.Context) error {
	out, err := s.run(ctx, "kstat", "-p", "cpu_stat:::")
	if err != nil {
		return err
	}

	perCPU := make(map[int]map[string]int64)
	for _, e := range s.parseKstat(out) {
		if e.Module != "cpu_stat" {
			continue
		}
		v, err := parse.Counter(e.Value)
		if err != nil {
			continue
		}
		m := perCPU[e.Instance]
		if m == nil {
			m = make(map[string]int64)
			perCPU[e.Instance] = m
		}
		m[e.Stat] = v
	}

	ids := make([]int, 0, len(perCPU))
	for id := range perCPU {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	now := s.now().UTC()
	rows := make([]types.CPUStat, 0, len(ids))
	for _, id := range ids {
		st := perCPU[id]
		user, uok := st["user"]
		kernel, kok := st["kernel"]
		idle, iok := st["idle"]
		if !uok || !kok || !iok {
			s.logger.Debug().Int("cpu_id", id).Msg("skipping core with incomplete tick counters")
			continue
		}

		row := types.CPUStat{
			Host:          s.host,
			CPUID:         id,
			UserTicks:     user,
			KernelTicks:   kernel,
			IdleTicks:     idle,
			ScanTimestamp: now,
		}
		if prev, ok := s.prevCPU[id]; ok {
			du := counterDelta(user, prev.user)
			dk := counterDelta(kernel, prev.kernel)
			di := counterDelta(idle, prev.idle)
			total := float64(du + dk + di)
			row.UserPct = percentOf(float64(du), total)
			row.KernelPct = percentOf(float64(dk), total)
			row.IdlePct = percentOf(float64(di), total)
			row.UtilizationPct = percentOf(float64(du+dk), total)
		}
		s.prevCPU[id] = cpuSample{user: user, kernel: kernel, idle: idle, at: now}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := s.store.InsertCPUStats(ctx, rows); err != nil {
			return err
		}
	}

	psrOut, err := s.run(ctx, "psrinfo")
	if err != nil {
		return err
	}
	if count := len(parse.Lines(psrOut)); count > 0 {
		s.updateCapacity(ctx, count, 0)
	}
	return nil
}
