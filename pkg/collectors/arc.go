package collectors

import (
	"context"
	"fmt"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// collectARC samples the ZFS ARC counters. The hit rate is cumulative since
// boot; interval rates can be derived downstream from consecutive samples.
func (s *Service) collectARC(ctx context.Context) error {
	out, err := s.run(ctx, "kstat", "-p", "zfs:0:arcstats")
	if err != nil {
		return err
	}

	entries := s.parseKstat(out)
	filtered := entries[:0]
	for _, e := range entries {
		if e.Module == "zfs" && e.Name == "arcstats" {
			filtered = append(filtered, e)
		}
	}
	st := kstatCounters(filtered)
	if len(st) == 0 {
		return fmt.Errorf("no arcstats counters in kstat output")
	}

	hits, misses := st["hits"], st["misses"]
	row := types.ARCStat{
		Host:                s.host,
		SizeBytes:           st["size"],
		TargetBytes:         st["c"],
		MinBytes:            st["c_min"],
		MaxBytes:            st["c_max"],
		Hits:                hits,
		Misses:              misses,
		DemandDataHits:      st["demand_data_hits"],
		DemandDataMisses:    st["demand_data_misses"],
		PrefetchDataHits:    st["prefetch_data_hits"],
		MRUHits:             st["mru_hits"],
		MFUHits:             st["mfu_hits"],
		CompressedSize:      st["compressed_size"],
		UncompressedSize:    st["uncompressed_size"],
		L2Hits:              st["l2_hits"],
		L2Misses:            st["l2_misses"],
		L2SizeBytes:         st["l2_size"],
		MemoryThrottleCount: st["memory_throttle_count"],
		HitRatePct:          percentOf(float64(hits), float64(hits+misses)),
		ScanTimestamp:       s.now().UTC(),
	}
	return s.store.InsertARCStats(ctx, []types.ARCStat{row})
}
