package collectors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// collectMemory samples system memory pages converted to bytes, plus the
// swap area snapshot. Physical memory feeds the host capacity record.
func (s *Service) collectMemory(ctx context.Context) error {
	pagesOut, err := s.run(ctx, "kstat", "-p", "unix:0:system_pages")
	if err != nil {
		return err
	}
	stats := kstatCounters(s.parseKstat(pagesOut))

	sizeOut, err := s.run(ctx, "pagesize")
	if err != nil {
		return err
	}
	pagesize, err := parse.Counter(strings.TrimSpace(sizeOut))
	if err != nil || pagesize == 0 {
		return fmt.Errorf("unusable pagesize output %q", strings.TrimSpace(sizeOut))
	}

	physmem := stats["physmem"]
	if physmem == 0 {
		return fmt.Errorf("system_pages kstat reported no physical memory")
	}
	freemem := stats["freemem"]

	pagesTotal, ok := stats["pagestotal"]
	if !ok {
		pagesTotal = physmem
	}
	pagesFree, ok := stats["pagesfree"]
	if !ok {
		pagesFree = freemem
	}

	now := s.now().UTC()
	row := types.MemoryStat{
		Host:           s.host,
		PhysMemBytes:   physmem * pagesize,
		FreeMemBytes:   freemem * pagesize,
		AvailRMemBytes: stats["availrmem"] * pagesize,
		PagesTotal:     pagesTotal,
		PagesFree:      pagesFree,
		PagesLocked:    stats["pageslocked"],
		UsedPct:        percentOf(float64(physmem-freemem), float64(physmem)),
		ScanTimestamp:  now,
	}
	if err := s.store.InsertMemoryStats(ctx, []types.MemoryStat{row}); err != nil {
		return err
	}
	s.updateCapacity(ctx, 0, physmem*pagesize)

	return s.collectSwap(ctx, now)
}

// collectSwap replaces the swap area snapshot. A host with no swap devices
// legitimately has an empty table; other swap(1M) failures keep the previous
// snapshot rather than wiping it.
func (s *Service) collectSwap(ctx context.Context, now time.Time) error {
	out, err := s.run(ctx, "swap", "-l")
	if err != nil {
		if strings.Contains(err.Error(), "No swap devices") {
			return s.store.ReplaceSwapAreas(ctx, s.host, nil)
		}
		s.logger.Debug().Err(err).Msg("Swap listing unavailable")
		return nil
	}
	return s.store.ReplaceSwapAreas(ctx, s.host, s.parseSwap(out, now))
}

// parseSwap decodes `swap -l`: swapfile, dev, swaplo, blocks, free. The
// header row starts with the literal word swapfile.
func (s *Service) parseSwap(out string, now time.Time) []types.SwapArea {
	lines := parse.Lines(out)
	rows := make([]types.SwapArea, 0, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 5 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed swap record")
			continue
		}
		if fields[0] == "swapfile" {
			continue
		}
		swaplo, err := parse.Counter(fields[2])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping swap record with non-numeric swaplo")
			continue
		}
		blocks, err := parse.Counter(fields[3])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping swap record with non-numeric blocks")
			continue
		}
		free, err := parse.Counter(fields[4])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping swap record with non-numeric free")
			continue
		}
		rows = append(rows, types.SwapArea{
			Host:          s.host,
			Swapfile:      fields[0],
			Dev:           fields[1],
			SwapLoBlocks:  swaplo,
			Blocks:        blocks,
			FreeBlocks:    free,
			UsedPct:       percentOf(float64(blocks-free), float64(blocks)),
			ScanTimestamp: now,
		})
	}
	return rows
}
