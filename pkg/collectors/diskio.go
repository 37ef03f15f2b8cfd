package collectors

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// diskSample holds the previous cumulative I/O counters for one device.
type diskSample struct {
	reads    int64
	writes   int64
	nread    int64
	nwritten int64
	at       time.Time
}

// collectDiskIO samples per-device I/O counters and per-pool I/O summaries.
func (s *Service) collectDiskIO(ctx context.Context) error {
	out, err := s.run(ctx, "kstat", "-p", "-c", "disk")
	if err != nil {
		return err
	}

	now := s.now().UTC()
	perDevice := make(map[string]map[string]int64)
	for _, e := range s.parseKstat(out) {
		v, err := parse.Counter(e.Value)
		if err != nil {
			continue
		}
		m := perDevice[e.Name]
		if m == nil {
			m = make(map[string]int64)
			perDevice[e.Name] = m
		}
		m[e.Stat] = v
	}

	devices := make([]string, 0, len(perDevice))
	for name := range perDevice {
		devices = append(devices, name)
	}
	sort.Strings(devices)

	rows := make([]types.DiskIOStat, 0, len(devices))
	for _, device := range devices {
		st := perDevice[device]
		reads, rok := st["reads"]
		writes, wok := st["writes"]
		nread, nrok := st["nread"]
		nwritten, nwok := st["nwritten"]
		if !rok || !wok || !nrok || !nwok {
			s.logger.Debug().Str("device", device).Msg("skipping disk kstat without I/O counters")
			continue
		}

		row := types.DiskIOStat{
			Host:          s.host,
			Device:        device,
			Reads:         reads,
			Writes:        writes,
			NReadBytes:    nread,
			NWrittenBytes: nwritten,
			ScanTimestamp: now,
		}
		if prev, ok := s.prevDisk[device]; ok {
			age := now.Sub(prev.at)
			if deltaWindowMet(age, interval(s.cfg.DiskIOIntervalSeconds, 30)) {
				dt := age.Seconds()
				rd := counterDelta(reads, prev.reads)
				wd := counterDelta(writes, prev.writes)
				row.ReadsDelta = &rd
				row.WritesDelta = &wd
				row.ReadBps = ratePerSecond(counterDelta(nread, prev.nread), dt)
				row.WriteBps = ratePerSecond(counterDelta(nwritten, prev.nwritten), dt)
				row.ReadsPerSec = ratePerSecond(rd, dt)
				row.WritesPerSec = ratePerSecond(wd, dt)
			}
		}
		s.prevDisk[device] = diskSample{reads: reads, writes: writes, nread: nread, nwritten: nwritten, at: now}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := s.store.InsertDiskIOStats(ctx, rows); err != nil {
			return err
		}
	}
	return s.collectPoolIO(ctx, now)
}

// collectPoolIO merges `zpool list -Hp` capacity with `zpool iostat -Hp`
// operation and bandwidth summaries, keyed by pool name.
func (s *Service) collectPoolIO(ctx context.Context, now time.Time) error {
	listOut, err := s.run(ctx, "zpool", "list", "-Hp", "-o", "name,alloc,free,cap,frag,health")
	if err != nil {
		return err
	}
	iostatOut, err := s.run(ctx, "zpool", "iostat", "-Hp")
	if err != nil {
		return err
	}

	type poolIO struct {
		readOps, writeOps, readBW, writeBW int64
	}
	iostats := make(map[string]poolIO)
	for _, line := range parse.Lines(iostatOut) {
		fields := strings.Fields(line)
		if len(fields) != 7 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed zpool iostat record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			continue
		}
		var vals [4]int64
		bad := false
		for i, f := range fields[3:] {
			v, err := parse.Counter(f)
			if err != nil {
				s.logger.Debug().Str("line", line).Msg("skipping zpool iostat record with bad counter")
				bad = true
				break
			}
			vals[i] = v
		}
		if bad {
			continue
		}
		iostats[fields[0]] = poolIO{readOps: vals[0], writeOps: vals[1], readBW: vals[2], writeBW: vals[3]}
	}

	lines := parse.Lines(listOut)
	rows := make([]types.PoolIOStat, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 6 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed zpool list record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			continue
		}
		alloc, err := parse.Counter(fields[1])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zpool list record with non-numeric alloc")
			continue
		}
		free, err := parse.Counter(fields[2])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zpool list record with non-numeric free")
			continue
		}

		row := types.PoolIOStat{
			Host:          s.host,
			Pool:          fields[0],
			AllocBytes:    alloc,
			FreeBytes:     free,
			Health:        fields[5],
			ScanTimestamp: now,
		}
		if capacity, present, err := parse.OptionalCounter(fields[3]); err == nil && present {
			row.CapacityPct = finite(float64(capacity))
		}
		if frag, present, err := parse.OptionalCounter(fields[4]); err == nil && present {
			row.FragmentationPct = finite(float64(frag))
		}
		if p, ok := iostats[fields[0]]; ok {
			row.ReadOps = p.readOps
			row.WriteOps = p.writeOps
			row.ReadBandwidth = p.readBW
			row.WriteBandwidth = p.writeBW
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil
	}
	return s.store.InsertPoolIOStats(ctx, rows)
}
