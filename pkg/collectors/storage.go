package collectors

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// collectStorage snapshots the disk inventory and the ZFS dataset list.
// Both are current-state tables replaced wholesale.
func (s *Service) collectStorage(ctx context.Context) error {
	diskOut, err := s.run(ctx, "diskinfo", "-Hp")
	if err != nil {
		return err
	}
	now := s.now().UTC()
	if err := s.store.ReplaceDisks(ctx, s.host, s.parseDisks(diskOut, now)); err != nil {
		return err
	}

	zfsOut, err := s.run(ctx, "zfs", "list", "-Hp", "-t", "filesystem,volume", "-o",
		"name,type,used,avail,refer,quota,reservation,mountpoint,compression,compressratio")
	if err != nil {
		return err
	}
	return s.store.ReplaceZFSDatasets(ctx, s.host, s.parseDatasets(zfsOut, now))
}

// parseDisks decodes `diskinfo -Hp`: tab-separated type, device, vendor,
// product, size in bytes, removable, ssd. Scripted mode prints no header,
// but a header row is rejected anyway in case the flags are ignored.
func (s *Service) parseDisks(out string, now time.Time) []types.Disk {
	lines := parse.Lines(out)
	rows := make([]types.Disk, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 7 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed diskinfo record")
			continue
		}
		if parse.IsHeaderField(fields[0]) || fields[1] == "DISK" {
			s.logger.Debug().Str("line", line).Msg("skipping diskinfo header row")
			continue
		}
		size, _, err := parse.OptionalCounter(fields[4])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping diskinfo record with non-numeric size")
			continue
		}
		typ := fields[0]
		if parse.IsAbsent(typ) {
			typ = ""
		}
		rows = append(rows, types.Disk{
			Host:          s.host,
			Device:        fields[1],
			Type:          typ,
			Vendor:        fields[2],
			Product:       fields[3],
			SizeBytes:     size,
			Removable:     fields[5] == "yes",
			SSD:           fields[6] == "yes",
			ScanTimestamp: now,
		})
	}
	return rows
}

// parseDatasets decodes `zfs list -Hp`. Quota and reservation print as dash
// for volumes and unset filesystems; compressratio parses best-effort since
// older releases keep the x suffix even in parseable mode.
func (s *Service) parseDatasets(out string, now time.Time) []types.ZFSDataset {
	lines := parse.Lines(out)
	rows := make([]types.ZFSDataset, 0, len(lines))
	for _, line := range lines {
		fields := strings.Split(line, "\t")
		if len(fields) != 10 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed zfs list record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping zfs list header row")
			continue
		}
		used, err := parse.Counter(fields[2])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zfs list record with non-numeric used")
			continue
		}
		avail, _, err := parse.OptionalCounter(fields[3])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zfs list record with non-numeric avail")
			continue
		}
		refer, _, err := parse.OptionalCounter(fields[4])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zfs list record with non-numeric refer")
			continue
		}
		quota, _, err := parse.OptionalCounter(fields[5])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zfs list record with non-numeric quota")
			continue
		}
		reservation, _, err := parse.OptionalCounter(fields[6])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping zfs list record with non-numeric reservation")
			continue
		}

		name := fields[0]
		pool := name
		if i := strings.IndexByte(name, '/'); i >= 0 {
			pool = name[:i]
		}
		mountpoint := fields[7]
		if parse.IsAbsent(mountpoint) {
			mountpoint = ""
		}

		row := types.ZFSDataset{
			Host:             s.host,
			Name:             name,
			Pool:             pool,
			Type:             fields[1],
			UsedBytes:        used,
			AvailableBytes:   avail,
			ReferencedBytes:  refer,
			QuotaBytes:       quota,
			ReservationBytes: reservation,
			Mountpoint:       mountpoint,
			Compression:      fields[8],
			ScanTimestamp:    now,
		}
		if ratio := strings.TrimSuffix(fields[9], "x"); !parse.IsAbsent(ratio) {
			if v, err := strconv.ParseFloat(ratio, 64); err == nil {
				row.CompressRatio = finite(v)
			}
		}
		rows = append(rows, row)
	}
	return rows
}
