package collectors

import (
	"context"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// collectPCI snapshots the PCI device inventory. Driverless devices print
// dashes for driver and instance and stay in the inventory.
func (s *Service) collectPCI(ctx context.Context) error {
	out, err := s.run(ctx, "pcieadm", "show-devs", "-p", "-o",
		"path,driver,instance,vendor-id,device-id,vendor,device,class")
	if err != nil {
		return err
	}

	now := s.now().UTC()
	lines := parse.Lines(out)
	rows := make([]types.PCIDevice, 0, len(lines))
	for _, line := range lines {
		fields := parse.SplitColon(line)
		if len(fields) != 8 {
			s.logger.Debug().Str("line", line).Msg("skipping malformed show-devs record")
			continue
		}
		if parse.IsHeaderField(fields[0]) {
			s.logger.Debug().Str("line", line).Msg("skipping show-devs header row")
			continue
		}
		instance, _, err := parse.OptionalCounter(fields[2])
		if err != nil {
			s.logger.Debug().Str("line", line).Msg("skipping show-devs record with non-numeric instance")
			continue
		}
		driver := fields[1]
		if parse.IsAbsent(driver) {
			driver = ""
		}
		rows = append(rows, types.PCIDevice{
			Host:          s.host,
			Path:          fields[0],
			Driver:        driver,
			Instance:      instance,
			VendorID:      fields[3],
			DeviceID:      fields[4],
			VendorName:    fields[5],
			DeviceName:    fields[6],
			Class:         fields[7],
			ScanTimestamp: now,
		})
	}
	return s.store.ReplacePCIDevices(ctx, s.host, rows)
}
