package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

func (s *set) start(ctx context.Context, task *types.Task) error {
	if err := s.Zones.Boot(ctx, task.ZoneName); err != nil {
		return err
	}
	return s.refreshZone(ctx, task.ZoneName)
}

// stop accepts optional {"force": true} metadata. A graceful stop asks the
// zone to shut itself down and only then falls back to halt.
func (s *set) stop(ctx context.Context, task *types.Task) error {
	force := false
	if strings.TrimSpace(task.Metadata) != "" {
		var meta struct {
			Force bool `json:"force"`
		}
		if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
			return err
		}
		force = meta.Force
	}
	if err := s.Zones.Stop(ctx, task.ZoneName, force); err != nil {
		return err
	}
	return s.refreshZone(ctx, task.ZoneName)
}

// deleteZone tears a zone down completely: halt if needed, uninstall,
// remove the configuration, then drop the stored record.
func (s *set) deleteZone(ctx context.Context, task *types.Task) error {
	hz, err := s.Zones.Get(ctx, task.ZoneName)
	if err != nil {
		if errors.Is(err, zones.ErrNotFound) {
			// Already gone from the host; just drop the record.
			return s.dropZoneRecord(ctx, task.ZoneName)
		}
		return err
	}
	if hz.Status == types.ZoneStatusRunning {
		if err := s.Zones.Stop(ctx, task.ZoneName, true); err != nil {
			return fmt.Errorf("halt before delete: %w", err)
		}
	}
	if hz.Status != types.ZoneStatusConfigured {
		if err := s.Zones.Uninstall(ctx, task.ZoneName); err != nil {
			return err
		}
	}
	if err := s.Zones.DeleteConfig(ctx, task.ZoneName); err != nil {
		return err
	}
	return s.dropZoneRecord(ctx, task.ZoneName)
}

func (s *set) dropZoneRecord(ctx context.Context, name string) error {
	err := s.Store.DeleteZone(ctx, name)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return nil
}

func (s *set) zoneCreate(ctx context.Context, task *types.Task) error {
	var meta types.ZoneCreateMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	cfg, err := types.ParseZoneConfiguration(string(meta.Configuration))
	if err != nil {
		return err
	}
	script, err := zones.CreateScript(task.ZoneName, cfg)
	if err != nil {
		return err
	}
	if err := s.Zones.Configure(ctx, task.ZoneName, script); err != nil {
		return err
	}
	if err := s.refreshZone(ctx, task.ZoneName); err != nil {
		return err
	}
	return s.Store.SetZoneConfiguration(ctx, task.ZoneName, string(meta.Configuration))
}

func (s *set) zoneModify(ctx context.Context, task *types.Task) error {
	var meta types.ZoneCreateMetadata
	if err := types.DecodeMetadata(task.Metadata, &meta); err != nil {
		return err
	}
	cfg, err := types.ParseZoneConfiguration(string(meta.Configuration))
	if err != nil {
		return err
	}
	script, err := zones.ModifyScript(cfg)
	if err != nil {
		return err
	}
	if err := s.Zones.Configure(ctx, task.ZoneName, script); err != nil {
		return err
	}
	if err := s.refreshZone(ctx, task.ZoneName); err != nil {
		return err
	}
	return s.Store.SetZoneConfiguration(ctx, task.ZoneName, string(meta.Configuration))
}
