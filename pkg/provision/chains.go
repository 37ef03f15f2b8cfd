package provision

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// PlanSync queues a standalone folder-sync chain for an already provisioned
// zone: a zone_sync_parent aggregate with one zone_sync child per configured
// folder, serialized in declaration order. The returned slice starts with
// the parent; the store is left untouched on any error.
func (p *Planner) PlanSync(ctx context.Context, zoneName, createdBy string) ([]*types.Task, error) {
	in, err := p.prepare(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	n := len(in.prov.Folders)
	if n == 0 {
		return nil, fmt.Errorf("%w: zone %s has no sync folders configured", storage.ErrValidation, zoneName)
	}

	parent, b, err := standaloneChain(in.zone.Name, createdBy,
		types.OpZoneSyncParent, types.SyncParentMetadata{TotalFolders: n})
	if err != nil {
		return nil, err
	}
	for i, folder := range in.prov.Folders {
		if err := b.step(types.OpZoneSync, parent.ID, types.SyncMetadata{
			Folder:      folder,
			IP:          in.ip,
			Port:        in.port,
			Credentials: in.creds,
			Index:       i + 1,
			Total:       n,
		}); err != nil {
			return nil, err
		}
	}

	inserted, err := p.store.InsertTaskChain(ctx, b.tasks())
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("zone", in.zone.Name).
		Str("task_id", parent.ID).
		Int("folders", n).
		Msg("Folder sync chain queued")
	return inserted, nil
}

// PlanProvisioners queues a standalone provisioner run: a
// zone_provision_parent aggregate with one zone_provision child per
// configured provisioner, serialized in declaration order.
func (p *Planner) PlanProvisioners(ctx context.Context, zoneName, createdBy string) ([]*types.Task, error) {
	in, err := p.prepare(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	n := len(in.prov.Provisioners)
	if n == 0 {
		return nil, fmt.Errorf("%w: zone %s has no provisioners configured", storage.ErrValidation, zoneName)
	}

	parent, b, err := standaloneChain(in.zone.Name, createdBy,
		types.OpZoneProvisionParent, types.ProvisionParentMetadata{TotalProvisioners: n})
	if err != nil {
		return nil, err
	}
	for i, pr := range in.prov.Provisioners {
		if err := b.step(types.OpZoneProvision, parent.ID, types.ProvisionMetadata{
			Provisioner: pr,
			IP:          in.ip,
			Port:        in.port,
			Credentials: in.creds,
			Index:       i + 1,
			Total:       n,
		}); err != nil {
			return nil, err
		}
	}

	inserted, err := p.store.InsertTaskChain(ctx, b.tasks())
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("zone", in.zone.Name).
		Str("task_id", parent.ID).
		Int("provisioners", n).
		Msg("Provisioner chain queued")
	return inserted, nil
}

// standaloneChain builds a chain headed by a bare aggregate parent instead
// of an orchestration task. Unlike full provisioning there is no wrapper
// above the parent, so status listings keyed on zone_provision_orchestration
// never pick these chains up.
func standaloneChain(zone, createdBy string, op types.Operation, meta interface{}) (*types.Task, *chainBuilder, error) {
	raw, err := types.EncodeMetadata(meta)
	if err != nil {
		return nil, nil, err
	}
	parent := &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  zone,
		Operation: op,
		Metadata:  raw,
		CreatedBy: createdBy,
	}
	return parent, &chainBuilder{orch: parent, createdBy: createdBy, zone: zone}, nil
}
