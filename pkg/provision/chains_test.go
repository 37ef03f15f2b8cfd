package provision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func TestPlanSyncChainShape(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, fullDoc)

	chain, err := p.PlanSync(context.Background(), "vm-a", "api")
	require.NoError(t, err)
	require.Equal(t, []types.Operation{
		types.OpZoneSyncParent,
		types.OpZoneSync,
		types.OpZoneSync,
	}, opsOf(chain))

	parent, sync1, sync2 := chain[0], chain[1], chain[2]
	assert.Equal(t, types.TaskStatusRunning, parent.Status)
	assert.Equal(t, types.TaskStatusPending, sync1.Status)
	assert.Equal(t, types.TaskStatusPending, sync2.Status)

	var pm types.SyncParentMetadata
	require.NoError(t, types.DecodeMetadata(parent.Metadata, &pm))
	assert.Equal(t, 2, pm.TotalFolders)

	// Children hang off the parent and serialize on each other.
	assert.Empty(t, sync1.DependsOn)
	assert.Equal(t, sync1.ID, sync2.DependsOn)
	assert.Equal(t, parent.ID, sync1.ParentTaskID)
	assert.Equal(t, parent.ID, sync2.ParentTaskID)

	var sm types.SyncMetadata
	require.NoError(t, types.DecodeMetadata(sync1.Metadata, &sm))
	assert.Equal(t, "/srv/app", sm.Folder.Source)
	assert.Equal(t, "/opt/app", sm.Folder.Destination)
	assert.Equal(t, "10.0.0.5", sm.IP)
	assert.Equal(t, 22, sm.Port)
	assert.Equal(t, "root", sm.Credentials.Username)
	assert.Equal(t, 1, sm.Index)
	assert.Equal(t, 2, sm.Total)
}

func TestPlanProvisionersChainShape(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, fullDoc)

	chain, err := p.PlanProvisioners(context.Background(), "vm-a", "api")
	require.NoError(t, err)
	require.Equal(t, []types.Operation{
		types.OpZoneProvisionParent,
		types.OpZoneProvision,
	}, opsOf(chain))

	parent, child := chain[0], chain[1]
	assert.Equal(t, types.TaskStatusRunning, parent.Status)
	assert.Equal(t, parent.ID, child.ParentTaskID)
	assert.Empty(t, child.DependsOn)

	var pm types.ProvisionParentMetadata
	require.NoError(t, types.DecodeMetadata(parent.Metadata, &pm))
	assert.Equal(t, 1, pm.TotalProvisioners)

	var cm types.ProvisionMetadata
	require.NoError(t, types.DecodeMetadata(child.Metadata, &cm))
	assert.Equal(t, "ansible", cm.Provisioner.Type)
	assert.Equal(t, "site", cm.Provisioner.Name)
	assert.Equal(t, "10.0.0.5", cm.IP)
}

func TestPlanSyncRequiresFolders(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, `{
		"zonepath": "/zones/vm-a",
		"provisioning": {
			"ip": "10.0.0.5",
			"credentials": {"username": "root", "password": "pw"},
			"provisioners": [{"type": "shell", "script": "#!/bin/sh\ntrue\n"}]
		}
	}`)

	_, err := p.PlanSync(context.Background(), "vm-a", "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrValidation), "got %v", err)

	left, err := st.ListTasks(context.Background(), storage.TaskFilter{ZoneName: "vm-a"})
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestPlanProvisionersRequiresProvisioners(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, `{
		"zonepath": "/zones/vm-a",
		"provisioning": {
			"ip": "10.0.0.5",
			"credentials": {"username": "root", "password": "pw"},
			"folders": [{"source": "/srv/app", "destination": "/opt/app"}]
		}
	}`)

	_, err := p.PlanProvisioners(context.Background(), "vm-a", "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrValidation), "got %v", err)
}

func TestStandaloneChainsRefuseActiveOrchestration(t *testing.T) {
	p, st := newTestPlanner(t, false)
	seedZone(t, st, types.ZoneStatusInstalled, fullDoc)

	_, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	_, err = p.PlanSync(context.Background(), "vm-a", "api")
	assert.True(t, errors.Is(err, storage.ErrConflict), "sync: got %v", err)

	_, err = p.PlanProvisioners(context.Background(), "vm-a", "api")
	assert.True(t, errors.Is(err, storage.ErrConflict), "provisioners: got %v", err)
}

func TestPlanSyncRefusesConcurrentSync(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, fullDoc)

	_, err := p.PlanSync(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	_, err = p.PlanSync(context.Background(), "vm-a", "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)

	// The reverse direction holds too: a full orchestration cannot start
	// while the sync chain is live.
	_, err = p.Plan(context.Background(), "vm-a", "api")
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)
}

func TestLatestIgnoresStandaloneChains(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, fullDoc)

	_, err := p.PlanSync(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	_, err = p.Latest(context.Background(), "vm-a")
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}
