package provision

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/remote"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(filepath.Join(t.TempDir(), "provision.db"), 5000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	_, err = s.Migrate(context.Background(), false)
	require.NoError(t, err)
	return s
}

func newTestPlanner(t *testing.T, reachable bool) (*Planner, storage.Store) {
	t.Helper()
	st := newTestStore(t)
	p := NewPlanner(st, config.ProvisionConfig{SSHTimeoutSeconds: 300})
	p.probe = func(ctx context.Context, target remote.Target, timeout time.Duration) error {
		if reachable {
			return nil
		}
		return errors.New("connection refused")
	}
	return p, st
}

const fullDoc = `{
	"brand": "lipkg",
	"zonepath": "/zones/vm-a",
	"provisioning": {
		"artifact_id": "art-1.tar.gz",
		"recipe_id": "r-1",
		"ip": "10.0.0.5",
		"credentials": {"username": "root", "password": "pw"},
		"folders": [
			{"source": "/srv/app", "destination": "/opt/app"},
			{"source": "/srv/conf", "destination": "/etc/app"}
		],
		"provisioners": [
			{"type": "ansible", "name": "site", "playbook": "- hosts: all\n"}
		]
	}
}`

func seedZone(t *testing.T, st storage.Store, status types.ZoneStatus, doc string) {
	t.Helper()
	require.NoError(t, st.UpsertZone(context.Background(), &types.Zone{
		Name:          "vm-a",
		Host:          "host1",
		Status:        status,
		Zonepath:      "/zones/vm-a",
		Configuration: doc,
	}))
}

func opsOf(tasks []*types.Task) []types.Operation {
	ops := make([]types.Operation, len(tasks))
	for i, t := range tasks {
		ops[i] = t.Operation
	}
	return ops
}

func TestPlanFullChain(t *testing.T) {
	p, st := newTestPlanner(t, false)
	seedZone(t, st, types.ZoneStatusInstalled, fullDoc)

	chain, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	assert.Equal(t, []types.Operation{
		types.OpZoneProvisionOrch,
		types.OpZoneProvisioningExtract,
		types.OpStart,
		types.OpZoneSetup,
		types.OpZoneWaitSSH,
		types.OpZoneSyncParent,
		types.OpZoneSync,
		types.OpZoneSync,
		types.OpZoneProvisionParent,
		types.OpZoneProvision,
	}, opsOf(chain))

	orch, extract, start, setup, wait := chain[0], chain[1], chain[2], chain[3], chain[4]
	syncParent, sync1, sync2 := chain[5], chain[6], chain[7]
	provParent, prov1 := chain[8], chain[9]

	// Aggregates are born running; runnable steps wait their turn.
	assert.Equal(t, types.TaskStatusRunning, orch.Status)
	assert.Equal(t, types.TaskStatusRunning, syncParent.Status)
	assert.Equal(t, types.TaskStatusRunning, provParent.Status)
	for _, step := range []*types.Task{extract, start, setup, wait, sync1, sync2, prov1} {
		assert.Equal(t, types.TaskStatusPending, step.Status, "step %s", step.Operation)
	}

	// Runnable steps serialize on each other, never on a grouping parent.
	assert.Empty(t, extract.DependsOn)
	assert.Equal(t, extract.ID, start.DependsOn)
	assert.Equal(t, start.ID, setup.DependsOn)
	assert.Equal(t, setup.ID, wait.DependsOn)
	assert.Equal(t, wait.ID, sync1.DependsOn)
	assert.Equal(t, sync1.ID, sync2.DependsOn)
	assert.Equal(t, sync2.ID, prov1.DependsOn)

	// Grouping: step tasks hang off the orchestration, grouped children off
	// their aggregate.
	for _, step := range []*types.Task{extract, start, setup, wait, syncParent, provParent} {
		assert.Equal(t, orch.ID, step.ParentTaskID, "%s parent", step.Operation)
	}
	assert.Equal(t, syncParent.ID, sync1.ParentTaskID)
	assert.Equal(t, syncParent.ID, sync2.ParentTaskID)
	assert.Equal(t, provParent.ID, prov1.ParentTaskID)

	var em types.ExtractMetadata
	require.NoError(t, types.DecodeMetadata(extract.Metadata, &em))
	assert.Equal(t, "art-1.tar.gz", em.ArtifactID)
	assert.Equal(t, "zones/vm-a", em.DatasetPath)

	var wm types.WaitSSHMetadata
	require.NoError(t, types.DecodeMetadata(wait.Metadata, &wm))
	assert.Equal(t, "10.0.0.5", wm.IP)
	assert.Equal(t, 22, wm.Port)
	assert.Equal(t, "root", wm.Credentials.Username)
	assert.Equal(t, 300, wm.TimeoutSeconds)

	var sm types.SyncMetadata
	require.NoError(t, types.DecodeMetadata(sync2.Metadata, &sm))
	assert.Equal(t, "/srv/conf", sm.Folder.Source)
	assert.Equal(t, 2, sm.Index)
	assert.Equal(t, 2, sm.Total)
	assert.Equal(t, "pw", sm.Credentials.Password, "credentials travel in step metadata")

	var pm types.ProvisionMetadata
	require.NoError(t, types.DecodeMetadata(prov1.Metadata, &pm))
	assert.Equal(t, "ansible", pm.Provisioner.Type)
	assert.Equal(t, "site", pm.Provisioner.Name)
}

func TestPlanSkipsBootAndRecipeWhenReachable(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, fullDoc)

	chain, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	ops := opsOf(chain)
	assert.NotContains(t, ops, types.OpStart)
	assert.NotContains(t, ops, types.OpZoneSetup)
	assert.Equal(t, types.OpZoneProvisioningExtract, ops[1])
	assert.Equal(t, types.OpZoneWaitSSH, ops[2], "chain still confirms SSH before sync")
}

func TestPlanRunningZoneWithoutArtifactStartsAtWait(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, `{
		"zonepath": "/zones/vm-a",
		"provisioning": {
			"ip": "10.0.0.5",
			"credentials": {"username": "root", "password": "pw"},
			"folders": [{"source": "/srv/app", "destination": "/opt/app"}]
		}
	}`)

	chain, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	require.Equal(t, []types.Operation{
		types.OpZoneProvisionOrch,
		types.OpZoneWaitSSH,
		types.OpZoneSyncParent,
		types.OpZoneSync,
	}, opsOf(chain))
	assert.Empty(t, chain[1].DependsOn, "first runnable step has nothing to wait for")
}

func TestPlanResolvesControlNetworkAddress(t *testing.T) {
	p, st := newTestPlanner(t, true)
	seedZone(t, st, types.ZoneStatusRunning, `{
		"zonepath": "/zones/vm-a",
		"networks": [
			{"name": "net0", "ip": "192.168.1.10"},
			{"name": "net1", "ip": "10.9.9.9", "control": true}
		],
		"provisioning": {
			"credentials": {"username": "root", "password": "pw"},
			"provisioners": [{"type": "shell", "script": "#!/bin/sh\ntrue\n"}]
		}
	}`)

	chain, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	var wm types.WaitSSHMetadata
	require.NoError(t, types.DecodeMetadata(chain[1].Metadata, &wm))
	assert.Equal(t, "10.9.9.9", wm.IP)
}

func TestPlanValidationLeavesStoreUntouched(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no provisioning section", `{"zonepath": "/zones/vm-a"}`},
		{"missing credentials", `{"provisioning": {"ip": "10.0.0.5"}}`},
		{"no target address", `{"provisioning": {"credentials": {"username": "root"}}}`},
		{"artifact without zonepath", `{"provisioning": {"artifact_id": "a.tar.gz", "ip": "10.0.0.5", "credentials": {"username": "root"}}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, st := newTestPlanner(t, false)
			require.NoError(t, st.UpsertZone(context.Background(), &types.Zone{
				Name: "vm-a", Host: "host1", Status: types.ZoneStatusInstalled,
				Configuration: tc.doc,
			}))

			_, err := p.Plan(context.Background(), "vm-a", "api")
			require.Error(t, err)
			assert.True(t, errors.Is(err, storage.ErrValidation), "got %v", err)

			left, err := st.ListTasks(context.Background(), storage.TaskFilter{ZoneName: "vm-a"})
			require.NoError(t, err)
			assert.Empty(t, left)
		})
	}
}

func TestPlanUnknownZone(t *testing.T) {
	p, _ := newTestPlanner(t, false)

	_, err := p.Plan(context.Background(), "ghost", "api")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestPlanRefusesConcurrentOrchestration(t *testing.T) {
	p, st := newTestPlanner(t, false)
	seedZone(t, st, types.ZoneStatusInstalled, fullDoc)

	_, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	_, err = p.Plan(context.Background(), "vm-a", "api")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrConflict), "got %v", err)
}

func TestLatestSplicesGroupedChildren(t *testing.T) {
	p, st := newTestPlanner(t, false)
	seedZone(t, st, types.ZoneStatusInstalled, fullDoc)

	chain, err := p.Plan(context.Background(), "vm-a", "api")
	require.NoError(t, err)

	orch, err := p.Latest(context.Background(), "vm-a")
	require.NoError(t, err)
	assert.Equal(t, chain[0].ID, orch.Task.ID)
	assert.Equal(t, opsOf(chain[1:]), opsOf(orch.Steps))
}

func TestLatestWithoutOrchestration(t *testing.T) {
	p, _ := newTestPlanner(t, false)

	_, err := p.Latest(context.Background(), "vm-a")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}
