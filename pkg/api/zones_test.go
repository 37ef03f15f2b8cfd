package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/provision"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

const zoneDoc = `{"brand":"lipkg","zonepath":"/zones/web01","autoboot":true}`

func TestListZones(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})
	a.seedZone(t, &types.Zone{Name: "db01", Status: types.ZoneStatusConfigured})

	code, body := a.do(t, http.MethodGet, "/zones", nil)
	require.Equal(t, http.StatusOK, code)

	var zs []types.Zone
	unmarshal(t, body, &zs)
	assert.Len(t, zs, 2)
}

func TestCreateZoneQueuesTask(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodPost, "/zones", zoneWriteRequest{
		Name:          "web01",
		Configuration: json.RawMessage(zoneDoc),
	})
	require.Equal(t, http.StatusAccepted, code, "body: %s", body)

	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Equal(t, "pending", resp.Status)
	require.NotEmpty(t, resp.TaskID)

	task := a.taskByID(t, resp.TaskID)
	assert.Equal(t, types.OpZoneCreate, task.Operation)
	assert.Equal(t, "web01", task.ZoneName)
	assert.Equal(t, createdBy, task.CreatedBy)

	var meta types.ZoneCreateMetadata
	require.NoError(t, json.Unmarshal([]byte(task.Metadata), &meta))
	assert.JSONEq(t, zoneDoc, string(meta.Configuration))

	assert.Equal(t, int32(1), a.engine.wakes.Load(), "a fresh insert must wake the engine")
}

func TestCreateZoneDedupReturnsExistingTask(t *testing.T) {
	a := newTestAPI(t)
	req := zoneWriteRequest{Name: "web01", Configuration: json.RawMessage(zoneDoc)}

	code, body := a.do(t, http.MethodPost, "/zones", req)
	require.Equal(t, http.StatusAccepted, code)
	var first taskResponse
	unmarshal(t, body, &first)

	code, body = a.do(t, http.MethodPost, "/zones", req)
	require.Equal(t, http.StatusAccepted, code)
	var second taskResponse
	unmarshal(t, body, &second)

	assert.Equal(t, "existing", second.Status)
	assert.Equal(t, first.TaskID, second.TaskID)
	assert.Equal(t, int32(1), a.engine.wakes.Load(), "a dedup hit must not wake the engine")
}

func TestCreateZoneValidation(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name string
		body interface{}
	}{
		{"invalid zone name", zoneWriteRequest{Name: "-bad", Configuration: json.RawMessage(zoneDoc)}},
		{"missing configuration", zoneWriteRequest{Name: "web01"}},
		{"configuration not an object", zoneWriteRequest{Name: "web01", Configuration: json.RawMessage(`{"brand":42}`)}},
		{"malformed body", "{not json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, body := a.do(t, http.MethodPost, "/zones", tc.body)
			assert.Equal(t, http.StatusBadRequest, code, "body: %s", body)

			var eb errorBody
			unmarshal(t, body, &eb)
			assert.NotEmpty(t, eb.Error)
		})
	}
}

func TestCreateZoneConflictsWithExistingZone(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, _ := a.do(t, http.MethodPost, "/zones", zoneWriteRequest{
		Name:          "web01",
		Configuration: json.RawMessage(zoneDoc),
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestGetZoneMissing(t *testing.T) {
	a := newTestAPI(t)
	code, body := a.do(t, http.MethodGet, "/zones/ghost", nil)
	assert.Equal(t, http.StatusNotFound, code)

	var eb errorBody
	unmarshal(t, body, &eb)
	assert.Contains(t, eb.Error, "ghost")
}

func TestGetZoneFoldsInLiveHostState(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01", Status: types.ZoneStatusConfigured})
	a.runner.stub("zoneadm list -cp",
		"1:web01:running:/zones/web01:8d4f1f2a-21c3-4b8e-9f35-6a1f6f9dcd8f:lipkg:excl\n")

	code, body := a.do(t, http.MethodGet, "/zones/web01", nil)
	require.Equal(t, http.StatusOK, code)

	var z types.Zone
	unmarshal(t, body, &z)
	assert.Equal(t, types.ZoneStatusRunning, z.Status)
	assert.Equal(t, "8d4f1f2a-21c3-4b8e-9f35-6a1f6f9dcd8f", z.ZoneID)

	// The refresh persists.
	stored, err := a.store.GetZone(context.Background(), "web01")
	require.NoError(t, err)
	assert.Equal(t, types.ZoneStatusRunning, stored.Status)
	assert.Equal(t, "/zones/web01", stored.Zonepath)
}

func TestGetZoneConfigReturnsRawDocument(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01", Configuration: zoneDoc})

	code, body := a.do(t, http.MethodGet, "/zones/web01/config", nil)
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, zoneDoc, string(body))

	a.seedZone(t, &types.Zone{Name: "bare01"})
	code, _ = a.do(t, http.MethodGet, "/zones/bare01/config", nil)
	assert.Equal(t, http.StatusNotFound, code, "a zone without a document has no config to return")
}

func TestModifyZoneQueuesTask(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, body := a.do(t, http.MethodPut, "/zones/web01", zoneWriteRequest{
		Configuration: json.RawMessage(`{"cpus":4,"memory_mb":8192}`),
	})
	require.Equal(t, http.StatusAccepted, code, "body: %s", body)

	var resp taskResponse
	unmarshal(t, body, &resp)
	task := a.taskByID(t, resp.TaskID)
	assert.Equal(t, types.OpZoneModify, task.Operation)

	code, _ = a.do(t, http.MethodPut, "/zones/ghost", zoneWriteRequest{
		Configuration: json.RawMessage(`{"cpus":4}`),
	})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestModifyZoneProvisioningOnlyUpdatesStoreDirectly(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01", Configuration: zoneDoc})

	doc := `{"brand":"lipkg","zonepath":"/zones/web01","autoboot":true,` +
		`"provisioning":{"recipe_id":"base","ip":"10.0.0.5"}}`
	code, body := a.do(t, http.MethodPut, "/zones/web01", zoneWriteRequest{
		Configuration: json.RawMessage(doc),
	})
	require.Equal(t, http.StatusOK, code, "body: %s", body)

	var z types.Zone
	unmarshal(t, body, &z)
	assert.JSONEq(t, doc, z.Configuration)

	tasks, err := a.store.ListTasks(context.Background(), storage.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks, "a provisioning-only change must not queue work")
	assert.Zero(t, a.engine.wakes.Load())

	// Touching anything outside provisioning still goes through a task.
	code, body = a.do(t, http.MethodPut, "/zones/web01", zoneWriteRequest{
		Configuration: json.RawMessage(`{"brand":"lipkg","zonepath":"/zones/web01","autoboot":false}`),
	})
	require.Equal(t, http.StatusAccepted, code, "body: %s", body)
	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Equal(t, types.OpZoneModify, a.taskByID(t, resp.TaskID).Operation)
}

func TestDeleteZoneQueuesTask(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, body := a.do(t, http.MethodDelete, "/zones/web01", nil)
	require.Equal(t, http.StatusAccepted, code)

	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Equal(t, types.OpDelete, a.taskByID(t, resp.TaskID).Operation)
}

func TestStartAndStopZone(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, body := a.do(t, http.MethodPost, "/zones/web01/start", nil)
	require.Equal(t, http.StatusAccepted, code)
	var resp taskResponse
	unmarshal(t, body, &resp)
	start := a.taskByID(t, resp.TaskID)
	assert.Equal(t, types.OpStart, start.Operation)
	assert.Empty(t, start.Metadata)

	code, body = a.do(t, http.MethodPost, "/zones/web01/stop", zoneActionRequest{Force: true})
	require.Equal(t, http.StatusAccepted, code)
	unmarshal(t, body, &resp)
	stop := a.taskByID(t, resp.TaskID)
	assert.Equal(t, types.OpStop, stop.Operation)
	assert.JSONEq(t, `{"force":true}`, stop.Metadata)
}

func TestStopZoneWithoutBodyOmitsMetadata(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, body := a.do(t, http.MethodPost, "/zones/web01/stop", nil)
	require.Equal(t, http.StatusAccepted, code)

	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Empty(t, a.taskByID(t, resp.TaskID).Metadata)
}

func TestRestartZoneQueuesStopThenStart(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, body := a.do(t, http.MethodPost, "/zones/web01/restart", nil)
	require.Equal(t, http.StatusAccepted, code, "body: %s", body)

	var resp taskResponse
	unmarshal(t, body, &resp)
	require.Len(t, resp.TaskIDs, 2)

	start := a.taskByID(t, resp.TaskID)
	assert.Equal(t, types.OpStart, start.Operation)
	assert.Equal(t, resp.TaskIDs[0], start.DependsOn, "start must wait for the stop task")

	stop := a.taskByID(t, resp.TaskIDs[0])
	assert.Equal(t, types.OpStop, stop.Operation)
	assert.Equal(t, int32(1), a.engine.wakes.Load())
}

func TestZoneActionsOnMissingZone(t *testing.T) {
	a := newTestAPI(t)

	actions := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/zones/ghost/start"},
		{http.MethodPost, "/zones/ghost/stop"},
		{http.MethodPost, "/zones/ghost/restart"},
		{http.MethodDelete, "/zones/ghost"},
		{http.MethodGet, "/zones/ghost/config"},
	}
	for _, tc := range actions {
		code, _ := a.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusNotFound, code, "%s %s", tc.method, tc.path)
	}
}

func TestStopZoneRejectsMalformedBody(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})

	code, _ := a.do(t, http.MethodPost, "/zones/web01/stop", `{"force":"yes"}`)
	assert.Equal(t, http.StatusBadRequest, code, "force must be a boolean")
}

func chainTask(id, zone string, op types.Operation) *types.Task {
	return &types.Task{ID: id, ZoneName: zone, Operation: op, Status: types.TaskStatusPending}
}

func TestProvisionZoneAccepted(t *testing.T) {
	a := newTestAPI(t)
	a.planner.chain = []*types.Task{
		chainTask("orch-1", "web01", types.OpZoneProvisionOrch),
		chainTask("step-1", "web01", types.OpZoneCreate),
		chainTask("step-2", "web01", types.OpStart),
	}

	code, body := a.do(t, http.MethodPost, "/zones/web01/provision", nil)
	require.Equal(t, http.StatusAccepted, code)

	var resp provisionResponse
	unmarshal(t, body, &resp)
	assert.Equal(t, "orch-1", resp.OrchestrationTaskID)
	assert.Equal(t, []string{"step-1", "step-2"}, resp.TaskIDs)
	assert.Equal(t, int32(1), a.engine.wakes.Load())
}

func TestProvisionZoneErrorMapping(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: zone ghost", storage.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("%w: no provisioning section", storage.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: already in flight", storage.ErrConflict), http.StatusConflict},
	}
	for _, tc := range cases {
		a.planner.err = tc.err
		code, _ := a.do(t, http.MethodPost, "/zones/web01/provision", nil)
		assert.Equal(t, tc.want, code, "planner error %v", tc.err)
	}
}

func TestSyncZoneAccepted(t *testing.T) {
	a := newTestAPI(t)
	a.planner.chain = []*types.Task{
		chainTask("parent-1", "web01", types.OpZoneSyncParent),
		chainTask("sync-1", "web01", types.OpZoneSync),
		chainTask("sync-2", "web01", types.OpZoneSync),
	}

	code, body := a.do(t, http.MethodPost, "/zones/web01/sync", nil)
	require.Equal(t, http.StatusAccepted, code)

	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Equal(t, "parent-1", resp.TaskID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, []string{"sync-1", "sync-2"}, resp.TaskIDs)
}

func TestRunProvisionersAccepted(t *testing.T) {
	a := newTestAPI(t)
	a.planner.chain = []*types.Task{
		chainTask("parent-1", "web01", types.OpZoneProvisionParent),
		chainTask("prov-1", "web01", types.OpZoneProvision),
	}

	code, body := a.do(t, http.MethodPost, "/zones/web01/run-provisioners", nil)
	require.Equal(t, http.StatusAccepted, code)

	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Equal(t, "parent-1", resp.TaskID)
	assert.Equal(t, []string{"prov-1"}, resp.TaskIDs)
}

func TestProvisionStatus(t *testing.T) {
	a := newTestAPI(t)
	a.planner.orch = &provision.Orchestration{
		Task:  chainTask("orch-1", "web01", types.OpZoneProvisionOrch),
		Steps: []*types.Task{chainTask("step-1", "web01", types.OpZoneCreate)},
	}

	code, body := a.do(t, http.MethodGet, "/zones/web01/provision/status", nil)
	require.Equal(t, http.StatusOK, code)

	var got struct {
		Task  *types.Task   `json:"task"`
		Steps []*types.Task `json:"steps"`
	}
	unmarshal(t, body, &got)
	assert.Equal(t, "orch-1", got.Task.ID)
	assert.Len(t, got.Steps, 1)
}
