package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

func TestCreateHostScopedTask(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpPkgInstall,
		Metadata:  json.RawMessage(`{"packages":["editor/vim"]}`),
	})
	require.Equal(t, http.StatusAccepted, code, "body: %s", body)

	var resp taskResponse
	unmarshal(t, body, &resp)
	task := a.taskByID(t, resp.TaskID)
	assert.Equal(t, types.HostScope, task.ZoneName, "no zone_name means host scope")
	assert.Equal(t, types.OpPkgInstall, task.Operation)

	var meta types.PkgMetadata
	require.NoError(t, types.DecodeMetadata(task.Metadata, &meta))
	assert.Equal(t, []string{"editor/vim"}, meta.Packages)
}

func TestCreateTaskMetadataValidation(t *testing.T) {
	a := newTestAPI(t)

	// create_vnic requires name and link; the store refuses the insert.
	code, body := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpCreateVNIC,
		Metadata:  json.RawMessage(`{"name":"vnic0"}`),
	})
	assert.Equal(t, http.StatusBadRequest, code)

	var eb errorBody
	unmarshal(t, body, &eb)
	assert.Contains(t, eb.Error, "link")
}

func TestCreateTaskUnknownOperation(t *testing.T) {
	a := newTestAPI(t)
	code, _ := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{Operation: "defragment"})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCreateTaskRefusesAggregateOperations(t *testing.T) {
	a := newTestAPI(t)

	for _, op := range types.AggregateOperations() {
		code, body := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
			Operation: op,
			ZoneName:  "web01",
		})
		assert.Equal(t, http.StatusBadRequest, code, "op %s: %s", op, body)
	}
}

func TestCreateTaskZoneScopedRequiresZone(t *testing.T) {
	a := newTestAPI(t)

	code, _ := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpStart,
		ZoneName:  "ghost",
	})
	assert.Equal(t, http.StatusNotFound, code)

	a.seedZone(t, &types.Zone{Name: "web01"})
	code, _ = a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpStart,
		ZoneName:  "web01",
	})
	assert.Equal(t, http.StatusAccepted, code)
}

func TestCreateTaskZoneCreateInvertsZoneCheck(t *testing.T) {
	a := newTestAPI(t)

	// zone_create through the generic endpoint: the zone must NOT exist.
	code, _ := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpZoneCreate,
		ZoneName:  "new01",
		Metadata:  json.RawMessage(`{"configuration":{"brand":"lipkg"}}`),
	})
	assert.Equal(t, http.StatusAccepted, code)

	a.seedZone(t, &types.Zone{Name: "web01"})
	code, _ = a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpZoneCreate,
		ZoneName:  "web01",
		Metadata:  json.RawMessage(`{"configuration":{"brand":"lipkg"}}`),
	})
	assert.Equal(t, http.StatusConflict, code)
}

func TestCreateTaskNormalizesNullMetadata(t *testing.T) {
	a := newTestAPI(t)

	code, body := a.do(t, http.MethodPost, "/tasks", `{"operation":"pkg_uninstall","metadata":null}`)
	require.Equal(t, http.StatusAccepted, code, "body: %s", body)

	var resp taskResponse
	unmarshal(t, body, &resp)
	assert.Empty(t, a.taskByID(t, resp.TaskID).Metadata)
}

func TestCreateTaskInvalidPriority(t *testing.T) {
	a := newTestAPI(t)
	code, _ := a.do(t, http.MethodPost, "/tasks", taskCreateRequest{
		Operation: types.OpPkgUninstall,
		Priority:  "urgent",
	})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestListTasksFilters(t *testing.T) {
	a := newTestAPI(t)
	a.seedZone(t, &types.Zone{Name: "web01"})
	ctx := context.Background()

	insert := func(zone string, op types.Operation) *types.Task {
		task, _, err := a.store.InsertTask(ctx, &types.Task{
			ZoneName: zone, Operation: op, CreatedBy: "test",
		})
		require.NoError(t, err)
		return task
	}
	started := insert("web01", types.OpStart)
	insert("web01", types.OpStop)
	cancelled := insert(types.HostScope, types.OpPkgInstall)
	_, err := a.store.CancelTask(ctx, cancelled.ID)
	require.NoError(t, err)

	var tasks []*types.Task

	code, body := a.do(t, http.MethodGet, "/tasks?status=pending", nil)
	require.Equal(t, http.StatusOK, code)
	unmarshal(t, body, &tasks)
	assert.Len(t, tasks, 2)

	code, body = a.do(t, http.MethodGet, "/tasks?status=cancelled", nil)
	require.Equal(t, http.StatusOK, code)
	unmarshal(t, body, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, cancelled.ID, tasks[0].ID)

	code, body = a.do(t, http.MethodGet, "/tasks?zone=web01&operation=start", nil)
	require.Equal(t, http.StatusOK, code)
	unmarshal(t, body, &tasks)
	require.Len(t, tasks, 1)
	assert.Equal(t, started.ID, tasks[0].ID)

	code, body = a.do(t, http.MethodGet, "/tasks?limit=1", nil)
	require.Equal(t, http.StatusOK, code)
	unmarshal(t, body, &tasks)
	assert.Len(t, tasks, 1)
}

func TestListTasksRejectsBadParams(t *testing.T) {
	a := newTestAPI(t)

	for _, query := range []string{"?status=bogus", "?limit=0", "?limit=abc", "?status=pending,bogus"} {
		code, _ := a.do(t, http.MethodGet, "/tasks"+query, nil)
		assert.Equal(t, http.StatusBadRequest, code, "query %s", query)
	}
}

func TestGetTaskNotFound(t *testing.T) {
	a := newTestAPI(t)
	code, _ := a.do(t, http.MethodGet, "/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestCancelTask(t *testing.T) {
	a := newTestAPI(t)
	task, _, err := a.store.InsertTask(context.Background(), &types.Task{
		ZoneName: types.HostScope, Operation: types.OpPkgUninstall, CreatedBy: "test",
	})
	require.NoError(t, err)

	code, body := a.do(t, http.MethodDelete, "/tasks/"+task.ID, nil)
	require.Equal(t, http.StatusOK, code)

	var got types.Task
	unmarshal(t, body, &got)
	assert.Equal(t, types.TaskStatusCancelled, got.Status)

	// A settled task cannot be cancelled again.
	code, _ = a.do(t, http.MethodDelete, "/tasks/"+task.ID, nil)
	assert.Equal(t, http.StatusConflict, code)
}
