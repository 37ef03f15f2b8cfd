package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// defaultTaskListLimit bounds GET /tasks when the caller does not pass one.
const defaultTaskListLimit = 200

// taskCreateRequest is the body of POST /tasks, the generic enqueue for
// the operation vocabulary that has no dedicated endpoint (VNICs,
// packages, users, groups, roles). Zone-scoped operations work too.
type taskCreateRequest struct {
	Operation types.Operation    `json:"operation"`
	ZoneName  string             `json:"zone_name,omitempty"`
	Priority  types.TaskPriority `json:"priority,omitempty"`
	Metadata  json.RawMessage    `json:"metadata,omitempty"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	statuses, err := parseStatuses(q.Get("status"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit := defaultTaskListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, r, fmt.Errorf("%w: invalid limit %q", storage.ErrValidation, v))
			return
		}
		limit = n
	}

	tasks, err := s.store.ListTasks(r.Context(), storage.TaskFilter{
		ZoneName:  q.Get("zone"),
		Operation: types.Operation(q.Get("operation")),
		ParentID:  q.Get("parent"),
		Statuses:  statuses,
		Limit:     limit,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func parseStatuses(raw string) ([]types.TaskStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []types.TaskStatus
	for _, part := range strings.Split(raw, ",") {
		st := types.TaskStatus(strings.TrimSpace(part))
		switch st {
		case types.TaskStatusPending, types.TaskStatusRunning, types.TaskStatusCompleted,
			types.TaskStatusFailed, types.TaskStatusCancelled:
			out = append(out, st)
		default:
			return nil, fmt.Errorf("%w: unknown status %q", storage.ErrValidation, part)
		}
	}
	return out, nil
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// cancelTask cancels a pending task. Running or settled tasks answer 409;
// killing in-flight host commands is not supported.
func (s *Server) cancelTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.store.CancelTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req taskCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !types.KnownOperation(req.Operation) {
		s.writeError(w, r, fmt.Errorf("%w: unknown operation %q", storage.ErrValidation, req.Operation))
		return
	}
	if types.AggregateOperation(req.Operation) {
		s.writeError(w, r, fmt.Errorf("%w: %s is planned by the orchestrator, not queued directly",
			storage.ErrValidation, req.Operation))
		return
	}
	zoneName := req.ZoneName
	if zoneName == "" {
		zoneName = types.HostScope
	}
	if zoneName != types.HostScope {
		_, err := s.store.GetZone(r.Context(), zoneName)
		switch {
		case req.Operation == types.OpZoneCreate:
			if err == nil {
				s.writeError(w, r, fmt.Errorf("%w: zone %s already exists", storage.ErrConflict, zoneName))
				return
			}
			if !errors.Is(err, storage.ErrNotFound) {
				s.writeError(w, r, err)
				return
			}
		case err != nil:
			s.writeError(w, r, err)
			return
		}
	}
	meta := strings.TrimSpace(string(req.Metadata))
	if meta == "null" {
		meta = ""
	}
	s.enqueue(w, r, &types.Task{
		ZoneName:  zoneName,
		Operation: req.Operation,
		Priority:  req.Priority,
		Metadata:  meta,
		CreatedBy: createdBy,
	})
}
