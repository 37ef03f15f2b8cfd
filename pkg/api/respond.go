package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/console"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

// errorBody is the JSON envelope every failing request returns.
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// taskResponse is the 202 body for endpoints that queue work. Status is
// "pending" for a fresh insert and "existing" when the mutex-set dedup
// returned an already queued task. Chain endpoints list every member.
type taskResponse struct {
	TaskID  string   `json:"task_id"`
	Status  string   `json:"status"`
	TaskIDs []string `json:"task_ids,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

func writeAccepted(w http.ResponseWriter, task *types.Task, existing bool) {
	status := "pending"
	if existing {
		status = "existing"
	}
	writeJSON(w, http.StatusAccepted, taskResponse{TaskID: task.ID, Status: status})
}

// writeError maps the agent's error kinds onto HTTP statuses. Anything
// unrecognized is an internal error; its cause is logged but not leaked.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, storage.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, zones.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, storage.ErrConflict), errors.Is(err, console.ErrAutomationActive):
		status = http.StatusConflict
	default:
		s.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
		return
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

// decodeJSON reads the request body into dst. Malformed bodies surface as
// validation errors so the caller sees a 400, not a 500.
func decodeJSON(r *http.Request, dst interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", storage.ErrValidation, err)
	}
	return nil
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, dst interface{}) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("%w: invalid request body: %v", storage.ErrValidation, err)
}

// enqueue inserts one task, wakes the engine on a fresh insert and writes
// the 202 response.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, t *types.Task) {
	task, existing, err := s.store.InsertTask(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !existing {
		s.engine.Wake()
	}
	writeAccepted(w, task, existing)
}

func taskIDs(tasks []*types.Task) []string {
	ids := make([]string, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
	}
	return ids
}
