package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// provisionResponse is the 202 body for POST /zones/{name}/provision. The
// orchestration id is the handle for GET /zones/{name}/provision/status.
type provisionResponse struct {
	OrchestrationTaskID string   `json:"orchestration_task_id"`
	TaskIDs             []string `json:"task_ids"`
}

func (s *Server) provisionZone(w http.ResponseWriter, r *http.Request) {
	chain, err := s.planner.Plan(r.Context(), chi.URLParam(r, "name"), createdBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.engine.Wake()
	writeJSON(w, http.StatusAccepted, provisionResponse{
		OrchestrationTaskID: chain[0].ID,
		TaskIDs:             taskIDs(chain[1:]),
	})
}

func (s *Server) provisionStatus(w http.ResponseWriter, r *http.Request) {
	orch, err := s.planner.Latest(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orch)
}

func (s *Server) syncZone(w http.ResponseWriter, r *http.Request) {
	chain, err := s.planner.PlanSync(r.Context(), chi.URLParam(r, "name"), createdBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.engine.Wake()
	writeJSON(w, http.StatusAccepted, taskResponse{
		TaskID:  chain[0].ID,
		Status:  "pending",
		TaskIDs: taskIDs(chain[1:]),
	})
}

func (s *Server) runProvisioners(w http.ResponseWriter, r *http.Request) {
	chain, err := s.planner.PlanProvisioners(r.Context(), chi.URLParam(r, "name"), createdBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.engine.Wake()
	writeJSON(w, http.StatusAccepted, taskResponse{
		TaskID:  chain[0].ID,
		Status:  "pending",
		TaskIDs: taskIDs(chain[1:]),
	})
}
