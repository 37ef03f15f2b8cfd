package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) startVNC(w http.ResponseWriter, r *http.Request) {
	zone, err := s.store.GetZone(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Start checks brand and status, so fold in the host's live view
	// rather than trusting the last collector sweep.
	sess, err := s.vnc.Start(r.Context(), s.refreshZone(r.Context(), zone))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) vncInfo(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetActiveVNCSessionByZone(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) stopVNC(w http.ResponseWriter, r *http.Request) {
	if err := s.vnc.Stop(r.Context(), chi.URLParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
