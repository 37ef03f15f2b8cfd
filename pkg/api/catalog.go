package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Provisioning profile and recipe CRUD. Validation and the unique-name
// constraint live in the store; these handlers only shape HTTP.

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var p types.ProvisioningProfile
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.ID = ""
	if err := s.store.CreateProfile(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProfile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) updateProfile(w http.ResponseWriter, r *http.Request) {
	var p types.ProvisioningProfile
	if err := decodeJSON(r, &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	p.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateProfile(r.Context(), &p); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetProfile(r.Context(), p.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProfile(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRecipes(w http.ResponseWriter, r *http.Request) {
	recipes, err := s.store.ListRecipes(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recipes)
}

func (s *Server) createRecipe(w http.ResponseWriter, r *http.Request) {
	var rec types.Recipe
	if err := decodeJSON(r, &rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec.ID = ""
	if err := s.store.CreateRecipe(r.Context(), &rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) getRecipe(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecipe(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) updateRecipe(w http.ResponseWriter, r *http.Request) {
	var rec types.Recipe
	if err := decodeJSON(r, &rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	rec.ID = chi.URLParam(r, "id")
	if err := s.store.UpdateRecipe(r.Context(), &rec); err != nil {
		s.writeError(w, r, err)
		return
	}
	updated, err := s.store.GetRecipe(r.Context(), rec.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRecipe(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteRecipe(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
