package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

// zoneWriteRequest is the body of POST /zones and PUT /zones/{name}. The
// configuration document is stored verbatim once it parses.
type zoneWriteRequest struct {
	Name          string          `json:"name,omitempty"`
	Configuration json.RawMessage `json:"configuration"`
}

// zoneActionRequest is the optional body of stop and restart.
type zoneActionRequest struct {
	Force bool `json:"force"`
}

func (s *Server) listZones(w http.ResponseWriter, r *http.Request) {
	zs, err := s.store.ListZones(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, zs)
}

func (s *Server) getZone(w http.ResponseWriter, r *http.Request) {
	zone, err := s.store.GetZone(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.refreshZone(r.Context(), zone))
}

// refreshZone folds the host's current view of a zone into its stored
// record before returning it. Best effort: any host failure returns the
// stored row unchanged.
func (s *Server) refreshZone(ctx context.Context, zone *types.Zone) *types.Zone {
	hz, err := s.zones.Get(ctx, zone.Name)
	if err != nil {
		if !errors.Is(err, zones.ErrNotFound) {
			s.logger.Debug().Err(err).Str("zone", zone.Name).Msg("Live zone refresh failed")
		}
		return zone
	}
	fresh := *zone
	fresh.ZoneID = hz.UUID
	fresh.Brand = hz.Brand
	fresh.Status = hz.Status
	fresh.Zonepath = hz.Zonepath
	fresh.LastSeen = time.Now().UTC()
	if err := s.store.UpsertZone(ctx, &fresh); err != nil {
		s.logger.Warn().Err(err).Str("zone", zone.Name).Msg("Failed to persist refreshed zone state")
		return zone
	}
	updated, err := s.store.GetZone(ctx, zone.Name)
	if err != nil {
		return &fresh
	}
	return updated
}

func (s *Server) getZoneConfig(w http.ResponseWriter, r *http.Request) {
	zone, err := s.store.GetZone(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if zone.Configuration == "" {
		s.writeError(w, r, fmt.Errorf("%w: zone %s has no configuration document", storage.ErrNotFound, zone.Name))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, zone.Configuration)
}

func (s *Server) createZone(w http.ResponseWriter, r *http.Request) {
	var req zoneWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if !types.ValidZoneName(req.Name) {
		s.writeError(w, r, fmt.Errorf("%w: invalid zone name %q", storage.ErrValidation, req.Name))
		return
	}
	meta, err := zoneConfigMetadata(req.Configuration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetZone(r.Context(), req.Name); err == nil {
		s.writeError(w, r, fmt.Errorf("%w: zone %s already exists", storage.ErrConflict, req.Name))
		return
	} else if !errors.Is(err, storage.ErrNotFound) {
		s.writeError(w, r, err)
		return
	}
	s.enqueue(w, r, &types.Task{
		ZoneName:  req.Name,
		Operation: types.OpZoneCreate,
		Metadata:  meta,
		CreatedBy: createdBy,
	})
}

func (s *Server) modifyZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req zoneWriteRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := zoneConfigMetadata(req.Configuration)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	zone, err := s.store.GetZone(r.Context(), name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Provisioning settings are agent-side metadata. When the change is
	// confined to that subtree nothing on the host needs to move, so the
	// document is stored directly instead of going through a task.
	if provisioningOnlyChange(zone.Configuration, req.Configuration) {
		if err := s.store.SetZoneConfiguration(r.Context(), name, string(req.Configuration)); err != nil {
			s.writeError(w, r, err)
			return
		}
		updated, err := s.store.GetZone(r.Context(), name)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
		return
	}
	s.enqueue(w, r, &types.Task{
		ZoneName:  name,
		Operation: types.OpZoneModify,
		Metadata:  meta,
		CreatedBy: createdBy,
	})
}

// provisioningOnlyChange reports whether a submitted configuration differs
// from the stored document only under the provisioning key. A zone with no
// stored document can never match: the full document still has to be
// applied with zonecfg.
func provisioningOnlyChange(stored string, submitted json.RawMessage) bool {
	if stored == "" {
		return false
	}
	var before, after map[string]interface{}
	if err := json.Unmarshal([]byte(stored), &before); err != nil {
		return false
	}
	if err := json.Unmarshal(submitted, &after); err != nil {
		return false
	}
	delete(before, "provisioning")
	delete(after, "provisioning")
	return reflect.DeepEqual(before, after)
}

// zoneConfigMetadata validates a configuration document and wraps it in
// the zone_create/zone_modify metadata envelope.
func zoneConfigMetadata(doc json.RawMessage) (string, error) {
	if len(doc) == 0 {
		return "", fmt.Errorf("%w: configuration is required", storage.ErrValidation)
	}
	if _, err := types.ParseZoneConfiguration(string(doc)); err != nil {
		return "", fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	return types.EncodeMetadata(types.ZoneCreateMetadata{Configuration: doc})
}

func (s *Server) deleteZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.store.GetZone(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.enqueue(w, r, &types.Task{
		ZoneName:  name,
		Operation: types.OpDelete,
		CreatedBy: createdBy,
	})
}

func (s *Server) startZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if _, err := s.store.GetZone(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.enqueue(w, r, &types.Task{
		ZoneName:  name,
		Operation: types.OpStart,
		CreatedBy: createdBy,
	})
}

func (s *Server) stopZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req zoneActionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetZone(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := stopMetadata(req.Force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.enqueue(w, r, &types.Task{
		ZoneName:  name,
		Operation: types.OpStop,
		Metadata:  meta,
		CreatedBy: createdBy,
	})
}

// restartZone queues stop then start as one chain. The reported task id is
// the start task: its completion is what "restarted" means.
func (s *Server) restartZone(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req zoneActionRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.store.GetZone(r.Context(), name); err != nil {
		s.writeError(w, r, err)
		return
	}
	meta, err := stopMetadata(req.Force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	stop := &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  name,
		Operation: types.OpStop,
		Metadata:  meta,
		CreatedBy: createdBy,
	}
	start := &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  name,
		Operation: types.OpStart,
		DependsOn: stop.ID,
		CreatedBy: createdBy,
	}
	chain, err := s.store.InsertTaskChain(r.Context(), []*types.Task{stop, start})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.engine.Wake()
	writeJSON(w, http.StatusAccepted, taskResponse{
		TaskID:  start.ID,
		Status:  "pending",
		TaskIDs: taskIDs(chain),
	})
}

func stopMetadata(force bool) (string, error) {
	if !force {
		return "", nil
	}
	return types.EncodeMetadata(zoneActionRequest{Force: true})
}
