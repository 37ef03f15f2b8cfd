package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

const (
	defaultSeriesWindow = time.Hour
	defaultSeriesLimit  = 500
)

// sinceLimit reads the shared time-series query parameters. Without
// ?since the window is the last hour; without ?limit, 500 rows.
func sinceLimit(r *http.Request) (time.Time, int, error) {
	q := r.URL.Query()
	since := time.Now().Add(-defaultSeriesWindow)
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, 0, fmt.Errorf("%w: since must be RFC 3339: %v", storage.ErrValidation, err)
		}
		since = t
	}
	limit := defaultSeriesLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return time.Time{}, 0, fmt.Errorf("%w: limit must be a positive integer", storage.ErrValidation)
		}
		limit = n
	}
	return since, limit, nil
}

func (s *Server) hostInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.store.GetHostInfo(r.Context(), s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// statsResponse is the one-page operational summary behind GET /stats.
type statsResponse struct {
	Host               string                     `json:"host"`
	Zones              map[types.ZoneStatus]int   `json:"zones"`
	Tasks              map[types.TaskStatus]int64 `json:"tasks"`
	ConsoleSessions    int                        `json:"console_sessions"`
	TerminalSessions   int                        `json:"terminal_sessions"`
	VNCSessions        int                        `json:"vnc_sessions"`
	ConsoleSubscribers int                        `json:"console_subscribers"`
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	zs, err := s.store.ListZones(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	byStatus := make(map[types.ZoneStatus]int)
	for _, z := range zs {
		byStatus[z.Status]++
	}

	tasks, err := s.store.CountTasksByStatus(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	consoles, err := s.store.ListConsoleSessions(ctx, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	terminals, err := s.store.ListTerminalSessions(ctx, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	vncs, err := s.store.ListVNCSessions(ctx, false)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Host:               s.host,
		Zones:              byStatus,
		Tasks:              tasks,
		ConsoleSessions:    len(consoles),
		TerminalSessions:   len(terminals),
		VNCSessions:        len(vncs),
		ConsoleSubscribers: s.consoles.TotalSubscribers(),
	})
}

func (s *Server) networkUsage(w http.ResponseWriter, r *http.Request) {
	since, limit, err := sinceLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListNetworkUsageSince(r.Context(), s.host, r.URL.Query().Get("link"), since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// networkInterfaces bundles the host's current link, address and routing
// state; clients always want the three together.
func (s *Server) networkInterfaces(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	links, err := s.store.ListNetworkInterfaces(ctx, s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	addrs, err := s.store.ListIPAddresses(ctx, s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	routes, err := s.store.ListRoutes(ctx, s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"interfaces":   links,
		"ip_addresses": addrs,
		"routes":       routes,
	})
}

func (s *Server) cpuStats(w http.ResponseWriter, r *http.Request) {
	since, limit, err := sinceLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListCPUStatsSince(r.Context(), s.host, since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) memoryStats(w http.ResponseWriter, r *http.Request) {
	since, limit, err := sinceLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	samples, err := s.store.ListMemoryStatsSince(r.Context(), s.host, since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	swaps, err := s.store.ListSwapAreas(r.Context(), s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"samples":    samples,
		"swap_areas": swaps,
	})
}

func (s *Server) storageDisks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	disks, err := s.store.ListDisks(ctx, s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	datasets, err := s.store.ListZFSDatasets(ctx, s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"disks":    disks,
		"datasets": datasets,
	})
}

func (s *Server) storageIO(w http.ResponseWriter, r *http.Request) {
	since, limit, err := sinceLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListDiskIOStatsSince(r.Context(), s.host, since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) storagePools(w http.ResponseWriter, r *http.Request) {
	since, limit, err := sinceLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListPoolIOStatsSince(r.Context(), s.host, since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) storageARC(w http.ResponseWriter, r *http.Request) {
	since, limit, err := sinceLimit(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	rows, err := s.store.ListARCStatsSince(r.Context(), s.host, since, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) pciDevices(w http.ResponseWriter, r *http.Request) {
	rows, err := s.store.ListPCIDevices(r.Context(), s.host)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}
