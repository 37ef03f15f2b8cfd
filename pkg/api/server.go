package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/console"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/metrics"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/provision"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/vnc"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

// createdBy marks tasks queued through the HTTP surface.
const createdBy = "api"

// Waker nudges the task engine after an insert so a queued task does not
// wait for the next poll tick. Implemented by *taskengine.Engine.
type Waker interface {
	Wake()
}

// Planner plans provisioning chains. Implemented by *provision.Planner.
type Planner interface {
	Plan(ctx context.Context, zoneName, createdBy string) ([]*types.Task, error)
	PlanSync(ctx context.Context, zoneName, createdBy string) ([]*types.Task, error)
	PlanProvisioners(ctx context.Context, zoneName, createdBy string) ([]*types.Task, error)
	Latest(ctx context.Context, zoneName string) (*provision.Orchestration, error)
}

// Deps are the components the HTTP surface fronts.
type Deps struct {
	Store     storage.Store
	Engine    Waker
	Planner   Planner
	Zones     *zones.Manager
	Consoles  *console.Manager
	Terminals *console.TerminalManager
	VNC       *vnc.Manager
	Host      string
}

// Server serves the agent's REST and WebSocket API.
type Server struct {
	cfg       config.ServerConfig
	store     storage.Store
	engine    Waker
	planner   Planner
	zones     *zones.Manager
	consoles  *console.Manager
	terminals *console.TerminalManager
	vnc       *vnc.Manager
	host      string
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
}

func New(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{
		cfg:       cfg,
		store:     deps.Store,
		engine:    deps.Engine,
		planner:   deps.Planner,
		zones:     deps.Zones,
		consoles:  deps.Consoles,
		terminals: deps.Terminals,
		vnc:       deps.VNC,
		host:      deps.Host,
		logger:    log.WithComponent("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origin policy belongs to the fronting reverse proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Route("/zones", func(r chi.Router) {
		r.Get("/", s.listZones)
		r.Post("/", s.createZone)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.getZone)
			r.Put("/", s.modifyZone)
			r.Delete("/", s.deleteZone)
			r.Get("/config", s.getZoneConfig)
			r.Post("/start", s.startZone)
			r.Post("/stop", s.stopZone)
			r.Post("/restart", s.restartZone)
			r.Post("/provision", s.provisionZone)
			r.Get("/provision/status", s.provisionStatus)
			r.Post("/sync", s.syncZone)
			r.Post("/run-provisioners", s.runProvisioners)
			r.Post("/zlogin/start", s.startConsole)
			r.Post("/vnc/start", s.startVNC)
			r.Get("/vnc/info", s.vncInfo)
			r.Delete("/vnc/stop", s.stopVNC)
		})
	})

	r.Route("/provisioning/profiles", func(r chi.Router) {
		r.Get("/", s.listProfiles)
		r.Post("/", s.createProfile)
		r.Get("/{id}", s.getProfile)
		r.Put("/{id}", s.updateProfile)
		r.Delete("/{id}", s.deleteProfile)
	})

	r.Route("/recipes", func(r chi.Router) {
		r.Get("/", s.listRecipes)
		r.Post("/", s.createRecipe)
		r.Get("/{id}", s.getRecipe)
		r.Put("/{id}", s.updateRecipe)
		r.Delete("/{id}", s.deleteRecipe)
	})

	r.Route("/zlogin/sessions", func(r chi.Router) {
		r.Get("/", s.listConsoleSessions)
		r.Get("/{id}", s.getConsoleSession)
		r.Delete("/{id}/stop", s.stopConsoleSession)
		r.Get("/{id}/ws", s.consoleWS)
	})

	r.Route("/terminal", func(r chi.Router) {
		r.Post("/start", s.startTerminal)
		r.Get("/sessions", s.listTerminalSessions)
		r.Get("/sessions/{id}", s.getTerminalSession)
		r.Delete("/sessions/{id}/stop", s.stopTerminalSession)
		r.Get("/sessions/{id}/ws", s.terminalWS)
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.listTasks)
		r.Post("/", s.createTask)
		r.Get("/{id}", s.getTask)
		r.Delete("/{id}", s.cancelTask)
	})

	r.Get("/stats", s.stats)
	r.Get("/host/info", s.hostInfo)
	r.Route("/monitoring", func(r chi.Router) {
		r.Get("/network/usage", s.networkUsage)
		r.Get("/network/interfaces", s.networkInterfaces)
		r.Get("/cpu", s.cpuStats)
		r.Get("/memory", s.memoryStats)
		r.Get("/storage/disks", s.storageDisks)
		r.Get("/storage/io", s.storageIO)
		r.Get("/storage/pools", s.storagePools)
		r.Get("/storage/arc", s.storageARC)
		r.Get("/pci", s.pciDevices)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/health", metrics.HealthHandler())
	r.Get("/ready", metrics.ReadyHandler())
	r.Get("/live", metrics.LivenessHandler())
	return r
}

// Run serves until the context ends, then drains in-flight requests for
// the configured shutdown window. Connection read/write deadlines stay
// unset: console and VNC WebSocket sessions live for hours, so abuse is
// bounded by the header timeout instead.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.BindAddress,
		Handler:           s.router(),
		ReadHeaderTimeout: s.readHeaderTimeout(),
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info().Str("addr", s.cfg.BindAddress).Msg("API listening")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Msg("Forcing API server close")
		_ = srv.Close()
	}
	<-errc
	return ctx.Err()
}

func (s *Server) readHeaderTimeout() time.Duration {
	if s.cfg.ReadTimeoutSeconds > 0 {
		return time.Duration(s.cfg.ReadTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.ShutdownTimeoutSeconds > 0 {
		return time.Duration(s.cfg.ShutdownTimeoutSeconds) * time.Second
	}
	return 10 * time.Second
}
