package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/oklog/run"
	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/api"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/collectors"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/console"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/metrics"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/provision"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/reconciler"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/taskengine"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/taskengine/handlers"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/vnc"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

// Agent is the assembled zoneweaverd process.
type Agent struct {
	cfg    *config.Config
	logger zerolog.Logger
}

// New builds an agent from a validated configuration. Nothing is opened or
// started until Run.
func New(cfg *config.Config) *Agent {
	return &Agent{
		cfg:    cfg,
		logger: log.WithComponent("agent"),
	}
}

// Run opens the store, recovers state interrupted by the previous process,
// starts every component and blocks until a signal arrives or a component
// fails. A clean signal-driven shutdown returns nil.
func (a *Agent) Run(version string) error {
	cfg := a.cfg

	st, err := storage.Open(cfg.Database.Path, cfg.Database.BusyTimeoutMS)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	applied, err := st.Migrate(ctx, false)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	if len(applied) > 0 {
		a.logger.Info().Int("migrations", len(applied)).Msg("Applied schema migrations")
	}

	if err := recoverState(ctx, st, a.logger); err != nil {
		return err
	}

	metrics.SetVersion(version)
	metrics.RegisterComponent("storage", true, "")

	runner := hostcmd.NewRunner()
	zm := zones.NewManager(runner)
	consoles := console.NewManager(cfg.Console, st)
	terminals := console.NewTerminalManager(cfg.Console, st)
	vncMgr := vnc.NewManager(st, cfg.VNC)

	registry := taskengine.NewRegistry()
	handlers.Register(registry, handlers.Deps{
		Store:     st,
		Zones:     zm,
		Runner:    runner,
		Consoles:  consoles,
		Provision: cfg.Provision,
		Host:      cfg.Host.Name,
	})
	engine := taskengine.New(cfg.TaskEngine, st, registry)
	planner := provision.NewPlanner(st, cfg.Provision)

	srv := api.New(cfg.Server, api.Deps{
		Store:     st,
		Engine:    engine,
		Planner:   planner,
		Zones:     zm,
		Consoles:  consoles,
		Terminals: terminals,
		VNC:       vncMgr,
		Host:      cfg.Host.Name,
	})

	sampler := metrics.NewCollector(st, consoles)
	sampler.Start()
	defer sampler.Stop()

	var g run.Group
	// Termination handler.
	{
		term := make(chan os.Signal, 1)
		cancel := make(chan struct{})
		signal.Notify(term, os.Interrupt, syscall.SIGTERM)
		g.Add(func() error {
			select {
			case sig := <-term:
				a.logger.Info().Str("signal", sig.String()).Msg("Shutting down")
			case <-cancel:
			}
			return nil
		}, func(error) {
			close(cancel)
		})
	}
	a.addActor(&g, "task_engine", engine.Run)
	a.addActor(&g, "collectors", collectors.New(st, runner, cfg.Collectors, cfg.Host.Name).Run)
	a.addActor(&g, "retention", collectors.NewSweeper(st, cfg.Retention).Run)
	a.addActor(&g, "reconciler", reconciler.New(st, zm, cfg.Collectors, cfg.Host.Name).Run)
	a.addActor(&g, "consoles", consoles.Run)
	a.addActor(&g, "terminals", terminals.Run)
	a.addActor(&g, "vnc", vncMgr.Run)
	a.addActor(&g, "api", srv.Run)

	a.logger.Info().
		Str("host", cfg.Host.Name).
		Str("version", version).
		Str("bind", cfg.Server.BindAddress).
		Msg("Agent started")

	if err := g.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.logger.Info().Msg("Agent stopped")
	return nil
}

// addActor slots a component Run loop into the group. Each actor gets its
// own context so the group can interrupt them all once any actor returns;
// context.Canceled from that interruption is a clean exit, anything else
// marks the component unhealthy and surfaces as the group error.
func (a *Agent) addActor(g *run.Group, name string, fn func(context.Context) error) {
	metrics.RegisterComponent(name, true, "")
	ctx, cancel := context.WithCancel(context.Background())
	g.Add(func() error {
		err := fn(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			metrics.UpdateComponent(name, false, err.Error())
			return fmt.Errorf("%s: %w", name, err)
		}
		return err
	}, func(error) {
		cancel()
	})
}

// recoverState reconciles rows left behind by the previous process: tasks
// stuck in running go back to pending, dependents of tasks that failed
// mid-flight are cancelled, settled aggregate parents are finalized, and
// session rows whose process is gone are closed. VNC rows are closed
// unconditionally because proxies live inside the agent process.
func recoverState(ctx context.Context, st storage.Store, logger zerolog.Logger) error {
	if n, err := st.ResetRunningTasks(ctx); err != nil {
		return fmt.Errorf("reset running tasks: %w", err)
	} else if n > 0 {
		logger.Info().Int64("tasks", n).Msg("Requeued tasks interrupted by restart")
	}
	if _, err := st.CascadeCancellations(ctx); err != nil {
		return fmt.Errorf("cascade cancellations: %w", err)
	}
	if _, err := st.FinalizeAggregateParents(ctx); err != nil {
		return fmt.Errorf("finalize parent tasks: %w", err)
	}

	consoles, err := st.ListConsoleSessions(ctx, false)
	if err != nil {
		return fmt.Errorf("list console sessions: %w", err)
	}
	for _, s := range consoles {
		if hostcmd.PIDAlive(s.PID) {
			// Reclaimed with a kill on the next connect to the zone.
			continue
		}
		if err := st.CloseConsoleSession(ctx, s.ID); err != nil {
			return fmt.Errorf("close stale console session %s: %w", s.ID, err)
		}
		logger.Info().Str("session_id", s.ID).Str("zone", s.ZoneName).
			Msg("Closed stale console session")
	}

	terminals, err := st.ListTerminalSessions(ctx, false)
	if err != nil {
		return fmt.Errorf("list terminal sessions: %w", err)
	}
	for _, s := range terminals {
		if hostcmd.PIDAlive(s.PID) {
			continue
		}
		if err := st.CloseTerminalSession(ctx, s.ID); err != nil {
			return fmt.Errorf("close stale terminal session %s: %w", s.ID, err)
		}
		logger.Info().Str("session_id", s.ID).Msg("Closed stale terminal session")
	}

	vncSessions, err := st.ListVNCSessions(ctx, false)
	if err != nil {
		return fmt.Errorf("list vnc sessions: %w", err)
	}
	for _, s := range vncSessions {
		if err := st.CloseVNCSession(ctx, s.ID); err != nil {
			return fmt.Errorf("close stale vnc session %s: %w", s.ID, err)
		}
		logger.Info().Str("session_id", s.ID).Str("zone", s.ZoneName).
			Msg("Closed stale VNC session")
	}
	return nil
}
