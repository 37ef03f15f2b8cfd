// Package zones drives zone state transitions through zoneadm and zonecfg.
// It is the only place the agent interprets zoneadm output; everything else
// works from the parsed HostZone records or the Store's zone rows.
package zones

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/parse"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

const (
	// GlobalZone never appears in the agent's zone inventory.
	GlobalZone = "global"

	defaultListTimeout    = 30 * time.Second
	defaultOpTimeout      = 5 * time.Minute
	defaultInstallTimeout = 30 * time.Minute
)

// ErrNotFound reports a zone the host does not know about.
var ErrNotFound = errors.New("zone not found on host")

// HostZone is one record from `zoneadm list -cp`:
// zoneid:zonename:state:zonepath:uuid:brand:ip-type. RuntimeID is the
// numeric zone id while running and "-" otherwise; UUID is empty until
// the zone is installed.
type HostZone struct {
	RuntimeID string
	Name      string
	Status    types.ZoneStatus
	Zonepath  string
	UUID      string
	Brand     string
	IPType    string
}

// stateStatus maps zoneadm state tokens to the agent's zone status.
var stateStatus = map[string]types.ZoneStatus{
	"configured":    types.ZoneStatusConfigured,
	"incomplete":    types.ZoneStatusIncomplete,
	"installed":     types.ZoneStatusInstalled,
	"ready":         types.ZoneStatusReady,
	"running":       types.ZoneStatusRunning,
	"shutting_down": types.ZoneStatusShuttingDown,
	"down":          types.ZoneStatusDown,
}

// StatusFromState maps a zoneadm state token to a zone status. States this
// build does not know (newer releases add them) map to unknown rather than
// failing the listing.
func StatusFromState(state string) types.ZoneStatus {
	if s, ok := stateStatus[strings.ToLower(state)]; ok {
		return s
	}
	return types.ZoneStatusUnknown
}

// Manager executes zone lifecycle operations on this host. Methods block
// until the underlying utility exits; callers run them from task handlers,
// never from request paths.
type Manager struct {
	runner hostcmd.Runner
	logger zerolog.Logger

	// OpTimeout bounds boot, stop, reboot, attach, uninstall and config
	// changes. Zero means 5 minutes.
	OpTimeout time.Duration
	// InstallTimeout bounds zoneadm install, which copies an image.
	// Zero means 30 minutes.
	InstallTimeout time.Duration
}

// NewManager returns a Manager that shells out through runner.
func NewManager(runner hostcmd.Runner) *Manager {
	return &Manager{
		runner: runner,
		logger: log.WithComponent("zones"),
	}
}

// List returns every non-global zone the host reports, in zoneadm order.
func (m *Manager) List(ctx context.Context) ([]HostZone, error) {
	out, err := hostcmd.Output(ctx, m.runner, m.listTimeout(), "zoneadm", "list", "-cp")
	if err != nil {
		return nil, fmt.Errorf("zoneadm list: %w", err)
	}
	return m.parseList(out), nil
}

// Get returns the host's record for one zone, or ErrNotFound.
func (m *Manager) Get(ctx context.Context, name string) (*HostZone, error) {
	zones, err := m.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range zones {
		if zones[i].Name == name {
			return &zones[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// parseList decodes zoneadm's parseable listing. Newer releases append
// columns after ip-type, so only the first seven fields are read. Records
// that cannot carry seven fields, header rows from a utility that ignored
// -p, and the global zone are skipped.
func (m *Manager) parseList(out string) []HostZone {
	var zones []HostZone
	for _, line := range parse.Lines(out) {
		fields := parse.SplitColon(line)
		if len(fields) < 7 {
			m.logger.Debug().Str("line", line).Msg("skipping short zoneadm record")
			continue
		}
		if fields[0] == "ID" || parse.IsHeaderField(fields[0]) {
			m.logger.Debug().Str("line", line).Msg("skipping zoneadm header row")
			continue
		}
		if fields[1] == GlobalZone {
			continue
		}
		zones = append(zones, HostZone{
			RuntimeID: fields[0],
			Name:      fields[1],
			Status:    StatusFromState(fields[2]),
			Zonepath:  fields[3],
			UUID:      fields[4],
			Brand:     fields[5],
			IPType:    fields[6],
		})
	}
	return zones
}

// Boot starts a zone.
func (m *Manager) Boot(ctx context.Context, name string) error {
	m.logger.Info().Str("zone", name).Msg("booting zone")
	return m.zoneadm(ctx, m.opTimeout(), name, "boot")
}

// Stop takes a zone down. Unless force is set a graceful shutdown runs
// first; if it fails the zone is halted so stop always converges.
func (m *Manager) Stop(ctx context.Context, name string, force bool) error {
	if !force {
		m.logger.Info().Str("zone", name).Msg("shutting down zone")
		err := m.zoneadm(ctx, m.opTimeout(), name, "shutdown")
		if err == nil {
			return nil
		}
		m.logger.Warn().Str("zone", name).Err(err).Msg("graceful shutdown failed, halting")
	} else {
		m.logger.Info().Str("zone", name).Msg("halting zone")
	}
	return m.zoneadm(ctx, m.opTimeout(), name, "halt")
}

// Reboot restarts a running zone.
func (m *Manager) Reboot(ctx context.Context, name string) error {
	m.logger.Info().Str("zone", name).Msg("rebooting zone")
	return m.zoneadm(ctx, m.opTimeout(), name, "reboot")
}

// Install installs a configured zone. Installer arguments (image sources,
// template options) pass through unchanged.
func (m *Manager) Install(ctx context.Context, name string, args ...string) error {
	m.logger.Info().Str("zone", name).Msg("installing zone")
	return m.zoneadm(ctx, m.installTimeout(), name, append([]string{"install"}, args...)...)
}

// Attach marks a configured zone installed once its root dataset is in
// place, as after an artifact extraction. Force skips the package
// validation that an extracted image cannot satisfy.
func (m *Manager) Attach(ctx context.Context, name string, force bool) error {
	m.logger.Info().Str("zone", name).Bool("force", force).Msg("attaching zone")
	args := []string{"attach"}
	if force {
		args = append(args, "-F")
	}
	return m.zoneadm(ctx, m.opTimeout(), name, args...)
}

// Uninstall removes a zone's root dataset, returning it to configured.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	m.logger.Info().Str("zone", name).Msg("uninstalling zone")
	return m.zoneadm(ctx, m.opTimeout(), name, "uninstall", "-F")
}

// DeleteConfig removes a zone's configuration. The zone must already be
// uninstalled; zoneadm refuses otherwise and the error surfaces here.
func (m *Manager) DeleteConfig(ctx context.Context, name string) error {
	if !types.ValidZoneName(name) {
		return fmt.Errorf("invalid zone name %q", name)
	}
	m.logger.Info().Str("zone", name).Msg("deleting zone configuration")
	if _, err := hostcmd.Output(ctx, m.runner, m.opTimeout(), "zonecfg", "-z", name, "delete", "-F"); err != nil {
		return fmt.Errorf("zonecfg delete %s: %w", name, err)
	}
	return nil
}

// Configure applies a zonecfg command script to a zone. The script is the
// semicolon-separated form zonecfg accepts as a single argument; use
// CreateScript or ModifyScript to render one from a configuration document.
func (m *Manager) Configure(ctx context.Context, name, script string) error {
	if !types.ValidZoneName(name) {
		return fmt.Errorf("invalid zone name %q", name)
	}
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("empty zonecfg script for zone %s", name)
	}
	m.logger.Info().Str("zone", name).Msg("applying zone configuration")
	if _, err := hostcmd.Output(ctx, m.runner, m.opTimeout(), "zonecfg", "-z", name, script); err != nil {
		return fmt.Errorf("zonecfg %s: %w", name, err)
	}
	return nil
}

// ExportConfig returns a zone's configuration as a zonecfg command script.
func (m *Manager) ExportConfig(ctx context.Context, name string) (string, error) {
	if !types.ValidZoneName(name) {
		return "", fmt.Errorf("invalid zone name %q", name)
	}
	out, err := hostcmd.Output(ctx, m.runner, m.listTimeout(), "zonecfg", "-z", name, "export")
	if err != nil {
		return "", fmt.Errorf("zonecfg export %s: %w", name, err)
	}
	return out, nil
}

// zoneadm runs one zoneadm subcommand against a named zone.
func (m *Manager) zoneadm(ctx context.Context, timeout time.Duration, name string, args ...string) error {
	if !types.ValidZoneName(name) {
		return fmt.Errorf("invalid zone name %q", name)
	}
	argv := append([]string{"-z", name}, args...)
	if _, err := hostcmd.Output(ctx, m.runner, timeout, "zoneadm", argv...); err != nil {
		return fmt.Errorf("zoneadm %s %s: %w", args[0], name, err)
	}
	return nil
}

func (m *Manager) listTimeout() time.Duration {
	return defaultListTimeout
}

func (m *Manager) opTimeout() time.Duration {
	if m.OpTimeout > 0 {
		return m.OpTimeout
	}
	return defaultOpTimeout
}

func (m *Manager) installTimeout() time.Duration {
	if m.InstallTimeout > 0 {
		return m.InstallTimeout
	}
	return defaultInstallTimeout
}
