package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/console"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/hostcmd"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/taskengine"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

const (
	// defaultCmdTimeout bounds one-shot host utilities (dladm, useradd).
	defaultCmdTimeout = 2 * time.Minute
	// defaultPkgTimeout bounds pkg install/uninstall, which may download.
	defaultPkgTimeout = 15 * time.Minute
	// defaultExtractTimeout bounds artifact extraction and zfs receive.
	defaultExtractTimeout = 30 * time.Minute

	// dialTimeout bounds one SSH connection attempt.
	dialTimeout = 30 * time.Second
)

// Deps carries the shared state task handlers execute against.
type Deps struct {
	Store     storage.Store
	Zones     *zones.Manager
	Runner    hostcmd.Runner
	Consoles  *console.Manager
	Provision config.ProvisionConfig
	Host      string
}

// set binds Deps to the handler methods. Tests construct it directly to
// shorten timeouts and swap the passwd command.
type set struct {
	Deps

	logger         zerolog.Logger
	cmdTimeout     time.Duration
	pkgTimeout     time.Duration
	extractTimeout time.Duration
	newPasswordCmd func(username string) *exec.Cmd
}

func newSet(deps Deps) *set {
	return &set{
		Deps:           deps,
		logger:         log.WithComponent("handlers"),
		cmdTimeout:     defaultCmdTimeout,
		pkgTimeout:     defaultPkgTimeout,
		extractTimeout: defaultExtractTimeout,
		newPasswordCmd: func(username string) *exec.Cmd {
			return exec.Command("passwd", username)
		},
	}
}

// Register binds every zone lifecycle, provisioning, and host operation to
// reg. Aggregate parent operations get no handler: they never reach pending
// and are settled by the engine once their children finish.
func Register(reg *taskengine.Registry, deps Deps) {
	s := newSet(deps)

	reg.RegisterFunc(types.OpStart, s.start)
	reg.RegisterFunc(types.OpStop, s.stop)
	reg.RegisterFunc(types.OpDelete, s.deleteZone)
	reg.RegisterFunc(types.OpZoneCreate, s.zoneCreate)
	reg.RegisterFunc(types.OpZoneModify, s.zoneModify)

	reg.RegisterFunc(types.OpZoneProvisioningExtract, s.extract)
	reg.RegisterFunc(types.OpZoneSetup, s.zoneSetup)
	reg.RegisterFunc(types.OpZoneWaitSSH, s.waitSSH)
	reg.RegisterFunc(types.OpZoneSync, s.zoneSync)
	reg.RegisterFunc(types.OpZoneProvision, s.zoneProvision)

	reg.RegisterFunc(types.OpCreateVNIC, s.createVNIC)
	reg.RegisterFunc(types.OpDeleteVNIC, s.deleteVNIC)
	reg.RegisterFunc(types.OpSetVNICProperties, s.setVNICProperties)
	reg.RegisterFunc(types.OpPkgInstall, s.pkgInstall)
	reg.RegisterFunc(types.OpPkgUninstall, s.pkgUninstall)
	reg.RegisterFunc(types.OpUserCreate, s.userCreate)
	reg.RegisterFunc(types.OpUserModify, s.userModify)
	reg.RegisterFunc(types.OpUserDelete, s.userDelete)
	reg.RegisterFunc(types.OpUserSetPassword, s.userSetPassword)
	reg.RegisterFunc(types.OpUserLock, s.userLock)
	reg.RegisterFunc(types.OpUserUnlock, s.userUnlock)
	reg.RegisterFunc(types.OpGroupCreate, s.groupCreate)
	reg.RegisterFunc(types.OpGroupModify, s.groupModify)
	reg.RegisterFunc(types.OpGroupDelete, s.groupDelete)
	reg.RegisterFunc(types.OpRoleCreate, s.roleCreate)
	reg.RegisterFunc(types.OpRoleModify, s.roleModify)
	reg.RegisterFunc(types.OpRoleDelete, s.roleDelete)
}

// refreshZone re-reads zoneadm state after a lifecycle change so the zones
// table tracks reality without waiting for the next discovery pass.
func (s *set) refreshZone(ctx context.Context, name string) error {
	hz, err := s.Zones.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("refresh zone %s: %w", name, err)
	}
	return s.Store.UpsertZone(ctx, zoneRecord(s.Host, hz))
}

// zoneRecord maps an observed zone onto the stored shape. Configuration is
// left empty so UpsertZone preserves whatever document is already stored.
func zoneRecord(host string, hz *zones.HostZone) *types.Zone {
	return &types.Zone{
		Name:     hz.Name,
		ZoneID:   hz.UUID,
		Host:     host,
		Brand:    hz.Brand,
		Status:   hz.Status,
		Zonepath: hz.Zonepath,
		LastSeen: time.Now().UTC(),
	}
}

func (s *set) host(ctx context.Context, name string, args ...string) error {
	_, err := hostcmd.Output(ctx, s.Runner, s.cmdTimeout, name, args...)
	return err
}
