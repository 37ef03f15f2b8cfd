package provision

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/config"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/log"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/remote"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/zones"
)

// probeTimeout bounds the pre-flight SSH check. It only decides whether the
// console recipe can be skipped, so a quick no is better than a slow yes.
const probeTimeout = 3 * time.Second

// ProbeFunc is the SSH reachability check the planner consults before
// deciding whether a console recipe is still needed.
type ProbeFunc func(ctx context.Context, target remote.Target, timeout time.Duration) error

// Planner turns a zone's stored provisioning configuration into the
// orchestration task chain the engine executes.
type Planner struct {
	store  storage.Store
	cfg    config.ProvisionConfig
	probe  ProbeFunc
	logger zerolog.Logger
}

func NewPlanner(store storage.Store, cfg config.ProvisionConfig) *Planner {
	return &Planner{
		store:  store,
		cfg:    cfg,
		probe:  remote.Probe,
		logger: log.WithComponent("provision"),
	}
}

// Plan validates the zone's provisioning configuration, decides which steps
// apply, and inserts the whole chain atomically. The returned slice starts
// with the orchestration parent; the store is left untouched on any error.
func (p *Planner) Plan(ctx context.Context, zoneName, createdBy string) ([]*types.Task, error) {
	in, err := p.prepare(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	zone, cfg, prov := in.zone, in.cfg, in.prov
	creds, ip, port := in.creds, in.ip, in.port

	target := remote.Target{IP: ip, Port: port, Credentials: creds}
	reachable := p.probe(ctx, target, probeTimeout) == nil

	orch := &types.Task{
		ID:        uuid.NewString(),
		ZoneName:  zone.Name,
		Operation: types.OpZoneProvisionOrch,
		CreatedBy: createdBy,
	}
	b := chainBuilder{orch: orch, createdBy: createdBy, zone: zone.Name}

	if prov.ArtifactID != "" {
		zonepath := cfg.Zonepath
		if zonepath == "" {
			zonepath = zone.Zonepath
		}
		if zonepath == "" {
			return nil, fmt.Errorf("%w: zone %s has no zonepath to derive an extraction dataset",
				storage.ErrValidation, zoneName)
		}
		if err := b.step(types.OpZoneProvisioningExtract, orch.ID, types.ExtractMetadata{
			ArtifactID:  prov.ArtifactID,
			DatasetPath: zones.DatasetForZonepath(zonepath),
		}); err != nil {
			return nil, err
		}
	}
	if !prov.SkipBoot && zone.Status != types.ZoneStatusRunning {
		if err := b.step(types.OpStart, orch.ID, nil); err != nil {
			return nil, err
		}
	}
	if prov.RecipeID != "" && !prov.SkipRecipe && !reachable {
		if err := b.step(types.OpZoneSetup, orch.ID, types.SetupMetadata{
			RecipeID:    prov.RecipeID,
			Credentials: creds,
		}); err != nil {
			return nil, err
		}
	}
	if err := b.step(types.OpZoneWaitSSH, orch.ID, types.WaitSSHMetadata{
		IP:             ip,
		Port:           port,
		Credentials:    creds,
		TimeoutSeconds: p.cfg.SSHTimeoutSeconds,
	}); err != nil {
		return nil, err
	}

	if n := len(prov.Folders); n > 0 {
		parent, err := b.aggregate(types.OpZoneSyncParent, types.SyncParentMetadata{TotalFolders: n})
		if err != nil {
			return nil, err
		}
		for i, folder := range prov.Folders {
			if err := b.step(types.OpZoneSync, parent.ID, types.SyncMetadata{
				Folder:      folder,
				IP:          ip,
				Port:        port,
				Credentials: creds,
				Index:       i + 1,
				Total:       n,
			}); err != nil {
				return nil, err
			}
		}
	}
	if n := len(prov.Provisioners); n > 0 {
		parent, err := b.aggregate(types.OpZoneProvisionParent, types.ProvisionParentMetadata{TotalProvisioners: n})
		if err != nil {
			return nil, err
		}
		for i, pr := range prov.Provisioners {
			if err := b.step(types.OpZoneProvision, parent.ID, types.ProvisionMetadata{
				Provisioner: pr,
				IP:          ip,
				Port:        port,
				Credentials: creds,
				Index:       i + 1,
				Total:       n,
			}); err != nil {
				return nil, err
			}
		}
	}

	inserted, err := p.store.InsertTaskChain(ctx, b.tasks())
	if err != nil {
		return nil, err
	}
	p.logger.Info().
		Str("zone", zone.Name).
		Str("task_id", orch.ID).
		Int("steps", len(inserted)-1).
		Bool("ssh_reachable", reachable).
		Msg("Provisioning chain queued")
	return inserted, nil
}

// planInput is the validated material every chain starts from. prepare
// rejects zones whose stored configuration cannot drive remote steps and
// refuses to stack a new chain on one still in flight: the chain's first
// runnable step may be a non-mutex operation, so the store's per-operation
// dedup alone cannot catch that.
type planInput struct {
	zone  *types.Zone
	cfg   *types.ZoneConfiguration
	prov  *types.ProvisioningConfig
	creds types.Credentials
	ip    string
	port  int
}

func (p *Planner) prepare(ctx context.Context, zoneName string) (*planInput, error) {
	zone, err := p.store.GetZone(ctx, zoneName)
	if err != nil {
		return nil, err
	}
	cfg, err := types.ParseZoneConfiguration(zone.Configuration)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrValidation, err)
	}
	prov := cfg.Provisioning
	if prov == nil {
		return nil, fmt.Errorf("%w: zone %s has no provisioning configuration", storage.ErrValidation, zoneName)
	}
	if prov.Credentials == nil || prov.Credentials.Username == "" {
		return nil, fmt.Errorf("%w: provisioning credentials with a username are required", storage.ErrValidation)
	}
	ip := cfg.TargetIP()
	if ip == "" {
		return nil, fmt.Errorf("%w: no resolvable target address for zone %s", storage.ErrValidation, zoneName)
	}
	if err := p.checkActive(ctx, zoneName); err != nil {
		return nil, err
	}
	return &planInput{
		zone:  zone,
		cfg:   cfg,
		prov:  prov,
		creds: *prov.Credentials,
		ip:    ip,
		port:  cfg.SSHPort(),
	}, nil
}

// checkActive enforces one chain at a time per zone. Every chain kind shares
// the zone's SSH target, so a sync racing an orchestration would interleave
// on the same guest.
func (p *Planner) checkActive(ctx context.Context, zoneName string) error {
	for _, op := range types.AggregateOperations() {
		active, err := p.store.ListTasks(ctx, storage.TaskFilter{
			ZoneName:  zoneName,
			Operation: op,
			Statuses:  []types.TaskStatus{types.TaskStatusPending, types.TaskStatusRunning},
			Limit:     1,
		})
		if err != nil {
			return err
		}
		if len(active) > 0 {
			return fmt.Errorf("%w: %s already in flight for zone %s as task %s",
				storage.ErrConflict, op, zoneName, active[0].ID)
		}
	}
	return nil
}

// chainBuilder accumulates the orchestration chain. Runnable steps are
// serialized by depends_on; aggregate parents group children but are never
// depended on, so a parent that settles early cannot release a child.
type chainBuilder struct {
	orch      *types.Task
	createdBy string
	zone      string
	steps     []*types.Task
	prev      string
}

func (b *chainBuilder) step(op types.Operation, parentID string, meta interface{}) error {
	raw := ""
	if meta != nil {
		enc, err := types.EncodeMetadata(meta)
		if err != nil {
			return err
		}
		raw = enc
	}
	t := &types.Task{
		ID:           uuid.NewString(),
		ZoneName:     b.zone,
		Operation:    op,
		DependsOn:    b.prev,
		ParentTaskID: parentID,
		Metadata:     raw,
		CreatedBy:    b.createdBy,
	}
	b.steps = append(b.steps, t)
	b.prev = t.ID
	return nil
}

// aggregate adds a grouping parent under the orchestration task. Its
// depends_on records where in the chain the group sits, for display only;
// the store never gates on dependencies of running tasks.
func (b *chainBuilder) aggregate(op types.Operation, meta interface{}) (*types.Task, error) {
	raw, err := types.EncodeMetadata(meta)
	if err != nil {
		return nil, err
	}
	t := &types.Task{
		ID:           uuid.NewString(),
		ZoneName:     b.zone,
		Operation:    op,
		DependsOn:    b.prev,
		ParentTaskID: b.orch.ID,
		Metadata:     raw,
		CreatedBy:    b.createdBy,
	}
	b.steps = append(b.steps, t)
	return t, nil
}

func (b *chainBuilder) tasks() []*types.Task {
	return append([]*types.Task{b.orch}, b.steps...)
}
