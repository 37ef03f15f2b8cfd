package provision

import (
	"context"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/storage"
	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Orchestration bundles an orchestration parent with every task under it.
// Steps are in creation order, with grouped children spliced in directly
// after their grouping parent.
type Orchestration struct {
	Task  *types.Task   `json:"task"`
	Steps []*types.Task `json:"steps"`
}

// Latest returns the most recent orchestration for a zone with its full
// task tree, or storage.ErrNotFound when the zone was never provisioned.
func (p *Planner) Latest(ctx context.Context, zoneName string) (*Orchestration, error) {
	parents, err := p.store.ListTasks(ctx, storage.TaskFilter{
		ZoneName:  zoneName,
		Operation: types.OpZoneProvisionOrch,
		Limit:     1,
	})
	if err != nil {
		return nil, err
	}
	if len(parents) == 0 {
		return nil, storage.ErrNotFound
	}
	parent := parents[0]

	children, err := p.store.ListTaskChildren(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	steps := make([]*types.Task, 0, len(children))
	for _, c := range children {
		steps = append(steps, c)
		if !types.AggregateOperation(c.Operation) {
			continue
		}
		grand, err := p.store.ListTaskChildren(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		steps = append(steps, grand...)
	}
	return &Orchestration{Task: parent, Steps: steps}, nil
}
