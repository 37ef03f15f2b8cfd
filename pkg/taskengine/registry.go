package taskengine

import (
	"context"

	"github.com/Makr91/zoneweaver-api-sub005/pkg/types"
)

// Handler executes one operation. The task record is a snapshot taken at
// claim time; handlers read metadata from it and must observe ctx at their
// checkpoints, between host commands and between SSH steps.
type Handler interface {
	Execute(ctx context.Context, task *types.Task) error
}

// HandlerFunc adapts a function to the Handler interface
type HandlerFunc func(ctx context.Context, task *types.Task) error

// Execute implements Handler
func (f HandlerFunc) Execute(ctx context.Context, task *types.Task) error {
	return f(ctx, task)
}

// Registry binds operations to handlers. All registration happens during
// startup, before the engine runs; lookups afterwards take no lock.
type Registry struct {
	handlers map[types.Operation]Handler
}

// NewRegistry returns an empty handler registry
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[types.Operation]Handler)}
}

// Register binds op to h, replacing any previous binding.
func (r *Registry) Register(op types.Operation, h Handler) {
	r.handlers[op] = h
}

// RegisterFunc binds op to f.
func (r *Registry) RegisterFunc(op types.Operation, f HandlerFunc) {
	r.Register(op, f)
}

// Lookup returns the handler bound to op.
func (r *Registry) Lookup(op types.Operation) (Handler, bool) {
	h, ok := r.handlers[op]
	return h, ok
}

// Operations returns the registered operation names.
func (r *Registry) Operations() []types.Operation {
	ops := make([]types.Operation, 0, len(r.handlers))
	for op := range r.handlers {
		ops = append(ops, op)
	}
	return ops
}
