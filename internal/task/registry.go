package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler is a registered task function. Args arrive as the raw JSON the
// caller supplied at invocation time; the returned value is serialized into
// the result envelope.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Registry maps task names to handlers. The same names must be registered in
// the runner binary baked into the container image as in the submitting
// process, or remote invocations fail at resolution time.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler under the given name, replacing any previous one.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// Resolve returns the handler registered under name.
func (r *Registry) Resolve(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("no handler registered for task %q", name)
	}
	return h, nil
}

// Invoke resolves and runs the handler for a decoded payload. A handler error
// propagates to the caller; the run reports failure through its exit code
// rather than through a result envelope.
func (r *Registry) Invoke(ctx context.Context, p *Payload) (any, error) {
	h, err := r.Resolve(p.TaskName)
	if err != nil {
		return nil, err
	}
	return h(ctx, p.Args)
}
