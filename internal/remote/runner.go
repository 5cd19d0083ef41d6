// Package remote is the in-container side of the lifecycle: it fetches the
// payload written at dispatch time, invokes the registered handler, and
// writes the result envelope back to the shared store. A handler error makes
// the runner exit non-zero so the run stops in the FAILED state.
package remote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halverson/offload/internal/result"
	"github.com/halverson/offload/internal/task"
)

// Runner executes one payload against a handler registry.
type Runner struct {
	store    result.ObjectStore
	registry *task.Registry
	logger   *slog.Logger
}

// NewRunner creates a runner over the shared store and registry.
func NewRunner(store result.ObjectStore, registry *task.Registry, logger *slog.Logger) *Runner {
	return &Runner{store: store, registry: registry, logger: logger}
}

// Run fetches the payload at payloadKey, invokes its handler, and uploads the
// result envelope to resultKey. Any error leaves no envelope behind; the
// submitting side reads the failure from the run state and logs instead.
func (r *Runner) Run(ctx context.Context, payloadKey, resultKey string) error {
	raw, err := r.store.Get(ctx, payloadKey)
	if err != nil {
		return fmt.Errorf("fetch payload: %w", err)
	}

	payload, err := task.DecodePayload(raw)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	r.logger.Info("payload received",
		"invocation_id", payload.InvocationID,
		"task", payload.TaskName,
	)

	value, err := r.registry.Invoke(ctx, payload)
	if err != nil {
		return fmt.Errorf("invoke task %q: %w", payload.TaskName, err)
	}

	envelope, err := task.EncodeResult(payload.InvocationID, value)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := r.store.Put(ctx, resultKey, envelope); err != nil {
		return fmt.Errorf("upload result: %w", err)
	}

	r.logger.Info("result uploaded",
		"invocation_id", payload.InvocationID,
		"result_key", resultKey,
	)
	return nil
}
