package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// DispatchError reports a run submission that must not be retried. When
// Ambiguous is set, the backend may have accepted the run even though no
// handle was returned; retrying could place a duplicate run, so the
// invocation is poisoned instead.
type DispatchError struct {
	InvocationID string
	Ambiguous    bool
	Err          error
}

func (e *DispatchError) Error() string {
	if e.Ambiguous {
		return fmt.Sprintf("dispatch invocation %s: acknowledgment lost, run may already be placed: %v", e.InvocationID, e.Err)
	}
	return fmt.Sprintf("dispatch invocation %s: %v", e.InvocationID, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Dispatcher submits runs with at-most-one-run semantics per invocation id.
// The backend offers no native dedup key, so a lost acknowledgment is fatal
// for the invocation rather than silently retried.
type Dispatcher struct {
	cp     ControlPlane
	logger *slog.Logger

	mu      sync.Mutex
	handles map[string]string // invocation id -> run handle; "" while poisoned or in flight
}

// NewDispatcher creates a dispatcher over the given control plane.
func NewDispatcher(cp ControlPlane, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cp:      cp,
		logger:  logger,
		handles: make(map[string]string),
	}
}

// Dispatch submits exactly one run for the invocation and returns the
// backend-assigned handle. A second call for the same invocation id returns
// DispatchError regardless of how the first attempt ended.
func (d *Dispatcher) Dispatch(ctx context.Context, invocationID, revision string, p Placement) (string, error) {
	d.mu.Lock()
	if _, seen := d.handles[invocationID]; seen {
		d.mu.Unlock()
		return "", &DispatchError{
			InvocationID: invocationID,
			Err:          errors.New("invocation already dispatched"),
		}
	}
	// Reserve the slot before the network call so a concurrent retry can
	// never race a second run into existence.
	d.handles[invocationID] = ""
	d.mu.Unlock()

	handle, err := d.cp.StartRun(ctx, revision, p)
	if err != nil {
		var rejected *RunRejectedError
		if errors.As(err, &rejected) {
			// The backend answered and refused: provably no run exists, but
			// the submission itself is not retried.
			return "", &DispatchError{InvocationID: invocationID, Err: err}
		}
		// The request may have reached the backend before the failure. There
		// is no way to know whether a run was placed.
		return "", &DispatchError{InvocationID: invocationID, Ambiguous: true, Err: err}
	}

	d.mu.Lock()
	d.handles[invocationID] = handle
	d.mu.Unlock()

	d.logger.Info("run dispatched",
		"invocation_id", invocationID,
		"run_handle", handle,
		"revision", revision,
	)
	return handle, nil
}

// Stop sends a best-effort termination signal for a dispatched run. The
// remote side may still complete independently.
func (d *Dispatcher) Stop(ctx context.Context, clusterID, handle, reason string) error {
	return d.cp.StopRun(ctx, clusterID, handle, reason)
}
