package cluster

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/halverson/offload/internal/task"
)

// RegistrationError reports a task definition that could not be registered,
// either because local validation rejected it or because the backend did.
// Non-retryable.
type RegistrationError struct {
	InvocationID string
	Reason       string
	Err          error
}

func (e *RegistrationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("register definition for invocation %s: %s: %v", e.InvocationID, e.Reason, e.Err)
	}
	return fmt.Sprintf("register definition for invocation %s: %s", e.InvocationID, e.Reason)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// Registrar registers one fresh task definition revision per invocation.
// Prior revisions are never resubmitted; the image tag and resource shape may
// have changed between invocations.
type Registrar struct {
	cp     ControlPlane
	logger *slog.Logger
}

// NewRegistrar creates a registrar over the given control plane.
func NewRegistrar(cp ControlPlane, logger *slog.Logger) *Registrar {
	return &Registrar{cp: cp, logger: logger}
}

// Register validates the spec locally, then registers a new revision.
// Malformed resource shapes are rejected before any network call.
func (r *Registrar) Register(ctx context.Context, invocationID string, spec DefinitionSpec) (string, error) {
	res := task.Resources{CPU: spec.CPUUnits, MemoryMB: spec.MemoryMB}
	if err := res.Validate(); err != nil {
		return "", &RegistrationError{InvocationID: invocationID, Reason: "invalid resource shape", Err: err}
	}
	if spec.Image == "" {
		return "", &RegistrationError{InvocationID: invocationID, Reason: "missing image reference"}
	}
	if spec.Family == "" {
		return "", &RegistrationError{InvocationID: invocationID, Reason: "missing task family"}
	}

	revision, err := r.cp.RegisterDefinition(ctx, spec)
	if err != nil {
		return "", &RegistrationError{InvocationID: invocationID, Reason: "backend rejected definition", Err: err}
	}

	r.logger.Debug("definition registered",
		"invocation_id", invocationID,
		"revision", revision,
		"image", spec.Image,
	)
	return revision, nil
}
