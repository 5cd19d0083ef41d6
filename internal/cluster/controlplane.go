package cluster

import (
	"context"
	"fmt"
)

// DefinitionSpec describes one task definition revision to register: the
// published image, the resource shape, the execution identities, and the log
// destination.
type DefinitionSpec struct {
	Family           string
	ContainerName    string
	Image            string
	CPUUnits         int
	MemoryMB         int
	ExecutionRoleARN string
	TaskRoleARN      string
	LogGroup         string
	LogRegion        string
	LogStreamPrefix  string
}

// Placement is the target environment descriptor a run is submitted against.
type Placement struct {
	Cluster        string
	Subnets        []string
	SecurityGroups []string
	AssignPublicIP bool
}

// RunObservation is the raw status the control plane reports for one run.
// Found is false inside the backend's eventual-consistency window, when the
// run is not yet visible to status queries.
type RunObservation struct {
	Found         bool
	LastStatus    string
	ExitCode      *int
	StoppedReason string
}

// ControlPlane is the cluster control-plane collaborator contract. The
// production implementation talks to the remote backend; tests substitute
// fakes.
type ControlPlane interface {
	// RegisterDefinition registers a fresh task definition revision and
	// returns its identifier. Revisions are never mutated or reused.
	RegisterDefinition(ctx context.Context, spec DefinitionSpec) (string, error)

	// StartRun submits exactly one run of the given revision. It returns as
	// soon as the backend acknowledges placement acceptance.
	StartRun(ctx context.Context, revision string, p Placement) (string, error)

	// DescribeRun reports the current observation for a run handle.
	DescribeRun(ctx context.Context, clusterID, handle string) (RunObservation, error)

	// StopRun sends a best-effort termination signal for a run.
	StopRun(ctx context.Context, clusterID, handle, reason string) error

	// LogEvents fetches the log lines emitted by a run's container.
	LogEvents(ctx context.Context, group, stream string) ([]string, error)
}

// RunRejectedError marks a run submission the backend definitively rejected
// in its response. Unlike a transport failure, rejection proves no run was
// placed.
type RunRejectedError struct {
	Reason string
}

func (e *RunRejectedError) Error() string {
	return fmt.Sprintf("run rejected by backend: %s", e.Reason)
}
