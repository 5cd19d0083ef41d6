package cluster

import "github.com/halverson/offload/internal/task"

// Raw backend lifecycle statuses. The backend walks a run through
// PROVISIONING to STOPPED; the enum here collapses that walk into the four
// states the rest of the system reasons about.
const (
	statusProvisioning   = "PROVISIONING"
	statusPending        = "PENDING"
	statusActivating     = "ACTIVATING"
	statusRunning        = "RUNNING"
	statusDeactivating   = "DEACTIVATING"
	statusStopping       = "STOPPING"
	statusDeprovisioning = "DEPROVISIONING"
	statusStopped        = "STOPPED"
)

// StateOf maps a raw observation onto the run-state enum. A run not yet
// visible to queries counts as PENDING, not as a failure. An unrecognized
// status is treated as still pending so it can never be coerced into a
// terminal outcome; the poller simply queries again.
func StateOf(obs RunObservation) task.RunState {
	if !obs.Found {
		return task.StatePending
	}
	switch obs.LastStatus {
	case statusProvisioning, statusPending, statusActivating:
		return task.StatePending
	case statusRunning, statusDeactivating, statusStopping, statusDeprovisioning:
		return task.StateRunning
	case statusStopped:
		if obs.ExitCode != nil && *obs.ExitCode == 0 {
			return task.StateSucceeded
		}
		return task.StateFailed
	default:
		return task.StatePending
	}
}
