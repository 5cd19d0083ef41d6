package task

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RunState is the observed lifecycle state of a dispatched run.
type RunState string

// Run lifecycle states. SUCCEEDED and FAILED are terminal.
const (
	StatePending   RunState = "PENDING"
	StateRunning   RunState = "RUNNING"
	StateSucceeded RunState = "SUCCEEDED"
	StateFailed    RunState = "FAILED"
)

// validTransitions maps each state to the set of states it may transition to.
// Transitions are monotonic; nothing leaves a terminal state.
var validTransitions = map[RunState]map[RunState]bool{
	StatePending: {
		StateRunning:   true,
		StateSucceeded: true,
		StateFailed:    true,
	},
	StateRunning: {
		StateSucceeded: true,
		StateFailed:    true,
	},
}

// ValidTransition reports whether moving from one run state to another is allowed.
func ValidTransition(from, to RunState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Terminal reports whether the state admits no further transitions.
func (s RunState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Resources is the compute shape requested for one invocation.
// CPU is expressed in CPU units (1024 units = 1 vCPU), memory in MiB.
type Resources struct {
	CPU      int `json:"cpu"`
	MemoryMB int `json:"memory_mb"`
}

// Validate rejects non-positive resource requests before any backend call.
func (r Resources) Validate() error {
	if r.CPU <= 0 {
		return fmt.Errorf("cpu units must be positive, got %d", r.CPU)
	}
	if r.MemoryMB <= 0 {
		return fmt.Errorf("memory must be positive, got %d MiB", r.MemoryMB)
	}
	return nil
}

// Invocation identifies one offload request. It is immutable after creation
// and owned exclusively by its lifecycle until a terminal state is reached.
type Invocation struct {
	ID           string          `json:"id"`
	TaskName     string          `json:"task_name"`
	Args         json.RawMessage `json:"args,omitempty"`
	Resources    Resources       `json:"resources"`
	PollInterval time.Duration   `json:"poll_interval"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewInvocation builds an invocation for a named task, marshalling args to the
// wire form. A value that cannot be marshalled is reported immediately; the
// invocation never reaches the backend.
func NewInvocation(taskName string, args any, res Resources, pollInterval time.Duration) (*Invocation, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, &PackagingError{TaskName: taskName, Err: fmt.Errorf("marshal args: %w", err)}
	}
	return &Invocation{
		ID:           NewID(),
		TaskName:     taskName,
		Args:         raw,
		Resources:    res,
		PollInterval: pollInterval,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// ImageTag derives the container image tag for this invocation. Stable across
// retries of the same invocation, distinct across invocations, and lowercased
// because registries reject uppercase tags (ULIDs are uppercase Base32).
func (inv *Invocation) ImageTag() string {
	return strings.ToLower(inv.ID)
}

// ContainerName derives the container name registered in the task definition.
func (inv *Invocation) ContainerName() string {
	return "offload-task-" + inv.ImageTag()
}

// PayloadKey is the object-store key holding the serialized callable payload.
func (inv *Invocation) PayloadKey() string {
	return "payload/" + inv.ID + ".json"
}

// ResultKey is the object-store key where the remote run writes its result.
func (inv *Invocation) ResultKey() string {
	return "result/" + inv.ID + ".json"
}
