package cluster

import (
	"context"
	"sync"

	"github.com/halverson/offload/internal/task"
)

// StatusSource adapts the control plane into the poller's query surface and
// keeps the most recent raw observation per handle so failure diagnostics
// (exit codes, stop reasons) survive past the poll loop.
type StatusSource struct {
	cp        ControlPlane
	clusterID string

	mu   sync.Mutex
	last map[string]RunObservation
}

// NewStatusSource creates a status source for runs on the given cluster.
func NewStatusSource(cp ControlPlane, clusterID string) *StatusSource {
	return &StatusSource{
		cp:        cp,
		clusterID: clusterID,
		last:      make(map[string]RunObservation),
	}
}

// State queries the backend once and maps the observation onto the run-state
// enum.
func (s *StatusSource) State(ctx context.Context, handle string) (task.RunState, error) {
	obs, err := s.cp.DescribeRun(ctx, s.clusterID, handle)
	if err != nil {
		return task.StatePending, err
	}

	s.mu.Lock()
	s.last[handle] = obs
	s.mu.Unlock()

	return StateOf(obs), nil
}

// LastObservation returns the most recent observation recorded for a handle.
func (s *StatusSource) LastObservation(handle string) (RunObservation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obs, ok := s.last[handle]
	return obs, ok
}
