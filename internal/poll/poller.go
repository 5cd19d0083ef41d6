// Package poll waits for dispatched runs to reach a terminal state. The
// poller queries the backend at a fixed interval, absorbs transient query
// failures, and memoizes terminal states so a run is never queried again once
// it has finished.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/halverson/offload/internal/task"
)

// Source answers status queries for run handles.
type Source interface {
	State(ctx context.Context, handle string) (task.RunState, error)
}

// Poller drives the run-state machine for dispatched runs. It only observes
// state; transitions are backend-driven.
type Poller struct {
	source   Source
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	terminal map[string]task.RunState
}

// New creates a poller querying source every interval.
func New(source Source, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		source:   source,
		interval: interval,
		logger:   logger,
		terminal: make(map[string]task.RunState),
	}
}

// Wait blocks until the run reaches SUCCEEDED or FAILED, or the context is
// cancelled. Transient query failures are absorbed and retried on the next
// tick; they never surface. Once a terminal state has been observed for a
// handle, Wait returns it immediately on every subsequent call without
// touching the backend. onChange, if non-nil, is invoked for every forward
// state transition including the terminal one.
func (p *Poller) Wait(ctx context.Context, handle string, onChange func(task.RunState)) (task.RunState, error) {
	if state, ok := p.memoized(handle); ok {
		return state, nil
	}

	last := task.StatePending
	for {
		state, err := p.source.State(ctx, handle)
		switch {
		case err != nil && ctx.Err() != nil:
			return last, ctx.Err()
		case err != nil:
			// Transient: keep the last known state and retry on the next tick.
			transientQueryFailures.Inc()
			p.logger.Debug("transient status query failure",
				"run_handle", handle,
				"error", err,
			)
		default:
			statusQueries.Inc()
			if state != last {
				p.logger.Info("run state observed",
					"run_handle", handle,
					"state", string(state),
				)
			}
			if state.Terminal() {
				p.memoize(handle, state)
				if onChange != nil {
					onChange(state)
				}
				return state, nil
			}
			// A state observed after a later one is stale; keep the furthest
			// observation since backend transitions are monotonic.
			if task.ValidTransition(last, state) {
				last = state
				if onChange != nil {
					onChange(state)
				}
			}
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(p.interval):
		}
	}
}

// Observed returns the memoized terminal state for a handle, if any.
func (p *Poller) Observed(handle string) (task.RunState, bool) {
	return p.memoized(handle)
}

func (p *Poller) memoized(handle string) (task.RunState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.terminal[handle]
	return state, ok
}

func (p *Poller) memoize(handle string, state task.RunState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminal[handle] = state
}
