package poll_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/halverson/offload/internal/poll"
	"github.com/halverson/offload/internal/task"
)

// scriptSource replays a fixed sequence of query answers, then repeats the
// final one forever.
type scriptSource struct {
	answers []answer
	calls   int
}

type answer struct {
	state task.RunState
	err   error
}

func (s *scriptSource) State(_ context.Context, _ string) (task.RunState, error) {
	i := s.calls
	s.calls++
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	a := s.answers[i]
	return a.state, a.err
}

func newTestPoller(source poll.Source) *poll.Poller {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return poll.New(source, time.Millisecond, logger)
}

func TestWaitUntilSucceeded(t *testing.T) {
	src := &scriptSource{answers: []answer{
		{state: task.StatePending},
		{state: task.StateRunning},
		{state: task.StateRunning},
		{state: task.StateSucceeded},
	}}
	p := newTestPoller(src)

	var observed []task.RunState
	state, err := p.Wait(context.Background(), "run-1", func(s task.RunState) {
		observed = append(observed, s)
	})
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if state != task.StateSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", state)
	}
	want := []task.RunState{task.StateRunning, task.StateSucceeded}
	if len(observed) != len(want) {
		t.Fatalf("observed transitions = %v, want %v", observed, want)
	}
	for i := range want {
		if observed[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, observed[i], want[i])
		}
	}
}

func TestWaitAbsorbsTransientFailures(t *testing.T) {
	throttled := errors.New("rate exceeded")
	src := &scriptSource{answers: []answer{
		{state: task.StateRunning},
		{err: throttled},
		{err: throttled},
		{err: throttled},
		{state: task.StateRunning},
		{state: task.StateSucceeded},
	}}
	p := newTestPoller(src)

	state, err := p.Wait(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("Wait surfaced a transient failure: %v", err)
	}
	if state != task.StateSucceeded {
		t.Errorf("state = %s, want SUCCEEDED", state)
	}
	if src.calls < 6 {
		t.Errorf("calls = %d, want at least 6: transient failures must be retried", src.calls)
	}
}

func TestWaitCancellation(t *testing.T) {
	src := &scriptSource{answers: []answer{{state: task.StateRunning}}}
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	interval := 50 * time.Millisecond
	p := poll.New(src, interval, logger)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := p.Wait(ctx, "run-1", nil)
	elapsed := time.Since(start)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	// Cancellation must be noticed within one interval, not on some later tick.
	if elapsed > interval+20*time.Millisecond {
		t.Errorf("Wait returned after %v, want within one %v interval", elapsed, interval)
	}
}

func TestWaitMemoizesTerminalState(t *testing.T) {
	src := &scriptSource{answers: []answer{{state: task.StateFailed}}}
	p := newTestPoller(src)

	if _, err := p.Wait(context.Background(), "run-1", nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	callsAfterFirst := src.calls

	state, err := p.Wait(context.Background(), "run-1", nil)
	if err != nil {
		t.Fatalf("second Wait: %v", err)
	}
	if state != task.StateFailed {
		t.Errorf("state = %s, want FAILED", state)
	}
	if src.calls != callsAfterFirst {
		t.Errorf("calls = %d, want %d: memoized handle must not be re-queried", src.calls, callsAfterFirst)
	}

	if got, ok := p.Observed("run-1"); !ok || got != task.StateFailed {
		t.Errorf("Observed = (%s, %v), want (FAILED, true)", got, ok)
	}
	if _, ok := p.Observed("run-2"); ok {
		t.Error("Observed reported a state for an unknown handle")
	}
}

func TestWaitIgnoresStaleObservations(t *testing.T) {
	// A RUNNING observation followed by a stale PENDING one must not walk the
	// state machine backwards.
	src := &scriptSource{answers: []answer{
		{state: task.StateRunning},
		{state: task.StatePending},
		{state: task.StateSucceeded},
	}}
	p := newTestPoller(src)

	var observed []task.RunState
	if _, err := p.Wait(context.Background(), "run-1", func(s task.RunState) {
		observed = append(observed, s)
	}); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	for _, s := range observed {
		if s == task.StatePending {
			t.Errorf("observed stale PENDING transition: %v", observed)
		}
	}
}
