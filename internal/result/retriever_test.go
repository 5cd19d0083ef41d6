package result_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/halverson/offload/internal/result"
	"github.com/halverson/offload/internal/task"
)

// memStore is an in-memory object store for tests.
type memStore struct {
	objects map[string][]byte
	getErr  error
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (m *memStore) Get(_ context.Context, key string) ([]byte, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	body, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, result.ErrNotFound)
	}
	return body, nil
}

func (m *memStore) Put(_ context.Context, key string, body []byte) error {
	m.objects[key] = body
	return nil
}

type fakeLogs struct {
	group  string
	stream string
	lines  []string
	err    error
}

func (f *fakeLogs) LogEvents(_ context.Context, group, stream string) ([]string, error) {
	f.group = group
	f.stream = stream
	if f.err != nil {
		return nil, f.err
	}
	return f.lines, nil
}

func makeInvocation(t *testing.T) *task.Invocation {
	t.Helper()
	inv, err := task.NewInvocation("sum", map[string]int{"x": 2, "y": 3}, task.Resources{CPU: 256, MemoryMB: 512}, time.Second)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}
	return inv
}

func newTestRetriever(store result.ObjectStore, logs result.LogSource) *result.Retriever {
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	return result.NewRetriever(store, logs, "offload-task-logs", "offload", logger)
}

func TestResultDecodesStoredValue(t *testing.T) {
	inv := makeInvocation(t)
	store := newMemStore()

	body, err := task.EncodeResult(inv.ID, 5)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	store.objects[inv.ResultKey()] = body

	r := newTestRetriever(store, &fakeLogs{})
	value, err := r.Result(context.Background(), inv)
	if err != nil {
		t.Fatalf("Result: %v", err)
	}

	var got int
	if err := json.Unmarshal(value, &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if got != 5 {
		t.Errorf("value = %d, want 5", got)
	}
}

func TestResultCorruption(t *testing.T) {
	inv := makeInvocation(t)

	otherEnvelope, err := task.EncodeResult("some-other-invocation", 5)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}

	tests := []struct {
		name  string
		setup func(*memStore)
	}{
		{"missing object", func(_ *memStore) {}},
		{"truncated body", func(m *memStore) {
			m.objects[inv.ResultKey()] = []byte(`{"invocation_id":"` + inv.ID + `","val`)
		}},
		{"wrong invocation", func(m *memStore) {
			m.objects[inv.ResultKey()] = otherEnvelope
		}},
		{"store failure", func(m *memStore) {
			m.getErr = errors.New("access denied")
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore()
			tt.setup(store)

			r := newTestRetriever(store, &fakeLogs{})
			_, err := r.Result(context.Background(), inv)
			var corruption *task.ResultCorruptionError
			if !errors.As(err, &corruption) {
				t.Fatalf("error = %T (%v), want *ResultCorruptionError", err, err)
			}
			if corruption.InvocationID != inv.ID {
				t.Errorf("InvocationID = %q, want %q", corruption.InvocationID, inv.ID)
			}
			var execFailure *task.ExecutionFailure
			if errors.As(err, &execFailure) {
				t.Error("corruption must not be reported as an execution failure")
			}
		})
	}
}

func TestFailureAttachesLogExcerpt(t *testing.T) {
	inv := makeInvocation(t)
	logs := &fakeLogs{lines: []string{"starting task", "OutOfMemoryError: Java heap space"}}
	exitCode := 137

	r := newTestRetriever(newMemStore(), logs)
	err := r.Failure(context.Background(), inv, "arn:aws:ecs:us-east-1:123:task/cluster/a1b2c3", &exitCode)

	var failure *task.ExecutionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %T, want *ExecutionFailure", err)
	}
	if failure.ExitCode == nil || *failure.ExitCode != 137 {
		t.Errorf("ExitCode = %v, want 137", failure.ExitCode)
	}
	if len(failure.LogExcerpt) != 2 || !strings.Contains(failure.LogExcerpt[1], "OutOfMemoryError") {
		t.Errorf("LogExcerpt = %v, want the container log lines", failure.LogExcerpt)
	}
	if !strings.Contains(err.Error(), "OutOfMemoryError") {
		t.Errorf("message %q should surface the last log line", err.Error())
	}

	wantStream := "offload/" + inv.ContainerName() + "/a1b2c3"
	if logs.stream != wantStream {
		t.Errorf("log stream = %q, want %q", logs.stream, wantStream)
	}
	if logs.group != "offload-task-logs" {
		t.Errorf("log group = %q, want offload-task-logs", logs.group)
	}
}

func TestFailureWithoutLogs(t *testing.T) {
	inv := makeInvocation(t)
	logs := &fakeLogs{err: errors.New("log stream does not exist")}

	r := newTestRetriever(newMemStore(), logs)
	err := r.Failure(context.Background(), inv, "arn:aws:ecs:task/abc", nil)

	var failure *task.ExecutionFailure
	if !errors.As(err, &failure) {
		t.Fatalf("error = %T, want *ExecutionFailure", err)
	}
	if len(failure.LogExcerpt) != 0 {
		t.Errorf("LogExcerpt = %v, want empty when logs are unavailable", failure.LogExcerpt)
	}
	if failure.State != task.StateFailed {
		t.Errorf("State = %s, want FAILED", failure.State)
	}
}
