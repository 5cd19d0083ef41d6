package task_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/halverson/offload/internal/task"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		name string
		from task.RunState
		to   task.RunState
		want bool
	}{
		{"pending to running", task.StatePending, task.StateRunning, true},
		{"pending to succeeded", task.StatePending, task.StateSucceeded, true},
		{"pending to failed", task.StatePending, task.StateFailed, true},
		{"running to succeeded", task.StateRunning, task.StateSucceeded, true},
		{"running to failed", task.StateRunning, task.StateFailed, true},
		{"running to pending", task.StateRunning, task.StatePending, false},
		{"succeeded to running", task.StateSucceeded, task.StateRunning, false},
		{"succeeded to failed", task.StateSucceeded, task.StateFailed, false},
		{"failed to succeeded", task.StateFailed, task.StateSucceeded, false},
		{"failed to running", task.StateFailed, task.StateRunning, false},
		{"unknown state", task.RunState("LOST"), task.StateRunning, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := task.ValidTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		state task.RunState
		want  bool
	}{
		{task.StatePending, false},
		{task.StateRunning, false},
		{task.StateSucceeded, true},
		{task.StateFailed, true},
	}
	for _, tt := range tests {
		if got := tt.state.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.state, got, tt.want)
		}
	}
}

func TestResourcesValidate(t *testing.T) {
	tests := []struct {
		name    string
		res     task.Resources
		wantErr bool
	}{
		{"valid", task.Resources{CPU: 256, MemoryMB: 512}, false},
		{"zero cpu", task.Resources{CPU: 0, MemoryMB: 512}, true},
		{"negative cpu", task.Resources{CPU: -1, MemoryMB: 512}, true},
		{"zero memory", task.Resources{CPU: 256, MemoryMB: 0}, true},
		{"negative memory", task.Resources{CPU: 256, MemoryMB: -128}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.res.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewInvocation(t *testing.T) {
	inv, err := task.NewInvocation("sum", map[string]int{"x": 2, "y": 3}, task.Resources{CPU: 256, MemoryMB: 512}, 10*time.Second)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}
	if inv.ID == "" {
		t.Error("ID is empty")
	}
	if inv.TaskName != "sum" {
		t.Errorf("TaskName = %q, want %q", inv.TaskName, "sum")
	}
	var args map[string]int
	if err := json.Unmarshal(inv.Args, &args); err != nil {
		t.Fatalf("unmarshal args: %v", err)
	}
	if args["x"] != 2 || args["y"] != 3 {
		t.Errorf("args = %v, want x=2 y=3", args)
	}
	if inv.CreatedAt.IsZero() {
		t.Error("CreatedAt is zero")
	}
}

func TestNewInvocationUnmarshalableArgs(t *testing.T) {
	_, err := task.NewInvocation("sum", make(chan int), task.Resources{CPU: 256, MemoryMB: 512}, time.Second)
	if err == nil {
		t.Fatal("expected error for unmarshalable args")
	}
	var pkgErr *task.PackagingError
	if !errors.As(err, &pkgErr) {
		t.Fatalf("error = %T, want *PackagingError", err)
	}
	if pkgErr.TaskName != "sum" {
		t.Errorf("TaskName = %q, want %q", pkgErr.TaskName, "sum")
	}
}

func TestDerivedNames(t *testing.T) {
	inv, err := task.NewInvocation("echo", nil, task.Resources{CPU: 256, MemoryMB: 512}, time.Second)
	if err != nil {
		t.Fatalf("NewInvocation: %v", err)
	}

	tag := inv.ImageTag()
	if tag != strings.ToLower(inv.ID) {
		t.Errorf("ImageTag() = %q, want lowercased id %q", tag, strings.ToLower(inv.ID))
	}
	if tag != strings.ToLower(tag) {
		t.Errorf("ImageTag() = %q contains uppercase", tag)
	}
	if got, want := inv.ContainerName(), "offload-task-"+tag; got != want {
		t.Errorf("ContainerName() = %q, want %q", got, want)
	}
	if got, want := inv.PayloadKey(), "payload/"+inv.ID+".json"; got != want {
		t.Errorf("PayloadKey() = %q, want %q", got, want)
	}
	if got, want := inv.ResultKey(), "result/"+inv.ID+".json"; got != want {
		t.Errorf("ResultKey() = %q, want %q", got, want)
	}
}

func TestImageTagDistinctAcrossInvocations(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		inv, err := task.NewInvocation("echo", nil, task.Resources{CPU: 256, MemoryMB: 512}, time.Second)
		if err != nil {
			t.Fatalf("NewInvocation: %v", err)
		}
		if seen[inv.ImageTag()] {
			t.Fatalf("duplicate image tag %q", inv.ImageTag())
		}
		seen[inv.ImageTag()] = true
	}
}
