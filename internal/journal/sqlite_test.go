package journal_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/halverson/offload/internal/journal"
	"github.com/halverson/offload/internal/task"
)

func newTestJournal(t *testing.T) *journal.SQLiteJournal {
	t.Helper()
	j, err := journal.NewSQLiteJournal(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteJournal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func makeRecord(id, taskName string) *journal.Record {
	return &journal.Record{
		ID:        id,
		TaskName:  taskName,
		State:     task.StatePending,
		CPUUnits:  256,
		MemoryMB:  512,
		CreatedAt: time.Now().UTC(),
	}
}

func TestCreateAndGetRecord(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	got, err := j.GetRecord(ctx, "inv-1")
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if got.TaskName != "sum" {
		t.Errorf("TaskName = %q, want sum", got.TaskName)
	}
	if got.State != task.StatePending {
		t.Errorf("State = %s, want PENDING", got.State)
	}
	if got.CPUUnits != 256 || got.MemoryMB != 512 {
		t.Errorf("resources = %d/%d, want 256/512", got.CPUUnits, got.MemoryMB)
	}
	if got.DispatchedAt != nil || got.FinishedAt != nil {
		t.Error("timestamps set on a fresh record")
	}
}

func TestGetRecordNotFound(t *testing.T) {
	j := newTestJournal(t)
	_, err := j.GetRecord(context.Background(), "missing")
	if !errors.Is(err, journal.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpdateState(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if err := j.UpdateState(ctx, "inv-1", task.StateRunning); err != nil {
		t.Fatalf("UpdateState to RUNNING: %v", err)
	}
	got, _ := j.GetRecord(ctx, "inv-1")
	if got.State != task.StateRunning {
		t.Errorf("State = %s, want RUNNING", got.State)
	}
	if got.DispatchedAt == nil {
		t.Error("DispatchedAt not set on transition to RUNNING")
	}

	// Same-state updates are no-ops.
	if err := j.UpdateState(ctx, "inv-1", task.StateRunning); err != nil {
		t.Errorf("same-state update: %v", err)
	}

	if err := j.UpdateState(ctx, "inv-1", task.StateSucceeded); err != nil {
		t.Fatalf("UpdateState to SUCCEEDED: %v", err)
	}
}

func TestUpdateStateRejectsBackwardMoves(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	if err := j.UpdateState(ctx, "inv-1", task.StateSucceeded); err != nil {
		t.Fatalf("UpdateState: %v", err)
	}

	err := j.UpdateState(ctx, "inv-1", task.StateRunning)
	if !errors.Is(err, journal.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestSetArtifacts(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if err := j.SetArtifacts(ctx, "inv-1", "registry.local/offload:abc", "", ""); err != nil {
		t.Fatalf("SetArtifacts image: %v", err)
	}
	if err := j.SetArtifacts(ctx, "inv-1", "", "offload-tasks:7", ""); err != nil {
		t.Fatalf("SetArtifacts revision: %v", err)
	}
	if err := j.SetArtifacts(ctx, "inv-1", "", "", "arn:aws:ecs:task/abc"); err != nil {
		t.Fatalf("SetArtifacts handle: %v", err)
	}

	got, _ := j.GetRecord(ctx, "inv-1")
	if got.ImageRef != "registry.local/offload:abc" {
		t.Errorf("ImageRef = %q, want the recorded image", got.ImageRef)
	}
	if got.Revision != "offload-tasks:7" {
		t.Errorf("Revision = %q, want offload-tasks:7", got.Revision)
	}
	if got.RunHandle != "arn:aws:ecs:task/abc" {
		t.Errorf("RunHandle = %q, want the recorded handle", got.RunHandle)
	}
	if got.DispatchedAt == nil {
		t.Error("DispatchedAt not set when the run handle landed")
	}

	if err := j.SetArtifacts(ctx, "missing", "x", "", ""); !errors.Is(err, journal.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFinishRecord(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}

	if err := j.FinishRecord(ctx, "inv-1", task.StateFailed, "exit code 137"); err != nil {
		t.Fatalf("FinishRecord: %v", err)
	}
	got, _ := j.GetRecord(ctx, "inv-1")
	if got.State != task.StateFailed {
		t.Errorf("State = %s, want FAILED", got.State)
	}
	if got.Error != "exit code 137" {
		t.Errorf("Error = %q, want exit code 137", got.Error)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestFinishRecordRejectsNonTerminal(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	err := j.FinishRecord(ctx, "inv-1", task.StateRunning, "")
	if !errors.Is(err, journal.ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestListRecords(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		rec := makeRecord(fmt.Sprintf("inv-%d", i), "sum")
		rec.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := j.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord[%d]: %v", i, err)
		}
	}

	records, total, err := j.ListRecords(ctx, 2, 0)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}
	// Newest first.
	if records[0].ID != "inv-4" || records[1].ID != "inv-3" {
		t.Errorf("page = [%s %s], want [inv-4 inv-3]", records[0].ID, records[1].ID)
	}

	records, _, err = j.ListRecords(ctx, 2, 4)
	if err != nil {
		t.Fatalf("ListRecords offset: %v", err)
	}
	if len(records) != 1 || records[0].ID != "inv-0" {
		t.Errorf("last page = %v, want [inv-0]", records)
	}
}

func TestLogLines(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	if err := j.CreateRecord(ctx, makeRecord("inv-1", "sum")); err != nil {
		t.Fatalf("CreateRecord: %v", err)
	}
	for i, line := range []string{"starting", "OutOfMemoryError"} {
		if err := j.InsertLogLine(ctx, "inv-1", i, line); err != nil {
			t.Fatalf("InsertLogLine[%d]: %v", i, err)
		}
	}

	lines, err := j.LogLines(ctx, "inv-1")
	if err != nil {
		t.Fatalf("LogLines: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].Line != "starting" || lines[1].Line != "OutOfMemoryError" {
		t.Errorf("lines = [%q %q], want sequence order", lines[0].Line, lines[1].Line)
	}

	empty, err := j.LogLines(ctx, "inv-2")
	if err != nil {
		t.Fatalf("LogLines empty: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("len(empty) = %d, want 0", len(empty))
	}
}

func TestStats(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()

	seed := []struct {
		id    string
		name  string
		state task.RunState
	}{
		{"inv-1", "sum", task.StateSucceeded},
		{"inv-2", "sum", task.StateFailed},
		{"inv-3", "echo", task.StateRunning},
	}
	for _, s := range seed {
		rec := makeRecord(s.id, s.name)
		rec.State = s.state
		if err := j.CreateRecord(ctx, rec); err != nil {
			t.Fatalf("CreateRecord %s: %v", s.id, err)
		}
	}

	stats, err := j.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("Total = %d, want 3", stats.Total)
	}
	if stats.CountByState["SUCCEEDED"] != 1 || stats.CountByState["FAILED"] != 1 || stats.CountByState["RUNNING"] != 1 {
		t.Errorf("CountByState = %v", stats.CountByState)
	}
	if stats.CountByTask["sum"] != 2 || stats.CountByTask["echo"] != 1 {
		t.Errorf("CountByTask = %v", stats.CountByTask)
	}
}
