// Package journal persists a local record of every invocation's lifecycle:
// states observed, artifacts produced, and the diagnostic log excerpt of a
// failed run. The journal is the backing store for the ops API and CLI
// inspection; it never influences the lifecycle itself.
package journal

import (
	"context"
	"errors"
	"time"

	"github.com/halverson/offload/internal/task"
)

// ErrNotFound is returned when an invocation record does not exist.
var ErrNotFound = errors.New("invocation not found")

// ErrInvalidTransition is returned when a recorded state change would move
// backward through the lifecycle.
var ErrInvalidTransition = errors.New("invalid state transition")

// Record is the journal's view of one invocation.
type Record struct {
	ID           string        `json:"id"`
	TaskName     string        `json:"task_name"`
	State        task.RunState `json:"state"`
	ImageRef     string        `json:"image_ref,omitempty"`
	Revision     string        `json:"revision,omitempty"`
	RunHandle    string        `json:"run_handle,omitempty"`
	Error        string        `json:"error,omitempty"`
	CPUUnits     int           `json:"cpu_units"`
	MemoryMB     int           `json:"memory_mb"`
	CreatedAt    time.Time     `json:"created_at"`
	DispatchedAt *time.Time    `json:"dispatched_at,omitempty"`
	FinishedAt   *time.Time    `json:"finished_at,omitempty"`
}

// LogLine is one persisted diagnostic log line for an invocation.
type LogLine struct {
	ID           int64     `json:"id"`
	InvocationID string    `json:"invocation_id"`
	Seq          int       `json:"seq"`
	Line         string    `json:"line"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats holds aggregate invocation statistics.
type Stats struct {
	Total        int            `json:"total"`
	CountByState map[string]int `json:"count_by_state"`
	CountByTask  map[string]int `json:"count_by_task"`
}

// Journal defines the persistence operations for invocation records.
type Journal interface {
	CreateRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, id string) (*Record, error)
	ListRecords(ctx context.Context, limit, offset int) ([]*Record, int, error)
	UpdateState(ctx context.Context, id string, state task.RunState) error
	SetArtifacts(ctx context.Context, id, imageRef, revision, runHandle string) error
	FinishRecord(ctx context.Context, id string, state task.RunState, errMsg string) error
	InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error
	LogLines(ctx context.Context, invocationID string) ([]LogLine, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
