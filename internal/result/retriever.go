package result

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/halverson/offload/internal/task"
)

// LogSource fetches the log lines a run's container emitted.
type LogSource interface {
	LogEvents(ctx context.Context, group, stream string) ([]string, error)
}

// Retriever reads terminal run outcomes. On SUCCEEDED it decodes the result
// envelope from the shared store; on FAILED it collects a log excerpt for the
// failure report.
type Retriever struct {
	store           ObjectStore
	logs            LogSource
	logGroup        string
	logStreamPrefix string
	logger          *slog.Logger
}

// NewRetriever creates a retriever over the shared store and log source.
func NewRetriever(store ObjectStore, logs LogSource, logGroup, logStreamPrefix string, logger *slog.Logger) *Retriever {
	return &Retriever{
		store:           store,
		logs:            logs,
		logGroup:        logGroup,
		logStreamPrefix: logStreamPrefix,
		logger:          logger,
	}
}

// Result fetches and decodes the stored result for a terminal-success run.
// An undecodable payload is a ResultCorruptionError, distinct from task
// failure: the remote computation itself reported success.
func (r *Retriever) Result(ctx context.Context, inv *task.Invocation) (json.RawMessage, error) {
	body, err := r.store.Get(ctx, inv.ResultKey())
	if err != nil {
		return nil, &task.ResultCorruptionError{InvocationID: inv.ID, Err: err}
	}

	env, err := task.DecodeResult(body)
	if err != nil {
		return nil, &task.ResultCorruptionError{InvocationID: inv.ID, Err: err}
	}
	if env.InvocationID != inv.ID {
		return nil, &task.ResultCorruptionError{
			InvocationID: inv.ID,
			Err:          fmt.Errorf("envelope belongs to invocation %s", env.InvocationID),
		}
	}
	return env.Value, nil
}

// Failure builds the error for a terminal-failure run, attaching whatever log
// excerpt the backend can produce. A missing log stream (the container may
// never have started) degrades to a failure without excerpt.
func (r *Retriever) Failure(ctx context.Context, inv *task.Invocation, handle string, exitCode *int) error {
	failure := &task.ExecutionFailure{
		InvocationID: inv.ID,
		State:        task.StateFailed,
		ExitCode:     exitCode,
	}

	stream := r.streamName(inv, handle)
	lines, err := r.logs.LogEvents(ctx, r.logGroup, stream)
	if err != nil {
		r.logger.Warn("no log excerpt available",
			"invocation_id", inv.ID,
			"log_stream", stream,
			"error", err,
		)
		return failure
	}
	failure.LogExcerpt = lines
	return failure
}

// streamName renders the backend's log stream naming convention:
// <prefix>/<container>/<run id>, where the run id is the last segment of the
// run handle.
func (r *Retriever) streamName(inv *task.Invocation, handle string) string {
	parts := strings.Split(handle, "/")
	runID := parts[len(parts)-1]
	return fmt.Sprintf("%s/%s/%s", r.logStreamPrefix, inv.ContainerName(), runID)
}
