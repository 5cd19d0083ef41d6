package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/halverson/offload/internal/cluster"
	"github.com/halverson/offload/internal/journal"
	"github.com/halverson/offload/internal/pack"
	"github.com/halverson/offload/internal/poll"
	"github.com/halverson/offload/internal/publish"
	"github.com/halverson/offload/internal/result"
	"github.com/halverson/offload/internal/task"
)

// stopTimeout bounds the best-effort termination signal sent on cancellation.
const stopTimeout = 5 * time.Second

// Environment is the target environment descriptor every invocation runs
// against: placement, execution identities, and the log destination. Read-only
// shared configuration; the only state shared between concurrent invocations.
type Environment struct {
	Placement         cluster.Placement
	TaskFamily        string
	ExecutionRoleName string
	TaskRoleARN       string
	LogGroup          string
	LogRegion         string
	LogStreamPrefix   string
}

// Params carries the collaborators an engine is assembled from.
type Params struct {
	Packager   *pack.Packager
	Publisher  *publish.Publisher
	Registrar  *cluster.Registrar
	Dispatcher *cluster.Dispatcher
	Poller     *poll.Poller
	Status     *cluster.StatusSource
	Retriever  *result.Retriever
	Payloads   result.ObjectStore
	Identity   cluster.Identity
	Journal    journal.Journal
	Env        Environment
	Logger     *slog.Logger
}

// Engine orchestrates the offload lifecycle: package, publish, register,
// dispatch, poll, retrieve. Each invocation's pipeline is strictly
// sequential; independent invocations run concurrently without shared
// mutable state.
type Engine struct {
	packager   *pack.Packager
	publisher  *publish.Publisher
	registrar  *cluster.Registrar
	dispatcher *cluster.Dispatcher
	poller     *poll.Poller
	status     *cluster.StatusSource
	retriever  *result.Retriever
	payloads   result.ObjectStore
	identity   cluster.Identity
	journal    journal.Journal
	env        Environment
	logger     *slog.Logger
	wg         sync.WaitGroup

	accountOnce sync.Once
	accountID   string
	accountErr  error
}

// New assembles an engine from its collaborators.
func New(p Params) *Engine {
	return &Engine{
		packager:   p.Packager,
		publisher:  p.Publisher,
		registrar:  p.Registrar,
		dispatcher: p.Dispatcher,
		poller:     p.Poller,
		status:     p.Status,
		retriever:  p.Retriever,
		payloads:   p.Payloads,
		identity:   p.Identity,
		journal:    p.Journal,
		env:        p.Env,
		logger:     p.Logger,
	}
}

// Execute runs one invocation through the full lifecycle and returns the
// decoded result value. The context governs the overall horizon: the engine
// imposes no deadline of its own.
func (e *Engine) Execute(ctx context.Context, inv *task.Invocation) (json.RawMessage, error) {
	if err := e.record(ctx, inv); err != nil {
		return nil, err
	}
	return e.lifecycle(ctx, inv)
}

// Submit launches an invocation asynchronously. The journal record exists
// with state PENDING before Submit returns; the outcome lands in the journal.
// The goroutine operates on a copy of the invocation to avoid data races with
// the caller.
func (e *Engine) Submit(ctx context.Context, inv *task.Invocation) error {
	if err := e.record(ctx, inv); err != nil {
		return err
	}

	invCopy := *inv
	e.wg.Go(func() {
		if _, err := e.lifecycle(context.Background(), &invCopy); err != nil {
			e.logger.Error("invocation failed", "invocation_id", invCopy.ID, "error", err)
		}
	})
	return nil
}

// Wait blocks until all in-flight invocation goroutines complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// record journals the invocation in its initial state.
func (e *Engine) record(ctx context.Context, inv *task.Invocation) error {
	if err := inv.Resources.Validate(); err != nil {
		return fmt.Errorf("invocation %s: %w", inv.ID, err)
	}
	rec := &journal.Record{
		ID:        inv.ID,
		TaskName:  inv.TaskName,
		State:     task.StatePending,
		CPUUnits:  inv.Resources.CPU,
		MemoryMB:  inv.Resources.MemoryMB,
		CreatedAt: inv.CreatedAt,
	}
	if err := e.journal.CreateRecord(ctx, rec); err != nil {
		return fmt.Errorf("journal invocation: %w", err)
	}
	return nil
}

// lifecycle drives one invocation to a terminal outcome and settles the
// journal record and metrics.
func (e *Engine) lifecycle(ctx context.Context, inv *task.Invocation) (json.RawMessage, error) {
	value, err := e.run(ctx, inv)

	switch {
	case err == nil:
		e.finish(inv.ID, task.StateSucceeded, "")
		invocationsTotal.WithLabelValues(outcomeSucceeded).Inc()
	case isCorruption(err):
		// The run itself succeeded; only the local decode failed.
		e.finish(inv.ID, task.StateSucceeded, err.Error())
		invocationsTotal.WithLabelValues(outcomeCorrupt).Inc()
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		e.finish(inv.ID, task.StateFailed, err.Error())
		invocationsTotal.WithLabelValues(outcomeCancelled).Inc()
	default:
		e.finish(inv.ID, task.StateFailed, err.Error())
		invocationsTotal.WithLabelValues(outcomeFailed).Inc()
	}
	return value, err
}

// run is the sequential pipeline for one invocation.
func (e *Engine) run(ctx context.Context, inv *task.Invocation) (json.RawMessage, error) {
	log := e.logger.With("invocation_id", inv.ID, "task", inv.TaskName)

	bc, err := e.stage1Package(inv)
	if err != nil {
		return nil, err
	}
	log.Debug("build context packaged", "tag", bc.Tag)

	if err := e.stage2Upload(ctx, bc); err != nil {
		return nil, err
	}

	imageRef, err := e.stage3Publish(ctx, bc)
	if err != nil {
		return nil, err
	}
	e.artifacts(inv.ID, imageRef, "", "")

	revision, err := e.stage4Register(ctx, inv, imageRef)
	if err != nil {
		return nil, err
	}
	e.artifacts(inv.ID, "", revision, "")

	handle, err := e.stage5Dispatch(ctx, inv, revision)
	if err != nil {
		return nil, err
	}
	e.artifacts(inv.ID, "", "", handle)
	log.Info("run dispatched", "run_handle", handle)

	state, err := e.stage6Poll(ctx, inv, handle)
	if err != nil {
		// The caller withdrew interest; signal the backend best-effort. The
		// remote run may still complete on its own.
		e.stopRun(inv, handle)
		return nil, err
	}

	return e.stage7Retrieve(ctx, inv, handle, state)
}

func (e *Engine) stage1Package(inv *task.Invocation) (*pack.BuildContext, error) {
	defer observeStage(stagePackage)()
	return e.packager.Package(inv)
}

func (e *Engine) stage2Upload(ctx context.Context, bc *pack.BuildContext) error {
	defer observeStage(stageUpload)()
	if err := e.payloads.Put(ctx, bc.PayloadKey, bc.Payload); err != nil {
		return fmt.Errorf("upload payload for invocation %s: %w", bc.InvocationID, err)
	}
	return nil
}

func (e *Engine) stage3Publish(ctx context.Context, bc *pack.BuildContext) (string, error) {
	defer observeStage(stagePublish)()
	return e.publisher.Publish(ctx, bc)
}

func (e *Engine) stage4Register(ctx context.Context, inv *task.Invocation, imageRef string) (string, error) {
	defer observeStage(stageRegister)()

	accountID, err := e.account(ctx)
	if err != nil {
		return "", &cluster.RegistrationError{
			InvocationID: inv.ID,
			Reason:       "resolve account identity",
			Err:          err,
		}
	}

	spec := cluster.DefinitionSpec{
		Family:           e.env.TaskFamily,
		ContainerName:    inv.ContainerName(),
		Image:            imageRef,
		CPUUnits:         inv.Resources.CPU,
		MemoryMB:         inv.Resources.MemoryMB,
		ExecutionRoleARN: cluster.ExecutionRoleARN(accountID, e.env.ExecutionRoleName),
		TaskRoleARN:      e.env.TaskRoleARN,
		LogGroup:         e.env.LogGroup,
		LogRegion:        e.env.LogRegion,
		LogStreamPrefix:  e.env.LogStreamPrefix,
	}
	return e.registrar.Register(ctx, inv.ID, spec)
}

func (e *Engine) stage5Dispatch(ctx context.Context, inv *task.Invocation, revision string) (string, error) {
	defer observeStage(stageDispatch)()
	return e.dispatcher.Dispatch(ctx, inv.ID, revision, e.env.Placement)
}

func (e *Engine) stage6Poll(ctx context.Context, inv *task.Invocation, handle string) (task.RunState, error) {
	defer observeStage(stagePoll)()
	return e.poller.Wait(ctx, handle, func(state task.RunState) {
		if err := e.journal.UpdateState(context.Background(), inv.ID, state); err != nil {
			e.logger.Warn("journal state update", "invocation_id", inv.ID, "error", err)
		}
	})
}

func (e *Engine) stage7Retrieve(ctx context.Context, inv *task.Invocation, handle string, state task.RunState) (json.RawMessage, error) {
	defer observeStage(stageRetrieve)()

	if state == task.StateSucceeded {
		return e.retriever.Result(ctx, inv)
	}

	var exitCode *int
	if obs, ok := e.status.LastObservation(handle); ok {
		exitCode = obs.ExitCode
	}
	failure := e.retriever.Failure(ctx, inv, handle, exitCode)

	var execFailure *task.ExecutionFailure
	if errors.As(failure, &execFailure) {
		e.journalExcerpt(inv.ID, execFailure.LogExcerpt)
	}
	return nil, failure
}

// account resolves the caller's account id once per engine.
func (e *Engine) account(ctx context.Context) (string, error) {
	e.accountOnce.Do(func() {
		e.accountID, e.accountErr = e.identity.AccountID(ctx)
	})
	return e.accountID, e.accountErr
}

// stopRun sends the best-effort termination signal after cancellation.
func (e *Engine) stopRun(inv *task.Invocation, handle string) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := e.dispatcher.Stop(ctx, e.env.Placement.Cluster, handle, "caller cancelled invocation "+inv.ID); err != nil {
		e.logger.Warn("best-effort stop failed",
			"invocation_id", inv.ID,
			"run_handle", handle,
			"error", err,
		)
	}
}

// artifacts journals lifecycle artifacts, logging rather than failing the
// pipeline on journal errors.
func (e *Engine) artifacts(id, imageRef, revision, handle string) {
	if err := e.journal.SetArtifacts(context.Background(), id, imageRef, revision, handle); err != nil {
		e.logger.Warn("journal artifacts", "invocation_id", id, "error", err)
	}
}

// finish settles the journal record for a terminal outcome.
func (e *Engine) finish(id string, state task.RunState, errMsg string) {
	if err := e.journal.FinishRecord(context.Background(), id, state, errMsg); err != nil {
		e.logger.Error("journal finish", "invocation_id", id, "error", err)
	}
}

// journalExcerpt persists the diagnostic log excerpt of a failed run.
func (e *Engine) journalExcerpt(id string, lines []string) {
	for i, line := range lines {
		if err := e.journal.InsertLogLine(context.Background(), id, i, line); err != nil {
			e.logger.Warn("journal log line", "invocation_id", id, "seq", i, "error", err)
			return
		}
	}
}

// isCorruption reports whether the error is a result-decode failure on a run
// that itself succeeded.
func isCorruption(err error) bool {
	var corruption *task.ResultCorruptionError
	return errors.As(err, &corruption)
}
