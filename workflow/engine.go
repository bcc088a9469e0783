package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/luminachat/chatflow/checkpoint"
	"github.com/luminachat/chatflow/config"
	"github.com/luminachat/chatflow/internal/metrics"
	"github.com/luminachat/chatflow/types"
)

// RunOutcome reports how a run ended. StageResults and ErrorCount reflect
// the state at termination so callers can surface partial work from
// degraded runs.
type RunOutcome struct {
	SessionID     string
	WorkflowType  types.WorkflowType
	Status        types.RunStatus
	FinalResponse string
	StageResults  map[string]any
	ErrorCount    int
	Err           error
	Duration      time.Duration
}

// Engine runs workflow graphs against run state. One Engine serves all
// concurrent runs; per-run state is never shared, so the Engine itself
// holds no run-scoped fields.
type Engine struct {
	registry *Registry
	store    checkpoint.Store
	cfg      config.WorkflowConfig
	logger   *zap.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer
}

// NewEngine creates a workflow engine. store may be nil, which disables
// checkpointing and resume.
func NewEngine(registry *Registry, store checkpoint.Store, cfg config.WorkflowConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		registry: registry,
		store:    store,
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "workflow_engine")),
		tracer:   otel.Tracer("github.com/luminachat/chatflow/workflow"),
	}
}

// WithMetrics attaches a metrics collector. Returns the engine for chaining.
func (e *Engine) WithMetrics(c *metrics.Collector) *Engine {
	e.metrics = c
	return e
}

// NewState creates the state for a fresh run with the engine's iteration
// budget and a new session id.
func (e *Engine) NewState(sessionID string, workflowType types.WorkflowType, request string, reqContext map[string]any) *types.WorkflowState {
	return types.NewWorkflowState(sessionID, workflowType, request, reqContext, e.cfg.MaxIterations)
}

// Run executes a graph against a fresh state, starting at the graph's
// start stage.
func (e *Engine) Run(ctx context.Context, graph *Graph, state *types.WorkflowState) (*RunOutcome, error) {
	if graph == nil {
		return nil, types.NewError(types.ErrInvalidGraph, "graph is nil")
	}
	if state == nil {
		return nil, types.NewError(types.ErrInternalError, "state is nil")
	}
	if graph.Type() != state.WorkflowType {
		return nil, types.NewError(types.ErrInvalidGraph,
			fmt.Sprintf("state type %q does not match graph type %q", state.WorkflowType, graph.Type()))
	}
	return e.runFrom(ctx, graph, state, graph.Start())
}

// Resume loads a session's checkpoint and continues the run from the saved
// stage.
func (e *Engine) Resume(ctx context.Context, sessionID string) (*RunOutcome, error) {
	if e.store == nil {
		return nil, types.NewError(types.ErrCheckpointNotFound, "checkpointing is disabled")
	}

	cp, err := e.store.Load(ctx, sessionID)
	if err == checkpoint.ErrNotFound {
		return nil, types.NewError(types.ErrCheckpointNotFound,
			fmt.Sprintf("no checkpoint for session %s", sessionID))
	}
	if err != nil {
		return nil, types.NewError(types.ErrCheckpointNotFound, "checkpoint load failed").WithCause(err)
	}

	graph, err := e.registry.Resolve(cp.WorkflowType)
	if err != nil {
		return nil, err
	}
	if !graph.HasStage(cp.StageName) {
		return nil, types.NewError(types.ErrRunNotResumable,
			fmt.Sprintf("checkpoint stage %q is not in the %q graph", cp.StageName, cp.WorkflowType))
	}

	e.logger.Info("resuming from checkpoint",
		zap.String("session_id", sessionID),
		zap.String("stage", cp.StageName),
		zap.Int("completed_stages", len(cp.State.StageResults)),
	)

	return e.runFrom(ctx, graph, cp.State, cp.StageName)
}

// runFrom is the engine loop shared by Run and Resume. Cooperative
// cancellation is checked only between stages: cancelling ctx never
// interrupts a stage in flight, it suspends the run before the next stage
// starts. The workflow timeout is a hard watchdog detached from caller
// cancellation.
func (e *Engine) runFrom(ctx context.Context, graph *Graph, state *types.WorkflowState, startStage string) (*RunOutcome, error) {
	started := time.Now()
	logger := e.logger.With(
		zap.String("session_id", state.SessionID),
		zap.String("workflow_type", string(state.WorkflowType)),
	)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.WorkflowTimeout)
	defer cancel()

	runCtx, span := e.tracer.Start(runCtx, "workflow.run",
		trace.WithAttributes(
			attribute.String("workflow.session_id", state.SessionID),
			attribute.String("workflow.type", string(state.WorkflowType)),
		))
	defer span.End()

	emit, _ := streamEmitterFromContext(ctx)
	e.metrics.RunStarted()

	logger.Info("starting workflow run",
		zap.String("start_stage", startStage),
		zap.Int("iteration", state.CurrentIteration),
	)

	finish := func(status types.RunStatus, runErr error) (*RunOutcome, error) {
		duration := time.Since(started)
		e.metrics.RunFinished(string(state.WorkflowType), string(status), duration)
		span.SetAttributes(attribute.String("workflow.outcome", string(status)))
		if emit != nil {
			emit(StreamEvent{
				Type:      EventRunFinished,
				SessionID: state.SessionID,
				Status:    string(status),
				Error:     runErr,
			})
		}
		outcome := &RunOutcome{
			SessionID:     state.SessionID,
			WorkflowType:  state.WorkflowType,
			Status:        status,
			FinalResponse: state.FinalResponse,
			StageResults:  state.StageResults,
			ErrorCount:    state.ErrorCount,
			Err:           runErr,
			Duration:      duration,
		}
		if status == types.RunCompleted {
			logger.Info("workflow run completed",
				zap.Duration("duration", duration),
				zap.Int("iterations", state.CurrentIteration),
			)
		} else {
			logger.Warn("workflow run ended",
				zap.String("status", string(status)),
				zap.Duration("duration", duration),
				zap.Error(runErr),
			)
		}
		return outcome, nil
	}

	current := startStage
	sinceCheckpoint := 0

	for {
		// Cooperative cancellation between stages.
		if ctx.Err() != nil {
			e.writeCheckpoint(state, current)
			logger.Info("workflow run suspended", zap.String("next_stage", current))
			return finish(types.RunSuspended, nil)
		}
		if runCtx.Err() != nil {
			return finish(types.RunTimedOut,
				types.NewError(types.ErrWorkflowTimeout,
					fmt.Sprintf("run exceeded workflow timeout %s", e.cfg.WorkflowTimeout)))
		}
		if state.IterationBudgetExhausted() {
			return finish(types.RunIterationLimitExceeded,
				types.NewError(types.ErrIterationLimit,
					fmt.Sprintf("run hit iteration limit %d", state.MaxIterations)))
		}

		out, failures, err := e.executeStage(runCtx, current, state, emit)
		state.ErrorCount += failures
		if err != nil {
			// A stage cut short by the run deadline is a timeout, not a
			// stage failure.
			if runCtx.Err() != nil {
				return finish(types.RunTimedOut,
					types.NewError(types.ErrWorkflowTimeout,
						fmt.Sprintf("run exceeded workflow timeout %s", e.cfg.WorkflowTimeout)).WithCause(err))
			}
			if errStage := graph.ErrorStage(); errStage != "" && current != errStage {
				logger.Warn("stage failed, routing to error stage",
					zap.String("stage", current),
					zap.String("error_stage", errStage),
					zap.Error(err),
				)
				current = errStage
				continue
			}
			return finish(types.RunFailed, err)
		}

		e.mergeOutput(state, current, out)
		if emit != nil {
			emit(StreamEvent{
				Type:      EventStageComplete,
				SessionID: state.SessionID,
				Stage:     current,
				Result:    out.Result,
			})
		}
		sinceCheckpoint++

		if graph.IsTerminal(current) {
			state.SetFinalResponse(stringifyResult(out.Result))
			e.invalidateCheckpoint(state.SessionID)
			return finish(types.RunCompleted, nil)
		}
		if state.FinalResponseSet {
			return finish(types.RunCompleted, nil)
		}

		next, fanout, err := e.resolveNext(graph, current, state)
		if err != nil {
			return finish(types.RunFailed, err)
		}

		if len(fanout) > 0 {
			joined, failures, err := e.executeFanOut(runCtx, graph, state, fanout, emit)
			state.ErrorCount += failures
			if err != nil {
				if runCtx.Err() != nil {
					return finish(types.RunTimedOut,
						types.NewError(types.ErrWorkflowTimeout,
							fmt.Sprintf("run exceeded workflow timeout %s", e.cfg.WorkflowTimeout)).WithCause(err))
				}
				if errStage := graph.ErrorStage(); errStage != "" {
					current = errStage
					continue
				}
				return finish(types.RunFailed, err)
			}
			sinceCheckpoint += joined
			edge, _ := graph.Edge(current)
			next = edge.Join
		}

		current = next

		if e.cfg.CheckpointInterval > 0 && sinceCheckpoint >= e.cfg.CheckpointInterval {
			e.writeCheckpoint(state, current)
			sinceCheckpoint = 0
		}
	}
}

// resolveNext evaluates the edge rule for the completed stage. It returns
// either the single next stage, or the fan-out set when the routing
// function selected more than one stage.
func (e *Engine) resolveNext(graph *Graph, current string, state *types.WorkflowState) (string, []string, error) {
	edge, ok := graph.Edge(current)
	if !ok {
		return "", nil, types.NewError(types.ErrInternalError,
			fmt.Sprintf("stage %q has no outgoing edge", current))
	}

	if edge.Route == nil {
		return edge.Next, nil, nil
	}

	targets := edge.Route(state)
	if len(targets) == 0 {
		// Router declined to pick anything; continue at the join.
		return edge.Join, nil, nil
	}

	seen := make(map[string]bool, len(targets))
	unique := make([]string, 0, len(targets))
	for _, t := range targets {
		if !graph.HasStage(t) {
			return "", nil, types.NewError(types.ErrInternalError,
				fmt.Sprintf("routing function selected unknown stage %q", t))
		}
		if !seen[t] {
			seen[t] = true
			unique = append(unique, t)
		}
	}

	if len(unique) == 1 {
		return unique[0], nil, nil
	}
	return "", unique, nil
}

// executeFanOut runs the selected stages concurrently and joins before the
// run continues. Results merge in stage-name order regardless of completion
// order, giving deterministic replay. Returns the number of stages merged.
func (e *Engine) executeFanOut(ctx context.Context, graph *Graph, state *types.WorkflowState, stages []string, emit StreamEmitter) (int, int, error) {
	sorted := make([]string, len(stages))
	copy(sorted, stages)
	sort.Strings(sorted)

	// Stage handlers run concurrently here, but the emitter contract stays
	// single-threaded.
	if emit != nil {
		var mu sync.Mutex
		inner := emit
		emit = func(ev StreamEvent) {
			mu.Lock()
			defer mu.Unlock()
			inner(ev)
		}
	}

	type fanResult struct {
		out      *StageOutput
		failures int
		err      error
	}
	results := make([]fanResult, len(sorted))

	var g errgroup.Group
	for i, stage := range sorted {
		g.Go(func() error {
			out, failures, err := e.executeStage(ctx, stage, state, emit)
			results[i] = fanResult{out: out, failures: failures, err: err}
			return err
		})
	}
	// Wait for every stage; errgroup does not cancel siblings here, so the
	// join observes all outcomes.
	firstErr := g.Wait()

	merged := 0
	failures := 0
	for i, stage := range sorted {
		failures += results[i].failures
		if results[i].err != nil {
			continue
		}
		e.mergeOutput(state, stage, results[i].out)
		merged++
		if emit != nil {
			emit(StreamEvent{
				Type:      EventStageComplete,
				SessionID: state.SessionID,
				Stage:     stage,
				Result:    results[i].out.Result,
			})
		}
	}

	return merged, failures, firstErr
}

// executeStage invokes a stage handler under the per-stage timeout with
// bounded retries. It never mutates state; the caller merges output and
// error counts, which keeps fan-out data-race free. Returns the output,
// the number of failed attempts, and the final error if all attempts
// failed.
func (e *Engine) executeStage(ctx context.Context, stage string, state *types.WorkflowState, emit StreamEmitter) (*StageOutput, int, error) {
	handler, ok := e.registry.Handler(stage)
	if !ok {
		return nil, 0, types.NewError(types.ErrInternalError,
			fmt.Sprintf("no handler registered for stage %q", stage)).WithStage(stage)
	}

	if emit != nil {
		emit(StreamEvent{Type: EventStageStart, SessionID: state.SessionID, Stage: stage})
	}

	var lastErr error
	failures := 0
	for attempt := 0; attempt <= e.cfg.StageRetries; attempt++ {
		if attempt > 0 {
			e.metrics.StageRetried(stage)
			select {
			case <-ctx.Done():
				return nil, failures, types.NewError(types.ErrWorkflowTimeout, "run aborted during retry wait").WithStage(stage)
			case <-time.After(e.cfg.RetryDelay):
			}
		}

		out, err := e.invokeHandler(ctx, handler, stage, state)
		if err == nil {
			if out == nil {
				out = &StageOutput{}
			}
			return out, failures, nil
		}

		failures++
		lastErr = err
		e.logger.Warn("stage attempt failed",
			zap.String("session_id", state.SessionID),
			zap.String("stage", stage),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if emit != nil {
			emit(StreamEvent{Type: EventStageError, SessionID: state.SessionID, Stage: stage, Error: err})
		}
	}

	return nil, failures, types.NewError(types.ErrStageExecution,
		fmt.Sprintf("stage %q failed after %d attempts", stage, failures)).
		WithStage(stage).
		WithCause(lastErr)
}

// invokeHandler runs one handler attempt under the stage timeout, tracing
// it and converting panics and deadline hits into stage errors.
func (e *Engine) invokeHandler(ctx context.Context, handler StageHandler, stage string, state *types.WorkflowState) (out *StageOutput, err error) {
	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	stageCtx, span := e.tracer.Start(stageCtx, "workflow.stage",
		trace.WithAttributes(attribute.String("workflow.stage", stage)))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err = types.NewError(types.ErrStageExecution,
				fmt.Sprintf("stage %q panicked: %v", stage, r)).WithStage(stage)
		}
	}()

	started := time.Now()
	out, err = handler.Invoke(stageCtx, state)
	e.metrics.StageCompleted(stage, time.Since(started))

	if err != nil && stageCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		// Per-stage timeout counts as a stage execution error and is
		// retryable; only the run-level timeout is fatal.
		return nil, types.NewError(types.ErrStageTimeout,
			fmt.Sprintf("stage %q exceeded timeout %s", stage, e.cfg.StageTimeout)).
			WithStage(stage).
			WithRetryable(true).
			WithCause(err)
	}
	return out, err
}

// mergeOutput folds a successful stage output into the run state.
func (e *Engine) mergeOutput(state *types.WorkflowState, stage string, out *StageOutput) {
	state.SetStageResult(stage, out.Result)
	for _, m := range out.Messages {
		state.AppendMessage(m)
	}
	if len(out.Messages) == 0 {
		state.AppendMessage(types.NewStageMessage(stage, stringifyResult(out.Result)))
	}
	state.AdvanceIteration()
}

// writeCheckpoint persists a snapshot naming the next stage to execute.
// Checkpointing is best-effort: a write failure is logged and counted but
// never fails the run.
func (e *Engine) writeCheckpoint(state *types.WorkflowState, nextStage string) {
	if e.store == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cp := &checkpoint.Checkpoint{
		SessionID:    state.SessionID,
		WorkflowType: state.WorkflowType,
		StageName:    nextStage,
		State:        state.Clone(),
		CreatedAt:    time.Now(),
	}
	err := e.store.Save(ctx, cp)
	e.metrics.CheckpointWritten(err == nil)
	if err != nil {
		e.logger.Warn("checkpoint write failed",
			zap.String("session_id", state.SessionID),
			zap.String("next_stage", nextStage),
			zap.Error(err),
		)
	}
}

// invalidateCheckpoint removes a completed run's checkpoint.
func (e *Engine) invalidateCheckpoint(sessionID string) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.Delete(ctx, sessionID); err != nil {
		e.logger.Warn("checkpoint invalidation failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

func stringifyResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
