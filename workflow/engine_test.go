package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminachat/chatflow/checkpoint"
	"github.com/luminachat/chatflow/config"
	"github.com/luminachat/chatflow/types"
)

func testWorkflowConfig() config.WorkflowConfig {
	return config.WorkflowConfig{
		MaxIterations:      10,
		StageTimeout:       time.Second,
		WorkflowTimeout:    5 * time.Second,
		StageRetries:       2,
		RetryDelay:         time.Millisecond,
		CheckpointInterval: 5,
	}
}

// invocationRecorder tracks handler invocations across concurrent stages.
type invocationRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *invocationRecorder) record(stage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, stage)
}

func (r *invocationRecorder) count(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c == stage {
			n++
		}
	}
	return n
}

func newBuiltinEngine(t *testing.T, store checkpoint.Store) (*Engine, *invocationRecorder) {
	t.Helper()
	r, err := NewBuiltinRegistry()
	require.NoError(t, err)

	rec := &invocationRecorder{}
	for _, wt := range types.AllWorkflowTypes() {
		g, err := r.Resolve(wt)
		require.NoError(t, err)
		for _, stage := range g.Stages() {
			echo := NewEchoHandler(stage)
			require.NoError(t, r.RegisterHandler(NewFuncHandler(stage,
				func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
					rec.record(echo.Name())
					return echo.Invoke(ctx, state)
				})))
		}
	}
	return NewEngine(r, store, testWorkflowConfig(), nil), rec
}

func TestEngine_DeviceWorkflowCompletes(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	engine, rec := newBuiltinEngine(t, store)

	graph, err := engine.registry.Resolve(types.WorkflowDevice)
	require.NoError(t, err)

	state := engine.NewState("session-1", types.WorkflowDevice, "check the status of device 7", nil)
	outcome, err := engine.Run(context.Background(), graph, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, outcome.Status)
	assert.Equal(t, 0, outcome.ErrorCount)
	assert.Equal(t, "[device_status_check] processed: check the status of device 7", outcome.FinalResponse)
	assert.Contains(t, outcome.StageResults, StageDeviceDiscovery)
	assert.Contains(t, outcome.StageResults, StageDeviceStatus)
	assert.Equal(t, 1, rec.count(StageDeviceDiscovery))
	assert.Equal(t, 1, rec.count(StageDeviceStatus))

	// A completed run leaves no checkpoint behind.
	_, err = store.Load(context.Background(), "session-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestEngine_RunRejectsMismatchedGraph(t *testing.T) {
	engine, _ := newBuiltinEngine(t, nil)

	graph, err := engine.registry.Resolve(types.WorkflowDevice)
	require.NoError(t, err)

	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	_, err = engine.Run(context.Background(), graph, state)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidGraph, types.GetErrorCode(err))
}

func TestEngine_HybridFanOutIsDeterministic(t *testing.T) {
	run := func() *RunOutcome {
		engine, _ := newBuiltinEngine(t, nil)
		graph, err := engine.registry.Resolve(types.WorkflowHybrid)
		require.NoError(t, err)

		state := engine.NewState("s", types.WorkflowHybrid,
			"check device 7 and chart its sensor metrics", nil)
		outcome, err := engine.Run(context.Background(), graph, state)
		require.NoError(t, err)
		return outcome
	}

	outcome := run()
	assert.Equal(t, types.RunCompleted, outcome.Status)

	// Router selected exactly the analytics and device stages.
	assert.Contains(t, outcome.StageResults, StageHybridAnalytics)
	assert.Contains(t, outcome.StageResults, StageHybridDevice)
	assert.NotContains(t, outcome.StageResults, StageHybridOperations)
	assert.Contains(t, outcome.StageResults, StageRouter)
	assert.Contains(t, outcome.StageResults, StageSynthesizer)

	// Repeated runs over the same request produce identical results.
	first := run()
	second := run()
	require.Equal(t, len(first.StageResults), len(second.StageResults))
	assert.Equal(t, first.FinalResponse, second.FinalResponse)
}

func TestEngine_FanOutMergeOrderIsSorted(t *testing.T) {
	// Make the stage that sorts first finish last; the merged history must
	// still list it first.
	r := NewRegistry()
	slow := NewFuncHandler("a_slow", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		time.Sleep(30 * time.Millisecond)
		return &StageOutput{Result: "slow"}, nil
	})
	fast := NewFuncHandler("b_fast", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		return &StageOutput{Result: "fast"}, nil
	})
	require.NoError(t, r.RegisterHandler(NewEchoHandler("router")))
	require.NoError(t, r.RegisterHandler(slow))
	require.NoError(t, r.RegisterHandler(fast))
	require.NoError(t, r.RegisterHandler(NewEchoHandler("join")))

	route := func(state *types.WorkflowState) []string { return []string{"b_fast", "a_slow"} }
	g, err := NewGraphBuilder(types.WorkflowHybrid).
		Stage("router").Stage("a_slow").Stage("b_fast").Stage("join").
		RouteFrom("router", route, "join").
		Next("a_slow", "join").Next("b_fast", "join").
		Start("router").Terminal("join").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	engine := NewEngine(r, nil, testWorkflowConfig(), nil)
	state := engine.NewState("s", types.WorkflowHybrid, "go", nil)
	outcome, err := engine.Run(context.Background(), graphMust(t, r, types.WorkflowHybrid), state)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, outcome.Status)

	var fanStages []string
	for _, m := range state.Messages {
		if m.Stage == "a_slow" || m.Stage == "b_fast" {
			fanStages = append(fanStages, m.Stage)
		}
	}
	assert.Equal(t, []string{"a_slow", "b_fast"}, fanStages)
}

func graphMust(t *testing.T, r *Registry, wt types.WorkflowType) *Graph {
	t.Helper()
	g, err := r.Resolve(wt)
	require.NoError(t, err)
	return g
}

func TestEngine_IterationLimitTerminatesSelfLoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler(NewEchoHandler("loop")))
	require.NoError(t, r.RegisterHandler(NewEchoHandler("end")))

	// The route always loops back, so only the iteration budget can stop
	// the run.
	route := func(state *types.WorkflowState) []string { return []string{"loop"} }
	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("loop").Stage("end").
		RouteFrom("loop", route, "end").
		Start("loop").Terminal("end").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	cfg := testWorkflowConfig()
	cfg.MaxIterations = 3
	engine := NewEngine(r, nil, cfg, nil)

	state := engine.NewState("s", types.WorkflowChat, "around we go", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunIterationLimitExceeded, outcome.Status)
	assert.Equal(t, types.ErrIterationLimit, types.GetErrorCode(outcome.Err))
	assert.Equal(t, 3, state.CurrentIteration)
}

func TestEngine_RetryThenSuccess(t *testing.T) {
	r := NewRegistry()
	attempts := 0
	require.NoError(t, r.RegisterHandler(NewFuncHandler("flaky", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("transient")
		}
		return &StageOutput{Result: "finally"}, nil
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("flaky").Start("flaky").Terminal("flaky").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	engine := NewEngine(r, nil, testWorkflowConfig(), nil)
	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, outcome.Status)
	assert.Equal(t, "finally", outcome.FinalResponse)
	// Two failed attempts are recorded even though the run succeeded.
	assert.Equal(t, 2, outcome.ErrorCount)
	assert.Equal(t, 3, attempts)
}

func TestEngine_RetriesExhaustedFailsRun(t *testing.T) {
	r := NewRegistry()
	attempts := 0
	require.NoError(t, r.RegisterHandler(NewFuncHandler("broken", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		attempts++
		return nil, errors.New("still broken")
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("broken").Start("broken").Terminal("broken").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	engine := NewEngine(r, nil, testWorkflowConfig(), nil)
	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunFailed, outcome.Status)
	assert.Equal(t, types.ErrStageExecution, types.GetErrorCode(outcome.Err))
	// Initial attempt plus two retries.
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 3, outcome.ErrorCount)
}

func TestEngine_FailureRoutesToErrorStage(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler(NewFuncHandler("broken", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		return nil, errors.New("boom")
	})))
	require.NoError(t, r.RegisterHandler(NewFuncHandler("apology", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		return &StageOutput{Result: "something went wrong, here is what we know"}, nil
	})))
	require.NoError(t, r.RegisterHandler(NewEchoHandler("done")))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("broken").Stage("done").Stage("apology").
		Next("broken", "done").
		Start("broken").Terminal("done").Terminal("apology").OnError("apology").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	engine := NewEngine(r, nil, testWorkflowConfig(), nil)
	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, outcome.Status)
	assert.Equal(t, "something went wrong, here is what we know", outcome.FinalResponse)
	assert.Equal(t, 3, outcome.ErrorCount)
}

func TestEngine_StageTimeoutIsRetried(t *testing.T) {
	r := NewRegistry()
	attempts := 0
	require.NoError(t, r.RegisterHandler(NewFuncHandler("slow", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		attempts++
		if attempts == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &StageOutput{Result: "quick this time"}, nil
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("slow").Start("slow").Terminal("slow").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	cfg := testWorkflowConfig()
	cfg.StageTimeout = 20 * time.Millisecond
	engine := NewEngine(r, nil, cfg, nil)

	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunCompleted, outcome.Status)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, outcome.ErrorCount)
}

func TestEngine_WorkflowTimeoutIsFatal(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler(NewFuncHandler("sleepy", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		time.Sleep(60 * time.Millisecond)
		return &StageOutput{Result: "done napping"}, nil
	})))
	require.NoError(t, r.RegisterHandler(NewEchoHandler("after")))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("sleepy").Stage("after").
		Next("sleepy", "after").
		Start("sleepy").Terminal("after").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	cfg := testWorkflowConfig()
	cfg.StageTimeout = 40 * time.Millisecond
	cfg.WorkflowTimeout = 40 * time.Millisecond
	engine := NewEngine(r, nil, cfg, nil)

	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunTimedOut, outcome.Status)
	assert.Equal(t, types.ErrWorkflowTimeout, types.GetErrorCode(outcome.Err))
}

func TestEngine_WorkflowTimeoutCutsContextAwareStage(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler(NewFuncHandler("obedient", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		// Honors cancellation, unlike the sleeper above.
		<-ctx.Done()
		return nil, ctx.Err()
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("obedient").Start("obedient").Terminal("obedient").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	cfg := testWorkflowConfig()
	cfg.StageTimeout = 200 * time.Millisecond
	cfg.WorkflowTimeout = 40 * time.Millisecond
	engine := NewEngine(r, nil, cfg, nil)

	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	// The run deadline cut the stage short mid-flight; that reports as a
	// timeout, not a stage failure.
	assert.Equal(t, types.RunTimedOut, outcome.Status)
	assert.Equal(t, types.ErrWorkflowTimeout, types.GetErrorCode(outcome.Err))
}

func TestEngine_CancellationSuspendsBetweenStages(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	firstCalls := 0
	require.NoError(t, r.RegisterHandler(NewFuncHandler("first", func(_ context.Context, state *types.WorkflowState) (*StageOutput, error) {
		firstCalls++
		// Cancel mid-run: the stage in flight finishes, the run suspends
		// before the next stage starts.
		cancel()
		return &StageOutput{Result: "first done"}, nil
	})))
	secondCalls := 0
	require.NoError(t, r.RegisterHandler(NewFuncHandler("second", func(_ context.Context, state *types.WorkflowState) (*StageOutput, error) {
		secondCalls++
		return &StageOutput{Result: "second done"}, nil
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("first").Stage("second").
		Next("first", "second").
		Start("first").Terminal("second").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	engine := NewEngine(r, store, testWorkflowConfig(), nil)
	state := engine.NewState("session-1", types.WorkflowChat, "hi", nil)

	outcome, err := engine.Run(ctx, g, state)
	require.NoError(t, err)
	assert.Equal(t, types.RunSuspended, outcome.Status)
	assert.Equal(t, 1, firstCalls)
	assert.Equal(t, 0, secondCalls)
	assert.Contains(t, outcome.StageResults, "first")

	// The suspension checkpoint names the next stage to execute.
	cp, err := store.Load(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "second", cp.StageName)

	// Resume with a live context finishes the run without repeating the
	// first stage.
	resumed, err := engine.Resume(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, resumed.Status)
	assert.Equal(t, "second done", resumed.FinalResponse)
	assert.Equal(t, 1, firstCalls)
	assert.Equal(t, 1, secondCalls)

	// Completion invalidates the checkpoint.
	_, err = store.Load(context.Background(), "session-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestEngine_ResumeThenImmediateSuspendKeepsCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	r := NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.RegisterHandler(NewFuncHandler("first", func(_ context.Context, state *types.WorkflowState) (*StageOutput, error) {
		cancel()
		return &StageOutput{Result: "first done"}, nil
	})))
	secondCalls := 0
	require.NoError(t, r.RegisterHandler(NewFuncHandler("second", func(_ context.Context, state *types.WorkflowState) (*StageOutput, error) {
		secondCalls++
		return &StageOutput{Result: "second done"}, nil
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("first").Stage("second").
		Next("first", "second").
		Start("first").Terminal("second").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	engine := NewEngine(r, store, testWorkflowConfig(), nil)
	state := engine.NewState("session-1", types.WorkflowChat, "hi", nil)

	outcome, err := engine.Run(ctx, g, state)
	require.NoError(t, err)
	require.Equal(t, types.RunSuspended, outcome.Status)

	original, err := store.Load(context.Background(), "session-1")
	require.NoError(t, err)

	// Resuming with an already-cancelled context suspends again before any
	// stage runs; the re-written checkpoint matches the one it loaded.
	cancelled, stop := context.WithCancel(context.Background())
	stop()
	resumed, err := engine.Resume(cancelled, "session-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunSuspended, resumed.Status)
	assert.Equal(t, 0, secondCalls)

	rewritten, err := store.Load(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, original.StageName, rewritten.StageName)
	assert.Equal(t, original.State.CurrentIteration, rewritten.State.CurrentIteration)
	assert.Equal(t, original.State.StageResults, rewritten.State.StageResults)
	assert.Equal(t, original.State.Messages, rewritten.State.Messages)

	// A live context still finishes the run afterwards.
	done, err := engine.Resume(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, types.RunCompleted, done.Status)
	assert.Equal(t, 1, secondCalls)
}

func TestEngine_ResumeWithoutCheckpoint(t *testing.T) {
	engine, _ := newBuiltinEngine(t, checkpoint.NewMemoryStore())

	_, err := engine.Resume(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrCheckpointNotFound, types.GetErrorCode(err))
}

func TestEngine_IntervalCheckpointing(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler(NewEchoHandler("a")))
	require.NoError(t, r.RegisterHandler(NewFuncHandler("b", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		return nil, errors.New("b always fails")
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("a").Stage("b").
		Next("a", "b").
		Start("a").Terminal("b").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	cfg := testWorkflowConfig()
	cfg.CheckpointInterval = 1
	cfg.StageRetries = 0
	engine := NewEngine(r, store, cfg, nil)

	state := engine.NewState("session-1", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)
	assert.Equal(t, types.RunFailed, outcome.Status)

	// The interval checkpoint taken after stage a survives the failure and
	// names stage b as the resume point.
	cp, err := store.Load(context.Background(), "session-1")
	require.NoError(t, err)
	assert.Equal(t, "b", cp.StageName)
	assert.Contains(t, cp.State.StageResults, "a")
}

func TestEngine_PanickingHandlerBecomesStageError(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.RegisterHandler(NewFuncHandler("bomb", func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		panic("kaboom")
	})))

	g, err := NewGraphBuilder(types.WorkflowChat).
		Stage("bomb").Start("bomb").Terminal("bomb").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	cfg := testWorkflowConfig()
	cfg.StageRetries = 0
	engine := NewEngine(r, nil, cfg, nil)

	state := engine.NewState("s", types.WorkflowChat, "hi", nil)
	outcome, err := engine.Run(context.Background(), g, state)
	require.NoError(t, err)

	assert.Equal(t, types.RunFailed, outcome.Status)
	assert.Equal(t, types.ErrStageExecution, types.GetErrorCode(outcome.Err))
}

func TestEngine_StreamEvents(t *testing.T) {
	engine, _ := newBuiltinEngine(t, nil)
	graph := graphMust(t, engine.registry, types.WorkflowDevice)

	var mu sync.Mutex
	var events []StreamEvent
	ctx := WithStreamEmitter(context.Background(), func(ev StreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})

	state := engine.NewState("s", types.WorkflowDevice, "check the status of device 7", nil)
	outcome, err := engine.Run(ctx, graph, state)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, outcome.Status)

	var kinds []StreamEventType
	for _, ev := range events {
		kinds = append(kinds, ev.Type)
	}
	assert.Equal(t, []StreamEventType{
		EventStageStart, EventStageComplete,
		EventStageStart, EventStageComplete,
		EventRunFinished,
	}, kinds)

	last := events[len(events)-1]
	assert.Equal(t, string(types.RunCompleted), last.Status)
}

func TestEngine_FanOutEmitterIsNotReentered(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"f1", "f2", "f3", "f4"} {
		name := n
		require.NoError(t, r.RegisterHandler(NewFuncHandler(name, func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
			time.Sleep(5 * time.Millisecond)
			return &StageOutput{Result: name}, nil
		})))
	}
	require.NoError(t, r.RegisterHandler(NewEchoHandler("router")))
	require.NoError(t, r.RegisterHandler(NewEchoHandler("join")))

	route := func(state *types.WorkflowState) []string { return []string{"f1", "f2", "f3", "f4"} }
	g, err := NewGraphBuilder(types.WorkflowHybrid).
		Stage("router").Stage("f1").Stage("f2").Stage("f3").Stage("f4").Stage("join").
		RouteFrom("router", route, "join").
		Next("f1", "join").Next("f2", "join").Next("f3", "join").Next("f4", "join").
		Start("router").Terminal("join").Build()
	require.NoError(t, err)
	require.NoError(t, r.Register(g))

	// The emitter holds no lock of its own; overlapping invocations from
	// the fan-out goroutines would trip the CAS.
	var inside atomic.Int32
	var overlapped atomic.Bool
	ctx := WithStreamEmitter(context.Background(), func(ev StreamEvent) {
		if !inside.CompareAndSwap(0, 1) {
			overlapped.Store(true)
			return
		}
		time.Sleep(time.Millisecond)
		inside.Store(0)
	})

	engine := NewEngine(r, nil, testWorkflowConfig(), nil)
	state := engine.NewState("s", types.WorkflowHybrid, "go", nil)
	outcome, err := engine.Run(ctx, g, state)
	require.NoError(t, err)
	require.Equal(t, types.RunCompleted, outcome.Status)
	assert.False(t, overlapped.Load())
}
