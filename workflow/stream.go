package workflow

import "context"

// StreamEventType defines the type of a workflow stream event.
type StreamEventType string

const (
	// EventStageStart is emitted before a stage begins execution.
	EventStageStart StreamEventType = "stage_start"
	// EventStageComplete is emitted after a stage finishes successfully.
	EventStageComplete StreamEventType = "stage_complete"
	// EventStageError is emitted when a stage attempt fails.
	EventStageError StreamEventType = "stage_error"
	// EventRunFinished is emitted once with the run's terminal status.
	EventRunFinished StreamEventType = "run_finished"
)

// StreamEvent carries an intermediate result out of a running workflow.
// Consumers observe stage results as they complete, independent of the
// run's final return value.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	SessionID string          `json:"session_id"`
	Stage     string          `json:"stage,omitempty"`
	Result    any             `json:"result,omitempty"`
	Status    string          `json:"status,omitempty"`
	Error     error           `json:"-"`
}

// StreamEmitter is a callback that receives workflow stream events. The
// engine never invokes it from more than one goroutine at a time, fan-out
// included; slow consumers should hand off to their own goroutine.
type StreamEmitter func(StreamEvent)

type streamEmitterKey struct{}

// WithStreamEmitter stores a StreamEmitter in the context.
func WithStreamEmitter(ctx context.Context, emitter StreamEmitter) context.Context {
	if emitter == nil {
		return ctx
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, streamEmitterKey{}, emitter)
}

// streamEmitterFromContext retrieves the StreamEmitter from context.
func streamEmitterFromContext(ctx context.Context) (StreamEmitter, bool) {
	if ctx == nil {
		return nil, false
	}
	v := ctx.Value(streamEmitterKey{})
	if v == nil {
		return nil, false
	}
	emit, ok := v.(StreamEmitter)
	return emit, ok && emit != nil
}
