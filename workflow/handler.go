package workflow

import (
	"context"
	"fmt"

	"github.com/luminachat/chatflow/types"
)

// StageOutput is what a stage handler produces: the stage's result plus any
// messages to append to the run history. Handlers are side-effect-visible
// only through their return value; the engine never inspects external state.
type StageOutput struct {
	Result   any
	Messages []types.Message
}

// StageHandler is the pluggable unit of work backing one stage name. The
// concrete handlers (chat, analytics, device agents and so on) live outside
// the orchestration core and are registered at startup.
type StageHandler interface {
	// Name returns the stage name this handler serves.
	Name() string
	// Invoke performs the stage's processing against the current run state.
	// The state is read-only to handlers except through the returned output
	// and explicitly mutable context keys.
	Invoke(ctx context.Context, state *types.WorkflowState) (*StageOutput, error)
}

// StageHandlerFunc is the function form of a stage invocation.
type StageHandlerFunc func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error)

// FuncHandler adapts a function to StageHandler.
type FuncHandler struct {
	name string
	fn   StageHandlerFunc
}

// NewFuncHandler creates a function-backed stage handler.
func NewFuncHandler(name string, fn StageHandlerFunc) *FuncHandler {
	return &FuncHandler{name: name, fn: fn}
}

func (h *FuncHandler) Name() string {
	return h.name
}

func (h *FuncHandler) Invoke(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
	return h.fn(ctx, state)
}

// NewEchoHandler creates a placeholder handler that answers with a fixed
// description of the stage and the original request. Used as the default
// backing for the built-in graphs until real agents are registered, and by
// tests.
func NewEchoHandler(name string) *FuncHandler {
	return NewFuncHandler(name, func(ctx context.Context, state *types.WorkflowState) (*StageOutput, error) {
		content := fmt.Sprintf("[%s] processed: %s", name, state.OriginalRequest)
		return &StageOutput{
			Result:   content,
			Messages: []types.Message{types.NewStageMessage(name, content)},
		}, nil
	})
}
