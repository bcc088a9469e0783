package orchestrator

import (
	"context"
	"fmt"
)

// LegacyOrchestrator is the single-pass fallback collaborator: a simpler,
// non-graph, non-checkpointed execution of the same request. It answers the
// request in one call or fails.
type LegacyOrchestrator interface {
	Process(ctx context.Context, request string, reqContext map[string]any) (string, error)
}

// LegacyFunc is the function form of LegacyOrchestrator.
type LegacyFunc func(ctx context.Context, request string, reqContext map[string]any) (string, error)

func (f LegacyFunc) Process(ctx context.Context, request string, reqContext map[string]any) (string, error) {
	return f(ctx, request, reqContext)
}

// NewEchoLegacy returns the built-in legacy orchestrator: a canned
// single-pass responder that always succeeds. Platforms replace it with
// their real legacy path.
func NewEchoLegacy() LegacyOrchestrator {
	return LegacyFunc(func(ctx context.Context, request string, reqContext map[string]any) (string, error) {
		return fmt.Sprintf("I received your request: %s", request), nil
	})
}

// DependencyProbe reports whether the primary graph/stage-handler backend
// is available. It is checked once per Process call before the engine is
// attempted.
type DependencyProbe interface {
	PrimaryAvailable(ctx context.Context) bool
}

// ProbeFunc is the function form of DependencyProbe.
type ProbeFunc func(ctx context.Context) bool

func (f ProbeFunc) PrimaryAvailable(ctx context.Context) bool {
	return f(ctx)
}

// StaticProbe always reports the given availability. The default probe
// reports available; tests and degraded deployments pin it to false.
func StaticProbe(available bool) DependencyProbe {
	return ProbeFunc(func(ctx context.Context) bool { return available })
}
