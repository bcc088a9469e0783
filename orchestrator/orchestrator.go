// Package orchestrator provides the request-facing façade over the
// workflow engine: request classification, graph resolution, and the
// two-tier fallback policy. Process never fails; every path yields a
// Response tagged with the tier that produced it, so callers can
// distinguish degraded answers from full ones.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/luminachat/chatflow/checkpoint"
	"github.com/luminachat/chatflow/internal/metrics"
	"github.com/luminachat/chatflow/types"
	"github.com/luminachat/chatflow/workflow"
)

// SessionStatus is the externally visible state of a session.
type SessionStatus struct {
	SessionID          string             `json:"session_id"`
	WorkflowType       types.WorkflowType `json:"workflow_type"`
	Status             types.RunStatus    `json:"status"`
	LastCheckpointTime time.Time          `json:"last_checkpoint_time,omitempty"`
}

// Orchestrator classifies requests, runs them through the engine, and
// degrades gracefully when the engine cannot answer.
type Orchestrator struct {
	registry   *workflow.Registry
	engine     *workflow.Engine
	store      checkpoint.Store
	classifier workflow.Classifier
	legacy     LegacyOrchestrator
	probe      DependencyProbe
	logger     *zap.Logger
	metrics    *metrics.Collector

	mu       sync.RWMutex
	sessions map[string]*SessionStatus
}

// New creates an orchestrator with the default keyword classifier, echo
// legacy orchestrator, and an always-available probe. Replace the
// collaborators with the With* methods before serving traffic.
func New(registry *workflow.Registry, engine *workflow.Engine, store checkpoint.Store, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:   registry,
		engine:     engine,
		store:      store,
		classifier: workflow.NewKeywordClassifier(),
		legacy:     NewEchoLegacy(),
		probe:      StaticProbe(true),
		logger:     logger.With(zap.String("component", "orchestrator")),
		sessions:   make(map[string]*SessionStatus),
	}
}

// WithClassifier replaces the request classifier.
func (o *Orchestrator) WithClassifier(c workflow.Classifier) *Orchestrator {
	if c != nil {
		o.classifier = c
	}
	return o
}

// WithLegacy replaces the legacy single-pass orchestrator.
func (o *Orchestrator) WithLegacy(l LegacyOrchestrator) *Orchestrator {
	if l != nil {
		o.legacy = l
	}
	return o
}

// WithProbe replaces the dependency probe.
func (o *Orchestrator) WithProbe(p DependencyProbe) *Orchestrator {
	if p != nil {
		o.probe = p
	}
	return o
}

// WithMetrics attaches a metrics collector.
func (o *Orchestrator) WithMetrics(c *metrics.Collector) *Orchestrator {
	o.metrics = c
	return o
}

// Process answers a request. The hint, when non-empty, overrides
// classification. Process never panics and never returns an error: the
// fallback tiers guarantee a Response on every path.
func (o *Orchestrator) Process(ctx context.Context, request string, reqContext map[string]any, hint string) *types.Response {
	workflowType, resp := o.requestType(request, reqContext, hint)
	if resp != nil {
		o.finishResponse(resp)
		return resp
	}

	sessionID := uuid.New().String()

	// Tier 1: graph engine, skipped outright when the primary backend is
	// down. No stage handler runs in that case.
	if !o.probe.PrimaryAvailable(ctx) {
		o.logger.Warn("primary backend unavailable, skipping engine",
			zap.String("session_id", sessionID),
		)
		resp := o.legacyResponse(ctx, sessionID, workflowType, request, reqContext, nil,
			types.ErrEngineUnavailable)
		o.finishResponse(resp)
		return resp
	}

	outcome := o.runEngine(ctx, sessionID, workflowType, request, reqContext)

	if outcome != nil {
		o.recordSession(sessionID, workflowType, outcome.Status)
	}

	if outcome != nil && (outcome.Status == types.RunCompleted || outcome.Status == types.RunSuspended) {
		resp := &types.Response{
			SessionID:    sessionID,
			WorkflowType: workflowType,
			Tier:         types.TierEngine,
			Status:       outcome.Status,
			Content:      outcome.FinalResponse,
			StageResults: outcome.StageResults,
		}
		o.finishResponse(resp)
		return resp
	}

	// Tier 2: the engine failed or was unusable; preserve whatever stages
	// completed before the failure.
	var partial map[string]any
	errCode := types.ErrInternalError
	if outcome != nil {
		partial = outcome.StageResults
		if code := types.GetErrorCode(outcome.Err); code != "" {
			errCode = code
		}
	}
	resp = o.legacyResponse(ctx, sessionID, workflowType, request, reqContext, partial, errCode)
	o.finishResponse(resp)
	return resp
}

// requestType resolves the workflow type from the hint or the classifier.
// A bad hint is a caller error surfaced immediately as a static response.
func (o *Orchestrator) requestType(request string, reqContext map[string]any, hint string) (types.WorkflowType, *types.Response) {
	if hint != "" {
		t, err := types.ParseWorkflowType(hint)
		if err != nil {
			return "", o.staticResponse("", "", types.ErrUnknownWorkflowType,
				fmt.Sprintf("unknown workflow type %q", hint))
		}
		return t, nil
	}
	return o.classifier.Classify(request, reqContext), nil
}

// runEngine runs a fresh workflow and absorbs panics so Process can keep
// its no-throw guarantee.
func (o *Orchestrator) runEngine(ctx context.Context, sessionID string, workflowType types.WorkflowType, request string, reqContext map[string]any) (outcome *workflow.RunOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("engine panicked",
				zap.String("session_id", sessionID),
				zap.Any("panic", r),
			)
			outcome = nil
		}
	}()

	graph, err := o.registry.Resolve(workflowType)
	if err != nil {
		o.logger.Warn("graph resolution failed",
			zap.String("workflow_type", string(workflowType)),
			zap.Error(err),
		)
		return nil
	}

	state := o.engine.NewState(sessionID, workflowType, request, reqContext)
	o.recordSession(sessionID, workflowType, types.RunRunning)

	result, err := o.engine.Run(ctx, graph, state)
	if err != nil {
		o.logger.Warn("engine run rejected",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return nil
	}
	return result
}

// legacyResponse is tier 2 with tier 3 as its own fallback: if the legacy
// orchestrator also fails, the static typed error response is returned.
func (o *Orchestrator) legacyResponse(ctx context.Context, sessionID string, workflowType types.WorkflowType, request string, reqContext map[string]any, partial map[string]any, code types.ErrorCode) *types.Response {
	content, err := o.callLegacy(ctx, request, reqContext)
	if err != nil {
		o.logger.Error("legacy orchestrator failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		resp := o.staticResponse(sessionID, workflowType, code,
			"the request could not be processed")
		resp.StageResults = partial
		return resp
	}

	return &types.Response{
		SessionID:    sessionID,
		WorkflowType: workflowType,
		Tier:         types.TierLegacy,
		Status:       types.RunCompleted,
		Content:      content,
		StageResults: partial,
		Degraded:     true,
		ErrorCode:    code,
	}
}

// callLegacy shields Process from a panicking legacy collaborator.
func (o *Orchestrator) callLegacy(ctx context.Context, request string, reqContext map[string]any) (content string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("legacy orchestrator panicked: %v", r)
		}
	}()
	return o.legacy.Process(ctx, request, reqContext)
}

// staticResponse is tier 3: the last-resort typed error response.
func (o *Orchestrator) staticResponse(sessionID string, workflowType types.WorkflowType, code types.ErrorCode, content string) *types.Response {
	return &types.Response{
		SessionID:    sessionID,
		WorkflowType: workflowType,
		Tier:         types.TierStatic,
		Status:       types.RunFailed,
		Content:      content,
		Degraded:     true,
		ErrorCode:    code,
	}
}

// Resume continues a suspended session from its checkpoint. A missing
// checkpoint or a non-resumable session yields a typed static response,
// never an error.
func (o *Orchestrator) Resume(ctx context.Context, sessionID string) *types.Response {
	if status, ok := o.SessionStatus(sessionID); ok && status.Status.Terminal() {
		resp := o.staticResponse(sessionID, status.WorkflowType, types.ErrRunNotResumable,
			fmt.Sprintf("session is %s and cannot be resumed", status.Status))
		o.finishResponse(resp)
		return resp
	}

	outcome, err := o.resumeEngine(ctx, sessionID)
	if err != nil || outcome == nil {
		code := types.GetErrorCode(err)
		if code == "" {
			code = types.ErrInternalError
		}
		resp := o.staticResponse(sessionID, "", code, "the session could not be resumed")
		o.finishResponse(resp)
		return resp
	}

	o.recordSession(sessionID, outcome.WorkflowType, outcome.Status)

	resp := &types.Response{
		SessionID:    sessionID,
		WorkflowType: outcome.WorkflowType,
		Tier:         types.TierEngine,
		Status:       outcome.Status,
		Content:      outcome.FinalResponse,
		StageResults: outcome.StageResults,
	}
	if outcome.Status != types.RunCompleted && outcome.Status != types.RunSuspended {
		resp.Degraded = true
		resp.ErrorCode = types.GetErrorCode(outcome.Err)
	}
	o.finishResponse(resp)
	return resp
}

func (o *Orchestrator) resumeEngine(ctx context.Context, sessionID string) (outcome *workflow.RunOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = nil, fmt.Errorf("engine panicked: %v", r)
		}
	}()
	return o.engine.Resume(ctx, sessionID)
}

// SessionStatus returns the last known status of a session. The checkpoint
// timestamp is read from the store on demand so it reflects the latest
// write.
func (o *Orchestrator) SessionStatus(sessionID string) (SessionStatus, bool) {
	o.mu.RLock()
	status, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return SessionStatus{}, false
	}

	out := *status
	if o.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if cp, err := o.store.Load(ctx, sessionID); err == nil {
			out.LastCheckpointTime = cp.CreatedAt
		}
	}
	return out, true
}

// WorkflowTypes returns the registered workflow types.
func (o *Orchestrator) WorkflowTypes() []types.WorkflowType {
	return o.registry.Types()
}

// CleanupCheckpoints removes checkpoints older than maxAge. Scheduling is
// the caller's concern; the orchestrator never runs this on its own.
func (o *Orchestrator) CleanupCheckpoints(ctx context.Context, maxAge time.Duration) (int, error) {
	if o.store == nil {
		return 0, nil
	}
	return o.store.Cleanup(ctx, maxAge)
}

func (o *Orchestrator) recordSession(sessionID string, workflowType types.WorkflowType, status types.RunStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[sessionID] = &SessionStatus{
		SessionID:    sessionID,
		WorkflowType: workflowType,
		Status:       status,
	}
}

func (o *Orchestrator) finishResponse(resp *types.Response) {
	o.metrics.ResponseProduced(string(resp.Tier))
	o.logger.Info("response produced",
		zap.String("session_id", resp.SessionID),
		zap.String("workflow_type", string(resp.WorkflowType)),
		zap.String("tier", string(resp.Tier)),
		zap.String("status", string(resp.Status)),
		zap.Bool("degraded", resp.Degraded),
	)
}
