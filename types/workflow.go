package types

import "fmt"

// WorkflowType identifies which built-in workflow graph handles a request.
type WorkflowType string

const (
	WorkflowChat       WorkflowType = "chat"
	WorkflowAnalytics  WorkflowType = "analytics"
	WorkflowDevice     WorkflowType = "device"
	WorkflowOperations WorkflowType = "operations"
	WorkflowAutomation WorkflowType = "automation"
	// WorkflowHybrid fans out to multiple domain stages and synthesizes
	// their results. It is the most general type and the tie-breaker
	// during classification.
	WorkflowHybrid WorkflowType = "hybrid"
)

// AllWorkflowTypes returns every built-in workflow type in registration order.
func AllWorkflowTypes() []WorkflowType {
	return []WorkflowType{
		WorkflowChat,
		WorkflowAnalytics,
		WorkflowDevice,
		WorkflowOperations,
		WorkflowAutomation,
		WorkflowHybrid,
	}
}

// Valid reports whether t is one of the built-in workflow types.
func (t WorkflowType) Valid() bool {
	switch t {
	case WorkflowChat, WorkflowAnalytics, WorkflowDevice,
		WorkflowOperations, WorkflowAutomation, WorkflowHybrid:
		return true
	}
	return false
}

// ParseWorkflowType converts a string into a WorkflowType.
func ParseWorkflowType(s string) (WorkflowType, error) {
	t := WorkflowType(s)
	if !t.Valid() {
		return "", NewError(ErrUnknownWorkflowType, fmt.Sprintf("unknown workflow type: %q", s))
	}
	return t, nil
}

// RunStatus describes the lifecycle state of a single workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunTimedOut  RunStatus = "timed_out"
	// RunIterationLimitExceeded signals a routing loop or runaway fan-out.
	RunIterationLimitExceeded RunStatus = "iteration_limit_exceeded"
	// RunSuspended is entered via cooperative cancellation with a checkpoint
	// taken. It is the only non-final state besides pending/running: a
	// suspended run can be resumed.
	RunSuspended RunStatus = "suspended"
)

// Terminal reports whether the status ends a run. Suspended is not terminal
// because the run can re-enter Running via resume.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunTimedOut, RunIterationLimitExceeded:
		return true
	}
	return false
}

// ResponseTier identifies which fallback level produced a response.
type ResponseTier string

const (
	// TierEngine marks a full graph-engine answer.
	TierEngine ResponseTier = "engine"
	// TierLegacy marks a degraded single-pass answer.
	TierLegacy ResponseTier = "legacy"
	// TierStatic marks the last-resort typed error response.
	TierStatic ResponseTier = "static"
)

// Response is the result of a Process or Resume call. Every call produces
// exactly one Response regardless of how many fallback tiers were tried.
type Response struct {
	SessionID    string         `json:"session_id"`
	WorkflowType WorkflowType   `json:"workflow_type"`
	Tier         ResponseTier   `json:"tier"`
	Status       RunStatus      `json:"status"`
	Content      string         `json:"content"`
	// StageResults carries the per-stage results accumulated before the
	// response was produced. On a degraded response it preserves the work
	// completed before the failure.
	StageResults map[string]any `json:"stage_results,omitempty"`
	Degraded     bool           `json:"degraded"`
	ErrorCode    ErrorCode      `json:"error_code,omitempty"`
}
