package types

import "time"

// WorkflowState is the mutable record threaded through a single workflow run.
// It is exclusively owned by the engine invocation executing it and never
// shared between concurrent runs, so it carries no internal locking. The
// checkpoint layer only ever sees it as an opaque snapshot.
type WorkflowState struct {
	SessionID       string       `json:"session_id"`
	WorkflowType    WorkflowType `json:"workflow_type"`
	OriginalRequest string       `json:"original_request"`
	// Messages is the append-only history of stage inputs and outputs.
	Messages []Message `json:"messages"`
	// StageResults maps stage name to its produced result. Keys grow
	// monotonically as stages complete and are never overwritten once a
	// stage has succeeded.
	StageResults map[string]any `json:"stage_results"`
	// Context is the caller-supplied request context. Stages treat it as
	// read-only except for keys listed in MutableContextKeys.
	Context            map[string]any `json:"context,omitempty"`
	MutableContextKeys []string       `json:"mutable_context_keys,omitempty"`
	ErrorCount         int            `json:"error_count"`
	CurrentIteration   int            `json:"current_iteration"`
	MaxIterations      int            `json:"max_iterations"`
	// FinalResponse is set exactly once, by the terminal stage.
	FinalResponse    string    `json:"final_response,omitempty"`
	FinalResponseSet bool      `json:"final_response_set"`
	CreatedAt        time.Time `json:"created_at"`
}

// NewWorkflowState creates the state for a fresh run.
func NewWorkflowState(sessionID string, workflowType WorkflowType, request string, reqContext map[string]any, maxIterations int) *WorkflowState {
	return &WorkflowState{
		SessionID:       sessionID,
		WorkflowType:    workflowType,
		OriginalRequest: request,
		Messages:        []Message{NewUserMessage(request)},
		StageResults:    make(map[string]any),
		Context:         reqContext,
		MaxIterations:   maxIterations,
		CreatedAt:       time.Now(),
	}
}

// AppendMessage appends an entry to the run history.
func (s *WorkflowState) AppendMessage(m Message) {
	s.Messages = append(s.Messages, m)
}

// SetStageResult records a stage result. The first successful result for a
// stage wins; later writes for the same stage are ignored.
func (s *WorkflowState) SetStageResult(stage string, result any) bool {
	if s.StageResults == nil {
		s.StageResults = make(map[string]any)
	}
	if _, exists := s.StageResults[stage]; exists {
		return false
	}
	s.StageResults[stage] = result
	return true
}

// StageResult retrieves a completed stage's result.
func (s *WorkflowState) StageResult(stage string) (any, bool) {
	result, ok := s.StageResults[stage]
	return result, ok
}

// RecordError increments the run's error counter.
func (s *WorkflowState) RecordError() {
	s.ErrorCount++
}

// AdvanceIteration increments the iteration counter after a successful stage.
func (s *WorkflowState) AdvanceIteration() {
	s.CurrentIteration++
}

// IterationBudgetExhausted reports whether the run hit its iteration ceiling.
func (s *WorkflowState) IterationBudgetExhausted() bool {
	return s.CurrentIteration >= s.MaxIterations
}

// SetFinalResponse sets the run's final response. Only the first call takes
// effect; the response is immutable once set.
func (s *WorkflowState) SetFinalResponse(response string) bool {
	if s.FinalResponseSet {
		return false
	}
	s.FinalResponse = response
	s.FinalResponseSet = true
	return true
}

// ContextKeyMutable reports whether a stage may write the given context key.
func (s *WorkflowState) ContextKeyMutable(key string) bool {
	for _, k := range s.MutableContextKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SetContextValue writes a context key if it is designated mutable.
func (s *WorkflowState) SetContextValue(key string, value any) bool {
	if !s.ContextKeyMutable(key) {
		return false
	}
	if s.Context == nil {
		s.Context = make(map[string]any)
	}
	s.Context[key] = value
	return true
}

// Clone returns a deep copy of the state suitable for snapshotting while the
// original continues to mutate.
func (s *WorkflowState) Clone() *WorkflowState {
	clone := *s
	clone.Messages = make([]Message, len(s.Messages))
	copy(clone.Messages, s.Messages)
	clone.StageResults = make(map[string]any, len(s.StageResults))
	for k, v := range s.StageResults {
		clone.StageResults[k] = v
	}
	if s.Context != nil {
		clone.Context = make(map[string]any, len(s.Context))
		for k, v := range s.Context {
			clone.Context[k] = v
		}
	}
	if s.MutableContextKeys != nil {
		clone.MutableContextKeys = append([]string(nil), s.MutableContextKeys...)
	}
	return &clone
}
