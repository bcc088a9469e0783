package workflow

import (
	"strings"

	"github.com/luminachat/chatflow/types"
)

// Classifier maps a raw request to a workflow type. The keyword heuristic
// below is the default; it sits behind this narrow interface so a
// model-backed classifier can replace it without touching the engine.
type Classifier interface {
	Classify(text string, reqContext map[string]any) types.WorkflowType
}

// ClassifierFunc is the function form of Classifier.
type ClassifierFunc func(text string, reqContext map[string]any) types.WorkflowType

func (f ClassifierFunc) Classify(text string, reqContext map[string]any) types.WorkflowType {
	return f(text, reqContext)
}

// domainKeywords drives both classification and hybrid routing. Chat is
// deliberately absent: it is the default when no domain signal is found.
var domainKeywords = map[types.WorkflowType][]string{
	types.WorkflowAnalytics: {
		"analytics", "analyze", "analysis", "report", "metric", "trend",
		"statistic", "chart", "dashboard", "aggregate",
	},
	types.WorkflowDevice: {
		"device", "sensor", "firmware", "hardware", "telemetry", "gateway",
		"reboot",
	},
	types.WorkflowOperations: {
		"deploy", "deployment", "incident", "rollback", "outage",
		"maintenance", "operations", "runbook",
	},
	types.WorkflowAutomation: {
		"automate", "automation", "schedule", "scheduled", "trigger",
		"routine", "recurring",
	},
}

// KeywordClassifier classifies requests by keyword matching. When keywords
// from more than one domain match, the tie breaks toward hybrid, the most
// general type; no domain signal at all means plain chat.
type KeywordClassifier struct {
	keywords map[types.WorkflowType][]string
}

// NewKeywordClassifier creates the default keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: domainKeywords}
}

// Classify picks a workflow type for the request. An explicit and valid
// "workflow_type" context entry wins over the heuristic.
func (c *KeywordClassifier) Classify(text string, reqContext map[string]any) types.WorkflowType {
	if reqContext != nil {
		if raw, ok := reqContext["workflow_type"].(string); ok {
			if t, err := types.ParseWorkflowType(raw); err == nil {
				return t
			}
		}
	}

	lower := strings.ToLower(text)
	matched := make([]types.WorkflowType, 0, len(c.keywords))
	for _, t := range types.AllWorkflowTypes() {
		words, ok := c.keywords[t]
		if !ok {
			continue
		}
		for _, w := range words {
			if strings.Contains(lower, w) {
				matched = append(matched, t)
				break
			}
		}
	}

	switch len(matched) {
	case 0:
		return types.WorkflowChat
	case 1:
		return matched[0]
	default:
		return types.WorkflowHybrid
	}
}

// hybridStageFor maps a domain workflow type to its hybrid fan-out stage.
var hybridStageFor = map[types.WorkflowType]string{
	types.WorkflowChat:       StageHybridChat,
	types.WorkflowAnalytics:  StageHybridAnalytics,
	types.WorkflowDevice:     StageHybridDevice,
	types.WorkflowOperations: StageHybridOperations,
	types.WorkflowAutomation: StageHybridAutomation,
}

// DefaultHybridRouter selects the hybrid graph's domain stages from the
// original request and context. Selecting nothing falls open to every
// domain stage: leaving the user with no answer is worse than an overly
// broad one.
func DefaultHybridRouter(state *types.WorkflowState) []string {
	if state.Context != nil {
		if raw, ok := state.Context["hybrid_domains"].([]string); ok && len(raw) > 0 {
			var selected []string
			for _, name := range raw {
				if t, err := types.ParseWorkflowType(name); err == nil {
					if stage, ok := hybridStageFor[t]; ok {
						selected = append(selected, stage)
					}
				}
			}
			if len(selected) > 0 {
				return selected
			}
		}
	}

	lower := strings.ToLower(state.OriginalRequest)
	var selected []string
	for _, t := range types.AllWorkflowTypes() {
		words, ok := domainKeywords[t]
		if !ok {
			continue
		}
		for _, w := range words {
			if strings.Contains(lower, w) {
				selected = append(selected, hybridStageFor[t])
				break
			}
		}
	}

	if len(selected) == 0 {
		return HybridDomainStages()
	}
	return selected
}
