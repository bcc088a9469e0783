package workflow

import (
	"fmt"
	"sync"

	"github.com/luminachat/chatflow/types"
)

// Stage names of the built-in graphs.
const (
	StageChatContext      = "chat_context"
	StageChatResponse     = "chat_response"
	StageAnalyticsQuery   = "analytics_query"
	StageAnalyticsSummary = "analytics_summary"
	StageDeviceDiscovery  = "device_discovery"
	StageDeviceStatus     = "device_status_check"
	StageOperationsPlan   = "operations_plan"
	StageOperationsExec   = "operations_execute"
	StageAutomationPlan   = "automation_trigger"
	StageAutomationRun    = "automation_run"

	// Hybrid graph stages. The middle stages are named after the domain
	// they cover and run in parallel between router and synthesizer.
	StageRouter           = "router"
	StageHybridChat       = "hybrid_chat"
	StageHybridAnalytics  = "hybrid_analytics"
	StageHybridDevice     = "hybrid_device"
	StageHybridOperations = "hybrid_operations"
	StageHybridAutomation = "hybrid_automation"
	StageSynthesizer      = "synthesizer"
)

// HybridDomainStages lists the hybrid graph's fan-out stages in name order.
func HybridDomainStages() []string {
	return []string{
		StageHybridAnalytics,
		StageHybridAutomation,
		StageHybridChat,
		StageHybridDevice,
		StageHybridOperations,
	}
}

// Registry holds the validated workflow graphs and the stage handlers
// backing them. Graphs and handlers are registered at startup; Resolve and
// Handler are read-shared by all runs.
type Registry struct {
	mu       sync.RWMutex
	graphs   map[types.WorkflowType]*Graph
	handlers map[string]StageHandler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		graphs:   make(map[types.WorkflowType]*Graph),
		handlers: make(map[string]StageHandler),
	}
}

// RegisterHandler registers the handler for its stage name, replacing any
// prior handler for the same stage.
func (r *Registry) RegisterHandler(h StageHandler) error {
	if h == nil || h.Name() == "" {
		return fmt.Errorf("handler must have a stage name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[h.Name()] = h
	return nil
}

// Register validates and registers a graph. Every stage must already have a
// registered handler: unknown stage names are rejected here, at
// registration time, never during a run.
func (r *Registry) Register(g *Graph) error {
	if g == nil {
		return types.NewError(types.ErrInvalidGraph, "graph is nil")
	}
	if err := g.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, stage := range g.stages {
		if _, ok := r.handlers[stage]; !ok {
			return types.NewError(types.ErrInvalidGraph,
				fmt.Sprintf("stage %q of graph %q has no registered handler", stage, g.workflowType))
		}
	}
	r.graphs[g.workflowType] = g
	return nil
}

// Resolve returns the graph for a workflow type.
func (r *Registry) Resolve(workflowType types.WorkflowType) (*Graph, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.graphs[workflowType]
	if !ok {
		return nil, types.NewError(types.ErrUnknownWorkflowType,
			fmt.Sprintf("no graph registered for workflow type %q", workflowType))
	}
	return g, nil
}

// Handler returns the handler registered for a stage.
func (r *Registry) Handler(stage string) (StageHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[stage]
	return h, ok
}

// Types returns the registered workflow types in canonical order.
func (r *Registry) Types() []types.WorkflowType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.WorkflowType, 0, len(r.graphs))
	for _, t := range types.AllWorkflowTypes() {
		if _, ok := r.graphs[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// linearGraph builds one of the five two-stage built-in graphs.
func linearGraph(workflowType types.WorkflowType, first, second string) (*Graph, error) {
	return NewGraphBuilder(workflowType).
		Stage(first).
		Stage(second).
		Next(first, second).
		Start(first).
		Terminal(second).
		Build()
}

// BuiltinGraphs builds the six built-in graphs: five linear two-stage
// graphs and the branching hybrid graph. The hybrid router inspects the
// request and context to pick the domain stages to fan out to.
func BuiltinGraphs(router RouteFunc) ([]*Graph, error) {
	if router == nil {
		router = DefaultHybridRouter
	}

	chat, err := linearGraph(types.WorkflowChat, StageChatContext, StageChatResponse)
	if err != nil {
		return nil, err
	}
	analytics, err := linearGraph(types.WorkflowAnalytics, StageAnalyticsQuery, StageAnalyticsSummary)
	if err != nil {
		return nil, err
	}
	device, err := linearGraph(types.WorkflowDevice, StageDeviceDiscovery, StageDeviceStatus)
	if err != nil {
		return nil, err
	}
	operations, err := linearGraph(types.WorkflowOperations, StageOperationsPlan, StageOperationsExec)
	if err != nil {
		return nil, err
	}
	automation, err := linearGraph(types.WorkflowAutomation, StageAutomationPlan, StageAutomationRun)
	if err != nil {
		return nil, err
	}

	hybridBuilder := NewGraphBuilder(types.WorkflowHybrid).
		Stage(StageRouter)
	for _, stage := range HybridDomainStages() {
		hybridBuilder.Stage(stage)
	}
	hybridBuilder.Stage(StageSynthesizer).
		RouteFrom(StageRouter, router, StageSynthesizer).
		Start(StageRouter).
		Terminal(StageSynthesizer)
	for _, stage := range HybridDomainStages() {
		hybridBuilder.Next(stage, StageSynthesizer)
	}
	hybrid, err := hybridBuilder.Build()
	if err != nil {
		return nil, err
	}

	return []*Graph{chat, analytics, device, operations, automation, hybrid}, nil
}

// NewBuiltinRegistry creates a registry with the six built-in graphs, every
// stage backed by an echo placeholder handler. Callers replace the
// placeholders with real agents via RegisterHandler.
func NewBuiltinRegistry() (*Registry, error) {
	r := NewRegistry()
	graphs, err := BuiltinGraphs(nil)
	if err != nil {
		return nil, err
	}
	for _, g := range graphs {
		for _, stage := range g.Stages() {
			if _, ok := r.Handler(stage); !ok {
				if err := r.RegisterHandler(NewEchoHandler(stage)); err != nil {
					return nil, err
				}
			}
		}
	}
	for _, g := range graphs {
		if err := r.Register(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}
