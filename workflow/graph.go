package workflow

import (
	"fmt"

	"github.com/luminachat/chatflow/types"
)

// RouteFunc decides the next stage(s) from accumulated run state. Returning
// more than one stage name fans out: the engine executes the selected stages
// concurrently and joins before continuing.
type RouteFunc func(state *types.WorkflowState) []string

// Edge is the outgoing edge rule for a stage. Exactly one of Next or Route
// is set. Join names the stage the run continues at after a fan-out
// completes.
type Edge struct {
	Next  string
	Route RouteFunc
	Join  string
}

// Graph is an immutable definition of a named workflow. Graphs are built
// once with GraphBuilder, validated, and shared read-only across concurrent
// runs; no locking is required.
type Graph struct {
	workflowType types.WorkflowType
	stages       []string
	stageSet     map[string]bool
	start        string
	terminals    map[string]bool
	errorStage   string
	edges        map[string]Edge
}

// Type returns the workflow type this graph serves.
func (g *Graph) Type() types.WorkflowType {
	return g.workflowType
}

// Stages returns the stage names in definition order.
func (g *Graph) Stages() []string {
	out := make([]string, len(g.stages))
	copy(out, g.stages)
	return out
}

// Start returns the designated start stage.
func (g *Graph) Start() string {
	return g.start
}

// IsTerminal reports whether a stage ends the run.
func (g *Graph) IsTerminal(stage string) bool {
	return g.terminals[stage]
}

// ErrorStage returns the stage failures route to after retries are
// exhausted, or "" when the graph has none.
func (g *Graph) ErrorStage() string {
	return g.errorStage
}

// Edge returns the outgoing edge rule for a stage.
func (g *Graph) Edge(stage string) (Edge, bool) {
	e, ok := g.edges[stage]
	return e, ok
}

// HasStage reports whether the graph contains a stage.
func (g *Graph) HasStage(stage string) bool {
	return g.stageSet[stage]
}

// validate checks the graph invariants: unique stage names, a start stage,
// at least one terminal stage, edges referencing only existing stages, and
// no cycle through fixed edges (cycles are permitted only through routing
// functions, which the engine bounds by the iteration limit).
func (g *Graph) validate() error {
	if !g.workflowType.Valid() {
		return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("graph has invalid workflow type %q", g.workflowType))
	}
	if len(g.stages) == 0 {
		return types.NewError(types.ErrInvalidGraph, "graph has no stages")
	}
	if g.start == "" {
		return types.NewError(types.ErrInvalidGraph, "graph has no start stage")
	}
	if !g.stageSet[g.start] {
		return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("start stage %q is not a graph stage", g.start))
	}
	if len(g.terminals) == 0 {
		return types.NewError(types.ErrInvalidGraph, "graph has no terminal stage")
	}
	for stage := range g.terminals {
		if !g.stageSet[stage] {
			return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("terminal stage %q is not a graph stage", stage))
		}
	}
	if g.errorStage != "" && !g.stageSet[g.errorStage] {
		return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("error stage %q is not a graph stage", g.errorStage))
	}
	if g.errorStage != "" && !g.terminals[g.errorStage] {
		return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("error stage %q must be terminal", g.errorStage))
	}

	for from, edge := range g.edges {
		if !g.stageSet[from] {
			return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("edge from unknown stage %q", from))
		}
		if edge.Next != "" && edge.Route != nil {
			return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("stage %q has both a fixed edge and a routing function", from))
		}
		if edge.Next != "" && !g.stageSet[edge.Next] {
			return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("edge %q -> %q references unknown stage", from, edge.Next))
		}
		if edge.Route != nil {
			if edge.Join == "" {
				return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("routed stage %q has no join stage", from))
			}
			if !g.stageSet[edge.Join] {
				return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("join stage %q for %q is not a graph stage", edge.Join, from))
			}
		}
	}

	// Non-terminal stages need a way forward.
	for _, stage := range g.stages {
		if g.terminals[stage] {
			continue
		}
		if _, ok := g.edges[stage]; !ok {
			return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("non-terminal stage %q has no outgoing edge", stage))
		}
	}

	if cycle := g.fixedEdgeCycle(); cycle != "" {
		return types.NewError(types.ErrInvalidGraph, fmt.Sprintf("fixed edges contain a cycle through %q", cycle))
	}

	return nil
}

// fixedEdgeCycle walks only fixed Next edges and returns a stage on a cycle,
// or "" when the fixed-edge relation is acyclic.
func (g *Graph) fixedEdgeCycle() string {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	colors := make(map[string]int, len(g.stages))

	var walk func(stage string) string
	walk = func(stage string) string {
		colors[stage] = inStack
		if edge, ok := g.edges[stage]; ok && edge.Next != "" {
			switch colors[edge.Next] {
			case inStack:
				return edge.Next
			case unvisited:
				if c := walk(edge.Next); c != "" {
					return c
				}
			}
		}
		colors[stage] = done
		return ""
	}

	for _, stage := range g.stages {
		if colors[stage] == unvisited {
			if c := walk(stage); c != "" {
				return c
			}
		}
	}
	return ""
}

// GraphBuilder assembles a Graph with a fluent API. Build validates the
// result; an invalid graph is rejected at build time, never at run time.
type GraphBuilder struct {
	graph *Graph
	errs  []error
}

// NewGraphBuilder starts a builder for the given workflow type.
func NewGraphBuilder(workflowType types.WorkflowType) *GraphBuilder {
	return &GraphBuilder{
		graph: &Graph{
			workflowType: workflowType,
			stageSet:     make(map[string]bool),
			terminals:    make(map[string]bool),
			edges:        make(map[string]Edge),
		},
	}
}

// Stage declares a stage. Declaring the same name twice is an error.
func (b *GraphBuilder) Stage(name string) *GraphBuilder {
	if name == "" {
		b.errs = append(b.errs, fmt.Errorf("stage name must not be empty"))
		return b
	}
	if b.graph.stageSet[name] {
		b.errs = append(b.errs, fmt.Errorf("duplicate stage name %q", name))
		return b
	}
	b.graph.stageSet[name] = true
	b.graph.stages = append(b.graph.stages, name)
	return b
}

// Next adds a fixed edge from one stage to another.
func (b *GraphBuilder) Next(from, to string) *GraphBuilder {
	b.graph.edges[from] = Edge{Next: to}
	return b
}

// RouteFrom adds a routing edge: route picks the stage(s) to run after
// from; join is where the run continues once a fan-out completes.
func (b *GraphBuilder) RouteFrom(from string, route RouteFunc, join string) *GraphBuilder {
	b.graph.edges[from] = Edge{Route: route, Join: join}
	return b
}

// Start designates the start stage.
func (b *GraphBuilder) Start(name string) *GraphBuilder {
	b.graph.start = name
	return b
}

// Terminal designates a terminal stage. May be called multiple times.
func (b *GraphBuilder) Terminal(name string) *GraphBuilder {
	b.graph.terminals[name] = true
	return b
}

// OnError designates the terminal stage failed runs route to after the
// retry budget is exhausted.
func (b *GraphBuilder) OnError(name string) *GraphBuilder {
	b.graph.errorStage = name
	return b
}

// Build validates and returns the graph.
func (b *GraphBuilder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, types.NewError(types.ErrInvalidGraph, "graph build failed").WithCause(b.errs[0])
	}
	if err := b.graph.validate(); err != nil {
		return nil, err
	}
	return b.graph, nil
}
