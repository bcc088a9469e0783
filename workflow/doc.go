// Package workflow implements the graph-based workflow engine at the heart
// of the chatflow orchestration core.
//
// A Graph is an immutable definition of a named workflow: an ordered set of
// stage names plus edge rules, including conditional routing and fan-out for
// the hybrid workflow. The Registry holds the validated graphs and the stage
// handlers backing them. The Engine runs a Graph against a WorkflowState,
// advancing stage by stage under iteration and time limits, checkpointing at
// stage boundaries, and reporting a terminal RunOutcome.
//
// Graphs are registered once at startup and shared read-only across
// concurrent runs. WorkflowState is owned by exactly one engine invocation
// at a time.
package workflow
