// Command chatflow is the reference binary for the workflow
// orchestration core. It wires config, logging, telemetry, and the
// checkpoint store into an orchestrator and exposes a small demo plus
// maintenance commands.
package main
