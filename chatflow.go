// Package chatflow provides a top-level convenience entry point for
// building a fully wired workflow orchestrator with minimal boilerplate.
//
// Usage:
//
//	import "github.com/luminachat/chatflow"
//
//	orch, err := chatflow.New()
//	orch, err := chatflow.New(chatflow.WithConfig(cfg), chatflow.WithLogger(logger))
//	resp := orch.Process(ctx, "check the status of device 7", nil, "")
//
// With no options, New uses the built-in echo handlers, an in-memory
// checkpoint store, and default limits. Production callers supply their
// own handlers and a durable store.
package chatflow

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/luminachat/chatflow/checkpoint"
	"github.com/luminachat/chatflow/config"
	"github.com/luminachat/chatflow/internal/metrics"
	"github.com/luminachat/chatflow/orchestrator"
	"github.com/luminachat/chatflow/workflow"
)

// Option configures the orchestrator created by [New].
type Option func(*builder)

type builder struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      checkpoint.Store
	registry   *workflow.Registry
	handlers   []workflow.StageHandler
	classifier workflow.Classifier
	legacy     orchestrator.LegacyOrchestrator
	probe      orchestrator.DependencyProbe
	metrics    bool
}

// WithConfig supplies a full configuration. Defaults apply otherwise.
func WithConfig(cfg *config.Config) Option {
	return func(b *builder) { b.cfg = cfg }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(b *builder) { b.logger = logger }
}

// WithStore sets the checkpoint store. Without it, the store is built
// from the checkpoint config (in-memory by default).
func WithStore(store checkpoint.Store) Option {
	return func(b *builder) { b.store = store }
}

// WithRegistry replaces the built-in registry entirely.
func WithRegistry(registry *workflow.Registry) Option {
	return func(b *builder) { b.registry = registry }
}

// WithHandler overrides the handler for its stage of the built-in
// registry. Ignored when WithRegistry is also given.
func WithHandler(handler workflow.StageHandler) Option {
	return func(b *builder) { b.handlers = append(b.handlers, handler) }
}

// WithClassifier replaces the keyword classifier.
func WithClassifier(c workflow.Classifier) Option {
	return func(b *builder) { b.classifier = c }
}

// WithLegacy sets the legacy single-pass orchestrator used as fallback.
func WithLegacy(l orchestrator.LegacyOrchestrator) Option {
	return func(b *builder) { b.legacy = l }
}

// WithProbe sets the primary-backend availability probe.
func WithProbe(p orchestrator.DependencyProbe) Option {
	return func(b *builder) { b.probe = p }
}

// WithMetrics enables Prometheus metrics on the default registerer.
func WithMetrics() Option {
	return func(b *builder) { b.metrics = true }
}

// New wires a complete orchestrator: registry, engine, checkpoint store,
// classifier, and fallback chain.
func New(opts ...Option) (*orchestrator.Orchestrator, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	if b.cfg == nil {
		b.cfg = config.DefaultConfig()
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	if b.store == nil {
		store, err := checkpoint.NewStore(b.cfg.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("create checkpoint store: %w", err)
		}
		b.store = store
	}

	if b.registry == nil {
		registry, err := workflow.NewBuiltinRegistry()
		if err != nil {
			return nil, fmt.Errorf("build registry: %w", err)
		}
		for _, handler := range b.handlers {
			if err := registry.RegisterHandler(handler); err != nil {
				return nil, fmt.Errorf("register handler: %w", err)
			}
		}
		b.registry = registry
	}

	engine := workflow.NewEngine(b.registry, b.store, b.cfg.Workflow, b.logger)
	orch := orchestrator.New(b.registry, engine, b.store, b.logger)

	if b.classifier != nil {
		orch.WithClassifier(b.classifier)
	}
	if b.legacy != nil {
		orch.WithLegacy(b.legacy)
	}
	if b.probe != nil {
		orch.WithProbe(b.probe)
	}
	if b.metrics {
		collector := metrics.NewCollector("chatflow")
		engine.WithMetrics(collector)
		orch.WithMetrics(collector)
	}
	return orch, nil
}
