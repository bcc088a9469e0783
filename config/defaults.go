package config

import "time"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workflow:   DefaultWorkflowConfig(),
		Checkpoint: DefaultCheckpointConfig(),
		Log:        DefaultLogConfig(),
		Telemetry:  DefaultTelemetryConfig(),
		Metrics:    DefaultMetricsConfig(),
	}
}

// DefaultWorkflowConfig returns default engine limits.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		MaxIterations:      10,
		StageTimeout:       30 * time.Second,
		WorkflowTimeout:    300 * time.Second,
		StageRetries:       2,
		RetryDelay:         500 * time.Millisecond,
		CheckpointInterval: 5,
	}
}

// DefaultCheckpointConfig returns default checkpoint store settings.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend: "memory",
		MaxAge:  24 * time.Hour,
		Dir:     "./checkpoints",
		Path:    "./chatflow.db",
		Redis:   DefaultRedisConfig(),
	}
}

// DefaultRedisConfig returns default Redis connection settings.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "chatflow:",
	}
}

// DefaultLogConfig returns default logger settings.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "json",
		OutputPaths: []string{"stdout"},
	}
}

// DefaultTelemetryConfig returns default telemetry settings.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "chatflow",
		SampleRate:   1.0,
	}
}

// DefaultMetricsConfig returns default metrics settings.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "chatflow",
	}
}
