package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the orchestration core.
type Config struct {
	// Workflow controls engine limits and timeouts.
	Workflow WorkflowConfig `yaml:"workflow" env:"WORKFLOW"`

	// Checkpoint controls checkpoint persistence.
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Log controls zap logger construction.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry controls the OpenTelemetry SDK.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Metrics controls Prometheus metric collection.
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`
}

// WorkflowConfig holds engine limits. The documented defaults are
// illustrative, not normative; deployments tune them per workload.
type WorkflowConfig struct {
	// MaxIterations is the hard ceiling on successful stages per run.
	MaxIterations int `yaml:"max_iterations" env:"MAX_ITERATIONS"`
	// StageTimeout bounds a single stage handler invocation.
	StageTimeout time.Duration `yaml:"stage_timeout" env:"STAGE_TIMEOUT"`
	// WorkflowTimeout bounds an entire run, enforced by the engine watchdog.
	WorkflowTimeout time.Duration `yaml:"workflow_timeout" env:"WORKFLOW_TIMEOUT"`
	// StageRetries is how many times a failed stage is retried before the
	// failure is routed.
	StageRetries int `yaml:"stage_retries" env:"STAGE_RETRIES"`
	// RetryDelay is the pause between stage retries.
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// CheckpointInterval is the number of completed stages between
	// checkpoint writes. Zero disables interval checkpointing.
	CheckpointInterval int `yaml:"checkpoint_interval" env:"CHECKPOINT_INTERVAL"`
}

// CheckpointConfig holds checkpoint store settings.
type CheckpointConfig struct {
	// Backend selects the store implementation: memory, file, redis, database.
	Backend string `yaml:"backend" env:"BACKEND"`
	// MaxAge is the retention window used by Cleanup.
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`
	// Dir is the base directory for the file backend.
	Dir string `yaml:"dir" env:"DIR"`
	// Path is the database file for the database backend.
	Path string `yaml:"path" env:"PATH"`
	// Redis holds connection settings for the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	KeyPrefix    string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig holds zap logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths are zap output sinks.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// Loader loads configuration with a builder-style API.
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("chatflow.yaml").
//	    Load()
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a new config loader with the CHATFLOW env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CHATFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML config file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a config validator run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load loads configuration: defaults -> YAML file -> environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// Validate checks invariants the engine depends on.
func (c *Config) Validate() error {
	if c.Workflow.MaxIterations <= 0 {
		return fmt.Errorf("workflow.max_iterations must be positive, got %d", c.Workflow.MaxIterations)
	}
	if c.Workflow.StageTimeout <= 0 {
		return fmt.Errorf("workflow.stage_timeout must be positive, got %s", c.Workflow.StageTimeout)
	}
	if c.Workflow.WorkflowTimeout < c.Workflow.StageTimeout {
		return fmt.Errorf("workflow.workflow_timeout %s must not be shorter than stage_timeout %s",
			c.Workflow.WorkflowTimeout, c.Workflow.StageTimeout)
	}
	if c.Workflow.StageRetries < 0 {
		return fmt.Errorf("workflow.stage_retries must not be negative, got %d", c.Workflow.StageRetries)
	}
	if c.Workflow.CheckpointInterval < 0 {
		return fmt.Errorf("workflow.checkpoint_interval must not be negative, got %d", c.Workflow.CheckpointInterval)
	}
	if c.Checkpoint.MaxAge <= 0 {
		return fmt.Errorf("checkpoint.max_age must be positive, got %s", c.Checkpoint.MaxAge)
	}
	return nil
}

// loadFromFile loads configuration from a YAML file. A missing file is not
// an error; defaults apply.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv overrides fields from environment variables.
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks struct fields recursively, joining env tags with
// underscores: CHATFLOW_WORKFLOW_MAX_ITERATIONS.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}

	default:
		return fmt.Errorf("unsupported field kind: %s", field.Kind())
	}

	return nil
}
