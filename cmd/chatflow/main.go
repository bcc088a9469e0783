package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/luminachat/chatflow"
	"github.com/luminachat/chatflow/checkpoint"
	"github.com/luminachat/chatflow/config"
	"github.com/luminachat/chatflow/internal/telemetry"
)

// Injected at build time.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "demo":
		runDemo(os.Args[2:])
	case "cleanup":
		runCleanup(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runDemo builds a fully wired orchestrator with the echo handlers and
// feeds it one request per workflow family, printing the tier and
// content of each response.
func runDemo(args []string) {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args)

	cfg, logger := mustLoad(*configPath)
	defer logger.Sync()

	logger.Info("starting chatflow demo",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
	)

	providers, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		providers.Shutdown(ctx)
	}()

	opts := []chatflow.Option{
		chatflow.WithConfig(cfg),
		chatflow.WithLogger(logger),
	}
	if cfg.Metrics.Enabled {
		opts = append(opts, chatflow.WithMetrics())
	}
	orch, err := chatflow.New(opts...)
	if err != nil {
		logger.Fatal("failed to build orchestrator", zap.Error(err))
	}

	requests := []struct {
		text string
		hint string
	}{
		{text: "hello there, how are you today?"},
		{text: "show me a report of last week's usage trends"},
		{text: "check the status of device 7"},
		{text: "restart the ingestion service"},
		{text: "create a rule to turn off the lights at midnight"},
		{text: "check device 7 and chart its sensor metrics"},
		{text: "anything at all", hint: "operations"},
	}

	ctx := context.Background()
	for _, req := range requests {
		resp := orch.Process(ctx, req.text, nil, req.hint)
		fmt.Printf("[%s/%s] %s\n  -> %s\n",
			resp.WorkflowType, resp.Tier, req.text, resp.Content)
		for stage, result := range resp.StageResults {
			fmt.Printf("     %s: %v\n", stage, result)
		}
	}
}

// runCleanup prunes checkpoints older than the configured max age.
func runCleanup(args []string) {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	maxAge := fs.Duration("max-age", 0, "Override checkpoint max age")
	fs.Parse(args)

	cfg, logger := mustLoad(*configPath)
	defer logger.Sync()

	store, err := checkpoint.NewStore(cfg.Checkpoint)
	if err != nil {
		logger.Fatal("failed to open checkpoint store", zap.Error(err))
	}
	defer store.Close()

	age := cfg.Checkpoint.MaxAge
	if *maxAge > 0 {
		age = *maxAge
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	removed, err := store.Cleanup(ctx, age)
	if err != nil {
		logger.Fatal("cleanup failed", zap.Error(err))
	}
	logger.Info("cleanup finished",
		zap.Int("removed", removed),
		zap.Duration("max_age", age),
	)
}

func mustLoad(configPath string) (*config.Config, *zap.Logger) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	return cfg, initLogger(cfg.Log)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         encoding,
		EncoderConfig:    encoderConfig,
		OutputPaths:      outputs,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func printVersion() {
	fmt.Printf("chatflow %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`chatflow - workflow orchestration core

Usage:
  chatflow demo [--config file]                Run sample requests through the orchestrator
  chatflow cleanup [--config file] [--max-age] Remove expired checkpoints
  chatflow version                             Show version information
  chatflow help                                Show this help`)
}
