// Quando scheduling engine: plans and executes HTTP endpoint invocations
// per job cycle and lets the agent decide each job's next run time.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/joho/godotenv"

	"github.com/quandohq/quando/pkg/api"
	"github.com/quandohq/quando/pkg/config"
	"github.com/quandohq/quando/pkg/engine"
	"github.com/quandohq/quando/pkg/events"
	"github.com/quandohq/quando/pkg/llm"
	"github.com/quandohq/quando/pkg/metrics"
	"github.com/quandohq/quando/pkg/store"
	"github.com/quandohq/quando/pkg/version"
)

// shutdownTimeout bounds the graceful stop: the engine gets this long to
// drain the in-flight cycle before the process exits anyway.
const shutdownTimeout = 30 * time.Second

const usage = `quando - adaptive job scheduling engine (%s)

Usage:
  quando <command> [flags]

Commands:
  start        Run the engine until SIGINT/SIGTERM.
  process      Run exactly one processing cycle and print the JSON aggregate.
  status       Show the state of a running engine via its ops API.
  unlock-jobs  Release processing leases: quando unlock-jobs <jobID> [jobID...]
  help         Show this message.

Flags:
  -config path   Optional YAML configuration file (env: CONFIG_PATH).

Environment is read from .env when present; see the README for the full
variable set.
`

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func printUsage() {
	fmt.Fprintf(os.Stderr, usage, version.Full())
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(2)
	}
	command := os.Args[1]

	switch command {
	case "help", "-h", "--help":
		printUsage()
		return
	case "start", "process", "status", "unlock-jobs":
	default:
		fmt.Fprintf(os.Stderr, "quando: unknown command %q\n\n", command)
		printUsage()
		os.Exit(2)
	}

	flags := flag.NewFlagSet(command, flag.ExitOnError)
	configPath := flags.String("config",
		getEnv("CONFIG_PATH", ""),
		"Path to optional YAML configuration file")
	if err := flags.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	// Load .env before config so its variables take part in env overrides.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment", "error", err)
	}

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	var code int
	switch command {
	case "start":
		code = runStart(ctx, cfg, logger)
	case "process":
		code = runProcess(ctx, cfg, logger)
	case "status":
		code = runStatus(ctx, cfg)
	case "unlock-jobs":
		code = runUnlockJobs(ctx, cfg, logger, flags.Args())
	}
	os.Exit(code)
}

// newLogger builds the process logger from the logging section.
func newLogger(cfg *config.LoggingConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}

// buildEngine assembles the store, model, publisher, and engine shared by
// the start and process commands. The returned cleanup flushes the event
// publisher.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, store.Store, func(), error) {
	st := store.NewRESTStore(cfg.Store)

	model, err := llm.New(cfg.AI)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("initialize language model: %w", err)
	}
	logger.Info("Language model initialized", "model", model.Name())

	publisher := events.NewAsyncPublisher(logger, 0, metrics.Sink())

	eng, err := engine.New(engine.Deps{
		Config:    cfg,
		Store:     st,
		Model:     model,
		Publisher: publisher,
		Logger:    logger,
	})
	if err != nil {
		publisher.Close()
		return nil, nil, nil, fmt.Errorf("assemble engine: %w", err)
	}

	cleanup := func() {
		publisher.Close()
		if dropped := publisher.Dropped(); dropped > 0 {
			logger.Warn("Event publisher dropped events", "dropped", dropped)
		}
	}
	return eng, st, cleanup, nil
}

func runStart(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	slog.Info("Starting quando",
		"version", version.Full(),
		"environment", cfg.Environment,
		"interval", cfg.Scheduler.ProcessingInterval,
		"batch_size", cfg.Scheduler.MaxBatchSize)

	// 2. Assemble store, model, and engine
	eng, st, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		slog.Error("Failed to assemble engine", "error", err)
		return 1
	}
	defer cleanup()

	// 3. Start ops server (non-blocking)
	var opsServer *api.Server
	if cfg.Ops.Enabled {
		opsServer = api.NewServer(eng.State(), st, cfg.Ops, logger)
		if err := opsServer.Start(); err != nil {
			slog.Error("Failed to start ops server", "addr", cfg.Ops.ListenAddr, "error", err)
			return 1
		}
		slog.Info("Ops server listening", "addr", opsServer.Addr())
	}

	// 4. Start the processing loop
	if err := eng.Start(ctx); err != nil {
		slog.Error("Failed to start engine", "error", err)
		return 1
	}
	slog.Info("Engine started",
		"concurrency", cfg.Scheduler.JobProcessingConcurrency,
		"ops_enabled", cfg.Ops.Enabled)

	// 5. Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	slog.Info("Shutdown signal received", "signal", sig)

	// 6. Graceful shutdown
	stopCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	code := 0
	if err := eng.Stop(stopCtx); err != nil {
		slog.Error("Engine stop error", "error", err)
		code = 1
	} else {
		slog.Info("Engine stopped gracefully")
	}

	if opsServer != nil {
		httpCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
		defer httpCancel()
		if err := opsServer.Shutdown(httpCtx); err != nil {
			slog.Error("Ops server shutdown error", "error", err)
		}
	}

	slog.Info("Shutdown complete")
	return code
}

func runProcess(ctx context.Context, cfg *config.Config, logger *slog.Logger) int {
	eng, _, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		slog.Error("Failed to assemble engine", "error", err)
		return 1
	}
	defer cleanup()

	result, err := eng.ProcessCycle(ctx)
	if err != nil {
		slog.Error("Cycle failed", "error", err)
		return 1
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		slog.Error("Failed to encode cycle result", "error", err)
		return 1
	}
	fmt.Println(string(out))

	if result.FailedJobs > 0 {
		return 1
	}
	return 0
}

// runStatus queries the ops API of a running instance. When nothing is
// listening there the engine is not running, so it prints a stopped
// snapshot instead of failing.
func runStatus(ctx context.Context, cfg *config.Config) int {
	addr := cfg.Ops.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	client := resty.New().
		SetBaseURL("http://"+addr).
		SetTimeout(5 * time.Second).
		SetHeader("Accept", "application/json")

	var body api.StatusResponse
	resp, err := client.R().
		SetContext(ctx).
		SetResult(&body).
		Get("/api/status")

	if err != nil || resp.IsError() {
		snapshot := engine.NewState().Snapshot()
		out, _ := json.MarshalIndent(api.StatusResponse{
			Engine:  snapshot,
			Version: version.Full(),
		}, "", "  ")
		fmt.Println(string(out))
		return 0
	}

	out, err := json.MarshalIndent(body, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "quando: decode status: %v\n", err)
		return 1
	}
	fmt.Println(string(out))
	return 0
}

func runUnlockJobs(ctx context.Context, cfg *config.Config, logger *slog.Logger, jobIDs []string) int {
	if len(jobIDs) == 0 {
		fmt.Fprintf(os.Stderr,
			"quando: unlock-jobs requires at least one job id.\n\n"+
				"Locks held by a crashed engine expire on their own after the stale\n"+
				"lock threshold (%s); unlock only jobs you know are not being\n"+
				"processed right now.\n",
			cfg.Scheduler.StaleLockThreshold)
		return 2
	}

	st := store.NewRESTStore(cfg.Store)

	code := 0
	for _, jobID := range jobIDs {
		released, err := st.UnlockJob(ctx, jobID)
		switch {
		case err != nil:
			logger.Error("Failed to unlock job", "job_id", jobID, "error", err)
			code = 1
		case released:
			fmt.Printf("unlocked %s\n", jobID)
		default:
			fmt.Printf("%s was not locked\n", jobID)
		}
	}
	return code
}
