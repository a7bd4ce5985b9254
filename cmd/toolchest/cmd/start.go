package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/toolchest-labs/toolchest/internal/adapter/inbound/http"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/cel"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/depcache"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/installer"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/llm"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/memory"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/sqlite"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/starlark"
	"github.com/toolchest-labs/toolchest/internal/config"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/port/outbound"
	"github.com/toolchest-labs/toolchest/internal/service"
	"github.com/toolchest-labs/toolchest/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the toolchest server",
	Long: `Start the toolchest HTTP server.

The server exposes the tool registry, workflow engine, and event log
as a REST API, plus /health and /metrics endpoints.

Examples:
  # Start with config file settings
  toolchest start

  # Start with a specific config file
  toolchest --config /path/to/config.yaml start

  # Start against a specific database
  toolchest --db /tmp/scratch.db start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, auth disabled)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	// Load configuration (without validation, so CLI flags can override first)
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Override dev mode and database path from CLI flags
	if devMode {
		cfg.DevMode = true
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}

	// Apply dev defaults (debug logging in dev mode)
	cfg.SetDevDefaults()

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Setup logger to stderr (stdout stays clean for piped output).
	// Priority: DevMode=true -> debug, otherwise use configured log_level
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug // DevMode always forces debug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "effective", logLevel.String())

	// Log config file used if any
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// Write PID file so "toolchest stop" can find us.
	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	if err := run(ctx, cfg, logger); err != nil {
		return err
	}

	logger.Info("toolchest stopped")
	return nil
}

// run wires all components together and serves until the context is
// cancelled. Shutdown order is the reverse of construction: the
// transport drains first, then running workflows, then the registry,
// then the recorder flushes into storage before the database closes.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// ===== Storage =====
	store, err := sqlite.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	// ===== In-memory adapters =====
	toolCache := memory.NewToolCache()
	execStore := memory.NewExecutionStoreWithConfig(
		memory.DefaultCleanupInterval,
		config.Duration(cfg.Workflow.ExecutionRetention, memory.DefaultRetention),
	)
	execStore.StartCleanup(ctx)
	defer execStore.Stop()

	// ===== Event recorder =====
	recorder := service.NewExecutionRecorder(store.Events(), logger)
	recorder.Start(ctx)
	defer recorder.Stop()

	// ===== LLM backend (optional) =====
	var embedder outbound.EmbeddingClient
	var completer outbound.CompletionClient
	if cfg.LLMEnabled() {
		client := llm.NewClient(llm.Config{
			BaseURL:    cfg.LLM.BaseURL,
			APIKey:     cfg.LLM.APIKey,
			Model:      cfg.LLM.Model,
			EmbedModel: cfg.LLM.EmbedModel,
			Timeout:    config.Duration(cfg.LLM.Timeout, 60*time.Second),
			MaxRetries: cfg.LLM.MaxRetries,
		}, logger)
		embedder = memory.NewCachedEmbeddingClient(client, memory.NewEmbeddingCache(0))
		completer = client
		logger.Info("llm backend configured",
			"base_url", cfg.LLM.BaseURL,
			"model", cfg.LLM.Model,
			"embed_model", cfg.LLM.EmbedModel)
	} else {
		logger.Info("llm backend not configured; semantic search, suggestions, and tool drafting disabled")
	}

	// ===== Dependency installer =====
	depCache, err := depcache.NewFileCacheStore(cfg.Installer.Workdir, logger)
	if err != nil {
		return fmt.Errorf("create dependency cache: %w", err)
	}

	// The installer resolves tool dependencies through the registry, and
	// the registry installs through the installer. ResolverFunc breaks
	// the construction cycle; the registry is assigned below before any
	// install can run.
	var registry *service.ToolRegistry
	inst := installer.New(depCache,
		installer.ResolverFunc(func(ctx context.Context, name, version string) (*tool.Version, error) {
			return registry.ResolveVersion(ctx, name, version)
		}),
		cfg.Installer.Workdir, logger,
		installer.WithRetention(config.Duration(cfg.Installer.Retention, installer.DefaultRetention)),
		installer.WithCommandTimeout(config.Duration(cfg.Installer.CommandTimeout, 2*time.Minute)),
	)

	// Periodic clean of cached installs past their retention window.
	cleanInterval := config.Duration(cfg.Installer.CleanInterval, 12*time.Hour)
	go func() {
		ticker := time.NewTicker(cleanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed, err := inst.Clean(ctx); err != nil {
					logger.Warn("dependency cache clean failed", "error", err)
				} else if removed > 0 {
					logger.Info("dependency cache cleaned", "removed", removed)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// ===== Code runner =====
	runnerOpts := []starlark.Option{
		starlark.WithTimeout(config.Duration(cfg.Runner.ExecTimeout, starlark.DefaultExecTimeout)),
	}
	if cfg.Runner.MaxSteps > 0 {
		runnerOpts = append(runnerOpts, starlark.WithMaxSteps(cfg.Runner.MaxSteps))
	}
	runner := starlark.NewRunner(inst, logger, runnerOpts...)

	// ===== Tool registry =====
	registry = service.NewToolRegistry(store, toolCache, store.Categories(),
		runner, inst, embedder, completer, nil, recorder, logger)
	if err := registry.Init(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	defer registry.Stop()
	registry.StartEmbeddingBackfill(ctx)

	// ===== Workflow engine =====
	conditions, err := cel.NewEvaluator()
	if err != nil {
		return fmt.Errorf("create condition evaluator: %w", err)
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	workflows := service.NewWorkflowService(store.Workflows(), execStore, store,
		registry, conditions, recorder, logger,
		service.WithRetryConfig(cfg.Workflow.MaxRetries,
			config.Duration(cfg.Workflow.RetryBaseDelay, time.Second),
			config.Duration(cfg.Workflow.RetryMaxDelay, 30*time.Second)),
		service.WithEngineMetrics(service.NewEngineMetrics(promReg)),
	)
	defer workflows.Stop()

	// ===== Suggestions =====
	suggestions := service.NewSuggestionService(completer, registry, recorder, logger)

	// ===== Telemetry (optional) =====
	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry.Enabled, Version, logger)
	if err != nil {
		return fmt.Errorf("set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// ===== HTTP transport =====
	healthChecker := http.NewHealthChecker(store, toolCache, recorder, Version)

	var apiKeys []http.APIKey
	if cfg.AuthEnabled() {
		for _, k := range cfg.Auth.APIKeys {
			apiKeys = append(apiKeys, http.APIKey{Name: k.Name, Hash: k.KeyHash})
		}
		logger.Info("api key auth enabled", "keys", len(apiKeys))
	} else if len(cfg.Auth.APIKeys) > 0 {
		logger.Warn("api keys configured but dev mode is on, auth disabled")
	}

	transport := http.NewTransport(registry,
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithWorkflowService(workflows),
		http.WithSuggestionService(suggestions),
		http.WithRecorder(recorder),
		http.WithHealthChecker(healthChecker),
		http.WithAPIKeys(apiKeys),
		http.WithPrometheusRegistry(promReg),
		http.WithShutdownTimeout(config.Duration(cfg.Server.ShutdownTimeout, 10*time.Second)),
	)

	workflowCount := 0
	if list, err := workflows.ListWorkflows(ctx); err == nil {
		workflowCount = len(list)
	}

	logger.Info("toolchest starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"db", cfg.Storage.DBPath,
		"tools", toolCache.Count(),
		"workflows", workflowCount,
		"llm", cfg.LLMEnabled(),
		"auth", cfg.AuthEnabled(),
		"telemetry", cfg.Telemetry.Enabled,
	)

	printBanner(Version, cfg.Server.HTTPAddr, cfg.DevMode, cfg.LLMEnabled(),
		toolCache.Count(), workflowCount)

	return transport.Start(ctx)
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner prints a formatted startup banner to stderr with version,
// addresses, mode, and catalog counts. Only the HTTP server prints it;
// MCP stdio mode keeps stderr terse.
func printBanner(version, httpAddr string, devMode, llmEnabled bool, toolCount, workflowCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	base := fmt.Sprintf("http://localhost%s", httpAddr)
	if !strings.HasPrefix(httpAddr, ":") {
		base = fmt.Sprintf("http://%s", httpAddr)
	}

	modeStr := green + "production" + reset
	if devMode {
		modeStr = yellow + "development" + reset + dim + " (no auth)" + reset
	}

	llmStr := dim + "disabled" + reset
	if llmEnabled {
		llmStr = green + "enabled" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s toolchest %s%s\n", bold, cyan, version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s/api\n", "API:", base)
	fmt.Fprintf(os.Stderr, "  %-14s %s/health\n", "Health:", base)
	fmt.Fprintf(os.Stderr, "  %-14s %s/metrics\n", "Metrics:", base)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d registered\n", "Tools:", toolCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d defined\n", "Workflows:", workflowCount)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "LLM:", llmStr)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}

// pidFilePath returns the standard location for the toolchest PID file.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".toolchest", "server.pid")
	}
	return filepath.Join(os.TempDir(), "toolchest-server.pid")
}

// writePIDFile writes the current process PID to the given path, creating
// parent directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}
