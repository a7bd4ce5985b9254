package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/toolchest-labs/toolchest/internal/adapter/inbound/mcpsrv"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/depcache"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/installer"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/memory"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/sqlite"
	"github.com/toolchest-labs/toolchest/internal/adapter/outbound/starlark"
	"github.com/toolchest-labs/toolchest/internal/config"
	"github.com/toolchest-labs/toolchest/internal/domain/tool"
	"github.com/toolchest-labs/toolchest/internal/service"
	"github.com/toolchest-labs/toolchest/internal/telemetry"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the registry over MCP on stdio",
	Long: `Serve the tool registry as an MCP server on stdin/stdout.

Registered tools are listed via tools/list and executed via tools/call,
so any MCP client can use the catalog directly. The catalog itself is
managed through the HTTP API ("toolchest start"); this mode is
read-and-execute only.

All logging goes to stderr; stdout carries only the MCP stream.

Example Claude Desktop config:
  {
    "mcpServers": {
      "toolchest": {
        "command": "toolchest",
        "args": ["mcp"]
      }
    }
  }`,
	RunE: runMCP,
}

func init() {
	mcpCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
	}
	if dbPath != "" {
		cfg.Storage.DBPath = dbPath
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// stdout carries the MCP stream; everything else goes to stderr.
	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	// MCP mode runs a reduced stack: storage, installer, runner, and the
	// registry. No LLM features, no workflow engine, no HTTP transport.
	store, err := sqlite.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	toolCache := memory.NewToolCache()

	recorder := service.NewExecutionRecorder(store.Events(), logger)
	recorder.Start(ctx)
	defer recorder.Stop()

	depCache, err := depcache.NewFileCacheStore(cfg.Installer.Workdir, logger)
	if err != nil {
		return fmt.Errorf("create dependency cache: %w", err)
	}

	var registry *service.ToolRegistry
	inst := installer.New(depCache,
		installer.ResolverFunc(func(ctx context.Context, name, version string) (*tool.Version, error) {
			return registry.ResolveVersion(ctx, name, version)
		}),
		cfg.Installer.Workdir, logger,
		installer.WithRetention(config.Duration(cfg.Installer.Retention, installer.DefaultRetention)),
		installer.WithCommandTimeout(config.Duration(cfg.Installer.CommandTimeout, 2*time.Minute)),
	)

	runnerOpts := []starlark.Option{
		starlark.WithTimeout(config.Duration(cfg.Runner.ExecTimeout, starlark.DefaultExecTimeout)),
	}
	if cfg.Runner.MaxSteps > 0 {
		runnerOpts = append(runnerOpts, starlark.WithMaxSteps(cfg.Runner.MaxSteps))
	}
	runner := starlark.NewRunner(inst, logger, runnerOpts...)

	registry = service.NewToolRegistry(store, toolCache, store.Categories(),
		runner, inst, nil, nil, nil, recorder, logger)
	if err := registry.Init(ctx); err != nil {
		return fmt.Errorf("initialize registry: %w", err)
	}
	defer registry.Stop()

	// Trace export goes to stderr, so it cannot corrupt the MCP stream.
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

	logger.Info("toolchest mcp starting",
		"version", Version,
		"db", cfg.Storage.DBPath,
		"tools", toolCache.Count(),
	)

	server := mcpsrv.NewServer(registry, Version, logger)
	return server.Start(ctx)
}
