// Package cmd provides the CLI commands for relaygate.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/adapter/inbound/mcpfront"
	"github.com/relaygate/relaygate/internal/adapter/outbound/mcpsdk"
	"github.com/relaygate/relaygate/internal/config"
	"github.com/relaygate/relaygate/internal/domain/pipeline"
	"github.com/relaygate/relaygate/internal/plugin"
	"github.com/relaygate/relaygate/internal/service"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway on stdio",
	Long: `Start the relaygate gateway.

The gateway launches every configured backend MCP server as a
subprocess, merges their capabilities under server-prefixed names, and
serves the merged surface over stdio. Backends that fail to start are
reported through the get_metadata tool without blocking the rest.

Examples:
  # Start with config file settings
  relaygate start

  # Import servers from a Claude-style .mcp.json alongside the config
  relaygate start --mcp-json ./.mcp.json

  # Enable specific plugins, overriding the config
  relaygate start -p basic -p log`,
	RunE: runStart,
}

var (
	mcpJSONPath string
	pluginFlags []string
)

func init() {
	startCmd.Flags().StringVar(&mcpJSONPath, "mcp-json", "", "merge servers from a .mcp.json file")
	startCmd.Flags().StringArrayVarP(&pluginFlags, "plugin", "p", nil, "enable a plugin (repeatable, overrides config)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if mcpJSONPath != "" {
		if err := config.MergeMCPJSON(cfg, mcpJSONPath); err != nil {
			return fmt.Errorf("failed to merge mcp json: %w", err)
		}
	}

	if len(pluginFlags) > 0 {
		cfg.Plugins = pluginFlags
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("config validation failed: %w", err)
		}
	}

	// Create signal context for graceful shutdown.
	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop() // Restore default: next Ctrl+C = immediate exit.
	}()

	// Logger goes to stderr. Stdout carries the MCP stream.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))

	if configFile := config.FileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	registry, err := pipeline.NewRegistry(plugin.Catalog(), cfg.Plugins, cfg.PluginSettings, logger)
	if err != nil {
		return fmt.Errorf("failed to build plugin registry: %w", err)
	}
	runner := pipeline.NewRunner(registry, logger)

	gateway := service.NewGateway(cfg.Descriptors(), mcpsdk.Connect, runner, cfg.CallTimeout, logger)
	if err := gateway.Startup(ctx); err != nil {
		return fmt.Errorf("failed to start gateway: %w", err)
	}
	defer func() {
		if err := gateway.Shutdown(); err != nil {
			logger.Warn("shutdown incomplete", "error", err)
		}
	}()

	front := mcpfront.New(gateway, logger)
	if err := front.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("gateway terminated: %w", err)
	}

	logger.Info("relaygate stopped")
	return nil
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
