// Package cmd provides the CLI commands for relaygate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relaygate/relaygate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "relaygate",
	Short: "relaygate - MCP aggregation gateway",
	Long: `relaygate is an aggregation gateway for Model Context Protocol (MCP) servers.

It launches a set of backend MCP servers as subprocesses, merges their
tools, prompts, and resources into a single namespaced surface, and runs
every call through a configurable guardrail and tracing pipeline.

Quick start:
  1. Create a config file: relaygate.yaml
  2. Run: relaygate start

Configuration:
  Config is loaded from relaygate.yaml in the current directory,
  $HOME/.relaygate/, or /etc/relaygate/.

  Environment variables can override config values with the RELAYGATE_ prefix.
  Example: RELAYGATE_LOG_LEVEL=debug

Commands:
  start       Start the gateway on stdio
  config      Print the effective configuration
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./relaygate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
