// Package cmd provides the CLI commands for persistgate.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fortunamind/persistgate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "persistgate",
	Short: "persistgate - subscription-gated MCP persistence gateway",
	Long: `persistgate is a multi-tenant MCP server that gives AI assistants
durable, subscription-gated storage: journals, preferences, typed records
and market data, isolated per user.

It derives a stable anonymous handle from each user's email, validates
their subscription key, enforces tiered rate limits and scopes every
storage operation to the caller's handle.

Quick start:
  1. Create a config file: persistgate.yaml (or set DATABASE_URL)
  2. Run: persistgate serve

Configuration:
  Config is loaded from persistgate.yaml in the current directory,
  $HOME/.persistgate/, or /etc/persistgate/.

  Environment variables override config values with the PERSISTGATE_ prefix.
  Example: PERSISTGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the gateway (HTTP or stdio mode)
  bridge      Bridge a stdio MCP client to a remote gateway
  migrate     Apply database migrations and exit
  derive      Derive the storage handle for an email
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./persistgate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
