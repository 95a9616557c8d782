package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortunamind/persistgate/internal/bridge"
	"github.com/fortunamind/persistgate/internal/config"
)

var bridgeEndpoint string

var bridgeCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge a stdio MCP client to a remote gateway",
	Long: `Bridge reads newline-delimited JSON-RPC from stdin, forwards each
message to a remote gateway's /mcp endpoint with the session credentials
as headers, and writes the responses back to stdout.

This lets desktop MCP clients that only speak stdio use a hosted
gateway. Credentials come from the environment:

  PERSISTGATE_USER_EMAIL            user email
  PERSISTGATE_SUBSCRIPTION_KEY      subscription key (fm_sub_...)
  PERSISTGATE_UPSTREAM_API_KEY      exchange API key (optional)
  PERSISTGATE_UPSTREAM_API_SECRET   exchange API secret (optional)

Example:
  PERSISTGATE_USER_EMAIL=me@example.com \
  PERSISTGATE_SUBSCRIPTION_KEY=fm_sub_xxx \
  persistgate bridge --endpoint https://gateway.example.com/mcp`,
	RunE: runBridge,
	Args: cobra.NoArgs,
}

func init() {
	bridgeCmd.Flags().StringVar(&bridgeEndpoint, "endpoint", "", "remote gateway /mcp URL (overrides bridge.endpoint)")
	rootCmd.AddCommand(bridgeCmd)
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	endpoint := bridgeEndpoint
	if endpoint == "" {
		endpoint = cfg.Bridge.Endpoint
	}
	if endpoint == "" {
		return fmt.Errorf("no endpoint configured; set --endpoint or bridge.endpoint")
	}

	creds := config.CredentialsFromEnv()
	if creds.Email == "" || creds.SubscriptionKey == "" {
		return fmt.Errorf("PERSISTGATE_USER_EMAIL and PERSISTGATE_SUBSCRIPTION_KEY must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	b := bridge.New(endpoint, creds, logger,
		bridge.WithTimeout(config.Duration(cfg.Bridge.Timeout, 30*time.Second)),
	)
	return b.Start(ctx)
}
