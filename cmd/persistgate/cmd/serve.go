package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/fortunamind/persistgate/internal/adapter/inbound/http"
	"github.com/fortunamind/persistgate/internal/adapter/inbound/stdio"
	"github.com/fortunamind/persistgate/internal/adapter/outbound/memory"
	"github.com/fortunamind/persistgate/internal/adapter/outbound/postgres"
	"github.com/fortunamind/persistgate/internal/adapter/outbound/upstream"
	"github.com/fortunamind/persistgate/internal/config"
	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/ratelimit"
	"github.com/fortunamind/persistgate/internal/domain/security"
	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
	"github.com/fortunamind/persistgate/internal/domain/tool"
	"github.com/fortunamind/persistgate/internal/service"
	"github.com/fortunamind/persistgate/internal/tools"
)

// devKey is the fixed subscription key accepted in dev mode.
const devKey = "fm_sub_dev00000000"

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway in HTTP mode (default) or stdio mode.

HTTP mode serves /mcp, /health, /status and /metrics on the configured
address. Credentials arrive per request in headers.

Stdio mode serves newline-delimited JSON-RPC on stdin/stdout for a single
user. Credentials come from the environment:

  PERSISTGATE_USER_EMAIL            user email
  PERSISTGATE_SUBSCRIPTION_KEY      subscription key (fm_sub_...)
  PERSISTGATE_UPSTREAM_API_KEY      exchange API key (optional)
  PERSISTGATE_UPSTREAM_API_SECRET   exchange API secret (optional)

With no database.url configured the gateway runs on in-memory storage,
which only makes sense for development. Pass --dev to also seed a
permissive subscription so any locally configured email can connect.`,
	RunE: runServe,
	Args: cobra.NoArgs,
}

var devMode bool

func init() {
	serveCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (debug logging, seeded in-memory subscription)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if devMode {
		cfg.DevMode = true
		cfg.Server.LogLevel = "debug"
	}

	// stop() restores default signal handling so a second Ctrl+C is a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	// Logs go to stderr; stdout is reserved for the MCP stream in stdio mode.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))
	if file := config.ConfigFileUsed(); file != "" {
		logger.Info("loaded config", "file", file)
	}

	// Configuration problems were already rejected above with exit code 1.
	// Failures past this point are downstream: exit 2 so supervisors can
	// tell them apart.
	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("persistgate failed", "error", err)
		os.Exit(2)
	}
	logger.Info("persistgate stopped")
	return nil
}

// run wires all components and serves until the context is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.DevMode {
		logger.Warn("dev mode enabled, do not use in production")
	}

	backend, subs, cleanup, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	validator := subscription.NewValidator(subs, logger,
		subscription.WithPositiveTTL(config.Duration(cfg.Subscription.PositiveCacheTTL, 5*time.Minute)),
		subscription.WithNegativeTTL(config.Duration(cfg.Subscription.NegativeCacheTTL, 30*time.Second)),
	)
	validator.StartCleanup(time.Minute)
	defer validator.Stop()

	limiter := ratelimit.NewSlidingLimiter(logger,
		ratelimit.WithCleanup(
			config.Duration(cfg.RateLimit.CleanupInterval, 10*time.Minute),
			config.Duration(cfg.RateLimit.IdleTTL, 2*time.Hour),
		),
	)
	limiter.StartCleanup(ctx)
	defer limiter.Stop()

	registry := tool.NewRegistry(logger)
	var source tools.MarketDataSource
	if cfg.Upstream.BaseURL != "" {
		source = upstream.NewClient(logger,
			upstream.WithBaseURL(cfg.Upstream.BaseURL),
			upstream.WithTimeout(config.Duration(cfg.Upstream.Timeout, 10*time.Second)),
		)
	}
	scanner := security.NewScanner(security.Profile(cfg.Security.Profile))
	if err := tools.RegisterAll(registry, backend, source, scanner); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	gateway := service.NewGatewayService(
		identity.NewDeriver(cfg.Identity.Namespace),
		validator,
		limiter,
		registry,
		backend,
		subs,
		logger,
		service.WithVersion(Version),
		service.WithMinuteCap(cfg.RateLimit.PerMinute),
	)

	startStorageCleanup(ctx, cfg, backend, gateway, logger)

	switch cfg.Server.Mode {
	case "stdio":
		return runStdio(ctx, gateway, logger)
	default:
		return runHTTP(ctx, cfg, gateway, limiter, logger)
	}
}

// buildStores selects Postgres or in-memory storage based on config.
// The returned cleanup closes whatever was opened.
func buildStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Backend, subscription.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Warn("no database configured, using in-memory storage")
		if cfg.DevMode {
			emails := []string{"dev@example.com"}
			if env := os.Getenv("PERSISTGATE_USER_EMAIL"); env != "" {
				emails = append(emails, env)
			}
			subs := memory.NewPermissiveStore(devKey, subscription.TierPremium, emails...)
			logger.Info("dev subscription seeded", "tier", subscription.TierPremium)
			return memory.NewStorage(), subs, func() {}, nil
		}
		return memory.NewStorage(), memory.NewSubscriptionStore(), func() {}, nil
	}

	store, err := postgres.Open(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.Migrate(ctx, store.DB()); err != nil {
			_ = store.Close()
			return nil, nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("database migrations applied")
	}
	// Subscriptions can live in a separate database from tenant data.
	if cfg.Subscription.RegistryURL != "" && cfg.Subscription.RegistryURL != cfg.Database.URL {
		registry, err := postgres.Open(ctx, cfg.Subscription.RegistryURL, logger)
		if err != nil {
			_ = store.Close()
			return nil, nil, nil, fmt.Errorf("failed to open subscription registry: %w", err)
		}
		subs := postgres.NewSubscriptionStore(registry.DB(), logger)
		return store, subs, func() {
			_ = registry.Close()
			_ = store.Close()
		}, nil
	}

	subs := postgres.NewSubscriptionStore(store.DB(), logger)
	return store, subs, func() { _ = store.Close() }, nil
}

// startStorageCleanup launches the periodic purge of expired records,
// old soft-deleted rows and journal entries past their tier's retention
// window.
func startStorageCleanup(ctx context.Context, cfg *config.Config, backend storage.Backend, gateway *service.GatewayService, logger *slog.Logger) {
	interval := config.Duration(cfg.Database.CleanupInterval, time.Hour)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := backend.CleanupExpired(ctx)
				if err != nil {
					logger.Warn("storage cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Info("storage cleanup", "purged", n)
				}
				retained, err := gateway.EnforceRetention(ctx)
				if err != nil {
					logger.Warn("retention sweep failed", "error", err)
					continue
				}
				if retained > 0 {
					logger.Info("retention sweep", "purged", retained)
				}
			}
		}
	}()
}

func runHTTP(ctx context.Context, cfg *config.Config, gateway *service.GatewayService, limiter *ratelimit.SlidingLimiter, logger *slog.Logger) error {
	origins := cfg.Server.AllowedOrigins
	// The moderate profile opens cross-origin access when no explicit
	// allowlist narrows it.
	if cfg.Security.Profile == "moderate" && len(origins) == 0 {
		origins = []string{"*"}
	}
	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithAllowedOrigins(origins),
		httpadapter.WithLogger(logger),
		httpadapter.WithUserGauge(limiter.Size),
	}
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		opts = append(opts, httpadapter.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}
	transport := httpadapter.NewTransport(gateway, opts...)
	return transport.Start(ctx)
}

func runStdio(ctx context.Context, gateway *service.GatewayService, logger *slog.Logger) error {
	creds := config.CredentialsFromEnv()
	if creds.Email == "" || creds.SubscriptionKey == "" {
		logger.Warn("stdio mode without PERSISTGATE_USER_EMAIL / PERSISTGATE_SUBSCRIPTION_KEY, requests will be rejected")
	}
	transport := stdio.NewTransport(gateway, creds, logger)
	return transport.Start(ctx)
}

func parseLogLevel(level string) slog.Level {
	switch level {
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
