package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/fortunamind/persistgate/internal/adapter/outbound/postgres"
	"github.com/fortunamind/persistgate/internal/config"
	"github.com/fortunamind/persistgate/internal/domain/identity"
	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

var subscriptionCmd = &cobra.Command{
	Use:   "subscription",
	Short: "Manage subscription records",
}

var (
	subTier    string
	subStatus  string
	subExpires string
)

var subscriptionSetCmd = &cobra.Command{
	Use:   "set <email> <key>",
	Short: "Insert or update a subscription record",
	Long: `Set writes a subscription row for an email. Intended for operator
provisioning and local setups; production rows normally come from the
billing pipeline.

Example:
  persistgate subscription set me@example.com fm_sub_abc12345 --tier premium --expires 2027-01-01`,
	RunE: runSubscriptionSet,
	Args: cobra.ExactArgs(2),
}

func init() {
	subscriptionSetCmd.Flags().StringVar(&subTier, "tier", "premium", "tier: free, starter, premium or enterprise")
	subscriptionSetCmd.Flags().StringVar(&subStatus, "status", "active", "status: active, grace, expired or revoked")
	subscriptionSetCmd.Flags().StringVar(&subExpires, "expires", "", "expiry date (YYYY-MM-DD, default one year out)")
	subscriptionCmd.AddCommand(subscriptionSetCmd)
	rootCmd.AddCommand(subscriptionCmd)
}

func runSubscriptionSet(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dsn := cfg.Subscription.RegistryURL
	if dsn == "" {
		dsn = cfg.Database.URL
	}
	if dsn == "" {
		return fmt.Errorf("no database configured; set database.url or DATABASE_URL")
	}

	email, err := identity.Normalize(args[0])
	if err != nil {
		return err
	}
	key := args[1]
	if !subscription.ValidKeyFormat(key) {
		return fmt.Errorf("key must look like fm_sub_<token>")
	}

	tier := subscription.Tier(subTier)
	if !tier.Valid() {
		return fmt.Errorf("unknown tier %q", subTier)
	}
	status := subscription.Status(subStatus)
	switch status {
	case subscription.StatusActive, subscription.StatusGrace, subscription.StatusExpired, subscription.StatusRevoked:
	default:
		return fmt.Errorf("unknown status %q", subStatus)
	}

	expires := time.Now().AddDate(1, 0, 0)
	if subExpires != "" {
		expires, err = time.Parse("2006-01-02", subExpires)
		if err != nil {
			return fmt.Errorf("invalid expiry date %q: use YYYY-MM-DD", subExpires)
		}
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	ctx := context.Background()

	store, err := postgres.Open(ctx, dsn, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = store.Close() }()

	subs := postgres.NewSubscriptionStore(store.DB(), logger)
	err = subs.Upsert(ctx, &subscription.Record{
		Email:     email,
		Key:       key,
		Tier:      tier,
		Status:    status,
		ExpiresAt: expires,
	})
	if err != nil {
		return err
	}
	fmt.Printf("subscription set: %s (%s, until %s)\n", email, tier, expires.Format("2006-01-02"))
	return nil
}
