package service

import (
	"context"

	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

// EnforceRetention walks every subscription and deletes journal entries
// older than the tier's retention window. Tiers with an unlimited window
// are skipped. Stores that cannot enumerate their records make the sweep
// a no-op. Returns the total number of entries removed.
func (g *GatewayService) EnforceRetention(ctx context.Context) (int64, error) {
	lister, ok := g.subs.(interface {
		All(ctx context.Context) ([]subscription.Record, error)
	})
	if !ok {
		return 0, nil
	}
	recs, err := lister.All(ctx)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, rec := range recs {
		days := rec.Tier.Limits().RetentionDays
		if days <= 0 {
			continue
		}
		handle, err := g.deriver.DeriveHandle(rec.Email)
		if err != nil {
			continue
		}
		cutoff := g.clock().AddDate(0, 0, -days)
		n, err := g.backend.EnforceRetention(ctx, handle, cutoff)
		if err != nil {
			g.logger.Warn("retention sweep failed for user", "tier", rec.Tier, "error", err)
			continue
		}
		if n > 0 {
			g.logger.Info("retention sweep removed entries", "tier", rec.Tier, "removed", n)
		}
		total += n
	}
	return total, nil
}
