// Package subscription defines subscription tiers, validation results and
// the cached validator that gates every request on subscription status.
package subscription

// Tier is a subscription level. Tiers are ordered: each higher tier is a
// superset of the one below it.
type Tier string

const (
	TierFree       Tier = "free"
	TierStarter    Tier = "starter"
	TierPremium    Tier = "premium"
	TierEnterprise Tier = "enterprise"
)

// Unlimited marks a limit with no cap.
const Unlimited = -1

// TierLimits are the resource ceilings attached to a tier. A value of
// Unlimited means no cap is enforced for that dimension.
type TierLimits struct {
	RequestsPerHour  int
	RequestsPerDay   int
	RequestsPerMonth int
	BurstPerMinute   int
	JournalEntries   int
	StorageMB        int
	RetentionDays    int
	Features         []string
}

// tierCatalog holds the canonical limits per tier. Order in tierRank
// determines comparison for feature inheritance.
var tierCatalog = map[Tier]TierLimits{
	TierFree: {
		RequestsPerHour:  60,
		RequestsPerDay:   1000,
		RequestsPerMonth: 20000,
		BurstPerMinute:   10,
		JournalEntries:   0,
		StorageMB:        0,
		RetentionDays:    365,
		Features: []string{
			"portfolio_view", "price_check", "basic_analysis",
		},
	},
	TierStarter: {
		RequestsPerHour:  300,
		RequestsPerDay:   5000,
		RequestsPerMonth: 100000,
		BurstPerMinute:   50,
		JournalEntries:   100,
		StorageMB:        50,
		RetentionDays:    365,
		Features: []string{
			"portfolio_view", "price_check", "basic_analysis",
			"journal_persistence", "historical_analysis",
		},
	},
	TierPremium: {
		RequestsPerHour:  1000,
		RequestsPerDay:   20000,
		RequestsPerMonth: 500000,
		BurstPerMinute:   100,
		JournalEntries:   Unlimited,
		StorageMB:        1000,
		RetentionDays:    1095,
		Features: []string{
			"portfolio_view", "price_check", "basic_analysis",
			"journal_persistence", "historical_analysis",
			"performance_metrics", "risk_analysis", "advanced_charts",
			"export_data", "custom_alerts",
		},
	},
	TierEnterprise: {
		RequestsPerHour:  Unlimited,
		RequestsPerDay:   Unlimited,
		RequestsPerMonth: Unlimited,
		BurstPerMinute:   Unlimited,
		JournalEntries:   Unlimited,
		StorageMB:        Unlimited,
		RetentionDays:    Unlimited,
		Features: []string{
			"portfolio_view", "price_check", "basic_analysis",
			"journal_persistence", "historical_analysis",
			"performance_metrics", "risk_analysis", "advanced_charts",
			"export_data", "custom_alerts",
			"api_access", "bulk_operations", "priority_support",
			"custom_integrations", "dedicated_account_manager",
		},
	},
}

var tierRank = map[Tier]int{
	TierFree:       0,
	TierStarter:    1,
	TierPremium:    2,
	TierEnterprise: 3,
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	_, ok := tierCatalog[t]
	return ok
}

// AtLeast reports whether t is the same tier as other or higher.
func (t Tier) AtLeast(other Tier) bool {
	tr, ok1 := tierRank[t]
	or, ok2 := tierRank[other]
	return ok1 && ok2 && tr >= or
}

// Limits returns the limits for t. Unknown tiers fall back to free, the
// most restrictive catalog entry.
func (t Tier) Limits() TierLimits {
	if limits, ok := tierCatalog[t]; ok {
		return limits
	}
	return tierCatalog[TierFree]
}

// HasFeature reports whether t includes the named feature.
func (t Tier) HasFeature(name string) bool {
	for _, f := range t.Limits().Features {
		if f == name {
			return true
		}
	}
	return false
}
