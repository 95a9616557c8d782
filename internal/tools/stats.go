package tools

import (
	"context"
	"encoding/json"

	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/tool"
)

// StatsTool reports the caller's storage footprint and tier allowances.
type StatsTool struct {
	backend storage.Backend
}

// NewStatsTool creates the stats tool.
func NewStatsTool(backend storage.Backend) *StatsTool {
	return &StatsTool{backend: backend}
}

func (t *StatsTool) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_user_stats",
		Description: "Show storage usage and the limits of the current subscription tier.",
		Category:    "account",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"additionalProperties": false
		}`),
	}
}

func (t *StatsTool) Execute(ctx context.Context, auth tool.AuthContext, _ json.RawMessage) (json.RawMessage, error) {
	stats, err := t.backend.GetUserStats(ctx, auth.Handle)
	if err != nil {
		return nil, err
	}

	limits := auth.Tier.Limits()
	return json.Marshal(map[string]interface{}{
		"tier":  auth.Tier,
		"usage": stats,
		"limits": map[string]interface{}{
			"requests_per_hour":  limits.RequestsPerHour,
			"requests_per_day":   limits.RequestsPerDay,
			"requests_per_month": limits.RequestsPerMonth,
			"journal_entries":    limits.JournalEntries,
			"storage_mb":         limits.StorageMB,
			"retention_days":     limits.RetentionDays,
			"features":           limits.Features,
		},
	})
}

// Compile-time interface verification.
var _ tool.Tool = (*StatsTool)(nil)
