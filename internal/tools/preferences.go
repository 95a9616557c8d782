package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/tool"
)

// PreferenceTools bundles the user preference tools over one backend.
type PreferenceTools struct {
	backend storage.Backend
}

// NewPreferenceTools creates the preference tool set.
func NewPreferenceTools(backend storage.Backend) *PreferenceTools {
	return &PreferenceTools{backend: backend}
}

// All returns every preference tool for registration.
func (p *PreferenceTools) All() []tool.Tool {
	return []tool.Tool{
		&setPreference{p.backend},
		&getPreference{p.backend},
		&getPreferences{p.backend},
	}
}

type setPreference struct {
	backend storage.Backend
}

func (t *setPreference) Schema() tool.Schema {
	return tool.Schema{
		Name:        "set_preference",
		Description: "Set one user preference. Values are arbitrary JSON.",
		Category:    "preferences",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "minLength": 1, "maxLength": 100},
				"value": {}
			},
			"required": ["key", "value"],
			"additionalProperties": false
		}`),
	}
}

func (t *setPreference) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Key   string          `json:"key"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	if err := t.backend.SetPreference(ctx, auth.Handle, storage.Preference{
		Key:   in.Key,
		Value: in.Value,
	}); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{"stored": true, "key": in.Key})
}

type getPreference struct {
	backend storage.Backend
}

func (t *getPreference) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_preference",
		Description: "Fetch one user preference by key.",
		Category:    "preferences",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"key": {"type": "string", "minLength": 1, "maxLength": 100}
			},
			"required": ["key"],
			"additionalProperties": false
		}`),
	}
}

func (t *getPreference) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Key string `json:"key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	pref, err := t.backend.GetPreference(ctx, auth.Handle, in.Key)
	if err != nil {
		return nil, err
	}
	return json.Marshal(pref)
}

type getPreferences struct {
	backend storage.Backend
}

func (t *getPreferences) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_preferences",
		Description: "List all user preferences.",
		Category:    "preferences",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"additionalProperties": false
		}`),
	}
}

func (t *getPreferences) Execute(ctx context.Context, auth tool.AuthContext, _ json.RawMessage) (json.RawMessage, error) {
	prefs, err := t.backend.GetPreferences(ctx, auth.Handle)
	if err != nil {
		return nil, err
	}
	if prefs == nil {
		prefs = []storage.Preference{}
	}
	return json.Marshal(map[string]interface{}{
		"preferences": prefs,
		"count":       len(prefs),
	})
}
