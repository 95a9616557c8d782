// Package tools contains the built-in tool implementations exposed over
// the MCP surface. Each tool validates nothing itself; arguments arrive
// already checked against the schemas declared here.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fortunamind/persistgate/internal/domain/security"
	"github.com/fortunamind/persistgate/internal/domain/storage"
	"github.com/fortunamind/persistgate/internal/domain/tool"
)

// JournalTools bundles the trading journal tools over one backend.
// scanner may be nil to disable content screening.
type JournalTools struct {
	backend storage.Backend
	scanner *security.Scanner
}

// NewJournalTools creates the journal tool set.
func NewJournalTools(backend storage.Backend, scanner *security.Scanner) *JournalTools {
	return &JournalTools{backend: backend, scanner: scanner}
}

// All returns every journal tool for registration.
func (j *JournalTools) All() []tool.Tool {
	return []tool.Tool{
		&storeJournalEntry{j.backend, j.scanner},
		&getJournalEntries{j.backend},
		&getJournalEntry{j.backend},
		&updateJournalEntry{j.backend, j.scanner},
		&deleteJournalEntry{j.backend},
	}
}

// screen rejects content the scanner blocks. A nil scanner passes
// everything.
func screen(scanner *security.Scanner, content string) error {
	if scanner == nil {
		return nil
	}
	if err := scanner.Check(content); err != nil {
		return fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	return nil
}

type storeJournalEntry struct {
	backend storage.Backend
	scanner *security.Scanner
}

func (t *storeJournalEntry) Schema() tool.Schema {
	return tool.Schema{
		Name:        "store_journal_entry",
		Description: "Store a new trading journal entry.",
		Category:    "journal",
		Permission:  tool.PermissionJournal,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"title": {"type": "string", "maxLength": 200},
				"content": {"type": "string", "minLength": 1, "maxLength": 50000},
				"entry_type": {"type": "string", "enum": ["trade", "note", "analysis", "review"]},
				"symbol": {"type": "string", "maxLength": 20},
				"tags": {"type": "array", "items": {"type": "string"}, "maxItems": 20},
				"metadata": {"type": "object"}
			},
			"required": ["content"],
			"additionalProperties": false
		}`),
	}
}

func (t *storeJournalEntry) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		Title     string          `json:"title"`
		Content   string          `json:"content"`
		EntryType string          `json:"entry_type"`
		Symbol    string          `json:"symbol"`
		Tags      []string        `json:"tags"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	if err := screen(t.scanner, in.Content); err != nil {
		return nil, err
	}

	// Entry count quota is tier-scoped; unlimited tiers skip the stats
	// round trip.
	limits := auth.Tier.Limits()
	if limits.JournalEntries >= 0 {
		stats, err := t.backend.GetUserStats(ctx, auth.Handle)
		if err != nil {
			return nil, err
		}
		if stats.JournalEntries >= limits.JournalEntries {
			return nil, fmt.Errorf("%w: journal entry limit %d reached", storage.ErrQuotaExceeded, limits.JournalEntries)
		}
	}

	entry, err := t.backend.StoreJournalEntry(ctx, auth.Handle, storage.JournalEntry{
		Title:     in.Title,
		Content:   in.Content,
		EntryType: in.EntryType,
		Symbol:    in.Symbol,
		Tags:      in.Tags,
		Metadata:  in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry)
}

type getJournalEntries struct {
	backend storage.Backend
}

func (t *getJournalEntries) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_journal_entries",
		Description: "List journal entries, newest first, with optional filters.",
		Category:    "journal",
		Permission:  tool.PermissionJournal,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"entry_type": {"type": "string"},
				"symbol": {"type": "string"},
				"tag": {"type": "string"},
				"since": {"type": "string", "format": "date-time"},
				"until": {"type": "string", "format": "date-time"},
				"limit": {"type": "integer", "minimum": 1, "maximum": 100},
				"offset": {"type": "integer", "minimum": 0}
			},
			"additionalProperties": false
		}`),
	}
}

func (t *getJournalEntries) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		EntryType string `json:"entry_type"`
		Symbol    string `json:"symbol"`
		Tag       string `json:"tag"`
		Since     string `json:"since"`
		Until     string `json:"until"`
		Limit     int    `json:"limit"`
		Offset    int    `json:"offset"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}

	filter := storage.JournalFilter{
		EntryType: in.EntryType,
		Symbol:    in.Symbol,
		Tag:       in.Tag,
		Limit:     in.Limit,
		Offset:    in.Offset,
	}
	if filter.Limit == 0 {
		filter.Limit = 50
	}
	if in.Since != "" {
		ts, err := time.Parse(time.RFC3339, in.Since)
		if err != nil {
			return nil, fmt.Errorf("%w: since: %v", tool.ErrInvalidArguments, err)
		}
		filter.Since = ts
	}
	if in.Until != "" {
		ts, err := time.Parse(time.RFC3339, in.Until)
		if err != nil {
			return nil, fmt.Errorf("%w: until: %v", tool.ErrInvalidArguments, err)
		}
		filter.Until = ts
	}

	entries, err := t.backend.GetJournalEntries(ctx, auth.Handle, filter)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []storage.JournalEntry{}
	}
	return json.Marshal(map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

type getJournalEntry struct {
	backend storage.Backend
}

func (t *getJournalEntry) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_journal_entry",
		Description: "Fetch one journal entry by id.",
		Category:    "journal",
		Permission:  tool.PermissionJournal,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "minLength": 1}
			},
			"required": ["id"],
			"additionalProperties": false
		}`),
	}
}

func (t *getJournalEntry) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	entry, err := t.backend.GetJournalEntry(ctx, auth.Handle, in.ID)
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry)
}

type updateJournalEntry struct {
	backend storage.Backend
	scanner *security.Scanner
}

func (t *updateJournalEntry) Schema() tool.Schema {
	return tool.Schema{
		Name:        "update_journal_entry",
		Description: "Update fields of an existing journal entry.",
		Category:    "journal",
		Permission:  tool.PermissionJournal,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"title": {"type": "string", "maxLength": 200},
				"content": {"type": "string", "maxLength": 50000},
				"entry_type": {"type": "string", "enum": ["trade", "note", "analysis", "review"]},
				"symbol": {"type": "string", "maxLength": 20},
				"tags": {"type": "array", "items": {"type": "string"}, "maxItems": 20},
				"metadata": {"type": "object"}
			},
			"required": ["id"],
			"additionalProperties": false
		}`),
	}
}

func (t *updateJournalEntry) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		ID        string          `json:"id"`
		Title     string          `json:"title"`
		Content   string          `json:"content"`
		EntryType string          `json:"entry_type"`
		Symbol    string          `json:"symbol"`
		Tags      []string        `json:"tags"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	if err := screen(t.scanner, in.Content); err != nil {
		return nil, err
	}
	entry, err := t.backend.UpdateJournalEntry(ctx, auth.Handle, storage.JournalEntry{
		ID:        in.ID,
		Title:     in.Title,
		Content:   in.Content,
		EntryType: in.EntryType,
		Symbol:    in.Symbol,
		Tags:      in.Tags,
		Metadata:  in.Metadata,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(entry)
}

type deleteJournalEntry struct {
	backend storage.Backend
}

func (t *deleteJournalEntry) Schema() tool.Schema {
	return tool.Schema{
		Name:        "delete_journal_entry",
		Description: "Delete a journal entry by id.",
		Category:    "journal",
		Permission:  tool.PermissionJournal,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"id": {"type": "string", "minLength": 1}
			},
			"required": ["id"],
			"additionalProperties": false
		}`),
	}
}

func (t *deleteJournalEntry) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	if err := t.backend.DeleteJournalEntry(ctx, auth.Handle, in.ID); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{"deleted": true, "id": in.ID})
}
