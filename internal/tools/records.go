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

// RecordTools bundles the generic typed-blob tools over one backend.
// scanner may be nil to disable content screening.
type RecordTools struct {
	backend storage.Backend
	scanner *security.Scanner
}

// NewRecordTools creates the record tool set.
func NewRecordTools(backend storage.Backend, scanner *security.Scanner) *RecordTools {
	return &RecordTools{backend: backend, scanner: scanner}
}

// All returns every record tool for registration.
func (r *RecordTools) All() []tool.Tool {
	return []tool.Tool{
		&storeRecord{r.backend, r.scanner},
		&getRecord{r.backend},
		&getRecords{r.backend},
		&deleteRecord{r.backend},
	}
}

type storeRecord struct {
	backend storage.Backend
	scanner *security.Scanner
}

func (t *storeRecord) Schema() tool.Schema {
	return tool.Schema{
		Name:        "store_record",
		Description: "Store or replace a typed data record, optionally with a TTL.",
		Category:    "records",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_type": {"type": "string", "minLength": 1, "maxLength": 50},
				"record_key": {"type": "string", "minLength": 1, "maxLength": 200},
				"data": {},
				"ttl_seconds": {"type": "integer", "minimum": 1, "maximum": 31536000}
			},
			"required": ["record_type", "record_key", "data"],
			"additionalProperties": false
		}`),
	}
}

func (t *storeRecord) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		RecordType string          `json:"record_type"`
		RecordKey  string          `json:"record_key"`
		Data       json.RawMessage `json:"data"`
		TTLSeconds int             `json:"ttl_seconds"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	if err := screen(t.scanner, string(in.Data)); err != nil {
		return nil, err
	}

	rec := storage.Record{
		RecordType: in.RecordType,
		RecordKey:  in.RecordKey,
		Data:       in.Data,
	}
	if in.TTLSeconds > 0 {
		expires := time.Now().Add(time.Duration(in.TTLSeconds) * time.Second)
		rec.ExpiresAt = &expires
	}

	stored, err := t.backend.StoreRecord(ctx, auth.Handle, rec)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stored)
}

type getRecord struct {
	backend storage.Backend
}

func (t *getRecord) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_record",
		Description: "Fetch a typed data record by type and key.",
		Category:    "records",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_type": {"type": "string", "minLength": 1, "maxLength": 50},
				"record_key": {"type": "string", "minLength": 1, "maxLength": 200}
			},
			"required": ["record_type", "record_key"],
			"additionalProperties": false
		}`),
	}
}

func (t *getRecord) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		RecordType string `json:"record_type"`
		RecordKey  string `json:"record_key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	rec, err := t.backend.GetRecord(ctx, auth.Handle, in.RecordType, in.RecordKey)
	if err != nil {
		return nil, err
	}
	return json.Marshal(rec)
}

type getRecords struct {
	backend storage.Backend
}

func (t *getRecords) Schema() tool.Schema {
	return tool.Schema{
		Name:        "get_records",
		Description: "List typed data records of one type, optionally filtered by key prefix.",
		Category:    "records",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_type": {"type": "string", "minLength": 1, "maxLength": 50},
				"key_prefix": {"type": "string", "maxLength": 200}
			},
			"required": ["record_type"],
			"additionalProperties": false
		}`),
	}
}

func (t *getRecords) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		RecordType string `json:"record_type"`
		KeyPrefix  string `json:"key_prefix"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	recs, err := t.backend.GetRecords(ctx, auth.Handle, in.RecordType, in.KeyPrefix)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	return json.Marshal(map[string]interface{}{
		"records": recs,
		"count":   len(recs),
	})
}

type deleteRecord struct {
	backend storage.Backend
}

func (t *deleteRecord) Schema() tool.Schema {
	return tool.Schema{
		Name:        "delete_record",
		Description: "Delete a typed data record by type and key.",
		Category:    "records",
		Permission:  tool.PermissionNone,
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {
				"record_type": {"type": "string", "minLength": 1, "maxLength": 50},
				"record_key": {"type": "string", "minLength": 1, "maxLength": 200}
			},
			"required": ["record_type", "record_key"],
			"additionalProperties": false
		}`),
	}
}

func (t *deleteRecord) Execute(ctx context.Context, auth tool.AuthContext, args json.RawMessage) (json.RawMessage, error) {
	var in struct {
		RecordType string `json:"record_type"`
		RecordKey  string `json:"record_key"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, fmt.Errorf("%w: %v", tool.ErrInvalidArguments, err)
	}
	if err := t.backend.DeleteRecord(ctx, auth.Handle, in.RecordType, in.RecordKey); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]interface{}{"deleted": true})
}
