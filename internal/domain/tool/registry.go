package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fortunamind/persistgate/internal/domain/subscription"
)

// Registry holds the tool catalog and dispatches calls. Registration
// happens at startup; after that the registry is read-only and safe for
// concurrent dispatch.
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	schemas map[string]*gojsonschema.Schema
	logger  *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:   make(map[string]Tool),
		schemas: make(map[string]*gojsonschema.Schema),
		logger:  logger.With("component", "tool_registry"),
	}
}

// Register adds a tool to the catalog. Names must be unique; the
// parameter schema is compiled once here so dispatch never pays for
// compilation.
func (r *Registry) Register(t Tool) error {
	schema := t.Schema()
	if schema.Name == "" {
		return fmt.Errorf("tool has empty name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[schema.Name]; exists {
		return fmt.Errorf("tool %q already registered", schema.Name)
	}

	if len(schema.Parameters) > 0 {
		compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema.Parameters))
		if err != nil {
			return fmt.Errorf("tool %q has invalid parameter schema: %w", schema.Name, err)
		}
		r.schemas[schema.Name] = compiled
	}

	r.tools[schema.Name] = t
	r.logger.Debug("tool registered", "tool", schema.Name, "category", schema.Category)
	return nil
}

// MustRegister is Register for startup wiring, panicking on error.
func (r *Registry) MustRegister(t Tool) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// List returns the schemas of tools available to the given tier, sorted
// by name. Tools gated behind a feature the tier lacks are omitted so
// clients never discover tools they cannot call.
func (r *Registry) List(tier subscription.Tier) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]Schema, 0, len(r.tools))
	for _, t := range r.tools {
		s := t.Schema()
		if s.Permission != PermissionNone && !tier.HasFeature(string(s.Permission)) {
			continue
		}
		schemas = append(schemas, s)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Dispatch resolves, authorizes, validates and executes one tool call.
// Validation failures carry the offending JSON path so clients can fix
// their arguments without guessing.
func (r *Registry) Dispatch(ctx context.Context, auth AuthContext, name string, args json.RawMessage) (*Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	compiled := r.schemas[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}

	schema := t.Schema()
	if schema.Permission != PermissionNone && !auth.Tier.HasFeature(string(schema.Permission)) {
		return nil, fmt.Errorf("%w: %s requires %s", ErrForbidden, name, schema.Permission)
	}

	if compiled != nil {
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		result, err := compiled.Validate(gojsonschema.NewBytesLoader(args))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArguments, err)
		}
		if !result.Valid() {
			first := result.Errors()[0]
			return nil, fmt.Errorf("%w: %s: %s", ErrInvalidArguments, first.Field(), first.Description())
		}
	}

	start := time.Now()
	content, err := t.Execute(ctx, auth, args)
	duration := time.Since(start)

	logger := r.logger
	if auth.RequestID != "" {
		logger = logger.With("request_id", auth.RequestID)
	}
	if err != nil {
		logger.Warn("tool execution failed",
			"tool", name,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return nil, err
	}
	logger.Debug("tool executed",
		"tool", name,
		"duration_ms", duration.Milliseconds())

	return &Result{
		Content:   content,
		Duration:  duration,
		ToolName:  name,
		RequestID: auth.RequestID,
	}, nil
}

// Size returns the number of registered tools.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
