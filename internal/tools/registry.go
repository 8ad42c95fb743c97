// Package tools defines the tools available to the travel assistant
// and the registry that validates and executes them.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/llm"
	"github.com/jvelez79/travelr-sub002/internal/places"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. This indicates the model hallucinated
// a capability, not a transient execution failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available", e.ToolName)
}

// ValidationError reports an invocation rejected before the tool body
// ran, so callers can distinguish rejections from execution failures
// without parsing error text.
type ValidationError struct {
	ToolName string
	Field    string
	Message  string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Tool represents one callable tool.
type Tool struct {
	Name        string
	Description string
	// Parameters is a JSON Schema object. Its top-level "required"
	// list is enforced before the handler runs.
	Parameters map[string]any
	// Destructive tools refuse to run unless the call carries
	// confirm=true, forcing the model to surface the action first.
	Destructive bool
	// Timeout overrides the registry default for this tool.
	Timeout time.Duration
	Handler func(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds available tools and the collaborators they act on.
type Registry struct {
	tools          map[string]*Tool
	trips          *trip.Store
	searcher       places.Searcher
	defaultTimeout time.Duration
	logger         *slog.Logger
}

// NewRegistry creates a tool registry bound to the trip store and the
// place-search collaborator.
func NewRegistry(trips *trip.Store, searcher places.Searcher, defaultTimeout time.Duration, logger *slog.Logger) *Registry {
	if defaultTimeout <= 0 {
		defaultTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		tools:          make(map[string]*Tool),
		trips:          trips,
		searcher:       searcher,
		defaultTimeout: defaultTimeout,
		logger:         logger,
	}
	r.registerTripTools()
	r.registerPlaceTools()
	return r
}

// Register adds a tool to the registry.
func (r *Registry) Register(t *Tool) {
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// Specs returns the tool definitions for the LLM, sorted by name so
// the prompt is stable across requests.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.tools))
	for _, t := range r.tools {
		specs = append(specs, llm.ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Execute runs a tool by name. Required parameters are validated
// before the handler is invoked, and the handler runs under a
// per-tool timeout. Validation failures and handler errors both come
// back as the error return; the caller decides how to report them to
// the model.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	if err := validateRequired(tool, args); err != nil {
		return "", err
	}

	if tool.Destructive {
		if confirm, _ := args["confirm"].(bool); !confirm {
			return fmt.Sprintf("This is a destructive action. Describe to the user what %s will remove, and call it again with confirm=true once they agree.", name), nil
		}
	}

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = r.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := tool.Handler(ctx, args)
	r.logger.Debug("tool executed",
		"tool", name,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil)
	return result, err
}

func validateRequired(tool *Tool, args map[string]any) error {
	required, _ := tool.Parameters["required"].([]string)
	for _, field := range required {
		v, ok := args[field]
		if !ok || v == nil {
			return &ValidationError{
				ToolName: tool.Name,
				Field:    field,
				Message:  fmt.Sprintf("missing required parameter %q for tool %s", field, tool.Name),
			}
		}
		if s, isStr := v.(string); isStr && s == "" {
			return &ValidationError{
				ToolName: tool.Name,
				Field:    field,
				Message:  fmt.Sprintf("required parameter %q for tool %s is empty", field, tool.Name),
			}
		}
	}
	return nil
}

// Argument coercion helpers. Tool arguments arrive as decoded JSON, so
// numbers are float64 regardless of the schema's declared type.

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func intArg(args map[string]any, key string) (int, bool) {
	switch v := args[key].(type) {
	case float64:
		return int(v), true
	case int:
		return v, true
	}
	return 0, false
}

func floatArg(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

type contextKey string

const tripScopeKey contextKey = "trip_scope"

type tripScope struct {
	TripID string
	UserID string
}

// WithTripScope binds the trip a tool invocation operates on. The
// assistant sets this once per request; handlers refuse to run
// without it.
func WithTripScope(ctx context.Context, tripID, userID string) context.Context {
	return context.WithValue(ctx, tripScopeKey, tripScope{TripID: tripID, UserID: userID})
}

func scopeFromContext(ctx context.Context) (tripScope, error) {
	s, ok := ctx.Value(tripScopeKey).(tripScope)
	if !ok || s.TripID == "" {
		return tripScope{}, fmt.Errorf("no trip bound to this request")
	}
	return s, nil
}
