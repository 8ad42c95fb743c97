package llm

import "context"

// Client is the interface the assistant loop uses to talk to a provider.
type Client interface {
	// ChatStream sends a chat request. If callback is non-nil the
	// response is streamed and decoded events are forwarded to it as
	// they arrive; the assembled response is returned either way.
	ChatStream(ctx context.Context, messages []Message, tools []ToolSpec, callback StreamCallback) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}

// ToolSpec declares one tool to the provider.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}
