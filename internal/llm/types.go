// Package llm provides the LLM provider client and stream decoding.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message exchanged with the provider.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // for tool-result messages
}

// ToolCall is a structured tool invocation emitted by the model.
type ToolCall struct {
	// ID is the provider-assigned id, required for tool_result correlation.
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

// ChatResponse is the provider-neutral result of one model turn.
// Wire-format conversion happens at the provider boundary (anthropic.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	// StopReason is the provider's stop reason (end_turn, tool_use,
	// max_tokens) when reported.
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// StreamEventKind identifies the type of decoded stream event.
type StreamEventKind int

const (
	// KindTextDelta is an incremental text fragment from the model.
	KindTextDelta StreamEventKind = iota

	// KindToolInvocation fires once a tool_use block has fully closed
	// and its accumulated input parsed.
	KindToolInvocation
)

// StreamEvent is one decoded event from the provider stream. Consumers
// switch on Kind to determine which field is set.
type StreamEvent struct {
	Kind StreamEventKind

	// Text is set for KindTextDelta events.
	Text string

	// ToolCall is set for KindToolInvocation events.
	ToolCall *ToolCall
}

// StreamCallback receives decoded stream events as they are produced.
type StreamCallback func(event StreamEvent)
