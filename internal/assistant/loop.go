// Package assistant implements the tool dispatch loop that turns one
// user chat message into streamed text, tool executions against the
// trip plan, and a committed conversation turn.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jvelez79/travelr-sub002/internal/events"
	"github.com/jvelez79/travelr-sub002/internal/history"
	"github.com/jvelez79/travelr-sub002/internal/llm"
	"github.com/jvelez79/travelr-sub002/internal/places"
	"github.com/jvelez79/travelr-sub002/internal/tools"
)

// State is the loop's position in one turn.
type State int

const (
	// StateRequesting means the loop is awaiting the provider's next turn.
	StateRequesting State = iota
	// StateExecuting means the loop is running requested tools.
	StateExecuting
	// StateDone is terminal: final answer or iteration ceiling.
	StateDone
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateRequesting:
		return "requesting"
	case StateExecuting:
		return "executing"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transition computes the next state from the current one and the
// number of tool invocations the provider's latest turn requested.
// The iteration ceiling is applied by the caller, not here.
func transition(s State, toolCalls int) State {
	switch s {
	case StateRequesting:
		if toolCalls > 0 {
			return StateExecuting
		}
		return StateDone
	case StateExecuting:
		return StateRequesting
	}
	return StateDone
}

// continuationHint is appended to the assistant text exactly once when
// the turn hits the iteration ceiling.
const continuationHint = "\n\nI ran out of steps for this request. Tell me to continue and I'll pick up where I left off."

const systemPrompt = `You are a travel planning assistant. You help the user modify their multi-day trip itinerary through the tools provided.

Rules:
- Day numbers are 1-based. Always check a day's schedule before changing it if you are unsure what is there.
- When a search tool returns places, mention them in your reply using the exact markup the tool result asks for, so they render as place cards.
- Destructive changes (removing activities, clearing days, removing accommodations) must be described to the user first; the tool will tell you when confirmation is needed.
- When you cannot proceed without the user's input, use ask_user and stop.
- Keep replies short and concrete.`

// searchTools route their results through place-reference extraction.
var searchTools = map[string]bool{
	"search_place":         true,
	"search_nearby":        true,
	"get_place_details":    true,
	"search_accommodation": true,
}

// Committer is the slice of the history store the loop needs. The
// conversation is resolved (with ownership enforced) before the first
// provider call; the commit runs exactly once per turn, strictly after
// the loop reaches its terminal state.
type Committer interface {
	EnsureConversation(conversationID, userID, tripID string) (*history.Conversation, error)
	Messages(conversationID string, limit int) ([]history.Message, error)
	CommitTurn(conversationID, userContent, assistantContent string, audit []history.ToolAuditEntry, placesSnapshot map[string]places.Place) (string, string, error)
}

// Request is one inbound chat turn.
type Request struct {
	UserID         string
	TripID         string
	ConversationID string // empty starts a new conversation
	Message        string
}

// Result summarizes a finished turn.
type Result struct {
	ConversationID string
	AssistantText  string
	ToolCallsCount int
	CanContinue    bool
	MessagesSaved  bool
	Iterations     int
	InputTokens    int
	OutputTokens   int
}

// Loop orchestrates one chat turn end to end.
type Loop struct {
	llm           llm.Client
	registry      *tools.Registry
	store         Committer
	bus           *events.Bus
	logger        *slog.Logger
	maxIterations int
	historyLimit  int
}

// NewLoop creates a loop. maxIterations <= 0 defaults to 12.
func NewLoop(client llm.Client, registry *tools.Registry, store Committer, bus *events.Bus, maxIterations, historyLimit int, logger *slog.Logger) *Loop {
	if maxIterations <= 0 {
		maxIterations = 12
	}
	if historyLimit <= 0 {
		historyLimit = 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:           client,
		registry:      registry,
		store:         store,
		bus:           bus,
		logger:        logger,
		maxIterations: maxIterations,
		historyLimit:  historyLimit,
	}
}

// Run executes one turn: provider rounds, tool execution, place
// extraction, and the final commit. Frames stream to sink as they
// happen. The returned error means the turn failed before completing;
// an error frame has already been sent and no done frame follows.
func (l *Loop) Run(ctx context.Context, req Request, sink Sink) (*Result, error) {
	requestID := uuid.New().String()
	started := time.Now()
	logger := l.logger.With("request_id", requestID, "trip_id", req.TripID)

	l.bus.Publish(events.Event{
		Timestamp: started,
		Source:    events.SourceAssistant,
		Kind:      events.KindRequestStart,
		Data: map[string]any{
			"request_id":      requestID,
			"conversation_id": req.ConversationID,
			"trip_id":         req.TripID,
		},
	})

	if err := sink.Send(Frame{Type: FrameStart, Data: startPayload{}}); err != nil {
		return nil, fmt.Errorf("send start: %w", err)
	}

	// Resolve the conversation first. This is the ownership gate: a
	// conversation id belonging to another user (or another trip) is
	// rejected here, before any of its history can reach the prompt.
	conv, err := l.store.EnsureConversation(req.ConversationID, req.UserID, req.TripID)
	if err != nil {
		return nil, l.fail(sink, logger, "load conversation", err)
	}

	messages, err := l.buildMessages(req, conv.ID)
	if err != nil {
		return nil, l.fail(sink, logger, "load conversation", err)
	}

	ctx = tools.WithTripScope(ctx, req.TripID, req.UserID)
	dir := places.NewDirectory()
	specs := l.registry.Specs()

	var (
		assistantText strings.Builder
		audit         []history.ToolAuditEntry
		toolCalls     int
		totalIn       int
		totalOut      int
		canContinue   bool
		state         = StateRequesting
		iterations    int
	)

	for iter := 1; state != StateDone; iter++ {
		iterations = iter
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAssistant,
			Kind:      events.KindLLMCall,
			Data:      map[string]any{"request_id": requestID, "iter": iter},
		})

		var streamErr error
		resp, err := l.llm.ChatStream(ctx, messages, specs, func(ev llm.StreamEvent) {
			if ev.Kind != llm.KindTextDelta || ev.Text == "" {
				return
			}
			assistantText.WriteString(ev.Text)
			if serr := sink.Send(Frame{Type: FrameText, Data: textPayload{Text: ev.Text}}); serr != nil && streamErr == nil {
				streamErr = serr
			}
		})
		if err != nil {
			return nil, l.fail(sink, logger, "provider call", err)
		}
		if streamErr != nil {
			return nil, fmt.Errorf("send text: %w", streamErr)
		}

		totalIn += resp.InputTokens
		totalOut += resp.OutputTokens
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			Source:    events.SourceAssistant,
			Kind:      events.KindLLMResponse,
			Data: map[string]any{
				"request_id": requestID,
				"iter":       iter,
				"model":      resp.Model,
				"tokens_in":  resp.InputTokens,
				"tokens_out": resp.OutputTokens,
				"tool_calls": len(resp.Message.ToolCalls),
			},
		})

		state = transition(state, len(resp.Message.ToolCalls))
		if state == StateDone {
			break
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			toolCalls++
			entry, result := l.executeTool(ctx, requestID, call, dir, sink, logger)
			audit = append(audit, entry)
			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
		state = transition(state, 0) // Executing → Requesting

		if iter >= l.maxIterations {
			state = StateDone
			canContinue = true
			assistantText.WriteString(continuationHint)
			if err := sink.Send(Frame{Type: FrameText, Data: textPayload{Text: continuationHint}}); err != nil {
				return nil, fmt.Errorf("send text: %w", err)
			}
			logger.Info("iteration ceiling reached", "iterations", iter)
		}
	}

	finalText := places.Normalize(assistantText.String(), dir)

	saved := false
	if _, _, commitErr := l.store.CommitTurn(conv.ID, req.Message, finalText, audit, dir.Snapshot()); commitErr != nil {
		// The text already streamed; report the turn as unsaved
		// rather than erroring it.
		logger.Error("turn commit failed", "error", commitErr)
	} else {
		saved = true
	}

	if err := sink.Send(Frame{Type: FrameDone, Data: donePayload{
		ConversationID: conv.ID,
		ToolCallsCount: toolCalls,
		CanContinue:    canContinue,
		MessagesSaved:  saved,
	}}); err != nil {
		return nil, fmt.Errorf("send done: %w", err)
	}

	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAssistant,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"request_id":       requestID,
			"tool_calls":       toolCalls,
			"total_tokens_in":  totalIn,
			"total_tokens_out": totalOut,
			"elapsed_ms":       time.Since(started).Milliseconds(),
		},
	})

	return &Result{
		ConversationID: conv.ID,
		AssistantText:  finalText,
		ToolCallsCount: toolCalls,
		CanContinue:    canContinue,
		MessagesSaved:  saved,
		Iterations:     iterations,
		InputTokens:    totalIn,
		OutputTokens:   totalOut,
	}, nil
}

// executeTool runs one invocation: frame out, execute (validation
// happens inside the registry), place extraction for search tools,
// result frame back. Tool failures become textual results so the
// model can self-correct; they never abort the turn.
func (l *Loop) executeTool(ctx context.Context, requestID string, call llm.ToolCall, dir *places.Directory, sink Sink, logger *slog.Logger) (history.ToolAuditEntry, string) {
	_ = sink.Send(Frame{Type: FrameToolCall, Data: toolCallPayload{
		ToolName:  call.Name,
		ToolInput: call.Input,
	}})
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAssistant,
		Kind:      events.KindToolCall,
		Data:      map[string]any{"request_id": requestID, "tool": call.Name},
	})

	entry := history.ToolAuditEntry{Tool: call.Name, Input: call.Input}
	start := time.Now()

	result, err := l.registry.Execute(ctx, call.Name, call.Input)
	entry.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		entry.Failed = true
		entry.Rejected = isValidationError(err)
		result = "Error: " + err.Error()
		logger.Warn("tool failed", "tool", call.Name, "error", err, "rejected", entry.Rejected)
	} else if searchTools[call.Name] {
		var added []places.Place
		result, added = places.Extract(result, dir)
		if len(added) > 0 {
			_ = sink.Send(Frame{Type: FramePlacesContext, Data: placesContextPayload{
				PlacesContext: dir.Snapshot(),
			}})
		}
	}
	entry.Result = result

	_ = sink.Send(Frame{Type: FrameToolResult, Data: toolResultPayload{
		ToolName:   call.Name,
		ToolResult: result,
	}})
	l.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAssistant,
		Kind:      events.KindToolDone,
		Data: map[string]any{
			"request_id":  requestID,
			"tool":        call.Name,
			"ok":          err == nil,
			"duration_ms": entry.DurationMs,
		},
	})
	return entry, result
}

// isValidationError distinguishes inputs rejected before the tool body
// ran from failures inside the body.
func isValidationError(err error) bool {
	var ve *tools.ValidationError
	var ua *tools.ErrToolUnavailable
	return errors.As(err, &ve) || errors.As(err, &ua)
}

// buildMessages assembles the prompt. conversationID has already been
// resolved through the ownership check; a fresh conversation has no
// prior rows, so the history query is skipped.
func (l *Loop) buildMessages(req Request, conversationID string) ([]llm.Message, error) {
	messages := []llm.Message{{Role: "system", Content: systemPrompt}}

	if req.ConversationID != "" {
		prior, err := l.store.Messages(conversationID, l.historyLimit)
		if err != nil {
			return nil, err
		}
		for _, m := range prior {
			messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
		}
	}

	messages = append(messages, llm.Message{Role: "user", Content: req.Message})
	return messages, nil
}

func (l *Loop) fail(sink Sink, logger *slog.Logger, stage string, err error) error {
	logger.Error("turn failed", "stage", stage, "error", err)
	_ = sink.Send(Frame{Type: FrameError, Data: errorPayload{
		Error: fmt.Sprintf("%s failed", stage),
	}})
	return fmt.Errorf("%s: %w", stage, err)
}
