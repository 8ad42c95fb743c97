package assistant

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/events"
	"github.com/jvelez79/travelr-sub002/internal/history"
	"github.com/jvelez79/travelr-sub002/internal/llm"
	"github.com/jvelez79/travelr-sub002/internal/places"
	"github.com/jvelez79/travelr-sub002/internal/tools"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

// scriptedClient replays a fixed sequence of provider responses,
// pushing each response's content through the stream callback the way
// the real client does. When the script runs out, the last response
// repeats.
type scriptedClient struct {
	responses []llm.ChatResponse
	calls     int
}

func (c *scriptedClient) ChatStream(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	i := c.calls
	if i >= len(c.responses) {
		i = len(c.responses) - 1
	}
	c.calls++
	resp := c.responses[i]
	if cb != nil {
		if resp.Message.Content != "" {
			cb(llm.StreamEvent{Kind: llm.KindTextDelta, Text: resp.Message.Content})
		}
		for j := range resp.Message.ToolCalls {
			cb(llm.StreamEvent{Kind: llm.KindToolInvocation, ToolCall: &resp.Message.ToolCalls[j]})
		}
	}
	return &resp, nil
}

func (c *scriptedClient) Ping(ctx context.Context) error { return nil }

type failingClient struct{}

func (failingClient) ChatStream(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	return nil, errors.New("connection reset")
}

func (failingClient) Ping(ctx context.Context) error { return errors.New("down") }

// frameCollector records every frame in order.
type frameCollector struct {
	frames []Frame
}

func (f *frameCollector) Send(fr Frame) error {
	f.frames = append(f.frames, fr)
	return nil
}

func (f *frameCollector) types() []FrameType {
	out := make([]FrameType, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Type
	}
	return out
}

func (f *frameCollector) count(t FrameType) int {
	n := 0
	for _, fr := range f.frames {
		if fr.Type == t {
			n++
		}
	}
	return n
}

func (f *frameCollector) done(t *testing.T) donePayload {
	t.Helper()
	for _, fr := range f.frames {
		if fr.Type == FrameDone {
			return fr.Data.(donePayload)
		}
	}
	t.Fatal("no done frame")
	return donePayload{}
}

// brokenCommitter fails the turn commit, simulating a mid-transaction
// write failure.
type brokenCommitter struct {
	*history.Store
}

func (b *brokenCommitter) CommitTurn(conversationID, userContent, assistantContent string, audit []history.ToolAuditEntry, snap map[string]places.Place) (string, string, error) {
	return "", "", errors.New("disk full")
}

func newLoopFixture(t *testing.T, client llm.Client, searcher places.Searcher) (*Loop, *trip.Trip, *history.Store) {
	t.Helper()
	dir := t.TempDir()

	trips, err := trip.NewStore(filepath.Join(dir, "trips.db"))
	if err != nil {
		t.Fatalf("trip store: %v", err)
	}
	t.Cleanup(func() { trips.Close() })

	hist, err := history.NewStore(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("history store: %v", err)
	}
	t.Cleanup(func() { hist.Close() })

	tr := &trip.Trip{
		UserID: "user-1",
		Title:  "Lisbon",
		Plan: trip.Plan{Days: []trip.Day{
			{Date: "2026-09-10"},
			{Date: "2026-09-11", Activities: []trip.Activity{
				{ID: "act-1", Name: "Castle visit", Time: "11:00"},
			}},
		}},
	}
	if err := trips.Create(tr); err != nil {
		t.Fatalf("create trip: %v", err)
	}

	registry := tools.NewRegistry(trips, searcher, 5*time.Second, nil)
	loop := NewLoop(client, registry, hist, events.New(), 12, 20, nil)
	return loop, tr, hist
}

func toolUse(id, name string, input map[string]any) llm.ChatResponse {
	return llm.ChatResponse{
		Model:      "test-model",
		StopReason: "tool_use",
		Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{{ID: id, Name: name, Input: input}},
		},
	}
}

func finalAnswer(text string) llm.ChatResponse {
	return llm.ChatResponse{
		Model:      "test-model",
		StopReason: "end_turn",
		Message:    llm.Message{Role: "assistant", Content: text},
	}
}

func TestRunThreeToolTurn(t *testing.T) {
	searcher := &stubSearcher{results: []places.Place{
		{ID: "pl_rest", Name: "Cervejaria Ramiro", Category: "restaurant"},
	}}
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolUse("t1", "get_day_schedule", map[string]any{"day": float64(2)}),
		toolUse("t2", "search_place", map[string]any{"query": "dinner restaurant"}),
		toolUse("t3", "add_activity", map[string]any{
			"day": float64(2), "name": "Dinner at Ramiro", "time": "20:00", "placeId": "pl_rest",
		}),
		finalAnswer("Booked dinner at [pl_rest] for day 2."),
	}}
	loop, tr, hist := newLoopFixture(t, client, searcher)

	sink := &frameCollector{}
	res, err := loop.Run(context.Background(), Request{
		UserID:  "user-1",
		TripID:  tr.ID,
		Message: "Add a restaurant for dinner on day 2",
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.ToolCallsCount != 3 {
		t.Errorf("ToolCallsCount = %d, want 3", res.ToolCallsCount)
	}
	if res.CanContinue {
		t.Error("CanContinue = true for a naturally finished turn")
	}
	if !res.MessagesSaved {
		t.Error("MessagesSaved = false")
	}

	if got := sink.count(FrameDone); got != 1 {
		t.Errorf("done frames = %d, want exactly 1", got)
	}
	if last := sink.frames[len(sink.frames)-1]; last.Type != FrameDone {
		t.Errorf("last frame = %s, want done", last.Type)
	}
	if sink.frames[0].Type != FrameStart {
		t.Errorf("first frame = %s, want start", sink.frames[0].Type)
	}
	if got := sink.count(FrameToolCall); got != 3 {
		t.Errorf("tool_call frames = %d, want 3", got)
	}
	if got := sink.count(FramePlacesContext); got != 1 {
		t.Errorf("places_context frames = %d, want 1", got)
	}

	// Final text is normalized to canonical markup.
	if !strings.Contains(res.AssistantText, places.Markup("pl_rest")) {
		t.Errorf("assistant text not normalized: %q", res.AssistantText)
	}

	// The turn committed: exactly one user and one assistant message.
	msgs, err := hist.Messages(res.ConversationID, 0)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("committed messages = %d, want 2", len(msgs))
	}
	if len(msgs[1].ToolAudit) != 3 {
		t.Errorf("audit entries = %d, want 3", len(msgs[1].ToolAudit))
	}
	if msgs[1].Places["pl_rest"].Name != "Cervejaria Ramiro" {
		t.Errorf("places snapshot = %v", msgs[1].Places)
	}
}

func TestRunValidationErrorFeedsBack(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolUse("t1", "add_activity", map[string]any{"day": float64(1)}), // missing name, time
		finalAnswer("I need a bit more detail to add that."),
	}}
	loop, tr, hist := newLoopFixture(t, client, &stubSearcher{})

	sink := &frameCollector{}
	res, err := loop.Run(context.Background(), Request{
		UserID:  "user-1",
		TripID:  tr.ID,
		Message: "add something to day 1",
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The invocation was counted and produced a synthetic error
	// result, and the turn continued to a final answer.
	if res.ToolCallsCount != 1 {
		t.Errorf("ToolCallsCount = %d, want 1", res.ToolCallsCount)
	}
	var result toolResultPayload
	for _, fr := range sink.frames {
		if fr.Type == FrameToolResult {
			result = fr.Data.(toolResultPayload)
		}
	}
	if !strings.Contains(result.ToolResult, "required parameter") {
		t.Errorf("tool result = %q, want validation error text", result.ToolResult)
	}

	msgs, _ := hist.Messages(res.ConversationID, 0)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	audit := msgs[1].ToolAudit
	if len(audit) != 1 || !audit[0].Rejected {
		t.Errorf("audit = %+v, want one rejected entry", audit)
	}
}

func TestRunIterationCeiling(t *testing.T) {
	// The model never stops asking for tools.
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolUse("t1", "get_day_schedule", map[string]any{"day": float64(1)}),
	}}
	loop, tr, _ := newLoopFixture(t, client, &stubSearcher{})
	loop.maxIterations = 3

	sink := &frameCollector{}
	res, err := loop.Run(context.Background(), Request{
		UserID:  "user-1",
		TripID:  tr.ID,
		Message: "keep checking",
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !res.CanContinue {
		t.Error("CanContinue = false after hitting the ceiling")
	}
	if client.calls != 3 {
		t.Errorf("provider calls = %d, want 3", client.calls)
	}
	if got := strings.Count(res.AssistantText, strings.TrimSpace(continuationHint)); got != 1 {
		t.Errorf("continuation hint appears %d times, want exactly 1", got)
	}
	done := sink.done(t)
	if !done.CanContinue {
		t.Error("done frame CanContinue = false")
	}
	if sink.count(FrameDone) != 1 {
		t.Error("done frame count != 1")
	}
}

func TestRunProviderErrorEmitsErrorFrameNoDone(t *testing.T) {
	loop, tr, _ := newLoopFixture(t, failingClient{}, &stubSearcher{})

	sink := &frameCollector{}
	_, err := loop.Run(context.Background(), Request{
		UserID:  "user-1",
		TripID:  tr.ID,
		Message: "hello",
	}, sink)
	if err == nil {
		t.Fatal("Run succeeded despite provider failure")
	}

	if sink.count(FrameDone) != 0 {
		t.Error("done frame sent for a failed turn")
	}
	if last := sink.frames[len(sink.frames)-1]; last.Type != FrameError {
		t.Errorf("last frame = %s, want error", last.Type)
	}
	// No internal detail leaks into the client-facing message.
	if msg := sink.frames[len(sink.frames)-1].Data.(errorPayload).Error; strings.Contains(msg, "connection reset") {
		t.Errorf("error frame leaks transport detail: %q", msg)
	}
}

func TestRunCommitFailureReportsUnsaved(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		finalAnswer("All set."),
	}}
	loop, tr, hist := newLoopFixture(t, client, &stubSearcher{})
	loop.store = &brokenCommitter{Store: hist}

	sink := &frameCollector{}
	res, err := loop.Run(context.Background(), Request{
		UserID:  "user-1",
		TripID:  tr.ID,
		Message: "hi",
	}, sink)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if res.MessagesSaved {
		t.Error("MessagesSaved = true despite failed commit")
	}
	done := sink.done(t)
	if done.MessagesSaved {
		t.Error("done frame MessagesSaved = true despite failed commit")
	}
	if done.ConversationID == "" {
		t.Error("done frame missing conversation id")
	}
}

func TestRunToolEffectVisibleToNextIteration(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolUse("t1", "add_activity", map[string]any{
			"day": float64(1), "name": "Miradouro sunrise", "time": "07:00",
		}),
		toolUse("t2", "get_day_schedule", map[string]any{"day": float64(1)}),
		finalAnswer("Added and verified."),
	}}
	loop, tr, _ := newLoopFixture(t, client, &stubSearcher{})

	sink := &frameCollector{}
	if _, err := loop.Run(context.Background(), Request{
		UserID:  "user-1",
		TripID:  tr.ID,
		Message: "early start on day 1",
	}, sink); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The second tool re-reads a fresh snapshot and must see the
	// first tool's write.
	var schedule string
	for _, fr := range sink.frames {
		if fr.Type == FrameToolResult {
			p := fr.Data.(toolResultPayload)
			if p.ToolName == "get_day_schedule" {
				schedule = p.ToolResult
			}
		}
	}
	if !strings.Contains(schedule, "Miradouro sunrise") {
		t.Errorf("schedule = %q, missing newly added activity", schedule)
	}
}

func TestRunContinuesConversation(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		finalAnswer("First answer."),
	}}
	loop, tr, _ := newLoopFixture(t, client, &stubSearcher{})

	sink1 := &frameCollector{}
	res1, err := loop.Run(context.Background(), Request{
		UserID: "user-1", TripID: tr.ID, Message: "first",
	}, sink1)
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	client.responses = []llm.ChatResponse{finalAnswer("Second answer.")}
	client.calls = 0
	sink2 := &frameCollector{}
	res2, err := loop.Run(context.Background(), Request{
		UserID: "user-1", TripID: tr.ID,
		ConversationID: res1.ConversationID,
		Message:        "second",
	}, sink2)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if res2.ConversationID != res1.ConversationID {
		t.Errorf("conversation id changed: %s then %s", res1.ConversationID, res2.ConversationID)
	}
}

// recordingClient captures every prompt it is asked to complete.
type recordingClient struct {
	scriptedClient
	prompts [][]llm.Message
}

func (c *recordingClient) ChatStream(ctx context.Context, messages []llm.Message, specs []llm.ToolSpec, cb llm.StreamCallback) (*llm.ChatResponse, error) {
	c.prompts = append(c.prompts, messages)
	return c.scriptedClient.ChatStream(ctx, messages, specs, cb)
}

func TestRunForeignConversationRejected(t *testing.T) {
	client := &recordingClient{scriptedClient: scriptedClient{responses: []llm.ChatResponse{
		finalAnswer("Noted."),
	}}}
	loop, tr, _ := newLoopFixture(t, client, &stubSearcher{})

	// A first user establishes a conversation holding private content.
	res1, err := loop.Run(context.Background(), Request{
		UserID: "user-1", TripID: tr.ID,
		Message: "my passport number is X123",
	}, &frameCollector{})
	if err != nil {
		t.Fatalf("victim Run: %v", err)
	}

	// Another user presents the first user's conversation id. The turn
	// must be rejected before any history reaches the provider.
	client.prompts = nil
	client.calls = 0
	sink := &frameCollector{}
	_, err = loop.Run(context.Background(), Request{
		UserID: "user-2", TripID: tr.ID,
		ConversationID: res1.ConversationID,
		Message:        "what did we talk about?",
	}, sink)
	if err == nil {
		t.Fatal("Run accepted another user's conversation")
	}
	if !errors.Is(err, history.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if len(client.prompts) != 0 {
		for _, m := range client.prompts[0] {
			if strings.Contains(m.Content, "X123") {
				t.Fatalf("private message reached the prompt: %q", m.Content)
			}
		}
		t.Fatal("provider was called for a rejected turn")
	}
	if sink.count(FrameDone) != 0 {
		t.Error("done frame sent for a rejected turn")
	}
	if sink.count(FrameError) != 1 {
		t.Errorf("error frames = %d, want 1", sink.count(FrameError))
	}
}

func TestRunConversationTripMismatchRejected(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		finalAnswer("Done."),
	}}
	loop, tr, _ := newLoopFixture(t, client, &stubSearcher{})

	res1, err := loop.Run(context.Background(), Request{
		UserID: "user-1", TripID: tr.ID, Message: "first",
	}, &frameCollector{})
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// Resuming the conversation against a different trip must fail:
	// the transcript's trip reference would no longer describe the
	// itinerary the tools touch.
	sink := &frameCollector{}
	_, err = loop.Run(context.Background(), Request{
		UserID: "user-1", TripID: "some-other-trip",
		ConversationID: res1.ConversationID,
		Message:        "continue",
	}, sink)
	if !errors.Is(err, history.ErrTripMismatch) {
		t.Fatalf("error = %v, want ErrTripMismatch", err)
	}
	if sink.count(FrameDone) != 0 {
		t.Error("done frame sent for a rejected turn")
	}
}

func TestRunHandlerErrorTextNotMistakenForRejection(t *testing.T) {
	client := &scriptedClient{responses: []llm.ChatResponse{
		toolUse("t1", "flaky_lookup", map[string]any{"query": "castle"}),
		finalAnswer("The lookup service is down."),
	}}
	loop, tr, hist := newLoopFixture(t, client, &stubSearcher{})

	// A handler failure whose message happens to mention a required
	// parameter is still an execution failure, not a validation
	// rejection.
	loop.registry.Register(&tools.Tool{
		Name:       "flaky_lookup",
		Parameters: map[string]any{"type": "object"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New(`upstream error: required parameter "page" missing in collaborator call`)
		},
	})

	res, err := loop.Run(context.Background(), Request{
		UserID: "user-1", TripID: tr.ID, Message: "look it up",
	}, &frameCollector{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs, _ := hist.Messages(res.ConversationID, 0)
	if len(msgs) != 2 {
		t.Fatalf("messages = %d", len(msgs))
	}
	audit := msgs[1].ToolAudit
	if len(audit) != 1 {
		t.Fatalf("audit entries = %d", len(audit))
	}
	if !audit[0].Failed {
		t.Error("handler failure not marked Failed")
	}
	if audit[0].Rejected {
		t.Error("handler failure mislabeled as a validation rejection")
	}
}

func TestTransition(t *testing.T) {
	cases := []struct {
		state     State
		toolCalls int
		want      State
	}{
		{StateRequesting, 0, StateDone},
		{StateRequesting, 1, StateExecuting},
		{StateRequesting, 4, StateExecuting},
		{StateExecuting, 0, StateRequesting},
		{StateDone, 0, StateDone},
	}
	for _, tc := range cases {
		if got := transition(tc.state, tc.toolCalls); got != tc.want {
			t.Errorf("transition(%s, %d) = %s, want %s", tc.state, tc.toolCalls, got, tc.want)
		}
	}
}

// stubSearcher returns the same results for every query.
type stubSearcher struct {
	results []places.Place
}

func (s *stubSearcher) SearchText(ctx context.Context, query string, limit int) ([]places.Place, error) {
	return s.results, nil
}

func (s *stubSearcher) SearchNearby(ctx context.Context, lat, lng float64, category string, limit int) ([]places.Place, error) {
	return s.results, nil
}

func (s *stubSearcher) Details(ctx context.Context, placeID string) (*places.Place, error) {
	for _, p := range s.results {
		if p.ID == placeID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("place not found: %s", placeID)
}
