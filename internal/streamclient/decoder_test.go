package streamclient

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func frames(parts ...string) string {
	return strings.Join(parts, "")
}

func frame(eventType, data string) string {
	return "event: " + eventType + "\ndata: " + data + "\n\n"
}

func collect(t *testing.T, stream string) []Event {
	t.Helper()
	var out []Event
	if err := Decode(strings.NewReader(stream), func(ev Event) error {
		out = append(out, ev)
		return nil
	}); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	return out
}

func TestDecodeFullTurn(t *testing.T) {
	stream := frames(
		frame("start", "{}"),
		frame("text", `{"content":"Looking at day 2"}`),
		frame("tool_call", `{"toolName":"get_day_schedule","toolInput":{"day":2}}`),
		frame("tool_result", `{"toolName":"get_day_schedule","toolResult":"Day 2: empty"}`),
		frame("places_context", `{"placesContext":{"pl_1":{"id":"pl_1","name":"Time Out Market"}}}`),
		frame("text", `{"content":" — added."}`),
		frame("done", `{"conversationId":"conv-9","toolCallsCount":1,"canContinue":false,"messagesSaved":true}`),
	)

	events := collect(t, stream)
	if len(events) != 7 {
		t.Fatalf("events = %d, want 7", len(events))
	}
	if events[0].Type != EventStart {
		t.Errorf("first = %s", events[0].Type)
	}
	if events[2].Type != EventToolCall || events[2].ToolName != "get_day_schedule" {
		t.Errorf("tool_call = %+v", events[2])
	}
	if day, ok := events[2].ToolInput["day"].(float64); !ok || day != 2 {
		t.Errorf("tool input = %v", events[2].ToolInput)
	}
	if events[4].Places["pl_1"].Name != "Time Out Market" {
		t.Errorf("places = %v", events[4].Places)
	}
	last := events[len(events)-1]
	if last.Type != EventDone || last.Done == nil {
		t.Fatalf("last = %+v", last)
	}
	if last.Done.ConversationID != "conv-9" || !last.Done.MessagesSaved {
		t.Errorf("done = %+v", last.Done)
	}
}

func TestDecodeStopsAfterDone(t *testing.T) {
	stream := frames(
		frame("done", `{"conversationId":"conv-1","messagesSaved":true}`),
		frame("text", `{"content":"should never be delivered"}`),
	)

	events := collect(t, stream)
	if len(events) != 1 || events[0].Type != EventDone {
		t.Fatalf("events = %+v, want done only", events)
	}
}

func TestDecodeErrorFrameTerminal(t *testing.T) {
	stream := frames(
		frame("start", "{}"),
		frame("error", `{"error":"provider call failed"}`),
	)

	events := collect(t, stream)
	last := events[len(events)-1]
	if last.Type != EventError || last.Err != "provider call failed" {
		t.Errorf("last = %+v", last)
	}
}

func TestDecodeIgnoresKeepalives(t *testing.T) {
	stream := ": keepalive\n\n" + frame("text", `{"content":"hi"}`) + frame("done", `{"conversationId":"c"}`)

	events := collect(t, stream)
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
}

func TestDecodeTimelineEntry(t *testing.T) {
	stream := frames(
		frame("timeline_entry", `{"day":1,"time":"10:00","title":"Livraria Lello"}`),
		frame("done", `{"conversationId":""}`),
	)

	events := collect(t, stream)
	if events[0].Timeline == nil || events[0].Timeline.Title != "Livraria Lello" {
		t.Errorf("timeline = %+v", events[0].Timeline)
	}
}

func TestDecodeHandlerErrorAborts(t *testing.T) {
	stream := frames(
		frame("text", `{"content":"a"}`),
		frame("text", `{"content":"b"}`),
	)

	boom := errors.New("stop")
	seen := 0
	err := Decode(strings.NewReader(stream), func(ev Event) error {
		seen++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if seen != 1 {
		t.Errorf("handler called %d times, want 1", seen)
	}
}

func TestDecodeUnknownFrame(t *testing.T) {
	err := Decode(strings.NewReader(frame("mystery", "{}")), func(ev Event) error { return nil })
	if err == nil || !strings.Contains(err.Error(), "unknown frame") {
		t.Fatalf("err = %v", err)
	}
}

type fakeFetcher struct {
	transcript string
	err        error
	fetchedID  string
}

func (f *fakeFetcher) FetchTranscript(ctx context.Context, conversationID string) (string, error) {
	f.fetchedID = conversationID
	return f.transcript, f.err
}

func TestReconcilerUsesDoneFrameID(t *testing.T) {
	fetcher := &fakeFetcher{transcript: "the durable answer"}
	r := NewReconciler(fetcher)

	r.Observe(Event{Type: EventText, Text: "partial "})
	r.Observe(Event{Type: EventText, Text: "answer"})
	// The server created the conversation during the turn; the client
	// never knew this id beforehand.
	r.Observe(Event{Type: EventDone, Done: &Done{ConversationID: "conv-new", MessagesSaved: true}})

	text, durable, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !durable || text != "the durable answer" {
		t.Errorf("text = %q, durable = %v", text, durable)
	}
	if fetcher.fetchedID != "conv-new" {
		t.Errorf("fetched id = %q, want conv-new", fetcher.fetchedID)
	}
}

func TestReconcilerKeepsOptimisticWhenUnsaved(t *testing.T) {
	fetcher := &fakeFetcher{transcript: "should not be used"}
	r := NewReconciler(fetcher)

	r.Observe(Event{Type: EventText, Text: "streamed text"})
	r.Observe(Event{Type: EventDone, Done: &Done{ConversationID: "conv-1", MessagesSaved: false}})

	text, durable, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if durable {
		t.Error("durable = true for an unsaved turn")
	}
	if text != "streamed text" {
		t.Errorf("text = %q, want optimistic buffer", text)
	}
	if fetcher.fetchedID != "" {
		t.Error("transcript fetched despite messagesSaved=false")
	}
}

func TestReconcilerFetchFailureFallsBack(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("server gone")}
	r := NewReconciler(fetcher)

	r.Observe(Event{Type: EventText, Text: "local copy"})
	r.Observe(Event{Type: EventDone, Done: &Done{ConversationID: "conv-1", MessagesSaved: true}})

	text, durable, err := r.Resolve(context.Background())
	if err == nil {
		t.Fatal("Resolve succeeded despite fetch failure")
	}
	if durable || text != "local copy" {
		t.Errorf("text = %q, durable = %v; want optimistic fallback", text, durable)
	}
}
