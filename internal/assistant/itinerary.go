package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/events"
	"github.com/jvelez79/travelr-sub002/internal/llm"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

const itineraryPrompt = `You generate day-by-day trip timelines. Given the trip plan below, produce a timeline entry for every activity and a short day summary entry for each day.

Output format: one JSON object per line, nothing else. Each object:
{"day": <1-based day number>, "date": "YYYY-MM-DD", "time": "HH:MM or empty", "title": "...", "description": "..."}

Order entries by day, then time. Do not wrap the output in a code fence.`

// Generator streams a generated itinerary timeline for a trip, one
// timeline_entry frame per parsed line of model output.
type Generator struct {
	llm    llm.Client
	trips  *trip.Store
	bus    *events.Bus
	logger *slog.Logger
}

// NewGenerator creates an itinerary generator.
func NewGenerator(client llm.Client, trips *trip.Store, bus *events.Bus, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{llm: client, trips: trips, bus: bus, logger: logger}
}

// Generate runs one itinerary generation stream. Entries are emitted
// as soon as each output line completes; the stream ends with a done
// frame carrying the entry count.
func (g *Generator) Generate(ctx context.Context, tripID, userID string, sink Sink) error {
	started := time.Now()
	logger := g.logger.With("trip_id", tripID)

	plan, err := g.trips.Snapshot(tripID, userID)
	if err != nil {
		_ = sink.Send(Frame{Type: FrameError, Data: errorPayload{Error: "trip not found"}})
		return fmt.Errorf("load trip: %w", err)
	}

	planJSON, err := json.Marshal(plan)
	if err != nil {
		_ = sink.Send(Frame{Type: FrameError, Data: errorPayload{Error: "itinerary generation failed"}})
		return fmt.Errorf("marshal plan: %w", err)
	}

	if err := sink.Send(Frame{Type: FrameStart, Data: startPayload{}}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}

	g.bus.Publish(events.Event{
		Timestamp: started,
		Source:    events.SourceItinerary,
		Kind:      events.KindRequestStart,
		Data:      map[string]any{"trip_id": tripID},
	})

	messages := []llm.Message{
		{Role: "system", Content: itineraryPrompt},
		{Role: "user", Content: "Trip plan:\n" + string(planJSON)},
	}

	var (
		buf     strings.Builder
		emitted int
		sendErr error
	)
	emitLine := func(line string) {
		line = strings.TrimSpace(line)
		if line == "" || sendErr != nil {
			return
		}
		var entry TimelineEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			logger.Warn("skipping unparseable timeline line", "line", line)
			return
		}
		if err := sink.Send(Frame{Type: FrameTimelineEntry, Data: entry}); err != nil {
			sendErr = err
			return
		}
		emitted++
	}

	_, err = g.llm.ChatStream(ctx, messages, nil, func(ev llm.StreamEvent) {
		if ev.Kind != llm.KindTextDelta {
			return
		}
		buf.WriteString(ev.Text)
		for {
			text := buf.String()
			nl := strings.IndexByte(text, '\n')
			if nl < 0 {
				break
			}
			line := text[:nl]
			buf.Reset()
			buf.WriteString(text[nl+1:])
			emitLine(line)
		}
	})
	if err != nil {
		_ = sink.Send(Frame{Type: FrameError, Data: errorPayload{Error: "itinerary generation failed"}})
		return fmt.Errorf("provider call: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("send timeline entry: %w", sendErr)
	}
	emitLine(buf.String())
	if sendErr != nil {
		return fmt.Errorf("send timeline entry: %w", sendErr)
	}

	if err := sink.Send(Frame{Type: FrameDone, Data: donePayload{
		ToolCallsCount: 0,
		MessagesSaved:  true,
		ConversationID: "",
		CanContinue:    false,
	}}); err != nil {
		return fmt.Errorf("send done: %w", err)
	}

	g.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceItinerary,
		Kind:      events.KindRequestComplete,
		Data: map[string]any{
			"trip_id":    tripID,
			"entries":    emitted,
			"elapsed_ms": time.Since(started).Milliseconds(),
		},
	})
	logger.Info("itinerary generated", "entries", emitted)
	return nil
}
