// Package streamclient consumes the assistant push channel: it decodes
// SSE frames into typed events and reconciles optimistically rendered
// text against the durable transcript once a turn completes.
package streamclient

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// EventType mirrors the server's frame types.
type EventType string

const (
	EventStart         EventType = "start"
	EventText          EventType = "text"
	EventToolCall      EventType = "tool_call"
	EventToolResult    EventType = "tool_result"
	EventPlacesContext EventType = "places_context"
	EventTimelineEntry EventType = "timeline_entry"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Place is the display data carried by places_context events.
type Place struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	Address  string `json:"address,omitempty"`
}

// Done is the payload of the terminal done event.
type Done struct {
	ConversationID string `json:"conversationId"`
	ToolCallsCount int    `json:"toolCallsCount"`
	CanContinue    bool   `json:"canContinue"`
	MessagesSaved  bool   `json:"messagesSaved"`
}

// TimelineEntry is one itinerary generation result item.
type TimelineEntry struct {
	Day         int    `json:"day"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Event is one decoded frame. Fields beyond Type are populated
// according to the frame's payload.
type Event struct {
	Type EventType

	Text       string
	ToolName   string
	ToolInput  map[string]any
	ToolResult string
	Places     map[string]Place
	Timeline   *TimelineEntry
	Done       *Done
	Err        string
}

// Decode reads SSE frames from r and calls handle once per frame, in
// order, until the stream ends. A done or error frame is terminal:
// decoding stops after delivering it. A non-nil error from handle
// aborts decoding.
func Decode(r io.Reader, handle func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType, data string
	flush := func() (terminal bool, err error) {
		if eventType == "" {
			return false, nil
		}
		ev, err := parseEvent(eventType, data)
		eventType, data = "", ""
		if err != nil {
			return false, err
		}
		if err := handle(ev); err != nil {
			return false, err
		}
		return ev.Type == EventDone || ev.Type == EventError, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			terminal, err := flush()
			if err != nil {
				return err
			}
			if terminal {
				return nil
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		case strings.HasPrefix(line, ":"):
			// keepalive comment
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	// Stream closed without a blank line after the last frame.
	if _, err := flush(); err != nil {
		return err
	}
	return nil
}

func parseEvent(eventType, data string) (Event, error) {
	ev := Event{Type: EventType(eventType)}
	switch ev.Type {
	case EventStart:
		// no payload
	case EventText:
		var p struct {
			Text string `json:"content"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode text frame: %w", err)
		}
		ev.Text = p.Text
	case EventToolCall:
		var p struct {
			ToolName  string         `json:"toolName"`
			ToolInput map[string]any `json:"toolInput"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode tool_call frame: %w", err)
		}
		ev.ToolName, ev.ToolInput = p.ToolName, p.ToolInput
	case EventToolResult:
		var p struct {
			ToolName   string `json:"toolName"`
			ToolResult string `json:"toolResult"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode tool_result frame: %w", err)
		}
		ev.ToolName, ev.ToolResult = p.ToolName, p.ToolResult
	case EventPlacesContext:
		var p struct {
			PlacesContext map[string]Place `json:"placesContext"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode places_context frame: %w", err)
		}
		ev.Places = p.PlacesContext
	case EventTimelineEntry:
		var p TimelineEntry
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode timeline_entry frame: %w", err)
		}
		ev.Timeline = &p
	case EventDone:
		var p Done
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode done frame: %w", err)
		}
		ev.Done = &p
	case EventError:
		var p struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return ev, fmt.Errorf("decode error frame: %w", err)
		}
		ev.Err = p.Error
	default:
		return ev, fmt.Errorf("unknown frame type %q", eventType)
	}
	return ev, nil
}
