package assistant

import "github.com/jvelez79/travelr-sub002/internal/places"

// FrameType names one frame on the push channel.
type FrameType string

// Push channel frame types. A completed turn carries exactly one
// FrameDone, always last before the channel closes. A failed turn
// carries FrameError last instead.
const (
	FrameStart         FrameType = "start"
	FrameText          FrameType = "text"
	FrameToolCall      FrameType = "tool_call"
	FrameToolResult    FrameType = "tool_result"
	FramePlacesContext FrameType = "places_context"
	FrameTimelineEntry FrameType = "timeline_entry"
	FrameDone          FrameType = "done"
	FrameError         FrameType = "error"
)

// Frame is one server-to-client event. Data marshals to the frame's
// JSON body.
type Frame struct {
	Type FrameType
	Data any
}

// Sink receives frames as the loop produces them. A Send error means
// the client is gone; the loop abandons the turn without rollback.
type Sink interface {
	Send(Frame) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Frame) error

// Send implements Sink.
func (f SinkFunc) Send(fr Frame) error { return f(fr) }

// Frame payloads.

type startPayload struct{}

type textPayload struct {
	Text string `json:"content"`
}

type toolCallPayload struct {
	ToolName  string         `json:"toolName"`
	ToolInput map[string]any `json:"toolInput"`
}

type toolResultPayload struct {
	ToolName   string `json:"toolName"`
	ToolResult string `json:"toolResult"`
}

type placesContextPayload struct {
	PlacesContext map[string]places.Place `json:"placesContext"`
}

type donePayload struct {
	ConversationID string `json:"conversationId"`
	ToolCallsCount int    `json:"toolCallsCount"`
	CanContinue    bool   `json:"canContinue"`
	MessagesSaved  bool   `json:"messagesSaved"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// TimelineEntry is one generated itinerary timeline item.
type TimelineEntry struct {
	Day         int    `json:"day"`
	Date        string `json:"date,omitempty"`
	Time        string `json:"time,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}
