package history

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/jvelez79/travelr-sub002/internal/places"
)

var transcriptMarkdown = goldmark.New(
	goldmark.WithExtensions(extension.GFM),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// TranscriptMarkdown renders a conversation's messages as a markdown
// document. Place references are expanded to their display names with
// the raw markup preserved in a link title, so the export is readable
// without the place directory.
func TranscriptMarkdown(conv *Conversation, msgs []Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Conversation %s\n\n", conv.ID)
	fmt.Fprintf(&b, "Trip: %s\n\n", conv.TripID)

	for _, m := range msgs {
		switch m.Role {
		case "user":
			b.WriteString("## You\n\n")
		case "assistant":
			b.WriteString("## Assistant\n\n")
		default:
			fmt.Fprintf(&b, "## %s\n\n", m.Role)
		}
		b.WriteString(expandPlaceRefs(m.Content, m.Places))
		b.WriteString("\n\n")
	}
	return b.String()
}

// TranscriptHTML renders the markdown transcript to HTML.
func TranscriptHTML(conv *Conversation, msgs []Message) (string, error) {
	var buf bytes.Buffer
	if err := transcriptMarkdown.Convert([]byte(TranscriptMarkdown(conv, msgs)), &buf); err != nil {
		return "", fmt.Errorf("render transcript: %w", err)
	}
	return buf.String(), nil
}

func expandPlaceRefs(content string, dir map[string]places.Place) string {
	for id, p := range dir {
		content = strings.ReplaceAll(content, places.Markup(id), "**"+p.Name+"**")
	}
	return content
}
