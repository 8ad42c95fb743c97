package streamclient

import (
	"context"
	"fmt"
	"strings"
)

// TranscriptFetcher loads the durable transcript of a conversation.
// The API client implements it; tests substitute fakes.
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, conversationID string) (string, error)
}

// Reconciler accumulates optimistic text from stream frames and, on
// completion, resolves the authoritative assistant text. The done
// frame's conversation id is the reconciliation key — never an id the
// client captured earlier — because the server may have created the
// conversation lazily during the turn.
type Reconciler struct {
	fetcher    TranscriptFetcher
	optimistic strings.Builder
	done       *Done
}

// NewReconciler creates a reconciler backed by fetcher.
func NewReconciler(fetcher TranscriptFetcher) *Reconciler {
	return &Reconciler{fetcher: fetcher}
}

// Observe feeds one decoded event into the reconciler.
func (r *Reconciler) Observe(ev Event) {
	switch ev.Type {
	case EventText:
		r.optimistic.WriteString(ev.Text)
	case EventDone:
		r.done = ev.Done
	}
}

// Optimistic returns the text accumulated so far.
func (r *Reconciler) Optimistic() string {
	return r.optimistic.String()
}

// Resolve returns the assistant text the client should display after
// the stream closes. When the turn was saved, the durable transcript
// is re-fetched keyed by the done frame's conversation id; when it was
// not saved (or no done frame arrived), the optimistic buffer is kept
// so locally streamed text is not lost.
func (r *Reconciler) Resolve(ctx context.Context) (text string, durable bool, err error) {
	if r.done == nil || !r.done.MessagesSaved {
		return r.optimistic.String(), false, nil
	}
	transcript, err := r.fetcher.FetchTranscript(ctx, r.done.ConversationID)
	if err != nil {
		return r.optimistic.String(), false, fmt.Errorf("fetch transcript: %w", err)
	}
	return transcript, true, nil
}

// ConversationID returns the id carried by the done frame, or empty if
// the stream has not completed.
func (r *Reconciler) ConversationID() string {
	if r.done == nil {
		return ""
	}
	return r.done.ConversationID
}
