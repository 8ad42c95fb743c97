package streamclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/httpkit"
)

// Client talks to a running assistant server: it starts turn streams
// and fetches durable transcripts.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL, authenticating
// with the given bearer token.
func NewClient(baseURL, token string) *Client {
	// Streams stay open for the whole turn; only the response headers
	// get a deadline.
	transport := httpkit.NewTransport()
	transport.ResponseHeaderTimeout = 30 * time.Second
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(0),
			httpkit.WithTransport(transport),
		),
	}
}

// TurnRequest starts one chat turn.
type TurnRequest struct {
	TripID         string `json:"-"`
	ConversationID string `json:"conversationId,omitempty"`
	Message        string `json:"message"`
}

// StreamTurn posts a chat turn and decodes the response stream,
// calling handle per frame. It returns once the stream is terminal or
// the context is cancelled.
func (c *Client) StreamTurn(ctx context.Context, req TurnRequest, handle func(Event) error) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/trips/%s/assistant", c.baseURL, req.TripID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1024*1024)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	return Decode(resp.Body, handle)
}

// FetchTranscript implements TranscriptFetcher: it returns the content
// of the latest assistant message in the conversation.
func (c *Client) FetchTranscript(ctx context.Context, conversationID string) (string, error) {
	url := fmt.Sprintf("%s/v1/conversations/%s", c.baseURL, conversationID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server error %d: %s", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 2048))
	}

	var payload struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode transcript: %w", err)
	}
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		if payload.Messages[i].Role == "assistant" {
			return payload.Messages[i].Content, nil
		}
	}
	return "", fmt.Errorf("conversation %s has no assistant message", conversationID)
}
