package places

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/httpkit"
)

// Searcher is the location-search collaborator the place tools call.
// The production implementation talks to a Google-Places-style service;
// tests substitute fakes.
type Searcher interface {
	// SearchText finds places matching a free-text query.
	SearchText(ctx context.Context, query string, limit int) ([]Place, error)

	// SearchNearby finds places of a category around a coordinate.
	SearchNearby(ctx context.Context, lat, lng float64, category string, limit int) ([]Place, error)

	// Details fetches full display data for one place id.
	Details(ctx context.Context, placeID string) (*Place, error)
}

// Unavailable is a Searcher for deployments with no place-search
// service configured. Every call fails with the same error, which the
// tool layer surfaces back to the model.
type Unavailable struct{}

var errSearchUnavailable = fmt.Errorf("place search is not configured on this server")

func (Unavailable) SearchText(ctx context.Context, query string, limit int) ([]Place, error) {
	return nil, errSearchUnavailable
}

func (Unavailable) SearchNearby(ctx context.Context, lat, lng float64, category string, limit int) ([]Place, error) {
	return nil, errSearchUnavailable
}

func (Unavailable) Details(ctx context.Context, placeID string) (*Place, error) {
	return nil, errSearchUnavailable
}

// HTTPSearcher implements Searcher against an HTTP place-search service.
type HTTPSearcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHTTPSearcher creates a searcher for the service at baseURL.
func NewHTTPSearcher(baseURL, apiKey string, logger *slog.Logger) *HTTPSearcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSearcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		logger:  logger.With("collaborator", "places"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(15*time.Second),
			httpkit.WithRetry(1, 250*time.Millisecond),
			httpkit.WithLogger(logger),
		),
	}
}

// SearchText implements Searcher.
func (s *HTTPSearcher) SearchText(ctx context.Context, query string, limit int) ([]Place, error) {
	q := url.Values{}
	q.Set("query", query)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Places []Place `json:"places"`
	}
	if err := s.get(ctx, "/v1/places/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Places, nil
}

// SearchNearby implements Searcher.
func (s *HTTPSearcher) SearchNearby(ctx context.Context, lat, lng float64, category string, limit int) ([]Place, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lng", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("category", category)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp struct {
		Places []Place `json:"places"`
	}
	if err := s.get(ctx, "/v1/places/nearby", q, &resp); err != nil {
		return nil, err
	}
	return resp.Places, nil
}

// Details implements Searcher.
func (s *HTTPSearcher) Details(ctx context.Context, placeID string) (*Place, error) {
	q := url.Values{}
	q.Set("id", placeID)

	var resp struct {
		Place *Place `json:"place"`
	}
	if err := s.get(ctx, "/v1/places/details", q, &resp); err != nil {
		return nil, err
	}
	if resp.Place == nil {
		return nil, fmt.Errorf("place not found: %s", placeID)
	}
	return resp.Place, nil
}

func (s *HTTPSearcher) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if s.apiKey != "" {
		req.Header.Set("X-Api-Key", s.apiKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 2048)
		s.logger.Error("place search error", "status", resp.StatusCode, "path", path, "body", errBody)
		return fmt.Errorf("place search error %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
