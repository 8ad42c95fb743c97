package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jvelez79/travelr-sub002/internal/places"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

const defaultSearchLimit = 5

func (r *Registry) registerPlaceTools() {
	r.Register(&Tool{
		Name:        "search_place",
		Description: "Search for places (attractions, restaurants, museums) by free-text query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for, e.g. 'seafood restaurant near Alfama'",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchPlace,
	})

	r.Register(&Tool{
		Name:        "search_nearby",
		Description: "Find places of a category around a coordinate.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"latitude": map[string]any{
					"type":        "number",
					"description": "Latitude of the center point",
				},
				"longitude": map[string]any{
					"type":        "number",
					"description": "Longitude of the center point",
				},
				"category": map[string]any{
					"type":        "string",
					"description": "Category such as restaurant, museum, park, cafe",
				},
			},
			"required": []string{"latitude", "longitude", "category"},
		},
		Handler: r.handleSearchNearby,
	})

	r.Register(&Tool{
		Name:        "get_place_details",
		Description: "Get full details for a place id returned by a previous search.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"placeId": map[string]any{
					"type":        "string",
					"description": "The place id",
				},
			},
			"required": []string{"placeId"},
		},
		Handler: r.handleGetPlaceDetails,
	})

	r.Register(&Tool{
		Name:        "travel_time",
		Description: "Estimate travel time between two coordinates. The result is approximate.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"fromLat": map[string]any{"type": "number"},
				"fromLng": map[string]any{"type": "number"},
				"toLat":   map[string]any{"type": "number"},
				"toLng":   map[string]any{"type": "number"},
				"mode": map[string]any{
					"type":        "string",
					"description": "Optional: walk or car; omit for both",
				},
			},
			"required": []string{"fromLat", "fromLng", "toLat", "toLng"},
		},
		Handler: r.handleTravelTime,
	})

	r.Register(&Tool{
		Name:        "search_accommodation",
		Description: "Search for hotels and other lodging by free-text query.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for, e.g. 'boutique hotel Baixa'",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleSearchAccommodation,
	})
}

func (r *Registry) handleSearchPlace(ctx context.Context, args map[string]any) (string, error) {
	if r.searcher == nil {
		return "", fmt.Errorf("place search not configured")
	}
	query := stringArg(args, "query")

	results, err := r.searcher.SearchText(ctx, query, defaultSearchLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No places found for %q.", query), nil
	}
	return fmt.Sprintf("Found %d places for %q:\n%s", len(results), query, places.FormatResults(results)), nil
}

func (r *Registry) handleSearchNearby(ctx context.Context, args map[string]any) (string, error) {
	if r.searcher == nil {
		return "", fmt.Errorf("place search not configured")
	}
	lat, okLat := floatArg(args, "latitude")
	lng, okLng := floatArg(args, "longitude")
	if !okLat || !okLng {
		return "", fmt.Errorf("latitude and longitude must be numbers")
	}
	category := stringArg(args, "category")

	results, err := r.searcher.SearchNearby(ctx, lat, lng, category, defaultSearchLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No %s found near %.4f, %.4f.", category, lat, lng), nil
	}
	return fmt.Sprintf("Found %d %s nearby:\n%s", len(results), category, places.FormatResults(results)), nil
}

func (r *Registry) handleGetPlaceDetails(ctx context.Context, args map[string]any) (string, error) {
	if r.searcher == nil {
		return "", fmt.Errorf("place search not configured")
	}
	placeID := stringArg(args, "placeId")

	p, err := r.searcher.Details(ctx, placeID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Details for %s:\n%s", p.Name, places.FormatResults([]places.Place{*p})), nil
}

func (r *Registry) handleTravelTime(ctx context.Context, args map[string]any) (string, error) {
	fromLat, ok1 := floatArg(args, "fromLat")
	fromLng, ok2 := floatArg(args, "fromLng")
	toLat, ok3 := floatArg(args, "toLat")
	toLng, ok4 := floatArg(args, "toLng")
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return "", fmt.Errorf("all four coordinates must be numbers")
	}

	est := trip.EstimateTravel(fromLat, fromLng, toLat, toLng)
	switch stringArg(args, "mode") {
	case "walk":
		if est.WalkMinutes == 0 {
			return fmt.Sprintf("Approximately %.1f km; too far to walk.", est.DistanceKm), nil
		}
		return fmt.Sprintf("Approximately %.1f km, about %d minutes on foot.", est.DistanceKm, est.WalkMinutes), nil
	case "car":
		return fmt.Sprintf("Approximately %.1f km, about %d minutes by car.", est.DistanceKm, est.CarMinutes), nil
	}
	data, err := json.Marshal(est)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Approximate travel estimate: %s", data), nil
}

func (r *Registry) handleSearchAccommodation(ctx context.Context, args map[string]any) (string, error) {
	if r.searcher == nil {
		return "", fmt.Errorf("place search not configured")
	}
	query := stringArg(args, "query")

	results, err := r.searcher.SearchText(ctx, query+" lodging", defaultSearchLimit)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return fmt.Sprintf("No accommodation found for %q.", query), nil
	}
	return fmt.Sprintf("Found %d lodging options for %q:\n%s", len(results), query, places.FormatResults(results)), nil
}
