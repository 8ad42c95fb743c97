package tools

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jvelez79/travelr-sub002/internal/places"
	"github.com/jvelez79/travelr-sub002/internal/trip"
)

type fakeSearcher struct {
	textResults   []places.Place
	nearbyResults []places.Place
	details       map[string]places.Place
	lastQuery     string
}

func (f *fakeSearcher) SearchText(ctx context.Context, query string, limit int) ([]places.Place, error) {
	f.lastQuery = query
	return f.textResults, nil
}

func (f *fakeSearcher) SearchNearby(ctx context.Context, lat, lng float64, category string, limit int) ([]places.Place, error) {
	return f.nearbyResults, nil
}

func (f *fakeSearcher) Details(ctx context.Context, placeID string) (*places.Place, error) {
	p, ok := f.details[placeID]
	if !ok {
		return nil, fmt.Errorf("place not found: %s", placeID)
	}
	return &p, nil
}

func newTestRegistry(t *testing.T) (*Registry, *trip.Store, *trip.Trip, *fakeSearcher) {
	t.Helper()
	store, err := trip.NewStore(filepath.Join(t.TempDir(), "trips.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	tr := &trip.Trip{
		UserID: "user-1",
		Title:  "Test trip",
		Plan: trip.Plan{
			Days: []trip.Day{
				{Date: "2026-09-10", Activities: []trip.Activity{
					{ID: "act-1", Name: "Morning museum", Time: "10:00"},
				}},
				{Date: "2026-09-11"},
			},
		},
	}
	if err := store.Create(tr); err != nil {
		t.Fatalf("Create: %v", err)
	}

	searcher := &fakeSearcher{}
	return NewRegistry(store, searcher, 5*time.Second, nil), store, tr, searcher
}

func scopedCtx(tr *trip.Trip) context.Context {
	return WithTripScope(context.Background(), tr.ID, tr.UserID)
}

func TestExecute_UnknownTool(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)

	_, err := reg.Execute(scopedCtx(tr), "teleport", nil)
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("error = %v, want ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "teleport" {
		t.Errorf("ToolName = %q", unavailable.ToolName)
	}
}

func TestExecute_MissingRequiredParam(t *testing.T) {
	reg, store, tr, _ := newTestRegistry(t)

	_, err := reg.Execute(scopedCtx(tr), "add_activity", map[string]any{"day": float64(1)})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if ve.ToolName != "add_activity" || ve.Field != "name" {
		t.Errorf("ValidationError = %+v, want add_activity/name", ve)
	}
	if !strings.Contains(err.Error(), `"name"`) {
		t.Errorf("error = %v, want missing name", err)
	}

	// The handler must not have run.
	plan, _ := store.Snapshot(tr.ID, tr.UserID)
	if len(plan.Days[0].Activities) != 1 {
		t.Errorf("activities = %d, validation did not gate the handler", len(plan.Days[0].Activities))
	}
}

func TestExecute_EmptyRequiredString(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)

	_, err := reg.Execute(scopedCtx(tr), "search_place", map[string]any{"query": ""})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if !strings.Contains(err.Error(), "empty") {
		t.Errorf("error = %v, want empty-param error", err)
	}
}

func TestExecute_DestructiveRequiresConfirm(t *testing.T) {
	reg, store, tr, _ := newTestRegistry(t)

	result, err := reg.Execute(scopedCtx(tr), "remove_activity", map[string]any{
		"day":        float64(1),
		"activityId": "act-1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.Contains(result, "confirm=true") {
		t.Errorf("result = %q, want confirmation prompt", result)
	}

	plan, _ := store.Snapshot(tr.ID, tr.UserID)
	if len(plan.Days[0].Activities) != 1 {
		t.Error("activity removed without confirmation")
	}

	result, err = reg.Execute(scopedCtx(tr), "remove_activity", map[string]any{
		"day":        float64(1),
		"activityId": "act-1",
		"confirm":    true,
	})
	if err != nil {
		t.Fatalf("confirmed Execute: %v", err)
	}
	if !strings.Contains(result, "Removed") {
		t.Errorf("result = %q", result)
	}

	plan, _ = store.Snapshot(tr.ID, tr.UserID)
	if len(plan.Days[0].Activities) != 0 {
		t.Error("confirmed removal did not persist")
	}
}

func TestExecute_AddThenScheduleVisible(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)
	ctx := scopedCtx(tr)

	if _, err := reg.Execute(ctx, "add_activity", map[string]any{
		"day":  float64(2),
		"name": "Sunset viewpoint",
		"time": "19:00",
	}); err != nil {
		t.Fatalf("add_activity: %v", err)
	}

	// The next invocation starts from a fresh snapshot and must see
	// the mutation the previous one made.
	result, err := reg.Execute(ctx, "get_day_schedule", map[string]any{"day": float64(2)})
	if err != nil {
		t.Fatalf("get_day_schedule: %v", err)
	}
	if !strings.Contains(result, "Sunset viewpoint") || !strings.Contains(result, "19:00") {
		t.Errorf("result = %q", result)
	}
}

func TestExecute_DayOutOfRange(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)

	_, err := reg.Execute(scopedCtx(tr), "get_day_schedule", map[string]any{"day": float64(9)})
	if err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("error = %v, want out-of-range", err)
	}
}

func TestExecute_NoTripScope(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	_, err := reg.Execute(context.Background(), "get_day_schedule", map[string]any{"day": float64(1)})
	if err == nil || !strings.Contains(err.Error(), "no trip bound") {
		t.Fatalf("error = %v, want unbound-trip error", err)
	}
}

func TestExecute_SearchEmitsPlaceBlock(t *testing.T) {
	reg, _, tr, searcher := newTestRegistry(t)
	searcher.textResults = []places.Place{
		{ID: "pl_cafe", Name: "Café A Brasileira", Category: "cafe", Rating: 4.4},
	}

	result, err := reg.Execute(scopedCtx(tr), "search_place", map[string]any{"query": "historic cafe"})
	if err != nil {
		t.Fatalf("search_place: %v", err)
	}

	dir := places.NewDirectory()
	_, added := places.Extract(result, dir)
	if len(added) != 1 || added[0].ID != "pl_cafe" {
		t.Errorf("extracted = %v, want pl_cafe", added)
	}
}

func TestExecute_TravelTime(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)

	result, err := reg.Execute(scopedCtx(tr), "travel_time", map[string]any{
		"fromLat": 38.6916, "fromLng": -9.2160,
		"toLat": 38.7077, "toLng": -9.1366,
	})
	if err != nil {
		t.Fatalf("travel_time: %v", err)
	}
	if !strings.Contains(result, "distanceKm") || !strings.Contains(result, "carMinutes") {
		t.Errorf("result = %q", result)
	}
}

func TestExecute_AccommodationLifecycle(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)
	ctx := scopedCtx(tr)

	result, err := reg.Execute(ctx, "add_accommodation", map[string]any{
		"name":     "Hotel Mundial",
		"checkIn":  "2026-09-10",
		"checkOut": "2026-09-12",
	})
	if err != nil {
		t.Fatalf("add_accommodation: %v", err)
	}
	if !strings.Contains(result, "Hotel Mundial") {
		t.Errorf("result = %q", result)
	}

	_, err = reg.Execute(ctx, "add_accommodation", map[string]any{
		"name":     "Bad dates",
		"checkIn":  "2026-09-12",
		"checkOut": "2026-09-12",
	})
	if err == nil {
		t.Error("same-day checkOut accepted")
	}

	result, err = reg.Execute(ctx, "list_accommodations", nil)
	if err != nil {
		t.Fatalf("list_accommodations: %v", err)
	}
	if !strings.Contains(result, "Hotel Mundial") {
		t.Errorf("list = %q", result)
	}
}

func TestExecute_Timeout(t *testing.T) {
	reg, _, tr, _ := newTestRegistry(t)
	reg.Register(&Tool{
		Name:        "slow_tool",
		Description: "sleeps past its deadline",
		Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		Timeout:     20 * time.Millisecond,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(2 * time.Second):
				return "finished", nil
			}
		},
	})

	_, err := reg.Execute(scopedCtx(tr), "slow_tool", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestSpecsSortedAndComplete(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)

	specs := reg.Specs()
	want := []string{
		"add_accommodation", "add_activity", "ask_user", "clear_day",
		"get_day_schedule", "get_place_details", "list_accommodations",
		"list_saved_ideas", "move_activity", "remove_accommodation",
		"remove_activity", "remove_saved_idea", "save_idea",
		"search_accommodation", "search_nearby", "search_place",
		"travel_time", "update_accommodation", "update_activity",
	}
	if len(specs) != len(want) {
		names := make([]string, len(specs))
		for i, s := range specs {
			names[i] = s.Name
		}
		t.Fatalf("specs = %v", names)
	}
	for i, s := range specs {
		if s.Name != want[i] {
			t.Errorf("specs[%d] = %q, want %q", i, s.Name, want[i])
		}
	}
}
