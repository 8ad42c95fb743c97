package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jvelez79/travelr-sub002/internal/trip"
)

func (r *Registry) registerTripTools() {
	r.Register(&Tool{
		Name:        "get_day_schedule",
		Description: "Get the activities scheduled on one day of the trip. Day numbers are 1-based.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"day": map[string]any{
					"type":        "integer",
					"description": "The day number (1 = first day of the trip)",
				},
			},
			"required": []string{"day"},
		},
		Handler: r.handleGetDaySchedule,
	})

	r.Register(&Tool{
		Name:        "add_activity",
		Description: "Add an activity to a day of the trip.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"day": map[string]any{
					"type":        "integer",
					"description": "The day number to add to",
				},
				"name": map[string]any{
					"type":        "string",
					"description": "Name of the activity",
				},
				"time": map[string]any{
					"type":        "string",
					"description": "Start time as HH:MM",
				},
				"address": map[string]any{
					"type":        "string",
					"description": "Optional street address",
				},
				"placeId": map[string]any{
					"type":        "string",
					"description": "Optional place id from a search result",
				},
				"notes": map[string]any{
					"type":        "string",
					"description": "Optional free-form notes",
				},
			},
			"required": []string{"day", "name", "time"},
		},
		Handler: r.handleAddActivity,
	})

	r.Register(&Tool{
		Name:        "update_activity",
		Description: "Update fields of an existing activity. Only provided fields change.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"day": map[string]any{
					"type":        "integer",
					"description": "The day the activity is on",
				},
				"activityId": map[string]any{
					"type":        "string",
					"description": "Id of the activity to update",
				},
				"name":    map[string]any{"type": "string"},
				"time":    map[string]any{"type": "string"},
				"address": map[string]any{"type": "string"},
				"notes":   map[string]any{"type": "string"},
			},
			"required": []string{"day", "activityId"},
		},
		Handler: r.handleUpdateActivity,
	})

	r.Register(&Tool{
		Name:        "move_activity",
		Description: "Move an activity from one day to another.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"day": map[string]any{
					"type":        "integer",
					"description": "The day the activity is currently on",
				},
				"activityId": map[string]any{
					"type":        "string",
					"description": "Id of the activity to move",
				},
				"toDay": map[string]any{
					"type":        "integer",
					"description": "The day to move it to",
				},
				"toTime": map[string]any{
					"type":        "string",
					"description": "Optional new start time as HH:MM",
				},
			},
			"required": []string{"day", "activityId", "toDay"},
		},
		Handler: r.handleMoveActivity,
	})

	r.Register(&Tool{
		Name:        "remove_activity",
		Description: "Remove an activity from a day. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"day": map[string]any{
					"type":        "integer",
					"description": "The day the activity is on",
				},
				"activityId": map[string]any{
					"type":        "string",
					"description": "Id of the activity to remove",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true after the user has agreed",
				},
			},
			"required": []string{"day", "activityId"},
		},
		Destructive: true,
		Handler:     r.handleRemoveActivity,
	})

	r.Register(&Tool{
		Name:        "clear_day",
		Description: "Remove every activity from a day. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"day": map[string]any{
					"type":        "integer",
					"description": "The day to clear",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true after the user has agreed",
				},
			},
			"required": []string{"day"},
		},
		Destructive: true,
		Handler:     r.handleClearDay,
	})

	r.Register(&Tool{
		Name:        "list_saved_ideas",
		Description: "List the ideas the user has saved for this trip but not yet scheduled.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListSavedIdeas,
	})

	r.Register(&Tool{
		Name:        "save_idea",
		Description: "Save an idea for later without putting it on a day.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Name of the idea",
				},
				"placeId": map[string]any{
					"type":        "string",
					"description": "Optional place id from a search result",
				},
				"notes": map[string]any{"type": "string"},
			},
			"required": []string{"name"},
		},
		Handler: r.handleSaveIdea,
	})

	r.Register(&Tool{
		Name:        "remove_saved_idea",
		Description: "Remove a saved idea.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"ideaId": map[string]any{
					"type":        "string",
					"description": "Id of the idea to remove",
				},
			},
			"required": []string{"ideaId"},
		},
		Handler: r.handleRemoveSavedIdea,
	})

	r.Register(&Tool{
		Name:        "list_accommodations",
		Description: "List the accommodations booked for this trip.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
		Handler: r.handleListAccommodations,
	})

	r.Register(&Tool{
		Name:        "add_accommodation",
		Description: "Add an accommodation with check-in and check-out dates.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name": map[string]any{
					"type":        "string",
					"description": "Name of the accommodation",
				},
				"checkIn": map[string]any{
					"type":        "string",
					"description": "Check-in date, YYYY-MM-DD",
				},
				"checkOut": map[string]any{
					"type":        "string",
					"description": "Check-out date, YYYY-MM-DD",
				},
				"address": map[string]any{
					"type":        "string",
					"description": "Optional street address",
				},
				"placeId": map[string]any{
					"type":        "string",
					"description": "Optional place id from a search result",
				},
				"notes": map[string]any{"type": "string"},
			},
			"required": []string{"name", "checkIn", "checkOut"},
		},
		Handler: r.handleAddAccommodation,
	})

	r.Register(&Tool{
		Name:        "update_accommodation",
		Description: "Update fields of an existing accommodation. Only provided fields change.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"accommodationId": map[string]any{
					"type":        "string",
					"description": "Id of the accommodation to update",
				},
				"name":     map[string]any{"type": "string"},
				"checkIn":  map[string]any{"type": "string"},
				"checkOut": map[string]any{"type": "string"},
				"notes":    map[string]any{"type": "string"},
			},
			"required": []string{"accommodationId"},
		},
		Handler: r.handleUpdateAccommodation,
	})

	r.Register(&Tool{
		Name:        "remove_accommodation",
		Description: "Remove an accommodation. Destructive: requires confirm=true.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"accommodationId": map[string]any{
					"type":        "string",
					"description": "Id of the accommodation to remove",
				},
				"confirm": map[string]any{
					"type":        "boolean",
					"description": "Must be true after the user has agreed",
				},
			},
			"required": []string{"accommodationId"},
		},
		Destructive: true,
		Handler:     r.handleRemoveAccommodation,
	})

	r.Register(&Tool{
		Name:        "ask_user",
		Description: "Ask the user a clarifying question when you cannot proceed without their input. Ends your turn.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The question to put to the user",
				},
			},
			"required": []string{"question"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return "Question relayed to the user. Wait for their reply before doing anything else.", nil
		},
	})
}

func (r *Registry) handleGetDaySchedule(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	day, _ := intArg(args, "day")

	plan, err := r.trips.Snapshot(scope.TripID, scope.UserID)
	if err != nil {
		return "", err
	}
	idx, ok := plan.DayIndex(day)
	if !ok {
		return "", fmt.Errorf("day %d is out of range: the trip has %d days", day, plan.DayCount())
	}

	d := plan.Days[idx]
	var b strings.Builder
	fmt.Fprintf(&b, "Day %d (%s): %d activities\n", day, d.Date, len(d.Activities))
	for _, a := range d.Activities {
		fmt.Fprintf(&b, "- %s", a.Name)
		if a.Time != "" {
			fmt.Fprintf(&b, " at %s", a.Time)
		}
		fmt.Fprintf(&b, " (id: %s)", a.ID)
		if a.Notes != "" {
			fmt.Fprintf(&b, " — %s", a.Notes)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (r *Registry) handleAddActivity(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	day, _ := intArg(args, "day")

	activity := trip.Activity{
		ID:      trip.NewID(),
		Name:    stringArg(args, "name"),
		Time:    stringArg(args, "time"),
		Address: stringArg(args, "address"),
		PlaceID: stringArg(args, "placeId"),
		Notes:   stringArg(args, "notes"),
	}

	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		idx, ok := p.DayIndex(day)
		if !ok {
			return fmt.Errorf("day %d is out of range: the trip has %d days", day, p.DayCount())
		}
		p.Days[idx].Activities = append(p.Days[idx].Activities, activity)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added %q to day %d (id: %s).", activity.Name, day, activity.ID), nil
}

func (r *Registry) handleUpdateActivity(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	day, _ := intArg(args, "day")
	activityID := stringArg(args, "activityId")

	var updated trip.Activity
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		idx, ok := p.DayIndex(day)
		if !ok {
			return fmt.Errorf("day %d is out of range: the trip has %d days", day, p.DayCount())
		}
		ai, ok := p.Days[idx].FindActivity(activityID)
		if !ok {
			return fmt.Errorf("no activity %s on day %d", activityID, day)
		}
		a := &p.Days[idx].Activities[ai]
		if v, ok := args["name"].(string); ok && v != "" {
			a.Name = v
		}
		if v, ok := args["time"].(string); ok {
			a.Time = v
		}
		if v, ok := args["address"].(string); ok {
			a.Address = v
		}
		if v, ok := args["notes"].(string); ok {
			a.Notes = v
		}
		updated = *a
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated %q on day %d.", updated.Name, day), nil
}

func (r *Registry) handleMoveActivity(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	day, _ := intArg(args, "day")
	toDay, _ := intArg(args, "toDay")
	activityID := stringArg(args, "activityId")

	var moved trip.Activity
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		from, ok := p.DayIndex(day)
		if !ok {
			return fmt.Errorf("day %d is out of range: the trip has %d days", day, p.DayCount())
		}
		to, ok := p.DayIndex(toDay)
		if !ok {
			return fmt.Errorf("day %d is out of range: the trip has %d days", toDay, p.DayCount())
		}
		ai, ok := p.Days[from].FindActivity(activityID)
		if !ok {
			return fmt.Errorf("no activity %s on day %d", activityID, day)
		}
		moved = p.Days[from].Activities[ai]
		if toTime := stringArg(args, "toTime"); toTime != "" {
			moved.Time = toTime
		}
		p.Days[from].Activities = append(p.Days[from].Activities[:ai], p.Days[from].Activities[ai+1:]...)
		p.Days[to].Activities = append(p.Days[to].Activities, moved)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Moved %q from day %d to day %d.", moved.Name, day, toDay), nil
}

func (r *Registry) handleRemoveActivity(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	day, _ := intArg(args, "day")
	activityID := stringArg(args, "activityId")

	var removed trip.Activity
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		idx, ok := p.DayIndex(day)
		if !ok {
			return fmt.Errorf("day %d is out of range: the trip has %d days", day, p.DayCount())
		}
		ai, ok := p.Days[idx].FindActivity(activityID)
		if !ok {
			return fmt.Errorf("no activity %s on day %d", activityID, day)
		}
		removed = p.Days[idx].Activities[ai]
		p.Days[idx].Activities = append(p.Days[idx].Activities[:ai], p.Days[idx].Activities[ai+1:]...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %q from day %d.", removed.Name, day), nil
}

func (r *Registry) handleClearDay(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	day, _ := intArg(args, "day")

	var cleared int
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		idx, ok := p.DayIndex(day)
		if !ok {
			return fmt.Errorf("day %d is out of range: the trip has %d days", day, p.DayCount())
		}
		cleared = len(p.Days[idx].Activities)
		p.Days[idx].Activities = nil
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Cleared day %d (%d activities removed).", day, cleared), nil
}

func (r *Registry) handleListSavedIdeas(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	plan, err := r.trips.Snapshot(scope.TripID, scope.UserID)
	if err != nil {
		return "", err
	}
	if len(plan.Ideas) == 0 {
		return "No saved ideas.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d saved ideas:\n", len(plan.Ideas))
	for _, idea := range plan.Ideas {
		fmt.Fprintf(&b, "- %s (id: %s)", idea.Name, idea.ID)
		if idea.Notes != "" {
			fmt.Fprintf(&b, " — %s", idea.Notes)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (r *Registry) handleSaveIdea(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	idea := trip.Idea{
		ID:      trip.NewID(),
		Name:    stringArg(args, "name"),
		PlaceID: stringArg(args, "placeId"),
		Notes:   stringArg(args, "notes"),
	}
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		p.Ideas = append(p.Ideas, idea)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Saved idea %q (id: %s).", idea.Name, idea.ID), nil
}

func (r *Registry) handleRemoveSavedIdea(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	ideaID := stringArg(args, "ideaId")

	var removed trip.Idea
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		i, ok := p.FindIdea(ideaID)
		if !ok {
			return fmt.Errorf("no saved idea %s", ideaID)
		}
		removed = p.Ideas[i]
		p.Ideas = append(p.Ideas[:i], p.Ideas[i+1:]...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed saved idea %q.", removed.Name), nil
}

func (r *Registry) handleListAccommodations(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	plan, err := r.trips.Snapshot(scope.TripID, scope.UserID)
	if err != nil {
		return "", err
	}
	if len(plan.Accommodations) == 0 {
		return "No accommodations booked.", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d accommodations:\n", len(plan.Accommodations))
	for _, a := range plan.Accommodations {
		fmt.Fprintf(&b, "- %s, %s to %s (id: %s)\n", a.Name, a.CheckIn, a.CheckOut, a.ID)
	}
	return b.String(), nil
}

func (r *Registry) handleAddAccommodation(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	acc := trip.Accommodation{
		ID:       trip.NewID(),
		Name:     stringArg(args, "name"),
		CheckIn:  stringArg(args, "checkIn"),
		CheckOut: stringArg(args, "checkOut"),
		Address:  stringArg(args, "address"),
		PlaceID:  stringArg(args, "placeId"),
		Notes:    stringArg(args, "notes"),
	}
	if acc.CheckOut <= acc.CheckIn {
		return "", fmt.Errorf("checkOut %s must be after checkIn %s", acc.CheckOut, acc.CheckIn)
	}
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		p.Accommodations = append(p.Accommodations, acc)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Added accommodation %q, %s to %s (id: %s).", acc.Name, acc.CheckIn, acc.CheckOut, acc.ID), nil
}

func (r *Registry) handleUpdateAccommodation(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	accID := stringArg(args, "accommodationId")

	var updated trip.Accommodation
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		i, ok := p.FindAccommodation(accID)
		if !ok {
			return fmt.Errorf("no accommodation %s", accID)
		}
		a := &p.Accommodations[i]
		if v, ok := args["name"].(string); ok && v != "" {
			a.Name = v
		}
		if v, ok := args["checkIn"].(string); ok && v != "" {
			a.CheckIn = v
		}
		if v, ok := args["checkOut"].(string); ok && v != "" {
			a.CheckOut = v
		}
		if v, ok := args["notes"].(string); ok {
			a.Notes = v
		}
		if a.CheckOut <= a.CheckIn {
			return fmt.Errorf("checkOut %s must be after checkIn %s", a.CheckOut, a.CheckIn)
		}
		updated = *a
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Updated accommodation %q.", updated.Name), nil
}

func (r *Registry) handleRemoveAccommodation(ctx context.Context, args map[string]any) (string, error) {
	scope, err := scopeFromContext(ctx)
	if err != nil {
		return "", err
	}
	accID := stringArg(args, "accommodationId")

	var removed trip.Accommodation
	_, err = r.trips.Mutate(scope.TripID, scope.UserID, func(p *trip.Plan) error {
		i, ok := p.FindAccommodation(accID)
		if !ok {
			return fmt.Errorf("no accommodation %s", accID)
		}
		removed = p.Accommodations[i]
		p.Accommodations = append(p.Accommodations[:i], p.Accommodations[i+1:]...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed accommodation %q.", removed.Name), nil
}
