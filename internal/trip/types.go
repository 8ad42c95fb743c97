// Package trip holds the itinerary domain model and its SQLite store.
// A trip plan is owned by one user and mutated exclusively through the
// assistant's tool handlers, each of which works from a fresh snapshot.
package trip

import "time"

// Activity is one scheduled item on a day.
type Activity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Time    string `json:"time,omitempty"` // "HH:MM", empty means unscheduled
	Address string `json:"address,omitempty"`
	PlaceID string `json:"placeId,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Day is one calendar day of the itinerary.
type Day struct {
	Date       string     `json:"date"` // "2006-01-02"
	Activities []Activity `json:"activities"`
}

// Accommodation is a lodging booking spanning a check-in/check-out range.
type Accommodation struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	CheckIn  string `json:"checkIn"`  // "2006-01-02"
	CheckOut string `json:"checkOut"` // "2006-01-02"
	Address  string `json:"address,omitempty"`
	PlaceID  string `json:"placeId,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// Idea is a saved suggestion not yet scheduled onto a day.
type Idea struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	PlaceID string `json:"placeId,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

// Plan is the full itinerary for one trip.
type Plan struct {
	Days           []Day           `json:"days"`
	Accommodations []Accommodation `json:"accommodations,omitempty"`
	Ideas          []Idea          `json:"ideas,omitempty"`
}

// Trip is a stored trip with its plan.
type Trip struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Plan      Plan      `json:"plan"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DayCount returns the number of days in the plan.
func (p *Plan) DayCount() int {
	return len(p.Days)
}

// DayIndex converts a 1-based day number to a slice index, reporting
// whether the day exists.
func (p *Plan) DayIndex(day int) (int, bool) {
	if day < 1 || day > len(p.Days) {
		return 0, false
	}
	return day - 1, true
}

// FindActivity locates an activity by id on the given day.
func (d *Day) FindActivity(activityID string) (int, bool) {
	for i, a := range d.Activities {
		if a.ID == activityID {
			return i, true
		}
	}
	return 0, false
}

// FindAccommodation locates an accommodation by id.
func (p *Plan) FindAccommodation(accommodationID string) (int, bool) {
	for i, a := range p.Accommodations {
		if a.ID == accommodationID {
			return i, true
		}
	}
	return 0, false
}

// FindIdea locates a saved idea by id.
func (p *Plan) FindIdea(ideaID string) (int, bool) {
	for i, idea := range p.Ideas {
		if idea.ID == ideaID {
			return i, true
		}
	}
	return 0, false
}
