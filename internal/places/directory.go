// Package places implements the place reference protocol: extraction of
// structured place results from tool output, the per-turn place
// directory, and canonical inline markup normalization.
package places

import (
	"regexp"
	"sort"
)

// Place is the display data for one place, keyed by an opaque id.
type Place struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Category   string  `json:"category,omitempty"`
	Rating     float64 `json:"rating,omitempty"`
	PriceLevel int     `json:"priceLevel,omitempty"`
	Address    string  `json:"address,omitempty"`
	Latitude   float64 `json:"latitude,omitempty"`
	Longitude  float64 `json:"longitude,omitempty"`
	ImageURL   string  `json:"imageUrl,omitempty"`
}

// Directory maps place ids to display data. It is built incrementally
// during one assistant turn and persisted with the assistant message so
// a reloaded conversation can still resolve inline references.
type Directory struct {
	entries map[string]Place
	// patterns holds the compiled markup matcher per id, built once on
	// Add so place-heavy turns do not recompile on every Normalize.
	patterns map[string]*regexp.Regexp
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		entries:  make(map[string]Place),
		patterns: make(map[string]*regexp.Regexp),
	}
}

// Add registers a place under its id. Re-adding an id overwrites the
// previous entry; later tool results carry fresher data.
func (d *Directory) Add(p Place) {
	if p.ID == "" {
		return
	}
	d.entries[p.ID] = p
	if _, ok := d.patterns[p.ID]; !ok {
		d.patterns[p.ID] = compileMarkupPattern(p.ID)
	}
}

// pattern returns the compiled markup matcher for a registered id.
func (d *Directory) pattern(id string) *regexp.Regexp {
	return d.patterns[id]
}

// Get returns the place for id, if known.
func (d *Directory) Get(id string) (Place, bool) {
	p, ok := d.entries[id]
	return p, ok
}

// Len returns the number of registered places.
func (d *Directory) Len() int {
	return len(d.entries)
}

// IDs returns all registered ids, longest first. Normalization iterates
// in this order so an id that is a prefix of another can never shadow
// the longer match.
func (d *Directory) IDs() []string {
	ids := make([]string, 0, len(d.entries))
	for id := range d.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if len(ids[i]) != len(ids[j]) {
			return len(ids[i]) > len(ids[j])
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Snapshot returns a copy of the directory contents for persistence.
func (d *Directory) Snapshot() map[string]Place {
	if len(d.entries) == 0 {
		return nil
	}
	out := make(map[string]Place, len(d.entries))
	for id, p := range d.entries {
		out[id] = p
	}
	return out
}
