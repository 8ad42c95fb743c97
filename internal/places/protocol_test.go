package places

import (
	"strings"
	"testing"
)

func TestFormatResultsRoundTrip(t *testing.T) {
	in := []Place{
		{ID: "pl_1", Name: "Louvre", Category: "museum", Rating: 4.7},
		{ID: "pl_2", Name: "Café de Flore", Category: "cafe"},
	}

	dir := NewDirectory()
	_, added := Extract(FormatResults(in), dir)

	if len(added) != 2 {
		t.Fatalf("added = %d, want 2", len(added))
	}
	if dir.Len() != 2 {
		t.Fatalf("directory len = %d, want 2", dir.Len())
	}
	p, ok := dir.Get("pl_1")
	if !ok || p.Name != "Louvre" || p.Rating != 4.7 {
		t.Errorf("pl_1 = %+v, ok=%v", p, ok)
	}
}

func TestExtractRegistersAndAppendsGuidance(t *testing.T) {
	result := "Found 3 places.\n" + FormatResults([]Place{
		{ID: "a1", Name: "Alpha"},
		{ID: "b2", Name: "Beta"},
		{ID: "c3", Name: "Gamma"},
	})

	dir := NewDirectory()
	out, added := Extract(result, dir)

	if len(added) != 3 {
		t.Fatalf("added = %d, want 3", len(added))
	}
	if dir.Len() != 3 {
		t.Fatalf("directory len = %d, want 3", dir.Len())
	}
	for _, p := range added {
		hint := p.Name + " → " + Markup(p.ID)
		if !strings.Contains(out, hint) {
			t.Errorf("guidance missing hint %q", hint)
		}
	}
	if !strings.HasPrefix(out, "Found 3 places.") {
		t.Errorf("original text not preserved: %q", out)
	}
}

func TestExtractNoBlock(t *testing.T) {
	dir := NewDirectory()
	out, added := Extract("Day 2 has 4 activities.", dir)
	if out != "Day 2 has 4 activities." {
		t.Errorf("text changed: %q", out)
	}
	if added != nil {
		t.Errorf("added = %v, want nil", added)
	}
}

func TestExtractMalformedBlockLeftUntouched(t *testing.T) {
	result := "```places\n{not json\n```"
	dir := NewDirectory()
	out, added := Extract(result, dir)
	if out != result {
		t.Errorf("malformed block altered: %q", out)
	}
	if added != nil || dir.Len() != 0 {
		t.Errorf("malformed block registered places: added=%v len=%d", added, dir.Len())
	}
}

func TestExtractSkipsEmptyID(t *testing.T) {
	result := FormatResults([]Place{{ID: "", Name: "Nameless"}, {ID: "x1", Name: "Real"}})
	dir := NewDirectory()
	_, added := Extract(result, dir)
	if len(added) != 1 || added[0].ID != "x1" {
		t.Errorf("added = %v, want only x1", added)
	}
}

func TestNormalizeVariants(t *testing.T) {
	dir := NewDirectory()
	dir.Add(Place{ID: "abc123", Name: "Alpha"})

	cases := []struct {
		in, want string
	}{
		{"Visit [abc123] today", "Visit [[place:abc123]] today"},
		{"Visit [[abc123]] today", "Visit [[place:abc123]] today"},
		{"Visit [place:abc123] today", "Visit [[place:abc123]] today"},
		{"Visit [[place:abc123]] today", "Visit [[place:abc123]] today"},
		{"Visit [place:abc123]] today", "Visit [[place:abc123]] today"},
		{"No markup here", "No markup here"},
		{"Unknown [zzz999] stays", "Unknown [zzz999] stays"},
	}
	for _, tc := range cases {
		if got := Normalize(tc.in, dir); got != tc.want {
			t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	dir := NewDirectory()
	dir.Add(Place{ID: "p1", Name: "One"})
	dir.Add(Place{ID: "p2", Name: "Two"})

	in := "Try [p1] then [[p2]] and again [[place:p1]]."
	once := Normalize(in, dir)
	twice := Normalize(once, dir)
	if once != twice {
		t.Errorf("not idempotent:\nonce:  %q\ntwice: %q", once, twice)
	}
}

func TestNormalizePrefixIDs(t *testing.T) {
	dir := NewDirectory()
	dir.Add(Place{ID: "ab", Name: "Short"})
	dir.Add(Place{ID: "abcd", Name: "Long"})

	got := Normalize("See [abcd] and [ab].", dir)
	want := "See [[place:abcd]] and [[place:ab]]."
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDirectoryIDsLongestFirst(t *testing.T) {
	dir := NewDirectory()
	dir.Add(Place{ID: "aa"})
	dir.Add(Place{ID: "aaaa"})
	dir.Add(Place{ID: "b"})

	ids := dir.IDs()
	want := []string{"aaaa", "aa", "b"}
	if len(ids) != len(want) {
		t.Fatalf("ids = %v", ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}
