package places

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Markup returns the canonical inline reference for a place id.
func Markup(id string) string {
	return "[[place:" + id + "]]"
}

// fenceRe matches a fenced block of structured place results embedded
// in a tool's textual output.
var fenceRe = regexp.MustCompile("(?s)```places\\s*\\n(.*?)```")

// FormatResults renders places as a fenced block for tool output. The
// block is what Extract later parses back out, closing the loop between
// search tools and the model's inline references.
func FormatResults(results []Place) string {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return ""
	}
	return "```places\n" + string(data) + "\n```"
}

// Extract scans a tool result for fenced place-result blocks, registers
// every parsed place in dir, and returns the result augmented with
// machine-readable guidance telling the model the exact markup to use
// for each place. A block that fails to parse is left untouched.
func Extract(result string, dir *Directory) (string, []Place) {
	matches := fenceRe.FindAllStringSubmatch(result, -1)
	if len(matches) == 0 {
		return result, nil
	}

	var added []Place
	for _, m := range matches {
		var batch []Place
		if err := json.Unmarshal([]byte(m[1]), &batch); err != nil {
			continue
		}
		for _, p := range batch {
			if p.ID == "" {
				continue
			}
			dir.Add(p)
			added = append(added, p)
		}
	}

	if len(added) == 0 {
		return result, nil
	}

	var guidance strings.Builder
	guidance.WriteString("\n\nWhen you mention these places in your reply, use exactly this markup so they render as place cards:\n")
	for _, p := range added {
		fmt.Fprintf(&guidance, "- %s → %s\n", p.Name, Markup(p.ID))
	}

	return result + guidance.String(), added
}

// Normalize rewrites near-miss markup variants for every id known in
// dir to the canonical double-bracket form: [id], [[id]], [place:id]
// and mismatched bracket counts all become [[place:id]]. The canonical
// form itself matches and maps to itself, so Normalize is idempotent.
//
// Ids are matched exactly (longest first); a loose token that does not
// contain a known id verbatim is never rewritten.
func Normalize(text string, dir *Directory) string {
	for _, id := range dir.IDs() {
		text = dir.pattern(id).ReplaceAllString(text, Markup(id))
	}
	return text
}

// compileMarkupPattern builds the matcher for one id's markup variants.
func compileMarkupPattern(id string) *regexp.Regexp {
	return regexp.MustCompile(`\[{1,2}(?:place:)?` + regexp.QuoteMeta(id) + `\]{1,2}`)
}
