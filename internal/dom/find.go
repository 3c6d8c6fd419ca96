package dom

import (
	"regexp"
	"strings"
)

// Find searches the rendered text for text the way a browser's find-in-page
// does: case-insensitive, with any whitespace run matching any other. On a
// match the selection is replaced by the matched range.
func (d *Document) Find(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	quoted := make([]string, len(fields))
	for i, field := range fields {
		quoted[i] = regexp.QuoteMeta(field)
	}
	pattern, err := regexp.Compile(`(?i)` + strings.Join(quoted, `\s+`))
	if err != nil {
		return false
	}
	loc := pattern.FindStringIndex(d.RenderedText())
	if loc == nil {
		return false
	}
	found, err := d.RangeAt(loc[0], loc[1])
	if err != nil {
		return false
	}
	d.selection.RemoveAllRanges()
	d.selection.AddRange(found)
	return true
}
