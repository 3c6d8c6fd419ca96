// Package anchor converts live ranges into durable anchors and resolves the
// structural part of an anchor against a document.
package anchor

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

// Anchor is the serializable location of a highlight.
type Anchor struct {
	Path string `json:"path" yaml:"path"`
	Text string `json:"text" yaml:"text"`
}

// Encode builds the anchor for a range: the path of the element holding the
// range start and the normalized selected text.
func Encode(rng *dom.Range) Anchor {
	if rng == nil {
		return Anchor{}
	}
	return Anchor{
		Path: PathFor(rng.StartElement()),
		Text: NormalizeText(rng.String()),
	}
}

// PathFor returns the structural path of element. Elements with an id are
// referenced directly; others get an absolute tag path where each step carries
// its 1-based position among same-tag siblings, omitted for the first.
func PathFor(element *html.Node) string {
	if element == nil || element.Type != html.ElementNode {
		return ""
	}
	if id := dom.Attr(element, "id"); id != "" {
		return "//*[@id=" + quote(id) + "]"
	}
	var steps []string
	for n := element; n != nil && n.Type == html.ElementNode; n = n.Parent {
		index := 1
		for s := n.PrevSibling; s != nil; s = s.PrevSibling {
			if s.Type == html.ElementNode && s.Data == n.Data {
				index++
			}
		}
		step := n.Data
		if index > 1 {
			step += "[" + strconv.Itoa(index) + "]"
		}
		steps = append(steps, step)
	}
	for i, j := 0, len(steps)-1; i < j; i, j = i+1, j-1 {
		steps[i], steps[j] = steps[j], steps[i]
	}
	return "/" + strings.Join(steps, "/")
}

func quote(value string) string {
	if strings.Contains(value, "'") {
		return `"` + value + `"`
	}
	return "'" + value + "'"
}
