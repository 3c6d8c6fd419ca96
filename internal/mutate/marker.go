package mutate

import (
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

const (
	// MarkerClass is carried by every highlight marker.
	MarkerClass = "hl-mark"
	// ColorClassPrefix prefixes the color-specific marker class.
	ColorClassPrefix = "hl-"
	// IDAttribute holds the record id on a marker.
	IDAttribute = "data-highlight-id"

	titleLayout = "2006-01-02 15:04:05"
)

// Mark describes the marker to place for a record.
type Mark struct {
	ID        string
	Color     string
	Text      string
	Timestamp time.Time
}

// NewMarker builds a detached, empty marker element.
func NewMarker(mark Mark) *html.Node {
	marker := &html.Node{Type: html.ElementNode, DataAtom: atom.Span, Data: "span"}
	marker.Attr = []html.Attribute{
		{Key: "class", Val: MarkerClass + " " + ColorClassPrefix + mark.Color},
		{Key: IDAttribute, Val: mark.ID},
	}
	if !mark.Timestamp.IsZero() {
		marker.Attr = append(marker.Attr, html.Attribute{Key: "title", Val: "Highlighted: " + mark.Timestamp.Local().Format(titleLayout)})
	}
	return marker
}

// IsMarker reports whether n is a highlight marker.
func IsMarker(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && dom.HasClass(n, MarkerClass) && dom.HasAttr(n, IDAttribute)
}

// MarkerID returns the record id of a marker.
func MarkerID(n *html.Node) string {
	return dom.Attr(n, IDAttribute)
}

// MarkerColor returns the color name of a marker.
func MarkerColor(n *html.Node) string {
	for _, class := range strings.Fields(dom.Attr(n, "class")) {
		if class != MarkerClass && strings.HasPrefix(class, ColorClassPrefix) {
			return strings.TrimPrefix(class, ColorClassPrefix)
		}
	}
	return ""
}

// Markers returns every marker in document order.
func Markers(doc *dom.Document) []*html.Node {
	var markers []*html.Node
	dom.Walk(doc.Root(), func(n *html.Node) bool {
		if IsMarker(n) {
			markers = append(markers, n)
		}
		return true
	})
	return markers
}

// FindMarker returns the first marker bearing id.
func FindMarker(doc *dom.Document, id string) *html.Node {
	if id == "" {
		return nil
	}
	for _, n := range doc.ElementsByAttr(IDAttribute, id) {
		if IsMarker(n) {
			return n
		}
	}
	return nil
}

// EnclosingMarker returns n or its nearest ancestor that is a marker,
// stopping at stop.
func EnclosingMarker(n, stop *html.Node) *html.Node {
	for current := n; current != nil; current = current.Parent {
		if IsMarker(current) {
			return current
		}
		if current == stop {
			return nil
		}
	}
	return nil
}
