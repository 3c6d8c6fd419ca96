package dom

import (
	"strings"

	"golang.org/x/net/html"
)

// RenderedText concatenates the rendered text nodes of the body.
func (d *Document) RenderedText() string {
	var b strings.Builder
	for _, t := range RenderedTextNodes(d.Body()) {
		b.WriteString(t.Data)
	}
	return b.String()
}

// TextOffset converts a boundary point into a byte offset within
// RenderedText. Offsets stay valid across splits, unwraps and normalization
// because they do not depend on node identity.
func (d *Document) TextOffset(b Boundary) (int, error) {
	if b.Node == nil || !IsInclusiveAncestor(d.Body(), b.Node) {
		return 0, ErrNotRendered
	}
	if b.Node.Type == html.TextNode && !isRenderedText(b.Node) {
		return 0, ErrNotRendered
	}
	total := 0
	for _, t := range RenderedTextNodes(d.Body()) {
		if t == b.Node {
			return total + b.Offset, nil
		}
		if ComparePoints(Boundary{Node: t, Offset: len(t.Data)}, b) > 0 {
			break
		}
		total += len(t.Data)
	}
	return total, nil
}

// BoundaryAt converts a byte offset within RenderedText into a boundary in a
// text node. When the offset falls between two text nodes, forward selects
// the start of the following node and !forward the end of the preceding one.
func (d *Document) BoundaryAt(offset int, forward bool) (Boundary, error) {
	if offset < 0 {
		return Boundary{}, ErrInvalidBoundary
	}
	nodes := RenderedTextNodes(d.Body())
	total := 0
	var last *html.Node
	for _, t := range nodes {
		length := len(t.Data)
		if length == 0 {
			continue
		}
		if forward && offset < total+length {
			return Boundary{Node: t, Offset: offset - total}, nil
		}
		if !forward && offset <= total+length && (offset > total || last == nil) {
			return Boundary{Node: t, Offset: offset - total}, nil
		}
		total += length
		last = t
	}
	if last != nil && offset == total {
		return Boundary{Node: last, Offset: len(last.Data)}, nil
	}
	return Boundary{}, ErrInvalidBoundary
}

// RangeAt builds a range from two byte offsets within RenderedText.
func (d *Document) RangeAt(start, end int) (*Range, error) {
	if start > end {
		return nil, ErrInvalidRange
	}
	startBoundary, err := d.BoundaryAt(start, true)
	if err != nil {
		return nil, err
	}
	endBoundary, err := d.BoundaryAt(end, start == end)
	if err != nil {
		return nil, err
	}
	return NewRange(startBoundary, endBoundary)
}

func isRenderedText(t *html.Node) bool {
	for n := t.Parent; n != nil; n = n.Parent {
		if !IsRendered(n) {
			return false
		}
	}
	return true
}
