// Package mutate places and removes highlight markers in a document.
package mutate

import (
	"errors"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

var (
	// ErrCollapsed indicates an empty range.
	ErrCollapsed = errors.New("mutate: range is collapsed")
	// ErrUnsplittable indicates a range boundary inside structure that cannot be cloned.
	ErrUnsplittable = errors.New("mutate: range splits an element that cannot be cloned")
	// ErrRawText indicates a range boundary inside raw text such as a script.
	ErrRawText = errors.New("mutate: range boundary is inside raw text")
)

// Result describes the outcome of Apply.
type Result struct {
	// Strategy names the insertion strategy that placed the marker.
	Strategy string
	// Existing is set when a marker with the id was already present.
	Existing bool
	// Deferred is set when every strategy failed and the DOM was left untouched.
	Deferred bool
}

// Applied reports whether a marker for the record is in the document.
func (r Result) Applied() bool {
	return r.Existing || r.Strategy != ""
}

// Strategy inserts marker around rng. A strategy must leave the document
// unchanged when it returns an error.
type Strategy struct {
	Name   string
	Insert func(rng *dom.Range, marker *html.Node, mark Mark) error
}

// DefaultStrategies returns the insertion cascade.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "extract-wrap", Insert: extractWrap},
		{Name: "surround", Insert: surround},
		{Name: "replace-text", Insert: replaceText},
	}
}

// Mutator applies markers to one document.
type Mutator struct {
	doc        *dom.Document
	strategies []Strategy
	logger     *zap.Logger
}

// NewMutator builds a Mutator with the default cascade.
func NewMutator(doc *dom.Document, logger *zap.Logger) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutator{doc: doc, strategies: DefaultStrategies(), logger: logger}
}

// WithStrategies returns a copy running the given cascade.
func (m *Mutator) WithStrategies(strategies []Strategy) *Mutator {
	clone := *m
	clone.strategies = strategies
	return &clone
}

// Apply wraps rng in a marker for mark. An existing marker with the same id
// makes Apply a no-op. When every strategy fails the result is Deferred and
// the error is nil.
func (m *Mutator) Apply(rng *dom.Range, mark Mark) (Result, error) {
	if FindMarker(m.doc, mark.ID) != nil {
		return Result{Existing: true}, nil
	}
	if rng == nil || rng.Collapsed() {
		return Result{}, ErrCollapsed
	}
	viewport := m.doc.Viewport()
	scrollX, scrollY := viewport.ScrollPosition()
	defer func() {
		if x, y := viewport.ScrollPosition(); x != scrollX || y != scrollY {
			viewport.ScrollTo(scrollX, scrollY)
		}
	}()

	for _, strategy := range m.strategies {
		err := strategy.Insert(rng.Clone(), NewMarker(mark), mark)
		if x, y := viewport.ScrollPosition(); x != scrollX || y != scrollY {
			viewport.ScrollTo(scrollX, scrollY)
		}
		if err == nil {
			return Result{Strategy: strategy.Name}, nil
		}
		m.logger.Debug(
			"marker strategy failed",
			zap.String("strategy", strategy.Name),
			zap.String("highlight_id", mark.ID),
			zap.Error(err),
		)
	}
	m.logger.Info("highlight saved without marker", zap.String("highlight_id", mark.ID))
	return Result{Deferred: true}, nil
}

// Remove unwraps the markers bearing id. An absent marker counts as removed.
func (m *Mutator) Remove(id string) bool {
	removed := true
	for marker := FindMarker(m.doc, id); marker != nil; marker = FindMarker(m.doc, id) {
		if _, err := dom.Unwrap(marker); err != nil {
			m.logger.Warn("unwrap marker failed", zap.String("highlight_id", id), zap.Error(err))
			removed = false
			break
		}
	}
	return removed
}

// RemoveAll unwraps every marker and returns how many were removed.
func (m *Mutator) RemoveAll() int {
	markers := Markers(m.doc)
	count := 0
	for i := len(markers) - 1; i >= 0; i-- {
		if _, err := dom.Unwrap(markers[i]); err == nil {
			count++
		}
	}
	return count
}

func extractWrap(rng *dom.Range, marker *html.Node, _ Mark) error {
	for _, n := range rng.PartiallyContained() {
		if n.Type != html.ElementNode {
			continue
		}
		if !splittable(n) || dom.HasAttr(n, "id") {
			return ErrUnsplittable
		}
	}
	if err := checkRendered(rng); err != nil {
		return err
	}
	fragment, err := rng.ExtractContents()
	if err != nil {
		return err
	}
	for fragment.FirstChild != nil {
		child := fragment.FirstChild
		fragment.RemoveChild(child)
		marker.AppendChild(child)
	}
	if err := rng.InsertNode(marker); err != nil {
		return err
	}
	dropEmptySiblings(marker)
	return nil
}

func surround(rng *dom.Range, marker *html.Node, _ Mark) error {
	if err := checkRendered(rng); err != nil {
		return err
	}
	for _, n := range rng.PartiallyContained() {
		if n.Type != html.TextNode {
			return dom.ErrInvalidState
		}
	}
	if err := rng.SurroundContents(marker); err != nil {
		return err
	}
	dropEmptySiblings(marker)
	return nil
}

func replaceText(rng *dom.Range, marker *html.Node, mark Mark) error {
	if err := checkRendered(rng); err != nil {
		return err
	}
	if mark.Text == "" {
		return ErrCollapsed
	}
	start := rng.Start.Node
	if start.Type != html.TextNode && start.Type != html.ElementNode {
		return dom.ErrHierarchy
	}
	if err := rng.DeleteContents(); err != nil {
		return err
	}
	dom.SetTextContent(marker, mark.Text)
	if err := rng.InsertNode(marker); err != nil {
		return err
	}
	dropEmptySiblings(marker)
	return nil
}

// splittable reports whether a partially selected element may be cloned
// into the marker.
func splittable(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Html, atom.Head, atom.Body,
		atom.Table, atom.Thead, atom.Tbody, atom.Tfoot, atom.Tr, atom.Td, atom.Th,
		atom.Caption, atom.Colgroup, atom.Col:
		return false
	}
	return dom.IsRendered(n)
}

func checkRendered(rng *dom.Range) error {
	for _, boundary := range []dom.Boundary{rng.Start, rng.End} {
		for n := boundary.Node; n != nil; n = n.Parent {
			if n.Type == html.ElementNode && !dom.IsRendered(n) {
				return ErrRawText
			}
		}
	}
	return nil
}

func dropEmptySiblings(marker *html.Node) {
	for _, sibling := range []*html.Node{marker.PrevSibling, marker.NextSibling} {
		if sibling != nil && sibling.Type == html.TextNode && sibling.Data == "" && sibling.Parent != nil {
			sibling.Parent.RemoveChild(sibling)
		}
	}
}
