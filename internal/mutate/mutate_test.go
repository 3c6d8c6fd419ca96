package mutate

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/net/html"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

func parse(t *testing.T, body string) *dom.Document {
	t.Helper()
	doc, err := dom.ParseString("<html><head></head><body>" + body + "</body></html>")
	require.NoError(t, err)
	return doc
}

func rangeOf(t *testing.T, doc *dom.Document, start, end int) *dom.Range {
	t.Helper()
	rng, err := doc.RangeAt(start, end)
	require.NoError(t, err)
	return rng
}

func mark(id string) Mark {
	return Mark{ID: id, Color: "yellow", Text: "quick brown", Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func TestApplyWrapsSingleTextNode(t *testing.T) {
	doc := parse(t, "<p>The quick brown fox</p>")
	mutator := NewMutator(doc, nil)

	result, err := mutator.Apply(rangeOf(t, doc, 4, 15), mark("h1"))
	require.NoError(t, err)
	require.Equal(t, "extract-wrap", result.Strategy)
	require.True(t, result.Applied())

	marker := FindMarker(doc, "h1")
	require.NotNil(t, marker)
	require.Equal(t, "quick brown", dom.TextContent(marker))
	require.Equal(t, "yellow", MarkerColor(marker))
	require.Contains(t, dom.Attr(marker, "title"), "Highlighted: ")
	require.Equal(t, "The quick brown fox", doc.RenderedText())
}

func TestApplyAcrossInlineElementKeepsText(t *testing.T) {
	doc := parse(t, "<p>The <b>quick</b> brown fox</p>")
	mutator := NewMutator(doc, nil)

	result, err := mutator.Apply(rangeOf(t, doc, 6, 15), mark("h1"))
	require.NoError(t, err)
	require.Equal(t, "extract-wrap", result.Strategy)
	require.Equal(t, "ick brown", dom.TextContent(FindMarker(doc, "h1")))
	require.Equal(t, "The quick brown fox", doc.RenderedText())
}

func TestApplyIsIdempotent(t *testing.T) {
	doc := parse(t, "<p>The quick brown fox</p>")
	mutator := NewMutator(doc, nil)

	_, err := mutator.Apply(rangeOf(t, doc, 4, 15), mark("h1"))
	require.NoError(t, err)
	result, err := mutator.Apply(rangeOf(t, doc, 0, 3), mark("h1"))
	require.NoError(t, err)
	require.True(t, result.Existing)
	require.Len(t, Markers(doc), 1)
}

func TestApplyRejectsCollapsedRange(t *testing.T) {
	doc := parse(t, "<p>The quick brown fox</p>")
	_, err := NewMutator(doc, nil).Apply(rangeOf(t, doc, 4, 4), mark("h1"))
	require.ErrorIs(t, err, ErrCollapsed)
	require.Empty(t, Markers(doc))
}

func TestApplyFallsBackToReplaceTextAcrossCells(t *testing.T) {
	doc := parse(t, "<table><tr><td>alpha beta</td><td>gamma delta</td></tr></table>")
	mutator := NewMutator(doc, nil)

	result, err := mutator.Apply(rangeOf(t, doc, 6, 15), Mark{ID: "h1", Color: "green", Text: "beta gamma"})
	require.NoError(t, err)
	require.Equal(t, "replace-text", result.Strategy)
	require.Equal(t, "beta gamma", dom.TextContent(FindMarker(doc, "h1")))
}

func TestApplyDefersWhenEveryStrategyFails(t *testing.T) {
	doc := parse(t, "<p>The quick brown fox</p>")
	core, logs := observer.New(zap.InfoLevel)
	failing := Strategy{Name: "failing", Insert: func(*dom.Range, *html.Node, Mark) error { return errors.New("boom") }}
	mutator := NewMutator(doc, zap.New(core)).WithStrategies([]Strategy{failing, failing})

	result, err := mutator.Apply(rangeOf(t, doc, 4, 15), mark("h1"))
	require.NoError(t, err)
	require.True(t, result.Deferred)
	require.False(t, result.Applied())
	require.Empty(t, Markers(doc))
	require.Equal(t, 1, logs.FilterMessage("highlight saved without marker").Len())
}

func TestApplyRestoresScrollPosition(t *testing.T) {
	doc := parse(t, "<p>The quick brown fox</p>")
	viewport := &dom.StaticViewport{}
	viewport.ScrollTo(0, 300)
	doc.SetViewport(viewport)

	jump := Strategy{Name: "jump", Insert: func(*dom.Range, *html.Node, Mark) error {
		viewport.ScrollTo(0, 900)
		return errors.New("moved then failed")
	}}
	mutator := NewMutator(doc, nil).WithStrategies(append([]Strategy{jump}, DefaultStrategies()...))

	result, err := mutator.Apply(rangeOf(t, doc, 4, 15), mark("h1"))
	require.NoError(t, err)
	require.True(t, result.Applied())
	x, y := viewport.ScrollPosition()
	require.Equal(t, 0, x)
	require.Equal(t, 300, y)
}

func TestRemoveIsIdempotent(t *testing.T) {
	doc := parse(t, "<p>The quick brown fox</p>")
	mutator := NewMutator(doc, nil)
	_, err := mutator.Apply(rangeOf(t, doc, 4, 15), mark("h1"))
	require.NoError(t, err)

	require.True(t, mutator.Remove("h1"))
	require.True(t, mutator.Remove("h1"))
	require.Empty(t, Markers(doc))

	paragraph := doc.Body().FirstChild
	require.Equal(t, 1, dom.NodeLength(paragraph))
	require.Equal(t, "The quick brown fox", paragraph.FirstChild.Data)
}

func TestRemoveAll(t *testing.T) {
	doc := parse(t, "<p>one two three</p>")
	mutator := NewMutator(doc, nil)
	_, err := mutator.Apply(rangeOf(t, doc, 0, 3), mark("a"))
	require.NoError(t, err)
	_, err = mutator.Apply(rangeOf(t, doc, 8, 13), mark("b"))
	require.NoError(t, err)

	require.Equal(t, 2, mutator.RemoveAll())
	require.Empty(t, Markers(doc))
	require.Equal(t, "one two three", doc.RenderedText())
}
