package overlap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
	"github.com/MarcoPoloResearchLab/highlighter/internal/mutate"
)

type mutatorRemover struct {
	mutator *mutate.Mutator
	calls   []string
}

func (r *mutatorRemover) RemoveByID(id string) bool {
	r.calls = append(r.calls, id)
	return r.mutator.Remove(id)
}

func setup(t *testing.T, body string) (*dom.Document, *mutate.Mutator) {
	t.Helper()
	doc, err := dom.ParseString("<html><head></head><body>" + body + "</body></html>")
	require.NoError(t, err)
	return doc, mutate.NewMutator(doc, nil)
}

func apply(t *testing.T, doc *dom.Document, mutator *mutate.Mutator, id string, start, end int) {
	t.Helper()
	rng, err := doc.RangeAt(start, end)
	require.NoError(t, err)
	result, err := mutator.Apply(rng, mutate.Mark{ID: id, Color: "yellow"})
	require.NoError(t, err)
	require.True(t, result.Applied())
}

func TestFindOverlappingDetectsPartialAndEnclosingMarkers(t *testing.T) {
	doc, mutator := setup(t, "<p>one two three four</p>")
	apply(t, doc, mutator, "a", 0, 7)
	apply(t, doc, mutator, "b", 14, 18)
	resolver := NewResolver(doc, &mutatorRemover{mutator: mutator}, nil)

	across, err := doc.RangeAt(4, 16)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, resolver.FindOverlapping(across))

	inside, err := doc.RangeAt(1, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"a"}, resolver.FindOverlapping(inside))

	between, err := doc.RangeAt(8, 13)
	require.NoError(t, err)
	require.Empty(t, resolver.FindOverlapping(between))
}

func TestFindOverlappingIgnoresAdjacentMarker(t *testing.T) {
	doc, mutator := setup(t, "<p>one two</p>")
	apply(t, doc, mutator, "a", 0, 3)
	resolver := NewResolver(doc, &mutatorRemover{mutator: mutator}, nil)

	adjacent, err := doc.RangeAt(3, 7)
	require.NoError(t, err)
	require.Empty(t, resolver.FindOverlapping(adjacent))
}

func TestFindDuplicatesComparesNormalizedText(t *testing.T) {
	entries := []Entry{{ID: "a", Text: "foo  bar"}, {ID: "b", Text: "foo"}, {ID: "c", Text: "foo bar"}}
	require.Equal(t, []string{"a", "c"}, FindDuplicates(entries, " foo\nbar "))
	require.Empty(t, FindDuplicates(entries, "   "))
}

func TestResolveRemovesOverlapsAndDuplicatesOnce(t *testing.T) {
	doc, mutator := setup(t, "<p>foo and foo again</p>")
	apply(t, doc, mutator, "first", 0, 3)
	remover := &mutatorRemover{mutator: mutator}
	resolver := NewResolver(doc, remover, nil)

	second, err := doc.RangeAt(8, 11)
	require.NoError(t, err)
	removed := resolver.Resolve(second, "foo", []Entry{{ID: "first", Text: "foo"}})
	require.Equal(t, []string{"first"}, removed)
	require.Equal(t, []string{"first"}, remover.calls)
	require.Empty(t, mutate.Markers(doc))
}
