// Package locate finds the live range of a stored highlight in a document.
package locate

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

// ErrNotFound indicates that no strategy produced an accepted range.
var ErrNotFound = errors.New("locate: text not found")

const lenientMinLength = 10

// Strategy proposes candidate ranges for text. Candidates are offered in
// preference order; the Locator keeps the first one Accept approves.
type Strategy struct {
	Name       string
	Candidates func(doc *dom.Document, text, path string) []*dom.Range
}

// DefaultStrategies returns the strategies from strictest to loosest.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "path-exact", Candidates: pathExact},
		{Name: "path-normalized", Candidates: pathNormalized},
		{Name: "boundary-scan", Candidates: boundaryScan},
		{Name: "loose-scan", Candidates: looseScan},
		{Name: "native-find", Candidates: nativeFind},
	}
}

// Locator runs strategies against one document.
type Locator struct {
	doc        *dom.Document
	strategies []Strategy
	logger     *zap.Logger
}

// NewLocator builds a Locator with the default strategies.
func NewLocator(doc *dom.Document, logger *zap.Logger) *Locator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Locator{doc: doc, strategies: DefaultStrategies(), logger: logger}
}

// WithStrategies returns a copy running the given strategies instead.
func (l *Locator) WithStrategies(strategies []Strategy) *Locator {
	clone := *l
	clone.strategies = strategies
	return &clone
}

// Locate returns the first accepted range for text, using path as a hint.
func (l *Locator) Locate(text, path string) (*dom.Range, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrNotFound
	}
	for _, strategy := range l.strategies {
		for _, candidate := range strategy.Candidates(l.doc, text, path) {
			if Accept(candidate.String(), text) {
				l.logger.Debug(
					"text located",
					zap.String("strategy", strategy.Name),
					zap.String("path", path),
				)
				return candidate, nil
			}
		}
	}
	return nil, ErrNotFound
}

// Accept reports whether rangeText is an acceptable rendering of text:
// verbatim, equal after whitespace normalization, or for longer texts equal
// after stripping non-word characters and case.
func Accept(rangeText, text string) bool {
	if rangeText == text {
		return true
	}
	normalizedRange := anchor.NormalizeText(rangeText)
	normalizedText := anchor.NormalizeText(text)
	if normalizedRange == normalizedText {
		return normalizedText != ""
	}
	if utf8.RuneCountInString(normalizedText) < lenientMinLength {
		return false
	}
	core := anchor.CoreText(normalizedText)
	return core != "" && anchor.CoreText(normalizedRange) == core
}

func pathExact(doc *dom.Document, text, path string) []*dom.Range {
	element := anchor.Resolve(doc.Root(), path)
	if element == nil {
		return nil
	}
	node := firstMeaningfulText(element)
	if node == nil {
		return nil
	}
	at := strings.Index(node.Data, text)
	if at < 0 {
		return nil
	}
	return []*dom.Range{textRange(node, at, at+len(text))}
}

func pathNormalized(doc *dom.Document, text, path string) []*dom.Range {
	element := anchor.Resolve(doc.Root(), path)
	if element == nil {
		return nil
	}
	nodes := dom.RenderedTextNodes(element)
	if len(nodes) == 0 {
		return nil
	}
	var content strings.Builder
	for _, n := range nodes {
		content.WriteString(n.Data)
	}
	start, end, ok := anchor.NewNormalizedIndex(content.String()).Find(text)
	if !ok {
		return nil
	}
	base, err := doc.TextOffset(dom.Boundary{Node: nodes[0]})
	if err != nil {
		return nil
	}
	rng, err := doc.RangeAt(base+start, base+end)
	if err != nil {
		return nil
	}
	return []*dom.Range{rng}
}

func boundaryScan(doc *dom.Document, text, _ string) []*dom.Range {
	var candidates []*dom.Range
	for _, node := range dom.RenderedTextNodes(doc.Body()) {
		if strings.TrimSpace(node.Data) == "" {
			continue
		}
		for _, span := range occurrences(node.Data, text) {
			if isWordBoundary(node.Data, span[0], span[1]) {
				candidates = append(candidates, textRange(node, span[0], span[1]))
			}
		}
	}
	return candidates
}

func looseScan(doc *dom.Document, text, _ string) []*dom.Range {
	for _, node := range dom.RenderedTextNodes(doc.Body()) {
		if at := strings.Index(node.Data, text); at >= 0 {
			return []*dom.Range{textRange(node, at, at+len(text))}
		}
	}
	return nil
}

// nativeFind uses the document's find-in-page and always puts the previous
// selection back.
func nativeFind(doc *dom.Document, text, _ string) []*dom.Range {
	selection := doc.Selection()
	saved := selection.Save()
	defer selection.Restore(saved)

	selection.RemoveAllRanges()
	if !doc.Find(text) || selection.RangeCount() == 0 {
		return nil
	}
	return []*dom.Range{selection.RangeAt(0).Clone()}
}

// occurrences returns raw spans of text in data, first verbatim and then
// after whitespace normalization of data.
func occurrences(data, text string) [][2]int {
	var spans [][2]int
	seen := make(map[[2]int]bool)
	for from := 0; from <= len(data); {
		at := strings.Index(data[from:], text)
		if at < 0 {
			break
		}
		span := [2]int{from + at, from + at + len(text)}
		spans = append(spans, span)
		seen[span] = true
		from = span[0] + 1
	}
	needle := anchor.NormalizeText(text)
	if needle == "" {
		return spans
	}
	ix := anchor.NewNormalizedIndex(data)
	for from := 0; from <= len(ix.Text); {
		at := strings.Index(ix.Text[from:], needle)
		if at < 0 {
			break
		}
		start, end, ok := ix.RawSpan(from+at, from+at+len(needle))
		if ok && !seen[[2]int{start, end}] {
			spans = append(spans, [2]int{start, end})
			seen[[2]int{start, end}] = true
		}
		from += at + 1
	}
	return spans
}

func isWordBoundary(data string, start, end int) bool {
	if start > 0 {
		before, _ := utf8.DecodeLastRuneInString(data[:start])
		if !isBoundaryRune(before) {
			return false
		}
	}
	if end < len(data) {
		after, _ := utf8.DecodeRuneInString(data[end:])
		if !isBoundaryRune(after) {
			return false
		}
	}
	return true
}

func isBoundaryRune(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".,;:!?-()[]{}'\"", r)
}

func firstMeaningfulText(element *html.Node) *html.Node {
	for _, node := range dom.RenderedTextNodes(element) {
		if strings.TrimSpace(node.Data) != "" {
			return node
		}
	}
	return nil
}

func textRange(node *html.Node, start, end int) *dom.Range {
	return &dom.Range{
		Start: dom.Boundary{Node: node, Offset: start},
		End:   dom.Boundary{Node: node, Offset: end},
	}
}
