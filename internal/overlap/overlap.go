// Package overlap finds the highlights a new highlight would collide with.
package overlap

import (
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
	"github.com/MarcoPoloResearchLab/highlighter/internal/mutate"
)

// Remover deletes a highlight: its marker and its record.
type Remover interface {
	RemoveByID(id string) bool
}

// Entry is the part of a stored highlight duplicate detection needs.
type Entry struct {
	ID   string
	Text string
}

// Resolver clears the way for a new highlight.
type Resolver struct {
	doc     *dom.Document
	remover Remover
	logger  *zap.Logger
}

// NewResolver builds a Resolver removing through remover.
func NewResolver(doc *dom.Document, remover Remover, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{doc: doc, remover: remover, logger: logger}
}

// FindOverlapping returns the distinct ids of markers whose span intersects
// rng, in document order.
func (r *Resolver) FindOverlapping(rng *dom.Range) []string {
	if rng == nil {
		return nil
	}
	body := r.doc.Body()
	var ids []string
	seen := make(map[string]bool)
	for _, n := range rng.IntersectingNodes() {
		marker := mutate.EnclosingMarker(n, body)
		if marker == nil {
			continue
		}
		id := mutate.MarkerID(marker)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// FindDuplicates returns the ids of entries whose normalized text equals the
// normalized text.
func FindDuplicates(entries []Entry, text string) []string {
	needle := anchor.NormalizeText(text)
	if needle == "" {
		return nil
	}
	var ids []string
	for _, entry := range entries {
		if anchor.NormalizeText(entry.Text) == needle {
			ids = append(ids, entry.ID)
		}
	}
	return ids
}

// Resolve removes every highlight intersecting rng and every highlight whose
// text duplicates text. It returns the removed ids.
func (r *Resolver) Resolve(rng *dom.Range, text string, entries []Entry) []string {
	candidates := append(r.FindOverlapping(rng), FindDuplicates(entries, text)...)
	var removed []string
	seen := make(map[string]bool)
	for _, id := range candidates {
		if seen[id] {
			continue
		}
		seen[id] = true
		if r.remover.RemoveByID(id) {
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		r.logger.Debug("removed colliding highlights", zap.Strings("highlight_ids", removed))
	}
	return removed
}
