// Package highlights owns the highlight records of one document: creation,
// removal, import, debounced persistence and restore after reload.
package highlights

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
)

// Color is a logical highlight color. Display values are configured
// separately; records only carry the name.
type Color string

const (
	ColorYellow Color = "yellow"
	ColorGreen  Color = "green"
	ColorBlue   Color = "blue"
	ColorRed    Color = "red"
)

var (
	// ErrInvalidColor indicates a color outside the palette.
	ErrInvalidColor = errors.New("highlights: invalid color")
	// ErrInvalidSelection indicates an empty, whitespace-only or collapsed selection.
	ErrInvalidSelection = errors.New("highlights: invalid selection")
	// ErrNotFound indicates that the selected text could not be found in the document.
	ErrNotFound = errors.New("highlights: text not found")
	// ErrLimitReached indicates that the page already holds the maximum number of highlights.
	ErrLimitReached = errors.New("highlights: highlight limit reached")
)

// Palette lists the colors in display order.
func Palette() []Color {
	return []Color{ColorYellow, ColorGreen, ColorBlue, ColorRed}
}

// ParseColor validates a color name.
func ParseColor(raw string) (Color, error) {
	candidate := Color(strings.ToLower(strings.TrimSpace(raw)))
	for _, color := range Palette() {
		if candidate == color {
			return color, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidColor, raw)
}

// String returns the color name.
func (c Color) String() string {
	return string(c)
}

// Record is one persisted highlight.
type Record struct {
	ID        string        `json:"id" yaml:"id"`
	Text      string        `json:"text" yaml:"text"`
	Color     Color         `json:"color" yaml:"color"`
	Timestamp int64         `json:"timestamp" yaml:"timestamp"`
	Anchor    anchor.Anchor `json:"anchor" yaml:"anchor"`
	Offset    int           `json:"offset" yaml:"offset"`
	Length    int           `json:"length" yaml:"length"`
}

// CreatedAt converts the millisecond timestamp.
func (r Record) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

// Persistence loads and saves the records of one page.
type Persistence interface {
	Load(ctx context.Context) ([]Record, error)
	Save(ctx context.Context, records []Record) error
}

// IDProvider issues record identifiers.
type IDProvider interface {
	NewID() (string, error)
}

type uuidProvider struct{}

// NewUUIDProvider constructs an IDProvider that issues UUIDv7 identifiers.
func NewUUIDProvider() IDProvider {
	return &uuidProvider{}
}

func (p *uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}
