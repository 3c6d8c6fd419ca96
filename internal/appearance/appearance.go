// Package appearance renders highlight display settings into style
// elements of a document.
package appearance

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
	"github.com/MarcoPoloResearchLab/highlighter/internal/mutate"
)

// StyleMode selects how markers are drawn.
type StyleMode string

const (
	StyleSmooth    StyleMode = "smooth"
	StyleBold      StyleMode = "bold"
	StyleUnderline StyleMode = "underline"
	StyleBox       StyleMode = "box"
	StyleMarker    StyleMode = "marker"

	DefaultOpacity      = 25
	DefaultBorderRadius = 6
	maxBorderRadius     = 64
	lightAlphaFactor    = 0.6

	sheetIDColors = "hl-colors-style"
	sheetIDRadius = "hl-border-radius-style"
	sheetIDMode   = "hl-highlight-style"
	sheetIDFocus  = "hl-focus-style"
)

var (
	// ErrInvalidColorValue indicates a color value that is not #rrggbb.
	ErrInvalidColorValue = errors.New("appearance: invalid color value")
	// ErrInvalidStyle indicates an unknown style mode.
	ErrInvalidStyle = errors.New("appearance: invalid style mode")

	hexColorPattern  = regexp.MustCompile(`^#?([0-9a-fA-F]{2})([0-9a-fA-F]{2})([0-9a-fA-F]{2})$`)
	colorNamePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
)

// Settings is the appearance of the markers in one document.
type Settings struct {
	Colors       map[string]string `json:"colors" yaml:"colors"`
	Opacity      int               `json:"opacity" yaml:"opacity"`
	BorderRadius int               `json:"borderRadius" yaml:"borderRadius"`
	Style        StyleMode         `json:"style" yaml:"style"`
}

// Defaults returns the initial appearance.
func Defaults() Settings {
	return Settings{
		Colors: map[string]string{
			"yellow": "#ffff00",
			"green":  "#90EE90",
			"blue":   "#87CEEB",
			"red":    "#FFB6C1",
		},
		Opacity:      DefaultOpacity,
		BorderRadius: DefaultBorderRadius,
		Style:        StyleSmooth,
	}
}

// ParseStyleMode validates a style mode name.
func ParseStyleMode(raw string) (StyleMode, error) {
	switch mode := StyleMode(strings.ToLower(strings.TrimSpace(raw))); mode {
	case StyleSmooth, StyleBold, StyleUnderline, StyleBox, StyleMarker:
		return mode, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStyle, raw)
}

// HexToRGBA converts #rrggbb into a CSS rgba() value.
func HexToRGBA(hex string, alpha float64) (string, bool) {
	match := hexColorPattern.FindStringSubmatch(strings.TrimSpace(hex))
	if match == nil {
		return "", false
	}
	channels := make([]int64, 3)
	for index := range channels {
		value, err := strconv.ParseInt(match[index+1], 16, 0)
		if err != nil {
			return "", false
		}
		channels[index] = value
	}
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", channels[0], channels[1], channels[2], formatAlpha(alpha)), true
}

// Clone returns a deep copy.
func (s Settings) Clone() Settings {
	clone := s
	clone.Colors = make(map[string]string, len(s.Colors))
	for name, value := range s.Colors {
		clone.Colors[name] = value
	}
	return clone
}

// MergeColors overlays custom color values onto the map. Invalid entries
// are rejected as a whole.
func (s Settings) MergeColors(custom map[string]string) (Settings, error) {
	merged := s.Clone()
	for name, value := range custom {
		key := strings.ToLower(strings.TrimSpace(name))
		if !colorNamePattern.MatchString(key) {
			return s, fmt.Errorf("%w: name %q", ErrInvalidColorValue, name)
		}
		if _, ok := HexToRGBA(value, 1); !ok {
			return s, fmt.Errorf("%w: %q", ErrInvalidColorValue, value)
		}
		merged.Colors[key] = strings.TrimSpace(value)
	}
	return merged, nil
}

// WithOpacity returns s with the opacity percent clamped to 0..100.
func (s Settings) WithOpacity(percent int) Settings {
	clone := s.Clone()
	clone.Opacity = clamp(percent, 0, 100)
	return clone
}

// WithBorderRadius returns s with the radius in pixels.
func (s Settings) WithBorderRadius(pixels int) Settings {
	clone := s.Clone()
	clone.BorderRadius = clamp(pixels, 0, maxBorderRadius)
	return clone
}

// WithStyle returns s drawn in mode.
func (s Settings) WithStyle(mode StyleMode) Settings {
	clone := s.Clone()
	clone.Style = mode
	return clone
}

// Sheet is one generated style element.
type Sheet struct {
	ID  string
	CSS string
}

// Sheets renders the settings into style sheets in a stable order.
func (s Settings) Sheets() []Sheet {
	return []Sheet{
		{ID: sheetIDColors, CSS: s.colorRules()},
		{ID: sheetIDRadius, CSS: fmt.Sprintf("%s { border-radius: %dpx !important; }\n", markerSelector(), s.BorderRadius)},
		{ID: sheetIDMode, CSS: s.modeRules()},
		{ID: sheetIDFocus, CSS: fmt.Sprintf("%s[%s] { outline: 2px solid #ff9800 !important; outline-offset: 1px; }\n", markerSelector(), highlights.FocusAttribute)},
	}
}

// Apply writes the style sheets into the head of doc, replacing the ones a
// previous call wrote.
func Apply(doc *dom.Document, settings Settings) error {
	head := doc.Head()
	if head == nil {
		return errors.New("appearance: document has no head")
	}
	for _, sheet := range settings.Sheets() {
		element := doc.ElementByID(sheet.ID)
		if element == nil {
			element = dom.NewElement("style")
			dom.SetAttr(element, "id", sheet.ID)
			head.AppendChild(element)
		}
		dom.SetTextContent(element, sheet.CSS)
	}
	return nil
}

func (s Settings) colorRules() string {
	names := make([]string, 0, len(s.Colors))
	for name := range s.Colors {
		names = append(names, name)
	}
	sort.Strings(names)

	alpha := float64(s.Opacity) / 100
	var rules strings.Builder
	for _, name := range names {
		strong, ok := HexToRGBA(s.Colors[name], alpha)
		if !ok {
			continue
		}
		light, _ := HexToRGBA(s.Colors[name], alpha*lightAlphaFactor)
		fmt.Fprintf(&rules, "%s.%s%s { background: linear-gradient(135deg, %s, %s) !important; }\n",
			markerSelector(), mutate.ColorClassPrefix, name, strong, light)
	}
	return rules.String()
}

func (s Settings) modeRules() string {
	selector := markerSelector()
	switch s.Style {
	case StyleBold:
		return selector + " { font-weight: bold !important; background-size: 100% 4px !important; }\n"
	case StyleUnderline:
		return selector + " { text-decoration: underline !important; text-decoration-thickness: 3px !important; background: transparent !important; }\n"
	case StyleBox:
		return selector + " { border: 2px solid currentColor !important; background: transparent !important; padding: 2px 4px !important; }\n"
	case StyleMarker:
		return selector + " { background-image: linear-gradient(transparent 40%, currentColor 40%, currentColor 80%, transparent 80%) !important; " +
			"background-size: 100% 1.2em !important; background-repeat: no-repeat !important; background-position: 0 0 !important; }\n"
	default:
		return ""
	}
}

func markerSelector() string {
	return "." + mutate.MarkerClass
}

func formatAlpha(alpha float64) string {
	return strconv.FormatFloat(math.Round(alpha*1000)/1000, 'f', -1, 64)
}

func clamp(value, low, high int) int {
	if value < low {
		return low
	}
	if value > high {
		return high
	}
	return value
}
