package appearance

import (
	"errors"
	"strings"
	"testing"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

func TestHexToRGBA(t *testing.T) {
	testCases := []struct {
		name     string
		hex      string
		alpha    float64
		expected string
		ok       bool
	}{
		{name: "with hash", hex: "#ffff00", alpha: 0.25, expected: "rgba(255, 255, 0, 0.25)", ok: true},
		{name: "without hash", hex: "90EE90", alpha: 1, expected: "rgba(144, 238, 144, 1)", ok: true},
		{name: "light factor", hex: "#87CEEB", alpha: 0.25 * lightAlphaFactor, expected: "rgba(135, 206, 235, 0.15)", ok: true},
		{name: "short form rejected", hex: "#fff", alpha: 1},
		{name: "garbage rejected", hex: "tomato", alpha: 1},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			got, ok := HexToRGBA(testCase.hex, testCase.alpha)
			if ok != testCase.ok {
				t.Fatalf("expected ok=%v, got %v", testCase.ok, ok)
			}
			if got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestParseStyleMode(t *testing.T) {
	mode, err := ParseStyleMode(" Marker ")
	if err != nil || mode != StyleMarker {
		t.Fatalf("expected marker mode, got %q (%v)", mode, err)
	}
	if _, err := ParseStyleMode("neon"); !errors.Is(err, ErrInvalidStyle) {
		t.Fatalf("expected invalid style error, got %v", err)
	}
}

func TestMergeColorsKeepsOriginalOnError(t *testing.T) {
	base := Defaults()
	merged, err := base.MergeColors(map[string]string{"Yellow": "#ffd700", "purple": "#800080"})
	if err != nil {
		t.Fatalf("merge failed: %v", err)
	}
	if merged.Colors["yellow"] != "#ffd700" || merged.Colors["purple"] != "#800080" {
		t.Fatalf("unexpected merged colors %v", merged.Colors)
	}
	if base.Colors["yellow"] != "#ffff00" {
		t.Fatalf("expected base settings to stay untouched, got %v", base.Colors)
	}

	_, err = base.MergeColors(map[string]string{"green": "not-a-color"})
	if !errors.Is(err, ErrInvalidColorValue) {
		t.Fatalf("expected invalid color error, got %v", err)
	}
}

func TestSettingsClamp(t *testing.T) {
	settings := Defaults().WithOpacity(140).WithBorderRadius(-3)
	if settings.Opacity != 100 {
		t.Fatalf("expected opacity clamp to 100, got %d", settings.Opacity)
	}
	if settings.BorderRadius != 0 {
		t.Fatalf("expected radius clamp to 0, got %d", settings.BorderRadius)
	}
}

func TestApplyWritesAndReplacesStyleElements(t *testing.T) {
	doc, err := dom.ParseString("<html><head><title>t</title></head><body><p>text</p></body></html>")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if err := Apply(doc, Defaults()); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	colors := doc.ElementByID(sheetIDColors)
	if colors == nil {
		t.Fatalf("expected color style element in head")
	}
	css := dom.TextContent(colors)
	if !strings.Contains(css, ".hl-mark.hl-yellow { background: linear-gradient(135deg, rgba(255, 255, 0, 0.25), rgba(255, 255, 0, 0.15)) !important; }") {
		t.Fatalf("unexpected color rules:\n%s", css)
	}
	if !strings.Contains(dom.TextContent(doc.ElementByID(sheetIDRadius)), "border-radius: 6px") {
		t.Fatalf("expected default border radius rule")
	}

	updated := Defaults().WithOpacity(50).WithStyle(StyleUnderline)
	if err := Apply(doc, updated); err != nil {
		t.Fatalf("second apply failed: %v", err)
	}
	if count := len(doc.ElementsByAttr("id", sheetIDColors)); count != 1 {
		t.Fatalf("expected style element to be replaced, found %d", count)
	}
	if !strings.Contains(dom.TextContent(doc.ElementByID(sheetIDColors)), "rgba(255, 255, 0, 0.5)") {
		t.Fatalf("expected opacity change to reach color rules")
	}
	if !strings.Contains(dom.TextContent(doc.ElementByID(sheetIDMode)), "text-decoration: underline") {
		t.Fatalf("expected underline mode rules")
	}
	if dom.TextContent(doc.Body()) != "text" {
		t.Fatalf("expected body text to be untouched, got %q", dom.TextContent(doc.Body()))
	}
}
