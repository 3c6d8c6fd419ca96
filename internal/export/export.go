// Package export converts highlight records to and from portable files.
package export

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"gopkg.in/yaml.v3"

	"github.com/MarcoPoloResearchLab/highlighter/internal/anchor"
	"github.com/MarcoPoloResearchLab/highlighter/internal/highlights"
)

// Format is an export file format.
type Format string

const (
	FormatJSON     Format = "json"
	FormatYAML     Format = "yaml"
	FormatMarkdown Format = "markdown"
)

var (
	// ErrUnknownFormat indicates an unsupported export format.
	ErrUnknownFormat = errors.New("export: unknown format")
	// ErrInvalidImport indicates an import file without a highlight list.
	ErrInvalidImport = errors.New("export: invalid import payload")
)

// Payload is the exported document of one page.
type Payload struct {
	URL        string              `json:"url" yaml:"url"`
	Highlights []highlights.Record `json:"highlights" yaml:"highlights"`
	ExportDate string              `json:"exportDate" yaml:"exportDate"`
}

// NewPayload stamps records of pageURL with the export time.
func NewPayload(pageURL string, records []highlights.Record, now time.Time) Payload {
	if records == nil {
		records = []highlights.Record{}
	}
	return Payload{
		URL:        pageURL,
		Highlights: records,
		ExportDate: now.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	}
}

// ParseFormat validates a format name; an empty name selects JSON.
func ParseFormat(raw string) (Format, error) {
	switch format := Format(strings.ToLower(strings.TrimSpace(raw))); format {
	case "":
		return FormatJSON, nil
	case FormatJSON, FormatYAML, FormatMarkdown:
		return format, nil
	case "md":
		return FormatMarkdown, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	switch f {
	case FormatYAML:
		return "application/yaml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Encode renders payload in format.
func Encode(payload Payload, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(payload, "", "  ")
	case FormatYAML:
		return yaml.Marshal(payload)
	case FormatMarkdown:
		markdown, err := Markdown(payload)
		if err != nil {
			return nil, err
		}
		return []byte(markdown), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}

// Markdown renders the highlights as a quoted list.
func Markdown(payload Payload) (string, error) {
	var source strings.Builder
	source.WriteString("<h1>Highlights</h1>")
	if payload.URL != "" {
		escaped := html.EscapeString(payload.URL)
		fmt.Fprintf(&source, `<p><a href="%s">%s</a></p>`, escaped, escaped)
	}
	for _, record := range payload.Highlights {
		fmt.Fprintf(&source, "<blockquote><p>%s</p></blockquote>", html.EscapeString(record.Text))
		fmt.Fprintf(&source, "<p><em>%s, %s</em></p>",
			html.EscapeString(record.Color.String()),
			record.CreatedAt().Format("2006-01-02 15:04"))
	}
	markdownConverter := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
		),
	)
	return markdownConverter.ConvertString(source.String())
}

// ImportRecord accepts the current record shape and legacy records that
// carry the structural path as "xpath".
type ImportRecord struct {
	ID        string        `json:"id" yaml:"id"`
	Text      string        `json:"text" yaml:"text"`
	Color     string        `json:"color" yaml:"color"`
	Timestamp int64         `json:"timestamp" yaml:"timestamp"`
	Anchor    anchor.Anchor `json:"anchor" yaml:"anchor"`
	XPath     string        `json:"xpath" yaml:"xpath"`
	Offset    int           `json:"offset" yaml:"offset"`
	Length    int           `json:"length" yaml:"length"`
}

type importPayload struct {
	URL        string         `json:"url" yaml:"url"`
	Highlights []ImportRecord `json:"highlights" yaml:"highlights"`
}

// ParseImport reads a JSON or YAML export file. Colors are not validated
// here; the store falls back to the default color.
func ParseImport(data []byte) ([]highlights.Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, ErrInvalidImport
	}
	var payload importPayload
	if trimmed[0] == '{' || trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &payload); err != nil {
			var list []ImportRecord
			if listErr := json.Unmarshal(trimmed, &list); listErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
			}
			payload.Highlights = list
		}
	} else if err := yaml.Unmarshal(trimmed, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if payload.Highlights == nil {
		return nil, ErrInvalidImport
	}
	return ToRecords(payload.Highlights), nil
}

// ToRecords converts decoded import entries.
func ToRecords(entries []ImportRecord) []highlights.Record {
	records := make([]highlights.Record, 0, len(entries))
	for _, entry := range entries {
		path := entry.Anchor.Path
		if path == "" {
			path = entry.XPath
		}
		records = append(records, highlights.Record{
			ID:        entry.ID,
			Text:      entry.Text,
			Color:     highlights.Color(entry.Color),
			Timestamp: entry.Timestamp,
			Anchor:    anchor.Anchor{Path: path, Text: entry.Text},
			Offset:    entry.Offset,
			Length:    entry.Length,
		})
	}
	return records
}

// Filter keeps records whose text contains query, case-insensitively, and
// whose color matches color. Empty arguments and "all" match everything.
func Filter(records []highlights.Record, query, color string) []highlights.Record {
	needle := strings.ToLower(anchor.NormalizeText(query))
	color = strings.ToLower(strings.TrimSpace(color))
	filtered := make([]highlights.Record, 0, len(records))
	for _, record := range records {
		if color != "" && color != "all" && record.Color.String() != color {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(record.Text), needle) {
			continue
		}
		filtered = append(filtered, record)
	}
	return filtered
}
