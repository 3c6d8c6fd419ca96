// Package pages persists highlight records per user and page.
package pages

import (
	"encoding/base64"
	"net/url"
	"strings"
)

// KeyPrefix starts every page key.
const KeyPrefix = "highlights_"

// DeriveKey maps a page URL to its storage key. Query and fragment do not
// take part, so every view of the same document shares its highlights.
func DeriveKey(rawURL string) string {
	source := strings.TrimSpace(rawURL)
	parsed, err := url.Parse(source)
	if err == nil && parsed.Scheme != "" {
		path := parsed.EscapedPath()
		if path == "" {
			path = "/"
		}
		source = strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host) + path
	} else if cut := strings.IndexAny(source, "?#"); cut >= 0 {
		source = source[:cut]
	}
	return KeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(source))
}
