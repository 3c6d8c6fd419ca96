package dom

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// NewSanitizePolicy returns the policy applied to documents opened from
// untrusted sources. It keeps user generated content markup plus the
// attributes highlight anchoring depends on.
func NewSanitizePolicy() *bluemonday.Policy {
	policy := bluemonday.UGCPolicy()
	policy.AllowAttrs("id", "class", "title").Globally()
	policy.AllowDataAttributes()
	return policy
}

// Sanitize rewrites the body through policy.
func (d *Document) Sanitize(policy *bluemonday.Policy) error {
	if policy == nil {
		return nil
	}
	body := d.Body()
	if body.Type != html.ElementNode {
		return ErrDetached
	}
	cleaned := policy.Sanitize(InnerHTML(body))
	nodes, err := html.ParseFragment(strings.NewReader(cleaned), body)
	if err != nil {
		return fmt.Errorf("parse sanitized body: %w", err)
	}
	for body.FirstChild != nil {
		body.RemoveChild(body.FirstChild)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return nil
}
