// Package dom provides the in-memory document model the highlighting engine
// runs against: a parsed HTML tree, DOM-style ranges over it, a selection and
// a viewport.
package dom

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var (
	// ErrDetached indicates that a node is not attached to a parent where one is required.
	ErrDetached = errors.New("dom: node is detached")
	// ErrInvalidBoundary indicates a boundary offset outside the node length.
	ErrInvalidBoundary = errors.New("dom: invalid boundary point")
	// ErrInvalidRange indicates a range whose start follows its end.
	ErrInvalidRange = errors.New("dom: range start is after range end")
	// ErrHierarchy indicates a mutation that would produce an invalid tree.
	ErrHierarchy = errors.New("dom: hierarchy request error")
	// ErrInvalidState indicates a range that partially selects a non-text node.
	ErrInvalidState = errors.New("dom: range partially selects a non-text node")
	// ErrNotRendered indicates a boundary that lies outside the rendered text of the body.
	ErrNotRendered = errors.New("dom: boundary is outside rendered text")
)

// Document wraps a parsed HTML tree together with the page-level state a
// browser would keep for it.
type Document struct {
	root      *html.Node
	selection *Selection
	viewport  Viewport
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return NewDocument(root), nil
}

// ParseString parses an HTML document held in memory.
func ParseString(source string) (*Document, error) {
	return Parse(strings.NewReader(source))
}

// NewDocument wraps an existing tree.
func NewDocument(root *html.Node) *Document {
	return &Document{
		root:      root,
		selection: &Selection{},
		viewport:  &StaticViewport{},
	}
}

// Root returns the document node.
func (d *Document) Root() *html.Node {
	return d.root
}

// Body returns the body element, or the root when the tree has none.
func (d *Document) Body() *html.Node {
	if body := findFirst(d.root, atom.Body); body != nil {
		return body
	}
	return d.root
}

// Head returns the head element, creating it under <html> when missing.
func (d *Document) Head() *html.Node {
	if head := findFirst(d.root, atom.Head); head != nil {
		return head
	}
	head := &html.Node{Type: html.ElementNode, DataAtom: atom.Head, Data: "head"}
	parent := findFirst(d.root, atom.Html)
	if parent == nil {
		parent = d.root
	}
	parent.InsertBefore(head, parent.FirstChild)
	return head
}

// Selection returns the document selection.
func (d *Document) Selection() *Selection {
	return d.selection
}

// Viewport returns the scroll state of the document.
func (d *Document) Viewport() Viewport {
	return d.viewport
}

// SetViewport replaces the viewport implementation.
func (d *Document) SetViewport(viewport Viewport) {
	if viewport != nil {
		d.viewport = viewport
	}
}

// Contains reports whether the node is attached to this document.
func (d *Document) Contains(n *html.Node) bool {
	return n != nil && IsInclusiveAncestor(d.root, n)
}

// Render serializes the whole document.
func (d *Document) Render() (string, error) {
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// ElementByID returns the first element with the given id attribute.
func (d *Document) ElementByID(id string) *html.Node {
	if id == "" {
		return nil
	}
	var found *html.Node
	Walk(d.root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && Attr(n, "id") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// ElementsByAttr returns all elements carrying the attribute with the given value.
func (d *Document) ElementsByAttr(name, value string) []*html.Node {
	var matches []*html.Node
	Walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && HasAttr(n, name) && Attr(n, name) == value {
			matches = append(matches, n)
		}
		return true
	})
	return matches
}

// ElementsByClass returns all elements whose class list contains class.
func (d *Document) ElementsByClass(class string) []*html.Node {
	var matches []*html.Node
	Walk(d.root, func(n *html.Node) bool {
		if n.Type == html.ElementNode && HasClass(n, class) {
			matches = append(matches, n)
		}
		return true
	})
	return matches
}

func findFirst(root *html.Node, a atom.Atom) *html.Node {
	var found *html.Node
	Walk(root, func(n *html.Node) bool {
		if found != nil {
			return false
		}
		if n.Type == html.ElementNode && n.DataAtom == a {
			found = n
			return false
		}
		return true
	})
	return found
}
