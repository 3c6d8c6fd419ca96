package dom

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Walk visits root and its descendants in document order. Returning false
// from visit skips the children of the visited node.
func Walk(root *html.Node, visit func(*html.Node) bool) {
	if root == nil {
		return
	}
	if !visit(root) {
		return
	}
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		Walk(c, visit)
		c = next
	}
}

// Attr returns the value of an attribute, or "" when absent.
func Attr(n *html.Node, name string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val
		}
	}
	return ""
}

// HasAttr reports whether the attribute is present.
func HasAttr(n *html.Node, name string) bool {
	if n == nil {
		return false
	}
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return true
		}
	}
	return false
}

// SetAttr sets or replaces an attribute.
func SetAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

// RemoveAttr deletes an attribute when present.
func RemoveAttr(n *html.Node, name string) {
	kept := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		kept = append(kept, a)
	}
	n.Attr = kept
}

// HasClass reports whether the class attribute lists class.
func HasClass(n *html.Node, class string) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, field := range strings.Fields(Attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

// NewElement creates a detached element.
func NewElement(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: atom.Lookup([]byte(tag)), Data: tag}
}

// NewText creates a detached text node.
func NewText(data string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: data}
}

// NewFragment creates an empty container used to hold extracted nodes.
func NewFragment() *html.Node {
	return &html.Node{Type: html.DocumentNode}
}

// TextContent concatenates the data of every text node under n.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for _, t := range TextNodes(n) {
		b.WriteString(t.Data)
	}
	return b.String()
}

// SetTextContent replaces all children of n with a single text node.
func SetTextContent(n *html.Node, text string) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
	if text != "" {
		n.AppendChild(NewText(text))
	}
}

// TextNodes returns every text node at or under root in document order.
func TextNodes(root *html.Node) []*html.Node {
	var nodes []*html.Node
	Walk(root, func(n *html.Node) bool {
		if n.Type == html.TextNode {
			nodes = append(nodes, n)
		}
		return true
	})
	return nodes
}

// RenderedTextNodes returns the text nodes at or under root that a browser
// would lay out, skipping scripts, styles, templates, form text and <head>.
func RenderedTextNodes(root *html.Node) []*html.Node {
	var nodes []*html.Node
	Walk(root, func(n *html.Node) bool {
		switch n.Type {
		case html.TextNode:
			nodes = append(nodes, n)
		case html.ElementNode:
			if !IsRendered(n) {
				return false
			}
		case html.CommentNode, html.DoctypeNode:
			return false
		}
		return true
	})
	return nodes
}

// IsRendered reports whether the contents of element n contribute to the
// visible text of the page.
func IsRendered(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return true
	}
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Textarea, atom.Title, atom.Head:
		return false
	}
	return true
}

// IsInclusiveAncestor reports whether ancestor is node or one of its ancestors.
func IsInclusiveAncestor(ancestor, node *html.Node) bool {
	for n := node; n != nil; n = n.Parent {
		if n == ancestor {
			return true
		}
	}
	return false
}

// ChildIndex returns the position of n among its siblings.
func ChildIndex(n *html.Node) int {
	index := 0
	for s := n.PrevSibling; s != nil; s = s.PrevSibling {
		index++
	}
	return index
}

// ChildAt returns the child at index, or nil when out of range.
func ChildAt(parent *html.Node, index int) *html.Node {
	i := 0
	for c := parent.FirstChild; c != nil; c = c.NextSibling {
		if i == index {
			return c
		}
		i++
	}
	return nil
}

// NodeLength is the DOM length of a node: bytes of data for character data,
// otherwise the number of children.
func NodeLength(n *html.Node) int {
	if isCharacterData(n) {
		return len(n.Data)
	}
	count := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		count++
	}
	return count
}

// SplitText splits a text node at offset and returns the new trailing node,
// inserted right after t.
func SplitText(t *html.Node, offset int) *html.Node {
	tail := NewText(t.Data[offset:])
	t.Data = t.Data[:offset]
	if t.Parent != nil {
		t.Parent.InsertBefore(tail, t.NextSibling)
	}
	return tail
}

// Normalize merges adjacent text nodes and drops empty ones under n.
func Normalize(n *html.Node) {
	if n == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode {
			if c.Data == "" {
				n.RemoveChild(c)
				c = next
				continue
			}
			for next != nil && next.Type == html.TextNode {
				c.Data += next.Data
				following := next.NextSibling
				n.RemoveChild(next)
				next = following
			}
		} else {
			Normalize(c)
		}
		c = next
	}
}

// Unwrap moves the children of n into its parent in place of n, removes n and
// normalizes the parent. It returns the parent.
func Unwrap(n *html.Node) (*html.Node, error) {
	parent := n.Parent
	if parent == nil || parent.Type == html.DocumentNode {
		return nil, ErrDetached
	}
	for n.FirstChild != nil {
		child := n.FirstChild
		n.RemoveChild(child)
		parent.InsertBefore(child, n)
	}
	parent.RemoveChild(n)
	Normalize(parent)
	return parent, nil
}

// RenderNode serializes n including its own tag.
func RenderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

// InnerHTML serializes the children of n.
func InnerHTML(n *html.Node) string {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return ""
		}
	}
	return buf.String()
}

func isCharacterData(n *html.Node) bool {
	return n.Type == html.TextNode || n.Type == html.CommentNode
}

func cloneShallow(n *html.Node) *html.Node {
	clone := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	clone.Attr = append([]html.Attribute(nil), n.Attr...)
	return clone
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func moveChildren(from, to *html.Node) {
	for from.FirstChild != nil {
		child := from.FirstChild
		from.RemoveChild(child)
		to.AppendChild(child)
	}
}
