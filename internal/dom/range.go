package dom

import (
	"cmp"
	"strings"

	"golang.org/x/net/html"
)

// Boundary is a DOM boundary point. For character data the offset counts
// bytes of Data; for other nodes it counts children.
type Boundary struct {
	Node   *html.Node
	Offset int
}

func (b Boundary) validate() error {
	if b.Node == nil {
		return ErrInvalidBoundary
	}
	if b.Offset < 0 || b.Offset > NodeLength(b.Node) {
		return ErrInvalidBoundary
	}
	return nil
}

// Range is a span between two boundary points of the same tree. Unlike a
// browser range it is not live: callers that mutate the tree re-derive
// ranges instead of relying on automatic adjustment.
type Range struct {
	Start Boundary
	End   Boundary
}

// NewRange validates both boundaries and their order.
func NewRange(start, end Boundary) (*Range, error) {
	if err := start.validate(); err != nil {
		return nil, err
	}
	if err := end.validate(); err != nil {
		return nil, err
	}
	if ComparePoints(start, end) > 0 {
		return nil, ErrInvalidRange
	}
	return &Range{Start: start, End: end}, nil
}

// SelectNodeContents returns a range spanning the contents of n.
func SelectNodeContents(n *html.Node) *Range {
	return &Range{Start: Boundary{Node: n}, End: Boundary{Node: n, Offset: NodeLength(n)}}
}

// SelectNode returns a range spanning n itself inside its parent.
func SelectNode(n *html.Node) (*Range, error) {
	if n.Parent == nil {
		return nil, ErrDetached
	}
	index := ChildIndex(n)
	return &Range{
		Start: Boundary{Node: n.Parent, Offset: index},
		End:   Boundary{Node: n.Parent, Offset: index + 1},
	}, nil
}

// ComparePoints orders two boundary points of the same tree: -1 when a is
// before b, 0 when equal, 1 when after.
func ComparePoints(a, b Boundary) int {
	if a.Node == b.Node {
		return cmp.Compare(a.Offset, b.Offset)
	}
	ka, kb := boundaryKey(a), boundaryKey(b)
	for i := 0; i < len(ka) && i < len(kb); i++ {
		if ka[i] != kb[i] {
			return cmp.Compare(ka[i], kb[i])
		}
	}
	return cmp.Compare(len(ka), len(kb))
}

// boundaryKey is the child-index path from the root to the boundary node
// followed by the offset. A shorter key that prefixes a longer one sorts first,
// which matches DOM ordering for a point in an ancestor placed before the
// child holding the other point.
func boundaryKey(b Boundary) []int {
	var path []int
	for n := b.Node; n.Parent != nil; n = n.Parent {
		path = append(path, ChildIndex(n))
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return append(path, b.Offset)
}

// Clone returns an independent copy.
func (r *Range) Clone() *Range {
	clone := *r
	return &clone
}

// Collapsed reports whether start and end are the same point.
func (r *Range) Collapsed() bool {
	return ComparePoints(r.Start, r.End) == 0
}

// CommonAncestor returns the deepest node containing both boundary nodes.
func (r *Range) CommonAncestor() *html.Node {
	for n := r.Start.Node; n != nil; n = n.Parent {
		if IsInclusiveAncestor(n, r.End.Node) {
			return n
		}
	}
	return nil
}

// StartElement returns the element holding the start boundary.
func (r *Range) StartElement() *html.Node {
	n := r.Start.Node
	if n.Type != html.ElementNode {
		n = n.Parent
	}
	return n
}

// String returns the rendered text selected by the range. Text inside
// scripts, styles and other non-rendered elements is left out.
func (r *Range) String() string {
	if r.Start.Node == r.End.Node && r.Start.Node.Type == html.TextNode {
		if !isRenderedText(r.Start.Node) {
			return ""
		}
		return r.Start.Node.Data[r.Start.Offset:r.End.Offset]
	}
	root := r.CommonAncestor()
	if root == nil || !isRenderedText(root) || !IsRendered(root) {
		return ""
	}
	var b strings.Builder
	for _, t := range RenderedTextNodes(root) {
		lo, hi := 0, len(t.Data)
		if ComparePoints(Boundary{Node: t}, r.Start) < 0 {
			if r.Start.Node != t {
				continue
			}
			lo = r.Start.Offset
		}
		if ComparePoints(Boundary{Node: t, Offset: len(t.Data)}, r.End) > 0 {
			if r.End.Node != t {
				continue
			}
			hi = r.End.Offset
		}
		if lo < hi {
			b.WriteString(t.Data[lo:hi])
		}
	}
	return b.String()
}

// IntersectsNode reports whether the node's own span strictly overlaps the
// range. Text nodes span their contents; other nodes span themselves in their
// parent. Merely touching spans do not intersect.
func (r *Range) IntersectsNode(n *html.Node) bool {
	var nodeRange *Range
	if n.Type == html.TextNode {
		nodeRange = SelectNodeContents(n)
	} else {
		selected, err := SelectNode(n)
		if err != nil {
			return true
		}
		nodeRange = selected
	}
	return ComparePoints(nodeRange.End, r.Start) > 0 && ComparePoints(nodeRange.Start, r.End) < 0
}

// ContainsNode reports whether n lies entirely inside the range.
func (r *Range) ContainsNode(n *html.Node) bool {
	if n.Parent == nil {
		return false
	}
	index := ChildIndex(n)
	return ComparePoints(Boundary{Node: n.Parent, Offset: index}, r.Start) >= 0 &&
		ComparePoints(Boundary{Node: n.Parent, Offset: index + 1}, r.End) <= 0
}

// PartiallyContained returns the nodes that hold exactly one of the two
// boundary points.
func (r *Range) PartiallyContained() []*html.Node {
	var nodes []*html.Node
	for n := r.Start.Node; n != nil && !IsInclusiveAncestor(n, r.End.Node); n = n.Parent {
		nodes = append(nodes, n)
	}
	for n := r.End.Node; n != nil && !IsInclusiveAncestor(n, r.Start.Node); n = n.Parent {
		nodes = append(nodes, n)
	}
	return nodes
}

// IntersectingNodes returns every node at or under the common ancestor whose
// span intersects the range, in document order.
func (r *Range) IntersectingNodes() []*html.Node {
	var nodes []*html.Node
	Walk(r.CommonAncestor(), func(n *html.Node) bool {
		if r.IntersectsNode(n) {
			nodes = append(nodes, n)
		}
		return true
	})
	return nodes
}

// ExtractContents moves the selected contents into a fragment. Partially
// selected nodes are split: the fragment receives shallow clones holding the
// selected part. The range collapses to where the contents were.
func (r *Range) ExtractContents() (*html.Node, error) {
	fragment := NewFragment()
	if r.Collapsed() {
		return fragment, nil
	}
	sn, so, en, eo := r.Start.Node, r.Start.Offset, r.End.Node, r.End.Offset

	if sn == en && isCharacterData(sn) {
		clone := cloneShallow(sn)
		clone.Data = sn.Data[so:eo]
		fragment.AppendChild(clone)
		sn.Data = sn.Data[:so] + sn.Data[eo:]
		r.End = r.Start
		return fragment, nil
	}

	common := r.CommonAncestor()
	if common == nil {
		return nil, ErrDetached
	}
	firstPartial, lastPartial := r.partialChildren(common)

	var contained []*html.Node
	for c := common.FirstChild; c != nil; c = c.NextSibling {
		if r.ContainsNode(c) {
			if c.Type == html.DoctypeNode {
				return nil, ErrHierarchy
			}
			contained = append(contained, c)
		}
	}

	collapseTo := r.collapsePoint()

	if firstPartial != nil {
		clone := cloneShallow(firstPartial)
		if isCharacterData(firstPartial) {
			clone.Data = sn.Data[so:]
			sn.Data = sn.Data[:so]
			fragment.AppendChild(clone)
		} else {
			fragment.AppendChild(clone)
			sub := &Range{Start: Boundary{Node: sn, Offset: so}, End: Boundary{Node: firstPartial, Offset: NodeLength(firstPartial)}}
			subFragment, err := sub.ExtractContents()
			if err != nil {
				return nil, err
			}
			moveChildren(subFragment, clone)
		}
	}

	for _, c := range contained {
		common.RemoveChild(c)
		fragment.AppendChild(c)
	}

	if lastPartial != nil {
		clone := cloneShallow(lastPartial)
		if isCharacterData(lastPartial) {
			clone.Data = en.Data[:eo]
			en.Data = en.Data[eo:]
			fragment.AppendChild(clone)
		} else {
			fragment.AppendChild(clone)
			sub := &Range{Start: Boundary{Node: lastPartial}, End: Boundary{Node: en, Offset: eo}}
			subFragment, err := sub.ExtractContents()
			if err != nil {
				return nil, err
			}
			moveChildren(subFragment, clone)
		}
	}

	r.Start = collapseTo
	r.End = collapseTo
	return fragment, nil
}

// DeleteContents removes the selected contents without cloning partially
// selected elements; only partially selected text is truncated.
func (r *Range) DeleteContents() error {
	if r.Collapsed() {
		return nil
	}
	sn, so, en, eo := r.Start.Node, r.Start.Offset, r.End.Node, r.End.Offset
	if sn == en && isCharacterData(sn) {
		sn.Data = sn.Data[:so] + sn.Data[eo:]
		r.End = r.Start
		return nil
	}
	common := r.CommonAncestor()
	if common == nil {
		return ErrDetached
	}

	var doomed []*html.Node
	var visit func(*html.Node)
	visit = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if r.ContainsNode(c) {
				doomed = append(doomed, c)
				continue
			}
			if r.IntersectsNode(c) {
				visit(c)
			}
		}
	}
	visit(common)

	collapseTo := r.collapsePoint()
	if isCharacterData(sn) {
		sn.Data = sn.Data[:so]
	}
	for _, n := range doomed {
		detach(n)
	}
	if isCharacterData(en) {
		en.Data = en.Data[eo:]
	}
	r.Start = collapseTo
	r.End = collapseTo
	return nil
}

// InsertNode inserts n at the start of the range, splitting a text start
// container when needed. A collapsed range grows to include the node.
func (r *Range) InsertNode(n *html.Node) error {
	if n.Type == html.DocumentNode || n.Type == html.DoctypeNode {
		return ErrHierarchy
	}
	sn, so := r.Start.Node, r.Start.Offset
	wasCollapsed := r.Collapsed()

	var parent, reference *html.Node
	switch sn.Type {
	case html.TextNode:
		parent = sn.Parent
		if parent == nil {
			return ErrDetached
		}
		switch {
		case so == 0:
			reference = sn
		case so >= len(sn.Data):
			reference = sn.NextSibling
		default:
			splitIndex := ChildIndex(sn)
			reference = SplitText(sn, so)
			if r.End.Node == sn && r.End.Offset > so {
				r.End = Boundary{Node: reference, Offset: r.End.Offset - so}
			} else if r.End.Node == parent && r.End.Offset > splitIndex {
				r.End.Offset++
			}
		}
	case html.CommentNode:
		return ErrHierarchy
	default:
		parent = sn
		reference = ChildAt(sn, so)
	}
	if IsInclusiveAncestor(n, parent) {
		return ErrHierarchy
	}
	detach(n)
	parent.InsertBefore(n, reference)
	if !wasCollapsed && r.End.Node == parent && r.End.Offset > ChildIndex(n) {
		r.End.Offset++
	}
	if wasCollapsed {
		index := ChildIndex(n)
		r.Start = Boundary{Node: parent, Offset: index}
		r.End = Boundary{Node: parent, Offset: index + 1}
	}
	return nil
}

// SurroundContents wraps the selected contents in wrapper without splitting
// any element: it fails when a non-text node is partially selected.
func (r *Range) SurroundContents(wrapper *html.Node) error {
	for _, n := range r.PartiallyContained() {
		if n.Type != html.TextNode {
			return ErrInvalidState
		}
	}
	if wrapper.Type != html.ElementNode {
		return ErrHierarchy
	}
	fragment, err := r.ExtractContents()
	if err != nil {
		return err
	}
	for wrapper.FirstChild != nil {
		wrapper.RemoveChild(wrapper.FirstChild)
	}
	if err := r.InsertNode(wrapper); err != nil {
		return err
	}
	moveChildren(fragment, wrapper)
	selected, err := SelectNode(wrapper)
	if err == nil {
		*r = *selected
	}
	return nil
}

// partialChildren returns the children of common that hold only the start
// point and only the end point respectively.
func (r *Range) partialChildren(common *html.Node) (*html.Node, *html.Node) {
	var first, last *html.Node
	if !IsInclusiveAncestor(r.Start.Node, r.End.Node) {
		for c := common.FirstChild; c != nil; c = c.NextSibling {
			if IsInclusiveAncestor(c, r.Start.Node) {
				first = c
				break
			}
		}
	}
	if !IsInclusiveAncestor(r.End.Node, r.Start.Node) {
		for c := common.LastChild; c != nil; c = c.PrevSibling {
			if IsInclusiveAncestor(c, r.End.Node) {
				last = c
				break
			}
		}
	}
	return first, last
}

func (r *Range) collapsePoint() Boundary {
	if IsInclusiveAncestor(r.Start.Node, r.End.Node) {
		return r.Start
	}
	reference := r.Start.Node
	for reference.Parent != nil && !IsInclusiveAncestor(reference.Parent, r.End.Node) {
		reference = reference.Parent
	}
	return Boundary{Node: reference.Parent, Offset: ChildIndex(reference) + 1}
}
