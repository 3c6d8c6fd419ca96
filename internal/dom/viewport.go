package dom

import "golang.org/x/net/html"

const estimatedLineHeight = 20

// Viewport is the scroll state of a document.
type Viewport interface {
	ScrollPosition() (x, y int)
	ScrollTo(x, y int)
	ScrollIntoView(n *html.Node)
}

// StaticViewport is a Viewport without layout. ScrollIntoView estimates a
// vertical position from the node's place in document order.
type StaticViewport struct {
	X      int
	Y      int
	Target *html.Node
}

// ScrollPosition returns the current offsets.
func (v *StaticViewport) ScrollPosition() (int, int) {
	return v.X, v.Y
}

// ScrollTo moves the viewport.
func (v *StaticViewport) ScrollTo(x, y int) {
	v.X, v.Y = x, y
}

// ScrollIntoView records the target and moves to its estimated position.
func (v *StaticViewport) ScrollIntoView(n *html.Node) {
	v.Target = n
	v.Y = precedingElements(n) * estimatedLineHeight
}

func precedingElements(n *html.Node) int {
	root := n
	for root.Parent != nil {
		root = root.Parent
	}
	count := 0
	done := false
	Walk(root, func(visited *html.Node) bool {
		if done {
			return false
		}
		if visited == n {
			done = true
			return false
		}
		if visited.Type == html.ElementNode {
			count++
		}
		return true
	})
	return count
}
