package anchor

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"

	"github.com/MarcoPoloResearchLab/highlighter/internal/dom"
)

// Resolve evaluates a structural path against the tree under root and
// returns the first matching element in document order. It supports the
// subset PathFor produces plus descendant steps with attribute predicates:
//   - /html/body/div[2]/p    absolute steps with positional predicates
//   - //*[@id='x']           descendant by attribute
//   - //section[@class='a']/p[3]
//
// A malformed path or a miss yields nil.
func Resolve(root *html.Node, path string) *html.Node {
	matches := evaluate(root, strings.TrimSpace(path))
	if len(matches) == 0 {
		return nil
	}
	return matches[0]
}

func evaluate(root *html.Node, path string) []*html.Node {
	if root == nil || path == "" {
		return nil
	}
	if strings.HasPrefix(path, "//") {
		steps := splitSteps(path[2:])
		if len(steps) == 0 {
			return nil
		}
		step, ok := parseStep(steps[0])
		if !ok {
			return nil
		}
		var matches []*html.Node
		dom.Walk(root, func(n *html.Node) bool {
			if step.matches(n) {
				matches = append(matches, n)
			}
			return true
		})
		return follow(matches, steps[1:])
	}
	if strings.HasPrefix(path, "/") {
		return follow([]*html.Node{root}, splitSteps(path[1:]))
	}
	return nil
}

func follow(current []*html.Node, steps []string) []*html.Node {
	for _, raw := range steps {
		step, ok := parseStep(raw)
		if !ok {
			return nil
		}
		var next []*html.Node
		for _, parent := range current {
			for c := parent.FirstChild; c != nil; c = c.NextSibling {
				if step.matches(c) {
					next = append(next, c)
				}
			}
		}
		current = next
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

// splitSteps splits on '/' outside predicates.
func splitSteps(path string) []string {
	var steps []string
	depth := 0
	var quote rune
	start := 0
	for i, r := range path {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[':
			depth++
		case r == ']':
			depth--
		case r == '/' && depth == 0:
			if i > start {
				steps = append(steps, path[start:i])
			}
			start = i + 1
		}
	}
	if start < len(path) {
		steps = append(steps, path[start:])
	}
	return steps
}

type pathStep struct {
	tag       string
	attrName  string
	attrValue string
	hasValue  bool
	position  int
}

// parseStep parses "div", "div[2]", "*[@id='x']" and "div[@data-x]".
func parseStep(raw string) (pathStep, bool) {
	open := strings.IndexByte(raw, '[')
	if open < 0 {
		return pathStep{tag: strings.ToLower(raw)}, raw != ""
	}
	if !strings.HasSuffix(raw, "]") {
		return pathStep{}, false
	}
	step := pathStep{tag: strings.ToLower(raw[:open])}
	predicate := raw[open+1 : len(raw)-1]
	if position, err := strconv.Atoi(predicate); err == nil {
		if position < 1 {
			return pathStep{}, false
		}
		step.position = position
		return step, step.tag != ""
	}
	if !strings.HasPrefix(predicate, "@") {
		return pathStep{}, false
	}
	expr := predicate[1:]
	if eq := strings.IndexByte(expr, '='); eq >= 0 {
		step.attrName = strings.TrimSpace(expr[:eq])
		step.attrValue = strings.Trim(strings.TrimSpace(expr[eq+1:]), `'"`)
		step.hasValue = true
	} else {
		step.attrName = strings.TrimSpace(expr)
	}
	return step, step.tag != "" && step.attrName != ""
}

func (s pathStep) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "*" && n.Data != s.tag {
		return false
	}
	if s.attrName != "" {
		if !dom.HasAttr(n, s.attrName) {
			return false
		}
		return !s.hasValue || dom.Attr(n, s.attrName) == s.attrValue
	}
	if s.position > 0 {
		if n.Parent == nil {
			return s.position == 1
		}
		position := 0
		for sibling := n.Parent.FirstChild; sibling != nil; sibling = sibling.NextSibling {
			if sibling.Type == html.ElementNode && sibling.Data == n.Data {
				position++
				if sibling == n {
					return position == s.position
				}
			}
		}
		return false
	}
	return true
}
