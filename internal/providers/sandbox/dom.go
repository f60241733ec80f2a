package sandbox

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// RenderRoot is the single mount point owned by an engine. Mounting replaces
// its children wholesale, so at most one component tree is live at a time.
type RenderRoot struct {
	node   *html.Node
	mounts uint64
	mu     sync.RWMutex
}

// NewRenderRoot creates an empty <div id="root">
func NewRenderRoot() *RenderRoot {
	return &RenderRoot{
		node: &html.Node{
			Type:     html.ElementNode,
			Data:     "div",
			DataAtom: atom.Div,
			Attr:     []html.Attribute{{Key: "id", Val: "root"}},
		},
	}
}

// Replace swaps the root's children for the children of container
func (r *RenderRoot) Replace(container *html.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()

	detachChildren(r.node)
	for child := container.FirstChild; child != nil; {
		next := child.NextSibling
		container.RemoveChild(child)
		r.node.AppendChild(child)
		child = next
	}
	r.mounts++
}

// Clear unmounts whatever is rendered
func (r *RenderRoot) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	detachChildren(r.node)
}

// Mounts counts successful mounts over the root's lifetime
func (r *RenderRoot) Mounts() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mounts
}

// ChildCount returns the number of top-level nodes currently mounted
func (r *RenderRoot) ChildCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for c := r.node.FirstChild; c != nil; c = c.NextSibling {
		n++
	}
	return n
}

// HTML serializes the mounted tree (the root's inner HTML)
func (r *RenderRoot) HTML() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	for c := r.node.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", fmt.Errorf("serialize render root: %w", err)
		}
	}
	return buf.String(), nil
}

// Text returns the text content of the mounted tree
func (r *RenderRoot) Text() string {
	return r.Document().Text()
}

// Document returns a goquery document over a snapshot of the root, so
// callers can query without holding the root's lock.
func (r *RenderRoot) Document() *goquery.Document {
	return goquery.NewDocumentFromNode(r.snapshot())
}

// Query finds elements by CSS selector and returns their text
func (r *RenderRoot) Query(selector string) []string {
	var out []string
	r.Document().Find(selector).Each(func(_ int, s *goquery.Selection) {
		out = append(out, strings.TrimSpace(s.Text()))
	})
	return out
}

// XPath evaluates an XPath expression and returns the inner text of matches
func (r *RenderRoot) XPath(expr string) ([]string, error) {
	nodes, err := htmlquery.QueryAll(r.snapshot(), expr)
	if err != nil {
		return nil, fmt.Errorf("xpath %q: %w", expr, err)
	}
	out := make([]string, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, htmlquery.InnerText(n))
	}
	return out, nil
}

func (r *RenderRoot) snapshot() *html.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneNode(r.node)
}

func cloneNode(n *html.Node) *html.Node {
	c := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
		Attr:      append([]html.Attribute(nil), n.Attr...),
	}
	for child := n.FirstChild; child != nil; child = child.NextSibling {
		c.AppendChild(cloneNode(child))
	}
	return c
}

func detachChildren(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
}
