package tree

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"widgetree/internal/model"
)

// JSONNode is the plain serialized form of a subtree.
type JSONNode struct {
	Type       string           `json:"type"`
	Attributes model.Attributes `json:"attributes"`
	Children   []*JSONNode      `json:"children"`
}

// ToJSON serializes the subtree below n. On a prefetched node it performs
// no reads.
func (e *Engine) ToJSON(ctx context.Context, n *Node) (*JSONNode, error) {
	c, err := n.Content(ctx)
	if err != nil {
		return nil, err
	}
	kids, err := n.Children(ctx)
	if err != nil {
		return nil, err
	}
	out := &JSONNode{
		Type:       c.Type,
		Attributes: c.Attributes(),
		Children:   make([]*JSONNode, 0, len(kids)),
	}
	for _, k := range kids {
		child, err := e.ToJSON(ctx, k)
		if err != nil {
			return nil, err
		}
		out.Children = append(out.Children, child)
	}
	return out, nil
}

// Markup renders the subtree below n as an indented tag outline, one element
// per line, attributes sorted by name.
func (e *Engine) Markup(ctx context.Context, n *Node) (string, error) {
	doc, err := e.ToJSON(ctx, n)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	writeMarkup(&b, doc, 0)
	return b.String(), nil
}

func writeMarkup(b *strings.Builder, doc *JSONNode, depth int) {
	indent := strings.Repeat("  ", depth)
	keys := make([]string, 0, len(doc.Attributes))
	for k := range doc.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(indent)
	b.WriteString("<")
	b.WriteString(doc.Type)
	for _, k := range keys {
		fmt.Fprintf(b, " %s=\"%s\"", k, html.EscapeString(fmt.Sprint(doc.Attributes[k])))
	}
	if len(doc.Children) == 0 {
		b.WriteString("/>\n")
		return
	}
	b.WriteString(">\n")
	for _, c := range doc.Children {
		writeMarkup(b, c, depth+1)
	}
	fmt.Fprintf(b, "%s</%s>\n", indent, doc.Type)
}
