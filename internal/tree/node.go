package tree

import (
	"context"
	"fmt"

	"widgetree/internal/model"
)

// Node is a position in a content tree. A node loaded through a prefetch
// belongs to an Arena and answers navigation from it without reads.
type Node struct {
	model.Node

	engine  *Engine
	arena   *Arena
	content *Content
	links   lazyLinks
}

// lazyLinks caches links that an arena cannot answer.
type lazyLinks struct {
	parent       *Node
	parentLoaded bool

	next       *Node
	nextLoaded bool
	prev       *Node
	prevLoaded bool

	ancestors       []*Node
	ancestorsLoaded bool
}

// IsRoot reports whether the node has no parent.
func (n *Node) IsRoot() bool {
	return n.Depth <= 1
}

// Arena returns the arena the node was prefetched into, or nil.
func (n *Node) Arena() *Arena {
	return n.arena
}

// Engine returns the engine the node was loaded by.
func (n *Node) Engine() *Engine {
	return n.engine
}

// Content returns the node's content, loading it with one read when it was
// not prefetched. Unknown discriminators cost no read.
func (n *Node) Content(ctx context.Context) (*Content, error) {
	if n.content != nil {
		return n.content, nil
	}
	c, err := n.engine.loadContent(ctx, n.engine.store, n)
	if err != nil {
		return nil, err
	}
	n.content = c
	return c, nil
}

// Children returns the node's children in order.
func (n *Node) Children(ctx context.Context) ([]*Node, error) {
	if n.arena != nil {
		return n.arena.childrenOf(n), nil
	}
	rows, err := n.engine.store.GetChildren(ctx, n.Path, n.Depth+1)
	if err != nil {
		return nil, fmt.Errorf("getting children of node %d: %w", n.ID, err)
	}
	return n.engine.wrapAll(rows), nil
}

// FirstChild returns the first child, or nil.
func (n *Node) FirstChild(ctx context.Context) (*Node, error) {
	kids, err := n.Children(ctx)
	if err != nil || len(kids) == 0 {
		return nil, err
	}
	return kids[0], nil
}

// Parent returns the parent node, or nil for a root.
func (n *Node) Parent(ctx context.Context) (*Node, error) {
	if n.IsRoot() {
		return nil, nil
	}
	if n.arena != nil {
		if p, ok := n.arena.parent[n.ID]; ok {
			return p, nil
		}
	}
	if n.links.parentLoaded {
		return n.links.parent, nil
	}
	if n.links.ancestorsLoaded && len(n.links.ancestors) > 0 {
		n.links.parent = n.links.ancestors[len(n.links.ancestors)-1]
		n.links.parentLoaded = true
		return n.links.parent, nil
	}

	rows, err := n.engine.store.GetNodesByPaths(ctx, []string{parentPath(n.Path)})
	if err != nil {
		return nil, fmt.Errorf("getting parent of node %d: %w", n.ID, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parent of node %d: %w", n.ID, ErrNotFound)
	}
	n.links.parent = n.engine.wrap(rows[0])
	n.links.parentLoaded = true
	return n.links.parent, nil
}

// NextSibling returns the following sibling, or nil. Roots have no siblings.
func (n *Node) NextSibling(ctx context.Context) (*Node, error) {
	return n.sibling(ctx, true)
}

// PrevSibling returns the preceding sibling, or nil. Roots have no siblings.
func (n *Node) PrevSibling(ctx context.Context) (*Node, error) {
	return n.sibling(ctx, false)
}

func (n *Node) sibling(ctx context.Context, next bool) (*Node, error) {
	if n.IsRoot() {
		return nil, nil
	}
	if n.arena != nil {
		if s, ok := n.arena.siblingOf(n, next); ok {
			return s, nil
		}
	}

	if next && n.links.nextLoaded {
		return n.links.next, nil
	}
	if !next && n.links.prevLoaded {
		return n.links.prev, nil
	}
	row, err := n.engine.store.GetSibling(ctx, &n.Node, next)
	if err != nil {
		return nil, fmt.Errorf("getting sibling of node %d: %w", n.ID, err)
	}
	s := n.engine.wrap(row)
	if next {
		n.links.next, n.links.nextLoaded = s, true
	} else {
		n.links.prev, n.links.prevLoaded = s, true
	}
	return s, nil
}

// Ancestors returns the ancestors of the node, root first.
func (n *Node) Ancestors(ctx context.Context) ([]*Node, error) {
	if n.IsRoot() {
		return nil, nil
	}

	// Walk up inside the arena, then finish from the topmost node reached.
	var chain []*Node
	top := n
	if n.arena != nil {
		for {
			p, ok := n.arena.parent[top.ID]
			if !ok {
				break
			}
			chain = append(chain, p)
			top = p
		}
	}
	if top != n {
		prefix, err := top.Ancestors(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]*Node, 0, len(prefix)+len(chain))
		out = append(out, prefix...)
		for i := len(chain) - 1; i >= 0; i-- {
			out = append(out, chain[i])
		}
		return out, nil
	}

	if !n.links.ancestorsLoaded {
		rows, err := n.engine.store.GetNodesByPaths(ctx, ancestorPaths(n.Path))
		if err != nil {
			return nil, fmt.Errorf("getting ancestors of node %d: %w", n.ID, err)
		}
		anc := n.engine.wrapAll(rows)
		if n.links.parentLoaded && len(anc) > 0 {
			anc[len(anc)-1] = n.links.parent
		}
		n.links.ancestors = anc
		n.links.ancestorsLoaded = true
	}
	out := make([]*Node, len(n.links.ancestors))
	copy(out, n.links.ancestors)
	return out, nil
}

// Root returns the root of the node's tree.
func (n *Node) Root(ctx context.Context) (*Node, error) {
	if n.IsRoot() {
		return n, nil
	}
	if n.arena != nil && n.arena.root.IsRoot() {
		return n.arena.root, nil
	}
	anc, err := n.Ancestors(ctx)
	if err != nil {
		return nil, err
	}
	if len(anc) == 0 {
		return nil, fmt.Errorf("root of node %d: %w", n.ID, ErrNotFound)
	}
	return anc[0], nil
}

// DepthFirstOrder returns the node followed by all its descendants in
// depth-first order.
func (n *Node) DepthFirstOrder(ctx context.Context) ([]*Node, error) {
	if n.arena != nil {
		out := []*Node{n}
		n.arena.walk(n, func(d *Node) { out = append(out, d) })
		return out, nil
	}
	rows, err := n.engine.store.GetDescendants(ctx, &n.Node)
	if err != nil {
		return nil, fmt.Errorf("getting descendants of node %d: %w", n.ID, err)
	}
	return append([]*Node{n}, n.engine.wrapAll(rows)...), nil
}

// Refresh reloads the node row from the store and drops cached links and
// arena membership.
func (n *Node) Refresh(ctx context.Context) error {
	row, err := n.engine.store.GetNode(ctx, n.ID)
	if err != nil {
		return fmt.Errorf("refreshing node %d: %w", n.ID, err)
	}
	n.Node = *row
	n.arena = nil
	n.links = lazyLinks{}
	if n.content != nil && (n.content.ID != row.ContentID || n.content.Type != row.ContentType) {
		n.content = nil
	}
	return nil
}

func (n *Node) String() string {
	return fmt.Sprintf("node %d (%s#%d at %s)", n.ID, n.ContentType, n.ContentID, n.Path)
}
