package tree

import (
	"context"
	"fmt"
	"sort"

	"widgetree/internal/model"
)

// Arena is a caller-owned cache of one prefetched subtree. It is not safe
// for concurrent mutation.
type Arena struct {
	root     *Node
	nodes    map[int64]*Node
	children map[int64][]*Node
	parent   map[int64]*Node
	index    map[int64]int
}

func newArena(root *Node) *Arena {
	a := &Arena{
		root:     root,
		nodes:    map[int64]*Node{root.ID: root},
		children: map[int64][]*Node{root.ID: nil},
		parent:   make(map[int64]*Node),
		index:    make(map[int64]int),
	}
	root.arena = a
	return a
}

// Root returns the node the arena was built from.
func (a *Arena) Root() *Node {
	return a.root
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// Node returns the arena member with the given ID, or nil.
func (a *Arena) Node(id int64) *Node {
	return a.nodes[id]
}

// build links descendants (in depth-first order) under the arena root.
func (a *Arena) build(e *Engine, rows []*model.Node) {
	byPath := map[string]*Node{a.root.Path: a.root}
	for _, r := range rows {
		n := e.wrap(r)
		n.arena = a
		a.nodes[n.ID] = n
		a.children[n.ID] = nil
		byPath[n.Path] = n
		p, ok := byPath[parentPath(n.Path)]
		if !ok {
			continue
		}
		a.parent[n.ID] = p
		a.index[n.ID] = len(a.children[p.ID])
		a.children[p.ID] = append(a.children[p.ID], n)
	}
}

func (a *Arena) childrenOf(n *Node) []*Node {
	kids := a.children[n.ID]
	out := make([]*Node, len(kids))
	copy(out, kids)
	return out
}

func (a *Arena) siblingOf(n *Node, next bool) (*Node, bool) {
	p, ok := a.parent[n.ID]
	if !ok {
		return nil, false
	}
	kids := a.children[p.ID]
	i := a.index[n.ID]
	if next {
		i++
	} else {
		i--
	}
	if i < 0 || i >= len(kids) {
		return nil, true
	}
	return kids[i], true
}

func (a *Arena) walk(n *Node, fn func(*Node)) {
	for _, c := range a.children[n.ID] {
		fn(c)
		a.walk(c, fn)
	}
}

// PrefetchTree loads the whole subtree below root into a new arena: one
// descendant read plus one content read per distinct storage family.
func (e *Engine) PrefetchTree(ctx context.Context, root *Node) (*Arena, error) {
	arenas, err := e.PrefetchTrees(ctx, root)
	if err != nil {
		return nil, err
	}
	return arenas[0], nil
}

// PrefetchTrees prefetches several subtrees, sharing content reads across them.
func (e *Engine) PrefetchTrees(ctx context.Context, roots ...*Node) ([]*Arena, error) {
	return e.prefetchWith(ctx, e.store, roots)
}

// MaybePrefetchTree prefetches root unless it already belongs to an arena
// built from it.
func (e *Engine) MaybePrefetchTree(ctx context.Context, root *Node) (*Arena, error) {
	if root.arena != nil && root.arena.root == root {
		return root.arena, nil
	}
	return e.PrefetchTree(ctx, root)
}

func (e *Engine) prefetchWith(ctx context.Context, r Reader, roots []*Node) ([]*Arena, error) {
	arenas := make([]*Arena, len(roots))
	for i, root := range roots {
		rows, err := r.GetDescendants(ctx, &root.Node)
		if err != nil {
			return nil, fmt.Errorf("prefetching node %d: %w", root.ID, err)
		}
		a := newArena(root)
		a.build(e, rows)
		arenas[i] = a
	}

	var pending []*Node
	for _, a := range arenas {
		pending = append(pending, a.root)
		for _, c := range a.nodes {
			if c != a.root {
				pending = append(pending, c)
			}
		}
	}
	if err := e.attachContents(ctx, r, pending); err != nil {
		return nil, err
	}
	e.log.Debug().Int("roots", len(roots)).Int("nodes", len(pending)).Msg("prefetched trees")
	return arenas, nil
}

// attachContents bulk-loads the content of every node that has none yet,
// grouped by storage family.
func (e *Engine) attachContents(ctx context.Context, r Reader, nodes []*Node) error {
	groups := make(map[string][]*Node)
	for _, n := range nodes {
		if n.content != nil {
			continue
		}
		v := e.site.Registry.Lookup(n.ContentType)
		if v.IsUnknown() {
			n.content = newUnknown(n.ContentType, n.ContentID)
			n.content.node = n
			continue
		}
		groups[v.StorageKey()] = append(groups[v.StorageKey()], n)
	}

	storages := make([]string, 0, len(groups))
	for s := range groups {
		storages = append(storages, s)
	}
	sort.Strings(storages)

	for _, storage := range storages {
		group := groups[storage]
		seen := make(map[int64]bool, len(group))
		ids := make([]int64, 0, len(group))
		for _, n := range group {
			if !seen[n.ContentID] {
				seen[n.ContentID] = true
				ids = append(ids, n.ContentID)
			}
		}
		rows, err := r.GetContents(ctx, storage, ids)
		if err != nil {
			return fmt.Errorf("loading %s contents: %w", storage, err)
		}
		for _, n := range group {
			row, ok := rows[n.ContentID]
			if !ok {
				return fmt.Errorf("content %s#%d: %w", n.ContentType, n.ContentID, ErrNotFound)
			}
			c := newContent(row, n.ContentType, e.site.Registry.Lookup(n.ContentType))
			c.node = n
			n.content = c
		}
	}
	return nil
}
