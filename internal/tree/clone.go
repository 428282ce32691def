package tree

import (
	"context"
	"fmt"

	"widgetree/internal/cas"
	"widgetree/internal/model"
)

// CloneTree copies the tree below root into a new, disconnected root. Content
// rows are copied by value. With freeze set every copied node is frozen.
func (e *Engine) CloneTree(ctx context.Context, root *Node, freeze bool) (*Node, error) {
	var clone *Node
	err := e.store.Atomic(ctx, func(w Writer) error {
		var err error
		clone, err = e.CloneTreeIn(ctx, w, root.ID, freeze)
		return err
	})
	if err != nil {
		return nil, err
	}
	return clone, nil
}

// CloneTreeIn clones the tree at id within an open transaction. The returned
// root is prefetched.
func (e *Engine) CloneTreeIn(ctx context.Context, w Writer, id int64, freeze bool) (*Node, error) {
	row, err := w.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("cloning node %d: %w", id, err)
	}
	src := e.wrap(row)
	arenas, err := e.prefetchWith(ctx, w, []*Node{src})
	if err != nil {
		return nil, err
	}
	srcNodes := []*Node{src}
	arenas[0].walk(src, func(n *Node) { srcNodes = append(srcNodes, n) })

	s, err := e.rootSlot(ctx, w)
	if err != nil {
		return nil, err
	}

	copies := make([]*model.Node, 0, len(srcNodes))
	contents := make(map[int64]*Content, len(srcNodes))
	for _, n := range srcNodes {
		c := n.content
		attrs := c.Attrs.Clone()
		var contentID int64
		if c.IsUnknown() {
			contentID, err = copyRawContent(ctx, w, c.ID)
			if err != nil {
				return nil, err
			}
		} else {
			contentID, err = w.InsertContent(ctx, c.Variant().StorageKey(), attrs)
			if err != nil {
				return nil, fmt.Errorf("copying content %s: %w", c, err)
			}
			if refs := referencesOf(c.Variant(), contentID, attrs); len(refs) > 0 {
				if err := w.SetReferences(ctx, contentID, refs); err != nil {
					return nil, err
				}
			}
		}
		cp := &model.Node{
			Path:        s.path + n.Path[len(src.Path):],
			Depth:       n.Depth - src.Depth + 1,
			NumChild:    len(arenas[0].children[n.ID]),
			ContentType: n.ContentType,
			ContentID:   contentID,
			IsFrozen:    freeze,
		}
		cp.ID, err = w.InsertNode(ctx, cp)
		if err != nil {
			return nil, fmt.Errorf("copying node %d: %w", n.ID, err)
		}
		copies = append(copies, cp)
		cc := newContent(&model.Content{ID: contentID, Storage: c.Storage, Attrs: attrs}, c.Type, c.Variant())
		contents[cp.ID] = cc
	}

	clone := e.wrap(copies[0])
	a := newArena(clone)
	a.build(e, copies[1:])
	for id, n := range a.nodes {
		n.content = contents[id]
		n.content.node = n
	}
	e.log.Debug().Int64("source", id).Int64("clone", clone.ID).Int("nodes", len(copies)).Bool("frozen", freeze).Msg("tree cloned")
	return clone, nil
}

// copyRawContent duplicates a row whose variant is not registered.
func copyRawContent(ctx context.Context, w Writer, id int64) (int64, error) {
	row, err := w.GetContentByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("copying unregistered content %d: %w", id, err)
	}
	return w.InsertContent(ctx, row.Storage, row.Attrs)
}

// FreezeTree marks root and every descendant frozen.
func (e *Engine) FreezeTree(ctx context.Context, root *Node) error {
	err := e.store.Atomic(ctx, func(w Writer) error {
		row, err := w.GetNode(ctx, root.ID)
		if err != nil {
			return err
		}
		return w.FreezeSubtree(ctx, row.Path)
	})
	if err != nil {
		return fmt.Errorf("freezing node %d: %w", root.ID, err)
	}
	root.IsFrozen = true
	if root.arena != nil && root.arena.root == root {
		for _, n := range root.arena.nodes {
			n.IsFrozen = true
		}
	}
	return nil
}

// TreesEqual reports whether two trees have the same shape and pairwise
// equal contents in depth-first order.
func (e *Engine) TreesEqual(ctx context.Context, a, b *Node) (bool, error) {
	var todo []*Node
	for _, n := range []*Node{a, b} {
		if n.arena == nil || n.arena.root != n {
			todo = append(todo, n)
		}
	}
	if len(todo) > 0 {
		if _, err := e.PrefetchTrees(ctx, todo...); err != nil {
			return false, err
		}
	}

	left, err := a.DepthFirstOrder(ctx)
	if err != nil {
		return false, err
	}
	right, err := b.DepthFirstOrder(ctx)
	if err != nil {
		return false, err
	}
	if len(left) != len(right) {
		return false, nil
	}
	for i := range left {
		l, r := left[i], right[i]
		if len(l.arena.children[l.ID]) != len(r.arena.children[r.ID]) {
			return false, nil
		}
		if l.content.IsUnknown() || r.content.IsUnknown() {
			eq, err := e.rawEqual(ctx, l.content, r.content)
			if err != nil || !eq {
				return false, err
			}
			continue
		}
		if !l.content.Equal(r.content) {
			return false, nil
		}
	}
	return true, nil
}

// rawEqual compares contents whose variant is not registered by their
// stored rows. Unknown content carries no attributes until read here.
func (e *Engine) rawEqual(ctx context.Context, a, b *Content) (bool, error) {
	if storageFamily(a) != storageFamily(b) {
		return false, nil
	}
	ra, err := e.store.GetContentByID(ctx, a.ID)
	if err != nil {
		return false, fmt.Errorf("comparing content %s: %w", a, err)
	}
	rb, err := e.store.GetContentByID(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("comparing content %s: %w", b, err)
	}
	return ra.Storage == rb.Storage && attrsEqual(ra.Attrs, rb.Attrs), nil
}

// Fingerprint hashes the serialized tree below root. IDs and paths do not
// contribute, so equal trees have equal fingerprints.
func (e *Engine) Fingerprint(ctx context.Context, root *Node) ([]byte, error) {
	doc, err := e.ToJSON(ctx, root)
	if err != nil {
		return nil, err
	}
	data, err := cas.CanonicalJSON(doc)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting node %d: %w", root.ID, err)
	}
	return cas.Sum(data), nil
}
