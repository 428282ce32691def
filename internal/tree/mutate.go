package tree

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"widgetree/internal/model"
)

// Position says where a node goes relative to a target node.
type Position int

const (
	LastChild Position = iota
	FirstChild
	Left
	Right
	FirstSibling
	LastSibling
)

func (p Position) String() string {
	switch p {
	case LastChild:
		return "last-child"
	case FirstChild:
		return "first-child"
	case Left:
		return "left"
	case Right:
		return "right"
	case FirstSibling:
		return "first-sibling"
	case LastSibling:
		return "last-sibling"
	}
	return fmt.Sprintf("position(%d)", int(p))
}

func (p Position) isChild() bool {
	return p == LastChild || p == FirstChild
}

// slot is a free path computed for an insertion.
type slot struct {
	path   string
	depth  int
	parent *model.Node // nil for a root
}

// ---- raw primitives -------------------------------------------------------
//
// These do not validate relationships. They refuse to touch frozen nodes,
// first from the in-memory flag and then from the store inside the
// transaction.

// AddChild creates content of variant v and places it as the last child of n.
func (n *Node) AddChild(ctx context.Context, v *Variant, attrs model.Attributes) (*Node, error) {
	return n.insertAt(ctx, v, attrs, LastChild)
}

// AddSibling creates content of variant v and places it next to n. Adding a
// sibling to a root creates a new root.
func (n *Node) AddSibling(ctx context.Context, v *Variant, attrs model.Attributes, pos Position) (*Node, error) {
	if pos.isChild() {
		return nil, fmt.Errorf("%w: %s is not a sibling position", ErrInvalidTreeMovement, pos)
	}
	return n.insertAt(ctx, v, attrs, pos)
}

func (n *Node) insertAt(ctx context.Context, v *Variant, attrs model.Attributes, pos Position) (*Node, error) {
	if n.IsFrozen {
		return nil, frozenError("add to", n.ID)
	}
	e := n.engine
	var created *Node
	err := e.store.Atomic(ctx, func(w Writer) error {
		target, err := liveRow(ctx, w, n.ID, "add to")
		if err != nil {
			return err
		}
		s, err := e.slotFor(ctx, w, target, pos)
		if err != nil {
			return err
		}
		created, err = e.createAt(ctx, w, s, v, attrs)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug().Int64("node", created.ID).Str("type", v.Key).Int64("target", n.ID).Stringer("pos", pos).Msg("node added")
	return created, nil
}

// Move relocates n and its subtree relative to target. Moving a node into
// its own subtree fails with ErrInvalidTreeMovement.
func (n *Node) Move(ctx context.Context, target *Node, pos Position) error {
	if n.IsFrozen || target.IsFrozen {
		return frozenError("move", n.ID)
	}
	e := n.engine
	err := e.store.Atomic(ctx, func(w Writer) error {
		row, err := liveRow(ctx, w, n.ID, "move")
		if err != nil {
			return err
		}
		dst, err := liveRow(ctx, w, target.ID, "move to")
		if err != nil {
			return err
		}
		if isInSubtree(dst.Path, row.Path) {
			return fmt.Errorf("%w: node %d cannot move relative to its own subtree", ErrInvalidTreeMovement, row.ID)
		}
		frozen, err := w.HasFrozen(ctx, row.Path)
		if err != nil {
			return err
		}
		if frozen {
			return frozenError("move", row.ID)
		}
		oldParent, err := parentRow(ctx, w, row)
		if err != nil {
			return err
		}
		if oldParent != nil && oldParent.IsFrozen {
			return frozenError("move from", oldParent.ID)
		}

		tmp := tempPrefix + row.Path
		if err := w.RewritePaths(ctx, row.Path, tmp, 0); err != nil {
			return err
		}
		if oldParent != nil {
			if err := w.AdjustNumChild(ctx, oldParent.ID, -1); err != nil {
				return err
			}
		}

		// Detaching leaves a gap without shifting anything, so dst is still current.
		s, err := e.slotFor(ctx, w, dst, pos)
		if err != nil {
			return err
		}
		if err := w.RewritePaths(ctx, tmp, s.path, s.depth-row.Depth); err != nil {
			return err
		}
		if s.parent != nil {
			return w.AdjustNumChild(ctx, s.parent.ID, 1)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.log.Debug().Int64("node", n.ID).Int64("target", target.ID).Stringer("pos", pos).Msg("node moved")
	return n.Refresh(ctx)
}

// Delete removes n, its descendants and their contents.
func (n *Node) Delete(ctx context.Context) error {
	if n.IsFrozen {
		return frozenError("delete", n.ID)
	}
	e := n.engine
	err := e.store.Atomic(ctx, func(w Writer) error {
		return e.deleteIn(ctx, w, n.ID)
	})
	if err != nil {
		return err
	}
	e.log.Debug().Int64("node", n.ID).Msg("node deleted")
	return nil
}

// DeleteIn deletes the tree at id within an open transaction.
func (e *Engine) DeleteIn(ctx context.Context, w Writer, id int64) error {
	return e.deleteIn(ctx, w, id)
}

func (e *Engine) deleteIn(ctx context.Context, w Writer, id int64) error {
	row, err := liveRow(ctx, w, id, "delete")
	if err != nil {
		return err
	}
	frozen, err := w.HasFrozen(ctx, row.Path)
	if err != nil {
		return err
	}
	if frozen {
		return frozenError("delete subtree of", row.ID)
	}
	parent, err := parentRow(ctx, w, row)
	if err != nil {
		return err
	}
	contentIDs, err := w.DeleteSubtree(ctx, row.Path)
	if err != nil {
		return err
	}
	if err := w.DeleteContents(ctx, contentIDs); err != nil {
		return err
	}
	if parent != nil {
		return w.AdjustNumChild(ctx, parent.ID, -1)
	}
	return nil
}

// liveRow re-reads a node inside a transaction and refuses frozen ones.
func liveRow(ctx context.Context, w Writer, id int64, op string) (*model.Node, error) {
	row, err := w.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s node %d: %w", op, id, err)
	}
	if row.IsFrozen {
		return nil, frozenError(op, id)
	}
	return row, nil
}

func parentRow(ctx context.Context, r Reader, n *model.Node) (*model.Node, error) {
	if n.Depth <= 1 {
		return nil, nil
	}
	rows, err := r.GetNodesByPaths(ctx, []string{parentPath(n.Path)})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("parent of node %d: %w", n.ID, ErrNotFound)
	}
	return rows[0], nil
}

// slotFor frees a path for a node placed at pos relative to target,
// shifting right-hand siblings when no gap is available.
func (e *Engine) slotFor(ctx context.Context, w Writer, target *model.Node, pos Position) (*slot, error) {
	var parent *model.Node
	if pos.isChild() {
		parent = target
	} else {
		p, err := parentRow(ctx, w, target)
		if err != nil {
			return nil, err
		}
		parent = p
	}
	if parent != nil && parent.IsFrozen {
		return nil, frozenError("add under", parent.ID)
	}

	pp, depth := "", 1
	if parent != nil {
		pp, depth = parent.Path, parent.Depth+1
	}

	appendLast := func() (*slot, error) {
		last, err := w.LastChildPath(ctx, pp, depth)
		if err != nil {
			return nil, err
		}
		step := 1
		if last != "" {
			step = lastStep(last) + 1
		}
		path, err := childPath(pp, step)
		if err != nil {
			return nil, err
		}
		return &slot{path: path, depth: depth, parent: parent}, nil
	}

	var before *model.Node
	switch pos {
	case LastChild, LastSibling:
		return appendLast()
	case Left:
		before = target
	case FirstChild, FirstSibling, Right:
		siblings, err := w.GetChildren(ctx, pp, depth)
		if err != nil {
			return nil, err
		}
		if pos == Right {
			for i, s := range siblings {
				if s.ID == target.ID && i+1 < len(siblings) {
					before = siblings[i+1]
				}
			}
		} else if len(siblings) > 0 {
			before = siblings[0]
		}
		if before == nil {
			return appendLast()
		}
	default:
		return nil, fmt.Errorf("%w: unknown position %s", ErrInvalidTreeMovement, pos)
	}

	path, err := e.openBefore(ctx, w, pp, depth, before)
	if err != nil {
		return nil, err
	}
	return &slot{path: path, depth: depth, parent: parent}, nil
}

// openBefore returns a free path immediately left of before.
func (e *Engine) openBefore(ctx context.Context, w Writer, pp string, depth int, before *model.Node) (string, error) {
	siblings, err := w.GetChildren(ctx, pp, depth)
	if err != nil {
		return "", err
	}
	idx := -1
	for i, s := range siblings {
		if s.ID == before.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("sibling %d: %w", before.ID, ErrNotFound)
	}

	prev := 0
	if idx > 0 {
		prev = lastStep(siblings[idx-1].Path)
	}
	at := lastStep(before.Path)
	if at-prev > 1 {
		return childPath(pp, at-1)
	}

	for i := len(siblings) - 1; i >= idx; i-- {
		old := siblings[i].Path
		shifted, err := childPath(pp, lastStep(old)+1)
		if err != nil {
			return "", err
		}
		if err := w.RewritePaths(ctx, old, shifted, 0); err != nil {
			return "", err
		}
	}
	return before.Path, nil
}

// createAt inserts a content row and its node at s.
func (e *Engine) createAt(ctx context.Context, w Writer, s *slot, v *Variant, attrs model.Attributes) (*Node, error) {
	c, err := e.insertContent(ctx, w, v, attrs)
	if err != nil {
		return nil, err
	}
	row := &model.Node{
		Path:        s.path,
		Depth:       s.depth,
		ContentType: v.Key,
		ContentID:   c.ID,
	}
	id, err := w.InsertNode(ctx, row)
	if err != nil {
		return nil, fmt.Errorf("inserting node: %w", err)
	}
	row.ID = id
	if s.parent != nil {
		if err := w.AdjustNumChild(ctx, s.parent.ID, 1); err != nil {
			return nil, err
		}
	}
	n := e.wrap(row)
	c.node = n
	n.content = c
	return n, nil
}

func (e *Engine) insertContent(ctx context.Context, w Writer, v *Variant, attrs model.Attributes) (*Content, error) {
	if v.IsUnknown() {
		return nil, &RegistrationError{Key: v.Key, Reason: "not registered"}
	}
	merged := normalizeAttrs(mergeAttrs(v.Defaults, attrs))
	id, err := w.InsertContent(ctx, v.StorageKey(), merged)
	if err != nil {
		return nil, fmt.Errorf("inserting %s content: %w", v.Key, err)
	}
	if refs := referencesOf(v, id, merged); len(refs) > 0 {
		if err := w.SetReferences(ctx, id, refs); err != nil {
			return nil, err
		}
	}
	return newContent(&model.Content{ID: id, Storage: v.StorageKey(), Attrs: merged}, v.Key, v), nil
}

// normalizeAttrs passes attributes through JSON so in-memory values match
// what the store hands back.
func normalizeAttrs(a model.Attributes) model.Attributes {
	b, err := json.Marshal(a)
	if err != nil {
		return a
	}
	out, err := model.DecodeAttributes(b)
	if err != nil {
		return a
	}
	return out
}

// referencesOf extracts entity references from attrs, sorted by attribute.
func referencesOf(v *Variant, contentID int64, attrs model.Attributes) []model.Reference {
	var refs []model.Reference
	for attr := range v.References {
		if id, ok := entityID(attrs[attr]); ok {
			refs = append(refs, model.Reference{ContentID: contentID, Attr: attr, EntityID: id})
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].Attr < refs[j].Attr })
	return refs
}

func entityID(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), x > 0
	case json.Number:
		n, err := x.Int64()
		return n, err == nil
	}
	return 0, false
}

// ---- validated operations -------------------------------------------------

// unsaved builds an in-memory instance used as a validation candidate.
func unsaved(v *Variant, attrs model.Attributes) *Content {
	merged := normalizeAttrs(mergeAttrs(v.Defaults, attrs))
	return newContent(&model.Content{Storage: v.StorageKey(), Attrs: merged}, v.Key, v)
}

// AddRoot creates a new tree whose root holds content of variant v.
func (e *Engine) AddRoot(ctx context.Context, v *Variant, attrs model.Attributes) (*Node, error) {
	if err := e.site.ValidateRoot(v); err != nil {
		return nil, err
	}
	if err := e.site.ValidateRelationship(nil, InstanceOf(unsaved(v, attrs))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRootRejected, err)
	}
	var created *Node
	err := e.store.Atomic(ctx, func(w Writer) error {
		s, err := e.rootSlot(ctx, w)
		if err != nil {
			return err
		}
		created, err = e.createAt(ctx, w, s, v, attrs)
		return err
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug().Int64("node", created.ID).Str("type", v.Key).Msg("root added")
	return created, e.postCreate(ctx, created)
}

func (e *Engine) rootSlot(ctx context.Context, w Writer) (*slot, error) {
	last, err := w.LastChildPath(ctx, "", 1)
	if err != nil {
		return nil, err
	}
	step := 1
	if last != "" {
		step = lastStep(last) + 1
	}
	path, err := childPath("", step)
	if err != nil {
		return nil, err
	}
	return &slot{path: path, depth: 1}, nil
}

// AddChild validates and creates content of variant v as the last child of parent.
func (e *Engine) AddChild(ctx context.Context, parent *Node, v *Variant, attrs model.Attributes) (*Node, error) {
	if parent.IsFrozen {
		return nil, frozenError("add to", parent.ID)
	}
	pc, err := parent.Content(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.site.ValidateRelationship(pc, InstanceOf(unsaved(v, attrs))); err != nil {
		e.log.Debug().Err(err).Int64("parent", parent.ID).Str("type", v.Key).Msg("child rejected")
		return nil, err
	}
	n, err := parent.AddChild(ctx, v, attrs)
	if err != nil {
		return nil, err
	}
	return n, e.postCreate(ctx, n)
}

// AddSibling validates and creates content of variant v next to node.
func (e *Engine) AddSibling(ctx context.Context, node *Node, v *Variant, attrs model.Attributes, pos Position) (*Node, error) {
	if node.IsFrozen {
		return nil, frozenError("add next to", node.ID)
	}
	parent, err := node.Parent(ctx)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		if err := e.site.ValidateRoot(v); err != nil {
			return nil, err
		}
		if err := e.site.ValidateRelationship(nil, InstanceOf(unsaved(v, attrs))); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRootRejected, err)
		}
	} else {
		if parent.IsFrozen {
			return nil, frozenError("add under", parent.ID)
		}
		pc, err := parent.Content(ctx)
		if err != nil {
			return nil, err
		}
		if err := e.site.ValidateRelationship(pc, InstanceOf(unsaved(v, attrs))); err != nil {
			return nil, err
		}
	}
	n, err := node.AddSibling(ctx, v, attrs, pos)
	if err != nil {
		return nil, err
	}
	return n, e.postCreate(ctx, n)
}

func (e *Engine) postCreate(ctx context.Context, n *Node) error {
	v := e.site.Registry.Lookup(n.ContentType)
	if v.PostCreate == nil {
		return nil
	}
	if err := v.PostCreate(ctx, e, n); err != nil {
		return fmt.Errorf("post-create %s: %w", v.Key, err)
	}
	return nil
}

// Reposition moves node before right when right is given, otherwise to the
// end of parent. The relationship is re-validated against the destination.
func (e *Engine) Reposition(ctx context.Context, node, parent, right *Node) error {
	for _, n := range []*Node{node, parent, right} {
		if n != nil && n.IsFrozen {
			return frozenError("reposition", n.ID)
		}
	}
	c, err := node.Content(ctx)
	if err != nil {
		return err
	}
	if c.Variant().Immovable {
		// a stale handle may miss a freeze; frozen takes precedence
		row, err := e.store.GetNode(ctx, node.ID)
		if err != nil {
			return err
		}
		if row.IsFrozen {
			return frozenError("reposition", node.ID)
		}
		return fmt.Errorf("%w: %s cannot be moved", ErrInvalidTreeMovement, c.Type)
	}
	if right != nil && right.IsRoot() {
		return fmt.Errorf("%w: cannot move next to a root", ErrInvalidTreeMovement)
	}

	dest := parent
	if right != nil {
		if dest, err = right.Parent(ctx); err != nil {
			return err
		}
	}
	if dest == nil {
		return fmt.Errorf("%w: no destination given", ErrInvalidTreeMovement)
	}
	if dest.IsFrozen {
		return frozenError("reposition under", dest.ID)
	}
	if isInSubtree(dest.Path, node.Path) {
		return fmt.Errorf("%w: node %d cannot move into its own subtree", ErrInvalidTreeMovement, node.ID)
	}

	dc, err := dest.Content(ctx)
	if err != nil {
		return err
	}
	if err := e.site.ValidateRelationship(dc, InstanceOf(c)); err != nil {
		return err
	}

	if right != nil {
		return node.Move(ctx, right, Left)
	}
	return node.Move(ctx, dest, LastChild)
}

// Delete removes node and its subtree.
func (e *Engine) Delete(ctx context.Context, node *Node) error {
	return node.Delete(ctx)
}

// UpdateContent merges attrs into the content of node and saves it.
func (e *Engine) UpdateContent(ctx context.Context, node *Node, attrs model.Attributes) (*Content, error) {
	if node.IsFrozen {
		return nil, frozenError("update", node.ID)
	}
	var updated *Content
	err := e.store.Atomic(ctx, func(w Writer) error {
		row, err := liveRow(ctx, w, node.ID, "update")
		if err != nil {
			return err
		}
		fresh := e.wrap(row)
		c, err := e.loadContent(ctx, w, fresh)
		if err != nil {
			return err
		}
		if c.IsUnknown() {
			return &RegistrationError{Key: c.Type, Reason: "not registered"}
		}
		merged := normalizeAttrs(mergeAttrs(c.Attrs, attrs))
		if err := w.UpdateContent(ctx, c.ID, merged); err != nil {
			return err
		}
		if err := w.SetReferences(ctx, c.ID, referencesOf(c.Variant(), c.ID, merged)); err != nil {
			return err
		}
		c.Attrs = merged
		c.node = node
		updated = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	node.content = updated
	e.log.Debug().Int64("node", node.ID).Msg("content updated")
	return updated, nil
}

// CreateEntity stores an entity that content may reference.
func (e *Engine) CreateEntity(ctx context.Context, kind, label string) (*model.Entity, error) {
	var ent *model.Entity
	err := e.store.Atomic(ctx, func(w Writer) error {
		id, err := w.InsertEntity(ctx, kind, label)
		if err != nil {
			return err
		}
		ent, err = w.GetEntity(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating %s entity: %w", kind, err)
	}
	return ent, nil
}

// DeleteEntity removes an entity. It fails with ErrInvalidOperation while
// any frozen content refers to it; live references are cleared.
func (e *Engine) DeleteEntity(ctx context.Context, id int64) error {
	err := e.store.Atomic(ctx, func(w Writer) error {
		frozen, err := w.FrozenReferrers(ctx, id)
		if err != nil {
			return err
		}
		if frozen > 0 {
			return fmt.Errorf("entity %d is referenced by %d frozen nodes: %w", id, frozen, ErrInvalidOperation)
		}
		refs, err := w.GetReferences(ctx, id)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			row, err := w.GetContentByID(ctx, ref.ContentID)
			if err != nil {
				return err
			}
			attrs := row.Attrs.Clone()
			attrs[ref.Attr] = nil
			if err := w.UpdateContent(ctx, row.ID, attrs); err != nil {
				return err
			}
			v := e.site.Registry.Lookup(ref.ContentType)
			if err := w.SetReferences(ctx, row.ID, referencesOf(v, row.ID, attrs)); err != nil {
				return err
			}
		}
		return w.DeleteEntity(ctx, id)
	})
	if err != nil {
		return err
	}
	e.log.Debug().Int64("entity", id).Msg("entity deleted")
	return nil
}
