package store

import (
	"context"
	"database/sql"
	"fmt"

	"widgetree/internal/cas"
	"widgetree/internal/model"
	"widgetree/internal/tree"
)

const nodeColumns = `id, path, depth, numchild, content_type, content_id, is_frozen`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanNode(s scanner) (*model.Node, error) {
	var n model.Node
	var frozen int
	if err := s.Scan(&n.ID, &n.Path, &n.Depth, &n.NumChild, &n.ContentType, &n.ContentID, &frozen); err != nil {
		return nil, err
	}
	n.IsFrozen = frozen != 0
	return &n, nil
}

func scanNodes(rows *sql.Rows) ([]*model.Node, error) {
	defer rows.Close()
	var out []*model.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning node: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// subtreeGlob matches every path under prefix. At the top level it only
// matches real paths, never ones parked under the temporary prefix.
func subtreeGlob(prefix string) string {
	if prefix == "" {
		return "[0-9A-Z]*"
	}
	return prefix + "*"
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ----- Nodes -----

// GetNode retrieves a node by ID.
func (c *conn) GetNode(ctx context.Context, id int64) (*model.Node, error) {
	n, err := scanNode(c.queryRow(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("node %d", id))
	}
	return n, nil
}

// GetNodesByPaths retrieves nodes by path, ordered by path.
func (c *conn) GetNodesByPaths(ctx context.Context, paths []string) ([]*model.Node, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	args := make([]interface{}, len(paths))
	for i, p := range paths {
		args[i] = p
	}
	rows, err := c.query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE path IN (`+placeholders(len(paths))+`) ORDER BY path`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying nodes by path: %w", err)
	}
	return scanNodes(rows)
}

// GetChildren retrieves the nodes at depth below parentPath.
func (c *conn) GetChildren(ctx context.Context, parentPath string, depth int) ([]*model.Node, error) {
	rows, err := c.query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE path GLOB ? AND depth = ? ORDER BY path`,
		subtreeGlob(parentPath), depth)
	if err != nil {
		return nil, fmt.Errorf("querying children: %w", err)
	}
	return scanNodes(rows)
}

// GetDescendants retrieves every node below n in depth-first order.
func (c *conn) GetDescendants(ctx context.Context, n *model.Node) ([]*model.Node, error) {
	rows, err := c.query(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE path GLOB ? AND depth > ? ORDER BY path`,
		subtreeGlob(n.Path), n.Depth)
	if err != nil {
		return nil, fmt.Errorf("querying descendants: %w", err)
	}
	return scanNodes(rows)
}

// GetSibling retrieves the adjacent sibling of n, or nil.
func (c *conn) GetSibling(ctx context.Context, n *model.Node, next bool) (*model.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE path GLOB ? AND depth = ? AND path > ? ORDER BY path LIMIT 1`
	if !next {
		query = `SELECT ` + nodeColumns + ` FROM nodes WHERE path GLOB ? AND depth = ? AND path < ? ORDER BY path DESC LIMIT 1`
	}
	s, err := scanNode(c.queryRow(ctx, query, subtreeGlob(tree.ParentPath(n.Path)), n.Depth, n.Path))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying sibling: %w", err)
	}
	return s, nil
}

// LastChildPath returns the greatest path at depth below parentPath, or "".
func (c *conn) LastChildPath(ctx context.Context, parentPath string, depth int) (string, error) {
	var path string
	err := c.queryRow(ctx,
		`SELECT path FROM nodes WHERE path GLOB ? AND depth = ? ORDER BY path DESC LIMIT 1`,
		subtreeGlob(parentPath), depth).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying last child: %w", err)
	}
	return path, nil
}

// HasFrozen reports whether any node in the subtree at path is frozen.
func (c *conn) HasFrozen(ctx context.Context, path string) (bool, error) {
	var found int
	err := c.queryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM nodes WHERE path GLOB ? AND is_frozen = 1)`,
		subtreeGlob(path)).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("querying frozen nodes: %w", err)
	}
	return found != 0, nil
}

// InsertNode inserts a node row and returns its ID.
func (c *conn) InsertNode(ctx context.Context, n *model.Node) (int64, error) {
	result, err := c.exec(ctx,
		`INSERT INTO nodes (path, depth, numchild, content_type, content_id, is_frozen) VALUES (?, ?, ?, ?, ?, ?)`,
		n.Path, n.Depth, n.NumChild, n.ContentType, n.ContentID, boolInt(n.IsFrozen))
	if err != nil {
		return 0, fmt.Errorf("inserting node: %w", err)
	}
	return result.LastInsertId()
}

// RewritePaths moves a subtree from oldPrefix to newPrefix.
func (c *conn) RewritePaths(ctx context.Context, oldPrefix, newPrefix string, depthDelta int) error {
	_, err := c.exec(ctx,
		`UPDATE nodes SET path = ? || substr(path, ?), depth = depth + ? WHERE substr(path, 1, ?) = ?`,
		newPrefix, len(oldPrefix)+1, depthDelta, len(oldPrefix), oldPrefix)
	if err != nil {
		return fmt.Errorf("rewriting paths %s -> %s: %w", oldPrefix, newPrefix, err)
	}
	return nil
}

// AdjustNumChild adds delta to a node's child count.
func (c *conn) AdjustNumChild(ctx context.Context, id int64, delta int) error {
	_, err := c.exec(ctx, `UPDATE nodes SET numchild = numchild + ? WHERE id = ?`, delta, id)
	if err != nil {
		return fmt.Errorf("updating child count of node %d: %w", id, err)
	}
	return nil
}

// DeleteSubtree deletes the subtree at path and returns the content IDs it held.
func (c *conn) DeleteSubtree(ctx context.Context, path string) ([]int64, error) {
	rows, err := c.query(ctx, `SELECT content_id FROM nodes WHERE path GLOB ?`, subtreeGlob(path))
	if err != nil {
		return nil, fmt.Errorf("querying subtree contents: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := c.exec(ctx, `DELETE FROM nodes WHERE path GLOB ?`, subtreeGlob(path)); err != nil {
		return nil, fmt.Errorf("deleting subtree %s: %w", path, err)
	}
	return ids, nil
}

// FreezeSubtree marks every node of the subtree at path frozen.
func (c *conn) FreezeSubtree(ctx context.Context, path string) error {
	if _, err := c.exec(ctx, `UPDATE nodes SET is_frozen = 1 WHERE path GLOB ?`, subtreeGlob(path)); err != nil {
		return fmt.Errorf("freezing subtree %s: %w", path, err)
	}
	return nil
}

// ----- Contents -----

func decodeAttrs(raw string) (model.Attributes, error) {
	if raw == "" {
		return model.Attributes{}, nil
	}
	attrs, err := model.DecodeAttributes([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("decoding attributes: %w", err)
	}
	return attrs, nil
}

func encodeAttrs(attrs model.Attributes) (string, error) {
	if attrs == nil {
		attrs = model.Attributes{}
	}
	data, err := cas.CanonicalJSON(attrs)
	if err != nil {
		return "", fmt.Errorf("encoding attributes: %w", err)
	}
	return string(data), nil
}

// GetContents loads content rows of one storage family by ID.
func (c *conn) GetContents(ctx context.Context, storage string, ids []int64) (map[int64]*model.Content, error) {
	out := make(map[int64]*model.Content, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, storage)
	for _, id := range ids {
		args = append(args, id)
	}
	rows, err := c.query(ctx,
		`SELECT id, storage, attrs FROM contents WHERE storage = ? AND id IN (`+placeholders(len(ids))+`)`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s contents: %w", storage, err)
	}
	defer rows.Close()
	for rows.Next() {
		ct, err := scanContent(rows)
		if err != nil {
			return nil, err
		}
		out[ct.ID] = ct
	}
	return out, rows.Err()
}

func scanContent(s scanner) (*model.Content, error) {
	var ct model.Content
	var raw string
	if err := s.Scan(&ct.ID, &ct.Storage, &raw); err != nil {
		return nil, err
	}
	attrs, err := decodeAttrs(raw)
	if err != nil {
		return nil, err
	}
	ct.Attrs = attrs
	return &ct, nil
}

// GetContentByID loads one content row.
func (c *conn) GetContentByID(ctx context.Context, id int64) (*model.Content, error) {
	ct, err := scanContent(c.queryRow(ctx, `SELECT id, storage, attrs FROM contents WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("content %d", id))
	}
	return ct, nil
}

// InsertContent stores a content row.
func (c *conn) InsertContent(ctx context.Context, storage string, attrs model.Attributes) (int64, error) {
	raw, err := encodeAttrs(attrs)
	if err != nil {
		return 0, err
	}
	result, err := c.exec(ctx, `INSERT INTO contents (storage, attrs) VALUES (?, ?)`, storage, raw)
	if err != nil {
		return 0, fmt.Errorf("inserting content: %w", err)
	}
	return result.LastInsertId()
}

// UpdateContent replaces the attributes of a content row.
func (c *conn) UpdateContent(ctx context.Context, id int64, attrs model.Attributes) error {
	raw, err := encodeAttrs(attrs)
	if err != nil {
		return err
	}
	result, err := c.exec(ctx, `UPDATE contents SET attrs = ? WHERE id = ?`, raw, id)
	if err != nil {
		return fmt.Errorf("updating content %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("content %d: %w", id, tree.ErrNotFound)
	}
	return nil
}

// DeleteContents deletes content rows; their references cascade.
func (c *conn) DeleteContents(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := c.exec(ctx, `DELETE FROM contents WHERE id IN (`+placeholders(len(ids))+`)`, args...); err != nil {
		return fmt.Errorf("deleting contents: %w", err)
	}
	return nil
}

// ----- References and entities -----

// SetReferences replaces the outgoing references of a content row.
func (c *conn) SetReferences(ctx context.Context, contentID int64, refs []model.Reference) error {
	if _, err := c.exec(ctx, `DELETE FROM content_refs WHERE content_id = ?`, contentID); err != nil {
		return fmt.Errorf("clearing references of content %d: %w", contentID, err)
	}
	for _, r := range refs {
		_, err := c.exec(ctx,
			`INSERT INTO content_refs (content_id, attr, entity_id) VALUES (?, ?, ?)`,
			contentID, r.Attr, r.EntityID)
		if err != nil {
			return fmt.Errorf("inserting reference %s of content %d: %w", r.Attr, contentID, err)
		}
	}
	return nil
}

// GetReferences lists the references pointing at an entity.
func (c *conn) GetReferences(ctx context.Context, entityID int64) ([]model.Reference, error) {
	rows, err := c.query(ctx, `
		SELECT r.content_id, r.attr, r.entity_id, COALESCE(n.content_type, c.storage)
		FROM content_refs r
		JOIN contents c ON c.id = r.content_id
		LEFT JOIN nodes n ON n.content_id = r.content_id
		WHERE r.entity_id = ?
		ORDER BY r.content_id, r.attr`, entityID)
	if err != nil {
		return nil, fmt.Errorf("querying references: %w", err)
	}
	defer rows.Close()
	var out []model.Reference
	for rows.Next() {
		var r model.Reference
		if err := rows.Scan(&r.ContentID, &r.Attr, &r.EntityID, &r.ContentType); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FrozenReferrers counts frozen nodes whose content references an entity.
func (c *conn) FrozenReferrers(ctx context.Context, entityID int64) (int, error) {
	var count int
	err := c.queryRow(ctx, `
		SELECT COUNT(*) FROM content_refs r
		JOIN nodes n ON n.content_id = r.content_id
		WHERE r.entity_id = ? AND n.is_frozen = 1`, entityID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting frozen referrers: %w", err)
	}
	return count, nil
}

// InsertEntity stores an entity.
func (c *conn) InsertEntity(ctx context.Context, kind, label string) (int64, error) {
	result, err := c.exec(ctx,
		`INSERT INTO entities (kind, label, created_at) VALUES (?, ?, ?)`,
		kind, label, cas.NowMs())
	if err != nil {
		return 0, fmt.Errorf("inserting entity: %w", err)
	}
	return result.LastInsertId()
}

// GetEntity retrieves an entity by ID.
func (c *conn) GetEntity(ctx context.Context, id int64) (*model.Entity, error) {
	var e model.Entity
	err := c.queryRow(ctx,
		`SELECT id, kind, label, created_at FROM entities WHERE id = ?`, id,
	).Scan(&e.ID, &e.Kind, &e.Label, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("entity %d", id))
	}
	return &e, nil
}

// DeleteEntity deletes an entity. Remaining references make it fail.
func (c *conn) DeleteEntity(ctx context.Context, id int64) error {
	result, err := c.exec(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting entity %d: %w", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("entity %d: %w", id, tree.ErrNotFound)
	}
	return nil
}
