package store

import (
	"context"
	"database/sql"
	"fmt"

	"widgetree/internal/cas"
	"widgetree/internal/model"
)

const trackerColumns = `id, uid, working_copy_id, head_id, referenced, created_at`

func scanTracker(s scanner) (*model.Tracker, error) {
	var t model.Tracker
	var head sql.NullInt64
	var referenced int
	if err := s.Scan(&t.ID, &t.UID, &t.WorkingCopyID, &head, &referenced, &t.CreatedAt); err != nil {
		return nil, err
	}
	if head.Valid {
		t.HeadID = &head.Int64
	}
	t.Referenced = referenced != 0
	return &t, nil
}

func scanTrackers(rows *sql.Rows) ([]*model.Tracker, error) {
	defer rows.Close()
	var out []*model.Tracker
	for rows.Next() {
		t, err := scanTracker(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning tracker: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const commitColumns = `id, tracker_id, root_node_id, parent_id, author_id, digest, tree_hash, created_at`

func commitDest(c *model.Commit, parent, author *sql.NullInt64) []interface{} {
	return []interface{}{&c.ID, &c.TrackerID, &c.RootNodeID, parent, author, &c.Digest, &c.TreeHash, &c.CreatedAt}
}

func finishCommit(c *model.Commit, parent, author sql.NullInt64) {
	if parent.Valid {
		c.ParentID = &parent.Int64
	}
	if author.Valid {
		c.AuthorID = &author.Int64
	}
}

func scanCommit(s scanner) (*model.Commit, error) {
	var c model.Commit
	var parent, author sql.NullInt64
	if err := s.Scan(commitDest(&c, &parent, &author)...); err != nil {
		return nil, err
	}
	finishCommit(&c, parent, author)
	return &c, nil
}

func nullable(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

// ----- Trackers -----

// InsertTracker creates a tracker for a working copy.
func (c *conn) InsertTracker(ctx context.Context, uid string, workingCopyID int64) (int64, error) {
	result, err := c.exec(ctx,
		`INSERT INTO trackers (uid, working_copy_id, created_at) VALUES (?, ?, ?)`,
		uid, workingCopyID, cas.NowMs())
	if err != nil {
		return 0, fmt.Errorf("inserting tracker: %w", err)
	}
	return result.LastInsertId()
}

// GetTracker retrieves a tracker by ID.
func (c *conn) GetTracker(ctx context.Context, id int64) (*model.Tracker, error) {
	t, err := scanTracker(c.queryRow(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("tracker %d", id))
	}
	return t, nil
}

// GetTrackerByUID retrieves a tracker by its UID.
func (c *conn) GetTrackerByUID(ctx context.Context, uid string) (*model.Tracker, error) {
	t, err := scanTracker(c.queryRow(ctx, `SELECT `+trackerColumns+` FROM trackers WHERE uid = ?`, uid))
	if err != nil {
		return nil, notFound(err, "tracker "+uid)
	}
	return t, nil
}

// ListTrackers lists every tracker by ID.
func (c *conn) ListTrackers(ctx context.Context) ([]*model.Tracker, error) {
	rows, err := c.query(ctx, `SELECT `+trackerColumns+` FROM trackers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("querying trackers: %w", err)
	}
	return scanTrackers(rows)
}

// SetWorkingCopy points a tracker at a new working copy root.
func (c *conn) SetWorkingCopy(ctx context.Context, trackerID, nodeID int64) error {
	_, err := c.exec(ctx, `UPDATE trackers SET working_copy_id = ? WHERE id = ?`, nodeID, trackerID)
	if err != nil {
		return fmt.Errorf("setting working copy of tracker %d: %w", trackerID, err)
	}
	return nil
}

// SetHead moves a tracker head.
func (c *conn) SetHead(ctx context.Context, trackerID, commitID int64) error {
	_, err := c.exec(ctx, `UPDATE trackers SET head_id = ? WHERE id = ?`, commitID, trackerID)
	if err != nil {
		return fmt.Errorf("setting head of tracker %d: %w", trackerID, err)
	}
	return nil
}

// ----- Commits -----

// InsertCommit stores a commit record.
func (c *conn) InsertCommit(ctx context.Context, cm *model.Commit) (int64, error) {
	result, err := c.exec(ctx,
		`INSERT INTO commits (tracker_id, root_node_id, parent_id, author_id, digest, tree_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cm.TrackerID, cm.RootNodeID, nullable(cm.ParentID), nullable(cm.AuthorID), cm.Digest, cm.TreeHash, cm.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("inserting commit: %w", err)
	}
	return result.LastInsertId()
}

// GetCommit retrieves a commit by ID.
func (c *conn) GetCommit(ctx context.Context, id int64) (*model.Commit, error) {
	cm, err := scanCommit(c.queryRow(ctx, `SELECT `+commitColumns+` FROM commits WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, fmt.Sprintf("commit %d", id))
	}
	return cm, nil
}

// historyChain walks parent links from the tracker head; n is the distance
// from the head.
const historyChain = `
WITH RECURSIVE chain(id, n) AS (
	SELECT head_id, 0 FROM trackers WHERE id = ? AND head_id IS NOT NULL
	UNION ALL
	SELECT c.parent_id, chain.n + 1 FROM commits c JOIN chain ON c.id = chain.id
	WHERE c.parent_id IS NOT NULL
)`

// History lists a tracker's commits newest first.
func (c *conn) History(ctx context.Context, trackerID int64) ([]*model.Commit, error) {
	rows, err := c.query(ctx, historyChain+`
		SELECT c.id, c.tracker_id, c.root_node_id, c.parent_id, c.author_id, c.digest, c.tree_hash, c.created_at
		FROM chain JOIN commits c ON c.id = chain.id
		ORDER BY chain.n`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()
	var out []*model.Commit
	for rows.Next() {
		cm, err := scanCommit(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning commit: %w", err)
		}
		out = append(out, cm)
	}
	return out, rows.Err()
}

// HistoryEntries lists a tracker's commits newest first together with their
// root nodes, root contents and authors.
func (c *conn) HistoryEntries(ctx context.Context, trackerID int64) ([]*model.HistoryEntry, error) {
	rows, err := c.query(ctx, historyChain+`
		SELECT c.id, c.tracker_id, c.root_node_id, c.parent_id, c.author_id, c.digest, c.tree_hash, c.created_at,
		       n.id, n.path, n.depth, n.numchild, n.content_type, n.content_id, n.is_frozen,
		       ct.id, ct.storage, ct.attrs,
		       a.id, a.name
		FROM chain
		JOIN commits c ON c.id = chain.id
		JOIN nodes n ON n.id = c.root_node_id
		LEFT JOIN contents ct ON ct.id = n.content_id
		LEFT JOIN authors a ON a.id = c.author_id
		ORDER BY chain.n`, trackerID)
	if err != nil {
		return nil, fmt.Errorf("querying history entries: %w", err)
	}
	defer rows.Close()

	var out []*model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		var parent, author sql.NullInt64
		var frozen int
		var contentID sql.NullInt64
		var storage, attrs sql.NullString
		var authorID sql.NullInt64
		var authorName sql.NullString

		dest := commitDest(&e.Commit, &parent, &author)
		dest = append(dest,
			&e.Root.ID, &e.Root.Path, &e.Root.Depth, &e.Root.NumChild, &e.Root.ContentType, &e.Root.ContentID, &frozen,
			&contentID, &storage, &attrs,
			&authorID, &authorName)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning history entry: %w", err)
		}
		finishCommit(&e.Commit, parent, author)
		e.Root.IsFrozen = frozen != 0
		if contentID.Valid {
			decoded, err := decodeAttrs(attrs.String)
			if err != nil {
				return nil, err
			}
			e.Content = &model.Content{ID: contentID.Int64, Storage: storage.String, Attrs: decoded}
		}
		if authorID.Valid {
			e.Author = &model.Author{ID: authorID.Int64, Name: authorName.String}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ----- Authors -----

// EnsureAuthor returns the ID of the named author, creating it if needed.
func (c *conn) EnsureAuthor(ctx context.Context, name string) (int64, error) {
	if _, err := c.exec(ctx, `INSERT OR IGNORE INTO authors (name) VALUES (?)`, name); err != nil {
		return 0, fmt.Errorf("inserting author: %w", err)
	}
	var id int64
	if err := c.queryRow(ctx, `SELECT id FROM authors WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, notFound(err, "author "+name)
	}
	return id, nil
}

// GetAuthor retrieves an author by ID.
func (c *conn) GetAuthor(ctx context.Context, id int64) (*model.Author, error) {
	var a model.Author
	if err := c.queryRow(ctx, `SELECT id, name FROM authors WHERE id = ?`, id).Scan(&a.ID, &a.Name); err != nil {
		return nil, notFound(err, fmt.Sprintf("author %d", id))
	}
	return &a, nil
}

// ----- Referrers -----

// RegisterReferrer declares a back-reference field. Registering twice is a
// no-op. Trackers already linked through the field become referenced.
func (c *conn) RegisterReferrer(ctx context.Context, kind, field string) error {
	_, err := c.exec(ctx, `INSERT OR IGNORE INTO referrers (kind, field) VALUES (?, ?)`, kind, field)
	if err != nil {
		return fmt.Errorf("registering referrer %s.%s: %w", kind, field, err)
	}
	_, err = c.exec(ctx, `
		UPDATE trackers SET referenced = 1
		WHERE referenced = 0 AND id IN (
			SELECT tracker_id FROM tracker_links WHERE kind = ? AND field = ?
		)`, kind, field)
	if err != nil {
		return fmt.Errorf("marking trackers linked through %s.%s: %w", kind, field, err)
	}
	return nil
}

// Referrers lists the registered back-reference fields.
func (c *conn) Referrers(ctx context.Context) ([]model.ReferrerField, error) {
	rows, err := c.query(ctx, `SELECT kind, field FROM referrers ORDER BY kind, field`)
	if err != nil {
		return nil, fmt.Errorf("querying referrers: %w", err)
	}
	defer rows.Close()
	var out []model.ReferrerField
	for rows.Next() {
		var f model.ReferrerField
		if err := rows.Scan(&f.Kind, &f.Field); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetLink points a referrer field at a tracker. A tracker linked through a
// registered field becomes eligible for orphan detection.
func (c *conn) SetLink(ctx context.Context, l model.Link) error {
	_, err := c.exec(ctx,
		`INSERT OR REPLACE INTO tracker_links (kind, field, referrer_id, tracker_id) VALUES (?, ?, ?, ?)`,
		l.Kind, l.Field, l.ReferrerID, l.TrackerID)
	if err != nil {
		return fmt.Errorf("linking %s.%s#%d: %w", l.Kind, l.Field, l.ReferrerID, err)
	}
	_, err = c.exec(ctx,
		`UPDATE trackers SET referenced = 1
		 WHERE id = ? AND EXISTS (SELECT 1 FROM referrers WHERE kind = ? AND field = ?)`,
		l.TrackerID, l.Kind, l.Field)
	if err != nil {
		return fmt.Errorf("marking tracker %d referenced: %w", l.TrackerID, err)
	}
	return nil
}

// ClearLink empties one referrer field.
func (c *conn) ClearLink(ctx context.Context, kind, field string, referrerID int64) error {
	_, err := c.exec(ctx,
		`DELETE FROM tracker_links WHERE kind = ? AND field = ? AND referrer_id = ?`,
		kind, field, referrerID)
	if err != nil {
		return fmt.Errorf("clearing link %s.%s#%d: %w", kind, field, referrerID, err)
	}
	return nil
}

// DeleteReferrer drops every link held by a referrer row.
func (c *conn) DeleteReferrer(ctx context.Context, kind string, referrerID int64) error {
	_, err := c.exec(ctx, `DELETE FROM tracker_links WHERE kind = ? AND referrer_id = ?`, kind, referrerID)
	if err != nil {
		return fmt.Errorf("deleting referrer %s#%d: %w", kind, referrerID, err)
	}
	return nil
}

// LinksTo lists every link pointing at a tracker.
func (c *conn) LinksTo(ctx context.Context, trackerID int64) ([]model.Link, error) {
	rows, err := c.query(ctx,
		`SELECT kind, field, referrer_id, tracker_id FROM tracker_links WHERE tracker_id = ? ORDER BY kind, field, referrer_id`,
		trackerID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()
	var out []model.Link
	for rows.Next() {
		var l model.Link
		if err := rows.Scan(&l.Kind, &l.Field, &l.ReferrerID, &l.TrackerID); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// Orphans lists referenced trackers that no registered field points at.
func (c *conn) Orphans(ctx context.Context) ([]*model.Tracker, error) {
	rows, err := c.query(ctx, `
		SELECT `+trackerColumns+` FROM trackers t
		WHERE t.referenced = 1 AND NOT EXISTS (
			SELECT 1 FROM tracker_links l
			JOIN referrers r ON r.kind = l.kind AND r.field = l.field
			WHERE l.tracker_id = t.id
		)
		ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("querying orphans: %w", err)
	}
	return scanTrackers(rows)
}
