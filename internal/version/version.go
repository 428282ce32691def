// Package version snapshots working trees into append-only commit
// histories and tracks which trackers are still referenced.
package version

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"widgetree/internal/cas"
	"widgetree/internal/diff"
	"widgetree/internal/model"
	"widgetree/internal/tree"
)

var (
	// ErrForeignCommit is returned when a commit does not belong to the tracker.
	ErrForeignCommit = errors.New("commit belongs to another tracker")
	// ErrNotRoot is returned when a working copy is not a tree root.
	ErrNotRoot = errors.New("working copy must be a root node")
)

// Service manages trackers and commits.
type Service struct {
	store  Store
	engine *tree.Engine
	log    zerolog.Logger
}

// New creates a version service. engine must use the same store.
func New(store Store, engine *tree.Engine, log zerolog.Logger) *Service {
	return &Service{store: store, engine: engine, log: log.With().Str("component", "version").Logger()}
}

// Engine returns the tree engine.
func (s *Service) Engine() *tree.Engine {
	return s.engine
}

// Tracker is a handle on a stored tracker.
type Tracker struct {
	model.Tracker
	svc *Service
}

// Commit is a handle on a stored commit.
type Commit struct {
	model.Commit
	svc *Service

	root         *tree.Node
	author       *model.Author
	authorLoaded bool
}

func (s *Service) tracker(t *model.Tracker) *Tracker {
	return &Tracker{Tracker: *t, svc: s}
}

func (s *Service) commit(c *model.Commit) *Commit {
	return &Commit{Commit: *c, svc: s}
}

// Create starts tracking the tree rooted at workingCopy.
func (s *Service) Create(ctx context.Context, workingCopy *tree.Node) (*Tracker, error) {
	if workingCopy.IsFrozen {
		return nil, fmt.Errorf("tracking node %d: %w", workingCopy.ID, tree.ErrInvalidOperation)
	}
	if !workingCopy.IsRoot() {
		return nil, fmt.Errorf("tracking node %d: %w", workingCopy.ID, ErrNotRoot)
	}
	var t *model.Tracker
	err := s.store.AtomicVersion(ctx, func(w Writer) error {
		id, err := w.InsertTracker(ctx, uuid.NewString(), workingCopy.ID)
		if err != nil {
			return err
		}
		t, err = w.GetTracker(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating tracker: %w", err)
	}
	s.log.Info().Str("tracker", t.UID).Int64("working_copy", t.WorkingCopyID).Msg("tracker created")
	return s.tracker(t), nil
}

// CreateFor creates a new root of variant v and a tracker for it.
func (s *Service) CreateFor(ctx context.Context, v *tree.Variant, attrs model.Attributes) (*Tracker, error) {
	root, err := s.engine.AddRoot(ctx, v, attrs)
	if err != nil {
		return nil, err
	}
	return s.Create(ctx, root)
}

// Get loads a tracker by ID.
func (s *Service) Get(ctx context.Context, id int64) (*Tracker, error) {
	t, err := s.store.GetTracker(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.tracker(t), nil
}

// GetByUID loads a tracker by UID.
func (s *Service) GetByUID(ctx context.Context, uid string) (*Tracker, error) {
	t, err := s.store.GetTrackerByUID(ctx, uid)
	if err != nil {
		return nil, err
	}
	return s.tracker(t), nil
}

// List returns every tracker.
func (s *Service) List(ctx context.Context) ([]*Tracker, error) {
	rows, err := s.store.ListTrackers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Tracker, len(rows))
	for i, r := range rows {
		out[i] = s.tracker(r)
	}
	return out, nil
}

// GetCommit loads a commit by ID.
func (s *Service) GetCommit(ctx context.Context, id int64) (*Commit, error) {
	c, err := s.store.GetCommit(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.commit(c), nil
}

// Refresh reloads the tracker row.
func (t *Tracker) Refresh(ctx context.Context) error {
	row, err := t.svc.store.GetTracker(ctx, t.ID)
	if err != nil {
		return err
	}
	t.Tracker = *row
	return nil
}

// WorkingCopy loads the root of the live tree.
func (t *Tracker) WorkingCopy(ctx context.Context) (*tree.Node, error) {
	return t.svc.engine.GetNode(ctx, t.WorkingCopyID)
}

// Head loads the most recent commit, or nil before the first commit.
func (t *Tracker) Head(ctx context.Context) (*Commit, error) {
	if t.HeadID == nil {
		return nil, nil
	}
	return t.svc.GetCommit(ctx, *t.HeadID)
}

// Commit snapshots the working copy as a frozen clone and makes it the new
// head. An empty author records no author.
func (t *Tracker) Commit(ctx context.Context, author string) (*Commit, error) {
	s := t.svc
	var created *model.Commit
	var fresh *model.Tracker
	var root *tree.Node
	err := s.store.AtomicVersion(ctx, func(w Writer) error {
		tr, err := w.GetTracker(ctx, t.ID)
		if err != nil {
			return err
		}
		root, err = s.engine.CloneTreeIn(ctx, w, tr.WorkingCopyID, true)
		if err != nil {
			return err
		}
		treeHash, err := s.engine.Fingerprint(ctx, root)
		if err != nil {
			return err
		}

		c := &model.Commit{
			TrackerID:  tr.ID,
			RootNodeID: root.ID,
			ParentID:   tr.HeadID,
			TreeHash:   treeHash,
			CreatedAt:  cas.NowMs(),
		}
		if author != "" {
			id, err := w.EnsureAuthor(ctx, author)
			if err != nil {
				return err
			}
			c.AuthorID = &id
		}
		var parentDigest []byte
		if tr.HeadID != nil {
			parent, err := w.GetCommit(ctx, *tr.HeadID)
			if err != nil {
				return err
			}
			parentDigest = parent.Digest
		}
		c.Digest, err = commitDigest(tr.UID, c, parentDigest, author)
		if err != nil {
			return err
		}

		c.ID, err = w.InsertCommit(ctx, c)
		if err != nil {
			return err
		}
		if err := w.SetHead(ctx, tr.ID, c.ID); err != nil {
			return err
		}
		created = c
		fresh = tr
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("committing tracker %s: %w", t.UID, err)
	}
	t.Tracker = *fresh
	t.HeadID = &created.ID
	s.log.Info().Str("tracker", t.UID).Int64("commit", created.ID).Str("digest", cas.Hex(created.Digest)).Msg("committed")
	c := s.commit(created)
	c.root = root
	return c, nil
}

// commitDigest chains a commit onto its parent: the digest covers the tree
// hash, the parent digest, the author, the tracker and the time.
func commitDigest(trackerUID string, c *model.Commit, parentDigest []byte, author string) ([]byte, error) {
	payload := map[string]interface{}{
		"tracker":   trackerUID,
		"tree":      cas.Hex(c.TreeHash),
		"parent":    cas.Hex(parentDigest),
		"author":    author,
		"createdAt": c.CreatedAt,
	}
	return cas.ObjectID("Commit", payload)
}

// VerifyDigest recomputes a commit's digest from its stored fields.
func (s *Service) VerifyDigest(ctx context.Context, c *Commit) (bool, error) {
	t, err := s.store.GetTracker(ctx, c.TrackerID)
	if err != nil {
		return false, err
	}
	var parentDigest []byte
	if c.ParentID != nil {
		parent, err := s.store.GetCommit(ctx, *c.ParentID)
		if err != nil {
			return false, err
		}
		parentDigest = parent.Digest
	}
	author := ""
	if a, err := c.Author(ctx); err != nil {
		return false, err
	} else if a != nil {
		author = a.Name
	}
	want, err := commitDigest(t.UID, &c.Commit, parentDigest, author)
	if err != nil {
		return false, err
	}
	return cas.Hex(want) == cas.Hex(c.Digest), nil
}

// History returns the commits reachable from head, newest first.
func (t *Tracker) History(ctx context.Context) ([]*Commit, error) {
	rows, err := t.svc.store.History(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*Commit, len(rows))
	for i, r := range rows {
		out[i] = t.svc.commit(r)
	}
	return out, nil
}

// HistoryList is History with each commit's root node, root content and
// author already loaded, in a single read.
func (t *Tracker) HistoryList(ctx context.Context) ([]*Commit, error) {
	entries, err := t.svc.store.HistoryEntries(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	out := make([]*Commit, len(entries))
	for i, e := range entries {
		root := e.Root
		c := t.svc.commit(&e.Commit)
		c.root = t.svc.engine.Attach(&root, e.Content)
		c.author = e.Author
		c.authorLoaded = true
		out[i] = c
	}
	return out, nil
}

// RevertTo replaces the working copy with an unfrozen clone of c. It does
// not create a commit; the old working copy is deleted.
func (t *Tracker) RevertTo(ctx context.Context, c *Commit) error {
	if c.TrackerID != t.ID {
		return fmt.Errorf("reverting tracker %s to commit %d: %w", t.UID, c.ID, ErrForeignCommit)
	}
	s := t.svc
	var fresh *model.Tracker
	err := s.store.AtomicVersion(ctx, func(w Writer) error {
		tr, err := w.GetTracker(ctx, t.ID)
		if err != nil {
			return err
		}
		clone, err := s.engine.CloneTreeIn(ctx, w, c.RootNodeID, false)
		if err != nil {
			return err
		}
		if err := w.SetWorkingCopy(ctx, tr.ID, clone.ID); err != nil {
			return err
		}
		if err := s.engine.DeleteIn(ctx, w, tr.WorkingCopyID); err != nil {
			return err
		}
		fresh = tr
		fresh.WorkingCopyID = clone.ID
		return nil
	})
	if err != nil {
		return fmt.Errorf("reverting tracker %s: %w", t.UID, err)
	}
	t.Tracker = *fresh
	s.log.Info().Str("tracker", t.UID).Int64("commit", c.ID).Int64("working_copy", t.WorkingCopyID).Msg("reverted")
	return nil
}

// HasChanges reports whether the working copy differs from the head tree.
// A tracker without commits always has changes.
func (t *Tracker) HasChanges(ctx context.Context) (bool, error) {
	if err := t.Refresh(ctx); err != nil {
		return false, err
	}
	head, err := t.Head(ctx)
	if err != nil {
		return false, err
	}
	if head == nil {
		return true, nil
	}
	wc, err := t.WorkingCopy(ctx)
	if err != nil {
		return false, err
	}
	hr, err := head.Root(ctx)
	if err != nil {
		return false, err
	}
	equal, err := t.svc.engine.TreesEqual(ctx, wc, hr)
	if err != nil {
		return false, err
	}
	return !equal, nil
}

// Root loads the commit's frozen root node.
func (c *Commit) Root(ctx context.Context) (*tree.Node, error) {
	if c.root == nil {
		n, err := c.svc.engine.GetNode(ctx, c.RootNodeID)
		if err != nil {
			return nil, err
		}
		c.root = n
	}
	return c.root, nil
}

// Author loads the commit author, or nil when none was recorded.
func (c *Commit) Author(ctx context.Context) (*model.Author, error) {
	if !c.authorLoaded {
		if c.AuthorID != nil {
			a, err := c.svc.store.GetAuthor(ctx, *c.AuthorID)
			if err != nil {
				return nil, err
			}
			c.author = a
		}
		c.authorLoaded = true
	}
	return c.author, nil
}

// Parent loads the previous commit, or nil for the first one.
func (c *Commit) Parent(ctx context.Context) (*Commit, error) {
	if c.ParentID == nil {
		return nil, nil
	}
	return c.svc.GetCommit(ctx, *c.ParentID)
}

// DigestHex returns the hex commit digest.
func (c *Commit) DigestHex() string {
	return cas.Hex(c.Digest)
}

// DiffCommits renders the trees of a and b as markup and compares them.
func (s *Service) DiffCommits(ctx context.Context, a, b *Commit, d diff.Differ) (string, error) {
	render := func(c *Commit) (string, error) {
		root, err := c.Root(ctx)
		if err != nil {
			return "", err
		}
		if _, err := s.engine.MaybePrefetchTree(ctx, root); err != nil {
			return "", err
		}
		return s.engine.Markup(ctx, root)
	}
	before, err := render(a)
	if err != nil {
		return "", err
	}
	after, err := render(b)
	if err != nil {
		return "", err
	}
	return d.Diff(before, after)
}
