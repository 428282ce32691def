package version

import (
	"context"

	"widgetree/internal/model"
	"widgetree/internal/tree"
)

// Reader is the read side of tracker and commit storage.
type Reader interface {
	GetTracker(ctx context.Context, id int64) (*model.Tracker, error)
	GetTrackerByUID(ctx context.Context, uid string) (*model.Tracker, error)
	ListTrackers(ctx context.Context) ([]*model.Tracker, error)
	GetCommit(ctx context.Context, id int64) (*model.Commit, error)
	// History walks the parent chain from the tracker head, newest first.
	History(ctx context.Context, trackerID int64) ([]*model.Commit, error)
	// HistoryEntries is History joined with root nodes, root contents and
	// authors, in a single read.
	HistoryEntries(ctx context.Context, trackerID int64) ([]*model.HistoryEntry, error)
	GetAuthor(ctx context.Context, id int64) (*model.Author, error)
	// Orphans lists referenced trackers with no link through a registered field.
	Orphans(ctx context.Context) ([]*model.Tracker, error)
	Referrers(ctx context.Context) ([]model.ReferrerField, error)
	LinksTo(ctx context.Context, trackerID int64) ([]model.Link, error)
}

// Writer extends the tree writer with tracker and commit writes.
type Writer interface {
	tree.Writer
	Reader

	InsertTracker(ctx context.Context, uid string, workingCopyID int64) (int64, error)
	SetWorkingCopy(ctx context.Context, trackerID, nodeID int64) error
	SetHead(ctx context.Context, trackerID, commitID int64) error
	InsertCommit(ctx context.Context, c *model.Commit) (int64, error)
	EnsureAuthor(ctx context.Context, name string) (int64, error)

	RegisterReferrer(ctx context.Context, kind, field string) error
	// SetLink points a referrer field at a tracker, replacing any previous value.
	SetLink(ctx context.Context, l model.Link) error
	ClearLink(ctx context.Context, kind, field string, referrerID int64) error
	// DeleteReferrer drops every link held by one referrer row.
	DeleteReferrer(ctx context.Context, kind string, referrerID int64) error
}

// Store is tree storage plus version storage.
type Store interface {
	tree.Store
	Reader
	// AtomicVersion runs fn in a single transaction.
	AtomicVersion(ctx context.Context, fn func(w Writer) error) error
}
