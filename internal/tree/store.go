package tree

import (
	"context"

	"widgetree/internal/model"
)

// Reader is the read side of the store boundary. Every method is one read.
type Reader interface {
	// GetNode retrieves a node by ID, or ErrNotFound.
	GetNode(ctx context.Context, id int64) (*model.Node, error)
	// GetNodesByPaths retrieves the nodes at the given paths, ordered by path.
	GetNodesByPaths(ctx context.Context, paths []string) ([]*model.Node, error)
	// GetChildren retrieves the nodes at depth whose path starts with parentPath,
	// ordered by path. parentPath "" with depth 1 lists the roots.
	GetChildren(ctx context.Context, parentPath string, depth int) ([]*model.Node, error)
	// GetDescendants retrieves every node below n, in depth-first order.
	GetDescendants(ctx context.Context, n *model.Node) ([]*model.Node, error)
	// GetSibling retrieves the next (or previous) sibling of n, or nil.
	GetSibling(ctx context.Context, n *model.Node, next bool) (*model.Node, error)
	// LastChildPath returns the greatest path at depth under parentPath, or "".
	LastChildPath(ctx context.Context, parentPath string, depth int) (string, error)
	// GetContents bulk-loads rows of one storage family by ID.
	GetContents(ctx context.Context, storage string, ids []int64) (map[int64]*model.Content, error)
	// GetContentByID loads one content row regardless of storage family.
	GetContentByID(ctx context.Context, id int64) (*model.Content, error)
	// HasFrozen reports whether any node in the subtree rooted at path is frozen.
	HasFrozen(ctx context.Context, path string) (bool, error)
	// GetReferences lists the content references pointing at an entity.
	GetReferences(ctx context.Context, entityID int64) ([]model.Reference, error)
	// FrozenReferrers counts frozen nodes whose content references an entity.
	FrozenReferrers(ctx context.Context, entityID int64) (int, error)
	// GetEntity retrieves an entity by ID, or ErrNotFound.
	GetEntity(ctx context.Context, id int64) (*model.Entity, error)
}

// Writer is the transactional write side of the store boundary.
type Writer interface {
	Reader

	InsertContent(ctx context.Context, storage string, attrs model.Attributes) (int64, error)
	UpdateContent(ctx context.Context, id int64, attrs model.Attributes) error
	DeleteContents(ctx context.Context, ids []int64) error

	InsertNode(ctx context.Context, n *model.Node) (int64, error)
	// RewritePaths replaces oldPrefix with newPrefix on every node of a subtree
	// and shifts their depth by depthDelta.
	RewritePaths(ctx context.Context, oldPrefix, newPrefix string, depthDelta int) error
	AdjustNumChild(ctx context.Context, id int64, delta int) error
	// DeleteSubtree removes the nodes of a subtree and returns their content IDs.
	DeleteSubtree(ctx context.Context, path string) ([]int64, error)
	// FreezeSubtree marks every node of the subtree rooted at path frozen.
	FreezeSubtree(ctx context.Context, path string) error

	SetReferences(ctx context.Context, contentID int64, refs []model.Reference) error
	InsertEntity(ctx context.Context, kind, label string) (int64, error)
	DeleteEntity(ctx context.Context, id int64) error
}

// Store is the backing store: reads plus atomic execution of writes.
type Store interface {
	Reader
	// Atomic runs fn in a single transaction, rolling back if it fails.
	Atomic(ctx context.Context, fn func(w Writer) error) error
}
