// Package tree implements ordered content trees: typed widget payloads
// arranged under materialized-path nodes, placement validation, frozen-node
// protection, bulk prefetching, cloning and comparison.
package tree

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"widgetree/internal/model"
)

// Engine runs tree operations against a store.
type Engine struct {
	store Store
	site  *Site
	log   zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(store Store, s *Site, log zerolog.Logger) *Engine {
	return &Engine{store: store, site: s, log: log.With().Str("component", "tree").Logger()}
}

// Store returns the backing store.
func (e *Engine) Store() Store {
	return e.store
}

// Site returns the registry and placement rules in use.
func (e *Engine) Site() *Site {
	return e.site
}

// Registry returns the variant registry.
func (e *Engine) Registry() *Registry {
	return e.site.Registry
}

// Logger returns the engine logger.
func (e *Engine) Logger() zerolog.Logger {
	return e.log
}

// GetNode loads a node by ID. Its content and links are loaded on demand.
func (e *Engine) GetNode(ctx context.Context, id int64) (*Node, error) {
	row, err := e.store.GetNode(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting node %d: %w", id, err)
	}
	return e.wrap(row), nil
}

// Roots lists every root node.
func (e *Engine) Roots(ctx context.Context) ([]*Node, error) {
	rows, err := e.store.GetChildren(ctx, "", 1)
	if err != nil {
		return nil, fmt.Errorf("listing roots: %w", err)
	}
	return e.wrapAll(rows), nil
}

// Wrap turns a stored row into a navigable node.
func (e *Engine) Wrap(row *model.Node) *Node {
	return e.wrap(row)
}

func (e *Engine) wrap(row *model.Node) *Node {
	if row == nil {
		return nil
	}
	return &Node{Node: *row, engine: e}
}

func (e *Engine) wrapAll(rows []*model.Node) []*Node {
	out := make([]*Node, len(rows))
	for i, r := range rows {
		out[i] = e.wrap(r)
	}
	return out
}

// loadContent resolves content for a node without an arena.
func (e *Engine) loadContent(ctx context.Context, r Reader, n *Node) (*Content, error) {
	v := e.site.Registry.Lookup(n.ContentType)
	if v.IsUnknown() {
		c := newUnknown(n.ContentType, n.ContentID)
		c.node = n
		return c, nil
	}
	rows, err := r.GetContents(ctx, v.StorageKey(), []int64{n.ContentID})
	if err != nil {
		return nil, fmt.Errorf("loading content of node %d: %w", n.ID, err)
	}
	row, ok := rows[n.ContentID]
	if !ok {
		return nil, fmt.Errorf("content %s#%d: %w", n.ContentType, n.ContentID, ErrNotFound)
	}
	c := newContent(row, n.ContentType, v)
	c.node = n
	return c, nil
}

// Attach wraps a node row together with an already loaded content row.
// A nil content row leaves the content to be loaded on demand.
func (e *Engine) Attach(row *model.Node, content *model.Content) *Node {
	n := e.wrap(row)
	if n == nil || content == nil {
		return n
	}
	v := e.site.Registry.Lookup(row.ContentType)
	if v.IsUnknown() {
		n.content = newUnknown(row.ContentType, row.ContentID)
	} else {
		n.content = newContent(content, row.ContentType, v)
	}
	n.content.node = n
	return n
}
