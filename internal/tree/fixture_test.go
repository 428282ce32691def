package tree_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"widgetree/internal/logging"
	"widgetree/internal/model"
	"widgetree/internal/site"
	"widgetree/internal/store"
	"widgetree/internal/tree"
	"widgetree/internal/widgets"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *store.DB
	reg    *tree.Registry
	engine *tree.Engine
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithRules(t, nil)
}

func newFixtureWithRules(t *testing.T, rules *site.Rules) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "tree.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := tree.NewRegistry()
	require.NoError(t, widgets.RegisterAll(reg))
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		reg:    reg,
		engine: tree.NewEngine(db, tree.NewSite(reg, rules), logging.Nop()),
	}
}

// without returns an engine on the same database whose registry lacks the
// given variants.
func (f *fixture) without(keys ...string) *tree.Engine {
	reg := tree.NewRegistry()
	skip := map[string]bool{}
	for _, k := range keys {
		skip[k] = true
	}
	for _, v := range widgets.All() {
		if !skip[v.Key] {
			require.NoError(f.t, reg.Register(v))
		}
	}
	return tree.NewEngine(f.db, tree.NewSite(reg, nil), logging.Nop())
}

func (f *fixture) v(key string) *tree.Variant {
	return f.reg.Lookup(key)
}

// reads runs fn and returns the number of read statements it issued.
func (f *fixture) reads(fn func()) int64 {
	f.db.Stats().Reset()
	fn()
	return f.db.Stats().Reads()
}

func (f *fixture) root(key string, attrs model.Attributes) *tree.Node {
	f.t.Helper()
	n, err := f.engine.AddRoot(f.ctx, f.v(key), attrs)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) add(parent *tree.Node, key string, attrs model.Attributes) *tree.Node {
	f.t.Helper()
	n, err := f.engine.AddChild(f.ctx, parent, f.v(key), attrs)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) text(parent *tree.Node, text string) *tree.Node {
	f.t.Helper()
	return f.add(parent, widgets.KeyRawText, model.Attributes{"text": text})
}

func (f *fixture) reload(n *tree.Node) *tree.Node {
	f.t.Helper()
	fresh, err := f.engine.GetNode(f.ctx, n.ID)
	require.NoError(f.t, err)
	return fresh
}

func (f *fixture) children(n *tree.Node) []*tree.Node {
	f.t.Helper()
	kids, err := f.reload(n).Children(f.ctx)
	require.NoError(f.t, err)
	return kids
}

func (f *fixture) content(n *tree.Node) *tree.Content {
	f.t.Helper()
	c, err := n.Content(f.ctx)
	require.NoError(f.t, err)
	return c
}

func (f *fixture) dfoIDs(n *tree.Node) []int64 {
	f.t.Helper()
	nodes, err := f.reload(n).DepthFirstOrder(f.ctx)
	require.NoError(f.t, err)
	return ids(nodes)
}

func ids(nodes []*tree.Node) []int64 {
	out := make([]int64, len(nodes))
	for i, n := range nodes {
		out[i] = n.ID
	}
	return out
}

// layoutTree builds a layout root with its two buckets filled:
//
//	layout
//	  bucket: left_1, left_2, bucket(subbucket_1, subbucket_2)
//	  bucket: right_1, right_2
func (f *fixture) layoutTree() (root, left, right *tree.Node) {
	f.t.Helper()
	root = f.root(widgets.KeyLayout, nil)
	kids := f.children(root)
	require.Len(f.t, kids, 2)
	left, right = kids[0], kids[1]

	f.text(left, "left_1")
	f.text(left, "left_2")
	sub := f.add(left, widgets.KeyBucket, nil)
	f.text(sub, "subbucket_1")
	f.text(sub, "subbucket_2")
	f.text(right, "right_1")
	f.text(right, "right_2")
	return f.reload(root), f.reload(left), f.reload(right)
}
