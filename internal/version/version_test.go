package version_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetree/internal/diff"
	"widgetree/internal/logging"
	"widgetree/internal/model"
	"widgetree/internal/store"
	"widgetree/internal/tree"
	"widgetree/internal/version"
	"widgetree/internal/widgets"
)

type fixture struct {
	t      *testing.T
	ctx    context.Context
	db     *store.DB
	engine *tree.Engine
	svc    *version.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "versions.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := tree.NewRegistry()
	require.NoError(t, widgets.RegisterAll(reg))
	engine := tree.NewEngine(db, tree.NewSite(reg, nil), logging.Nop())
	return &fixture{
		t:      t,
		ctx:    context.Background(),
		db:     db,
		engine: engine,
		svc:    version.New(db, engine, logging.Nop()),
	}
}

func (f *fixture) root(key string, attrs model.Attributes) *tree.Node {
	f.t.Helper()
	n, err := f.engine.AddRoot(f.ctx, f.engine.Registry().Lookup(key), attrs)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) text(parent *tree.Node, text string) *tree.Node {
	f.t.Helper()
	n, err := f.engine.AddChild(f.ctx, parent, widgets.RawText, model.Attributes{"text": text})
	require.NoError(f.t, err)
	return n
}

func (f *fixture) track(root *tree.Node) *version.Tracker {
	f.t.Helper()
	tr, err := f.svc.Create(f.ctx, root)
	require.NoError(f.t, err)
	return tr
}

func (f *fixture) commit(tr *version.Tracker) *version.Commit {
	f.t.Helper()
	c, err := tr.Commit(f.ctx, "")
	require.NoError(f.t, err)
	return c
}

func (f *fixture) node(id int64) *tree.Node {
	f.t.Helper()
	n, err := f.engine.GetNode(f.ctx, id)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) rootText(c *version.Commit) string {
	f.t.Helper()
	root, err := c.Root(f.ctx)
	require.NoError(f.t, err)
	content, err := root.Content(f.ctx)
	require.NoError(f.t, err)
	return content.Text("text")
}

func (f *fixture) childTexts(n *tree.Node) []string {
	f.t.Helper()
	kids, err := f.node(n.ID).Children(f.ctx)
	require.NoError(f.t, err)
	var out []string
	for _, k := range kids {
		c, err := k.Content(f.ctx)
		require.NoError(f.t, err)
		out = append(out, c.Text("text"))
	}
	return out
}

func (f *fixture) setText(n *tree.Node, text string) {
	f.t.Helper()
	_, err := f.engine.UpdateContent(f.ctx, n, model.Attributes{"text": text})
	require.NoError(f.t, err)
}

func (f *fixture) workingCopy(tr *version.Tracker) *tree.Node {
	f.t.Helper()
	wc, err := tr.WorkingCopy(f.ctx)
	require.NoError(f.t, err)
	return wc
}

func TestCommit(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, model.Attributes{"text": "first"}))
	c1 := f.commit(tr)
	assert.NotEqual(t, tr.WorkingCopyID, c1.RootNodeID)

	f.setText(f.workingCopy(tr), "second")
	c2 := f.commit(tr)

	assert.Equal(t, "first", f.rootText(c1))
	assert.Equal(t, "second", f.rootText(c2))

	parent, err := c2.Parent(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, c1.ID, parent.ID)
	first, err := c1.Parent(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, first)

	head, err := tr.Head(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, c2.ID, head.ID)

	reloaded, err := f.svc.GetByUID(f.ctx, tr.UID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.HeadID)
	assert.Equal(t, c2.ID, *reloaded.HeadID)

	root, err := c2.Root(f.ctx)
	require.NoError(t, err)
	assert.True(t, root.IsFrozen)
	assert.NotEqual(t, c1.DigestHex(), c2.DigestHex())
}

func TestCommit_Author(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, nil))

	c, err := tr.Commit(f.ctx, "ann")
	require.NoError(t, err)
	fresh, err := f.svc.GetCommit(f.ctx, c.ID)
	require.NoError(t, err)
	a, err := fresh.Author(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, "ann", a.Name)

	anon := f.commit(tr)
	a, err = anon.Author(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestTreeStructureVersioned(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyBucket, nil)
	f.text(root, "a")
	f.text(root, "b")
	tr := f.track(f.node(root.ID))
	c1 := f.commit(tr)

	kids, err := f.workingCopy(tr).Children(f.ctx)
	require.NoError(t, err)
	require.NoError(t, f.engine.Reposition(f.ctx, kids[1], nil, kids[0]))
	c2 := f.commit(tr)

	r1, err := c1.Root(f.ctx)
	require.NoError(t, err)
	r2, err := c2.Root(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, f.childTexts(r1))
	assert.Equal(t, []string{"b", "a"}, f.childTexts(r2))
}

func TestRevert(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, model.Attributes{"text": "first"}))
	c1 := f.commit(tr)

	f.setText(f.workingCopy(tr), "second")
	f.commit(tr)

	oldWC := tr.WorkingCopyID
	require.NoError(t, tr.RevertTo(f.ctx, c1))
	assert.NotEqual(t, oldWC, tr.WorkingCopyID)
	_, err := f.engine.GetNode(f.ctx, oldWC)
	assert.ErrorIs(t, err, tree.ErrNotFound)

	wc := f.workingCopy(tr)
	assert.False(t, wc.IsFrozen)
	assert.True(t, wc.IsRoot())

	// reverting does not commit
	changed, err := tr.HasChanges(f.ctx)
	require.NoError(t, err)
	assert.True(t, changed)
	f.commit(tr)

	f.setText(f.workingCopy(tr), "fourth")
	f.commit(tr)

	history, err := tr.History(f.ctx)
	require.NoError(t, err)
	var texts []string
	for _, c := range history {
		texts = append(texts, f.rootText(c))
	}
	assert.Equal(t, []string{"fourth", "first", "second", "first"}, texts)
}

func TestRevert_ForeignCommit(t *testing.T) {
	f := newFixture(t)
	a := f.track(f.root(widgets.KeyRawText, nil))
	b := f.track(f.root(widgets.KeyRawText, nil))
	c := f.commit(b)

	err := a.RevertTo(f.ctx, c)
	assert.ErrorIs(t, err, version.ErrForeignCommit)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, model.Attributes{"text": "first"}))

	var want []int64
	for i := 0; i < 6; i++ {
		want = append([]int64{f.commit(tr).ID}, want...)
	}

	history, err := tr.History(f.ctx)
	require.NoError(t, err)
	var got []int64
	for _, c := range history {
		got = append(got, c.ID)
	}
	assert.Equal(t, want, got)
}

func TestHistoryList_SingleRead(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyRawText, model.Attributes{"text": "first"})
	tr := f.track(root)

	var want []int64
	for i := 0; i < 6; i++ {
		c, err := tr.Commit(f.ctx, "ann")
		require.NoError(t, err)
		want = append([]int64{c.ID}, want...)
	}

	f.db.Stats().Reset()
	history, err := tr.HistoryList(f.ctx)
	require.NoError(t, err)
	var got []int64
	for _, c := range history {
		got = append(got, c.ID)
		r, err := c.Root(f.ctx)
		require.NoError(t, err)
		content, err := r.Content(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, "first", content.Text("text"))
		a, err := c.Author(f.ctx)
		require.NoError(t, err)
		assert.Equal(t, "ann", a.Name)
	}
	assert.EqualValues(t, 1, f.db.Stats().Reads())
	assert.Equal(t, want, got)

	other := f.track(root)
	history, err = other.HistoryList(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestOldContentsCantChange(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, model.Attributes{"text": "first"}))
	c := f.commit(tr)
	root, err := c.Root(f.ctx)
	require.NoError(t, err)

	_, err = f.engine.UpdateContent(f.ctx, root, model.Attributes{"text": "changed"})
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)

	assert.ErrorIs(t, f.engine.Delete(f.ctx, root), tree.ErrInvalidOperation)

	stored, err := f.node(root.ID).Content(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", stored.Text("text"))
}

func TestOldStructureCantChange(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyBucket, nil)
	f.text(root, "a")
	f.text(root, "b")
	tr := f.track(f.node(root.ID))
	c := f.commit(tr)

	snap := f.node(c.RootNodeID)
	kids, err := snap.Children(f.ctx)
	require.NoError(t, err)
	require.Len(t, kids, 2)

	err = f.engine.Reposition(f.ctx, kids[1], nil, kids[0])
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)

	_, err = f.engine.AddChild(f.ctx, snap, widgets.RawText, model.Attributes{"text": "c"})
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)

	assert.Equal(t, []string{"a", "b"}, f.childTexts(snap))
}

func TestCreate_Rejects(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)
	kids, err := root.Children(f.ctx)
	require.NoError(t, err)

	_, err = f.svc.Create(f.ctx, kids[0])
	assert.ErrorIs(t, err, version.ErrNotRoot)

	frozen, err := f.engine.CloneTree(f.ctx, root, true)
	require.NoError(t, err)
	_, err = f.svc.Create(f.ctx, frozen)
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)
}

func TestCreateFor(t *testing.T) {
	f := newFixture(t)
	tr, err := f.svc.CreateFor(f.ctx, widgets.Layout, nil)
	require.NoError(t, err)

	wc := f.workingCopy(tr)
	assert.Equal(t, widgets.KeyLayout, wc.ContentType)
	assert.Equal(t, 2, wc.NumChild)
	assert.Nil(t, tr.HeadID)

	all, err := f.svc.List(f.ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, tr.UID, all[0].UID)

	got, err := f.svc.Get(f.ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.WorkingCopyID, got.WorkingCopyID)
}

func TestHasChanges(t *testing.T) {
	f := newFixture(t)
	tr, err := f.svc.CreateFor(f.ctx, widgets.Layout, nil)
	require.NoError(t, err)
	left, err := f.workingCopy(tr).FirstChild(f.ctx)
	require.NoError(t, err)
	f.text(left, "one")

	changed, err := tr.HasChanges(f.ctx)
	require.NoError(t, err)
	assert.True(t, changed)

	f.commit(tr)
	changed, err = tr.HasChanges(f.ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	f.text(left, "foo")
	fresh, err := f.svc.Get(f.ctx, tr.ID)
	require.NoError(t, err)
	changed, err = fresh.HasChanges(f.ctx)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestDeletionPrevented(t *testing.T) {
	f := newFixture(t)
	ent, err := f.engine.CreateEntity(f.ctx, widgets.RelatedKind, "r")
	require.NoError(t, err)
	tr := f.track(f.root(widgets.KeyForeignKey, model.Attributes{"foo_id": ent.ID}))
	c := f.commit(tr)

	err = f.engine.DeleteEntity(f.ctx, ent.ID)
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)

	_, err = f.db.GetEntity(f.ctx, ent.ID)
	require.NoError(t, err)
	root := f.node(c.RootNodeID)
	content, err := root.Content(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, content.Attrs["foo_id"])
}

func TestDeepDeletionPrevented(t *testing.T) {
	f := newFixture(t)
	ent, err := f.engine.CreateEntity(f.ctx, widgets.RelatedKind, "r")
	require.NoError(t, err)
	root := f.root(widgets.KeyBucket, nil)
	_, err = f.engine.AddChild(f.ctx, root, widgets.ForeignKey, model.Attributes{"foo_id": ent.ID})
	require.NoError(t, err)
	tr := f.track(f.node(root.ID))
	c := f.commit(tr)

	err = f.engine.DeleteEntity(f.ctx, ent.ID)
	assert.ErrorIs(t, err, tree.ErrInvalidOperation)

	_, err = f.db.GetEntity(f.ctx, ent.ID)
	require.NoError(t, err)
	kids, err := f.node(c.RootNodeID).Children(f.ctx)
	require.NoError(t, err)
	require.Len(t, kids, 1)
	content, err := kids[0].Content(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, ent.ID, content.Attrs["foo_id"])
}

func TestVerifyDigest(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, nil))
	c1, err := tr.Commit(f.ctx, "ann")
	require.NoError(t, err)
	c2 := f.commit(tr)

	for _, c := range []*version.Commit{c1, c2} {
		fresh, err := f.svc.GetCommit(f.ctx, c.ID)
		require.NoError(t, err)
		ok, err := f.svc.VerifyDigest(f.ctx, fresh)
		require.NoError(t, err)
		assert.True(t, ok)
	}

	forged, err := f.svc.GetCommit(f.ctx, c2.ID)
	require.NoError(t, err)
	forged.CreatedAt++
	ok, err := f.svc.VerifyDigest(f.ctx, forged)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDiffCommits(t *testing.T) {
	f := newFixture(t)
	tr := f.track(f.root(widgets.KeyRawText, model.Attributes{"text": "first"}))
	c1 := f.commit(tr)
	f.setText(f.workingCopy(tr), "second")
	c2 := f.commit(tr)

	out, err := f.svc.DiffCommits(f.ctx, c1, c2, diff.Lines{})
	require.NoError(t, err)
	assert.Equal(t, "-<raw_text text=\"first\"/>\n+<raw_text text=\"second\"/>\n", out)

	out, err = f.svc.DiffCommits(f.ctx, c1, c1, diff.Lines{})
	require.NoError(t, err)
	assert.False(t, diff.Changed(out))

	html, err := f.svc.DiffCommits(f.ctx, c1, c2, diff.HTML{})
	require.NoError(t, err)
	assert.Contains(t, html, "first")
	assert.Contains(t, html, "second")
}
