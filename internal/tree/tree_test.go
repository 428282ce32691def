package tree_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetree/internal/model"
	"widgetree/internal/site"
	"widgetree/internal/tree"
	"widgetree/internal/widgets"
)

func TestPostCreateAddsBuckets(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)

	kids := f.children(root)
	require.Len(t, kids, 2)
	for _, k := range kids {
		assert.Equal(t, widgets.KeyBucket, k.ContentType)
	}
	assert.Equal(t, 2, f.reload(root).NumChild)
}

func TestDeepTree(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)

	n := root
	for i := 0; i < 50; i++ {
		n = f.add(n, widgets.KeyBucket, nil)
	}
	assert.Equal(t, 51, n.Depth)

	dfo, err := f.reload(root).DepthFirstOrder(f.ctx)
	require.NoError(t, err)
	assert.Len(t, dfo[1:], 50+2)
}

func TestValidateRelationship_Class(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)
	s := f.engine.Site()
	layout := f.content(root)
	bucket := f.content(f.children(root)[0])

	err := s.ValidateRelationship(layout, tree.ClassOf(widgets.RawText))
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)

	err = s.ValidateRelationship(bucket, tree.ClassOf(widgets.CantGoAnywhere))
	assert.ErrorIs(t, err, tree.ErrParentWasRejected)

	err = s.ValidateRelationship(layout, tree.ClassOf(widgets.CantGoAnywhere))
	assert.ErrorIs(t, err, tree.ErrMutualRejection)

	assert.NoError(t, s.ValidateRelationship(bucket, tree.ClassOf(widgets.RawText)))
}

func TestValidateRelationship_Instance(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)
	picky := f.add(root, widgets.KeyPickyBucket, nil)

	_, err := f.engine.AddChild(f.ctx, picky, f.v(widgets.KeyRawText), model.Attributes{"text": "aasdf"})
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)

	f.text(picky, "hello")

	_, err = f.engine.AddChild(f.ctx, picky, f.v(widgets.KeyLayout), nil)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)

	assert.Len(t, f.children(picky), 1)
}

func TestValidateRelationship_DoesNotMutate(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyBucket, nil)
	c := f.content(root)

	f.db.Stats().Reset()
	err := f.engine.Site().ValidateRelationship(c, tree.ClassOf(widgets.CantGoAnywhere))
	assert.ErrorIs(t, err, tree.ErrParentWasRejected)
	assert.Zero(t, f.db.Stats().Writes())
	assert.Zero(t, f.db.Stats().Reads())
}

func TestRejectedMutationsDoNotWrite(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyBucket, nil)
	picky := f.add(root, widgets.KeyPickyBucket, nil)
	hello := f.text(picky, "hello")
	other := f.add(root, widgets.KeyBucket, nil)
	stray := f.text(other, "aasdf")
	before := f.dfoIDs(root)

	f.db.Stats().Reset()
	_, err := f.engine.AddChild(f.ctx, picky, f.v(widgets.KeyRawText), model.Attributes{"text": "aasdf"})
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)
	assert.Zero(t, f.db.Stats().Writes(), "add child")

	f.db.Stats().Reset()
	_, err = f.engine.AddSibling(f.ctx, hello, f.v(widgets.KeyRawText), model.Attributes{"text": "aasdf"}, tree.Right)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)
	assert.Zero(t, f.db.Stats().Writes(), "add sibling")

	f.db.Stats().Reset()
	err = f.engine.Reposition(f.ctx, stray, picky, nil)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)
	assert.Zero(t, f.db.Stats().Writes(), "reposition to end of parent")

	f.db.Stats().Reset()
	err = f.engine.Reposition(f.ctx, stray, nil, hello)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)
	assert.Zero(t, f.db.Stats().Writes(), "reposition before sibling")

	assert.Equal(t, before, f.dfoIDs(root))
}

func TestAddRoot_Rejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.AddRoot(f.ctx, f.v(widgets.KeyCantGoAnywhere), nil)
	assert.ErrorIs(t, err, tree.ErrRootRejected)

	_, err = f.engine.AddRoot(f.ctx, tree.Unknown, nil)
	var regErr *tree.RegistrationError
	assert.ErrorAs(t, err, &regErr)

	roots, err := f.engine.Roots(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, roots)
}

func TestSiteRules(t *testing.T) {
	rules, err := site.Parse([]byte(`
roots:
  deny: ["raw_text"]
children:
  - parent: "bucket"
    deny: ["picky_bucket"]
`))
	require.NoError(t, err)
	f := newFixtureWithRules(t, rules)

	_, err = f.engine.AddRoot(f.ctx, f.v(widgets.KeyRawText), nil)
	assert.ErrorIs(t, err, tree.ErrRootRejected)

	root := f.root(widgets.KeyBucket, nil)
	_, err = f.engine.AddChild(f.ctx, root, f.v(widgets.KeyPickyBucket), nil)
	require.ErrorIs(t, err, tree.ErrChildWasRejected)
	var rej *tree.RejectionError
	require.ErrorAs(t, err, &rej)
	assert.True(t, rej.BySite)
	assert.Equal(t, widgets.KeyBucket, rej.Parent)

	f.add(root, widgets.KeyVowelBucket, nil)
}

func TestReposition(t *testing.T) {
	f := newFixture(t)
	root, left, right := f.layoutTree()

	err := f.engine.Reposition(f.ctx, root, left, nil)
	assert.ErrorIs(t, err, tree.ErrInvalidTreeMovement)

	err = f.engine.Reposition(f.ctx, left, nil, root)
	assert.ErrorIs(t, err, tree.ErrInvalidTreeMovement)

	// swap left and right
	require.NoError(t, f.engine.Reposition(f.ctx, right, nil, left))
	kids := f.children(root)
	require.Len(t, kids, 2)
	newLeft, newRight := kids[0], kids[1]
	assert.Equal(t, right.ID, newLeft.ID)
	assert.Equal(t, left.ID, newRight.ID)

	rawText, err := newRight.FirstChild(f.ctx)
	require.NoError(t, err)
	err = f.engine.Reposition(f.ctx, rawText, root, newLeft)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)

	rightKids := f.children(newRight)
	subbucket := rightKids[len(rightKids)-1]
	require.NoError(t, f.engine.Reposition(f.ctx, subbucket, root, newLeft))

	assert.Equal(t, []int64{subbucket.ID, right.ID, left.ID}, ids(f.children(root)))
	assert.Equal(t, 2, f.reload(subbucket).Depth)
	assert.Len(t, f.children(subbucket), 2)
	assert.Equal(t, 3, f.reload(root).NumChild)
	assert.Equal(t, 2, f.reload(left).NumChild)
}

func TestReposition_Immovable(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)
	stuck := f.add(root, widgets.KeyImmovable, nil)
	first := f.children(root)[0]

	err := f.engine.Reposition(f.ctx, stuck, nil, first)
	assert.ErrorIs(t, err, tree.ErrInvalidTreeMovement)
	assert.Equal(t, stuck.ID, f.children(root)[2].ID)
}

func TestReposition_ToEndOfParent(t *testing.T) {
	f := newFixture(t)
	_, left, right := f.layoutTree()
	first := f.children(left)[0]

	require.NoError(t, f.engine.Reposition(f.ctx, first, right, nil))

	var texts []string
	for _, k := range f.children(right) {
		texts = append(texts, f.content(k).Text("text"))
	}
	assert.Equal(t, []string{"right_1", "right_2", "left_1"}, texts)
	assert.Equal(t, 2, f.reload(left).NumChild)
	assert.Equal(t, 3, f.reload(right).NumChild)
}

func TestAddSibling_Positions(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyBucket, nil)
	x := f.text(root, "x")

	sibling := func(of *tree.Node, text string, pos tree.Position) *tree.Node {
		n, err := f.engine.AddSibling(f.ctx, of, f.v(widgets.KeyRawText), model.Attributes{"text": text}, pos)
		require.NoError(t, err)
		return n
	}
	first := sibling(x, "first", tree.FirstSibling)
	sibling(x, "left", tree.Left)
	sibling(x, "right", tree.Right)
	sibling(first, "last", tree.LastSibling)
	sibling(x, "between", tree.Right)

	var texts []string
	for _, k := range f.children(root) {
		texts = append(texts, f.content(k).Text("text"))
	}
	assert.Equal(t, []string{"first", "left", "x", "between", "right", "last"}, texts)
	assert.Equal(t, 6, f.reload(root).NumChild)

	_, err := f.engine.AddSibling(f.ctx, x, f.v(widgets.KeyRawText), nil, tree.LastChild)
	assert.ErrorIs(t, err, tree.ErrInvalidTreeMovement)
}

func TestAddSibling_OfRootCreatesRoot(t *testing.T) {
	f := newFixture(t)
	a := f.root(widgets.KeyBucket, nil)
	b, err := f.engine.AddSibling(f.ctx, a, f.v(widgets.KeyBucket), nil, tree.Left)
	require.NoError(t, err)
	assert.True(t, b.IsRoot())

	roots, err := f.engine.Roots(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{b.ID, a.ID}, ids(roots))

	next, err := f.reload(b).NextSibling(f.ctx)
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestMove_IntoOwnSubtree(t *testing.T) {
	f := newFixture(t)
	root, left, _ := f.layoutTree()
	before := f.dfoIDs(root)
	sub := f.children(left)[2]

	err := left.Move(f.ctx, sub, tree.LastChild)
	assert.ErrorIs(t, err, tree.ErrInvalidTreeMovement)
	assert.Equal(t, before, f.dfoIDs(root))
}

func TestProxyVariant(t *testing.T) {
	f := newFixture(t)
	root := f.reload(f.root(widgets.KeyVowelBucket, nil))

	c := f.content(root)
	assert.Equal(t, widgets.KeyVowelBucket, c.Type)
	assert.Equal(t, widgets.KeyBucket, c.Storage)

	f.add(root, widgets.KeyImmovable, nil)
	_, err := f.engine.AddChild(f.ctx, root, f.v(widgets.KeyBucket), nil)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)

	f.add(root, widgets.KeyImmovable, nil)
	_, err = f.engine.AddChild(f.ctx, root, f.v(widgets.KeyBucket), nil)
	assert.ErrorIs(t, err, tree.ErrChildWasRejected)

	// a proxy compares equal to its base when the data matches
	plain := f.root(widgets.KeyBucket, nil)
	assert.True(t, c.Equal(f.content(plain)))
}

func TestUnknownContentType(t *testing.T) {
	f := newFixture(t)
	root := f.root(widgets.KeyLayout, nil)

	e := f.without(widgets.KeyLayout)
	n, err := e.GetNode(f.ctx, root.ID)
	require.NoError(t, err)

	var c *tree.Content
	reads := f.reads(func() {
		c, err = n.Content(f.ctx)
	})
	require.NoError(t, err)
	assert.Zero(t, reads)
	assert.True(t, c.IsUnknown())
	assert.Equal(t, widgets.KeyLayout, c.Type)
	assert.Equal(t, root.ContentID, c.ID)
}

func TestUnknownContentType_Prefetch(t *testing.T) {
	f := newFixture(t)
	root, _, _ := f.layoutTree()

	e := f.without(widgets.KeyBucket)
	n, err := e.GetNode(f.ctx, root.ID)
	require.NoError(t, err)
	_, err = e.PrefetchTree(f.ctx, n)
	require.NoError(t, err)

	kids, err := n.Children(f.ctx)
	require.NoError(t, err)
	c, err := kids[0].Content(f.ctx)
	require.NoError(t, err)
	assert.True(t, c.IsUnknown())
	assert.Equal(t, widgets.KeyBucket, c.Type)

	rc, err := n.Content(f.ctx)
	require.NoError(t, err)
	assert.False(t, rc.IsUnknown())
}

func TestGetAttributes(t *testing.T) {
	f := newFixture(t)
	ent, err := f.engine.CreateEntity(f.ctx, widgets.RelatedKind, "r")
	require.NoError(t, err)

	tests := []struct {
		key   string
		attrs model.Attributes
		want  model.Attributes
	}{
		{widgets.KeyBucket, nil, model.Attributes{}},
		{widgets.KeyRawText, model.Attributes{"text": "foo"}, model.Attributes{"text": "foo"}},
		{widgets.KeyAnotherLayout, nil, model.Attributes{}},
		{widgets.KeyForeignKey, model.Attributes{"foo_id": ent.ID}, model.Attributes{"foo_id": ent.ID}},
	}
	for _, tt := range tests {
		n := f.root(tt.key, tt.attrs)
		assert.Equal(t, tt.want, f.content(n).Attributes(), tt.key)
		assert.Equal(t, tt.want, f.content(f.reload(n)).Attributes(), "%s reloaded", tt.key)
	}
}

func TestRawTextDefaults(t *testing.T) {
	f := newFixture(t)
	n := f.root(widgets.KeyRawText, nil)
	assert.Equal(t, model.Attributes{"text": ""}, f.content(f.reload(n)).Attributes())
}

func TestUpdateContent(t *testing.T) {
	f := newFixture(t)
	n := f.root(widgets.KeyRawText, model.Attributes{"text": "a"})

	c, err := f.engine.UpdateContent(f.ctx, n, model.Attributes{"text": "b", "extra": 3})
	require.NoError(t, err)
	assert.Equal(t, "b", c.Text("text"))

	stored := f.content(f.reload(n))
	assert.Equal(t, model.Attributes{"text": "b", "extra": int64(3)}, stored.Attributes())
}

func TestContentEqual(t *testing.T) {
	f := newFixture(t)
	a := f.root(widgets.KeyRawText, model.Attributes{"text": "a"})
	b := f.root(widgets.KeyRawText, model.Attributes{"text": "b"})
	assert.False(t, f.content(a).Equal(f.content(b)))

	cb, err := f.engine.UpdateContent(f.ctx, b, model.Attributes{"text": "a"})
	require.NoError(t, err)
	assert.True(t, f.content(a).Equal(cb))

	x := f.root(widgets.KeyAnotherLayout, nil)
	y := f.root(widgets.KeyAnotherLayout, nil)
	assert.True(t, f.content(x).Equal(f.content(y)))
	assert.False(t, f.content(x).Equal(f.content(f.root(widgets.KeyBucket, nil))))
}

func TestDelete(t *testing.T) {
	f := newFixture(t)
	root, left, right := f.layoutTree()

	require.NoError(t, f.engine.Delete(f.ctx, left))
	assert.Equal(t, []int64{right.ID}, ids(f.children(root)))
	assert.Equal(t, 1, f.reload(root).NumChild)
	assert.Len(t, f.dfoIDs(root), 4)

	_, err := f.engine.GetNode(f.ctx, left.ID)
	assert.ErrorIs(t, err, tree.ErrNotFound)
}

func TestDeleteEntity_ClearsLiveReferences(t *testing.T) {
	f := newFixture(t)
	ent, err := f.engine.CreateEntity(f.ctx, widgets.RelatedKind, "r")
	require.NoError(t, err)
	n := f.root(widgets.KeyForeignKey, model.Attributes{"foo_id": ent.ID})

	require.NoError(t, f.engine.DeleteEntity(f.ctx, ent.ID))

	attrs := f.content(f.reload(n)).Attributes()
	assert.Contains(t, attrs, "foo_id")
	assert.Nil(t, attrs["foo_id"])
	assert.ErrorIs(t, f.engine.DeleteEntity(f.ctx, ent.ID), tree.ErrNotFound)
}

func TestDeleteEntity_ProxyKeepsOtherReferences(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.reg.Register(&tree.Variant{
		Key:     "linked_bucket",
		Storage: widgets.KeyBucket,
		References: map[string]string{
			"foo_id": widgets.RelatedKind,
			"bar_id": widgets.RelatedKind,
		},
	}))
	foo, err := f.engine.CreateEntity(f.ctx, widgets.RelatedKind, "foo")
	require.NoError(t, err)
	bar, err := f.engine.CreateEntity(f.ctx, widgets.RelatedKind, "bar")
	require.NoError(t, err)
	n := f.root("linked_bucket", model.Attributes{"foo_id": foo.ID, "bar_id": bar.ID})

	require.NoError(t, f.engine.DeleteEntity(f.ctx, foo.ID))

	refs, err := f.db.GetReferences(f.ctx, bar.ID)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, n.ContentID, refs[0].ContentID)
	assert.Equal(t, "linked_bucket", refs[0].ContentType)

	attrs := f.content(f.reload(n)).Attributes()
	assert.Nil(t, attrs["foo_id"])
	assert.Equal(t, bar.ID, attrs["bar_id"])
}
