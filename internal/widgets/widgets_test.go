package widgets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"widgetree/internal/model"
	"widgetree/internal/tree"
)

func TestRegisterAll(t *testing.T) {
	reg := tree.NewRegistry()
	require.NoError(t, RegisterAll(reg))
	for _, v := range All() {
		assert.True(t, reg.Has(v.Key), v.Key)
		assert.Same(t, v, reg.Lookup(v.Key))
	}
	assert.Len(t, reg.Keys(), len(All()))

	var regErr *tree.RegistrationError
	assert.ErrorAs(t, RegisterAll(reg), &regErr)
}

func TestStorage(t *testing.T) {
	assert.Equal(t, KeyBucket, VowelBucket.StorageKey())
	assert.Equal(t, KeyBucket, Bucket.StorageKey())
	assert.Equal(t, KeyLayout, Layout.StorageKey())
}

func TestLayoutAcceptsBucketsOnly(t *testing.T) {
	for _, v := range []*tree.Variant{Bucket, PickyBucket, VowelBucket, ImmovableBucket} {
		assert.True(t, Layout.Accepts(nil, tree.ClassOf(v)), v.Key)
		assert.True(t, AnotherLayout.Accepts(nil, tree.ClassOf(v)), v.Key)
	}
	for _, v := range []*tree.Variant{RawText, Layout, CantGoAnywhere} {
		assert.False(t, Layout.Accepts(nil, tree.ClassOf(v)), v.Key)
	}
}

func TestPickyBucket(t *testing.T) {
	text := func(s string) tree.Candidate {
		return tree.Candidate{
			Variant: RawText,
			Content: &tree.Content{Content: model.Content{Attrs: model.Attributes{"text": s}}},
		}
	}
	assert.False(t, PickyBucket.Accepts(nil, tree.ClassOf(Layout)))
	assert.False(t, PickyBucket.Accepts(nil, tree.ClassOf(AnotherLayout)))
	assert.True(t, PickyBucket.Accepts(nil, tree.ClassOf(Bucket)))
	assert.True(t, PickyBucket.Accepts(nil, tree.ClassOf(RawText)))
	assert.True(t, PickyBucket.Accepts(nil, text("hello")))
	assert.False(t, PickyBucket.Accepts(nil, text("goodbye")))
}

func TestVowelBucket(t *testing.T) {
	assert.True(t, VowelBucket.Accepts(nil, tree.ClassOf(AnotherLayout)))
	assert.True(t, VowelBucket.Accepts(nil, tree.ClassOf(ImmovableBucket)))
	assert.False(t, VowelBucket.Accepts(nil, tree.ClassOf(RawText)))
	assert.False(t, VowelBucket.Accepts(nil, tree.ClassOf(Bucket)))
}

func TestLeafAndNowhere(t *testing.T) {
	assert.False(t, RawText.Accepts(nil, tree.ClassOf(Bucket)))
	assert.False(t, CantGoAnywhere.ValidChildOf(tree.ClassOf(CantGoAnywhere), nil))
	assert.Equal(t, RelatedKind, ForeignKey.References["foo_id"])
	assert.True(t, ImmovableBucket.Immovable)
}
