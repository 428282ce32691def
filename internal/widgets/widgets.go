// Package widgets provides the stock content variants.
package widgets

import (
	"context"
	"strings"

	"widgetree/internal/model"
	"widgetree/internal/tree"
)

// Discriminators of the stock variants.
const (
	KeyLayout         = "layout"
	KeyAnotherLayout  = "another_layout"
	KeyBucket         = "bucket"
	KeyPickyBucket    = "picky_bucket"
	KeyImmovable      = "immovable_bucket"
	KeyVowelBucket    = "vowel_bucket"
	KeyRawText        = "raw_text"
	KeyCantGoAnywhere = "cant_go_anywhere"
	KeyForeignKey     = "foreign_key"
)

// RelatedKind is the entity kind foreign_key content points at.
const RelatedKind = "related"

func isBucket(v *tree.Variant) bool {
	return strings.HasSuffix(v.Key, KeyBucket)
}

// Layout is a page layout. It holds only buckets and starts with two of them.
var Layout = &tree.Variant{
	Key: KeyLayout,
	Accepts: func(_ *tree.Content, child tree.Candidate) bool {
		return isBucket(child.Variant)
	},
	PostCreate: func(ctx context.Context, e *tree.Engine, n *tree.Node) error {
		bucket := e.Registry().Lookup(KeyBucket)
		for i := 0; i < 2; i++ {
			if _, err := e.AddChild(ctx, n, bucket, nil); err != nil {
				return err
			}
		}
		return nil
	},
}

// AnotherLayout is a layout with its own storage and no starting buckets.
var AnotherLayout = &tree.Variant{
	Key: KeyAnotherLayout,
	Accepts: func(_ *tree.Content, child tree.Candidate) bool {
		return isBucket(child.Variant)
	},
}

// Bucket accepts anything.
var Bucket = &tree.Variant{Key: KeyBucket}

// PickyBucket refuses layouts and accepts text only when it says hello.
var PickyBucket = &tree.Variant{
	Key: KeyPickyBucket,
	Accepts: func(_ *tree.Content, child tree.Candidate) bool {
		switch child.Variant.Key {
		case KeyLayout, KeyAnotherLayout:
			return false
		case KeyRawText:
			if child.Content == nil {
				return true
			}
			return child.Content.Text("text") == "hello"
		}
		return true
	},
}

// ImmovableBucket cannot be repositioned once placed.
var ImmovableBucket = &tree.Variant{Key: KeyImmovable, Immovable: true}

// VowelBucket shares bucket storage and accepts only children whose type
// name starts with a vowel.
var VowelBucket = &tree.Variant{
	Key:     KeyVowelBucket,
	Storage: KeyBucket,
	Accepts: func(_ *tree.Content, child tree.Candidate) bool {
		return child.Variant.Key != "" && strings.ContainsRune("aeiou", rune(child.Variant.Key[0]))
	},
}

// RawText is a text leaf.
var RawText = &tree.Variant{
	Key:      KeyRawText,
	Defaults: model.Attributes{"text": ""},
	Accepts: func(*tree.Content, tree.Candidate) bool {
		return false
	},
}

// CantGoAnywhere refuses every parent, including none.
var CantGoAnywhere = &tree.Variant{
	Key: KeyCantGoAnywhere,
	ValidChildOf: func(tree.Candidate, *tree.Content) bool {
		return false
	},
}

// ForeignKey holds a reference to a related entity in foo_id.
var ForeignKey = &tree.Variant{
	Key:        KeyForeignKey,
	References: map[string]string{"foo_id": RelatedKind},
}

// All lists the stock variants in registration order.
func All() []*tree.Variant {
	return []*tree.Variant{
		Layout, AnotherLayout, Bucket, PickyBucket, ImmovableBucket,
		VowelBucket, RawText, CantGoAnywhere, ForeignKey,
	}
}

// RegisterAll registers every stock variant.
func RegisterAll(r *tree.Registry) error {
	for _, v := range All() {
		if err := r.Register(v); err != nil {
			return err
		}
	}
	return nil
}
