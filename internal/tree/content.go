package tree

import (
	"bytes"
	"fmt"

	"widgetree/internal/cas"
	"widgetree/internal/model"
)

// Content is a widget payload bound to exactly one node.
type Content struct {
	model.Content
	// Type is the discriminator of the owning node. For unknown content it is
	// the unresolved discriminator as stored.
	Type string

	variant *Variant
	node    *Node
}

func newContent(row *model.Content, typ string, v *Variant) *Content {
	c := &Content{Type: typ, variant: v}
	if row != nil {
		c.Content = *row
	}
	if c.Attrs == nil {
		c.Attrs = model.Attributes{}
	}
	return c
}

// newUnknown builds the sentinel for a discriminator that cannot be resolved.
func newUnknown(typ string, id int64) *Content {
	return &Content{
		Content: model.Content{ID: id, Attrs: model.Attributes{}},
		Type:    typ,
		variant: Unknown,
	}
}

// Variant returns the content's variant, or Unknown.
func (c *Content) Variant() *Variant {
	if c.variant == nil {
		return Unknown
	}
	return c.variant
}

// IsUnknown reports whether the discriminator could not be resolved.
func (c *Content) IsUnknown() bool {
	return c.Variant().IsUnknown()
}

// Node returns the node owning this content, if it was loaded through one.
func (c *Content) Node() *Node {
	return c.node
}

// Attributes returns a copy of the flat attribute view.
func (c *Content) Attributes() model.Attributes {
	return c.Attrs.Clone()
}

// Text returns a string attribute, or "" when absent.
func (c *Content) Text(key string) string {
	s, _ := c.Attrs[key].(string)
	return s
}

// Equal reports whether two contents hold the same data. Variants sharing a
// storage family compare by attributes only, so a proxy equals its base.
func (c *Content) Equal(o *Content) bool {
	if c == nil || o == nil {
		return c == o
	}
	if storageFamily(c) != storageFamily(o) {
		return false
	}
	return attrsEqual(c.Attrs, o.Attrs)
}

func (c *Content) String() string {
	return fmt.Sprintf("%s#%d", c.Type, c.ID)
}

func storageFamily(c *Content) string {
	if c.IsUnknown() {
		return "?" + c.Type
	}
	return c.Variant().StorageKey()
}

func attrsEqual(a, b model.Attributes) bool {
	ja, err := cas.CanonicalJSON(a)
	if err != nil {
		return false
	}
	jb, err := cas.CanonicalJSON(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ja, jb)
}

func mergeAttrs(defaults, attrs model.Attributes) model.Attributes {
	out := defaults.Clone()
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
