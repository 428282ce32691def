// Package model provides the row types shared by the tree engine and its stores.
package model

import (
	"bytes"
	"encoding/json"
)

// Attributes is the flat attribute view of a content row.
type Attributes map[string]interface{}

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Node is a persisted tree position.
type Node struct {
	ID          int64
	Path        string
	Depth       int
	NumChild    int
	ContentType string
	ContentID   int64
	IsFrozen    bool
}

// Content is a persisted widget payload. Storage is the storage family shared by
// proxy variants; Type on the owning node is the concrete discriminator.
type Content struct {
	ID      int64
	Storage string
	Attrs   Attributes
}

// Reference is an outgoing link from a content attribute to an entity.
type Reference struct {
	ContentID   int64
	Attr        string
	EntityID    int64
	// ContentType is the discriminator of the owning node, filled on reads.
	ContentType string
}

// Entity is an external row that content may refer to.
type Entity struct {
	ID        int64
	Kind      string
	Label     string
	CreatedAt int64
}

// Author is the actor recorded on a commit.
type Author struct {
	ID   int64
	Name string
}

// Tracker is the mutable pointer to a working copy and its commit head.
type Tracker struct {
	ID            int64
	UID           string
	WorkingCopyID int64
	HeadID        *int64
	Referenced    bool
	CreatedAt     int64
}

// Commit is an immutable snapshot record.
type Commit struct {
	ID         int64
	TrackerID  int64
	RootNodeID int64
	ParentID   *int64
	AuthorID   *int64
	Digest     []byte
	TreeHash   []byte
	CreatedAt  int64
}

// HistoryEntry is a commit joined with its root node, root content and author.
type HistoryEntry struct {
	Commit  Commit
	Root    Node
	Content *Content
	Author  *Author
}

// Link ties a referrer row (kind, field, id) to a tracker.
type Link struct {
	Kind       string
	Field      string
	ReferrerID int64
	TrackerID  int64
}

// ReferrerField is a registered back-reference: a field of a referrer kind
// that may point at a tracker.
type ReferrerField struct {
	Kind  string
	Field string
}

// DecodeAttributes parses a JSON object. Integral numbers decode as int64,
// other numbers as float64.
func DecodeAttributes(data []byte) (Attributes, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	attrs := Attributes{}
	if err := dec.Decode(&attrs); err != nil {
		return nil, err
	}
	for k, v := range attrs {
		attrs[k] = fromNumbers(v)
	}
	return attrs, nil
}

func fromNumbers(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	case map[string]interface{}:
		for k, e := range x {
			x[k] = fromNumbers(e)
		}
		return x
	case []interface{}:
		for i, e := range x {
			x[i] = fromNumbers(e)
		}
		return x
	}
	return v
}
