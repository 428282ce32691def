package tree

import (
	"context"
	"sort"
	"sync"

	"widgetree/internal/model"
)

// Candidate is a prospective child: always a variant, optionally an instance
// (possibly unsaved) of it.
type Candidate struct {
	Variant *Variant
	Content *Content
}

// ClassOf makes a class-only candidate.
func ClassOf(v *Variant) Candidate {
	return Candidate{Variant: v}
}

// InstanceOf makes a candidate from existing content.
func InstanceOf(c *Content) Candidate {
	return Candidate{Variant: c.Variant(), Content: c}
}

// Attr returns an attribute of the candidate instance, or nil for a class-only candidate.
func (c Candidate) Attr(key string) interface{} {
	if c.Content == nil {
		return nil
	}
	return c.Content.Attrs[key]
}

// Variant describes one content type. Variants are plain values dispatched
// through a Registry; behaviour lives in the function fields.
type Variant struct {
	// Key is the discriminator stored on nodes.
	Key string
	// Storage is the storage family. Proxy variants set it to the key of the
	// variant whose rows they share. Empty means Key.
	Storage string
	// Defaults are merged under the attributes passed at creation.
	Defaults model.Attributes
	// References maps attribute names to the entity kind they point at.
	References map[string]string
	// Immovable variants cannot be repositioned.
	Immovable bool

	// Accepts is the parent-side predicate. Nil accepts everything.
	Accepts func(parent *Content, child Candidate) bool
	// ValidChildOf is the child-side predicate; parent is nil for root
	// placement. Nil accepts every parent.
	ValidChildOf func(child Candidate, parent *Content) bool
	// PostCreate runs after the content and its node have been created.
	PostCreate func(ctx context.Context, e *Engine, n *Node) error

	unknown bool
}

// Unknown is the sentinel returned by Lookup for unregistered discriminators.
var Unknown = &Variant{Key: "unknown", unknown: true}

// StorageKey returns the storage family of the variant.
func (v *Variant) StorageKey() string {
	if v.Storage != "" {
		return v.Storage
	}
	return v.Key
}

// IsUnknown reports whether v is the unknown sentinel.
func (v *Variant) IsUnknown() bool {
	return v.unknown
}

func (v *Variant) accepts(parent *Content, child Candidate) bool {
	if v.unknown {
		return false
	}
	if v.Accepts == nil {
		return true
	}
	return v.Accepts(parent, child)
}

func (v *Variant) validChildOf(child Candidate, parent *Content) bool {
	if v.unknown {
		return false
	}
	if v.ValidChildOf == nil {
		return true
	}
	return v.ValidChildOf(child, parent)
}

// Registry maps discriminators to variants.
type Registry struct {
	mu       sync.RWMutex
	variants map[string]*Variant
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{variants: make(map[string]*Variant)}
}

// Default is the process-wide registry. Populate it at startup, before any
// tree operation runs, and do not mutate it afterwards.
var Default = NewRegistry()

// Register adds a variant keyed by its discriminator.
func (r *Registry) Register(v *Variant) error {
	if v == nil || v.Key == "" || v.unknown {
		return &RegistrationError{Key: "", Reason: "variant must have a key"}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.variants[v.Key]; ok {
		return &RegistrationError{Key: v.Key, Reason: "already registered"}
	}
	r.variants[v.Key] = v
	return nil
}

// Unregister removes the variant registered under key.
func (r *Registry) Unregister(key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.variants[key]; !ok {
		return &RegistrationError{Key: key, Reason: "not registered"}
	}
	delete(r.variants, key)
	return nil
}

// Lookup returns the variant for key, or Unknown. It never fails.
func (r *Registry) Lookup(key string) *Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if v, ok := r.variants[key]; ok {
		return v
	}
	return Unknown
}

// Has reports whether key is registered.
func (r *Registry) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.variants[key]
	return ok
}

// Keys returns the registered discriminators, sorted.
func (r *Registry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.variants))
	for k := range r.variants {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
