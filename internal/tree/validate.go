package tree

import (
	"fmt"

	"widgetree/internal/site"
)

// Site combines the variant registry with deployment placement rules.
type Site struct {
	Registry *Registry
	Rules    *site.Rules
}

// NewSite creates a site. A nil rules value allows everything.
func NewSite(reg *Registry, rules *site.Rules) *Site {
	if rules == nil {
		rules = site.AllowAll()
	}
	return &Site{Registry: reg, Rules: rules}
}

// ValidateRoot checks that v may be a tree root.
func (s *Site) ValidateRoot(v *Variant) error {
	if v.IsUnknown() {
		return &RegistrationError{Key: v.Key, Reason: "not registered"}
	}
	if !s.Rules.AllowsRoot(v.Key) {
		return fmt.Errorf("%w: %s", ErrRootRejected, v.Key)
	}
	return nil
}

// ValidateRelationship decides whether child may be placed under parent.
// It never mutates anything. Site rules are consulted first at type
// granularity; then the parent-side and child-side predicates run and the
// result names the side that was refused.
func (s *Site) ValidateRelationship(parent *Content, child Candidate) error {
	parentType := ""
	if parent != nil {
		parentType = parent.Type
	}

	if parent == nil {
		if !s.Rules.AllowsRoot(child.Variant.Key) {
			return &RejectionError{Kind: ErrChildWasRejected, Child: child.Variant.Key, BySite: true}
		}
	} else if !s.Rules.AllowsChild(parentType, child.Variant.Key) {
		return &RejectionError{Kind: ErrChildWasRejected, Parent: parentType, Child: child.Variant.Key, BySite: true}
	}

	badChild := parent != nil && !parent.Variant().accepts(parent, child)
	badParent := !child.Variant.validChildOf(child, parent)

	switch {
	case badChild && badParent:
		return &RejectionError{Kind: ErrMutualRejection, Parent: parentType, Child: child.Variant.Key}
	case badChild:
		return &RejectionError{Kind: ErrChildWasRejected, Parent: parentType, Child: child.Variant.Key}
	case badParent:
		return &RejectionError{Kind: ErrParentWasRejected, Parent: parentType, Child: child.Variant.Key}
	}
	return nil
}
