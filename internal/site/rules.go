// Package site provides deployment-level placement rules for content types.
//
// Rules are glob patterns (doublestar syntax) over content-type discriminators.
// They restrain which types may be roots and which may be placed under which
// parents, independently of the per-variant predicates.
package site

import (
	"fmt"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// PatternList is an allow/deny pair. An empty Allow means "everything".
type PatternList struct {
	Allow []string `yaml:"allow,omitempty"`
	Deny  []string `yaml:"deny,omitempty"`
}

// ChildRule restrains the children of parents whose type matches Parent.
type ChildRule struct {
	Parent      string `yaml:"parent"`
	PatternList `yaml:",inline"`
}

// Config is the on-disk shape of a site rules file.
type Config struct {
	Roots    PatternList `yaml:"roots"`
	Children []ChildRule `yaml:"children"`
}

// Rules answers placement questions at type granularity.
type Rules struct {
	cfg Config
}

// NewRules creates rules from an in-memory config.
func NewRules(cfg Config) *Rules {
	return &Rules{cfg: cfg}
}

// AllowAll returns rules with no restrictions.
func AllowAll() *Rules {
	return &Rules{}
}

// Load reads rules from a YAML file.
func Load(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading site rules: %w", err)
	}
	return Parse(data)
}

// LoadOrDefault loads rules from path, or returns unrestricted rules if path is
// empty or the file does not exist.
func LoadOrDefault(path string) (*Rules, error) {
	if path == "" {
		return AllowAll(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AllowAll(), nil
		}
		return nil, fmt.Errorf("reading site rules: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML rules and validates every pattern.
func Parse(data []byte) (*Rules, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing site rules: %w", err)
	}

	patterns := append(append([]string{}, cfg.Roots.Allow...), cfg.Roots.Deny...)
	for _, rule := range cfg.Children {
		patterns = append(patterns, rule.Parent)
		patterns = append(patterns, rule.Allow...)
		patterns = append(patterns, rule.Deny...)
	}
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}

	return &Rules{cfg: cfg}, nil
}

// Config returns the underlying configuration.
func (r *Rules) Config() Config {
	return r.cfg
}

// AllowsRoot reports whether typ may be a tree root.
func (r *Rules) AllowsRoot(typ string) bool {
	return r.cfg.Roots.permits(typ)
}

// AllowsChild reports whether childType may be placed under parentType.
// Every rule whose Parent pattern matches applies.
func (r *Rules) AllowsChild(parentType, childType string) bool {
	for _, rule := range r.cfg.Children {
		if !match(rule.Parent, parentType) {
			continue
		}
		if !rule.permits(childType) {
			return false
		}
	}
	return true
}

// Save writes the rules to a YAML file.
func (r *Rules) Save(path string) error {
	data, err := yaml.Marshal(&r.cfg)
	if err != nil {
		return fmt.Errorf("marshaling site rules: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing site rules: %w", err)
	}
	return nil
}

func (p PatternList) permits(typ string) bool {
	for _, pattern := range p.Deny {
		if match(pattern, typ) {
			return false
		}
	}
	if len(p.Allow) == 0 {
		return true
	}
	for _, pattern := range p.Allow {
		if match(pattern, typ) {
			return true
		}
	}
	return false
}

func match(pattern, typ string) bool {
	ok, err := doublestar.Match(pattern, typ)
	return err == nil && ok
}
