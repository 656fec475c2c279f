// Package config provides the YAML configuration tree shared by all models.
// A run configuration is loaded once, merged over the embedded defaults and
// then handed out to models as path-aware subtrees.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yml
var defaultsYAML []byte

var (
	// ErrMissing reports a required configuration key that is absent.
	ErrMissing = errors.New("missing config entry")
	// ErrInvalid reports a configuration value of the wrong type or out of range.
	ErrInvalid = errors.New("invalid config entry")
)

// Node is a read-only view on a mapping (or scalar) inside the configuration
// tree. The zero Node is an empty mapping.
type Node struct {
	n    *yaml.Node
	path string
}

// Defaults returns the embedded framework defaults.
func Defaults() Node {
	n, err := Parse(defaultsYAML)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults are invalid: %v", err))
	}
	return n
}

// Load reads a YAML file from disk.
func Load(path string) (Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Node{}, fmt.Errorf("reading config file: %w", err)
	}
	n, err := Parse(data)
	if err != nil {
		return Node{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return n, nil
}

// Parse decodes a YAML document into a Node.
func Parse(data []byte) (Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Node{}, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return Node{}, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Node{}, fmt.Errorf("%w: top level of a configuration must be a mapping", ErrInvalid)
	}
	return Node{n: root}, nil
}

// MustParse is Parse for literals in tests and embedded defaults.
func MustParse(s string) Node {
	n, err := Parse([]byte(s))
	if err != nil {
		panic(err)
	}
	return n
}

// FromValue encodes an arbitrary Go value (typically a map) into a Node.
func FromValue(v any) (Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return Node{}, err
	}
	return Node{n: &n}, nil
}

// Path returns the dotted path of this node from the configuration root.
func (n Node) Path() string {
	if n.path == "" {
		return "<root>"
	}
	return n.path
}

// IsZero reports whether the node is absent or empty.
func (n Node) IsZero() bool {
	if n.n == nil {
		return true
	}
	return n.n.Kind == yaml.MappingNode && len(n.n.Content) == 0
}

// IsMap reports whether the node is a mapping (the zero Node counts as one).
func (n Node) IsMap() bool {
	return n.n == nil || n.n.Kind == yaml.MappingNode
}

// Has reports whether key exists in this mapping.
func (n Node) Has(key string) bool {
	return n.lookup(key) != nil
}

// Sub returns the child node at key. Missing keys yield an empty Node that
// still carries the requested path.
func (n Node) Sub(key string) Node {
	return Node{n: n.lookup(key), path: n.child(key)}
}

// Keys returns the mapping keys in document order.
func (n Node) Keys() []string {
	if n.n == nil || n.n.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(n.n.Content)/2)
	for i := 0; i+1 < len(n.n.Content); i += 2 {
		keys = append(keys, n.n.Content[i].Value)
	}
	return keys
}

// Items returns the elements of a sequence node.
func (n Node) Items() []Node {
	if n.n == nil || n.n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]Node, len(n.n.Content))
	for i, c := range n.n.Content {
		out[i] = Node{n: c, path: fmt.Sprintf("%s[%d]", n.Path(), i)}
	}
	return out
}

// Decode unmarshals the node into v.
func (n Node) Decode(v any) error {
	if n.n == nil {
		return fmt.Errorf("%w '%s'", ErrMissing, n.Path())
	}
	if err := n.n.Decode(v); err != nil {
		return fmt.Errorf("%w '%s': %v", ErrInvalid, n.Path(), err)
	}
	return nil
}

// Value returns the node decoded into generic Go values.
func (n Node) Value() any {
	if n.n == nil {
		return nil
	}
	var v any
	if err := n.n.Decode(&v); err != nil {
		return nil
	}
	return v
}

// String renders the node as YAML.
func (n Node) String() string {
	if n.n == nil {
		return "{}"
	}
	out, err := yaml.Marshal(n.n)
	if err != nil {
		return fmt.Sprintf("<unprintable: %v>", err)
	}
	return strings.TrimSpace(string(out))
}

// With returns a copy of n where key is set to value.
func (n Node) With(key string, value any) (Node, error) {
	patch, err := FromValue(map[string]any{key: value})
	if err != nil {
		return Node{}, err
	}
	return Merge(n, patch), nil
}

func (n Node) lookup(key string) *yaml.Node {
	if n.n == nil || n.n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.n.Content); i += 2 {
		if n.n.Content[i].Value == key {
			return n.n.Content[i+1]
		}
	}
	return nil
}

func (n Node) child(key string) string {
	if n.path == "" {
		return key
	}
	return n.path + "." + key
}

// Get decodes the value stored at key.
func Get[T any](n Node, key string) (T, error) {
	var v T
	c := n.lookup(key)
	if c == nil {
		return v, fmt.Errorf("%w '%s'", ErrMissing, n.child(key))
	}
	if err := c.Decode(&v); err != nil {
		return v, fmt.Errorf("%w '%s': %v", ErrInvalid, n.child(key), err)
	}
	return v, nil
}

// GetOr decodes the value stored at key or returns def if the key is absent.
func GetOr[T any](n Node, key string, def T) (T, error) {
	if !n.Has(key) {
		return def, nil
	}
	return Get[T](n, key)
}

// Probability reads a value that must lie within [0, 1].
func Probability(n Node, key string, def float64) (float64, error) {
	p, err := GetOr(n, key, def)
	if err != nil {
		return 0, err
	}
	if p < 0 || p > 1 {
		return 0, fmt.Errorf("%w '%s': probability %v is not in [0, 1]", ErrInvalid, n.child(key), p)
	}
	return p, nil
}

// Merge returns a new tree where update is recursively applied on top of
// base. Mappings are merged key by key; every other kind of value in update
// replaces the one in base.
func Merge(base, update Node) Node {
	if update.n == nil {
		return Node{n: clone(base.n), path: base.path}
	}
	if base.n == nil {
		return Node{n: clone(update.n), path: base.path}
	}
	return Node{n: merge(clone(base.n), update.n), path: base.path}
}

// Overlay merges n on top of defaults and keeps the path of n.
func Overlay(defaults, n Node) Node {
	m := Merge(defaults, n)
	m.path = n.path
	return m
}

func merge(dst, src *yaml.Node) *yaml.Node {
	if dst.Kind != yaml.MappingNode || src.Kind != yaml.MappingNode {
		return clone(src)
	}
	for i := 0; i+1 < len(src.Content); i += 2 {
		key, val := src.Content[i], src.Content[i+1]
		found := false
		for j := 0; j+1 < len(dst.Content); j += 2 {
			if dst.Content[j].Value == key.Value {
				dst.Content[j+1] = merge(dst.Content[j+1], val)
				found = true
				break
			}
		}
		if !found {
			dst.Content = append(dst.Content, clone(key), clone(val))
		}
	}
	return dst
}

func clone(n *yaml.Node) *yaml.Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Alias != nil {
		c.Alias = clone(n.Alias)
	}
	if len(n.Content) > 0 {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, sub := range n.Content {
			c.Content[i] = clone(sub)
		}
	}
	return &c
}
