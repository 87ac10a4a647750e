// Package config provides typed, named, process-wide settings with change
// listeners, loadable from YAML or TOML documents.
//
// Settings are registered with [Lookup], which returns the same *Var for
// repeated calls with the same name and type. Documents are flattened into
// dotted keys ("tcp: {connect: {timeout: 100}}" sets "tcp.connect.timeout")
// and every key naming a registered setting is decoded into it. Keys that
// name nothing are ignored.
package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/joeycumines/go-fiberio/internal/logging"
)

const validNameChars = "abcdefghijklmnopqrstuvwxyz._0123456789"

var (
	// ErrInvalidName is returned for setting names outside [a-z0-9._].
	ErrInvalidName = errors.New("config: invalid name")
	// ErrTypeMismatch is raised when a name is looked up with a different type.
	ErrTypeMismatch = errors.New("config: type mismatch")
)

type (
	// Setting is the type-erased view of a [Var].
	Setting interface {
		Name() string
		Description() string
		// String renders the current value as YAML.
		String() string
		// FromString decodes a YAML value into the setting.
		FromString(s string) error
		// TypeName names the setting's value type.
		TypeName() string

		decode(node *yaml.Node) error
	}

	// Var is a typed setting. The zero value is not usable; see [Lookup].
	Var[T any] struct {
		name        string
		description string
		mu          sync.RWMutex
		val         T
		listeners   map[uint64]func(oldValue, newValue T)
		nextID      uint64
	}
)

var registry struct {
	sync.RWMutex
	vars map[string]Setting
}

// Lookup returns the setting registered under name, creating it with the
// given default and description if it does not exist yet. It panics if the
// name is invalid or registered with a different type.
func Lookup[T any](name string, def T, description string) *Var[T] {
	name = strings.ToLower(name)
	if !ValidName(name) {
		panic(fmt.Errorf("%w: %q", ErrInvalidName, name))
	}

	registry.Lock()
	defer registry.Unlock()

	if existing, ok := registry.vars[name]; ok {
		if v, ok := existing.(*Var[T]); ok {
			return v
		}
		panic(fmt.Errorf("%w: %q is %s, not %T", ErrTypeMismatch, name, existing.TypeName(), def))
	}

	v := &Var[T]{
		name:        name,
		description: description,
		val:         def,
	}
	if registry.vars == nil {
		registry.vars = make(map[string]Setting)
	}
	registry.vars[name] = v
	return v
}

// Find returns the setting registered under name, or nil.
func Find(name string) Setting {
	registry.RLock()
	defer registry.RUnlock()
	return registry.vars[strings.ToLower(name)]
}

// Visit calls fn for every registered setting, in name order.
func Visit(fn func(s Setting)) {
	registry.RLock()
	names := make([]string, 0, len(registry.vars))
	for name := range registry.vars {
		names = append(names, name)
	}
	sort.Strings(names)
	settings := make([]Setting, len(names))
	for i, name := range names {
		settings[i] = registry.vars[name]
	}
	registry.RUnlock()

	for _, s := range settings {
		fn(s)
	}
}

// ValidName reports whether name is a legal setting name.
func ValidName(name string) bool {
	return name != "" && strings.Trim(name, validNameChars) == ""
}

func (x *Var[T]) Name() string { return x.name }

func (x *Var[T]) Description() string { return x.description }

func (x *Var[T]) TypeName() string { return reflect.TypeFor[T]().String() }

// Value returns the current value.
func (x *Var[T]) Value() T {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.val
}

// SetValue stores v, notifying listeners synchronously if it differs from
// the current value.
func (x *Var[T]) SetValue(v T) {
	x.mu.Lock()
	if reflect.DeepEqual(x.val, v) {
		x.mu.Unlock()
		return
	}
	old := x.val
	x.val = v
	ids := make([]uint64, 0, len(x.listeners))
	for id := range x.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]func(oldValue, newValue T), len(ids))
	for i, id := range ids {
		listeners[i] = x.listeners[id]
	}
	x.mu.Unlock()

	for _, fn := range listeners {
		fn(old, v)
	}
}

// AddListener registers fn, returning an id for [Var.DelListener].
// Listeners are called in registration order.
func (x *Var[T]) AddListener(fn func(oldValue, newValue T)) uint64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.nextID++
	if x.listeners == nil {
		x.listeners = make(map[uint64]func(oldValue, newValue T))
	}
	x.listeners[x.nextID] = fn
	return x.nextID
}

func (x *Var[T]) DelListener(id uint64) {
	x.mu.Lock()
	defer x.mu.Unlock()
	delete(x.listeners, id)
}

func (x *Var[T]) ClearListeners() {
	x.mu.Lock()
	defer x.mu.Unlock()
	clear(x.listeners)
}

func (x *Var[T]) String() string {
	b, err := yaml.Marshal(x.Value())
	if err != nil {
		logging.Named("system").Err().
			Err(err).
			Str("name", x.name).
			Log("config: failed to encode value")
		return ""
	}
	return strings.TrimSuffix(string(b), "\n")
}

func (x *Var[T]) FromString(s string) error {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(s), &node); err != nil {
		return fmt.Errorf("config: %s: %w", x.name, err)
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return x.decode(node.Content[0])
	}
	return x.decode(&node)
}

func (x *Var[T]) decode(node *yaml.Node) error {
	var v T
	if err := node.Decode(&v); err != nil {
		return fmt.Errorf("config: %s: %w", x.name, err)
	}
	x.SetValue(v)
	return nil
}

// LoadYAML applies a YAML document to the registered settings.
func LoadYAML(data []byte) error {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if doc.Kind == 0 {
		return nil
	}
	root := &doc
	if doc.Kind == yaml.DocumentNode && len(doc.Content) == 1 {
		root = doc.Content[0]
	}
	return apply(root)
}

// LoadTOML applies a TOML document to the registered settings.
func LoadTOML(data []byte) error {
	var m map[string]any
	if err := toml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var root yaml.Node
	if err := root.Encode(m); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return apply(&root)
}

type member struct {
	key  string
	node *yaml.Node
}

func apply(root *yaml.Node) error {
	var members []member
	flatten("", root, &members)

	var errs []error
	for _, m := range members {
		s := Find(m.key)
		if s == nil {
			continue
		}
		if err := s.decode(m.node); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// flatten records the node under prefix and recurses into mappings, so
// both "a" and "a.b" are candidate keys for {a: {b: 1}}.
func flatten(prefix string, node *yaml.Node, out *[]member) {
	if prefix != "" {
		if !ValidName(prefix) {
			logging.Named("system").Err().
				Str("name", prefix).
				Log("config: invalid name")
			return
		}
		*out = append(*out, member{key: prefix, node: node})
	}
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := strings.ToLower(node.Content[i].Value)
		if prefix != "" {
			key = prefix + "." + key
		}
		flatten(key, node.Content[i+1], out)
	}
}
