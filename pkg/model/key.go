package model

import (
	"errors"
	"fmt"
	"strings"
)

// ParentRef names the backend or frontend that owns a server.
type ParentRef struct {
	Kind Kind   `json:"kind" yaml:"kind"`
	Name string `json:"name" yaml:"name"`
}

// Key is the identity of a resource. Two resources with the same name but
// different kinds or parents are distinct.
type Key struct {
	Kind   Kind       `json:"kind" yaml:"kind"`
	Name   string     `json:"name" yaml:"name"`
	Parent *ParentRef `json:"parent,omitempty" yaml:"parent,omitempty"`
}

// BackendKey returns the key of the named backend.
func BackendKey(name string) Key {
	return Key{Kind: KindBackend, Name: name}
}

// FrontendKey returns the key of the named frontend.
func FrontendKey(name string) Key {
	return Key{Kind: KindFrontend, Name: name}
}

// ServerKey returns the key of a server owned by the given parent.
func ServerKey(parentKind Kind, parentName, name string) Key {
	return Key{Kind: KindServer, Name: name, Parent: &ParentRef{Kind: parentKind, Name: parentName}}
}

// KeyOf derives a key from a resource value. Servers need their parent,
// which the resource itself does not carry.
func KeyOf(r Resource, parent *ParentRef) Key {
	k := Key{Kind: r.Kind(), Name: r.GetName()}
	if r.Kind() == KindServer && parent != nil {
		p := *parent
		k.Parent = &p
	}
	return k
}

// Validate checks the structural rules of a key.
func (k Key) Validate() error {
	if !k.Kind.IsValid() {
		return fmt.Errorf("invalid resource kind %q", k.Kind)
	}
	if strings.TrimSpace(k.Name) == "" {
		return errors.New("resource name is required")
	}
	if k.Kind == KindServer {
		if k.Parent == nil {
			return fmt.Errorf("server %q requires a parent backend or frontend", k.Name)
		}
		if !k.Parent.Kind.CanParent() {
			return fmt.Errorf("server %q: parent kind must be backend or frontend, got %q", k.Name, k.Parent.Kind)
		}
		if strings.TrimSpace(k.Parent.Name) == "" {
			return fmt.Errorf("server %q: parent name is required", k.Name)
		}
		return nil
	}
	if k.Parent != nil {
		return fmt.Errorf("%s %q cannot have a parent", k.Kind, k.Name)
	}
	return nil
}

// String renders the key as a slash separated path, e.g. backend/b1/server/s1.
func (k Key) String() string {
	if k.Parent != nil {
		return fmt.Sprintf("%s/%s/%s/%s", k.Parent.Kind, k.Parent.Name, k.Kind, k.Name)
	}
	return fmt.Sprintf("%s/%s", k.Kind, k.Name)
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, "/")
	var k Key
	switch len(parts) {
	case 2:
		k = Key{Kind: Kind(parts[0]), Name: parts[1]}
	case 4:
		k = Key{Kind: Kind(parts[2]), Name: parts[3], Parent: &ParentRef{Kind: Kind(parts[0]), Name: parts[1]}}
	default:
		return Key{}, fmt.Errorf("malformed resource key %q", s)
	}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}
