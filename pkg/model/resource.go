package model

import "fmt"

// Kind is the taxonomy of manageable HAProxy configuration objects.
type Kind string

const (
	KindBackend  Kind = "backend"
	KindServer   Kind = "server"
	KindFrontend Kind = "frontend"
)

var kinds = []Kind{KindBackend, KindServer, KindFrontend}

// IsValid reports whether k is a manageable kind.
func (k Kind) IsValid() bool { return isMember(k, kinds) }

// UnmarshalText implements encoding.TextUnmarshaler. Unlike the field enums,
// an unknown kind is rejected.
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := Parse(string(b), kinds)
	if err != nil {
		return fmt.Errorf("resource kind: %w", err)
	}
	*k = v
	return nil
}

// Collection is the plural path segment used by the Data Plane API.
func (k Kind) Collection() string {
	return string(k) + "s"
}

// CanParent reports whether resources of kind k may own servers.
func (k Kind) CanParent() bool {
	return k == KindBackend || k == KindFrontend
}

// Resource is implemented by Backend, Server and Frontend.
type Resource interface {
	Kind() Kind
	GetName() string
}

// New returns an empty resource of the given kind, ready to be decoded into.
func New(kind Kind) (Resource, error) {
	switch kind {
	case KindBackend:
		return &Backend{}, nil
	case KindServer:
		return &Server{}, nil
	case KindFrontend:
		return &Frontend{}, nil
	default:
		return nil, fmt.Errorf("unsupported resource kind %q", kind)
	}
}
