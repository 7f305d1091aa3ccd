package model

import (
	"encoding/json"
	"fmt"
)

// Decode parses the JSON form of a resource of the given kind.
func Decode(kind Kind, data []byte) (Resource, error) {
	r, err := New(kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", kind, err)
	}
	return r, nil
}

// FromObject converts a JSON object into a resource of the given kind.
// Fields this package does not model are dropped.
func FromObject(kind Kind, obj Object) (Resource, error) {
	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode %s object: %w", kind, err)
	}
	return Decode(kind, data)
}

// Encode renders a resource as the JSON body sent to the API.
func Encode(r Resource) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", r.Kind(), err)
	}
	return data, nil
}
