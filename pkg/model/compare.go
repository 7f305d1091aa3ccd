package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
)

// Object is the JSON object form of a resource as exchanged with the API.
type Object = map[string]any

// FieldChange is one field whose desired value differs from the remote.
type FieldChange struct {
	Path    string `json:"path"`
	Desired any    `json:"desired"`
	Current any    `json:"current,omitempty"`
}

// ToObject renders v to its JSON object form. Unset optionals are absent.
func ToObject(v any) (Object, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode resource: %w", err)
	}
	return DecodeObject(data)
}

// DecodeObject parses a JSON object.
func DecodeObject(data []byte) (Object, error) {
	var obj Object
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("decode object: %w", err)
	}
	if obj == nil {
		return nil, fmt.Errorf("decode object: expected a JSON object")
	}
	return obj, nil
}

// Compare reports the fields of desired that differ from current.
//
// Only fields set on the desired side take part, so values the remote
// defaulted are never reported. Nested objects are compared with the same
// rule; lists and scalars must match exactly. A set field the remote omitted
// is a change, since omission means the HAProxy default rather than zero.
// The one exception is false, which the API never echoes for flags. An empty
// result means the remote already matches.
func Compare(desired Resource, current Object) ([]FieldChange, error) {
	want, err := ToObject(desired)
	if err != nil {
		return nil, err
	}
	var changes []FieldChange
	compareObjects("", want, current, &changes)
	return changes, nil
}

// CompareResources is Compare with the current side given as a resource.
func CompareResources(desired, current Resource) ([]FieldChange, error) {
	cur, err := ToObject(current)
	if err != nil {
		return nil, err
	}
	return Compare(desired, cur)
}

// Merge overlays the set fields of desired onto current and returns the
// result, leaving current untouched. Fields the caller never specified keep
// their remote values, so the result is a safe full-replacement payload.
func Merge(current Object, desired Resource) (Object, error) {
	want, err := ToObject(desired)
	if err != nil {
		return nil, err
	}
	return mergeObjects(current, want), nil
}

func compareObjects(prefix string, want, have Object, out *[]FieldChange) {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		w := want[k]
		h, present := have[k]
		if !present {
			if !omittedMatches(w) {
				*out = append(*out, FieldChange{Path: path, Desired: w})
			}
			continue
		}

		wObj, wIsObj := w.(Object)
		hObj, hIsObj := h.(Object)
		if wIsObj && hIsObj {
			compareObjects(path, wObj, hObj, out)
			continue
		}
		if !equalJSON(w, h) {
			*out = append(*out, FieldChange{Path: path, Desired: w, Current: h})
		}
	}
}

func mergeObjects(base, overlay Object) Object {
	out := make(Object, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if vObj, ok := v.(Object); ok {
			if bObj, ok := out[k].(Object); ok {
				out[k] = mergeObjects(bObj, vObj)
				continue
			}
		}
		out[k] = v
	}
	return out
}

func equalJSON(a, b any) bool {
	an, aNum := a.(json.Number)
	bn, bNum := b.(json.Number)
	if aNum && bNum {
		if an == bn {
			return true
		}
		af, errA := an.Float64()
		bf, errB := bn.Float64()
		return errA == nil && errB == nil && af == bf
	}
	return reflect.DeepEqual(a, b)
}

// omittedMatches reports whether a desired value equals a field the remote
// left out.
func omittedMatches(v any) bool {
	b, ok := v.(bool)
	return ok && !b
}
