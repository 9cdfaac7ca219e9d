// Copyright 2025 Certen Protocol
//
// Canonical encoding for hashing and signing.
// Keys are sorted lexicographically at every nesting level, floats are
// rejected, and timestamps are carried as integer milliseconds. Changing
// this encoding breaks wire compatibility and replay — see §4.1.

package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// ErrFloatNotAllowed is returned when a value to be canonicalized contains
// a floating point number. Only integers are permitted so that hashing and
// signing are reproducible across languages and encoders.
var ErrFloatNotAllowed = errors.New("identity: floating point value not allowed in canonical encoding")

// Canonicalize renders v as the canonical byte form used for hashing and
// signing: UTF-8 JSON, object keys sorted at every level, no insignificant
// whitespace, and no floats.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("identity: marshal: %w", err)
	}
	var decoded interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return nil, fmt.Errorf("identity: decode: %w", err)
	}
	ordered, err := canonicalizeValue(decoded)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(ordered)
	if err != nil {
		return nil, fmt.Errorf("identity: remarshal: %w", err)
	}
	return out, nil
}

func canonicalizeValue(v interface{}) (interface{}, error) {
	switch vv := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make(orderedMap, 0, len(vv))
		for _, k := range keys {
			child, err := canonicalizeValue(vv[k])
			if err != nil {
				return nil, err
			}
			ordered = append(ordered, kv{k, child})
		}
		return ordered, nil
	case []interface{}:
		out := make([]interface{}, len(vv))
		for i, e := range vv {
			child, err := canonicalizeValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = child
		}
		return out, nil
	case json.Number:
		if isFloat(vv) {
			return nil, ErrFloatNotAllowed
		}
		return vv, nil
	default:
		return vv, nil
	}
}

func isFloat(n json.Number) bool {
	s := n.String()
	for _, r := range s {
		if r == '.' || r == 'e' || r == 'E' {
			return true
		}
	}
	return false
}

// kv and orderedMap implement a map that marshals its entries in insertion
// order instead of Go's randomized/sorted map iteration, so the lexicographic
// ordering computed above survives the final json.Marshal pass.
type kv struct {
	Key   string
	Value interface{}
}

type orderedMap []kv

func (o orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range o {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyBytes, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyBytes...)
		buf = append(buf, ':')
		valBytes, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, valBytes...)
	}
	buf = append(buf, '}')
	return buf, nil
}
