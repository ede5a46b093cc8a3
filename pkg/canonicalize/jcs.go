// Package canonicalize implements RFC 8785 (JSON Canonicalization Scheme)
// serialization so that every content-addressed digest in this core is
// computed over one unambiguous byte representation of a value.
package canonicalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// JCS renders v as RFC 8785 canonical JSON: object keys sorted by UTF-8 byte
// order, no HTML escaping, numbers preserved exactly as received.
//
// v is first passed through the standard encoder so struct tags are
// honored, then decoded into a generic tree (numbers kept as json.Number so
// no precision is lost) before the canonical encoder walks it.
func JCS(v interface{}) ([]byte, error) {
	staged, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: staging marshal: %w", err)
	}

	var tree interface{}
	dec := json.NewDecoder(bytes.NewReader(staged))
	dec.UseNumber()
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("jcs: staging decode: %w", err)
	}

	return canonicalEncode(tree)
}

// CanonicalHash returns the SHA-256 hex digest of v's canonical form.
func CanonicalHash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the SHA-256 hex digest of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// JCSString is JCS as a string rather than a byte slice.
func JCSString(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// canonicalEncode writes v's canonical byte form. Object keys are sorted;
// HTML escaping is disabled, since RFC 8785 has no concept of it.
func canonicalEncode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte("null"), nil
	case bool:
		if t {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case json.Number:
		return []byte(t.String()), nil
	case string:
		return encodeBareValue(t)
	case []interface{}:
		var buf bytes.Buffer
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := canonicalEncode(elem)
			if err != nil {
				return nil, err
			}
			buf.Write(b)
		}
		buf.WriteByte(']')
		return buf.Bytes(), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := encodeBareValue(k)
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			vb, err := canonicalEncode(t[k])
			if err != nil {
				return nil, err
			}
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		// Reached only for a type json.Marshal produced that UseNumber's
		// decode step didn't fold into one of the cases above.
		return encodeBareValue(t)
	}
}

// encodeBareValue runs the standard encoder over a single scalar with HTML
// escaping off, then strips the trailing newline json.Encoder always adds.
func encodeBareValue(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}
