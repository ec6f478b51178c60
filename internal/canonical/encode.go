// Package canonical implements byte-stable JSON encoding: recursively
// sorted object keys, preserved array order, shortest round-tripping
// numeric formatting, and a trailing newline on every top-level encoding.
// Every other package that must hash or compare structured output goes
// through here first.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Encode marshals v to canonical JSON: object keys sorted lexicographically
// at every nesting level, arrays left in their original order, and exactly
// one trailing newline appended. It fails only when v (or something it
// contains) is not representable as JSON.
func Encode(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	var generic interface{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("canonical: decode for canonicalization: %w", err)
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, generic); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical encoding
// of v.
func Hash(v interface{}) (string, error) {
	b, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of already-canonical
// bytes, without re-parsing them. Use this when you already hold the
// canonical encoding (e.g. a plan loaded from disk) and want its hash.
func HashBytes(canonicalBytes []byte) string {
	sum := sha256.Sum256(canonicalBytes)
	return hex.EncodeToString(sum[:])
}

func writeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
		return nil
	case json.Number:
		return writeNumber(buf, val)
	case string:
		writeString(buf, val)
		return nil
	case []interface{}:
		return writeArray(buf, val)
	case map[string]interface{}:
		return writeObject(buf, val)
	default:
		return fmt.Errorf("canonical: unsupported value of type %T", v)
	}
}

func writeArray(buf *bytes.Buffer, arr []interface{}) error {
	buf.WriteByte('[')
	for i, item := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeValue(buf, item); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func writeObject(buf *bytes.Buffer, obj map[string]interface{}) error {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeString(buf, k)
		buf.WriteByte(':')
		if err := writeValue(buf, obj[k]); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

// writeString re-encodes a string using encoding/json's escaping rules so
// output stays valid JSON (control characters, quotes, backslashes, and
// U+2028/U+2029 are escaped the same way json.Marshal does it).
func writeString(buf *bytes.Buffer, s string) {
	b, _ := json.Marshal(s)
	buf.Write(b)
}

// writeNumber emits integers without a decimal point and otherwise the
// shortest decimal representation that round-trips, by writing the
// json.Number's own text unchanged; it does no reformatting of its own.
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	// json.Number preserves the original textual form from decoding, which
	// is already the shortest round-tripping representation emitted by the
	// upstream json.Marshal call in Encode. Reject non-finite values that
	// could only have arrived via a custom MarshalJSON implementation.
	f, err := n.Float64()
	if err == nil && (math.IsInf(f, 0) || math.IsNaN(f)) {
		return fmt.Errorf("canonical: non-finite number %q", n.String())
	}
	buf.WriteString(n.String())
	return nil
}
