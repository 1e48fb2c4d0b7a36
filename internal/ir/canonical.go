package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON. This is the only
// serialization used for content-addressed identity computation and for
// persisted payloads that get compared byte-for-byte.
//
// Differences from plain json.Marshal:
//  1. Object keys sorted by UTF-16 code units, not UTF-8 bytes
//  2. No HTML escaping (< > & stay literal)
//  3. Strings NFC-normalized at the serialization boundary
//  4. Floats rejected
//  5. Nulls rejected
func MarshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("canonical JSON forbids null")
	case String:
		return canonicalString(string(val))
	case Int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case Bool:
		return strconv.AppendBool(nil, bool(val)), nil
	case List:
		return canonicalList(val)
	case Map:
		return canonicalMap(val)
	case string:
		return canonicalString(val)
	case int:
		return strconv.AppendInt(nil, int64(val), 10), nil
	case int64:
		return strconv.AppendInt(nil, val, 10), nil
	case bool:
		return strconv.AppendBool(nil, val), nil
	case float32, float64:
		return nil, fmt.Errorf("canonical JSON forbids floats: %v", val)
	case []any:
		conv, err := FromGo(val)
		if err != nil {
			return nil, err
		}
		return canonicalList(conv.(List))
	case map[string]any:
		conv, err := FromGo(val)
		if err != nil {
			return nil, err
		}
		return canonicalMap(conv.(Map))
	default:
		return nil, fmt.Errorf("cannot canonicalize %T", v)
	}
}

// canonicalString produces a canonical JSON string. RFC 8785 requires
// that < > & and U+2028/U+2029 stay unescaped; only control characters,
// backslash and quote are escaped.
func canonicalString(s string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(norm.NFC.String(s)); err != nil {
		return nil, err
	}

	// json.Encoder appends a newline.
	out := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))

	// Go escapes U+2028/U+2029 for JavaScript embedding; RFC 8785 forbids
	// that. Unescape them, leaving \\u2028 (literal backslash + text) alone.
	return unescapeLineSeparators(out), nil
}

// unescapeLineSeparators rewrites   and   escape sequences to
// literal characters. A sequence counts as an escape only when preceded by
// an even number of backslashes; an odd count means the backslash opening
// the sequence is itself escaped text.
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	pendingBackslashes := 0
	for i := 0; i < len(data); {
		c := data[i]
		if c == '\\' && i+5 < len(data) && bytes.HasPrefix(data[i+1:], []byte("u202")) &&
			(data[i+5] == '8' || data[i+5] == '9') && pendingBackslashes%2 == 0 {
			if data[i+5] == '8' {
				out = append(out, " "...)
			} else {
				out = append(out, " "...)
			}
			i += 6
			pendingBackslashes = 0
			continue
		}
		if c == '\\' {
			pendingBackslashes++
		} else {
			pendingBackslashes = 0
		}
		out = append(out, c)
		i++
	}
	return out
}

func canonicalList(l List) ([]byte, error) {
	parts := make([][]byte, len(l))
	for i, elem := range l {
		enc, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("list[%d]: %w", i, err)
		}
		parts[i] = enc
	}
	return enclose('[', parts, ']'), nil
}

func canonicalMap(m Map) ([]byte, error) {
	keys := m.SortedKeys()
	parts := make([][]byte, len(keys))
	for i, k := range keys {
		kb, err := canonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		vb, err := MarshalCanonical(m[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		parts[i] = append(append(kb, ':'), vb...)
	}
	return enclose('{', parts, '}'), nil
}

func enclose(opening byte, parts [][]byte, closing byte) []byte {
	out := append([]byte{opening}, bytes.Join(parts, []byte{','})...)
	return append(out, closing)
}
