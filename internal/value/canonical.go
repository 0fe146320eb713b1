package value

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/unicode/norm"
)

// lineSeparatorBytes and paragraphSeparatorBytes are the UTF-8 encodings
// of U+2028 LINE SEPARATOR and U+2029 PARAGRAPH SEPARATOR, spelled out as
// byte slices to avoid embedding the raw runes in source.
var (
	lineSeparatorBytes      = []byte{0xe2, 0x80, 0xa8}
	paragraphSeparatorBytes = []byte{0xe2, 0x80, 0xa9}
)

// MarshalCanonical produces RFC 8785 canonical JSON, the only
// serialization used for content-addressed hashing (entity ids, commit
// hashes, golden trace snapshots). Grounded on the teacher's
// ir.MarshalCanonical: object keys sorted by UTF-16 code unit, no HTML
// escaping, NFC-normalized strings, and (here) Links rendered via their
// sigil form so they hash identically to an inline sigil object.
func MarshalCanonical(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return marshalCanonicalString(string(val))
	case Number:
		return marshalCanonicalNumber(float64(val)), nil
	case Bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case Array:
		return marshalCanonicalArray(val)
	case Object:
		return marshalCanonicalObject(val)
	case Link:
		return MarshalCanonical(linkToSigil(val))
	default:
		return nil, fmt.Errorf("unsupported value type for canonical JSON: %T", v)
	}
}

func marshalCanonicalNumber(f float64) []byte {
	if f == float64(int64(f)) {
		return []byte(fmt.Sprintf("%d", int64(f)))
	}
	return []byte(fmt.Sprintf("%g", f))
}

// marshalCanonicalString NFC-normalizes and escapes per RFC 8785: no HTML
// escaping, and U+2028/U+2029 are left unescaped (Go's encoder escapes
// them by default for JS safety, which this function undoes).
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return unescapeLineSeparators(result), nil
}

// unescapeLineSeparators converts   /   produced by the stdlib
// JSON encoder back into literal characters, preserving escaped
// backslashes (\\u2028 must stay escaped).
func unescapeLineSeparators(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	var out []byte
	i := 0
	for i < len(data) {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {
			backslashes := 0
			src := data[:i]
			if out != nil {
				src = out
			}
			for j := len(src) - 1; j >= 0 && src[j] == '\\'; j-- {
				backslashes++
			}
			if backslashes%2 == 0 {
				if out == nil {
					out = append(out, data[:i]...)
				}
				if data[i+5] == '8' {
					out = append(out, lineSeparatorBytes...)
				} else {
					out = append(out, paragraphSeparatorBytes...)
				}
				i += 6
				continue
			}
		}
		if out != nil {
			out = append(out, data[i])
		}
		i++
	}
	if out == nil {
		return data
	}
	return out
}

func marshalCanonicalArray(arr Array) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		eb, err := MarshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(eb)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func marshalCanonicalObject(obj Object) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	keys := sortedKeysRFC8785(obj)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := MarshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
