package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing.
// CRITICAL: This is the ONLY serialization that should be used for
// snapshot digests and notification ids.
//
// Key differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Numbers use the ECMAScript shortest round-trip form (-0 becomes 0)
//  5. NaN and infinities return an error
//
// Plain Go payloads are accepted and converted with FromAny first.
func MarshalCanonical(v any) ([]byte, error) {
	iv, ok := v.(IRValue)
	if !ok || v == nil {
		var err error
		iv, err = FromAny(v)
		if err != nil {
			return nil, err
		}
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, iv); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v IRValue) error {
	switch val := v.(type) {
	case nil, IRNull:
		buf.WriteString("null")
	case IRString:
		s, err := marshalCanonicalString(string(val))
		if err != nil {
			return err
		}
		buf.Write(s)
	case IRInt:
		buf.WriteString(strconv.FormatInt(int64(val), 10))
	case IRFloat:
		s, err := formatCanonicalFloat(float64(val))
		if err != nil {
			return err
		}
		buf.WriteString(s)
	case IRBool:
		buf.WriteString(strconv.FormatBool(bool(val)))
	case IRArray:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return fmt.Errorf("array[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case IRObject:
		buf.WriteByte('{')
		// CRITICAL: RFC 8785 UTF-16 code unit ordering
		for i, k := range val.SortedKeys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := marshalCanonicalString(k)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return fmt.Errorf("value for key %q: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
	return nil
}

// formatCanonicalFloat renders f the way ECMAScript Number.prototype.toString
// does: shortest round-trip digits, plain notation for 1e-6 <= |f| < 1e21,
// exponent notation otherwise.
func formatCanonicalFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("non-finite float in canonical JSON: %v", f)
	}
	if f == 0 {
		return "0", nil
	}
	abs := math.Abs(f)
	if abs >= 1e-6 && abs < 1e21 {
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	}
	s := strconv.FormatFloat(f, 'e', -1, 64)
	// Go writes e-07 / e+21; ECMAScript drops the leading exponent zero.
	mant, exp, _ := bytes.Cut([]byte(s), []byte("e"))
	sign := exp[0]
	digits := bytes.TrimLeft(exp[1:], "0")
	if len(digits) == 0 {
		digits = []byte("0")
	}
	return string(mant) + "e" + string(sign) + string(digits), nil
}

// marshalCanonicalString produces canonical JSON string with NFC normalization.
// CRITICAL: RFC 8785 compliance:
// - No HTML escaping (<, >, & are NOT escaped)
// - U+2028 (LINE SEPARATOR) and U+2029 (PARAGRAPH SEPARATOR) are NOT escaped
// - Only control characters (U+0000-U+001F), backslash, and quote are escaped
func marshalCanonicalString(s string) ([]byte, error) {
	normalized := norm.NFC.String(s)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // CRITICAL: <, >, & must NOT be escaped
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds trailing newline, remove it
	result := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})

	// Go's encoder escapes U+2028/U+2029 for JavaScript embedding; RFC 8785
	// wants them literal.
	return unescapeU2028U2029(result), nil
}

// unescapeU2028U2029 converts \u2028 and \u2029 escape sequences to literal
// characters, but preserves \\u2028 (an escaped backslash followed by the
// text u2028).
func unescapeU2028U2029(data []byte) []byte {
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if data[i] != '\\' {
			out = append(out, data[i])
			continue
		}
		// Every backslash in encoder output starts an escape sequence, so
		// consuming escapes pairwise keeps \\ from being misread.
		if i+5 < len(data) && data[i+1] == 'u' && data[i+2] == '2' &&
			data[i+3] == '0' && data[i+4] == '2' && (data[i+5] == '8' || data[i+5] == '9') {
			if data[i+5] == '8' {
				out = append(out, "\u2028"...)
			} else {
				out = append(out, "\u2029"...)
			}
			i += 5
			continue
		}
		if i+1 < len(data) {
			out = append(out, data[i], data[i+1])
			i++
			continue
		}
		out = append(out, data[i])
	}
	return out
}
