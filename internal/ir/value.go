package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf16"
)

// IRValue is a sealed interface representing payload value types.
// Only IRNull, IRString, IRInt, IRFloat, IRBool, IRArray, and IRObject
// implement this.
type IRValue interface {
	irValue() // Sealed - only these types implement it
}

// IRNull represents a JSON null value in the IR.
// Using an explicit type ensures all IRValues satisfy the sealed interface.
type IRNull struct{}

func (IRNull) irValue() {}

// MarshalJSON implements json.Marshaler for IRNull.
func (IRNull) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// IRString represents a string value in the IR.
type IRString string

func (IRString) irValue() {}

// IRInt represents an integer value in the IR.
type IRInt int64

func (IRInt) irValue() {}

// IRFloat represents a finite floating point value in the IR.
// NaN and infinities are not representable in JSON and are rejected
// at every conversion boundary.
type IRFloat float64

func (IRFloat) irValue() {}

// IRBool represents a boolean value in the IR.
type IRBool bool

func (IRBool) irValue() {}

// IRArray represents an array of IRValue elements.
type IRArray []IRValue

func (IRArray) irValue() {}

// IRObject represents a map of string keys to IRValue elements.
// Use SortedKeys() for deterministic iteration.
type IRObject map[string]IRValue

func (IRObject) irValue() {}

// NewIRFloat creates an IRFloat. Callers must ensure f is finite.
func NewIRFloat(f float64) IRFloat {
	return IRFloat(f)
}

// NewIRArray creates an IRArray from the given values.
func NewIRArray(vals ...IRValue) IRArray {
	if vals == nil {
		return IRArray{}
	}
	return IRArray(vals)
}

// IRPair represents a key-value pair for typed IRObject construction.
type IRPair struct {
	Key   string
	Value IRValue
}

// NewIRObjectFromPairs creates an IRObject from typed key-value pairs.
// Example: NewIRObjectFromPairs(O("name", IRString("btc")), O("bid", IRFloat(101.5)))
func NewIRObjectFromPairs(pairs ...IRPair) IRObject {
	obj := make(IRObject, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// O is a shorthand for IRPair for ergonomic construction.
func O(key string, value IRValue) IRPair {
	return IRPair{Key: key, Value: value}
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces DIFFERENT order.
func (obj IRObject) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings using UTF-16 code unit ordering
// as required by RFC 8785 (Canonical JSON).
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := min(len(a16), len(b16))
	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	// If all compared units are equal, shorter string comes first
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// FromAny converts a Go payload into an IRValue.
//
// Handler payloads are opaque to the engine, so anything crossing into the
// store, the trace, or a digest passes through here first. nil becomes IRNull.
// Values that already implement IRValue are returned unchanged.
func FromAny(v any) (IRValue, error) {
	switch val := v.(type) {
	case nil:
		return IRNull{}, nil
	case IRValue:
		if f, ok := val.(IRFloat); ok && !isFinite(float64(f)) {
			return nil, fmt.Errorf("non-finite float: %v", float64(f))
		}
		return val, nil
	case string:
		return IRString(val), nil
	case int:
		return IRInt(val), nil
	case int32:
		return IRInt(val), nil
	case int64:
		return IRInt(val), nil
	case uint32:
		return IRInt(val), nil
	case float32:
		return floatValue(float64(val))
	case float64:
		return floatValue(val)
	case bool:
		return IRBool(val), nil
	case json.Number:
		return numberValue(val)
	case []float64:
		arr := make(IRArray, len(val))
		for i, f := range val {
			fv, err := floatValue(f)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = fv
		}
		return arr, nil
	case []int:
		arr := make(IRArray, len(val))
		for i, n := range val {
			arr[i] = IRInt(n)
		}
		return arr, nil
	case []string:
		arr := make(IRArray, len(val))
		for i, s := range val {
			arr[i] = IRString(s)
		}
		return arr, nil
	case []any:
		arr := make(IRArray, len(val))
		for i, elem := range val {
			irElem, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = irElem
		}
		return arr, nil
	case map[string]any:
		obj := make(IRObject, len(val))
		for k, elem := range val {
			irElem, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%q]: %w", k, err)
			}
			obj[k] = irElem
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported payload type: %T", v)
	}
}

// ToAny converts an IRValue back to plain Go values
// (string, int64, float64, bool, []any, map[string]any, nil).
func ToAny(v IRValue) any {
	switch val := v.(type) {
	case nil, IRNull:
		return nil
	case IRString:
		return string(val)
	case IRInt:
		return int64(val)
	case IRFloat:
		return float64(val)
	case IRBool:
		return bool(val)
	case IRArray:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case IRObject:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}

// AsFloat reports the numeric value of a payload.
// Accepts IRInt, IRFloat and the plain Go numeric types.
func AsFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case IRFloat:
		return float64(val), true
	case IRInt:
		return float64(val), true
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	default:
		return 0, false
	}
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func floatValue(f float64) (IRValue, error) {
	if !isFinite(f) {
		return nil, fmt.Errorf("non-finite float: %v", f)
	}
	return IRFloat(f), nil
}

// numberValue turns a JSON number into IRInt when it has no fraction or
// exponent, IRFloat otherwise.
func numberValue(n json.Number) (IRValue, error) {
	s := string(n)
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return IRInt(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", s, err)
	}
	return floatValue(f)
}

// UnmarshalIRValue deserializes JSON into an IRValue.
// Numbers without a fraction or exponent decode to IRInt, all others to
// IRFloat. null decodes to IRNull.
func UnmarshalIRValue(data []byte) (IRValue, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// MarshalIRValue marshals an IRValue to JSON bytes.
// NOTE: This is NOT canonical marshaling. Use MarshalCanonical for hashing.
func MarshalIRValue(v IRValue) ([]byte, error) {
	switch val := v.(type) {
	case nil, IRNull:
		return []byte("null"), nil
	case IRString:
		return json.Marshal(string(val))
	case IRInt:
		return json.Marshal(int64(val))
	case IRFloat:
		if !isFinite(float64(val)) {
			return nil, fmt.Errorf("non-finite float: %v", float64(val))
		}
		return json.Marshal(float64(val))
	case IRBool:
		return json.Marshal(bool(val))
	case IRArray:
		return marshalIRArray(val)
	case IRObject:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown IRValue type: %T", v)
	}
}

// MarshalJSON implements json.Marshaler for IRObject with sorted keys (RFC 8785 ordering).
func (obj IRObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i, k := range obj.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyBytes, err := json.Marshal(k)
		if err != nil {
			return nil, fmt.Errorf("marshal key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := MarshalIRValue(obj[k])
		if err != nil {
			return nil, fmt.Errorf("marshal value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler for IRObject.
func (obj *IRObject) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return err
	}
	o, ok := v.(IRObject)
	if !ok {
		return fmt.Errorf("expected JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// UnmarshalJSON implements json.Unmarshaler for IRArray.
func (arr *IRArray) UnmarshalJSON(data []byte) error {
	v, err := UnmarshalIRValue(data)
	if err != nil {
		return err
	}
	a, ok := v.(IRArray)
	if !ok {
		return fmt.Errorf("expected JSON array, got %T", v)
	}
	*arr = a
	return nil
}

// marshalIRArray marshals an IRArray to JSON bytes.
func marshalIRArray(arr IRArray) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := MarshalIRValue(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}
