package store

import (
	"fmt"

	"github.com/tomjrwilliams/xsm/internal/ir"
)

// marshalValue converts a payload to canonical JSON TEXT for storage.
// An absent value (nil) is stored as null.
func marshalValue(v any) (string, error) {
	data, err := ir.MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	return string(data), nil
}

// unmarshalValue parses canonical JSON TEXT back to an IRValue.
// Integers stay IRInt; anything with a fraction or exponent is IRFloat.
func unmarshalValue(data string) (ir.IRValue, error) {
	if data == "" {
		return ir.IRNull{}, nil
	}
	v, err := ir.UnmarshalIRValue([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
