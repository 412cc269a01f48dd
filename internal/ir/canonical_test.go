package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"nil", nil, "null"},
		{"IRNull", IRNull{}, "null"},
		{"string", IRString("hello"), `"hello"`},
		{"empty string", IRString(""), `""`},
		{"int", IRInt(42), "42"},
		{"max int64", IRInt(math.MaxInt64), "9223372036854775807"},
		{"min int64", IRInt(math.MinInt64), "-9223372036854775808"},
		{"bool", IRBool(false), "false"},
		{"empty array", IRArray{}, "[]"},
		{"empty object", IRObject{}, "{}"},
		{"sorted keys", IRObject{"zebra": IRInt(1), "alpha": IRInt(2), "beta": IRInt(3)}, `{"alpha":2,"beta":3,"zebra":1}`},
		{"nested sorted keys", IRObject{"z": IRObject{"b": IRInt(1), "a": IRInt(2)}, "a": IRInt(3)}, `{"a":3,"z":{"a":2,"b":1}}`},
		{"compact", IRObject{"xs": IRArray{IRInt(1), IRInt(2)}, "ok": IRBool(true)}, `{"ok":true,"xs":[1,2]}`},
		{"entry", IRObject{"curr": IRNull{}, "prev": IRFloat(0.9)}, `{"curr":null,"prev":0.9}`},

		{"go string", "hello", `"hello"`},
		{"go int", 42, "42"},
		{"go int64", int64(42), "42"},
		{"go float64", float64(0.3), "0.3"},
		{"go map", map[string]any{"b": int64(1), "a": "test"}, `{"a":"test","b":1}`},
		{"go slice", []any{int64(1), "two", true}, `[1,"two",true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

// Numbers follow the ECMAScript Number.prototype.toString rules.
func TestMarshalCanonicalFloats(t *testing.T) {
	tests := []struct {
		input    float64
		expected string
	}{
		{1.5, "1.5"},
		{0.1, "0.1"},
		{1.0, "1"},
		{math.Copysign(0, -1), "0"},
		{-2.25, "-2.25"},
		{1e20, "100000000000000000000"},
		{1e21, "1e+21"},
		{0.000001, "0.000001"},
		{1e-7, "1e-7"},
		{5e-324, "5e-324"},
		{101.25, "101.25"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result, err := MarshalCanonical(IRFloat(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalRejects(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"NaN", math.NaN(), "non-finite"},
		{"+Inf", math.Inf(1), "non-finite"},
		{"-Inf IRFloat", IRFloat(math.Inf(-1)), "non-finite"},
		{"NaN nested", IRArray{IRInt(1), IRFloat(math.NaN())}, "non-finite"},
		{"struct", struct{ X int }{1}, "unsupported"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MarshalCanonical(tt.input)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestMarshalCanonicalStrings(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"html is not escaped", "<script>alert('x')</script> & more", `"<script>alert('x')</script> & more"`},
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"line and paragraph separators", "a\u2028b\u2029c", "\"a\u2028b\u2029c\""},
		{"literal backslash-u2028", `seq \u2028`, `"seq \\u2028"`},
		{"literal and actual separator", "lit \\u2028 act \u2028", "\"lit \\\\u2028 act \u2028\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(IRString(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before
	// U+E000 in UTF-16 but after it in UTF-8.
	obj := IRObject{
		"\uE000":     IRInt(1),
		"\U00010000": IRInt(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	for _, wrap := range []func(string) IRValue{
		func(s string) IRValue { return IRString(s) },
		func(s string) IRValue { return IRObject{s: IRInt(1)} },
	} {
		a, err := MarshalCanonical(wrap(composed))
		require.NoError(t, err)
		b, err := MarshalCanonical(wrap(decomposed))
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	values := []IRValue{
		IRArray{IRInt(1), IRString("two"), IRBool(false)},
		IRObject{"curr": IRFloat(0.7), "prev": IRFloat(0.6), "gone": IRNull{}},
		IRArray{IRFloat(1e-7), IRFloat(1e21), IRFloat(2.5)},
		IRObject{"nested": IRObject{"xs": IRArray{IRInt(1), IRInt(2)}}, "s": IRString("v")},
	}

	for _, v := range values {
		first, err := MarshalCanonical(v)
		require.NoError(t, err)
		back, err := UnmarshalIRValue(first)
		require.NoError(t, err)
		second, err := MarshalCanonical(back)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	}
}

func FuzzMarshalCanonicalIdempotent(f *testing.F) {
	f.Add(`{"a":1,"b":"test"}`)
	f.Add(`[1,2.5,3e-9]`)
	f.Add(`{"curr":0.30000000000000004,"prev":null}`)

	f.Fuzz(func(t *testing.T, src string) {
		v, err := UnmarshalIRValue([]byte(src))
		if err != nil {
			t.Skip()
		}
		first, err := MarshalCanonical(v)
		if err != nil {
			t.Skip()
		}
		back, err := UnmarshalIRValue(first)
		require.NoError(t, err)
		second, err := MarshalCanonical(back)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(second))
	})
}
