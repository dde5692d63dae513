package transformers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBooleanCoercionTable(t *testing.T) {
	transformer, err := New(Definition{
		Kind:       KindBoolean,
		TrueValue:  "on",
		FalseValue: "off",
	})
	require.NoError(t, err)

	tests := []struct {
		input    any
		expected bool
	}{
		{"on", true},
		{"off", false},
		{"1", true},
		{"0", false},
		{"yes", true},
		{"true", true},
		{"whatever", false},
		{1, true},
		{0, false},
		{2.5, true},
	}

	for _, tc := range tests {
		out, err := transformer.Read(tc.input)
		require.NoErrorf(t, err, "input %v", tc.input)
		assert.Equalf(t, tc.expected, out, "input %v", tc.input)
	}
}

func TestBooleanInversion(t *testing.T) {
	transformer, err := New(Definition{
		Kind:       KindBoolean,
		TrueValue:  "on",
		FalseValue: "off",
		Invert:     true,
	})
	require.NoError(t, err)

	out, err := transformer.Read("on")
	require.NoError(t, err)
	assert.Equal(t, false, out)

	out, err = transformer.Read("off")
	require.NoError(t, err)
	assert.Equal(t, true, out)

	// Inversion applies symmetrically on write.
	out, err = transformer.Write(true)
	require.NoError(t, err)
	assert.Equal(t, "off", out)
}

func TestBooleanWriteSentinels(t *testing.T) {
	transformer, err := New(Definition{
		Kind:       KindBoolean,
		TrueValue:  "on",
		FalseValue: "off",
	})
	require.NoError(t, err)

	out, err := transformer.Write(true)
	require.NoError(t, err)
	assert.Equal(t, "on", out)

	out, err = transformer.Write(false)
	require.NoError(t, err)
	assert.Equal(t, "off", out)

	// Write coerces its input the same way read does.
	out, err = transformer.Write("1")
	require.NoError(t, err)
	assert.Equal(t, "on", out)
}

func TestBooleanDefaultSentinels(t *testing.T) {
	transformer, err := New(Definition{Kind: KindBoolean})
	require.NoError(t, err)

	out, err := transformer.Write("yes")
	require.NoError(t, err)
	assert.Equal(t, true, out)
}
