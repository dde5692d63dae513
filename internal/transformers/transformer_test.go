package transformers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func floatPtr(v float64) *float64 { return &v }

func TestScaleBrightnessRoundTrip(t *testing.T) {
	// brightness (0-255) <-> percent (0-100)
	transformer, err := New(Definition{
		Kind:      KindScale,
		InputMin:  floatPtr(0),
		InputMax:  floatPtr(255),
		OutputMin: floatPtr(0),
		OutputMax: floatPtr(100),
	})
	require.NoError(t, err)

	out, err := transformer.Read(0)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)

	out, err = transformer.Read(255)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out)

	for v := 0; v <= 255; v++ {
		percent, err := transformer.Read(v)
		require.NoError(t, err)

		back, err := transformer.Write(percent)
		require.NoError(t, err)

		diff := back.(float64) - float64(v)
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqualf(t, diff, 1.0, "round trip of %d drifted to %v", v, back)
	}
}

func TestScaleClampsInput(t *testing.T) {
	transformer, err := New(Definition{
		Kind:      KindScale,
		InputMin:  floatPtr(0),
		InputMax:  floatPtr(100),
		OutputMin: floatPtr(0),
		OutputMax: floatPtr(10),
	})
	require.NoError(t, err)

	out, err := transformer.Read(250)
	require.NoError(t, err)
	assert.Equal(t, 10.0, out)

	out, err = transformer.Read(-5)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestScaleDegenerateRange(t *testing.T) {
	transformer, err := New(Definition{
		Kind:      KindScale,
		InputMin:  floatPtr(5),
		InputMax:  floatPtr(5),
		OutputMin: floatPtr(42),
		OutputMax: floatPtr(99),
	})
	require.NoError(t, err)

	out, err := transformer.Read(5)
	require.NoError(t, err)
	assert.Equal(t, 42.0, out)
}

func TestDirectionGuard(t *testing.T) {
	transformer, err := New(Definition{
		Kind:      KindScale,
		Direction: DirectionReadOnly,
		InputMin:  floatPtr(0),
		InputMax:  floatPtr(255),
		OutputMin: floatPtr(0),
		OutputMax: floatPtr(100),
	})
	require.NoError(t, err)

	assert.True(t, transformer.CanRead())
	assert.False(t, transformer.CanWrite())

	// Disabled direction is a no-op, not an error.
	out, err := transformer.Write(50)
	require.NoError(t, err)
	assert.Equal(t, 50, out)
}

func TestMapTransformerBidirectional(t *testing.T) {
	transformer, err := New(Definition{
		Kind:  KindBidirectionalMap,
		Table: map[string]any{"heat": "heating", "cool": "cooling"},
	})
	require.NoError(t, err)

	out, err := transformer.Read("heat")
	require.NoError(t, err)
	assert.Equal(t, "heating", out)

	out, err = transformer.Write("cooling")
	require.NoError(t, err)
	assert.Equal(t, "cool", out)

	// Unmapped keys pass through unchanged.
	out, err = transformer.Read("auto")
	require.NoError(t, err)
	assert.Equal(t, "auto", out)
}

func TestMapTransformerSeparateTables(t *testing.T) {
	transformer, err := New(Definition{
		Kind:     KindMap,
		ReadMap:  map[string]any{"open": 100},
		WriteMap: map[string]any{"100": "open"},
	})
	require.NoError(t, err)

	out, err := transformer.Read("open")
	require.NoError(t, err)
	assert.Equal(t, 100, out)

	out, err = transformer.Write(100)
	require.NoError(t, err)
	assert.Equal(t, "open", out)
}

func TestClampTransformer(t *testing.T) {
	transformer, err := New(Definition{
		Kind: KindClamp,
		Min:  floatPtr(0),
		Max:  floatPtr(100),
	})
	require.NoError(t, err)

	out, err := transformer.Read(150)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out)

	out, err = transformer.Write(-3)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out)
}

func TestRoundTransformer(t *testing.T) {
	transformer, err := New(Definition{Kind: KindRound, Precision: 1})
	require.NoError(t, err)

	out, err := transformer.Read(23.456)
	require.NoError(t, err)
	assert.Equal(t, 23.5, out)

	out, err = transformer.Read("19.44")
	require.NoError(t, err)
	assert.Equal(t, 19.4, out)
}

func TestUnknownKindRejected(t *testing.T) {
	_, err := New(Definition{Kind: "telepathy"})
	assert.Error(t, err)
}

func TestNonNumericInputErrors(t *testing.T) {
	transformer, err := New(Definition{
		Kind:      KindScale,
		InputMin:  floatPtr(0),
		InputMax:  floatPtr(255),
		OutputMin: floatPtr(0),
		OutputMax: floatPtr(100),
	})
	require.NoError(t, err)

	_, err = transformer.Read("bright")
	assert.Error(t, err)
}
