package transformers

import (
	"fmt"
	"math"
)

// scaleTransformer linearly maps between two closed numeric ranges. Read maps
// input range to output range; write swaps the two ranges.
type scaleTransformer struct {
	directional
	inMin, inMax   float64
	outMin, outMax float64
}

func newScale(def Definition) (Transformer, error) {
	if def.InputMin == nil || def.InputMax == nil || def.OutputMin == nil || def.OutputMax == nil {
		return nil, fmt.Errorf("scale transformer requires input_min, input_max, output_min and output_max")
	}
	return &scaleTransformer{
		directional: newDirectional(def.Direction),
		inMin:       *def.InputMin,
		inMax:       *def.InputMax,
		outMin:      *def.OutputMin,
		outMax:      *def.OutputMax,
	}, nil
}

func (t *scaleTransformer) Read(value any) (any, error) {
	if !t.CanRead() {
		return value, nil
	}
	f, err := toFloat(value)
	if err != nil {
		return nil, fmt.Errorf("scale read: %w", err)
	}
	return scale(f, t.inMin, t.inMax, t.outMin, t.outMax), nil
}

func (t *scaleTransformer) Write(value any) (any, error) {
	if !t.CanWrite() {
		return value, nil
	}
	f, err := toFloat(value)
	if err != nil {
		return nil, fmt.Errorf("scale write: %w", err)
	}
	return scale(f, t.outMin, t.outMax, t.inMin, t.inMax), nil
}

func scale(v, inMin, inMax, outMin, outMax float64) float64 {
	if inMax == inMin {
		return outMin
	}
	v = clampFloat(v, inMin, inMax)
	return math.Round(outMin + ((v-inMin)/(inMax-inMin))*(outMax-outMin))
}
