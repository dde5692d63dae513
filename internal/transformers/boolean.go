package transformers

import "strings"

// booleanTransformer converts between a configured pair of sentinel values and
// booleans. Values matching neither sentinel are coerced permissively: non-zero
// numbers and the strings "true"/"1"/"on"/"yes" are true, everything else is
// false. Inversion is applied after coercion, symmetrically in both directions.
type booleanTransformer struct {
	directional
	trueValue  any
	falseValue any
	invert     bool
}

func newBoolean(def Definition) (Transformer, error) {
	t := &booleanTransformer{
		directional: newDirectional(def.Direction),
		trueValue:   def.TrueValue,
		falseValue:  def.FalseValue,
		invert:      def.Invert,
	}
	if t.trueValue == nil {
		t.trueValue = true
	}
	if t.falseValue == nil {
		t.falseValue = false
	}
	return t, nil
}

func (t *booleanTransformer) Read(value any) (any, error) {
	if !t.CanRead() {
		return value, nil
	}

	var result bool
	switch {
	case looseEqual(value, t.trueValue):
		result = true
	case looseEqual(value, t.falseValue):
		result = false
	default:
		result = CoerceBool(value)
	}

	if t.invert {
		result = !result
	}
	return result, nil
}

func (t *booleanTransformer) Write(value any) (any, error) {
	if !t.CanWrite() {
		return value, nil
	}

	result := CoerceBool(value)
	if t.invert {
		result = !result
	}
	if result {
		return t.trueValue, nil
	}
	return t.falseValue, nil
}

// CoerceBool applies the permissive boolean coercion shared by the boolean
// transformer and the BOOL-property compatibility fallback in the mapper
// service.
func CoerceBool(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "on", "yes":
			return true
		default:
			return false
		}
	default:
		if f, err := toFloat(value); err == nil {
			return f != 0
		}
		return false
	}
}
