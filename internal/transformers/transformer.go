package transformers

import (
	"fmt"
	"math"
	"strconv"
)

// Direction controls which sides of a transformer are active. Applying a
// disabled direction passes the value through unchanged rather than erroring.
type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionReadOnly      Direction = "read_only"
	DirectionWriteOnly     Direction = "write_only"
)

// Transformer converts values between the external hub representation (read)
// and the internal property representation (write).
type Transformer interface {
	Read(value any) (any, error)
	Write(value any) (any, error)
	CanRead() bool
	CanWrite() bool
}

// Kind names for Definition.Kind.
const (
	KindScale            = "scale"
	KindMap              = "map"
	KindBidirectionalMap = "bidirectional_map"
	KindFormula          = "formula"
	KindBoolean          = "boolean"
	KindClamp            = "clamp"
	KindRound            = "round"
	KindPassthrough      = "passthrough"
)

// Definition is the declarative description of a transformer, as found in
// mapping documents. Fields are interpreted per Kind.
type Definition struct {
	Kind      string    `json:"kind" yaml:"kind"`
	Direction Direction `json:"direction,omitempty" yaml:"direction,omitempty"`

	// scale
	InputMin  *float64 `json:"input_min,omitempty" yaml:"input_min,omitempty"`
	InputMax  *float64 `json:"input_max,omitempty" yaml:"input_max,omitempty"`
	OutputMin *float64 `json:"output_min,omitempty" yaml:"output_min,omitempty"`
	OutputMax *float64 `json:"output_max,omitempty" yaml:"output_max,omitempty"`

	// formula
	ReadExpression  string `json:"read_expression,omitempty" yaml:"read_expression,omitempty"`
	WriteExpression string `json:"write_expression,omitempty" yaml:"write_expression,omitempty"`

	// map / bidirectional_map
	ReadMap  map[string]any `json:"read_map,omitempty" yaml:"read_map,omitempty"`
	WriteMap map[string]any `json:"write_map,omitempty" yaml:"write_map,omitempty"`
	Table    map[string]any `json:"table,omitempty" yaml:"table,omitempty"`

	// boolean
	TrueValue  any  `json:"true_value,omitempty" yaml:"true_value,omitempty"`
	FalseValue any  `json:"false_value,omitempty" yaml:"false_value,omitempty"`
	Invert     bool `json:"invert,omitempty" yaml:"invert,omitempty"`

	// clamp
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// round
	Precision int `json:"precision,omitempty" yaml:"precision,omitempty"`
}

// New constructs a transformer from its definition.
func New(def Definition) (Transformer, error) {
	switch def.Kind {
	case KindScale:
		return newScale(def)
	case KindMap, KindBidirectionalMap:
		return newMapTable(def)
	case KindFormula:
		return newFormula(def)
	case KindBoolean:
		return newBoolean(def)
	case KindClamp:
		return newClamp(def)
	case KindRound:
		return newRound(def)
	case KindPassthrough, "":
		return Passthrough(), nil
	default:
		return nil, fmt.Errorf("unknown transformer kind %q", def.Kind)
	}
}

// directional carries the shared read/write capability flags.
type directional struct {
	direction Direction
}

func newDirectional(d Direction) directional {
	if d == "" {
		d = DirectionBidirectional
	}
	return directional{direction: d}
}

func (d directional) CanRead() bool {
	return d.direction == DirectionBidirectional || d.direction == DirectionReadOnly
}

func (d directional) CanWrite() bool {
	return d.direction == DirectionBidirectional || d.direction == DirectionWriteOnly
}

// passthrough returns values untouched in both directions.
type passthrough struct{}

var sharedPassthrough = passthrough{}

// Passthrough returns the shared identity transformer.
func Passthrough() Transformer { return sharedPassthrough }

func (passthrough) Read(value any) (any, error)  { return value, nil }
func (passthrough) Write(value any) (any, error) { return value, nil }
func (passthrough) CanRead() bool                { return true }
func (passthrough) CanWrite() bool               { return true }

type clampTransformer struct {
	directional
	min, max float64
}

func newClamp(def Definition) (Transformer, error) {
	if def.Min == nil || def.Max == nil {
		return nil, fmt.Errorf("clamp transformer requires min and max")
	}
	if *def.Max < *def.Min {
		return nil, fmt.Errorf("clamp transformer max %v below min %v", *def.Max, *def.Min)
	}
	return &clampTransformer{
		directional: newDirectional(def.Direction),
		min:         *def.Min,
		max:         *def.Max,
	}, nil
}

func (t *clampTransformer) Read(value any) (any, error) {
	if !t.CanRead() {
		return value, nil
	}
	return t.apply(value)
}

func (t *clampTransformer) Write(value any) (any, error) {
	if !t.CanWrite() {
		return value, nil
	}
	return t.apply(value)
}

func (t *clampTransformer) apply(value any) (any, error) {
	f, err := toFloat(value)
	if err != nil {
		return nil, err
	}
	return clampFloat(f, t.min, t.max), nil
}

type roundTransformer struct {
	directional
	precision int
}

func newRound(def Definition) (Transformer, error) {
	if def.Precision < 0 {
		return nil, fmt.Errorf("round transformer precision must be >= 0")
	}
	return &roundTransformer{
		directional: newDirectional(def.Direction),
		precision:   def.Precision,
	}, nil
}

func (t *roundTransformer) Read(value any) (any, error) {
	if !t.CanRead() {
		return value, nil
	}
	return t.apply(value)
}

func (t *roundTransformer) Write(value any) (any, error) {
	if !t.CanWrite() {
		return value, nil
	}
	return t.apply(value)
}

func (t *roundTransformer) apply(value any) (any, error) {
	f, err := toFloat(value)
	if err != nil {
		return nil, err
	}
	factor := math.Pow(10, float64(t.precision))
	return math.Round(f*factor) / factor, nil
}

// Shared value coercion helpers.

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int32:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint:
		return float64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("value %q is not numeric", v)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("value of type %T is not numeric", value)
	}
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// canonicalKey renders a scalar as a stable lookup key. Numeric values are
// normalized so 1, 1.0 and "1" share a key.
func canonicalKey(value any) string {
	switch v := value.(type) {
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return v
	case bool:
		return strconv.FormatBool(v)
	default:
		if f, err := toFloat(value); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprintf("%v", value)
	}
}

func looseEqual(a, b any) bool {
	return canonicalKey(a) == canonicalKey(b)
}
