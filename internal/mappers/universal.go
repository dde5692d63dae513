package mappers

import (
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

// UniversalDomain is the pseudo-domain the fallback mapper registers under.
const UniversalDomain = "*"

// universalMapper reads any entity by following the property's configured
// attribute binding directly: the main state or a named attribute, with an
// optional array index, coerced to the property's data type. It carries no
// domain knowledge and therefore has no write side.
type universalMapper struct {
	logger *logrus.Logger
}

func NewUniversalMapper(logger *logrus.Logger) DomainMapper {
	return &universalMapper{logger: logger}
}

func (m *universalMapper) Domain() string { return UniversalDomain }

func (m *universalMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	for _, p := range properties {
		raw, ok := m.rawValue(p, state)
		if !ok {
			continue
		}
		if value, ok := coerceToDataType(raw, p.DataType); ok {
			values[p.ID] = value
		}
	}

	return values
}

func (m *universalMapper) rawValue(p model.Property, state EntityState) (any, bool) {
	var raw any
	if p.Attribute == model.AttributeState || p.Attribute == "" {
		if state.State == "" || state.State == "unavailable" || state.State == "unknown" {
			return nil, false
		}
		raw = state.State
	} else {
		var ok bool
		raw, ok = state.Attribute(p.Attribute)
		if !ok || raw == nil {
			return nil, false
		}
	}

	if p.ArrayIndex != nil {
		elements, ok := raw.([]any)
		if !ok || *p.ArrayIndex < 0 || *p.ArrayIndex >= len(elements) {
			return nil, false
		}
		raw = elements[*p.ArrayIndex]
	}
	return raw, true
}

func coerceToDataType(raw any, dataType model.DataType) (any, bool) {
	switch dataType {
	case model.DataTypeBool:
		return transformers.CoerceBool(raw), true
	case model.DataTypeInt:
		if v, ok := toNumber(raw); ok {
			return int(v), true
		}
		return nil, false
	case model.DataTypeFloat:
		if v, ok := toNumber(raw); ok {
			return v, true
		}
		return nil, false
	default:
		return raw, true
	}
}

// The universal mapper cannot construct service calls.
func (m *universalMapper) MapToHA([]model.Property, map[string]any) *Command {
	return nil
}
