package mappers

import (
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// sensorMapper handles read-only sensor entities. Numeric readings are
// reconciled to the canonical unit of their physical quantity; a reading in a
// unit the conversion table does not know is dropped rather than guessed.
type sensorMapper struct {
	logger *logrus.Logger
}

func NewSensorMapper(logger *logrus.Logger) DomainMapper {
	return &sensorMapper{logger: logger}
}

func (m *sensorMapper) Domain() string { return "sensor" }

func (m *sensorMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	for _, p := range properties {
		if p.Attribute != model.AttributeState && p.Attribute != "" {
			// Non-state attributes are the universal mapper's job.
			continue
		}

		switch p.DataType {
		case model.DataTypeInt, model.DataTypeFloat:
			raw, ok := state.NumericState()
			if !ok {
				continue
			}
			value, ok := m.reconcileUnit(p, raw, state)
			if !ok {
				continue
			}
			if p.DataType == model.DataTypeInt {
				values[p.ID] = int(value)
			} else {
				values[p.ID] = value
			}

		case model.DataTypeBool:
			if on, ok := onOffToBool(state.State); ok {
				values[p.ID] = on
			}

		default:
			if state.State != "" && state.State != "unavailable" && state.State != "unknown" {
				values[p.ID] = state.State
			}
		}
	}

	return values
}

func (m *sensorMapper) reconcileUnit(p model.Property, value float64, state EntityState) (float64, bool) {
	quantity, ok := quantityForProperty(p.Category)
	if !ok {
		return value, true
	}

	unit := ""
	if raw, ok := state.Attribute("unit_of_measurement"); ok {
		if s, ok := raw.(string); ok {
			unit = s
		}
	}

	converted, ok := NormalizeUnit(quantity, value, unit)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"entity_id": state.EntityID,
			"unit":      unit,
			"quantity":  quantity,
		}).Warn("Unrecognized measurement unit, dropping value")
		return 0, false
	}
	return converted, true
}

// Sensors have no write side.
func (m *sensorMapper) MapToHA([]model.Property, map[string]any) *Command {
	return nil
}
