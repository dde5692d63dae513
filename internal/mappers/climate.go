package mappers

import (
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// climateMapper handles climate entities: the hvac mode is the main state,
// current and target temperatures and humidity live in attributes.
type climateMapper struct {
	logger *logrus.Logger
}

func NewClimateMapper(logger *logrus.Logger) DomainMapper {
	return &climateMapper{logger: logger}
}

func (m *climateMapper) Domain() string { return "climate" }

func (m *climateMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	for _, p := range properties {
		switch p.Category {
		case model.PropertyMode:
			if state.State != "" && state.State != "unavailable" && state.State != "unknown" {
				values[p.ID] = state.State
			}

		case model.PropertyTemperature:
			if v, ok := m.temperatureAttribute(state, "current_temperature"); ok {
				values[p.ID] = v
			}

		case model.PropertyTargetTemp:
			if v, ok := m.temperatureAttribute(state, "temperature"); ok {
				values[p.ID] = v
			}

		case model.PropertyHumidity:
			if v, ok := numericAttribute(state, "current_humidity"); ok {
				values[p.ID] = v
			}

		case model.PropertyOn:
			if !channelIn(p, model.ChannelThermostat) {
				continue
			}
			if state.State == "off" {
				values[p.ID] = false
			} else if state.State != "" && state.State != "unavailable" && state.State != "unknown" {
				values[p.ID] = true
			}
		}
	}

	return values
}

func (m *climateMapper) temperatureAttribute(state EntityState, name string) (float64, bool) {
	v, ok := numericAttribute(state, name)
	if !ok {
		return 0, false
	}

	unit := ""
	if raw, ok := state.Attribute("unit_of_measurement"); ok {
		if s, ok := raw.(string); ok {
			unit = s
		}
	}
	converted, ok := NormalizeUnit(QuantityTemperature, v, unit)
	if !ok {
		m.logger.WithFields(logrus.Fields{
			"entity_id": state.EntityID,
			"unit":      unit,
		}).Warn("Unrecognized temperature unit, dropping value")
		return 0, false
	}
	return converted, true
}

// MapToHA prefers a target-temperature update over a mode change; both in one
// batch cannot be expressed as a single service call, and the temperature is
// the more common intent.
func (m *climateMapper) MapToHA(properties []model.Property, values map[string]any) *Command {
	entityID := entityIDOf(properties)
	if entityID == "" {
		return nil
	}

	if p, ok := findProperty(properties, model.PropertyTargetTemp); ok {
		if value, ok := values[p.ID]; ok {
			if target, ok := toNumber(value); ok {
				return &Command{
					EntityID: entityID,
					Domain:   m.Domain(),
					Service:  "set_temperature",
					Data:     map[string]any{"temperature": target},
				}
			}
		}
	}

	if p, ok := findProperty(properties, model.PropertyMode); ok {
		if value, ok := values[p.ID]; ok {
			return &Command{
				EntityID: entityID,
				Domain:   m.Domain(),
				Service:  "set_hvac_mode",
				Data:     map[string]any{"hvac_mode": value},
			}
		}
	}

	if p, ok := findProperty(properties, model.PropertyOn); ok {
		if value, ok := values[p.ID]; ok {
			service := "turn_off"
			if boolValue(value) {
				service = "turn_on"
			}
			return &Command{
				EntityID: entityID,
				Domain:   m.Domain(),
				Service:  service,
			}
		}
	}

	return nil
}
