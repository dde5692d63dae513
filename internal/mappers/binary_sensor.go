package mappers

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// binarySensorMapper handles read-only binary_sensor entities.
type binarySensorMapper struct {
	logger *logrus.Logger
}

func NewBinarySensorMapper(logger *logrus.Logger) DomainMapper {
	return &binarySensorMapper{logger: logger}
}

func (m *binarySensorMapper) Domain() string { return "binary_sensor" }

func (m *binarySensorMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	parsed, ok := parseBinaryState(state.State)
	if !ok {
		return values
	}

	for _, p := range properties {
		switch p.Category {
		case model.PropertyDetected, model.PropertyOn, model.PropertyLocked, model.PropertyGeneric:
			if p.DataType == model.DataTypeBool {
				values[p.ID] = parsed
			}
		}
	}

	return values
}

// parseBinaryState maps the hub's truthy and falsy state strings to booleans.
// "off" and "false" are false; unavailable or unknown states report nothing.
func parseBinaryState(state string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on", "true", "1", "open", "detected":
		return true, true
	case "off", "false", "0", "closed", "clear":
		return false, true
	default:
		return false, false
	}
}

// Binary sensors have no write side.
func (m *binarySensorMapper) MapToHA([]model.Property, map[string]any) *Command {
	return nil
}
