package mappers

import (
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// lightMapper translates light entities: on/off main state, brightness,
// color temperature and RGB color attributes.
type lightMapper struct {
	logger *logrus.Logger
}

func NewLightMapper(logger *logrus.Logger) DomainMapper {
	return &lightMapper{logger: logger}
}

func (m *lightMapper) Domain() string { return "light" }

func (m *lightMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	for _, p := range properties {
		switch p.Category {
		case model.PropertyOn:
			if !channelIn(p, model.ChannelLight, model.ChannelOutlet, model.ChannelSwitcher, model.ChannelLock) {
				continue
			}
			if on, ok := onOffToBool(state.State); ok {
				values[p.ID] = on
			}

		case model.PropertyBrightness:
			if v, ok := numericAttribute(state, "brightness"); ok {
				values[p.ID] = v
			}

		case model.PropertyColorTemperature:
			if v, ok := numericAttribute(state, "color_temp"); ok {
				values[p.ID] = v
			}

		case model.PropertyColorRed, model.PropertyColorGreen, model.PropertyColorBlue:
			if v, ok := m.rgbComponent(state, p.Category); ok {
				values[p.ID] = v
			}
		}
	}

	return values
}

func (m *lightMapper) rgbComponent(state EntityState, category model.PropertyCategory) (float64, bool) {
	raw, ok := state.Attribute("rgb_color")
	if !ok {
		return 0, false
	}
	components, ok := raw.([]any)
	if !ok {
		return 0, false
	}

	index := map[model.PropertyCategory]int{
		model.PropertyColorRed:   0,
		model.PropertyColorGreen: 1,
		model.PropertyColorBlue:  2,
	}[category]
	if index >= len(components) {
		return 0, false
	}
	return toNumber(components[index])
}

// MapToHA folds the desired values into one turn_on/turn_off call. A false
// on-value wins over everything else; any other value implies turn_on with
// the corresponding service data.
func (m *lightMapper) MapToHA(properties []model.Property, values map[string]any) *Command {
	entityID := entityIDOf(properties)
	if entityID == "" {
		return nil
	}

	data := make(map[string]any)
	service := ""

	for _, p := range properties {
		value, ok := values[p.ID]
		if !ok {
			continue
		}

		switch p.Category {
		case model.PropertyOn:
			if boolValue(value) {
				if service == "" {
					service = "turn_on"
				}
			} else {
				service = "turn_off"
			}

		case model.PropertyBrightness:
			if v, ok := toNumber(value); ok {
				data["brightness"] = int(v)
				if service == "" {
					service = "turn_on"
				}
			}

		case model.PropertyColorTemperature:
			if v, ok := toNumber(value); ok {
				data["color_temp"] = int(v)
				if service == "" {
					service = "turn_on"
				}
			}

		case model.PropertyColorRed, model.PropertyColorGreen, model.PropertyColorBlue:
			if rgb, ok := m.rgbFromValues(properties, values); ok {
				data["rgb_color"] = rgb
				if service == "" {
					service = "turn_on"
				}
			}
		}
	}

	if service == "" {
		return nil
	}
	if service == "turn_off" {
		// Service data is meaningless on turn_off.
		data = nil
	}

	return &Command{
		EntityID: entityID,
		Domain:   m.Domain(),
		Service:  service,
		Data:     data,
	}
}

// rgbFromValues assembles a full color triple; a partial update cannot be
// expressed as an rgb_color attribute and is dropped.
func (m *lightMapper) rgbFromValues(properties []model.Property, values map[string]any) ([]int, bool) {
	rgb := make([]int, 3)
	for i, category := range []model.PropertyCategory{model.PropertyColorRed, model.PropertyColorGreen, model.PropertyColorBlue} {
		p, ok := findProperty(properties, category)
		if !ok {
			return nil, false
		}
		value, ok := values[p.ID]
		if !ok {
			return nil, false
		}
		component, ok := toNumber(value)
		if !ok {
			return nil, false
		}
		rgb[i] = int(component)
	}
	return rgb, true
}
