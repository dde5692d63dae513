package mappers

import (
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// switchMapper handles switch entities: a single on/off state.
type switchMapper struct {
	logger *logrus.Logger
}

func NewSwitchMapper(logger *logrus.Logger) DomainMapper {
	return &switchMapper{logger: logger}
}

func (m *switchMapper) Domain() string { return "switch" }

func (m *switchMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	for _, p := range properties {
		if p.Category != model.PropertyOn {
			continue
		}
		if !channelIn(p, model.ChannelSwitcher, model.ChannelOutlet, model.ChannelLight, model.ChannelLock, model.ChannelValve) {
			continue
		}
		if on, ok := onOffToBool(state.State); ok {
			values[p.ID] = on
		}
	}

	return values
}

func (m *switchMapper) MapToHA(properties []model.Property, values map[string]any) *Command {
	p, ok := findProperty(properties, model.PropertyOn)
	if !ok {
		return nil
	}
	value, ok := values[p.ID]
	if !ok {
		return nil
	}

	service := "turn_off"
	if boolValue(value) {
		service = "turn_on"
	}

	return &Command{
		EntityID: entityIDOf(properties),
		Domain:   m.Domain(),
		Service:  service,
	}
}
