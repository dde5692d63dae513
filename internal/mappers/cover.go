package mappers

import (
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// coverMapper handles cover entities (blinds, garage doors, valves): a status
// enum derived from the main state plus a 0-100 position attribute.
type coverMapper struct {
	logger *logrus.Logger
}

func NewCoverMapper(logger *logrus.Logger) DomainMapper {
	return &coverMapper{logger: logger}
}

func (m *coverMapper) Domain() string { return "cover" }

func (m *coverMapper) MapFromHA(properties []model.Property, state EntityState) map[string]any {
	values := make(map[string]any)

	for _, p := range properties {
		switch p.Category {
		case model.PropertyStatus:
			values[p.ID] = coverStatus(state.State)

		case model.PropertyPosition:
			if v, ok := numericAttribute(state, "current_position"); ok {
				values[p.ID] = v
			}

		case model.PropertyOn:
			if !channelIn(p, model.ChannelWindowCover, model.ChannelDoor, model.ChannelValve) {
				continue
			}
			switch coverStatus(state.State) {
			case "open", "opening":
				values[p.ID] = true
			default:
				values[p.ID] = false
			}
		}
	}

	return values
}

// coverStatus maps a hub cover state onto the internal status enum. States
// the hub is not reporting movement or a terminal position for, including
// unrecognized ones, read as stopped.
func coverStatus(state string) string {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "open":
		return "open"
	case "opening":
		return "opening"
	case "closing":
		return "closing"
	case "closed":
		return "closed"
	default:
		return "stopped"
	}
}

// MapToHA sends an explicit status command when one is present, otherwise a
// position update.
func (m *coverMapper) MapToHA(properties []model.Property, values map[string]any) *Command {
	entityID := entityIDOf(properties)
	if entityID == "" {
		return nil
	}

	if p, ok := findProperty(properties, model.PropertyStatus); ok {
		if value, ok := values[p.ID]; ok {
			service, ok := coverService(value)
			if !ok {
				m.logger.WithFields(logrus.Fields{
					"entity_id": entityID,
					"command":   value,
				}).Warn("Unknown cover command, skipping")
				return nil
			}
			return &Command{
				EntityID: entityID,
				Domain:   m.Domain(),
				Service:  service,
			}
		}
	}

	if p, ok := findProperty(properties, model.PropertyPosition); ok {
		if value, ok := values[p.ID]; ok {
			if position, ok := toNumber(value); ok {
				return &Command{
					EntityID: entityID,
					Domain:   m.Domain(),
					Service:  "set_cover_position",
					Data:     map[string]any{"position": int(position)},
				}
			}
		}
	}

	return nil
}

func coverService(value any) (string, bool) {
	command, ok := value.(string)
	if !ok {
		return "", false
	}
	switch strings.ToLower(strings.TrimSpace(command)) {
	case "open":
		return "open_cover", true
	case "close":
		return "close_cover", true
	case "stop":
		return "stop_cover", true
	default:
		return "", false
	}
}
