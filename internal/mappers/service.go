package mappers

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

// DeviceView is a device together with its denormalized properties, as the
// persistence layer hands them to a mapping pass.
type DeviceView struct {
	Device     model.Device
	Properties []model.Property
}

// Service orchestrates a mapping pass: it groups a device's properties by
// entity id, dispatches to the domain mapper and the universal fallback, and
// applies named transformers and the boolean compatibility fallback.
type Service struct {
	logger       *logrus.Logger
	registry     *Registry
	transformers *transformers.Registry
	universal    DomainMapper
}

func NewService(registry *Registry, transformerRegistry *transformers.Registry, logger *logrus.Logger) *Service {
	return &Service{
		logger:       logger,
		registry:     registry,
		transformers: transformerRegistry,
		universal:    NewUniversalMapper(logger),
	}
}

// MapFromHA maps incoming states onto property values for one device. Domain
// mapper results take precedence over universal fallback results for the same
// property id. Entities without matching properties are skipped silently.
func (s *Service) MapFromHA(view DeviceView, states []EntityState) map[string]any {
	grouped := groupByEntity(view.Properties, model.Property.Readable)
	result := make(map[string]any)

	for _, state := range states {
		properties := grouped[state.EntityID]
		if len(properties) == 0 {
			s.logger.WithFields(logrus.Fields{
				"device":    view.Device.ID,
				"entity_id": state.EntityID,
			}).Debug("No readable properties bound to entity, skipping state")
			continue
		}

		domain := state.Domain
		if domain == "" {
			domain = domainOf(state.EntityID)
		}

		merged := s.universal.MapFromHA(properties, state)
		if mapper, ok := s.registry.Get(domain); ok {
			for id, value := range mapper.MapFromHA(properties, state) {
				merged[id] = value
			}
		} else {
			s.logger.WithFields(logrus.Fields{
				"entity_id": state.EntityID,
				"domain":    domain,
			}).Debug("No domain mapper registered, universal values only")
		}

		for id, value := range merged {
			property, ok := propertyByID(properties, id)
			if !ok {
				continue
			}
			result[id] = s.applyRead(property, value)
		}
	}

	return result
}

// MapToHA maps desired property values to outbound commands, one per entity
// that produced a non-nil mapping. Entities whose domain has no registered
// mapper are skipped with a warning.
func (s *Service) MapToHA(view DeviceView, values map[string]any) []Command {
	grouped := groupByEntity(view.Properties, model.Property.Writable)

	entityIDs := make([]string, 0, len(grouped))
	for entityID := range grouped {
		entityIDs = append(entityIDs, entityID)
	}
	sort.Strings(entityIDs)

	var commands []Command
	for _, entityID := range entityIDs {
		properties := grouped[entityID]

		domain := domainOf(entityID)
		mapper, ok := s.registry.Get(domain)
		if !ok {
			s.logger.WithFields(logrus.Fields{
				"device":    view.Device.ID,
				"entity_id": entityID,
				"domain":    domain,
			}).Warn("No domain mapper registered for writable entity, skipping")
			continue
		}

		transformed := make(map[string]any)
		for _, p := range properties {
			raw, present := values[p.ID]
			if !present {
				continue
			}
			transformed[p.ID] = s.applyWrite(p, raw)
		}
		if len(transformed) == 0 {
			continue
		}

		if command := mapper.MapToHA(properties, transformed); command != nil {
			commands = append(commands, *command)
		}
	}

	return commands
}

// applyRead runs the property's named transformer in the read direction. A
// BOOL property with no transformer gets the permissive coercion so legacy
// on/off style values keep working.
func (s *Service) applyRead(p model.Property, value any) any {
	if p.Transformer != "" {
		transformer := s.transformers.Monitored(p.Transformer)
		if transformer.CanRead() {
			out, _ := transformer.Read(value)
			return out
		}
		return value
	}

	if p.DataType == model.DataTypeBool {
		if _, isBool := value.(bool); !isBool {
			return transformers.CoerceBool(value)
		}
	}
	return value
}

func (s *Service) applyWrite(p model.Property, value any) any {
	if p.Transformer != "" {
		transformer := s.transformers.Monitored(p.Transformer)
		if transformer.CanWrite() {
			out, _ := transformer.Write(value)
			return out
		}
		return value
	}

	if p.DataType == model.DataTypeBool {
		if _, isBool := value.(bool); !isBool {
			return transformers.CoerceBool(value)
		}
	}
	return value
}

func groupByEntity(properties []model.Property, include func(model.Property) bool) map[string][]model.Property {
	grouped := make(map[string][]model.Property)
	for _, p := range properties {
		if p.EntityID == "" || !include(p) {
			continue
		}
		grouped[p.EntityID] = append(grouped[p.EntityID], p)
	}
	return grouped
}

func propertyByID(properties []model.Property, id string) (model.Property, bool) {
	for _, p := range properties {
		if p.ID == id {
			return p, true
		}
	}
	return model.Property{}, false
}
