package discovery

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/homeassistant"
	"github.com/devicebridge/ha-connector-go/internal/mapping"
	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/storage"
	"github.com/devicebridge/ha-connector-go/internal/virtual"
)

// RegistrySource fetches the hub's device and entity registries. The socket
// client implements it; tests substitute a fake.
type RegistrySource interface {
	GetDeviceRegistry(ctx context.Context) ([]homeassistant.RegistryDevice, error)
	GetEntityRegistry(ctx context.Context) ([]homeassistant.RegistryEntry, error)
}

// Service adopts hub entities into local device records. Entities are matched
// against the mapping rules, grouped by the hub's device registry according to
// their domain role, and written to the store with one channel per matched
// entity. Devices already known by identifier are left untouched.
type Service struct {
	logger     *logrus.Logger
	store      storage.Store
	rest       homeassistant.RESTClient
	registries RegistrySource
	mappings   *mapping.Service
	virtuals   *virtual.Resolver
}

func NewService(store storage.Store, rest homeassistant.RESTClient, registries RegistrySource, mappings *mapping.Service, logger *logrus.Logger) *Service {
	return &Service{
		logger:     logger,
		store:      store,
		rest:       rest,
		registries: registries,
		mappings:   mappings,
		virtuals:   virtual.NewResolver(mappings, logger),
	}
}

type entityMatch struct {
	state homeassistant.EntityState
	rule  *mapping.Rule
}

type deviceGroup struct {
	identifier string
	name       string
	category   model.DeviceCategory
	matches    []entityMatch
}

// Run performs one discovery pass and returns the number of devices adopted.
func (s *Service) Run(ctx context.Context) (int, error) {
	states, err := s.rest.GetStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch entity states: %w", err)
	}

	entityDevice, registryDevices := s.loadRegistries(ctx)

	existing, err := s.store.FindDevicesByIntegrationType(ctx, model.IntegrationHomeAssistant)
	if err != nil {
		return 0, fmt.Errorf("failed to load known devices: %w", err)
	}
	known := make(map[string]bool, len(existing))
	for _, device := range existing {
		known[device.Identifier] = true
	}

	groups := s.groupEntities(states, entityDevice, registryDevices)

	adopted := 0
	for _, group := range groups {
		if known[group.identifier] {
			continue
		}
		if err := s.adopt(ctx, group); err != nil {
			s.logger.WithError(err).WithField("identifier", group.identifier).Error("Failed to adopt device")
			continue
		}
		adopted++
	}

	s.logger.WithFields(logrus.Fields{
		"entities": len(states),
		"adopted":  adopted,
	}).Info("Discovery pass complete")
	return adopted, nil
}

// loadRegistries builds the entity-to-device index. Registry fetch failures
// degrade to standalone grouping rather than aborting discovery.
func (s *Service) loadRegistries(ctx context.Context) (map[string]string, map[string]homeassistant.RegistryDevice) {
	entityDevice := make(map[string]string)
	registryDevices := make(map[string]homeassistant.RegistryDevice)

	if s.registries == nil {
		return entityDevice, registryDevices
	}

	devices, err := s.registries.GetDeviceRegistry(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Device registry unavailable, grouping entities standalone")
		return entityDevice, registryDevices
	}
	for _, device := range devices {
		registryDevices[device.ID] = device
	}

	entries, err := s.registries.GetEntityRegistry(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Entity registry unavailable, grouping entities standalone")
		return entityDevice, registryDevices
	}
	for _, entry := range entries {
		if entry.Disabled != "" || entry.DeviceID == "" {
			continue
		}
		entityDevice[entry.EntityID] = entry.DeviceID
	}
	return entityDevice, registryDevices
}

func (s *Service) groupEntities(states []homeassistant.EntityState, entityDevice map[string]string, registryDevices map[string]homeassistant.RegistryDevice) []*deviceGroup {
	byKey := make(map[string]*deviceGroup)
	var order []string

	for _, state := range states {
		domain := state.Domain()
		if domain == "" {
			continue
		}

		rule := s.mappings.FindMatchingMapping(domain, state.DeviceClass(), state.EntityID)
		if rule == nil {
			s.logger.WithField("entity_id", state.EntityID).Debug("No mapping rule, entity not adopted")
			continue
		}

		role := s.mappings.DomainRole(domain)
		key := state.EntityID
		name := state.FriendlyName()
		if role != mapping.RoleStandalone {
			if deviceID, ok := entityDevice[state.EntityID]; ok {
				key = deviceID
				if device, ok := registryDevices[deviceID]; ok && device.DisplayName() != "" {
					name = device.DisplayName()
				}
			}
		}

		group, ok := byKey[key]
		if !ok {
			group = &deviceGroup{identifier: key, name: name}
			byKey[key] = group
			order = append(order, key)
		}
		// A primary entity anchors the device's suggested category.
		if group.category == "" || role == mapping.RolePrimary {
			if rule.DeviceCategory != "" {
				group.category = rule.DeviceCategory
			}
		}
		group.matches = append(group.matches, entityMatch{state: state, rule: rule})
	}

	groups := make([]*deviceGroup, len(order))
	for i, key := range order {
		groups[i] = byKey[key]
	}
	return groups
}

func (s *Service) adopt(ctx context.Context, group *deviceGroup) error {
	category := group.category
	if category == "" {
		category = model.DeviceGeneric
	}

	device := &model.Device{
		Identifier:      group.identifier,
		Name:            group.name,
		Category:        category,
		IntegrationType: model.IntegrationHomeAssistant,
	}
	if err := s.store.CreateDevice(ctx, device); err != nil {
		return err
	}

	for _, match := range group.matches {
		if err := s.adoptEntity(ctx, device, match); err != nil {
			return err
		}
	}

	s.logger.WithFields(logrus.Fields{
		"device":   device.ID,
		"name":     device.Name,
		"entities": len(group.matches),
	}).Info("Adopted device")
	return nil
}

func (s *Service) adoptEntity(ctx context.Context, device *model.Device, match entityMatch) error {
	identifier := match.rule.Channel.Identifier
	if identifier == "" {
		identifier = match.state.EntityID
	}
	name := match.rule.Channel.Name
	if name == "" {
		name = match.state.FriendlyName()
	}

	channel := &model.Channel{
		DeviceID:   device.ID,
		Category:   match.rule.Channel.Category,
		Identifier: identifier,
		Name:       name,
	}
	if err := s.store.CreateChannel(ctx, channel); err != nil {
		return err
	}

	covered := make(map[model.PropertyCategory]bool, len(match.rule.Properties))
	for _, binding := range match.rule.Properties {
		property := &model.Property{
			ChannelID:       channel.ID,
			ChannelCategory: channel.Category,
			Category:        binding.Property,
			DataType:        binding.DataType,
			Permissions:     binding.Permissions,
			EntityID:        match.state.EntityID,
			Attribute:       binding.Attribute,
			ArrayIndex:      binding.ArrayIndex,
			Transformer:     binding.Transformer,
			Unit:            binding.Unit,
			Format:          binding.Format,
		}
		if len(property.Permissions) == 0 {
			property.Permissions = []model.Permission{model.PermissionRead}
		}
		if err := s.store.CreateProperty(ctx, property); err != nil {
			return err
		}
		covered[binding.Property] = true
	}

	return s.fillVirtualProperties(ctx, channel, covered, match.state)
}

// fillVirtualProperties creates records for property slots the hub does not
// expose directly. Virtual properties carry no attribute binding; the empty
// Attribute marks them for the command dispatcher.
func (s *Service) fillVirtualProperties(ctx context.Context, channel *model.Channel, covered map[model.PropertyCategory]bool, state homeassistant.EntityState) error {
	available := s.mappings.VirtualProperties(channel.Category)
	if len(available) == 0 {
		return nil
	}

	required := make([]model.PropertyCategory, len(available))
	for i, def := range available {
		required[i] = def.Property
	}

	entityCtx := virtual.EntityContext{
		EntityID:    state.EntityID,
		State:       state.State,
		DeviceClass: state.DeviceClass(),
		Attributes:  state.Attributes,
	}

	for _, def := range s.virtuals.MissingProperties(channel.Category, covered, required) {
		value, err := s.virtuals.ResolveValue(def, entityCtx)
		if err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"entity_id": state.EntityID,
				"property":  def.Property,
			}).Warn("Skipping unresolvable virtual property")
			continue
		}

		property := &model.Property{
			ChannelID:       channel.ID,
			ChannelCategory: channel.Category,
			Category:        def.Property,
			DataType:        def.DataType,
			Permissions:     def.EffectivePermissions(),
			EntityID:        state.EntityID,
			Unit:            def.Unit,
			Format:          def.Format,
			Value:           value,
		}
		if err := s.store.CreateProperty(ctx, property); err != nil {
			return err
		}
	}
	return nil
}
