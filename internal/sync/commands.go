package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/homeassistant"
	"github.com/devicebridge/ha-connector-go/internal/mappers"
	"github.com/devicebridge/ha-connector-go/internal/mapping"
	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/storage"
)

// VirtualCommandSource resolves hub service calls for command-type virtual
// properties, identified by channel and property category.
type VirtualCommandSource interface {
	ServiceCallFor(category model.ChannelCategory, property model.PropertyCategory, value any) (*mapping.ServiceCall, bool)
}

// CommandDispatcher turns desired property values into hub service calls.
// One failing command only blocks the properties it would have written; the
// rest of the batch still goes out.
type CommandDispatcher struct {
	logger   *logrus.Logger
	rest     homeassistant.RESTClient
	mapper   *mappers.Service
	store    storage.Store
	virtuals VirtualCommandSource
}

// NewCommandDispatcher builds a dispatcher. virtuals may be nil, in which
// case values written to virtual command properties are dropped.
func NewCommandDispatcher(rest homeassistant.RESTClient, mapper *mappers.Service, store storage.Store, virtuals VirtualCommandSource, logger *logrus.Logger) *CommandDispatcher {
	return &CommandDispatcher{
		logger:   logger,
		rest:     rest,
		mapper:   mapper,
		store:    store,
		virtuals: virtuals,
	}
}

// DispatchForDevice loads the device's properties and maps the values to
// outbound commands.
func (d *CommandDispatcher) DispatchForDevice(ctx context.Context, deviceID string, values map[string]any) error {
	devices, err := d.store.FindDevicesByIntegrationType(ctx, model.IntegrationHomeAssistant)
	if err != nil {
		return err
	}
	var device *model.Device
	for i := range devices {
		if devices[i].ID == deviceID {
			device = &devices[i]
			break
		}
	}
	if device == nil {
		return fmt.Errorf("device %s not found", deviceID)
	}

	channels, err := d.store.FindChannelsByDevice(ctx, deviceID, model.IntegrationHomeAssistant)
	if err != nil {
		return err
	}
	channelIDs := make([]string, len(channels))
	for i, channel := range channels {
		channelIDs[i] = channel.ID
	}
	properties, err := d.store.FindPropertiesByChannels(ctx, channelIDs, model.IntegrationHomeAssistant)
	if err != nil {
		return err
	}

	return d.Dispatch(ctx, mappers.DeviceView{Device: *device, Properties: properties}, values)
}

// Dispatch maps the values through the write path and executes the resulting
// commands over REST. Virtual command properties (no attribute binding) are
// resolved through the virtual command source; everything else goes through
// the domain mappers. The returned error joins all per-command failures.
func (d *CommandDispatcher) Dispatch(ctx context.Context, view mappers.DeviceView, values map[string]any) error {
	direct := make(map[string]any, len(values))
	for id, value := range values {
		direct[id] = value
	}

	var failures []error
	for _, property := range view.Properties {
		if property.Attribute != "" || !property.Writable() {
			continue
		}
		value, ok := direct[property.ID]
		if !ok {
			continue
		}
		delete(direct, property.ID)

		if d.virtuals == nil {
			d.logger.WithField("property", property.ID).Debug("No virtual command source, value dropped")
			continue
		}
		call, ok := d.virtuals.ServiceCallFor(property.ChannelCategory, property.Category, value)
		if !ok {
			continue
		}
		if err := d.execute(ctx, property.EntityID, call.Domain, call.Service, call.Data); err != nil {
			failures = append(failures, err)
		}
	}

	commands := d.mapper.MapToHA(view, direct)
	if len(commands) == 0 && len(failures) == 0 && len(direct) > 0 {
		d.logger.WithField("device", view.Device.ID).Debug("No outbound commands produced")
	}
	for _, command := range commands {
		if err := d.execute(ctx, command.EntityID, command.Domain, command.Service, command.Data); err != nil {
			failures = append(failures, err)
		}
	}

	return errors.Join(failures...)
}

func (d *CommandDispatcher) execute(ctx context.Context, entityID, domain, service string, commandData map[string]any) error {
	data := make(map[string]any, len(commandData)+1)
	for k, v := range commandData {
		data[k] = v
	}
	data["entity_id"] = entityID

	if err := d.rest.CallService(ctx, domain, service, data); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			"entity_id": entityID,
			"service":   service,
		}).Error("Outbound command failed")
		return fmt.Errorf("%s %s.%s: %w", entityID, domain, service, err)
	}

	d.logger.WithFields(logrus.Fields{
		"entity_id": entityID,
		"domain":    domain,
		"service":   service,
	}).Debug("Dispatched command")
	return nil
}
