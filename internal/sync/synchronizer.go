package sync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/config"
	"github.com/devicebridge/ha-connector-go/internal/homeassistant"
	"github.com/devicebridge/ha-connector-go/internal/mappers"
	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/storage"
)

const defaultDebounceWindow = 500 * time.Millisecond

// Synchronizer moves inbound state changes into persisted property values.
// Events are debounced per entity id with a trailing-edge timer: a burst of
// changes for one entity collapses to a single mapping pass over the most
// recent state. The entity to device lookup is built lazily and invalidated
// whenever the store reports a record change.
type Synchronizer struct {
	logger *logrus.Logger
	store  storage.Store
	mapper *mappers.Service
	rest   homeassistant.RESTClient

	debounceWindow time.Duration
	events         chan homeassistant.EntityState
	cron           *cron.Cron
	cronSchedule   string

	mu             sync.Mutex
	cacheValid     bool
	entityToDevice map[string]mappers.DeviceView
	timers         map[string]*time.Timer
	latest         map[string]homeassistant.EntityState
	stopped        bool
}

func NewSynchronizer(store storage.Store, mapper *mappers.Service, rest homeassistant.RESTClient, cfg config.SyncConfig, logger *logrus.Logger) *Synchronizer {
	window, err := time.ParseDuration(cfg.DebounceWindow)
	if err != nil || window <= 0 {
		window = defaultDebounceWindow
	}
	bufferSize := cfg.EventBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}

	s := &Synchronizer{
		logger:         logger,
		store:          store,
		mapper:         mapper,
		rest:           rest,
		debounceWindow: window,
		events:         make(chan homeassistant.EntityState, bufferSize),
		cronSchedule:   cfg.FullResyncSchedule,
		entityToDevice: make(map[string]mappers.DeviceView),
		timers:         make(map[string]*time.Timer),
		latest:         make(map[string]homeassistant.EntityState),
	}
	store.OnChange(s.Invalidate)
	return s
}

// Start runs the event worker and, when a schedule is configured, the
// periodic full resync.
func (s *Synchronizer) Start(ctx context.Context) error {
	go s.worker(ctx)

	if s.cronSchedule != "" {
		s.cron = cron.New()
		_, err := s.cron.AddFunc(s.cronSchedule, func() {
			if err := s.Resync(context.Background()); err != nil {
				s.logger.WithError(err).Error("Scheduled full resync failed")
			}
		})
		if err != nil {
			return err
		}
		s.cron.Start()
		s.logger.WithField("schedule", s.cronSchedule).Info("Scheduled periodic full resync")
	}
	return nil
}

// Stop cancels pending debounce timers and the resync schedule.
func (s *Synchronizer) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}

	s.mu.Lock()
	s.stopped = true
	for entityID, timer := range s.timers {
		timer.Stop()
		delete(s.timers, entityID)
	}
	s.mu.Unlock()
}

// HandleStateChanged is the protocol client's event handler. A full buffer
// drops the event rather than blocking the read loop.
func (s *Synchronizer) HandleStateChanged(event homeassistant.Event) {
	var data homeassistant.StateChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		s.logger.WithError(err).Warn("Malformed state_changed payload")
		return
	}
	if data.NewState == nil {
		// Entity removed; discovery handles record lifecycle.
		return
	}

	select {
	case s.events <- *data.NewState:
	default:
		s.logger.WithField("entity_id", data.EntityID).Warn("Event buffer full, dropping state change")
	}
}

func (s *Synchronizer) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case state := <-s.events:
			s.debounce(state)
		}
	}
}

// debounce stores the newest state for the entity and restarts its timer.
// Timers are independent per entity and may fire concurrently with events
// for other entities.
func (s *Synchronizer) debounce(state homeassistant.EntityState) {
	entityID := state.EntityID

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.latest[entityID] = state
	if timer, ok := s.timers[entityID]; ok {
		timer.Stop()
	}
	s.timers[entityID] = time.AfterFunc(s.debounceWindow, func() {
		s.flush(entityID)
	})
}

// flush runs the mapping pass for the most recent state of one entity.
func (s *Synchronizer) flush(entityID string) {
	s.mu.Lock()
	state, ok := s.latest[entityID]
	delete(s.latest, entityID)
	delete(s.timers, entityID)
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	view, found, err := s.DeviceViewForEntity(ctx, entityID)
	if err != nil {
		s.logger.WithError(err).Error("Failed to build entity lookup")
		return
	}
	if !found {
		// Normal during startup and for unmanaged entities.
		s.logger.WithField("entity_id", entityID).Debug("No device bound to entity, dropping event")
		return
	}

	s.applyState(ctx, view, state)
}

func (s *Synchronizer) applyState(ctx context.Context, view mappers.DeviceView, state homeassistant.EntityState) {
	values := s.mapper.MapFromHA(view, []mappers.EntityState{toMapperState(state)})
	for propertyID, value := range values {
		if err := s.store.UpdatePropertyValue(ctx, propertyID, value); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"property":  propertyID,
				"entity_id": state.EntityID,
			}).Error("Failed to persist property value")
		}
	}
}

// Resync pulls every entity state over REST and maps all of them in one pass,
// reconciling anything missed while disconnected.
func (s *Synchronizer) Resync(ctx context.Context) error {
	states, err := s.rest.GetStates(ctx)
	if err != nil {
		return err
	}

	applied := 0
	for _, state := range states {
		view, found, err := s.DeviceViewForEntity(ctx, state.EntityID)
		if err != nil {
			return err
		}
		if !found {
			continue
		}
		s.applyState(ctx, view, state)
		applied++
	}

	s.logger.WithFields(logrus.Fields{
		"states":  len(states),
		"applied": applied,
	}).Info("Full resync complete")
	return nil
}

// Invalidate marks the entity lookup as stale; it is rebuilt on next use.
func (s *Synchronizer) Invalidate() {
	s.mu.Lock()
	s.cacheValid = false
	s.mu.Unlock()
}

// DeviceViewForEntity resolves the device a hub entity belongs to, building
// the lookup on first use.
func (s *Synchronizer) DeviceViewForEntity(ctx context.Context, entityID string) (mappers.DeviceView, bool, error) {
	s.mu.Lock()
	if s.cacheValid {
		view, ok := s.entityToDevice[entityID]
		s.mu.Unlock()
		return view, ok, nil
	}
	s.mu.Unlock()

	lookup, err := s.buildLookup(ctx)
	if err != nil {
		return mappers.DeviceView{}, false, err
	}

	s.mu.Lock()
	s.entityToDevice = lookup
	s.cacheValid = true
	view, ok := s.entityToDevice[entityID]
	s.mu.Unlock()
	return view, ok, nil
}

func (s *Synchronizer) buildLookup(ctx context.Context) (map[string]mappers.DeviceView, error) {
	devices, err := s.store.FindDevicesByIntegrationType(ctx, model.IntegrationHomeAssistant)
	if err != nil {
		return nil, err
	}

	lookup := make(map[string]mappers.DeviceView)
	for _, device := range devices {
		channels, err := s.store.FindChannelsByDevice(ctx, device.ID, model.IntegrationHomeAssistant)
		if err != nil {
			return nil, err
		}
		channelIDs := make([]string, len(channels))
		for i, channel := range channels {
			channelIDs[i] = channel.ID
		}

		properties, err := s.store.FindPropertiesByChannels(ctx, channelIDs, model.IntegrationHomeAssistant)
		if err != nil {
			return nil, err
		}

		view := mappers.DeviceView{Device: device, Properties: properties}
		for _, property := range properties {
			if property.EntityID != "" {
				lookup[property.EntityID] = view
			}
		}
	}

	s.logger.WithFields(logrus.Fields{
		"devices":  len(devices),
		"entities": len(lookup),
	}).Debug("Rebuilt entity lookup")
	return lookup, nil
}

func toMapperState(state homeassistant.EntityState) mappers.EntityState {
	return mappers.EntityState{
		EntityID:    state.EntityID,
		Domain:      state.Domain(),
		DeviceClass: state.DeviceClass(),
		State:       state.State,
		Attributes:  state.Attributes,
	}
}
