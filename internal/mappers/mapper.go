package mappers

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

// EntityState is the mapper-facing view of one hub entity: its main state
// string plus the attribute bag.
type EntityState struct {
	EntityID    string
	Domain      string
	DeviceClass string
	State       string
	Attributes  map[string]any
}

// Attribute returns a named attribute value.
func (s EntityState) Attribute(name string) (any, bool) {
	if s.Attributes == nil {
		return nil, false
	}
	v, ok := s.Attributes[name]
	return v, ok
}

// NumericState parses the main state as a float.
func (s EntityState) NumericState() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s.State), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Command is one hub service call produced by a write mapping pass.
type Command struct {
	EntityID string
	Domain   string
	Service  string
	Data     map[string]any
}

// DomainMapper translates between hub entity state and internal property
// values for one entity domain.
//
// MapFromHA returns property-id keyed values extracted from a state; values it
// cannot interpret are simply absent. MapToHA folds desired property values
// into at most one service call per entity; nil means nothing to send.
type DomainMapper interface {
	Domain() string
	MapFromHA(properties []model.Property, state EntityState) map[string]any
	MapToHA(properties []model.Property, values map[string]any) *Command
}

// Registry holds the domain mappers keyed by entity domain.
type Registry struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	mappers map[string]DomainMapper
}

func NewRegistry(logger *logrus.Logger) *Registry {
	return &Registry{
		logger:  logger,
		mappers: make(map[string]DomainMapper),
	}
}

// DefaultRegistry returns a registry with every built-in domain mapper
// registered.
func DefaultRegistry(logger *logrus.Logger) *Registry {
	registry := NewRegistry(logger)
	for _, mapper := range []DomainMapper{
		NewLightMapper(logger),
		NewSwitchMapper(logger),
		NewSensorMapper(logger),
		NewBinarySensorMapper(logger),
		NewClimateMapper(logger),
		NewCoverMapper(logger),
	} {
		if err := registry.Register(mapper); err != nil {
			logger.WithError(err).Error("Failed to register built-in domain mapper")
		}
	}
	return registry
}

func (r *Registry) Register(mapper DomainMapper) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	domain := mapper.Domain()
	if _, exists := r.mappers[domain]; exists {
		return fmt.Errorf("domain mapper for %q already registered", domain)
	}
	r.mappers[domain] = mapper
	return nil
}

func (r *Registry) Get(domain string) (DomainMapper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mapper, ok := r.mappers[domain]
	return mapper, ok
}

func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	domains := make([]string, 0, len(r.mappers))
	for domain := range r.mappers {
		domains = append(domains, domain)
	}
	return domains
}

// domainOf extracts the domain prefix from a hub entity id.
func domainOf(entityID string) string {
	if idx := strings.IndexByte(entityID, '.'); idx > 0 {
		return entityID[:idx]
	}
	return ""
}

// onOffToBool interprets the on/off main state. States like "unavailable" or
// "unknown" report no value.
func onOffToBool(state string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(state)) {
	case "on":
		return true, true
	case "off":
		return false, true
	default:
		return false, false
	}
}

// findProperty returns the first property with the given category.
func findProperty(properties []model.Property, category model.PropertyCategory) (model.Property, bool) {
	for _, p := range properties {
		if p.Category == category {
			return p, true
		}
	}
	return model.Property{}, false
}

// channelIn reports whether the property's owning channel is one of the
// listed categories. Properties without a denormalized channel category pass.
func channelIn(p model.Property, categories ...model.ChannelCategory) bool {
	if p.ChannelCategory == "" {
		return true
	}
	for _, c := range categories {
		if p.ChannelCategory == c {
			return true
		}
	}
	return false
}

// entityIDOf returns the entity id the given properties are bound to.
func entityIDOf(properties []model.Property) string {
	for _, p := range properties {
		if p.EntityID != "" {
			return p.EntityID
		}
	}
	return ""
}

// boolValue coerces an internal property value to a boolean.
func boolValue(value any) bool {
	return transformers.CoerceBool(value)
}

// numericAttribute fetches an attribute and coerces it to float64.
func numericAttribute(state EntityState, name string) (float64, bool) {
	raw, ok := state.Attribute(name)
	if !ok || raw == nil {
		return 0, false
	}
	return toNumber(raw)
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
