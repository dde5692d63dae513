package homeassistant

import (
	"encoding/json"
	"time"
)

// Message is the generic websocket frame exchanged with Home Assistant. The
// fields used depend on Type.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *MessageError   `json:"error,omitempty"`
	Message string          `json:"message,omitempty"`
}

// MessageError is the error object attached to a failed result frame.
type MessageError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Websocket message types.
const (
	MessageTypeAuthRequired = "auth_required"
	MessageTypeAuth         = "auth"
	MessageTypeAuthOK       = "auth_ok"
	MessageTypeAuthInvalid  = "auth_invalid"
	MessageTypeResult       = "result"
	MessageTypeEvent        = "event"
)

// Well-known event types.
const (
	EventStateChanged = "state_changed"
	EventWildcard     = "*"
)

// authMessage is the credential frame sent after auth_required.
type authMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// subscribeEventsRequest subscribes to the hub's event stream.
type subscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type"`
}

// registryListRequest fetches a registry listing (device or entity).
type registryListRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// Event is the envelope of an inbound event frame.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	TimeFired time.Time       `json:"time_fired"`
	Origin    string          `json:"origin"`
}

// StateChangedData is the payload of a state_changed event.
type StateChangedData struct {
	EntityID string       `json:"entity_id"`
	OldState *EntityState `json:"old_state"`
	NewState *EntityState `json:"new_state"`
}

// EntityState is one entity's state as reported by the hub, over either the
// socket or the REST surface.
type EntityState struct {
	EntityID    string         `json:"entity_id"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Domain returns the entity id's domain prefix.
func (s EntityState) Domain() string {
	for i := 0; i < len(s.EntityID); i++ {
		if s.EntityID[i] == '.' {
			return s.EntityID[:i]
		}
	}
	return ""
}

// DeviceClass returns the device_class attribute, if set.
func (s EntityState) DeviceClass() string {
	if s.Attributes == nil {
		return ""
	}
	if v, ok := s.Attributes["device_class"].(string); ok {
		return v
	}
	return ""
}

// FriendlyName returns the friendly_name attribute, falling back to the
// entity id.
func (s EntityState) FriendlyName() string {
	if s.Attributes != nil {
		if v, ok := s.Attributes["friendly_name"].(string); ok && v != "" {
			return v
		}
	}
	return s.EntityID
}

// RegistryDevice is one entry of the hub's device registry.
type RegistryDevice struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	NameByUser   string     `json:"name_by_user"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	AreaID       string     `json:"area_id"`
	Identifiers  [][]string `json:"identifiers"`
}

// DisplayName prefers the user-assigned name over the integration name.
func (d RegistryDevice) DisplayName() string {
	if d.NameByUser != "" {
		return d.NameByUser
	}
	return d.Name
}

// RegistryEntry is one entry of the hub's entity registry, linking entities
// to devices.
type RegistryEntry struct {
	EntityID string `json:"entity_id"`
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
	Disabled string `json:"disabled_by"`
	Name     string `json:"name"`
}

// HAConfig is the hub configuration returned by /api/config.
type HAConfig struct {
	Version    string `json:"version"`
	TimeZone   string `json:"time_zone"`
	Location   string `json:"location_name"`
	UnitSystem struct {
		Temperature string `json:"temperature"`
		Length      string `json:"length"`
		Pressure    string `json:"pressure"`
	} `json:"unit_system"`
}

// EventHandler consumes one inbound event frame.
type EventHandler func(event Event)
