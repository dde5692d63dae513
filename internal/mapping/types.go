package mapping

import (
	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

// DomainRole classifies how a discovered entity's domain participates in
// device grouping. A primary-domain entity anchors the device's suggested
// category, secondary entities supplement an existing device, standalone
// entities form a device of their own.
type DomainRole string

const (
	RolePrimary    DomainRole = "primary"
	RoleSecondary  DomainRole = "secondary"
	RoleStandalone DomainRole = "standalone"
)

// PropertyBinding declares that one external attribute (or the entity's main
// state, or one index of an array-valued attribute) maps to an internal
// property category.
type PropertyBinding struct {
	Attribute   string                 `json:"attribute" yaml:"attribute"`
	Property    model.PropertyCategory `json:"property" yaml:"property"`
	DataType    model.DataType         `json:"data_type,omitempty" yaml:"data_type,omitempty"`
	Permissions []model.Permission     `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	ArrayIndex  *int                   `json:"array_index,omitempty" yaml:"array_index,omitempty"`
	Transformer string                 `json:"transformer,omitempty" yaml:"transformer,omitempty"`
	Unit        string                 `json:"unit,omitempty" yaml:"unit,omitempty"`
	Format      string                 `json:"format,omitempty" yaml:"format,omitempty"`
}

// ChannelSpec describes the channel a matched entity's properties land on.
type ChannelSpec struct {
	Category   model.ChannelCategory `json:"category" yaml:"category"`
	Identifier string                `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Name       string                `json:"name,omitempty" yaml:"name,omitempty"`
}

// Rule maps entities of one external domain (optionally narrowed by device
// class or an entity-id substring) onto a channel and property bindings.
//
// Device class filtering has three shapes: DeviceClasses non-empty is a set
// filter, DeviceClass non-nil is an exact filter, both empty matches any class
// but only as a last-resort fallback.
type Rule struct {
	Name             string               `json:"name" yaml:"name"`
	Domain           string               `json:"domain" yaml:"domain"`
	DeviceClass      *string              `json:"device_class,omitempty" yaml:"device_class,omitempty"`
	DeviceClasses    []string             `json:"device_classes,omitempty" yaml:"device_classes,omitempty"`
	EntityIDContains string               `json:"entity_id_contains,omitempty" yaml:"entity_id_contains,omitempty"`
	Priority         int                  `json:"priority" yaml:"priority"`
	Channel          ChannelSpec          `json:"channel" yaml:"channel"`
	DeviceCategory   model.DeviceCategory `json:"device_category,omitempty" yaml:"device_category,omitempty"`
	Properties       []PropertyBinding    `json:"properties" yaml:"properties"`

	// filePriority is the priority of the file the rule was loaded from;
	// user overrides outrank built-in files regardless of rule priority.
	filePriority int
}

// EffectivePriority orders rules across files: user files carry a higher file
// priority than built-in ones.
func (r Rule) EffectivePriority() int {
	return r.filePriority + r.Priority
}

// MatchesClass reports whether the rule's device-class filter accepts the
// candidate class. Any-class rules report false here; they are handled as a
// separate fallback pass.
func (r Rule) MatchesClass(deviceClass string) bool {
	if len(r.DeviceClasses) > 0 {
		for _, class := range r.DeviceClasses {
			if class == deviceClass {
				return true
			}
		}
		return false
	}
	if r.DeviceClass != nil {
		return *r.DeviceClass == deviceClass
	}
	return false
}

// IsAnyClass reports whether the rule carries no device-class filter.
func (r Rule) IsAnyClass() bool {
	return r.DeviceClass == nil && len(r.DeviceClasses) == 0
}

// DomainRoles assigns roles per external domain.
type DomainRoles struct {
	Primary    []string `json:"primary,omitempty" yaml:"primary,omitempty"`
	Secondary  []string `json:"secondary,omitempty" yaml:"secondary,omitempty"`
	Standalone []string `json:"standalone,omitempty" yaml:"standalone,omitempty"`
}

// MappingsDocument is the on-disk shape of a mappings file.
type MappingsDocument struct {
	Mappings     []Rule                             `json:"mappings" yaml:"mappings"`
	Transformers map[string]transformers.Definition `json:"transformers,omitempty" yaml:"transformers,omitempty"`
	DomainRoles  *DomainRoles                       `json:"domain_roles,omitempty" yaml:"domain_roles,omitempty"`
}

// Derivation rule kinds.
const (
	DerivationThreshold      = "threshold"
	DerivationDeviceClassMap = "device_class_map"
	DerivationStatic         = "static"
)

// ThresholdRange buckets a numeric source value. Nil bounds are unbounded.
// Ranges are evaluated in declaration order; the first range whose bounds both
// hold wins.
type ThresholdRange struct {
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	Result any      `json:"result" yaml:"result"`
}

// DerivationRule synthesizes a property value the hub does not expose.
type DerivationRule struct {
	Type    string           `json:"type" yaml:"type"`
	Ranges  []ThresholdRange `json:"ranges,omitempty" yaml:"ranges,omitempty"`
	Map     map[string]any   `json:"map,omitempty" yaml:"map,omitempty"`
	Default any              `json:"default,omitempty" yaml:"default,omitempty"`
	Value   any              `json:"value,omitempty" yaml:"value,omitempty"`
}

// Virtual property kinds.
const (
	VirtualStatic  = "static"
	VirtualDerived = "derived"
	VirtualCommand = "command"
)

// ServiceCall is the hub command a command-type virtual property value maps to.
type ServiceCall struct {
	Domain  string         `json:"domain" yaml:"domain"`
	Service string         `json:"service" yaml:"service"`
	Data    map[string]any `json:"data,omitempty" yaml:"data,omitempty"`
}

// CommandMapping translates write-side command values into hub service calls.
type CommandMapping struct {
	Services map[string]ServiceCall `json:"services" yaml:"services"`
}

// VirtualPropertyDefinition describes a property with no direct external
// attribute. Command properties are write-only; static and derived properties
// are read-only unless permissions say otherwise.
type VirtualPropertyDefinition struct {
	Property    model.PropertyCategory `json:"property" yaml:"property"`
	Type        string                 `json:"type" yaml:"type"`
	DataType    model.DataType         `json:"data_type" yaml:"data_type"`
	Permissions []model.Permission     `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Unit        string                 `json:"unit,omitempty" yaml:"unit,omitempty"`
	Format      string                 `json:"format,omitempty" yaml:"format,omitempty"`
	Value       any                    `json:"value,omitempty" yaml:"value,omitempty"`
	Derivation  string                 `json:"derivation,omitempty" yaml:"derivation,omitempty"`
	Rule        *DerivationRule        `json:"rule,omitempty" yaml:"rule,omitempty"`
	Commands    *CommandMapping        `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// EffectivePermissions returns the configured permissions, defaulting commands
// to write-only and everything else to read-only.
func (d VirtualPropertyDefinition) EffectivePermissions() []model.Permission {
	if len(d.Permissions) > 0 {
		return d.Permissions
	}
	if d.Type == VirtualCommand {
		return []model.Permission{model.PermissionWrite}
	}
	return []model.Permission{model.PermissionRead}
}

// VirtualsDocument is the on-disk shape of a virtual-properties file.
type VirtualsDocument struct {
	Derivations       map[string]DerivationRule                             `json:"derivations,omitempty" yaml:"derivations,omitempty"`
	VirtualProperties map[model.ChannelCategory][]VirtualPropertyDefinition `json:"virtual_properties,omitempty" yaml:"virtual_properties,omitempty"`
}
