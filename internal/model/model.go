package model

// IntegrationType identifies which integration owns a device record. The
// connector only touches records carrying its own type.
const IntegrationHomeAssistant = "homeassistant"

// ChannelCategory groups properties into a functional unit on a device.
type ChannelCategory string

const (
	ChannelLight        ChannelCategory = "light"
	ChannelOutlet       ChannelCategory = "outlet"
	ChannelSwitcher     ChannelCategory = "switcher"
	ChannelLock         ChannelCategory = "lock"
	ChannelSensor       ChannelCategory = "sensor"
	ChannelThermostat   ChannelCategory = "thermostat"
	ChannelWindowCover  ChannelCategory = "window_covering"
	ChannelDoor         ChannelCategory = "door"
	ChannelValve        ChannelCategory = "valve"
	ChannelGeneric      ChannelCategory = "generic"
	ChannelElectricalEn ChannelCategory = "electrical_energy"
)

// PropertyCategory is the leaf value an external attribute is mapped onto.
type PropertyCategory string

const (
	PropertyOn               PropertyCategory = "on"
	PropertyBrightness       PropertyCategory = "brightness"
	PropertyColorTemperature PropertyCategory = "color_temperature"
	PropertyColorRed         PropertyCategory = "color_red"
	PropertyColorGreen       PropertyCategory = "color_green"
	PropertyColorBlue        PropertyCategory = "color_blue"
	PropertyTemperature      PropertyCategory = "temperature"
	PropertyTargetTemp       PropertyCategory = "target_temperature"
	PropertyHumidity         PropertyCategory = "humidity"
	PropertyPressure         PropertyCategory = "pressure"
	PropertyPower            PropertyCategory = "power"
	PropertyEnergy           PropertyCategory = "energy"
	PropertyVoltage          PropertyCategory = "voltage"
	PropertyCurrent          PropertyCategory = "current"
	PropertyFrequency        PropertyCategory = "frequency"
	PropertyDistance         PropertyCategory = "distance"
	PropertyPosition         PropertyCategory = "position"
	PropertyStatus           PropertyCategory = "status"
	PropertyDetected         PropertyCategory = "detected"
	PropertyMode             PropertyCategory = "mode"
	PropertyBattery          PropertyCategory = "battery"
	PropertyLocked           PropertyCategory = "locked"
	PropertyGeneric          PropertyCategory = "generic"
)

// DeviceCategory is a coarse classification suggested for a discovered device.
type DeviceCategory string

const (
	DeviceLighting  DeviceCategory = "lighting"
	DeviceSensors   DeviceCategory = "sensors"
	DeviceClimate   DeviceCategory = "climate"
	DeviceCovers    DeviceCategory = "covers"
	DeviceSwitching DeviceCategory = "switching"
	DeviceGeneric   DeviceCategory = "generic"
)

type DataType string

const (
	DataTypeBool   DataType = "bool"
	DataTypeInt    DataType = "int"
	DataTypeFloat  DataType = "float"
	DataTypeString DataType = "string"
	DataTypeEnum   DataType = "enum"
)

type Permission string

const (
	PermissionRead  Permission = "ro"
	PermissionWrite Permission = "wo"
	PermissionRW    Permission = "rw"
)

// Device is the internal representation of an external hub device.
type Device struct {
	ID              string
	Identifier      string // external hub device id
	Name            string
	Category        DeviceCategory
	IntegrationType string
}

// Channel groups a device's properties into a functional unit.
type Channel struct {
	ID         string
	DeviceID   string
	Category   ChannelCategory
	Identifier string
	Name       string
}

// Property is the leaf value record. The connector reads and writes Value; the
// record's lifecycle belongs to the persistence layer. ChannelCategory and
// ArrayIndex are denormalized from the owning channel and the mapping rule at
// discovery time so mappers can gate and index without extra lookups.
type Property struct {
	ID              string
	ChannelID       string
	ChannelCategory ChannelCategory
	Category        PropertyCategory
	DataType        DataType
	Permissions     []Permission
	EntityID        string // external entity id this property is bound to
	Attribute       string // external attribute name, "state" for the main state
	ArrayIndex      *int   // index into an array-valued attribute
	Transformer     string // named transformer, empty for none
	Unit            string
	Format          string
	Value           any
}

// AttributeState is the conventional Attribute value meaning the entity's main
// state rather than one of its attributes.
const AttributeState = "state"

func (p Property) Readable() bool {
	for _, perm := range p.Permissions {
		if perm == PermissionRead || perm == PermissionRW {
			return true
		}
	}
	return false
}

func (p Property) Writable() bool {
	for _, perm := range p.Permissions {
		if perm == PermissionWrite || perm == PermissionRW {
			return true
		}
	}
	return false
}
