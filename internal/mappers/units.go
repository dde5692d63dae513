package mappers

import (
	"strings"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// Quantity is a physical quantity with a canonical internal unit. Sensor
// readings arriving in any recognized source unit are converted before they
// reach a property; an unrecognized unit drops the reading.
type Quantity string

const (
	QuantityTemperature Quantity = "temperature"
	QuantityPower       Quantity = "power"
	QuantityEnergy      Quantity = "energy"
	QuantityPressure    Quantity = "pressure"
	QuantityVoltage     Quantity = "voltage"
	QuantityCurrent     Quantity = "current"
	QuantityFrequency   Quantity = "frequency"
	QuantityDistance    Quantity = "distance"
)

// CanonicalUnit is the internal unit per quantity.
var CanonicalUnit = map[Quantity]string{
	QuantityTemperature: "°C",
	QuantityPower:       "W",
	QuantityEnergy:      "kWh",
	QuantityPressure:    "kPa",
	QuantityVoltage:     "V",
	QuantityCurrent:     "A",
	QuantityFrequency:   "Hz",
	QuantityDistance:    "m",
}

type conversion func(float64) float64

func scaleBy(factor float64) conversion {
	return func(v float64) float64 { return v * factor }
}

func identity(v float64) float64 { return v }

// unitConversions maps a source unit to the function converting it into the
// quantity's canonical unit. Canonical units map to identity.
var unitConversions = map[Quantity]map[string]conversion{
	QuantityTemperature: {
		"°C": identity,
		"C":  identity,
		"°F": func(v float64) float64 { return (v - 32) / 1.8 },
		"F":  func(v float64) float64 { return (v - 32) / 1.8 },
		"K":  func(v float64) float64 { return v - 273.15 },
	},
	QuantityPower: {
		"W":  identity,
		"kW": scaleBy(1000),
		"MW": scaleBy(1e6),
		"mW": scaleBy(0.001),
	},
	QuantityEnergy: {
		"kWh": identity,
		"Wh":  scaleBy(0.001),
		"MWh": scaleBy(1000),
	},
	QuantityPressure: {
		"kPa":  identity,
		"Pa":   scaleBy(0.001),
		"hPa":  scaleBy(0.1),
		"mbar": scaleBy(0.1),
		"bar":  scaleBy(100),
		"psi":  scaleBy(6.89476),
		"mmHg": scaleBy(0.133322),
		"inHg": scaleBy(3.38639),
	},
	QuantityVoltage: {
		"V":  identity,
		"mV": scaleBy(0.001),
		"kV": scaleBy(1000),
	},
	QuantityCurrent: {
		"A":  identity,
		"mA": scaleBy(0.001),
	},
	QuantityFrequency: {
		"Hz":  identity,
		"kHz": scaleBy(1000),
		"MHz": scaleBy(1e6),
		"GHz": scaleBy(1e9),
	},
	QuantityDistance: {
		"m":  identity,
		"mm": scaleBy(0.001),
		"cm": scaleBy(0.01),
		"km": scaleBy(1000),
		"in": scaleBy(0.0254),
		"ft": scaleBy(0.3048),
		"yd": scaleBy(0.9144),
		"mi": scaleBy(1609.344),
	},
}

// quantityForProperty maps property categories onto the quantities with unit
// conversion tables. Categories without a table (humidity, battery, position)
// pass through untouched.
func quantityForProperty(category model.PropertyCategory) (Quantity, bool) {
	switch category {
	case model.PropertyTemperature, model.PropertyTargetTemp:
		return QuantityTemperature, true
	case model.PropertyPower:
		return QuantityPower, true
	case model.PropertyEnergy:
		return QuantityEnergy, true
	case model.PropertyPressure:
		return QuantityPressure, true
	case model.PropertyVoltage:
		return QuantityVoltage, true
	case model.PropertyCurrent:
		return QuantityCurrent, true
	case model.PropertyFrequency:
		return QuantityFrequency, true
	case model.PropertyDistance:
		return QuantityDistance, true
	default:
		return "", false
	}
}

// NormalizeUnit converts value from the given source unit into the quantity's
// canonical unit. An empty source unit is taken as already canonical. The
// second return is false for an unrecognized unit.
func NormalizeUnit(quantity Quantity, value float64, unit string) (float64, bool) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return value, true
	}

	table, ok := unitConversions[quantity]
	if !ok {
		return value, true
	}
	convert, ok := table[unit]
	if !ok {
		return 0, false
	}
	return convert(value), true
}
