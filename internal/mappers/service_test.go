package mappers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

func newTestService(t *testing.T) (*Service, *transformers.Registry) {
	t.Helper()

	logger := testLogger()
	transformerRegistry := transformers.NewRegistry(logger, nil)
	return NewService(DefaultRegistry(logger), transformerRegistry, logger), transformerRegistry
}

func testDeviceView() DeviceView {
	return DeviceView{
		Device: model.Device{ID: "dev-1", Identifier: "abc123", IntegrationType: model.IntegrationHomeAssistant},
		Properties: []model.Property{
			{ID: "p-on", ChannelCategory: model.ChannelLight, Category: model.PropertyOn, DataType: model.DataTypeBool, Permissions: []model.Permission{model.PermissionRW}, EntityID: "light.kitchen", Attribute: model.AttributeState},
			{ID: "p-bri", ChannelCategory: model.ChannelLight, Category: model.PropertyBrightness, DataType: model.DataTypeInt, Permissions: []model.Permission{model.PermissionRW}, EntityID: "light.kitchen", Attribute: "brightness", Transformer: "brightness_to_percent"},
			{ID: "p-temp", ChannelCategory: model.ChannelSensor, Category: model.PropertyTemperature, DataType: model.DataTypeFloat, Permissions: []model.Permission{model.PermissionRead}, EntityID: "sensor.kitchen_temp", Attribute: model.AttributeState},
		},
	}
}

func TestServiceMapFromHAAppliesTransformers(t *testing.T) {
	service, registry := newTestService(t)
	require.NoError(t, registry.Register("brightness_to_percent", transformers.Definition{
		Kind:      transformers.KindScale,
		InputMin:  floatPtr(0),
		InputMax:  floatPtr(255),
		OutputMin: floatPtr(0),
		OutputMax: floatPtr(100),
	}))

	values := service.MapFromHA(testDeviceView(), []EntityState{{
		EntityID:   "light.kitchen",
		Domain:     "light",
		State:      "on",
		Attributes: map[string]any{"brightness": 255.0},
	}})

	assert.Equal(t, true, values["p-on"])
	assert.Equal(t, 100.0, values["p-bri"])
}

func TestServiceDomainValuesWinOverUniversal(t *testing.T) {
	service, _ := newTestService(t)

	view := DeviceView{
		Device: model.Device{ID: "dev-1"},
		Properties: []model.Property{{
			ID:              "p-status",
			ChannelCategory: model.ChannelWindowCover,
			Category:        model.PropertyStatus,
			DataType:        model.DataTypeEnum,
			Permissions:     []model.Permission{model.PermissionRead},
			EntityID:        "cover.blind",
			Attribute:       model.AttributeState,
		}},
	}

	// The universal mapper would pass "jammed" through verbatim; the cover
	// mapper normalizes it and must win the merge.
	values := service.MapFromHA(view, []EntityState{{
		EntityID: "cover.blind",
		Domain:   "cover",
		State:    "jammed",
	}})
	assert.Equal(t, "stopped", values["p-status"])
}

func TestServiceUnknownEntitySkipped(t *testing.T) {
	service, _ := newTestService(t)

	values := service.MapFromHA(testDeviceView(), []EntityState{{
		EntityID: "light.elsewhere",
		Domain:   "light",
		State:    "on",
	}})
	assert.Empty(t, values)
}

func TestServiceBoolCompatibilityFallback(t *testing.T) {
	service, _ := newTestService(t)

	view := DeviceView{
		Device: model.Device{ID: "dev-1"},
		Properties: []model.Property{{
			ID:          "p-flag",
			Category:    model.PropertyGeneric,
			DataType:    model.DataTypeBool,
			Permissions: []model.Permission{model.PermissionRead},
			EntityID:    "vacuum.robo",
			Attribute:   "is_docked",
		}},
	}

	// No transformer configured on a BOOL property: string and numeric
	// truthy values coerce automatically.
	values := service.MapFromHA(view, []EntityState{{
		EntityID:   "vacuum.robo",
		Domain:     "vacuum",
		State:      "cleaning",
		Attributes: map[string]any{"is_docked": "on"},
	}})
	assert.Equal(t, true, values["p-flag"])
}

func TestServiceMapToHA(t *testing.T) {
	service, registry := newTestService(t)
	require.NoError(t, registry.Register("brightness_to_percent", transformers.Definition{
		Kind:      transformers.KindScale,
		InputMin:  floatPtr(0),
		InputMax:  floatPtr(255),
		OutputMin: floatPtr(0),
		OutputMax: floatPtr(100),
	}))

	commands := service.MapToHA(testDeviceView(), map[string]any{
		"p-on":  true,
		"p-bri": 50, // percent, written back as raw brightness
	})

	require.Len(t, commands, 1)
	assert.Equal(t, "light.kitchen", commands[0].EntityID)
	assert.Equal(t, "turn_on", commands[0].Service)
	assert.Equal(t, 128, commands[0].Data["brightness"])
}

func TestServiceMapToHASkipsUnmappedDomain(t *testing.T) {
	service, _ := newTestService(t)

	view := DeviceView{
		Device: model.Device{ID: "dev-1"},
		Properties: []model.Property{
			{ID: "p-on", ChannelCategory: model.ChannelLight, Category: model.PropertyOn, DataType: model.DataTypeBool, Permissions: []model.Permission{model.PermissionRW}, EntityID: "light.kitchen", Attribute: model.AttributeState},
			{ID: "p-x", Category: model.PropertyGeneric, DataType: model.DataTypeString, Permissions: []model.Permission{model.PermissionRW}, EntityID: "vacuum.robo", Attribute: model.AttributeState},
		},
	}

	commands := service.MapToHA(view, map[string]any{
		"p-on": true,
		"p-x":  "dock",
	})

	// The vacuum entity has no domain mapper and is skipped; the light
	// command still goes out.
	require.Len(t, commands, 1)
	assert.Equal(t, "light.kitchen", commands[0].EntityID)
}

func TestServiceMapToHAIgnoresReadOnlyProperties(t *testing.T) {
	service, _ := newTestService(t)

	commands := service.MapToHA(testDeviceView(), map[string]any{"p-temp": 25.0})
	assert.Empty(t, commands)
}

func floatPtr(v float64) *float64 { return &v }
