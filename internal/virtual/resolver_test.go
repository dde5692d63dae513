package virtual

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicebridge/ha-connector-go/internal/mapping"
	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := transformers.NewRegistry(logger, nil)
	mappings, err := mapping.NewService("", registry, logger)
	require.NoError(t, err)
	require.NoError(t, mappings.LoadAll())

	return NewResolver(mappings, logger)
}

func floatPtr(v float64) *float64 { return &v }

func TestStaticValue(t *testing.T) {
	resolver := newTestResolver(t)

	value, err := resolver.ResolveValue(mapping.VirtualPropertyDefinition{
		Property: model.PropertyStatus,
		Type:     mapping.VirtualStatic,
		DataType: model.DataTypeEnum,
		Value:    "stopped",
	}, EntityContext{})
	require.NoError(t, err)
	assert.Equal(t, "stopped", value)
}

func TestCommandHasNoReadSide(t *testing.T) {
	resolver := newTestResolver(t)

	value, err := resolver.ResolveValue(mapping.VirtualPropertyDefinition{
		Property: model.PropertyGeneric,
		Type:     mapping.VirtualCommand,
		DataType: model.DataTypeEnum,
	}, EntityContext{State: "whatever"})
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestThresholdDerivationOrder(t *testing.T) {
	resolver := newTestResolver(t)

	def := mapping.VirtualPropertyDefinition{
		Property: model.PropertyStatus,
		Type:     mapping.VirtualDerived,
		DataType: model.DataTypeEnum,
		Rule: &mapping.DerivationRule{
			Type: mapping.DerivationThreshold,
			Ranges: []mapping.ThresholdRange{
				{Min: floatPtr(0), Max: floatPtr(10), Result: "critical"},
				{Min: floatPtr(0), Max: floatPtr(25), Result: "low"},
				{Min: floatPtr(0), Max: floatPtr(100), Result: "normal"},
			},
			Default: "unknown",
		},
	}

	tests := []struct {
		state    string
		expected any
	}{
		{"5", "critical"},
		{"10", "critical"}, // first declared range wins on overlap
		{"20", "low"},
		{"80", "normal"},
		{"150", "unknown"},
		{"not-a-number", "unknown"},
	}

	for _, tc := range tests {
		value, err := resolver.ResolveValue(def, EntityContext{State: tc.state})
		require.NoErrorf(t, err, "state %q", tc.state)
		assert.Equalf(t, tc.expected, value, "state %q", tc.state)
	}
}

func TestDeviceClassMapDerivation(t *testing.T) {
	resolver := newTestResolver(t)

	def := mapping.VirtualPropertyDefinition{
		Property:   model.PropertyStatus,
		Type:       mapping.VirtualDerived,
		DataType:   model.DataTypeEnum,
		Derivation: "sensor_kind",
	}

	value, err := resolver.ResolveValue(def, EntityContext{DeviceClass: "motion"})
	require.NoError(t, err)
	assert.Equal(t, "security", value)

	value, err = resolver.ResolveValue(def, EntityContext{DeviceClass: "sound"})
	require.NoError(t, err)
	assert.Equal(t, "other", value)
}

func TestUnknownDerivationName(t *testing.T) {
	resolver := newTestResolver(t)

	_, err := resolver.ResolveValue(mapping.VirtualPropertyDefinition{
		Property:   model.PropertyStatus,
		Type:       mapping.VirtualDerived,
		DataType:   model.DataTypeEnum,
		Derivation: "does_not_exist",
	}, EntityContext{})
	assert.Error(t, err)
}

func TestMissingProperties(t *testing.T) {
	resolver := newTestResolver(t)

	missing := resolver.MissingProperties(
		model.ChannelWindowCover,
		map[model.PropertyCategory]bool{model.PropertyPosition: true},
		[]model.PropertyCategory{model.PropertyPosition, model.PropertyStatus},
	)

	require.Len(t, missing, 1)
	assert.Equal(t, model.PropertyStatus, missing[0].Property)
}

func TestMissingPropertiesAllSatisfied(t *testing.T) {
	resolver := newTestResolver(t)

	missing := resolver.MissingProperties(
		model.ChannelWindowCover,
		map[model.PropertyCategory]bool{model.PropertyStatus: true},
		[]model.PropertyCategory{model.PropertyStatus},
	)
	assert.Empty(t, missing)
}

func TestServiceCallForCommand(t *testing.T) {
	resolver := newTestResolver(t)

	def := mapping.VirtualPropertyDefinition{
		Property: model.PropertyGeneric,
		Type:     mapping.VirtualCommand,
		DataType: model.DataTypeEnum,
		Commands: &mapping.CommandMapping{
			Services: map[string]mapping.ServiceCall{
				"open": {Domain: "cover", Service: "open_cover"},
			},
		},
	}

	call, ok := resolver.ServiceCallForCommand(def, "open")
	require.True(t, ok)
	assert.Equal(t, "cover", call.Domain)
	assert.Equal(t, "open_cover", call.Service)

	// Unmapped command values are a no-op, not an error.
	_, ok = resolver.ServiceCallForCommand(def, "explode")
	assert.False(t, ok)
}

func TestCommandVirtualPermissionsDefaultWriteOnly(t *testing.T) {
	def := mapping.VirtualPropertyDefinition{
		Property: model.PropertyGeneric,
		Type:     mapping.VirtualCommand,
		DataType: model.DataTypeEnum,
	}
	assert.Equal(t, []model.Permission{model.PermissionWrite}, def.EffectivePermissions())

	static := mapping.VirtualPropertyDefinition{
		Property: model.PropertyStatus,
		Type:     mapping.VirtualStatic,
		DataType: model.DataTypeEnum,
	}
	assert.Equal(t, []model.Permission{model.PermissionRead}, static.EffectivePermissions())
}
