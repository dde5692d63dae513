package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicebridge/ha-connector-go/internal/config"
	"github.com/devicebridge/ha-connector-go/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	db, err := Open(config.DatabaseConfig{
		Path:           filepath.Join(t.TempDir(), "test.db"),
		MaxConnections: 2,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(db, "../../migrations"))
	return NewSQLiteStore(db, logger)
}

func seedDevice(t *testing.T, store *SQLiteStore) (model.Device, model.Channel, model.Property) {
	t.Helper()
	ctx := context.Background()

	device := model.Device{
		Identifier:      "ha-dev-1",
		Name:            "Kitchen Light",
		Category:        model.DeviceLighting,
		IntegrationType: model.IntegrationHomeAssistant,
	}
	require.NoError(t, store.CreateDevice(ctx, &device))

	channel := model.Channel{
		DeviceID:   device.ID,
		Category:   model.ChannelLight,
		Identifier: "light",
		Name:       "Light",
	}
	require.NoError(t, store.CreateChannel(ctx, &channel))

	property := model.Property{
		ChannelID:   channel.ID,
		Category:    model.PropertyOn,
		DataType:    model.DataTypeBool,
		Permissions: []model.Permission{model.PermissionRW},
		EntityID:    "light.kitchen",
		Attribute:   model.AttributeState,
	}
	require.NoError(t, store.CreateProperty(ctx, &property))

	return device, channel, property
}

func TestFindDevicesByIntegrationType(t *testing.T) {
	store := newTestStore(t)
	device, _, _ := seedDevice(t, store)

	devices, err := store.FindDevicesByIntegrationType(context.Background(), model.IntegrationHomeAssistant)
	require.NoError(t, err)
	require.Len(t, devices, 1)
	assert.Equal(t, device.ID, devices[0].ID)
	assert.Equal(t, model.DeviceLighting, devices[0].Category)

	devices, err = store.FindDevicesByIntegrationType(context.Background(), "zigbee")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestFindPropertiesCarriesChannelCategory(t *testing.T) {
	store := newTestStore(t)
	_, channel, property := seedDevice(t, store)

	properties, err := store.FindPropertiesByChannels(context.Background(),
		[]string{channel.ID}, model.IntegrationHomeAssistant)
	require.NoError(t, err)
	require.Len(t, properties, 1)

	assert.Equal(t, property.ID, properties[0].ID)
	assert.Equal(t, model.ChannelLight, properties[0].ChannelCategory)
	assert.Equal(t, []model.Permission{model.PermissionRW}, properties[0].Permissions)
}

func TestUpdatePropertyValueRoundTrip(t *testing.T) {
	store := newTestStore(t)
	_, channel, property := seedDevice(t, store)
	ctx := context.Background()

	require.NoError(t, store.UpdatePropertyValue(ctx, property.ID, true))

	properties, err := store.FindPropertiesByChannels(ctx, []string{channel.ID}, model.IntegrationHomeAssistant)
	require.NoError(t, err)
	require.Len(t, properties, 1)
	assert.Equal(t, true, properties[0].Value)

	require.NoError(t, store.UpdatePropertyValue(ctx, property.ID, 42.5))
	properties, err = store.FindPropertiesByChannels(ctx, []string{channel.ID}, model.IntegrationHomeAssistant)
	require.NoError(t, err)
	assert.Equal(t, 42.5, properties[0].Value)
}

func TestUpdateUnknownPropertyFails(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdatePropertyValue(context.Background(), "nope", 1)
	assert.Error(t, err)
}

func TestChangeNotifications(t *testing.T) {
	store := newTestStore(t)

	changes := 0
	store.OnChange(func() { changes++ })

	_, _, property := seedDevice(t, store)
	assert.Equal(t, 3, changes) // device, channel, property

	require.NoError(t, store.UpdatePropertyValue(context.Background(), property.ID, false))
	assert.Equal(t, 4, changes)
}

func TestDeleteDeviceCascades(t *testing.T) {
	store := newTestStore(t)
	device, channel, _ := seedDevice(t, store)
	ctx := context.Background()

	require.NoError(t, store.DeleteDevice(ctx, device.ID))

	devices, err := store.FindDevicesByIntegrationType(ctx, model.IntegrationHomeAssistant)
	require.NoError(t, err)
	assert.Empty(t, devices)

	properties, err := store.FindPropertiesByChannels(ctx, []string{channel.ID}, model.IntegrationHomeAssistant)
	require.NoError(t, err)
	assert.Empty(t, properties)
}

func TestFindPropertiesEmptyChannelList(t *testing.T) {
	store := newTestStore(t)

	properties, err := store.FindPropertiesByChannels(context.Background(), nil, model.IntegrationHomeAssistant)
	require.NoError(t, err)
	assert.Nil(t, properties)
}
