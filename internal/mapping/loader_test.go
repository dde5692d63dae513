package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicebridge/ha-connector-go/internal/model"
	"github.com/devicebridge/ha-connector-go/internal/transformers"
)

func newTestService(t *testing.T, userDir string) *Service {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	registry := transformers.NewRegistry(logger, nil)
	service, err := NewService(userDir, registry, logger)
	require.NoError(t, err)
	require.NoError(t, service.LoadAll())
	return service
}

func writeUserFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestBuiltinDocumentsLoad(t *testing.T) {
	service := newTestService(t, "")

	assert.Empty(t, service.LoadErrors())
	assert.NotNil(t, service.FindMatchingMapping("light", "", "light.any"))
	assert.NotNil(t, service.FindMatchingMapping("sensor", "temperature", "sensor.kitchen"))
}

func TestPriorityAndFallbackResolution(t *testing.T) {
	dir := t.TempDir()
	writeUserFile(t, dir, "lights.yaml", `
mappings:
  - name: dimmer_rule
    domain: light
    device_class: dimmer
    priority: 60
    channel:
      category: light
    properties:
      - attribute: state
        property: "on"
  - name: light_any
    domain: light
    priority: 50
    channel:
      category: light
    properties:
      - attribute: state
        property: "on"
`)
	service := newTestService(t, dir)

	rule := service.FindMatchingMapping("light", "dimmer", "")
	require.NotNil(t, rule)
	assert.Equal(t, "dimmer_rule", rule.Name)

	rule = service.FindMatchingMapping("light", "unknown_class", "")
	require.NotNil(t, rule)
	assert.Equal(t, "light_any", rule.Name)

	assert.Nil(t, service.FindMatchingMapping("camera", "", ""))
}

func TestEntityIDContainsPrecedence(t *testing.T) {
	dir := t.TempDir()
	writeUserFile(t, dir, "kitchen.yaml", `
mappings:
  - name: kitchen_light
    domain: light
    entity_id_contains: kitchen
    priority: 90
    channel:
      category: light
    properties:
      - attribute: state
        property: "on"
  - name: light_any
    domain: light
    priority: 10
    channel:
      category: light
    properties:
      - attribute: state
        property: "on"
`)
	service := newTestService(t, dir)

	rule := service.FindMatchingMapping("light", "", "light.kitchen_main")
	require.NotNil(t, rule)
	assert.Equal(t, "kitchen_light", rule.Name)

	// A non-matching entity id skips the contains rule entirely and falls
	// back to the domain's any-class rule.
	rule = service.FindMatchingMapping("light", "", "light.bedroom_main")
	require.NotNil(t, rule)
	assert.Equal(t, "light_any", rule.Name)
}

func TestDeviceClassSetFilter(t *testing.T) {
	service := newTestService(t, "")

	rule := service.FindMatchingMapping("binary_sensor", "window", "binary_sensor.hall")
	require.NotNil(t, rule)
	assert.Equal(t, "opening_sensor", rule.Name)

	rule = service.FindMatchingMapping("binary_sensor", "vibration", "binary_sensor.hall")
	require.NotNil(t, rule)
	assert.Equal(t, "binary_sensor_fallback", rule.Name)
}

func TestUserRulesOutrankBuiltin(t *testing.T) {
	dir := t.TempDir()
	// Lower declared priority than the built-in light_fallback rule; the
	// file priority still puts it first.
	writeUserFile(t, dir, "nested/override.yaml", `
mappings:
  - name: custom_light
    domain: light
    priority: 1
    channel:
      category: light
    properties:
      - attribute: state
        property: "on"
`)
	service := newTestService(t, dir)

	rule := service.FindMatchingMapping("light", "", "light.any")
	require.NotNil(t, rule)
	assert.Equal(t, "custom_light", rule.Name)
}

func TestInvalidFileContributesNothing(t *testing.T) {
	dir := t.TempDir()
	writeUserFile(t, dir, "broken.yaml", `
mappings:
  - name: missing_required_fields
    priority: 10
`)
	writeUserFile(t, dir, "good.yaml", `
mappings:
  - name: valve_rule
    domain: valve
    priority: 10
    channel:
      category: valve
    properties:
      - attribute: state
        property: "on"
`)
	service := newTestService(t, dir)

	require.Len(t, service.LoadErrors(), 1)
	assert.Contains(t, service.LoadErrors()[0].File, "broken.yaml")

	// The valid file in the same directory still loaded.
	assert.NotNil(t, service.FindMatchingMapping("valve", "", ""))
}

func TestUnparseableFileReported(t *testing.T) {
	dir := t.TempDir()
	writeUserFile(t, dir, "garbage.yaml", "mappings: [unclosed")

	service := newTestService(t, dir)
	require.NotEmpty(t, service.LoadErrors())
}

func TestDomainRoles(t *testing.T) {
	service := newTestService(t, "")

	assert.Equal(t, RolePrimary, service.DomainRole("light"))
	assert.True(t, service.IsPrimaryDomain("climate"))
	assert.True(t, service.IsStandaloneDomain("switch"))
	assert.Equal(t, RoleSecondary, service.DomainRole("never_heard_of_it"))
}

func TestNamedTransformersRegistered(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	registry := transformers.NewRegistry(logger, nil)

	service, err := NewService("", registry, logger)
	require.NoError(t, err)
	require.NoError(t, service.LoadAll())

	assert.Contains(t, registry.KnownNames(), "brightness_to_percent")

	out, err := registry.Get("brightness_to_percent").Read(255)
	require.NoError(t, err)
	assert.Equal(t, 100.0, out)
}

func TestDerivationsAndVirtualProperties(t *testing.T) {
	service := newTestService(t, "")

	rule, ok := service.Derivation("battery_state")
	require.True(t, ok)
	assert.Equal(t, DerivationThreshold, rule.Type)
	require.NotEmpty(t, rule.Ranges)

	definitions := service.VirtualProperties(model.ChannelWindowCover)
	require.NotEmpty(t, definitions)

	_, ok = service.Derivation("unknown")
	assert.False(t, ok)
}

func TestReloadIsIdempotent(t *testing.T) {
	service := newTestService(t, "")

	before := service.FindMatchingMapping("light", "", "light.any")
	require.NotNil(t, before)

	require.NoError(t, service.Reload())

	after := service.FindMatchingMapping("light", "", "light.any")
	require.NotNil(t, after)
	assert.Equal(t, before.Name, after.Name)
}
