package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"github.com/devicebridge/ha-connector-go/internal/model"
)

// Store is the persistence collaborator of the connector. The connector only
// reads and writes values; record lifecycle belongs to discovery and the
// operator. Retry policy is the caller's concern.
type Store interface {
	FindDevicesByIntegrationType(ctx context.Context, integrationType string) ([]model.Device, error)
	FindChannelsByDevice(ctx context.Context, deviceID, integrationType string) ([]model.Channel, error)
	FindPropertiesByChannels(ctx context.Context, channelIDs []string, integrationType string) ([]model.Property, error)
	UpdatePropertyValue(ctx context.Context, id string, value any) error

	CreateDevice(ctx context.Context, device *model.Device) error
	CreateChannel(ctx context.Context, channel *model.Channel) error
	CreateProperty(ctx context.Context, property *model.Property) error
	DeleteDevice(ctx context.Context, id string) error

	// OnChange registers a callback fired after any device, channel or
	// property record changes. Used to invalidate lookup caches.
	OnChange(fn func())
}

// SQLiteStore implements Store on sqlx/sqlite.
type SQLiteStore struct {
	db     *sqlx.DB
	logger *logrus.Logger

	mu        sync.Mutex
	listeners []func()
}

func NewSQLiteStore(db *sqlx.DB, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, logger: logger}
}

func (s *SQLiteStore) OnChange(fn func()) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

func (s *SQLiteStore) notifyChange() {
	s.mu.Lock()
	listeners := make([]func(), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn()
	}
}

type deviceRow struct {
	ID              string `db:"id"`
	Identifier      string `db:"identifier"`
	Name            string `db:"name"`
	Category        string `db:"category"`
	IntegrationType string `db:"integration_type"`
}

type channelRow struct {
	ID         string `db:"id"`
	DeviceID   string `db:"device_id"`
	Category   string `db:"category"`
	Identifier string `db:"identifier"`
	Name       string `db:"name"`
}

type propertyRow struct {
	ID              string         `db:"id"`
	ChannelID       string         `db:"channel_id"`
	ChannelCategory string         `db:"channel_category"`
	Category        string         `db:"category"`
	DataType        string         `db:"data_type"`
	Permissions     string         `db:"permissions"`
	EntityID        string         `db:"entity_id"`
	Attribute       string         `db:"attribute"`
	ArrayIndex      sql.NullInt64  `db:"array_index"`
	Transformer     sql.NullString `db:"transformer"`
	Unit            sql.NullString `db:"unit"`
	Format          sql.NullString `db:"format"`
	Value           sql.NullString `db:"value"`
}

func (r propertyRow) toModel() (model.Property, error) {
	p := model.Property{
		ID:              r.ID,
		ChannelID:       r.ChannelID,
		ChannelCategory: model.ChannelCategory(r.ChannelCategory),
		Category:        model.PropertyCategory(r.Category),
		DataType:        model.DataType(r.DataType),
		EntityID:        r.EntityID,
		Attribute:       r.Attribute,
		Transformer:     r.Transformer.String,
		Unit:            r.Unit.String,
		Format:          r.Format.String,
	}

	for _, perm := range strings.Split(r.Permissions, ",") {
		if perm != "" {
			p.Permissions = append(p.Permissions, model.Permission(perm))
		}
	}
	if r.ArrayIndex.Valid {
		index := int(r.ArrayIndex.Int64)
		p.ArrayIndex = &index
	}
	if r.Value.Valid && r.Value.String != "" {
		if err := json.Unmarshal([]byte(r.Value.String), &p.Value); err != nil {
			return p, fmt.Errorf("failed to decode value for property %s: %w", r.ID, err)
		}
	}
	return p, nil
}

func permissionsColumn(perms []model.Permission) string {
	parts := make([]string, len(perms))
	for i, perm := range perms {
		parts[i] = string(perm)
	}
	return strings.Join(parts, ",")
}

func (s *SQLiteStore) FindDevicesByIntegrationType(ctx context.Context, integrationType string) ([]model.Device, error) {
	var rows []deviceRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, identifier, name, category, integration_type
		 FROM devices WHERE integration_type = ?`, integrationType)
	if err != nil {
		return nil, fmt.Errorf("failed to query devices: %w", err)
	}

	devices := make([]model.Device, len(rows))
	for i, row := range rows {
		devices[i] = model.Device{
			ID:              row.ID,
			Identifier:      row.Identifier,
			Name:            row.Name,
			Category:        model.DeviceCategory(row.Category),
			IntegrationType: row.IntegrationType,
		}
	}
	return devices, nil
}

func (s *SQLiteStore) FindChannelsByDevice(ctx context.Context, deviceID, integrationType string) ([]model.Channel, error) {
	var rows []channelRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT c.id, c.device_id, c.category, c.identifier, c.name
		 FROM channels c
		 JOIN devices d ON d.id = c.device_id
		 WHERE c.device_id = ? AND d.integration_type = ?`, deviceID, integrationType)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels for device %s: %w", deviceID, err)
	}

	channels := make([]model.Channel, len(rows))
	for i, row := range rows {
		channels[i] = model.Channel{
			ID:         row.ID,
			DeviceID:   row.DeviceID,
			Category:   model.ChannelCategory(row.Category),
			Identifier: row.Identifier,
			Name:       row.Name,
		}
	}
	return channels, nil
}

func (s *SQLiteStore) FindPropertiesByChannels(ctx context.Context, channelIDs []string, integrationType string) ([]model.Property, error) {
	if len(channelIDs) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT p.id, p.channel_id, c.category AS channel_category, p.category, p.data_type,
		        p.permissions, p.entity_id, p.attribute, p.array_index, p.transformer,
		        p.unit, p.format, p.value
		 FROM properties p
		 JOIN channels c ON c.id = p.channel_id
		 JOIN devices d ON d.id = c.device_id
		 WHERE p.channel_id IN (?) AND d.integration_type = ?`, channelIDs, integrationType)
	if err != nil {
		return nil, fmt.Errorf("failed to build properties query: %w", err)
	}

	var rows []propertyRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query properties: %w", err)
	}

	properties := make([]model.Property, 0, len(rows))
	for _, row := range rows {
		p, err := row.toModel()
		if err != nil {
			s.logger.WithError(err).WithField("property", row.ID).Warn("Skipping undecodable property")
			continue
		}
		properties = append(properties, p)
	}
	return properties, nil
}

func (s *SQLiteStore) UpdatePropertyValue(ctx context.Context, id string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for property %s: %w", id, err)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE properties SET value = ?, updated_at = ? WHERE id = ?`,
		string(encoded), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update property %s: %w", id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("property %s not found", id)
	}

	s.notifyChange()
	return nil
}

func (s *SQLiteStore) CreateDevice(ctx context.Context, device *model.Device) error {
	if device.ID == "" {
		device.ID = uuid.NewString()
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO devices (id, identifier, name, category, integration_type, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.Identifier, device.Name, string(device.Category), device.IntegrationType, now, now)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	s.notifyChange()
	return nil
}

func (s *SQLiteStore) CreateChannel(ctx context.Context, channel *model.Channel) error {
	if channel.ID == "" {
		channel.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO channels (id, device_id, category, identifier, name)
		 VALUES (?, ?, ?, ?, ?)`,
		channel.ID, channel.DeviceID, string(channel.Category), channel.Identifier, channel.Name)
	if err != nil {
		return fmt.Errorf("failed to create channel: %w", err)
	}

	s.notifyChange()
	return nil
}

func (s *SQLiteStore) CreateProperty(ctx context.Context, property *model.Property) error {
	if property.ID == "" {
		property.ID = uuid.NewString()
	}

	var arrayIndex sql.NullInt64
	if property.ArrayIndex != nil {
		arrayIndex = sql.NullInt64{Int64: int64(*property.ArrayIndex), Valid: true}
	}
	var encodedValue sql.NullString
	if property.Value != nil {
		encoded, err := json.Marshal(property.Value)
		if err != nil {
			return fmt.Errorf("failed to encode property value: %w", err)
		}
		encodedValue = sql.NullString{String: string(encoded), Valid: true}
	}

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO properties (id, channel_id, category, data_type, permissions, entity_id,
		                         attribute, array_index, transformer, unit, format, value, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		property.ID, property.ChannelID, string(property.Category), string(property.DataType),
		permissionsColumn(property.Permissions), property.EntityID, property.Attribute,
		arrayIndex, property.Transformer, property.Unit, property.Format, encodedValue, now)
	if err != nil {
		return fmt.Errorf("failed to create property: %w", err)
	}

	s.notifyChange()
	return nil
}

func (s *SQLiteStore) DeleteDevice(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete device %s: %w", id, err)
	}

	s.notifyChange()
	return nil
}
