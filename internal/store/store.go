package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fleetquery.dev/fleetquery/internal/catalog"
	"fleetquery.dev/fleetquery/internal/engine"
	qerrors "fleetquery.dev/fleetquery/internal/errors"
	"fleetquery.dev/fleetquery/internal/semantic"
)

// Store implements the engine's DeviceStore and MeasurementStore interfaces
// and the catalog's Store interface over PostgreSQL.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Interface guards.
var (
	_ engine.DeviceStore      = (*Store)(nil)
	_ engine.MeasurementStore = (*Store)(nil)
	_ catalog.Store           = (*Store)(nil)
)

// New creates a Store.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}, nil
}

// ListDevices returns every device in a workspace with its attributes, all
// read in one query so a caller sees a consistent snapshot.
func (s *Store) ListDevices(ctx context.Context, workspaceID string) ([]engine.Device, error) {
	var ws Workspace
	if err := s.db.WithContext(ctx).First(&ws, "id = ?", workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, qerrors.NotFound("workspace", workspaceID)
		}
		return nil, qerrors.Upstream("get workspace", err)
	}

	var devices []Device
	if err := s.db.WithContext(ctx).Where("workspace_id = ?", workspaceID).Find(&devices).Error; err != nil {
		return nil, qerrors.Upstream("list devices", err)
	}

	out := make([]engine.Device, len(devices))
	for i, d := range devices {
		out[i] = toEngineDevice(d)
	}
	return out, nil
}

// GetDevice returns one device by id.
func (s *Store) GetDevice(ctx context.Context, deviceID string) (engine.Device, error) {
	var d Device
	if err := s.db.WithContext(ctx).First(&d, "id = ?", deviceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return engine.Device{}, qerrors.NotFound("device", deviceID)
		}
		return engine.Device{}, qerrors.Upstream("get device", err)
	}
	return toEngineDevice(d), nil
}

// CurrentValues returns the latest value for each of the named fields of a
// device. Fields without a recorded value are simply absent from the result.
func (s *Store) CurrentValues(ctx context.Context, deviceID string, fieldNames []string) (map[string]engine.Measurement, error) {
	if len(fieldNames) == 0 {
		return map[string]engine.Measurement{}, nil
	}

	var rows []CurrentMeasurement
	err := s.db.WithContext(ctx).
		Where("device_id = ? AND field_name IN ?", deviceID, fieldNames).
		Find(&rows).Error
	if err != nil {
		return nil, qerrors.Upstream("current values", err)
	}

	out := make(map[string]engine.Measurement, len(rows))
	for _, r := range rows {
		out[r.FieldName] = engine.Measurement{Value: r.Value, RecordedAt: r.RecordedAt}
	}
	return out, nil
}

// ProductFields returns a product's ordered field declarations.
func (s *Store) ProductFields(ctx context.Context, productID string) ([]catalog.Field, error) {
	var p Product
	if err := s.db.WithContext(ctx).First(&p, "id = ?", productID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, qerrors.NotFound("product", productID)
		}
		return nil, qerrors.Upstream("get product", err)
	}

	var decls []FieldDeclaration
	err := s.db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("position ASC").
		Find(&decls).Error
	if err != nil {
		return nil, qerrors.Upstream("product fields", err)
	}

	fields := make([]catalog.Field, len(decls))
	for i, d := range decls {
		fields[i] = catalog.Field{
			Name:     d.Name,
			Label:    d.Label,
			Unit:     d.Unit,
			Type:     catalog.ValueType(d.ValueType),
			Semantic: semantic.Semantic(d.Semantic),
		}
	}
	return fields, nil
}

// UpsertMeasurement writes the latest value for one (device, field) pair.
// Used by the ingestion service.
func (s *Store) UpsertMeasurement(ctx context.Context, deviceID, fieldName string, value float64, recordedAt time.Time) error {
	m := CurrentMeasurement{
		DeviceID:   deviceID,
		FieldName:  fieldName,
		Value:      value,
		RecordedAt: recordedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}, {Name: "field_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "recorded_at", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return qerrors.Upstream("upsert measurement", err)
	}
	return nil
}

// TouchDevice marks a device online and bumps its last-heard timestamp.
func (s *Store) TouchDevice(ctx context.Context, deviceID string, heardAt time.Time) error {
	result := s.db.WithContext(ctx).Model(&Device{}).
		Where("id = ?", deviceID).
		Updates(map[string]any{"online": true, "last_heard": heardAt})
	if result.Error != nil {
		return qerrors.Upstream("touch device", result.Error)
	}
	if result.RowsAffected == 0 {
		return qerrors.NotFound("device", deviceID)
	}
	return nil
}

// CreateWorkspace persists a workspace. Used by provisioning and the
// simulator's seeding path.
func (s *Store) CreateWorkspace(ctx context.Context, ws *Workspace) error {
	if err := s.db.WithContext(ctx).Create(ws).Error; err != nil {
		return qerrors.Upstream("create workspace", err)
	}
	return nil
}

// CreateProduct persists a product with its field declarations.
func (s *Store) CreateProduct(ctx context.Context, p *Product) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return qerrors.Upstream("create product", err)
	}
	return nil
}

// CreateDevice persists a device.
func (s *Store) CreateDevice(ctx context.Context, d *Device) error {
	if err := s.db.WithContext(ctx).Create(d).Error; err != nil {
		return qerrors.Upstream("create device", err)
	}
	return nil
}

func toEngineDevice(d Device) engine.Device {
	return engine.Device{
		ID:        d.ID,
		Name:      d.Name,
		ProductID: d.ProductID,
		Online:    d.Online,
		LastHeard: d.LastHeard,
		Tags:      d.Tags,
	}
}
