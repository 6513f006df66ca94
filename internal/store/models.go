// Package store persists the device fleet reference data and current
// measurement values in PostgreSQL, and exposes them through the narrow read
// interfaces the query engine consumes.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// TagList stores a device's free-form tags as a JSONB column.
type TagList []string

// Value implements driver.Valuer.
func (t TagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tags: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (t *TagList) Scan(src any) error {
	if src == nil {
		*t = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported tag column type %T", src)
	}

	return json.Unmarshal(data, t)
}

// Workspace owns a set of devices.
type Workspace struct {
	ID        string    `gorm:"primaryKey"`
	Name      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Workspace model.
func (Workspace) TableName() string {
	return "workspaces"
}

// Product is a device type template shared by many devices. Read-only
// reference data from the engine's perspective.
type Product struct {
	ID        string             `gorm:"primaryKey"`
	Name      string             `gorm:"not null"`
	CreatedAt time.Time          `gorm:"autoCreateTime"`
	UpdatedAt time.Time          `gorm:"autoUpdateTime"`
	Fields    []FieldDeclaration `gorm:"foreignKey:ProductID;references:ID"`
}

// TableName specifies the table name for Product model.
func (Product) TableName() string {
	return "products"
}

// FieldDeclaration describes one raw data channel a product exposes. The
// field name is stable per product version; the semantic assignment is
// editable and not guaranteed stable between queries.
type FieldDeclaration struct {
	ID        uint      `gorm:"primaryKey"`
	ProductID string    `gorm:"index:idx_product_position;uniqueIndex:idx_product_field;not null"`
	Position  int       `gorm:"index:idx_product_position;not null"`
	Name      string    `gorm:"uniqueIndex:idx_product_field;not null"`
	Label     string    `gorm:"not null"`
	Unit      string    `gorm:"not null"`
	ValueType string    `gorm:"not null"`
	Semantic  string    // empty when the field carries no semantic
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for FieldDeclaration model.
func (FieldDeclaration) TableName() string {
	return "field_declarations"
}

// Device is a managed IoT endpoint. Created on provisioning, mutated by
// telemetry ingestion and tag edits; never deleted by this service.
type Device struct {
	ID          string    `gorm:"primaryKey"`
	WorkspaceID string    `gorm:"index:idx_workspace;not null"`
	ProductID   string    `gorm:"not null"`
	Name        string    `gorm:"not null"`
	Online      bool      `gorm:"not null"`
	LastHeard   time.Time `gorm:"index:idx_last_heard"`
	Tags        TagList   `gorm:"type:jsonb"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for Device model.
func (Device) TableName() string {
	return "devices"
}

// CurrentMeasurement is the latest raw value recorded for one
// (device, field) pair.
type CurrentMeasurement struct {
	ID         uint      `gorm:"primaryKey"`
	DeviceID   string    `gorm:"uniqueIndex:idx_device_field;not null"`
	FieldName  string    `gorm:"uniqueIndex:idx_device_field;not null"`
	Value      float64   `gorm:"not null"`
	RecordedAt time.Time `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime"`
}

// TableName specifies the table name for CurrentMeasurement model.
func (CurrentMeasurement) TableName() string {
	return "current_measurements"
}
