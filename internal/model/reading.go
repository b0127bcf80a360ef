package model

import (
	"time"
)

// Reading is one persisted measurement fact. RawValue is what the device
// reported; Value and Unit are derived exactly once at write time from the
// binding resolved at that moment. Rows are append-only; only IsSynced is
// ever flipped afterwards.
type Reading struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	TenantID        uint      `json:"tenant_id" gorm:"index;not null"`
	NodeID          uint      `json:"node_id" gorm:"index;not null;uniqueIndex:idx_readings_node_client_ref"`
	AssignmentID    *uint     `json:"assignment_id,omitempty" gorm:"index"`
	MeasurementType string    `json:"measurement_type" gorm:"type:varchar(50);not null;index"`
	RawValue        float64   `json:"raw_value" gorm:"not null"`
	Value           float64   `json:"value" gorm:"not null"`
	Unit            string    `json:"unit" gorm:"type:varchar(20)"`
	Timestamp       time.Time `json:"timestamp" gorm:"index;not null"`
	IsSynced        bool      `json:"is_synced" gorm:"default:false;index"`

	// ClientRef is the device-supplied identifier of a buffered reading.
	// The unique index on (node_id, client_ref) makes offline-batch replay
	// idempotent; directly ingested readings carry no ref.
	ClientRef *string `json:"client_ref,omitempty" gorm:"type:varchar(100);uniqueIndex:idx_readings_node_client_ref"`

	CreatedAt time.Time `json:"created_at"`

	Node       *Node                 `json:"node,omitempty" gorm:"belongsTo;foreignKey:NodeID;references:ID"`
	Assignment *NodeSensorAssignment `json:"assignment,omitempty" gorm:"foreignKey:AssignmentID"`
}
