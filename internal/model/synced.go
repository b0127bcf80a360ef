package model

import (
	"time"
)

// SyncedNode mirrors a node whose telemetry originates from a peer system.
// Kept in a separate table so foreign identifiers never collide with local
// node ids.
type SyncedNode struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	TenantID     uint       `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_synced_nodes_tenant_source"`
	SourceNodeID string     `json:"source_node_id" gorm:"type:varchar(100);not null;uniqueIndex:idx_synced_nodes_tenant_source"`
	Name         string     `json:"name" gorm:"type:varchar(255)"`
	LastSeen     *time.Time `json:"last_seen"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// SyncedReading mirrors a reading received from a peer system
type SyncedReading struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	TenantID        uint      `json:"tenant_id" gorm:"index;not null"`
	SyncedNodeID    uint      `json:"synced_node_id" gorm:"index;not null"`
	MeasurementType string    `json:"measurement_type" gorm:"type:varchar(50);not null"`
	RawValue        float64   `json:"raw_value" gorm:"not null"`
	Value           float64   `json:"value" gorm:"not null"`
	Unit            string    `json:"unit" gorm:"type:varchar(20)"`
	Timestamp       time.Time `json:"timestamp" gorm:"index;not null"`
	CreatedAt       time.Time `json:"created_at"`

	SyncedNode *SyncedNode `json:"synced_node,omitempty" gorm:"foreignKey:SyncedNodeID"`
}
