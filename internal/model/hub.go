package model

import (
	"time"
)

// Hub represents the physical gateway owning a set of nodes.
// Exactly one hub exists per tenant; the unique index on TenantID enforces it.
type Hub struct {
	ID        uint       `json:"id" gorm:"primaryKey"`
	TenantID  uint       `json:"tenant_id" gorm:"uniqueIndex;not null"`
	HubID     string     `json:"hub_id" gorm:"type:varchar(100);not null;index"`
	Name      string     `json:"name" gorm:"type:varchar(255);not null"`
	IsOnline  bool       `json:"is_online" gorm:"default:false"`
	LastSeen  *time.Time `json:"last_seen"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
