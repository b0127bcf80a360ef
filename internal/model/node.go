package model

import (
	"time"
)

// Protocol identifies how a node communicates with the hub
type Protocol string

const (
	ProtocolWLAN Protocol = "wlan"
	ProtocolLoRa Protocol = "lora"
	ProtocolBLE  Protocol = "ble"
)

// StorageMode controls where a node keeps its readings
type StorageMode string

const (
	StorageModeRemoteOnly     StorageMode = "remote_only"
	StorageModeLocalAndRemote StorageMode = "local_and_remote"
	StorageModeLocalOnly      StorageMode = "local_only"
	StorageModeLocalAutoSync  StorageMode = "local_auto_sync"
)

// Valid reports whether the storage mode is one of the known variants
func (m StorageMode) Valid() bool {
	switch m {
	case StorageModeRemoteOnly, StorageModeLocalAndRemote, StorageModeLocalOnly, StorageModeLocalAutoSync:
		return true
	}
	return false
}

// Node represents a field device reporting measurements.
// NodeID is the device's external identifier, unique within its hub.
type Node struct {
	ID               uint        `json:"id" gorm:"primaryKey"`
	HubID            uint        `json:"hub_id" gorm:"not null;uniqueIndex:idx_nodes_hub_node_id"`
	NodeID           string      `json:"node_id" gorm:"type:varchar(100);not null;uniqueIndex:idx_nodes_hub_node_id"`
	Name             string      `json:"name" gorm:"type:varchar(255);not null"`
	Protocol         Protocol    `json:"protocol" gorm:"type:varchar(20);default:'wlan'"`
	LocationName     *string     `json:"location_name,omitempty" gorm:"type:varchar(255)"`
	Latitude         *float64    `json:"latitude,omitempty"`
	Longitude        *float64    `json:"longitude,omitempty"`
	FirmwareVersion  *string     `json:"firmware_version,omitempty" gorm:"type:varchar(50)"`
	BatteryLevel     *int        `json:"battery_level,omitempty"`
	StorageMode      StorageMode `json:"storage_mode" gorm:"type:varchar(20);default:'remote_only'"`
	PendingSyncCount int         `json:"pending_sync_count" gorm:"default:0"`
	LastSyncAt       *time.Time  `json:"last_sync_at"`
	LastSyncError    *string     `json:"last_sync_error,omitempty" gorm:"type:text"`
	IsOnline         bool        `json:"is_online" gorm:"default:false"`
	LastSeen         *time.Time  `json:"last_seen"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`

	Hub *Hub `json:"hub,omitempty" gorm:"belongsTo;foreignKey:HubID;references:ID"`
}
