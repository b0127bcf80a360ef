package store

import (
	"context"
	"errors"
	"time"

	"hub-service/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PeerReading is one measurement mirrored from a peer installation
type PeerReading struct {
	MeasurementType string    `json:"measurementType"`
	RawValue        float64   `json:"rawValue"`
	Value           float64   `json:"value"`
	Unit            string    `json:"unit"`
	Timestamp       time.Time `json:"timestamp"`
}

// PeerStore persists telemetry mirrored from peer systems. Mirrored rows stay
// in their own tables so foreign identifiers never collide with local nodes.
type PeerStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewPeerStore creates a peer mirror store
func NewPeerStore(db *gorm.DB, log *zap.Logger) *PeerStore {
	return &PeerStore{db: db, log: log}
}

// Mirror upserts the peer node and appends its readings. The node's last-seen
// marker moves to the newest mirrored timestamp.
func (s *PeerStore) Mirror(ctx context.Context, tenantID uint, sourceNodeID, name string, readings []PeerReading) (*model.SyncedNode, error) {
	db := s.db.WithContext(ctx)

	var node model.SyncedNode
	err := db.Where("tenant_id = ? AND source_node_id = ?", tenantID, sourceNodeID).First(&node).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		node = model.SyncedNode{TenantID: tenantID, SourceNodeID: sourceNodeID, Name: name}
		if err := db.Create(&node).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				// Concurrent mirror of the same peer; take the winner's row
				if err := db.Where("tenant_id = ? AND source_node_id = ?", tenantID, sourceNodeID).First(&node).Error; err != nil {
					return nil, err
				}
			} else {
				return nil, err
			}
		}
	} else if err != nil {
		return nil, err
	}

	var lastSeen time.Time
	rows := make([]model.SyncedReading, 0, len(readings))
	for _, reading := range readings {
		rows = append(rows, model.SyncedReading{
			TenantID:        tenantID,
			SyncedNodeID:    node.ID,
			MeasurementType: reading.MeasurementType,
			RawValue:        reading.RawValue,
			Value:           reading.Value,
			Unit:            reading.Unit,
			Timestamp:       reading.Timestamp,
		})
		if reading.Timestamp.After(lastSeen) {
			lastSeen = reading.Timestamp
		}
	}
	if len(rows) > 0 {
		if err := db.Create(&rows).Error; err != nil {
			return nil, err
		}
	}

	updates := map[string]interface{}{}
	if name != "" && name != node.Name {
		updates["name"] = name
	}
	if !lastSeen.IsZero() {
		updates["last_seen"] = lastSeen
	}
	if len(updates) > 0 {
		if err := db.Model(&node).Updates(updates).Error; err != nil {
			return nil, err
		}
	}

	s.log.Info("peer telemetry mirrored",
		zap.String("source_node_id", sourceNodeID),
		zap.Int("readings", len(rows)))

	return &node, nil
}

// Nodes returns the tenant's mirrored peer nodes
func (s *PeerStore) Nodes(ctx context.Context, tenantID uint) ([]model.SyncedNode, error) {
	var nodes []model.SyncedNode
	err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("source_node_id ASC").
		Find(&nodes).Error
	return nodes, err
}

// Readings returns the mirrored readings of one peer node, newest first
func (s *PeerStore) Readings(ctx context.Context, tenantID, syncedNodeID uint, limit int) ([]model.SyncedReading, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	var readings []model.SyncedReading
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND synced_node_id = ?", tenantID, syncedNodeID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&readings).Error
	return readings, err
}
