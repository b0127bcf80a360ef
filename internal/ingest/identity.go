package ingest

import (
	"context"
	"errors"
	"strings"
	"time"

	"hub-service/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ResolveHub finds the hub for an inbound report and refreshes its presence.
// With an external id, the hub is looked up by (tenant, hub_id) and created
// when absent. Without one, the tenant's sole hub is used; a "default-hub" is
// created for tenants that have never provisioned one. First-contact races
// are settled by the unique index on tenant_id: the loser of a concurrent
// create retries as a lookup.
func (p *Pipeline) ResolveHub(ctx context.Context, tenantID uint, hubExternalID *string) (*model.Hub, error) {
	db := p.db.WithContext(ctx)
	now := time.Now().UTC()

	var hub model.Hub
	query := db.Where("tenant_id = ?", tenantID)
	if hubExternalID != nil {
		query = query.Where("hub_id = ?", *hubExternalID)
	}

	err := query.First(&hub).Error
	if err == nil {
		updates := map[string]interface{}{"last_seen": now, "is_online": true}
		if err := db.Model(&hub).Updates(updates).Error; err != nil {
			return nil, err
		}
		return &hub, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	externalID := "default-hub"
	if hubExternalID != nil {
		externalID = *hubExternalID
	}

	hub = model.Hub{
		TenantID: tenantID,
		HubID:    externalID,
		Name:     displayNameFromExternalID(externalID),
		IsOnline: true,
		LastSeen: &now,
	}

	if err := db.Create(&hub).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost a concurrent first-contact race; the winner's row is ours
			p.log.Debug("hub create lost race, retrying lookup",
				zap.Uint("tenant_id", tenantID),
				zap.String("hub_id", externalID))
			return p.lookupHub(ctx, tenantID, hubExternalID, now)
		}
		return nil, err
	}

	p.log.Info("hub auto-registered",
		zap.Uint("tenant_id", tenantID),
		zap.String("hub_id", hub.HubID),
		zap.String("name", hub.Name))

	return &hub, nil
}

func (p *Pipeline) lookupHub(ctx context.Context, tenantID uint, hubExternalID *string, now time.Time) (*model.Hub, error) {
	db := p.db.WithContext(ctx)

	var hub model.Hub
	query := db.Where("tenant_id = ?", tenantID)
	if hubExternalID != nil {
		query = query.Where("hub_id = ?", *hubExternalID)
	}
	if err := query.First(&hub).Error; err != nil {
		return nil, err
	}

	updates := map[string]interface{}{"last_seen": now, "is_online": true}
	if err := db.Model(&hub).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &hub, nil
}

// ResolveNode finds or auto-registers the node for an inbound report and
// refreshes its presence. The unique index on (hub_id, node_id) backs the
// create path; losing the race degrades to a lookup, never to an error.
func (p *Pipeline) ResolveNode(ctx context.Context, hub *model.Hub, nodeExternalID string) (*model.Node, error) {
	db := p.db.WithContext(ctx)
	now := time.Now().UTC()

	var node model.Node
	err := db.Where("hub_id = ? AND node_id = ?", hub.ID, nodeExternalID).First(&node).Error
	if err == nil {
		updates := map[string]interface{}{"last_seen": now, "is_online": true}
		if err := db.Model(&node).Updates(updates).Error; err != nil {
			return nil, err
		}
		return &node, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	node = model.Node{
		HubID:       hub.ID,
		NodeID:      nodeExternalID,
		Name:        displayNameFromExternalID(nodeExternalID),
		Protocol:    model.ProtocolWLAN,
		StorageMode: model.StorageModeRemoteOnly,
		IsOnline:    true,
		LastSeen:    &now,
	}

	if err := db.Create(&node).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			p.log.Debug("node create lost race, retrying lookup",
				zap.Uint("hub_id", hub.ID),
				zap.String("node_id", nodeExternalID))

			var existing model.Node
			if err := db.Where("hub_id = ? AND node_id = ?", hub.ID, nodeExternalID).First(&existing).Error; err != nil {
				return nil, err
			}
			updates := map[string]interface{}{"last_seen": now, "is_online": true}
			if err := db.Model(&existing).Updates(updates).Error; err != nil {
				return nil, err
			}
			return &existing, nil
		}
		return nil, err
	}

	p.log.Info("node auto-registered",
		zap.String("node_id", node.NodeID),
		zap.String("name", node.Name),
		zap.Uint("hub_id", hub.ID))

	return &node, nil
}

// displayNameFromExternalID derives a human-readable name from a device id:
// "wetterstation-garten-01" -> "Wetterstation Garten 01"
func displayNameFromExternalID(externalID string) string {
	if strings.TrimSpace(externalID) == "" {
		return "Unknown Device"
	}

	parts := strings.FieldsFunc(externalID, func(r rune) bool {
		return r == '-' || r == '_'
	})

	for i, part := range parts {
		if part == "" {
			continue
		}
		parts[i] = strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
	}

	return strings.Join(parts, " ")
}
