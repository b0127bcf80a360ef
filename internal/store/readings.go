package store

import (
	"context"
	"strings"
	"time"

	"hub-service/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// sortFields is the allow-list of sortable reading columns. Anything else
// falls back to the default timestamp-descending order.
var sortFields = map[string]string{
	"timestamp":        "timestamp",
	"value":            "value",
	"raw_value":        "raw_value",
	"measurement_type": "measurement_type",
	"created_at":       "created_at",
}

const (
	defaultPageSize = 50
	maxPageSize     = 1000
)

// QueryParams describes a paged/sorted/filtered reading query
type QueryParams struct {
	Page            int        `query:"page"`
	PageSize        int        `query:"pageSize"`
	SortField       string     `query:"sortField"`
	SortDirection   string     `query:"sortDirection"`
	NodeID          *uint      `query:"nodeId"`
	BindingID       *uint      `query:"bindingId"`
	MeasurementType *string    `query:"measurementType"`
	IsSynced        *bool      `query:"isSynced"`
	From            *time.Time `query:"from"`
	To              *time.Time `query:"to"`
	Search          string     `query:"search"`
}

// PagedResult is one page of readings plus the unpaged total
type PagedResult struct {
	Items      []model.Reading `json:"items"`
	TotalCount int64           `json:"total_count"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
}

// DeleteRangeParams bounds a retention delete
type DeleteRangeParams struct {
	NodeID          uint       `json:"nodeId"`
	From            time.Time  `json:"from"`
	To              time.Time  `json:"to"`
	BindingID       *uint      `json:"bindingId,omitempty"`
	MeasurementType *string    `json:"measurementType,omitempty"`
}

// DeleteRangeResult echoes the filter plus the number of rows removed
type DeleteRangeResult struct {
	DeletedCount    int64     `json:"deletedCount"`
	NodeID          uint      `json:"nodeId"`
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	BindingID       *uint     `json:"bindingId,omitempty"`
	MeasurementType *string   `json:"measurementType,omitempty"`
}

// ReadingStore wraps reading persistence queries. Every method takes the
// tenant id explicitly; no query runs unscoped.
type ReadingStore struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewReadingStore creates a reading store
func NewReadingStore(db *gorm.DB, log *zap.Logger) *ReadingStore {
	return &ReadingStore{db: db, log: log}
}

// Query returns one page of readings matching the filters
func (s *ReadingStore) Query(ctx context.Context, tenantID uint, params QueryParams) (*PagedResult, error) {
	page := params.Page
	if page < 1 {
		page = 1
	}
	pageSize := params.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := s.db.WithContext(ctx).
		Model(&model.Reading{}).
		Where("readings.tenant_id = ?", tenantID)

	if params.NodeID != nil {
		query = query.Where("readings.node_id = ?", *params.NodeID)
	}
	if params.BindingID != nil {
		query = query.Where("readings.assignment_id = ?", *params.BindingID)
	}
	if params.MeasurementType != nil && *params.MeasurementType != "" {
		query = query.Where("readings.measurement_type = ?", strings.ToLower(*params.MeasurementType))
	}
	if params.IsSynced != nil {
		query = query.Where("readings.is_synced = ?", *params.IsSynced)
	}
	if params.From != nil {
		query = query.Where("readings.timestamp >= ?", *params.From)
	}
	if params.To != nil {
		query = query.Where("readings.timestamp <= ?", *params.To)
	}
	if params.Search != "" {
		term := "%" + strings.ToLower(params.Search) + "%"
		query = query.
			Joins("LEFT JOIN node_sensor_assignments ON node_sensor_assignments.id = readings.assignment_id").
			Joins("LEFT JOIN sensors ON sensors.id = node_sensor_assignments.sensor_id").
			Where("LOWER(readings.measurement_type) LIKE ? OR LOWER(readings.unit) LIKE ? OR LOWER(sensors.name) LIKE ? OR LOWER(sensors.code) LIKE ?",
				term, term, term, term)
	}

	var totalCount int64
	if err := query.Count(&totalCount).Error; err != nil {
		return nil, err
	}

	var items []model.Reading
	err := query.
		Preload("Node").
		Preload("Assignment.Sensor").
		Order(orderClause(params.SortField, params.SortDirection)).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&items).Error
	if err != nil {
		return nil, err
	}

	return &PagedResult{
		Items:      items,
		TotalCount: totalCount,
		Page:       page,
		PageSize:   pageSize,
	}, nil
}

// LatestByNode returns the most recent reading per measurement type for one
// node. Equal timestamps are broken by the higher row id so one row wins
// deterministically.
func (s *ReadingStore) LatestByNode(ctx context.Context, tenantID, nodeID uint) ([]model.Reading, error) {
	var readings []model.Reading
	err := s.db.WithContext(ctx).
		Preload("Node").
		Preload("Assignment.Sensor").
		Where("tenant_id = ? AND node_id = ?", tenantID, nodeID).
		Where(`id = (
			SELECT r2.id FROM readings r2
			WHERE r2.tenant_id = readings.tenant_id
			  AND r2.node_id = readings.node_id
			  AND r2.measurement_type = readings.measurement_type
			ORDER BY r2.timestamp DESC, r2.id DESC
			LIMIT 1
		)`).
		Find(&readings).Error
	return readings, err
}

// Latest returns the most recent reading per (node, measurement type) across
// the tenant.
func (s *ReadingStore) Latest(ctx context.Context, tenantID uint) ([]model.Reading, error) {
	var readings []model.Reading
	err := s.db.WithContext(ctx).
		Preload("Node").
		Preload("Assignment.Sensor").
		Where("tenant_id = ?", tenantID).
		Where(`id = (
			SELECT r2.id FROM readings r2
			WHERE r2.tenant_id = readings.tenant_id
			  AND r2.node_id = readings.node_id
			  AND r2.measurement_type = readings.measurement_type
			ORDER BY r2.timestamp DESC, r2.id DESC
			LIMIT 1
		)`).
		Find(&readings).Error
	return readings, err
}

// DeleteRange removes readings for one node within a closed time range.
// Retention cleanup only; individual readings are never corrected this way.
func (s *ReadingStore) DeleteRange(ctx context.Context, tenantID uint, params DeleteRangeParams) (*DeleteRangeResult, error) {
	query := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Where("node_id = ?", params.NodeID).
		Where("timestamp >= ? AND timestamp <= ?", params.From, params.To)

	if params.BindingID != nil {
		query = query.Where("assignment_id = ?", *params.BindingID)
	}
	if params.MeasurementType != nil && *params.MeasurementType != "" {
		query = query.Where("measurement_type = ?", strings.ToLower(*params.MeasurementType))
	}

	result := query.Delete(&model.Reading{})
	if result.Error != nil {
		return nil, result.Error
	}

	s.log.Info("readings deleted",
		zap.Uint("node_id", params.NodeID),
		zap.Time("from", params.From),
		zap.Time("to", params.To),
		zap.Int64("deleted", result.RowsAffected))

	return &DeleteRangeResult{
		DeletedCount:    result.RowsAffected,
		NodeID:          params.NodeID,
		From:            params.From,
		To:              params.To,
		BindingID:       params.BindingID,
		MeasurementType: params.MeasurementType,
	}, nil
}

// Unsynced returns the oldest readings not yet pushed upstream
func (s *ReadingStore) Unsynced(ctx context.Context, tenantID uint, limit int) ([]model.Reading, error) {
	if limit <= 0 {
		limit = 100
	}
	var readings []model.Reading
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND is_synced = ?", tenantID, false).
		Order("timestamp ASC, id ASC").
		Limit(limit).
		Find(&readings).Error
	return readings, err
}

// MarkSynced flips the synced flag for the given readings. The only mutation
// a reading ever sees.
func (s *ReadingStore) MarkSynced(ctx context.Context, tenantID uint, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).
		Model(&model.Reading{}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Update("is_synced", true).Error
	if err != nil {
		return err
	}

	s.log.Info("readings marked as synced", zap.Int("count", len(ids)))
	return nil
}

func orderClause(field, direction string) string {
	column, ok := sortFields[strings.ToLower(field)]
	if !ok {
		return "readings.timestamp DESC, readings.id DESC"
	}
	dir := "ASC"
	if strings.EqualFold(direction, "desc") {
		dir = "DESC"
	}
	return "readings." + column + " " + dir + ", readings.id DESC"
}
