package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"hub-service/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDuplicate marks a reading whose client ref was already persisted for the
// node. The earlier row stands; no new row is written.
var ErrDuplicate = errors.New("duplicate reading")

// Notifier pushes a persisted reading to live subscribers. Implementations
// must not block: fan-out is best-effort and never delays the write path.
type Notifier interface {
	NotifyNewReading(tenantID uint, reading *model.Reading)
}

// NopNotifier discards notifications
type NopNotifier struct{}

// NotifyNewReading implements Notifier
func (NopNotifier) NotifyNewReading(uint, *model.Reading) {}

// Pipeline runs the ingestion chain: identity resolution, binding resolution,
// calibration, persistence, fan-out.
type Pipeline struct {
	db       *gorm.DB
	notifier Notifier
	log      *zap.Logger
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(db *gorm.DB, notifier Notifier, log *zap.Logger) *Pipeline {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Pipeline{db: db, notifier: notifier, log: log}
}

// IngestResult is a persisted reading plus the display names resolved for it
type IngestResult struct {
	Reading    *model.Reading `json:"reading"`
	NodeName   string         `json:"node_name"`
	SensorName string         `json:"sensor_name,omitempty"`
}

// BatchError describes one failed item of a batch
type BatchError struct {
	Index           int    `json:"index"`
	EndpointID      int    `json:"endpointId"`
	MeasurementType string `json:"measurementType,omitempty"`
	Message         string `json:"message"`
}

// BatchResult aggregates the outcome of a batch ingestion
type BatchResult struct {
	SuccessCount int          `json:"successCount"`
	FailedCount  int          `json:"failedCount"`
	TotalCount   int          `json:"totalCount"`
	ProcessedAt  time.Time    `json:"processedAt"`
	Errors       []BatchError `json:"errors,omitempty"`
}

// Ingest processes a single measurement report end to end
func (p *Pipeline) Ingest(ctx context.Context, tenantID uint, req ReadingRequest) (*IngestResult, error) {
	if err := req.Validate(time.Now().UTC()); err != nil {
		return nil, err
	}

	hub, err := p.ResolveHub(ctx, tenantID, req.HubExternalID)
	if err != nil {
		return nil, err
	}

	node, err := p.ResolveNode(ctx, hub, req.NodeExternalID)
	if err != nil {
		return nil, err
	}

	binding, err := p.ResolveBinding(ctx, node.ID, req.EndpointID)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	reading := p.buildReading(tenantID, node, binding, req.EndpointID, req.MeasurementType, req.RawValue, timestamp, nil)

	if err := p.db.WithContext(ctx).Create(reading).Error; err != nil {
		return nil, err
	}

	p.touchBinding(ctx, binding, timestamp)
	p.notifier.NotifyNewReading(tenantID, reading)

	sensorName := ""
	if binding != nil && binding.Sensor != nil {
		sensorName = binding.Sensor.Name
	}

	p.log.Debug("reading created",
		zap.String("node_id", node.NodeID),
		zap.Int("endpoint_id", req.EndpointID),
		zap.String("measurement_type", req.MeasurementType),
		zap.Float64("raw_value", req.RawValue),
		zap.Float64("value", reading.Value),
		zap.String("unit", reading.Unit))

	return &IngestResult{Reading: reading, NodeName: node.Name, SensorName: sensorName}, nil
}

// IngestBatch processes a multi-measurement report. Items fail individually;
// persisted items are kept even when later items fail.
func (p *Pipeline) IngestBatch(ctx context.Context, tenantID uint, req BatchRequest) (*BatchResult, error) {
	if err := req.Validate(time.Now().UTC()); err != nil {
		return nil, err
	}

	hub, err := p.ResolveHub(ctx, tenantID, req.HubExternalID)
	if err != nil {
		return nil, err
	}

	node, err := p.ResolveNode(ctx, hub, req.NodeExternalID)
	if err != nil {
		return nil, err
	}

	bindings, err := p.LoadBindings(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != nil {
		timestamp = req.Timestamp.UTC()
	}

	result := &BatchResult{TotalCount: len(req.Readings)}
	var persisted []*model.Reading

	for i := range req.Readings {
		if err := ctx.Err(); err != nil {
			// Caller cancelled: keep what is already persisted, fail the rest
			for j := i; j < len(req.Readings); j++ {
				result.FailedCount++
				result.Errors = append(result.Errors, BatchError{
					Index:           j,
					EndpointID:      req.Readings[j].EndpointID,
					MeasurementType: req.Readings[j].MeasurementType,
					Message:         err.Error(),
				})
			}
			break
		}

		item := req.Readings[i]
		reading, err := p.ProcessItem(ctx, tenantID, node, bindings, item, timestamp, nil)
		if err != nil {
			result.FailedCount++
			result.Errors = append(result.Errors, BatchError{
				Index:           i,
				EndpointID:      item.EndpointID,
				MeasurementType: item.MeasurementType,
				Message:         err.Error(),
			})
			p.log.Warn("batch item failed",
				zap.String("node_id", node.NodeID),
				zap.Int("index", i),
				zap.Int("endpoint_id", item.EndpointID),
				zap.Error(err))
			continue
		}

		result.SuccessCount++
		persisted = append(persisted, reading)
	}

	result.ProcessedAt = time.Now().UTC()

	if err := p.recordSyncOutcome(ctx, node, result); err != nil {
		return nil, err
	}

	// Notify only the latest reading per measurement type to avoid flooding
	for _, reading := range latestPerType(persisted) {
		p.notifier.NotifyNewReading(tenantID, reading)
	}

	p.log.Info("batch processed",
		zap.String("node_id", node.NodeID),
		zap.Int("success", result.SuccessCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("total", result.TotalCount))

	return result, nil
}

// ProcessItem validates, calibrates and persists one item against preloaded
// bindings. A non-nil clientRef participates in replay de-duplication: an
// already-persisted ref yields ErrDuplicate and no new row.
func (p *Pipeline) ProcessItem(ctx context.Context, tenantID uint, node *model.Node, bindings map[int]*Binding, item BatchItem, timestamp time.Time, clientRef *string) (*model.Reading, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	binding := bindings[item.EndpointID]
	if binding == nil {
		p.log.Warn("no binding for endpoint, storing reading uncalibrated",
			zap.Uint("node_id", node.ID),
			zap.Int("endpoint_id", item.EndpointID))
	}

	reading := p.buildReading(tenantID, node, binding, item.EndpointID, item.MeasurementType, item.RawValue, timestamp, clientRef)

	if err := p.db.WithContext(ctx).Create(reading).Error; err != nil {
		if clientRef != nil && errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: client ref %q", ErrDuplicate, *clientRef)
		}
		return nil, err
	}

	p.touchBinding(ctx, binding, timestamp)

	return reading, nil
}

// Notify pushes a persisted reading to live subscribers
func (p *Pipeline) Notify(tenantID uint, reading *model.Reading) {
	p.notifier.NotifyNewReading(tenantID, reading)
}

func (p *Pipeline) buildReading(tenantID uint, node *model.Node, binding *Binding, endpointID int, measurementType string, rawValue float64, timestamp time.Time, clientRef *string) *model.Reading {
	reading := &model.Reading{
		TenantID:        tenantID,
		NodeID:          node.ID,
		MeasurementType: measurementType,
		RawValue:        rawValue,
		Value:           rawValue,
		Unit:            "",
		Timestamp:       timestamp,
		ClientRef:       clientRef,
	}

	if binding != nil {
		offset, gain := binding.CalibrationFor()
		reading.AssignmentID = &binding.Assignment.ID
		reading.Value = Calibrate(rawValue, offset, gain)
		reading.Unit = binding.UnitFor(measurementType)
	}

	return reading
}

// touchBinding refreshes the assignment's last-seen marker. Failures are
// logged only; presence bookkeeping never fails an ingestion.
func (p *Pipeline) touchBinding(ctx context.Context, binding *Binding, timestamp time.Time) {
	if binding == nil {
		return
	}
	err := p.db.WithContext(ctx).
		Model(&model.NodeSensorAssignment{}).
		Where("id = ?", binding.Assignment.ID).
		Update("last_seen_at", timestamp).Error
	if err != nil {
		p.log.Warn("failed to update assignment last_seen_at",
			zap.Uint("assignment_id", binding.Assignment.ID),
			zap.Error(err))
	}
}

// recordSyncOutcome updates the node's sync bookkeeping after a batch.
// LastSyncAt moves regardless of partial failure; the pending counter only
// shrinks by confirmed persists.
func (p *Pipeline) recordSyncOutcome(ctx context.Context, node *model.Node, result *BatchResult) error {
	now := time.Now().UTC()

	pending := node.PendingSyncCount - result.SuccessCount
	if pending < 0 {
		pending = 0
	}

	updates := map[string]interface{}{
		"last_seen":          now,
		"is_online":          true,
		"last_sync_at":       now,
		"pending_sync_count": pending,
		"last_sync_error":    nil,
	}
	if result.FailedCount > 0 && len(result.Errors) > 0 {
		updates["last_sync_error"] = result.Errors[0].Message
	}

	return p.db.WithContext(ctx).Model(node).Updates(updates).Error
}

func latestPerType(readings []*model.Reading) map[string]*model.Reading {
	latest := make(map[string]*model.Reading)
	for _, reading := range readings {
		current, ok := latest[reading.MeasurementType]
		if !ok || reading.Timestamp.After(current.Timestamp) {
			latest[reading.MeasurementType] = reading
		}
	}
	return latest
}
