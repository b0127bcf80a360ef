package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hub-service/internal/ingest"
	"hub-service/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSyncInProgress is returned when a second batch arrives for a node
	// whose previous batch is still being applied. Batches never interleave;
	// the device retries on its own schedule.
	ErrSyncInProgress = errors.New("sync already in progress for this node")

	// ErrLocalOnlyNode is returned for nodes configured to keep readings on
	// the device.
	ErrLocalOnlyNode = errors.New("node storage mode is local-only")
)

// SyncItem is one buffered reading replayed by a device. ClientRef is the
// device's own identifier for the buffered row and drives de-duplication.
type SyncItem struct {
	ClientRef       string     `json:"clientRef"`
	EndpointID      int        `json:"endpointId"`
	MeasurementType string     `json:"measurementType"`
	RawValue        float64    `json:"rawValue"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
}

// SyncRequest is a device's offline buffer replay
type SyncRequest struct {
	NodeExternalID string     `json:"nodeExternalId"`
	HubExternalID  *string    `json:"hubExternalId,omitempty"`
	Items          []SyncItem `json:"items"`
}

// ItemStatus classifies the outcome of one replayed item
type ItemStatus string

const (
	ItemPersisted ItemStatus = "persisted"
	ItemDuplicate ItemStatus = "duplicate"
	ItemFailed    ItemStatus = "failed"
)

// ItemResult is the per-item outcome of a replay
type ItemResult struct {
	ClientRef string     `json:"clientRef"`
	Status    ItemStatus `json:"status"`
	Message   string     `json:"message,omitempty"`
}

// SyncResult aggregates a replay. Duplicates count as successes: the reading
// is durably stored, just not by this batch.
type SyncResult struct {
	SuccessCount   int          `json:"successCount"`
	FailedCount    int          `json:"failedCount"`
	DuplicateCount int          `json:"duplicateCount"`
	TotalCount     int          `json:"totalCount"`
	ProcessedAt    time.Time    `json:"processedAt"`
	Items          []ItemResult `json:"items"`
	Errors         []string     `json:"errors,omitempty"`
}

// Reconciler replays offline-buffered batches through the ingestion chain.
// Batches for the same node are serialized; different nodes sync in parallel.
type Reconciler struct {
	db       *gorm.DB
	pipeline *ingest.Pipeline
	log      *zap.Logger

	mu     sync.Mutex
	active map[uint]struct{}
}

// NewReconciler creates a sync reconciler
func NewReconciler(db *gorm.DB, pipeline *ingest.Pipeline, log *zap.Logger) *Reconciler {
	return &Reconciler{
		db:       db,
		pipeline: pipeline,
		log:      log,
		active:   make(map[uint]struct{}),
	}
}

// Apply replays a batch for one node. Items run in the batch's given order;
// persisted progress is kept when the context is cancelled mid-batch.
func (r *Reconciler) Apply(ctx context.Context, tenantID uint, req SyncRequest) (*SyncResult, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: items must not be empty", ingest.ErrValidation)
	}

	hub, err := r.pipeline.ResolveHub(ctx, tenantID, req.HubExternalID)
	if err != nil {
		return nil, err
	}
	node, err := r.pipeline.ResolveNode(ctx, hub, req.NodeExternalID)
	if err != nil {
		return nil, err
	}

	// One exhaustive switch decides per storage mode; no scattered checks
	switch node.StorageMode {
	case model.StorageModeLocalOnly:
		return nil, ErrLocalOnlyNode
	case model.StorageModeRemoteOnly, model.StorageModeLocalAndRemote, model.StorageModeLocalAutoSync:
		// replay accepted
	default:
		return nil, fmt.Errorf("unknown storage mode %q for node %s", node.StorageMode, node.NodeID)
	}

	if !r.acquire(node.ID) {
		return nil, ErrSyncInProgress
	}
	defer r.release(node.ID)

	return r.replay(ctx, tenantID, node, req.Items)
}

func (r *Reconciler) replay(ctx context.Context, tenantID uint, node *model.Node, items []SyncItem) (*SyncResult, error) {
	bindings, err := r.pipeline.LoadBindings(ctx, node.ID)
	if err != nil {
		return nil, err
	}

	existing, err := r.existingRefs(ctx, node.ID, items)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{TotalCount: len(items)}
	var persisted []*model.Reading
	newlyPersisted := 0
	now := time.Now().UTC()

	for i := range items {
		item := items[i]

		if err := ctx.Err(); err != nil {
			result.FailedCount++
			result.Items = append(result.Items, ItemResult{ClientRef: item.ClientRef, Status: ItemFailed, Message: err.Error()})
			result.Errors = append(result.Errors, fmt.Sprintf("item %d (%s): %v", i, item.ClientRef, err))
			continue
		}

		if item.ClientRef == "" {
			result.FailedCount++
			msg := "clientRef is required"
			result.Items = append(result.Items, ItemResult{ClientRef: item.ClientRef, Status: ItemFailed, Message: msg})
			result.Errors = append(result.Errors, fmt.Sprintf("item %d: %s", i, msg))
			continue
		}

		if _, dup := existing[item.ClientRef]; dup {
			result.DuplicateCount++
			result.SuccessCount++
			result.Items = append(result.Items, ItemResult{ClientRef: item.ClientRef, Status: ItemDuplicate})
			continue
		}

		timestamp := now
		if item.Timestamp != nil {
			timestamp = item.Timestamp.UTC()
		}

		ref := item.ClientRef
		reading, err := r.pipeline.ProcessItem(ctx, tenantID, node, bindings, ingest.BatchItem{
			EndpointID:      item.EndpointID,
			MeasurementType: item.MeasurementType,
			RawValue:        item.RawValue,
		}, timestamp, &ref)

		switch {
		case err == nil:
			newlyPersisted++
			result.SuccessCount++
			existing[item.ClientRef] = struct{}{}
			persisted = append(persisted, reading)
			result.Items = append(result.Items, ItemResult{ClientRef: item.ClientRef, Status: ItemPersisted})
		case errors.Is(err, ingest.ErrDuplicate):
			// Raced another writer on the unique (node, client_ref) index
			result.DuplicateCount++
			result.SuccessCount++
			result.Items = append(result.Items, ItemResult{ClientRef: item.ClientRef, Status: ItemDuplicate})
		default:
			result.FailedCount++
			result.Items = append(result.Items, ItemResult{ClientRef: item.ClientRef, Status: ItemFailed, Message: err.Error()})
			result.Errors = append(result.Errors, fmt.Sprintf("item %d (%s): %v", i, item.ClientRef, err))
			r.log.Warn("sync item failed",
				zap.String("node_id", node.NodeID),
				zap.String("client_ref", item.ClientRef),
				zap.Error(err))
		}
	}

	result.ProcessedAt = time.Now().UTC()

	if err := r.recordOutcome(ctx, node, result, newlyPersisted); err != nil {
		return nil, err
	}

	for _, reading := range latestPerType(persisted) {
		r.pipeline.Notify(tenantID, reading)
	}

	r.log.Info("sync batch applied",
		zap.String("node_id", node.NodeID),
		zap.Int("success", result.SuccessCount),
		zap.Int("duplicates", result.DuplicateCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("total", result.TotalCount))

	return result, nil
}

// existingRefs returns the client refs of this batch that are already stored
// for the node.
func (r *Reconciler) existingRefs(ctx context.Context, nodeID uint, items []SyncItem) (map[string]struct{}, error) {
	refs := make([]string, 0, len(items))
	for _, item := range items {
		if item.ClientRef != "" {
			refs = append(refs, item.ClientRef)
		}
	}
	if len(refs) == 0 {
		return map[string]struct{}{}, nil
	}

	var stored []string
	err := r.db.WithContext(ctx).
		Model(&model.Reading{}).
		Where("node_id = ? AND client_ref IN ?", nodeID, refs).
		Pluck("client_ref", &stored).Error
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(stored))
	for _, ref := range stored {
		existing[ref] = struct{}{}
	}
	return existing, nil
}

// recordOutcome updates the node's sync bookkeeping. LastSyncAt moves even on
// partial failure; the pending counter only shrinks by newly persisted rows.
func (r *Reconciler) recordOutcome(ctx context.Context, node *model.Node, result *SyncResult, newlyPersisted int) error {
	now := time.Now().UTC()

	pending := node.PendingSyncCount - newlyPersisted
	if pending < 0 {
		pending = 0
	}

	updates := map[string]interface{}{
		"last_sync_at":       now,
		"pending_sync_count": pending,
		"last_sync_error":    nil,
	}
	if len(result.Errors) > 0 {
		updates["last_sync_error"] = result.Errors[0]
	}

	return r.db.WithContext(ctx).Model(node).Updates(updates).Error
}

func (r *Reconciler) acquire(nodeID uint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.active[nodeID]; busy {
		return false
	}
	r.active[nodeID] = struct{}{}
	return true
}

func (r *Reconciler) release(nodeID uint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, nodeID)
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
