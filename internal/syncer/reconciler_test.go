package syncer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"
	"time"

	"hub-service/internal/ingest"
	"hub-service/internal/model"
	"hub-service/pkg/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)

	db, err := database.Connect(database.NewSQLiteConnector(dsn))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	err = db.AutoMigrate(
		&model.Tenant{},
		&model.Hub{},
		&model.Node{},
		&model.Sensor{},
		&model.SensorCapability{},
		&model.NodeSensorAssignment{},
		&model.Reading{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestReconciler(t *testing.T) (*Reconciler, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	pipeline := ingest.NewPipeline(db, nil, zap.NewNop())
	return NewReconciler(db, pipeline, zap.NewNop()), db
}

func syncItems(refs ...string) []SyncItem {
	ts := time.Now().UTC().Add(-time.Hour)
	items := make([]SyncItem, 0, len(refs))
	for i, ref := range refs {
		items = append(items, SyncItem{
			ClientRef:       ref,
			EndpointID:      1,
			MeasurementType: "temperature",
			RawValue:        float64(i),
			Timestamp:       &ts,
		})
	}
	return items
}

func TestApplyIdempotentReplay(t *testing.T) {
	reconciler, db := newTestReconciler(t)
	ctx := context.Background()

	req := SyncRequest{
		NodeExternalID: "node-01",
		Items:          syncItems("ref-1", "ref-2", "ref-3"),
	}

	first, err := reconciler.Apply(ctx, 1, req)
	if err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if first.SuccessCount != 3 || first.FailedCount != 0 || first.DuplicateCount != 0 {
		t.Errorf("first = {%d, %d, %d dup}, want {3, 0, 0}",
			first.SuccessCount, first.FailedCount, first.DuplicateCount)
	}

	// Replaying the identical batch changes nothing and still succeeds
	second, err := reconciler.Apply(ctx, 1, req)
	if err != nil {
		t.Fatalf("replay Apply() = %v, want nil", err)
	}
	if second.SuccessCount != 3 || second.DuplicateCount != 3 || second.FailedCount != 0 {
		t.Errorf("replay = {%d, %d dup, %d}, want {3, 3, 0}",
			second.SuccessCount, second.DuplicateCount, second.FailedCount)
	}

	var count int64
	db.Model(&model.Reading{}).Count(&count)
	if count != 3 {
		t.Errorf("stored readings = %d, want 3 after replay", count)
	}

	for _, item := range second.Items {
		if item.Status != ItemDuplicate {
			t.Errorf("item %s status = %s, want duplicate", item.ClientRef, item.Status)
		}
	}
}

func TestApplyPartialFailureBookkeeping(t *testing.T) {
	reconciler, db := newTestReconciler(t)
	ctx := context.Background()

	items := syncItems("ref-1", "ref-2")
	items = append(items, SyncItem{
		ClientRef:       "ref-3",
		EndpointID:      1,
		MeasurementType: "temperature",
		RawValue:        math.NaN(),
	})

	// Register the node first so the pending counter can be preloaded
	bootstrap := SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-0")}
	if _, err := reconciler.Apply(ctx, 1, bootstrap); err != nil {
		t.Fatalf("bootstrap Apply() = %v", err)
	}

	var node model.Node
	if err := db.First(&node).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}
	if err := db.Model(&node).Update("pending_sync_count", 5).Error; err != nil {
		t.Fatalf("failed to seed pending count: %v", err)
	}

	result, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01", Items: items})
	if err != nil {
		t.Fatalf("Apply() = %v, want nil", err)
	}
	if result.SuccessCount != 2 || result.FailedCount != 1 {
		t.Errorf("result = {%d, %d}, want {2, 1}", result.SuccessCount, result.FailedCount)
	}

	if err := db.First(&node, node.ID).Error; err != nil {
		t.Fatalf("failed to reload node: %v", err)
	}
	// Pending shrinks only by newly persisted rows
	if node.PendingSyncCount != 3 {
		t.Errorf("PendingSyncCount = %d, want 3", node.PendingSyncCount)
	}
	if node.LastSyncAt == nil {
		t.Error("LastSyncAt = nil, want set despite partial failure")
	}
	if node.LastSyncError == nil {
		t.Error("LastSyncError = nil, want first failure recorded")
	}

	// A clean batch clears the sticky error
	if _, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-9")}); err != nil {
		t.Fatalf("clean Apply() = %v", err)
	}
	if err := db.First(&node, node.ID).Error; err != nil {
		t.Fatalf("failed to reload node: %v", err)
	}
	if node.LastSyncError != nil {
		t.Errorf("LastSyncError = %q, want cleared", *node.LastSyncError)
	}
}

func TestApplyRejectsLocalOnlyNode(t *testing.T) {
	reconciler, db := newTestReconciler(t)
	ctx := context.Background()

	bootstrap := SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-0")}
	if _, err := reconciler.Apply(ctx, 1, bootstrap); err != nil {
		t.Fatalf("bootstrap Apply() = %v", err)
	}

	var node model.Node
	if err := db.First(&node).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}
	if err := db.Model(&node).Update("storage_mode", model.StorageModeLocalOnly).Error; err != nil {
		t.Fatalf("failed to set storage mode: %v", err)
	}

	_, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-1")})
	if !errors.Is(err, ErrLocalOnlyNode) {
		t.Errorf("Apply() = %v, want ErrLocalOnlyNode", err)
	}
}

func TestApplySerializesPerNode(t *testing.T) {
	reconciler, db := newTestReconciler(t)
	ctx := context.Background()

	bootstrap := SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-0")}
	if _, err := reconciler.Apply(ctx, 1, bootstrap); err != nil {
		t.Fatalf("bootstrap Apply() = %v", err)
	}

	var node model.Node
	if err := db.First(&node).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}

	// Hold the node's sync slot as a running batch would
	if !reconciler.acquire(node.ID) {
		t.Fatal("acquire() = false, want free slot")
	}

	_, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-1")})
	if !errors.Is(err, ErrSyncInProgress) {
		t.Errorf("Apply() = %v, want ErrSyncInProgress", err)
	}

	reconciler.release(node.ID)
	if _, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01", Items: syncItems("ref-1")}); err != nil {
		t.Errorf("Apply() after release = %v, want nil", err)
	}
}

func TestApplyValidation(t *testing.T) {
	reconciler, _ := newTestReconciler(t)
	ctx := context.Background()

	t.Run("empty batch rejected", func(t *testing.T) {
		_, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01"})
		if !errors.Is(err, ingest.ErrValidation) {
			t.Errorf("Apply() = %v, want ErrValidation", err)
		}
	})

	t.Run("missing client ref fails the item only", func(t *testing.T) {
		items := syncItems("ref-1")
		items = append(items, SyncItem{EndpointID: 1, MeasurementType: "temperature", RawValue: 20})

		result, err := reconciler.Apply(ctx, 1, SyncRequest{NodeExternalID: "node-01", Items: items})
		if err != nil {
			t.Fatalf("Apply() = %v, want nil", err)
		}
		if result.SuccessCount != 1 || result.FailedCount != 1 {
			t.Errorf("result = {%d, %d}, want {1, 1}", result.SuccessCount, result.FailedCount)
		}
	})
}
