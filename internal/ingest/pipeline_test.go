package ingest

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"hub-service/internal/model"
	"hub-service/pkg/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	// A named in-memory database per test keeps connections of one test on
	// the same data without leaking into other tests.
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", name)

	db, err := database.Connect(database.NewSQLiteConnector(dsn))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	// One connection serializes writers; interleaved lookups still race on
	// the unique constraints without tripping sqlite table locks
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	err = db.AutoMigrate(
		&model.Tenant{},
		&model.Hub{},
		&model.Node{},
		&model.Sensor{},
		&model.SensorCapability{},
		&model.NodeSensorAssignment{},
		&model.Reading{},
		&model.SyncedNode{},
		&model.SyncedReading{},
	)
	if err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestTenant(t *testing.T, db *gorm.DB) uint {
	t.Helper()
	tenant := model.Tenant{Name: "test-tenant", Active: true}
	if err := db.Create(&tenant).Error; err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}
	return tenant.ID
}

// recordingNotifier captures fan-out calls for assertions
type recordingNotifier struct {
	mu       sync.Mutex
	readings []*model.Reading
}

func (n *recordingNotifier) NotifyNewReading(_ uint, reading *model.Reading) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.readings = append(n.readings, reading)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.readings)
}

func TestIngestAutoRegistration(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	pipeline := NewPipeline(db, nil, zap.NewNop())

	result, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
		NodeExternalID:  "wetterstation-garten-01",
		EndpointID:      1,
		MeasurementType: "temperature",
		RawValue:        21.5,
	})
	if err != nil {
		t.Fatalf("Ingest() = %v, want nil", err)
	}

	// Omitted hub external id lands on an auto-created default hub
	var hub model.Hub
	if err := db.Where("tenant_id = ?", tenantID).First(&hub).Error; err != nil {
		t.Fatalf("hub was not auto-registered: %v", err)
	}
	if hub.HubID != "default-hub" {
		t.Errorf("hub.HubID = %q, want default-hub", hub.HubID)
	}
	if !hub.IsOnline {
		t.Error("hub.IsOnline = false, want true")
	}

	var node model.Node
	if err := db.Where("hub_id = ? AND node_id = ?", hub.ID, "wetterstation-garten-01").First(&node).Error; err != nil {
		t.Fatalf("node was not auto-registered: %v", err)
	}
	if node.Name != "Wetterstation Garten 01" {
		t.Errorf("node.Name = %q, want generated display name", node.Name)
	}
	if node.StorageMode != model.StorageModeRemoteOnly {
		t.Errorf("node.StorageMode = %q, want default remote_only", node.StorageMode)
	}

	if result.NodeName != "Wetterstation Garten 01" {
		t.Errorf("result.NodeName = %q, want display name", result.NodeName)
	}

	// Second report reuses the same hub and node
	if _, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
		NodeExternalID:  "wetterstation-garten-01",
		EndpointID:      2,
		MeasurementType: "humidity",
		RawValue:        60,
	}); err != nil {
		t.Fatalf("second Ingest() = %v, want nil", err)
	}

	var nodeCount int64
	db.Model(&model.Node{}).Count(&nodeCount)
	if nodeCount != 1 {
		t.Errorf("node count = %d, want 1", nodeCount)
	}
}

func TestIngestUnboundEndpoint(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	pipeline := NewPipeline(db, nil, zap.NewNop())

	result, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
		NodeExternalID:  "node-01",
		EndpointID:      7,
		MeasurementType: "temperature",
		RawValue:        19.25,
	})
	if err != nil {
		t.Fatalf("Ingest() = %v, want nil", err)
	}

	reading := result.Reading
	if reading.Value != reading.RawValue {
		t.Errorf("Value = %v, want raw value %v for unbound endpoint", reading.Value, reading.RawValue)
	}
	if reading.Unit != "" {
		t.Errorf("Unit = %q, want empty for unbound endpoint", reading.Unit)
	}
	if reading.AssignmentID != nil {
		t.Errorf("AssignmentID = %v, want nil for unbound endpoint", *reading.AssignmentID)
	}
}

func TestIngestAppliesCalibration(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	notifier := &recordingNotifier{}
	pipeline := NewPipeline(db, notifier, zap.NewNop())

	// First contact registers hub and node
	if _, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
		NodeExternalID:  "node-01",
		EndpointID:      1,
		MeasurementType: "temperature",
		RawValue:        0,
	}); err != nil {
		t.Fatalf("bootstrap Ingest() = %v", err)
	}

	var node model.Node
	if err := db.First(&node).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}

	sensor := model.Sensor{
		TenantID:         tenantID,
		Code:             "bme280",
		Name:             "BME280",
		OffsetCorrection: 0.5,
		GainCorrection:   1.0,
		IntervalSeconds:  60,
		IsActive:         true,
		Capabilities: []model.SensorCapability{
			{MeasurementType: "temperature", Unit: "°C"},
		},
	}
	if err := db.Create(&sensor).Error; err != nil {
		t.Fatalf("failed to create sensor: %v", err)
	}
	assignment := model.NodeSensorAssignment{
		NodeID:     node.ID,
		SensorID:   sensor.ID,
		EndpointID: 1,
		IsActive:   true,
		AssignedAt: time.Now().UTC(),
	}
	if err := db.Create(&assignment).Error; err != nil {
		t.Fatalf("failed to create assignment: %v", err)
	}

	result, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
		NodeExternalID:  "node-01",
		EndpointID:      1,
		MeasurementType: "temperature",
		RawValue:        21.5,
	})
	if err != nil {
		t.Fatalf("Ingest() = %v, want nil", err)
	}

	reading := result.Reading
	if reading.Value != 22.0 {
		t.Errorf("Value = %v, want calibrated 22.0", reading.Value)
	}
	if reading.RawValue != 21.5 {
		t.Errorf("RawValue = %v, want original 21.5", reading.RawValue)
	}
	if reading.Unit != "°C" {
		t.Errorf("Unit = %q, want °C from capability", reading.Unit)
	}
	if reading.AssignmentID == nil || *reading.AssignmentID != assignment.ID {
		t.Errorf("AssignmentID = %v, want %d", reading.AssignmentID, assignment.ID)
	}

	// Presence bookkeeping on the binding moved
	var updated model.NodeSensorAssignment
	if err := db.First(&updated, assignment.ID).Error; err != nil {
		t.Fatalf("failed to reload assignment: %v", err)
	}
	if updated.LastSeenAt == nil {
		t.Error("assignment.LastSeenAt = nil, want updated")
	}

	if notifier.count() != 2 {
		t.Errorf("notifications = %d, want 2", notifier.count())
	}
}

func TestIngestBatchPartialFailure(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	notifier := &recordingNotifier{}
	pipeline := NewPipeline(db, notifier, zap.NewNop())

	result, err := pipeline.IngestBatch(context.Background(), tenantID, BatchRequest{
		NodeExternalID: "node-01",
		Readings: []BatchItem{
			{EndpointID: 1, MeasurementType: "temperature", RawValue: 21.5},
			{EndpointID: 2, MeasurementType: "humidity", RawValue: 60},
			{EndpointID: 3, MeasurementType: "pressure", RawValue: math.NaN()},
			{EndpointID: 4, MeasurementType: "temperature", RawValue: 22.1},
			{EndpointID: 5, MeasurementType: "soil_moisture", RawValue: 0.31},
		},
	})
	if err != nil {
		t.Fatalf("IngestBatch() = %v, want nil", err)
	}

	if result.SuccessCount != 4 || result.FailedCount != 1 || result.TotalCount != 5 {
		t.Errorf("result = {%d, %d, %d}, want {4, 1, 5}",
			result.SuccessCount, result.FailedCount, result.TotalCount)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("len(Errors) = %d, want 1", len(result.Errors))
	}
	if result.Errors[0].Index != 2 {
		t.Errorf("Errors[0].Index = %d, want 2", result.Errors[0].Index)
	}
	if result.ProcessedAt.IsZero() {
		t.Error("ProcessedAt is zero")
	}

	var readingCount int64
	db.Model(&model.Reading{}).Count(&readingCount)
	if readingCount != 4 {
		t.Errorf("persisted readings = %d, want 4", readingCount)
	}

	// Node bookkeeping: failure message recorded, last sync moved anyway
	var node model.Node
	if err := db.First(&node).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}
	if node.LastSyncAt == nil {
		t.Error("node.LastSyncAt = nil, want set despite partial failure")
	}
	if node.LastSyncError == nil {
		t.Error("node.LastSyncError = nil, want first item error")
	}

	// Fan-out is collapsed to the latest reading per measurement type
	if notifier.count() != 3 {
		t.Errorf("notifications = %d, want 3 distinct measurement types", notifier.count())
	}
}

func TestIngestBatchClearsSyncError(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	pipeline := NewPipeline(db, nil, zap.NewNop())

	bad := BatchRequest{
		NodeExternalID: "node-01",
		Readings:       []BatchItem{{EndpointID: 1, MeasurementType: "temperature", RawValue: math.NaN()}},
	}
	if _, err := pipeline.IngestBatch(context.Background(), tenantID, bad); err != nil {
		t.Fatalf("IngestBatch() = %v", err)
	}

	var node model.Node
	if err := db.First(&node).Error; err != nil {
		t.Fatalf("failed to load node: %v", err)
	}
	if node.LastSyncError == nil {
		t.Fatal("node.LastSyncError = nil, want error recorded")
	}

	good := BatchRequest{
		NodeExternalID: "node-01",
		Readings:       []BatchItem{{EndpointID: 1, MeasurementType: "temperature", RawValue: 20}},
	}
	if _, err := pipeline.IngestBatch(context.Background(), tenantID, good); err != nil {
		t.Fatalf("IngestBatch() = %v", err)
	}

	if err := db.First(&node, node.ID).Error; err != nil {
		t.Fatalf("failed to reload node: %v", err)
	}
	if node.LastSyncError != nil {
		t.Errorf("node.LastSyncError = %q, want cleared", *node.LastSyncError)
	}
}

func TestConcurrentAutoRegistration(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	pipeline := NewPipeline(db, nil, zap.NewNop())

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
				NodeExternalID:  "racy-node",
				EndpointID:      1,
				MeasurementType: "temperature",
				RawValue:        float64(n),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Ingest() = %v, want nil", err)
		}
	}

	// The unique constraints collapse the first-contact race to one row each
	var hubCount, nodeCount, readingCount int64
	db.Model(&model.Hub{}).Count(&hubCount)
	db.Model(&model.Node{}).Count(&nodeCount)
	db.Model(&model.Reading{}).Count(&readingCount)

	if hubCount != 1 {
		t.Errorf("hub count = %d, want 1", hubCount)
	}
	if nodeCount != 1 {
		t.Errorf("node count = %d, want 1", nodeCount)
	}
	if readingCount != workers {
		t.Errorf("reading count = %d, want %d", readingCount, workers)
	}
}

func TestResolveHubNamedRegistration(t *testing.T) {
	db := newTestDB(t)
	tenantID := newTestTenant(t, db)
	pipeline := NewPipeline(db, nil, zap.NewNop())

	hubID := "greenhouse-hub"
	if _, err := pipeline.Ingest(context.Background(), tenantID, ReadingRequest{
		NodeExternalID:  "node-01",
		HubExternalID:   &hubID,
		EndpointID:      1,
		MeasurementType: "temperature",
		RawValue:        20,
	}); err != nil {
		t.Fatalf("Ingest() = %v, want nil", err)
	}

	var hub model.Hub
	if err := db.Where("tenant_id = ?", tenantID).First(&hub).Error; err != nil {
		t.Fatalf("hub was not registered: %v", err)
	}
	if hub.HubID != "greenhouse-hub" {
		t.Errorf("hub.HubID = %q, want greenhouse-hub", hub.HubID)
	}
	if hub.Name != "Greenhouse Hub" {
		t.Errorf("hub.Name = %q, want generated display name", hub.Name)
	}
}
