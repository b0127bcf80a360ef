package store

import (
	"context"
	"testing"
	"time"

	"hub-service/internal/model"

	"go.uber.org/zap"
)

func peerReadings(base time.Time, values ...float64) []PeerReading {
	readings := make([]PeerReading, 0, len(values))
	for i, value := range values {
		readings = append(readings, PeerReading{
			MeasurementType: "temperature",
			RawValue:        value,
			Value:           value,
			Unit:            "°C",
			Timestamp:       base.Add(time.Duration(i) * time.Minute),
		})
	}
	return readings
}

func TestMirrorUpsertsPeerNode(t *testing.T) {
	db := newTestDB(t)
	store := NewPeerStore(db, zap.NewNop())
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	node, err := store.Mirror(ctx, 1, "peer-node-01", "Peer Node", peerReadings(base, 20, 21))
	if err != nil {
		t.Fatalf("Mirror() = %v, want nil", err)
	}
	if node.ID == 0 {
		t.Fatal("mirrored node has no id")
	}

	// Second push reuses the node and appends
	again, err := store.Mirror(ctx, 1, "peer-node-01", "Peer Node", peerReadings(base.Add(time.Hour), 22))
	if err != nil {
		t.Fatalf("second Mirror() = %v, want nil", err)
	}
	if again.ID != node.ID {
		t.Errorf("node id = %d, want reused %d", again.ID, node.ID)
	}

	var nodeCount, readingCount int64
	db.Model(&model.SyncedNode{}).Count(&nodeCount)
	db.Model(&model.SyncedReading{}).Count(&readingCount)
	if nodeCount != 1 {
		t.Errorf("peer node count = %d, want 1", nodeCount)
	}
	if readingCount != 3 {
		t.Errorf("mirrored reading count = %d, want 3", readingCount)
	}

	readings, err := store.Readings(ctx, 1, node.ID, 10)
	if err != nil {
		t.Fatalf("Readings() = %v, want nil", err)
	}
	if len(readings) != 3 {
		t.Fatalf("len(readings) = %d, want 3", len(readings))
	}
	if readings[0].Value != 22 {
		t.Errorf("first value = %v, want newest 22", readings[0].Value)
	}
}

func TestMirrorTenantIsolation(t *testing.T) {
	db := newTestDB(t)
	store := NewPeerStore(db, zap.NewNop())
	ctx := context.Background()
	base := time.Now().UTC()

	if _, err := store.Mirror(ctx, 1, "peer-node-01", "A", peerReadings(base, 20)); err != nil {
		t.Fatalf("Mirror() = %v", err)
	}
	if _, err := store.Mirror(ctx, 2, "peer-node-01", "B", peerReadings(base, 30)); err != nil {
		t.Fatalf("Mirror() = %v", err)
	}

	// Same source id under two tenants stays two separate mirrors
	var nodeCount int64
	db.Model(&model.SyncedNode{}).Count(&nodeCount)
	if nodeCount != 2 {
		t.Errorf("peer node count = %d, want 2", nodeCount)
	}

	nodes, err := store.Nodes(ctx, 1)
	if err != nil {
		t.Fatalf("Nodes() = %v, want nil", err)
	}
	if len(nodes) != 1 || nodes[0].Name != "A" {
		t.Errorf("tenant 1 nodes = %+v, want only its own mirror", nodes)
	}
}
