package ws

import (
	"encoding/json"
	"testing"
	"time"

	"hub-service/internal/model"
	"hub-service/pkg/config"

	"go.uber.org/zap"
)

func newTestHub(bufferSize int) *Hub {
	return NewHub(config.WebSocketConfig{SendBufferSize: bufferSize}, zap.NewNop())
}

func testReading(nodeID uint) *model.Reading {
	return &model.Reading{
		ID:              1,
		TenantID:        1,
		NodeID:          nodeID,
		MeasurementType: "temperature",
		RawValue:        21.5,
		Value:           22.0,
		Unit:            "°C",
		Timestamp:       time.Now().UTC(),
	}
}

func receive(t *testing.T, client *Client) Message {
	t.Helper()
	select {
	case data := <-client.send:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("failed to decode message: %v", err)
		}
		return msg
	default:
		t.Fatal("no message in client buffer")
		return Message{}
	}
}

func TestNotifyNewReadingReachesTenantClients(t *testing.T) {
	hub := newTestHub(4)

	sameTenant := hub.NewClient(nil, 1)
	otherTenant := hub.NewClient(nil, 2)
	hub.Register(sameTenant)
	hub.Register(otherTenant)

	hub.NotifyNewReading(1, testReading(42))

	msg := receive(t, sameTenant)
	if msg.Type != TypeEvent || msg.EventType != EventNewReading {
		t.Errorf("message = {%s, %s}, want event NewReading", msg.Type, msg.EventType)
	}

	select {
	case <-otherTenant.send:
		t.Error("client of another tenant received the event")
	default:
	}
}

func TestNotifyNewReadingNodeChannel(t *testing.T) {
	hub := newTestHub(4)

	client := hub.NewClient(nil, 1)
	hub.Register(client)

	// Narrow the subscription to one node
	client.mu.Lock()
	delete(client.channels, ChannelReadings)
	client.channels["node:42"] = struct{}{}
	client.mu.Unlock()

	hub.NotifyNewReading(1, testReading(42))
	msg := receive(t, client)
	if msg.EventType != EventNewReading {
		t.Errorf("EventType = %s, want NewReading", msg.EventType)
	}

	hub.NotifyNewReading(1, testReading(7))
	select {
	case <-client.send:
		t.Error("received event for a node outside the subscription")
	default:
	}
}

func TestNotifyNewReadingDropsWhenBufferFull(t *testing.T) {
	hub := newTestHub(1)

	client := hub.NewClient(nil, 1)
	hub.Register(client)

	// Nothing drains the buffer; extra events must be dropped, not block
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			hub.NotifyNewReading(1, testReading(42))
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	if len(client.send) != 1 {
		t.Errorf("buffered messages = %d, want 1", len(client.send))
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := newTestHub(1)

	client := hub.NewClient(nil, 1)
	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("ClientCount() = %d, want 1", hub.ClientCount())
	}

	hub.Unregister(client)
	hub.Unregister(client) // second call must not double-close the channel

	if hub.ClientCount() != 0 {
		t.Errorf("ClientCount() = %d, want 0", hub.ClientCount())
	}

	// Broadcasting to a closed channel is absorbed, not a panic
	hub.NotifyNewReading(1, testReading(42))
}
