package ws

import (
	"testing"
	"time"

	"github.com/remote-agent-terminal/dashsync/internal/envelope"
)

func receiveWithTimeoutTest(t *testing.T, client *Client, timeout time.Duration) []byte {
	t.Helper()
	select {
	case data, ok := <-client.SendChan():
		if !ok {
			t.Fatal("client channel closed")
		}
		return data
	case <-time.After(timeout):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// TestHubClientManagement tests Hub client registration and broadcast
func TestHubClientManagement(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	client1 := NewClient(hub, nil)
	client2 := NewClient(hub, nil)

	hub.Register(client1)
	hub.Register(client2)

	if hub.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", hub.ClientCount())
	}
	if client1.ID() == client2.ID() {
		t.Error("client ids should be unique")
	}

	testData := []byte("test broadcast message")
	hub.Broadcast(testData)

	received1 := receiveWithTimeoutTest(t, client1, 100*time.Millisecond)
	received2 := receiveWithTimeoutTest(t, client2, 100*time.Millisecond)

	if string(received1) != string(testData) {
		t.Errorf("client1 received wrong data: %s", received1)
	}
	if string(received2) != string(testData) {
		t.Errorf("client2 received wrong data: %s", received2)
	}

	hub.Unregister(client1)
	if hub.ClientCount() != 1 {
		t.Errorf("expected 1 client after unregister, got %d", hub.ClientCount())
	}
	if !client1.IsClosed() {
		t.Error("unregistered client should be closed")
	}
}

func TestHubOnRegisterRunsFirst(t *testing.T) {
	hub := NewHub()
	defer hub.Close()

	hub.SetOnRegister(func(c *Client) { c.Send([]byte("hello")) })
	client := NewClient(hub, nil)
	hub.Register(client)
	hub.Broadcast([]byte("update"))

	if got := receiveWithTimeoutTest(t, client, 100*time.Millisecond); string(got) != "hello" {
		t.Errorf("first frame = %s, want hello", got)
	}
	if got := receiveWithTimeoutTest(t, client, 100*time.Millisecond); string(got) != "update" {
		t.Errorf("second frame = %s, want update", got)
	}
}

func TestHubOnCloseWhenEmpty(t *testing.T) {
	hub := NewHub()
	closed := 0
	hub.SetOnClose(func() { closed++ })

	c1 := NewClient(hub, nil)
	c2 := NewClient(hub, nil)
	hub.Register(c1)
	hub.Register(c2)

	hub.Unregister(c1)
	if closed != 0 {
		t.Errorf("onClose called with a client remaining")
	}
	hub.Unregister(c2)
	hub.Unregister(c2)
	if closed != 1 {
		t.Errorf("onClose called %d times, want 1", closed)
	}
}

func TestClientSlowConsumerIsClosed(t *testing.T) {
	hub := NewHub()
	client := NewClient(hub, nil)
	hub.Register(client)

	for i := 0; i < sendBuffer+1; i++ {
		client.Send([]byte("x"))
	}
	if !client.IsClosed() {
		t.Error("client with a full buffer should be closed")
	}
	// Sending to a closed client is a no-op.
	client.Send([]byte("late"))
}

func TestHubBroadcastEnvelope(t *testing.T) {
	hub := NewHub()
	defer hub.Close()
	client := NewClient(hub, nil)
	hub.Register(client)

	env, err := envelope.New("telemetry", map[string]int{"cpu": 3}, 42)
	if err != nil {
		t.Fatalf("envelope.New() error = %v", err)
	}
	if err := hub.BroadcastEnvelope(env); err != nil {
		t.Fatalf("BroadcastEnvelope() error = %v", err)
	}

	got, err := envelope.Decode(receiveWithTimeoutTest(t, client, 100*time.Millisecond))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.Topic() != "telemetry" || got.Timestamp() != 42 || string(got.Payload()) != `{"cpu":3}` {
		t.Errorf("unexpected envelope %s %d %s", got.Topic(), got.Timestamp(), got.Payload())
	}
}
