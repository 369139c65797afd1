package events

import (
	"testing"
	"time"
)

func waitForEvent(t *testing.T, sub Subscriber) *Event {
	t.Helper()
	select {
	case event := <-sub:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for event")
		return nil
	}
}

func TestPublishSubscribe(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:       EventDeviceRecovered,
		DeviceAddr: "10.0.0.1:9100",
		Message:    "recovered",
	})

	event := waitForEvent(t, sub)
	if event.Type != EventDeviceRecovered {
		t.Errorf("Expected type %s, got %s", EventDeviceRecovered, event.Type)
	}
	if event.DeviceAddr != "10.0.0.1:9100" {
		t.Errorf("Expected device addr to be set, got %q", event.DeviceAddr)
	}
	if event.Timestamp.IsZero() {
		t.Error("Expected timestamp to be filled in")
	}
}

func TestPublishDevice(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.PublishDevice(EventDeviceUnreachable, "10.0.0.2:9100", "probe failed")

	event := waitForEvent(t, sub)
	if event.Type != EventDeviceUnreachable {
		t.Errorf("Expected type %s, got %s", EventDeviceUnreachable, event.Type)
	}
	if event.Message != "probe failed" {
		t.Errorf("Unexpected message: %q", event.Message)
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub1 := broker.Subscribe()
	defer broker.Unsubscribe(sub1)
	sub2 := broker.Subscribe()
	defer broker.Unsubscribe(sub2)

	if broker.SubscriberCount() != 2 {
		t.Errorf("Expected 2 subscribers, got %d", broker.SubscriberCount())
	}

	broker.PublishDevice(EventCastStarted, "10.0.0.3:9100", "cast started")

	for _, sub := range []Subscriber{sub1, sub2} {
		event := waitForEvent(t, sub)
		if event.Type != EventCastStarted {
			t.Errorf("Expected type %s, got %s", EventCastStarted, event.Type)
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	// Never drained; its buffer will fill and further events skip it
	slow := broker.Subscribe()
	defer broker.Unsubscribe(slow)

	live := broker.Subscribe()
	defer broker.Unsubscribe(live)

	// Overflow the slow subscriber's buffer
	for i := 0; i < 120; i++ {
		broker.PublishDevice(EventSessionCrashed, "10.0.0.4:9100", "crash")
	}

	// The live subscriber still receives events
	received := 0
	timeout := time.After(2 * time.Second)
	for received < 50 {
		select {
		case <-live:
			received++
		case <-timeout:
			t.Fatalf("Live subscriber starved after %d events", received)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("Expected closed channel after unsubscribe")
	}
	if broker.SubscriberCount() != 0 {
		t.Errorf("Expected 0 subscribers, got %d", broker.SubscriberCount())
	}
}
