package event

import (
	"sync"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeServiceRegistered, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}

	if bus.SubscriptionCount() != 1 {
		t.Errorf("Expected 1 subscription, got %d", bus.SubscriptionCount())
	}

	if called {
		t.Error("Handler should not be called until an event is published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var receivedEvent Event
	bus.Subscribe(TypeLockAcquired, func(e Event) {
		receivedEvent = e
	})

	event := NewLockAcquiredEvent("lock-1", "notes", "architect", "", "agent-1", time.Now().Add(time.Minute))
	bus.Publish(event)

	if receivedEvent == nil {
		t.Fatal("Handler should have received the event")
	}

	if receivedEvent.EventType() != TypeLockAcquired {
		t.Errorf("Expected event type %q, got %q", TypeLockAcquired, receivedEvent.EventType())
	}

	if receivedEvent.EventID() == "" {
		t.Error("Events should carry a non-empty ID")
	}
}

func TestBus_PublishMultipleHandlers(t *testing.T) {
	bus := NewBus(nil)

	callCount := 0
	bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		callCount++
	})
	bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		callCount++
	})

	bus.Publish(NewServiceHeartbeatEvent("svc-1"))

	if callCount != 2 {
		t.Errorf("Expected both handlers to be called, got %d calls", callCount)
	}
}

func TestBus_PublishNoMatchingHandlers(t *testing.T) {
	bus := NewBus(nil)

	bus.Subscribe(TypeServiceUpdated, func(e Event) {
		t.Error("Handler should not be called for non-matching event type")
	})

	// This should not panic or call the handler
	bus.Publish(NewServiceHeartbeatEvent("svc-1"))
}

func TestBus_SubscribeAll(t *testing.T) {
	bus := NewBus(nil)

	var events []string
	bus.SubscribeAll(func(e Event) {
		events = append(events, e.EventType())
	})

	bus.Publish(NewServiceHeartbeatEvent("svc-1"))
	bus.Publish(NewLockReleasedEvent("lock-1", "notes"))
	bus.Publish(NewLockFileChangedEvent())

	expected := []string{TypeServiceHeartbeat, TypeLockReleased, TypeLockFileChanged}
	if len(events) != len(expected) {
		t.Fatalf("Expected %d events, got %d", len(expected), len(events))
	}
	for i, e := range expected {
		if events[i] != e {
			t.Errorf("Expected event %d to be %q, got %q", i, e, events[i])
		}
	}
}

func TestBus_SpecificBeforeWildcard(t *testing.T) {
	bus := NewBus(nil)

	var order []string
	bus.SubscribeAll(func(e Event) {
		order = append(order, "wildcard")
	})
	bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		order = append(order, "specific")
	})

	bus.Publish(NewServiceHeartbeatEvent("svc-1"))

	if len(order) != 2 || order[0] != "specific" || order[1] != "wildcard" {
		t.Errorf("Expected specific handler before wildcard, got %v", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		called = true
	})

	if !bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return true for a known ID")
	}
	if bus.Unsubscribe(id) {
		t.Error("Unsubscribe should return false for an already-removed ID")
	}

	bus.Publish(NewServiceHeartbeatEvent("svc-1"))
	if called {
		t.Error("Handler should not be called after unsubscribing")
	}
}

func TestBus_HandlerPanicDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(nil)

	secondCalled := false
	bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		panic("boom")
	})
	bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		secondCalled = true
	})

	bus.Publish(NewServiceHeartbeatEvent("svc-1"))

	if !secondCalled {
		t.Error("Second handler should run despite the first panicking")
	}
}

func TestBus_Close(t *testing.T) {
	bus := NewBus(nil)

	shutdowns := 0
	bus.Subscribe(TypeShutdown, func(e Event) {
		shutdowns++
		if se, ok := e.(ShutdownEvent); !ok || se.Reason != "test" {
			t.Errorf("Expected ShutdownEvent with reason 'test', got %#v", e)
		}
	})

	bus.Close("test")
	bus.Close("test") // second close must not publish again

	if shutdowns != 1 {
		t.Errorf("Expected exactly one shutdown event, got %d", shutdowns)
	}
	if bus.SubscriptionCount() != 0 {
		t.Errorf("Expected subscriptions cleared after close, got %d", bus.SubscriptionCount())
	}
}

func TestBus_ConcurrentPublish(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	count := 0
	bus.Subscribe(TypeServiceHeartbeat, func(e Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.Publish(NewServiceHeartbeatEvent("svc-1"))
			}
		}()
	}
	wg.Wait()

	if count != 1000 {
		t.Errorf("Expected 1000 deliveries, got %d", count)
	}
}
