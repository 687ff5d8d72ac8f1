package statusfeed

import (
	"sync"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	events, unsubscribe := r.Subscribe(8)
	defer unsubscribe()

	if r.IsResourceReachable("pr-a") {
		t.Fatal("unknown printer must be unreachable")
	}

	r.Connect("pr-a")
	if ev := recv(t, events); ev.Type != EventConnected || ev.State.PrinterID != "pr-a" || ev.Previous != nil {
		t.Errorf("connect event = %+v", ev)
	}
	if !r.IsResourceReachable("pr-a") {
		t.Error("connected printer should be reachable")
	}

	r.Report(PrinterState{PrinterID: "pr-a", Online: true, PrintState: "standby"})
	if ev := recv(t, events); ev.Type != EventStateChanged || ev.State.PrintState != "standby" {
		t.Errorf("state event = %+v", ev)
	}
	// Same print state again is not an event.
	r.Report(PrinterState{PrinterID: "pr-a", Online: true, PrintState: "standby", Progress: 0.1})
	r.Report(PrinterState{PrinterID: "pr-a", Online: true, PrintState: "printing"})
	ev := recv(t, events)
	if ev.Type != EventStateChanged || ev.Previous == nil || ev.Previous.PrintState != "standby" {
		t.Errorf("expected standby -> printing, got %+v", ev)
	}

	r.Disconnect("pr-a")
	if ev := recv(t, events); ev.Type != EventDisconnected {
		t.Errorf("disconnect event = %+v", ev)
	}
	if r.IsResourceReachable("pr-a") {
		t.Error("disconnected printer should be unreachable")
	}
	if len(r.Snapshot()) != 0 {
		t.Error("disconnect should remove the entry")
	}

	r.Close()
	if _, ok := <-events; ok {
		t.Error("Close should close subscriber channels")
	}
	r.Connect("pr-b")
	if r.IsResourceReachable("pr-b") {
		t.Error("closed registry must ignore connects")
	}
	r.Close()

	late, _ := r.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("subscribing to a closed registry yields a closed channel")
	}
}

func TestRegistryOfflineReportRemovesEntry(t *testing.T) {
	r := NewRegistry()
	r.Report(PrinterState{PrinterID: "pr-a", Online: true})
	r.Report(PrinterState{PrinterID: "pr-a", Online: false, Error: "timeout"})
	if r.IsResourceReachable("pr-a") {
		t.Error("offline report should make the printer unreachable")
	}
	if _, ok := r.State("pr-a"); ok {
		t.Error("offline report should drop the entry")
	}
}

func TestRegistryHeartbeat(t *testing.T) {
	r := NewRegistry()
	r.SetHeartbeat(5 * time.Minute)
	events, unsubscribe := r.Subscribe(16)
	defer unsubscribe()

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	idle := func(m int) {
		r.Report(PrinterState{PrinterID: "pr-a", Online: true, PrintState: "standby", UpdatedAt: start.Add(time.Duration(m) * time.Minute)})
	}
	idle(0)
	if ev := recv(t, events); ev.Type != EventConnected {
		t.Fatalf("first observation = %+v", ev)
	}
	for m := 1; m < 5; m++ {
		idle(m)
	}
	idle(5)
	ev := recv(t, events)
	if ev.Type != EventHeartbeat || !ev.State.UpdatedAt.Equal(start.Add(5*time.Minute)) {
		t.Errorf("expected heartbeat at 10:05, got %+v", ev)
	}
	select {
	case ev := <-events:
		t.Errorf("reports inside the interval should be quiet, got %+v", ev)
	default:
	}

	r.SetHeartbeat(0)
	idle(6)
	if ev := recv(t, events); ev.Type != EventHeartbeat {
		t.Errorf("zero interval publishes every observation, got %+v", ev)
	}
}

func TestRegistrySnapshotOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"pr-c", "pr-a", "pr-b"} {
		r.Connect(id)
	}
	snap := r.Snapshot()
	if len(snap) != 3 || snap[0].PrinterID != "pr-a" || snap[2].PrinterID != "pr-c" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestRegistrySlowSubscriberDoesNotBlock(t *testing.T) {
	r := NewRegistry()
	_, unsubscribe := r.Subscribe(1)
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			r.Connect("pr-a")
			r.Disconnect("pr-a")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestRegistryConcurrentUse(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := []string{"pr-a", "pr-b"}[i%2]
			for j := 0; j < 50; j++ {
				r.Report(PrinterState{PrinterID: id, Online: j%3 != 0, PrintState: "printing"})
				_ = r.IsResourceReachable(id)
				_ = r.Snapshot()
			}
		}(i)
	}
	wg.Wait()
	r.Close()
}
