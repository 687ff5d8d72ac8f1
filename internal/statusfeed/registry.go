// Package statusfeed tracks which printers are reachable and what they are
// printing.
//
// A Registry holds the live view. It is fed either by a Poller that queries
// every printer's Moonraker HTTP API on an interval, or by one Watcher per
// printer holding a Moonraker websocket open. Subscribers receive every state
// change; the scheduler only asks IsResourceReachable.
package statusfeed

import (
	"sort"
	"sync"
	"time"

	"github.com/printfleet/printfleet/internal/debug"
)

// PrinterState is the last observation of one printer.
type PrinterState struct {
	PrinterID  string    `json:"printer_id"`
	Online     bool      `json:"online"`
	PrintState string    `json:"print_state,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	Progress   float64   `json:"progress,omitempty"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// EventType classifies registry events.
type EventType string

const (
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventStateChanged EventType = "state_changed"
	EventHeartbeat    EventType = "heartbeat"
)

// Event is delivered to subscribers. Previous is nil for the first
// observation of a printer.
type Event struct {
	Type     EventType     `json:"type"`
	State    PrinterState  `json:"state"`
	Previous *PrinterState `json:"previous,omitempty"`
}

// DefaultSubscriberBuffer is used when Subscribe is given a non-positive size.
const DefaultSubscriberBuffer = 64

// DefaultHeartbeat is how often an unchanged online printer is re-published.
const DefaultHeartbeat = time.Minute

// Registry is the process-wide connection table. It is created at daemon
// start, gains and loses entries as printers connect and disconnect, and is
// torn down by Close, which also closes every subscriber channel.
type Registry struct {
	mu        sync.RWMutex
	states    map[string]*PrinterState
	published map[string]time.Time
	subs      map[int]chan Event
	nextSub   int
	closed    bool
	heartbeat time.Duration
	now       func() time.Time
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		states:    make(map[string]*PrinterState),
		published: make(map[string]time.Time),
		subs:      make(map[int]chan Event),
		heartbeat: DefaultHeartbeat,
		now:       time.Now,
	}
}

// SetHeartbeat sets how long an online printer may go unchanged before
// Report publishes an EventHeartbeat for it. Zero publishes every
// observation.
func (r *Registry) SetHeartbeat(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d < 0 {
		d = 0
	}
	r.heartbeat = d
}

// Connect records that a live connection to the printer exists.
func (r *Registry) Connect(printerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	prev := r.states[printerID]
	next := PrinterState{PrinterID: printerID, Online: true, UpdatedAt: r.now()}
	if prev != nil {
		if prev.Online {
			return
		}
		next.PrintState = prev.PrintState
	}
	r.states[printerID] = &next
	r.publish(Event{Type: EventConnected, State: next, Previous: clonePtr(prev)})
}

// Disconnect removes the printer's entry. It is unreachable afterwards.
func (r *Registry) Disconnect(printerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	prev, ok := r.states[printerID]
	if !ok {
		return
	}
	delete(r.states, printerID)
	gone := PrinterState{PrinterID: printerID, UpdatedAt: r.now()}
	r.publish(Event{Type: EventDisconnected, State: gone, Previous: clonePtr(prev)})
}

// Report stores an observation. Offline observations remove the entry the way
// Disconnect does. Subscribers hear about it when reachability or print state
// changed, and otherwise once per heartbeat interval so stored status does
// not go stale while a printer sits idle.
func (r *Registry) Report(s PrinterState) {
	if !s.Online {
		r.Disconnect(s.PrinterID)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = r.now()
	}
	prev := r.states[s.PrinterID]
	r.states[s.PrinterID] = &s
	switch {
	case prev == nil:
		r.publish(Event{Type: EventConnected, State: s})
	case prev.PrintState != s.PrintState:
		r.publish(Event{Type: EventStateChanged, State: s, Previous: clonePtr(prev)})
	case s.UpdatedAt.Sub(r.published[s.PrinterID]) >= r.heartbeat:
		r.publish(Event{Type: EventHeartbeat, State: s, Previous: clonePtr(prev)})
	}
}

// IsResourceReachable reports whether the printer currently has a live entry.
func (r *Registry) IsResourceReachable(printerID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[printerID]
	return ok && s.Online
}

// State returns the printer's current entry.
func (r *Registry) State(printerID string) (PrinterState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[printerID]
	if !ok {
		return PrinterState{}, false
	}
	return *s, true
}

// Snapshot returns every entry ordered by printer ID.
func (r *Registry) Snapshot() []PrinterState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]PrinterState, 0, len(r.states))
	for _, s := range r.states {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrinterID < out[j].PrinterID })
	return out
}

// Subscribe returns a channel of future events and a function that
// unsubscribes. A subscriber that falls behind by more than buffer events
// loses the overflow. On a closed registry the channel is already closed.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		close(ch)
		return ch, func() {}
	}
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	return ch, func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if c, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(c)
		}
	}
}

// Close drops every entry and closes all subscriber channels. Safe to call
// more than once.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for id, ch := range r.subs {
		close(ch)
		delete(r.subs, id)
	}
	r.states = make(map[string]*PrinterState)
	r.published = make(map[string]time.Time)
}

// publish must be called with r.mu held.
func (r *Registry) publish(ev Event) {
	if ev.Type == EventDisconnected {
		delete(r.published, ev.State.PrinterID)
	} else {
		r.published[ev.State.PrinterID] = ev.State.UpdatedAt
	}
	for id, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			debug.Tagf("statusfeed", "subscriber %d is full, dropping %s for %s\n", id, ev.Type, ev.State.PrinterID)
		}
	}
}

func clonePtr(s *PrinterState) *PrinterState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
