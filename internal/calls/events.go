package calls

import "sync"

// EventKind tags the UI-facing events produced by the service.
type EventKind string

const (
	// EventIncoming announces a new inbound call invitation.
	EventIncoming EventKind = "incoming-call"
	// EventState reports a session-state change.
	EventState EventKind = "call-state"
	// EventRemoteMedia reports that remote media became available.
	EventRemoteMedia EventKind = "remote-media"
	// EventEnded reports a terminal transition with its reason. Errors that
	// occur after a call is connecting/connected surface only here.
	EventEnded EventKind = "call-ended"
)

// Event is delivered to subscribers of a user's event feed.
type Event struct {
	Kind   EventKind    `json:"kind"`
	CallID string       `json:"call_id"`
	State  SessionState `json:"state,omitempty"`
	Reason EndReason    `json:"reason,omitempty"`
	Record *CallRecord  `json:"record,omitempty"`
	Offer  string       `json:"offer,omitempty"`
}

// eventHub fans events out to per-user subscribers (websocket feeds, tests).
// Handlers are invoked inline and must not block.
type eventHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Event)
}

func newEventHub() *eventHub {
	return &eventHub{subs: make(map[string]map[int]func(Event))}
}

func (h *eventHub) subscribe(userID string, fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[int]func(Event))
	}
	h.subs[userID][id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[userID], id)
			if len(h.subs[userID]) == 0 {
				delete(h.subs, userID)
			}
			h.mu.Unlock()
		})
	}
}

func (h *eventHub) emit(userID string, ev Event) {
	h.mu.RLock()
	fns := make([]func(Event), 0, len(h.subs[userID]))
	for _, fn := range h.subs[userID] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
