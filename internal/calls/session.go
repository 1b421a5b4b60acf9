package calls

import (
	"sync"
	"sync/atomic"
	"time"
)

// session is the in-memory state for one side of one call attempt.
// The service holds a map keyed by (callID, user) rather than mutable
// instance fields, so concurrent calls on one process cannot corrupt each
// other. The participant pair is resolved once at session start and cached;
// outbound candidates never re-query the record.
type session struct {
	key      string
	callID   string
	selfID   string
	otherID  string
	callType CallType

	machine *Machine

	// cancelled is checked by in-flight async work (media acquisition,
	// negotiation) after it completes; once set, results are discarded and
	// acquired resources released instead of proceeding.
	cancelled atomic.Bool

	mu sync.Mutex
	// peer is nil until media acquisition completes.
	peer Peer
	// descriptionSent gates outbound candidates: the local description is
	// always fully published before any candidate from this side.
	descriptionSent bool
	pendingOut      []string
	unsub           func()
	ringTimer       *time.Timer

	closeOnce sync.Once
}

func sessionKey(callID, userID string) string {
	return callID + "|" + userID
}

func newSession(callID, selfID, otherID string, t CallType) *session {
	return &session{
		key:      sessionKey(callID, selfID),
		callID:   callID,
		selfID:   selfID,
		otherID:  otherID,
		callType: t,
		machine:  NewMachine(callID),
	}
}

// setPeer attaches the peer produced by media acquisition. When teardown
// already ran the close path never saw this peer, so it is released here and
// false is returned; the acquisition path must not proceed with it.
func (s *session) setPeer(p Peer) bool {
	s.mu.Lock()
	if s.cancelled.Load() {
		s.mu.Unlock()
		_ = p.Close()
		return false
	}
	s.peer = p
	s.mu.Unlock()
	return true
}

func (s *session) getPeer() Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

func (s *session) setUnsub(fn func()) {
	s.mu.Lock()
	s.unsub = fn
	s.mu.Unlock()
}

func (s *session) setRingTimer(t *time.Timer) {
	s.mu.Lock()
	s.ringTimer = t
	s.mu.Unlock()
}

// holdCandidate queues payload if the local description has not been
// published yet. Returns true when queued, false when the caller should
// forward it immediately. Each candidate takes exactly one of the two paths.
func (s *session) holdCandidate(payload string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.descriptionSent {
		return false
	}
	s.pendingOut = append(s.pendingOut, payload)
	return true
}

// descriptionPublished marks the local description as sent and drains the
// queue of candidates gathered in the meantime, in discovery order.
func (s *session) descriptionPublished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.descriptionSent = true
	out := s.pendingOut
	s.pendingOut = nil
	return out
}

// close runs the single teardown path: cancel outstanding work, stop the
// ring timer, drop the relay subscription and release the transport and
// capture. Idempotent; success, decline, hangup, error and connection
// failure all funnel through here.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.cancelled.Store(true)

		s.mu.Lock()
		timer := s.ringTimer
		unsub := s.unsub
		peer := s.peer
		s.ringTimer = nil
		s.unsub = nil
		s.mu.Unlock()

		if timer != nil {
			timer.Stop()
		}
		if unsub != nil {
			unsub()
		}
		if peer != nil {
			_ = peer.Close()
		}
	})
}
