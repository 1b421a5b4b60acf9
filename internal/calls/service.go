package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"freightline/internal/relay"

	"github.com/google/uuid"
)

// Config carries call-subsystem tunables.
type Config struct {
	// RingTimeout bounds how long a call may stay ringing before it is
	// recorded as missed.
	RingTimeout time.Duration
}

// SlotGuard enforces one active call per user across API instances.
// A nil guard means single-instance enforcement via the session map only.
type SlotGuard interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// Service orchestrates call signaling and session lifecycle. It is the only
// surface the UI layer talks to: Initiate, Answer, Decline, Hangup, the
// toggles and the event/incoming subscriptions.
type Service struct {
	repo  Repository
	bus   relay.Bus
	peers PeerFactory
	guard SlotGuard
	hub   *eventHub
	log   *slog.Logger
	cfg   Config
	clock func() time.Time

	mu       sync.Mutex
	sessions map[string]*session // keyed by sessionKey(callID, userID)
	active   map[string]string   // userID -> callID
}

func NewService(repo Repository, bus relay.Bus, peers PeerFactory, cfg Config, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 45 * time.Second
	}
	return &Service{
		repo:     repo,
		bus:      bus,
		peers:    peers,
		hub:      newEventHub(),
		log:      log,
		cfg:      cfg,
		clock:    time.Now,
		sessions: make(map[string]*session),
		active:   make(map[string]string),
	}
}

// WithSlotGuard attaches cross-instance single-call enforcement.
func (s *Service) WithSlotGuard(g SlotGuard) *Service {
	s.guard = g
	return s
}

/* ===================== INITIATE ===================== */

// Initiate acquires local media, creates the ringing record, opens a peer
// session, publishes the offer on the call channel and the invitation on the
// callee's inbox. Media errors abort before any record is created.
func (s *Service) Initiate(ctx context.Context, callerID, calleeID, conversationID string, t CallType) (CallRecord, LocalMedia, error) {
	if callerID == "" || calleeID == "" || callerID == calleeID || !t.Valid() {
		return CallRecord{}, nil, ErrInvalidArgument
	}

	callID := uuid.NewString()
	sess := newSession(callID, callerID, calleeID, t)
	if err := s.register(ctx, sess); err != nil {
		return CallRecord{}, nil, err
	}

	// Media acquisition is the slow step: it can block on a permission
	// prompt while the session is torn down from another goroutine.
	peer, err := s.peers.NewPeer(ctx, t, s.peerHandlers(sess))
	if err != nil {
		s.unregister(sess)
		return CallRecord{}, nil, err
	}
	if !sess.setPeer(peer) {
		s.unregister(sess)
		return CallRecord{}, nil, &StaleCallError{CallID: callID, State: sess.machine.State(), Op: "initiate"}
	}

	now := s.clock().UTC()
	rec := CallRecord{
		ID:             callID,
		CallerID:       callerID,
		CalleeID:       calleeID,
		ConversationID: conversationID,
		Type:           t,
		Status:         CallStatusRinging,
		StartedAt:      now,
	}
	if err := s.repo.CreateCall(ctx, rec); err != nil {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, fmt.Errorf("create call record: %w", err)
	}

	// Subscribe before publishing anything: a missed subscription would
	// silently drop the first inbound message for this call.
	if err := s.attachChannel(sess); err != nil {
		s.abortSetup(ctx, sess, now)
		return CallRecord{}, nil, fmt.Errorf("subscribe call channel: %w", err)
	}

	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		s.abortSetup(ctx, sess, now)
		return CallRecord{}, nil, fmt.Errorf("create offer: %w", err)
	}
	if sess.cancelled.Load() {
		s.unregister(sess)
		return CallRecord{}, nil, &StaleCallError{CallID: callID, State: sess.machine.State(), Op: "initiate"}
	}

	if err := s.sendSignal(ctx, sess, SignalOffer, offer); err != nil {
		s.abortSetup(ctx, sess, now)
		return CallRecord{}, nil, fmt.Errorf("publish offer: %w", err)
	}
	s.flushCandidates(sess)

	// Invitation on the callee inbox carries the record; the subscriber
	// fetches the offer from the signal log.
	payload, err := json.Marshal(rec)
	if err != nil {
		s.log.Error("invitation marshal failed", "call_id", callID, "err", err)
	} else if err := s.bus.Publish(ctx, relay.InboxChannel(calleeID), payload); err != nil {
		s.log.Warn("invitation publish failed", "call_id", callID, "err", err)
	}

	sess.setRingTimer(time.AfterFunc(s.cfg.RingTimeout, func() {
		s.timeoutRinging(sess)
	}))

	s.log.Info("call initiated", "call_id", callID, "caller_id", callerID, "callee_id", calleeID, "type", t)
	return rec, peer, nil
}

/* ===================== ANSWER ===================== */

// Answer acquires local media, applies the received offer, publishes the
// answer and flips the record to answered. The stale check runs after media
// acquisition since acquisition is the slow step that a concurrent hangup
// can race with.
func (s *Service) Answer(ctx context.Context, callID, userID, callerID string, t CallType, offerPayload string) (CallRecord, LocalMedia, error) {
	if callID == "" || userID == "" || callerID == "" || offerPayload == "" || !t.Valid() {
		return CallRecord{}, nil, ErrInvalidArgument
	}

	sess := newSession(callID, userID, callerID, t)
	if err := s.register(ctx, sess); err != nil {
		return CallRecord{}, nil, err
	}

	peer, err := s.peers.NewPeer(ctx, t, s.peerHandlers(sess))
	if err != nil {
		s.unregister(sess)
		return CallRecord{}, nil, err
	}
	if !sess.setPeer(peer) {
		s.unregister(sess)
		return CallRecord{}, nil, &StaleCallError{CallID: callID, State: sess.machine.State(), Op: "answer"}
	}

	rec, err := s.repo.GetCall(ctx, callID)
	if err != nil {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, err
	}
	if rec.CalleeID != userID {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, ErrInvalidArgument
	}
	if rec.Status.Terminal() {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, &StaleCallError{CallID: callID, State: SessionState(rec.Status), Op: "answer"}
	}

	if err := sess.machine.Transition("answer", StateConnecting); err != nil {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, err
	}

	if err := s.attachChannel(sess); err != nil {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, fmt.Errorf("subscribe call channel: %w", err)
	}

	answer, err := peer.AcceptOffer(ctx, offerPayload)
	if err != nil {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, fmt.Errorf("accept offer: %w", err)
	}

	now := s.clock().UTC()
	applied, err := s.repo.MarkAnswered(ctx, callID, now)
	if err != nil {
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, err
	}
	if !applied {
		// The caller hung up while we were acquiring media or negotiating.
		sess.close()
		s.unregister(sess)
		return CallRecord{}, nil, &StaleCallError{CallID: callID, State: StateEnded, Op: "answer"}
	}

	if err := s.sendSignal(ctx, sess, SignalAnswer, answer); err != nil {
		s.log.Warn("answer publish failed", "call_id", callID, "err", err)
	}
	s.flushCandidates(sess)

	// Candidates the caller trickled while this side was still ringing were
	// dropped by the relay (no replay); recover them from the signal log.
	// Re-adding one that also arrived live is harmless.
	if cands, err := s.repo.CandidatesFor(ctx, callID, rec.CallerID); err != nil {
		s.log.Warn("candidate replay failed", "call_id", callID, "err", err)
	} else {
		for _, c := range cands {
			if err := peer.AddRemoteCandidate(c.Payload); err != nil {
				s.log.Warn("replayed candidate rejected", "call_id", callID, "err", err)
			}
		}
	}

	rec.Status = CallStatusAnswered
	rec.AnsweredAt = &now
	s.hub.emit(userID, Event{Kind: EventState, CallID: callID, State: StateConnecting})
	s.log.Info("call answered", "call_id", callID, "callee_id", userID)
	return rec, peer, nil
}

/* ===================== DECLINE / HANGUP ===================== */

// Decline rejects a ringing call. Only the callee may decline, and only
// while the call is still ringing: declining an answered call is stale, and
// declining a terminal call is a no-op.
func (s *Service) Decline(ctx context.Context, callID, userID, callerID string) error {
	if callID == "" || userID == "" {
		return ErrInvalidArgument
	}

	rec, err := s.repo.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if rec.CalleeID != userID {
		return ErrInvalidArgument
	}
	if callerID == "" {
		callerID = rec.CallerID
	}
	if rec.Status.Terminal() {
		return nil
	}

	now := s.clock().UTC()
	sig := SignalMessage{
		ID:         uuid.NewString(),
		CallID:     callID,
		FromUserID: userID,
		ToUserID:   callerID,
		Type:       SignalHangup,
		Payload:    string(EndReasonDeclined),
		CreatedAt:  now,
	}
	applied, err := s.repo.DeclineCall(ctx, callID, now, sig)
	if err != nil {
		return err
	}
	if !applied {
		// The record left ringing between the read and the write.
		current, err := s.repo.GetCall(ctx, callID)
		if err == nil && current.Status.Terminal() {
			return nil
		}
		return &StaleCallError{CallID: callID, State: StateConnecting, Op: "decline"}
	}

	s.publishSignal(ctx, sig)

	s.closeLocal(callID, userID, StateDeclined)
	s.hub.emit(userID, Event{Kind: EventEnded, CallID: callID, Reason: EndReasonDeclined})
	s.log.Info("call declined", "call_id", callID, "user_id", userID)
	return nil
}

// Hangup terminates a call from either side, computing duration from
// AnsweredAt when present. Always succeeds even while media acquisition or
// negotiation is still in flight; repeated hangups are no-ops.
func (s *Service) Hangup(ctx context.Context, callID, userID, otherUserID string, reason EndReason) error {
	if callID == "" || userID == "" {
		return ErrInvalidArgument
	}
	if reason == "" {
		reason = EndReasonHangup
	}

	rec, err := s.repo.GetCall(ctx, callID)
	if err != nil {
		return err
	}
	if userID != rec.CallerID && userID != rec.CalleeID {
		return ErrInvalidArgument
	}
	if otherUserID == "" {
		otherUserID = rec.Other(userID)
	}

	now := s.clock().UTC()
	status := statusFor(reason)
	var duration *int
	if rec.AnsweredAt != nil {
		// An answered call always finalizes as ended; declined and missed
		// describe calls that never connected, whatever reason the request
		// carried.
		status = CallStatusEnded
		d := int(now.Sub(*rec.AnsweredAt).Seconds())
		duration = &d
	}

	sig := SignalMessage{
		ID:         uuid.NewString(),
		CallID:     callID,
		FromUserID: userID,
		ToUserID:   otherUserID,
		Type:       SignalHangup,
		Payload:    string(reason),
		CreatedAt:  now,
	}
	applied, err := s.repo.FinalizeWithSignal(ctx, callID, status, now, duration, sig)
	if err != nil {
		return err
	}
	// Local cleanup runs regardless: even when another exit path won the
	// terminal write, resources on this side must still be released.
	s.closeLocal(callID, userID, StateEnded)
	if !applied {
		return nil
	}

	s.publishSignal(ctx, sig)

	s.hub.emit(userID, Event{Kind: EventEnded, CallID: callID, Reason: reason})
	s.log.Info("call hung up", "call_id", callID, "user_id", userID, "reason", reason)
	return nil
}

/* ===================== SUBSCRIPTIONS ===================== */

// SubscribeIncoming attaches onIncoming to userID's inbox. For each ringing
// record addressed to the user, the associated offer is fetched and both are
// handed to the callback. The subscription must be active before calls can
// target the user; an invitation published earlier is never replayed.
func (s *Service) SubscribeIncoming(userID string, onIncoming func(CallRecord, string)) (func(), error) {
	if userID == "" || onIncoming == nil {
		return nil, ErrInvalidArgument
	}
	return s.bus.Subscribe(relay.InboxChannel(userID), func(payload []byte) {
		var rec CallRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			s.log.Warn("bad invitation payload", "user_id", userID, "err", err)
			return
		}
		if rec.CalleeID != userID || rec.Status != CallStatusRinging {
			return
		}
		sig, err := s.repo.OfferFor(context.Background(), rec.ID)
		if err != nil {
			s.log.Warn("offer lookup failed", "call_id", rec.ID, "err", err)
			return
		}
		onIncoming(rec, sig.Payload)
	})
}

// SubscribeEvents attaches fn to userID's UI event feed. fn must not block.
func (s *Service) SubscribeEvents(userID string, fn func(Event)) func() {
	return s.hub.subscribe(userID, fn)
}

/* ===================== LOCAL CONTROLS ===================== */

// ToggleMute flips the local audio track of the user's session for callID.
// Pure local state, no signaling traffic. Returns the new muted state.
func (s *Service) ToggleMute(callID, userID string) (bool, error) {
	sess := s.lookup(callID, userID)
	if sess == nil {
		return false, ErrNotFound
	}
	peer := sess.getPeer()
	if peer == nil {
		return false, ErrNotFound
	}
	return peer.ToggleAudio(), nil
}

// ToggleVideo flips the local video track. Returns the new disabled state.
func (s *Service) ToggleVideo(callID, userID string) (bool, error) {
	sess := s.lookup(callID, userID)
	if sess == nil {
		return false, ErrNotFound
	}
	peer := sess.getPeer()
	if peer == nil {
		return false, ErrNotFound
	}
	return peer.ToggleVideo(), nil
}

func (s *Service) GetCall(ctx context.Context, callID string) (CallRecord, error) {
	return s.repo.GetCall(ctx, callID)
}

func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByUser(ctx, userID, limit)
}

// Shutdown hangs up every active session, e.g. on SIGTERM.
func (s *Service) Shutdown(ctx context.Context) {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		if err := s.Hangup(ctx, sess.callID, sess.selfID, sess.otherID, EndReasonConnectionLost); err != nil {
			s.log.Warn("shutdown hangup failed", "call_id", sess.callID, "err", err)
		}
	}
}

/* ===================== INBOUND SIGNALS ===================== */

// handleSignal processes one inbound message from the call channel.
// Multiple signals can arrive concurrently (a candidate racing a hangup);
// every branch checks session state before acting, and anything arriving
// after a terminal transition is a no-op.
func (s *Service) handleSignal(sess *session, payload []byte) {
	var sig SignalMessage
	if err := json.Unmarshal(payload, &sig); err != nil {
		s.log.Warn("bad signal payload", "call_id", sess.callID, "err", err)
		return
	}
	if sig.FromUserID == sess.selfID {
		return // own publish echoed back
	}
	if sess.machine.Terminal() {
		return
	}

	switch sig.Type {
	case SignalAnswer:
		if err := sess.machine.Transition("apply answer", StateConnecting); err != nil {
			return
		}
		peer := sess.getPeer()
		if peer == nil {
			return
		}
		if err := peer.AcceptAnswer(context.Background(), sig.Payload); err != nil {
			s.log.Error("apply answer failed", "call_id", sess.callID, "err", err)
			s.endAsync(sess, EndReasonConnectionLost)
			return
		}
		s.hub.emit(sess.selfID, Event{Kind: EventState, CallID: sess.callID, State: StateConnecting})

	case SignalCandidate:
		peer := sess.getPeer()
		if peer == nil {
			return
		}
		if err := peer.AddRemoteCandidate(sig.Payload); err != nil {
			s.log.Warn("apply candidate failed", "call_id", sess.callID, "err", err)
		}

	case SignalHangup:
		reason := EndReason(sig.Payload)
		if reason == "" {
			reason = EndReasonHangup
		}
		now := s.clock().UTC()
		var duration *int
		if rec, err := s.repo.GetCall(context.Background(), sess.callID); err == nil && rec.AnsweredAt != nil {
			d := int(now.Sub(*rec.AnsweredAt).Seconds())
			duration = &d
		}
		if _, err := s.repo.Finalize(context.Background(), sess.callID, statusFor(reason), now, duration); err != nil {
			s.log.Warn("finalize on remote hangup failed", "call_id", sess.callID, "err", err)
		}
		s.closeLocal(sess.callID, sess.selfID, stateFor(reason))
		s.hub.emit(sess.selfID, Event{Kind: EventEnded, CallID: sess.callID, Reason: reason})

	case SignalOffer:
		// Offers reach the callee through the inbox invitation; on the call
		// channel they are only the echo of our own publish.
	}
}

/* ===================== PEER CALLBACKS ===================== */

func (s *Service) peerHandlers(sess *session) PeerHandlers {
	return PeerHandlers{
		OnCandidate: func(payload string) {
			if sess.machine.Terminal() {
				return
			}
			// Candidates discovered before the local description is
			// published are held back so emission order is preserved.
			if sess.holdCandidate(payload) {
				return
			}
			s.forwardCandidate(sess, payload)
		},
		OnConnectionChange: func(st ConnState) {
			switch st {
			case ConnStateConnected:
				if err := sess.machine.Transition("transport connected", StateConnected); err != nil {
					return
				}
				s.hub.emit(sess.selfID, Event{Kind: EventState, CallID: sess.callID, State: StateConnected})
			case ConnStateFailed, ConnStateDisconnected:
				if sess.machine.Terminal() {
					return
				}
				s.endAsync(sess, EndReasonConnectionLost)
			}
		},
		OnRemoteMedia: func() {
			s.hub.emit(sess.selfID, Event{Kind: EventRemoteMedia, CallID: sess.callID})
		},
	}
}

// endAsync terminates a call from an asynchronous failure path. No caller is
// waiting, so the outcome surfaces only as an Ended event.
func (s *Service) endAsync(sess *session, reason EndReason) {
	if err := s.Hangup(context.Background(), sess.callID, sess.selfID, sess.otherID, reason); err != nil {
		s.log.Error("async teardown failed", "call_id", sess.callID, "err", err)
	}
}

// timeoutRinging fires when a call stays ringing past the configured bound.
func (s *Service) timeoutRinging(sess *session) {
	if sess.machine.State() != StateRinging {
		return
	}
	s.log.Info("call ring timeout", "call_id", sess.callID)
	s.endAsync(sess, EndReasonMissed)
}

/* ===================== INTERNAL PLUMBING ===================== */

// register claims the user's single active-call slot and indexes the session.
func (s *Service) register(ctx context.Context, sess *session) error {
	s.mu.Lock()
	if _, busy := s.active[sess.selfID]; busy {
		s.mu.Unlock()
		return ErrCallInProgress
	}
	s.active[sess.selfID] = sess.callID
	s.sessions[sess.key] = sess
	s.mu.Unlock()

	if s.guard != nil {
		ok, err := s.guard.Acquire(ctx, sess.selfID)
		if err != nil || !ok {
			s.unregister(sess)
			if err != nil {
				return fmt.Errorf("call slot: %w", err)
			}
			return ErrCallInProgress
		}
	}
	return nil
}

func (s *Service) unregister(sess *session) {
	s.mu.Lock()
	if s.active[sess.selfID] == sess.callID {
		delete(s.active, sess.selfID)
	}
	delete(s.sessions, sess.key)
	s.mu.Unlock()

	if s.guard != nil {
		if err := s.guard.Release(context.Background(), sess.selfID); err != nil {
			s.log.Warn("call slot release failed", "user_id", sess.selfID, "err", err)
		}
	}
}

func (s *Service) lookup(callID, userID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[sessionKey(callID, userID)]
}

// closeLocal transitions the session machine to a terminal state and runs
// the idempotent teardown. Missing sessions are fine: decline before answer
// never opened one on this side.
func (s *Service) closeLocal(callID, userID string, terminal SessionState) {
	sess := s.lookup(callID, userID)
	if sess == nil {
		return
	}
	if err := sess.machine.Transition("teardown", terminal); err != nil && !sess.machine.Terminal() {
		// Force the absorbing state; ended is reachable from everywhere.
		_ = sess.machine.Transition("teardown", StateEnded)
	}
	sess.close()
	s.unregister(sess)
}

func (s *Service) attachChannel(sess *session) error {
	unsub, err := s.bus.Subscribe(relay.CallChannel(sess.callID), func(p []byte) {
		s.handleSignal(sess, p)
	})
	if err != nil {
		return err
	}
	sess.setUnsub(unsub)
	return nil
}

// sendSignal appends a protocol message to the audit log and publishes it on
// the call channel.
func (s *Service) sendSignal(ctx context.Context, sess *session, t SignalType, payload string) error {
	sig := SignalMessage{
		ID:         uuid.NewString(),
		CallID:     sess.callID,
		FromUserID: sess.selfID,
		ToUserID:   sess.otherID,
		Type:       t,
		Payload:    payload,
		CreatedAt:  s.clock().UTC(),
	}
	if err := s.repo.AppendSignal(ctx, sig); err != nil {
		return err
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, relay.CallChannel(sess.callID), data)
}

// publishSignal puts an already-persisted signal on the call channel.
// Hangup signals reach the log atomically with the terminal status write, so
// only the relay publish happens here.
func (s *Service) publishSignal(ctx context.Context, sig SignalMessage) {
	data, err := json.Marshal(sig)
	if err != nil {
		return
	}
	if err := s.bus.Publish(ctx, relay.CallChannel(sig.CallID), data); err != nil {
		s.log.Warn("signal publish failed", "call_id", sig.CallID, "type", sig.Type, "err", err)
	}
}

func (s *Service) flushCandidates(sess *session) {
	for _, payload := range sess.descriptionPublished() {
		s.forwardCandidate(sess, payload)
	}
}

func (s *Service) forwardCandidate(sess *session, payload string) {
	if err := s.sendSignal(context.Background(), sess, SignalCandidate, payload); err != nil {
		s.log.Warn("candidate publish failed", "call_id", sess.callID, "err", err)
	}
}

// abortSetup unwinds a partially initiated call: the record exists but the
// offer never reached the callee. Cleanup proceeds to completion even though
// it is itself triggered by an error.
func (s *Service) abortSetup(ctx context.Context, sess *session, now time.Time) {
	if _, err := s.repo.Finalize(ctx, sess.callID, CallStatusEnded, now, nil); err != nil {
		s.log.Warn("abort finalize failed", "call_id", sess.callID, "err", err)
	}
	sess.close()
	s.unregister(sess)
}

func stateFor(reason EndReason) SessionState {
	switch reason {
	case EndReasonDeclined:
		return StateDeclined
	case EndReasonMissed:
		return StateMissed
	default:
		return StateEnded
	}
}
