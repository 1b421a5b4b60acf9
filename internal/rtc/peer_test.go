package rtc

import (
	"context"
	"strings"
	"testing"

	"freightline/internal/calls"
)

func newTestPeer(t *testing.T, callType calls.CallType) calls.Peer {
	t.Helper()
	f := NewFactory(Config{}, NewStaticSource(), nil)
	p, err := f.NewPeer(context.Background(), callType, calls.PeerHandlers{})
	if err != nil {
		t.Fatalf("new peer: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestOfferAnswerExchange(t *testing.T) {
	ctx := context.Background()
	caller := newTestPeer(t, calls.CallTypeAudio)
	callee := newTestPeer(t, calls.CallTypeAudio)

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if !strings.Contains(offer, `"offer"`) {
		t.Fatalf("offer payload does not carry its type: %s", offer)
	}

	answer, err := callee.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}
	if !strings.Contains(answer, `"answer"`) {
		t.Fatalf("answer payload does not carry its type: %s", answer)
	}

	if err := caller.AcceptAnswer(ctx, answer); err != nil {
		t.Fatalf("accept answer: %v", err)
	}
}

func TestAcceptAnswerRequiresOutstandingOffer(t *testing.T) {
	ctx := context.Background()
	caller := newTestPeer(t, calls.CallTypeAudio)
	callee := newTestPeer(t, calls.CallTypeAudio)

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	answer, err := callee.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}

	// The callee generated the answer; it has no local offer outstanding.
	if err := callee.AcceptAnswer(ctx, answer); err == nil {
		t.Fatalf("expected error applying answer without an offer")
	}
}

func TestAcceptOfferRejectsWrongType(t *testing.T) {
	ctx := context.Background()
	caller := newTestPeer(t, calls.CallTypeAudio)
	callee := newTestPeer(t, calls.CallTypeAudio)
	other := newTestPeer(t, calls.CallTypeAudio)

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	answer, err := callee.AcceptOffer(ctx, offer)
	if err != nil {
		t.Fatalf("accept offer: %v", err)
	}

	if _, err := other.AcceptOffer(ctx, answer); err == nil {
		t.Fatalf("expected error applying an answer as offer")
	}
	if _, err := other.AcceptOffer(ctx, "not json"); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestEarlyRemoteCandidateIsQueued(t *testing.T) {
	ctx := context.Background()
	caller := newTestPeer(t, calls.CallTypeAudio)
	callee := newTestPeer(t, calls.CallTypeAudio)

	cand := `{"candidate":"candidate:1 1 udp 2130706431 127.0.0.1 54321 typ host","sdpMid":"0","sdpMLineIndex":0}`

	// Before any remote description the candidate must be held, not rejected.
	if err := callee.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("early candidate: %v", err)
	}

	offer, err := caller.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if _, err := callee.AcceptOffer(ctx, offer); err != nil {
		t.Fatalf("accept offer with queued candidate: %v", err)
	}

	// After the description, candidates apply directly.
	if err := callee.AddRemoteCandidate(cand); err != nil {
		t.Fatalf("late candidate: %v", err)
	}
	if err := callee.AddRemoteCandidate("not json"); err == nil {
		t.Fatalf("expected error for malformed candidate")
	}
}

func TestTogglesAndCaptureLifecycle(t *testing.T) {
	p := newTestPeer(t, calls.CallTypeVideo)

	if !p.CaptureActive() {
		t.Fatalf("capture should be active after creation")
	}
	if muted := p.ToggleAudio(); !muted {
		t.Fatalf("first audio toggle should mute")
	}
	if muted := p.ToggleAudio(); muted {
		t.Fatalf("second audio toggle should unmute")
	}
	if off := p.ToggleVideo(); !off {
		t.Fatalf("first video toggle should disable")
	}

	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if p.CaptureActive() {
		t.Fatalf("capture still active after close")
	}
	if err := p.Close(); err != nil {
		t.Fatalf("repeated close: %v", err)
	}
}

func TestAudioCallAcquiresNoVideoTrack(t *testing.T) {
	tracks, err := NewStaticSource().Acquire(context.Background(), calls.CallTypeAudio)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if tracks.Audio == nil || tracks.Video != nil {
		t.Fatalf("audio acquisition: audio=%v video=%v", tracks.Audio != nil, tracks.Video != nil)
	}

	tracks, err = NewStaticSource().Acquire(context.Background(), calls.CallTypeVideo)
	if err != nil {
		t.Fatalf("acquire video: %v", err)
	}
	if tracks.Video == nil {
		t.Fatalf("video acquisition returned no video track")
	}
}

func TestHasRelayFallback(t *testing.T) {
	if (Config{STUNServers: []string{"stun:stun.l.google.com:19302"}}).HasRelayFallback() {
		t.Fatalf("stun-only config reported a relay")
	}
	if !(Config{STUNServers: []string{"stun:a", "turn:relay.example.com:3478"}}).HasRelayFallback() {
		t.Fatalf("turn endpoint not detected")
	}
}
