package calls

import (
	"context"
	"testing"
	"time"
)

func seedCall(t *testing.T, r *MemoryRepo, id string) CallRecord {
	t.Helper()
	rec := CallRecord{
		ID:        id,
		CallerID:  "alice",
		CalleeID:  "bob",
		Type:      CallTypeAudio,
		Status:    CallStatusRinging,
		StartedAt: time.Now().UTC(),
	}
	if err := r.CreateCall(context.Background(), rec); err != nil {
		t.Fatalf("create call: %v", err)
	}
	return rec
}

func TestMarkAnsweredOnlyWhileRinging(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	rec := seedCall(t, r, "c1")
	now := time.Now().UTC()

	applied, err := r.MarkAnswered(ctx, rec.ID, now)
	if err != nil || !applied {
		t.Fatalf("first mark = (%v, %v), want (true, nil)", applied, err)
	}
	applied, err = r.MarkAnswered(ctx, rec.ID, now)
	if err != nil || applied {
		t.Fatalf("second mark = (%v, %v), want (false, nil)", applied, err)
	}
}

func TestFinalizeIsLastTerminalWins(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	rec := seedCall(t, r, "c1")
	now := time.Now().UTC()

	applied, err := r.Finalize(ctx, rec.ID, CallStatusEnded, now, nil)
	if err != nil || !applied {
		t.Fatalf("first finalize = (%v, %v), want (true, nil)", applied, err)
	}

	// A racing decline must not overwrite the terminal disposition.
	applied, err = r.Finalize(ctx, rec.ID, CallStatusDeclined, now, nil)
	if err != nil || applied {
		t.Fatalf("second finalize = (%v, %v), want (false, nil)", applied, err)
	}

	stored, _ := r.GetCall(ctx, rec.ID)
	if stored.Status != CallStatusEnded {
		t.Fatalf("status = %v, want ended", stored.Status)
	}

	// Answer racing a terminal write loses as well.
	if applied, _ := r.MarkAnswered(ctx, rec.ID, now); applied {
		t.Fatalf("answer applied to a terminal call")
	}
}

func TestDeclineCallOnlyWhileRinging(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	rec := seedCall(t, r, "c1")
	now := time.Now().UTC()

	if applied, _ := r.MarkAnswered(ctx, rec.ID, now); !applied {
		t.Fatalf("mark answered failed")
	}

	sig := SignalMessage{ID: "s1", CallID: rec.ID, Type: SignalHangup, Payload: "declined"}
	applied, err := r.DeclineCall(ctx, rec.ID, now, sig)
	if err != nil || applied {
		t.Fatalf("decline of answered call = (%v, %v), want (false, nil)", applied, err)
	}

	stored, _ := r.GetCall(ctx, rec.ID)
	if stored.Status != CallStatusAnswered || stored.AnsweredAt == nil {
		t.Fatalf("decline corrupted answered record: %+v", stored)
	}
	if len(r.Signals()) != 0 {
		t.Fatalf("rejected decline still appended its signal")
	}

	rec2 := seedCall(t, r, "c2")
	applied, err = r.DeclineCall(ctx, rec2.ID, now, SignalMessage{ID: "s2", CallID: rec2.ID, Type: SignalHangup})
	if err != nil || !applied {
		t.Fatalf("decline of ringing call = (%v, %v), want (true, nil)", applied, err)
	}
	stored, _ = r.GetCall(ctx, rec2.ID)
	if stored.Status != CallStatusDeclined || stored.EndedAt == nil {
		t.Fatalf("declined record: %+v", stored)
	}
}

func TestFinalizeWithSignalAppendsOnlyWhenApplied(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	rec := seedCall(t, r, "c1")
	now := time.Now().UTC()

	sig := SignalMessage{ID: "s1", CallID: rec.ID, Type: SignalHangup, Payload: "hangup"}
	applied, err := r.FinalizeWithSignal(ctx, rec.ID, CallStatusEnded, now, nil, sig)
	if err != nil || !applied {
		t.Fatalf("first finalize = (%v, %v), want (true, nil)", applied, err)
	}
	if len(r.Signals()) != 1 {
		t.Fatalf("signals = %d, want 1", len(r.Signals()))
	}

	applied, err = r.FinalizeWithSignal(ctx, rec.ID, CallStatusEnded, now, nil, SignalMessage{ID: "s2", CallID: rec.ID, Type: SignalHangup})
	if err != nil || applied {
		t.Fatalf("second finalize = (%v, %v), want (false, nil)", applied, err)
	}
	if len(r.Signals()) != 1 {
		t.Fatalf("no-op finalize appended a signal")
	}
}

func TestCandidatesForFiltersBySender(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seedCall(t, r, "c1")

	for _, s := range []SignalMessage{
		{ID: "s1", CallID: "c1", FromUserID: "alice", Type: SignalCandidate, Payload: "a1"},
		{ID: "s2", CallID: "c1", FromUserID: "bob", Type: SignalCandidate, Payload: "b1"},
		{ID: "s3", CallID: "c1", FromUserID: "alice", Type: SignalOffer, Payload: "offer"},
		{ID: "s4", CallID: "c1", FromUserID: "alice", Type: SignalCandidate, Payload: "a2"},
	} {
		if err := r.AppendSignal(ctx, s); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := r.CandidatesFor(ctx, "c1", "alice")
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(got) != 2 || got[0].Payload != "a1" || got[1].Payload != "a2" {
		t.Fatalf("candidates = %+v, want [a1 a2]", got)
	}
}

func TestOfferForReturnsFirstOffer(t *testing.T) {
	r := NewMemoryRepo()
	ctx := context.Background()
	seedCall(t, r, "c1")

	if _, err := r.OfferFor(ctx, "c1"); err != ErrNotFound {
		t.Fatalf("offer before append err = %v, want ErrNotFound", err)
	}

	sig := SignalMessage{ID: "s1", CallID: "c1", Type: SignalOffer, Payload: "offer-sdp"}
	if err := r.AppendSignal(ctx, sig); err != nil {
		t.Fatalf("append: %v", err)
	}
	got, err := r.OfferFor(ctx, "c1")
	if err != nil || got.Payload != "offer-sdp" {
		t.Fatalf("offer = (%+v, %v)", got, err)
	}
}
