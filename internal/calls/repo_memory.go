package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository for tests and local development.
// It mirrors the SQL repo's compare-and-set semantics exactly.
type MemoryRepo struct {
	mu      sync.Mutex
	calls   map[string]CallRecord
	signals []SignalMessage
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{calls: make(map[string]CallRecord)}
}

func (r *MemoryRepo) CreateCall(ctx context.Context, rec CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.calls[rec.ID]; ok {
		return ErrInvalidArgument
	}
	r.calls[rec.ID] = rec
	return nil
}

func (r *MemoryRepo) GetCall(ctx context.Context, id string) (CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.calls[id]
	if !ok {
		return CallRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CallRecord
	for _, rec := range r.calls {
		if rec.CallerID == userID || rec.CalleeID == userID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) MarkAnswered(ctx context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status != CallStatusRinging {
		return false, nil
	}
	rec.Status = CallStatusAnswered
	rec.AnsweredAt = &at
	r.calls[id] = rec
	return true, nil
}

func (r *MemoryRepo) Finalize(ctx context.Context, id string, status CallStatus, endedAt time.Time, duration *int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status.Terminal() {
		return false, nil
	}
	rec.Status = status
	rec.EndedAt = &endedAt
	rec.DurationSeconds = duration
	r.calls[id] = rec
	return true, nil
}

func (r *MemoryRepo) FinalizeWithSignal(ctx context.Context, id string, status CallStatus, endedAt time.Time, duration *int, sig SignalMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status.Terminal() {
		return false, nil
	}
	rec.Status = status
	rec.EndedAt = &endedAt
	rec.DurationSeconds = duration
	r.calls[id] = rec
	r.signals = append(r.signals, sig)
	return true, nil
}

func (r *MemoryRepo) DeclineCall(ctx context.Context, id string, endedAt time.Time, sig SignalMessage) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.calls[id]
	if !ok {
		return false, ErrNotFound
	}
	if rec.Status != CallStatusRinging {
		return false, nil
	}
	rec.Status = CallStatusDeclined
	rec.EndedAt = &endedAt
	r.calls[id] = rec
	r.signals = append(r.signals, sig)
	return true, nil
}

func (r *MemoryRepo) AppendSignal(ctx context.Context, s SignalMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, s)
	return nil
}

func (r *MemoryRepo) OfferFor(ctx context.Context, callID string) (SignalMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.signals {
		if s.CallID == callID && s.Type == SignalOffer {
			return s, nil
		}
	}
	return SignalMessage{}, ErrNotFound
}

func (r *MemoryRepo) CandidatesFor(ctx context.Context, callID, fromUserID string) ([]SignalMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []SignalMessage
	for _, s := range r.signals {
		if s.CallID == callID && s.FromUserID == fromUserID && s.Type == SignalCandidate {
			out = append(out, s)
		}
	}
	return out, nil
}

// Signals returns a snapshot of the append-only signal log. Test helper.
func (r *MemoryRepo) Signals() []SignalMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SignalMessage, len(r.signals))
	copy(out, r.signals)
	return out
}
