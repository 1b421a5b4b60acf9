package calls

import (
	"context"
	"time"
)

// Repository is the persistence contract for call records and their signal
// audit trail.
//
// Records are append-on-create, update-on-transition. call_signals is
// append-only; signal rows are never mutated or deleted.
type Repository interface {
	CreateCall(ctx context.Context, r CallRecord) error
	GetCall(ctx context.Context, id string) (CallRecord, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error)

	// MarkAnswered flips a ringing record to answered and stamps AnsweredAt.
	// Returns false when the record is no longer ringing (raced with a
	// concurrent terminal transition); the caller treats that as stale.
	MarkAnswered(ctx context.Context, id string, at time.Time) (bool, error)

	// Finalize moves a record into a terminal status exactly once.
	// duration is nil for calls that were never answered. Returns false when
	// the record is already terminal: last-terminal-wins means first write
	// sticks and later writers observe a no-op.
	Finalize(ctx context.Context, id string, status CallStatus, endedAt time.Time, duration *int) (bool, error)

	// FinalizeWithSignal is Finalize plus an atomic append of the hangup
	// signal: either the terminal write and the signal row both land, or
	// neither does. Returns false without appending when the record is
	// already terminal.
	FinalizeWithSignal(ctx context.Context, id string, status CallStatus, endedAt time.Time, duration *int, sig SignalMessage) (bool, error)

	// DeclineCall flips a record to declined only while it is still ringing,
	// appending the hangup signal atomically with the status write. Returns
	// false when the record left ringing first (answered or terminal), so a
	// decline can never overwrite an answer.
	DeclineCall(ctx context.Context, id string, endedAt time.Time, sig SignalMessage) (bool, error)

	AppendSignal(ctx context.Context, s SignalMessage) error

	// OfferFor returns the offer signal for a call. Exactly one exists per
	// call by construction.
	OfferFor(ctx context.Context, callID string) (SignalMessage, error)

	// CandidatesFor returns the persisted candidate signals sent by
	// fromUserID on a call, in append order. Used to replay candidates
	// published before the answering side joined the call channel.
	CandidatesFor(ctx context.Context, callID, fromUserID string) ([]SignalMessage, error)
}
