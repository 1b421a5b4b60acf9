package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"freightline/pkg/utils"
)

// SQLRepo persists calls in Postgres via database/sql (pgx stdlib driver).
//
// Expected tables:
//   calls(id, caller_id, callee_id, conversation_id, call_type, status,
//         started_at, answered_at, ended_at, duration)
//   call_signals(id, call_id, from_user_id, to_user_id, signal_type,
//                signal_data, created_at)
//
// Terminal-status updates are guarded in SQL so concurrent hangups cannot
// double-finalize a row.
type SQLRepo struct {
	db *sql.DB
}

func NewSQLRepo(db *sql.DB) *SQLRepo { return &SQLRepo{db: db} }

func (r *SQLRepo) CreateCall(ctx context.Context, rec CallRecord) error {
	const q = `
INSERT INTO calls (
  id, caller_id, callee_id, conversation_id, call_type, status,
  started_at, answered_at, ended_at, duration
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		rec.CallerID,
		rec.CalleeID,
		rec.ConversationID,
		rec.Type,
		rec.Status,
		rec.StartedAt,
		rec.AnsweredAt,
		rec.EndedAt,
		rec.DurationSeconds,
	)
	return err
}

func (r *SQLRepo) GetCall(ctx context.Context, id string) (CallRecord, error) {
	const q = `
SELECT id, caller_id, callee_id, conversation_id, call_type, status,
       started_at, answered_at, ended_at, duration
FROM calls
WHERE id = $1
`
	return scanCall(r.db.QueryRowContext(ctx, q, id))
}

func (r *SQLRepo) ListByUser(ctx context.Context, userID string, limit int) ([]CallRecord, error) {
	const q = `
SELECT id, caller_id, callee_id, conversation_id, call_type, status,
       started_at, answered_at, ended_at, duration
FROM calls
WHERE caller_id = $1 OR callee_id = $1
ORDER BY started_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		rec, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *SQLRepo) MarkAnswered(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
UPDATE calls
SET status = $2, answered_at = $3
WHERE id = $1 AND status = $4
`
	res, err := r.db.ExecContext(ctx, q, id, CallStatusAnswered, at, CallStatusRinging)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *SQLRepo) Finalize(ctx context.Context, id string, status CallStatus, endedAt time.Time, duration *int) (bool, error) {
	const q = `
UPDATE calls
SET status = $2, ended_at = $3, duration = $4
WHERE id = $1 AND status NOT IN ($5, $6, $7)
`
	res, err := r.db.ExecContext(ctx, q, id, status, endedAt, duration,
		CallStatusEnded, CallStatusMissed, CallStatusDeclined)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

const insertSignalQuery = `
INSERT INTO call_signals (
  id, call_id, from_user_id, to_user_id, signal_type, signal_data, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7
)
`

// FinalizeWithSignal runs the terminal CAS and the hangup-signal append in
// one transaction so a crash between the two cannot leave a terminal record
// without its closing signal.
func (r *SQLRepo) FinalizeWithSignal(ctx context.Context, id string, status CallStatus, endedAt time.Time, duration *int, sig SignalMessage) (bool, error) {
	const q = `
UPDATE calls
SET status = $2, ended_at = $3, duration = $4
WHERE id = $1 AND status NOT IN ($5, $6, $7)
`
	applied := false
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, id, status, endedAt, duration,
			CallStatusEnded, CallStatusMissed, CallStatusDeclined)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return nil
		}
		if err := execInsertSignal(ctx, tx, sig); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// DeclineCall flips the record to declined only while it is still ringing,
// so a decline racing an answer can never overwrite the answered status.
func (r *SQLRepo) DeclineCall(ctx context.Context, id string, endedAt time.Time, sig SignalMessage) (bool, error) {
	const q = `
UPDATE calls
SET status = $2, ended_at = $3
WHERE id = $1 AND status = $4
`
	applied := false
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, q, id, CallStatusDeclined, endedAt, CallStatusRinging)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return nil
		}
		if err := execInsertSignal(ctx, tx, sig); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (r *SQLRepo) AppendSignal(ctx context.Context, s SignalMessage) error {
	_, err := r.db.ExecContext(ctx, insertSignalQuery,
		s.ID,
		s.CallID,
		s.FromUserID,
		s.ToUserID,
		s.Type,
		s.Payload,
		s.CreatedAt,
	)
	return err
}

func execInsertSignal(ctx context.Context, tx *sql.Tx, s SignalMessage) error {
	_, err := tx.ExecContext(ctx, insertSignalQuery,
		s.ID,
		s.CallID,
		s.FromUserID,
		s.ToUserID,
		s.Type,
		s.Payload,
		s.CreatedAt,
	)
	return err
}

func (r *SQLRepo) OfferFor(ctx context.Context, callID string) (SignalMessage, error) {
	const q = `
SELECT id, call_id, from_user_id, to_user_id, signal_type, signal_data, created_at
FROM call_signals
WHERE call_id = $1 AND signal_type = $2
LIMIT 1
`
	var s SignalMessage
	err := r.db.QueryRowContext(ctx, q, callID, SignalOffer).Scan(
		&s.ID,
		&s.CallID,
		&s.FromUserID,
		&s.ToUserID,
		&s.Type,
		&s.Payload,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SignalMessage{}, ErrNotFound
		}
		return SignalMessage{}, err
	}
	return s, nil
}

func (r *SQLRepo) CandidatesFor(ctx context.Context, callID, fromUserID string) ([]SignalMessage, error) {
	const q = `
SELECT id, call_id, from_user_id, to_user_id, signal_type, signal_data, created_at
FROM call_signals
WHERE call_id = $1 AND from_user_id = $2 AND signal_type = $3
ORDER BY created_at
`
	rows, err := r.db.QueryContext(ctx, q, callID, fromUserID, SignalCandidate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SignalMessage
	for rows.Next() {
		var s SignalMessage
		if err := rows.Scan(&s.ID, &s.CallID, &s.FromUserID, &s.ToUserID, &s.Type, &s.Payload, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (CallRecord, error) {
	var rec CallRecord
	err := row.Scan(
		&rec.ID,
		&rec.CallerID,
		&rec.CalleeID,
		&rec.ConversationID,
		&rec.Type,
		&rec.Status,
		&rec.StartedAt,
		&rec.AnsweredAt,
		&rec.EndedAt,
		&rec.DurationSeconds,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return rec, nil
}
