package calls

import "time"

// CallType distinguishes audio-only calls from calls with video.
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// CallStatus is the persisted disposition of a call record.
// Terminal statuses are ended, missed and declined; a record enters a
// terminal status exactly once and is never updated afterwards.
type CallStatus string

const (
	CallStatusRinging  CallStatus = "ringing"
	CallStatusAnswered CallStatus = "answered"
	CallStatusEnded    CallStatus = "ended"
	CallStatusMissed   CallStatus = "missed"
	CallStatusDeclined CallStatus = "declined"
)

func (s CallStatus) Terminal() bool {
	switch s {
	case CallStatusEnded, CallStatusMissed, CallStatusDeclined:
		return true
	default:
		return false
	}
}

// CallRecord is the persisted call entity.
//
// Invariants:
// - AnsweredAt set => Status is answered or later ended
// - DurationSeconds is computed from AnsweredAt to EndedAt only; calls that
//   end before being answered carry no duration
type CallRecord struct {
	ID             string   `json:"id" db:"id"`
	CallerID       string   `json:"caller_id" db:"caller_id"`
	CalleeID       string   `json:"callee_id" db:"callee_id"`
	ConversationID string   `json:"conversation_id" db:"conversation_id"`
	Type           CallType `json:"call_type" db:"call_type"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt       time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int       `json:"duration,omitempty" db:"duration"`
}

// Other returns the participant on the opposite side of userID.
func (r CallRecord) Other(userID string) string {
	if userID == r.CallerID {
		return r.CalleeID
	}
	return r.CallerID
}

// SignalType identifies a protocol step on the per-call relay channel.
type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "ice-candidate"
	SignalHangup    SignalType = "hangup"
)

// SignalMessage is one immutable protocol message. Each call carries exactly
// one offer, at most one answer, any number of candidates and at most one
// effective hangup. Messages are retained for audit only, never replayed.
type SignalMessage struct {
	ID         string     `json:"id" db:"id"`
	CallID     string     `json:"call_id" db:"call_id"`
	FromUserID string     `json:"from_user_id" db:"from_user_id"`
	ToUserID   string     `json:"to_user_id" db:"to_user_id"`
	Type       SignalType `json:"signal_type" db:"signal_type"`

	// Payload is an opaque serialized session description or candidate,
	// or a reason string for hangup.
	Payload string `json:"signal_data" db:"signal_data"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EndReason is carried on hangup signals and Ended events so the UI can tell
// an intentional hangup apart from declines, timeouts and transport failure.
type EndReason string

const (
	EndReasonHangup         EndReason = "hangup"
	EndReasonDeclined       EndReason = "declined"
	EndReasonMissed         EndReason = "missed"
	EndReasonConnectionLost EndReason = "connection-lost"
)

// statusFor maps a hangup reason to the terminal record status.
func statusFor(reason EndReason) CallStatus {
	switch reason {
	case EndReasonDeclined:
		return CallStatusDeclined
	case EndReasonMissed:
		return CallStatusMissed
	default:
		return CallStatusEnded
	}
}
