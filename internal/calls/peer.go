package calls

import "context"

// ConnState is the transport connectivity as reported by the peer layer.
type ConnState string

const (
	ConnStateConnected    ConnState = "connected"
	ConnStateDisconnected ConnState = "disconnected"
	ConnStateFailed       ConnState = "failed"
)

// PeerHandlers are callbacks a Peer fires as negotiation progresses.
// They may be invoked from transport goroutines and must not block.
type PeerHandlers struct {
	// OnCandidate fires once per locally discovered network-path candidate,
	// with an opaque serialized descriptor.
	OnCandidate func(payload string)

	// OnConnectionChange fires on transport connectivity transitions.
	OnConnectionChange func(state ConnState)

	// OnRemoteMedia fires when the first inbound media arrives.
	OnRemoteMedia func()
}

// LocalMedia is the capture handle the UI layer receives. Toggles are pure
// local state and generate no signaling traffic.
type LocalMedia interface {
	// ToggleAudio flips the audio track and returns the new muted state.
	ToggleAudio() bool
	// ToggleVideo flips the video track and returns the new disabled state.
	ToggleVideo() bool
	// CaptureActive reports whether local capture is still held.
	CaptureActive() bool
}

// Peer owns one local media capture and one negotiated transport for a
// single call attempt. Implemented by internal/rtc on pion; faked in tests.
type Peer interface {
	LocalMedia

	// CreateOffer generates the local session description for the initiator.
	// Local tracks are attached before generation so the description
	// reflects actual capabilities.
	CreateOffer(ctx context.Context) (string, error)

	// AcceptOffer applies the remote offer and generates the answer.
	// Any queued early candidates are applied once the offer lands.
	AcceptOffer(ctx context.Context, offer string) (string, error)

	// AcceptAnswer applies the remote answer on the initiating side.
	// Fails if no local offer is outstanding (offer before answer only).
	AcceptAnswer(ctx context.Context, answer string) error

	// AddRemoteCandidate applies a remote candidate, queueing it internally
	// if the remote description has not been applied yet.
	AddRemoteCandidate(payload string) error

	// Close releases the transport and local capture. Idempotent; multiple
	// exit paths may race to invoke it.
	Close() error
}

// PeerFactory acquires local media and opens a transport for one call.
// Acquisition may block on a user permission prompt; it must honor ctx and
// fail with ErrMediaAccessDenied / ErrMediaUnavailable.
type PeerFactory interface {
	NewPeer(ctx context.Context, callType CallType, h PeerHandlers) (Peer, error)
}
