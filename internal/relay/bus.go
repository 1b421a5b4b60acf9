package relay

import "context"

// Handler receives one message published on a subscribed channel.
// Handlers are invoked on the bus's delivery goroutine and must not block.
type Handler func(payload []byte)

// Bus is the signaling relay contract: publish/subscribe keyed by a channel
// identifier, opaque payloads.
//
// Delivery semantics (callers must tolerate these):
// - at-least-once to subscribers active at publish time
// - no delivery to subscribers that join after publish (no replay)
// - no ordering guarantee across distinct publishers
type Bus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers h on channel and returns an unsubscribe func.
	// Unsubscribe is idempotent.
	Subscribe(channel string, h Handler) (func(), error)
}

// Channel naming conventions shared by publishers and subscribers.
// One channel per call for negotiation traffic, one per user for the
// incoming-call inbox.

func CallChannel(callID string) string { return "call:" + callID }

func InboxChannel(userID string) string { return "inbox:" + userID }
