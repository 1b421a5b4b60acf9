package httpapi

import (
	"net/http"
	"time"

	"freightline/internal/auth"
	"freightline/internal/calls"
	"freightline/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Auth happens via the bearer token; the API is not cookie-based, so
	// cross-origin browser clients are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Events upgrades the connection to a websocket and streams call events for
// the authenticated user: incoming invitations, state changes, remote media
// and call-ended notifications. Slow consumers get events dropped rather than
// blocking the call service.
func (h Handlers) Events(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	log := logger.FromGin(c).With("user_id", uid)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	out := make(chan calls.Event, wsSendBuffer)
	push := func(ev calls.Event) {
		select {
		case out <- ev:
		default:
			log.Warn("event feed backlogged, dropping event", "kind", ev.Kind)
		}
	}

	unsubEvents := h.Calls.SubscribeEvents(uid, push)
	defer unsubEvents()

	unsubIncoming, err := h.Calls.SubscribeIncoming(uid, func(rec calls.CallRecord, offer string) {
		push(calls.Event{Kind: calls.EventIncoming, CallID: rec.ID, Record: &rec, Offer: offer})
	})
	if err != nil {
		log.Error("inbox subscription failed", "err", err)
		return
	}
	defer unsubIncoming()

	// Reader exists only to observe the close handshake.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case ev := <-out:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
