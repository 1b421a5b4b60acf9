// Package httpapi exposes the call service over HTTP. Handlers stay thin:
// request decoding, identity extraction and error mapping only.
package httpapi

import (
	"errors"
	"net/http"

	"freightline/internal/auth"
	"freightline/internal/calls"
	"freightline/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Calls *calls.Service
}

type initiateRequest struct {
	CalleeID       string         `json:"callee_id" binding:"required"`
	ConversationID string         `json:"conversation_id"`
	CallType       calls.CallType `json:"call_type" binding:"required"`
}

func (h Handlers) Initiate(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, _, err := h.Calls.Initiate(c.Request.Context(), uid, req.CalleeID, req.ConversationID, req.CallType)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

type answerRequest struct {
	CallerID string         `json:"caller_id" binding:"required"`
	CallType calls.CallType `json:"call_type" binding:"required"`
	Offer    string         `json:"offer" binding:"required"`
}

func (h Handlers) Answer(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req answerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rec, _, err := h.Calls.Answer(c.Request.Context(), c.Param("call_id"), uid, req.CallerID, req.CallType, req.Offer)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

type declineRequest struct {
	CallerID string `json:"caller_id" binding:"required"`
}

func (h Handlers) Decline(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req declineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Calls.Decline(c.Request.Context(), c.Param("call_id"), uid, req.CallerID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "declined"})
}

type hangupRequest struct {
	OtherUserID string          `json:"other_user_id"`
	Reason      calls.EndReason `json:"reason"`
}

func (h Handlers) Hangup(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	var req hangupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Calls.Hangup(c.Request.Context(), c.Param("call_id"), uid, req.OtherUserID, req.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ended"})
}

func (h Handlers) ToggleMute(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	muted, err := h.Calls.ToggleMute(c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"muted": muted})
}

func (h Handlers) ToggleVideo(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	off, err := h.Calls.ToggleVideo(c.Param("call_id"), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"video_off": off})
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.GetCall(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h Handlers) ListCalls(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	records, err := h.Calls.ListByUser(c.Request.Context(), uid, 50)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrCallInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "call already in progress"})
	case calls.IsStale(err):
		c.JSON(http.StatusConflict, gin.H{"error": "call no longer in a valid state", "code": "stale_call"})
	case errors.Is(err, calls.ErrMediaAccessDenied):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "media access denied", "code": "media_access_denied"})
	case errors.Is(err, calls.ErrMediaUnavailable):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "media unavailable", "code": "media_unavailable"})
	default:
		logger.FromGin(c).Error("call handler failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
