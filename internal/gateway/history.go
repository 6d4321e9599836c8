package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"chatrelay/internal/store"
	"chatrelay/internal/types"
)

// HandleConversation returns the persisted message history between the two
// participants, oldest first. The caller must be one of the participants.
func (h *Handler) HandleConversation(c *gin.Context) {
	userID := c.Param("user_id")
	peerID := c.Param("peer_id")

	if err := ValidateChatParameters(userID, peerID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": err.Error(),
		})
		return
	}

	identity, ok := h.authenticate(c)
	if !ok {
		return
	}
	if identity != userID && identity != peerID {
		c.JSON(http.StatusForbidden, gin.H{
			"error": "token subject is not a participant of this conversation",
		})
		return
	}

	messages, err := h.store.Conversation(c.Request.Context(), userID, peerID)
	if err != nil {
		h.logger.Errorf(context.Background(), "Failed to load conversation %s/%s: %v", userID, peerID, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to load conversation",
		})
		return
	}

	payloads := make([]types.ChatPayload, 0, len(messages))
	for _, msg := range messages {
		payloads = append(payloads, h.tr.ChatPayload(msg))
	}

	c.JSON(http.StatusOK, gin.H{
		"messages": payloads,
	})
}

// HandleMarkRead flags one persisted message as read
func (h *Handler) HandleMarkRead(c *gin.Context) {
	if _, ok := h.authenticate(c); !ok {
		return
	}

	id, err := strconv.ParseInt(c.Param("message_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "message_id must be an integer",
		})
		return
	}

	if err := h.store.MarkRead(c.Request.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "message not found",
			})
			return
		}
		h.logger.Errorf(context.Background(), "Failed to mark message %d read: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to mark message read",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}
