package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const streamHeartbeatInterval = 25 * time.Second

type streamEventPayload struct {
	DraftID     string `json:"draftId"`
	State       string `json:"state,omitempty"`
	TimestampMS int64  `json:"timestampMs"`
}

// handleEventStream serves the author's relay events over Server-Sent Events.
// Heartbeats keep intermediaries from reaping idle connections.
func (h *httpHandler) handleEventStream(c *gin.Context) {
	authorID, ok := h.requestAuthor(c)
	if !ok {
		return
	}
	if h.relay == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "stream_unavailable"})
		return
	}

	// Register before the response headers go out so a client that publishes
	// immediately after connecting cannot race past its own subscription.
	events, cleanup := h.relay.Subscribe(c.Request.Context(), authorID.String())
	defer cleanup()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(streamHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case <-heartbeat.C:
			c.SSEvent("heartbeat", gin.H{"timestampMs": time.Now().UnixMilli()})
			c.Writer.Flush()
		case event, open := <-events:
			if !open {
				return
			}
			c.SSEvent(event.EventType, streamEventPayload{
				DraftID:     event.DraftID,
				State:       event.StoredState,
				TimestampMS: event.Timestamp.UnixMilli(),
			})
			c.Writer.Flush()
		}
	}
}
