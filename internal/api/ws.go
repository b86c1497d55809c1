package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sterilization-gateway/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// the dashboard is served from another origin in development
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocket registers the browser with the hub, sends the current alert map
// and then only reads, so close frames and dead peers are noticed. All writes
// go through the hub.
func (h *Handler) WebSocket(c *gin.Context) {
	user := c.GetString(ctxUser)
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warnf("WebSocket upgrade for user %s failed: %v", user, err)
		return
	}
	defer conn.Close()

	hub := h.svc.Hub()
	if err := hub.AddConnection(user, conn); err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(time.Second))
		return
	}
	defer hub.RemoveConnection(user, conn)

	if payload, err := services.AlertsPayload(h.svc.AlertMap()); err == nil {
		hub.SendTo(user, conn, payload)
	}

	conn.SetReadLimit(4096)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debugf("WebSocket for user %s closed: %v", user, err)
			}
			return
		}
	}
}
