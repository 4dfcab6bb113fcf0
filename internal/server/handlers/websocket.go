package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/PEPUNSCARDS/card-vault-pulse/internal/server/websocket"
	"github.com/PEPUNSCARDS/card-vault-pulse/pkg/config"
)

// WebSocketHandler upgrades clients that want live stage updates. The
// optional session_id query parameter scopes the stream to one session.
type WebSocketHandler struct {
	hub      *websocket.WsHub
	upgrader gws.Upgrader
}

func NewWebSocketHandler(hub *websocket.WsHub, cfg config.WebSocketConfig) *WebSocketHandler {
	readBuf := cfg.ReadBufferSize
	if readBuf == 0 {
		readBuf = 1024
	}
	writeBuf := cfg.WriteBufferSize
	if writeBuf == 0 {
		writeBuf = 1024
	}

	upgrader := gws.Upgrader{
		ReadBufferSize:  readBuf,
		WriteBufferSize: writeBuf,
	}
	// A nil CheckOrigin keeps gorilla's same-origin default when the check
	// is enabled; disabling it admits any origin.
	if !cfg.CheckOrigin {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	}

	return &WebSocketHandler{
		hub:      hub,
		upgrader: upgrader,
	}
}

func (h *WebSocketHandler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the error response.
		log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
		return
	}

	client := &websocket.WsClient{
		SessionID: c.Query("session_id"),
		Conn:      conn,
	}

	h.hub.Register <- client

	go func() {
		defer func() {
			h.hub.Unregister <- client
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
