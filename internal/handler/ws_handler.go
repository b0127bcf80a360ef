package handler

import (
	"net/http"

	"hub-service/internal/middleware"
	"hub-service/internal/ws"
	"hub-service/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(*http.Request) bool {
		// Origin checking is handled upstream
		return true
	},
}

// WSHandler upgrades connections into the fan-out hub
type WSHandler struct {
	hub *ws.Hub
}

// NewWSHandler creates a websocket handler
func NewWSHandler(hub *ws.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// Connect upgrades the request and registers the client under its tenant
func (h *WSHandler) Connect(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Error("Websocket upgrade failed", zap.Error(err))
		return err
	}

	client := h.hub.NewClient(conn, tenantID)
	h.hub.Register(client)
	client.Start()

	return nil
}
