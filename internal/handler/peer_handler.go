package handler

import (
	"net/http"
	"strconv"

	"hub-service/internal/middleware"
	"hub-service/internal/store"
	"hub-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// PeerMirrorRequest carries telemetry pushed by a peer installation
type PeerMirrorRequest struct {
	SourceNodeID string              `json:"sourceNodeId"`
	Name         string              `json:"name"`
	Readings     []store.PeerReading `json:"readings"`
}

// PeerHandler serves the peer mirror endpoints
type PeerHandler struct {
	store *store.PeerStore
}

// NewPeerHandler creates a peer handler
func NewPeerHandler(store *store.PeerStore) *PeerHandler {
	return &PeerHandler{store: store}
}

// Mirror stores a batch of readings received from a peer system
func (h *PeerHandler) Mirror(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req PeerMirrorRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.SourceNodeID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "sourceNodeId is required"})
	}

	node, err := h.store.Mirror(c.Request().Context(), tenantID, req.SourceNodeID, req.Name, req.Readings)
	if err != nil {
		log.Error("Failed to mirror peer telemetry", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mirror peer telemetry"})
	}

	return c.JSON(http.StatusOK, echo.Map{"node": node, "mirrored": len(req.Readings)})
}

// Nodes lists the tenant's mirrored peer nodes
func (h *PeerHandler) Nodes(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	nodes, err := h.store.Nodes(c.Request().Context(), tenantID)
	if err != nil {
		log.Error("Failed to list peer nodes", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve peer nodes"})
	}

	return c.JSON(http.StatusOK, nodes)
}

// Readings lists the mirrored readings of one peer node
func (h *PeerHandler) Readings(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	nodeID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid node id"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}

	readings, err := h.store.Readings(c.Request().Context(), tenantID, uint(nodeID), limit)
	if err != nil {
		log.Error("Failed to list peer readings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve peer readings"})
	}

	return c.JSON(http.StatusOK, readings)
}
