package handler

import (
	"errors"
	"net/http"

	"hub-service/internal/ingest"
	"hub-service/internal/middleware"
	"hub-service/internal/syncer"
	"hub-service/pkg/logger"
	"hub-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SyncHandler serves the offline buffer replay endpoint
type SyncHandler struct {
	reconciler *syncer.Reconciler
}

// NewSyncHandler creates a sync handler
func NewSyncHandler(reconciler *syncer.Reconciler) *SyncHandler {
	return &SyncHandler{reconciler: reconciler}
}

// Apply replays a node's buffered readings
func (h *SyncHandler) Apply(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req syncer.SyncRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.reconciler.Apply(c.Request().Context(), tenantID, req)
	if err != nil {
		switch {
		case errors.Is(err, syncer.ErrSyncInProgress):
			prometheus.SyncConflictsCounter.Inc()
			prometheus.RecordSyncBatch("rejected")
			log.Warn("Sync batch rejected, another batch is running",
				zap.String("node_external_id", req.NodeExternalID))
			return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})
		case errors.Is(err, syncer.ErrLocalOnlyNode):
			prometheus.RecordSyncBatch("rejected")
			return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
		case errors.Is(err, ingest.ErrValidation):
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		default:
			prometheus.RecordSyncBatch("failed")
			log.Error("Failed to apply sync batch", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to apply sync batch"})
		}
	}

	prometheus.RecordSyncBatch("applied")
	for _, item := range result.Items {
		prometheus.RecordSyncItem(string(item.Status))
		if item.Status == syncer.ItemPersisted {
			prometheus.RecordReadingIngested("sync")
		}
	}

	return c.JSON(http.StatusOK, result)
}
