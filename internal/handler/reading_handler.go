package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"hub-service/internal/ingest"
	"hub-service/internal/middleware"
	"hub-service/internal/store"
	"hub-service/pkg/logger"
	"hub-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// ReadingHandler serves the measurement ingestion and query endpoints
type ReadingHandler struct {
	pipeline *ingest.Pipeline
	store    *store.ReadingStore
}

// NewReadingHandler creates a reading handler
func NewReadingHandler(pipeline *ingest.Pipeline, store *store.ReadingStore) *ReadingHandler {
	return &ReadingHandler{pipeline: pipeline, store: store}
}

// Create handles a single measurement report
func (h *ReadingHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req ingest.ReadingRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.pipeline.Ingest(c.Request().Context(), tenantID, req)
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			log.Warn("Reading validation failed", zap.Error(err))
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		log.Error("Failed to ingest reading", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to store reading"})
	}

	prometheus.RecordReadingIngested("single")

	return c.JSON(http.StatusCreated, result)
}

// CreateBatch handles a multi-measurement report
func (h *ReadingHandler) CreateBatch(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req ingest.BatchRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	result, err := h.pipeline.IngestBatch(c.Request().Context(), tenantID, req)
	if err != nil {
		if errors.Is(err, ingest.ErrValidation) {
			log.Warn("Batch validation failed", zap.Error(err))
			return c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
		}
		log.Error("Failed to ingest batch", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to process batch"})
	}

	for i := 0; i < result.SuccessCount; i++ {
		prometheus.RecordReadingIngested("batch")
		prometheus.RecordBatchItem("success")
	}
	for i := 0; i < result.FailedCount; i++ {
		prometheus.RecordBatchItem("failed")
	}

	return c.JSON(http.StatusOK, result)
}

// List returns one page of readings matching the query filters
func (h *ReadingHandler) List(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var params store.QueryParams
	if err := c.Bind(&params); err != nil {
		log.Warn("Invalid query parameters", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid query parameters"})
	}

	defer prometheus.TrackDBOperation("query_readings")(time.Now())

	result, err := h.store.Query(c.Request().Context(), tenantID, params)
	if err != nil {
		log.Error("Failed to query readings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve readings"})
	}

	return c.JSON(http.StatusOK, result)
}

// Latest returns the most recent reading per (node, measurement type)
func (h *ReadingHandler) Latest(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	readings, err := h.store.Latest(c.Request().Context(), tenantID)
	if err != nil {
		log.Error("Failed to query latest readings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve readings"})
	}

	return c.JSON(http.StatusOK, readings)
}

// LatestByNode returns the most recent reading per measurement type for a node
func (h *ReadingHandler) LatestByNode(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	nodeID, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid node id"})
	}

	readings, err := h.store.LatestByNode(c.Request().Context(), tenantID, uint(nodeID))
	if err != nil {
		log.Error("Failed to query latest readings",
			zap.Uint64("node_id", nodeID),
			zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve readings"})
	}

	return c.JSON(http.StatusOK, readings)
}

// DeleteRange removes readings of one node within a time range
func (h *ReadingHandler) DeleteRange(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var params store.DeleteRangeParams
	if err := c.Bind(&params); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}

	if params.NodeID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "nodeId is required"})
	}
	if params.From.IsZero() || params.To.IsZero() {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "from and to are required"})
	}
	if params.To.Before(params.From) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "to must not be before from"})
	}

	defer prometheus.TrackDBOperation("delete_readings_range")(time.Now())

	result, err := h.store.DeleteRange(c.Request().Context(), tenantID, params)
	if err != nil {
		log.Error("Failed to delete readings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete readings"})
	}

	prometheus.ReadingsDeletedCounter.Add(float64(result.DeletedCount))

	return c.JSON(http.StatusOK, result)
}

// markSyncedRequest carries the reading ids to flag as pushed upstream
type markSyncedRequest struct {
	IDs []uint `json:"ids"`
}

// Unsynced returns the oldest readings not yet pushed upstream
func (h *ReadingHandler) Unsynced(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid limit"})
		}
		limit = parsed
	}

	readings, err := h.store.Unsynced(c.Request().Context(), tenantID, limit)
	if err != nil {
		log.Error("Failed to query unsynced readings", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve readings"})
	}

	return c.JSON(http.StatusOK, readings)
}

// MarkSynced flips the synced flag for the given readings
func (h *ReadingHandler) MarkSynced(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req markSyncedRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "ids must not be empty"})
	}

	if err := h.store.MarkSynced(c.Request().Context(), tenantID, req.IDs); err != nil {
		log.Error("Failed to mark readings as synced", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to mark readings as synced"})
	}

	return c.JSON(http.StatusOK, echo.Map{"marked": len(req.IDs)})
}
