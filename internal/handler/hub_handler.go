package handler

import (
	"errors"
	"net/http"

	"hub-service/internal/middleware"
	"hub-service/internal/model"
	"hub-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// HubRequest defines the structure for hub update requests
type HubRequest struct {
	Name string `json:"name"`
}

// HubHandler serves the tenant's hub endpoints. Each tenant owns exactly one
// hub; it is created on first ingestion, not through this handler.
type HubHandler struct {
	db *gorm.DB
}

// NewHubHandler creates a hub handler
func NewHubHandler(db *gorm.DB) *HubHandler {
	return &HubHandler{db: db}
}

// Get returns the tenant's hub
func (h *HubHandler) Get(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var hub model.Hub
	err := h.db.WithContext(c.Request().Context()).
		Where("tenant_id = ?", tenantID).
		First(&hub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no hub registered for this tenant"})
		}
		log.Error("Failed to load hub", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve hub"})
	}

	return c.JSON(http.StatusOK, hub)
}

// Update renames the tenant's hub
func (h *HubHandler) Update(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req HubRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	var hub model.Hub
	err := h.db.WithContext(c.Request().Context()).
		Where("tenant_id = ?", tenantID).
		First(&hub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "no hub registered for this tenant"})
		}
		log.Error("Failed to load hub", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve hub"})
	}

	hub.Name = req.Name
	if err := h.db.WithContext(c.Request().Context()).Save(&hub).Error; err != nil {
		log.Error("Failed to update hub", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update hub"})
	}

	log.Info("Hub updated", zap.Uint("hub_id", hub.ID), zap.String("name", hub.Name))
	return c.JSON(http.StatusOK, hub)
}
