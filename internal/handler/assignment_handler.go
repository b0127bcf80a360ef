package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"hub-service/internal/ingest"
	"hub-service/internal/middleware"
	"hub-service/internal/model"
	"hub-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AssignmentRequest defines the structure for assignment creation/update
// requests. Override fields are nil unless the installation deviates from the
// sensor's defaults.
type AssignmentRequest struct {
	NodeID     uint    `json:"nodeId" validate:"required"`
	SensorID   uint    `json:"sensorId" validate:"required"`
	EndpointID int     `json:"endpointId" validate:"required"`
	Alias      *string `json:"alias"`

	I2CAddressOverride *string `json:"i2cAddressOverride"`
	SdaPinOverride     *int    `json:"sdaPinOverride"`
	SclPinOverride     *int    `json:"sclPinOverride"`
	OneWirePinOverride *int    `json:"oneWirePinOverride"`
	AnalogPinOverride  *int    `json:"analogPinOverride"`
	DigitalPinOverride *int    `json:"digitalPinOverride"`
	TriggerPinOverride *int    `json:"triggerPinOverride"`
	EchoPinOverride    *int    `json:"echoPinOverride"`
	BaudRateOverride   *int    `json:"baudRateOverride"`

	IntervalSecondsOverride  *int     `json:"intervalSecondsOverride"`
	OffsetCorrectionOverride *float64 `json:"offsetCorrectionOverride"`
	GainCorrectionOverride   *float64 `json:"gainCorrectionOverride"`
}

// AssignmentHandler serves the node-sensor binding endpoints
type AssignmentHandler struct {
	db *gorm.DB
}

// NewAssignmentHandler creates an assignment handler
func NewAssignmentHandler(db *gorm.DB) *AssignmentHandler {
	return &AssignmentHandler{db: db}
}

// List returns the assignments of one node, or of the whole tenant when no
// nodeId filter is given.
func (h *AssignmentHandler) List(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	query := h.db.WithContext(c.Request().Context()).
		Model(&model.NodeSensorAssignment{}).
		Preload("Sensor.Capabilities").
		Joins("JOIN nodes ON nodes.id = node_sensor_assignments.node_id").
		Joins("JOIN hubs ON hubs.id = nodes.hub_id").
		Where("hubs.tenant_id = ?", tenantID)

	if raw := c.QueryParam("nodeId"); raw != "" {
		nodeID, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid nodeId"})
		}
		query = query.Where("node_sensor_assignments.node_id = ?", uint(nodeID))
	}
	if raw := c.QueryParam("isActive"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid isActive"})
		}
		query = query.Where("node_sensor_assignments.is_active = ?", active)
	}

	var assignments []model.NodeSensorAssignment
	if err := query.Order("node_sensor_assignments.endpoint_id ASC").Find(&assignments).Error; err != nil {
		log.Error("Failed to list assignments", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve assignments"})
	}

	return c.JSON(http.StatusOK, assignments)
}

// Create binds a sensor to a node endpoint. At most one active assignment may
// exist per (node, endpoint); deactivated assignments free their endpoint.
func (h *AssignmentHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req AssignmentRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.EndpointID < 1 || req.EndpointID > 254 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "endpointId must be between 1 and 254"})
	}
	if req.GainCorrectionOverride != nil && *req.GainCorrectionOverride == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "gainCorrectionOverride must not be zero"})
	}

	ctx := c.Request().Context()
	db := h.db.WithContext(ctx)

	// Both ends must belong to the caller's tenant
	var node model.Node
	err := db.Joins("JOIN hubs ON hubs.id = nodes.hub_id").
		Where("hubs.tenant_id = ? AND nodes.id = ?", tenantID, req.NodeID).
		First(&node).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "node not found"})
		}
		log.Error("Failed to load node", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create assignment"})
	}

	var sensor model.Sensor
	err = db.Where("tenant_id = ? AND id = ?", tenantID, req.SensorID).First(&sensor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "sensor not found"})
		}
		log.Error("Failed to load sensor", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create assignment"})
	}

	var active int64
	err = db.Model(&model.NodeSensorAssignment{}).
		Where("node_id = ? AND endpoint_id = ? AND is_active = ?", req.NodeID, req.EndpointID, true).
		Count(&active).Error
	if err != nil {
		log.Error("Failed to check endpoint", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create assignment"})
	}
	if active > 0 {
		return c.JSON(http.StatusConflict, echo.Map{"error": "endpoint already has an active assignment"})
	}

	assignment := model.NodeSensorAssignment{
		NodeID:                   req.NodeID,
		SensorID:                 req.SensorID,
		EndpointID:               req.EndpointID,
		Alias:                    req.Alias,
		I2CAddressOverride:       req.I2CAddressOverride,
		SdaPinOverride:           req.SdaPinOverride,
		SclPinOverride:           req.SclPinOverride,
		OneWirePinOverride:       req.OneWirePinOverride,
		AnalogPinOverride:        req.AnalogPinOverride,
		DigitalPinOverride:       req.DigitalPinOverride,
		TriggerPinOverride:       req.TriggerPinOverride,
		EchoPinOverride:          req.EchoPinOverride,
		BaudRateOverride:         req.BaudRateOverride,
		IntervalSecondsOverride:  req.IntervalSecondsOverride,
		OffsetCorrectionOverride: req.OffsetCorrectionOverride,
		GainCorrectionOverride:   req.GainCorrectionOverride,
		IsActive:                 true,
		AssignedAt:               time.Now().UTC(),
	}

	if err := db.Create(&assignment).Error; err != nil {
		log.Error("Failed to create assignment", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create assignment"})
	}

	log.Info("Assignment created",
		zap.Uint("assignment_id", assignment.ID),
		zap.Uint("node_id", req.NodeID),
		zap.Uint("sensor_id", req.SensorID),
		zap.Int("endpoint_id", req.EndpointID))
	return c.JSON(http.StatusCreated, assignment)
}

// Update modifies an assignment's alias and overrides
func (h *AssignmentHandler) Update(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	assignment, err := h.assignmentForTenant(c, tenantID)
	if err != nil {
		return h.assignmentError(c, log, err)
	}

	var req AssignmentRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.GainCorrectionOverride != nil && *req.GainCorrectionOverride == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "gainCorrectionOverride must not be zero"})
	}

	assignment.Alias = req.Alias
	assignment.I2CAddressOverride = req.I2CAddressOverride
	assignment.SdaPinOverride = req.SdaPinOverride
	assignment.SclPinOverride = req.SclPinOverride
	assignment.OneWirePinOverride = req.OneWirePinOverride
	assignment.AnalogPinOverride = req.AnalogPinOverride
	assignment.DigitalPinOverride = req.DigitalPinOverride
	assignment.TriggerPinOverride = req.TriggerPinOverride
	assignment.EchoPinOverride = req.EchoPinOverride
	assignment.BaudRateOverride = req.BaudRateOverride
	assignment.IntervalSecondsOverride = req.IntervalSecondsOverride
	assignment.OffsetCorrectionOverride = req.OffsetCorrectionOverride
	assignment.GainCorrectionOverride = req.GainCorrectionOverride

	if err := h.db.WithContext(c.Request().Context()).Save(assignment).Error; err != nil {
		log.Error("Failed to update assignment", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update assignment"})
	}

	log.Info("Assignment updated", zap.Uint("assignment_id", assignment.ID))
	return c.JSON(http.StatusOK, assignment)
}

// Deactivate releases an endpoint without losing the assignment's history.
// Readings already stored keep pointing at the deactivated assignment.
func (h *AssignmentHandler) Deactivate(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	assignment, err := h.assignmentForTenant(c, tenantID)
	if err != nil {
		return h.assignmentError(c, log, err)
	}

	err = h.db.WithContext(c.Request().Context()).
		Model(assignment).
		Update("is_active", false).Error
	if err != nil {
		log.Error("Failed to deactivate assignment", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to deactivate assignment"})
	}

	log.Info("Assignment deactivated",
		zap.Uint("assignment_id", assignment.ID),
		zap.Uint("node_id", assignment.NodeID),
		zap.Int("endpoint_id", assignment.EndpointID))
	return c.NoContent(http.StatusNoContent)
}

// EffectiveConfig returns the merged override-else-default configuration the
// node should run this endpoint with.
func (h *AssignmentHandler) EffectiveConfig(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	assignment, err := h.assignmentForTenant(c, tenantID)
	if err != nil {
		return h.assignmentError(c, log, err)
	}
	if assignment.Sensor == nil {
		log.Error("Assignment has no sensor loaded", zap.Uint("assignment_id", assignment.ID))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to resolve configuration"})
	}

	return c.JSON(http.StatusOK, ingest.Effective(assignment, assignment.Sensor))
}

var errBadAssignmentID = errors.New("invalid assignment id")

func (h *AssignmentHandler) assignmentForTenant(c echo.Context, tenantID uint) (*model.NodeSensorAssignment, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return nil, errBadAssignmentID
	}

	var assignment model.NodeSensorAssignment
	err = h.db.WithContext(c.Request().Context()).
		Preload("Sensor.Capabilities").
		Joins("JOIN nodes ON nodes.id = node_sensor_assignments.node_id").
		Joins("JOIN hubs ON hubs.id = nodes.hub_id").
		Where("hubs.tenant_id = ? AND node_sensor_assignments.id = ?", tenantID, uint(id)).
		First(&assignment).Error
	if err != nil {
		return nil, err
	}
	return &assignment, nil
}

func (h *AssignmentHandler) assignmentError(c echo.Context, log *zap.Logger, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "assignment not found"})
	}
	if errors.Is(err, errBadAssignmentID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid assignment id"})
	}
	log.Error("Failed to load assignment", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve assignment"})
}
