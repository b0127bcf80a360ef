package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"hub-service/internal/middleware"
	"hub-service/internal/model"
	"hub-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CapabilityRequest defines one measurement type of a sensor
type CapabilityRequest struct {
	MeasurementType string   `json:"measurementType" validate:"required"`
	DisplayName     string   `json:"displayName"`
	Unit            string   `json:"unit"`
	Resolution      *float64 `json:"resolution"`
	Accuracy        *float64 `json:"accuracy"`
	MinValue        *float64 `json:"minValue"`
	MaxValue        *float64 `json:"maxValue"`
}

// SensorRequest defines the structure for sensor creation/update requests
type SensorRequest struct {
	Code         string  `json:"code" validate:"required"`
	Name         string  `json:"name" validate:"required"`
	Description  string  `json:"description"`
	Manufacturer *string `json:"manufacturer"`
	Model        *string `json:"model"`
	Protocol     string  `json:"protocol"`

	I2CAddress *string `json:"i2cAddress"`
	SdaPin     *int    `json:"sdaPin"`
	SclPin     *int    `json:"sclPin"`
	OneWirePin *int    `json:"oneWirePin"`
	AnalogPin  *int    `json:"analogPin"`
	DigitalPin *int    `json:"digitalPin"`
	TriggerPin *int    `json:"triggerPin"`
	EchoPin    *int    `json:"echoPin"`
	BaudRate   *int    `json:"baudRate"`

	IntervalSeconds  int     `json:"intervalSeconds"`
	OffsetCorrection float64 `json:"offsetCorrection"`
	GainCorrection   float64 `json:"gainCorrection"`

	Capabilities []CapabilityRequest `json:"capabilities"`
}

// SensorHandler serves the sensor catalog endpoints
type SensorHandler struct {
	db *gorm.DB
}

// NewSensorHandler creates a sensor handler
func NewSensorHandler(db *gorm.DB) *SensorHandler {
	return &SensorHandler{db: db}
}

// List returns all sensors of the tenant
func (h *SensorHandler) List(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var sensors []model.Sensor
	err := h.db.WithContext(c.Request().Context()).
		Preload("Capabilities").
		Where("tenant_id = ?", tenantID).
		Order("code ASC").
		Find(&sensors).Error
	if err != nil {
		log.Error("Failed to list sensors", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve sensors"})
	}

	return c.JSON(http.StatusOK, sensors)
}

// Get returns a single sensor by id
func (h *SensorHandler) Get(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	sensor, err := h.sensorForTenant(c, tenantID)
	if err != nil {
		return h.sensorError(c, log, err)
	}

	return c.JSON(http.StatusOK, sensor)
}

// Create adds a sensor definition with its capabilities
func (h *SensorHandler) Create(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	var req SensorRequest
	if err := c.Bind(&req); err != nil {
		log.Error("Invalid request data", zap.Error(err))
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Code == "" || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "code and name are required"})
	}
	if req.GainCorrection == 0 {
		// Zero gain would flatten every reading; default to identity
		req.GainCorrection = 1
	}
	if req.IntervalSeconds <= 0 {
		req.IntervalSeconds = 60
	}

	sensor := model.Sensor{
		TenantID:         tenantID,
		Code:             req.Code,
		Name:             req.Name,
		Description:      req.Description,
		Manufacturer:     req.Manufacturer,
		Model:            req.Model,
		Protocol:         req.Protocol,
		I2CAddress:       req.I2CAddress,
		SdaPin:           req.SdaPin,
		SclPin:           req.SclPin,
		OneWirePin:       req.OneWirePin,
		AnalogPin:        req.AnalogPin,
		DigitalPin:       req.DigitalPin,
		TriggerPin:       req.TriggerPin,
		EchoPin:          req.EchoPin,
		BaudRate:         req.BaudRate,
		IntervalSeconds:  req.IntervalSeconds,
		OffsetCorrection: req.OffsetCorrection,
		GainCorrection:   req.GainCorrection,
		IsActive:         true,
	}
	for _, capability := range req.Capabilities {
		sensor.Capabilities = append(sensor.Capabilities, model.SensorCapability{
			MeasurementType: strings.ToLower(capability.MeasurementType),
			DisplayName:     capability.DisplayName,
			Unit:            capability.Unit,
			Resolution:      capability.Resolution,
			Accuracy:        capability.Accuracy,
			MinValue:        capability.MinValue,
			MaxValue:        capability.MaxValue,
		})
	}

	err := h.db.WithContext(c.Request().Context()).Create(&sensor).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "a sensor with this code already exists"})
		}
		log.Error("Failed to create sensor", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create sensor"})
	}

	log.Info("Sensor created",
		zap.Uint("sensor_id", sensor.ID),
		zap.String("code", sensor.Code),
		zap.Int("capabilities", len(sensor.Capabilities)))
	return c.JSON(http.StatusCreated, sensor)
}

// Update modifies a sensor definition. Capabilities are replaced wholesale
// when the request carries any.
func (h *SensorHandler) Update(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	sensor, err := h.sensorForTenant(c, tenantID)
	if err != nil {
		return h.sensorError(c, log, err)
	}

	var req SensorRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if req.Name != "" {
		sensor.Name = req.Name
	}
	sensor.Description = req.Description
	sensor.Manufacturer = req.Manufacturer
	sensor.Model = req.Model
	if req.Protocol != "" {
		sensor.Protocol = req.Protocol
	}
	sensor.I2CAddress = req.I2CAddress
	sensor.SdaPin = req.SdaPin
	sensor.SclPin = req.SclPin
	sensor.OneWirePin = req.OneWirePin
	sensor.AnalogPin = req.AnalogPin
	sensor.DigitalPin = req.DigitalPin
	sensor.TriggerPin = req.TriggerPin
	sensor.EchoPin = req.EchoPin
	sensor.BaudRate = req.BaudRate
	if req.IntervalSeconds > 0 {
		sensor.IntervalSeconds = req.IntervalSeconds
	}
	sensor.OffsetCorrection = req.OffsetCorrection
	if req.GainCorrection != 0 {
		sensor.GainCorrection = req.GainCorrection
	}

	db := h.db.WithContext(c.Request().Context())
	if err := db.Save(sensor).Error; err != nil {
		log.Error("Failed to update sensor", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update sensor"})
	}

	if len(req.Capabilities) > 0 {
		if err := db.Where("sensor_id = ?", sensor.ID).Delete(&model.SensorCapability{}).Error; err != nil {
			log.Error("Failed to replace sensor capabilities", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update sensor"})
		}
		sensor.Capabilities = nil
		for _, capability := range req.Capabilities {
			sensor.Capabilities = append(sensor.Capabilities, model.SensorCapability{
				SensorID:        sensor.ID,
				MeasurementType: strings.ToLower(capability.MeasurementType),
				DisplayName:     capability.DisplayName,
				Unit:            capability.Unit,
				Resolution:      capability.Resolution,
				Accuracy:        capability.Accuracy,
				MinValue:        capability.MinValue,
				MaxValue:        capability.MaxValue,
			})
		}
		if err := db.Create(&sensor.Capabilities).Error; err != nil {
			log.Error("Failed to create sensor capabilities", zap.Error(err))
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to update sensor"})
		}
	}

	log.Info("Sensor updated", zap.Uint("sensor_id", sensor.ID), zap.String("code", sensor.Code))
	return c.JSON(http.StatusOK, sensor)
}

// Delete soft-deletes a sensor definition
func (h *SensorHandler) Delete(c echo.Context) error {
	log := logger.FromEcho(c)

	tenantID, ok := middleware.GetTenantIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant context is required"})
	}

	sensor, err := h.sensorForTenant(c, tenantID)
	if err != nil {
		return h.sensorError(c, log, err)
	}

	var active int64
	err = h.db.WithContext(c.Request().Context()).
		Model(&model.NodeSensorAssignment{}).
		Where("sensor_id = ? AND is_active = ?", sensor.ID, true).
		Count(&active).Error
	if err != nil {
		log.Error("Failed to check sensor assignments", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete sensor"})
	}
	if active > 0 {
		return c.JSON(http.StatusConflict, echo.Map{"error": "sensor is still assigned to nodes"})
	}

	if err := h.db.WithContext(c.Request().Context()).Delete(sensor).Error; err != nil {
		log.Error("Failed to delete sensor", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete sensor"})
	}

	log.Info("Sensor deleted", zap.Uint("sensor_id", sensor.ID), zap.String("code", sensor.Code))
	return c.NoContent(http.StatusNoContent)
}

var errBadSensorID = errors.New("invalid sensor id")

func (h *SensorHandler) sensorForTenant(c echo.Context, tenantID uint) (*model.Sensor, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return nil, errBadSensorID
	}

	var sensor model.Sensor
	err = h.db.WithContext(c.Request().Context()).
		Preload("Capabilities").
		Where("tenant_id = ? AND id = ?", tenantID, uint(id)).
		First(&sensor).Error
	if err != nil {
		return nil, err
	}
	return &sensor, nil
}

func (h *SensorHandler) sensorError(c echo.Context, log *zap.Logger, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "sensor not found"})
	}
	if errors.Is(err, errBadSensorID) {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid sensor id"})
	}
	log.Error("Failed to load sensor", zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to retrieve sensor"})
}
