package ingest

import (
	"context"
	"errors"
	"strings"

	"hub-service/internal/model"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Binding is a resolved (node, endpoint) assignment with its sensor loaded.
// A nil *Binding means the endpoint is unbound; ingestion still proceeds and
// stores the reading uncalibrated.
type Binding struct {
	Assignment *model.NodeSensorAssignment
	Sensor     *model.Sensor
}

// EffectiveConfig is the override-else-default merge of an assignment and its
// sensor. Each field is resolved in isolation.
type EffectiveConfig struct {
	I2CAddress       *string `json:"i2c_address,omitempty"`
	SdaPin           *int    `json:"sda_pin,omitempty"`
	SclPin           *int    `json:"scl_pin,omitempty"`
	OneWirePin       *int    `json:"one_wire_pin,omitempty"`
	AnalogPin        *int    `json:"analog_pin,omitempty"`
	DigitalPin       *int    `json:"digital_pin,omitempty"`
	TriggerPin       *int    `json:"trigger_pin,omitempty"`
	EchoPin          *int    `json:"echo_pin,omitempty"`
	BaudRate         *int    `json:"baud_rate,omitempty"`
	IntervalSeconds  int     `json:"interval_seconds"`
	OffsetCorrection float64 `json:"offset_correction"`
	GainCorrection   float64 `json:"gain_correction"`
}

// ResolveBinding looks up the active assignment for (node, endpoint) with its
// sensor and capabilities. Returns (nil, nil) when the endpoint is unbound.
func (p *Pipeline) ResolveBinding(ctx context.Context, nodeID uint, endpointID int) (*Binding, error) {
	db := p.db.WithContext(ctx)

	var assignment model.NodeSensorAssignment
	err := db.Preload("Sensor.Capabilities").
		Where("node_id = ? AND endpoint_id = ? AND is_active = ?", nodeID, endpointID, true).
		First(&assignment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.log.Warn("no binding for endpoint, storing reading uncalibrated",
				zap.Uint("node_id", nodeID),
				zap.Int("endpoint_id", endpointID))
			return nil, nil
		}
		return nil, err
	}

	return &Binding{Assignment: &assignment, Sensor: assignment.Sensor}, nil
}

// LoadBindings preloads all active bindings of a node keyed by endpoint id.
// Batch processing resolves against this map instead of querying per item.
func (p *Pipeline) LoadBindings(ctx context.Context, nodeID uint) (map[int]*Binding, error) {
	db := p.db.WithContext(ctx)

	var assignments []model.NodeSensorAssignment
	err := db.Preload("Sensor.Capabilities").
		Where("node_id = ? AND is_active = ?", nodeID, true).
		Find(&assignments).Error
	if err != nil {
		return nil, err
	}

	bindings := make(map[int]*Binding, len(assignments))
	for i := range assignments {
		a := &assignments[i]
		bindings[a.EndpointID] = &Binding{Assignment: a, Sensor: a.Sensor}
	}
	return bindings, nil
}

// Effective merges assignment overrides over sensor defaults
func Effective(assignment *model.NodeSensorAssignment, sensor *model.Sensor) EffectiveConfig {
	return EffectiveConfig{
		I2CAddress:       coalesceString(assignment.I2CAddressOverride, sensor.I2CAddress),
		SdaPin:           coalesceInt(assignment.SdaPinOverride, sensor.SdaPin),
		SclPin:           coalesceInt(assignment.SclPinOverride, sensor.SclPin),
		OneWirePin:       coalesceInt(assignment.OneWirePinOverride, sensor.OneWirePin),
		AnalogPin:        coalesceInt(assignment.AnalogPinOverride, sensor.AnalogPin),
		DigitalPin:       coalesceInt(assignment.DigitalPinOverride, sensor.DigitalPin),
		TriggerPin:       coalesceInt(assignment.TriggerPinOverride, sensor.TriggerPin),
		EchoPin:          coalesceInt(assignment.EchoPinOverride, sensor.EchoPin),
		BaudRate:         coalesceInt(assignment.BaudRateOverride, sensor.BaudRate),
		IntervalSeconds:  effectiveInterval(assignment, sensor),
		OffsetCorrection: effectiveOffset(assignment, sensor),
		GainCorrection:   effectiveGain(assignment, sensor),
	}
}

// CalibrationFor returns the effective offset and gain for a binding
func (b *Binding) CalibrationFor() (offset, gain float64) {
	return effectiveOffset(b.Assignment, b.Sensor), effectiveGain(b.Assignment, b.Sensor)
}

// UnitFor returns the unit of the capability matching the measurement type,
// case-insensitively. Unknown measurement types yield an empty unit.
func (b *Binding) UnitFor(measurementType string) string {
	if b.Sensor == nil {
		return ""
	}
	for _, capability := range b.Sensor.Capabilities {
		if strings.EqualFold(capability.MeasurementType, measurementType) {
			return capability.Unit
		}
	}
	return ""
}

func effectiveInterval(assignment *model.NodeSensorAssignment, sensor *model.Sensor) int {
	if assignment != nil && assignment.IntervalSecondsOverride != nil {
		return *assignment.IntervalSecondsOverride
	}
	return sensor.IntervalSeconds
}

func effectiveOffset(assignment *model.NodeSensorAssignment, sensor *model.Sensor) float64 {
	if assignment != nil && assignment.OffsetCorrectionOverride != nil {
		return *assignment.OffsetCorrectionOverride
	}
	return sensor.OffsetCorrection
}

func effectiveGain(assignment *model.NodeSensorAssignment, sensor *model.Sensor) float64 {
	if assignment != nil && assignment.GainCorrectionOverride != nil {
		return *assignment.GainCorrectionOverride
	}
	return sensor.GainCorrection
}

func coalesceString(override, fallback *string) *string {
	if override != nil {
		return override
	}
	return fallback
}

func coalesceInt(override, fallback *int) *int {
	if override != nil {
		return override
	}
	return fallback
}
