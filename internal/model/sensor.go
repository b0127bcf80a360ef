package model

import (
	"time"

	"gorm.io/gorm"
)

// Sensor is a reusable hardware definition: protocol, default pin and bus
// configuration, default sampling interval and default calibration.
// Per-node deviations live on NodeSensorAssignment as overrides.
type Sensor struct {
	ID           uint    `json:"id" gorm:"primaryKey"`
	TenantID     uint    `json:"tenant_id" gorm:"not null;uniqueIndex:idx_sensors_tenant_code"`
	Code         string  `json:"code" gorm:"type:varchar(100);not null;uniqueIndex:idx_sensors_tenant_code"`
	Name         string  `json:"name" gorm:"type:varchar(255);not null"`
	Description  string  `json:"description" gorm:"type:text"`
	Manufacturer *string `json:"manufacturer,omitempty" gorm:"type:varchar(100)"`
	Model        *string `json:"model,omitempty" gorm:"type:varchar(100)"`
	Protocol     string  `json:"protocol" gorm:"type:varchar(20)"`

	// Default pin/bus configuration
	I2CAddress *string `json:"i2c_address,omitempty" gorm:"type:varchar(10)"`
	SdaPin     *int    `json:"sda_pin,omitempty"`
	SclPin     *int    `json:"scl_pin,omitempty"`
	OneWirePin *int    `json:"one_wire_pin,omitempty"`
	AnalogPin  *int    `json:"analog_pin,omitempty"`
	DigitalPin *int    `json:"digital_pin,omitempty"`
	TriggerPin *int    `json:"trigger_pin,omitempty"`
	EchoPin    *int    `json:"echo_pin,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty"`

	// Default sampling and calibration
	IntervalSeconds  int     `json:"interval_seconds" gorm:"default:60"`
	OffsetCorrection float64 `json:"offset_correction" gorm:"default:0"`
	GainCorrection   float64 `json:"gain_correction" gorm:"default:1"`

	IsActive  bool           `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Capabilities []SensorCapability `json:"capabilities,omitempty" gorm:"foreignKey:SensorID"`
}

// SensorCapability is a named measurement type a sensor can produce
type SensorCapability struct {
	ID              uint     `json:"id" gorm:"primaryKey"`
	SensorID        uint     `json:"sensor_id" gorm:"index;not null;uniqueIndex:idx_capabilities_sensor_type"`
	MeasurementType string   `json:"measurement_type" gorm:"type:varchar(50);not null;uniqueIndex:idx_capabilities_sensor_type"`
	DisplayName     string   `json:"display_name" gorm:"type:varchar(100)"`
	Unit            string   `json:"unit" gorm:"type:varchar(20)"`
	Resolution      *float64 `json:"resolution,omitempty"`
	Accuracy        *float64 `json:"accuracy,omitempty"`
	MinValue        *float64 `json:"min_value,omitempty"`
	MaxValue        *float64 `json:"max_value,omitempty"`
}
