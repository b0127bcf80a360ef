package model

import (
	"time"
)

// NodeSensorAssignment binds one sensor to one node at a numbered endpoint.
// Override fields are nil unless this particular installation deviates from
// the sensor's defaults. (NodeID, EndpointID) is unique among active
// assignments; enforced at creation time so a deactivated binding's endpoint
// can be reused.
type NodeSensorAssignment struct {
	ID         uint    `json:"id" gorm:"primaryKey"`
	NodeID     uint    `json:"node_id" gorm:"not null;index:idx_assignments_node_endpoint"`
	SensorID   uint    `json:"sensor_id" gorm:"not null;index"`
	EndpointID int     `json:"endpoint_id" gorm:"not null;index:idx_assignments_node_endpoint"`
	Alias      *string `json:"alias,omitempty" gorm:"type:varchar(255)"`

	// Pin/bus overrides (nil = use sensor default)
	I2CAddressOverride *string `json:"i2c_address_override,omitempty" gorm:"type:varchar(10)"`
	SdaPinOverride     *int    `json:"sda_pin_override,omitempty"`
	SclPinOverride     *int    `json:"scl_pin_override,omitempty"`
	OneWirePinOverride *int    `json:"one_wire_pin_override,omitempty"`
	AnalogPinOverride  *int    `json:"analog_pin_override,omitempty"`
	DigitalPinOverride *int    `json:"digital_pin_override,omitempty"`
	TriggerPinOverride *int    `json:"trigger_pin_override,omitempty"`
	EchoPinOverride    *int    `json:"echo_pin_override,omitempty"`
	BaudRateOverride   *int    `json:"baud_rate_override,omitempty"`

	// Sampling and calibration overrides
	IntervalSecondsOverride  *int     `json:"interval_seconds_override,omitempty"`
	OffsetCorrectionOverride *float64 `json:"offset_correction_override,omitempty"`
	GainCorrectionOverride   *float64 `json:"gain_correction_override,omitempty"`

	IsActive   bool       `json:"is_active" gorm:"default:true"`
	LastSeenAt *time.Time `json:"last_seen_at"`
	AssignedAt time.Time  `json:"assigned_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Node   *Node   `json:"node,omitempty" gorm:"belongsTo;foreignKey:NodeID;references:ID"`
	Sensor *Sensor `json:"sensor,omitempty" gorm:"foreignKey:SensorID"`
}
