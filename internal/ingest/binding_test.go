package ingest

import (
	"testing"

	"hub-service/internal/model"
)

func ptrInt(v int) *int { return &v }

func ptrFloat(v float64) *float64 { return &v }

func ptrString(v string) *string { return &v }

func TestEffectiveOverridePrecedence(t *testing.T) {
	sensor := &model.Sensor{
		I2CAddress:       ptrString("0x76"),
		SdaPin:           ptrInt(21),
		SclPin:           ptrInt(22),
		IntervalSeconds:  60,
		OffsetCorrection: 0.5,
		GainCorrection:   1.0,
	}

	t.Run("defaults apply without overrides", func(t *testing.T) {
		assignment := &model.NodeSensorAssignment{}
		cfg := Effective(assignment, sensor)

		if cfg.I2CAddress == nil || *cfg.I2CAddress != "0x76" {
			t.Errorf("I2CAddress = %v, want 0x76", cfg.I2CAddress)
		}
		if cfg.IntervalSeconds != 60 {
			t.Errorf("IntervalSeconds = %d, want 60", cfg.IntervalSeconds)
		}
		if cfg.OffsetCorrection != 0.5 {
			t.Errorf("OffsetCorrection = %v, want 0.5", cfg.OffsetCorrection)
		}
		if cfg.GainCorrection != 1.0 {
			t.Errorf("GainCorrection = %v, want 1.0", cfg.GainCorrection)
		}
	})

	t.Run("each override wins in isolation", func(t *testing.T) {
		assignment := &model.NodeSensorAssignment{
			SdaPinOverride:           ptrInt(4),
			IntervalSecondsOverride:  ptrInt(30),
			OffsetCorrectionOverride: ptrFloat(-1.2),
		}
		cfg := Effective(assignment, sensor)

		if cfg.SdaPin == nil || *cfg.SdaPin != 4 {
			t.Errorf("SdaPin = %v, want override 4", cfg.SdaPin)
		}
		// SclPin has no override and keeps the sensor default
		if cfg.SclPin == nil || *cfg.SclPin != 22 {
			t.Errorf("SclPin = %v, want default 22", cfg.SclPin)
		}
		if cfg.IntervalSeconds != 30 {
			t.Errorf("IntervalSeconds = %d, want override 30", cfg.IntervalSeconds)
		}
		if cfg.OffsetCorrection != -1.2 {
			t.Errorf("OffsetCorrection = %v, want override -1.2", cfg.OffsetCorrection)
		}
		if cfg.GainCorrection != 1.0 {
			t.Errorf("GainCorrection = %v, want default 1.0", cfg.GainCorrection)
		}
	})

	t.Run("explicit zero override is not nil and wins", func(t *testing.T) {
		assignment := &model.NodeSensorAssignment{
			OffsetCorrectionOverride: ptrFloat(0),
		}
		cfg := Effective(assignment, sensor)
		if cfg.OffsetCorrection != 0 {
			t.Errorf("OffsetCorrection = %v, want explicit 0", cfg.OffsetCorrection)
		}
	})
}

func TestBindingCalibrationFor(t *testing.T) {
	sensor := &model.Sensor{OffsetCorrection: 0.5, GainCorrection: 2.0}

	binding := &Binding{
		Assignment: &model.NodeSensorAssignment{GainCorrectionOverride: ptrFloat(3.0)},
		Sensor:     sensor,
	}

	offset, gain := binding.CalibrationFor()
	if offset != 0.5 {
		t.Errorf("offset = %v, want sensor default 0.5", offset)
	}
	if gain != 3.0 {
		t.Errorf("gain = %v, want override 3.0", gain)
	}
}

func TestBindingUnitFor(t *testing.T) {
	binding := &Binding{
		Assignment: &model.NodeSensorAssignment{},
		Sensor: &model.Sensor{
			Capabilities: []model.SensorCapability{
				{MeasurementType: "temperature", Unit: "°C"},
				{MeasurementType: "humidity", Unit: "%"},
			},
		},
	}

	if got := binding.UnitFor("temperature"); got != "°C" {
		t.Errorf("UnitFor(temperature) = %q, want °C", got)
	}
	if got := binding.UnitFor("Temperature"); got != "°C" {
		t.Errorf("UnitFor(Temperature) = %q, want case-insensitive °C", got)
	}
	if got := binding.UnitFor("pressure"); got != "" {
		t.Errorf("UnitFor(pressure) = %q, want empty for unknown type", got)
	}

	noSensor := &Binding{Assignment: &model.NodeSensorAssignment{}}
	if got := noSensor.UnitFor("temperature"); got != "" {
		t.Errorf("UnitFor with nil sensor = %q, want empty", got)
	}
}
