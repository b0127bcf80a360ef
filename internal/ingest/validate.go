package ingest

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// ErrValidation marks errors caused by malformed input. Nothing has been
// written when it is returned.
var ErrValidation = errors.New("validation failed")

var (
	externalIDPattern      = regexp.MustCompile(`^[a-zA-Z0-9\-_]+$`)
	measurementTypePattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

const (
	maxExternalIDLength      = 100
	maxMeasurementTypeLength = 50
	minEndpointID            = 1
	maxEndpointID            = 254
)

// ReadingRequest is a single inbound measurement report
type ReadingRequest struct {
	NodeExternalID  string     `json:"nodeExternalId"`
	HubExternalID   *string    `json:"hubExternalId,omitempty"`
	EndpointID      int        `json:"endpointId"`
	MeasurementType string     `json:"measurementType"`
	RawValue        float64    `json:"rawValue"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
}

// BatchItem is one measurement inside a batch report
type BatchItem struct {
	EndpointID      int     `json:"endpointId"`
	MeasurementType string  `json:"measurementType"`
	RawValue        float64 `json:"rawValue"`
}

// BatchRequest is a multi-measurement report from one node
type BatchRequest struct {
	NodeExternalID string      `json:"nodeExternalId"`
	HubExternalID  *string     `json:"hubExternalId,omitempty"`
	Timestamp      *time.Time  `json:"timestamp,omitempty"`
	Readings       []BatchItem `json:"readings"`
}

// Validate checks the request and normalizes the measurement type to lowercase
func (r *ReadingRequest) Validate(now time.Time) error {
	if err := validateExternalID("nodeExternalId", r.NodeExternalID); err != nil {
		return err
	}
	if r.HubExternalID != nil {
		if err := validateExternalID("hubExternalId", *r.HubExternalID); err != nil {
			return err
		}
	}
	if err := validateEndpointID(r.EndpointID); err != nil {
		return err
	}
	normalized, err := validateMeasurementType(r.MeasurementType)
	if err != nil {
		return err
	}
	r.MeasurementType = normalized
	if err := validateRawValue(r.RawValue); err != nil {
		return err
	}
	if r.Timestamp != nil {
		if err := validateTimestamp(*r.Timestamp, now); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks the batch envelope; items are validated individually during
// processing so one bad item fails alone instead of rejecting the batch.
func (r *BatchRequest) Validate(now time.Time) error {
	if err := validateExternalID("nodeExternalId", r.NodeExternalID); err != nil {
		return err
	}
	if r.HubExternalID != nil {
		if err := validateExternalID("hubExternalId", *r.HubExternalID); err != nil {
			return err
		}
	}
	if r.Timestamp != nil {
		if err := validateTimestamp(*r.Timestamp, now); err != nil {
			return err
		}
	}
	if len(r.Readings) == 0 {
		return fmt.Errorf("%w: readings must not be empty", ErrValidation)
	}
	return nil
}

// Validate checks a single batch item and normalizes its measurement type
func (i *BatchItem) Validate() error {
	if err := validateEndpointID(i.EndpointID); err != nil {
		return err
	}
	normalized, err := validateMeasurementType(i.MeasurementType)
	if err != nil {
		return err
	}
	i.MeasurementType = normalized
	return validateRawValue(i.RawValue)
}

func validateExternalID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s is required", ErrValidation, field)
	}
	if len(value) > maxExternalIDLength {
		return fmt.Errorf("%w: %s must not exceed %d characters", ErrValidation, field, maxExternalIDLength)
	}
	if !externalIDPattern.MatchString(value) {
		return fmt.Errorf("%w: %s can only contain letters, numbers, hyphens, and underscores", ErrValidation, field)
	}
	return nil
}

func validateEndpointID(endpointID int) error {
	if endpointID < minEndpointID || endpointID > maxEndpointID {
		return fmt.Errorf("%w: endpointId must be between %d and %d", ErrValidation, minEndpointID, maxEndpointID)
	}
	return nil
}

func validateMeasurementType(measurementType string) (string, error) {
	normalized := strings.ToLower(measurementType)
	if normalized == "" {
		return "", fmt.Errorf("%w: measurementType is required", ErrValidation)
	}
	if len(normalized) > maxMeasurementTypeLength {
		return "", fmt.Errorf("%w: measurementType must not exceed %d characters", ErrValidation, maxMeasurementTypeLength)
	}
	if !measurementTypePattern.MatchString(normalized) {
		return "", fmt.Errorf("%w: measurementType must be lowercase with underscores (e.g. 'temperature', 'soil_moisture')", ErrValidation)
	}
	return normalized, nil
}

func validateRawValue(value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: rawValue must be a finite number", ErrValidation)
	}
	return nil
}

func validateTimestamp(ts, now time.Time) error {
	if ts.After(now.Add(5 * time.Minute)) {
		return fmt.Errorf("%w: timestamp cannot be more than 5 minutes in the future", ErrValidation)
	}
	if ts.Before(now.AddDate(-1, 0, 0)) {
		return fmt.Errorf("%w: timestamp cannot be more than 1 year in the past", ErrValidation)
	}
	return nil
}
