package schema

import (
	"encoding/json"
	"fmt"

	"sentra/pkg/config"
)

// Error codes surfaced to callers. The first violation becomes the response's
// primary errorCode; the full list travels in details.
const (
	CodeMissingField      = "MISSING_REQUIRED_FIELD"
	CodeNoEvents          = "NO_EVENTS"
	CodeTooManyEvents     = "TOO_MANY_EVENTS"
	CodeInvalidEventType  = "INVALID_EVENT_TYPE"
	CodeInvalidConfidence = "INVALID_CONFIDENCE"
	CodeInvalidTimestamp  = "INVALID_TIMESTAMP"
	CodeMetadataTooLarge  = "METADATA_TOO_LARGE"
	CodeInvalidSystemMode = "INVALID_SYSTEM_MODE"
	CodeInvalidLatitude   = "INVALID_LATITUDE"
	CodeInvalidLongitude  = "INVALID_LONGITUDE"
	CodeInvalidBattery    = "INVALID_BATTERY"
	CodeInvalidDecibels   = "INVALID_DECIBELS"
)

// ValidationError is one field-level violation.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Field)
}

// Validator performs the bounds and vocabulary checks on a decoded request.
// It is a pure function of (config, request): it never mutates the request
// and never panics, and it collects every violation instead of stopping at
// the first one.
type Validator struct {
	cfg config.Config
}

// NewValidator builds a validator bound to the given config.
func NewValidator(cfg config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate returns the complete list of violations; an empty list means the
// request is admissible.
func (v *Validator) Validate(req *Request) []ValidationError {
	var errs []ValidationError
	if req == nil {
		return []ValidationError{{Code: CodeMissingField, Field: "request", Message: "request body is required"}}
	}

	errs = append(errs, v.validateEvents(req.Events)...)
	errs = append(errs, v.validateSystemMode(req.SystemMode)...)
	errs = append(errs, v.validateLocation(req.Location)...)
	errs = append(errs, v.validateDeviceInfo(req.DeviceInfo)...)

	if req.Timestamp == "" {
		errs = append(errs, ValidationError{Code: CodeMissingField, Field: "timestamp", Message: "timestamp is required"})
	} else if !parseableTimestamp(req.Timestamp) {
		errs = append(errs, ValidationError{Code: CodeInvalidTimestamp, Field: "timestamp",
			Message: fmt.Sprintf("timestamp %q is not valid ISO-8601", req.Timestamp)})
	}
	return errs
}

func (v *Validator) validateEvents(events []Event) []ValidationError {
	if events == nil {
		return []ValidationError{{Code: CodeMissingField, Field: "events", Message: "events field is required"}}
	}
	if len(events) == 0 {
		return []ValidationError{{Code: CodeNoEvents, Field: "events", Message: "at least one event is required"}}
	}
	var errs []ValidationError
	if len(events) > v.cfg.MaxEventsPerReq {
		errs = append(errs, ValidationError{Code: CodeTooManyEvents, Field: "events",
			Message: fmt.Sprintf("%d events exceeds the maximum of %d", len(events), v.cfg.MaxEventsPerReq)})
	}
	for i, ev := range events {
		errs = append(errs, v.validateEvent(i, ev)...)
	}
	return errs
}

func (v *Validator) validateEvent(idx int, ev Event) []ValidationError {
	var errs []ValidationError
	field := func(name string) string { return fmt.Sprintf("events[%d].%s", idx, name) }

	if !EventTypes[ev.Type] {
		errs = append(errs, ValidationError{Code: CodeInvalidEventType, Field: field("type"),
			Message: fmt.Sprintf("unknown event type %q", ev.Type)})
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		errs = append(errs, ValidationError{Code: CodeInvalidConfidence, Field: field("confidence"),
			Message: fmt.Sprintf("confidence %v outside [0,1]", ev.Confidence)})
	}
	if !parseableTimestamp(ev.Timestamp) {
		errs = append(errs, ValidationError{Code: CodeInvalidTimestamp, Field: field("timestamp"),
			Message: fmt.Sprintf("timestamp %q is not valid ISO-8601", ev.Timestamp)})
	}
	if ev.Metadata != nil {
		raw, err := json.Marshal(ev.Metadata)
		if err != nil || len(raw) > v.cfg.MaxMetadataBytes {
			errs = append(errs, ValidationError{Code: CodeMetadataTooLarge, Field: field("metadata"),
				Message: fmt.Sprintf("metadata exceeds %d bytes", v.cfg.MaxMetadataBytes)})
		}
		if db, ok := ev.MetadataFloat("decibels"); ok && (db < 0 || db > v.cfg.DecibelMax) {
			errs = append(errs, ValidationError{Code: CodeInvalidDecibels, Field: field("metadata.decibels"),
				Message: fmt.Sprintf("decibels %v outside [0,%v]", db, v.cfg.DecibelMax)})
		}
	}
	return errs
}

func (v *Validator) validateSystemMode(mode string) []ValidationError {
	if mode == "" {
		return []ValidationError{{Code: CodeMissingField, Field: "systemMode", Message: "systemMode is required"}}
	}
	if !SystemModes[mode] {
		return []ValidationError{{Code: CodeInvalidSystemMode, Field: "systemMode",
			Message: fmt.Sprintf("unknown systemMode %q", mode)}}
	}
	return nil
}

func (v *Validator) validateLocation(loc *Location) []ValidationError {
	if loc == nil {
		return []ValidationError{{Code: CodeMissingField, Field: "location", Message: "location is required"}}
	}
	var errs []ValidationError
	if loc.Lat < -90 || loc.Lat > 90 {
		errs = append(errs, ValidationError{Code: CodeInvalidLatitude, Field: "location.lat",
			Message: fmt.Sprintf("latitude %v outside [-90,90]", loc.Lat)})
	}
	if loc.Lon < -180 || loc.Lon > 180 {
		errs = append(errs, ValidationError{Code: CodeInvalidLongitude, Field: "location.lon",
			Message: fmt.Sprintf("longitude %v outside [-180,180]", loc.Lon)})
	}
	return errs
}

func (v *Validator) validateDeviceInfo(info *DeviceInfo) []ValidationError {
	if info == nil || info.Battery == nil {
		return nil
	}
	if *info.Battery < 0 || *info.Battery > 100 {
		return []ValidationError{{Code: CodeInvalidBattery, Field: "deviceInfo.battery",
			Message: fmt.Sprintf("battery %v outside [0,100]", *info.Battery)}}
	}
	return nil
}

func parseableTimestamp(ts string) bool {
	if ts == "" {
		return false
	}
	_, err := (Event{Timestamp: ts}).Time()
	return err == nil
}
