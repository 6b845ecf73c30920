package settings

import "fmt"

// Validation error codes. These are stable API values, surfaced
// verbatim to clients so that broken form fields can be highlighted.
const (
	ErrCodeCardinalityMismatch   = "cardinality_mismatch"
	ErrCodeOrderingViolation     = "ordering_violation"
	ErrCodeLastZoneNot100        = "last_zone_not_100"
	ErrCodeHeartRateRangeInvalid = "heart_rate_range_invalid"
	ErrCodeValueOutOfRange       = "value_out_of_range"
	ErrCodeInvalidValue          = "invalid_value"
)

// Pace thresholds and heart rates outside of these bounds are almost
// certainly input mistakes, not elite athletes.
const (
	minPaceMinPerKm = 2.5
	maxPaceMinPerKm = 10.0
	minMaxHeartRate = 120
	maxMaxHeartRate = 220
	minRestHeartRate = 30
	maxRestHeartRate = 100
)

// ValidationError is one structured, field-tagged violation. A save is
// blocked if validation yields any of these; there is no partial apply.
type ValidationError struct {
	Code     string `json:"code"`
	Field    string `json:"field,omitempty"`
	Index    int    `json:"index,omitempty"`
	Expected int    `json:"expected,omitempty"`
	Actual   int    `json:"actual,omitempty"`
	Message  string `json:"message"`
}

func (e ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Code, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Validate checks the candidate settings and accumulates every
// violation instead of stopping at the first one, so the UI can show
// all broken fields at once. An empty result means the settings are
// valid. Pure and deterministic.
func Validate(s UserSettings) []ValidationError {
	var errs []ValidationError

	if !s.ZoneModel.Valid() {
		errs = append(errs, ValidationError{
			Code:    ErrCodeInvalidValue,
			Field:   "zoneModel",
			Message: fmt.Sprintf("invalid zone model %q, must be one of: 3_zone, 5_zone, 7_zone", s.ZoneModel),
		})
	} else {
		errs = append(errs, validateZoneArrays(s)...)
	}

	if s.MaxHeartRate <= s.RestHeartRate {
		errs = append(errs, ValidationError{
			Code: ErrCodeHeartRateRangeInvalid,
			Message: fmt.Sprintf(
				"max heart rate (%d) must be greater than rest heart rate (%d)",
				s.MaxHeartRate, s.RestHeartRate,
			),
		})
	}
	if s.MaxHeartRate < minMaxHeartRate || s.MaxHeartRate > maxMaxHeartRate {
		errs = append(errs, ValidationError{
			Code:    ErrCodeValueOutOfRange,
			Field:   "maxHeartRate",
			Message: fmt.Sprintf("max heart rate must be between %d and %d", minMaxHeartRate, maxMaxHeartRate),
		})
	}
	if s.RestHeartRate < minRestHeartRate || s.RestHeartRate > maxRestHeartRate {
		errs = append(errs, ValidationError{
			Code:    ErrCodeValueOutOfRange,
			Field:   "restHeartRate",
			Message: fmt.Sprintf("rest heart rate must be between %d and %d", minRestHeartRate, maxRestHeartRate),
		})
	}

	switch s.CalendarStartDay {
	case CalendarStartMonday, CalendarStartSunday:
	default:
		errs = append(errs, ValidationError{
			Code:    ErrCodeInvalidValue,
			Field:   "calendarStartDay",
			Message: "calendar start day must be 'monday' or 'sunday'",
		})
	}
	switch s.DistanceUnit {
	case DistanceUnitKm, DistanceUnitMiles:
	default:
		errs = append(errs, ValidationError{
			Code:    ErrCodeInvalidValue,
			Field:   "distanceUnit",
			Message: "distance unit must be 'km' or 'miles'",
		})
	}
	switch s.TemperatureUnit {
	case TemperatureUnitCelsius, TemperatureUnitFahrenheit:
	default:
		errs = append(errs, ValidationError{
			Code:    ErrCodeInvalidValue,
			Field:   "temperatureUnit",
			Message: "temperature unit must be 'celsius' or 'fahrenheit'",
		})
	}

	return errs
}

func validateZoneArrays(s UserSettings) []ValidationError {
	var errs []ValidationError
	expected := s.ZoneModel.Count()

	hrCardinalityOk := len(s.HRZones) == expected
	if !hrCardinalityOk {
		errs = append(errs, ValidationError{
			Code:     ErrCodeCardinalityMismatch,
			Field:    "hrZones",
			Expected: expected,
			Actual:   len(s.HRZones),
			Message:  fmt.Sprintf("expected %d hr zones for %s, got %d", expected, s.ZoneModel, len(s.HRZones)),
		})
	}
	paceCardinalityOk := len(s.PaceZones) == expected
	if !paceCardinalityOk {
		errs = append(errs, ValidationError{
			Code:     ErrCodeCardinalityMismatch,
			Field:    "paceZones",
			Expected: expected,
			Actual:   len(s.PaceZones),
			Message:  fmt.Sprintf("expected %d pace zones for %s, got %d", expected, s.ZoneModel, len(s.PaceZones)),
		})
	}

	for i := 1; i < len(s.HRZones); i++ {
		if s.HRZones[i-1] >= s.HRZones[i] {
			errs = append(errs, ValidationError{
				Code:    ErrCodeOrderingViolation,
				Field:   "hrZones",
				Index:   i,
				Message: fmt.Sprintf("hr zones must be strictly ascending, violated at index %d", i),
			})
		}
	}
	if hrCardinalityOk && len(s.HRZones) > 0 && s.HRZones[len(s.HRZones)-1] != 100 {
		errs = append(errs, ValidationError{
			Code:    ErrCodeLastZoneNot100,
			Field:   "hrZones",
			Message: "last hr zone must be 100% (maximum effort)",
		})
	}
	for i, z := range s.HRZones {
		if z <= 0 || z > 100 {
			errs = append(errs, ValidationError{
				Code:    ErrCodeValueOutOfRange,
				Field:   "hrZones",
				Index:   i,
				Message: fmt.Sprintf("hr zone percentages must be within (0, 100], got %v at index %d", z, i),
			})
		}
	}

	for i := 1; i < len(s.PaceZones); i++ {
		if s.PaceZones[i-1] <= s.PaceZones[i] {
			errs = append(errs, ValidationError{
				Code:    ErrCodeOrderingViolation,
				Field:   "paceZones",
				Index:   i,
				Message: fmt.Sprintf("pace zones must be strictly descending (slower to faster), violated at index %d", i),
			})
		}
	}
	for i, z := range s.PaceZones {
		if z < minPaceMinPerKm || z > maxPaceMinPerKm {
			errs = append(errs, ValidationError{
				Code:    ErrCodeValueOutOfRange,
				Field:   "paceZones",
				Index:   i,
				Message: fmt.Sprintf("pace zones must be between %.1f and %.1f min/km, got %v at index %d", minPaceMinPerKm, maxPaceMinPerKm, z, i),
			})
		}
	}

	return errs
}
