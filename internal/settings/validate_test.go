package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func errCodes(errs []ValidationError) []string {
	codes := make([]string, 0, len(errs))
	for _, e := range errs {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestValidate_DefaultsAreValid(t *testing.T) {
	for _, zm := range []ZoneModel{ZoneModel3, ZoneModel5, ZoneModel7} {
		s := ChangeZoneModel(NewDefault(1), zm)
		assert.Empty(t, Validate(s), "defaults for %s must validate clean", zm)
	}
}

func TestValidate_LastHRZoneNot100(t *testing.T) {
	s := NewDefault(1)
	s.HRZones = []float64{60, 70, 80, 90, 99}

	errs := Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeLastZoneNot100, errs[0].Code)
	assert.Equal(t, "hrZones", errs[0].Field)
}

func TestValidate_HRZonesOrdering(t *testing.T) {
	s := NewDefault(1)
	s.HRZones = []float64{60, 80, 70, 90, 100}

	errs := Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeOrderingViolation, errs[0].Code)
	assert.Equal(t, "hrZones", errs[0].Field)
	assert.Equal(t, 2, errs[0].Index, "the later of the two offending elements is reported")
}

func TestValidate_PaceZonesOrdering(t *testing.T) {
	s := NewDefault(1)
	s.PaceZones = []float64{7.0, 6.0, 6.5, 4.5, 4.0}

	errs := Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeOrderingViolation, errs[0].Code)
	assert.Equal(t, "paceZones", errs[0].Field)
	assert.Equal(t, 2, errs[0].Index)
}

func TestValidate_PaceZonesEqualNeighborsViolateOrdering(t *testing.T) {
	s := NewDefault(1)
	s.PaceZones = []float64{7.0, 6.0, 6.0, 4.5, 4.0}

	errs := Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeOrderingViolation, errs[0].Code)
}

func TestValidate_CardinalityMismatch(t *testing.T) {
	s := NewDefault(1)
	s.ZoneModel = ZoneModel3 // zone arrays still have 5 elements

	errs := Validate(s)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrCodeCardinalityMismatch, e.Code)
		assert.Equal(t, 3, e.Expected)
		assert.Equal(t, 5, e.Actual)
	}
}

func TestValidate_HeartRateRange(t *testing.T) {
	s := NewDefault(1)
	s.MaxHeartRate = 60
	s.RestHeartRate = 60

	errs := Validate(s)
	codes := errCodes(errs)
	assert.Contains(t, codes, ErrCodeHeartRateRangeInvalid)
	assert.Contains(t, codes, ErrCodeValueOutOfRange) // max HR 60 is below 120
}

func TestValidate_HeartRateBounds(t *testing.T) {
	s := NewDefault(1)
	s.MaxHeartRate = 230
	errs := Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeValueOutOfRange, errs[0].Code)
	assert.Equal(t, "maxHeartRate", errs[0].Field)

	s = NewDefault(1)
	s.RestHeartRate = 25
	errs = Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeValueOutOfRange, errs[0].Code)
	assert.Equal(t, "restHeartRate", errs[0].Field)
}

func TestValidate_PaceBounds(t *testing.T) {
	s := NewDefault(1)
	s.PaceZones = []float64{12.0, 6.0, 5.0, 4.5, 2.0}

	errs := Validate(s)
	require.Len(t, errs, 2)
	for _, e := range errs {
		assert.Equal(t, ErrCodeValueOutOfRange, e.Code)
		assert.Equal(t, "paceZones", e.Field)
	}
	assert.Equal(t, 0, errs[0].Index)
	assert.Equal(t, 4, errs[1].Index)
}

func TestValidate_HRZonePercentageBounds(t *testing.T) {
	s := NewDefault(1)
	s.HRZones = []float64{-5, 70, 80, 90, 100}

	errs := Validate(s)
	codes := errCodes(errs)
	assert.Contains(t, codes, ErrCodeValueOutOfRange)
	// -5 < 70 so the ordering itself is fine
	assert.NotContains(t, codes, ErrCodeOrderingViolation)
}

func TestValidate_EnumFields(t *testing.T) {
	s := NewDefault(1)
	s.CalendarStartDay = "friday"
	s.DistanceUnit = "furlongs"
	s.TemperatureUnit = "kelvin"

	errs := Validate(s)
	require.Len(t, errs, 3)
	fields := make([]string, 0, len(errs))
	for _, e := range errs {
		assert.Equal(t, ErrCodeInvalidValue, e.Code)
		fields = append(fields, e.Field)
	}
	assert.ElementsMatch(t, []string{"calendarStartDay", "distanceUnit", "temperatureUnit"}, fields)
}

func TestValidate_InvalidZoneModelSkipsArrayChecks(t *testing.T) {
	s := NewDefault(1)
	s.ZoneModel = "4_zone"
	s.HRZones = []float64{99, 1} // would be a mess under the array checks

	errs := Validate(s)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeInvalidValue, errs[0].Code)
	assert.Equal(t, "zoneModel", errs[0].Field)
}

func TestValidate_AccumulatesAllViolations(t *testing.T) {
	s := NewDefault(1)
	s.MaxHeartRate = 100
	s.RestHeartRate = 110
	s.HRZones = []float64{60, 50, 80, 90, 95}

	errs := Validate(s)
	codes := errCodes(errs)
	assert.Contains(t, codes, ErrCodeOrderingViolation)
	assert.Contains(t, codes, ErrCodeLastZoneNot100)
	assert.Contains(t, codes, ErrCodeHeartRateRangeInvalid)
	assert.Contains(t, codes, ErrCodeValueOutOfRange) // rest HR 110 above 100
}

func TestValidationError_Error(t *testing.T) {
	withField := ValidationError{Code: ErrCodeLastZoneNot100, Field: "hrZones", Message: "nope"}
	assert.Equal(t, "last_zone_not_100 [hrZones]: nope", withField.Error())

	withoutField := ValidationError{Code: ErrCodeHeartRateRangeInvalid, Message: "nope"}
	assert.Equal(t, "heart_rate_range_invalid: nope", withoutField.Error())
}
