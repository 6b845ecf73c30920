package settings

import (
	"time"
)

// ZoneModel selects how many training intensity bands the athlete's
// HR and pace ranges are partitioned into.
type ZoneModel string

const (
	ZoneModel3 ZoneModel = "3_zone"
	ZoneModel5 ZoneModel = "5_zone"
	ZoneModel7 ZoneModel = "7_zone"
)

func (zm ZoneModel) Valid() bool {
	switch zm {
	case ZoneModel3, ZoneModel5, ZoneModel7:
		return true
	}
	return false
}

// Count returns the number of zones for the model, 0 for an unknown model.
func (zm ZoneModel) Count() int {
	switch zm {
	case ZoneModel3:
		return 3
	case ZoneModel5:
		return 5
	case ZoneModel7:
		return 7
	}
	return 0
}

const (
	CalendarStartMonday = "monday"
	CalendarStartSunday = "sunday"

	DistanceUnitKm    = "km"
	DistanceUnitMiles = "miles"

	TemperatureUnitCelsius    = "celsius"
	TemperatureUnitFahrenheit = "fahrenheit"
)

// UserSettings is the athlete's persisted configuration: zone model,
// HR limits, the zone threshold arrays and display preferences.
// Exactly one record exists per athlete.
//
// The zone arrays must match the zone model cardinality; hrZones are
// ascending percentages of max HR ending at 100, paceZones are
// descending min/km thresholds (slower to faster). Validate guards
// every mutation path.
type UserSettings struct {
	ID            int64     `json:"id"`
	AthleteID     int64     `json:"athleteId"`
	ZoneModel     ZoneModel `json:"zoneModel"`
	MaxHeartRate  int       `json:"maxHeartRate"`
	RestHeartRate int       `json:"restHeartRate"`
	HRZones       []float64 `json:"hrZones"`
	PaceZones     []float64 `json:"paceZones"`

	CalendarStartDay string `json:"calendarStartDay"`
	DistanceUnit     string `json:"distanceUnit"`
	TemperatureUnit  string `json:"temperatureUnit"`

	// Version is bumped on every accepted write and used for
	// compare-and-swap updates, so that a stale client write
	// cannot silently clobber a newer one.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewDefault returns the settings a brand new athlete starts with.
func NewDefault(athleteID int64) UserSettings {
	hrZones, paceZones := DefaultZones(ZoneModel5)
	now := time.Now()
	return UserSettings{
		AthleteID:        athleteID,
		ZoneModel:        ZoneModel5,
		MaxHeartRate:     190,
		RestHeartRate:    60,
		HRZones:          hrZones,
		PaceZones:        paceZones,
		CalendarStartDay: CalendarStartMonday,
		DistanceUnit:     DistanceUnitKm,
		TemperatureUnit:  TemperatureUnitCelsius,
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ChangeZoneModel switches the zone model and resets both zone arrays
// to the defaults of the new model. The prior arrays are discarded on
// purpose, never resized or interpolated - callers must get an explicit
// user confirmation before invoking this.
func ChangeZoneModel(s UserSettings, newModel ZoneModel) UserSettings {
	s.ZoneModel = newModel
	s.HRZones, s.PaceZones = DefaultZones(newModel)
	return s
}
