package activities

import (
	"time"

	"github.com/talariafit/talaria/internal/strava"
)

// Activity is a Strava activity as stored and served by the dashboard.
type Activity struct {
	ID                 int64     `json:"id"`
	StravaID           int64     `json:"stravaId"`
	AthleteID          int64     `json:"athleteId"`
	Name               string    `json:"name"`
	Distance           float64   `json:"distance"`           // meters
	MovingTime         int       `json:"movingTime"`         // seconds
	ElapsedTime        int       `json:"elapsedTime"`        // seconds
	TotalElevationGain float64   `json:"totalElevationGain"` // meters
	SportType          string    `json:"sportType"`
	StartDate          time.Time `json:"startDate"`
	StartDateLocal     time.Time `json:"startDateLocal"`
	Timezone           string    `json:"timezone,omitempty"`
	AverageSpeed       *float64  `json:"averageSpeed,omitempty"` // m/s
	MaxSpeed           *float64  `json:"maxSpeed,omitempty"`     // m/s
	AverageHeartrate   *float64  `json:"averageHeartrate,omitempty"`
	MaxHeartrate       *int      `json:"maxHeartrate,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// FromStrava maps an activity from the Strava API to our model.
func FromStrava(sa strava.Activity, athleteID int64) Activity {
	a := Activity{
		StravaID:           sa.ID,
		AthleteID:          athleteID,
		Name:               sa.Name,
		Distance:           sa.Distance,
		MovingTime:         sa.MovingTime,
		ElapsedTime:        sa.ElapsedTime,
		TotalElevationGain: sa.TotalElevationGain,
		SportType:          sa.SportType,
		StartDate:          sa.StartDate,
		StartDateLocal:     sa.StartDateLocal,
		Timezone:           sa.Timezone,
	}
	if sa.AverageSpeed > 0 {
		avgSpeed := sa.AverageSpeed
		a.AverageSpeed = &avgSpeed
	}
	if sa.MaxSpeed > 0 {
		maxSpeed := sa.MaxSpeed
		a.MaxSpeed = &maxSpeed
	}
	if sa.AverageHeartrate > 0 {
		avgHr := sa.AverageHeartrate
		a.AverageHeartrate = &avgHr
	}
	if sa.MaxHeartrate > 0 {
		maxHr := int(sa.MaxHeartrate)
		a.MaxHeartrate = &maxHr
	}
	return a
}
