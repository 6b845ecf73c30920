package athletes

import "time"

// Athlete is a Strava-connected user of the dashboard. OAuth tokens are
// kept out of JSON on purpose, they never leave the backend.
type Athlete struct {
	ID            int64     `json:"id"`
	StravaID      int64     `json:"stravaId"`
	Username      string    `json:"username,omitempty"`
	Firstname     string    `json:"firstname,omitempty"`
	Lastname      string    `json:"lastname,omitempty"`
	ProfileMedium string    `json:"profileMedium,omitempty"`
	AccessToken   string    `json:"-"`
	RefreshToken  string    `json:"-"`
	ExpiresAt     int64     `json:"-"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// TokenExpired reports whether the stored access token is past its expiry.
func (a *Athlete) TokenExpired(now time.Time) bool {
	return a.ExpiresAt < now.Unix()
}
