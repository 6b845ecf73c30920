package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/talariafit/talaria/internal/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) getSettings(ctx context.Context, t *testing.T, token string) settings.UserSettings {
	req := s.newRequest(ctx, t, "GET", fmt.Sprintf("/settings/%d", testAthleteID), token, nil)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var userSettings settings.UserSettings
	require.NoError(t, json.Unmarshal(respBytes, &userSettings))
	return userSettings
}

func (s *IntegrationTestSuite) TestSettings_Lifecycle() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	// first GET creates default settings
	userSettings := s.getSettings(ctx, t, token)
	assert.Equal(t, int64(testAthleteID), userSettings.AthleteID)
	assert.Equal(t, settings.ZoneModel5, userSettings.ZoneModel)
	assert.Equal(t, 190, userSettings.MaxHeartRate)
	assert.Equal(t, 60, userSettings.RestHeartRate)
	assert.Equal(t, int64(1), userSettings.Version)

	// partial update
	body := strings.NewReader(`{"maxHeartRate": 185, "restHeartRate": 55}`)
	req := s.newRequest(ctx, t, "PUT", fmt.Sprintf("/settings/%d", testAthleteID), token, body)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated settings.UserSettings
	require.NoError(t, json.Unmarshal(respBytes, &updated))
	assert.Equal(t, 185, updated.MaxHeartRate)
	assert.Equal(t, 55, updated.RestHeartRate)
	assert.Equal(t, settings.ZoneModel5, updated.ZoneModel, "unpatched fields survive")
	assert.Equal(t, int64(2), updated.Version)

	// a read right after the accepted write sees the new values
	userSettings = s.getSettings(ctx, t, token)
	assert.Equal(t, 185, userSettings.MaxHeartRate)

	// give the auto-save a moment, then confirm the row caught up
	time.Sleep(500 * time.Millisecond)
	var storedMaxHR int
	require.NoError(t, s.db.QueryRow(
		ctx,
		`SELECT max_heart_rate FROM user_settings WHERE athlete_id = $1;`,
		testAthleteID,
	).Scan(&storedMaxHR))
	assert.Equal(t, 185, storedMaxHR)

	// reset brings the defaults back
	req = s.newRequest(ctx, t, "POST", fmt.Sprintf("/settings/%d/reset", testAthleteID), token, nil)
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	userSettings = s.getSettings(ctx, t, token)
	assert.Equal(t, 190, userSettings.MaxHeartRate)
	assert.Equal(t, int64(1), userSettings.Version)
}

func (s *IntegrationTestSuite) TestSettings_ValidationAndVersioning() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	current := s.getSettings(ctx, t, token)

	// broken zone array is rejected with structured errors
	body := strings.NewReader(`{"hrZones": [60, 70, 80, 90, 99]}`)
	req := s.newRequest(ctx, t, "PUT", fmt.Sprintf("/settings/%d", testAthleteID), token, body)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var validationResp settings.ValidationErrorsResponse
	require.NoError(t, json.Unmarshal(respBytes, &validationResp))
	require.Len(t, validationResp.Errors, 1)
	assert.Equal(t, "last_zone_not_100", validationResp.Errors[0].Code)

	// a stale version is rejected with 409
	staleBody := fmt.Sprintf(`{"maxHeartRate": 170, "version": %d}`, current.Version+100)
	req = s.newRequest(ctx, t, "PUT", fmt.Sprintf("/settings/%d", testAthleteID), token, strings.NewReader(staleBody))
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestSettings_ZoneModelChangeAndZones() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	// make sure settings exist, on 5_zone
	s.getSettings(ctx, t, token)
	body := strings.NewReader(`{"zoneModel": "5_zone"}`)
	req := s.newRequest(ctx, t, "POST", fmt.Sprintf("/settings/%d/change-zone-model", testAthleteID), token, body)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// switch to 3_zone, arrays reset to the model defaults
	body = strings.NewReader(`{"zoneModel": "3_zone"}`)
	req = s.newRequest(ctx, t, "POST", fmt.Sprintf("/settings/%d/change-zone-model", testAthleteID), token, body)
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var changed settings.UserSettings
	require.NoError(t, json.Unmarshal(respBytes, &changed))
	assert.Equal(t, settings.ZoneModel3, changed.ZoneModel)
	assert.Equal(t, []float64{70, 85, 100}, changed.HRZones)

	// derived zones follow the new model
	req = s.newRequest(ctx, t, "GET", fmt.Sprintf("/settings/%d/zones", testAthleteID), token, nil)
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	respBytes, err = io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var zonesResp struct {
		ZoneModel settings.ZoneModel `json:"zoneModel"`
		Names     []string           `json:"names"`
		Colors    []string           `json:"colors"`
		HRZones   []settings.HRZone  `json:"hrZones"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &zonesResp))
	assert.Equal(t, settings.ZoneModel3, zonesResp.ZoneModel)
	assert.Len(t, zonesResp.Names, 3)
	assert.Len(t, zonesResp.Colors, 3)
	require.Len(t, zonesResp.HRZones, 3)
	assert.Equal(t, 190, zonesResp.HRZones[2].Max)

	// an unknown model is rejected
	body = strings.NewReader(`{"zoneModel": "4_zone"}`)
	req = s.newRequest(ctx, t, "POST", fmt.Sprintf("/settings/%d/change-zone-model", testAthleteID), token, body)
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestSettings_OtherAthleteForbidden() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	req := s.newRequest(ctx, t, "GET", "/settings/999", token, nil)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
