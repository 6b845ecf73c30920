package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/talariafit/talaria/internal/activities"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) insertTestActivity(
	ctx context.Context, t *testing.T,
	stravaID int64, name, sportType string, distance float64, startDate time.Time,
) {
	_, err := s.db.Exec(
		ctx,
		`INSERT INTO activity
			(strava_id, athlete_id, name, distance, moving_time, elapsed_time,
			 total_elevation_gain, sport_type, start_date, start_date_local, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 1800, 1900, 50, $5, $6, $6, NOW(), NOW());`,
		stravaID, testAthleteID, name, distance, sportType, startDate,
	)
	require.NoError(t, err)
}

func (s *IntegrationTestSuite) listActivities(ctx context.Context, t *testing.T, token, query string) activities.ListResponse {
	req := s.newRequest(ctx, t, "GET", fmt.Sprintf("/activities/%d%s", testAthleteID, query), token, nil)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var listResp activities.ListResponse
	require.NoError(t, json.Unmarshal(respBytes, &listResp))
	return listResp
}

func (s *IntegrationTestSuite) TestActivities_List() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	// nothing synced yet
	listResp := s.listActivities(ctx, t, token, "")
	assert.Empty(t, listResp.Activities)
	assert.Equal(t, 0, listResp.Total)
	assert.False(t, listResp.HasMore)

	now := time.Now().Truncate(time.Second)
	s.insertTestActivity(ctx, t, 101, "Old Run", "Run", 5000, now.Add(-72*time.Hour))
	s.insertTestActivity(ctx, t, 102, "Long Ride", "Ride", 42000, now.Add(-48*time.Hour))
	s.insertTestActivity(ctx, t, 103, "Fresh Run", "Run", 10000, now.Add(-2*time.Hour))

	// newest first by default
	listResp = s.listActivities(ctx, t, token, "")
	require.Len(t, listResp.Activities, 3)
	assert.Equal(t, 3, listResp.Total)
	assert.Equal(t, "Fresh Run", listResp.Activities[0].Name)
	assert.Equal(t, "Old Run", listResp.Activities[2].Name)
	assert.False(t, listResp.HasMore)

	// sport type filter
	listResp = s.listActivities(ctx, t, token, "?sportType=Ride")
	require.Len(t, listResp.Activities, 1)
	assert.Equal(t, "Long Ride", listResp.Activities[0].Name)
	assert.Equal(t, 1, listResp.Total)

	// sort by distance ascending
	listResp = s.listActivities(ctx, t, token, "?sortBy=distance&order=asc")
	require.Len(t, listResp.Activities, 3)
	assert.Equal(t, "Old Run", listResp.Activities[0].Name)
	assert.Equal(t, "Long Ride", listResp.Activities[2].Name)

	// pagination
	listResp = s.listActivities(ctx, t, token, "?limit=2")
	require.Len(t, listResp.Activities, 2)
	assert.Equal(t, 3, listResp.Total)
	assert.True(t, listResp.HasMore)

	listResp = s.listActivities(ctx, t, token, "?limit=2&offset=2")
	require.Len(t, listResp.Activities, 1)
	assert.False(t, listResp.HasMore)
}

func (s *IntegrationTestSuite) TestActivities_SyncGuards() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	// a sync for someone else's data is off limits
	req := s.newRequest(ctx, t, "POST", "/activities/sync/999", token, nil)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}
