package test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (s *IntegrationTestSuite) TestAuth_StravaAuthURL() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))

	req := s.newRequest(ctx, t, "GET", "/auth/strava/url", "", nil)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var urlResp struct {
		URL string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(respBytes, &urlResp))

	parsed, err := url.Parse(urlResp.URL)
	require.NoError(t, err)
	assert.Equal(t, "www.strava.com", parsed.Host)

	query := parsed.Query()
	assert.Equal(t, "test-client-id", query.Get("client_id"))
	assert.Equal(t, "force", query.Get("approval_prompt"))
	assert.Equal(t, "read,activity:read_all", query.Get("scope"))
	assert.NotEmpty(t, query.Get("state"))
}

func (s *IntegrationTestSuite) TestAuth_CallbackWithUnknownState() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))

	body := strings.NewReader(`{"code": "some-code", "state": "never-issued-state"}`)
	req := s.newRequest(ctx, t, "POST", "/auth/strava/callback", "", body)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestAuth_Logout() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.redisDataCleanup(ctx))
	token := s.doLogin(ctx)

	// the session works
	req := s.newRequest(ctx, t, "GET", fmt.Sprintf("/settings/%d", testAthleteID), token, nil)
	resp, err := s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// log out
	req = s.newRequest(ctx, t, "POST", "/auth/logout", token, nil)
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	respBytes, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "logged-out", strings.TrimSpace(string(respBytes)))

	// the session is gone
	req = s.newRequest(ctx, t, "GET", fmt.Sprintf("/settings/%d", testAthleteID), token, nil)
	resp, err = s.httpClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestAuth_ProtectedEndpointsNeedSession() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	protected := []struct {
		method string
		path   string
	}{
		{"GET", fmt.Sprintf("/settings/%d", testAthleteID)},
		{"PUT", fmt.Sprintf("/settings/%d", testAthleteID)},
		{"GET", fmt.Sprintf("/activities/%d", testAthleteID)},
		{"POST", fmt.Sprintf("/activities/sync/%d", testAthleteID)},
	}

	for _, endpoint := range protected {
		req := s.newRequest(ctx, t, endpoint.method, endpoint.path, "", nil)
		resp, err := s.httpClient.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())
		assert.Equal(
			t, http.StatusUnauthorized, resp.StatusCode,
			"%s %s without a token", endpoint.method, endpoint.path,
		)
	}
}

func (s *IntegrationTestSuite) TestAuth_RateLimiting() {
	t := s.T()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// start from a clean limiter state
	require.NoError(t, s.redisDataCleanup(ctx))

	// config allows 10 auth requests per minute
	for i := 1; i <= 15; i++ {
		req := s.newRequest(ctx, t, "GET", "/auth/strava/url", "", nil)
		resp, err := s.httpClient.Do(req)
		require.NoError(t, err)
		require.NoError(t, resp.Body.Close())

		if i <= 10 {
			require.Equal(t, http.StatusOK, resp.StatusCode, "iteration: %d", i)
		} else {
			require.Equal(t, http.StatusTooEarly, resp.StatusCode, "iteration: %d", i)
		}
	}

	require.NoError(t, s.redisDataCleanup(ctx))
}
