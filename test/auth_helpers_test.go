package test

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/talariafit/talaria/internal/auth"

	"github.com/stretchr/testify/require"
)

// doLogin mints a session for the test athlete directly in redis. The
// real login path needs a Strava OAuth code exchange, which has no
// business in an integration test.
func (s *IntegrationTestSuite) doLogin(ctx context.Context) string {
	t := s.T()
	token, err := s.authService.Login(ctx, testAthleteID, time.Now())
	require.NoError(t, err)
	require.NotEmpty(t, token)
	return token
}

func (s *IntegrationTestSuite) newRequest(ctx context.Context, t *testing.T, method, path, token string, body io.Reader) *http.Request {
	req, err := http.NewRequestWithContext(ctx, method, serverEndpoint+path, body)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "test-agent")
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	return req
}
