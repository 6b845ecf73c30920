package strava

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/talariafit/talaria/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultBaseURL = "https://www.strava.com/api/v3"

	// short expiry, mostly there to absorb a double-clicked sync button
	activitiesCacheExpireSeconds = 60
)

type Client struct {
	baseURL     string
	httpClient  *http.Client
	cache       *freecache.Cache
	rateLimiter *RateLimiter
}

func NewClient(httpClient *http.Client) *Client {
	return NewClientWithBaseURL(httpClient, defaultBaseURL)
}

// NewClientWithBaseURL exists so tests can point the client at a local server.
func NewClientWithBaseURL(httpClient *http.Client, baseURL string) *Client {
	megabyte := 1024 * 1024
	return &Client{
		baseURL:     baseURL,
		httpClient:  httpClient,
		cache:       freecache.NewCache(10 * megabyte),
		rateLimiter: NewRateLimiter(),
	}
}

// GetActivities fetches one page of the athlete's activities after the
// given moment.
func (c *Client) GetActivities(
	ctx context.Context,
	accessToken string,
	after time.Time,
	page, perPage int,
) (activities []Activity, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "stravaClient.getActivities")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int("page", page))

	cacheKey := fmt.Sprintf("activities::%s::%d::%d::%d", accessToken, after.Unix(), page, perPage)
	if cachedBytes, err := c.cache.Get([]byte(cacheKey)); err == nil {
		log.Tracef("found activities page %d in cache", page)
		if err = json.Unmarshal(cachedBytes, &activities); err == nil {
			return activities, nil
		}
		log.Errorf("failed to unmarshal activities page %d from cache: %s", page, err)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{}
	if !after.IsZero() {
		params.Set("after", strconv.FormatInt(after.Unix(), 10))
	}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	respBytes, err := c.get(ctx, accessToken, "/athlete/activities", params)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(respBytes, &activities); err != nil {
		return nil, fmt.Errorf("unmarshal activities: %w", err)
	}

	if err := c.cache.Set([]byte(cacheKey), respBytes, activitiesCacheExpireSeconds); err != nil {
		log.Errorf("failed to write activities page %d cache: %s", page, err)
	}

	return activities, nil
}

func (c *Client) RateLimitStatus() (shortRemaining, dailyRemaining int) {
	return c.rateLimiter.Status()
}

func (c *Client) get(ctx context.Context, accessToken, path string, params url.Values) ([]byte, error) {
	reqUrl := c.baseURL + path
	if len(params) > 0 {
		reqUrl += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqUrl, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http client do: %w", err)
	}
	defer resp.Body.Close()

	c.rateLimiter.UpdateFromHeaders(resp.Header)

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response bytes: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(respBytes),
		}
	}

	return respBytes, nil
}
