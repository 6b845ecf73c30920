package strava

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Strava rate limits: 100 requests per 15 minutes, 1000 per day. The real
// numbers arrive in response headers, these are just the starting values.

type RateLimiter struct {
	mu sync.Mutex

	shortLimit    int
	shortUsage    int
	shortResetsAt time.Time

	dailyLimit int
	dailyUsage int

	minInterval time.Duration
	lastRequest time.Time
}

func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		shortLimit:    100,
		shortResetsAt: time.Now().Add(15 * time.Minute),
		dailyLimit:    1000,
		minInterval:   150 * time.Millisecond,
	}
}

// Wait blocks until a request can be made without busting the 15-minute
// window, or until ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()

	now := time.Now()
	if now.After(r.shortResetsAt) {
		r.shortUsage = 0
		r.shortResetsAt = now.Add(15 * time.Minute)
	}

	var waitTime time.Duration
	if r.shortUsage >= r.shortLimit {
		waitTime = time.Until(r.shortResetsAt)
	} else if elapsed := time.Since(r.lastRequest); elapsed < r.minInterval {
		waitTime = r.minInterval - elapsed
	}

	if waitTime > 0 {
		r.mu.Unlock()
		select {
		case <-time.After(waitTime):
		case <-ctx.Done():
			return ctx.Err()
		}
		r.mu.Lock()
		if r.shortUsage >= r.shortLimit {
			r.shortUsage = 0
			r.shortResetsAt = time.Now().Add(15 * time.Minute)
		}
	}

	r.shortUsage++
	r.dailyUsage++
	r.lastRequest = time.Now()
	r.mu.Unlock()

	return nil
}

// UpdateFromHeaders syncs limiter state with what Strava reports, e.g.
// X-RateLimit-Limit: "100,1000" and X-RateLimit-Usage: "34,512".
func (r *RateLimiter) UpdateFromHeaders(h http.Header) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if usage := h.Get("X-RateLimit-Usage"); usage != "" {
		if short, daily, ok := parseLimitPair(usage); ok {
			r.shortUsage = short
			r.dailyUsage = daily
		}
	}
	if limit := h.Get("X-RateLimit-Limit"); limit != "" {
		if short, daily, ok := parseLimitPair(limit); ok {
			r.shortLimit = short
			r.dailyLimit = daily
		}
	}
}

func (r *RateLimiter) Status() (shortRemaining, dailyRemaining int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shortLimit - r.shortUsage, r.dailyLimit - r.dailyUsage
}

func parseLimitPair(val string) (short, daily int, ok bool) {
	parts := strings.Split(val, ",")
	if len(parts) < 2 {
		return 0, 0, false
	}
	short, errShort := strconv.Atoi(strings.TrimSpace(parts[0]))
	daily, errDaily := strconv.Atoi(strings.TrimSpace(parts[1]))
	if errShort != nil || errDaily != nil {
		return 0, 0, false
	}
	return short, daily, true
}
