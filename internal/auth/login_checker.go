package auth

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

type LoginChecker struct {
	ttl         time.Duration
	redisClient *redis.Client
}

func NewLoginChecker(ttl time.Duration, redisClient *redis.Client) *LoginChecker {
	return &LoginChecker{
		ttl:         ttl,
		redisClient: redisClient,
	}
}

func (lc *LoginChecker) session(ctx context.Context, token string) (int64, time.Time, error) {
	sessionKey := sessionKeyPrefix + token
	cmd := lc.redisClient.Get(ctx, sessionKey)
	if err := cmd.Err(); err != nil {
		return 0, time.Time{}, err
	}
	return parseSessionValue(cmd.Val())
}

func (lc *LoginChecker) IsLogged(ctx context.Context, token string) (bool, error) {
	_, createdAt, err := lc.session(ctx, token)
	if err != nil {
		return false, err
	}

	sessionDuration := time.Since(createdAt)
	if sessionDuration > lc.ttl {
		return false, nil
	}

	return true, nil
}

func (lc *LoginChecker) AthleteID(ctx context.Context, token string) (int64, error) {
	athleteID, _, err := lc.session(ctx, token)
	if err != nil {
		return 0, err
	}
	return athleteID, nil
}
