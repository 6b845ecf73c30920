package auth

import (
	"context"
	"errors"
)

type LoginTestChecker struct {
	LoggedSessions map[string]int64
}

func NewLoginTestChecker() *LoginTestChecker {
	return &LoginTestChecker{
		map[string]int64{},
	}
}

func (c *LoginTestChecker) IsLogged(_ context.Context, token string) (bool, error) {
	_, ok := c.LoggedSessions[token]
	return ok, nil
}

func (c *LoginTestChecker) AthleteID(_ context.Context, token string) (int64, error) {
	athleteID, ok := c.LoggedSessions[token]
	if !ok {
		return 0, errors.New("session not found")
	}
	return athleteID, nil
}
