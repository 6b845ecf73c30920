package strava

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

const (
	authURL  = "https://www.strava.com/oauth/authorize"
	tokenURL = "https://www.strava.com/oauth/token"
)

// Strava wants its scopes comma-separated within a single scope value.
var scopes = []string{"read,activity:read_all"}

type OAuthParams struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

func NewOAuthConfig(params OAuthParams) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     params.ClientID,
		ClientSecret: params.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
		RedirectURL: params.RedirectURL,
		Scopes:      scopes,
	}
}

// AuthCodeURL builds the Strava authorize URL for the given state.
func AuthCodeURL(cfg *oauth2.Config, state string) string {
	return cfg.AuthCodeURL(state, oauth2.SetAuthURLParam("approval_prompt", "force"))
}

// ExtractAthlete pulls the athlete object Strava embeds in the token response.
func ExtractAthlete(token *oauth2.Token) (*Athlete, error) {
	raw := token.Extra("athlete")
	if raw == nil {
		return nil, errors.New("no athlete info in token response")
	}

	// round-trip through json to get from map[string]interface{} to the struct
	rawJson, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal athlete info: %w", err)
	}

	var athlete Athlete
	if err := json.Unmarshal(rawJson, &athlete); err != nil {
		return nil, fmt.Errorf("unmarshal athlete info: %w", err)
	}
	if athlete.ID == 0 {
		return nil, errors.New("athlete info without id in token response")
	}

	return &athlete, nil
}

// RefreshToken swaps a refresh token for a fresh access token.
func RefreshToken(ctx context.Context, cfg *oauth2.Config, refreshToken string) (*oauth2.Token, error) {
	expired := &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	}
	return cfg.TokenSource(ctx, expired).Token()
}
