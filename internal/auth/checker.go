package auth

import "context"

// TokenHeader is the request header carrying the session token.
const TokenHeader = "X-TALARIA-TOKEN"

var _ Checker = (*LoginChecker)(nil)
var _ Checker = (*LoginTestChecker)(nil)

type Checker interface {
	IsLogged(ctx context.Context, token string) (bool, error)
	// AthleteID resolves the athlete bound to a session token.
	AthleteID(ctx context.Context, token string) (int64, error)
}
