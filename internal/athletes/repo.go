package athletes

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/talariafit/talaria/internal/telemetry/tracing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var ErrAthleteNotFound = errors.New("athlete not found")

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) GetByID(ctx context.Context, id int64) (_ *Athlete, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.athletes.getByID")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", id))

	rows, err := r.db.Query(
		ctx,
		`SELECT
			id, strava_id, username, firstname, lastname, profile_medium,
			access_token, refresh_token, expires_at, created_at, updated_at
		FROM athlete
		WHERE id = $1;`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := r.rows2athletes(rows)
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, ErrAthleteNotFound
	}
	return &all[0], nil
}

// Upsert inserts the athlete, or refreshes profile and token fields when a
// row with the same Strava ID already exists. Returns the stored athlete.
func (r *Repo) Upsert(ctx context.Context, a Athlete) (_ *Athlete, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.athletes.upsert")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.strava-id", a.StravaID))

	now := time.Now()
	rows, err := r.db.Query(
		ctx,
		`INSERT INTO athlete
			(strava_id, username, firstname, lastname, profile_medium,
			 access_token, refresh_token, expires_at, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (strava_id) DO UPDATE SET
			username = EXCLUDED.username,
			firstname = EXCLUDED.firstname,
			lastname = EXCLUDED.lastname,
			profile_medium = EXCLUDED.profile_medium,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at;`,
		a.StravaID, a.Username, a.Firstname, a.Lastname, a.ProfileMedium,
		a.AccessToken, a.RefreshToken, a.ExpiresAt, now, now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, errors.New("unexpected error [no rows next]")
	}
	if err := rows.Scan(&a.ID, &a.CreatedAt); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}
	a.UpdatedAt = now

	span.SetAttributes(attribute.Int64("athlete.id", a.ID))
	return &a, nil
}

// UpdateTokens stores a refreshed OAuth token set for the athlete.
func (r *Repo) UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt int64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.athletes.updateTokens")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", id))

	tag, err := r.db.Exec(
		ctx,
		`UPDATE athlete SET
			access_token = $1, refresh_token = $2, expires_at = $3, updated_at = $4
		WHERE id = $5;`,
		accessToken, refreshToken, expiresAt, time.Now(), id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAthleteNotFound
	}
	return nil
}

func (r *Repo) rows2athletes(rows pgx.Rows) ([]Athlete, error) {
	var all []Athlete
	for rows.Next() {
		var a Athlete
		var username, firstname, lastname, profileMedium *string
		if err := rows.Scan(
			&a.ID, &a.StravaID, &username, &firstname, &lastname, &profileMedium,
			&a.AccessToken, &a.RefreshToken, &a.ExpiresAt, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if username != nil {
			a.Username = *username
		}
		if firstname != nil {
			a.Firstname = *firstname
		}
		if lastname != nil {
			a.Lastname = *lastname
		}
		if profileMedium != nil {
			a.ProfileMedium = *profileMedium
		}
		all = append(all, a)
	}
	return all, nil
}
