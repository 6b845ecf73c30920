package activities

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/talariafit/talaria/internal/athletes"
	"github.com/talariafit/talaria/internal/telemetry/tracing"
	"github.com/talariafit/talaria/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var ErrActivityNotFound = errors.New("activity not found")

// sort fields the list endpoint accepts, mapped to their columns
var sortColumns = map[string]string{
	"startDate":    "start_date",
	"distance":     "distance",
	"movingTime":   "moving_time",
	"averageSpeed": "average_speed",
}

type ListParams struct {
	AthleteID int64
	Limit     int
	Offset    int
	SortBy    string
	Order     string
	SportType *string
}

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) List(ctx context.Context, params ListParams) (_ []Activity, total int, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.activities.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", params.AthleteID))

	total, err = r.count(ctx, params)
	if err != nil {
		return nil, -1, err
	}

	sortColumn, ok := sortColumns[params.SortBy]
	if !ok {
		sortColumn = "start_date"
	}
	direction := "DESC"
	if params.Order == "asc" {
		direction = "ASC"
	}

	rows, err := r.db.Query(
		ctx,
		fmt.Sprintf(`
			SELECT
				id, strava_id, athlete_id, name, distance, moving_time,
				elapsed_time, total_elevation_gain, sport_type, start_date,
				start_date_local, timezone, average_speed, max_speed,
				average_heartrate, max_heartrate, created_at, updated_at
			FROM activity
				WHERE athlete_id = $1
				AND ($2::text IS NULL OR sport_type = $2)
			ORDER BY %s %s
			LIMIT $3
			OFFSET $4;`, sortColumn, direction),
		params.AthleteID, params.SportType, params.Limit, params.Offset,
	)
	if err != nil {
		return nil, -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, -1, err
	}

	all, err := r.rows2activities(rows)
	if err != nil {
		return nil, -1, err
	}
	return all, total, nil
}

func (r *Repo) count(ctx context.Context, params ListParams) (int, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT COUNT(*) FROM activity
			WHERE athlete_id = $1
			AND ($2::text IS NULL OR sport_type = $2);`,
		params.AthleteID, params.SportType,
	)
	if err != nil {
		return -1, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return -1, err
	}

	if rows.Next() {
		var count int
		if err := rows.Scan(&count); err == nil {
			return count, nil
		}
	}

	return -1, errors.New("unexpected error, failed to get activities count")
}

func (r *Repo) GetByStravaID(ctx context.Context, stravaID int64) (*Activity, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT
			id, strava_id, athlete_id, name, distance, moving_time,
			elapsed_time, total_elevation_gain, sport_type, start_date,
			start_date_local, timezone, average_speed, max_speed,
			average_heartrate, max_heartrate, created_at, updated_at
		FROM activity
		WHERE strava_id = $1;`,
		stravaID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := r.rows2activities(rows)
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, ErrActivityNotFound
	}
	return &all[0], nil
}

func (r *Repo) Create(ctx context.Context, a Activity) (_ *Activity, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.activities.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("activity.strava-id", a.StravaID))

	now := time.Now()
	a.CreatedAt = now
	a.UpdatedAt = now

	rows, err := r.db.Query(
		ctx,
		`INSERT INTO activity
			(strava_id, athlete_id, name, distance, moving_time, elapsed_time,
			 total_elevation_gain, sport_type, start_date, start_date_local,
			 timezone, average_speed, max_speed, average_heartrate,
			 max_heartrate, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING id;`,
		a.StravaID, a.AthleteID, a.Name, a.Distance, a.MovingTime, a.ElapsedTime,
		a.TotalElevationGain, a.SportType, a.StartDate, a.StartDateLocal,
		a.Timezone, a.AverageSpeed, a.MaxSpeed, a.AverageHeartrate,
		a.MaxHeartrate, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if pkg.IsForeignKeyViolationError(err) {
			return nil, athletes.ErrAthleteNotFound
		}
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, errors.New("unexpected error [no rows next]")
	}
	if err := rows.Scan(&a.ID); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}

	return &a, nil
}

// Update refreshes a stored activity with the latest Strava data. The row
// id and created_at stay as they are.
func (r *Repo) Update(ctx context.Context, a Activity) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.activities.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("activity.strava-id", a.StravaID))

	tag, err := r.db.Exec(
		ctx,
		`UPDATE activity SET
			name = $1, distance = $2, moving_time = $3, elapsed_time = $4,
			total_elevation_gain = $5, sport_type = $6, start_date = $7,
			start_date_local = $8, timezone = $9, average_speed = $10,
			max_speed = $11, average_heartrate = $12, max_heartrate = $13,
			updated_at = $14
		WHERE strava_id = $15;`,
		a.Name, a.Distance, a.MovingTime, a.ElapsedTime,
		a.TotalElevationGain, a.SportType, a.StartDate,
		a.StartDateLocal, a.Timezone, a.AverageSpeed,
		a.MaxSpeed, a.AverageHeartrate, a.MaxHeartrate,
		time.Now(),
		a.StravaID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrActivityNotFound
	}
	return nil
}

// LatestStartDate returns the start date of the athlete's most recent
// stored activity, or ErrActivityNotFound when there are none yet.
func (r *Repo) LatestStartDate(ctx context.Context, athleteID int64) (time.Time, error) {
	rows, err := r.db.Query(
		ctx,
		`SELECT start_date FROM activity
			WHERE athlete_id = $1
		ORDER BY start_date DESC
		LIMIT 1;`,
		athleteID,
	)
	if err != nil {
		return time.Time{}, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return time.Time{}, err
	}

	if !rows.Next() {
		return time.Time{}, ErrActivityNotFound
	}

	var startDate time.Time
	if err := rows.Scan(&startDate); err != nil {
		return time.Time{}, fmt.Errorf("rows scan: %w", err)
	}
	return startDate, nil
}

func (r *Repo) rows2activities(rows pgx.Rows) ([]Activity, error) {
	var all []Activity
	for rows.Next() {
		var a Activity
		var timezone *string
		if err := rows.Scan(
			&a.ID, &a.StravaID, &a.AthleteID, &a.Name, &a.Distance, &a.MovingTime,
			&a.ElapsedTime, &a.TotalElevationGain, &a.SportType, &a.StartDate,
			&a.StartDateLocal, &timezone, &a.AverageSpeed, &a.MaxSpeed,
			&a.AverageHeartrate, &a.MaxHeartrate, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if timezone != nil {
			a.Timezone = *timezone
		}
		all = append(all, a)
	}
	return all, nil
}
