package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/talariafit/talaria/internal/telemetry/tracing"
	"github.com/talariafit/talaria/pkg"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrSettingsNotFound = errors.New("settings not found")
	// ErrVersionConflict signals a lost compare-and-swap: the stored row
	// moved past the version this write was based on.
	ErrVersionConflict = errors.New("settings version conflict")
)

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

func (r *Repo) Get(ctx context.Context, athleteID int64) (_ *UserSettings, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.settings.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	rows, err := r.db.Query(
		ctx,
		`SELECT
			id, athlete_id, zone_model, max_heart_rate, rest_heart_rate,
			hr_zones, pace_zones, calendar_start_day, distance_unit,
			temperature_unit, version, created_at, updated_at
		FROM user_settings
		WHERE athlete_id = $1;`,
		athleteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	all, err := r.rows2settings(rows)
	if err != nil {
		return nil, err
	}
	if len(all) != 1 {
		return nil, ErrSettingsNotFound
	}
	return &all[0], nil
}

// Create persists a new settings row and returns it with the assigned ID.
func (r *Repo) Create(ctx context.Context, s UserSettings) (_ *UserSettings, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.settings.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", s.AthleteID))

	hrZonesJson, paceZonesJson, err := zonesJson(s)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(
		ctx,
		`INSERT INTO user_settings
			(athlete_id, zone_model, max_heart_rate, rest_heart_rate,
			 hr_zones, pace_zones, calendar_start_day, distance_unit,
			 temperature_unit, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id;`,
		s.AthleteID, s.ZoneModel, s.MaxHeartRate, s.RestHeartRate,
		hrZonesJson, paceZonesJson, s.CalendarStartDay, s.DistanceUnit,
		s.TemperatureUnit, s.Version, s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		// two first-contact requests can race on the create, the row
		// that won is just as good
		if pkg.IsUniqueViolationError(err) {
			return r.Get(ctx, s.AthleteID)
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
	if err := rows.Scan(&s.ID); err != nil {
		return nil, fmt.Errorf("rows scan: %w", err)
	}

	span.SetAttributes(attribute.Int64("settings.id", s.ID))
	return &s, nil
}

// Update overwrites the athlete's settings row, but only if the stored
// version still matches expectedVersion. Returns ErrVersionConflict when
// the row moved on, ErrSettingsNotFound when there is no row at all.
func (r *Repo) Update(ctx context.Context, s UserSettings, expectedVersion int64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.settings.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", s.AthleteID))
	span.SetAttributes(attribute.Int64("settings.version", s.Version))
	span.SetAttributes(attribute.Int64("settings.expected-version", expectedVersion))

	hrZonesJson, paceZonesJson, err := zonesJson(s)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(
		ctx,
		`UPDATE user_settings SET
			zone_model = $1, max_heart_rate = $2, rest_heart_rate = $3,
			hr_zones = $4, pace_zones = $5, calendar_start_day = $6,
			distance_unit = $7, temperature_unit = $8, version = $9,
			updated_at = $10
		WHERE athlete_id = $11 AND version = $12;`,
		s.ZoneModel, s.MaxHeartRate, s.RestHeartRate,
		hrZonesJson, paceZonesJson, s.CalendarStartDay,
		s.DistanceUnit, s.TemperatureUnit, s.Version,
		s.UpdatedAt,
		s.AthleteID, expectedVersion,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		// figure out whether the row is missing or just moved on
		if _, getErr := r.Get(ctx, s.AthleteID); errors.Is(getErr, ErrSettingsNotFound) {
			return ErrSettingsNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, athleteID int64) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.settings.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	tag, err := r.db.Exec(
		ctx,
		`DELETE FROM user_settings WHERE athlete_id = $1;`,
		athleteID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrSettingsNotFound
	}
	return nil
}

func zonesJson(s UserSettings) (hrZonesJson, paceZonesJson []byte, err error) {
	hrZonesJson, err = json.Marshal(s.HRZones)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal hr zones: %w", err)
	}
	paceZonesJson, err = json.Marshal(s.PaceZones)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal pace zones: %w", err)
	}
	return hrZonesJson, paceZonesJson, nil
}

func (r *Repo) rows2settings(rows pgx.Rows) ([]UserSettings, error) {
	var all []UserSettings
	for rows.Next() {
		var s UserSettings
		var hrZonesBytes, paceZonesBytes []byte
		if err := rows.Scan(
			&s.ID, &s.AthleteID, &s.ZoneModel, &s.MaxHeartRate, &s.RestHeartRate,
			&hrZonesBytes, &paceZonesBytes, &s.CalendarStartDay, &s.DistanceUnit,
			&s.TemperatureUnit, &s.Version, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			return nil, err
		}

		if err := json.Unmarshal(hrZonesBytes, &s.HRZones); err != nil {
			return nil, fmt.Errorf("unmarshal hr zones for settings %d: %w", s.ID, err)
		}
		if err := json.Unmarshal(paceZonesBytes, &s.PaceZones); err != nil {
			return nil, fmt.Errorf("unmarshal pace zones for settings %d: %w", s.ID, err)
		}

		all = append(all, s)
	}
	return all, nil
}
