package activities

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/talariafit/talaria/internal/athletes"
	"github.com/talariafit/talaria/internal/strava"
	"github.com/talariafit/talaria/internal/telemetry/metrics"
	"github.com/talariafit/talaria/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

const (
	syncPageSize = 100
	// first sync reaches this far back
	firstSyncWindow = 30 * 24 * time.Hour
)

var (
	// ErrSyncInFlight means a sync for the same athlete is already running.
	ErrSyncInFlight = errors.New("sync already in progress")
	// ErrTokenRefresh means the stored refresh token no longer works and
	// the athlete has to re-authenticate.
	ErrTokenRefresh = errors.New("failed to refresh access token")
)

type athleteStore interface {
	GetByID(ctx context.Context, id int64) (*athletes.Athlete, error)
	UpdateTokens(ctx context.Context, id int64, accessToken, refreshToken string, expiresAt int64) error
}

type activityStore interface {
	GetByStravaID(ctx context.Context, stravaID int64) (*Activity, error)
	Create(ctx context.Context, a Activity) (*Activity, error)
	Update(ctx context.Context, a Activity) error
	LatestStartDate(ctx context.Context, athleteID int64) (time.Time, error)
}

type stravaAPI interface {
	GetActivities(ctx context.Context, accessToken string, after time.Time, page, perPage int) ([]strava.Activity, error)
}

type SyncResult struct {
	Success           bool      `json:"success"`
	ActivitiesSynced  int       `json:"activitiesSynced"`
	ActivitiesUpdated int       `json:"activitiesUpdated"`
	Total             int       `json:"total"`
	LastSync          time.Time `json:"lastSync"`
	Message           string    `json:"message"`
}

// Syncer pulls activities from Strava into the local store. At most one
// sync per athlete runs at a time.
type Syncer struct {
	athletes     athleteStore
	activities   activityStore
	stravaClient stravaAPI
	oauthCfg     *oauth2.Config
	metrics      *metrics.Manager

	mu       sync.Mutex
	inFlight map[int64]struct{}
}

func NewSyncer(
	athletesRepo athleteStore,
	activitiesRepo activityStore,
	stravaClient stravaAPI,
	oauthCfg *oauth2.Config,
	metricsManager *metrics.Manager,
) *Syncer {
	return &Syncer{
		athletes:     athletesRepo,
		activities:   activitiesRepo,
		stravaClient: stravaClient,
		oauthCfg:     oauthCfg,
		metrics:      metricsManager,
		inFlight:     map[int64]struct{}{},
	}
}

func (s *Syncer) tryAcquire(athleteID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, running := s.inFlight[athleteID]; running {
		return false
	}
	s.inFlight[athleteID] = struct{}{}
	return true
}

func (s *Syncer) release(athleteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, athleteID)
}

func (s *Syncer) Sync(ctx context.Context, athleteID int64) (_ *SyncResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "syncer.sync")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	if !s.tryAcquire(athleteID) {
		return nil, ErrSyncInFlight
	}
	defer s.release(athleteID)

	syncStart := time.Now()
	defer func() {
		s.metrics.HistSyncDuration.Observe(time.Since(syncStart).Seconds())
	}()

	athlete, err := s.athletes.GetByID(ctx, athleteID)
	if err != nil {
		return nil, err
	}

	log.Infof("starting sync for athlete %s %s [%d]", athlete.Firstname, athlete.Lastname, athleteID)

	accessToken := athlete.AccessToken
	if athlete.TokenExpired(time.Now()) {
		log.Infof("access token for athlete %d expired, refreshing ...", athleteID)
		newToken, refreshErr := strava.RefreshToken(ctx, s.oauthCfg, athlete.RefreshToken)
		if refreshErr != nil {
			log.Errorf("token refresh for athlete %d: %s", athleteID, refreshErr)
			return nil, fmt.Errorf("%w: %s", ErrTokenRefresh, refreshErr)
		}
		if err := s.athletes.UpdateTokens(
			ctx, athleteID,
			newToken.AccessToken, newToken.RefreshToken, newToken.Expiry.Unix(),
		); err != nil {
			return nil, fmt.Errorf("store refreshed tokens: %w", err)
		}
		accessToken = newToken.AccessToken
	}

	after, err := s.syncAfter(ctx, athleteID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("sync.after", after.String()))

	var newCount, updatedCount int
	page := 1
	for {
		stravaActivities, err := s.stravaClient.GetActivities(ctx, accessToken, after, page, syncPageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch activities page %d: %w", page, err)
		}

		log.Debugf("athlete %d sync: fetched %d activities [page %d]", athleteID, len(stravaActivities), page)

		for _, sa := range stravaActivities {
			created, err := s.storeActivity(ctx, sa, athleteID)
			if err != nil {
				log.Errorf("store activity %d: %s", sa.ID, err)
				continue
			}
			if created {
				newCount++
			} else {
				updatedCount++
			}
		}

		if len(stravaActivities) < syncPageSize {
			break
		}
		page++
	}

	total := newCount + updatedCount
	s.metrics.CounterActivitiesSynced.Add(float64(total))
	log.Infof("athlete %d sync complete: %d new, %d updated", athleteID, newCount, updatedCount)

	return &SyncResult{
		Success:           true,
		ActivitiesSynced:  newCount,
		ActivitiesUpdated: updatedCount,
		Total:             total,
		LastSync:          time.Now(),
		Message:           fmt.Sprintf("Successfully synced %d activities", total),
	}, nil
}

// syncAfter picks the fetch window start: the most recent stored activity,
// or firstSyncWindow back for an athlete with no activities yet.
func (s *Syncer) syncAfter(ctx context.Context, athleteID int64) (time.Time, error) {
	latest, err := s.activities.LatestStartDate(ctx, athleteID)
	if err != nil {
		if errors.Is(err, ErrActivityNotFound) {
			return time.Now().Add(-firstSyncWindow), nil
		}
		return time.Time{}, err
	}
	return latest, nil
}

func (s *Syncer) storeActivity(ctx context.Context, sa strava.Activity, athleteID int64) (created bool, err error) {
	activity := FromStrava(sa, athleteID)
	_, err = s.activities.GetByStravaID(ctx, sa.ID)
	switch {
	case err == nil:
		return false, s.activities.Update(ctx, activity)
	case errors.Is(err, ErrActivityNotFound):
		_, err = s.activities.Create(ctx, activity)
		return true, err
	default:
		return false, err
	}
}
