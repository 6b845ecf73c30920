package activities

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/talariafit/talaria/internal/athletes"
	"github.com/talariafit/talaria/internal/auth"
	"github.com/talariafit/talaria/internal/middleware"
	"github.com/talariafit/talaria/internal/strava"
	"github.com/talariafit/talaria/internal/telemetry/tracing"
	"github.com/talariafit/talaria/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

type activitiesLister interface {
	List(ctx context.Context, params ListParams) (_ []Activity, total int, err error)
}

type activitiesSyncer interface {
	Sync(ctx context.Context, athleteID int64) (*SyncResult, error)
}

type ListResponse struct {
	Activities []Activity `json:"activities"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
	HasMore    bool       `json:"hasMore"`
}

type Handler struct {
	repo         activitiesLister
	syncer       activitiesSyncer
	loginChecker auth.Checker
}

func NewHandler(
	repo activitiesLister,
	syncer activitiesSyncer,
	loginChecker auth.Checker,
) *Handler {
	return &Handler{
		repo:         repo,
		syncer:       syncer,
		loginChecker: loginChecker,
	}
}

func (handler *Handler) SetupRoutes(
	router *mux.Router,
	rateLimiter middleware.RequestRateLimiter,
	syncAllowedPerMin int,
) {
	// syncs hammer the strava api, rate limit them per athlete session
	syncRateLimit := middleware.RateLimit(rateLimiter, "sync", syncAllowedPerMin)
	router.Handle("/activities/sync/{athleteId}", syncRateLimit(http.HandlerFunc(handler.HandleSync))).
		Methods("POST", "OPTIONS").Name("sync-activities")
	router.HandleFunc("/activities/{athleteId}", handler.HandleList).
		Methods("GET", "OPTIONS").Name("list-activities")
}

// athleteID parses the path var and checks that the session owns it.
// Writes the error response itself and returns ok=false on failure.
func (handler *Handler) athleteID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	vars := mux.Vars(r)
	athleteID, err := strconv.ParseInt(vars["athleteId"], 10, 64)
	if err != nil {
		http.Error(w, "error, invalid athlete id", http.StatusBadRequest)
		return 0, false
	}

	sessionAthleteID, err := handler.loginChecker.AthleteID(r.Context(), r.Header.Get(auth.TokenHeader))
	if err != nil {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return 0, false
	}
	if sessionAthleteID != athleteID {
		http.Error(w, "no can do", http.StatusForbidden)
		return 0, false
	}

	return athleteID, true
}

func (handler *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.activities.sync")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	result, err := handler.syncer.Sync(ctx, athleteID)
	var stravaErr *strava.APIError
	switch {
	case errors.Is(err, ErrSyncInFlight):
		http.Error(w, "sync already in progress", http.StatusConflict)
		return
	case errors.Is(err, athletes.ErrAthleteNotFound):
		http.Error(w, "athlete not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrTokenRefresh):
		http.Error(w, "failed to refresh access token, please re-authenticate", http.StatusUnauthorized)
		return
	case errors.As(err, &stravaErr):
		log.Errorf("activities sync for athlete %d, strava api: %s", athleteID, err)
		http.Error(w, "strava api error", http.StatusBadGateway)
		return
	case err != nil:
		log.Errorf("activities sync for athlete %d: %s", athleteID, err)
		http.Error(w, "activities sync failed", http.StatusInternalServerError)
		return
	}

	resultJson, err := json.Marshal(result)
	if err != nil {
		log.Errorf("failed to marshal sync result: %s", err)
		http.Error(w, "activities sync failed", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, resultJson, http.StatusOK)
}

func (handler *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.activities.list")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	params := listParamsFromQuery(r, athleteID)

	activities, total, err := handler.repo.List(ctx, params)
	if err != nil {
		log.Errorf("failed to list activities for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to list activities", http.StatusInternalServerError)
		return
	}
	if activities == nil {
		activities = []Activity{}
	}

	resp := ListResponse{
		Activities: activities,
		Total:      total,
		Limit:      params.Limit,
		Offset:     params.Offset,
		HasMore:    params.Offset+params.Limit < total,
	}
	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("failed to marshal activities list: %s", err)
		http.Error(w, "failed to list activities", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusOK)
}

func listParamsFromQuery(r *http.Request, athleteID int64) ListParams {
	query := r.URL.Query()

	params := ListParams{
		AthleteID: athleteID,
		Limit:     defaultListLimit,
		SortBy:    query.Get("sortBy"),
		Order:     query.Get("order"),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			params.Limit = min(limit, maxListLimit)
		}
	}
	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil && offset >= 0 {
			params.Offset = offset
		}
	}
	if sportType := query.Get("sportType"); sportType != "" {
		params.SportType = &sportType
	}

	return params
}
