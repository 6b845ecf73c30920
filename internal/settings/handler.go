package settings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/talariafit/talaria/internal/auth"
	"github.com/talariafit/talaria/internal/telemetry/metrics"
	"github.com/talariafit/talaria/internal/telemetry/tracing"
	"github.com/talariafit/talaria/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

type settingsRepo interface {
	Get(ctx context.Context, athleteID int64) (*UserSettings, error)
	Create(ctx context.Context, s UserSettings) (*UserSettings, error)
	Update(ctx context.Context, s UserSettings, expectedVersion int64) error
	Delete(ctx context.Context, athleteID int64) error
}

// UpdateRequest is a partial settings patch. Nil fields keep their
// current values; the merged result is validated as a whole before
// anything is accepted. An optional version enables compare-and-swap.
type UpdateRequest struct {
	ZoneModel        *ZoneModel `json:"zoneModel"`
	MaxHeartRate     *int       `json:"maxHeartRate"`
	RestHeartRate    *int       `json:"restHeartRate"`
	HRZones          *[]float64 `json:"hrZones"`
	PaceZones        *[]float64 `json:"paceZones"`
	CalendarStartDay *string    `json:"calendarStartDay"`
	DistanceUnit     *string    `json:"distanceUnit"`
	TemperatureUnit  *string    `json:"temperatureUnit"`
	Version          *int64     `json:"version"`
}

type ChangeZoneModelRequest struct {
	ZoneModel ZoneModel `json:"zoneModel"`
}

type ValidationErrorsResponse struct {
	Errors []ValidationError `json:"errors"`
}

// ZonesResponse carries the derived zone boundaries plus display
// metadata. Recomputed from the current settings on every request;
// never stored anywhere.
type ZonesResponse struct {
	ZoneModel ZoneModel  `json:"zoneModel"`
	Names     []string   `json:"names"`
	Colors    []string   `json:"colors"`
	HRZones   []HRZone   `json:"hrZones"`
	PaceZones []PaceZone `json:"paceZones"`
}

type Handler struct {
	repo         settingsRepo
	autosaver    *Autosaver
	loginChecker auth.Checker
	metrics      *metrics.Manager
}

func NewHandler(
	repo settingsRepo,
	autosaver *Autosaver,
	loginChecker auth.Checker,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		repo:         repo,
		autosaver:    autosaver,
		loginChecker: loginChecker,
		metrics:      metricsManager,
	}
}

func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/settings/{athleteId}", handler.HandleGet).
		Methods("GET", "OPTIONS").Name("get-settings")
	router.HandleFunc("/settings/{athleteId}", handler.HandleUpdate).
		Methods("PUT", "OPTIONS").Name("update-settings")
	router.HandleFunc("/settings/{athleteId}/reset", handler.HandleReset).
		Methods("POST", "OPTIONS").Name("reset-settings")
	router.HandleFunc("/settings/{athleteId}/change-zone-model", handler.HandleChangeZoneModel).
		Methods("POST", "OPTIONS").Name("change-zone-model")
	router.HandleFunc("/settings/{athleteId}/zones", handler.HandleZones).
		Methods("GET", "OPTIONS").Name("get-zones")
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

// current returns the freshest settings value: a pending auto-save wins
// over the stored row.
func (handler *Handler) current(ctx context.Context, athleteID int64) (*UserSettings, error) {
	if pending, ok := handler.autosaver.Peek(athleteID); ok {
		return &pending, nil
	}
	return handler.repo.Get(ctx, athleteID)
}

func (handler *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.settings.get")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	s, err := handler.current(ctx, athleteID)
	if errors.Is(err, ErrSettingsNotFound) {
		// first contact for this athlete, persist and return the defaults
		s, err = handler.repo.Create(ctx, NewDefault(athleteID))
	}
	if err != nil {
		log.Errorf("failed to get settings for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	handler.writeSettings(w, s, http.StatusOK)
}

func (handler *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.settings.update")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	if r.Header.Get("Content-Type") != "application/json" {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return
	}

	var patch UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		log.Tracef("update settings, unmarshal json params: %s", err)
		http.Error(w, "update settings failed", http.StatusBadRequest)
		return
	}

	current, err := handler.current(ctx, athleteID)
	if errors.Is(err, ErrSettingsNotFound) {
		http.Error(w, "settings not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Errorf("failed to get settings for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	if patch.Version != nil && *patch.Version != current.Version {
		span.SetAttributes(attribute.Int64("settings.version", current.Version))
		http.Error(w, "settings changed in the meantime, reload and retry", http.StatusConflict)
		return
	}

	merged := current.applyPatch(patch)
	merged.Version = current.Version + 1
	merged.UpdatedAt = time.Now()

	if validationErrs := Validate(merged); len(validationErrs) > 0 {
		// local validation failures never reach the store
		handler.writeValidationErrors(w, validationErrs)
		return
	}

	handler.autosaver.Schedule(ctx, merged)
	handler.metrics.CounterSettingsUpdates.Inc()

	handler.writeSettings(w, &merged, http.StatusOK)
}

func (handler *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.settings.reset")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	// a reset supersedes any debounced edit
	handler.autosaver.Drop(athleteID)

	if err := handler.repo.Delete(ctx, athleteID); err != nil && !errors.Is(err, ErrSettingsNotFound) {
		log.Errorf("failed to delete settings for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to reset settings", http.StatusInternalServerError)
		return
	}

	created, err := handler.repo.Create(ctx, NewDefault(athleteID))
	if err != nil {
		log.Errorf("failed to recreate settings for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to reset settings", http.StatusInternalServerError)
		return
	}

	log.Debugf("settings reset for athlete %d", athleteID)
	handler.writeSettings(w, created, http.StatusOK)
}

func (handler *Handler) HandleChangeZoneModel(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.settings.changeZoneModel")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	var req ChangeZoneModelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Tracef("change zone model, unmarshal json params: %s", err)
		http.Error(w, "change zone model failed", http.StatusBadRequest)
		return
	}
	if !req.ZoneModel.Valid() {
		handler.writeValidationErrors(w, []ValidationError{{
			Code:    ErrCodeInvalidValue,
			Field:   "zoneModel",
			Message: "zoneModel must be one of: 3_zone, 5_zone, 7_zone",
		}})
		return
	}
	span.SetAttributes(attribute.String("settings.zone-model", string(req.ZoneModel)))

	current, err := handler.current(ctx, athleteID)
	if errors.Is(err, ErrSettingsNotFound) {
		http.Error(w, "settings not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Errorf("failed to get settings for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	updated := ChangeZoneModel(*current, req.ZoneModel)
	updated.Version = current.Version + 1
	updated.UpdatedAt = time.Now()

	// destructive and confirmed by the user, written through immediately
	expectedVersion := current.Version
	if baseVersion, had := handler.autosaver.Drop(athleteID); had {
		expectedVersion = baseVersion
	}

	switch err = handler.repo.Update(ctx, updated, expectedVersion); {
	case errors.Is(err, ErrSettingsNotFound):
		http.Error(w, "settings not found", http.StatusNotFound)
		return
	case errors.Is(err, ErrVersionConflict):
		http.Error(w, "settings changed in the meantime, reload and retry", http.StatusConflict)
		return
	case err != nil:
		log.Errorf("failed to change zone model for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to change zone model", http.StatusInternalServerError)
		return
	}

	handler.metrics.CounterSettingsUpdates.Inc()
	handler.writeSettings(w, &updated, http.StatusOK)
}

func (handler *Handler) HandleZones(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.settings.zones")
	defer span.End()

	athleteID, ok := handler.athleteID(w, r)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int64("athlete.id", athleteID))

	s, err := handler.current(ctx, athleteID)
	if errors.Is(err, ErrSettingsNotFound) {
		http.Error(w, "settings not found", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Errorf("failed to get settings for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	resp := ZonesResponse{
		ZoneModel: s.ZoneModel,
		Names:     ZoneNames(s.ZoneModel),
		Colors:    ZoneColors()[:s.ZoneModel.Count()],
		HRZones:   ComputeHRZones(*s),
		PaceZones: ComputePaceZones(*s),
	}

	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("failed to marshal zones for athlete %d: %s", athleteID, err)
		http.Error(w, "failed to get zones", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusOK)
}

func (handler *Handler) writeSettings(w http.ResponseWriter, s *UserSettings, statusCode int) {
	settingsJson, err := json.Marshal(s)
	if err != nil {
		log.Errorf("failed to marshal settings: %s", err)
		http.Error(w, "failed to marshal settings", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, settingsJson, statusCode)
}

func (handler *Handler) writeValidationErrors(w http.ResponseWriter, validationErrs []ValidationError) {
	respJson, err := json.Marshal(ValidationErrorsResponse{Errors: validationErrs})
	if err != nil {
		log.Errorf("failed to marshal validation errors: %s", err)
		http.Error(w, "invalid settings", http.StatusBadRequest)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusBadRequest)
}

func (s UserSettings) applyPatch(patch UpdateRequest) UserSettings {
	merged := s
	if patch.ZoneModel != nil {
		merged.ZoneModel = *patch.ZoneModel
	}
	if patch.MaxHeartRate != nil {
		merged.MaxHeartRate = *patch.MaxHeartRate
	}
	if patch.RestHeartRate != nil {
		merged.RestHeartRate = *patch.RestHeartRate
	}
	if patch.HRZones != nil {
		merged.HRZones = *patch.HRZones
	}
	if patch.PaceZones != nil {
		merged.PaceZones = *patch.PaceZones
	}
	if patch.CalendarStartDay != nil {
		merged.CalendarStartDay = *patch.CalendarStartDay
	}
	if patch.DistanceUnit != nil {
		merged.DistanceUnit = *patch.DistanceUnit
	}
	if patch.TemperatureUnit != nil {
		merged.TemperatureUnit = *patch.TemperatureUnit
	}
	return merged
}
