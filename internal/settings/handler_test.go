package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/talariafit/talaria/internal/auth"
	"github.com/talariafit/talaria/internal/telemetry/metrics"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handlerTestSetup struct {
	repo      *repoMock
	autosaver *Autosaver
	router    *mux.Router
}

// newHandlerTestSetup wires a handler with a long autosave delay, so
// that pending writes stay visible to the tests instead of racing the
// store. Athlete 1 is logged in with token "tok-1".
func newHandlerTestSetup(t *testing.T) *handlerTestSetup {
	t.Helper()

	repo := newRepoMock()
	autosaver := NewAutosaver(repo, time.Hour)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, autosaver.Flush(ctx))
	})

	loginChecker := auth.NewLoginTestChecker()
	loginChecker.LoggedSessions["tok-1"] = 1
	loginChecker.LoggedSessions["tok-2"] = 2

	router := mux.NewRouter()
	handler := NewHandler(repo, autosaver, loginChecker, metrics.NewTestManager())
	handler.SetupRoutes(router)

	return &handlerTestSetup{
		repo:      repo,
		autosaver: autosaver,
		router:    router,
	}
}

func (s *handlerTestSetup) request(method, target, body, token string) *httptest.ResponseRecorder {
	var bodyReader *strings.Reader
	if body == "" {
		bodyReader = strings.NewReader("{}")
	} else {
		bodyReader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, bodyReader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(auth.TokenHeader, token)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestSettingsHandler_Get_CreatesDefaults(t *testing.T) {
	setup := newHandlerTestSetup(t)

	rr := setup.request("GET", "/settings/1", "", "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var s UserSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, int64(1), s.AthleteID)
	assert.Equal(t, ZoneModel5, s.ZoneModel)
	assert.Equal(t, 190, s.MaxHeartRate)
	assert.Equal(t, 60, s.RestHeartRate)
	assert.Equal(t, int64(1), s.Version)

	// the defaults got persisted, not just rendered
	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, ZoneModel5, stored.ZoneModel)
}

func TestSettingsHandler_Get_AuthErrors(t *testing.T) {
	setup := newHandlerTestSetup(t)

	rr := setup.request("GET", "/settings/1", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = setup.request("GET", "/settings/1", "", "tok-2")
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = setup.request("GET", "/settings/not-a-number", "", "tok-1")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSettingsHandler_Update_PatchMerged(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("PUT", "/settings/1", `{"maxHeartRate": 185}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var merged UserSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &merged))
	assert.Equal(t, 185, merged.MaxHeartRate)
	assert.Equal(t, 60, merged.RestHeartRate, "unpatched fields keep their values")
	assert.Equal(t, int64(2), merged.Version)

	// the write is debounced, the store still has the old row
	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, 190, stored.MaxHeartRate)

	// but a follow-up read sees the pending value
	rr = setup.request("GET", "/settings/1", "", "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var read UserSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &read))
	assert.Equal(t, 185, read.MaxHeartRate)
}

func TestSettingsHandler_Update_FlushPersistsPending(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("PUT", "/settings/1", `{"maxHeartRate": 185}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)
	rr = setup.request("PUT", "/settings/1", `{"maxHeartRate": 182}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	require.NoError(t, setup.autosaver.Flush(context.Background()))

	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, 182, stored.MaxHeartRate)
	assert.Equal(t, int64(3), stored.Version, "both accepted edits bump the version")
}

func TestSettingsHandler_Update_ValidationErrors(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("PUT", "/settings/1", `{"hrZones": [60, 70, 80, 90, 99]}`, "tok-1")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var resp ValidationErrorsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrCodeLastZoneNot100, resp.Errors[0].Code)

	// rejected writes leave no pending state behind
	_, pending := setup.autosaver.Peek(1)
	assert.False(t, pending)
	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, int64(1), stored.Version)
}

func TestSettingsHandler_Update_VersionConflict(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("PUT", "/settings/1", `{"maxHeartRate": 185, "version": 1}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	// a second client still on version 1 loses
	rr = setup.request("PUT", "/settings/1", `{"maxHeartRate": 170, "version": 1}`, "tok-1")
	assert.Equal(t, http.StatusConflict, rr.Code)

	// without a version the patch applies onto the freshest value
	rr = setup.request("PUT", "/settings/1", `{"restHeartRate": 55}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)
	var merged UserSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &merged))
	assert.Equal(t, 185, merged.MaxHeartRate)
	assert.Equal(t, 55, merged.RestHeartRate)
	assert.Equal(t, int64(3), merged.Version)
}

func TestSettingsHandler_Update_NotFound(t *testing.T) {
	setup := newHandlerTestSetup(t)
	rr := setup.request("PUT", "/settings/1", `{"maxHeartRate": 185}`, "tok-1")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSettingsHandler_Update_InvalidContentType(t *testing.T) {
	setup := newHandlerTestSetup(t)
	req := httptest.NewRequest("PUT", "/settings/1", strings.NewReader("{}"))
	req.Header.Set(auth.TokenHeader, "tok-1")
	rr := httptest.NewRecorder()
	setup.router.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSettingsHandler_Reset(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("PUT", "/settings/1", `{"maxHeartRate": 185}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = setup.request("POST", "/settings/1/reset", "", "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var s UserSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, 190, s.MaxHeartRate)
	assert.Equal(t, int64(1), s.Version)

	// the debounced edit was superseded
	_, pending := setup.autosaver.Peek(1)
	assert.False(t, pending)
	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, 190, stored.MaxHeartRate)
}

func TestSettingsHandler_Reset_NoExistingSettings(t *testing.T) {
	setup := newHandlerTestSetup(t)
	rr := setup.request("POST", "/settings/1/reset", "", "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)
	_, ok := setup.repo.stored(1)
	assert.True(t, ok)
}

func TestSettingsHandler_ChangeZoneModel(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("POST", "/settings/1/change-zone-model", `{"zoneModel": "3_zone"}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var s UserSettings
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &s))
	assert.Equal(t, ZoneModel3, s.ZoneModel)
	assert.Equal(t, []float64{70, 85, 100}, s.HRZones)
	assert.Equal(t, []float64{6.5, 5.5, 4.5}, s.PaceZones)
	assert.Equal(t, int64(2), s.Version)

	// written through immediately, not debounced
	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, ZoneModel3, stored.ZoneModel)
}

func TestSettingsHandler_ChangeZoneModel_SupersedesPendingEdit(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("PUT", "/settings/1", `{"maxHeartRate": 185}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = setup.request("POST", "/settings/1/change-zone-model", `{"zoneModel": "7_zone"}`, "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	stored, ok := setup.repo.stored(1)
	require.True(t, ok)
	assert.Equal(t, ZoneModel7, stored.ZoneModel)
	assert.Equal(t, 185, stored.MaxHeartRate, "the pending edit is folded in before the switch")
	assert.Len(t, stored.HRZones, 7)
}

func TestSettingsHandler_ChangeZoneModel_InvalidModel(t *testing.T) {
	setup := newHandlerTestSetup(t)
	rr := setup.request("POST", "/settings/1/change-zone-model", `{"zoneModel": "4_zone"}`, "tok-1")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var resp ValidationErrorsResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Errors, 1)
	assert.Equal(t, ErrCodeInvalidValue, resp.Errors[0].Code)
	assert.Equal(t, "zoneModel", resp.Errors[0].Field)
}

func TestSettingsHandler_ChangeZoneModel_NotFound(t *testing.T) {
	setup := newHandlerTestSetup(t)
	rr := setup.request("POST", "/settings/1/change-zone-model", `{"zoneModel": "3_zone"}`, "tok-1")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestSettingsHandler_Zones(t *testing.T) {
	setup := newHandlerTestSetup(t)
	_, err := setup.repo.Create(context.Background(), NewDefault(1))
	require.NoError(t, err)

	rr := setup.request("GET", "/settings/1/zones", "", "tok-1")
	require.Equal(t, http.StatusOK, rr.Code)

	var resp struct {
		ZoneModel ZoneModel `json:"zoneModel"`
		Names     []string  `json:"names"`
		Colors    []string  `json:"colors"`
		HRZones   []HRZone  `json:"hrZones"`
		PaceZones []struct {
			Slower *float64 `json:"slower"`
			Faster float64  `json:"faster"`
		} `json:"paceZones"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))

	assert.Equal(t, ZoneModel5, resp.ZoneModel)
	assert.Len(t, resp.Names, 5)
	assert.Len(t, resp.Colors, 5)
	require.Len(t, resp.HRZones, 5)
	assert.Equal(t, HRZone{Min: 60, Max: 114}, resp.HRZones[0])
	assert.Equal(t, HRZone{Min: 171, Max: 190}, resp.HRZones[4])

	require.Len(t, resp.PaceZones, 5)
	assert.Nil(t, resp.PaceZones[0].Slower, "zone 1 has no slow bound")
	assert.InDelta(t, 7.0, resp.PaceZones[0].Faster, 0.001)

	rr = setup.request("GET", fmt.Sprintf("/settings/%d/zones", 2), "", "tok-2")
	assert.Equal(t, http.StatusNotFound, rr.Code, "zones need existing settings")
}
