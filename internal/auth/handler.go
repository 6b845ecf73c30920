package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/talariafit/talaria/internal/athletes"
	"github.com/talariafit/talaria/internal/geoip"
	"github.com/talariafit/talaria/internal/strava"
	"github.com/talariafit/talaria/internal/telemetry/metrics"
	"github.com/talariafit/talaria/internal/telemetry/tracing"
	"github.com/talariafit/talaria/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/oauth2"
)

type athletesRepo interface {
	Upsert(ctx context.Context, a athletes.Athlete) (*athletes.Athlete, error)
}

type CallbackRequest struct {
	Code  string `json:"code"`
	State string `json:"state"`
}

type LoginResponse struct {
	Token   string            `json:"token"`
	Athlete *athletes.Athlete `json:"athlete"`
}

type Handler struct {
	authService *Service
	oauthCfg    *oauth2.Config
	athletes    athletesRepo
	geoIp       *geoip.Api
	metrics     *metrics.Manager
}

func NewHandler(
	authService *Service,
	oauthCfg *oauth2.Config,
	athletesRepo athletesRepo,
	geoIp *geoip.Api,
	metricsManager *metrics.Manager,
) *Handler {
	return &Handler{
		authService: authService,
		oauthCfg:    oauthCfg,
		athletes:    athletesRepo,
		geoIp:       geoIp,
		metrics:     metricsManager,
	}
}

// SetupRoutes registers the auth endpoints on the given router, meant to
// be mounted under the /auth path prefix.
func (handler *Handler) SetupRoutes(router *mux.Router) {
	router.HandleFunc("/strava/url", handler.HandleGetAuthURL).
		Methods("GET", "OPTIONS").Name("strava-auth-url")
	router.HandleFunc("/strava/callback", handler.HandleCallback).
		Methods("POST", "OPTIONS").Name("strava-callback")
	router.HandleFunc("/logout", handler.HandleLogout).
		Methods("POST", "OPTIONS").Name("logout")
}

func (handler *Handler) HandleGetAuthURL(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.auth.stravaAuthUrl")
	defer span.End()

	state, err := handler.authService.RandStringFunc(20)
	if err != nil {
		log.Errorf("get auth url, generate state: %s", err)
		http.Error(w, "failed to get auth url", http.StatusInternalServerError)
		return
	}

	if err := handler.authService.StoreOAuthState(ctx, state); err != nil {
		log.Errorf("get auth url, store state: %s", err)
		http.Error(w, "failed to get auth url", http.StatusInternalServerError)
		return
	}

	authUrl := strava.AuthCodeURL(handler.oauthCfg, state)
	respJson, err := json.Marshal(map[string]string{"url": authUrl})
	if err != nil {
		http.Error(w, "failed to get auth url", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusOK)
}

func (handler *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.auth.stravaCallback")
	defer span.End()

	var req CallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Tracef("strava callback, unmarshal json params: %s", err)
		http.Error(w, "login failed", http.StatusBadRequest)
		return
	}
	if req.Code == "" {
		http.Error(w, "error, code empty", http.StatusBadRequest)
		return
	}

	if err := handler.authService.ConsumeOAuthState(ctx, req.State); err != nil {
		if errors.Is(err, ErrStateMismatch) {
			log.Tracef("strava callback, state mismatch: %s", req.State)
			http.Error(w, "error, state mismatch", http.StatusBadRequest)
			return
		}
		log.Errorf("strava callback, consume state: %s", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	token, err := handler.oauthCfg.Exchange(ctx, req.Code)
	if err != nil {
		log.Errorf("strava callback, code exchange: %s", err)
		http.Error(w, "strava auth failed", http.StatusBadGateway)
		return
	}

	stravaAthlete, err := strava.ExtractAthlete(token)
	if err != nil {
		log.Errorf("strava callback, extract athlete: %s", err)
		http.Error(w, "strava auth failed", http.StatusBadGateway)
		return
	}
	span.SetAttributes(attribute.Int64("athlete.strava-id", stravaAthlete.ID))

	athlete, err := handler.athletes.Upsert(ctx, athletes.Athlete{
		StravaID:      stravaAthlete.ID,
		Username:      stravaAthlete.Username,
		Firstname:     stravaAthlete.Firstname,
		Lastname:      stravaAthlete.Lastname,
		ProfileMedium: stravaAthlete.ProfileMedium,
		AccessToken:   token.AccessToken,
		RefreshToken:  token.RefreshToken,
		ExpiresAt:     token.Expiry.Unix(),
	})
	if err != nil {
		log.Errorf("strava callback, store athlete: %s", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	sessionToken, err := handler.authService.Login(ctx, athlete.ID, time.Now())
	if err != nil {
		log.Errorf("strava callback, create session: %s", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	handler.metrics.CounterLogins.Inc()
	handler.logLoginLocation(r, athlete.ID)

	respJson, err := json.Marshal(LoginResponse{
		Token:   sessionToken,
		Athlete: athlete,
	})
	if err != nil {
		log.Errorf("strava callback, marshal response: %s", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	log.Tracef("new login success for athlete %d", athlete.ID)
	pkg.WriteResponseBytes(w, pkg.ContentType.JSON, respJson, http.StatusOK)
}

func (handler *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.GlobalTracer.Start(r.Context(), "handler.auth.logout")
	defer span.End()

	authToken := r.Header.Get(TokenHeader)
	if authToken == "" {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}

	loggedOut, err := handler.authService.Logout(ctx, authToken)
	if err != nil {
		log.Tracef("[failed logout] => %s: %s", r.URL.Path, err)
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}
	if !loggedOut {
		http.Error(w, "no can do", http.StatusUnauthorized)
		return
	}

	log.Printf("logout for [%s...] success", authToken[:min(6, len(authToken))])
	pkg.WriteTextResponseOK(w, "logged-out")
}

// best effort login location logging, runs detached from the request
func (handler *Handler) logLoginLocation(r *http.Request, athleteID int64) {
	reqClone := r.Clone(context.Background())
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		ipInfo, err := handler.geoIp.GetRequestGeoInfo(ctx, reqClone)
		if err != nil {
			log.Debugf("login location for athlete %d unknown: %s", athleteID, err)
			return
		}
		log.Infof("athlete %d logged in from %s, %s", athleteID, ipInfo.City, ipInfo.Country)
	}()
}
