package geoip

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/talariafit/talaria/internal/telemetry/tracing"
	"github.com/talariafit/talaria/pkg"

	"github.com/go-redis/redis/v8"
	"github.com/ipinfo/go/v2/ipinfo"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type IpInfo struct {
	IP      string `json:"ip"`
	City    string `json:"city"`
	Country string `json:"country"`
}

// used for development
var devGeoIpInfo = IpInfo{
	IP:      "127.0.0.1",
	City:    "Berlin",
	Country: "DE",
}

type Api struct {
	mu           sync.Mutex
	ipinfoClient *ipinfo.Client
	redisClient  *redis.Client
}

func NewApi(
	ipinfoAPIKey string,
	httpClient *http.Client,
	redisClient *redis.Client,
) *Api {
	return &Api{
		ipinfoClient: ipinfo.NewClient(httpClient, nil, ipinfoAPIKey),
		redisClient:  redisClient,
	}
}

func (gi *Api) GetRequestGeoInfo(ctx context.Context, r *http.Request) (*IpInfo, error) {
	userIp, err := pkg.ReadUserIP(r)
	if err != nil {
		return nil, fmt.Errorf("get user ip: %w", err)
	}
	return gi.GetIPGeoInfo(ctx, userIp)
}

func (gi *Api) GetIPGeoInfo(ctx context.Context, userIp string) (*IpInfo, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "geoIp.getIPGeoInfo")
	defer span.End()
	span.SetAttributes(attribute.String("user.ip", userIp))

	if userIp == "localhost" || userIp == "127.0.0.1" || userIp == "::1" {
		log.Debugf("request geo info: returning development localhost / Berlin")
		return &devGeoIpInfo, nil
	}

	// the ipinfo free plan is limited, serialize lookups and lean on the
	// redis cache as much as possible
	gi.mu.Lock()
	defer gi.mu.Unlock()

	userIpKey := fmt.Sprintf("ip-info::%s", userIp)
	cmd := gi.redisClient.Get(ctx, userIpKey)
	if geoIpInfoBytes := cmd.Val(); geoIpInfoBytes != "" {
		span.SetAttributes(attribute.Bool("user.ip.from-cache", true))
		log.Tracef("found geo ip info for [%s] in redis cache", userIp)
		ipInfo := &IpInfo{}
		if err := json.Unmarshal([]byte(geoIpInfoBytes), ipInfo); err == nil {
			return ipInfo, nil
		}
		log.Errorf("failed to unmarshal cached ip info from redis for %s", userIp)
		// fall through, ask the ipinfo api
	} else {
		span.SetAttributes(attribute.Bool("user.ip.from-cache", false))
		log.Debugf("ip info value from redis not found for [%s]", userIp)
	}

	parsedIp := net.ParseIP(userIp)
	if parsedIp == nil {
		span.SetStatus(codes.Error, "invalid ip")
		return nil, fmt.Errorf("invalid ip: %s", userIp)
	}

	log.Debugf("will ask ipinfo API for ip info: %s", userIp)
	core, err := gi.ipinfoClient.GetIPInfo(parsedIp)
	if err != nil {
		span.SetStatus(codes.Error, fmt.Sprintf("get ip info: %s", err))
		return nil, fmt.Errorf("get ip info: %w", err)
	}

	ipInfo := &IpInfo{
		IP:      userIp,
		City:    core.City,
		Country: core.Country,
	}

	// cache response in redis
	ipInfoBytes, err := json.Marshal(ipInfo)
	if err != nil {
		return ipInfo, nil
	}
	if err := gi.redisClient.Set(ctx, userIpKey, ipInfoBytes, 0).Err(); err != nil {
		log.Errorf("failed to cache ip info in redis for %s: %s", userIp, err)
	} else {
		log.Tracef("geo ip info for [%s] cached in redis", userIp)
	}

	return ipInfo, nil
}
