package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"fortgate/internal/audit"
	"fortgate/internal/check"
	"fortgate/internal/config"
	"fortgate/internal/dataType"
	"fortgate/internal/geo"
	"fortgate/internal/rules"
	"fortgate/internal/utils"
	"fortgate/internal/webhook"

	"github.com/google/uuid"
)

// Deps are the long-lived collaborators the request path consults.
// Constructed once at process start and handed to StartServer.
type Deps struct {
	Cfg       *config.MainConfig
	Repo      rules.Repository
	Engine    *check.RuleEngine
	Limiter   *check.RateLimiter
	Clearance *check.Clearance
	Audit     *audit.Pipeline
	Events    *webhook.Pipeline
	Geo       geo.Provider
	Logx      *utils.LogxManager

	RateLimitMax    int64
	RateLimitWindow int64
}

// StartServer wires the mux and serves until ctx is cancelled.
func StartServer(ctx context.Context, deps *Deps) error {
	mux := http.NewServeMux()
	webPath := deps.Cfg.WebPath

	mux.HandleFunc(webPath+"/challenge", func(w http.ResponseWriter, r *http.Request) {
		snap := buildSnapshot(deps, r)
		handleChallenge(w, r, snap, deps)
	})
	mux.HandleFunc(webPath+"/health_check", func(w http.ResponseWriter, r *http.Request) {
		handleHealthCheck(w, deps)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		snap := buildSnapshot(deps, r)
		CheckMain(w, snap, deps)
	})

	srv := &http.Server{
		Addr:         ":" + deps.Cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// buildSnapshot extracts the request once: real client IP and host from
// the configured edge headers, ray id, geo fields from the provider.
func buildSnapshot(deps *Deps, r *http.Request) *dataType.RequestSnapshot {
	rayID := uuid.NewString()
	clientIP := resolveClientIP(deps.Cfg, r)

	snap := dataType.NewRequestSnapshot(r, rayID, clientIP)
	if host := resolveHost(deps.Cfg, r); host != "" {
		snap.Host = host
	}
	if deps.Geo != nil {
		loc := deps.Geo.Lookup(clientIP)
		snap.CountryISO2 = loc.CountryISO2
		snap.CountryName = loc.CountryName
		snap.ContinentName = loc.ContinentName
	}
	return snap
}

func resolveClientIP(cfg *config.MainConfig, r *http.Request) string {
	for _, headerName := range cfg.ConnectingIPHeaders {
		if ipVal := r.Header.Get(headerName); ipVal != "" {
			if strings.Contains(ipVal, ",") {
				parts := strings.Split(ipVal, ",")
				return strings.TrimSpace(parts[0])
			}
			return strings.TrimSpace(ipVal)
		}
	}
	ipStr, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ipStr
}

func resolveHost(cfg *config.MainConfig, r *http.Request) string {
	for _, headerName := range cfg.ConnectingHostHeaders {
		if hostVal := r.Header.Get(headerName); hostVal != "" {
			return hostVal
		}
	}
	return ""
}
