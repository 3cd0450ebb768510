// Package api exposes the platform over HTTP: the routing endpoint, a
// health surface that always answers, the Prometheus metrics endpoint
// and the admin operations (lockdown, tier toggles, capability shedding,
// quota tuning).
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DanielWarg/AliceV2-sub003/cache"
	"github.com/DanielWarg/AliceV2-sub003/circuitbreaker"
	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/monitoring"
	"github.com/DanielWarg/AliceV2-sub003/quota"
	"github.com/DanielWarg/AliceV2-sub003/router"
)

var log = logging.Logger("alice/api")

// Deps are the server's collaborators. Router, Guardian and Config are
// required; the rest enrich the health surface when present.
type Deps struct {
	Router   *router.Router
	Guardian *guardian.Guardian
	Config   *adaptive.Manager
	Cache    *cache.MultiLevel
	Quota    *quota.Tracker
	Breakers *circuitbreaker.Registry
	Latency  *monitoring.LatencyTracker
	Burn     *monitoring.BurnTracker
}

// Server is the HTTP front of the platform.
type Server struct {
	deps Deps
	mux  *mux.Router
	srv  *http.Server
}

// NewServer validates the dependency set and builds the route table.
func NewServer(deps Deps) (*Server, error) {
	switch {
	case deps.Router == nil:
		return nil, errors.New("api: nil router")
	case deps.Guardian == nil:
		return nil, errors.New("api: nil guardian")
	case deps.Config == nil:
		return nil, errors.New("api: nil config manager")
	}

	s := &Server{deps: deps, mux: mux.NewRouter()}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Use(s.logging)

	s.mux.HandleFunc("/api/v1/health", s.handleHealth).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/route", s.handleRoute).Methods(http.MethodPost)

	admin := s.mux.PathPrefix("/api/v1/admin").Subrouter()
	admin.HandleFunc("/lockdown", s.handleLockdown).Methods(http.MethodPost)
	admin.HandleFunc("/tiers/{tier}", s.handleTier).Methods(http.MethodPost)
	admin.HandleFunc("/capabilities", s.handleCapabilities).Methods(http.MethodPost)
	admin.HandleFunc("/quotas", s.handleQuotas).Methods(http.MethodPut)

	s.mux.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

// Handler returns the route table, mainly for tests.
func (s *Server) Handler() http.Handler { return s.mux }

// Start begins serving on the configured listen address and blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start() error {
	listen := s.deps.Config.Current().API.Listen
	s.srv = &http.Server{
		Addr:              listen,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Infow("api listening", "addr", listen)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		log.Debugw("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
