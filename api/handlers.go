package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/DanielWarg/AliceV2-sub003/cache"
	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/monitoring"
	"github.com/DanielWarg/AliceV2-sub003/router"
)

type healthResponse struct {
	Status   string                            `json:"status"`
	Guardian guardian.Snapshot                 `json:"guardian"`
	Breakers map[string]string                 `json:"breakers,omitempty"`
	Cache    map[string]cache.Stats            `json:"cache,omitempty"`
	Quota    map[string]int                    `json:"quota,omitempty"`
	Latency  map[string]monitoring.Percentiles `json:"latency,omitempty"`
	BurnRate float64                           `json:"burn_rate"`
}

// handleHealth reports liveness and the full protection surface. It
// always answers 200: a degraded platform is still alive, and the body
// says how degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.Guardian.CurrentState()
	out := healthResponse{
		Status:   snap.State.String(),
		Guardian: snap,
	}
	if s.deps.Breakers != nil {
		states := s.deps.Breakers.States()
		out.Breakers = make(map[string]string, len(states))
		for id, st := range states {
			out.Breakers[id] = st.String()
		}
	}
	if s.deps.Cache != nil {
		out.Cache = s.deps.Cache.Stats()
	}
	if s.deps.Quota != nil {
		out.Quota = s.deps.Quota.Counts()
	}
	if s.deps.Latency != nil {
		out.Latency = s.deps.Latency.Snapshot()
	}
	if s.deps.Burn != nil {
		out.BurnRate = s.deps.Burn.BurnRate(s.deps.Config.Current().API.ErrorBudget)
	}
	writeJSON(w, http.StatusOK, out)
}

type routeRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

type routeResponse struct {
	RequestID string           `json:"request_id"`
	Response  *router.Response `json:"response,omitempty"`
	Decision  router.Decision  `json:"decision"`
	Error     string           `json:"error,omitempty"`
	ErrorKind string           `json:"error_kind,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var in routeRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	req := &router.Request{Text: in.Text, SessionID: in.SessionID}
	resp, dec, err := s.deps.Router.Route(r.Context(), req)
	if err == nil {
		writeJSON(w, http.StatusOK, routeResponse{
			RequestID: req.ID,
			Response:  resp,
			Decision:  dec,
		})
		return
	}

	out := routeResponse{
		RequestID: req.ID,
		Decision:  dec,
		Error:     err.Error(),
	}
	status := http.StatusInternalServerError
	if re, ok := router.AsError(err); ok {
		out.ErrorKind = re.Kind.String()
		status = statusFor(re.Kind)
		if re.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(re.RetryAfter.Seconds()))))
		}
	} else if errors.Is(err, r.Context().Err()) {
		// Client went away mid-flight.
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, out)
}

func statusFor(k router.Kind) int {
	switch k {
	case router.KindQuotaExceeded:
		return http.StatusTooManyRequests
	case router.KindTierTimeout:
		return http.StatusGatewayTimeout
	case router.KindNoCapacity, router.KindResourceExhausted, router.KindDependencyUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type lockdownRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleLockdown(w http.ResponseWriter, r *http.Request) {
	var in lockdownRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.deps.Guardian.SetLockdown(in.Enabled)
	log.Warnw("lockdown set via api", "enabled", in.Enabled)
	writeJSON(w, http.StatusOK, map[string]any{
		"lockdown": in.Enabled,
		"state":    s.deps.Guardian.CurrentState().State.String(),
	})
}

type tierRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleTier(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["tier"]
	if _, err := router.ParseTier(name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var in tierRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := s.deps.Config.Update("admin tier toggle: "+name, func(c *adaptive.Config) error {
		switch name {
		case "micro":
			c.Tiers.Micro.Enabled = in.Enabled
		case "planner":
			c.Tiers.Planner.Enabled = in.Enabled
		case "deep":
			c.Tiers.Deep.Enabled = in.Enabled
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tier": name, "enabled": in.Enabled})
}

type capabilityRequest struct {
	Capability string `json:"capability"`
	Shed       bool   `json:"shed"`
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	var in capabilityRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if in.Capability == "" {
		writeError(w, http.StatusBadRequest, "capability is required")
		return
	}
	s.deps.Guardian.ShedCapability(in.Capability, in.Shed)
	writeJSON(w, http.StatusOK, s.deps.Guardian.CurrentState())
}

type quotasRequest struct {
	MaxShare map[string]float64 `json:"max_share"`
}

func (s *Server) handleQuotas(w http.ResponseWriter, r *http.Request) {
	var in quotasRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(in.MaxShare) == 0 {
		writeError(w, http.StatusBadRequest, "max_share is required")
		return
	}

	err := s.deps.Config.Update("admin quota update", func(c *adaptive.Config) error {
		for tier, share := range in.MaxShare {
			if _, err := router.ParseTier(tier); err != nil {
				return err
			}
			c.Quota.MaxShare[tier] = share
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"max_share": s.deps.Config.Current().Quota.MaxShare})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorw("encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
