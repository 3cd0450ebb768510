package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DanielWarg/AliceV2-sub003/cache"
	"github.com/DanielWarg/AliceV2-sub003/circuitbreaker"
	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/monitoring"
	"github.com/DanielWarg/AliceV2-sub003/quota"
	"github.com/DanielWarg/AliceV2-sub003/router"
)

type idleSampler struct{}

func (idleSampler) Sample(ctx context.Context) (guardian.Reading, error) {
	return guardian.Reading{Timestamp: time.Now(), RAMPercent: 10, CPUPercent: 10}, nil
}

type testStack struct {
	server   *Server
	guardian *guardian.Guardian
	config   *adaptive.Manager
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	mgr, err := adaptive.NewManager(nil)
	require.NoError(t, err)

	g := guardian.New(idleSampler{}, func() adaptive.GuardianConfig {
		return mgr.Current().Guardian
	})
	c, err := cache.New(func() adaptive.CacheConfig { return mgr.Current().Cache })
	require.NoError(t, err)
	tracker := quota.NewTracker(func() adaptive.QuotaConfig { return mgr.Current().Quota })
	breakers := circuitbreaker.NewRegistry(func() circuitbreaker.Config {
		b := mgr.Current().Breaker
		return circuitbreaker.Config{
			FailureThreshold: b.FailureThreshold,
			BaseCooldown:     b.BaseCooldown,
			MaxCooldown:      b.MaxCooldown,
		}
	})

	echo := router.BackendFunc(func(ctx context.Context, req *router.Request) (*router.Response, error) {
		return &router.Response{Text: "echo: " + req.Text}, nil
	})
	rt, err := router.New(router.Deps{
		State:    g,
		Cache:    c,
		Quota:    tracker,
		Breakers: breakers,
		Backends: map[router.Tier]router.Backend{router.TierMicro: echo},
		Settings: mgr.Current,
		Latency:  monitoring.NewLatencyTracker(),
		Burn:     monitoring.NewBurnTracker(time.Minute),
	})
	require.NoError(t, err)

	srv, err := NewServer(Deps{
		Router:   rt,
		Guardian: g,
		Config:   mgr,
		Cache:    c,
		Quota:    tracker,
		Breakers: breakers,
		Latency:  monitoring.NewLatencyTracker(),
		Burn:     monitoring.NewBurnTracker(time.Minute),
	})
	require.NoError(t, err)

	return &testStack{server: srv, guardian: g, config: mgr}
}

func (ts *testStack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth_AlwaysAnswers(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "BROWNOUT", out.Status)
	assert.NotNil(t, out.Cache)
}

func TestRoute_EndToEnd(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/route", routeRequest{Text: "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	var out routeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.NotNil(t, out.Response)
	assert.Equal(t, "echo: hello", out.Response.Text)
	assert.Equal(t, "micro", out.Decision.TierName)
	assert.NotEmpty(t, out.RequestID)
}

func TestRoute_RequiresText(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/route", routeRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminLockdown_BlocksRouting(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/lockdown", lockdownRequest{Enabled: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, guardian.StateLockdown, ts.guardian.CurrentState().State)

	rec = ts.do(t, http.MethodPost, "/api/v1/route", routeRequest{Text: "hello"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var out routeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "no_capacity", out.ErrorKind)

	// Health still answers during lockdown.
	rec = ts.do(t, http.MethodGet, "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminTierToggle(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/tiers/deep", tierRequest{Enabled: false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, ts.config.Current().Tiers.Deep.Enabled)

	rec = ts.do(t, http.MethodPost, "/api/v1/admin/tiers/mega", tierRequest{Enabled: false})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminCapabilities_ShedsToDegraded(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/admin/capabilities", capabilityRequest{Capability: "planner", Shed: true})
	require.Equal(t, http.StatusOK, rec.Code)

	snap := ts.guardian.CurrentState()
	assert.True(t, snap.ShedHas("planner"))
	assert.Equal(t, guardian.StateDegraded, snap.State)
}

func TestAdminQuotas(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodPut, "/api/v1/admin/quotas", quotasRequest{
		MaxShare: map[string]float64{"deep": 0.1},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.InDelta(t, 0.1, ts.config.Current().Quota.MaxShare["deep"], 1e-9)

	rec = ts.do(t, http.MethodPut, "/api/v1/admin/quotas", quotasRequest{
		MaxShare: map[string]float64{"deep": 1.5},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestStack(t)

	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
