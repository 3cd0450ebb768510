// Package router implements tier selection and request dispatch for the
// serving platform. Every request flows through the same pipeline: cache
// lookup, classification, admission against the guardian state and the
// quota tracker, then a breaker-wrapped backend call with the tier's
// latency budget, with at most one fallback to a cheaper tier.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/DanielWarg/AliceV2-sub003/cache"
	"github.com/DanielWarg/AliceV2-sub003/circuitbreaker"
	"github.com/DanielWarg/AliceV2-sub003/config/adaptive"
	"github.com/DanielWarg/AliceV2-sub003/guardian"
	"github.com/DanielWarg/AliceV2-sub003/monitoring"
	"github.com/DanielWarg/AliceV2-sub003/quota"
)

var log = logging.Logger("alice/router")

// classifierID is the breaker dependency id for the hint classifier.
const classifierID = "classifier"

func backendID(t Tier) string { return "backend:" + t.String() }

// StateSource supplies the guardian snapshot for admission decisions.
type StateSource interface {
	CurrentState() guardian.Snapshot
}

// Deps are the router's collaborators. State, Cache, Quota, Breakers,
// Settings and at least one backend are required; Classifier, Embedder,
// Latency and Burn are optional.
type Deps struct {
	State      StateSource
	Cache      *cache.MultiLevel
	Quota      *quota.Tracker
	Breakers   *circuitbreaker.Registry
	Classifier Classifier
	Embedder   Embedder
	Backends   map[Tier]Backend
	Settings   func() adaptive.Config
	Latency    *monitoring.LatencyTracker
	Burn       *monitoring.BurnTracker
}

// Router dispatches requests to tiered backends under guardian, quota
// and breaker constraints. It is safe for concurrent use.
type Router struct {
	deps Deps
}

// New validates the dependency set and creates a router.
func New(deps Deps) (*Router, error) {
	switch {
	case deps.State == nil:
		return nil, errors.New("router: nil state source")
	case deps.Cache == nil:
		return nil, errors.New("router: nil cache")
	case deps.Quota == nil:
		return nil, errors.New("router: nil quota tracker")
	case deps.Breakers == nil:
		return nil, errors.New("router: nil breaker registry")
	case deps.Settings == nil:
		return nil, errors.New("router: nil settings")
	case len(deps.Backends) == 0:
		return nil, errors.New("router: no backends")
	}
	return &Router{deps: deps}, nil
}

// Route runs the full pipeline for one request and returns the response
// together with the decision trail. On failure the returned error is a
// *Error carrying the failure kind, the decision and the guardian state.
func (r *Router) Route(ctx context.Context, req *Request) (*Response, Decision, error) {
	if req == nil || req.Text == "" {
		return nil, Decision{}, errors.New("router: empty request")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	snap := r.deps.State.CurrentState()
	cfg := r.deps.Settings()
	key := cache.Fingerprint(req.Text)

	// L1: exact fingerprint.
	if v, origin, ok := r.deps.Cache.GetExact(key); ok {
		if resp, ok := v.(*Response); ok {
			monitoring.CacheLookupsTotal.WithLabelValues("exact", "hit").Inc()
			monitoring.RequestsTotal.WithLabelValues(origin, "cache_hit").Inc()
			dec := decision(resp.Tier, "exact cache hit")
			dec.CacheHit = true
			dec.CacheLayer = "exact"
			return resp, dec, nil
		}
	}
	monitoring.CacheLookupsTotal.WithLabelValues("exact", "miss").Inc()

	// L2: semantic similarity, only when an embedder is wired.
	var vec []float64
	if r.deps.Embedder != nil {
		var err error
		vec, err = r.deps.Embedder.Embed(ctx, req.Text)
		if err != nil {
			log.Debugw("embedder failed, skipping semantic layer", "request_id", req.ID, "error", err)
			vec = nil
		}
	}
	if len(vec) > 0 {
		if v, sim, ok := r.deps.Cache.GetSemantic(ctx, vec); ok {
			if resp, ok := v.(*Response); ok {
				monitoring.CacheLookupsTotal.WithLabelValues("semantic", "hit").Inc()
				monitoring.RequestsTotal.WithLabelValues(resp.Tier.String(), "cache_hit").Inc()
				dec := decision(resp.Tier, fmt.Sprintf("semantic cache hit (similarity %.3f)", sim))
				dec.CacheHit = true
				dec.CacheLayer = "semantic"
				dec.Similarity = sim
				return resp, dec, nil
			}
		}
		monitoring.CacheLookupsTotal.WithLabelValues("semantic", "miss").Inc()
	}

	// L3: negative cache short-circuits known-failing requests.
	if f, ok := r.deps.Cache.GetNegative(key); ok {
		monitoring.CacheLookupsTotal.WithLabelValues("negative", "hit").Inc()
		dec := Decision{Reason: "negative cache: " + f.Kind, CacheHit: true, CacheLayer: "negative"}
		if t, err := ParseTier(f.Tier); err == nil {
			dec.Tier = t
			dec.TierName = f.Tier
		}
		return nil, dec, &Error{
			Kind:     ParseKind(f.Kind),
			Decision: dec,
			State:    snap.State,
			Err:      errors.New(f.Message),
		}
	}
	monitoring.CacheLookupsTotal.WithLabelValues("negative", "miss").Inc()

	// Admission: guardian ceiling, enabled tiers, shed capabilities.
	permitted := permittedTiers(snap, cfg.Tiers)
	if len(permitted) == 0 {
		// LOCKDOWN is an administrative refusal; an empty tier set under
		// metric pressure means the host itself has nothing to give.
		kind := KindResourceExhausted
		if snap.State == guardian.StateLockdown {
			kind = KindNoCapacity
		}
		dec := Decision{Reason: "no admissible tier"}
		return nil, dec, r.refuse(&Error{
			Kind:     kind,
			Decision: dec,
			State:    snap.State,
		})
	}

	hint := r.classify(ctx, req)
	tier, reason, ok := selectTier(permitted, preferredTier(hint), r.deps.Quota)
	if !ok {
		dec := Decision{Reason: "quota exhausted on all admissible tiers"}
		return nil, dec, r.refuse(&Error{
			Kind:     KindQuotaExceeded,
			Decision: dec,
			State:    snap.State,
		})
	}

	resp, err := r.invoke(ctx, tier, req, &cfg)
	if err == nil {
		dec := decision(tier, reason)
		r.succeed(ctx, key, vec, tier, resp, &cfg)
		return resp, dec, nil
	}
	if ctx.Err() != nil {
		// Client gave up; no fallback, no cache pollution.
		return nil, decision(tier, reason), ctx.Err()
	}

	// At most one fallback, to the next cheaper permitted tier that the
	// quota admits. Quota-rejected candidates are skipped, not attempted:
	// the share cap binds the fallback path the same as primary selection.
	fallbackTried := false
	lastTier := tier
	if fb, ok := r.fallbackTier(permitted, tier); ok {
		fallbackTried = true
		lastTier = fb
		monitoring.FallbacksTotal.Inc()
		log.Infow("falling back",
			"request_id", req.ID,
			"from", tier.String(),
			"to", fb.String(),
			"error", err,
		)
		if resp, fbErr := r.invoke(ctx, fb, req, &cfg); fbErr == nil {
			dec := decision(fb, "fallback from "+tier.String())
			dec.FallbackUsed = true
			r.succeed(ctx, key, vec, fb, resp, &cfg)
			return resp, dec, nil
		} else if ctx.Err() != nil {
			return nil, decision(fb, reason), ctx.Err()
		} else {
			err = fbErr
		}
	}

	// Terminal: remember the failure under the original fingerprint so
	// identical requests short-circuit until the negative TTL lapses.
	kind, retryAfter := r.classifyFailure(ctx, lastTier, err)
	dec := decision(tier, "terminal failure")
	dec.FallbackUsed = fallbackTried
	r.deps.Cache.PutNegative(key, cache.Failure{
		Kind:    kind.String(),
		Message: err.Error(),
		Tier:    tier.String(),
	})
	return nil, dec, r.refuse(&Error{
		Kind:       kind,
		Decision:   dec,
		State:      snap.State,
		RetryAfter: retryAfter,
		Err:        err,
	})
}

// invoke runs one backend attempt under the tier's latency budget and
// its breaker.
func (r *Router) invoke(ctx context.Context, tier Tier, req *Request, cfg *adaptive.Config) (*Response, error) {
	backend, ok := r.deps.Backends[tier]
	if !ok {
		return nil, fmt.Errorf("no backend for tier %s", tier)
	}

	budget := cfg.TierSettings(tier.String()).Budget
	cctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var resp *Response
	start := time.Now()
	err := r.deps.Breakers.Do(cctx, backendID(tier), func(c context.Context) error {
		out, execErr := backend.Execute(c, req)
		if execErr != nil {
			return execErr
		}
		resp = out
		return nil
	})
	elapsed := time.Since(start)

	if r.deps.Latency != nil {
		r.deps.Latency.Observe(tier.String(), elapsed)
	}
	monitoring.RouteDuration.WithLabelValues(tier.String()).Observe(elapsed.Seconds())

	if err != nil {
		monitoring.RequestsTotal.WithLabelValues(tier.String(), "error").Inc()
		return nil, err
	}
	resp.Tier = tier
	resp.TierName = tier.String()
	monitoring.RequestsTotal.WithLabelValues(tier.String(), "success").Inc()
	return resp, nil
}

// classify asks the hint classifier through its own breaker with a short
// budget. Any failure degrades to the default hint; routing never blocks
// on classification.
func (r *Router) classify(ctx context.Context, req *Request) Hint {
	if r.deps.Classifier == nil {
		return DefaultHint
	}
	cctx, cancel := context.WithTimeout(ctx, r.deps.Settings().Breaker.ClassifierTimeout)
	defer cancel()

	var hint Hint
	err := r.deps.Breakers.Do(cctx, classifierID, func(c context.Context) error {
		out, clsErr := r.deps.Classifier.Classify(c, req.Text)
		if clsErr != nil {
			return clsErr
		}
		hint = out
		return nil
	})
	if err != nil {
		log.Debugw("classifier unavailable, using default hint", "request_id", req.ID, "error", err)
		return DefaultHint
	}
	return hint
}

// succeed records a successful attempt in the caches and the burn
// tracker. Writes are skipped when the client has already gone away.
func (r *Router) succeed(ctx context.Context, key uint64, vec []float64, tier Tier, resp *Response, cfg *adaptive.Config) {
	if r.deps.Burn != nil {
		r.deps.Burn.Record(false)
	}
	if ctx.Err() != nil {
		return
	}
	ttl := cfg.TierSettings(tier.String()).CacheTTL
	r.deps.Cache.PutExact(key, resp, tier.String(), ttl)
	if len(vec) > 0 {
		r.deps.Cache.PutSemantic(vec, resp, tier.String(), cfg.Cache.SemanticTTL)
	}
}

// refuse records a failed request against the error budget and returns
// the error unchanged.
func (r *Router) refuse(e *Error) error {
	if r.deps.Burn != nil {
		r.deps.Burn.Record(true)
	}
	monitoring.RequestsTotal.WithLabelValues(e.Decision.TierName, "refused").Inc()
	return e
}

// classifyFailure maps an invocation error to the failure taxonomy.
func (r *Router) classifyFailure(ctx context.Context, tier Tier, err error) (Kind, time.Duration) {
	switch {
	case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, circuitbreaker.ErrTrialInFlight):
		return KindDependencyUnavailable, r.deps.Breakers.Get(backendID(tier)).RetryAfter()
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		// Tier budget elapsed while the caller is still waiting.
		return KindTierTimeout, 0
	default:
		return KindDependencyUnavailable, 0
	}
}

// fallbackTier picks the fallback target: the most expensive permitted
// tier cheaper than t whose quota admits one more request. Admission is
// recorded atomically, as in primary selection.
func (r *Router) fallbackTier(permitted []Tier, t Tier) (Tier, bool) {
	for {
		fb, ok := nextCheaper(permitted, t)
		if !ok {
			return 0, false
		}
		if r.deps.Quota.TryRecord(fb.String()) {
			return fb, true
		}
		t = fb
	}
}

// nextCheaper returns the most expensive permitted tier strictly cheaper
// than t.
func nextCheaper(permitted []Tier, t Tier) (Tier, bool) {
	for i := len(permitted) - 1; i >= 0; i-- {
		if permitted[i] < t {
			return permitted[i], true
		}
	}
	return 0, false
}

func decision(tier Tier, reason string) Decision {
	return Decision{Tier: tier, TierName: tier.String(), Reason: reason}
}
