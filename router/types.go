package router

import "context"

// Request is a single routable work item. Text is the payload the cache
// fingerprint and the classifier operate on.
type Request struct {
	ID        string `json:"id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// Response is what a backend produced for a request.
type Response struct {
	Text string `json:"text"`
	Tier Tier   `json:"-"`

	// TierName mirrors Tier for the wire.
	TierName string `json:"tier"`
}

// Decision records how the router arrived at an answer (or a refusal).
// It is attached to every result, including errors, so callers and
// operators can reconstruct the path taken.
type Decision struct {
	Tier         Tier    `json:"-"`
	TierName     string  `json:"tier"`
	Reason       string  `json:"reason"`
	CacheHit     bool    `json:"cache_hit"`
	CacheLayer   string  `json:"cache_layer,omitempty"`
	Similarity   float64 `json:"similarity,omitempty"`
	FallbackUsed bool    `json:"fallback_used"`
}

// Hint is the classifier's advisory verdict about a request. It biases
// tier selection but never overrides guardian or quota limits.
type Hint struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
}

// DefaultHint is used whenever the classifier is unavailable or its
// breaker is open. It biases toward the cheap tier.
var DefaultHint = Hint{Intent: "conversation", Confidence: 0}

// Classifier produces a routing hint for a request.
type Classifier interface {
	Classify(ctx context.Context, text string) (Hint, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, text string) (Hint, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Hint, error) {
	return f(ctx, text)
}

// Backend executes a request on one tier. Implementations must honor
// the context deadline: the router derives it from the tier budget.
type Backend interface {
	Execute(ctx context.Context, req *Request) (*Response, error)
}

// BackendFunc adapts a function to the Backend interface.
type BackendFunc func(ctx context.Context, req *Request) (*Response, error)

func (f BackendFunc) Execute(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Embedder turns request text into a vector for the semantic cache.
// Optional: a router without one simply skips the semantic layer.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// EmbedderFunc adapts a function to the Embedder interface.
type EmbedderFunc func(ctx context.Context, text string) ([]float64, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float64, error) {
	return f(ctx, text)
}
