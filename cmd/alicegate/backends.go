package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/DanielWarg/AliceV2-sub003/router"
)

// localBackends returns the built-in echo backends, one per tier. They
// stand in for real model endpoints so the gateway runs end to end out
// of the box; deployments swap them for HTTP backends.
func localBackends() map[router.Tier]router.Backend {
	return map[router.Tier]router.Backend{
		router.TierMicro:   localBackend(router.TierMicro, 5*time.Millisecond),
		router.TierPlanner: localBackend(router.TierPlanner, 50*time.Millisecond),
		router.TierDeep:    localBackend(router.TierDeep, 200*time.Millisecond),
	}
}

func localBackend(tier router.Tier, latency time.Duration) router.Backend {
	return router.BackendFunc(func(ctx context.Context, req *router.Request) (*router.Response, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(latency):
		}
		return &router.Response{
			Text: fmt.Sprintf("[%s] %s", tier, req.Text),
		}, nil
	})
}

// heuristicClassifier is a keyword stand-in for a learned intent model.
type heuristicClassifier struct{}

func (heuristicClassifier) Classify(ctx context.Context, text string) (router.Hint, error) {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "analyze"), strings.Contains(lower, "research"):
		return router.Hint{Intent: "analysis", Confidence: 0.7}, nil
	case strings.Contains(lower, "plan"), strings.Contains(lower, "schedule"):
		return router.Hint{Intent: "planning", Confidence: 0.7}, nil
	default:
		return router.Hint{Intent: "conversation", Confidence: 0.8}, nil
	}
}
