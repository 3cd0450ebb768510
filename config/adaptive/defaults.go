package adaptive

import "time"

// DefaultConfig returns the baseline tuning. The numbers are operational
// starting points, not contracts; operators adjust them at runtime through
// the Manager.
func DefaultConfig() *Config {
	return &Config{
		Guardian: GuardianConfig{
			SoftRAMPercent: 80,
			SoftCPUPercent: 80,
			HardRAMPercent: 92,
			SoftStreak:     3,
			OverloadBudget: 30 * time.Second,
			RecoveryHold:   60 * time.Second,
			Tick:           50 * time.Millisecond,
		},
		Tiers: TiersConfig{
			Micro: TierConfig{
				Budget:   250 * time.Millisecond,
				CacheTTL: 30 * time.Second,
				Enabled:  true,
			},
			Planner: TierConfig{
				Budget:   3 * time.Second,
				CacheTTL: 2 * time.Minute,
				Enabled:  true,
			},
			Deep: TierConfig{
				Budget:   20 * time.Second,
				CacheTTL: 10 * time.Minute,
				Enabled:  true,
			},
		},
		Quota: QuotaConfig{
			Window:     time.Minute,
			MinSamples: 10,
			MaxShare: map[string]float64{
				"micro":   1.0,
				"planner": 0.5,
				"deep":    0.2,
			},
		},
		Cache: CacheConfig{
			ExactCapacity:       4096,
			SemanticCapacity:    1024,
			SimilarityThreshold: 0.92,
			SemanticTTL:         15 * time.Minute,
			NegativeTTL:         time.Minute,
			SweepInterval:       30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			BaseCooldown:      time.Second,
			MaxCooldown:       time.Minute,
			ClassifierTimeout: 50 * time.Millisecond,
		},
		API: APIConfig{
			Listen:      ":8787",
			ErrorBudget: 0.01,
		},
	}
}

// TierSettings returns the settings for a tier by name, falling back to the
// micro tier for unknown names.
func (c *Config) TierSettings(tier string) TierConfig {
	switch tier {
	case "planner":
		return c.Tiers.Planner
	case "deep":
		return c.Tiers.Deep
	default:
		return c.Tiers.Micro
	}
}
