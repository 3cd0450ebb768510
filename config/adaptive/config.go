package adaptive

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the control plane. Every field is an
// operational tuning parameter; none of them is a wire contract.
type Config struct {
	Guardian GuardianConfig `yaml:"guardian" json:"guardian"`
	Tiers    TiersConfig    `yaml:"tiers" json:"tiers"`
	Quota    QuotaConfig    `yaml:"quota" json:"quota"`
	Cache    CacheConfig    `yaml:"cache" json:"cache"`
	Breaker  BreakerConfig  `yaml:"breaker" json:"breaker"`
	API      APIConfig      `yaml:"api" json:"api"`
}

// GuardianConfig tunes the resource-guardian state machine.
type GuardianConfig struct {
	// SoftRAMPercent and SoftCPUPercent are the brownout thresholds.
	SoftRAMPercent float64 `yaml:"soft_ram_percent" json:"soft_ram_percent"`
	SoftCPUPercent float64 `yaml:"soft_cpu_percent" json:"soft_cpu_percent"`

	// HardRAMPercent triggers EMERGENCY on a single crossing sample.
	HardRAMPercent float64 `yaml:"hard_ram_percent" json:"hard_ram_percent"`

	// SoftStreak is how many consecutive soft-threshold samples are needed
	// before entering BROWNOUT.
	SoftStreak int `yaml:"soft_streak" json:"soft_streak"`

	// OverloadBudget is how long sustained soft overload is tolerated in
	// BROWNOUT before escalating to EMERGENCY.
	OverloadBudget time.Duration `yaml:"overload_budget" json:"overload_budget"`

	// RecoveryHold is how long metrics must stay below the soft thresholds
	// before any degraded state returns to NORMAL.
	RecoveryHold time.Duration `yaml:"recovery_hold" json:"recovery_hold"`

	// Tick is the evaluation interval. Must be small enough to meet the
	// trigger-latency bound together with out-of-band hard-crossing checks.
	Tick time.Duration `yaml:"tick" json:"tick"`
}

// TierConfig tunes a single processing tier.
type TierConfig struct {
	// Budget is the per-call timeout for this tier's backend.
	Budget time.Duration `yaml:"budget" json:"budget"`

	// CacheTTL is the TTL applied when a result from this tier is cached.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// Enabled allows an operator to take a tier out of rotation.
	Enabled bool `yaml:"enabled" json:"enabled"`
}

// TiersConfig holds per-tier settings, cheap to expensive.
type TiersConfig struct {
	Micro   TierConfig `yaml:"micro" json:"micro"`
	Planner TierConfig `yaml:"planner" json:"planner"`
	Deep    TierConfig `yaml:"deep" json:"deep"`
}

// QuotaConfig tunes the sliding-window traffic-share tracker.
type QuotaConfig struct {
	// Window is the trailing window over which shares are computed.
	Window time.Duration `yaml:"window" json:"window"`

	// MinSamples is the window population below which share math gives way
	// to a proportional cold-start allowance per capped tier.
	MinSamples int `yaml:"min_samples" json:"min_samples"`

	// MaxShare caps each tier's fraction of total routed traffic.
	MaxShare map[string]float64 `yaml:"max_share" json:"max_share"`
}

// CacheConfig tunes the three cache layers.
type CacheConfig struct {
	// ExactCapacity bounds the number of L1 entries.
	ExactCapacity int `yaml:"exact_capacity" json:"exact_capacity"`

	// SemanticCapacity bounds the number of L2 entries.
	SemanticCapacity int `yaml:"semantic_capacity" json:"semantic_capacity"`

	// SimilarityThreshold is the minimum cosine similarity for an L2 hit.
	SimilarityThreshold float64 `yaml:"similarity_threshold" json:"similarity_threshold"`

	// SemanticTTL is the default TTL for semantic entries (longer than the
	// per-tier exact TTLs).
	SemanticTTL time.Duration `yaml:"semantic_ttl" json:"semantic_ttl"`

	// NegativeTTL bounds how long a known-failing fingerprint is remembered.
	NegativeTTL time.Duration `yaml:"negative_ttl" json:"negative_ttl"`

	// SweepInterval is how often expired entries are swept out.
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
}

// BreakerConfig tunes the per-dependency circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a breaker.
	FailureThreshold uint32 `yaml:"failure_threshold" json:"failure_threshold"`

	// BaseCooldown is the first open-state cooldown; each re-open doubles it.
	BaseCooldown time.Duration `yaml:"base_cooldown" json:"base_cooldown"`

	// MaxCooldown caps the backoff sequence.
	MaxCooldown time.Duration `yaml:"max_cooldown" json:"max_cooldown"`

	// ClassifierTimeout is the budget for hint-classifier calls.
	ClassifierTimeout time.Duration `yaml:"classifier_timeout" json:"classifier_timeout"`
}

// APIConfig tunes the HTTP surface.
type APIConfig struct {
	Listen string `yaml:"listen" json:"listen"`

	// ErrorBudget is the tolerated failure fraction used to compute the
	// error-budget burn rate on the health endpoint.
	ErrorBudget float64 `yaml:"error_budget" json:"error_budget"`
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	g := c.Guardian
	if g.SoftRAMPercent <= 0 || g.SoftRAMPercent >= 100 {
		return fmt.Errorf("guardian.soft_ram_percent must be in (0,100), got %v", g.SoftRAMPercent)
	}
	if g.HardRAMPercent <= g.SoftRAMPercent || g.HardRAMPercent > 100 {
		return fmt.Errorf("guardian.hard_ram_percent must be in (soft,100], got %v", g.HardRAMPercent)
	}
	if g.SoftCPUPercent <= 0 || g.SoftCPUPercent >= 100 {
		return fmt.Errorf("guardian.soft_cpu_percent must be in (0,100), got %v", g.SoftCPUPercent)
	}
	if g.SoftStreak < 1 {
		return fmt.Errorf("guardian.soft_streak must be >= 1, got %d", g.SoftStreak)
	}
	if g.Tick <= 0 {
		return fmt.Errorf("guardian.tick must be positive, got %v", g.Tick)
	}
	if g.RecoveryHold <= 0 {
		return fmt.Errorf("guardian.recovery_hold must be positive, got %v", g.RecoveryHold)
	}
	if g.OverloadBudget <= 0 {
		return fmt.Errorf("guardian.overload_budget must be positive, got %v", g.OverloadBudget)
	}

	for name, tc := range map[string]TierConfig{
		"micro": c.Tiers.Micro, "planner": c.Tiers.Planner, "deep": c.Tiers.Deep,
	} {
		if tc.Budget <= 0 {
			return fmt.Errorf("tiers.%s.budget must be positive, got %v", name, tc.Budget)
		}
		if tc.CacheTTL <= 0 {
			return fmt.Errorf("tiers.%s.cache_ttl must be positive, got %v", name, tc.CacheTTL)
		}
	}
	if c.Tiers.Micro.Budget > c.Tiers.Planner.Budget || c.Tiers.Planner.Budget > c.Tiers.Deep.Budget {
		return fmt.Errorf("tier budgets must be ordered micro <= planner <= deep")
	}

	if c.Quota.Window <= 0 {
		return fmt.Errorf("quota.window must be positive, got %v", c.Quota.Window)
	}
	for tier, share := range c.Quota.MaxShare {
		if share < 0 || share > 1 {
			return fmt.Errorf("quota.max_share[%s] must be in [0,1], got %v", tier, share)
		}
	}

	if c.Cache.ExactCapacity <= 0 {
		return fmt.Errorf("cache.exact_capacity must be positive, got %d", c.Cache.ExactCapacity)
	}
	if c.Cache.SimilarityThreshold <= 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be in (0,1], got %v", c.Cache.SimilarityThreshold)
	}
	if c.Cache.NegativeTTL <= 0 {
		return fmt.Errorf("cache.negative_ttl must be positive, got %v", c.Cache.NegativeTTL)
	}

	if c.Breaker.FailureThreshold == 0 {
		return fmt.Errorf("breaker.failure_threshold must be >= 1")
	}
	if c.Breaker.BaseCooldown <= 0 || c.Breaker.MaxCooldown < c.Breaker.BaseCooldown {
		return fmt.Errorf("breaker cooldowns must satisfy 0 < base <= max")
	}

	if c.API.ErrorBudget <= 0 || c.API.ErrorBudget >= 1 {
		return fmt.Errorf("api.error_budget must be in (0,1), got %v", c.API.ErrorBudget)
	}
	return nil
}

// Load reads a YAML configuration file and overlays it on the defaults, so a
// partial file only overrides what it names.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
