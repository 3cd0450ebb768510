// Package adaptive provides runtime-adjustable configuration for the Alice
// control plane.
//
// All operational tuning parameters (guardian thresholds, tier timeout
// budgets, quota shares, cache TTLs, breaker backoff) live here rather than
// as hard-coded constants. A Manager holds the current configuration,
// validates and applies updates atomically, and notifies subscribers so that
// admin changes take effect without a restart.
//
// Components read their settings through the Manager on every tick or
// decision, never caching a stale copy across reconfiguration.
package adaptive
