// Package config centralizes the Store's construction-time knobs, the
// way the donor's warming.Config and cache-manager config types do:
// a single struct with sane zero-cost defaults, no env-var or CLI
// parsing inside the library (§6's "no CLI, no env-vars" — the
// embedding application constructs and passes this in as a value).
package config

import "time"

// Config bounds the Store's resource usage and selects default
// mutation policy values that SPEC_FULL.md's mutation policies
// otherwise leave to the caller.
type Config struct {
	// MemoryCacheSize bounds the number of domain values held in the
	// hot LRU (§4.2). Zero disables bounding.
	MemoryCacheSize int `json:"memory_cache_size"`
	// MemoryCacheTTL bounds how long a cached value is served without
	// revalidation. memorycache.Infinite disables expiry.
	MemoryCacheTTL time.Duration `json:"memory_cache_ttl"`

	// KeyMutexCapacity bounds the per-key write-serialization handle
	// registry (§4.4). Zero disables bounding.
	KeyMutexCapacity int `json:"key_mutex_capacity"`

	// DefaultFreshnessTTL is the TTL the FreshnessValidator's
	// CachedOrFetch decision compares a row's age against; Policy
	// carries no TTL of its own (§4.1's decision table requires one;
	// the literal ctx definition omits it as a field, so it is
	// threaded in here rather than hardcoded).
	DefaultFreshnessTTL time.Duration `json:"default_freshness_ttl"`

	// DeleteSotOnInvalidate controls whether invalidate(key) also
	// deletes the entry from the SourceOfTruth, or only purges caches
	// (§4.8: "deleting SoT is the default when configured" — the open
	// question of whether it is configured on by default is resolved
	// to false here; see DESIGN.md).
	DeleteSotOnInvalidate bool `json:"delete_sot_on_invalidate"`

	// NamespaceInvalidationPrefixMatch selects the richer
	// prefix-matching invalidate_namespace behavior the spec
	// recommends over the reference "clear everything" minimum
	// (§4.8, §9).
	NamespaceInvalidationPrefixMatch bool `json:"namespace_invalidation_prefix_match"`

	// DedupeWindow mirrors UpdatePolicy's DedupeWindow default (§4.9).
	// No mutation path reads it: identical update calls for the same
	// key are not coalesced, and each one reaches the Updater.
	DedupeWindow time.Duration `json:"dedupe_window"`
	// TombstoneTTL is DeletePolicy's default tombstone lifetime
	// (§4.9).
	TombstoneTTL time.Duration `json:"tombstone_ttl"`

	// RetryQueue paces the out-of-core retry queue for Enqueued
	// mutation outcomes (§4.9 step 3, §12).
	RetryQueue RetryQueueConfig `json:"retry_queue"`

	// FetchRateLimit paces outbound Fetcher calls per urgency class
	// (§4.7).
	FetchRateLimit RateLimitConfig `json:"fetch_rate_limit"`
}

// RetryQueueConfig configures mutationstore's exponential backoff
// retry scheduler.
type RetryQueueConfig struct {
	MaxAttempts     int           `json:"max_attempts"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
}

// RateLimitConfig sets per-urgency request rates for a rate-limited
// Fetcher wrapper.
type RateLimitConfig struct {
	NormalPerSecond float64 `json:"normal_per_second"`
	HighPerSecond   float64 `json:"high_per_second"`
	Burst           int     `json:"burst"`
}

// DefaultConfig returns the spec's documented defaults: unbounded-ish
// practical cache sizes, the §4.9 policy defaults (150ms dedupe
// window, 7-day tombstone TTL), and prefix-match namespace
// invalidation as the preferred richer behavior.
func DefaultConfig() Config {
	return Config{
		MemoryCacheSize:                   10_000,
		MemoryCacheTTL:                    5 * time.Minute,
		KeyMutexCapacity:                  1000,
		DefaultFreshnessTTL:               5 * time.Minute,
		DeleteSotOnInvalidate:             false,
		NamespaceInvalidationPrefixMatch:  true,
		DedupeWindow:                      150 * time.Millisecond,
		TombstoneTTL:                      7 * 24 * time.Hour,
		RetryQueue: RetryQueueConfig{
			MaxAttempts:     8,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     time.Minute,
		},
		FetchRateLimit: RateLimitConfig{
			NormalPerSecond: 20,
			HighPerSecond:   100,
			Burst:           10,
		},
	}
}
