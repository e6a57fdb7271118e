// Package config loads the single startup configuration struct of §6. The
// teacher's go.mod declares github.com/joho/godotenv but never calls it
// (config reads in redis/connection.go are ad hoc os.Getenv calls); this
// finishes that wiring with a real .env load, then layers
// github.com/spf13/viper (carried from smartramana-developer-mesh, which
// uses it for the same struct-with-defaults shape) on top for the richer
// numeric/bool config the core needs.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is read once at startup and is immutable afterward — the only
// mutable process state is the per-whiteboard state the engine owns.
type Config struct {
	MaxConcurrentUsersPerBoard int
	MaxElementsPerSelection    int
	MaxSelectionsPerBoard      int
	SelectionTimeout           time.Duration
	ConflictResolutionTimeout  time.Duration
	OwnershipTimeout           time.Duration
	SyncLatencyTarget          time.Duration
	ProcessingTimeBudget       time.Duration
	AutoResolveConflicts       bool
	ConflictStrategy           string
	AllowSharedSelection       bool
	MaxConflictsPerElement     int
	SelectionThrottle          time.Duration
	RateLimitPerSecond         int
	RateLimitPerMinute         int
	AbuseViolationThreshold    int
	AbuseBlock                 time.Duration
	CleanupInterval            time.Duration
	MaxStaleData               time.Duration
	CacheCapacity              int
	TransactionMaxAge          time.Duration
}

// Default returns the configuration defaults enumerated in §6.
func Default() Config {
	return Config{
		MaxConcurrentUsersPerBoard: 25,
		MaxElementsPerSelection:    100,
		MaxSelectionsPerBoard:      1000,
		SelectionTimeout:           30 * time.Second,
		ConflictResolutionTimeout:  5 * time.Second,
		OwnershipTimeout:           60 * time.Second,
		SyncLatencyTarget:          200 * time.Millisecond,
		ProcessingTimeBudget:       500 * time.Millisecond,
		AutoResolveConflicts:       true,
		ConflictStrategy:           "priority",
		AllowSharedSelection:       false,
		MaxConflictsPerElement:     3,
		SelectionThrottle:          50 * time.Millisecond,
		RateLimitPerSecond:         15,
		RateLimitPerMinute:         600,
		AbuseViolationThreshold:    5,
		AbuseBlock:                 10 * time.Minute,
		CleanupInterval:            15 * time.Second,
		MaxStaleData:               60 * time.Second,
		CacheCapacity:              5000,
		TransactionMaxAge:          5 * time.Minute,
	}
}

// Load reads an optional .env file (non-fatal if absent, matching the
// teacher's tolerant os.Getenv fallback style) and then WHITEBOARD_*
// environment variables over the §6 defaults.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile) // best-effort, like the teacher's env reads
	}

	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("WHITEBOARD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v, cfg)

	if v.IsSet("max_concurrent_users_per_board") {
		cfg.MaxConcurrentUsersPerBoard = v.GetInt("max_concurrent_users_per_board")
	}
	if v.IsSet("max_elements_per_selection") {
		cfg.MaxElementsPerSelection = v.GetInt("max_elements_per_selection")
	}
	if v.IsSet("max_selections_per_board") {
		cfg.MaxSelectionsPerBoard = v.GetInt("max_selections_per_board")
	}
	if v.IsSet("selection_timeout_ms") {
		cfg.SelectionTimeout = v.GetDuration("selection_timeout_ms") * time.Millisecond
	}
	if v.IsSet("conflict_resolution_timeout_ms") {
		cfg.ConflictResolutionTimeout = time.Duration(v.GetInt64("conflict_resolution_timeout_ms")) * time.Millisecond
	}
	if v.IsSet("ownership_timeout_ms") {
		cfg.OwnershipTimeout = time.Duration(v.GetInt64("ownership_timeout_ms")) * time.Millisecond
	}
	if v.IsSet("processing_time_budget_ms") {
		cfg.ProcessingTimeBudget = time.Duration(v.GetInt64("processing_time_budget_ms")) * time.Millisecond
	}
	if v.IsSet("auto_resolve_conflicts") {
		cfg.AutoResolveConflicts = v.GetBool("auto_resolve_conflicts")
	}
	if v.IsSet("conflict_strategy") {
		cfg.ConflictStrategy = v.GetString("conflict_strategy")
	}
	if v.IsSet("allow_shared_selection") {
		cfg.AllowSharedSelection = v.GetBool("allow_shared_selection")
	}
	if v.IsSet("max_conflicts_per_element") {
		cfg.MaxConflictsPerElement = v.GetInt("max_conflicts_per_element")
	}
	if v.IsSet("selection_throttle_ms") {
		cfg.SelectionThrottle = time.Duration(v.GetInt64("selection_throttle_ms")) * time.Millisecond
	}
	if v.IsSet("rate_limit_per_second") {
		cfg.RateLimitPerSecond = v.GetInt("rate_limit_per_second")
	}
	if v.IsSet("rate_limit_per_minute") {
		cfg.RateLimitPerMinute = v.GetInt("rate_limit_per_minute")
	}
	if v.IsSet("abuse_violation_threshold") {
		cfg.AbuseViolationThreshold = v.GetInt("abuse_violation_threshold")
	}
	if v.IsSet("abuse_block_ms") {
		cfg.AbuseBlock = time.Duration(v.GetInt64("abuse_block_ms")) * time.Millisecond
	}
	if v.IsSet("cleanup_interval_ms") {
		cfg.CleanupInterval = time.Duration(v.GetInt64("cleanup_interval_ms")) * time.Millisecond
	}
	if v.IsSet("max_stale_data_ms") {
		cfg.MaxStaleData = time.Duration(v.GetInt64("max_stale_data_ms")) * time.Millisecond
	}
	if v.IsSet("cache_capacity") {
		cfg.CacheCapacity = v.GetInt("cache_capacity")
	}
	if v.IsSet("transaction_max_age_ms") {
		cfg.TransactionMaxAge = time.Duration(v.GetInt64("transaction_max_age_ms")) * time.Millisecond
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("max_concurrent_users_per_board", cfg.MaxConcurrentUsersPerBoard)
	v.SetDefault("max_elements_per_selection", cfg.MaxElementsPerSelection)
	v.SetDefault("max_selections_per_board", cfg.MaxSelectionsPerBoard)
	v.SetDefault("rate_limit_per_second", cfg.RateLimitPerSecond)
	v.SetDefault("rate_limit_per_minute", cfg.RateLimitPerMinute)
}
