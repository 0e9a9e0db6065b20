// Package config loads the engine's configuration: venue secrets and
// endpoints from a .env file (credential material has no business in a
// YAML file checked into a repo), and the enumerated strategy knobs from a
// YAML file via viper.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration: venue connection details loaded
// from the environment, and the strategy knobs loaded from YAML.
type Config struct {
	VenueEnv        string // "prod" or "demo"
	VenueAPIKeyID   string
	VenuePrivKeyPath string
	DryRun          bool
	JournalPath     string
	MaxConcurrentMarkets int

	Strategy StrategyConfig
}

func (c *Config) BaseURL() string {
	if c.VenueEnv == "prod" {
		return "https://api.venue.example.com/trade-api/v2"
	}
	return "https://demo-api.venue.example.com/trade-api/v2"
}

func (c *Config) WSBaseURL() string {
	if c.VenueEnv == "prod" {
		return "wss://api.venue.example.com/trade-api/ws/v2"
	}
	return "wss://demo-api.venue.example.com/trade-api/ws/v2"
}

// Load reads venue secrets from .env and strategy knobs from strategyPath
// (a YAML file; missing file falls back to DefaultStrategyConfig()).
func Load(strategyPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		VenueAPIKeyID:        os.Getenv("VENUE_API_KEY_ID"),
		VenuePrivKeyPath:     getEnvDefault("VENUE_PRIV_KEY_PATH", "./venue_private_key.pem"),
		VenueEnv:             getEnvDefault("VENUE_ENV", "demo"),
		DryRun:               getEnvBool("DRY_RUN", true),
		JournalPath:          getEnvDefault("JOURNAL_PATH", "./journal.jsonl"),
		MaxConcurrentMarkets: getEnvInt("MAX_CONCURRENT_MARKETS", 20),
	}

	strategy, err := loadStrategyYAML(strategyPath)
	if err != nil {
		return nil, fmt.Errorf("config: loading strategy config: %w", err)
	}
	cfg.Strategy = strategy

	if cfg.VenueAPIKeyID == "" {
		return nil, fmt.Errorf("VENUE_API_KEY_ID is required")
	}
	if cfg.VenueEnv != "prod" && cfg.VenueEnv != "demo" {
		return nil, fmt.Errorf("VENUE_ENV must be 'prod' or 'demo', got %q", cfg.VenueEnv)
	}

	return cfg, nil
}

func loadStrategyYAML(path string) (StrategyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("SCALP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := DefaultStrategyConfig()

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return def, nil
		}
		return StrategyConfig{}, fmt.Errorf("read config: %w", err)
	}

	var sc StrategyConfig
	if err := v.Unmarshal(&sc); err != nil {
		return StrategyConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := sc.resolveDecimals(); err != nil {
		return StrategyConfig{}, fmt.Errorf("resolve numeric knobs: %w", err)
	}
	return sc, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.VenueAPIKeyID == "" {
		return fmt.Errorf("venue api key id is required")
	}
	if len(c.Strategy.EntryLevels) == 0 {
		return fmt.Errorf("strategy.entry_levels must be non-empty")
	}
	if c.Strategy.MaxCompletedCyclesPerMkt <= 0 {
		return fmt.Errorf("strategy.max_completed_cycles_per_market must be > 0")
	}
	if c.Strategy.ForceUnwindTime <= 0 {
		return fmt.Errorf("strategy.force_unwind_time must be > 0")
	}
	if c.Strategy.MinTimeForLevelEntry <= c.Strategy.ForceUnwindTime {
		return fmt.Errorf("strategy.min_time_for_level_entry must exceed force_unwind_time")
	}
	return nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
