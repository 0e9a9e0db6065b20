package config

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyConfig enumerates the knobs of the strategy FSM. Defaults match
// the values named in the design. Loaded from YAML via viper; the *Raw
// string fields are decoded into decimal.Decimal by resolveDecimals (below,
// called from loadStrategyYAML in config.go).
type StrategyConfig struct {
	EntryLevels               []decimal.Decimal `mapstructure:"-"`
	EntryLevelsRaw            []string          `mapstructure:"entry_levels"`
	LevelSize                 decimal.Decimal    `mapstructure:"-"`
	LevelSizeRaw              string             `mapstructure:"level_size"`
	LevelProfitTarget         decimal.Decimal    `mapstructure:"-"`
	LevelProfitTargetRaw      string             `mapstructure:"level_profit_target"`
	MinTimeForLevelEntry      time.Duration      `mapstructure:"min_time_for_level_entry"`
	ForceUnwindTime           time.Duration      `mapstructure:"force_unwind_time"`
	MaxCompletedCyclesPerMkt  int                `mapstructure:"max_completed_cycles_per_market"`
	HighScalpThreshold        decimal.Decimal    `mapstructure:"-"`
	HighScalpThresholdRaw     string             `mapstructure:"high_scalp_threshold"`
	HighScalpSize             decimal.Decimal    `mapstructure:"-"`
	HighScalpSizeRaw          string             `mapstructure:"high_scalp_size"`
	HighScalpProfitTarget     decimal.Decimal    `mapstructure:"-"`
	HighScalpProfitTargetRaw  string             `mapstructure:"high_scalp_profit_target"`
	MaxHighScalpsPerMarket    int                `mapstructure:"max_high_scalps_per_market"`

	EntryLevelTolerance decimal.Decimal `mapstructure:"-"`
	ExitDebounce        time.Duration   `mapstructure:"exit_debounce"`
	MinRepriceInterval  time.Duration   `mapstructure:"min_reprice_interval"`

	TradingEnabled      bool          `mapstructure:"trading_enabled"`
	MaxConcurrentMarkets int          `mapstructure:"max_concurrent_markets"`
	DailyLossLimit      decimal.Decimal `mapstructure:"-"`
	DailyLossLimitRaw   string          `mapstructure:"daily_loss_limit"`
}

// DefaultStrategyConfig returns the knob values named in the design.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		EntryLevels:              mustLevels("0.34", "0.24", "0.14"),
		LevelSize:                decimal.NewFromInt(10),
		LevelProfitTarget:        decimal.NewFromFloat(0.05),
		MinTimeForLevelEntry:     7 * time.Minute,
		ForceUnwindTime:          5 * time.Minute,
		MaxCompletedCyclesPerMkt: 3,
		HighScalpThreshold:       decimal.NewFromFloat(0.85),
		HighScalpSize:            decimal.NewFromInt(5),
		HighScalpProfitTarget:    decimal.NewFromFloat(0.02),
		MaxHighScalpsPerMarket:   4,
		EntryLevelTolerance:      decimal.NewFromFloat(0.01),
		ExitDebounce:             1 * time.Second,
		MinRepriceInterval:       1 * time.Second,
		TradingEnabled:           true,
		MaxConcurrentMarkets:     20,
		DailyLossLimit:           decimal.NewFromInt(100),
	}
}

func mustLevels(raw ...string) []decimal.Decimal {
	out := make([]decimal.Decimal, len(raw))
	for i, r := range raw {
		out[i] = decimal.RequireFromString(r)
	}
	return out
}

// resolveDecimals converts the *Raw string fields populated by viper into
// decimal.Decimal, falling back to defaults for anything left blank.
func (s *StrategyConfig) resolveDecimals() error {
	def := DefaultStrategyConfig()

	if len(s.EntryLevelsRaw) > 0 {
		levels := make([]decimal.Decimal, len(s.EntryLevelsRaw))
		for i, r := range s.EntryLevelsRaw {
			d, err := decimal.NewFromString(r)
			if err != nil {
				return err
			}
			levels[i] = d
		}
		s.EntryLevels = levels
	} else {
		s.EntryLevels = def.EntryLevels
	}

	var err error
	if s.LevelSize, err = decimalOrDefault(s.LevelSizeRaw, def.LevelSize); err != nil {
		return err
	}
	if s.LevelProfitTarget, err = decimalOrDefault(s.LevelProfitTargetRaw, def.LevelProfitTarget); err != nil {
		return err
	}
	if s.HighScalpThreshold, err = decimalOrDefault(s.HighScalpThresholdRaw, def.HighScalpThreshold); err != nil {
		return err
	}
	if s.HighScalpSize, err = decimalOrDefault(s.HighScalpSizeRaw, def.HighScalpSize); err != nil {
		return err
	}
	if s.HighScalpProfitTarget, err = decimalOrDefault(s.HighScalpProfitTargetRaw, def.HighScalpProfitTarget); err != nil {
		return err
	}
	if s.DailyLossLimit, err = decimalOrDefault(s.DailyLossLimitRaw, def.DailyLossLimit); err != nil {
		return err
	}

	s.EntryLevelTolerance = def.EntryLevelTolerance
	if s.MaxCompletedCyclesPerMkt == 0 {
		s.MaxCompletedCyclesPerMkt = def.MaxCompletedCyclesPerMkt
	}
	if s.MaxHighScalpsPerMarket == 0 {
		s.MaxHighScalpsPerMarket = def.MaxHighScalpsPerMarket
	}
	if s.MinTimeForLevelEntry == 0 {
		s.MinTimeForLevelEntry = def.MinTimeForLevelEntry
	}
	if s.ForceUnwindTime == 0 {
		s.ForceUnwindTime = def.ForceUnwindTime
	}
	if s.ExitDebounce == 0 {
		s.ExitDebounce = def.ExitDebounce
	}
	if s.MinRepriceInterval == 0 {
		s.MinRepriceInterval = def.MinRepriceInterval
	}
	if s.MaxConcurrentMarkets == 0 {
		s.MaxConcurrentMarkets = def.MaxConcurrentMarkets
	}

	return nil
}

func decimalOrDefault(raw string, def decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return def, nil
	}
	return decimal.NewFromString(raw)
}
