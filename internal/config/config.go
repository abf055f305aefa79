// Package config defines the top-level configuration for the marketfuse
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/quantfold/marketfuse/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETFUSE_* environment
// variables.
type Config struct {
	Symbol   string `toml:"symbol"`
	LogLevel string `toml:"log_level"`

	Binance  BinanceConfig  `toml:"binance"`
	Bybit    BybitConfig    `toml:"bybit"`
	Feed     FeedConfig     `toml:"feed"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Features FeaturesConfig `toml:"features"`
	Setups   SetupsConfig   `toml:"setups"`
	Validation ValidateConfig `toml:"validate"`
	Redis    RedisConfig    `toml:"redis"`
}

// BinanceConfig holds Binance endpoint parameters.
type BinanceConfig struct {
	Enabled bool   `toml:"enabled"`
	WsURL   string `toml:"ws_url"`
	RestURL string `toml:"rest_url"`
}

// BybitConfig holds Bybit endpoint parameters.
type BybitConfig struct {
	Enabled  bool   `toml:"enabled"`
	WsURL    string `toml:"ws_url"`
	RestURL  string `toml:"rest_url"`
	Category string `toml:"category"`
}

// FeedConfig holds per-venue feed parameters.
type FeedConfig struct {
	BackfillBars  int      `toml:"backfill_bars"`
	ProbeInterval duration `toml:"probe_interval"`
	MaxCandles    int      `toml:"max_candles"`
	TradeRing     int      `toml:"trade_ring"`
	BookDepth     int      `toml:"book_depth"`
}

// SnapshotConfig holds snapshot builder and rebuild-loop parameters.
type SnapshotConfig struct {
	HeartbeatTTL  duration `toml:"heartbeat_ttl"`
	ProbeTTL      duration `toml:"probe_ttl"`
	Debounce      duration `toml:"debounce"`
	FallbackTick  duration `toml:"fallback_tick"`
	LeadLagBars   int      `toml:"lead_lag_bars"`
	LeadLagMaxLag int      `toml:"lead_lag_max_lag"`
}

// FeaturesConfig holds feature-extraction parameters.
type FeaturesConfig struct {
	TrendTF   string `toml:"trend_tf"`
	EntryTF   string `toml:"entry_tf"`
	EMAFast   int    `toml:"ema_fast"`
	EMASlow   int    `toml:"ema_slow"`
	ATRPeriod int    `toml:"atr_period"`
	RSIPeriod int    `toml:"rsi_period"`
	RangeBars int    `toml:"range_bars"`
	PivotBars int    `toml:"pivot_bars"`
	SweepBars int    `toml:"sweep_bars"`
}

// SetupsConfig holds setup-engine parameters.
type SetupsConfig struct {
	TopN int `toml:"top_n"`
}

// ValidateConfig holds fail-fast validation thresholds.
type ValidateConfig struct {
	MinRRTP1      float64 `toml:"min_rr_tp1"`
	LateBufferATR float64 `toml:"late_buffer_atr"`
}

// RedisConfig holds Redis connection parameters for the publisher.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "250ms").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s" or "250ms".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Symbol:   "BTCUSDT",
		LogLevel: "info",
		Binance: BinanceConfig{
			Enabled: true,
			WsURL:   "wss://stream.binance.com:9443/stream",
			RestURL: "https://api.binance.com",
		},
		Bybit: BybitConfig{
			Enabled:  true,
			WsURL:    "wss://stream.bybit.com/v5/public/spot",
			RestURL:  "https://api.bybit.com",
			Category: "spot",
		},
		Feed: FeedConfig{
			BackfillBars:  300,
			ProbeInterval: duration{5 * time.Second},
			MaxCandles:    500,
			TradeRing:     1000,
			BookDepth:     200,
		},
		Snapshot: SnapshotConfig{
			HeartbeatTTL:  duration{5 * time.Second},
			ProbeTTL:      duration{10 * time.Second},
			Debounce:      duration{250 * time.Millisecond},
			FallbackTick:  duration{time.Second},
			LeadLagBars:   120,
			LeadLagMaxLag: 3,
		},
		Features: FeaturesConfig{
			TrendTF:   "1h",
			EntryTF:   "15m",
			EMAFast:   20,
			EMASlow:   50,
			ATRPeriod: 14,
			RSIPeriod: 14,
			RangeBars: 48,
			PivotBars: 2,
			SweepBars: 10,
		},
		Setups: SetupsConfig{
			TopN: 5,
		},
		Validation: ValidateConfig{
			MinRRTP1:      1.5,
			LateBufferATR: 0.75,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
	}
}

// Validate checks the configuration for inconsistencies that would prevent
// the engine from starting.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.Symbol) == "" {
		problems = append(problems, "symbol must not be empty")
	}
	if !c.Binance.Enabled && !c.Bybit.Enabled {
		problems = append(problems, "at least one exchange must be enabled")
	}
	if c.Snapshot.HeartbeatTTL.Duration <= 0 {
		problems = append(problems, "snapshot.heartbeat_ttl must be positive")
	}
	if c.Snapshot.ProbeTTL.Duration <= 0 {
		problems = append(problems, "snapshot.probe_ttl must be positive")
	}
	if c.Validation.MinRRTP1 <= 0 {
		problems = append(problems, "validate.min_rr_tp1 must be positive")
	}
	if _, err := c.TrendTimeframe(); err != nil {
		problems = append(problems, err.Error())
	}
	if _, err := c.EntryTimeframe(); err != nil {
		problems = append(problems, err.Error())
	}
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TrendTimeframe resolves features.trend_tf to a known timeframe.
func (c *Config) TrendTimeframe() (domain.Timeframe, error) {
	return parseTimeframe("features.trend_tf", c.Features.TrendTF)
}

// EntryTimeframe resolves features.entry_tf to a known timeframe.
func (c *Config) EntryTimeframe() (domain.Timeframe, error) {
	return parseTimeframe("features.entry_tf", c.Features.EntryTF)
}

func parseTimeframe(field, value string) (domain.Timeframe, error) {
	for _, tf := range domain.Timeframes {
		if string(tf) == value {
			return tf, nil
		}
	}
	return "", fmt.Errorf("%s: unknown timeframe %q", field, value)
}
