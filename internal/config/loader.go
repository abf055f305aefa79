package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARKETFUSE_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus overrides only.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARKETFUSE_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators adjust deployments without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Symbol, "MARKETFUSE_SYMBOL")
	setStr(&cfg.LogLevel, "MARKETFUSE_LOG_LEVEL")

	// ── Binance ──
	setBool(&cfg.Binance.Enabled, "MARKETFUSE_BINANCE_ENABLED")
	setStr(&cfg.Binance.WsURL, "MARKETFUSE_BINANCE_WS_URL")
	setStr(&cfg.Binance.RestURL, "MARKETFUSE_BINANCE_REST_URL")

	// ── Bybit ──
	setBool(&cfg.Bybit.Enabled, "MARKETFUSE_BYBIT_ENABLED")
	setStr(&cfg.Bybit.WsURL, "MARKETFUSE_BYBIT_WS_URL")
	setStr(&cfg.Bybit.RestURL, "MARKETFUSE_BYBIT_REST_URL")
	setStr(&cfg.Bybit.Category, "MARKETFUSE_BYBIT_CATEGORY")

	// ── Feed ──
	setInt(&cfg.Feed.BackfillBars, "MARKETFUSE_FEED_BACKFILL_BARS")
	setDuration(&cfg.Feed.ProbeInterval, "MARKETFUSE_FEED_PROBE_INTERVAL")
	setInt(&cfg.Feed.MaxCandles, "MARKETFUSE_FEED_MAX_CANDLES")
	setInt(&cfg.Feed.TradeRing, "MARKETFUSE_FEED_TRADE_RING")
	setInt(&cfg.Feed.BookDepth, "MARKETFUSE_FEED_BOOK_DEPTH")

	// ── Snapshot ──
	setDuration(&cfg.Snapshot.HeartbeatTTL, "MARKETFUSE_SNAPSHOT_HEARTBEAT_TTL")
	setDuration(&cfg.Snapshot.ProbeTTL, "MARKETFUSE_SNAPSHOT_PROBE_TTL")
	setDuration(&cfg.Snapshot.Debounce, "MARKETFUSE_SNAPSHOT_DEBOUNCE")
	setDuration(&cfg.Snapshot.FallbackTick, "MARKETFUSE_SNAPSHOT_FALLBACK_TICK")
	setInt(&cfg.Snapshot.LeadLagBars, "MARKETFUSE_SNAPSHOT_LEAD_LAG_BARS")
	setInt(&cfg.Snapshot.LeadLagMaxLag, "MARKETFUSE_SNAPSHOT_LEAD_LAG_MAX_LAG")

	// ── Features ──
	setStr(&cfg.Features.TrendTF, "MARKETFUSE_FEATURES_TREND_TF")
	setStr(&cfg.Features.EntryTF, "MARKETFUSE_FEATURES_ENTRY_TF")
	setInt(&cfg.Features.EMAFast, "MARKETFUSE_FEATURES_EMA_FAST")
	setInt(&cfg.Features.EMASlow, "MARKETFUSE_FEATURES_EMA_SLOW")
	setInt(&cfg.Features.ATRPeriod, "MARKETFUSE_FEATURES_ATR_PERIOD")
	setInt(&cfg.Features.RSIPeriod, "MARKETFUSE_FEATURES_RSI_PERIOD")
	setInt(&cfg.Features.RangeBars, "MARKETFUSE_FEATURES_RANGE_BARS")
	setInt(&cfg.Features.PivotBars, "MARKETFUSE_FEATURES_PIVOT_BARS")
	setInt(&cfg.Features.SweepBars, "MARKETFUSE_FEATURES_SWEEP_BARS")

	// ── Setups ──
	setInt(&cfg.Setups.TopN, "MARKETFUSE_SETUPS_TOP_N")

	// ── Validate ──
	setFloat64(&cfg.Validation.MinRRTP1, "MARKETFUSE_VALIDATE_MIN_RR_TP1")
	setFloat64(&cfg.Validation.LateBufferATR, "MARKETFUSE_VALIDATE_LATE_BUFFER_ATR")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "MARKETFUSE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "MARKETFUSE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARKETFUSE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARKETFUSE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARKETFUSE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARKETFUSE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARKETFUSE_REDIS_TLS_ENABLED")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
