// Package config loads indexer settings from the environment and an optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
)

type Config struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
	RPC        RPCConfig
	Ingestion  IngestionConfig
	Metrics    MetricsConfig
	Log        LogConfig
	Token      TokenConfig
}

type PostgresConfig struct {
	DSN string
}

// ClickHouseConfig configures the optional archive sink. An empty DSN disables it.
type ClickHouseConfig struct {
	DSN string
}

type RedisConfig struct {
	URL    string
	Stream string
	Block  time.Duration
}

type RPCConfig struct {
	HTTPURL    string
	WSURL      string
	Timeout    time.Duration
	MaxRetries int
}

type IngestionConfig struct {
	Tokens        []string // token contracts to index; empty means every emitter
	BlockLag      uint64
	ChunkSize     uint64
	Window        uint64
	FlushInterval time.Duration
	BatchSize     int
	FetchNonce    bool
	Stream        string // watermark cursor name
}

type MetricsConfig struct {
	Addr      string
	Namespace string
}

type LogConfig struct {
	Level    string
	Encoding string
}

// TokenConfig holds fallback metadata for tokens whose contracts do not answer
// name(), symbol() or decimals().
type TokenConfig struct {
	Name     string
	Symbol   string
	Decimals int
	Resolve  bool // resolve metadata via eth_call; false uses the fallback only
}

// defaults holds the fallback for every setting. Keys are the lower-case
// environment variable names.
var defaults = map[string]interface{}{
	"config_file":            "",
	"postgres_dsn":           "",
	"clickhouse_dsn":         "",
	"redis_url":              "redis://localhost:6379",
	"redis_stream":           "token-transfers",
	"redis_block":            5 * time.Second,
	"rpc_http_url":           "",
	"rpc_ws_url":             "",
	"rpc_timeout":            30 * time.Second,
	"rpc_max_retries":        3,
	"tokens":                 "",
	"block_lag":              uint64(2),
	"chunk_size":             uint64(2000),
	"backfill_window":        uint64(10000),
	"flush_interval":         5 * time.Second,
	"archive_batch_size":     500,
	"fetch_nonce":            true,
	"cursor_stream":          "transfers",
	"metrics_addr":           ":9090",
	"metrics_namespace":      "token_rollup",
	"log_level":              "info",
	"log_encoding":           "json",
	"token_name":             "",
	"token_symbol":           "",
	"token_decimals":         18,
	"token_resolve_metadata": true,
}

// Load reads settings from the environment, layered over an optional config
// file named by CONFIG_FILE. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if file := v.GetString("config_file"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	r := reader{v: v}
	cfg := &Config{
		Postgres: PostgresConfig{
			DSN: r.getString("postgres_dsn"),
		},
		ClickHouse: ClickHouseConfig{
			DSN: r.getString("clickhouse_dsn"),
		},
		Redis: RedisConfig{
			URL:    r.getString("redis_url"),
			Stream: r.getString("redis_stream"),
			Block:  r.getDuration("redis_block"),
		},
		RPC: RPCConfig{
			HTTPURL:    r.getString("rpc_http_url"),
			WSURL:      r.getString("rpc_ws_url"),
			Timeout:    r.getDuration("rpc_timeout"),
			MaxRetries: r.getInt("rpc_max_retries"),
		},
		Ingestion: IngestionConfig{
			BlockLag:      r.getUint64("block_lag"),
			ChunkSize:     r.getUint64("chunk_size"),
			Window:        r.getUint64("backfill_window"),
			FlushInterval: r.getDuration("flush_interval"),
			BatchSize:     r.getInt("archive_batch_size"),
			FetchNonce:    r.getBool("fetch_nonce"),
			Stream:        r.getString("cursor_stream"),
		},
		Metrics: MetricsConfig{
			Addr:      r.getString("metrics_addr"),
			Namespace: r.getString("metrics_namespace"),
		},
		Log: LogConfig{
			Level:    r.getString("log_level"),
			Encoding: r.getString("log_encoding"),
		},
		Token: TokenConfig{
			Name:     r.getString("token_name"),
			Symbol:   r.getString("token_symbol"),
			Decimals: r.getInt("token_decimals"),
			Resolve:  r.getBool("token_resolve_metadata"),
		},
	}

	for _, addr := range strings.Split(r.getString("tokens"), ",") {
		addr = strings.ToLower(strings.TrimSpace(addr))
		if addr != "" {
			cfg.Ingestion.Tokens = append(cfg.Ingestion.Tokens, addr)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Ingestion.ChunkSize == 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive")
	}
	if c.Ingestion.Window == 0 {
		return fmt.Errorf("BACKFILL_WINDOW must be positive")
	}
	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ARCHIVE_BATCH_SIZE must be positive")
	}
	if c.Ingestion.Stream == "" {
		return fmt.Errorf("CURSOR_STREAM is required")
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 255 {
		return fmt.Errorf("TOKEN_DECIMALS out of range: %d", c.Token.Decimals)
	}
	for _, addr := range c.Ingestion.Tokens {
		if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
			return fmt.Errorf("invalid token address in TOKENS: %q", addr)
		}
	}
	switch c.Log.Encoding {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_ENCODING must be json or console, got %q", c.Log.Encoding)
	}
	return nil
}

// reader converts viper values, falling back to the default when a value
// does not parse.
type reader struct {
	v *viper.Viper
}

func (r reader) getString(key string) string {
	return r.v.GetString(key)
}

func (r reader) getInt(key string) int {
	if i, err := cast.ToIntE(r.v.Get(key)); err == nil {
		return i
	}
	return defaults[key].(int)
}

func (r reader) getUint64(key string) uint64 {
	if i, err := cast.ToUint64E(r.v.Get(key)); err == nil {
		return i
	}
	return defaults[key].(uint64)
}

func (r reader) getBool(key string) bool {
	if b, err := cast.ToBoolE(r.v.Get(key)); err == nil {
		return b
	}
	return defaults[key].(bool)
}

func (r reader) getDuration(key string) time.Duration {
	if d, err := cast.ToDurationE(r.v.Get(key)); err == nil {
		return d
	}
	return defaults[key].(time.Duration)
}
