package config

import (
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string `mapstructure:"environment"` // "dev" or "prod"

	Binance  ExchangeConfig `mapstructure:"binance"`
	Bybit    ExchangeConfig `mapstructure:"bybit"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	HTTP     HTTPConfig     `mapstructure:"http"`
}

type ExchangeConfig struct {
	REST RESTConfig `mapstructure:"rest"`
	WS   WSConfig   `mapstructure:"ws"`
}

type RESTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type WSConfig struct {
	URL string `mapstructure:"url"`
}

// ScannerConfig holds the pipeline timing knobs. Zero values fall back to
// the documented defaults at load time.
type ScannerConfig struct {
	MetricRefreshInterval time.Duration `mapstructure:"metric_refresh_interval"`
	MetricConcurrency     int           `mapstructure:"metric_concurrency"`
	SymbolCacheTTL        time.Duration `mapstructure:"symbol_cache_ttl"`
	HistoryStaleAfter     time.Duration `mapstructure:"history_stale_after"`
	DedupWindow           time.Duration `mapstructure:"dedup_window"`
	KlineSeedLimit        int           `mapstructure:"kline_seed_limit"`
}

// Options defines the logger configuration options.
type LogConfig struct {
	Level       string `mapstructure:"level"`       // log level: "debug", "info", "warn", "error"
	Format      string `mapstructure:"format"`      // log format: "json" or "console"
	OutputFile  string `mapstructure:"output_file"` // file path to store logs (optional)
	Environment string `mapstructure:"environment"` // environment: "dev" or "prod"
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type TelegramConfig struct {
	Token   string `mapstructure:"token"`
	BaseURL string `mapstructure:"base_url"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load loads application configuration using Viper.
// It reads .env, then config.yaml, and overrides with environment variables.
func Load() *Config {
	// .env is optional; real environment variables win either way.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config") // config.yaml
	v.SetConfigType("yaml")

	ex, _ := os.Executable()
	if strings.Contains(ex, "go-build") {
		pwd, _ := os.Getwd()
		v.AddConfigPath(filepath.Join(pwd, "../../config"))
	} else {
		v.AddConfigPath(filepath.Join(filepath.Dir(ex), "../config"))
	}
	v.AddConfigPath("./config")

	setDefaults(v)

	// Support environment variables with dot notation (e.g., BYBIT_WS_URL)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		log.Fatalf("failed to read config: %v", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		log.Fatalf("failed to unmarshal config: %v", err)
	}

	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")

	v.SetDefault("binance.rest.timeout", "10s")
	v.SetDefault("bybit.rest.timeout", "10s")

	v.SetDefault("scanner.metric_refresh_interval", "5m")
	v.SetDefault("scanner.metric_concurrency", 6)
	v.SetDefault("scanner.symbol_cache_ttl", "30m")
	v.SetDefault("scanner.history_stale_after", "48h")
	v.SetDefault("scanner.dedup_window", "2s")
	v.SetDefault("scanner.kline_seed_limit", 200)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("telegram.base_url", "https://api.telegram.org")
}
