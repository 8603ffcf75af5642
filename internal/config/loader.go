package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rpattn/persway/internal/db"
	"github.com/spf13/viper"
)

const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendShopify  = "shopify"
)

type Config struct {
	Server   ServerConfig
	Database db.Config
	Store    StoreConfig
	Shopify  ShopifyConfig
	Redis    RedisConfig
	Log      LogConfig
	Ingest   IngestConfig
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type StoreConfig struct {
	Backend    string
	SQLitePath string
}

type ShopifyConfig struct {
	ShopDomain  string
	AccessToken string
	APIVersion  string
	RateLimit   RateLimitConfig
}

type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// RedisConfig selects the distributed locker. An empty Addr keeps locks in process.
type RedisConfig struct {
	Addr    string
	LockTTL time.Duration
}

type LogConfig struct {
	Mode  string
	Level string
}

type IngestConfig struct {
	MaxConcurrency int
}

// Default returns the configuration used when neither a file nor the
// environment provide a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   15 * time.Second,
		},
		Database: db.DefaultConfig(),
		Store: StoreConfig{
			Backend:    BackendPostgres,
			SQLitePath: "persway.db",
		},
		Shopify: ShopifyConfig{
			APIVersion: "2025-01",
			RateLimit:  RateLimitConfig{MaxRequests: 40, Window: time.Minute},
		},
		Redis: RedisConfig{LockTTL: 30 * time.Second},
		Log:   LogConfig{Mode: "development", Level: "info"},
		Ingest: IngestConfig{
			MaxConcurrency: 8,
		},
	}
}

// Load reads config.yaml from configPath (if present) and applies PERSWAY_*
// environment overrides, e.g. PERSWAY_DATABASE_HOST or PERSWAY_STORE_BACKEND.
func Load(configPath string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("PERSWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.Server.Addr = v.GetString("server.addr")
	cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	cfg.Server.ReadTimeout = v.GetDuration("server.read_timeout")
	cfg.Server.WriteTimeout = v.GetDuration("server.write_timeout")

	cfg.Database.Host = v.GetString("database.host")
	cfg.Database.Port = v.GetInt("database.port")
	cfg.Database.User = v.GetString("database.user")
	cfg.Database.Password = v.GetString("database.password")
	cfg.Database.DBName = v.GetString("database.dbname")
	cfg.Database.SSLMode = v.GetString("database.sslmode")

	cfg.Store.Backend = strings.ToLower(v.GetString("store.backend"))
	cfg.Store.SQLitePath = v.GetString("store.sqlite_path")

	cfg.Shopify.ShopDomain = v.GetString("shopify.shop_domain")
	cfg.Shopify.AccessToken = v.GetString("shopify.access_token")
	cfg.Shopify.APIVersion = v.GetString("shopify.api_version")
	cfg.Shopify.RateLimit.MaxRequests = v.GetInt("shopify.rate_limit.max_requests")
	cfg.Shopify.RateLimit.Window = v.GetDuration("shopify.rate_limit.window")

	cfg.Redis.Addr = v.GetString("redis.addr")
	cfg.Redis.LockTTL = v.GetDuration("redis.lock_ttl")

	cfg.Log.Mode = v.GetString("log.mode")
	cfg.Log.Level = v.GetString("log.level")

	cfg.Ingest.MaxConcurrency = v.GetInt("ingest.max_concurrency")

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)

	v.SetDefault("database.host", cfg.Database.Host)
	v.SetDefault("database.port", cfg.Database.Port)
	v.SetDefault("database.user", cfg.Database.User)
	v.SetDefault("database.password", cfg.Database.Password)
	v.SetDefault("database.dbname", cfg.Database.DBName)
	v.SetDefault("database.sslmode", cfg.Database.SSLMode)

	v.SetDefault("store.backend", cfg.Store.Backend)
	v.SetDefault("store.sqlite_path", cfg.Store.SQLitePath)

	v.SetDefault("shopify.shop_domain", cfg.Shopify.ShopDomain)
	v.SetDefault("shopify.access_token", cfg.Shopify.AccessToken)
	v.SetDefault("shopify.api_version", cfg.Shopify.APIVersion)
	v.SetDefault("shopify.rate_limit.max_requests", cfg.Shopify.RateLimit.MaxRequests)
	v.SetDefault("shopify.rate_limit.window", cfg.Shopify.RateLimit.Window)

	v.SetDefault("redis.addr", cfg.Redis.Addr)
	v.SetDefault("redis.lock_ttl", cfg.Redis.LockTTL)

	v.SetDefault("log.mode", cfg.Log.Mode)
	v.SetDefault("log.level", cfg.Log.Level)

	v.SetDefault("ingest.max_concurrency", cfg.Ingest.MaxConcurrency)
}

func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendPostgres, BackendSQLite:
	case BackendShopify:
		if c.Shopify.ShopDomain == "" || c.Shopify.AccessToken == "" {
			return fmt.Errorf("shopify backend requires shopify.shop_domain and shopify.access_token")
		}
		if c.Shopify.RateLimit.MaxRequests <= 0 || c.Shopify.RateLimit.Window <= 0 {
			return fmt.Errorf("shopify.rate_limit must be positive")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Ingest.MaxConcurrency <= 0 {
		return fmt.Errorf("ingest.max_concurrency must be at least 1")
	}
	return nil
}
