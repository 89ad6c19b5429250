package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AppEnv                string
	AllowedOrigin         string
	DatabaseURL           string
	RunMigrations         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	CatalogCacheTTL       time.Duration
	FinalizeLockTTL       time.Duration
	AuthSecret            string
	AccessTokenTTLMinutes int
	ManagerPIN            string
	LogLevel              string
	LogFormat             string
	LogOutput             string
	LoyaltyPointValue     decimal.Decimal
	CostingPolicy         string
	ReversalPolicy        string
}

// Load reads, lowest priority first: built-in defaults, an optional
// klinikpos.{yaml,toml,json} in the working directory, .env, then the
// process environment. Secrets have no defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("klinikpos")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("ALLOWED_ORIGIN", "http://127.0.0.1:3000")
	v.SetDefault("RUN_MIGRATIONS", true)
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("CATALOG_CACHE_TTL_SECONDS", 60)
	v.SetDefault("FINALIZE_LOCK_TTL_SECONDS", 15)
	v.SetDefault("ACCESS_TOKEN_TTL_MINUTES", 480)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_OUTPUT", "stdout")
	v.SetDefault("LOYALTY_POINT_VALUE", "10000")

	pointValue, err := decimal.NewFromString(strings.TrimSpace(v.GetString("LOYALTY_POINT_VALUE")))
	if err != nil || !pointValue.IsPositive() {
		return Config{}, fmt.Errorf("LOYALTY_POINT_VALUE must be a positive number, got %q", v.GetString("LOYALTY_POINT_VALUE"))
	}

	cfg := Config{
		Port:                  v.GetString("PORT"),
		AppEnv:                strings.ToLower(v.GetString("APP_ENV")),
		AllowedOrigin:         v.GetString("ALLOWED_ORIGIN"),
		DatabaseURL:           strings.TrimSpace(v.GetString("DATABASE_URL")),
		RunMigrations:         v.GetBool("RUN_MIGRATIONS"),
		RedisAddr:             strings.TrimSpace(v.GetString("REDIS_ADDR")),
		RedisPassword:         v.GetString("REDIS_PASSWORD"),
		RedisDB:               v.GetInt("REDIS_DB"),
		CatalogCacheTTL:       seconds(v.GetInt("CATALOG_CACHE_TTL_SECONDS"), 60),
		FinalizeLockTTL:       seconds(v.GetInt("FINALIZE_LOCK_TTL_SECONDS"), 15),
		AuthSecret:            strings.TrimSpace(v.GetString("AUTH_SECRET")),
		AccessTokenTTLMinutes: positive(v.GetInt("ACCESS_TOKEN_TTL_MINUTES"), 480),
		ManagerPIN:            strings.TrimSpace(v.GetString("MANAGER_PIN")),
		LogLevel:              v.GetString("LOG_LEVEL"),
		LogFormat:             v.GetString("LOG_FORMAT"),
		LogOutput:             v.GetString("LOG_OUTPUT"),
		LoyaltyPointValue:     pointValue,
		CostingPolicy:         v.GetString("COSTING_POLICY"),
		ReversalPolicy:        v.GetString("REVERSAL_POLICY"),
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "console"
		if cfg.IsProduction() {
			cfg.LogFormat = "json"
		}
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func positive(value int, fallback int) int {
	if value < 1 {
		return fallback
	}
	return value
}

func seconds(value int, fallback int) time.Duration {
	return time.Duration(positive(value, fallback)) * time.Second
}
