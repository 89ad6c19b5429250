package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.ManagerPIN != "" {
		t.Fatalf("expected empty MANAGER_PIN when unset, got %q", cfg.ManagerPIN)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("CATALOG_CACHE_TTL_SECONDS", "5")
	t.Setenv("FINALIZE_LOCK_TTL_SECONDS", "-3")
	t.Setenv("LOYALTY_POINT_VALUE", "5000")
	t.Setenv("COSTING_POLICY", "reject_shortfall")
	t.Setenv("LOG_FORMAT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9090" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
	if !cfg.IsProduction() || cfg.LogFormat != "json" {
		t.Fatalf("expected production json logging, got env=%q format=%q", cfg.AppEnv, cfg.LogFormat)
	}
	if cfg.CatalogCacheTTL != 5*time.Second {
		t.Fatalf("unexpected cache ttl %s", cfg.CatalogCacheTTL)
	}
	if cfg.FinalizeLockTTL != 15*time.Second {
		t.Fatalf("invalid lock ttl should fall back to default, got %s", cfg.FinalizeLockTTL)
	}
	if !cfg.LoyaltyPointValue.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected point value %s", cfg.LoyaltyPointValue)
	}
	if cfg.CostingPolicy != "reject_shortfall" {
		t.Fatalf("unexpected costing policy %q", cfg.CostingPolicy)
	}
}

func TestLoadRejectsNonPositivePointValue(t *testing.T) {
	t.Setenv("LOYALTY_POINT_VALUE", "0")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error for zero point value")
	}
}
