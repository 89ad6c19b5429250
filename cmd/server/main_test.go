package main

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"klinikpos/backend/internal/config"
	"klinikpos/backend/internal/inventory"
	"klinikpos/backend/internal/store/memory"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	cases := []config.Config{
		{AuthSecret: "short", ManagerPIN: "739154"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "123456"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "987654"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "12ab56"},
		{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "4444"},
	}
	for _, cfg := range cases {
		if err := validateSecurityConfig(cfg); err == nil {
			t.Fatalf("expected %+v to be rejected", cfg)
		}
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "0123456789abcdef0123456789abcdef", ManagerPIN: "739154"})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestParsePolicies(t *testing.T) {
	costing, reversal, err := parsePolicies(config.Config{})
	if err != nil {
		t.Fatalf("defaults should parse: %v", err)
	}
	if costing != inventory.FallbackToCurrentBuyPrice || reversal != inventory.RestockWithoutBatch {
		t.Fatalf("unexpected defaults %s / %s", costing, reversal)
	}

	costing, reversal, err = parsePolicies(config.Config{CostingPolicy: "REJECT_SHORTFALL", ReversalPolicy: "restock_as_synthetic_batch"})
	if err != nil {
		t.Fatalf("explicit policies should parse: %v", err)
	}
	if costing != inventory.RejectShortfall || reversal != inventory.RestockAsSyntheticBatch {
		t.Fatalf("unexpected policies %s / %s", costing, reversal)
	}

	if _, _, err := parsePolicies(config.Config{CostingPolicy: "lifo"}); err == nil {
		t.Fatalf("expected unknown costing policy to fail")
	}
}

func TestOpenRepositoryWithoutDatabaseURLUsesSeededMemory(t *testing.T) {
	repo, closeFn, err := openRepository(context.Background(), config.Config{}, zap.NewNop())
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	if closeFn != nil {
		t.Fatalf("memory repository should not need closing")
	}
	if _, ok := repo.(*memory.Store); !ok {
		t.Fatalf("expected *memory.Store, got %T", repo)
	}
	if _, err := repo.GetProduct(context.Background(), "med-amoxi-500"); err != nil {
		t.Fatalf("expected seeded catalog: %v", err)
	}
}
