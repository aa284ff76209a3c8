package config_test

import (
	"testing"

	"github.com/tradepeer/tradepeer/internal/config"
)

func TestLoad_DevelopmentDefaults(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	t.Setenv("PORT", "")
	t.Setenv("BACKEND_PUBLIC_KEY", "")
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("PERFORM_TRADE_ENDPOINT", "")

	c, err := config.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !c.Development() {
		t.Fatalf("Development() = false, want true")
	}
	if c.Port == "" {
		t.Fatalf("Port should default to a non-empty value in development")
	}
}

func TestLoad_ProductionMissingVarsFatal(t *testing.T) {
	t.Setenv("NODE_ENV", "production")
	t.Setenv("PORT", "443")
	t.Setenv("BACKEND_PUBLIC_KEY", "")
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("PERFORM_TRADE_ENDPOINT", "")

	if _, err := config.Load(); err == nil {
		t.Fatalf("Load() error = nil, want an error for missing BACKEND_PUBLIC_KEY in production")
	}
}

func TestLoad_SettlementWithoutAuthForbidden(t *testing.T) {
	t.Setenv("NODE_ENV", "development")
	t.Setenv("PORT", "8080")
	t.Setenv("BACKEND_PUBLIC_KEY", "")
	t.Setenv("PRIVATE_KEY", "fake-private-key")
	t.Setenv("PERFORM_TRADE_ENDPOINT", "https://example.test/trade")

	if _, err := config.Load(); err == nil {
		t.Fatalf("Load() error = nil, want an error: settlement configured without BACKEND_PUBLIC_KEY")
	}
}
