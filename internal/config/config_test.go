package config

import "testing"

func TestLoadRequiresOwner(t *testing.T) {
	t.Setenv("OWNER_ID", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when OWNER_ID is unset")
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OWNER_ID", "platform-owner")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("PLATFORM_FEE_PERCENT", "")
	t.Setenv("PAYMENTS_PER_MINUTE", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("default port = %q", cfg.Port)
	}
	if cfg.FeePercent != 10 {
		t.Fatalf("default fee = %d", cfg.FeePercent)
	}
	if cfg.PaymentsPerMinute != 30 {
		t.Fatalf("default payments per minute = %d", cfg.PaymentsPerMinute)
	}
	if cfg.Env != "development" || cfg.LogLevel != "info" {
		t.Fatalf("defaults env=%q log=%q", cfg.Env, cfg.LogLevel)
	}
}

func TestLoadRejectsBadFee(t *testing.T) {
	t.Setenv("OWNER_ID", "platform-owner")

	t.Setenv("PLATFORM_FEE_PERCENT", "101")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for fee above 100")
	}

	t.Setenv("PLATFORM_FEE_PERCENT", "ten")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for non-integer fee")
	}
}
