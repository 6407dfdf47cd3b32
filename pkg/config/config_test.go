package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "server:\n  api_key: testkey\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Broker.Port != 7497 {
		t.Errorf("expected default broker port 7497, got %d", cfg.Broker.Port)
	}
	if cfg.Flatten.Time != "15:55" {
		t.Errorf("expected default flatten time 15:55, got %q", cfg.Flatten.Time)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	path := writeConfigFile(t, "broker:\n  host: 127.0.0.1\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject a missing server.api_key")
	}
}

func TestValidateRejectsUnknownTimezone(t *testing.T) {
	path := writeConfigFile(t, "server:\n  api_key: testkey\nflatten:\n  timezone: Not/AZone\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject an unknown timezone")
	}
}

func TestEnvOverridesAPIKey(t *testing.T) {
	path := writeConfigFile(t, "server:\n  api_key: placeholder\n")
	t.Setenv("ATLAS_SERVER_API_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.APIKey != "from-env" {
		t.Errorf("expected env override to win, got %q", cfg.Server.APIKey)
	}
}

func TestToRiskLimitsParsesDecimals(t *testing.T) {
	path := writeConfigFile(t, "server:\n  api_key: testkey\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	limits, err := cfg.Risk.ToRiskLimits()
	if err != nil {
		t.Fatalf("ToRiskLimits: %v", err)
	}
	if limits.MaxDailyTrades != 20 {
		t.Errorf("expected default max daily trades 20, got %d", limits.MaxDailyTrades)
	}
}
