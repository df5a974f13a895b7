package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %s, want 8080", cfg.Port)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.RateLimit.Turns != 60 {
		t.Errorf("RateLimit.Turns = %d", cfg.RateLimit.Turns)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("SESSION_TTL", "30m")
	t.Setenv("RATE_LIMIT_TURNS", "5")
	t.Setenv("BUDGET_TEACHING", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9000" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.RateLimit.Turns != 5 {
		t.Errorf("RateLimit.Turns = %d", cfg.RateLimit.Turns)
	}
	if cfg.Budgets.Teaching != 45*time.Second {
		t.Errorf("Budgets.Teaching = %v", cfg.Budgets.Teaching)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("SESSION_TTL", "not-a-duration")
	t.Setenv("RATE_LIMIT_TURNS", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 60*time.Minute {
		t.Errorf("malformed duration should keep the default, got %v", cfg.SessionTTL)
	}
	if cfg.RateLimit.Turns != 60 {
		t.Errorf("malformed int should keep the default, got %d", cfg.RateLimit.Turns)
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	cfg.Port = ""
	if err := cfg.Validate(); err == nil {
		t.Error("empty port must fail validation")
	}
}

func TestIsDevelopment(t *testing.T) {
	cases := []struct {
		frontendURL string
		want        bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"http://127.0.0.1:3000", true},
		{"https://tutor.example.com", false},
	}
	for _, tc := range cases {
		cfg := &Config{FrontendURL: tc.frontendURL}
		if got := cfg.IsDevelopment(); got != tc.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tc.frontendURL, got, tc.want)
		}
	}
}
