package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("GATEWAY_TIMEOUT", "2s")
	t.Setenv("REFUND_MAX_ATTEMPTS", "3")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %s, want 9090", cfg.Port)
	}
	if cfg.Gateway.Timeout != 2*time.Second {
		t.Errorf("Gateway.Timeout = %v, want 2s", cfg.Gateway.Timeout)
	}
	if cfg.Refund.MaxAttempts != 3 {
		t.Errorf("Refund.MaxAttempts = %d, want 3", cfg.Refund.MaxAttempts)
	}
	if cfg.Refund.GracePeriod != 3*time.Second {
		t.Errorf("Refund.GracePeriod = %v, want default 3s", cfg.Refund.GracePeriod)
	}
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("GATEWAY_TIMEOUT", "soon")
	t.Setenv("APPROVAL_CACHE_SIZE", "-4")

	cfg := Load()

	if cfg.Gateway.Timeout != 10*time.Second {
		t.Errorf("Gateway.Timeout = %v, want default 10s", cfg.Gateway.Timeout)
	}
	if cfg.ApprovalCacheSize != 1024 {
		t.Errorf("ApprovalCacheSize = %d, want default 1024", cfg.ApprovalCacheSize)
	}
}

func TestLoadDefaultsToProduction(t *testing.T) {
	t.Setenv("APP_ENV", "")
	os.Unsetenv("APP_ENV")
	t.Setenv("JWT_SECRET", "")
	os.Unsetenv("JWT_SECRET")

	cfg := Load()

	if cfg.Env != "production" || cfg.IsDevelopment() {
		t.Errorf("Env = %q, want production", cfg.Env)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil, want missing JWT_SECRET")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     string
		secret  string
		wantErr bool
	}{
		{"production with secret", "production", "s3cret", false},
		{"production without secret", "production", "", true},
		{"staging without secret", "staging", "", true},
		{"development without secret", "development", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Env: tt.env, JWTSecret: tt.secret}
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
