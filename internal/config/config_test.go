package config

import (
	"os"
	"testing"
)

func clearPulsebenchEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"DATABASE_URL", "REDIS_URL", "API_HOST", "API_PORT", "CORS_ORIGINS",
		"JWT_SECRET", "JWT_ALGORITHM", "JWT_EXPIRATION_HOURS", "ENCRYPTION_KEY",
		"YOUTUBE_API_KEY", "OPENAI_API_KEY", "AUDIT_UPLOAD_DIR",
		"AUDIT_UPLOAD_RETENTION_HOURS", "DELETE_UPLOAD_AFTER_AUDIT",
		"BLUEPRINT_CACHE_TTL_MINUTES", "TRANSCRIPT_CACHE_TTL_SECONDS",
		"ENABLE_WHISPER_TRANSCRIPTION", "ENABLE_TIKTOK_CONNECTORS",
		"ENABLE_INSTAGRAM_CONNECTORS", "ALLOW_EXTERNAL_MEDIA_DOWNLOAD",
		"RESEARCH_ENABLED", "OPTIMIZER_V2_ENABLED", "OUTCOME_LEARNING_ENABLED",
		"FEED_AUTO_INGEST_ENABLED", "OUTCOME_RECALIBRATE_INTERVAL_MINUTES",
		"FEED_AUTO_INGEST_INTERVAL_MINUTES", "FREE_MONTHLY_CREDITS",
		"CREDIT_COST_RESEARCH_SEARCH", "CREDIT_COST_OPTIMIZER_VARIANTS",
		"CREDIT_COST_AUDIT_RUN", "BILLING_ENABLED", "STRIPE_SECRET_KEY",
		"STRIPE_PRICE_ID", "STRIPE_SUCCESS_URL", "AUTO_CREATE_DB_SCHEMA",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
	for _, k := range keys {
		t.Cleanup(func(k string) func() { return func() { os.Unsetenv(k) } }(k))
	}
}

func TestLoadFailsWithoutJWTSecret(t *testing.T) {
	clearPulsebenchEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected Load to fail without JWT_SECRET")
	}
}

func TestLoadRejectsInsecureJWTSecret(t *testing.T) {
	clearPulsebenchEnv(t)
	os.Setenv("JWT_SECRET", "change_me_in_production")
	if _, err := Load(); err == nil {
		t.Fatal("expected insecure JWT_SECRET default to be rejected")
	}
}

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	clearPulsebenchEnv(t)
	os.Setenv("JWT_SECRET", "a-sufficiently-long-random-secret-value-123")
	os.Setenv("API_PORT", "9090")
	os.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	os.Setenv("FREE_MONTHLY_CREDITS", "100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.APIPort != 9090 {
		t.Fatalf("expected overridden API_PORT=9090, got %d", cfg.APIPort)
	}
	if cfg.APIHost != "0.0.0.0" {
		t.Fatalf("expected default API_HOST, got %q", cfg.APIHost)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[0] != "https://a.example.com" {
		t.Fatalf("expected parsed CORS_ORIGINS list, got %v", cfg.CORSOrigins)
	}
	if cfg.FreeMonthlyCredits != 100 {
		t.Fatalf("expected overridden FREE_MONTHLY_CREDITS=100, got %d", cfg.FreeMonthlyCredits)
	}
	if cfg.CreditCostAuditRun != 5 {
		t.Fatalf("expected default CREDIT_COST_AUDIT_RUN=5, got %d", cfg.CreditCostAuditRun)
	}
}

func TestValidateRequiresStripeKeyWhenBillingEnabled(t *testing.T) {
	cfg := *defaultConfig()
	cfg.JWTSecret = "a-sufficiently-long-random-secret-value-123"
	cfg.BillingEnabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected billing enabled without stripe key to fail validation")
	}
	cfg.StripeSecretKey = "sk_test_x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
