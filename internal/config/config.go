// Package config loads process configuration from environment variables
// layered over built-in defaults, using koanf the same way the rest of the
// dependency pack does: struct defaults first, environment overrides last.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config holds every environment-variable-driven setting the process reads
// at boot. Field names match the env vars verbatim (lowercased) via the
// "koanf" struct tag, so no prefix stripping or section nesting is needed.
type Config struct {
	DatabaseURL string `koanf:"database_url"`
	RedisURL    string `koanf:"redis_url"`

	APIHost     string   `koanf:"api_host"`
	APIPort     int      `koanf:"api_port"`
	CORSOrigins []string `koanf:"cors_origins"`

	JWTSecret          string `koanf:"jwt_secret"`
	JWTAlgorithm       string `koanf:"jwt_algorithm"`
	JWTExpirationHours int    `koanf:"jwt_expiration_hours"`
	EncryptionKey      string `koanf:"encryption_key"`

	YouTubeAPIKey string `koanf:"youtube_api_key"`
	OpenAIAPIKey  string `koanf:"openai_api_key"`

	AuditUploadDir             string `koanf:"audit_upload_dir"`
	AuditUploadRetentionHours  int    `koanf:"audit_upload_retention_hours"`
	DeleteUploadAfterAudit     bool   `koanf:"delete_upload_after_audit"`
	BlueprintCacheTTLMinutes   int    `koanf:"blueprint_cache_ttl_minutes"`
	TranscriptCacheTTLSeconds int    `koanf:"transcript_cache_ttl_seconds"`
	ResearchExportDir          string `koanf:"research_export_dir"`

	EnableWhisperTranscription bool `koanf:"enable_whisper_transcription"`
	EnableTikTokConnectors     bool `koanf:"enable_tiktok_connectors"`
	EnableInstagramConnectors  bool `koanf:"enable_instagram_connectors"`
	AllowExternalMediaDownload bool `koanf:"allow_external_media_download"`

	ResearchEnabled      bool `koanf:"research_enabled"`
	OptimizerV2Enabled   bool `koanf:"optimizer_v2_enabled"`
	OutcomeLearningEnabled bool `koanf:"outcome_learning_enabled"`
	FeedAutoIngestEnabled bool `koanf:"feed_auto_ingest_enabled"`

	OutcomeRecalibrateIntervalMinutes int `koanf:"outcome_recalibrate_interval_minutes"`
	FeedAutoIngestIntervalMinutes     int `koanf:"feed_auto_ingest_interval_minutes"`

	FreeMonthlyCredits       int `koanf:"free_monthly_credits"`
	CreditCostResearchSearch int `koanf:"credit_cost_research_search"`
	CreditCostOptimizerVariants int `koanf:"credit_cost_optimizer_variants"`
	CreditCostAuditRun       int `koanf:"credit_cost_audit_run"`

	BillingEnabled   bool   `koanf:"billing_enabled"`
	StripeSecretKey  string `koanf:"stripe_secret_key"`
	StripePriceID    string `koanf:"stripe_price_id"`
	StripeSuccessURL string `koanf:"stripe_success_url"`

	AutoCreateDBSchema bool `koanf:"auto_create_db_schema"`
}

// JWTExpiration returns the configured JWT lifetime as a time.Duration.
func (c Config) JWTExpiration() time.Duration {
	return time.Duration(c.JWTExpirationHours) * time.Hour
}

// BlueprintCacheTTL returns the blueprint cache lifetime as a time.Duration.
func (c Config) BlueprintCacheTTL() time.Duration {
	return time.Duration(c.BlueprintCacheTTLMinutes) * time.Minute
}

// TranscriptCacheTTL returns the transcript cache lifetime as a time.Duration.
func (c Config) TranscriptCacheTTL() time.Duration {
	return time.Duration(c.TranscriptCacheTTLSeconds) * time.Second
}

func defaultConfig() *Config {
	return &Config{
		APIHost:                     "0.0.0.0",
		APIPort:                     8080,
		CORSOrigins:                 []string{"http://localhost:3000"},
		JWTAlgorithm:                "HS256",
		JWTExpirationHours:          24,
		AuditUploadDir:              "./data/uploads",
		AuditUploadRetentionHours:   24,
		DeleteUploadAfterAudit:      true,
		ResearchExportDir:           "./data/research_exports",
		BlueprintCacheTTLMinutes:    180,
		TranscriptCacheTTLSeconds:   3600,
		EnableWhisperTranscription:  false,
		EnableTikTokConnectors:      false,
		EnableInstagramConnectors:   false,
		AllowExternalMediaDownload:  true,
		ResearchEnabled:             true,
		OptimizerV2Enabled:          true,
		OutcomeLearningEnabled:      true,
		FeedAutoIngestEnabled:       false,
		OutcomeRecalibrateIntervalMinutes: 360,
		FeedAutoIngestIntervalMinutes:     30,
		FreeMonthlyCredits:          50,
		CreditCostResearchSearch:    1,
		CreditCostOptimizerVariants: 3,
		CreditCostAuditRun:          5,
		BillingEnabled:              false,
		AutoCreateDBSchema:          false,
	}
}

// sliceKeys lists the config paths that arrive as comma-separated strings
// from the environment and must be split before unmarshaling.
var sliceKeys = []string{"cors_origins"}

// Load builds a Config by layering defaults, then environment variables.
// Environment variable names match the exported field's koanf tag
// upper-cased verbatim (e.g. JWT_SECRET -> jwt_secret), with no prefix.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load config environment: %w", err)
	}

	if err := splitSliceFields(k); err != nil {
		return nil, fmt.Errorf("parse list fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envTransform maps an OS environment variable name to its koanf path.
// Every key in this module is flat, so the transform is just a lower-case.
func envTransform(key string) string {
	return strings.ToLower(key)
}

func splitSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceKeys {
		val := k.Get(path)
		str, ok := val.(string)
		if !ok || str == "" {
			continue
		}
		parts := strings.Split(str, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		if err := k.Set(path, parts); err != nil {
			return err
		}
	}
	return nil
}

// insecureDefaults are placeholder secret values that must never reach a
// running process; their presence almost always means an operator copied an
// example .env file verbatim.
var insecureDefaults = map[string]bool{
	"change_me_in_production": true,
	"changeme":                true,
	"secret":                  true,
	"":                        true,
}

// Validate rejects configurations that would start the process in an unsafe
// state. It runs at boot, before the HTTP listener binds.
func (c Config) Validate() error {
	if len(strings.TrimSpace(c.JWTSecret)) < 24 || insecureDefaults[strings.ToLower(strings.TrimSpace(c.JWTSecret))] {
		return fmt.Errorf("config: JWT_SECRET must be set to a random value of at least 24 characters")
	}
	if insecureDefaults[strings.ToLower(strings.TrimSpace(c.EncryptionKey))] {
		return fmt.Errorf("config: ENCRYPTION_KEY must not be left at its insecure default")
	}
	if c.EncryptionKey != "" && len(c.EncryptionKey) < 32 {
		return fmt.Errorf("config: ENCRYPTION_KEY must be at least 32 characters")
	}
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("config: API_PORT must be between 1 and 65535, got %d", c.APIPort)
	}
	if c.BillingEnabled && strings.TrimSpace(c.StripeSecretKey) == "" {
		return fmt.Errorf("config: STRIPE_SECRET_KEY is required when BILLING_ENABLED=true")
	}
	if c.FreeMonthlyCredits < 0 {
		return fmt.Errorf("config: FREE_MONTHLY_CREDITS must not be negative")
	}
	for name, v := range map[string]int{
		"CREDIT_COST_RESEARCH_SEARCH":    c.CreditCostResearchSearch,
		"CREDIT_COST_OPTIMIZER_VARIANTS": c.CreditCostOptimizerVariants,
		"CREDIT_COST_AUDIT_RUN":          c.CreditCostAuditRun,
	} {
		if v < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	return nil
}

// ParseBoolEnv mirrors the permissive true/false parsing the rest of the
// ecosystem examples use for boolean environment variables, accepted here
// for values koanf's structs decoder cannot coerce on its own (e.g. "1").
func ParseBoolEnv(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off", "":
		return false, nil
	default:
		return strconv.ParseBool(raw)
	}
}
