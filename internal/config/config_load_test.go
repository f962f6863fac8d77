package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_SaneValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8080, cfg.Gateway.Port)
	assert.Equal(t, 32000, cfg.Gateway.MaxMessageChars)
	assert.Equal(t, 20, cfg.Gateway.RateLimitRPM)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("BASE_URL", "https://example.test")
	t.Setenv("PORT", "9090")
	t.Setenv("ADMIN_SESSION_KEYS", "admin1, admin2")
	t.Setenv("ALLOWED_ORIGINS", "https://a.test, https://b.test")
	t.Setenv("ANTHROPIC_API_KEY", "sk-primary")
	t.Setenv("ANTHROPIC_API_KEY_1", "sk-extra-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://example.test", cfg.Gateway.BaseURL)
	assert.Equal(t, 9090, cfg.Gateway.Port)
	assert.Equal(t, []string{"admin1", "admin2"}, cfg.Gateway.AdminKeys)
	assert.Equal(t, []string{"https://a.test", "https://b.test"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "sk-primary", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, []string{"sk-extra-1"}, cfg.Providers.Anthropic.Extra)
}

func TestLoad_InvalidPortIsIgnored(t *testing.T) {
	t.Setenv("PORT", "not-a-number")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Gateway.Port)
}

func TestLoad_GeminiFallsBackToGoogleKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "google-key")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "google-key", cfg.Providers.Gemini.APIKey)
}

func TestLoad_PartnerTokensCollectedFromEnv(t *testing.T) {
	t.Setenv("PARTNER_ACME", "partner-token-acme")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Contains(t, cfg.Billing.PartnerTokens, "partner-token-acme")
}

func TestLoad_WebhookSecretsCollectedGenerically(t *testing.T) {
	t.Setenv("TELEGRAM_WEBHOOK_SECRET", "tg-secret")
	t.Setenv("FACEBOOK_VERIFY_TOKEN", "fb-token")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "tg-secret", cfg.Webhooks["TELEGRAM_WEBHOOK_SECRET"])
	assert.Equal(t, "fb-token", cfg.Webhooks["FACEBOOK_VERIFY_TOKEN"])
}

func TestIsAdminKey(t *testing.T) {
	cfg := Default()
	cfg.Gateway.AdminKeys = []string{"secret-admin"}
	assert.True(t, cfg.IsAdminKey("secret-admin"))
	assert.False(t, cfg.IsAdminKey("not-admin"))
}

func TestSplitCSV(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitCSV("a, b,c"))
	assert.Empty(t, splitCSV(""))
}

func TestSnapshot_IsIndependentCopy(t *testing.T) {
	cfg := Default()
	snap := cfg.Snapshot()
	cfg.Gateway.Port = 1234
	assert.NotEqual(t, cfg.Gateway.Port, snap.Gateway.Port)
}

func TestReplaceFrom_CopiesAllFields(t *testing.T) {
	cfg := Default()
	src := Default()
	src.Gateway.Port = 5555
	cfg.ReplaceFrom(src)
	assert.Equal(t, 5555, cfg.Gateway.Port)
}
