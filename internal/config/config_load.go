package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults, matching the
// teacher's Default()/applyEnvOverrides() split.
func Default() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			BaseURL:         "https://gateway.example.invalid",
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Sessions: SessionsConfig{
			Storage: "",
		},
	}
}

// Load builds a Config: per-provider and named env vars are layered onto
// the defaults, then a NANOBOT_CONFIG JSON5 document, when set, is
// unmarshalled over the result, so its values override env vars for every
// field it sets (§6.2). Secret fields carry json:"-" and come from env
// only. An unparseable NANOBOT_CONFIG is returned as an error.
func Load() (*Config, error) {
	cfg := Default()
	cfg.applyEnvOverrides()

	if raw := os.Getenv("NANOBOT_CONFIG"); raw != "" {
		if err := json5.Unmarshal([]byte(raw), cfg); err != nil {
			return nil, fmt.Errorf("parse NANOBOT_CONFIG: %w", err)
		}
	}

	return cfg, nil
}

// LoadFile is Load, but also merges a JSON5 file on disk before env
// overrides — used by the fsnotify watcher.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if raw := os.Getenv("NANOBOT_CONFIG"); raw != "" {
		if err := json5.Unmarshal([]byte(raw), cfg); err != nil {
			return nil, fmt.Errorf("parse NANOBOT_CONFIG: %w", err)
		}
	}

	return cfg, nil
}

// providerKeyEnv discovers "<PREFIX>_API_KEY" plus up to ten additional
// "<PREFIX>_API_KEY_N" slots (§6.2), one provider slot per key found.
func providerKeyEnv(prefix string) ProviderKeys {
	pk := ProviderKeys{APIKey: os.Getenv(prefix + "_API_KEY")}
	for n := 1; n <= 10; n++ {
		if v := os.Getenv(fmt.Sprintf("%s_API_KEY_%d", prefix, n)); v != "" {
			pk.Extra = append(pk.Extra, v)
		}
	}
	if v := os.Getenv(prefix + "_API_BASE"); v != "" {
		pk.APIBase = v
	}
	return pk
}

// applyEnvOverrides overlays env vars onto the config; env always wins
// over a config file value, matching the teacher's precedence.
func (c *Config) applyEnvOverrides() {
	if pk := providerKeyEnv("OPENAI"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.OpenAI = mergeKeys(c.Providers.OpenAI, pk)
	}
	if pk := providerKeyEnv("ANTHROPIC"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.Anthropic = mergeKeys(c.Providers.Anthropic, pk)
	}
	if pk := providerKeyEnv("GEMINI"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.Gemini = mergeKeys(c.Providers.Gemini, pk)
	} else if pk := providerKeyEnv("GOOGLE"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.Gemini = mergeKeys(c.Providers.Gemini, pk)
	}
	if pk := providerKeyEnv("GROQ"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.Groq = mergeKeys(c.Providers.Groq, pk)
	}
	if pk := providerKeyEnv("DEEPSEEK"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.DeepSeek = mergeKeys(c.Providers.DeepSeek, pk)
	}
	if pk := providerKeyEnv("OPENROUTER"); pk.APIKey != "" || len(pk.Extra) > 0 {
		c.Providers.OpenRouter = mergeKeys(c.Providers.OpenRouter, pk)
	}

	if v := os.Getenv("BASE_URL"); v != "" {
		c.Gateway.BaseURL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("ADMIN_SESSION_KEYS"); v != "" {
		c.Gateway.AdminKeys = splitCSV(v)
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = splitCSV(v)
	}

	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.Database.PostgresDSN = v
	}
	if v := os.Getenv("SESSIONS_STORAGE"); v != "" {
		c.Sessions.Storage = v
	}

	c.Billing.StripeSecretKey = os.Getenv("STRIPE_SECRET_KEY")
	c.Billing.StripeWebhookSecret = os.Getenv("STRIPE_WEBHOOK_SECRET")
	c.Billing.StripePriceIDs = stripePricesFromEnv()
	c.Billing.PartnerTokens = partnerTokensFromEnv()

	c.Email.ResendAPIKey = os.Getenv("RESEND_API_KEY")

	c.Webhooks = webhookSecretsFromEnv()
}

func mergeKeys(existing, fromEnv ProviderKeys) ProviderKeys {
	if fromEnv.APIKey != "" {
		existing.APIKey = fromEnv.APIKey
	}
	if len(fromEnv.Extra) > 0 {
		existing.Extra = fromEnv.Extra
	}
	if fromEnv.APIBase != "" {
		existing.APIBase = fromEnv.APIBase
	}
	return existing
}

// stripePricesFromEnv collects STRIPE_PRICE_<PLAN> into a plan->price map.
func stripePricesFromEnv() map[string]string {
	prices := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "STRIPE_PRICE_") {
			continue
		}
		plan := strings.ToLower(strings.TrimPrefix(k, "STRIPE_PRICE_"))
		prices[plan] = v
	}
	return prices
}

// partnerTokensFromEnv collects every PARTNER_* env var's value as an
// accepted bearer token for POST /api/v1/partner/grant-credits.
func partnerTokensFromEnv() []string {
	var tokens []string
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(k, "PARTNER_") || v == "" {
			continue
		}
		tokens = append(tokens, v)
	}
	return tokens
}

// webhookSecretsFromEnv collects the per-messenger verification secrets
// named in §6.2 (TELEGRAM_WEBHOOK_SECRET, FACEBOOK_VERIFY_TOKEN, etc.)
// generically: any env var ending in _WEBHOOK_SECRET or _VERIFY_TOKEN.
func webhookSecretsFromEnv() WebhookSecrets {
	secrets := make(WebhookSecrets)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || v == "" {
			continue
		}
		if strings.HasSuffix(k, "_WEBHOOK_SECRET") || strings.HasSuffix(k, "_VERIFY_TOKEN") {
			secrets[k] = v
		}
	}
	return secrets
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsAdminKey reports whether key (a session key or email) was granted
// admin privileges via ADMIN_SESSION_KEYS (§6.2, §7 Forbidden).
func (c *Config) IsAdminKey(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.Gateway.AdminKeys {
		if k == key {
			return true
		}
	}
	return false
}
