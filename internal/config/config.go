// Package config loads gateway settings from the environment and an optional .env file.
package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// PISTE endpoints used by Chorus Pro
const (
	ChorusProSandboxAPI   = "https://sandbox-api.piste.gouv.fr"
	ChorusProSandboxOAuth = "https://sandbox-oauth.piste.gouv.fr/api/oauth/token"
	ChorusProAPI          = "https://api.piste.gouv.fr"
	ChorusProOAuth        = "https://oauth.piste.gouv.fr/api/oauth/token"
)

// Config holds every environment-driven setting of the gateway
type Config struct {
	LogLevel string

	ServerHost string
	ServerPort int
	Debug      bool

	// Compliance defaults
	ValidationProfile string // strict | lenient
	Category          string // B2B | B2G

	// Shared transport settings
	HTTPTimeout time.Duration
	RateLimit   float64 // requests per second per provider
	RateBurst   int
	AuthRetries int
	CacheTTL    time.Duration
	StoreTTL    time.Duration

	// StallThreshold flags invoices idle in one status for longer
	StallThreshold time.Duration

	ChorusPro ChorusProConfig
	Peppol    PeppolConfig
	LLM       LLMConfig
	Render    RenderConfig
}

// ChorusProConfig holds PISTE OAuth credentials and the technical account
type ChorusProConfig struct {
	BaseURL           string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	TechnicalLogin    string
	TechnicalPassword string
	Sandbox           bool
}

// Enabled reports whether credentials were supplied
func (c ChorusProConfig) Enabled() bool {
	return c.ClientID != "" && c.ClientSecret != ""
}

// PeppolConfig holds access-point and SMP settings
type PeppolConfig struct {
	AccessPointURL    string
	TokenURL          string
	ClientID          string
	ClientSecret      string
	SMPURL            string
	SenderID          string // access point party id used in eb:From
	CertFile          string
	KeyFile           string
	TrustedCertsDir   string
	VerifyEndpointTLS bool
}

// Enabled reports whether an access point was configured
func (c PeppolConfig) Enabled() bool {
	return c.AccessPointURL != ""
}

// LLMConfig holds OpenAI-compatible extraction settings
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// RenderConfig holds Factur-X rendering settings
type RenderConfig struct {
	ChromiumPath string
	PDFTimeout   time.Duration
	TmpDir       string
}

// Load reads the given .env files (default ".env") and then the environment.
// Missing files are ignored; variables already set in the environment win.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return FromEnv(), nil
}

// FromEnv builds a Config from environment variables with defaults
func FromEnv() *Config {
	sandbox := getBool("CHORUS_PRO_SANDBOX", true)
	apiURL, tokenURL := ChorusProSandboxAPI, ChorusProSandboxOAuth
	if !sandbox {
		apiURL, tokenURL = ChorusProAPI, ChorusProOAuth
	}

	return &Config{
		LogLevel:          getenv("LOG_LEVEL", "info"),
		ServerHost:        getenv("SERVER_HOST", "0.0.0.0"),
		ServerPort:        getInt("SERVER_PORT", 8080),
		Debug:             getBool("DEBUG", false),
		ValidationProfile: getenv("VALIDATION_PROFILE", "strict"),
		Category:          getenv("INVOICE_CATEGORY", "B2B"),
		HTTPTimeout:       getDuration("HTTP_TIMEOUT", 30*time.Second),
		RateLimit:         getFloat("PROVIDER_RATE_LIMIT", 10),
		RateBurst:         getInt("PROVIDER_RATE_BURST", 5),
		AuthRetries:       getInt("AUTH_RETRIES", 3),
		CacheTTL:          getDuration("CACHE_TTL", time.Hour),
		StoreTTL:          getDuration("STORE_TTL", 0),
		StallThreshold:    getDuration("STALL_THRESHOLD", 24*time.Hour),
		ChorusPro: ChorusProConfig{
			BaseURL:           getenv("CHORUS_PRO_API_URL", apiURL),
			TokenURL:          getenv("CHORUS_PRO_TOKEN_URL", tokenURL),
			ClientID:          getenv("CHORUS_PRO_CLIENT_ID", ""),
			ClientSecret:      getenv("CHORUS_PRO_CLIENT_SECRET", ""),
			TechnicalLogin:    getenv("CHORUS_PRO_LOGIN", ""),
			TechnicalPassword: getenv("CHORUS_PRO_PASSWORD", ""),
			Sandbox:           sandbox,
		},
		Peppol: PeppolConfig{
			AccessPointURL:    getenv("PEPPOL_AP_URL", ""),
			TokenURL:          getenv("PEPPOL_TOKEN_URL", ""),
			ClientID:          getenv("PEPPOL_CLIENT_ID", ""),
			ClientSecret:      getenv("PEPPOL_CLIENT_SECRET", ""),
			SMPURL:            getenv("PEPPOL_SMP_URL", ""),
			SenderID:          getenv("PEPPOL_SENDER_ID", ""),
			CertFile:          getenv("PEPPOL_CERT_FILE", ""),
			KeyFile:           getenv("PEPPOL_KEY_FILE", ""),
			TrustedCertsDir:   getenv("PEPPOL_TRUSTED_CERTS_DIR", ""),
			VerifyEndpointTLS: getBool("PEPPOL_VERIFY_ENDPOINT_CERT", false),
		},
		LLM: LLMConfig{
			APIKey:  getenv("LLM_API_KEY", ""),
			BaseURL: getenv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:   getenv("LLM_MODEL", "anthropic/claude-3.5-sonnet"),
		},
		Render: RenderConfig{
			ChromiumPath: getenv("PDF_CHROMIUM_PATH", ""),
			PDFTimeout:   getDuration("PDF_TIMEOUT", 15*time.Second),
			TmpDir:       getenv("PDF_TMP_DIR", os.TempDir()),
		},
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
