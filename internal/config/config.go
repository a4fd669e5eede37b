package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                   = "8000"
	defaultLogLevel               = "info"
	defaultUpstreamTimeoutSeconds = 60
	defaultSSEPingSeconds         = 15
	defaultTokenExpireMinutes     = 1440
	defaultTencentRegion          = "ap-guangzhou"
	defaultTencentOCREndpoint     = "https://ocr.tencentcloudapi.com"
	defaultOCRArchivePrefix       = "ocr-uploads"
)

type Config struct {
	Port              string
	Environment       string
	LogLevel          string
	LogPretty         bool
	AllowedOrigins    []string
	DatabaseURL       string
	DatabaseAuthToken string

	LLMAPIURL       string
	TOTAPIURL       string
	UpstreamTimeout time.Duration
	SSEPingInterval time.Duration

	SessionTTL time.Duration

	TencentSecretID    string
	TencentSecretKey   string
	TencentRegion      string
	TencentOCREndpoint string
	OCRArchiveBucket   string
	OCRArchivePrefix   string
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func Load() (Config, error) {
	cfg := Config{
		Port:               envOrDefault("PORT", defaultPort),
		Environment:        envOrDefault("APP_ENV", "development"),
		LogLevel:           strings.ToLower(envOrDefault("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:        strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DatabaseAuthToken:  strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		LLMAPIURL:          strings.TrimSpace(os.Getenv("LLM_API_URL")),
		TOTAPIURL:          strings.TrimSpace(os.Getenv("TOT_API_URL")),
		TencentSecretID:    strings.TrimSpace(os.Getenv("TENCENT_SECRET_ID")),
		TencentSecretKey:   strings.TrimSpace(os.Getenv("TENCENT_SECRET_KEY")),
		TencentRegion:      envOrDefault("TENCENT_REGION", defaultTencentRegion),
		TencentOCREndpoint: envOrDefault("TENCENT_OCR_ENDPOINT", defaultTencentOCREndpoint),
		OCRArchiveBucket:   strings.TrimSpace(os.Getenv("OCR_ARCHIVE_BUCKET")),
		OCRArchivePrefix:   envOrDefault("OCR_ARCHIVE_PREFIX", defaultOCRArchivePrefix),
	}
	cfg.LogPretty = boolOrDefault("LOG_PRETTY", !cfg.IsProduction())

	timeoutSeconds := intOrDefault("UPSTREAM_TIMEOUT_SECONDS", defaultUpstreamTimeoutSeconds)
	if timeoutSeconds <= 0 {
		return Config{}, errors.New("UPSTREAM_TIMEOUT_SECONDS must be > 0")
	}
	cfg.UpstreamTimeout = time.Duration(timeoutSeconds) * time.Second

	pingSeconds := intOrDefault("SSE_PING_SECONDS", defaultSSEPingSeconds)
	if pingSeconds < 0 {
		return Config{}, errors.New("SSE_PING_SECONDS must be >= 0")
	}
	cfg.SSEPingInterval = time.Duration(pingSeconds) * time.Second

	expireMinutes := intOrDefault("ACCESS_TOKEN_EXPIRE_MINUTES", defaultTokenExpireMinutes)
	cfg.SessionTTL = time.Duration(expireMinutes) * time.Minute
	if cfg.SessionTTL <= 0 {
		return Config{}, errors.New("ACCESS_TOKEN_EXPIRE_MINUTES must be > 0")
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "*"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.DatabaseURL == "" {
		return Config{}, errors.New("DATABASE_URL is required")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}
	if err := validateUpstreamURL("LLM_API_URL", cfg.LLMAPIURL); err != nil {
		return Config{}, err
	}
	if err := validateUpstreamURL("TOT_API_URL", cfg.TOTAPIURL); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func validateUpstreamURL(key, raw string) error {
	if raw == "" {
		return fmt.Errorf("%s is required", key)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%s must use http or https", key)
	}
	if parsed.Host == "" {
		return fmt.Errorf("%s host is required", key)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
