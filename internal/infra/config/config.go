package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultAPIURL = "https://whatsapp-backend-en5o.onrender.com"

// Upload modes.
const (
	UploadViaAPI = "api"
	UploadViaS3  = "s3"
)

// Config aggregates client configuration values loaded from environment variables.
type Config struct {
	Env              string
	APIURL           string
	SocketURL        string
	APITimeout       time.Duration
	HandshakeTimeout time.Duration
	TypingIdle       time.Duration
	CredentialPath   string
	LogFile          string
	UploadMode       string
	S3               S3Config
}

// S3Config configures direct image uploads to an S3-compatible bucket.
type S3Config struct {
	Endpoint       string
	PublicEndpoint string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
}

// StubConfig configures the local stub backend.
type StubConfig struct {
	Env       string
	HTTPAddr  string
	JWTSecret string
	TokenTTL  time.Duration
}

// Load parses client configuration from the current environment.
func Load() (Config, error) {
	cfg := Config{
		Env:        getEnv("APP_ENV", "dev"),
		APIURL:     strings.TrimRight(getEnv("API_URL", defaultAPIURL), "/"),
		SocketURL:  os.Getenv("SOCKET_URL"),
		LogFile:    getEnv("LOG_FILE", "messenger.log"),
		UploadMode: strings.ToLower(getEnv("UPLOAD_MODE", UploadViaAPI)),
		S3: S3Config{
			Endpoint:       getEnv("S3_ENDPOINT", "http://localhost:9000"),
			PublicEndpoint: getEnv("S3_PUBLIC_ENDPOINT", ""),
			AccessKey:      getEnv("S3_ACCESS_KEY", "minioadmin"),
			SecretKey:      getEnv("S3_SECRET_KEY", "minioadmin"),
			Bucket:         getEnv("S3_BUCKET", "messenger-images"),
		},
	}
	if _, err := url.ParseRequestURI(cfg.APIURL); err != nil {
		return Config{}, fmt.Errorf("invalid API_URL: %w", err)
	}
	if cfg.SocketURL == "" {
		derived, err := SocketURLFor(cfg.APIURL)
		if err != nil {
			return Config{}, err
		}
		cfg.SocketURL = derived
	}

	var err error
	if cfg.APITimeout, err = parseDurationEnv("API_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.HandshakeTimeout, err = parseDurationEnv("SOCKET_HANDSHAKE_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.TypingIdle, err = parseDurationEnv("TYPING_IDLE", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.S3.UseSSL, err = parseBoolEnv("S3_USE_SSL", false); err != nil {
		return Config{}, err
	}
	if cfg.S3.PublicEndpoint == "" {
		cfg.S3.PublicEndpoint = cfg.S3.Endpoint
	}

	switch cfg.UploadMode {
	case UploadViaAPI, UploadViaS3:
	default:
		return Config{}, fmt.Errorf("unsupported UPLOAD_MODE: %s", cfg.UploadMode)
	}

	cfg.CredentialPath = os.Getenv("CREDENTIAL_PATH")
	if cfg.CredentialPath == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return Config{}, fmt.Errorf("resolve config dir: %w", err)
		}
		cfg.CredentialPath = filepath.Join(dir, "messenger", "credential.json")
	}
	return cfg, nil
}

// LoadStub parses stub backend configuration.
func LoadStub() (StubConfig, error) {
	cfg := StubConfig{
		Env:       getEnv("APP_ENV", "dev"),
		HTTPAddr:  getEnv("STUB_HTTP_ADDR", ":5000"),
		JWTSecret: getEnv("STUB_JWT_SECRET", "dev-secret"),
	}
	ttl, err := parseDurationEnv("STUB_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return StubConfig{}, err
	}
	if ttl <= 0 {
		return StubConfig{}, fmt.Errorf("STUB_TOKEN_TTL must be positive")
	}
	cfg.TokenTTL = ttl
	return cfg, nil
}

// SocketURLFor derives the realtime endpoint from the REST base URL.
func SocketURLFor(apiURL string) (string, error) {
	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid API_URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported API_URL scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseBoolEnv(key string, def bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "t", "true", "yes", "y", "on":
		return true, nil
	case "0", "f", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid %s boolean: %q", key, raw)
	}
}
