package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	AppName     = "merchant-portal"
	EnvFileName = "config.env"
)

// Config carries every tunable the portal core reads from the environment.
type Config struct {
	// DBPath is the SQLite file backing durable local storage.
	DBPath string

	// Endpoint URLs. The backend exposes login/refresh/profile on
	// different hosts, so each is a complete URL.
	LoginEmailEndpoint string
	LoginPhoneEndpoint string
	RefreshEndpoint    string
	ProfileEndpoint    string // may contain {user_id}
	APIBaseURL         string

	// Realtime push channel.
	SocketURL     string
	SocketPath    string
	SocketDevMode bool // DEV_NOAUTH backend: identify with ids, not a token

	// Refresh coordinator tuning.
	RefreshInterval      time.Duration
	KeepSessionOnFailure bool
}

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// Load builds a Config from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		DBPath:             getEnv("MERCHANT_DB_PATH", "portal.db"),
		LoginEmailEndpoint: os.Getenv("LOGIN_USERNAME_MERCHANT_ENDPOINT"),
		LoginPhoneEndpoint: os.Getenv("LOGIN_MERCHANT_ENDPOINT"),
		RefreshEndpoint:    os.Getenv("REFRESH_TOKEN_ENDPOINT"),
		ProfileEndpoint:    os.Getenv("PROFILE_ENDPOINT"),
		APIBaseURL:         os.Getenv("MERCHANT_API_BASE_URL"),
		SocketURL:          os.Getenv("SOCKET_URL"),
		SocketPath:         getEnv("SOCKET_PATH", "/socket.io"),
		SocketDevMode:      boolEnv("SOCKET_DEV_NOAUTH"),
	}

	intervalSec, err := strconv.Atoi(getEnv("REFRESH_INTERVAL_SECONDS", "25"))
	if err != nil {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL_SECONDS: %w", err)
	}
	cfg.RefreshInterval = time.Duration(intervalSec) * time.Second
	cfg.KeepSessionOnFailure = boolEnv("KEEP_SESSION_ON_REFRESH_FAILURE")

	return cfg, nil
}

// CheckRequired returns the names of required variables that are unset.
func (c *Config) CheckRequired() []string {
	var missing []string
	if c.RefreshEndpoint == "" {
		missing = append(missing, "REFRESH_TOKEN_ENDPOINT")
	}
	if c.LoginEmailEndpoint == "" && c.LoginPhoneEndpoint == "" {
		missing = append(missing, "LOGIN_USERNAME_MERCHANT_ENDPOINT or LOGIN_MERCHANT_ENDPOINT")
	}
	return missing
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	return err == nil && v
}
