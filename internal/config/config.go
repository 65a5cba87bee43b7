// Package config loads stmtingest settings from the environment and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvDBPath              = "STMT_DB_PATH"
	EnvStatePath           = "STMT_STATE_PATH"
	EnvLogLevel            = "STMT_LOG_LEVEL"
	EnvConfidenceThreshold = "STMT_CONFIDENCE_THRESHOLD"
	EnvFrequencyURL        = "STMT_FREQUENCY_URL"
	EnvFrequencyToken      = "STMT_FREQUENCY_TOKEN"
	EnvFrequencyTimeout    = "STMT_FREQUENCY_TIMEOUT"
	EnvFrequencyRPS        = "STMT_FREQUENCY_RPS"
	EnvFirestoreProject    = "STMT_FIRESTORE_PROJECT"
	EnvBatchSize           = "STMT_BATCH_SIZE"
)

// Config holds the runtime settings.
type Config struct {
	DBPath    string
	StatePath string
	LogLevel  string

	// ConfidenceThreshold is the minimum confidence for automatic category assignment.
	ConfidenceThreshold float64

	FrequencyURL     string
	FrequencyToken   string
	FrequencyTimeout time.Duration
	FrequencyRPS     float64

	FirestoreProject string

	// BatchSize is the number of concurrent suggestion lookups.
	BatchSize int
}

// Default returns the built-in settings.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DBPath:              filepath.Join(home, ".local", "share", "stmtingest", "stmtingest.db"),
		StatePath:           filepath.Join(home, ".local", "share", "stmtingest", "state.json"),
		LogLevel:            "info",
		ConfidenceThreshold: 0.7,
		FrequencyTimeout:    2 * time.Second,
		FrequencyRPS:        5,
		BatchSize:           5,
	}
}

// Load reads the given .env files (default ".env"), then overlays the
// environment onto Default. Missing .env files are not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	cfg := Default()
	var errs []error

	cfg.DBPath = getEnv(EnvDBPath, cfg.DBPath)
	cfg.StatePath = getEnv(EnvStatePath, cfg.StatePath)
	cfg.LogLevel = strings.ToLower(getEnv(EnvLogLevel, cfg.LogLevel))
	cfg.FrequencyURL = getEnv(EnvFrequencyURL, "")
	cfg.FrequencyToken = getEnv(EnvFrequencyToken, "")
	cfg.FirestoreProject = getEnv(EnvFirestoreProject, "")

	var err error
	if cfg.ConfidenceThreshold, err = getEnvAsFloat(EnvConfidenceThreshold, cfg.ConfidenceThreshold); err != nil {
		errs = append(errs, err)
	}
	if cfg.FrequencyTimeout, err = getEnvAsDuration(EnvFrequencyTimeout, cfg.FrequencyTimeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.FrequencyRPS, err = getEnvAsFloat(EnvFrequencyRPS, cfg.FrequencyRPS); err != nil {
		errs = append(errs, err)
	}
	if cfg.BatchSize, err = getEnvAsInt(EnvBatchSize, cfg.BatchSize); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

// Validate checks that the settings are usable.
func (c *Config) Validate() error {
	var errs []error
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", EnvConfidenceThreshold, c.ConfidenceThreshold))
	}
	if c.FrequencyTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %s", EnvFrequencyTimeout, c.FrequencyTimeout))
	}
	if c.FrequencyRPS <= 0 {
		errs = append(errs, fmt.Errorf("%s must be positive, got %v", EnvFrequencyRPS, c.FrequencyRPS))
	}
	if c.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("%s must be at least 1, got %d", EnvBatchSize, c.BatchSize))
	}
	if c.FrequencyURL != "" {
		u, err := url.Parse(c.FrequencyURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an http(s) URL, got %q", EnvFrequencyURL, c.FrequencyURL))
		}
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error", "fatal", "panic", "disabled":
	default:
		errs = append(errs, fmt.Errorf("%s %q is not a log level", EnvLogLevel, c.LogLevel))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) (float64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid number %q", key, s)
	}
	return v, nil
}

func getEnvAsInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid integer %q", key, s)
	}
	return v, nil
}

func getEnvAsDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fallback, fmt.Errorf("%s: invalid duration %q", key, s)
	}
	return v, nil
}
