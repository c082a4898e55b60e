// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables, optionally seeded from
// a .env file. Engine defaults (artifact root, canonical float precision,
// retention thresholds) live here so every subsystem reads one resolved
// Config instead of the environment directly.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Default values applied when the corresponding environment variable is unset.
const (
	DefaultArtifactRoot     = "./artifacts"
	DefaultPort             = 8001
	DefaultFloatPrecision   = 12
	DefaultRetentionKeep    = 50
	DefaultRetentionTopK    = 5
	DefaultAuditRotateBytes = 1_000_000
	MaxAuditRotateBytes     = 100_000_000
)

// Config holds application configuration.
type Config struct {
	ArtifactRoot   string // Directory for run artifacts (ALPHAFORGEB_ARTIFACT_ROOT)
	DataDir        string // Base directory for datasets and caches (APP_DATA_DIR)
	LogLevel       string // Log level (debug, info, warn, error)
	Port           int    // HTTP server port
	FloatPrecision int    // Canonical float significant digits (APP_CANONICAL_FLOAT_PRECISION)

	// Retention defaults; mutable at runtime through the settings operations.
	RetentionKeepLast     int
	RetentionTopK         int
	RetentionMaxFullBytes int64 // 0 means unbounded

	// Cold storage offload (opt-in).
	ColdStorageEnabled  bool
	ColdStorageProvider string // local | s3 (no other provider is wired)
	ColdStorageBucket   string
	ColdStoragePrefix   string

	// Audit log rotation threshold in bytes (clamped to MaxAuditRotateBytes).
	AuditRotateBytes int64

	// Validation caution gating: runs whose named p-values exceed the
	// threshold are flagged caution=true in their summary.
	CautionPValue  float64  // 0 disables
	CautionMetrics []string // p-value names, e.g. permutation_p
}

// Load reads configuration from the environment, seeding from .env when
// present. Missing values fall back to engine defaults.
func Load() (*Config, error) {
	// Best-effort .env load; absence is not an error.
	_ = godotenv.Load()

	cfg := &Config{
		ArtifactRoot:        getEnv("ALPHAFORGEB_ARTIFACT_ROOT", DefaultArtifactRoot),
		DataDir:             getEnv("APP_DATA_DIR", "./data"),
		LogLevel:            getEnv("APP_LOG_LEVEL", "info"),
		Port:                getEnvInt("APP_PORT", DefaultPort),
		FloatPrecision:      getEnvInt("APP_CANONICAL_FLOAT_PRECISION", DefaultFloatPrecision),
		RetentionKeepLast:   getEnvInt("APP_RETENTION_KEEP_LAST", DefaultRetentionKeep),
		RetentionTopK:       getEnvInt("APP_RETENTION_TOP_K", DefaultRetentionTopK),
		ColdStorageEnabled:  os.Getenv("AF_COLD_STORAGE_ENABLED") == "1",
		ColdStorageProvider: getEnv("AF_COLD_STORAGE_PROVIDER", "local"),
		ColdStorageBucket:   os.Getenv("AF_COLD_STORAGE_BUCKET"),
		ColdStoragePrefix:   os.Getenv("AF_COLD_STORAGE_PREFIX"),
		AuditRotateBytes:    rotationThreshold(),
	}

	if v := os.Getenv("APP_RETENTION_MAX_FULL_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid APP_RETENTION_MAX_FULL_BYTES: %q", v)
		}
		cfg.RetentionMaxFullBytes = n
	}

	if v := os.Getenv("AF_VALIDATION_CAUTION_PVALUE"); v != "" {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p < 0 || p > 1 {
			return nil, fmt.Errorf("invalid AF_VALIDATION_CAUTION_PVALUE: %q", v)
		}
		cfg.CautionPValue = p
	}
	if v := os.Getenv("AF_VALIDATION_CAUTION_METRICS"); v != "" {
		for _, m := range strings.Split(v, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.CautionMetrics = append(cfg.CautionMetrics, m)
			}
		}
	}

	abs, err := filepath.Abs(cfg.ArtifactRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact root: %w", err)
	}
	cfg.ArtifactRoot = abs

	return cfg, nil
}

// rotationThreshold resolves AF_AUDIT_ROTATE_BYTES with the default for
// unset or non-positive values and the documented upper clamp.
func rotationThreshold() int64 {
	v := os.Getenv("AF_AUDIT_ROTATE_BYTES")
	if v == "" {
		return DefaultAuditRotateBytes
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return DefaultAuditRotateBytes
	}
	if n > MaxAuditRotateBytes {
		return MaxAuditRotateBytes
	}
	return n
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}
