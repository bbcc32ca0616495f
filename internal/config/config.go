package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	defaultSpoolmanURL    = "http://127.0.0.1:7912"
	defaultCurrency       = "EUR"
	defaultHourlyRate     = 1.0
	defaultPort           = "8080"
	defaultUploadDir      = "./uploads"
	defaultColorCachePath = "./color_names.json"
	defaultProfilesDir    = "./profiles"
	defaultBundledDir     = "./profiles/bundled"
	defaultSlicerTimeoutS = 600
)

// Config holds application configuration sourced from environment variables.
type Config struct {
	SpoolmanURL    string
	Currency       string
	HourlyRate     float64
	Port           string
	UploadDir      string
	ColorCachePath string
	ProfilesDir    string
	BundledDir     string
	SlicerBin      string
	SlicerTimeoutS int
}

// Load reads environment variables and returns a populated Config.
func Load() Config {
	// Best-effort: load local dev environment variables.
	// We don't fail if the file is missing; production should use real env injection.
	_ = godotenv.Load()

	cfg := Config{
		SpoolmanURL:    strings.TrimRight(os.Getenv("SPOOLMAN_URL"), "/"),
		Currency:       os.Getenv("CURRENCY"),
		HourlyRate:     floatEnv("HOURLY_RATE", defaultHourlyRate),
		Port:           os.Getenv("PORT"),
		UploadDir:      os.Getenv("UPLOAD_DIR"),
		ColorCachePath: os.Getenv("COLOR_CACHE_PATH"),
		ProfilesDir:    os.Getenv("PROFILES_DIR"),
		BundledDir:     os.Getenv("BUNDLED_PROFILES_DIR"),
		SlicerBin:      os.Getenv("SLICER_BIN"),
		SlicerTimeoutS: intEnv("SLICER_TIMEOUT_S", defaultSlicerTimeoutS),
	}

	if cfg.SpoolmanURL == "" {
		cfg.SpoolmanURL = defaultSpoolmanURL
		log.Print("warning: SPOOLMAN_URL is not set, using " + defaultSpoolmanURL)
	}
	if cfg.Currency == "" {
		cfg.Currency = defaultCurrency
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = defaultUploadDir
	}
	if cfg.ColorCachePath == "" {
		cfg.ColorCachePath = defaultColorCachePath
	}
	if cfg.ProfilesDir == "" {
		cfg.ProfilesDir = defaultProfilesDir
	}
	if cfg.BundledDir == "" {
		cfg.BundledDir = defaultBundledDir
	}

	return cfg
}

func floatEnv(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("warning: %s=%q is not numeric, using %g", key, raw, fallback)
		return fallback
	}
	return value
}

func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		log.Printf("warning: %s=%q is not a positive integer, using %d", key, raw, fallback)
		return fallback
	}
	return value
}
