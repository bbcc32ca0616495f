package config

import "testing"

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"SPOOLMAN_URL", "CURRENCY", "HOURLY_RATE", "PORT", "UPLOAD_DIR",
		"COLOR_CACHE_PATH", "PROFILES_DIR", "BUNDLED_PROFILES_DIR",
		"SLICER_BIN", "SLICER_TIMEOUT_S",
	} {
		t.Setenv(key, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := Load()
	if cfg.SpoolmanURL != defaultSpoolmanURL {
		t.Fatalf("SpoolmanURL = %q", cfg.SpoolmanURL)
	}
	if cfg.Currency != defaultCurrency {
		t.Fatalf("Currency = %q", cfg.Currency)
	}
	if cfg.HourlyRate != defaultHourlyRate {
		t.Fatalf("HourlyRate = %v", cfg.HourlyRate)
	}
	if cfg.Port != defaultPort {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.SlicerTimeoutS != defaultSlicerTimeoutS {
		t.Fatalf("SlicerTimeoutS = %d", cfg.SlicerTimeoutS)
	}
	if cfg.BundledDir != defaultBundledDir {
		t.Fatalf("BundledDir = %q", cfg.BundledDir)
	}
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("SPOOLMAN_URL", "http://spoolman.local:7912/")
	t.Setenv("CURRENCY", "USD")
	t.Setenv("HOURLY_RATE", "2.5")
	t.Setenv("SLICER_TIMEOUT_S", "120")

	cfg := Load()
	if cfg.SpoolmanURL != "http://spoolman.local:7912" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.SpoolmanURL)
	}
	if cfg.Currency != "USD" {
		t.Fatalf("Currency = %q", cfg.Currency)
	}
	if cfg.HourlyRate != 2.5 {
		t.Fatalf("HourlyRate = %v", cfg.HourlyRate)
	}
	if cfg.SlicerTimeoutS != 120 {
		t.Fatalf("SlicerTimeoutS = %d", cfg.SlicerTimeoutS)
	}
}

func TestLoad_BadNumbersFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("HOURLY_RATE", "not-a-number")
	t.Setenv("SLICER_TIMEOUT_S", "-5")

	cfg := Load()
	if cfg.HourlyRate != defaultHourlyRate {
		t.Fatalf("HourlyRate = %v", cfg.HourlyRate)
	}
	if cfg.SlicerTimeoutS != defaultSlicerTimeoutS {
		t.Fatalf("SlicerTimeoutS = %d", cfg.SlicerTimeoutS)
	}
}
