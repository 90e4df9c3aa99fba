package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MockConfig configures the local mock generation endpoint.
type MockConfig struct {
	Port     int
	Interval time.Duration
	// VideoURL is the result URL announced at the end of each stream. Empty
	// means the mock's own /files/ route.
	VideoURL string
}

// LoadMock reads the mock endpoint settings from an optional .env file and
// the environment.
func LoadMock(envFile string) (*MockConfig, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := &MockConfig{
		Port:     envInt("MOCK_PORT", 8082),
		Interval: envDuration("MOCK_INTERVAL", 800*time.Millisecond),
		VideoURL: strings.TrimSpace(envString("MOCK_VIDEO_URL", "")),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MOCK_PORT must be between 1 and 65535, got %d", cfg.Port)
	}
	if cfg.Interval < 0 {
		return nil, fmt.Errorf("MOCK_INTERVAL must not be negative")
	}
	return cfg, nil
}
