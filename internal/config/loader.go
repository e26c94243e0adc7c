package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Settings represents the players_config.yaml structure: per-player
// overrides and poll tuning that don't belong in the environment.
type Settings struct {
	// PollIntervalSeconds overrides the 30s default poll interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// IgnoreCEC disables CEC-based power detection for specific players,
	// keyed by player ID. Useful for displays with broken CEC reporting.
	IgnoreCEC map[string]bool `yaml:"ignore_cec"`
}

// PollInterval returns the configured poll interval, or the 30s default.
func (s *Settings) PollInterval() time.Duration {
	if s == nil || s.PollIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// IgnoreCECFor reports whether CEC detection is disabled for a player.
func (s *Settings) IgnoreCECFor(playerID string) bool {
	if s == nil {
		return false
	}
	return s.IgnoreCEC[playerID]
}

// Loader manages configuration file loading.
type Loader struct {
	configDir string
	logger    *zap.Logger
	settings  *Settings
}

// NewLoader creates a new configuration loader.
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger,
	}
}

// Load reads players_config.yaml. A missing file is not an error: all
// settings have defaults.
func (l *Loader) Load() error {
	path := filepath.Join(l.configDir, "players_config.yaml")
	l.logger.Debug("Loading players config", zap.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("No players config file found, using defaults",
				zap.String("path", path))
			l.settings = &Settings{}
			return nil
		}
		return fmt.Errorf("failed to read players config: %w", err)
	}

	var settings Settings
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("failed to parse players config: %w", err)
	}

	l.settings = &settings
	l.logger.Info("Players config loaded successfully",
		zap.Int("ignore_cec_entries", len(settings.IgnoreCEC)))
	return nil
}

// Settings returns the loaded settings, or nil before Load.
func (l *Loader) Settings() *Settings {
	return l.settings
}
