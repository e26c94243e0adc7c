package facade

import (
	"strconv"
	"strings"
	"time"

	"signagebridge/internal/coordinator"
	"signagebridge/internal/pisignage"

	"go.uber.org/zap"
)

// Status values reported by the status sensor.
const (
	StatusDisconnected = "disconnected"
	StatusPlaying      = "playing"
	StatusIdle         = "idle"
)

// StatusSensor reports a player's connectivity/playback status plus
// identifying attributes.
type StatusSensor struct {
	playerID string
	coord    *coordinator.Coordinator
	logger   *zap.Logger
}

// NewStatusSensor creates a status sensor for the given player.
func NewStatusSensor(playerID string, coord *coordinator.Coordinator, logger *zap.Logger) *StatusSensor {
	return &StatusSensor{
		playerID: playerID,
		coord:    coord,
		logger:   logger.Named("sensor"),
	}
}

func (s *StatusSensor) player() *pisignage.Player {
	snap := s.coord.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Player(s.playerID)
}

// Available reports whether the sensor's player is present and current.
func (s *StatusSensor) Available() bool {
	return s.coord.LastUpdateSuccess() && s.player() != nil
}

// State returns disconnected, playing or idle.
func (s *StatusSensor) State() string {
	p := s.player()
	if p == nil || !p.IsConnected {
		return StatusDisconnected
	}
	if p.PlaylistOn {
		return StatusPlaying
	}
	return StatusIdle
}

// Attributes returns firmware version, IP address and last-seen time.
func (s *StatusSensor) Attributes() map[string]interface{} {
	attrs := make(map[string]interface{})
	p := s.player()
	if p == nil {
		return attrs
	}

	if p.Version != "" {
		attrs["version"] = p.Version
	}
	if p.IP != "" {
		attrs["ip_address"] = p.IP
	}
	if p.LastReported != "" {
		if ts, err := time.Parse(time.RFC3339, p.LastReported); err == nil {
			attrs["last_seen"] = ts
		} else {
			attrs["last_seen"] = p.LastReported
		}
	}
	return attrs
}

// StorageSensor reports a player's storage usage.
type StorageSensor struct {
	playerID string
	coord    *coordinator.Coordinator
	logger   *zap.Logger
}

// NewStorageSensor creates a storage sensor for the given player.
func NewStorageSensor(playerID string, coord *coordinator.Coordinator, logger *zap.Logger) *StorageSensor {
	return &StorageSensor{
		playerID: playerID,
		coord:    coord,
		logger:   logger.Named("sensor"),
	}
}

func (s *StorageSensor) player() *pisignage.Player {
	snap := s.coord.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Player(s.playerID)
}

// Available reports whether the sensor's player is present and current.
func (s *StorageSensor) Available() bool {
	return s.coord.LastUpdateSuccess() && s.player() != nil
}

// UsedPercent parses the used-percentage figure the player reports, e.g.
// "72%". The second return is false when the player is absent or the value
// does not parse.
func (s *StorageSensor) UsedPercent() (float64, bool) {
	p := s.player()
	if p == nil {
		return 0, false
	}
	return parsePercent(p.DiskSpaceUsed)
}

// FreeMegabytes converts the free-space figure the player reports, e.g.
// "12G", into megabytes.
func (s *StorageSensor) FreeMegabytes() (float64, bool) {
	p := s.player()
	if p == nil {
		return 0, false
	}
	gb, ok := parseGigabytes(p.DiskSpaceAvailable)
	if !ok {
		return 0, false
	}
	return gb * 1024, true
}

func parsePercent(value string) (float64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(value), "%")
	if trimmed == "" {
		return 0, false
	}
	pct, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return pct, true
}

func parseGigabytes(value string) (float64, bool) {
	trimmed := strings.TrimSpace(value)
	trimmed = strings.TrimSuffix(trimmed, "G")
	if trimmed == "" {
		return 0, false
	}
	gb, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return gb, true
}
