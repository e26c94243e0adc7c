// Package facade exposes per-player views over the coordinator's snapshot:
// a media-player control surface and derived sensors. Facades hold only
// their player ID and read through the coordinator on every access; commands
// delegate to the API client and then request a refresh instead of mutating
// any local state, so correctness rests on the next poll reflecting the
// change (eventual consistency by design).
package facade

import (
	"fmt"

	"signagebridge/internal/coordinator"
	"signagebridge/internal/pisignage"

	"go.uber.org/zap"
)

// PlayerState is the derived power/playback state of one player.
type PlayerState string

const (
	StateOff     PlayerState = "off"
	StateStandby PlayerState = "standby"
	StateIdle    PlayerState = "idle"
	StatePlaying PlayerState = "playing"
)

// DeriveState computes the player state from connectivity, effective CEC
// support, CEC-reported TV power and playlist activity. ignoreCEC is the
// per-player user override that disables CEC-based power detection.
func DeriveState(p *pisignage.Player, ignoreCEC bool) PlayerState {
	if p == nil || !p.IsConnected {
		return StateOff
	}

	cecEffective := p.IsCecSupported && !ignoreCEC
	if cecEffective && !p.CecTvStatus {
		return StateStandby
	}
	if p.PlaylistOn {
		return StatePlaying
	}
	return StateIdle
}

// MediaPlayer is the control surface for one signage player.
type MediaPlayer struct {
	playerID  string
	name      string
	ignoreCEC bool
	coord     *coordinator.Coordinator
	api       pisignage.API
	logger    *zap.Logger
}

// NewMediaPlayer creates a media-player facade for the given player.
func NewMediaPlayer(playerID, name string, ignoreCEC bool, coord *coordinator.Coordinator, api pisignage.API, logger *zap.Logger) *MediaPlayer {
	return &MediaPlayer{
		playerID:  playerID,
		name:      name,
		ignoreCEC: ignoreCEC,
		coord:     coord,
		api:       api,
		logger:    logger.Named("mediaplayer"),
	}
}

// ID returns the player identifier this facade is bound to.
func (m *MediaPlayer) ID() string {
	return m.playerID
}

// Name returns the player's display name.
func (m *MediaPlayer) Name() string {
	return m.name
}

func (m *MediaPlayer) player() *pisignage.Player {
	snap := m.coord.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.Player(m.playerID)
}

// Available reports whether the facade can be trusted: the last cycle
// succeeded and the player is still present in the snapshot.
func (m *MediaPlayer) Available() bool {
	return m.coord.LastUpdateSuccess() && m.player() != nil
}

// State derives the current power/playback state from the latest snapshot.
func (m *MediaPlayer) State() PlayerState {
	return DeriveState(m.player(), m.ignoreCEC)
}

// Source returns the playlist currently assigned to the player.
func (m *MediaPlayer) Source() string {
	p := m.player()
	if p == nil {
		return ""
	}
	return p.CurrentPlaylist
}

// SourceList returns the names of all playlists in the latest snapshot.
func (m *MediaPlayer) SourceList() []string {
	snap := m.coord.Snapshot()
	if snap == nil {
		return nil
	}
	return snap.PlaylistNames()
}

// command runs one remote command and then unconditionally requests a
// refresh, so the next snapshot reflects whatever the server accepted.
func (m *MediaPlayer) command(op string, call func() error) error {
	err := call()
	if err != nil {
		m.logger.Error("Command failed",
			zap.String("player_id", m.playerID),
			zap.String("command", op),
			zap.Error(err))
	}

	if rerr := m.coord.Refresh(); rerr != nil {
		m.logger.Warn("Refresh after command failed",
			zap.String("player_id", m.playerID),
			zap.String("command", op),
			zap.Error(rerr))
	}
	return err
}

// TurnOn switches the TV on via CEC.
func (m *MediaPlayer) TurnOn() error {
	return m.command("turn_on", func() error {
		return m.api.SetTVPower(m.playerID, true)
	})
}

// TurnOff switches the TV off via CEC.
func (m *MediaPlayer) TurnOff() error {
	return m.command("turn_off", func() error {
		return m.api.SetTVPower(m.playerID, false)
	})
}

// Play resumes playback.
func (m *MediaPlayer) Play() error {
	return m.command("play", func() error {
		return m.api.SendTransportCommand(m.playerID, pisignage.ActionPlay)
	})
}

// Pause pauses playback.
func (m *MediaPlayer) Pause() error {
	return m.command("pause", func() error {
		return m.api.SendTransportCommand(m.playerID, pisignage.ActionPause)
	})
}

// Next skips to the next item in the running playlist.
func (m *MediaPlayer) Next() error {
	return m.command("next", func() error {
		return m.api.SendTransportCommand(m.playerID, pisignage.ActionNext)
	})
}

// Previous skips back to the previous item.
func (m *MediaPlayer) Previous() error {
	return m.command("previous", func() error {
		return m.api.SendTransportCommand(m.playerID, pisignage.ActionPrevious)
	})
}

// PlayMedia starts the named playlist on this player directly.
func (m *MediaPlayer) PlayMedia(playlist string) error {
	return m.command("play_media", func() error {
		return m.api.PlayPlaylist(m.playerID, playlist)
	})
}

// SelectSource makes the named playlist the default for the player's group
// and redeploys it. Fails when the player has no group assigned.
func (m *MediaPlayer) SelectSource(playlist string) error {
	p := m.player()
	if p == nil {
		return fmt.Errorf("player %s not present in snapshot", m.playerID)
	}
	if p.Group == nil || p.Group.ID == "" {
		return fmt.Errorf("no group assigned to player %s", m.playerID)
	}
	groupID := p.Group.ID

	return m.command("select_source", func() error {
		return m.api.UpdateGroupPlaylist(groupID, playlist)
	})
}
