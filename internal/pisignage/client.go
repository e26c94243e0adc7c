package pisignage

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"go.uber.org/zap"
)

// API is the surface of the PiSignage client consumed by the coordinator and
// the facade entities.
type API interface {
	ListPlayers() ([]Player, error)
	GetPlayer(id string) (*Player, error)
	ListPlaylists() ([]Playlist, error)
	SetTVPower(id string, on bool) error
	SendTransportCommand(id, action string) error
	PlayPlaylist(id, playlist string) error
	UpdateGroupPlaylist(groupID, playlist string) error
}

// Client provides typed operations against the PiSignage REST API. Every
// operation returns a normalized value, never a raw envelope.
type Client struct {
	session *Session
	logger  *zap.Logger
}

// NewClient creates an API client on top of an authenticated session.
func NewClient(session *Session, logger *zap.Logger) *Client {
	return &Client{
		session: session,
		logger:  logger.Named("pisignage"),
	}
}

// Authenticate performs the initial authentication handshake. See
// Session.Authenticate for the OTP control flow.
func (c *Client) Authenticate() error {
	return c.session.Authenticate()
}

// AuthenticateOTP completes authentication with a one-time passcode.
func (c *Client) AuthenticateOTP(passcode string) error {
	return c.session.AuthenticateOTP(passcode)
}

// ListPlayers fetches all players, tolerating every known response envelope.
func (c *Client) ListPlayers() ([]Player, error) {
	raw, err := c.session.request(http.MethodGet, "/players", nil)
	if err != nil {
		return nil, err
	}

	players, err := normalizePlayers(raw, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Retrieved players", zap.Int("count", len(players)))
	return players, nil
}

// GetPlayer fetches a single player's details.
func (c *Client) GetPlayer(id string) (*Player, error) {
	raw, err := c.session.request(http.MethodGet, "/players/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return normalizePlayer(raw)
}

// ListPlaylists fetches all playlists.
func (c *Client) ListPlaylists() ([]Playlist, error) {
	raw, err := c.session.request(http.MethodGet, "/playlists", nil)
	if err != nil {
		return nil, err
	}

	playlists, err := normalizePlaylists(raw, c.logger)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Retrieved playlists", zap.Int("count", len(playlists)))
	return playlists, nil
}

// SetTVPower switches the player's TV via CEC. The wire field is inverted:
// the server treats status=true as "put the TV into standby".
func (c *Client) SetTVPower(id string, on bool) error {
	c.logger.Info("Setting TV power",
		zap.String("player_id", id),
		zap.Bool("on", on))

	raw, err := c.session.request(http.MethodPost, "/pitv/"+url.PathEscape(id),
		map[string]interface{}{"status": !on})
	if err != nil {
		return err
	}

	if err := parseAck(raw, "set TV power"); err != nil {
		c.logger.Error("TV power command rejected",
			zap.String("player_id", id),
			zap.Error(err))
		return err
	}
	return nil
}

// SendTransportCommand sends a playback transport action: play, pause,
// forward or backward.
func (c *Client) SendTransportCommand(id, action string) error {
	c.logger.Info("Sending transport command",
		zap.String("player_id", id),
		zap.String("action", action))

	raw, err := c.session.request(http.MethodPost,
		"/playlistmedia/"+url.PathEscape(id)+"/"+url.PathEscape(action), nil)
	if err != nil {
		return err
	}

	if err := parseAck(raw, "transport command"); err != nil {
		c.logger.Error("Transport command rejected",
			zap.String("player_id", id),
			zap.String("action", action),
			zap.Error(err))
		return err
	}
	return nil
}

// PlayPlaylist starts the named playlist on a player.
func (c *Client) PlayPlaylist(id, playlist string) error {
	c.logger.Info("Starting playlist",
		zap.String("player_id", id),
		zap.String("playlist", playlist))

	raw, err := c.session.request(http.MethodPost,
		"/setplaylist/"+url.PathEscape(id)+"/"+url.PathEscape(playlist), nil)
	if err != nil {
		return err
	}

	if err := parseAck(raw, "play playlist"); err != nil {
		c.logger.Error("Play playlist rejected",
			zap.String("player_id", id),
			zap.String("playlist", playlist),
			zap.Error(err))
		return err
	}
	return nil
}

// GetGroup fetches a group's deployed configuration.
func (c *Client) GetGroup(id string) (*Group, error) {
	raw, err := c.session.request(http.MethodGet, "/groups/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return normalizeGroup(raw)
}

// UpdateGroupPlaylist makes the named playlist the group's default (first)
// playlist and redeploys the group with the full asset set every referenced
// playlist needs.
//
// This is a read-modify-write sequence with no concurrency control beyond the
// server's own consistency: two simultaneous updates to the same group may
// lose one writer's change.
func (c *Client) UpdateGroupPlaylist(groupID, playlist string) error {
	// The power-off placeholder must never become a group's persisted
	// default, or the playlist to resume on power-on is lost.
	if playlist == TVOffPlaylist {
		c.logger.Warn("Refusing to set power-off placeholder as group playlist",
			zap.String("group_id", groupID))
		return fmt.Errorf("cannot set %s playlist for groups", TVOffPlaylist)
	}

	group, err := c.GetGroup(groupID)
	if err != nil {
		return err
	}

	allPlaylists, err := c.ListPlaylists()
	if err != nil {
		return err
	}

	var target *Playlist
	for i := range allPlaylists {
		if allPlaylists[i].Name == playlist {
			target = &allPlaylists[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("playlist %q not found", playlist)
	}

	entry := GroupPlaylist{Name: target.Name, Settings: target.Settings}
	if len(group.Playlists) > 0 {
		group.Playlists[0] = entry
	} else {
		group.Playlists = []GroupPlaylist{entry}
	}

	assets := collectGroupAssets(group.Playlists, allPlaylists)

	raw, err := c.session.request(http.MethodPost, "/groups/"+url.PathEscape(groupID),
		map[string]interface{}{
			"playlists": group.Playlists,
			"assets":    assets,
			"deploy":    true,
		})
	if err != nil {
		return err
	}

	if err := parseAck(raw, "update group playlist"); err != nil {
		c.logger.Error("Group update rejected",
			zap.String("group_id", groupID),
			zap.String("playlist", playlist),
			zap.Error(err))
		return err
	}

	c.logger.Info("Updated group playlist",
		zap.String("group_id", groupID),
		zap.String("playlist", playlist),
		zap.Int("assets", len(assets)))
	return nil
}

// collectGroupAssets computes the full set of asset names needed to deploy
// every playlist the group references: the asset filenames, a
// __<playlist>.json manifest per playlist, and the template if one is set.
func collectGroupAssets(groupPlaylists []GroupPlaylist, all []Playlist) []string {
	referenced := make(map[string]bool, len(groupPlaylists))
	for _, gp := range groupPlaylists {
		referenced[gp.Name] = true
	}

	names := make(map[string]bool)
	for _, pl := range all {
		if !referenced[pl.Name] {
			continue
		}
		for _, asset := range pl.Assets {
			if asset.Filename != "" {
				names[asset.Filename] = true
			}
		}
		names["__"+pl.Name+".json"] = true
		if pl.TemplateName != "" {
			names[pl.TemplateName] = true
		}
	}

	assets := make([]string, 0, len(names))
	for name := range names {
		assets = append(assets, name)
	}
	sort.Strings(assets)
	return assets
}
