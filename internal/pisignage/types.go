package pisignage

import "encoding/json"

// TVOffPlaylist is the reserved playlist name the server uses as a power-off
// placeholder. It must never be written back as a group's default playlist,
// otherwise the playlist to resume on power-on is lost.
const TVOffPlaylist = "TV_OFF"

// Transport actions accepted by the /playlistmedia endpoint.
const (
	ActionPlay     = "play"
	ActionPause    = "pause"
	ActionNext     = "forward"
	ActionPrevious = "backward"
)

// Player represents one managed signage device as reported by the server.
type Player struct {
	ID                 string    `json:"_id"`
	Name               string    `json:"name"`
	IsConnected        bool      `json:"isConnected"`
	IsCecSupported     bool      `json:"isCecSupported"`
	CecTvStatus        bool      `json:"cecTvStatus"`
	PlaylistOn         bool      `json:"playlistOn"`
	CurrentPlaylist    string    `json:"currentPlaylist"`
	DiskSpaceUsed      string    `json:"diskSpaceUsed"`
	DiskSpaceAvailable string    `json:"diskSpaceAvailable"`
	IP                 string    `json:"ip"`
	Version            string    `json:"version"`
	LastReported       string    `json:"lastReported"`
	Group              *GroupRef `json:"group,omitempty"`
	ConfigLocation     string    `json:"configLocation"`
}

// GroupRef is the group reference embedded in a player record.
type GroupRef struct {
	ID   string `json:"_id"`
	Name string `json:"name"`
}

// Asset is a single media file referenced by a playlist.
type Asset struct {
	Filename string `json:"filename"`
}

// Playlist represents a named sequence of assets. Settings is an opaque blob
// the server owns; it is passed through unmodified on writes.
type Playlist struct {
	Name         string          `json:"name"`
	Assets       []Asset         `json:"assets,omitempty"`
	TemplateName string          `json:"templateName,omitempty"`
	Settings     json.RawMessage `json:"settings,omitempty"`
}

// GroupPlaylist is one playlist slot in a group's deployed configuration.
// The first slot is the group's default/active playlist.
type GroupPlaylist struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// Group represents a collection of players sharing a deployed playlist set.
type Group struct {
	ID        string          `json:"_id"`
	Name      string          `json:"name"`
	Playlists []GroupPlaylist `json:"playlists"`
	Assets    []string        `json:"assets"`
}
