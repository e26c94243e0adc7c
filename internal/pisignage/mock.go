package pisignage

import (
	"fmt"
	"sync"
	"time"
)

// MockAPI implements the API interface for testing.
type MockAPI struct {
	mu        sync.Mutex
	players   []Player
	playlists []Playlist
	err       error

	listPlayersCalls   int
	listPlaylistsCalls int
	commands           []CommandRecord

	// When set, list calls block on this channel before returning, letting
	// tests hold a fetch in flight.
	fetchGate chan struct{}
}

// CommandRecord captures one command call for assertions.
type CommandRecord struct {
	Op       string
	PlayerID string
	Arg      string
	Time     time.Time
}

// NewMockAPI creates an empty mock API.
func NewMockAPI() *MockAPI {
	return &MockAPI{}
}

// SetPlayers replaces the mock player list.
func (m *MockAPI) SetPlayers(players []Player) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.players = players
}

// SetPlaylists replaces the mock playlist list.
func (m *MockAPI) SetPlaylists(playlists []Playlist) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.playlists = playlists
}

// SetError makes all subsequent calls fail with err until cleared.
func (m *MockAPI) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// GateFetches makes list calls block until ReleaseFetches is called.
func (m *MockAPI) GateFetches() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchGate = make(chan struct{})
}

// ReleaseFetches unblocks gated list calls.
func (m *MockAPI) ReleaseFetches() {
	m.mu.Lock()
	gate := m.fetchGate
	m.fetchGate = nil
	m.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

// ListPlayersCalls returns how many times ListPlayers was invoked.
func (m *MockAPI) ListPlayersCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPlayersCalls
}

// ListPlaylistsCalls returns how many times ListPlaylists was invoked.
func (m *MockAPI) ListPlaylistsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listPlaylistsCalls
}

// Commands returns a copy of the recorded command calls.
func (m *MockAPI) Commands() []CommandRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CommandRecord(nil), m.commands...)
}

// ClearCommands resets the recorded command calls.
func (m *MockAPI) ClearCommands() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = nil
}

func (m *MockAPI) waitGate() {
	m.mu.Lock()
	gate := m.fetchGate
	m.mu.Unlock()
	if gate != nil {
		<-gate
	}
}

// ListPlayers returns the mock player list.
func (m *MockAPI) ListPlayers() ([]Player, error) {
	m.mu.Lock()
	m.listPlayersCalls++
	err := m.err
	players := append([]Player(nil), m.players...)
	m.mu.Unlock()

	m.waitGate()

	if err != nil {
		return nil, err
	}
	return players, nil
}

// GetPlayer returns the mock player with the given ID.
func (m *MockAPI) GetPlayer(id string) (*Player, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	for i := range m.players {
		if m.players[i].ID == id {
			p := m.players[i]
			return &p, nil
		}
	}
	return nil, fmt.Errorf("player %s not found", id)
}

// ListPlaylists returns the mock playlist list.
func (m *MockAPI) ListPlaylists() ([]Playlist, error) {
	m.mu.Lock()
	m.listPlaylistsCalls++
	err := m.err
	playlists := append([]Playlist(nil), m.playlists...)
	m.mu.Unlock()

	m.waitGate()

	if err != nil {
		return nil, err
	}
	return playlists, nil
}

func (m *MockAPI) record(op, playerID, arg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return m.err
	}
	m.commands = append(m.commands, CommandRecord{
		Op:       op,
		PlayerID: playerID,
		Arg:      arg,
		Time:     time.Now(),
	})
	return nil
}

// SetTVPower records a TV power command.
func (m *MockAPI) SetTVPower(id string, on bool) error {
	return m.record("tv_power", id, fmt.Sprintf("%v", on))
}

// SendTransportCommand records a transport command.
func (m *MockAPI) SendTransportCommand(id, action string) error {
	return m.record("transport", id, action)
}

// PlayPlaylist records a play-playlist command.
func (m *MockAPI) PlayPlaylist(id, playlist string) error {
	return m.record("play_playlist", id, playlist)
}

// UpdateGroupPlaylist records a group update, honoring the power-off guard.
func (m *MockAPI) UpdateGroupPlaylist(groupID, playlist string) error {
	if playlist == TVOffPlaylist {
		return fmt.Errorf("cannot set %s playlist for groups", TVOffPlaylist)
	}
	return m.record("update_group", groupID, playlist)
}
