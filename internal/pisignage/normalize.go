package pisignage

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// The server answers the same endpoint with several envelope generations:
// a bare array, {objects: [...]}, {data: [...]}, or {data: {objects: [...]}}.
// All normalization funnels through this file so call sites only ever see the
// canonical shapes.

// envelope matches the wrapper object variants.
type envelope struct {
	Success     *bool           `json:"success"`
	Data        json.RawMessage `json:"data"`
	Objects     json.RawMessage `json:"objects"`
	StatMessage string          `json:"stat_message"`
}

// unwrapList extracts the entry array from any known list envelope.
func unwrapList(raw []byte) ([]json.RawMessage, error) {
	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err == nil {
		return entries, nil
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedResponseError{Body: raw, Err: err}
	}

	if len(env.Objects) > 0 {
		if err := json.Unmarshal(env.Objects, &entries); err != nil {
			return nil, &MalformedResponseError{Body: raw, Err: err}
		}
		return entries, nil
	}

	if len(env.Data) > 0 {
		arrayErr := json.Unmarshal(env.Data, &entries)
		if arrayErr == nil {
			return entries, nil
		}
		var inner envelope
		if err := json.Unmarshal(env.Data, &inner); err == nil && len(inner.Objects) > 0 {
			if err := json.Unmarshal(inner.Objects, &entries); err == nil {
				return entries, nil
			}
		}
		return nil, &MalformedResponseError{Body: raw, Err: arrayErr}
	}

	// An explicit empty success wrapper means an empty listing, not an error.
	if env.Success != nil && *env.Success {
		return nil, nil
	}

	return nil, &MalformedResponseError{Body: raw}
}

// normalizePlayers converts any known players envelope into a flat slice.
// Entries that are not objects or lack an identifier are dropped with a
// warning; they never fail the listing as a whole.
func normalizePlayers(raw []byte, logger *zap.Logger) ([]Player, error) {
	entries, err := unwrapList(raw)
	if err != nil {
		return nil, err
	}

	players := make([]Player, 0, len(entries))
	for i, entry := range entries {
		var p Player
		if err := json.Unmarshal(entry, &p); err != nil {
			logger.Warn("Dropping malformed player entry",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		if p.ID == "" {
			logger.Warn("Dropping player entry without identifier",
				zap.Int("index", i),
				zap.ByteString("entry", entry))
			continue
		}
		players = append(players, p)
	}

	return players, nil
}

// normalizePlayer converts a single-player response, wrapped or bare.
func normalizePlayer(raw []byte) (*Player, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedResponseError{Body: raw, Err: err}
	}

	target := raw
	if len(env.Data) > 0 {
		target = env.Data
	}

	var p Player
	if err := json.Unmarshal(target, &p); err != nil {
		return nil, &MalformedResponseError{Body: raw, Err: err}
	}
	if p.ID == "" {
		return nil, &MalformedResponseError{Body: raw}
	}

	return &p, nil
}

// normalizePlaylists converts any known playlists envelope into a flat slice.
func normalizePlaylists(raw []byte, logger *zap.Logger) ([]Playlist, error) {
	entries, err := unwrapList(raw)
	if err != nil {
		return nil, err
	}

	playlists := make([]Playlist, 0, len(entries))
	for i, entry := range entries {
		var pl Playlist
		if err := json.Unmarshal(entry, &pl); err != nil {
			logger.Warn("Dropping malformed playlist entry",
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		if pl.Name == "" {
			logger.Warn("Dropping playlist entry without name",
				zap.Int("index", i))
			continue
		}
		playlists = append(playlists, pl)
	}

	return playlists, nil
}

// normalizeGroup converts a group response, wrapped or bare.
func normalizeGroup(raw []byte) (*Group, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &MalformedResponseError{Body: raw, Err: err}
	}

	target := raw
	if len(env.Data) > 0 {
		target = env.Data
	}

	var g Group
	if err := json.Unmarshal(target, &g); err != nil {
		return nil, &MalformedResponseError{Body: raw, Err: err}
	}
	if g.ID == "" {
		return nil, &MalformedResponseError{Body: raw}
	}

	return &g, nil
}

// commandAck is the acknowledgement envelope returned by command endpoints.
type commandAck struct {
	Success     *bool  `json:"success"`
	StatMessage string `json:"stat_message"`
}

// parseAck surfaces the server-provided failure message, if any. Command
// failures are not reinterpreted beyond that.
func parseAck(raw []byte, op string) error {
	var ack commandAck
	if err := json.Unmarshal(raw, &ack); err != nil {
		return &MalformedResponseError{Body: raw, Err: err}
	}
	if ack.Success != nil && !*ack.Success {
		msg := ack.StatMessage
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Errorf("%s failed: %s", op, msg)
	}
	return nil
}
