// Package coordinator owns the shared poll cycle against the PiSignage
// server. It fetches playlists and players on a fixed interval, coalesces
// concurrent refresh requests into a single in-flight fetch, and fans the
// resulting snapshot out to registered listeners. Facade entities read
// through the coordinator instead of fetching on their own.
package coordinator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"signagebridge/internal/pisignage"

	"go.uber.org/zap"
)

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 30 * time.Second

// Snapshot is one consistent view of the whole fleet. It is replaced
// wholesale on every successful cycle and must never be mutated by readers.
type Snapshot struct {
	Players   []pisignage.Player
	Playlists []pisignage.Playlist
	FetchedAt time.Time
}

// Player returns the snapshot entry for the given player ID, or nil.
func (s *Snapshot) Player(id string) *pisignage.Player {
	for i := range s.Players {
		if s.Players[i].ID == id {
			return &s.Players[i]
		}
	}
	return nil
}

// PlaylistNames returns the playlist names in snapshot order.
func (s *Snapshot) PlaylistNames() []string {
	names := make([]string, 0, len(s.Playlists))
	for _, pl := range s.Playlists {
		names = append(names, pl.Name)
	}
	return names
}

// Listener is notified synchronously after each successful refresh, in
// registration order.
type Listener func(snap *Snapshot)

// FailureListener is notified synchronously after each failed cycle, in
// registration order. The last-known-good snapshot stays in place while
// these fire.
type FailureListener func(err error)

// inflight carries the result of one fetch to every caller that attached to
// it. Fields are written before done is closed.
type inflight struct {
	done chan struct{}
	err  error
}

// Coordinator runs the poll loop and owns the current snapshot.
type Coordinator struct {
	api      pisignage.API
	logger   *zap.Logger
	interval time.Duration

	mu               sync.Mutex
	snapshot         *Snapshot
	lastOK           bool
	current          *inflight
	listeners        []Listener
	failureListeners []FailureListener

	stopChan chan struct{}
	stopOnce sync.Once
}

// New creates a coordinator polling at the given interval. A non-positive
// interval falls back to DefaultInterval.
func New(api pisignage.API, interval time.Duration, logger *zap.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		api:      api,
		logger:   logger.Named("coordinator"),
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// AddListener registers a listener for successful refreshes. Listeners are
// called synchronously in registration order.
func (c *Coordinator) AddListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// AddFailureListener registers a listener for failed cycles.
func (c *Coordinator) AddFailureListener(l FailureListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureListeners = append(c.failureListeners, l)
}

// Snapshot returns the last-known-good snapshot, or nil before the first
// successful refresh. Callers must treat the snapshot as read-only.
func (c *Coordinator) Snapshot() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// LastUpdateSuccess reports whether the most recent cycle succeeded. The
// snapshot keeps its last-known-good contents even while this is false.
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOK
}

// Start performs the mandatory first refresh, then launches the poll loop.
// A failed first refresh is fatal for setup: the error is returned and no
// loop is started, so the host can retry setup later.
func (c *Coordinator) Start() error {
	c.logger.Info("Performing initial refresh")
	if err := c.Refresh(); err != nil {
		return fmt.Errorf("initial refresh failed: %w", err)
	}

	go c.loop()
	c.logger.Info("Poll loop started", zap.Duration("interval", c.interval))
	return nil
}

// Stop terminates the poll loop.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
	})
	c.logger.Info("Poll loop stopped")
}

func (c *Coordinator) loop() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.Refresh(); err != nil {
				// Already classified and logged; the loop keeps going.
				continue
			}
		case <-c.stopChan:
			return
		}
	}
}

// Refresh runs one fetch cycle, or attaches to the cycle already in flight.
// Concurrent callers all observe the result of the same fetch: at most one
// fetch sequence runs at a time.
func (c *Coordinator) Refresh() error {
	c.mu.Lock()
	if fl := c.current; fl != nil {
		c.mu.Unlock()
		<-fl.done
		return fl.err
	}
	fl := &inflight{done: make(chan struct{})}
	c.current = fl
	c.mu.Unlock()

	snap, err := c.fetch()

	c.mu.Lock()
	if err == nil {
		c.snapshot = snap
		c.lastOK = true
	} else {
		c.lastOK = false
		c.logFetchFailure(err)
	}
	fl.err = err
	c.current = nil
	listeners := append([]Listener(nil), c.listeners...)
	failureListeners := append([]FailureListener(nil), c.failureListeners...)
	notify := c.snapshot
	c.mu.Unlock()

	close(fl.done)

	if err == nil {
		for _, l := range listeners {
			l(notify)
		}
	} else {
		for _, l := range failureListeners {
			l(err)
		}
	}
	return err
}

// fetch retrieves playlists then players and assembles a fresh snapshot. Any
// panic from below is converted into a failed cycle instead of crashing the
// poll loop.
func (c *Coordinator) fetch() (snap *Snapshot, err error) {
	defer func() {
		if r := recover(); r != nil {
			snap = nil
			err = fmt.Errorf("unexpected error during refresh: %v", r)
		}
	}()

	playlists, err := c.api.ListPlaylists()
	if err != nil {
		return nil, err
	}

	players, err := c.api.ListPlayers()
	if err != nil {
		return nil, err
	}

	return &Snapshot{
		Players:   players,
		Playlists: playlists,
		FetchedAt: time.Now(),
	}, nil
}

// logFetchFailure classifies the failure for operators. The previous
// snapshot stays in place regardless of the failure class.
func (c *Coordinator) logFetchFailure(err error) {
	var connErr *pisignage.ConnectivityError
	var authErr *pisignage.AuthenticationError
	var malformedErr *pisignage.MalformedResponseError

	switch {
	case errors.As(err, &connErr):
		c.logger.Warn("Refresh failed: cannot connect", zap.Error(err))
	case errors.As(err, &authErr):
		c.logger.Error("Refresh failed: authentication rejected", zap.Error(err))
	case errors.As(err, &malformedErr):
		c.logger.Error("Refresh failed: malformed response",
			zap.ByteString("body", malformedErr.Body),
			zap.Error(err))
	default:
		c.logger.Error("Refresh failed", zap.Error(err))
	}
}
