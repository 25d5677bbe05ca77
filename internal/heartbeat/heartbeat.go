// Package heartbeat writes and checks the liveness file of a running server.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status represents the liveness state of the server.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// DefaultMaxAge is how old a heartbeat may be before Check reports it stale.
const DefaultMaxAge = 90 * time.Second

// Heartbeat is the data written to the heartbeat file.
type Heartbeat struct {
	PID            int       `json:"pid" yaml:"pid"`
	Addr           string    `json:"addr" yaml:"addr"`
	Version        string    `json:"version" yaml:"version"`
	StartedAt      time.Time `json:"started_at" yaml:"started_at"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
	Uptime         string    `json:"uptime" yaml:"uptime"`
	ActiveSessions int       `json:"active_sessions" yaml:"active_sessions"`
	TotalTurns     int       `json:"total_turns" yaml:"total_turns"`
}

// Gauges reports live counters included in each heartbeat.
type Gauges func() (activeSessions, totalTurns int)

// Writer periodically writes a heartbeat file to disk.
type Writer struct {
	path     string
	addr     string
	version  string
	interval time.Duration
	gauges   Gauges
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Writer.
type Option func(*Writer)

// WithInterval overrides the 30s write interval.
func WithInterval(d time.Duration) Option {
	return func(w *Writer) { w.interval = d }
}

// WithGauges adds session counters to each heartbeat.
func WithGauges(g Gauges) Option {
	return func(w *Writer) { w.gauges = g }
}

// NewWriter creates a heartbeat writer for the server listening on addr.
func NewWriter(path, addr, version string, opts ...Option) *Writer {
	w := &Writer{
		path:     path,
		addr:     addr,
		version:  version,
		interval: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins writing heartbeat files in a background goroutine.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return // already running
	}

	w.started = time.Now()
	w.done = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.write()

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops writing and removes the heartbeat file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}

	w.cancel()
	<-w.done
	w.cancel = nil

	os.Remove(w.path)
}

func (w *Writer) write() {
	hb := Heartbeat{
		PID:       os.Getpid(),
		Addr:      w.addr,
		Version:   w.version,
		StartedAt: w.started,
		Timestamp: time.Now(),
		Uptime:    time.Since(w.started).Truncate(time.Second).String(),
	}
	if w.gauges != nil {
		hb.ActiveSessions, hb.TotalTurns = w.gauges()
	}

	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return
	}

	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		slog.Warn("heartbeat dir", "path", w.path, "error", err)
		return
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		slog.Warn("heartbeat write", "path", w.path, "error", err)
		return
	}
	os.Rename(tmp, w.path)
}

// Check reads a heartbeat file and returns the liveness status.
// maxAge determines how old a heartbeat can be before it's considered stale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}

	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}

	return StatusAlive, &hb, nil
}
