// Package typing correlates messages forwarded to the agent with the replies
// that eventually come back.
//
// Forwarding a message starts a session keyed by its correlation ID
// (chatId:messageId) that keeps Telegram's typing indicator alive. The reply
// path writes <dir>/<correlationId>.done once the answer is delivered; the
// correlator notices the marker through an fsnotify watch, with a directory
// poll as backup, and ends the session. Sessions that never get a marker are
// swept after a timeout.
package typing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
	"github.com/nextlevelbuilder/tgbridge/internal/metrics"
)

const (
	DefaultKeepAlive  = 5 * time.Second
	DefaultTimeout    = 120 * time.Second
	DefaultSweepEvery = 30 * time.Second
	DefaultPollEvery  = 30 * time.Second

	markerSuffix = ".done"
)

// Indicator shows the typing state in a chat.
type Indicator interface {
	SendTyping(ctx context.Context, chatID, threadID string) error
}

type session struct {
	id        string
	chatID    string
	threadID  string
	startedAt time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// Correlator owns all typing sessions. Safe for concurrent use.
type Correlator struct {
	dir       string
	indicator Indicator

	keepAlive  time.Duration
	timeout    time.Duration
	sweepEvery time.Duration
	pollEvery  time.Duration
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	running  atomic.Int32 // keep-alive loops currently alive
}

// New creates a correlator watching markers in dir.
func New(dir string, indicator Indicator) *Correlator {
	return &Correlator{
		dir:        dir,
		indicator:  indicator,
		keepAlive:  DefaultKeepAlive,
		timeout:    DefaultTimeout,
		sweepEvery: DefaultSweepEvery,
		pollEvery:  DefaultPollEvery,
		now:        time.Now,
		sessions:   make(map[string]*session),
	}
}

// Dir returns the marker directory.
func (c *Correlator) Dir() string { return c.dir }

// Init creates the marker directory and deletes markers left by a previous
// run; no session can match them after a restart.
func (c *Correlator) Init() error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fmt.Errorf("create typing dir: %w", err)
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read typing dir: %w", err)
	}
	removed := 0
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), markerSuffix) {
			if err := os.Remove(filepath.Join(c.dir, e.Name())); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		slog.Info("typing: removed stale markers", "count", removed)
	}
	return nil
}

// Start begins a session for the message and returns its correlation ID.
// An existing session for the same ID is stopped first, so at most one
// keep-alive loop runs per ID.
func (c *Correlator) Start(ctx context.Context, chatID, threadID, messageID string) string {
	id := chatID + ":" + messageID
	sctx, cancel := context.WithCancel(ctx)
	s := &session{
		id:        id,
		chatID:    chatID,
		threadID:  threadID,
		startedAt: c.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	old := c.sessions[id]
	c.sessions[id] = s
	n := len(c.sessions)
	c.mu.Unlock()

	if old != nil {
		old.cancel()
		<-old.done
		slog.Debug("typing: superseded session", "id", id)
	}
	metrics.TypingSessions.Set(float64(n))

	c.running.Add(1)
	go c.keepAliveLoop(sctx, s)
	return id
}

func (c *Correlator) keepAliveLoop(ctx context.Context, s *session) {
	defer close(s.done)
	defer c.running.Add(-1)

	c.sendTyping(ctx, s)
	ticker := time.NewTicker(c.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sendTyping(ctx, s)
		}
	}
}

func (c *Correlator) sendTyping(ctx context.Context, s *session) {
	if err := c.indicator.SendTyping(ctx, s.chatID, s.threadID); err != nil && ctx.Err() == nil {
		slog.Debug("typing: indicator failed", "id", s.id, "error", err)
	}
}

// Complete ends the session for id. It reports whether a session was active;
// calling it again, from the watch and the poll alike, is a no-op.
func (c *Correlator) Complete(id string) bool {
	c.mu.Lock()
	s, ok := c.sessions[id]
	if ok {
		delete(c.sessions, id)
	}
	n := len(c.sessions)
	c.mu.Unlock()
	if !ok {
		return false
	}
	s.cancel()
	metrics.TypingSessions.Set(float64(n))
	return true
}

// Active returns the number of live sessions.
func (c *Correlator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// IsActive reports whether a session for id is live.
func (c *Correlator) IsActive(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.sessions[id]
	return ok
}

// Run watches the marker directory until ctx is done. If the watch cannot be
// set up the poll alone carries completion.
func (c *Correlator) Run(ctx context.Context) error {
	var events <-chan fsnotify.Event
	var watchErrs <-chan error

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("typing: fsnotify unavailable, polling only", "error", err)
	} else {
		defer watcher.Close()
		if err := watcher.Add(c.dir); err != nil {
			slog.Warn("typing: cannot watch marker dir, polling only", "dir", c.dir, "error", err)
		} else {
			events = watcher.Events
			watchErrs = watcher.Errors
		}
	}

	poll := time.NewTicker(c.pollEvery)
	defer poll.Stop()
	sweep := time.NewTicker(c.sweepEvery)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			c.stopAll()
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write) {
				c.consumeMarker(ev.Name)
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			slog.Warn("typing: watch error", "error", err)
		case <-poll.C:
			c.pollMarkers()
		case <-sweep.C:
			c.sweep()
		}
	}
}

// consumeMarker deletes a marker file and completes its session.
func (c *Correlator) consumeMarker(path string) {
	name := filepath.Base(path)
	if !strings.HasSuffix(name, markerSuffix) {
		return
	}
	id := strings.TrimSuffix(name, markerSuffix)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("typing: remove marker failed", "path", path, "error", err)
	}
	if c.Complete(id) {
		slog.Debug("typing: reply delivered", "id", id)
	}
}

func (c *Correlator) pollMarkers() {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		slog.Warn("typing: poll failed", "dir", c.dir, "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), markerSuffix) {
			c.consumeMarker(filepath.Join(c.dir, e.Name()))
		}
	}
}

// sweep stops sessions that waited longer than the timeout.
func (c *Correlator) sweep() {
	now := c.now()
	var expired []string
	c.mu.Lock()
	for id, s := range c.sessions {
		if now.Sub(s.startedAt) > c.timeout {
			expired = append(expired, id)
		}
	}
	c.mu.Unlock()

	for _, id := range expired {
		if c.Complete(id) {
			slog.Warn("typing: session timed out without reply", "id", id, "timeout", c.timeout)
		}
	}
}

func (c *Correlator) stopAll() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.sessions))
	for id := range c.sessions {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	for _, id := range ids {
		c.Complete(id)
	}
}

// MarkDone writes the completion marker for a correlation ID. The write goes
// through a temp file so the watcher never sees a half-written marker.
func MarkDone(dir, correlationID string) error {
	if correlationID == "" {
		return nil
	}
	if strings.ContainsAny(correlationID, `/\`) || strings.Contains(correlationID, "..") {
		return fmt.Errorf("invalid correlation id %q", correlationID)
	}
	path := filepath.Join(dir, correlationID+markerSuffix)
	ts := []byte(fmt.Sprintf("%d", time.Now().UnixMilli()))
	if err := config.WriteFileAtomic(path, ts, 0644); err != nil {
		return fmt.Errorf("write marker: %w", err)
	}
	return nil
}
