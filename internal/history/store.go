package history

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store keeps a bounded in-memory window per conversation key and mirrors
// every recorded entry to an append-only JSONL log. The window is the hot
// read path; the log is what survives restarts, read back once per key by
// EnsureReplay.
type Store struct {
	logsDir string

	mu       sync.Mutex
	windows  map[string][]Entry
	replayed map[string]bool

	logMu sync.Mutex // serializes appends so lines never interleave
}

// NewStore creates a store whose logs live in logsDir.
func NewStore(logsDir string) *Store {
	return &Store{
		logsDir:  logsDir,
		windows:  make(map[string][]Entry),
		replayed: make(map[string]bool),
	}
}

// LogPath returns the log file of a conversation key.
func (s *Store) LogPath(key string) string {
	return filepath.Join(s.logsDir, LogFileName(key))
}

// Record appends e to the window of key. An entry whose real message ID is
// already in the window is dropped and Record returns false. Once the window
// grows past 2×limit it is trimmed back to the newest limit entries.
func (s *Store) Record(key string, e Entry, limit int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recordLocked(key, e, limit)
}

func (s *Store) recordLocked(key string, e Entry, limit int) bool {
	win := s.windows[key]
	if id := e.dedupID(); id != "" {
		for _, existing := range win {
			if existing.dedupID() == id {
				return false
			}
		}
	}
	win = append(win, e)
	if limit > 0 && len(win) > 2*limit {
		trimmed := make([]Entry, limit)
		copy(trimmed, win[len(win)-limit:])
		win = trimmed
	}
	s.windows[key] = win
	return true
}

// RecordAndLog records e in memory and, when it was not a duplicate, appends
// it to the log. The in-memory entry is kept even if the append fails.
func (s *Store) RecordAndLog(key string, e Entry, limit int) (bool, error) {
	if !s.Record(key, e, limit) {
		return false, nil
	}
	return true, s.AppendLog(key, e)
}

// Recent returns up to limit of the newest entries of key, oldest first,
// leaving out the message that triggered the lookup.
func (s *Store) Recent(key, excludeMessageID string, limit int) []Entry {
	if limit <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	win := s.windows[key]
	out := make([]Entry, 0, min(limit, len(win)))
	for i := len(win) - 1; i >= 0 && len(out) < limit; i-- {
		if excludeMessageID != "" && win[i].MessageID == excludeMessageID {
			continue
		}
		out = append(out, win[i])
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Len returns the number of entries currently held for key.
func (s *Store) Len(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows[key])
}

// EnsureReplay loads the last limit log lines of key into memory the first
// time it is called for that key. Later calls are no-ops. A missing log
// counts as replayed; a read or parse failure does not, so the next call
// tries again.
func (s *Store) EnsureReplay(key string, limit int) error {
	s.mu.Lock()
	done := s.replayed[key]
	s.mu.Unlock()
	if done {
		return nil
	}

	lines, err := tailLines(s.LogPath(key), limit)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.markReplayed(key)
			return nil
		}
		return fmt.Errorf("replay %s: %w", key, err)
	}

	entries := make([]Entry, 0, len(lines))
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return fmt.Errorf("replay %s: line %d of tail: %w", key, i+1, err)
		}
		entries = append(entries, e)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replayed[key] {
		return nil
	}
	// Entries recorded before a successful replay (e.g. after an earlier
	// failed attempt) stay newest; the log tail goes in front of them.
	live := s.windows[key]
	s.windows[key] = nil
	for _, e := range entries {
		s.recordLocked(key, e, limit)
	}
	for _, e := range live {
		s.recordLocked(key, e, limit)
	}
	s.replayed[key] = true
	slog.Debug("history: replayed log tail", "key", key, "entries", len(entries))
	return nil
}

func (s *Store) markReplayed(key string) {
	s.mu.Lock()
	s.replayed[key] = true
	s.mu.Unlock()
}

// AppendLog writes e as one JSON line to the log of key. The write is
// synchronous so lines for one key land in receipt order.
func (s *Store) AppendLog(key string, e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}
	line = append(line, '\n')

	s.logMu.Lock()
	defer s.logMu.Unlock()

	if err := os.MkdirAll(s.logsDir, 0755); err != nil {
		return fmt.Errorf("create logs dir: %w", err)
	}
	f, err := os.OpenFile(s.LogPath(key), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", key, err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append log %s: %w", key, err)
	}
	return f.Close()
}

const tailBlock = 64 * 1024

// tailLines returns the last n non-empty lines of a file, reading backwards
// from the end so large logs cost one bounded read.
func tailLines(path string, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf []byte
	offset := info.Size()
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		size := int64(tailBlock)
		if offset < size {
			size = offset
		}
		offset -= size
		chunk := make([]byte, size)
		if _, err := f.ReadAt(chunk, offset); err != nil {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	lines := strings.Split(string(buf), "\n")
	if offset > 0 && len(lines) > 0 {
		lines = lines[1:] // first piece may start mid-line
	}
	out := make([]string, 0, n)
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}
