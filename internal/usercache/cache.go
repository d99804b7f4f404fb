// Package usercache resolves Telegram senders to display names and keeps a
// snapshot on disk so replayed history can still show names after a restart.
package usercache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

const (
	DefaultTTL             = 10 * time.Minute
	DefaultPersistInterval = 5 * time.Minute
	maxFreshEntries        = 10000
)

// Profile is the sender information carried by an inbound message.
type Profile struct {
	ID        string
	Username  string
	FirstName string
}

// DisplayName picks username, then first name, then the raw ID.
func (p Profile) DisplayName() string {
	switch {
	case p.Username != "":
		return p.Username
	case p.FirstName != "":
		return p.FirstName
	case p.ID != "":
		return p.ID
	}
	return "unknown"
}

// Resolver maps sender IDs to names. A resolved name is reused for the TTL;
// after that the profile on the next message wins. Every name ever resolved
// stays available to CachedName and is written to the snapshot.
type Resolver struct {
	path  string
	fresh *expirable.LRU[string, string]

	mu    sync.Mutex
	known map[string]string
	dirty bool
}

// New creates a resolver persisting to path.
func New(path string) *Resolver {
	return newResolver(path, DefaultTTL)
}

func newResolver(path string, ttl time.Duration) *Resolver {
	return &Resolver{
		path:  path,
		fresh: expirable.NewLRU[string, string](maxFreshEntries, nil, ttl),
		known: make(map[string]string),
	}
}

// Load reads the snapshot. A missing file is not an error.
func (r *Resolver) Load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read user cache: %w", err)
	}
	var names map[string]string
	if err := json.Unmarshal(data, &names); err != nil {
		return fmt.Errorf("parse user cache: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, name := range names {
		if name == "" {
			continue
		}
		r.known[id] = name
		r.fresh.Add(id, name)
	}
	slog.Info("usercache: loaded cached user names", "count", len(r.known))
	return nil
}

// Resolve returns the display name for the sender of a message.
func (r *Resolver) Resolve(p Profile) string {
	if p.ID == "" {
		return p.DisplayName()
	}
	if name, ok := r.fresh.Get(p.ID); ok {
		return name
	}
	name := p.DisplayName()
	r.fresh.Add(p.ID, name)

	r.mu.Lock()
	if r.known[p.ID] != name {
		r.known[p.ID] = name
		r.dirty = true
	}
	r.mu.Unlock()
	return name
}

// CachedName returns the last known name of id, or id itself. It is used
// where no profile is at hand, such as replayed history.
func (r *Resolver) CachedName(id string) string {
	if name, ok := r.fresh.Peek(id); ok {
		return name
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if name, ok := r.known[id]; ok {
		return name
	}
	return id
}

// Persist writes the snapshot if anything changed since the last write.
func (r *Resolver) Persist() error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	snapshot := make(map[string]string, len(r.known))
	for id, name := range r.known {
		snapshot[id] = name
	}
	r.dirty = false
	r.mu.Unlock()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode user cache: %w", err)
	}
	if err := config.WriteFileAtomic(r.path, data, 0644); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return err
	}
	return nil
}

// Run persists every interval until ctx is done, then persists once more.
func (r *Resolver) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPersistInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if err := r.Persist(); err != nil {
				slog.Warn("usercache: final persist failed", "error", err)
			}
			return
		case <-ticker.C:
			if err := r.Persist(); err != nil {
				slog.Warn("usercache: persist failed", "error", err)
			}
		}
	}
}
