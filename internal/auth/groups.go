package auth

import (
	"time"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

// Group returns the explicit configuration of a group, if any.
func Group(cfg *config.Config, chatID string) (config.GroupConfig, bool) {
	g, ok := cfg.Groups[NormalizeID(chatID)]
	return g, ok
}

// IsGroupAllowed applies the global group policy to a chat.
func IsGroupAllowed(cfg *config.Config, chatID string) bool {
	switch cfg.GroupPolicy {
	case config.GroupPolicyDisabled:
		return false
	case config.GroupPolicyOpen:
		return true
	default:
		_, ok := Group(cfg, chatID)
		return ok
	}
}

func IsBroadcastGroup(cfg *config.Config, chatID string) bool {
	g, ok := Group(cfg, chatID)
	return ok && g.Mode == config.GroupModeBroadcast
}

// IsSenderAllowedInGroup is the per-sender filter applied after the group
// itself was admitted. Groups without an allow_from list admit everyone.
func IsSenderAllowedInGroup(cfg *config.Config, chatID, senderID string) bool {
	g, ok := Group(cfg, chatID)
	if !ok || len(g.AllowFrom) == 0 {
		return true
	}
	id := NormalizeID(senderID)
	for _, a := range g.AllowFrom {
		if a == Wildcard || NormalizeID(a) == id {
			return true
		}
	}
	return false
}

// GroupName returns the configured name of a group, falling back to fallback.
func GroupName(cfg *config.Config, chatID, fallback string) string {
	if g, ok := Group(cfg, chatID); ok && g.Name != "" {
		return g.Name
	}
	return fallback
}

// HistoryLimit returns the context window for a conversation in chatID:
// the group's history_limit when set, else message.context_messages.
func HistoryLimit(cfg *config.Config, chatID string) int {
	if g, ok := Group(cfg, chatID); ok && g.HistoryLimit > 0 {
		return g.HistoryLimit
	}
	return cfg.Message.ContextLimit()
}

// AddGroup registers a group. It refuses an existing key; remove the group
// first to change its mode.
func AddGroup(cfg *config.Config, chatID, name string, mode config.GroupMode, now time.Time) bool {
	id := NormalizeID(chatID)
	if id == "" {
		return false
	}
	if _, exists := cfg.Groups[id]; exists {
		return false
	}
	if mode != config.GroupModeBroadcast {
		mode = config.GroupModeMention
	}
	if cfg.Groups == nil {
		cfg.Groups = map[string]config.GroupConfig{}
	}
	cfg.Groups[id] = config.GroupConfig{Name: name, Mode: mode, AddedAt: now}
	return true
}

// RemoveGroup reports whether the group was present.
func RemoveGroup(cfg *config.Config, chatID string) bool {
	id := NormalizeID(chatID)
	if _, exists := cfg.Groups[id]; !exists {
		return false
	}
	delete(cfg.Groups, id)
	return true
}

// SetGroupAllowFrom replaces a group's sender filter.
func SetGroupAllowFrom(cfg *config.Config, chatID string, senders []string) bool {
	id := NormalizeID(chatID)
	g, ok := cfg.Groups[id]
	if !ok {
		return false
	}
	g.AllowFrom = g.AllowFrom[:0:0]
	for _, s := range senders {
		if s == Wildcard {
			g.AllowFrom = append(g.AllowFrom, Wildcard)
			continue
		}
		if n := NormalizeID(s); n != "" {
			g.AllowFrom = append(g.AllowFrom, n)
		}
	}
	cfg.Groups[id] = g
	return true
}

// SetGroupHistoryLimit overrides the context window of one group; 0 clears it.
func SetGroupHistoryLimit(cfg *config.Config, chatID string, limit int) bool {
	id := NormalizeID(chatID)
	g, ok := cfg.Groups[id]
	if !ok || limit < 0 {
		return false
	}
	g.HistoryLimit = limit
	cfg.Groups[id] = g
	return true
}
