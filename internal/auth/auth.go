// Package auth holds the authorization decisions of the bridge. Every function
// is pure over a config snapshot; the mutating ones only touch the snapshot and
// leave persistence to the caller (config.Save).
package auth

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

var (
	// ErrOwnerBound is returned by BindOwner when an owner already exists.
	ErrOwnerBound = errors.New("auth: owner already bound")
	// ErrNotIndividual is returned by BindOwner for IDs that denote a group or channel.
	ErrNotIndividual = errors.New("auth: owner must be an individual account")
	// ErrEmptyID is returned for blank identifiers.
	ErrEmptyID = errors.New("auth: empty id")
)

// Wildcard in a group's allow_from admits every sender.
const Wildcard = "*"

// NormalizeID turns any external identifier into the canonical string form
// used for comparisons and map keys.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return id
}

// IsIndividualID reports whether id can denote a user. Telegram group,
// supergroup and channel IDs are negative.
func IsIndividualID(id string) bool {
	id = NormalizeID(id)
	return id != "" && !strings.HasPrefix(id, "-")
}

func HasOwner(cfg *config.Config) bool {
	return NormalizeID(string(cfg.Owner.ID)) != ""
}

// BindOwner makes senderID the owner and whitelists it. The first caller
// wins: once bound, later calls fail with ErrOwnerBound.
func BindOwner(cfg *config.Config, senderID, displayName string, now time.Time) error {
	if HasOwner(cfg) {
		return ErrOwnerBound
	}
	id := NormalizeID(senderID)
	if id == "" {
		return ErrEmptyID
	}
	if !IsIndividualID(id) {
		return ErrNotIndividual
	}
	cfg.Owner = config.OwnerConfig{
		ID:          config.FlexibleString(id),
		DisplayName: displayName,
		BoundAt:     &now,
	}
	AddToWhitelist(cfg, id, "")
	return nil
}

// ResetOwner clears the owner binding. Whitelist entries are kept.
func ResetOwner(cfg *config.Config) bool {
	if !HasOwner(cfg) {
		return false
	}
	cfg.Owner = config.OwnerConfig{}
	return true
}

func IsOwner(cfg *config.Config, senderID string) bool {
	return HasOwner(cfg) && NormalizeID(senderID) == NormalizeID(string(cfg.Owner.ID))
}

// IsWhitelisted matches the sender ID, or the username case-insensitively.
func IsWhitelisted(cfg *config.Config, senderID, username string) bool {
	id := NormalizeID(senderID)
	for _, w := range cfg.Whitelist.IDs {
		if id != "" && NormalizeID(w) == id {
			return true
		}
	}
	name := strings.TrimPrefix(strings.TrimSpace(username), "@")
	if name == "" {
		return false
	}
	for _, w := range cfg.Whitelist.Names {
		if strings.EqualFold(strings.TrimPrefix(w, "@"), name) {
			return true
		}
	}
	return false
}

// IsAuthorized is the private-chat gate: owner or whitelisted.
func IsAuthorized(cfg *config.Config, senderID, username string) bool {
	return IsOwner(cfg, senderID) || IsWhitelisted(cfg, senderID, username)
}

// AddToWhitelist grants private-chat access. It reports whether anything changed.
func AddToWhitelist(cfg *config.Config, senderID, username string) bool {
	changed := false
	if id := NormalizeID(senderID); id != "" && !containsID(cfg.Whitelist.IDs, id) {
		cfg.Whitelist.IDs = append(cfg.Whitelist.IDs, id)
		changed = true
	}
	if name := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@")); name != "" {
		found := false
		for _, w := range cfg.Whitelist.Names {
			if strings.EqualFold(w, name) {
				found = true
				break
			}
		}
		if !found {
			cfg.Whitelist.Names = append(cfg.Whitelist.Names, name)
			changed = true
		}
	}
	return changed
}

// RemoveFromWhitelist revokes an ID grant. It reports whether the ID was present.
func RemoveFromWhitelist(cfg *config.Config, senderID string) bool {
	id := NormalizeID(senderID)
	out := cfg.Whitelist.IDs[:0]
	removed := false
	for _, w := range cfg.Whitelist.IDs {
		if NormalizeID(w) == id {
			removed = true
			continue
		}
		out = append(out, w)
	}
	cfg.Whitelist.IDs = out
	return removed
}

func containsID(list []string, id string) bool {
	for _, v := range list {
		if NormalizeID(v) == id {
			return true
		}
	}
	return false
}
