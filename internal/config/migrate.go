package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// migrateLegacy rewrites keys written by older releases in place and reports
// whether anything changed. It runs before defaults are merged.
//
//	owner.chat_id / owner.username       -> owner.id / owner.display_name
//	whitelist.chat_ids / usernames       -> whitelist.ids / names
//	allowed_groups[] / smart_groups[]    -> groups{} (smart => broadcast)
func migrateLegacy(doc document) bool {
	changed := false

	if owner, ok := doc["owner"].(document); ok {
		legacyOwner := renameKey(owner, "chat_id", "id")
		changed = legacyOwner || changed
		changed = renameKey(owner, "username", "display_name") || changed

		// Older releases could capture a group chat ID as the owner. Group IDs
		// are negative; such a binding is dropped once, while its keys are
		// rewritten, so the next private message binds a real person.
		if id := scalarString(owner["id"]); legacyOwner && strings.HasPrefix(id, "-") {
			slog.Warn("config: resetting owner bound to a group id", "id", id)
			owner["id"] = nil
			owner["display_name"] = nil
			owner["bound_at"] = nil
			changed = true
		}
	}

	if wl, ok := doc["whitelist"].(document); ok {
		changed = renameKey(wl, "chat_ids", "ids") || changed
		changed = renameKey(wl, "usernames", "names") || changed
	}

	groups, _ := doc["groups"].(document)
	legacy := []struct {
		key  string
		mode GroupMode
	}{
		{"allowed_groups", GroupModeMention},
		{"smart_groups", GroupModeBroadcast},
	}
	for _, l := range legacy {
		list, ok := doc[l.key].([]interface{})
		if !ok {
			if _, present := doc[l.key]; present {
				delete(doc, l.key)
				changed = true
			}
			continue
		}
		if groups == nil {
			groups = document{}
		}
		for _, item := range list {
			g, ok := item.(document)
			if !ok {
				continue
			}
			id := scalarString(g["chat_id"])
			if id == "" {
				continue
			}
			if _, exists := groups[id]; exists {
				continue
			}
			entry := document{"name": g["name"], "mode": string(l.mode)}
			if at, ok := g["added_at"].(string); ok && validTime(at) {
				entry["added_at"] = at
			}
			groups[id] = entry
		}
		delete(doc, l.key)
		changed = true
	}
	if groups != nil {
		doc["groups"] = groups
	}

	return changed
}

func renameKey(doc document, from, to string) bool {
	v, ok := doc[from]
	if !ok {
		return false
	}
	if _, exists := doc[to]; !exists || doc[to] == nil {
		doc[to] = v
	}
	delete(doc, from)
	return true
}

// scalarString renders a JSON scalar ID (string or number) as a string.
func scalarString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return fmt.Sprintf("%.0f", val)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

func validTime(s string) bool {
	_, err := time.Parse(time.RFC3339, s)
	return err == nil
}
