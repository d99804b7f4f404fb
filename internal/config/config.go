package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
// Telegram IDs are frequently written as bare numbers by hand-edited configs.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// FlexibleString accepts both "str" and 123 in JSON.
type FlexibleString string

func (f *FlexibleString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleString(s)
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case nil:
		*f = ""
	case float64:
		*f = FlexibleString(fmt.Sprintf("%.0f", val))
	default:
		*f = FlexibleString(fmt.Sprintf("%v", val))
	}
	return nil
}

// GroupPolicy is the default disposition for groups that are not listed in Groups.
type GroupPolicy string

const (
	GroupPolicyDisabled  GroupPolicy = "disabled"
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	GroupPolicyOpen      GroupPolicy = "open"
)

// Valid reports whether p is one of the known policies.
func (p GroupPolicy) Valid() bool {
	switch p {
	case GroupPolicyDisabled, GroupPolicyAllowlist, GroupPolicyOpen:
		return true
	}
	return false
}

// GroupMode controls which group messages are forwarded to the agent.
type GroupMode string

const (
	GroupModeMention   GroupMode = "mention"   // only @mentions and replies to the bot
	GroupModeBroadcast GroupMode = "broadcast" // every message
)

// Config is the root configuration document of the bridge.
// A Config is a snapshot: handlers reload it from disk per event and
// write it back through Save.
type Config struct {
	Owner        OwnerConfig            `json:"owner"`
	Whitelist    WhitelistConfig        `json:"whitelist"`
	GroupPolicy  GroupPolicy            `json:"group_policy"`
	Groups       map[string]GroupConfig `json:"groups"`
	Features     FeaturesConfig         `json:"features"`
	Message      MessageConfig          `json:"message"`
	InternalPort int                    `json:"internal_port"`
	Bridge       BridgeConfig           `json:"bridge"`

	// Secrets come from the environment only and are never persisted.
	BotToken string `json:"-"` // TELEGRAM_BOT_TOKEN
	ProxyURL string `json:"-"` // TELEGRAM_PROXY_URL

	// raw is the merged document as loaded, used by Save to keep keys this
	// version does not know about.
	raw map[string]interface{}

	// fallback marks a default document substituted for an unreadable file.
	fallback bool
}

// IsFallback reports whether c replaced an unreadable config file.
func (c *Config) IsFallback() bool { return c.fallback }

// OwnerConfig records the single privileged account. An empty ID means unbound.
type OwnerConfig struct {
	ID          FlexibleString `json:"id"`
	DisplayName string         `json:"display_name"`
	BoundAt     *time.Time     `json:"bound_at"`
}

// WhitelistConfig grants private-chat access.
type WhitelistConfig struct {
	IDs   FlexibleStringSlice `json:"ids"`
	Names FlexibleStringSlice `json:"names"` // usernames, compared case-insensitively
}

// GroupConfig is the per-group override of the global group policy.
type GroupConfig struct {
	Name         string              `json:"name"`
	Mode         GroupMode           `json:"mode"`
	AllowFrom    FlexibleStringSlice `json:"allow_from,omitempty"` // sender IDs or ["*"]; empty means everyone
	HistoryLimit int                 `json:"history_limit,omitempty"`
	AddedAt      time.Time           `json:"added_at"`
}

type FeaturesConfig struct {
	DownloadMedia    bool `json:"download_media"`
	MaxMessageLength int  `json:"max_message_length"`

	// FloodLimit caps agent forwards per sender per minute; 0 disables it.
	FloodLimit int `json:"flood_limit"`
}

type MessageConfig struct {
	ContextMessages int `json:"context_messages"` // default history window per conversation
}

// BridgeConfig describes how the external agent bridge is invoked.
type BridgeConfig struct {
	Command    string `json:"command"`
	Channel    string `json:"channel"`
	TimeoutSec int    `json:"timeout_sec"`

	commandOverride string // TGBRIDGE_AGENT_COMMAND, never saved
}

// Executable returns the command to run, preferring the env override.
func (b BridgeConfig) Executable() string {
	if b.commandOverride != "" {
		return b.commandOverride
	}
	return b.Command
}

// Timeout returns the per-invocation subprocess timeout.
func (b BridgeConfig) Timeout() time.Duration {
	if b.TimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(b.TimeoutSec) * time.Second
}

// MaxLength returns the outbound chunk size, clamped to Telegram's 4096 limit.
func (f FeaturesConfig) MaxLength() int {
	if f.MaxMessageLength <= 0 || f.MaxMessageLength > 4096 {
		return 4000
	}
	return f.MaxMessageLength
}

// ContextLimit returns the default history window, never below 1.
func (m MessageConfig) ContextLimit() int {
	if m.ContextMessages <= 0 {
		return 5
	}
	return m.ContextMessages
}
