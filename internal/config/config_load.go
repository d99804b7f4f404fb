package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/titanous/json5"
)

// ErrFallbackConfig is returned by Save for a Config that was substituted
// for an unreadable file, so the broken file is not overwritten with defaults.
var ErrFallbackConfig = errors.New("config: refusing to overwrite unreadable config with defaults")

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Whitelist:   WhitelistConfig{IDs: FlexibleStringSlice{}, Names: FlexibleStringSlice{}},
		GroupPolicy: GroupPolicyAllowlist,
		Groups:      map[string]GroupConfig{},
		Features: FeaturesConfig{
			DownloadMedia:    true,
			MaxMessageLength: 4000,
			FloodLimit:       30,
		},
		Message:      MessageConfig{ContextMessages: 5},
		InternalPort: 3460,
		Bridge: BridgeConfig{
			Command:    "c4-receive",
			Channel:    "telegram",
			TimeoutSec: 30,
		},
	}
}

// Load reads config from a JSON (json5) file, migrates legacy keys,
// deep-merges defaults, then overlays env vars. A missing file yields defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.raw = mustDocument(cfg)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	loaded := map[string]interface{}{}
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json5.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if migrateLegacy(loaded) {
		slog.Info("config: migrated legacy keys", "path", path)
	}

	merged := mergeDefaults(mustDocument(Default()), loaded)
	buf, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode merged config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	cfg.raw = merged
	cfg.applyEnvOverrides()
	return cfg, nil
}

// LoadOrDefault is Load with the fallback the bot process needs: a missing or
// unparseable file is logged and replaced by the in-memory defaults.
func LoadOrDefault(path string) *Config {
	cfg, err := Load(path)
	if err == nil {
		return cfg
	}
	slog.Warn("config: load failed, using defaults", "path", path, "error", err)
	cfg = Default()
	cfg.raw = mustDocument(cfg)
	cfg.applyEnvOverrides()
	cfg.fallback = true
	return cfg
}

// Save writes the config atomically, keeping keys that were present in the
// loaded document but are unknown to this version.
func Save(path string, cfg *Config) error {
	if cfg.fallback {
		return ErrFallbackConfig
	}
	typed, err := toDocument(cfg)
	if err != nil {
		return err
	}
	doc := overlayDocument(cfg.raw, typed)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	data = append(data, '\n')
	if err := WriteFileAtomic(path, data, 0600); err != nil {
		return err
	}
	cfg.raw = doc
	return nil
}

// normalize fixes up values a hand-edited file may leave invalid.
func (c *Config) normalize() {
	if !c.GroupPolicy.Valid() {
		slog.Warn("config: unknown group_policy, using allowlist", "value", string(c.GroupPolicy))
		c.GroupPolicy = GroupPolicyAllowlist
	}
	if c.Groups == nil {
		c.Groups = map[string]GroupConfig{}
	}
	normalized := make(map[string]GroupConfig, len(c.Groups))
	for id, g := range c.Groups {
		if g.Mode != GroupModeBroadcast {
			g.Mode = GroupModeMention
		}
		normalized[strings.TrimSpace(id)] = g
	}
	c.Groups = normalized
	if c.InternalPort <= 0 {
		c.InternalPort = 3460
	}
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("TELEGRAM_BOT_TOKEN", &c.BotToken)
	envStr("TELEGRAM_PROXY_URL", &c.ProxyURL)
	envStr("TGBRIDGE_AGENT_COMMAND", &c.Bridge.commandOverride)
}

// Clone returns a deep copy, used when a caller needs to mutate a snapshot
// without affecting another holder.
func (c *Config) Clone() *Config {
	out := *c
	out.Whitelist.IDs = append(FlexibleStringSlice{}, c.Whitelist.IDs...)
	out.Whitelist.Names = append(FlexibleStringSlice{}, c.Whitelist.Names...)
	out.Groups = make(map[string]GroupConfig, len(c.Groups))
	for id, g := range c.Groups {
		g.AllowFrom = append(FlexibleStringSlice(nil), g.AllowFrom...)
		out.Groups[id] = g
	}
	if c.Owner.BoundAt != nil {
		t := *c.Owner.BoundAt
		out.Owner.BoundAt = &t
	}
	return &out
}

// WriteFileAtomic writes data to a temp file in the target directory and
// renames it over path, so readers never observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}

	// Best effort directory sync; ignore failures.
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
