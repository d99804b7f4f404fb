package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"123", "123"},
		{" 123 ", "123"},
		{"0123", "123"},
		{"-100123", "-100123"},
		{"abc", "abc"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeID(tt.in); got != tt.want {
			t.Errorf("NormalizeID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBindOwner_FirstComeWins(t *testing.T) {
	cfg := config.Default()

	if err := BindOwner(cfg, "111", "alice", now); err != nil {
		t.Fatalf("BindOwner() error = %v", err)
	}
	if !IsOwner(cfg, "111") {
		t.Error("alice should be owner")
	}
	if !IsWhitelisted(cfg, "111", "") {
		t.Error("owner should be whitelisted")
	}

	if err := BindOwner(cfg, "222", "mallory", now); !errors.Is(err, ErrOwnerBound) {
		t.Errorf("second BindOwner() error = %v, want ErrOwnerBound", err)
	}
	if IsOwner(cfg, "222") || !IsOwner(cfg, "111") {
		t.Error("owner identity changed after second bind")
	}
}

func TestBindOwner_RejectsGroupIDs(t *testing.T) {
	cfg := config.Default()
	if err := BindOwner(cfg, "-100555", "group", now); !errors.Is(err, ErrNotIndividual) {
		t.Errorf("BindOwner(group id) error = %v, want ErrNotIndividual", err)
	}
	if HasOwner(cfg) {
		t.Error("group id must not become owner")
	}
	if err := BindOwner(cfg, " ", "", now); !errors.Is(err, ErrEmptyID) {
		t.Errorf("BindOwner(blank) error = %v, want ErrEmptyID", err)
	}
}

func TestIsAuthorized(t *testing.T) {
	cfg := config.Default()
	cfg.Owner.ID = "1"
	cfg.Whitelist.IDs = config.FlexibleStringSlice{"2"}
	cfg.Whitelist.Names = config.FlexibleStringSlice{"Carol"}

	tests := []struct {
		name     string
		id, user string
		want     bool
	}{
		{"owner", "1", "", true},
		{"whitelisted id", "2", "", true},
		{"whitelisted name any case", "3", "carol", true},
		{"name with at sign", "3", "@CAROL", true},
		{"stranger", "4", "dave", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAuthorized(cfg, tt.id, tt.user); got != tt.want {
				t.Errorf("IsAuthorized(%q, %q) = %v, want %v", tt.id, tt.user, got, tt.want)
			}
		})
	}
}

func TestWhitelistMutations(t *testing.T) {
	cfg := config.Default()
	if !AddToWhitelist(cfg, "5", "Eve") {
		t.Fatal("AddToWhitelist should report a change")
	}
	if AddToWhitelist(cfg, "5", "eve") {
		t.Error("second AddToWhitelist should be a no-op")
	}
	if !RemoveFromWhitelist(cfg, "5") {
		t.Error("RemoveFromWhitelist should find the id")
	}
	if RemoveFromWhitelist(cfg, "5") {
		t.Error("second RemoveFromWhitelist should report false")
	}
	if IsWhitelisted(cfg, "5", "") {
		t.Error("id still whitelisted")
	}
}

func TestIsGroupAllowed(t *testing.T) {
	tests := []struct {
		policy config.GroupPolicy
		chatID string
		want   bool
	}{
		{config.GroupPolicyDisabled, "-1", false},
		{config.GroupPolicyDisabled, "-9", false},
		{config.GroupPolicyOpen, "-9", true},
		{config.GroupPolicyAllowlist, "-1", true},
		{config.GroupPolicyAllowlist, "-9", false},
	}
	for _, tt := range tests {
		cfg := config.Default()
		cfg.GroupPolicy = tt.policy
		AddGroup(cfg, "-1", "listed", config.GroupModeMention, now)
		if got := IsGroupAllowed(cfg, tt.chatID); got != tt.want {
			t.Errorf("IsGroupAllowed(%s, %s) = %v, want %v", tt.policy, tt.chatID, got, tt.want)
		}
	}
}

func TestIsSenderAllowedInGroup(t *testing.T) {
	cfg := config.Default()
	AddGroup(cfg, "-1", "open to all", config.GroupModeMention, now)
	AddGroup(cfg, "-2", "wildcard", config.GroupModeMention, now)
	AddGroup(cfg, "-3", "restricted", config.GroupModeMention, now)
	SetGroupAllowFrom(cfg, "-2", []string{"*"})
	SetGroupAllowFrom(cfg, "-3", []string{"10", " 11"})

	tests := []struct {
		chat, sender string
		want         bool
	}{
		{"-1", "99", true},
		{"-2", "99", true},
		{"-3", "10", true},
		{"-3", "11", true},
		{"-3", "99", false},
		{"-404", "99", true},
	}
	for _, tt := range tests {
		if got := IsSenderAllowedInGroup(cfg, tt.chat, tt.sender); got != tt.want {
			t.Errorf("IsSenderAllowedInGroup(%s, %s) = %v, want %v", tt.chat, tt.sender, got, tt.want)
		}
	}
}

func TestAddRemoveGroup(t *testing.T) {
	cfg := config.Default()
	if !AddGroup(cfg, "-100", "team", config.GroupModeBroadcast, now) {
		t.Fatal("AddGroup should succeed")
	}
	if AddGroup(cfg, "-100", "team", config.GroupModeMention, now) {
		t.Error("AddGroup must refuse an existing key")
	}
	if !IsBroadcastGroup(cfg, "-100") {
		t.Error("mode should stay broadcast")
	}
	if !RemoveGroup(cfg, "-100") {
		t.Error("RemoveGroup should succeed")
	}
	if RemoveGroup(cfg, "-100") {
		t.Error("second RemoveGroup should report false")
	}
	if !AddGroup(cfg, "-100", "team", config.GroupModeMention, now) || IsBroadcastGroup(cfg, "-100") {
		t.Error("re-added group should be in mention mode")
	}
}

func TestHistoryLimit(t *testing.T) {
	cfg := config.Default()
	cfg.Message.ContextMessages = 8
	AddGroup(cfg, "-1", "a", config.GroupModeMention, now)
	SetGroupHistoryLimit(cfg, "-1", 20)

	if got := HistoryLimit(cfg, "-1"); got != 20 {
		t.Errorf("HistoryLimit(group) = %d, want 20", got)
	}
	if got := HistoryLimit(cfg, "42"); got != 8 {
		t.Errorf("HistoryLimit(dm) = %d, want 8", got)
	}
}
