package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/tgbridge/internal/auth"
	"github.com/nextlevelbuilder/tgbridge/internal/bus"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

// handleCommand answers the bot's own slash commands. Unknown commands are
// dropped; they are usually meant for another bot in the chat.
func (d *Dispatcher) handleCommand(ctx context.Context, m *bus.Message) {
	switch m.Command {
	case "start":
		d.reply(ctx, m, MsgReady)
	case "help":
		d.reply(ctx, m, d.helpText(m.Chat.IsGroup()))
	case "whoami":
		d.reply(ctx, m, whoamiText(m))
	default:
		slog.Debug("gateway: ignoring unknown command", "command", m.Command, "chat_id", m.Chat.ID)
	}
}

func (d *Dispatcher) helpText(inGroup bool) string {
	d.botMu.RLock()
	username := d.botUsername
	d.botMu.RUnlock()

	var b strings.Builder
	b.WriteString("Send me a message and I will pass it to the agent.\n\n")
	if inGroup && username != "" {
		fmt.Fprintf(&b, "In groups, mention @%s or reply to one of my messages.\n\n", username)
	}
	b.WriteString("/start - check the bot is ready\n")
	b.WriteString("/help - show this help\n")
	b.WriteString("/whoami - show your user and chat IDs")
	return b.String()
}

func whoamiText(m *bus.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User ID: %s\n", m.Sender.ID)
	if m.Sender.Username != "" {
		fmt.Fprintf(&b, "Username: @%s\n", m.Sender.Username)
	}
	fmt.Fprintf(&b, "Chat ID: %s", m.Chat.ID)
	if m.Chat.ThreadID != "" {
		fmt.Fprintf(&b, "\nThread ID: %s", m.Chat.ThreadID)
	}
	return b.String()
}

// handleMemberAdded reacts to the bot joining a group. When the owner added
// it the group is allowed right away in mention mode; otherwise the owner is
// asked to approve it from the admin CLI.
func (d *Dispatcher) handleMemberAdded(ctx context.Context, ch *bus.MemberChange) {
	if !ch.Chat.IsGroup() {
		return
	}
	cfg := config.LoadOrDefault(d.configPath)
	chatID := ch.Chat.ID
	title := ch.Chat.Title
	if title == "" {
		title = chatID
	}
	slog.Info("gateway: added to group", "chat_id", chatID, "title", title, "by", ch.Actor.ID)

	if auth.IsOwner(cfg, ch.Actor.ID) {
		next := cfg.Clone()
		if !auth.AddGroup(next, chatID, title, config.GroupModeMention, d.now()) {
			slog.Info("gateway: group already configured", "chat_id", chatID)
			return
		}
		if err := config.Save(d.configPath, next); err != nil {
			slog.Error("gateway: save group failed", "chat_id", chatID, "error", err)
			return
		}
		d.send(ctx, chatID, ch.Chat.ThreadID, MsgGroupConnected)
		return
	}

	if _, ok := auth.Group(cfg, chatID); ok {
		return
	}
	if !auth.HasOwner(cfg) {
		slog.Warn("gateway: added to group with no owner bound", "chat_id", chatID)
		return
	}

	actor := d.users.CachedName(ch.Actor.ID)
	if actor == "" {
		actor = ch.Actor.ID
	}
	notice := fmt.Sprintf("I was added to the group %q (%s) by %s.\nTo allow it, run:\ntgbridge admin add-group %s %q",
		title, chatID, actor, chatID, title)
	d.send(ctx, string(cfg.Owner.ID), "", notice)
}

// handleStatusChanged logs membership changes. A removal keeps the group's
// config entry so re-adding the bot restores its settings.
func (d *Dispatcher) handleStatusChanged(ch *bus.MemberChange) {
	switch ch.NewStatus {
	case "left", "kicked":
		slog.Info("gateway: removed from group", "chat_id", ch.Chat.ID, "title", ch.Chat.Title, "status", ch.NewStatus, "by", ch.Actor.ID)
	default:
		slog.Info("gateway: membership changed", "chat_id", ch.Chat.ID, "old", ch.OldStatus, "new", ch.NewStatus)
	}
}

// messageText is the user-visible text of m: the text or caption, or a
// placeholder for media without one.
func messageText(kind bus.Kind, m *bus.Message) string {
	if m.Text != "" {
		return m.Text
	}
	switch kind {
	case bus.KindPhoto:
		return "[sent a photo]"
	case bus.KindDocument:
		name := "file"
		if m.Media != nil && m.Media.FileName != "" {
			name = m.Media.FileName
		}
		return "[sent a file: " + name + "]"
	}
	return ""
}

// historyText is messageText plus the file ID of any media, so the agent can
// fetch it later with download-media.
func historyText(kind bus.Kind, m *bus.Message) string {
	if kind == bus.KindCommand && m.Text == "" {
		return "/" + m.Command
	}
	text := messageText(kind, m)
	if m.Media != nil && m.Media.FileID != "" {
		return text + " [file_id:" + m.Media.FileID + "]"
	}
	return text
}
