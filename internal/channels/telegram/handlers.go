package telegram

import (
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/tgbridge/internal/bus"
)

// convertUpdate turns a Telegram update into a bus event. It reports false
// for updates the bridge does not handle (edits, service messages, stickers).
func convertUpdate(update telego.Update, botID, botUsername string) (bus.Event, bool) {
	switch {
	case update.Message != nil:
		return convertMessage(update.Message, botID, botUsername)
	case update.MyChatMember != nil:
		return convertMemberUpdate(update.MyChatMember), true
	}
	return bus.Event{}, false
}

func convertMessage(message *telego.Message, botID, botUsername string) (bus.Event, bool) {
	if message.From == nil || isServiceMessage(message) {
		return bus.Event{}, false
	}

	msg := &bus.Message{
		Chat:      convertChat(message),
		MessageID: strconv.Itoa(message.MessageID),
		Sender:    convertUser(*message.From),
		ReplyTo:   convertReply(message, botID, botUsername),
		Mentioned: detectMention(message, botUsername),
	}

	switch {
	case message.Text != "":
		msg.Text = message.Text
		if cmd, target, ok := parseCommand(message.Text); ok {
			// Commands addressed to another bot in a group are not ours.
			if target != "" && !strings.EqualFold(target, botUsername) {
				return bus.Event{}, false
			}
			msg.Command = cmd
			return bus.Event{Kind: bus.KindCommand, Message: msg}, true
		}
		return bus.Event{Kind: bus.KindText, Message: msg}, true

	case len(message.Photo) > 0:
		// Highest resolution is last.
		photo := message.Photo[len(message.Photo)-1]
		msg.Text = message.Caption
		msg.Media = &bus.Media{
			FileID:   photo.FileID,
			FileSize: int64(photo.FileSize),
			MimeType: "image/jpeg",
		}
		return bus.Event{Kind: bus.KindPhoto, Message: msg}, true

	case message.Document != nil:
		msg.Text = message.Caption
		msg.Media = &bus.Media{
			FileID:   message.Document.FileID,
			FileName: message.Document.FileName,
			FileSize: int64(message.Document.FileSize),
			MimeType: message.Document.MimeType,
		}
		return bus.Event{Kind: bus.KindDocument, Message: msg}, true
	}
	return bus.Event{}, false
}

// convertChat resolves the conversation. Forum groups get a thread per
// topic; a forum message without a thread belongs to the General topic.
// Outside forums message_thread_id is reply context, not a topic, and is
// ignored.
func convertChat(message *telego.Message) bus.Chat {
	chat := bus.Chat{
		ID:    strconv.FormatInt(message.Chat.ID, 10),
		Type:  message.Chat.Type,
		Title: message.Chat.Title,
	}
	if chat.IsGroup() && message.Chat.IsForum {
		threadID := message.MessageThreadID
		if threadID == 0 {
			threadID = telegramGeneralTopicID
		}
		chat.ThreadID = strconv.Itoa(threadID)
	}
	return chat
}

func convertUser(u telego.User) bus.Sender {
	return bus.Sender{
		ID:        strconv.FormatInt(u.ID, 10),
		Username:  u.Username,
		FirstName: u.FirstName,
		IsBot:     u.IsBot,
	}
}

func convertReply(message *telego.Message, botID, botUsername string) *bus.ReplyRef {
	reply := message.ReplyToMessage
	if reply == nil {
		return nil
	}
	// In forum topics every message "replies" to the topic's creation message.
	if message.IsTopicMessage && reply.MessageID == message.MessageThreadID {
		return nil
	}

	ref := &bus.ReplyRef{
		MessageID: strconv.Itoa(reply.MessageID),
		Text:      reply.Text,
	}
	if ref.Text == "" {
		ref.Text = reply.Caption
	}
	if reply.From != nil {
		ref.SenderID = strconv.FormatInt(reply.From.ID, 10)
		ref.SenderName = reply.From.Username
		if ref.SenderName == "" {
			ref.SenderName = reply.From.FirstName
		}
		ref.FromBot = (botID != "" && ref.SenderID == botID) ||
			(botUsername != "" && strings.EqualFold(reply.From.Username, botUsername))
	}
	return ref
}

func convertMemberUpdate(u *telego.ChatMemberUpdated) bus.Event {
	change := &bus.MemberChange{
		Chat: bus.Chat{
			ID:    strconv.FormatInt(u.Chat.ID, 10),
			Type:  u.Chat.Type,
			Title: u.Chat.Title,
		},
		Actor: convertUser(u.From),
	}
	if u.OldChatMember != nil {
		change.OldStatus = u.OldChatMember.MemberStatus()
	}
	if u.NewChatMember != nil {
		change.NewStatus = u.NewChatMember.MemberStatus()
	}

	kind := bus.KindStatusChanged
	if isPresent(change.NewStatus) && !isPresent(change.OldStatus) {
		kind = bus.KindMemberAdded
	}
	return bus.Event{Kind: kind, Member: change}
}

func isPresent(status string) bool {
	switch status {
	case "creator", "administrator", "member", "restricted":
		return true
	}
	return false
}

// parseCommand splits "/cmd@bot args" into its lowercase command name and
// target bot.
func parseCommand(text string) (cmd, target string, ok bool) {
	if len(text) < 2 || text[0] != '/' {
		return "", "", false
	}
	head := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(head, '@'); at >= 0 {
		head, target = head[:at], head[at+1:]
	}
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), target, true
}

// detectMention checks if a message @mentions the bot, in text or caption.
// Entity offsets are in UTF-16 code units.
func detectMention(msg *telego.Message, botUsername string) bool {
	if botUsername == "" {
		return false
	}
	handle := "@" + strings.ToLower(botUsername)

	for _, pair := range []struct {
		entities []telego.MessageEntity
		text     string
	}{
		{msg.Entities, msg.Text},
		{msg.CaptionEntities, msg.Caption},
	} {
		if pair.text == "" {
			continue
		}
		units := utf16.Encode([]rune(pair.text))
		for _, entity := range pair.entities {
			if entity.Type != "mention" {
				continue
			}
			end := entity.Offset + entity.Length
			if entity.Offset < 0 || end > len(units) {
				continue
			}
			if strings.ToLower(string(utf16.Decode(units[entity.Offset:end]))) == handle {
				return true
			}
		}
		// Fallback for clients that do not send entities.
		if strings.Contains(strings.ToLower(pair.text), handle) {
			return true
		}
	}
	return false
}

// isServiceMessage reports whether a message carries no user content
// (member added or removed, title changed, pinned and the like).
func isServiceMessage(msg *telego.Message) bool {
	if msg.Text != "" || msg.Caption != "" {
		return false
	}
	if msg.Photo != nil || msg.Audio != nil || msg.Video != nil ||
		msg.Document != nil || msg.Voice != nil || msg.VideoNote != nil ||
		msg.Sticker != nil || msg.Animation != nil || msg.Contact != nil ||
		msg.Location != nil || msg.Venue != nil || msg.Poll != nil {
		return false
	}
	return true
}
