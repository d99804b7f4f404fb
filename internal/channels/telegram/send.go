package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/nextlevelbuilder/tgbridge/internal/channels"
)

// SendMessage sends one text message. Splitting is the caller's job.
func (c *Channel) SendMessage(ctx context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	id, err := parseID(chatID)
	if err != nil {
		return "", err
	}
	params := tu.Message(tu.ID(id), text)
	params.MessageThreadID = parseThreadID(opts.ThreadID)
	params.ReplyParameters = replyParams(opts.ReplyTo)

	msg, err := c.bot.SendMessage(ctx, params)
	if err != nil {
		return "", wrapAPIError(err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

// SendPhoto uploads a local image.
func (c *Channel) SendPhoto(ctx context.Context, chatID, path string, opts channels.SendOptions) (string, error) {
	id, err := parseID(chatID)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open photo: %w", err)
	}
	defer f.Close()

	msg, err := c.bot.SendPhoto(ctx, &telego.SendPhotoParams{
		ChatID:          tu.ID(id),
		MessageThreadID: parseThreadID(opts.ThreadID),
		Photo:           tu.File(f),
		ReplyParameters: replyParams(opts.ReplyTo),
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

// SendDocument uploads a local file.
func (c *Channel) SendDocument(ctx context.Context, chatID, path string, opts channels.SendOptions) (string, error) {
	id, err := parseID(chatID)
	if err != nil {
		return "", err
	}
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	msg, err := c.bot.SendDocument(ctx, &telego.SendDocumentParams{
		ChatID:          tu.ID(id),
		MessageThreadID: parseThreadID(opts.ThreadID),
		Document:        tu.File(f),
		ReplyParameters: replyParams(opts.ReplyTo),
	})
	if err != nil {
		return "", wrapAPIError(err)
	}
	return strconv.Itoa(msg.MessageID), nil
}

// SendTyping shows the typing indicator. The General topic is valid here.
func (c *Channel) SendTyping(ctx context.Context, chatID, threadID string) error {
	id, err := parseID(chatID)
	if err != nil {
		return err
	}
	action := tu.ChatAction(tu.ID(id), telego.ChatActionTyping)
	if t, err := strconv.Atoi(threadID); err == nil && t > 0 {
		action.MessageThreadID = t
	}
	return wrapAPIError(c.bot.SendChatAction(ctx, action))
}

// SetReaction sets emoji as the bot's reaction on a message; an empty emoji
// clears it.
func (c *Channel) SetReaction(ctx context.Context, chatID, messageID, emoji string) error {
	id, err := parseID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid message id %q", messageID)
	}
	params := &telego.SetMessageReactionParams{
		ChatID:    tu.ID(id),
		MessageID: msgID,
	}
	if emoji != "" {
		params.Reaction = []telego.ReactionType{
			&telego.ReactionTypeEmoji{Type: telego.ReactionEmoji, Emoji: emoji},
		}
	}
	return wrapAPIError(c.bot.SetMessageReaction(ctx, params))
}

func replyParams(replyTo string) *telego.ReplyParameters {
	if replyTo == "" {
		return nil
	}
	id, err := strconv.Atoi(replyTo)
	if err != nil || id <= 0 {
		return nil
	}
	return &telego.ReplyParameters{MessageID: id}
}

// wrapAPIError maps Bot API failures onto channels.APIError so retry policy
// does not depend on the SDK.
func wrapAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	out := &channels.APIError{Code: apiErr.ErrorCode, Description: apiErr.Description}
	if apiErr.Parameters != nil && apiErr.Parameters.RetryAfter > 0 {
		out.RetryAfter = time.Duration(apiErr.Parameters.RetryAfter) * time.Second
	}
	return out
}
