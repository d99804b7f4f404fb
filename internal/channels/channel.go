// Package channels defines the boundary between the bridge and the chat
// platform. The dispatcher and the reply sender only see the Transport
// interface; internal/channels/telegram adapts telego to it.
package channels

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SendOptions targets a message inside a chat.
type SendOptions struct {
	ThreadID string // forum topic, empty for the main chat
	ReplyTo  string // message to reply to, empty for none
}

// Transport is the outbound surface of the chat platform. All IDs are the
// platform's identifiers rendered as strings.
type Transport interface {
	// SendMessage sends plain text and returns the new message ID.
	SendMessage(ctx context.Context, chatID, text string, opts SendOptions) (string, error)

	// SendPhoto uploads a local image file.
	SendPhoto(ctx context.Context, chatID, path string, opts SendOptions) (string, error)

	// SendDocument uploads a local file as a document.
	SendDocument(ctx context.Context, chatID, path string, opts SendOptions) (string, error)

	// SendTyping shows the typing indicator for a few seconds.
	SendTyping(ctx context.Context, chatID, threadID string) error

	// SetReaction sets a single emoji reaction on a message; an empty emoji
	// clears the bot's reactions.
	SetReaction(ctx context.Context, chatID, messageID, emoji string) error

	// DownloadFile fetches a file by platform file ID into destDir and
	// returns the local path.
	DownloadFile(ctx context.Context, fileID, destDir string) (string, error)
}

// APIError is a rejection reported by the platform API.
type APIError struct {
	Code        int           // HTTP-like status, e.g. 400 or 429
	Description string        // platform message
	RetryAfter  time.Duration // set on 429 when the platform says how long to wait
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Description)
}

// IsRateLimited reports whether err is a 429 rejection and how long to wait.
// The wait defaults to 5s when the platform does not say.
func IsRateLimited(err error) (time.Duration, bool) {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 429 {
		return 0, false
	}
	if apiErr.RetryAfter <= 0 {
		return 5 * time.Second, true
	}
	return apiErr.RetryAfter, true
}

// IsBadRequest reports whether err is a 400 rejection. With a reply reference
// set this usually means the referenced message no longer exists.
func IsBadRequest(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == 400
}

// IsThreadNotFound reports a 400 caused by a deleted or closed forum topic.
func IsThreadNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == 400 &&
		strings.Contains(strings.ToLower(apiErr.Description), "thread not found")
}
