// Package bus defines the events a chat transport hands to the dispatcher.
// Every ID is a normalized decimal string from this boundary on.
package bus

import "context"

// Kind identifies the variant carried by an Event.
type Kind string

const (
	KindText          Kind = "text"
	KindPhoto         Kind = "photo"
	KindDocument      Kind = "document"
	KindMemberAdded   Kind = "member_added"
	KindStatusChanged Kind = "status_changed"
	KindCommand       Kind = "command"
)

// Sender is the user who authored a message.
type Sender struct {
	ID        string `json:"id"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	IsBot     bool   `json:"is_bot,omitempty"`
}

// Chat identifies where a message was posted.
type Chat struct {
	ID       string `json:"id"`
	Type     string `json:"type"` // private, group, supergroup, channel
	Title    string `json:"title,omitempty"`
	ThreadID string `json:"thread_id,omitempty"` // forum topic, "" outside forums
}

// IsGroup reports whether the chat is a group or supergroup.
func (c Chat) IsGroup() bool {
	return c.Type == "group" || c.Type == "supergroup"
}

// IsPrivate reports whether the chat is a one-to-one DM.
func (c Chat) IsPrivate() bool { return c.Type == "private" }

// ReplyRef is the message a new message replies to.
type ReplyRef struct {
	MessageID  string `json:"message_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name"`
	Text       string `json:"text,omitempty"`
	FromBot    bool   `json:"from_bot,omitempty"` // replied message was sent by this bot
}

// Media is an attachment that has not been downloaded yet.
type Media struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	FileSize int64  `json:"file_size,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Message is the payload shared by text, photo, document and command events.
type Message struct {
	Chat      Chat      `json:"chat"`
	MessageID string    `json:"message_id"`
	Sender    Sender    `json:"sender"`
	Text      string    `json:"text,omitempty"` // body, or caption for media
	ReplyTo   *ReplyRef `json:"reply_to,omitempty"`
	Media     *Media    `json:"media,omitempty"`
	Mentioned bool      `json:"mentioned,omitempty"` // text @mentions the bot
	Command   string    `json:"command,omitempty"`   // "start", "help", ... for KindCommand
}

// MemberChange describes the bot's own membership in a chat changing.
type MemberChange struct {
	Chat      Chat   `json:"chat"`
	Actor     Sender `json:"actor"` // who added or removed the bot
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`
}

// Event is a tagged union: Kind selects which of Message or Member is set.
type Event struct {
	Kind    Kind          `json:"kind"`
	Message *Message      `json:"message,omitempty"`
	Member  *MemberChange `json:"member,omitempty"`
}

// Source produces inbound events until ctx is done.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}
