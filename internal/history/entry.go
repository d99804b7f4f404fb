package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one message in a conversation. Entries are never mutated after
// creation.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	MessageID  string    `json:"message_id,omitempty"`
	Synthetic  bool      `json:"synthetic,omitempty"` // bot-authored, MessageID is a generated UUID
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Text       string    `json:"text"`
	ThreadID   string    `json:"thread_id,omitempty"`
}

// NewBotEntry builds an entry for a message the bot sent. Telegram does not
// hand the send path a message ID we can trust across chunks, so the entry
// gets a synthetic one that never takes part in dedup.
func NewBotEntry(senderID, senderName, text, threadID string, at time.Time) Entry {
	return Entry{
		Timestamp:  at,
		MessageID:  uuid.NewString(),
		Synthetic:  true,
		SenderID:   senderID,
		SenderName: senderName,
		Text:       text,
		ThreadID:   threadID,
	}
}

// dedupID returns the ID used for duplicate detection, or "" when the entry
// must never be deduplicated.
func (e Entry) dedupID() string {
	if e.Synthetic {
		return ""
	}
	return e.MessageID
}

// UnmarshalJSON also accepts lines written by older releases, which used
// user_id/user_name and numeric IDs.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var raw struct {
		Timestamp  time.Time       `json:"timestamp"`
		MessageID  json.RawMessage `json:"message_id"`
		Synthetic  bool            `json:"synthetic"`
		SenderID   json.RawMessage `json:"sender_id"`
		UserID     json.RawMessage `json:"user_id"`
		SenderName string          `json:"sender_name"`
		UserName   string          `json:"user_name"`
		Text       string          `json:"text"`
		ThreadID   json.RawMessage `json:"thread_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	*e = Entry{Timestamp: raw.Timestamp, Synthetic: raw.Synthetic, Text: raw.Text}
	if e.MessageID, err = idString(raw.MessageID); err != nil {
		return fmt.Errorf("message_id: %w", err)
	}
	if e.SenderID, err = idString(raw.SenderID); err != nil {
		return fmt.Errorf("sender_id: %w", err)
	}
	if e.SenderID == "" {
		if e.SenderID, err = idString(raw.UserID); err != nil {
			return fmt.Errorf("user_id: %w", err)
		}
	}
	if e.ThreadID, err = idString(raw.ThreadID); err != nil {
		return fmt.Errorf("thread_id: %w", err)
	}
	e.SenderName = raw.SenderName
	if e.SenderName == "" {
		e.SenderName = raw.UserName
	}
	return nil
}

func idString(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", err
	}
	return n.String(), nil
}
