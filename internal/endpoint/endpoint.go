// Package endpoint encodes the address the agent uses to reply to a message:
//
//	chatId|msg:<messageId>|req:<correlationId>|thread:<threadId>
//
// Segments after the chat ID are key:value pairs split on the first ':'.
// Unknown keys are ignored and the first occurrence of a key wins, so the
// format can grow without breaking older senders.
package endpoint

import (
	"errors"
	"strings"
)

// ErrEmpty is returned by Parse for an endpoint without a chat ID.
var ErrEmpty = errors.New("endpoint: missing chat id")

const (
	keyMessage = "msg"
	keyRequest = "req"
	keyThread  = "thread"
)

// Endpoint is a parsed reply address.
type Endpoint struct {
	ChatID        string
	MessageID     string // message to reply to
	CorrelationID string // typing session to complete, chatId:messageId
	ThreadID      string // forum topic
}

// CorrelationID builds the typing-session ID of a message.
func CorrelationID(chatID, messageID string) string {
	return chatID + ":" + messageID
}

// Parse decodes an endpoint string.
func Parse(s string) (Endpoint, error) {
	parts := strings.Split(s, "|")
	ep := Endpoint{ChatID: strings.TrimSpace(parts[0])}
	if ep.ChatID == "" {
		return Endpoint{}, ErrEmpty
	}

	seen := map[string]bool{}
	for _, part := range parts[1:] {
		sep := strings.IndexByte(part, ':')
		if sep <= 0 || sep >= len(part)-1 {
			continue
		}
		key, value := part[:sep], part[sep+1:]
		if seen[key] {
			continue
		}
		seen[key] = true
		switch key {
		case keyMessage:
			ep.MessageID = value
		case keyRequest:
			ep.CorrelationID = value
		case keyThread:
			ep.ThreadID = value
		}
	}
	return ep, nil
}

// String encodes the endpoint; empty fields are left out.
func (e Endpoint) String() string {
	var b strings.Builder
	b.WriteString(e.ChatID)
	for _, kv := range [][2]string{
		{keyMessage, e.MessageID},
		{keyRequest, e.CorrelationID},
		{keyThread, e.ThreadID},
	} {
		if kv[1] == "" {
			continue
		}
		b.WriteString("|")
		b.WriteString(kv[0])
		b.WriteString(":")
		b.WriteString(kv[1])
	}
	return b.String()
}
