// Package history keeps per-conversation message windows and their JSONL logs.
//
// A conversation key is the unit of history isolation:
//
//	Chat:         {chatId}
//	Forum topic:  {chatId}:{threadId}
//
// Thread IDs are only unique within a chat, so the chat ID always prefixes
// the key and keys never collide across chats.
//
// Examples:
//
//	386246614
//	-100123456
//	-100123456:99
//
// On disk, ':' becomes "_t_" so the key is a portable file name:
//
//	-100123456_t_99.log
package history

import "strings"

const logThreadSep = "_t_"

// Key builds the conversation key for a chat and optional thread.
func Key(chatID, threadID string) string {
	if threadID == "" {
		return chatID
	}
	return chatID + ":" + threadID
}

// ParseKey splits a conversation key back into chat and thread IDs.
// Chat IDs never contain ':' so the first separator is the boundary.
func ParseKey(key string) (chatID, threadID string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

// LogFileName converts a key to its log file name.
func LogFileName(key string) string {
	return strings.ReplaceAll(key, ":", logThreadSep) + ".log"
}
