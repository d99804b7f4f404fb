// Package outbound delivers agent replies to Telegram: splitting long text
// on semantic boundaries and sending the pieces with pacing and retries.
package outbound

import "strings"

const fence = "```"

// Break points closer than these fractions of maxLength to the start of a
// chunk are rejected as too small.
const (
	minFenceBreak = 0.2
	minTextBreak  = 0.3
)

// SplitMessage splits text into chunks of at most maxLength characters.
// At each split it prefers, in order:
//
//  1. inside an open ``` fence: the line before the fence opens, or, when
//     that would leave a tiny chunk, the end of the whole fenced block
//     (which may exceed maxLength; fenced content is never split unless the
//     fence is never closed)
//  2. the last paragraph break
//  3. the last newline
//  4. the last space
//  5. a hard cut at maxLength
//
// Lengths count characters (runes), not bytes. Chunks are trimmed.
func SplitMessage(text string, maxLength int) []string {
	remaining := []rune(text)
	if maxLength <= 0 || len(remaining) <= maxLength {
		return []string{text}
	}

	var chunks []string
	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			chunks = appendChunk(chunks, remaining)
			break
		}

		breakAt := maxLength
		segment := remaining[:breakAt]

		if countRunes(segment, fence)%2 != 0 {
			breakAt = fenceBreak(remaining, segment, maxLength)
		} else {
			breakAt = textBreak(segment, maxLength)
		}

		chunks = appendChunk(chunks, remaining[:breakAt])
		remaining = []rune(strings.TrimSpace(string(remaining[breakAt:])))
	}
	return chunks
}

func fenceBreak(remaining, segment []rune, maxLength int) int {
	lastFence := lastIndexRunes(segment, fence)
	lineBefore := lastIndexRuneBefore(remaining, '\n', lastFence-1)
	if float64(lineBefore) > float64(maxLength)*minFenceBreak {
		return lineBefore
	}

	fenceEnd := indexRunesFrom(remaining, fence, lastFence+len(fence))
	if fenceEnd == -1 {
		return maxLength // unterminated fence: hard cut
	}
	if blockEnd := indexRuneFrom(remaining, '\n', fenceEnd+len(fence)); blockEnd != -1 {
		return blockEnd + 1
	}
	return fenceEnd + len(fence)
}

func textBreak(segment []rune, maxLength int) int {
	threshold := float64(maxLength) * minTextBreak
	if p := lastIndexRunes(segment, "\n\n"); float64(p) > threshold {
		return p + 1
	}
	if p := lastIndexRuneBefore(segment, '\n', len(segment)-1); float64(p) > threshold {
		return p
	}
	if p := lastIndexRuneBefore(segment, ' ', len(segment)-1); float64(p) > threshold {
		return p
	}
	return maxLength
}

func appendChunk(chunks []string, r []rune) []string {
	if s := strings.TrimSpace(string(r)); s != "" {
		return append(chunks, s)
	}
	return chunks
}

func countRunes(s []rune, sub string) int {
	n := 0
	for i := 0; i+len(sub) <= len(s); {
		if hasPrefixAt(s, sub, i) {
			n++
			i += len(sub)
			continue
		}
		i++
	}
	return n
}

// lastIndexRunes returns the rune index of the last occurrence of sub in s, or -1.
func lastIndexRunes(s []rune, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if hasPrefixAt(s, sub, i) {
			return i
		}
	}
	return -1
}

// lastIndexRuneBefore returns the last index <= from holding r, or -1.
func lastIndexRuneBefore(s []rune, r rune, from int) int {
	if from >= len(s) {
		from = len(s) - 1
	}
	if from < 0 {
		from = 0
	}
	for i := from; i >= 0 && i < len(s); i-- {
		if s[i] == r {
			return i
		}
	}
	return -1
}

func indexRunesFrom(s []rune, sub string, from int) int {
	for i := max(from, 0); i+len(sub) <= len(s); i++ {
		if hasPrefixAt(s, sub, i) {
			return i
		}
	}
	return -1
}

func indexRuneFrom(s []rune, r rune, from int) int {
	for i := max(from, 0); i < len(s); i++ {
		if s[i] == r {
			return i
		}
	}
	return -1
}

// hasPrefixAt reports whether s[i:] starts with the ASCII string sub.
func hasPrefixAt(s []rune, sub string, i int) bool {
	if i < 0 || i+len(sub) > len(s) {
		return false
	}
	for j := 0; j < len(sub); j++ {
		if s[i+j] != rune(sub[j]) {
			return false
		}
	}
	return true
}
