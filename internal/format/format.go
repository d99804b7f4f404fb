// Package format builds the text payload handed to the agent for one inbound
// message.
//
// Layout:
//
//	[TG DM] alice said: <recent-context>
//	[bob]: earlier message
//	</recent-context>
//
//	<replying-to>
//	[bob]: the quoted message
//	</replying-to>
//
//	<current-message>
//	the new message ---- file: /path/to/media
//	</current-message>
//
// Empty blocks are omitted. Names and texts are HTML-escaped so user content
// cannot forge a tag boundary.
package format

import (
	"html"
	"strings"
)

const (
	tagContext = "recent-context"
	tagReply   = "replying-to"
	tagCurrent = "current-message"

	// MediaSeparator joins a message text and the local path of its media.
	MediaSeparator = " ---- file: "
)

// Line is one prior message rendered in a context or reply block.
type Line struct {
	Name string
	Text string
}

// Message is everything the formatter needs for one payload.
type Message struct {
	IsGroup    bool
	GroupName  string
	SenderName string
	Text       string
	MediaPath  string
	Context    []Line
	ReplyTo    *Line
}

// Prefix returns "[TG DM]" or "[TG GROUP:<name>]".
func Prefix(isGroup bool, groupName string) string {
	if !isGroup {
		return "[TG DM]"
	}
	return "[TG GROUP:" + escape(groupName) + "]"
}

// Format renders m as the agent payload.
func Format(m Message) string {
	var b strings.Builder
	b.WriteString(Prefix(m.IsGroup, m.GroupName))
	b.WriteString(" ")
	b.WriteString(escape(m.SenderName))
	b.WriteString(" said: ")

	if len(m.Context) > 0 {
		openTag(&b, tagContext)
		for _, l := range m.Context {
			writeLine(&b, l)
		}
		closeTag(&b, tagContext)
		b.WriteString("\n")
	}

	if m.ReplyTo != nil {
		openTag(&b, tagReply)
		writeLine(&b, *m.ReplyTo)
		closeTag(&b, tagReply)
		b.WriteString("\n")
	}

	openTag(&b, tagCurrent)
	b.WriteString(escape(m.Text))
	if m.MediaPath != "" {
		b.WriteString(MediaSeparator)
		b.WriteString(escape(m.MediaPath))
	}
	b.WriteString("\n")
	closeTag(&b, tagCurrent)

	return strings.TrimRight(b.String(), "\n")
}

func writeLine(b *strings.Builder, l Line) {
	b.WriteString("[")
	b.WriteString(escape(l.Name))
	b.WriteString("]: ")
	b.WriteString(escape(l.Text))
	b.WriteString("\n")
}

func openTag(b *strings.Builder, tag string) {
	b.WriteString("<" + tag + ">\n")
}

func closeTag(b *strings.Builder, tag string) {
	b.WriteString("</" + tag + ">\n")
}

func escape(s string) string {
	return html.EscapeString(s)
}
