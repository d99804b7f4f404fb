package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/tgbridge/internal/channels"
	"github.com/nextlevelbuilder/tgbridge/internal/channels/telegram"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
	"github.com/nextlevelbuilder/tgbridge/internal/endpoint"
	"github.com/nextlevelbuilder/tgbridge/internal/loopback"
	"github.com/nextlevelbuilder/tgbridge/internal/outbound"
	"github.com/nextlevelbuilder/tgbridge/internal/typing"
)

// Reply directives understood by send.
const (
	skipDirective  = "[SKIP]"
	imageDirective = "[MEDIA:image]"
	fileDirective  = "[MEDIA:file]"
)

const sendTimeout = 2 * time.Minute

func sendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <endpoint> <message>",
		Short: "Deliver an agent reply to the chat addressed by endpoint",
		Long: `Deliver an agent reply. The message may be plain text (split into chunks
as needed), "[SKIP]" to send nothing, "[MEDIA:image]<path>" for a photo or
"[MEDIA:file]<path>" for a document.`,
		Args:         cobra.MinimumNArgs(2),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return runSend(args[0], strings.Join(args[1:], " "))
		},
	}
}

// reply is a parsed agent reply.
type reply struct {
	skip     bool
	photo    string
	document string
	text     string
}

func parseReply(message string) reply {
	trimmed := strings.TrimSpace(message)
	switch {
	case trimmed == skipDirective:
		return reply{skip: true}
	case strings.HasPrefix(trimmed, imageDirective):
		return reply{photo: config.ExpandHome(strings.TrimSpace(strings.TrimPrefix(trimmed, imageDirective)))}
	case strings.HasPrefix(trimmed, fileDirective):
		return reply{document: config.ExpandHome(strings.TrimSpace(strings.TrimPrefix(trimmed, fileDirective)))}
	}
	return reply{text: message}
}

// historyText is what the reply looks like in conversation history.
func (r reply) historyText() string {
	switch {
	case r.photo != "":
		return "[sent a photo]"
	case r.document != "":
		return "[sent a file: " + filepath.Base(r.document) + "]"
	}
	return r.text
}

func runSend(rawEndpoint, message string) error {
	ep, err := endpoint.Parse(rawEndpoint)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", rawEndpoint, err)
	}
	r := parseReply(message)
	if !r.skip && r.photo == "" && r.document == "" && strings.TrimSpace(r.text) == "" {
		return fmt.Errorf("empty message")
	}

	paths := resolvePaths()
	cfg := config.LoadOrDefault(paths.ConfigFile)
	if cfg.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is not set (env or %s)", paths.EnvFile())
	}
	tg, err := telegram.New(telegram.Config{Token: cfg.BotToken, Proxy: cfg.ProxyURL})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	d := &replyDelivery{
		transport: tg,
		recorder:  loopback.NewClient(cfg.InternalPort, cfg.BotToken),
		maxLength: cfg.Features.MaxLength(),
		typingDir: paths.TypingDir(),
	}
	return d.deliver(ctx, ep, r)
}

// outgoingRecorder reports a delivered reply to the running gateway.
type outgoingRecorder interface {
	RecordOutgoing(ctx context.Context, chatID, threadID, text string) error
}

// replyDelivery sends one parsed reply and closes the typing session it
// answers.
type replyDelivery struct {
	transport channels.Transport
	recorder  outgoingRecorder
	maxLength int
	typingDir string
}

// deliver sends r to ep. The processing reaction is always cleared. The
// completion marker is written only when the reply is skipped or went out,
// so a failed send leaves typing to the gateway's timeout.
func (d *replyDelivery) deliver(ctx context.Context, ep endpoint.Endpoint, r reply) error {
	defer d.clearReaction(ctx, ep)

	if r.skip {
		slog.Info("send: reply skipped", "chat_id", ep.ChatID)
		d.markDone(ep)
		return nil
	}

	sender := outbound.NewSender(d.transport, d.maxLength)
	opts := channels.SendOptions{ThreadID: ep.ThreadID, ReplyTo: ep.MessageID}
	var err error
	switch {
	case r.photo != "":
		err = sender.SendPhoto(ctx, ep.ChatID, r.photo, opts)
	case r.document != "":
		err = sender.SendDocument(ctx, ep.ChatID, r.document, opts)
	default:
		var n int
		n, err = sender.SendText(ctx, ep.ChatID, r.text, opts)
		slog.Info("send: delivered", "chat_id", ep.ChatID, "chunks", n)
	}
	if err != nil {
		return fmt.Errorf("send reply: %w", err)
	}

	d.markDone(ep)
	if err := d.recorder.RecordOutgoing(ctx, ep.ChatID, ep.ThreadID, r.historyText()); err != nil {
		// The gateway may not be running; the reply itself went out.
		slog.Warn("send: record outgoing failed", "error", err)
	}
	return nil
}

func (d *replyDelivery) clearReaction(ctx context.Context, ep endpoint.Endpoint) {
	if ep.MessageID == "" {
		return
	}
	if err := d.transport.SetReaction(ctx, ep.ChatID, ep.MessageID, ""); err != nil {
		slog.Debug("send: clear reaction failed", "error", err)
	}
}

func (d *replyDelivery) markDone(ep endpoint.Endpoint) {
	if err := typing.MarkDone(d.typingDir, ep.CorrelationID); err != nil {
		slog.Warn("send: write completion marker failed", "error", err)
	}
}
