// Package gateway glues the bridge together: it consumes inbound chat
// events in receipt order, applies authorization, keeps conversation
// history, and forwards triggering messages to the agent.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/tgbridge/internal/agent"
	"github.com/nextlevelbuilder/tgbridge/internal/auth"
	"github.com/nextlevelbuilder/tgbridge/internal/bus"
	"github.com/nextlevelbuilder/tgbridge/internal/channels"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
	"github.com/nextlevelbuilder/tgbridge/internal/endpoint"
	"github.com/nextlevelbuilder/tgbridge/internal/format"
	"github.com/nextlevelbuilder/tgbridge/internal/history"
	"github.com/nextlevelbuilder/tgbridge/internal/metrics"
	"github.com/nextlevelbuilder/tgbridge/internal/outbound"
	"github.com/nextlevelbuilder/tgbridge/internal/typing"
	"github.com/nextlevelbuilder/tgbridge/internal/usercache"
)

// Fixed replies.
const (
	MsgOwnerBound      = "You are now the admin of this bot."
	MsgPrivate         = "Sorry, this bot is private."
	MsgDeliveryFailed  = "Failed to deliver your message, please try again."
	MsgReady           = "Bot is ready. Send me a message!"
	MsgGroupConnected  = "This group is now connected. Mention me to talk to the agent."
	reactionProcessing = "👀"
)

// Forwarder hands a formatted message to the agent. A *agent.RejectionError
// is relayed to the sender; any other error yields the generic notice.
type Forwarder interface {
	Forward(ctx context.Context, endpoint, content string) error
}

// Options wires a Dispatcher.
type Options struct {
	ConfigPath string
	MediaDir   string
	Transport  channels.Transport
	History    *history.Store
	Users      *usercache.Resolver
	Typing     *typing.Correlator
	Agent      Forwarder

	// MaxMessageLength is the reply chunk size; zero uses the default.
	MaxMessageLength int
}

// Dispatcher processes bus events. Handle is called from a single goroutine;
// agent forwards run on their own goroutines.
type Dispatcher struct {
	configPath string
	mediaDir   string
	transport  channels.Transport
	sender     *outbound.Sender
	history    *history.Store
	users      *usercache.Resolver
	typing     *typing.Correlator
	agent      Forwarder
	flood      *channels.SenderRateLimiter
	now        func() time.Time

	botMu       sync.RWMutex
	botUsername string

	forwards sync.WaitGroup
}

// New creates a dispatcher.
func New(opts Options) *Dispatcher {
	maxLength := opts.MaxMessageLength
	if maxLength <= 0 {
		maxLength = config.Default().Features.MaxLength()
	}
	return &Dispatcher{
		configPath: opts.ConfigPath,
		mediaDir:   opts.MediaDir,
		transport:  opts.Transport,
		sender:     outbound.NewSender(opts.Transport, maxLength),
		history:    opts.History,
		users:      opts.Users,
		typing:     opts.Typing,
		agent:      opts.Agent,
		flood:      channels.NewSenderRateLimiter(0, 0),
		now:        time.Now,
	}
}

// SetBotUsername records the bot's username for help texts.
func (d *Dispatcher) SetBotUsername(username string) {
	d.botMu.Lock()
	defer d.botMu.Unlock()
	d.botUsername = username
}

// Run consumes events from src until ctx is done or the source closes, then
// waits for in-flight agent forwards.
func (d *Dispatcher) Run(ctx context.Context, src bus.Source) error {
	events, err := src.Events(ctx)
	if err != nil {
		return err
	}
	defer d.forwards.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			d.Handle(ctx, ev)
		}
	}
}

// Wait blocks until every started agent forward has finished.
func (d *Dispatcher) Wait() { d.forwards.Wait() }

// Handle processes one event. The config is reloaded from disk first so
// admin changes apply without a restart.
func (d *Dispatcher) Handle(ctx context.Context, ev bus.Event) {
	metrics.InboundEvents.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case bus.KindText, bus.KindPhoto, bus.KindDocument, bus.KindCommand:
		if ev.Message == nil {
			return
		}
		d.handleMessage(ctx, ev.Kind, ev.Message)
	case bus.KindMemberAdded:
		if ev.Member != nil {
			d.handleMemberAdded(ctx, ev.Member)
		}
	case bus.KindStatusChanged:
		if ev.Member != nil {
			d.handleStatusChanged(ev.Member)
		}
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, kind bus.Kind, m *bus.Message) {
	cfg := config.LoadOrDefault(d.configPath)
	name := d.users.Resolve(usercache.Profile{
		ID:        m.Sender.ID,
		Username:  m.Sender.Username,
		FirstName: m.Sender.FirstName,
	})

	switch {
	case m.Chat.IsPrivate():
		d.handlePrivate(ctx, cfg, kind, m, name)
	case m.Chat.IsGroup():
		d.handleGroup(ctx, cfg, kind, m, name)
	default:
		slog.Debug("gateway: ignoring chat type", "chat_id", m.Chat.ID, "type", m.Chat.Type)
	}
}

func (d *Dispatcher) handlePrivate(ctx context.Context, cfg *config.Config, kind bus.Kind, m *bus.Message, name string) {
	justBound := false
	if !auth.HasOwner(cfg) {
		if bound, ok := d.bindOwner(cfg, m, name); ok {
			cfg = bound
			justBound = true
			d.reply(ctx, m, MsgOwnerBound)
		}
	}

	if !auth.IsAuthorized(cfg, m.Sender.ID, m.Sender.Username) {
		metrics.Denied.WithLabelValues("dm").Inc()
		slog.Info("gateway: unauthorized private message", "sender_id", m.Sender.ID, "username", m.Sender.Username)
		d.reply(ctx, m, MsgPrivate)
		return
	}

	key := history.Key(m.Chat.ID, m.Chat.ThreadID)
	limit := auth.HistoryLimit(cfg, m.Chat.ID)
	d.replay(key, limit)
	d.record(key, m, name, historyText(kind, m), limit)

	if kind == bus.KindCommand {
		if !(justBound && m.Command == "start") {
			d.handleCommand(ctx, m)
		}
		return
	}
	if !d.admitRate(cfg, m) {
		return
	}
	d.forward(ctx, cfg, kind, m, name, key, limit, false)
}

// bindOwner binds the sender on a copy of cfg and saves it. It returns the
// new snapshot only when the binding reached disk.
func (d *Dispatcher) bindOwner(cfg *config.Config, m *bus.Message, name string) (*config.Config, bool) {
	next := cfg.Clone()
	if err := auth.BindOwner(next, m.Sender.ID, name, d.now()); err != nil {
		slog.Warn("gateway: owner binding refused", "sender_id", m.Sender.ID, "error", err)
		return nil, false
	}
	if err := config.Save(d.configPath, next); err != nil {
		slog.Error("gateway: save owner binding failed", "error", err)
		return nil, false
	}
	slog.Info("gateway: owner bound", "sender_id", m.Sender.ID, "name", name)
	return next, true
}

func (d *Dispatcher) handleGroup(ctx context.Context, cfg *config.Config, kind bus.Kind, m *bus.Message, name string) {
	chatID := m.Chat.ID
	owner := auth.IsOwner(cfg, m.Sender.ID)

	// The owner is implicitly authorized in any group unless groups are off.
	admitted := auth.IsGroupAllowed(cfg, chatID) ||
		(owner && cfg.GroupPolicy != config.GroupPolicyDisabled)
	if !admitted {
		metrics.Denied.WithLabelValues("group").Inc()
		slog.Debug("gateway: group not allowed", "chat_id", chatID, "policy", cfg.GroupPolicy)
		return
	}

	// Every admitted message is context for later mentions, even when this
	// one does not trigger a forward.
	key := history.Key(chatID, m.Chat.ThreadID)
	limit := auth.HistoryLimit(cfg, chatID)
	d.replay(key, limit)
	d.record(key, m, name, historyText(kind, m), limit)

	if !owner && !auth.IsSenderAllowedInGroup(cfg, chatID, m.Sender.ID) {
		metrics.Denied.WithLabelValues("sender").Inc()
		slog.Debug("gateway: sender filtered in group", "chat_id", chatID, "sender_id", m.Sender.ID)
		return
	}

	if kind == bus.KindCommand {
		d.handleCommand(ctx, m)
		return
	}

	broadcast := auth.IsBroadcastGroup(cfg, chatID)
	repliesToBot := m.ReplyTo != nil && m.ReplyTo.FromBot
	if !m.Mentioned && !repliesToBot && !broadcast {
		return
	}
	if !d.admitRate(cfg, m) {
		return
	}
	d.forward(ctx, cfg, kind, m, name, key, limit, broadcast)
}

// admitRate applies features.flood_limit. A dropped message stays in history
// so the next forwarded one still carries it as context.
func (d *Dispatcher) admitRate(cfg *config.Config, m *bus.Message) bool {
	limit := cfg.Features.FloodLimit
	if limit <= 0 {
		return true
	}
	d.flood.SetMaxHits(limit)
	if d.flood.Allow(m.Sender.ID) {
		return true
	}
	metrics.Denied.WithLabelValues("flood").Inc()
	slog.Warn("gateway: sender over flood limit, not forwarding",
		"sender_id", m.Sender.ID, "chat_id", m.Chat.ID, "limit_per_minute", limit)
	return false
}

// forward formats the message with its context and hands it to the agent on
// a separate goroutine. Typing runs until the reply path writes the
// completion marker or the forward fails.
func (d *Dispatcher) forward(ctx context.Context, cfg *config.Config, kind bus.Kind, m *bus.Message, name, key string, limit int, broadcast bool) {
	payload := format.Message{
		IsGroup:    m.Chat.IsGroup(),
		SenderName: name,
		Text:       messageText(kind, m),
	}
	if payload.IsGroup {
		fallback := m.Chat.Title
		if fallback == "" {
			fallback = "group"
		}
		payload.GroupName = auth.GroupName(cfg, m.Chat.ID, fallback)
		for _, e := range d.history.Recent(key, m.MessageID, limit) {
			payload.Context = append(payload.Context, format.Line{Name: e.SenderName, Text: e.Text})
		}
	}
	if r := m.ReplyTo; r != nil {
		replyName := r.SenderName
		if replyName == "" && r.SenderID != "" {
			replyName = d.users.CachedName(r.SenderID)
		}
		payload.ReplyTo = &format.Line{Name: replyName, Text: r.Text}
	}

	if m.Media != nil {
		if cfg.Features.DownloadMedia {
			path, err := d.transport.DownloadFile(ctx, m.Media.FileID, d.mediaDir)
			if err != nil {
				slog.Warn("gateway: media download failed", "file_id", m.Media.FileID, "error", err)
				d.reply(ctx, m, MsgDeliveryFailed)
				return
			}
			payload.MediaPath = path
		} else {
			payload.Text = historyText(kind, m)
		}
	}

	if broadcast {
		if err := d.transport.SetReaction(ctx, m.Chat.ID, m.MessageID, reactionProcessing); err != nil {
			slog.Debug("gateway: set reaction failed", "chat_id", m.Chat.ID, "error", err)
		}
	}

	ep := endpoint.Endpoint{
		ChatID:        m.Chat.ID,
		MessageID:     m.MessageID,
		CorrelationID: endpoint.CorrelationID(m.Chat.ID, m.MessageID),
		ThreadID:      m.Chat.ThreadID,
	}
	content := format.Format(payload)
	corrID := d.typing.Start(ctx, m.Chat.ID, m.Chat.ThreadID, m.MessageID)

	slog.Info("gateway: forwarding to agent", "endpoint", ep.String(), "sender", name, "broadcast", broadcast)

	msg := *m
	d.forwards.Add(1)
	go func() {
		defer d.forwards.Done()
		// Once forwarded the request is not cancelled; the bridge timeout bounds it.
		fctx := context.WithoutCancel(ctx)
		err := d.agent.Forward(fctx, ep.String(), content)
		if err == nil {
			return
		}
		d.typing.Complete(corrID)
		if broadcast {
			_ = d.transport.SetReaction(fctx, msg.Chat.ID, msg.MessageID, "")
		}

		var rej *agent.RejectionError
		if errors.As(err, &rej) {
			slog.Warn("gateway: agent rejected message", "endpoint", ep.String(), "code", rej.Code)
			d.reply(fctx, &msg, rej.UserMessage())
			return
		}
		slog.Error("gateway: agent forward failed", "endpoint", ep.String(), "error", err)
		d.reply(fctx, &msg, MsgDeliveryFailed)
	}()
}

func (d *Dispatcher) replay(key string, limit int) {
	if err := d.history.EnsureReplay(key, limit); err != nil {
		slog.Warn("gateway: history replay failed, will retry", "key", key, "error", err)
	}
}

func (d *Dispatcher) record(key string, m *bus.Message, name, text string, limit int) {
	e := history.Entry{
		Timestamp:  d.now(),
		MessageID:  m.MessageID,
		SenderID:   m.Sender.ID,
		SenderName: name,
		Text:       text,
		ThreadID:   m.Chat.ThreadID,
	}
	if _, err := d.history.RecordAndLog(key, e, limit); err != nil {
		slog.Warn("gateway: append history log failed", "key", key, "error", err)
	}
}

// reply answers m in its chat and thread, quoting it.
func (d *Dispatcher) reply(ctx context.Context, m *bus.Message, text string) {
	opts := channels.SendOptions{ThreadID: m.Chat.ThreadID, ReplyTo: m.MessageID}
	if _, err := d.sender.SendText(ctx, m.Chat.ID, text, opts); err != nil {
		slog.Warn("gateway: reply failed", "chat_id", m.Chat.ID, "error", err)
	}
}

// send posts text to a chat outside any message context.
func (d *Dispatcher) send(ctx context.Context, chatID, threadID, text string) {
	if _, err := d.sender.SendText(ctx, chatID, text, channels.SendOptions{ThreadID: threadID}); err != nil {
		slog.Warn("gateway: send failed", "chat_id", chatID, "error", err)
	}
}
