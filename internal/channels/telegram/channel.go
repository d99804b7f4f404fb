package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/tgbridge/internal/bus"
)

// Config holds what the adapter needs to reach the Bot API.
type Config struct {
	Token string
	Proxy string // optional HTTP proxy URL
}

// Channel connects to Telegram via the Bot API using long polling. It turns
// updates into bus events and implements channels.Transport for replies.
type Channel struct {
	bot        *telego.Bot
	token      string
	httpClient *http.Client

	botID    string
	username string

	pollCancel context.CancelFunc // cancels the long polling context
	pollDone   chan struct{}      // closed when polling goroutine exits
}

// New creates a Telegram channel. It does not contact the API.
func New(cfg Config) (*Channel, error) {
	httpClient := &http.Client{Timeout: 60 * time.Second}
	if cfg.Proxy != "" {
		proxyURL, parseErr := url.Parse(cfg.Proxy)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, parseErr)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	bot, err := telego.NewBot(cfg.Token, telego.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	return &Channel{
		bot:        bot,
		token:      cfg.Token,
		httpClient: httpClient,
	}, nil
}

// Identify fetches the bot's own user and caches its ID and username.
func (c *Channel) Identify(ctx context.Context) error {
	me, err := c.bot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram getMe: %w", err)
	}
	c.botID = strconv.FormatInt(me.ID, 10)
	c.username = me.Username
	return nil
}

// BotID returns the bot's user ID once Identify succeeded.
func (c *Channel) BotID() string { return c.botID }

// Username returns the bot's username without '@'.
func (c *Channel) Username() string { return c.username }

// Events starts long polling and returns converted updates in receipt order.
// The channel is closed when polling stops.
func (c *Channel) Events(ctx context.Context) (<-chan bus.Event, error) {
	slog.Info("telegram: starting bot (polling mode)")

	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout: 30,
		AllowedUpdates: []string{
			"message",
			"my_chat_member",
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start long polling: %w", err)
	}
	slog.Info("telegram: bot connected", "username", c.username)

	go func() {
		commands := DefaultMenuCommands()
		for attempt := 1; attempt <= 3; attempt++ {
			if err := c.SyncMenuCommands(pollCtx, commands); err != nil {
				slog.Warn("telegram: failed to sync menu commands", "error", err, "attempt", attempt)
				if attempt < 3 {
					select {
					case <-pollCtx.Done():
						return
					case <-time.After(time.Duration(attempt*5) * time.Second):
					}
				}
			} else {
				slog.Debug("telegram: menu commands synced")
				return
			}
		}
	}()

	out := make(chan bus.Event, 64)
	go func() {
		defer close(c.pollDone)
		defer close(out)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					slog.Info("telegram: updates channel closed")
					return
				}
				ev, ok := convertUpdate(update, c.botID, c.username)
				if !ok {
					slog.Debug("telegram: update skipped", "update_id", update.UpdateID)
					continue
				}
				select {
				case out <- ev:
				case <-pollCtx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Stop cancels long polling and waits for the polling goroutine to exit, so
// Telegram releases the getUpdates lock before another instance starts.
func (c *Channel) Stop() {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
			slog.Info("telegram: bot stopped")
		case <-time.After(10 * time.Second):
			slog.Warn("telegram: polling goroutine did not exit within timeout")
		}
	}
}

// telegramGeneralTopicID is the fixed topic ID of the "General" topic in
// forum supergroups.
const telegramGeneralTopicID = 1

// resolveThreadIDForSend returns the thread ID for send calls. The General
// topic must be omitted; Telegram rejects it with "thread not found".
func resolveThreadIDForSend(threadID int) int {
	if threadID == telegramGeneralTopicID {
		return 0
	}
	return threadID
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram id %q", s)
	}
	return id, nil
}

func parseThreadID(s string) int {
	if s == "" {
		return 0
	}
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return resolveThreadIDForSend(id)
}
