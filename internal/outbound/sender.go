package outbound

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/tgbridge/internal/channels"
	"github.com/nextlevelbuilder/tgbridge/internal/metrics"
)

const (
	// DefaultChunkInterval is the pause between chunks of one reply.
	DefaultChunkInterval = 500 * time.Millisecond

	// PlatformMaxLength is Telegram's hard limit for one text message.
	PlatformMaxLength = 4096
)

// Sender delivers replies through a Transport. It is safe for concurrent use;
// the pacing limiter is shared by every reply sent through it.
type Sender struct {
	transport channels.Transport
	maxLength int
	limiter   *rate.Limiter
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewSender creates a sender splitting text at maxLength characters.
func NewSender(t channels.Transport, maxLength int) *Sender {
	return &Sender{
		transport: t,
		maxLength: maxLength,
		limiter:   rate.NewLimiter(rate.Every(DefaultChunkInterval), 1),
		sleep:     sleepCtx,
	}
}

// SendText splits text and sends the chunks in order. Only the first chunk
// replies to opts.ReplyTo; every chunk goes to opts.ThreadID. It returns the
// number of chunks delivered.
func (s *Sender) SendText(ctx context.Context, chatID, text string, opts channels.SendOptions) (int, error) {
	var chunks []string
	for _, c := range SplitMessage(text, s.maxLength) {
		// A fenced block longer than the platform limit cannot be sent whole.
		chunks = append(chunks, hardCut(c, PlatformMaxLength)...)
	}

	for i, chunk := range chunks {
		if err := s.limiter.Wait(ctx); err != nil {
			return i, err
		}
		chunkOpts := opts
		if i > 0 {
			chunkOpts.ReplyTo = ""
		}
		_, err := s.deliver(ctx, chunkOpts, func(o channels.SendOptions) (string, error) {
			return s.transport.SendMessage(ctx, chatID, chunk, o)
		})
		if err != nil {
			return i, fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		metrics.ChunksSent.Inc()
		slog.Debug("outbound: sent chunk", "chat_id", chatID, "chunk", i+1, "of", len(chunks))
	}
	return len(chunks), nil
}

// SendPhoto uploads a local image with the same retry policy as text.
func (s *Sender) SendPhoto(ctx context.Context, chatID, path string, opts channels.SendOptions) error {
	_, err := s.deliver(ctx, opts, func(o channels.SendOptions) (string, error) {
		return s.transport.SendPhoto(ctx, chatID, path, o)
	})
	return err
}

// SendDocument uploads a local file with the same retry policy as text.
func (s *Sender) SendDocument(ctx context.Context, chatID, path string, opts channels.SendOptions) error {
	_, err := s.deliver(ctx, opts, func(o channels.SendOptions) (string, error) {
		return s.transport.SendDocument(ctx, chatID, path, o)
	})
	return err
}

// deliver runs send with the retry policy: a 429 waits for the advertised
// backoff and retries once; a 400 while replying retries once without the
// reply reference, since the referenced message may be gone.
func (s *Sender) deliver(ctx context.Context, opts channels.SendOptions, send func(channels.SendOptions) (string, error)) (string, error) {
	id, err := s.withRateLimitRetry(ctx, opts, send)
	if err == nil {
		return id, nil
	}
	if opts.ReplyTo != "" && channels.IsBadRequest(err) && !channels.IsThreadNotFound(err) {
		slog.Warn("outbound: reply target rejected, sending without reply", "reply_to", opts.ReplyTo, "error", err)
		metrics.SendRetries.WithLabelValues("reply_missing").Inc()
		opts.ReplyTo = ""
		return s.withRateLimitRetry(ctx, opts, send)
	}
	return "", err
}

func (s *Sender) withRateLimitRetry(ctx context.Context, opts channels.SendOptions, send func(channels.SendOptions) (string, error)) (string, error) {
	id, err := send(opts)
	if err == nil {
		return id, nil
	}
	wait, limited := channels.IsRateLimited(err)
	if !limited {
		return "", err
	}
	slog.Warn("outbound: rate limited, retrying", "wait", wait)
	metrics.SendRetries.WithLabelValues("rate_limit").Inc()
	if err := s.sleep(ctx, wait); err != nil {
		return "", err
	}
	return send(opts)
}

func hardCut(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > n {
		out = append(out, string(r[:n]))
		r = r[n:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
