package outbound

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nextlevelbuilder/tgbridge/internal/channels"
)

type sentCall struct {
	method string
	chatID string
	body   string
	opts   channels.SendOptions
	at     time.Time
}

// scriptedTransport returns the queued errors in order, then succeeds.
type scriptedTransport struct {
	mu     sync.Mutex
	calls  []sentCall
	errors []error
}

func (f *scriptedTransport) record(method, chatID, body string, opts channels.SendOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, sentCall{method, chatID, body, opts, time.Now()})
	if len(f.errors) > 0 {
		err := f.errors[0]
		f.errors = f.errors[1:]
		if err != nil {
			return "", err
		}
	}
	return "1", nil
}

func (f *scriptedTransport) SendMessage(_ context.Context, chatID, text string, opts channels.SendOptions) (string, error) {
	return f.record("message", chatID, text, opts)
}

func (f *scriptedTransport) SendPhoto(_ context.Context, chatID, path string, opts channels.SendOptions) (string, error) {
	return f.record("photo", chatID, path, opts)
}

func (f *scriptedTransport) SendDocument(_ context.Context, chatID, path string, opts channels.SendOptions) (string, error) {
	return f.record("document", chatID, path, opts)
}

func (f *scriptedTransport) SendTyping(context.Context, string, string) error { return nil }

func (f *scriptedTransport) SetReaction(context.Context, string, string, string) error { return nil }

func (f *scriptedTransport) DownloadFile(context.Context, string, string) (string, error) {
	return "", errors.New("not supported")
}

func newTestSender(tr channels.Transport, maxLen int) (*Sender, *[]time.Duration) {
	s := NewSender(tr, maxLen)
	var waits []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	return s, &waits
}

func TestSendText_ChunksPacedAndReplyOnFirstOnly(t *testing.T) {
	tr := &scriptedTransport{}
	s, _ := newTestSender(tr, 4000)

	text := strings.Repeat("x", 9000)
	start := time.Now()
	n, err := s.SendText(context.Background(), "42", text, channels.SendOptions{ThreadID: "7", ReplyTo: "100"})
	if err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if n != 3 || len(tr.calls) != 3 {
		t.Fatalf("sent %d chunks (%d calls), want 3", n, len(tr.calls))
	}
	for i, c := range tr.calls {
		if c.opts.ThreadID != "7" {
			t.Errorf("chunk %d thread = %q, want 7", i, c.opts.ThreadID)
		}
		wantReply := ""
		if i == 0 {
			wantReply = "100"
		}
		if c.opts.ReplyTo != wantReply {
			t.Errorf("chunk %d reply_to = %q, want %q", i, c.opts.ReplyTo, wantReply)
		}
		if i > 0 {
			if gap := c.at.Sub(tr.calls[i-1].at); gap < 450*time.Millisecond {
				t.Errorf("gap before chunk %d = %v, want ~500ms", i, gap)
			}
		}
	}
	if elapsed := time.Since(start); elapsed < 900*time.Millisecond {
		t.Errorf("3 chunks took %v, want >= ~1s of pacing", elapsed)
	}
}

func TestSendText_RateLimitRetriesOnce(t *testing.T) {
	tr := &scriptedTransport{errors: []error{&channels.APIError{Code: 429, RetryAfter: 3 * time.Second}}}
	s, waits := newTestSender(tr, 4000)

	if _, err := s.SendText(context.Background(), "1", "hi", channels.SendOptions{}); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if len(tr.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(tr.calls))
	}
	if len(*waits) != 1 || (*waits)[0] != 3*time.Second {
		t.Errorf("waits = %v, want [3s]", *waits)
	}
}

func TestSendText_RateLimitDefaultWaitAndSingleRetry(t *testing.T) {
	limited := &channels.APIError{Code: 429}
	tr := &scriptedTransport{errors: []error{limited, limited}}
	s, waits := newTestSender(tr, 4000)

	_, err := s.SendText(context.Background(), "1", "hi", channels.SendOptions{})
	if err == nil {
		t.Fatal("second 429 should surface as an error")
	}
	if len(tr.calls) != 2 {
		t.Errorf("calls = %d, want exactly one retry", len(tr.calls))
	}
	if len(*waits) != 1 || (*waits)[0] != 5*time.Second {
		t.Errorf("waits = %v, want [5s]", *waits)
	}
}

func TestSendText_StaleReplyRetriedWithoutReference(t *testing.T) {
	tr := &scriptedTransport{errors: []error{&channels.APIError{Code: 400, Description: "Bad Request: message to be replied not found"}}}
	s, _ := newTestSender(tr, 4000)

	if _, err := s.SendText(context.Background(), "1", "hi", channels.SendOptions{ReplyTo: "55"}); err != nil {
		t.Fatalf("SendText() error = %v", err)
	}
	if len(tr.calls) != 2 {
		t.Fatalf("calls = %d, want 2", len(tr.calls))
	}
	if tr.calls[0].opts.ReplyTo != "55" || tr.calls[1].opts.ReplyTo != "" {
		t.Errorf("reply_to sequence = %q, %q", tr.calls[0].opts.ReplyTo, tr.calls[1].opts.ReplyTo)
	}
}

func TestSendText_BadRequestWithoutReplyIsTerminal(t *testing.T) {
	tr := &scriptedTransport{errors: []error{&channels.APIError{Code: 400, Description: "Bad Request: chat not found"}}}
	s, _ := newTestSender(tr, 4000)

	if _, err := s.SendText(context.Background(), "1", "hi", channels.SendOptions{}); err == nil {
		t.Fatal("expected error")
	}
	if len(tr.calls) != 1 {
		t.Errorf("calls = %d, want 1", len(tr.calls))
	}
}

func TestSendPhoto_RetryPolicy(t *testing.T) {
	tr := &scriptedTransport{errors: []error{
		&channels.APIError{Code: 400, Description: "Bad Request: message to be replied not found"},
		&channels.APIError{Code: 429, RetryAfter: time.Second},
	}}
	s, waits := newTestSender(tr, 4000)

	if err := s.SendPhoto(context.Background(), "1", "/tmp/p.jpg", channels.SendOptions{ReplyTo: "9"}); err != nil {
		t.Fatalf("SendPhoto() error = %v", err)
	}
	if len(tr.calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(tr.calls))
	}
	if tr.calls[2].opts.ReplyTo != "" || tr.calls[2].method != "photo" {
		t.Errorf("final call = %+v", tr.calls[2])
	}
	if len(*waits) != 1 {
		t.Errorf("waits = %v, want one rate-limit wait", *waits)
	}
}

func TestSendText_OversizedFenceIsCutToPlatformLimit(t *testing.T) {
	tr := &scriptedTransport{}
	s, _ := newTestSender(tr, 4000)

	text := "```\n" + strings.Repeat("a\n", 2500) + "```"
	if _, err := s.SendText(context.Background(), "1", text, channels.SendOptions{}); err != nil {
		t.Fatal(err)
	}
	for i, c := range tr.calls {
		if n := len([]rune(c.body)); n > PlatformMaxLength {
			t.Errorf("chunk %d len %d exceeds platform limit", i, n)
		}
	}
}
