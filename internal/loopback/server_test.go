package loopback

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tgbridge/internal/history"
)

const testBotToken = "123:abc"

func newTestServer(t *testing.T) (*Server, *history.Store, *httptest.Server) {
	t.Helper()
	store := history.NewStore(t.TempDir())
	srv := NewServer(testBotToken, store, func(string) int { return 5 })
	srv.SetBotIdentity("999", "tgbridge_bot")
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, store, ts
}

func post(t *testing.T, url, token, body string) int {
	t.Helper()
	req, _ := http.NewRequest(http.MethodPost, url+RecordOutgoingPath, strings.NewReader(body))
	if token != "" {
		req.Header.Set(TokenHeader, token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestTokenFor(t *testing.T) {
	// sha256("") is a well-known constant.
	if got := TokenFor(""); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("TokenFor(\"\") = %s", got)
	}
	if TokenFor("a") == TokenFor("b") {
		t.Error("different bot tokens must give different loopback tokens")
	}
}

func TestRecordOutgoing_StatusCodes(t *testing.T) {
	_, _, ts := newTestServer(t)
	good := TokenFor(testBotToken)

	tests := []struct {
		name  string
		token string
		body  string
		want  int
	}{
		{"ok", good, `{"chatId":"42","text":"hello"}`, http.StatusOK},
		{"numeric ids", good, `{"chatId":-100123,"threadId":7,"text":"hi"}`, http.StatusOK},
		{"missing token", "", `{"chatId":"42","text":"hello"}`, http.StatusForbidden},
		{"wrong token", TokenFor("other"), `{"chatId":"42","text":"hello"}`, http.StatusForbidden},
		{"bad json", good, `{"chatId":`, http.StatusBadRequest},
		{"missing chat", good, `{"text":"hello"}`, http.StatusBadRequest},
		{"empty text", good, `{"chatId":"42","text":"  "}`, http.StatusBadRequest},
		{"too large", good, `{"chatId":"42","text":"` + strings.Repeat("x", MaxBodyBytes) + `"}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := post(t, ts.URL, tt.token, tt.body); got != tt.want {
				t.Errorf("status = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestRecordOutgoing_StoresTruncatedBotEntry(t *testing.T) {
	_, store, ts := newTestServer(t)

	body := `{"chatId":"-100","threadId":"9","text":"` + strings.Repeat("y", 800) + `"}`
	if got := post(t, ts.URL, TokenFor(testBotToken), body); got != http.StatusOK {
		t.Fatalf("status = %d", got)
	}

	recent := store.Recent(history.Key("-100", "9"), "", 5)
	if len(recent) != 1 {
		t.Fatalf("recent = %d entries, want 1", len(recent))
	}
	e := recent[0]
	if !e.Synthetic || e.SenderID != "999" || e.SenderName != "tgbridge_bot" {
		t.Errorf("entry = %+v, want a synthetic bot entry", e)
	}
	if len(e.Text) != MaxRecordedText {
		t.Errorf("text len = %d, want %d", len(e.Text), MaxRecordedText)
	}
	if e.ThreadID != "9" {
		t.Errorf("thread = %q, want 9", e.ThreadID)
	}
}

func TestClient_RecordOutgoing(t *testing.T) {
	_, store, ts := newTestServer(t)

	c := NewClient(0, testBotToken)
	c.baseURL = ts.URL
	if err := c.RecordOutgoing(context.Background(), "42", "", "[sent a photo]"); err != nil {
		t.Fatalf("RecordOutgoing() error = %v", err)
	}
	if got := store.Recent("42", "", 5); len(got) != 1 || got[0].Text != "[sent a photo]" {
		t.Errorf("recent = %+v", got)
	}

	bad := NewClient(0, "wrong-token")
	bad.baseURL = ts.URL
	if err := bad.RecordOutgoing(context.Background(), "42", "", "x"); err == nil {
		t.Error("RecordOutgoing() with a wrong token should fail")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "tgbridge_recorded_outgoing_total") {
		t.Errorf("GET /metrics = %d, body missing tgbridge collectors", resp.StatusCode)
	}
}
