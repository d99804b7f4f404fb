package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/nextlevelbuilder/tgbridge/internal/channels"
	"github.com/nextlevelbuilder/tgbridge/internal/endpoint"
	"github.com/nextlevelbuilder/tgbridge/internal/loopback"
)

func TestParseReply(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    reply
		history string
	}{
		{"text", "hello there", reply{text: "hello there"}, "hello there"},
		{"skip", "  [SKIP]\n", reply{skip: true}, ""},
		{"photo", "[MEDIA:image]/tmp/chart.png", reply{photo: "/tmp/chart.png"}, "[sent a photo]"},
		{"document", "[MEDIA:file] /tmp/out/report.pdf", reply{document: "/tmp/out/report.pdf"}, "[sent a file: report.pdf]"},
		{"skip inside text", "do not [SKIP] this", reply{text: "do not [SKIP] this"}, "do not [SKIP] this"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseReply(tt.message)
			if got != tt.want {
				t.Fatalf("parseReply(%q) = %+v, want %+v", tt.message, got, tt.want)
			}
			if h := got.historyText(); h != tt.history {
				t.Errorf("historyText() = %q, want %q", h, tt.history)
			}
		})
	}
}

// stubTransport records what send delivers and fails every send when err is set.
type stubTransport struct {
	mu        sync.Mutex
	err       error
	texts     []string
	photos    []string
	documents []string
	cleared   []string
}

func (s *stubTransport) SendMessage(_ context.Context, _, text string, _ channels.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.texts = append(s.texts, text)
	return strconv.Itoa(len(s.texts)), nil
}

func (s *stubTransport) SendPhoto(_ context.Context, _, path string, _ channels.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.photos = append(s.photos, path)
	return "1", nil
}

func (s *stubTransport) SendDocument(_ context.Context, _, path string, _ channels.SendOptions) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.documents = append(s.documents, path)
	return "1", nil
}

func (s *stubTransport) SendTyping(context.Context, string, string) error { return nil }

func (s *stubTransport) SetReaction(_ context.Context, _, messageID, emoji string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if emoji == "" {
		s.cleared = append(s.cleared, messageID)
	}
	return nil
}

func (s *stubTransport) DownloadFile(context.Context, string, string) (string, error) {
	return "", errors.New("not supported")
}

// recordingGateway stands in for the gateway's loopback listener.
type recordingGateway struct {
	mu      sync.Mutex
	records []loopback.RecordRequest
	tokens  []string
}

func (g *recordingGateway) handler(w http.ResponseWriter, r *http.Request) {
	var req loopback.RecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	g.mu.Lock()
	g.records = append(g.records, req)
	g.tokens = append(g.tokens, r.Header.Get(loopback.TokenHeader))
	g.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func newRecordingGateway(t *testing.T) (*recordingGateway, int) {
	t.Helper()
	g := &recordingGateway{}
	mux := http.NewServeMux()
	mux.HandleFunc(loopback.RecordOutgoingPath, g.handler)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse port: %v", err)
	}
	return g, port
}

func TestReplyDelivery(t *testing.T) {
	const botToken = "123:abc"
	ep := endpoint.Endpoint{
		ChatID:        "-100200",
		MessageID:     "42",
		CorrelationID: endpoint.CorrelationID("-100200", "42"),
		ThreadID:      "7",
	}

	tests := []struct {
		name        string
		message     string
		sendErr     error
		wantErr     bool
		wantMarker  bool
		wantTexts   int
		wantPhotos  int
		wantRecord  string
		wantRecords int
	}{
		{
			name:       "skip",
			message:    "[SKIP]",
			wantMarker: true,
		},
		{
			name:        "text",
			message:     "all done",
			wantMarker:  true,
			wantTexts:   1,
			wantRecord:  "all done",
			wantRecords: 1,
		},
		{
			name:        "photo",
			message:     "[MEDIA:image]/tmp/chart.png",
			wantMarker:  true,
			wantPhotos:  1,
			wantRecord:  "[sent a photo]",
			wantRecords: 1,
		},
		{
			name:    "send failure",
			message: "all done",
			sendErr: errors.New("connection reset"),
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, port := newRecordingGateway(t)
			tr := &stubTransport{err: tt.sendErr}
			typingDir := t.TempDir()
			d := &replyDelivery{
				transport: tr,
				recorder:  loopback.NewClient(port, botToken),
				maxLength: 4000,
				typingDir: typingDir,
			}

			err := d.deliver(context.Background(), ep, parseReply(tt.message))
			if (err != nil) != tt.wantErr {
				t.Fatalf("deliver() error = %v, wantErr %v", err, tt.wantErr)
			}

			marker := filepath.Join(typingDir, ep.CorrelationID+".done")
			_, statErr := os.Stat(marker)
			if hasMarker := statErr == nil; hasMarker != tt.wantMarker {
				t.Errorf("completion marker present = %v, want %v", hasMarker, tt.wantMarker)
			}

			if len(tr.cleared) != 1 || tr.cleared[0] != ep.MessageID {
				t.Errorf("cleared reactions = %v, want [%s]", tr.cleared, ep.MessageID)
			}
			if len(tr.texts) != tt.wantTexts {
				t.Errorf("texts sent = %d, want %d", len(tr.texts), tt.wantTexts)
			}
			if len(tr.photos) != tt.wantPhotos {
				t.Errorf("photos sent = %d, want %d", len(tr.photos), tt.wantPhotos)
			}

			gw.mu.Lock()
			defer gw.mu.Unlock()
			if len(gw.records) != tt.wantRecords {
				t.Fatalf("recorded replies = %d, want %d", len(gw.records), tt.wantRecords)
			}
			if tt.wantRecords == 0 {
				return
			}
			got := gw.records[0]
			if string(got.ChatID) != ep.ChatID || string(got.ThreadID) != ep.ThreadID || got.Text != tt.wantRecord {
				t.Errorf("recorded %+v, want chat %s thread %s text %q", got, ep.ChatID, ep.ThreadID, tt.wantRecord)
			}
			if gw.tokens[0] != loopback.TokenFor(botToken) {
				t.Errorf("token header = %q, want the derived loopback token", gw.tokens[0])
			}
		})
	}
}

func TestReplyDelivery_GatewayDownStillSucceeds(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	u, _ := url.Parse(ts.URL)
	_, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)
	ts.Close()

	typingDir := t.TempDir()
	ep := endpoint.Endpoint{ChatID: "555", MessageID: "9", CorrelationID: "555:9"}
	d := &replyDelivery{
		transport: &stubTransport{},
		recorder:  loopback.NewClient(port, "tok"),
		maxLength: 4000,
		typingDir: typingDir,
	}
	if err := d.deliver(context.Background(), ep, parseReply("hi")); err != nil {
		t.Fatalf("deliver() error = %v, want nil when only recording fails", err)
	}
	if _, err := os.Stat(filepath.Join(typingDir, "555:9.done")); err != nil {
		t.Errorf("completion marker missing: %v", err)
	}
}
