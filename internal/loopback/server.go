// Package loopback is the gateway's local HTTP listener. The reply path
// (tgbridge send) reports what the bot said through it so outgoing messages
// appear in conversation history, and it serves prometheus metrics.
package loopback

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/tgbridge/internal/auth"
	"github.com/nextlevelbuilder/tgbridge/internal/config"
	"github.com/nextlevelbuilder/tgbridge/internal/history"
	"github.com/nextlevelbuilder/tgbridge/internal/metrics"
)

const (
	RecordOutgoingPath = "/internal/record-outgoing"
	TokenHeader        = "X-Internal-Token"

	// MaxBodyBytes caps a record-outgoing request body.
	MaxBodyBytes = 64 << 10
	// MaxRecordedText is how much of a reply is kept in history.
	MaxRecordedText = 500
)

// TokenFor derives the shared loopback token from the bot token, so both
// sides agree on it without extra configuration.
func TokenFor(botToken string) string {
	sum := sha256.Sum256([]byte(botToken))
	return hex.EncodeToString(sum[:])
}

// RecordRequest is the record-outgoing body.
type RecordRequest struct {
	ChatID   config.FlexibleString `json:"chatId"`
	ThreadID config.FlexibleString `json:"threadId,omitempty"`
	Text     string                `json:"text"`
}

// Server records bot replies into the history store.
type Server struct {
	token    string
	store    *history.Store
	limitFor func(chatID string) int
	now      func() time.Time

	mu      sync.RWMutex
	botID   string
	botName string
}

// NewServer creates a listener accepting requests signed with botToken.
// limitFor returns the history window for a chat.
func NewServer(botToken string, store *history.Store, limitFor func(chatID string) int) *Server {
	return &Server{
		token:    TokenFor(botToken),
		store:    store,
		limitFor: limitFor,
		now:      time.Now,
		botName:  "bot",
	}
}

// LimitFromConfig reads the per-chat history window from the config on disk.
func LimitFromConfig(path string) func(chatID string) int {
	return func(chatID string) int {
		return auth.HistoryLimit(config.LoadOrDefault(path), chatID)
	}
}

// SetBotIdentity sets the sender recorded for bot replies.
func (s *Server) SetBotIdentity(id, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.botID = id
	if name != "" {
		s.botName = name
	}
}

// RegisterRoutes registers the loopback routes on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST "+RecordOutgoingPath, s.auth(s.handleRecordOutgoing))
	mux.Handle("GET /metrics", metrics.Handler())
}

// ListenAndServe serves on 127.0.0.1:port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:              net.JoinHostPort("127.0.0.1", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("loopback: listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("loopback listener: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := r.Header.Get(TokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) != 1 {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
			return
		}
		next(w, r)
	}
}

func (s *Server) handleRecordOutgoing(w http.ResponseWriter, r *http.Request) {
	var req RecordRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	chatID := auth.NormalizeID(string(req.ChatID))
	if chatID == "" || strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatId and text are required"})
		return
	}
	threadID := strings.TrimSpace(string(req.ThreadID))
	text := truncate(req.Text, MaxRecordedText)

	s.mu.RLock()
	botID, botName := s.botID, s.botName
	s.mu.RUnlock()

	key := history.Key(chatID, threadID)
	limit := s.limitFor(chatID)
	if err := s.store.EnsureReplay(key, limit); err != nil {
		slog.Warn("loopback: history replay failed", "key", key, "error", err)
	}
	entry := history.NewBotEntry(botID, botName, text, threadID, s.now())
	if _, err := s.store.RecordAndLog(key, entry, limit); err != nil {
		slog.Warn("loopback: append log failed", "key", key, "error", err)
	}
	metrics.RecordedOutgoing.Inc()
	slog.Debug("loopback: recorded outgoing", "key", key, "len", utf8.RuneCountInString(text))

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
