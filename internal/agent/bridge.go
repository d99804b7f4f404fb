// Package agent forwards formatted chat messages to the external agent
// through its receive command.
//
// The command is invoked as
//
//	<command> --channel <channel> --endpoint <endpoint> --json --content <text>
//
// A zero exit status means the agent accepted the message. A JSON object
// {"ok":false,"error":{"code":...,"message":...}} on stdout or stderr is a
// structured rejection and is final. Any other failure is retried once.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
	"github.com/nextlevelbuilder/tgbridge/internal/metrics"
)

const (
	// MaxRejectionLength caps rejection text relayed back to the chat.
	MaxRejectionLength = 500

	defaultRetryDelay = time.Second
)

// Runner executes a command and returns its captured output.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// RejectionError is a structured refusal reported by the agent.
type RejectionError struct {
	Code    string
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("agent rejected message: %s: %s", e.Code, e.Message)
}

// UserMessage is the text relayed to the sender, capped at MaxRejectionLength.
func (e *RejectionError) UserMessage() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	return truncate(msg, MaxRejectionLength)
}

// Bridge invokes the agent receive command.
type Bridge struct {
	command    string
	channel    string
	timeout    time.Duration
	retryDelay time.Duration
	run        Runner
}

// NewBridge creates a bridge from the bridge section of the config.
func NewBridge(cfg config.BridgeConfig) *Bridge {
	channel := cfg.Channel
	if channel == "" {
		channel = "telegram"
	}
	return &Bridge{
		command:    config.ExpandHome(cfg.Executable()),
		channel:    channel,
		timeout:    cfg.Timeout(),
		retryDelay: defaultRetryDelay,
		run:        execRunner,
	}
}

// Forward delivers content for endpoint. It returns nil on success, a
// *RejectionError when the agent refused the message, or the error of the
// second attempt after an unstructured failure.
func (b *Bridge) Forward(ctx context.Context, endpoint, content string) error {
	err := b.invoke(ctx, endpoint, content)
	if err == nil {
		metrics.AgentForwards.WithLabelValues("delivered").Inc()
		return nil
	}
	var rej *RejectionError
	if errors.As(err, &rej) {
		metrics.AgentForwards.WithLabelValues("rejected").Inc()
		return err
	}

	slog.Warn("agent: forward failed, retrying once", "endpoint", endpoint, "error", err)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(b.retryDelay):
	}

	err = b.invoke(ctx, endpoint, content)
	switch {
	case err == nil:
		metrics.AgentForwards.WithLabelValues("delivered").Inc()
	case errors.As(err, &rej):
		metrics.AgentForwards.WithLabelValues("rejected").Inc()
	default:
		metrics.AgentForwards.WithLabelValues("failed").Inc()
	}
	return err
}

func (b *Bridge) invoke(ctx context.Context, endpoint, content string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	args := []string{"--channel", b.channel, "--endpoint", endpoint, "--json", "--content", content}
	stdout, stderr, err := b.run(ctx, b.command, args...)

	if rej := parseRejection(stdout); rej != nil {
		return rej
	}
	if rej := parseRejection(stderr); rej != nil {
		return rej
	}
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("agent command timed out after %s", b.timeout)
	}
	if detail := strings.TrimSpace(string(stderr)); detail != "" {
		return fmt.Errorf("agent command: %w: %s", err, truncate(detail, MaxRejectionLength))
	}
	return fmt.Errorf("agent command: %w", err)
}

type rejectionPayload struct {
	OK    *bool `json:"ok"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// parseRejection looks for a rejection object in command output. The whole
// output is tried first, then each line from the last, since wrappers may
// print progress text before the JSON result.
func parseRejection(out []byte) *RejectionError {
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil
	}
	if rej := decodeRejection(out); rej != nil {
		return rej
	}
	lines := bytes.Split(out, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if rej := decodeRejection(line); rej != nil {
			return rej
		}
	}
	return nil
}

func decodeRejection(data []byte) *RejectionError {
	var p rejectionPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil
	}
	if p.OK == nil || *p.OK || p.Error == nil {
		return nil
	}
	return &RejectionError{Code: p.Error.Code, Message: p.Error.Message}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
