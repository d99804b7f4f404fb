package agent

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/tgbridge/internal/config"
)

type runResult struct {
	stdout, stderr string
	err            error
}

type fakeRunner struct {
	results []runResult
	calls   [][]string
}

func (f *fakeRunner) run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(f.results) == 0 {
		return nil, nil, nil
	}
	r := f.results[0]
	f.results = f.results[1:]
	return []byte(r.stdout), []byte(r.stderr), r.err
}

func newTestBridge(f *fakeRunner) *Bridge {
	b := NewBridge(config.BridgeConfig{Command: "c4-receive"})
	b.run = f.run
	b.retryDelay = 0
	return b
}

func TestForward_Arguments(t *testing.T) {
	f := &fakeRunner{}
	b := newTestBridge(f)

	if err := b.Forward(context.Background(), "42|msg:7", "[TG DM] alice said: hi"); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	want := []string{"c4-receive", "--channel", "telegram", "--endpoint", "42|msg:7", "--json", "--content", "[TG DM] alice said: hi"}
	if len(f.calls) != 1 || !reflect.DeepEqual(f.calls[0], want) {
		t.Errorf("calls = %q, want [%q]", f.calls, want)
	}
}

func TestForward_StructuredRejectionIsTerminal(t *testing.T) {
	f := &fakeRunner{results: []runResult{{
		stdout: `{"ok":false,"error":{"code":"RATE_LIMIT","message":"slow down"}}`,
		err:    errors.New("exit status 1"),
	}}}
	b := newTestBridge(f)

	err := b.Forward(context.Background(), "1|msg:1", "x")
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("Forward() error = %v, want *RejectionError", err)
	}
	if rej.Code != "RATE_LIMIT" || rej.UserMessage() != "slow down" {
		t.Errorf("rejection = %+v", rej)
	}
	if len(f.calls) != 1 {
		t.Errorf("calls = %d, rejection must not be retried", len(f.calls))
	}
}

func TestForward_RejectionOnStderrAfterNoise(t *testing.T) {
	f := &fakeRunner{results: []runResult{{
		stderr: "connecting...\n{\"ok\":false,\"error\":{\"code\":\"BUSY\",\"message\":\"agent busy\"}}\n",
		err:    errors.New("exit status 2"),
	}}}
	b := newTestBridge(f)

	var rej *RejectionError
	if err := b.Forward(context.Background(), "1", "x"); !errors.As(err, &rej) || rej.Code != "BUSY" {
		t.Fatalf("Forward() error = %v, want BUSY rejection", err)
	}
}

func TestForward_UnstructuredFailureRetriedOnce(t *testing.T) {
	tests := []struct {
		name    string
		results []runResult
		wantErr bool
	}{
		{"recovers", []runResult{{stderr: "crash", err: errors.New("exit status 1")}, {}}, false},
		{"fails twice", []runResult{
			{stderr: "crash", err: errors.New("exit status 1")},
			{stderr: "crash again", err: errors.New("exit status 1")},
		}, true},
		{"garbage json is not a rejection", []runResult{
			{stdout: `{"ok":true}`, err: errors.New("exit status 1")},
			{},
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{results: tt.results}
			b := newTestBridge(f)
			err := b.Forward(context.Background(), "1", "x")
			if (err != nil) != tt.wantErr {
				t.Errorf("Forward() error = %v, wantErr %v", err, tt.wantErr)
			}
			if len(f.calls) != 2 {
				t.Errorf("calls = %d, want 2", len(f.calls))
			}
		})
	}
}

func TestRejectionUserMessage_Truncated(t *testing.T) {
	rej := &RejectionError{Code: "X", Message: strings.Repeat("é", 800)}
	if n := len([]rune(rej.UserMessage())); n != MaxRejectionLength {
		t.Errorf("UserMessage() = %d runes, want %d", n, MaxRejectionLength)
	}
	if got := (&RejectionError{Code: "ONLY_CODE"}).UserMessage(); got != "ONLY_CODE" {
		t.Errorf("UserMessage() = %q, want the code when message is empty", got)
	}
}

func TestParseRejection(t *testing.T) {
	tests := []struct {
		in   string
		want *RejectionError
	}{
		{"", nil},
		{"plain text", nil},
		{`{"ok":false}`, nil},
		{`{"error":{"code":"A"}}`, nil},
		{`{"ok":false,"error":{"code":"A","message":"b"}}`, &RejectionError{Code: "A", Message: "b"}},
	}
	for _, tt := range tests {
		got := parseRejection([]byte(tt.in))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseRejection(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}
