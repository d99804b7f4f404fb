package telegram

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLocalFileName(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		remote string
		want   string
	}{
		{"photo", "photos/file_12.jpg", "file_12-20250301T120000.000.jpg"},
		{"document", "documents/report.final.pdf", "report.final-20250301T120000.000.pdf"},
		{"no extension", "documents/README", "README-20250301T120000.000.bin"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := localFileName(tt.remote, at); got != tt.want {
				t.Errorf("localFileName(%q) = %q, want %q", tt.remote, got, tt.want)
			}
		})
	}
}

func TestSaveLimited(t *testing.T) {
	dir := t.TempDir()

	ok := filepath.Join(dir, "ok.bin")
	if err := saveLimited(ok, strings.NewReader("hello"), 5); err != nil {
		t.Fatalf("saveLimited() error = %v", err)
	}
	if data, _ := os.ReadFile(ok); string(data) != "hello" {
		t.Errorf("content = %q", data)
	}

	big := filepath.Join(dir, "big.bin")
	if err := saveLimited(big, strings.NewReader("hello!"), 5); err == nil {
		t.Fatal("saveLimited() should reject content over the limit")
	}
	if _, err := os.Stat(big); !os.IsNotExist(err) {
		t.Error("partial file left behind")
	}
}

func TestResolveThreadIDForSend(t *testing.T) {
	if got := parseThreadID("1"); got != 0 {
		t.Errorf("General topic = %d, want omitted", got)
	}
	if got := parseThreadID("42"); got != 42 {
		t.Errorf("topic 42 = %d", got)
	}
	if got := parseThreadID(""); got != 0 {
		t.Errorf("empty = %d", got)
	}
}
