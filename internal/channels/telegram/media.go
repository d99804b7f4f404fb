package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mymmrac/telego"
)

const (
	// defaultMediaMaxBytes is the max download size (20MB, Telegram Bot API limit).
	defaultMediaMaxBytes int64 = 20 * 1024 * 1024

	// downloadMaxRetries is the number of download retry attempts.
	downloadMaxRetries = 3
)

// DownloadFile fetches a file by file_id into destDir and returns the local
// path. getFile is retried with a linear backoff.
func (c *Channel) DownloadFile(ctx context.Context, fileID, destDir string) (string, error) {
	var file *telego.File
	var err error

	for attempt := 1; attempt <= downloadMaxRetries; attempt++ {
		file, err = c.bot.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
		if err == nil {
			break
		}
		if attempt < downloadMaxRetries {
			slog.Debug("telegram: retrying file download", "file_id", fileID, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	if err != nil {
		return "", fmt.Errorf("get file info after %d attempts: %w", downloadMaxRetries, wrapAPIError(err))
	}

	if file.FilePath == "" {
		return "", fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if int64(file.FileSize) > defaultMediaMaxBytes {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", file.FileSize, defaultMediaMaxBytes)
	}

	downloadURL := fmt.Sprintf("https://api.telegram.org/file/bot%s/%s", c.token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token; never surface it.
		return "", fmt.Errorf("download file %s: request failed", fileID)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("create media dir: %w", err)
	}
	dest := filepath.Join(destDir, localFileName(file.FilePath, time.Now()))
	return dest, saveLimited(dest, resp.Body, defaultMediaMaxBytes)
}

// saveLimited copies at most maxBytes from r into path, removing the partial
// file on failure.
func saveLimited(path string, r io.Reader, maxBytes int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	written, err := io.Copy(f, io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()
	switch {
	case err != nil:
		os.Remove(path)
		return fmt.Errorf("save file: %w", err)
	case written > maxBytes:
		os.Remove(path)
		return fmt.Errorf("file exceeds max size during download: %d bytes", written)
	case closeErr != nil:
		os.Remove(path)
		return fmt.Errorf("save file: %w", closeErr)
	}
	return nil
}

// localFileName names a download "<stem>-<timestamp><ext>" after the remote
// path, e.g. photos/file_12.jpg becomes file_12-20250301T120000.000.jpg.
func localFileName(remotePath string, at time.Time) string {
	base := filepath.Base(remotePath)
	ext := filepath.Ext(base)
	if ext == "" {
		ext = ".bin"
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	if stem == "" || stem == "." {
		stem = "file"
	}
	return fmt.Sprintf("%s-%s%s", stem, at.UTC().Format("20060102T150405.000"), ext)
}
