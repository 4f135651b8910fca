package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// FileFetcher downloads a Telegram file by its file id
type FileFetcher interface {
	Fetch(ctx context.Context, fileID string) ([]byte, error)
}

// telegramFetcher resolves the file URL through the Bot API and downloads it
type telegramFetcher struct {
	api        API
	httpClient *http.Client
	maxSize    int64
}

// NewFileFetcher creates a fetcher that refuses files larger than maxSize bytes
func NewFileFetcher(api API, timeout time.Duration, maxSize int64) FileFetcher {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &telegramFetcher{
		api:        api,
		httpClient: &http.Client{Timeout: timeout},
		maxSize:    maxSize,
	}
}

func (f *telegramFetcher) Fetch(ctx context.Context, fileID string) ([]byte, error) {
	url, err := f.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if f.maxSize > 0 {
		body = io.LimitReader(resp.Body, f.maxSize+1)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if f.maxSize > 0 && int64(len(data)) > f.maxSize {
		return nil, fmt.Errorf("file exceeds %d bytes", f.maxSize)
	}
	return data, nil
}
