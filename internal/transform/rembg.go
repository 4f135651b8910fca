package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

// maxRemoverResponse caps the body read from the removal service
const maxRemoverResponse = 64 << 20

// RembgClient calls an HTTP rembg server (POST multipart "file", PNG response)
type RembgClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRembgClient creates a client for the removal endpoint at url
func NewRembgClient(url string, timeout time.Duration, logger *slog.Logger) *RembgClient {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &RembgClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

// RemoveBackground uploads data and returns the cut-out PNG
func (c *RembgClient) RemoveBackground(ctx context.Context, data []byte) ([]byte, error) {
	var body bytes.Buffer
	form := multipart.NewWriter(&body)

	part, err := form.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("failed to build removal request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to build removal request: %w", err)
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("failed to build removal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create removal request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("background removal request failed: %w", err)
	}
	defer resp.Body.Close()

	out, err := io.ReadAll(io.LimitReader(resp.Body, maxRemoverResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read removal response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("background removal returned %d: %s", resp.StatusCode, truncate(string(out), 200))
	}

	c.logger.Debug("Background removed",
		slog.Duration("duration", time.Since(start)),
		slog.Int("input_size", len(data)),
		slog.Int("output_size", len(out)),
	)
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
