package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultFetchMaxBytes = 2 << 20

// FetchURL GETs url and returns at most maxBytes of the body together with the
// response content type. Non-2xx responses are errors.
func FetchURL(ctx context.Context, url string, maxBytes int64) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", err
	}
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("get %s: status %d", url, resp.StatusCode)
	}
	if maxBytes <= 0 {
		maxBytes = defaultFetchMaxBytes
	}
	// limit body to avoid huge transfers
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return "", "", err
	}
	return string(b), resp.Header.Get("Content-Type"), nil
}
