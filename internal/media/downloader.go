package media

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// HTTPDownloader fetches media from the gateway, sending its bearer token.
type HTTPDownloader struct {
	httpClient *resty.Client
	maxBytes   int64
}

// NewHTTPDownloader creates a downloader. Relative media URLs resolve against baseURL.
func NewHTTPDownloader(baseURL, token string, timeout time.Duration) *HTTPDownloader {
	client := resty.New().
		SetHeader("User-Agent", "wabot-media/1.0").
		SetTimeout(timeout)
	if base := strings.TrimRight(baseURL, "/"); base != "" {
		client.SetBaseURL(base)
	}
	if token != "" {
		client.SetAuthToken(token)
	}
	return &HTTPDownloader{httpClient: client, maxBytes: MaxPhotoBytes}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string) ([]byte, string, error) {
	resp, err := d.httpClient.R().
		SetContext(ctx).
		Get(url)
	if err != nil {
		return nil, "", fmt.Errorf("media request failed: %w", err)
	}
	if resp.IsError() {
		return nil, "", fmt.Errorf("media download error (%d)", resp.StatusCode())
	}
	body := resp.Body()
	if err := checkSize(int64(len(body)), d.maxBytes); err != nil {
		return nil, "", err
	}
	mime := resp.Header().Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(body)
	}
	return body, mime, nil
}
