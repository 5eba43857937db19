package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"
)

const (
	defaultAttempts = 3
	defaultTimeout  = 10 * time.Second
	defaultBackoff  = time.Second
)

// Config bounds the download retry policy.
type Config struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration
}

// Service fetches inbound photos with bounded retry and stores them by content hash.
type Service struct {
	downloader Downloader
	provider   StorageProvider
	attempts   int
	timeout    time.Duration
	backoff    time.Duration
	logger     *slog.Logger
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewService creates a media service.
func NewService(log *slog.Logger, downloader Downloader, provider StorageProvider, cfg Config) *Service {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = defaultAttempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultBackoff
	}
	return &Service{
		downloader: downloader,
		provider:   provider,
		attempts:   cfg.Attempts,
		timeout:    cfg.Timeout,
		backoff:    cfg.Backoff,
		logger:     log.With(slog.String("service", "media")),
		now:        time.Now,
		sleep:      sleepContext,
	}
}

// Fetch downloads url and stores it for tenantID. Each attempt gets its own
// timeout and attempts are separated by a fixed backoff. Oversized and non-image
// payloads fail immediately.
func (s *Service) Fetch(ctx context.Context, tenantID, url string) (Photo, error) {
	if s.provider == nil {
		return Photo{}, ErrProviderUnavailable
	}
	if strings.TrimSpace(tenantID) == "" || strings.TrimSpace(url) == "" {
		return Photo{}, fmt.Errorf("tenant id and url are required")
	}
	data, mime, err := s.download(ctx, url)
	if err != nil {
		return Photo{}, err
	}
	if err := checkSize(int64(len(data)), MaxPhotoBytes); err != nil {
		return Photo{}, err
	}
	if !isImage(mime) {
		return Photo{}, fmt.Errorf("%w: %s", ErrNotImage, mime)
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])
	key := path.Join(tenantID, "vehicles", hash[:2], hash+extensionFromMime(mime))
	if err := s.provider.Put(ctx, key, bytes.NewReader(data)); err != nil {
		return Photo{}, fmt.Errorf("store media: %w", err)
	}
	return Photo{
		StorageKey:  key,
		AccessPath:  s.provider.AccessPath(key),
		Mime:        mime,
		SizeBytes:   int64(len(data)),
		ContentHash: hash,
		SourceURL:   url,
		StoredAt:    s.now(),
	}, nil
}

func (s *Service) download(ctx context.Context, url string) ([]byte, string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.attempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, s.timeout)
		data, mime, err := s.downloader.Download(attemptCtx, url)
		cancel()
		if err == nil {
			return data, mime, nil
		}
		lastErr = err
		if errors.Is(err, ErrAssetTooLarge) {
			return nil, "", err
		}
		s.logger.Warn("media download retry",
			slog.Int("attempt", attempt),
			slog.Any("error", err))
		if attempt == s.attempts {
			break
		}
		if err := s.sleep(ctx, s.backoff); err != nil {
			lastErr = err
			break
		}
	}
	return nil, "", fmt.Errorf("%w after %d attempts: %w", ErrDownloadFailed, s.attempts, lastErr)
}

// Open returns the stored bytes for key.
func (s *Service) Open(ctx context.Context, key string) ([]byte, string, error) {
	if s.provider == nil {
		return nil, "", ErrProviderUnavailable
	}
	reader, err := s.provider.Open(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer reader.Close()
	data, err := readBounded(reader, MaxPhotoBytes)
	if err != nil {
		return nil, "", err
	}
	return data, http.DetectContentType(data), nil
}

func isImage(mime string) bool {
	mime = strings.ToLower(strings.TrimSpace(mime))
	return strings.HasPrefix(mime, "image/")
}

func extensionFromMime(mime string) string {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if idx := strings.IndexByte(mime, ';'); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	switch mime {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ""
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
