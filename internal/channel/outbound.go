package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/autolumiku/wabot/internal/metrics"
)

// OutboundPolicy configures how outbound messages are chunked and retried.
type OutboundPolicy struct {
	TextChunkLimit int           `json:"text_chunk_limit,omitempty"`
	RetryMax       int           `json:"retry_max,omitempty"`
	RetryBackoff   time.Duration `json:"retry_backoff,omitempty"`
}

// NormalizeOutboundPolicy fills zero-value fields with defaults.
func NormalizeOutboundPolicy(policy OutboundPolicy) OutboundPolicy {
	if policy.TextChunkLimit <= 0 {
		policy.TextChunkLimit = 4000
	}
	if policy.RetryMax <= 0 {
		policy.RetryMax = 3
	}
	if policy.RetryBackoff <= 0 {
		policy.RetryBackoff = 500 * time.Millisecond
	}
	return policy
}

// RetryingSender splits long text and retries each delivery with linear backoff.
type RetryingSender struct {
	next   Sender
	policy OutboundPolicy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRetryingSender wraps next.
func NewRetryingSender(log *slog.Logger, next Sender, policy OutboundPolicy) *RetryingSender {
	if log == nil {
		log = slog.Default()
	}
	return &RetryingSender{
		next:   next,
		policy: NormalizeOutboundPolicy(policy),
		logger: log.With(slog.String("component", "channel_outbound")),
		sleep:  sleepContext,
	}
}

// Send delivers text in chunks. The result carries the id of the last chunk.
func (s *RetryingSender) Send(ctx context.Context, accountID, to, text string) (SendResult, error) {
	chunks := ChunkText(text, s.policy.TextChunkLimit)
	if len(chunks) == 0 {
		return SendResult{}, fmt.Errorf("message is required")
	}
	var last SendResult
	for _, chunk := range chunks {
		result, err := s.withRetry(ctx, "send", func() (SendResult, error) {
			return s.next.Send(ctx, accountID, to, chunk)
		})
		if err != nil {
			return last, err
		}
		last = result
	}
	return last, nil
}

// SendMedia delivers one attachment with retry.
func (s *RetryingSender) SendMedia(ctx context.Context, accountID, to, url, caption string) (SendResult, error) {
	if strings.TrimSpace(url) == "" {
		return SendResult{}, fmt.Errorf("media url is required")
	}
	return s.withRetry(ctx, "send_media", func() (SendResult, error) {
		return s.next.SendMedia(ctx, accountID, to, url, caption)
	})
}

func (s *RetryingSender) withRetry(ctx context.Context, op string, fn func() (SendResult, error)) (SendResult, error) {
	var lastErr error
	for i := 0; i < s.policy.RetryMax; i++ {
		result, err := fn()
		if err == nil {
			metrics.OutboundSendsTotal.WithLabelValues(metrics.ResultOK).Inc()
			return result, nil
		}
		lastErr = err
		s.logger.Warn("outbound retry",
			slog.String("op", op),
			slog.Int("attempt", i+1),
			slog.Any("error", err))
		if i == s.policy.RetryMax-1 {
			break
		}
		if err := s.sleep(ctx, time.Duration(i+1)*s.policy.RetryBackoff); err != nil {
			lastErr = err
			break
		}
	}
	metrics.OutboundSendsTotal.WithLabelValues(metrics.ResultFailed).Inc()
	return SendResult{}, fmt.Errorf("%w: %s after retries: %w", ErrSendFailed, op, lastErr)
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

// ChunkText splits text at newline boundaries, respecting the rune limit.
func ChunkText(text string, limit int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if limit <= 0 || runeLen(trimmed) <= limit {
		return []string{trimmed}
	}
	lines := strings.Split(trimmed, "\n")
	chunks := make([]string, 0)
	buf := make([]string, 0, len(lines))
	bufLen := 0
	for _, line := range lines {
		lineLen := runeLen(line)
		sepLen := 0
		if len(buf) > 0 {
			sepLen = 1
		}
		if bufLen+sepLen+lineLen <= limit {
			buf = append(buf, line)
			bufLen += sepLen + lineLen
			continue
		}
		if len(buf) > 0 {
			chunks = append(chunks, strings.Join(buf, "\n"))
			buf = buf[:0]
			bufLen = 0
		}
		if lineLen <= limit {
			buf = append(buf, line)
			bufLen = lineLen
			continue
		}
		chunks = append(chunks, splitLongLine(line, limit)...)
	}
	if len(buf) > 0 {
		chunks = append(chunks, strings.Join(buf, "\n"))
	}
	return chunks
}

func runeLen(value string) int {
	return len([]rune(value))
}

func splitLongLine(line string, limit int) []string {
	runes := []rune(line)
	chunks := make([]string, 0)
	for start := 0; start < len(runes); start += limit {
		end := min(start+limit, len(runes))
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment == "" {
			continue
		}
		chunks = append(chunks, segment)
	}
	return chunks
}
