// ABOUTME: Coordinator wraps the model backend with timeouts, warming retries, and fallbacks
// ABOUTME: Its methods never return errors; a degraded answer is always produced

package enrich

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/wirechat/wirechat/internal/metrics"
)

// Options tunes the Coordinator's retry and guard behavior.
type Options struct {
	// Timeout bounds a single backend attempt.
	Timeout time.Duration
	// RetryBaseDelay is the wait after the first warming response;
	// subsequent waits double.
	RetryBaseDelay time.Duration
	// MaxAttempts caps backend attempts per request, warming retries
	// included.
	MaxAttempts int
	// SummaryMinMessages and SummaryMinWords gate summarization; a
	// conversation below either threshold is declared too short
	// without calling the backend. Only non-empty messages count
	// toward SummaryMinMessages.
	SummaryMinMessages int
	SummaryMinWords    int
}

// Coordinator dispatches enrichment requests to the model backend and
// degrades to the local fallback on any failure. A nil backend means
// every request is served by the fallback.
type Coordinator struct {
	backend  Backend
	fallback *Fallback
	opts     Options
	logger   *slog.Logger
}

// NewCoordinator creates an enrichment coordinator. backend may be nil
// to run in fallback-only mode.
func NewCoordinator(backend Backend, opts Options) *Coordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 2 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SummaryMinMessages <= 0 {
		opts.SummaryMinMessages = 3
	}
	if opts.SummaryMinWords <= 0 {
		opts.SummaryMinWords = 20
	}

	return &Coordinator{
		backend:  backend,
		fallback: NewFallback(),
		opts:     opts,
		logger:   slog.Default().With("component", "enrich"),
	}
}

// attempt runs op against the backend with a per-attempt timeout,
// retrying on ErrModelWarming with doubling delays. Any other error, or
// exhausting the attempts, fails the whole call.
func attempt[T any](ctx context.Context, c *Coordinator, capability string, op func(ctx context.Context) (T, error)) (T, bool) {
	var zero T
	if c.backend == nil {
		return zero, false
	}

	delay := c.opts.RetryBaseDelay
	for i := 0; i < c.opts.MaxAttempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		start := time.Now()
		result, err := op(attemptCtx)
		cancel()
		metrics.EnrichmentLatency.Observe(time.Since(start).Seconds())

		if err == nil {
			return result, true
		}
		if !errors.Is(err, ErrModelWarming) {
			c.logger.Warn("enrichment backend failed", "capability", capability, "error", err)
			return zero, false
		}

		c.logger.Info("model warming, retrying", "capability", capability, "attempt", i+1, "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, false
		}
		delay *= 2
	}

	c.logger.Warn("enrichment retries exhausted", "capability", capability)
	return zero, false
}

// AnalyzeSentiment classifies the message as positive, negative, or
// neutral with a confidence score.
func (c *Coordinator) AnalyzeSentiment(ctx context.Context, text string) Sentiment {
	metrics.EnrichmentRequests.WithLabelValues("sentiment").Inc()
	result, ok := attempt(ctx, c, "sentiment", func(ctx context.Context) (Sentiment, error) {
		return c.backend.AnalyzeSentiment(ctx, text)
	})
	if ok && result.Label != "" {
		return result
	}
	metrics.EnrichmentFallbacks.WithLabelValues("sentiment").Inc()
	return c.fallback.AnalyzeSentiment(text)
}

// DetectLanguage returns a two-letter language code for the message.
func (c *Coordinator) DetectLanguage(ctx context.Context, text string) string {
	metrics.EnrichmentRequests.WithLabelValues("language").Inc()
	result, ok := attempt(ctx, c, "language", func(ctx context.Context) (string, error) {
		return c.backend.DetectLanguage(ctx, text)
	})
	if ok && result != "" {
		return result
	}
	metrics.EnrichmentFallbacks.WithLabelValues("language").Inc()
	return c.fallback.DetectLanguage(text)
}

// Translate renders the message in targetLang. An empty or unchanged
// backend answer counts as a failure, so the caller always gets either
// a real translation or the original text.
func (c *Coordinator) Translate(ctx context.Context, text, targetLang string) string {
	metrics.EnrichmentRequests.WithLabelValues("translate").Inc()
	result, ok := attempt(ctx, c, "translate", func(ctx context.Context) (string, error) {
		return c.backend.Translate(ctx, text, targetLang)
	})
	if ok && strings.TrimSpace(result) != "" && result != text {
		return result
	}
	metrics.EnrichmentFallbacks.WithLabelValues("translate").Inc()
	return c.fallback.Translate(text, targetLang)
}

// Summarize condenses the conversation. Conversations below the
// configured size thresholds are declared too short without a backend
// call.
func (c *Coordinator) Summarize(ctx context.Context, messages []string) string {
	metrics.EnrichmentRequests.WithLabelValues("summary").Inc()

	if nonEmptyCount(messages) < c.opts.SummaryMinMessages || wordCount(messages) < c.opts.SummaryMinWords {
		return SummaryTooShort
	}

	result, ok := attempt(ctx, c, "summary", func(ctx context.Context) (string, error) {
		return c.backend.Summarize(ctx, messages)
	})
	if ok && strings.TrimSpace(result) != "" {
		return result
	}
	metrics.EnrichmentFallbacks.WithLabelValues("summary").Inc()
	return c.fallback.Summarize(messages)
}

// SuggestReplies proposes short replies to the most recent messages.
func (c *Coordinator) SuggestReplies(ctx context.Context, messages []string) []string {
	metrics.EnrichmentRequests.WithLabelValues("replies").Inc()
	result, ok := attempt(ctx, c, "replies", func(ctx context.Context) ([]string, error) {
		return c.backend.SuggestReplies(ctx, messages)
	})
	if ok && len(result) > 0 {
		return result
	}
	metrics.EnrichmentFallbacks.WithLabelValues("replies").Inc()
	return c.fallback.SuggestReplies(messages)
}

// Enhance improves the grammar and clarity of a draft message without
// changing its meaning.
func (c *Coordinator) Enhance(ctx context.Context, text string) string {
	metrics.EnrichmentRequests.WithLabelValues("enhance").Inc()
	result, ok := attempt(ctx, c, "enhance", func(ctx context.Context) (string, error) {
		return c.backend.Enhance(ctx, text)
	})
	if ok && strings.TrimSpace(result) != "" {
		return result
	}
	metrics.EnrichmentFallbacks.WithLabelValues("enhance").Inc()
	return c.fallback.Enhance(text)
}

// nonEmptyCount counts messages that carry text. Blank entries, such
// as attachment-only messages, do not make a conversation longer.
func nonEmptyCount(messages []string) int {
	n := 0
	for _, m := range messages {
		if strings.TrimSpace(m) != "" {
			n++
		}
	}
	return n
}

func wordCount(messages []string) int {
	total := 0
	for _, m := range messages {
		total += len(strings.Fields(m))
	}
	return total
}
