// ABOUTME: Core types and backend contract for message enrichment
// ABOUTME: Defines the capability surface shared by the model backend and the local fallback

package enrich

import (
	"context"
	"errors"
)

// ErrModelWarming signals that the model backend is loading and the
// request may succeed if retried after a short delay.
var ErrModelWarming = errors.New("model is warming up")

// Sentiment is the outcome of sentiment analysis on a single message.
type Sentiment struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Backend is a remote model capable of serving enrichment requests.
// Every method may fail; the Coordinator absorbs failures with the
// local fallback so callers never see an error.
type Backend interface {
	AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error)
	DetectLanguage(ctx context.Context, text string) (string, error)
	Translate(ctx context.Context, text, targetLang string) (string, error)
	Summarize(ctx context.Context, messages []string) (string, error)
	SuggestReplies(ctx context.Context, messages []string) ([]string, error)
	Enhance(ctx context.Context, text string) (string, error)
}
