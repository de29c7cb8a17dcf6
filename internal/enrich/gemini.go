// ABOUTME: Gemini-backed enrichment backend using the generative-ai-go client
// ABOUTME: Maps UNAVAILABLE responses to ErrModelWarming so the coordinator can retry

package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	sentimentInstruction = "You are a sentiment classifier. Respond with exactly one line: " +
		"the label (positive, negative, or neutral), a space, and a confidence between 0 and 1. " +
		"Example: positive 0.87"

	languageInstruction = "You are a language detector. Respond with only the ISO 639-1 " +
		"two-letter code of the language the message is written in. Example: en"

	translateInstruction = "You are a translator. Translate the user's message into the " +
		"requested language. Respond with only the translation, nothing else."

	summaryInstruction = "You summarize chat conversations. Produce a concise summary of " +
		"the conversation in 2-3 sentences. Respond with only the summary."

	repliesInstruction = "You suggest short chat replies. Given the recent conversation, " +
		"propose exactly three brief replies the user could send next, one per line, " +
		"with no numbering or bullets."

	enhanceInstruction = "You improve draft chat messages. Fix grammar, spelling, and " +
		"clarity without changing the meaning or tone. Respond with only the improved message."
)

// GeminiBackend implements Backend against the Gemini API.
type GeminiBackend struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGeminiBackend creates a Gemini-backed enrichment backend.
func NewGeminiBackend(ctx context.Context, apiKey, model string) (*GeminiBackend, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiBackend{
		client: client,
		model:  model,
		logger: slog.Default().With("component", "gemini"),
	}, nil
}

// Close releases the underlying API client.
func (g *GeminiBackend) Close() error {
	return g.client.Close()
}

// generate runs a single-turn completion with the given system
// instruction and returns the concatenated text parts.
func (g *GeminiBackend) generate(ctx context.Context, instruction, prompt string, maxTokens int32) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(instruction)},
	}

	temp := float32(0.2)
	model.GenerationConfig = genai.GenerationConfig{
		MaxOutputTokens: &maxTokens,
		Temperature:     &temp,
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		if isWarming(err) {
			return "", ErrModelWarming
		}
		return "", fmt.Errorf("gemini request failed: %w", err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text parts")
	}
	return strings.TrimSpace(sb.String()), nil
}

// isWarming reports whether the API error indicates the model is still
// loading and a retry may succeed.
func isWarming(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusServiceUnavailable
	}
	return false
}

func (g *GeminiBackend) AnalyzeSentiment(ctx context.Context, text string) (Sentiment, error) {
	out, err := g.generate(ctx, sentimentInstruction, text, 16)
	if err != nil {
		return Sentiment{}, err
	}

	fields := strings.Fields(strings.ToLower(out))
	if len(fields) == 0 {
		return Sentiment{}, fmt.Errorf("empty sentiment response")
	}

	label := fields[0]
	if label != "positive" && label != "negative" && label != "neutral" {
		return Sentiment{}, fmt.Errorf("unexpected sentiment label %q", label)
	}

	confidence := 0.5
	if len(fields) > 1 {
		if parsed, perr := strconv.ParseFloat(fields[1], 64); perr == nil && parsed >= 0 && parsed <= 1 {
			confidence = parsed
		}
	}
	return Sentiment{Label: label, Confidence: confidence}, nil
}

func (g *GeminiBackend) DetectLanguage(ctx context.Context, text string) (string, error) {
	out, err := g.generate(ctx, languageInstruction, text, 8)
	if err != nil {
		return "", err
	}

	code := strings.ToLower(strings.TrimSpace(out))
	if len(code) != 2 {
		return "", fmt.Errorf("unexpected language code %q", code)
	}
	return code, nil
}

func (g *GeminiBackend) Translate(ctx context.Context, text, targetLang string) (string, error) {
	prompt := fmt.Sprintf("Target language: %s\n\nMessage: %s", targetLang, text)
	return g.generate(ctx, translateInstruction, prompt, 1024)
}

func (g *GeminiBackend) Summarize(ctx context.Context, messages []string) (string, error) {
	return g.generate(ctx, summaryInstruction, strings.Join(messages, "\n"), 256)
}

func (g *GeminiBackend) SuggestReplies(ctx context.Context, messages []string) ([]string, error) {
	out, err := g.generate(ctx, repliesInstruction, strings.Join(messages, "\n"), 128)
	if err != nil {
		return nil, err
	}

	var replies []string
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			replies = append(replies, line)
		}
	}
	if len(replies) == 0 {
		return nil, fmt.Errorf("no reply suggestions in response")
	}
	if len(replies) > 3 {
		replies = replies[:3]
	}
	return replies, nil
}

func (g *GeminiBackend) Enhance(ctx context.Context, text string) (string, error) {
	return g.generate(ctx, enhanceInstruction, text, 1024)
}

// Ensure GeminiBackend implements Backend
var _ Backend = (*GeminiBackend)(nil)
