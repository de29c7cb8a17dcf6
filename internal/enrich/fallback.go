// ABOUTME: Rule-based local fallback for every enrichment capability
// ABOUTME: Deterministic, dependency-free answers used when the model backend is unavailable

package enrich

import (
	"fmt"
	"sort"
	"strings"
	"unicode"
)

// SummaryTooShort is returned when a conversation doesn't carry enough
// content to produce a meaningful summary.
const SummaryTooShort = "Conversation too short to summarize."

var positiveWords = map[string]bool{
	"good": true, "great": true, "awesome": true, "excellent": true,
	"happy": true, "love": true, "nice": true, "thanks": true,
	"thank": true, "wonderful": true, "amazing": true, "perfect": true,
	"glad": true, "cool": true, "yes": true, "sure": true,
}

var negativeWords = map[string]bool{
	"bad": true, "terrible": true, "awful": true, "hate": true,
	"sad": true, "angry": true, "wrong": true, "problem": true,
	"sorry": true, "no": true, "never": true, "worst": true,
	"horrible": true, "annoying": true, "broken": true, "fail": true,
}

// stopwords that are distinctive enough to signal a language.
var languageMarkers = map[string][]string{
	"es": {"el", "la", "los", "las", "es", "está", "qué", "por", "para", "gracias", "hola", "cómo", "muy", "pero"},
	"fr": {"le", "la", "les", "est", "et", "je", "tu", "vous", "bonjour", "merci", "très", "avec", "pour", "mais"},
	"de": {"der", "die", "das", "ist", "und", "ich", "du", "nicht", "danke", "hallo", "sehr", "mit", "für", "aber"},
	"it": {"il", "la", "gli", "è", "e", "io", "tu", "non", "grazie", "ciao", "molto", "con", "per", "ma"},
	"pt": {"o", "a", "os", "as", "é", "eu", "você", "não", "obrigado", "olá", "muito", "com", "para", "mas"},
}

// Fallback answers enrichment requests with deterministic heuristics.
// It never fails, so it can safely terminate every retry chain.
type Fallback struct{}

// NewFallback returns the rule-based fallback engine.
func NewFallback() *Fallback {
	return &Fallback{}
}

// AnalyzeSentiment counts lexicon hits. Text with no hits, or a tie,
// is neutral at 0.5 confidence.
func (f *Fallback) AnalyzeSentiment(text string) Sentiment {
	words := tokenize(text)
	var pos, neg int
	for _, w := range words {
		if positiveWords[w] {
			pos++
		}
		if negativeWords[w] {
			neg++
		}
	}

	switch {
	case pos > neg:
		return Sentiment{Label: "positive", Confidence: confidence(pos, len(words))}
	case neg > pos:
		return Sentiment{Label: "negative", Confidence: confidence(neg, len(words))}
	default:
		return Sentiment{Label: "neutral", Confidence: 0.5}
	}
}

func confidence(hits, total int) float64 {
	if total == 0 {
		return 0.5
	}
	c := 0.5 + float64(hits)/float64(total)
	if c > 0.95 {
		c = 0.95
	}
	return c
}

// DetectLanguage scores the text against per-language marker words and
// returns the best match, defaulting to English.
func (f *Fallback) DetectLanguage(text string) string {
	words := tokenize(text)
	// Fixed scan order keeps ties deterministic across calls.
	langs := make([]string, 0, len(languageMarkers))
	for lang := range languageMarkers {
		langs = append(langs, lang)
	}
	sort.Strings(langs)

	best := "en"
	bestScore := 0
	for _, lang := range langs {
		score := 0
		for _, w := range words {
			for _, m := range languageMarkers[lang] {
				if w == m {
					score++
				}
			}
		}
		// Require at least two markers so a single ambiguous word
		// doesn't flip the language.
		if score >= 2 && score > bestScore {
			best = lang
			bestScore = score
		}
	}
	return best
}

// Translate returns the original text unchanged. Without a model there
// is nothing better to show, and an unchanged message is safer than a
// garbled one.
func (f *Fallback) Translate(text, targetLang string) string {
	return text
}

// Summarize produces an extractive summary: the longest messages stand
// in for the topics discussed.
func (f *Fallback) Summarize(messages []string) string {
	if len(messages) == 0 {
		return SummaryTooShort
	}

	longest := messages[0]
	for _, m := range messages[1:] {
		if len(m) > len(longest) {
			longest = m
		}
	}
	longest = truncate(strings.TrimSpace(longest), 140)

	return fmt.Sprintf("The conversation includes %d messages. Key point: %q", len(messages), longest)
}

// SuggestReplies returns canned replies keyed on the shape of the last
// message.
func (f *Fallback) SuggestReplies(messages []string) []string {
	if len(messages) == 0 {
		return []string{"Hello!", "How are you?", "What's up?"}
	}
	last := strings.TrimSpace(messages[len(messages)-1])
	if strings.HasSuffix(last, "?") {
		return []string{"Yes, that works.", "Let me check and get back to you.", "Could you share more details?"}
	}
	lower := strings.ToLower(last)
	if strings.Contains(lower, "thank") {
		return []string{"You're welcome!", "Anytime!", "Happy to help."}
	}
	return []string{"Sounds good!", "Got it.", "Thanks for letting me know."}
}

// Enhance applies basic grammar cleanup: leading capitalization,
// standalone "i" capitalization, and terminal punctuation.
func (f *Fallback) Enhance(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	words := strings.Fields(text)
	for i, w := range words {
		if w == "i" {
			words[i] = "I"
		} else if stripped := strings.TrimRight(w, ".,!?;:"); stripped == "i" {
			words[i] = "I" + w[1:]
		}
	}
	text = strings.Join(words, " ")

	runes := []rune(text)
	runes[0] = unicode.ToUpper(runes[0])
	text = string(runes)

	last := runes[len(runes)-1]
	if last != '.' && last != '!' && last != '?' {
		text += "."
	}
	return text
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

// truncate cuts at rune boundaries so multi-byte text stays valid.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
