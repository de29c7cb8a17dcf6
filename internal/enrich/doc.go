// Package enrich provides message enrichment: sentiment, language
// detection, translation, summaries, reply suggestions, and draft cleanup.
//
// The Coordinator fronts a model Backend (Gemini in production) with
// per-attempt timeouts, warming retries, and a deterministic rule-based
// Fallback. Coordinator methods never return errors: every request yields
// either a model answer or a degraded local one.
package enrich
