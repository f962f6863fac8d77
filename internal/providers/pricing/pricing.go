// Package pricing is the static model → cost map the credit ledger reads
// from. Pure data: no network calls, no mutable state.
package pricing

import "strings"

// Entry is one model's cost and capability row.
type Entry struct {
	Model            string
	Family           string
	InputPerMillion  float64 // USD per 1M input tokens
	OutputPerMillion float64 // USD per 1M output tokens
	ContextWindow    int
}

// Table is the static pricing map, keyed by lowercased model name.
var Table = buildTable()

func buildTable() map[string]Entry {
	entries := []Entry{
		{"claude-sonnet-4-6", "anthropic", 3.00, 15.00, 200_000},
		{"claude-sonnet-4-5-20250929", "anthropic", 3.00, 15.00, 200_000},
		{"claude-haiku-4-5", "anthropic", 0.80, 4.00, 200_000},
		{"claude-opus-4-1", "anthropic", 15.00, 75.00, 200_000},
		{"gpt-4o", "openai", 2.50, 10.00, 128_000},
		{"gpt-4o-mini", "openai", 0.15, 0.60, 128_000},
		{"gpt-5", "openai", 5.00, 15.00, 256_000},
		{"gemini-2.5-pro", "gemini", 1.25, 10.00, 1_000_000},
		{"gemini-2.5-flash", "gemini", 0.30, 2.50, 1_000_000},
		{"gemini-2.5-flash-lite", "gemini", 0.10, 0.40, 1_000_000},
		{"deepseek-chat", "deepseek", 0.27, 1.10, 64_000},
		{"deepseek-reasoner", "deepseek", 0.55, 2.19, 64_000},
		{"llama-3.3-70b-specdec", "groq", 0.59, 0.79, 128_000},
		{"mixtral-8x7b-32768", "groq", 0.24, 0.24, 32_768},
		{"kimi-k2", "moonshot", 0.60, 2.50, 200_000},
		{"qwen-max", "qwen", 1.60, 6.40, 32_768},
		{"minimax/minimax-m2.5", "minimax", 0.30, 1.20, 200_000},
		{"glm-4.6", "glm", 0.60, 2.20, 128_000},
	}
	m := make(map[string]Entry, len(entries))
	for _, e := range entries {
		m[strings.ToLower(e.Model)] = e
	}
	return m
}

// Lookup finds the pricing row for model by exact match, falling back to
// a substring match against known model names (so versioned/prefixed
// model IDs like "anthropic/claude-sonnet-4-6" still resolve). Returns
// ok=false for entirely unknown models — the caller (credit ledger)
// treats those as zero-cost per spec §4.7.
func Lookup(model string) (Entry, bool) {
	key := strings.ToLower(model)
	if e, ok := Table[key]; ok {
		return e, true
	}
	for known, e := range Table {
		if strings.Contains(key, known) || strings.Contains(known, key) {
			return e, true
		}
	}
	return Entry{}, false
}

// Cost computes the dollar cost of one completion given prompt/completion
// token counts. Unknown models cost 0.
func Cost(model string, promptTokens, completionTokens int) float64 {
	e, ok := Lookup(model)
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*e.InputPerMillion + float64(completionTokens)/1_000_000*e.OutputPerMillion
}
