// Package prompt holds the stateless text heuristics applied before
// admission: compression (token reduction) and complexity triage (model
// tier recommendation).
package prompt

import (
	"regexp"
	"strings"
)

var (
	fluffPattern = regexp.MustCompile(`\b(please|kindly|could you|would you mind|i was wondering if|thank you)\b`)
	emailPattern = regexp.MustCompile(`\S+@\S+\.\S+`)
	urlPattern   = regexp.MustCompile(`http\S+`)
)

// stopWords are stripped in aggressive (telegraphic) mode.
var stopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "is": {}, "of": {}, "to": {},
	"for": {}, "in": {}, "with": {}, "on": {}, "at": {}, "by": {},
}

// Compression is the result of compressing one prompt.
type Compression struct {
	Text           string `json:"compressed_text"`
	OriginalTokens int    `json:"original_count"`
	FinalTokens    int    `json:"final_count"`
	SavedTokens    int    `json:"saved_tokens"`
}

// Compressor reduces prompt token counts by stripping politeness fluff,
// tokenizing PII-ish substrings and, in aggressive mode, dropping
// high-frequency low-value words.
type Compressor struct {
	Aggressive bool
}

// NewCompressor creates a compressor. Aggressive mode is the default.
func NewCompressor() *Compressor {
	return &Compressor{Aggressive: true}
}

// Compress returns the reduced text plus token savings stats. Token counts
// are whitespace-delimited words, matching the accounting model.
func (c *Compressor) Compress(text string) Compression {
	originalTokens := len(strings.Fields(text))

	compressed := strings.ToLower(text)
	compressed = strings.TrimSpace(fluffPattern.ReplaceAllString(compressed, " "))

	compressed = emailPattern.ReplaceAllString(compressed, "[E]")
	compressed = urlPattern.ReplaceAllString(compressed, "[U]")

	if c.Aggressive {
		compressed = telegraphic(compressed)
	}
	compressed = strings.Join(strings.Fields(compressed), " ")

	finalTokens := len(strings.Fields(compressed))
	saved := originalTokens - finalTokens
	if saved < 0 {
		saved = 0
	}

	return Compression{
		Text:           compressed,
		OriginalTokens: originalTokens,
		FinalTokens:    finalTokens,
		SavedTokens:    saved,
	}
}

// telegraphic strips stop words, keeping only information-bearing tokens.
func telegraphic(text string) string {
	words := strings.Fields(text)
	kept := words[:0]
	for _, w := range words {
		if _, skip := stopWords[strings.ToLower(w)]; !skip {
			kept = append(kept, w)
		}
	}
	return strings.Join(kept, " ")
}
