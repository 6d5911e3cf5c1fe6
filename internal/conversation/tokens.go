package conversation

import "unicode/utf8"

// EstimateTokens is the length-based token heuristic: one token per two
// characters, floored. It is deliberately not a real tokenizer; stored
// per-message figures and their aggregation all use this same arithmetic.
func EstimateTokens(text string) int {
	return utf8.RuneCountInString(text) / 2
}
