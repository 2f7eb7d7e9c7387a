package engram

// HeuristicTokenCounter estimates token counts from character length,
// assuming roughly four characters per token of English text. It never
// touches a real tokenizer, which keeps ingestion free of provider calls.
type HeuristicTokenCounter struct {
	// CharsPerToken overrides the default of 4 when positive.
	CharsPerToken int
}

// NewHeuristicTokenCounter returns a counter with the default ratio.
func NewHeuristicTokenCounter() *HeuristicTokenCounter {
	return &HeuristicTokenCounter{}
}

// Count returns max(1, len(text)/ratio) for non-empty text and 0 for empty
// input.
func (c *HeuristicTokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	ratio := c.CharsPerToken
	if ratio <= 0 {
		ratio = 4
	}
	n := len(text) / ratio
	if n < 1 {
		return 1
	}
	return n
}
