package splitter

import (
	"fmt"
	"unicode"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter measures text length in tokens.
type TokenCounter interface {
	CountTokens(text string) int
}

// CounterFunc adapts a function to TokenCounter.
type CounterFunc func(text string) int

// CountTokens calls f.
func (f CounterFunc) CountTokens(text string) int { return f(text) }

// ApproxCounter estimates BPE token counts without a vocabulary: a run of
// letters or digits costs one token per six runes, every other non-space rune
// costs one token.
type ApproxCounter struct{}

// CountTokens implements TokenCounter.
func (ApproxCounter) CountTokens(text string) int {
	tokens, run := 0, 0
	flush := func() {
		if run > 0 {
			tokens += (run + 5) / 6
			run = 0
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			run++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens++
		}
	}
	flush()
	return tokens
}

// TiktokenCounter counts tokens with a tiktoken BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
// The vocabulary is fetched and cached on first use.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %q: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// CountTokens implements TokenCounter.
func (c *TiktokenCounter) CountTokens(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
