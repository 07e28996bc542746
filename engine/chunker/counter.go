package chunker

import (
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Counter measures text length in tokens. Implementations must count a
// single character as at most one token.
type Counter interface {
	Count(text string) int
}

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)

// HeuristicCounter approximates a BPE tokenizer without a vocabulary: each
// punctuation mark is one token and each word costs one token per four runes.
type HeuristicCounter struct{}

// Count implements Counter.
func (HeuristicCounter) Count(text string) int {
	n := 0
	for _, m := range tokenRe.FindAllString(text, -1) {
		n += (utf8.RuneCountInString(m) + 3) / 4
	}
	return n
}

// TiktokenCounter counts tokens with an OpenAI BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads the named encoding, e.g. "cl100k_base".
// The vocabulary is fetched on first use and cached under TIKTOKEN_CACHE_DIR.
func NewTiktokenCounter(encoding string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("chunker: load encoding %s: %w", encoding, err)
	}
	return &TiktokenCounter{enc: enc}, nil
}

// Count implements Counter.
func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// NewCounter resolves a tokenizer name from configuration.
func NewCounter(name string) (Counter, error) {
	switch name {
	case "", "heuristic":
		return HeuristicCounter{}, nil
	default:
		return NewTiktokenCounter(name)
	}
}
