package intelligence

import (
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the tiktoken encoding used to size fragments.
const DefaultEncoding = "cl100k_base"

// TokenCounter sizes and truncates text in tokens.
type TokenCounter interface {
	// Count returns the number of tokens in text.
	Count(text string) int

	// Truncate returns the longest prefix of text with at most max tokens.
	Truncate(text string, max int) string
}

// TiktokenCounter counts tokens with a BPE encoding. When the encoding
// cannot be loaded (no network, no cache) it falls back to an estimate of
// one token per four bytes, and Count and Truncate stay consistent with each
// other either way.
type TiktokenCounter struct {
	once     sync.Once
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter creates a counter for the named encoding. The encoding is
// loaded lazily on first use.
func NewTokenCounter(encoding string) *TiktokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	return &TiktokenCounter{encoding: encoding}
}

func (c *TiktokenCounter) load() *tiktoken.Tiktoken {
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err != nil {
			log.Printf("[tokens] encoding %s unavailable, estimating: %v", c.encoding, err)
			return
		}
		c.enc = enc
	})
	return c.enc
}

// Count implements TokenCounter.
func (c *TiktokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := c.load(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

// Truncate implements TokenCounter.
func (c *TiktokenCounter) Truncate(text string, max int) string {
	if max <= 0 || text == "" {
		return ""
	}
	if enc := c.load(); enc != nil {
		tokens := enc.Encode(text, nil, nil)
		if len(tokens) <= max {
			return text
		}
		out := enc.Decode(tokens[:max])
		// A cut inside a multi-byte rune decodes to U+FFFD; drop it.
		out = strings.TrimRight(out, "�")
		for out != "" && c.Count(out) > max {
			_, size := utf8.DecodeLastRuneInString(out)
			out = out[:len(out)-size]
		}
		return out
	}
	return truncateEstimate(text, max)
}

// EstimateCounter is a TokenCounter that never loads an encoding.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int { return estimateTokens(text) }

func (EstimateCounter) Truncate(text string, max int) string { return truncateEstimate(text, max) }

// estimateTokens assumes four bytes per token, rounding up.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

func truncateEstimate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	if estimateTokens(text) <= max {
		return text
	}
	limit := max * 4
	if limit > len(text) {
		limit = len(text)
	}
	out := text[:limit]
	for !utf8.ValidString(out) && out != "" {
		out = out[:len(out)-1]
	}
	return out
}
