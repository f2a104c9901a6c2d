package llm

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cklxx-elephant-ai/a2aengine/internal/domain/convo"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// loadEncoding lazily loads the cl100k_base encoding once per
// process; nil on failure so callers degrade gracefully instead of
// panicking.
func loadEncoding() *tiktoken.Tiktoken {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// CountTokens estimates the tiktoken length of text, falling back to a
// words/4-rune heuristic when the encoding failed to load (e.g. no
// network access to fetch the BPE ranks file).
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateFast(text)
}

func estimateFast(text string) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text))
	runes := len([]rune(text)) / 4
	if words > runes {
		return words
	}
	return runes
}

// TokenCounter turns CountTokens into the handler's TokensUsed/CostUSD
// progress bookkeeping at a configured per-thousand-token rate. The
// model provider is opaque to this engine, so this is always an
// approximation, not a billing-accurate figure.
type TokenCounter struct {
	costPerThousand float64
}

// NewTokenCounter builds a counter billing at costPerThousand dollars
// per thousand tokens; pass 0 to track token counts without cost.
func NewTokenCounter(costPerThousand float64) *TokenCounter {
	return &TokenCounter{costPerThousand: costPerThousand}
}

// CountMessages sums CountTokens over every text part of msgs.
func (c *TokenCounter) CountMessages(msgs []*convo.Message) int {
	total := 0
	for _, m := range msgs {
		for _, p := range m.Parts {
			if p.Kind == convo.PartKindText {
				total += CountTokens(p.Text)
			}
		}
	}
	return total
}

// CostUSD converts a token count to its dollar cost at the configured
// per-thousand-token rate.
func (c *TokenCounter) CostUSD(tokens int) float64 {
	if c == nil {
		return 0
	}
	return float64(tokens) / 1000 * c.costPerThousand
}
