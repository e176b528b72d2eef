// Package tokens estimates the token cost of chat histories so the
// conversation store can keep them under the model's context budget.
//
// Counts come from the cl100k_base BPE (the GPT-4 / GPT-5 family) when
// available. The BPE ranks are compiled in via tiktoken-go-loader so
// counting never reaches out to the network. If the encoding cannot be
// built, a character-weight heuristic is used instead.
package tokens

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"github.com/nugget/marquee-media-agent/internal/llm"
)

// DefaultEncoding is the tokenizer used by the OpenAI chat models.
const DefaultEncoding = "cl100k_base"

var loaderOnce sync.Once

// Counter counts tokens over chat messages. The zero value uses the
// heuristic estimator. A Counter is safe for concurrent use.
type Counter struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// New returns a Counter for the named tiktoken encoding.
func New(encoding string) (*Counter, error) {
	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", encoding, err)
	}
	return &Counter{enc: enc, encoding: encoding}, nil
}

// NewOrHeuristic returns a BPE counter when possible and logs a warning
// before falling back to the heuristic.
func NewOrHeuristic(encoding string, logger *slog.Logger) *Counter {
	c, err := New(encoding)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("token counting falls back to heuristic", "encoding", encoding, "error", err)
		return &Counter{}
	}
	return c
}

// Encoding names the tokenizer in use, or "heuristic".
func (c *Counter) Encoding() string {
	if c == nil || c.enc == nil {
		return "heuristic"
	}
	return c.encoding
}

// CountText returns the token count of a single string.
func (c *Counter) CountText(s string) int {
	if s == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return Estimate(s)
	}
	return len(c.enc.Encode(s, nil, nil))
}

// CountTokens sums the cost of a message sequence: every message's
// content, the name and raw arguments of every tool call, and the
// content of tool-role messages a second time. Keep the double count:
// the budget check relies on it.
func (c *Counter) CountTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += c.CountText(m.Content)
		for _, tc := range m.ToolCalls {
			total += c.CountText(tc.Name)
			total += c.CountText(tc.Arguments)
		}
		if m.Role == llm.RoleTool {
			total += c.CountText(m.Content)
		}
	}
	return total
}

// Estimate approximates a token count without a tokenizer. ASCII runs
// at about four characters per token; other scripts are weighted as a
// full token per rune, which overestimates rather than under.
func Estimate(text string) int {
	weight := 0
	for _, r := range text {
		if r <= 127 {
			weight++
		} else {
			weight += 4
		}
	}
	return (weight + 3) / 4
}
