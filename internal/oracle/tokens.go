package oracle

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "o200k_base"

// TokenCounter estimates token counts when the endpoint does not report
// usage. The encoding is loaded on first use.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
	initErr  error
}

func NewTokenCounter(encoding string) *TokenCounter {
	if strings.TrimSpace(encoding) == "" {
		encoding = defaultEncoding
	}
	return &TokenCounter{encoding: encoding}
}

func (c *TokenCounter) init() {
	c.once.Do(func() {
		c.enc, c.initErr = tiktoken.GetEncoding(c.encoding)
	})
}

// Count returns the token count of text, falling back to a four characters
// per token estimate when the encoding is unavailable.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.init()
	if c.initErr != nil || c.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(c.enc.Encode(text, nil, nil))
}

func (c *TokenCounter) CountRequest(req Request) int {
	total := c.Count(req.System)
	for _, t := range req.Turns {
		total += c.Count(t.Content)
	}
	return total
}
