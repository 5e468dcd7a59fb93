// Package tokens estimates the token cost of message content. Counts are a
// cheap proxy used for session budgeting, cached on the message once computed.
package tokens

import (
	"log"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter estimates token counts using a tiktoken encoding, falling back to
// a character heuristic when the encoding cannot be loaded (offline hosts).
type Counter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		log.Printf("tokens: %s encoding unavailable, using heuristic: %v", encodingName, err)
		return &Counter{}
	}
	return &Counter{enc: enc}
}

// Count returns the estimated token cost of text. Never returns a negative
// value; empty text costs zero.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	if c.enc == nil {
		return heuristic(text)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// heuristic approximates one token per four characters, the usual rule of
// thumb for English text, with a floor of one token for non-empty input.
func heuristic(text string) int {
	n := len(strings.TrimSpace(text))
	if n == 0 {
		return 0
	}
	t := n / 4
	if t < 1 {
		t = 1
	}
	return t
}
