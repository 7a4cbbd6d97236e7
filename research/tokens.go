package research

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// tokenCount measures text with the cl100k_base encoding. When the encoding
// cannot be loaded it falls back to a four-characters-per-token estimate so
// budgeting keeps working offline.
func tokenCount(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	if encoding == nil {
		return (len(text) + 3) / 4
	}
	return len(encoding.Encode(text, nil, nil))
}

// trimToBudget drops trailing lines until the text fits the token budget.
// Evidence blocks are line-oriented, so cutting at line boundaries keeps each
// surviving source intact.
func trimToBudget(text string, budget int) string {
	if budget <= 0 || tokenCount(text) <= budget {
		return text
	}
	lines := strings.Split(text, "\n")
	for len(lines) > 1 {
		lines = lines[:len(lines)-1]
		candidate := strings.Join(lines, "\n")
		if tokenCount(candidate) <= budget {
			return candidate
		}
	}
	// A single oversized line gets cut by the character estimate.
	limit := budget * 4
	if limit < len(text) {
		return text[:limit]
	}
	return text
}
