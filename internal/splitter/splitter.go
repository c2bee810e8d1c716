// Package splitter turns extracted document text into overlapping,
// bounded-size chunks suitable for embedding.
//
// Splitting is deterministic: the same text and parameters always produce
// the same chunk boundaries. Document ingestion relies on this to keep
// content-hash idempotence meaningful.
package splitter

import (
	"errors"
	"strings"
)

// Default splitting parameters. Roughly 100 tokens per chunk with a fifth
// of that carried across boundaries keeps neighboring chunks coherent for
// retrieval without inflating the index.
const (
	DefaultMaxTokens     = 200
	DefaultOverlapTokens = 40
)

var (
	// ErrInvalidMaxTokens indicates maxTokens is not positive.
	ErrInvalidMaxTokens = errors.New("max tokens must be positive")

	// ErrInvalidOverlap indicates overlapTokens is negative or not smaller
	// than maxTokens.
	ErrInvalidOverlap = errors.New("overlap tokens must be in [0, maxTokens)")
)

// Splitter splits text into token-bounded chunks with overlap.
// The zero value is not useful; use New.
type Splitter struct {
	maxTokens     int
	overlapTokens int
}

// New creates a Splitter. overlapTokens is the number of trailing tokens of
// a chunk repeated at the start of the next one and must be smaller than
// maxTokens, otherwise splitting could never advance.
func New(maxTokens, overlapTokens int) (*Splitter, error) {
	if maxTokens <= 0 {
		return nil, ErrInvalidMaxTokens
	}
	if overlapTokens < 0 || overlapTokens >= maxTokens {
		return nil, ErrInvalidOverlap
	}
	return &Splitter{maxTokens: maxTokens, overlapTokens: overlapTokens}, nil
}

// Split returns the ordered chunk texts for text.
//
// A token is a whitespace-delimited field. Empty or whitespace-only text
// yields zero chunks. Text within the token budget yields exactly one chunk.
func (s *Splitter) Split(text string) []string {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= s.maxTokens {
		return []string{strings.Join(tokens, " ")}
	}

	step := s.maxTokens - s.overlapTokens // always >= 1, see New

	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + s.maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// Tokenize splits text into tokens. Exposed so token counting elsewhere
// (chunk records, context budgets) agrees exactly with chunk boundaries.
func Tokenize(text string) []string {
	return strings.Fields(text)
}

// CountTokens returns the number of tokens in text.
func CountTokens(text string) int {
	return len(Tokenize(text))
}
