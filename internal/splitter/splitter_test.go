package splitter

import (
	"fmt"
	"strings"
	"testing"
)

// makeWords builds a text of n distinct tokens: "w0 w1 w2 ...".
func makeWords(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name      string
		max       int
		overlap   int
		wantErr   error
	}{
		{"zero max", 0, 0, ErrInvalidMaxTokens},
		{"negative max", -1, 0, ErrInvalidMaxTokens},
		{"negative overlap", 10, -1, ErrInvalidOverlap},
		{"overlap equals max", 10, 10, ErrInvalidOverlap},
		{"overlap exceeds max", 10, 11, ErrInvalidOverlap},
		{"valid", 10, 9, nil},
		{"valid zero overlap", 1, 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.max, tt.overlap)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("New(%d, %d) = %v, want nil", tt.max, tt.overlap, err)
				}
				return
			}
			if err != tt.wantErr {
				t.Fatalf("New(%d, %d) = %v, want %v", tt.max, tt.overlap, err, tt.wantErr)
			}
		})
	}
}

func TestSplit_EmptyText(t *testing.T) {
	s, _ := New(100, 20)

	for _, text := range []string{"", "   ", "\n\t  \n"} {
		if got := s.Split(text); len(got) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", text, len(got))
		}
	}
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	s, _ := New(100, 20)

	chunks := s.Split("just a few words here")
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0] != "just a few words here" {
		t.Errorf("chunk = %q", chunks[0])
	}
}

// TestSplit_OverlapContract checks the documented boundary behavior: a
// 500-token document at maxTokens=100, overlap=20 yields 6 chunks and each
// chunk's first 20 tokens repeat the previous chunk's last 20.
func TestSplit_OverlapContract(t *testing.T) {
	s, err := New(100, 20)
	if err != nil {
		t.Fatal(err)
	}

	chunks := s.Split(makeWords(500))
	// Starts advance by 80: 0, 80, 160, 240, 320, 400. The chunk starting
	// at 400 reaches token 500 and ends the sequence.
	if len(chunks) != 6 {
		t.Fatalf("got %d chunks, want 6", len(chunks))
	}

	for i := 1; i < len(chunks); i++ {
		prev := strings.Fields(chunks[i-1])
		cur := strings.Fields(chunks[i])
		tail := prev[len(prev)-20:]
		head := cur[:20]
		for j := range tail {
			if tail[j] != head[j] {
				t.Fatalf("chunk %d: overlap token %d = %q, want %q", i, j, head[j], tail[j])
			}
		}
	}

	// Every chunk respects the token bound.
	for i, c := range chunks {
		if n := CountTokens(c); n > 100 {
			t.Errorf("chunk %d has %d tokens, want <= 100", i, n)
		}
	}
}

func TestSplit_Deterministic(t *testing.T) {
	s, _ := New(37, 9)
	text := makeWords(1000)

	first := s.Split(text)
	for run := 0; run < 5; run++ {
		again := s.Split(text)
		if len(again) != len(first) {
			t.Fatalf("run %d: %d chunks, want %d", run, len(again), len(first))
		}
		for i := range first {
			if again[i] != first[i] {
				t.Fatalf("run %d: chunk %d differs", run, i)
			}
		}
	}
}

func TestSplit_NoTokenDropped(t *testing.T) {
	s, _ := New(10, 3)
	text := makeWords(95)

	seen := make(map[string]bool)
	for _, c := range s.Split(text) {
		for _, tok := range strings.Fields(c) {
			seen[tok] = true
		}
	}
	for i := 0; i < 95; i++ {
		if !seen[fmt.Sprintf("w%d", i)] {
			t.Fatalf("token w%d missing from output", i)
		}
	}
}

func TestSplit_MaxTokensOne(t *testing.T) {
	// Degenerate but legal configuration must terminate and emit one chunk
	// per token.
	s, _ := New(1, 0)

	chunks := s.Split("a b c")
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
}

func TestCountTokens(t *testing.T) {
	if got := CountTokens(" one  two\nthree "); got != 3 {
		t.Errorf("CountTokens = %d, want 3", got)
	}
	if got := CountTokens(""); got != 0 {
		t.Errorf("CountTokens(empty) = %d, want 0", got)
	}
}
