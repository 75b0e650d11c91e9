package chunker

import (
	"strings"
)

// Split cuts text into word-bounded segments of roughly targetSize characters,
// where each segment starts with the last ~overlap characters of the previous
// one. Counting treats every word as its length plus one separator.
func Split(text string, targetSize, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	cur := make([]string, 0, 64)
	curLen := 0

	for _, w := range words {
		cur = append(cur, w)
		curLen += len(w) + 1
		if targetSize > 0 && curLen >= targetSize {
			chunks = append(chunks, strings.Join(cur, " "))
			cur, curLen = overlapTail(cur, overlap)
		}
	}

	if len(cur) > 0 {
		last := strings.Join(cur, " ")
		// The tail can be nothing but the overlap seed of the previous chunk.
		if len(chunks) == 0 || chunks[len(chunks)-1] != last {
			chunks = append(chunks, last)
		}
	}
	return chunks
}

// overlapTail walks backward through an emitted chunk's words until their
// accumulated length exceeds overlap, and returns them in origin order.
func overlapTail(words []string, overlap int) ([]string, int) {
	if overlap == 0 {
		return make([]string, 0, 64), 0
	}
	start := len(words)
	total := 0
	for start > 0 && total <= overlap {
		start--
		total += len(words[start]) + 1
	}
	tail := make([]string, 0, 64)
	tail = append(tail, words[start:]...)
	return tail, total
}

// EstimateTokens is a cheap token-count heuristic (~4 chars per token).
func EstimateTokens(s string) int {
	n := len(s) / 4
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
