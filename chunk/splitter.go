// Package chunk splits document text into bounded, overlapping segments
// suitable for embedding and retrieval.
package chunk

import (
	"errors"
	"fmt"
	"unicode"
)

var ErrInvalidConfiguration = errors.New("invalid chunking configuration")

// Segment is one emitted chunk of text together with its rune offset in
// the original input.
type Segment struct {
	Text  string
	Start int
}

// Splitter cuts text into windows of at most MaxLength runes. Consecutive
// windows overlap by Overlap runes unless a natural boundary shortened the
// previous window. Cuts prefer a paragraph break, then a sentence end, then
// whitespace, and only then fall back to a hard cut, so chunks rarely end
// mid-word or mid-sentence.
type Splitter struct {
	maxLength int
	overlap   int
}

func NewSplitter(maxLength, overlap int) (*Splitter, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: max length %d must be positive", ErrInvalidConfiguration, maxLength)
	}
	if overlap < 0 || overlap >= maxLength {
		return nil, fmt.Errorf("%w: overlap %d must satisfy 0 <= overlap < %d", ErrInvalidConfiguration, overlap, maxLength)
	}

	return &Splitter{maxLength: maxLength, overlap: overlap}, nil
}

// Split is a pure function over its input: segments appear in text order,
// each at most MaxLength runes, and together the segments cover the whole
// input (each segment past the first starts inside its predecessor).
func (s *Splitter) Split(text string) []Segment {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var segments []Segment

	pos := 0
	for {
		remaining := len(runes) - pos
		if remaining <= s.maxLength {
			segments = append(segments, Segment{Text: string(runes[pos:]), Start: pos})
			return segments
		}

		end := pos + s.cut(runes[pos:pos+s.maxLength])
		segments = append(segments, Segment{Text: string(runes[pos:end]), Start: pos})

		next := end - s.overlap
		if next <= pos {
			// Overlap may not swallow a whole window; always advance.
			next = pos + 1
		}
		pos = next
	}
}

// cut picks the end of the next window within a full-size candidate slice.
// Boundaries are only honored in the latter half of the window so heavily
// broken text cannot degenerate into tiny chunks.
func (s *Splitter) cut(window []rune) int {
	min := len(window) / 2

	if at := lastBoundary(window, min, isParagraphBreak); at > 0 {
		return at
	}
	if at := lastBoundary(window, min, isSentenceEnd); at > 0 {
		return at
	}
	if at := lastBoundary(window, min, isWhitespaceBoundary); at > 0 {
		return at
	}

	return len(window)
}

// lastBoundary scans backwards for the latest position > min where the
// predicate recognizes a boundary ending at that position.
func lastBoundary(window []rune, min int, boundary func(window []rune, at int) bool) int {
	for at := len(window); at > min; at-- {
		if boundary(window, at) {
			return at
		}
	}
	return 0
}

func isParagraphBreak(window []rune, at int) bool {
	return at >= 2 && window[at-1] == '\n' && window[at-2] == '\n'
}

func isSentenceEnd(window []rune, at int) bool {
	if at < 2 || !unicode.IsSpace(window[at-1]) {
		return false
	}

	switch window[at-2] {
	case '.', '!', '?':
		return true
	default:
		return false
	}
}

func isWhitespaceBoundary(window []rune, at int) bool {
	return at >= 1 && unicode.IsSpace(window[at-1])
}
