// Package chunker splits document text into fixed-size overlapping chunks for
// embedding and indexing.
//
// Splitting is a pure function of its inputs: the same text and parameters
// always produce the same chunks, so re-ingesting a document yields identical
// vector ids. Positions are counted in runes, not bytes, so multi-byte text
// never gets cut mid-character.
package chunker

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidWindowSize indicates a non-positive window size.
	ErrInvalidWindowSize = errors.New("window size must be positive")

	// ErrInvalidOverlap indicates an overlap outside [0, windowSize).
	ErrInvalidOverlap = errors.New("overlap must be in [0, window size)")
)

// Default chunking parameters. A 1024-rune window keeps each chunk well under
// typical embedding model input limits; the 100-rune overlap preserves context
// across chunk boundaries.
const (
	DefaultWindowSize = 1024
	DefaultOverlap    = 100
)

// Chunk is one contiguous slice of a document.
type Chunk struct {
	// Content is the chunk text.
	Content string

	// Index is the zero-based position of the chunk within the document.
	Index int
}

// Split cuts text into chunks of at most windowSize runes where consecutive
// chunks share exactly overlap runes. The final chunk may be shorter. Empty
// text yields no chunks.
func Split(text string, windowSize, overlap int) ([]Chunk, error) {
	if windowSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidWindowSize, windowSize)
	}
	if overlap < 0 || overlap >= windowSize {
		return nil, fmt.Errorf("%w: got %d for window %d", ErrInvalidOverlap, overlap, windowSize)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	stride := windowSize - overlap
	chunks := make([]Chunk, 0, (len(runes)+stride-1)/stride)

	for start, i := 0, 0; start < len(runes); start, i = start+stride, i+1 {
		end := start + windowSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{Content: string(runes[start:end]), Index: i})
		if end == len(runes) {
			break
		}
	}

	return chunks, nil
}

// SplitDefault splits text with the default window size and overlap.
func SplitDefault(text string) []Chunk {
	chunks, err := Split(text, DefaultWindowSize, DefaultOverlap)
	if err != nil {
		// Unreachable: the default parameters are valid.
		panic(err)
	}
	return chunks
}
