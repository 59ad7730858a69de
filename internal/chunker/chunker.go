// Package chunker splits large texts into overlapping windows sized for a
// detector's input limits, and merges per-chunk detections back into a
// single de-duplicated entity list.
package chunker

import (
	"fmt"
	"unicode/utf8"
)

// Chunk is one window of the input text. Start and End are byte offsets
// into the original text, with Text == original[Start:End].
type Chunk struct {
	Text  string
	Start int
	End   int
}

// Splitter produces overlapping chunks. Sizes are in runes so multi-byte
// input can never split a character across windows.
type Splitter struct {
	maxSize int
	overlap int
}

// NewSplitter creates a splitter. overlap must be smaller than maxSize so
// the sequence always advances.
func NewSplitter(maxSize, overlap int) (*Splitter, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("chunk max size must be positive, got %d", maxSize)
	}
	if overlap < 0 || overlap >= maxSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, max size), got %d", overlap)
	}
	return &Splitter{maxSize: maxSize, overlap: overlap}, nil
}

// Split returns a lazy iterator over the chunks of text. The union of all
// chunks covers text exactly; adjacent chunks share overlap runes. Empty
// input yields an empty sequence, input within the max size yields exactly
// one chunk.
func (s *Splitter) Split(text string) *Iterator {
	// Byte offset of each rune, plus a sentinel for the end of text.
	offsets := make([]int, 0, utf8.RuneCountInString(text)+1)
	for i := range text {
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	return &Iterator{
		text:    text,
		offsets: offsets,
		max:     s.maxSize,
		step:    s.maxSize - s.overlap,
		done:    len(text) == 0,
	}
}

// Iterator is a lazy, finite, non-restartable chunk sequence.
type Iterator struct {
	text    string
	offsets []int
	max     int
	step    int
	pos     int // rune index where the next chunk starts
	done    bool
}

// Next returns the next chunk, or ok == false when the sequence is exhausted.
func (it *Iterator) Next() (Chunk, bool) {
	if it.done {
		return Chunk{}, false
	}

	runes := len(it.offsets) - 1
	end := it.pos + it.max
	if end >= runes {
		end = runes
		it.done = true
	}

	start := it.offsets[it.pos]
	stop := it.offsets[end]
	it.pos += it.step

	return Chunk{Text: it.text[start:stop], Start: start, End: stop}, true
}
