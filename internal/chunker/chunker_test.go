package chunker

import (
	"strings"
	"testing"

	"github.com/raaihank/pii-vault/internal/detector"
)

func TestSplitter(t *testing.T) {
	t.Run("EmptyInput", func(t *testing.T) {
		s, err := NewSplitter(100, 10)
		if err != nil {
			t.Fatalf("Failed to create splitter: %v", err)
		}

		it := s.Split("")
		if _, ok := it.Next(); ok {
			t.Error("Empty input should yield no chunks")
		}
	})

	t.Run("SingleChunk", func(t *testing.T) {
		s, _ := NewSplitter(100, 10)

		it := s.Split("short text")
		chunk, ok := it.Next()
		if !ok {
			t.Fatal("Expected one chunk")
		}
		if chunk.Text != "short text" || chunk.Start != 0 || chunk.End != len("short text") {
			t.Errorf("Unexpected chunk: %+v", chunk)
		}
		if _, ok := it.Next(); ok {
			t.Error("Input within max size should yield exactly one chunk")
		}
	})

	t.Run("ExactCoverage", func(t *testing.T) {
		s, _ := NewSplitter(10, 3)
		text := strings.Repeat("abcdefg ", 12)

		it := s.Split(text)
		covered := 0 // high-water mark of covered bytes
		prevStart := -1
		count := 0
		for {
			chunk, ok := it.Next()
			if !ok {
				break
			}
			count++
			if chunk.Text != text[chunk.Start:chunk.End] {
				t.Errorf("Chunk text does not match its offsets: %+v", chunk)
			}
			if chunk.Start <= prevStart {
				t.Errorf("Chunks must advance: start %d after %d", chunk.Start, prevStart)
			}
			if chunk.Start > covered {
				t.Errorf("Gap in coverage: chunk starts at %d, covered to %d", chunk.Start, covered)
			}
			if chunk.End > covered {
				covered = chunk.End
			}
			prevStart = chunk.Start
		}
		if covered != len(text) {
			t.Errorf("Union of chunks covers %d bytes, want %d", covered, len(text))
		}
		if count < 2 {
			t.Errorf("Expected multiple chunks, got %d", count)
		}
	})

	t.Run("OverlapShared", func(t *testing.T) {
		s, _ := NewSplitter(10, 4)
		text := "0123456789abcdefghij"

		it := s.Split(text)
		first, _ := it.Next()
		second, ok := it.Next()
		if !ok {
			t.Fatal("Expected a second chunk")
		}
		if second.Start != first.End-4 {
			t.Errorf("Second chunk starts at %d, want %d", second.Start, first.End-4)
		}
	})

	t.Run("MultiByteRunes", func(t *testing.T) {
		s, _ := NewSplitter(5, 2)
		text := strings.Repeat("héllo", 4) // é is two bytes

		it := s.Split(text)
		for {
			chunk, ok := it.Next()
			if !ok {
				break
			}
			if chunk.Text != text[chunk.Start:chunk.End] {
				t.Errorf("Rune boundary split corrupted chunk: %+v", chunk)
			}
			if strings.ContainsRune(chunk.Text, '�') {
				t.Errorf("Chunk contains replacement character: %q", chunk.Text)
			}
		}
	})

	t.Run("InvalidSizes", func(t *testing.T) {
		if _, err := NewSplitter(0, 0); err == nil {
			t.Error("Zero max size should be rejected")
		}
		if _, err := NewSplitter(10, 10); err == nil {
			t.Error("Overlap equal to max size should be rejected")
		}
	})
}

func TestDeduper(t *testing.T) {
	t.Run("BoundaryEntityExactlyOnce", func(t *testing.T) {
		// An entity in the overlap region is reported by both chunks;
		// only the first detection survives.
		d := NewDeduper()

		d.Add(Chunk{Text: "call 555-123-4567 now", Start: 0, End: 21},
			[]detector.Entity{{Type: detector.Phone, Text: "555-123-4567", Start: 5, End: 17}})
		d.Add(Chunk{Text: "555-123-4567 now and later", Start: 5, End: 31},
			[]detector.Entity{{Type: detector.Phone, Text: "555-123-4567", Start: 0, End: 12}})

		entities := d.Entities()
		if len(entities) != 1 {
			t.Fatalf("Boundary entity detected %d times, want exactly once", len(entities))
		}
		if entities[0].Start != 5 || entities[0].End != 17 {
			t.Errorf("Kept wrong detection: %+v", entities[0])
		}
	})

	t.Run("TranslatesOffsets", func(t *testing.T) {
		d := NewDeduper()
		d.Add(Chunk{Text: "x a@b.co y", Start: 100, End: 110},
			[]detector.Entity{{Type: detector.Email, Text: "a@b.co", Start: 2, End: 8}})

		entities := d.Entities()
		if len(entities) != 1 || entities[0].Start != 102 || entities[0].End != 108 {
			t.Errorf("Offsets not translated to global positions: %+v", entities)
		}
	})

	t.Run("KeepsDistinctSpans", func(t *testing.T) {
		d := NewDeduper()
		d.Add(Chunk{Text: "a@b.co and c@d.co", Start: 0, End: 17},
			[]detector.Entity{
				{Type: detector.Email, Text: "a@b.co", Start: 0, End: 6},
				{Type: detector.Email, Text: "c@d.co", Start: 11, End: 17},
			})

		if len(d.Entities()) != 2 {
			t.Errorf("Distinct spans should both survive, got %d", len(d.Entities()))
		}
	})
}
