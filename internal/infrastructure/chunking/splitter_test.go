package chunking

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitPacksParagraphs(t *testing.T) {
	s := NewSplitter(30, 5)
	chunks := s.Split("First para.\n\nSecond para.\n\nThird paragraph here.")

	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %q", len(chunks), chunks)
	}
	if chunks[0] != "First para.\n\nSecond para." {
		t.Fatalf("unexpected first chunk: %q", chunks[0])
	}
	if chunks[1] != "Third paragraph here." {
		t.Fatalf("unexpected second chunk: %q", chunks[1])
	}
}

func TestSplitWindowsOversizedParagraph(t *testing.T) {
	s := NewSplitter(10, 2)
	long := strings.Repeat("абвгдежзий", 3)
	chunks := s.Split(long)

	if len(chunks) != 4 {
		t.Fatalf("expected 4 windows, got %d: %q", len(chunks), chunks)
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 10 {
			t.Fatalf("chunk exceeds size: %q", c)
		}
	}
	first := []rune(chunks[0])
	second := []rune(chunks[1])
	if string(first[8:]) != string(second[:2]) {
		t.Fatalf("expected overlap between windows: %q %q", chunks[0], chunks[1])
	}
}

func TestSplitEmptyAndWhitespace(t *testing.T) {
	s := NewSplitter(100, 10)
	if got := s.Split(""); len(got) != 0 {
		t.Fatalf("expected no chunks, got %q", got)
	}
	if got := s.Split(" \n\n \r\n\r\n "); len(got) != 0 {
		t.Fatalf("expected no chunks, got %q", got)
	}
}

func TestNewSplitterNormalizesSettings(t *testing.T) {
	s := NewSplitter(0, -1)
	if s.ChunkSize != 900 || s.Overlap != 0 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	s = NewSplitter(100, 100)
	if s.Overlap != 25 {
		t.Fatalf("overlap must be capped, got %d", s.Overlap)
	}
}
