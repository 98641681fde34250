package index

import "strings"

// Chunk is one embeddable slice of a document.
type Chunk struct {
	ID      string
	RelPath string
	Ordinal int
	Content string
}

// Chunker splits text into fixed-size character windows with overlap.
// Splits prefer paragraph then line boundaries near the window edge so
// chunks do not cut sentences mid-word more than necessary.
type Chunker struct {
	Size    int
	Overlap int
}

// NewChunker validates and builds a chunker. Overlap is clamped below Size.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 4
	}
	return &Chunker{Size: size, Overlap: overlap}
}

// Split returns the chunk texts for a document. Empty or whitespace-only
// input yields no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if len(text) <= c.Size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(text) {
		end := start + c.Size
		if end >= len(text) {
			chunks = append(chunks, strings.TrimSpace(text[start:]))
			break
		}

		cut := c.findBreak(text, start, end)
		piece := strings.TrimSpace(text[start:cut])
		if piece != "" {
			chunks = append(chunks, piece)
		}

		next := cut - c.Overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

// findBreak looks backwards from end for a paragraph or line break within
// the last quarter of the window, falling back to a space, then to end.
func (c *Chunker) findBreak(text string, start, end int) int {
	floor := end - c.Size/4
	if floor < start+1 {
		floor = start + 1
	}

	if i := strings.LastIndex(text[floor:end], "\n\n"); i >= 0 {
		return floor + i + 2
	}
	if i := strings.LastIndex(text[floor:end], "\n"); i >= 0 {
		return floor + i + 1
	}
	if i := strings.LastIndex(text[floor:end], " "); i >= 0 {
		return floor + i + 1
	}
	return end
}
