// Package ingest turns source files into embedded, searchable chunks.
package ingest

import "strings"

// separators are tried in order, from coarsest to finest.
var separators = []string{"\n\n", "\n", ". ", " "}

// Chunker splits long text into overlapping pieces small enough to embed.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker returns a Chunker producing chunks of at most size characters
// with up to overlap characters shared between consecutive chunks.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = 10000
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Chunker{size: size, overlap: overlap}
}

// Split breaks text into chunks, preferring paragraph breaks, then lines,
// sentences and words, falling back to a hard character cut. Joining the
// chunks and dropping the overlap regions reproduces the input exactly.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return c.merge(c.segments(text, separators))
}

// segments recursively splits text until every piece fits within size.
// Each piece keeps its trailing separator so concatenation is lossless.
func (c *Chunker) segments(text string, seps []string) []string {
	if len(text) <= c.size {
		return []string{text}
	}
	if len(seps) == 0 {
		var out []string
		for len(text) > c.size {
			out = append(out, text[:c.size])
			text = text[c.size:]
		}
		if text != "" {
			out = append(out, text)
		}
		return out
	}
	if !strings.Contains(text, seps[0]) {
		return c.segments(text, seps[1:])
	}
	var out []string
	for _, part := range strings.SplitAfter(text, seps[0]) {
		if part == "" {
			continue
		}
		out = append(out, c.segments(part, seps[1:])...)
	}
	return out
}

// merge greedily packs segments into chunks of at most size characters.
// When a chunk is emitted, trailing segments totalling up to overlap
// characters are carried into the next chunk.
func (c *Chunker) merge(segs []string) []string {
	var chunks []string
	var pending []string
	total := 0

	flush := func() {
		if len(pending) == 0 {
			return
		}
		chunk := strings.Join(pending, "")
		if strings.TrimSpace(chunk) != "" {
			chunks = append(chunks, chunk)
		}
	}

	for _, seg := range segs {
		if total+len(seg) > c.size && len(pending) > 0 {
			flush()
			for total > c.overlap || (total+len(seg) > c.size && total > 0) {
				total -= len(pending[0])
				pending = pending[1:]
			}
		}
		pending = append(pending, seg)
		total += len(seg)
	}
	flush()
	return chunks
}
