package chunker

import (
	"strconv"

	"ragqa/internal/domain"
)

// WindowChunker splits text into windows of at most size runes, each starting
// overlap runes before the end of the previous one. A window is cut early at
// its last sentence end or newline when that still leaves it longer than half
// the window size.
type WindowChunker struct {
	size    int
	overlap int
}

func NewWindowChunker(size, overlap int) *WindowChunker {
	if size <= 0 {
		size = 500
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size / 10
	}
	return &WindowChunker{size: size, overlap: overlap}
}

// Size returns the maximum chunk length in runes.
func (c *WindowChunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive chunks.
func (c *WindowChunker) Overlap() int { return c.overlap }

func (c *WindowChunker) Chunk(document domain.Document) ([]domain.Chunk, error) {
	runes := []rune(document.Content)
	if len(runes) == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	start, idx := 0, 0
	for {
		end := start + c.size
		if end >= len(runes) {
			end = len(runes)
		} else {
			end = c.cut(runes, start, end)
		}
		chunks = append(chunks, domain.Chunk{
			DocumentID: document.ID,
			ChunkID:    document.ID + ":" + strconv.Itoa(idx),
			Text:       string(runes[start:end]),
			Index:      idx,
			Offset:     start,
			Title:      document.Title,
			Source:     document.Source,
			URL:        document.URL,
			Kind:       document.Kind,
		})
		if end == len(runes) {
			break
		}
		start = end - c.overlap
		idx++
	}
	return chunks, nil
}

// cut moves end back to just after the last '.' or '\n' in the window, as long
// as the window stays longer than both half its size and the overlap.
func (c *WindowChunker) cut(runes []rune, start, end int) int {
	for i := end - 1; i > start; i-- {
		if runes[i] != '.' && runes[i] != '\n' {
			continue
		}
		n := i + 1 - start
		if n > c.size/2 && n > c.overlap {
			return i + 1
		}
		break
	}
	return end
}
