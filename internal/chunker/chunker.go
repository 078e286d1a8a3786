package chunker

import (
	"fmt"
	"strconv"
	"unicode"

	"corpus-rag/internal/models"
)

// Unit is the granularity chunk_size and chunk_overlap are measured in.
type Unit string

const (
	UnitRune     Unit = "rune"
	UnitWord     Unit = "word"
	UnitSentence Unit = "sentence"
)

// Chunker splits documents into overlapping windows of Size units advancing by
// Size-Overlap units. The final window may be shorter.
type Chunker struct {
	size    int
	overlap int
	unit    Unit
}

// New validates the window parameters.
func New(size, overlap int, unit string) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk_size must be > 0, got %d", models.ErrInvalidConfig, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk_overlap must be in [0, %d), got %d", models.ErrInvalidConfig, size, overlap)
	}
	u := Unit(unit)
	switch u {
	case "":
		u = UnitRune
	case UnitRune, UnitWord, UnitSentence:
	default:
		return nil, fmt.Errorf("%w: unknown chunk unit %q", models.ErrInvalidConfig, unit)
	}
	return &Chunker{size: size, overlap: overlap, unit: u}, nil
}

// Chunk is a convenience wrapper around New and (*Chunker).Chunk.
func Chunk(doc models.Document, size, overlap int, unit string) ([]models.Chunk, error) {
	c, err := New(size, overlap, unit)
	if err != nil {
		return nil, err
	}
	return c.Chunk(doc), nil
}

// Chunk splits doc. An empty document yields no chunks.
func (c *Chunker) Chunk(doc models.Document) []models.Chunk {
	if doc.RawText == "" {
		return nil
	}
	cuts := boundaries(doc.RawText, c.unit)
	units := len(cuts) - 1
	stride := c.size - c.overlap

	var chunks []models.Chunk
	for start := 0; ; start += stride {
		end := min(start+c.size, units)
		idx := len(chunks)
		chunks = append(chunks, models.Chunk{
			ID:         doc.ID + ":" + strconv.Itoa(idx),
			DocumentID: doc.ID,
			Text:       doc.RawText[cuts[start]:cuts[end]],
			Offset:     cuts[start],
			Metadata:   c.metadata(doc, idx, start, end),
		})
		if end == units {
			break
		}
	}
	return chunks
}

func (c *Chunker) metadata(doc models.Document, idx, start, end int) map[string]string {
	meta := make(map[string]string, len(doc.Metadata)+5)
	for k, v := range doc.Metadata {
		meta[k] = v
	}
	meta["source"] = doc.SourceURI
	meta["chunk_index"] = strconv.Itoa(idx)
	meta["start_unit"] = strconv.Itoa(start)
	meta["end_unit"] = strconv.Itoa(end)
	meta["unit"] = string(c.unit)
	return meta
}

// boundaries returns the byte offsets where units start, followed by len(text).
// Units partition text exactly; whitespace belongs to the unit before it.
func boundaries(text string, unit Unit) []int {
	cuts := []int{0}
	switch unit {
	case UnitWord:
		seenWord, prevSpace := false, false
		for i, r := range text {
			space := unicode.IsSpace(r)
			if !space && prevSpace && seenWord {
				cuts = append(cuts, i)
			}
			if !space {
				seenWord = true
			}
			prevSpace = space
		}
	case UnitSentence:
		afterTerm, pending := false, false
		for i, r := range text {
			space := unicode.IsSpace(r)
			if pending && !space {
				cuts = append(cuts, i)
				pending = false
			}
			switch {
			case r == '.' || r == '!' || r == '?':
				afterTerm = true
			case afterTerm && isCloser(r):
			case space:
				if afterTerm {
					pending = true
				}
				afterTerm = false
			default:
				afterTerm = false
			}
		}
	default:
		for i := range text {
			if i > 0 {
				cuts = append(cuts, i)
			}
		}
	}
	return append(cuts, len(text))
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’':
		return true
	}
	return false
}

// Reassemble joins consecutive chunks of one document, dropping the prefix
// each chunk shares with its predecessor.
func Reassemble(chunks []models.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	out := []byte(chunks[0].Text)
	prevEnd := chunks[0].Offset + len(chunks[0].Text)
	for _, ch := range chunks[1:] {
		shared := prevEnd - ch.Offset
		if shared < 0 {
			shared = 0
		}
		if shared < len(ch.Text) {
			out = append(out, ch.Text[shared:]...)
		}
		if end := ch.Offset + len(ch.Text); end > prevEnd {
			prevEnd = end
		}
	}
	return string(out)
}
