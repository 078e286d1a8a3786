package models

// Document is one unit of ingested text. It is never mutated after creation.
type Document struct {
	ID        string            `json:"id"`
	SourceURI string            `json:"source_uri"`
	RawText   string            `json:"raw_text"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Chunk is a contiguous span of a single document.
// Text is always RawText[Offset : Offset+len(Text)] of the parent document.
type Chunk struct {
	ID         string            `json:"id"`
	DocumentID string            `json:"document_id"`
	Text       string            `json:"text"`
	Offset     int               `json:"offset"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Source returns the source uri recorded on the chunk, or the document id.
func (c Chunk) Source() string {
	if s := c.Metadata["source"]; s != "" {
		return s
	}
	return c.DocumentID
}

// SearchHit is a single nearest-neighbour match returned by a vector index.
type SearchHit struct {
	ChunkID string
	Score   float64
	Chunk   Chunk
}

// ScoredChunk is a chunk paired with a relevance score.
type ScoredChunk struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// RetrievalResult is ordered by descending score with unique chunk ids.
// Candidates counts the merged first stage hits before truncation.
type RetrievalResult struct {
	Query      string        `json:"query"`
	Variants   []string      `json:"variants"`
	Chunks     []ScoredChunk `json:"chunks"`
	Candidates int           `json:"candidates"`
	Reranked   bool          `json:"reranked"`
}

// SourceRef identifies a chunk cited by an answer.
type SourceRef struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
}

// AnswerResult is returned to the caller for a single question.
type AnswerResult struct {
	Query      string             `json:"query"`
	Answer     string             `json:"answer"`
	Sources    []SourceRef        `json:"sources"`
	Attributed bool               `json:"attributed"`
	Contexts   []ScoredChunk      `json:"-"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}
