package domain

import (
	"context"
	"time"
)

// DocumentKind tells where a document came from.
type DocumentKind string

const (
	KindFetched      DocumentKind = "fetched"
	KindTrainingPair DocumentKind = "training_pair"
)

// TrainingSource is the source name recorded for admin-added pairs.
const TrainingSource = "Custom Training Data"

// Document is an immutable unit of source text.
type Document struct {
	ID        string
	Title     string
	Content   string
	Source    string
	URL       string
	Kind      DocumentKind
	FetchedAt time.Time
}

// Chunk is a contiguous window of a document's text used for retrieval.
// Offset is the rune offset of Text within the parent document. Title, Source,
// URL and Kind are copied from the parent so search results carry provenance.
type Chunk struct {
	DocumentID string
	ChunkID    string
	Text       string
	Index      int
	Offset     int

	Title  string
	Source string
	URL    string
	Kind   DocumentKind
}

// EmbeddingText is the text embedded for this chunk: the document title
// followed by the chunk text.
func (c Chunk) EmbeddingText() string {
	if c.Title == "" {
		return c.Text
	}
	return c.Title + "\n" + c.Text
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Candidate is a raw document returned by an external provider.
type Candidate struct {
	Title  string `json:"title"`
	Text   string `json:"text"`
	Source string `json:"source"`
	URL    string `json:"url"`
}

// Extraction is an answer span pulled out of a context.
// An empty Answer with zero Confidence means the context holds no answer.
type Extraction struct {
	Answer     string
	Confidence float64
	Start      int
	End        int
}

// Found reports whether the extraction carries an answer.
func (e Extraction) Found() bool { return e.Answer != "" && e.Confidence > 0 }

// Embedder converts free text into a fixed-dimension vector.
// Identical text must always produce identical vectors.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Index holds chunk vectors and answers nearest-neighbour queries.
// Upsert and Replace are atomic with respect to Search.
type Index interface {
	Upsert(chunks []Chunk, vectors [][]float64) error
	Remove(chunkIDs ...string) int
	Search(vector []float64, topK int, floor float64) ([]SearchResult, error)
	Replace(chunks []Chunk, vectors [][]float64) error
	Size() int
}

// Extractor pulls an answer span for a question out of a short context.
type Extractor interface {
	Name() string
	Extract(ctx context.Context, question, context string) (Extraction, error)
}

// Fetcher returns candidate documents for a topic from one external provider.
// No results is an empty slice, not an error.
type Fetcher interface {
	Name() string
	FetchCandidates(ctx context.Context, topic string, limit int) ([]Candidate, error)
}
