package kb

import "time"

// DocumentRecord is a row of the document table, the source of truth.
type DocumentRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	Seq         int64  `gorm:"uniqueIndex;not null"`
	Kind        string `gorm:"index;size:32"`
	Title       string
	Question    string `gorm:"index"`
	Content     string
	Source      string
	URL         string
	ContentHash string `gorm:"uniqueIndex;size:40"`
	FetchedAt   time.Time
}

func (DocumentRecord) TableName() string { return "documents" }

// ChunkRecord is a row of the chunk table. Offset is in runes.
type ChunkRecord struct {
	ID         string `gorm:"primaryKey;size:80"`
	DocumentID string `gorm:"index;size:64;not null"`
	Ord        int
	Offset     int
	Text       string
}

func (ChunkRecord) TableName() string { return "chunks" }

// VectorRecord is a row of the vector table, keyed by chunk id.
type VectorRecord struct {
	ChunkID string `gorm:"primaryKey;size:80"`
	Dim     int
	Data    []byte
}

func (VectorRecord) TableName() string { return "vectors" }

// MetaRecord stores the parameters the chunks and vectors were derived with.
type MetaRecord struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string
}

func (MetaRecord) TableName() string { return "kb_meta" }

// UnansweredRecord is an append-only log entry. ResolvedAt is set once an
// answer for the question has been added; the row itself is kept.
type UnansweredRecord struct {
	ID         uint `gorm:"primaryKey"`
	Question    string
	QuestionKey string `gorm:"index"`
	Confidence  float64
	AskedAt     time.Time  `gorm:"index"`
	ResolvedAt  *time.Time `gorm:"index"`
}

func (UnansweredRecord) TableName() string { return "unanswered_questions" }
