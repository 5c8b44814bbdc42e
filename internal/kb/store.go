// Package kb is the durable knowledge base: documents, their chunks and the
// chunk vectors, kept mutually consistent in SQLite and mirrored into the
// in-memory vector index.
package kb

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"ragqa/internal/chunker"
	"ragqa/internal/domain"
	"ragqa/internal/embedding"
)

const (
	metaChunkSize    = "chunk_size"
	metaChunkOverlap = "chunk_overlap"
	metaEmbedder     = "embedder"

	insertBatch = 200
)

// Stats summarises the knowledge base.
type Stats struct {
	DocumentCount     int64  `json:"document_count"`
	TrainingPairCount int64  `json:"training_pair_count"`
	ChunkCount        int64  `json:"chunk_count"`
	IndexSize         int    `json:"index_size"`
	ModelInfo         string `json:"model_info"`
}

// UnansweredQuestion is an entry of the unanswered question log.
type UnansweredQuestion struct {
	ID         uint      `json:"id"`
	Question   string    `json:"question"`
	Confidence float64   `json:"confidence"`
	AskedAt    time.Time `json:"asked_at"`
}

// Store owns the persisted tables and keeps the vector index in step with
// them. Writes are serialised; the index serves searches concurrently.
//
// The index only ever holds committed chunks: additions are indexed after
// their transaction commits and deletions leave the index before theirs
// does. A search that starts after a write returns sees its effect.
type Store struct {
	db       *gorm.DB
	index    domain.Index
	chunker  *chunker.WindowChunker
	embedder domain.Embedder
	log      *zap.Logger
	now      func() time.Time

	mu sync.Mutex
}

func NewStore(db *gorm.DB, index domain.Index, ch *chunker.WindowChunker, emb domain.Embedder, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, index: index, chunker: ch, embedder: emb, log: log, now: time.Now}
}

// Index returns the vector index the store maintains.
func (s *Store) Index() domain.Index { return s.index }

// Load fills the vector index from the persisted tables. A table mismatch or
// changed chunking/embedder parameters trigger a full rebuild from the
// document table instead.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.WithContext(ctx)
	reason, err := s.staleReason(db)
	if err != nil {
		return err
	}
	if reason == "" {
		chunks, vectors, err := s.readIndex(db)
		switch {
		case err == nil:
			if err := s.index.Replace(chunks, vectors); err != nil {
				return fmt.Errorf("load index: %w", err)
			}
			s.log.Info("knowledge base loaded", zap.Int("chunks", len(chunks)))
			return nil
		case errors.Is(err, domain.ErrIndexInconsistency):
			reason = err.Error()
		default:
			return err
		}
	}
	s.log.Warn("rebuilding knowledge base", zap.String("reason", reason))
	return s.rebuildLocked(ctx)
}

// Rebuild re-chunks and re-embeds every document and replaces the index.
func (s *Store) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

// AddDocument stores one document. A document whose content is already
// stored is skipped; the returned bool reports whether it was new.
func (s *Store) AddDocument(ctx context.Context, doc domain.Document) (domain.Document, bool, error) {
	added, err := s.AddDocuments(ctx, []domain.Document{doc})
	if err != nil {
		return domain.Document{}, false, err
	}
	if len(added) == 0 {
		return doc, false, nil
	}
	return added[0], true, nil
}

// AddDocuments chunks, embeds and persists documents in one transaction and
// upserts their chunks into the index. Duplicates by content hash are
// skipped. It returns the documents actually added, with ids assigned.
func (s *Store) AddDocuments(ctx context.Context, docs []domain.Document) ([]domain.Document, error) {
	for _, d := range docs {
		if strings.TrimSpace(d.Content) == "" {
			return nil, fmt.Errorf("%w: document %q has no content", domain.ErrInvalidInput, d.Title)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.WithContext(ctx)
	fresh, hashes, err := s.dedupe(db, docs)
	if err != nil || len(fresh) == 0 {
		return nil, err
	}

	var seq int64
	if err := db.Model(&DocumentRecord{}).Select("COALESCE(MAX(seq), 0)").Scan(&seq).Error; err != nil {
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	records := make([]DocumentRecord, len(fresh))
	for i := range fresh {
		if fresh[i].ID == "" {
			fresh[i].ID = uuid.NewString()
		}
		if fresh[i].Kind == "" {
			fresh[i].Kind = domain.KindFetched
		}
		if fresh[i].FetchedAt.IsZero() {
			fresh[i].FetchedAt = s.now().UTC()
		}
		seq++
		records[i] = toRecord(fresh[i], seq, hashes[i])
	}

	chunks, vectors, err := s.derive(ctx, fresh)
	if err != nil {
		return nil, err
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.CreateInBatches(records, insertBatch).Error; err != nil {
			return fmt.Errorf("insert documents: %w", err)
		}
		return insertChunks(tx, chunks, vectors)
	})
	if err != nil {
		return nil, err
	}
	if err := s.index.Upsert(chunks, vectors); err != nil {
		ids := make([]string, len(fresh))
		for i, d := range fresh {
			ids[i] = d.ID
		}
		if derr := deleteDocuments(db, ids, chunkIDs(chunks)); derr != nil {
			s.log.Error("undo of unindexed documents failed", zap.Error(derr))
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrIndexInconsistency, err)
	}

	for _, d := range fresh {
		s.log.Info("document added",
			zap.String("id", d.ID),
			zap.String("kind", string(d.Kind)),
			zap.String("title", d.Title),
			zap.String("source", d.Source))
	}
	return fresh, nil
}

// AddTrainingPair stores a question/answer pair as a training-pair
// document. Adding the same pair twice returns the stored one.
func (s *Store) AddTrainingPair(ctx context.Context, question, answer string) (domain.Document, error) {
	question, answer = strings.TrimSpace(question), strings.TrimSpace(answer)
	if question == "" || answer == "" {
		return domain.Document{}, fmt.Errorf("%w: question and answer are required", domain.ErrInvalidInput)
	}
	doc := domain.Document{
		Title:   question,
		Content: answer,
		Source:  domain.TrainingSource,
		Kind:    domain.KindTrainingPair,
	}
	added, isNew, err := s.AddDocument(ctx, doc)
	if err != nil || isNew {
		return added, err
	}
	var rec DocumentRecord
	if err := s.db.WithContext(ctx).Where("content_hash = ?", contentHash(doc)).First(&rec).Error; err != nil {
		return domain.Document{}, fmt.Errorf("lookup training pair: %w", err)
	}
	return rec.toDocument(), nil
}

// DeleteByQuestion removes every training pair whose question matches,
// ignoring case and surrounding space, together with their chunks and
// vectors. It returns how many pairs were removed.
func (s *Store) DeleteByQuestion(ctx context.Context, question string) (int, error) {
	key := normalizeQuestion(question)
	if key == "" {
		return 0, fmt.Errorf("%w: question is required", domain.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	db := s.db.WithContext(ctx)
	var docIDs []string
	if err := db.Model(&DocumentRecord{}).
		Where("kind = ? AND question = ?", string(domain.KindTrainingPair), key).
		Pluck("id", &docIDs).Error; err != nil {
		return 0, fmt.Errorf("find training pairs: %w", err)
	}
	if len(docIDs) == 0 {
		return 0, fmt.Errorf("%w: no training pair for %q", domain.ErrNotFound, question)
	}
	var ids []string
	if err := db.Model(&ChunkRecord{}).Where("document_id IN ?", docIDs).Pluck("id", &ids).Error; err != nil {
		return 0, fmt.Errorf("find chunks: %w", err)
	}

	removed := -1
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := deleteDocuments(tx, docIDs, ids); err != nil {
			return err
		}
		removed = s.index.Remove(ids...)
		return nil
	})
	if err != nil {
		if removed >= 0 {
			s.restoreIndex(db)
		}
		return 0, err
	}
	s.log.Info("training pair deleted",
		zap.String("question", question),
		zap.Int("documents", len(docIDs)),
		zap.Int("chunks", removed))
	return len(docIDs), nil
}

// restoreIndex reloads the index from the tables after a failed delete
// already took its chunks out.
func (s *Store) restoreIndex(db *gorm.DB) {
	chunks, vectors, err := s.readIndex(db)
	if err == nil {
		err = s.index.Replace(chunks, vectors)
	}
	if err != nil {
		s.log.Error("restoring index after failed delete", zap.Error(err))
	}
}

// TrainingPairs lists the stored training pairs in insertion order.
func (s *Store) TrainingPairs(ctx context.Context) ([]domain.Document, error) {
	var recs []DocumentRecord
	if err := s.db.WithContext(ctx).
		Where("kind = ?", string(domain.KindTrainingPair)).
		Order("seq").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list training pairs: %w", err)
	}
	out := make([]domain.Document, len(recs))
	for i, r := range recs {
		out[i] = r.toDocument()
	}
	return out, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	db := s.db.WithContext(ctx)
	st := Stats{IndexSize: s.index.Size(), ModelInfo: embedding.Info(s.embedder)}
	if err := db.Model(&DocumentRecord{}).Count(&st.DocumentCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count documents: %w", err)
	}
	if err := db.Model(&DocumentRecord{}).Where("kind = ?", string(domain.KindTrainingPair)).Count(&st.TrainingPairCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count training pairs: %w", err)
	}
	if err := db.Model(&ChunkRecord{}).Count(&st.ChunkCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count chunks: %w", err)
	}
	return st, nil
}

// staleReason reports why the persisted chunks and vectors cannot be served
// as they are, or "" when they can.
func (s *Store) staleReason(db *gorm.DB) (string, error) {
	var metas []MetaRecord
	if err := db.Find(&metas).Error; err != nil {
		return "", fmt.Errorf("read meta: %w", err)
	}
	stored := make(map[string]string, len(metas))
	for _, m := range metas {
		stored[m.Key] = m.Value
	}
	for k, v := range s.meta() {
		if stored[k] != v {
			return fmt.Sprintf("%s changed from %q to %q", k, stored[k], v), nil
		}
	}

	checks := []struct {
		what  string
		query *gorm.DB
	}{
		{"chunk without vector", db.Model(&ChunkRecord{}).Where("id NOT IN (?)", db.Model(&VectorRecord{}).Select("chunk_id"))},
		{"vector without chunk", db.Model(&VectorRecord{}).Where("chunk_id NOT IN (?)", db.Model(&ChunkRecord{}).Select("id"))},
		{"chunk without document", db.Model(&ChunkRecord{}).Where("document_id NOT IN (?)", db.Model(&DocumentRecord{}).Select("id"))},
		{"vector with wrong dimension", db.Model(&VectorRecord{}).Where("dim <> ?", s.embedder.Dimension())},
	}
	for _, c := range checks {
		var n int64
		if err := c.query.Count(&n).Error; err != nil {
			return "", fmt.Errorf("check %s: %w", c.what, err)
		}
		if n > 0 {
			return fmt.Sprintf("%d %s", n, c.what), nil
		}
	}
	return "", nil
}

func (s *Store) meta() map[string]string {
	return map[string]string{
		metaChunkSize:    strconv.Itoa(s.chunker.Size()),
		metaChunkOverlap: strconv.Itoa(s.chunker.Overlap()),
		metaEmbedder:     embedding.Info(s.embedder),
	}
}

// readIndex loads chunks in document insertion order with their vectors.
func (s *Store) readIndex(db *gorm.DB) ([]domain.Chunk, [][]float64, error) {
	var docs []DocumentRecord
	if err := db.Order("seq").Find(&docs).Error; err != nil {
		return nil, nil, fmt.Errorf("read documents: %w", err)
	}
	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d.toDocument()
	}

	var recs []ChunkRecord
	if err := db.Table("chunks").Select("chunks.*").
		Joins("JOIN documents ON documents.id = chunks.document_id").
		Order("documents.seq, chunks.ord").
		Find(&recs).Error; err != nil {
		return nil, nil, fmt.Errorf("read chunks: %w", err)
	}
	var vecs []VectorRecord
	if err := db.Find(&vecs).Error; err != nil {
		return nil, nil, fmt.Errorf("read vectors: %w", err)
	}
	byChunk := make(map[string]VectorRecord, len(vecs))
	for _, v := range vecs {
		byChunk[v.ChunkID] = v
	}

	dim := s.embedder.Dimension()
	chunks := make([]domain.Chunk, 0, len(recs))
	vectors := make([][]float64, 0, len(recs))
	for _, r := range recs {
		v, ok := byChunk[r.ID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: chunk %s has no vector", domain.ErrIndexInconsistency, r.ID)
		}
		vec, err := decodeVector(v.Data, dim)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: chunk %s: %w", domain.ErrIndexInconsistency, r.ID, err)
		}
		chunks = append(chunks, r.toChunk(byID[r.DocumentID]))
		vectors = append(vectors, vec)
	}
	return chunks, vectors, nil
}

func (s *Store) rebuildLocked(ctx context.Context) error {
	start := s.now()
	db := s.db.WithContext(ctx)
	var recs []DocumentRecord
	if err := db.Order("seq").Find(&recs).Error; err != nil {
		return fmt.Errorf("read documents: %w", err)
	}
	docs := make([]domain.Document, len(recs))
	for i, r := range recs {
		docs[i] = r.toDocument()
	}

	chunks, vectors, err := s.derive(ctx, docs)
	if err != nil {
		return err
	}

	metas := make([]MetaRecord, 0, 3)
	for k, v := range s.meta() {
		metas = append(metas, MetaRecord{Key: k, Value: v})
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&VectorRecord{}).Error; err != nil {
			return fmt.Errorf("clear vectors: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&ChunkRecord{}).Error; err != nil {
			return fmt.Errorf("clear chunks: %w", err)
		}
		if err := insertChunks(tx, chunks, vectors); err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&metas).Error; err != nil {
			return fmt.Errorf("write meta: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.index.Replace(chunks, vectors); err != nil {
		return fmt.Errorf("replace index: %w", err)
	}
	s.log.Info("knowledge base rebuilt",
		zap.Int("documents", len(docs)),
		zap.Int("chunks", len(chunks)),
		zap.Duration("took", s.now().Sub(start)))
	return nil
}

// derive chunks and embeds documents. It runs outside any transaction.
func (s *Store) derive(ctx context.Context, docs []domain.Document) ([]domain.Chunk, [][]float64, error) {
	var chunks []domain.Chunk
	for _, d := range docs {
		cs, err := s.chunker.Chunk(d)
		if err != nil {
			return nil, nil, fmt.Errorf("chunk %s: %w", d.ID, err)
		}
		chunks = append(chunks, cs...)
	}
	if len(chunks) == 0 {
		return nil, nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbeddingText()
	}
	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, nil, fmt.Errorf("%w: got %d vectors for %d chunks", domain.ErrModelUnavailable, len(vectors), len(chunks))
	}
	return chunks, vectors, nil
}

// dedupe drops documents whose content hash is already stored or repeated
// earlier in the batch.
func (s *Store) dedupe(db *gorm.DB, docs []domain.Document) ([]domain.Document, []string, error) {
	hashes := make([]string, len(docs))
	for i, d := range docs {
		hashes[i] = contentHash(d)
	}
	var existing []string
	if err := db.Model(&DocumentRecord{}).Where("content_hash IN ?", hashes).Pluck("content_hash", &existing).Error; err != nil {
		return nil, nil, fmt.Errorf("check duplicates: %w", err)
	}
	seen := make(map[string]bool, len(existing)+len(docs))
	for _, h := range existing {
		seen[h] = true
	}
	var fresh []domain.Document
	var freshHashes []string
	for i, d := range docs {
		if seen[hashes[i]] {
			s.log.Debug("duplicate document skipped", zap.String("title", d.Title), zap.String("url", d.URL))
			continue
		}
		seen[hashes[i]] = true
		fresh = append(fresh, d)
		freshHashes = append(freshHashes, hashes[i])
	}
	return fresh, freshHashes, nil
}

func insertChunks(tx *gorm.DB, chunks []domain.Chunk, vectors [][]float64) error {
	if len(chunks) == 0 {
		return nil
	}
	crecs := make([]ChunkRecord, len(chunks))
	vrecs := make([]VectorRecord, len(chunks))
	for i, c := range chunks {
		crecs[i] = ChunkRecord{ID: c.ChunkID, DocumentID: c.DocumentID, Ord: c.Index, Offset: c.Offset, Text: c.Text}
		vrecs[i] = VectorRecord{ChunkID: c.ChunkID, Dim: len(vectors[i]), Data: encodeVector(vectors[i])}
	}
	if err := tx.CreateInBatches(crecs, insertBatch).Error; err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}
	if err := tx.CreateInBatches(vrecs, insertBatch).Error; err != nil {
		return fmt.Errorf("insert vectors: %w", err)
	}
	return nil
}

func deleteDocuments(tx *gorm.DB, docIDs, chunkRowIDs []string) error {
	if len(chunkRowIDs) > 0 {
		if err := tx.Where("chunk_id IN ?", chunkRowIDs).Delete(&VectorRecord{}).Error; err != nil {
			return fmt.Errorf("delete vectors: %w", err)
		}
	}
	if err := tx.Where("document_id IN ?", docIDs).Delete(&ChunkRecord{}).Error; err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	if err := tx.Where("id IN ?", docIDs).Delete(&DocumentRecord{}).Error; err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func chunkIDs(chunks []domain.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ChunkID
	}
	return ids
}

func normalizeQuestion(q string) string {
	return strings.ToLower(strings.Join(strings.Fields(q), " "))
}

// contentHash identifies a document by what it says and where it came from.
func contentHash(d domain.Document) string {
	kind := d.Kind
	if kind == "" {
		kind = domain.KindFetched
	}
	h := sha1.New()
	for _, part := range []string{string(kind), d.URL, d.Title, d.Content} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func toRecord(d domain.Document, seq int64, hash string) DocumentRecord {
	r := DocumentRecord{
		ID:          d.ID,
		Seq:         seq,
		Kind:        string(d.Kind),
		Title:       d.Title,
		Content:     d.Content,
		Source:      d.Source,
		URL:         d.URL,
		ContentHash: hash,
		FetchedAt:   d.FetchedAt,
	}
	if d.Kind == domain.KindTrainingPair {
		r.Question = normalizeQuestion(d.Title)
	}
	return r
}

func (r DocumentRecord) toDocument() domain.Document {
	return domain.Document{
		ID:        r.ID,
		Title:     r.Title,
		Content:   r.Content,
		Source:    r.Source,
		URL:       r.URL,
		Kind:      domain.DocumentKind(r.Kind),
		FetchedAt: r.FetchedAt,
	}
}

func (r ChunkRecord) toChunk(doc domain.Document) domain.Chunk {
	return domain.Chunk{
		DocumentID: r.DocumentID,
		ChunkID:    r.ID,
		Text:       r.Text,
		Index:      r.Ord,
		Offset:     r.Offset,
		Title:      doc.Title,
		Source:     doc.Source,
		URL:        doc.URL,
		Kind:       doc.Kind,
	}
}
