package kb

import (
	"context"
	"fmt"
	"strings"
)

// LogUnanswered appends a question the engine could not answer confidently.
func (s *Store) LogUnanswered(ctx context.Context, question string, confidence float64) error {
	rec := UnansweredRecord{
		Question:    strings.TrimSpace(question),
		QuestionKey: normalizeQuestion(question),
		Confidence:  confidence,
		AskedAt:     s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("log unanswered question: %w", err)
	}
	return nil
}

// Unanswered lists unresolved questions, newest first. limit <= 0 returns
// all.
func (s *Store) Unanswered(ctx context.Context, limit int) ([]UnansweredQuestion, error) {
	q := s.db.WithContext(ctx).Where("resolved_at IS NULL").Order("asked_at DESC").Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []UnansweredRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list unanswered questions: %w", err)
	}
	out := make([]UnansweredQuestion, len(recs))
	for i, r := range recs {
		out[i] = UnansweredQuestion{ID: r.ID, Question: r.Question, Confidence: r.Confidence, AskedAt: r.AskedAt}
	}
	return out, nil
}

// ResolveUnanswered marks the entries for a question that now has an
// answer. Questions match after case folding and whitespace collapsing.
func (s *Store) ResolveUnanswered(ctx context.Context, question string) (int64, error) {
	key := normalizeQuestion(question)
	if key == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Model(&UnansweredRecord{}).
		Where("question_key = ? AND resolved_at IS NULL", key).
		Update("resolved_at", s.now().UTC())
	if res.Error != nil {
		return 0, fmt.Errorf("resolve unanswered question: %w", res.Error)
	}
	return res.RowsAffected, nil
}
