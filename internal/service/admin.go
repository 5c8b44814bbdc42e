package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"ragqa/internal/domain"
	"ragqa/internal/kb"
)

// AdminStore is the part of the store the admin operations use.
type AdminStore interface {
	KnowledgeBase
	AddTrainingPair(ctx context.Context, question, answer string) (domain.Document, error)
	DeleteByQuestion(ctx context.Context, question string) (int, error)
	TrainingPairs(ctx context.Context) ([]domain.Document, error)
	Stats(ctx context.Context) (kb.Stats, error)
	Unanswered(ctx context.Context, limit int) ([]kb.UnansweredQuestion, error)
	ResolveUnanswered(ctx context.Context, question string) (int64, error)
	Rebuild(ctx context.Context) error
}

// Pair is a stored training pair.
type Pair struct {
	ID       string    `json:"id"`
	Question string    `json:"question"`
	Answer   string    `json:"answer"`
	AddedAt  time.Time `json:"added_at"`
}

// Admin manages training pairs and the knowledge base.
type Admin struct {
	store   AdminStore
	fetcher domain.Fetcher
	topics  []string
	log     *zap.Logger
}

// DefaultPreloadTopics are fetched by Preload when no topic is named.
var DefaultPreloadTopics = []string{
	"Python programming language",
	"Machine learning basics",
	"Artificial intelligence",
	"Web development",
	"Database management",
	"Computer science fundamentals",
	"Software engineering best practices",
}

// NewAdmin builds the admin facade. fetcher may be nil, which disables
// Preload.
func NewAdmin(store AdminStore, fetcher domain.Fetcher, log *zap.Logger) *Admin {
	if log == nil {
		log = zap.NewNop()
	}
	return &Admin{store: store, fetcher: fetcher, topics: DefaultPreloadTopics, log: log}
}

// WithTopics replaces the topics Preload falls back to. An empty list keeps
// the current ones.
func (a *Admin) WithTopics(topics []string) *Admin {
	if len(topics) > 0 {
		a.topics = slices.Clone(topics)
	}
	return a
}

// AddPair stores a training pair and clears the question from the
// unanswered log.
func (a *Admin) AddPair(ctx context.Context, question, answer string) (Pair, error) {
	doc, err := a.store.AddTrainingPair(ctx, question, answer)
	if err != nil {
		return Pair{}, err
	}
	if n, err := a.store.ResolveUnanswered(ctx, question); err != nil {
		a.log.Warn("clearing unanswered question failed", zap.String("question", question), zap.Error(err))
	} else if n > 0 {
		a.log.Info("unanswered question resolved", zap.String("question", question), zap.Int64("entries", n))
	}
	return toPair(doc), nil
}

// DeletePair removes the training pairs asked by question.
func (a *Admin) DeletePair(ctx context.Context, question string) (int, error) {
	return a.store.DeleteByQuestion(ctx, question)
}

func (a *Admin) Pairs(ctx context.Context) ([]Pair, error) {
	docs, err := a.store.TrainingPairs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Pair, len(docs))
	for i, d := range docs {
		out[i] = toPair(d)
	}
	return out, nil
}

func (a *Admin) Stats(ctx context.Context) (kb.Stats, error) {
	return a.store.Stats(ctx)
}

func (a *Admin) Unanswered(ctx context.Context, limit int) ([]kb.UnansweredQuestion, error) {
	return a.store.Unanswered(ctx, limit)
}

func (a *Admin) Rebuild(ctx context.Context) error {
	return a.store.Rebuild(ctx)
}

// PreloadReport counts what Preload stored per topic.
type PreloadReport struct {
	Topic      string `json:"topic"`
	Candidates int    `json:"candidates"`
	Added      int    `json:"added"`
	Error      string `json:"error,omitempty"`
}

// Preload fetches each topic from the external sources and stores the
// results. With no non-blank topic it preloads the default topics. A failed
// topic is reported and the rest continue; model failures abort.
func (a *Admin) Preload(ctx context.Context, topics []string) ([]PreloadReport, error) {
	if a.fetcher == nil {
		return nil, fmt.Errorf("%w: no sources configured", domain.ErrInvalidInput)
	}
	if !slices.ContainsFunc(topics, func(t string) bool { return strings.TrimSpace(t) != "" }) {
		topics = a.topics
	}
	var reports []PreloadReport
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			continue
		}
		rep := PreloadReport{Topic: topic}
		cands, err := a.fetcher.FetchCandidates(ctx, topic, 0)
		if err != nil {
			if ctx.Err() != nil {
				return reports, ctx.Err()
			}
			rep.Error = err.Error()
			reports = append(reports, rep)
			a.log.Warn("preload fetch failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		rep.Candidates = len(cands)
		if len(cands) > 0 {
			docs := make([]domain.Document, len(cands))
			for i, c := range cands {
				docs[i] = domain.Document{Title: c.Title, Content: c.Text, Source: c.Source, URL: c.URL, Kind: domain.KindFetched}
			}
			added, err := a.store.AddDocuments(ctx, docs)
			if err != nil {
				return reports, fmt.Errorf("preload %q: %w", topic, err)
			}
			rep.Added = len(added)
		}
		reports = append(reports, rep)
		a.log.Info("topic preloaded", zap.String("topic", topic), zap.Int("candidates", rep.Candidates), zap.Int("added", rep.Added))
	}
	return reports, nil
}

func toPair(d domain.Document) Pair {
	return Pair{ID: d.ID, Question: d.Title, Answer: d.Content, AddedAt: d.FetchedAt}
}
