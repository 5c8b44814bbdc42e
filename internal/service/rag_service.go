// Package service runs the retrieve, extract, decide and fallback-fetch
// state machine that answers questions.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"ragqa/internal/conversation"
	"ragqa/internal/domain"
	"ragqa/internal/textutil"
)

const (
	DefaultTopK                = 3
	DefaultSimilarityThreshold = 0.3
	DefaultAcceptanceThreshold = 0.3
	DefaultFetchTimeout        = 15 * time.Second
	DefaultMaxConcurrent       = 8
)

// KnowledgeBase is the part of the store the engine writes to.
type KnowledgeBase interface {
	AddDocuments(ctx context.Context, docs []domain.Document) ([]domain.Document, error)
	LogUnanswered(ctx context.Context, question string, confidence float64) error
}

// Options tunes the engine.
type Options struct {
	TopK                int
	SimilarityThreshold float64
	AcceptanceThreshold float64

	// FallbackEnabled allows one fetch from external sources per question.
	FallbackEnabled bool
	FetchTimeout    time.Duration
	// FetchLimit caps the candidates taken from the gateway; 0 takes all.
	FetchLimit int

	MaxConcurrent int64
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = DefaultFetchTimeout
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	return o
}

// Engine answers questions from the knowledge base, fetching new documents
// at most once per question when local knowledge falls short.
type Engine struct {
	embedder  domain.Embedder
	index     domain.Index
	extractor domain.Extractor
	kb        KnowledgeBase
	fetcher   domain.Fetcher
	memory    *conversation.Memory
	opts      Options
	sem       *semaphore.Weighted
	log       *zap.Logger
	now       func() time.Time
}

// Deps are the collaborators of an Engine. Fetcher may be nil, which
// disables the fallback fetch.
type Deps struct {
	Embedder  domain.Embedder
	Index     domain.Index
	Extractor domain.Extractor
	KB        KnowledgeBase
	Fetcher   domain.Fetcher
	Memory    *conversation.Memory
	Logger    *zap.Logger
}

func NewEngine(d Deps, opts Options) *Engine {
	opts = opts.withDefaults()
	if d.Fetcher == nil {
		opts.FallbackEnabled = false
	}
	if d.Memory == nil {
		d.Memory = conversation.NewMemory(conversation.DefaultCapacity)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	return &Engine{
		embedder:  d.Embedder,
		index:     d.Index,
		extractor: d.Extractor,
		kb:        d.KB,
		fetcher:   d.Fetcher,
		memory:    d.Memory,
		opts:      opts,
		sem:       semaphore.NewWeighted(opts.MaxConcurrent),
		log:       d.Logger,
		now:       time.Now,
	}
}

// Memory returns the conversation memory.
func (e *Engine) Memory() *conversation.Memory { return e.memory }

// candidate is the best (chunk, answer) pair of one attempt.
type candidate struct {
	answer     string
	confidence float64
	hit        domain.SearchResult
}

func (c candidate) found() bool { return c.answer != "" }

// better reports whether c should replace o: higher confidence first,
// then higher retrieval similarity.
func (c candidate) better(o candidate) bool {
	if c.found() != o.found() {
		return c.found()
	}
	if c.confidence != o.confidence {
		return c.confidence > o.confidence
	}
	return c.hit.Score > o.hit.Score
}

// run carries the state of one request through the machine.
type run struct {
	question string
	trace    []State
	best     candidate
	hadHits  bool
	fetched  int
}

func (r *run) enter(s State) {
	if n := len(r.trace); n > 0 && !CanTransition(r.trace[n-1], s) {
		panic(fmt.Sprintf("illegal transition %s -> %s", r.trace[n-1], s))
	}
	r.trace = append(r.trace, s)
}

// Ask answers one question. Only embedder or extractor failures and
// cancellation are returned as errors; retrieval misses and fetch failures
// end in an unanswered result.
func (e *Engine) Ask(ctx context.Context, question string) (Result, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Result{}, fmt.Errorf("%w: empty question", domain.ErrInvalidInput)
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return Result{}, err
	}
	defer e.sem.Release(1)

	r := &run{question: question, trace: []State{StateReceived}}
	query := e.retrievalQuery(question)
	vec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return Result{}, modelError(ctx, "embed question", err)
	}

	accepted, err := e.attempt(ctx, r, vec, firstPhase)
	if err != nil {
		return Result{}, err
	}
	if !accepted && e.opts.FallbackEnabled {
		r.enter(StateFetching)
		if err := e.fallback(ctx, r); err != nil {
			return Result{}, err
		}
		if accepted, err = e.attempt(ctx, r, vec, retryPhase); err != nil {
			return Result{}, err
		}
	}

	var res Result
	if accepted {
		r.enter(StateAnswered)
		res = e.answered(r)
	} else {
		r.enter(StateUnanswered)
		res = e.unanswered(ctx, r)
	}
	e.memory.Append(conversation.Turn{
		Question:   question,
		Answer:     res.Text(),
		Confidence: res.Confidence,
		Answered:   res.Outcome == OutcomeAnswered,
		At:         e.now(),
	})
	return res, nil
}

// attempt retrieves and extracts once and reports whether the best answer
// so far clears the acceptance threshold.
func (e *Engine) attempt(ctx context.Context, r *run, vec []float64, p phase) (bool, error) {
	r.enter(p.retrieving)
	hits, err := e.index.Search(vec, e.opts.TopK, e.opts.SimilarityThreshold)
	if err != nil {
		return false, fmt.Errorf("search index: %w", err)
	}
	e.log.Debug("retrieved", zap.String("question", r.question), zap.String("state", string(p.retrieving)), zap.Int("hits", len(hits)))
	if len(hits) == 0 {
		return false, nil
	}
	r.hadHits = true

	r.enter(p.extracting)
	for _, hit := range hits {
		c, err := e.extract(ctx, r.question, hit)
		if err != nil {
			return false, err
		}
		if c.better(r.best) {
			r.best = c
		}
	}

	r.enter(p.deciding)
	return r.best.found() && r.best.confidence >= e.opts.AcceptanceThreshold, nil
}

func (e *Engine) extract(ctx context.Context, question string, hit domain.SearchResult) (candidate, error) {
	// A training pair's text is its answer.
	if hit.Chunk.Kind == domain.KindTrainingPair {
		return candidate{answer: hit.Chunk.Text, confidence: clamp01(hit.Score), hit: hit}, nil
	}
	ex, err := e.extractor.Extract(ctx, question, hit.Chunk.Text)
	if err != nil {
		return candidate{}, modelError(ctx, "extract answer", err)
	}
	if !ex.Found() {
		return candidate{hit: hit}, nil
	}
	return candidate{answer: ex.Answer, confidence: ex.Confidence, hit: hit}, nil
}

// fallback fetches candidates for the question and adds them to the
// knowledge base. Fetch failures and timeouts are logged and swallowed.
func (e *Engine) fallback(ctx context.Context, r *run) error {
	topic := Topic(r.question)
	start := e.now()
	e.log.Info("fallback fetch", zap.String("topic", topic))

	fctx, cancel := context.WithTimeout(ctx, e.opts.FetchTimeout)
	defer cancel()
	type fetchResult struct {
		cands []domain.Candidate
		err   error
	}
	done := make(chan fetchResult, 1)
	go func() {
		cands, err := e.fetcher.FetchCandidates(fctx, topic, e.opts.FetchLimit)
		done <- fetchResult{cands, err}
	}()

	var cands []domain.Candidate
	select {
	case res := <-done:
		if res.err != nil {
			e.log.Warn("fallback fetch failed", zap.String("topic", topic), zap.Error(res.err))
			return nil
		}
		cands = res.cands
	case <-fctx.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		e.log.Warn("fallback fetch timed out", zap.String("topic", topic), zap.Duration("timeout", e.opts.FetchTimeout))
		return nil
	}
	if len(cands) == 0 {
		e.log.Info("fallback fetch found nothing", zap.String("topic", topic))
		return nil
	}

	docs := make([]domain.Document, 0, len(cands))
	for _, c := range cands {
		docs = append(docs, domain.Document{
			Title:     c.Title,
			Content:   c.Text,
			Source:    c.Source,
			URL:       c.URL,
			Kind:      domain.KindFetched,
			FetchedAt: e.now().UTC(),
		})
	}
	added, err := e.kb.AddDocuments(ctx, docs)
	if err != nil {
		if errors.Is(err, domain.ErrModelUnavailable) || ctx.Err() != nil {
			return modelError(ctx, "embed fetched documents", err)
		}
		e.log.Warn("storing fetched documents failed", zap.String("topic", topic), zap.Error(err))
		return nil
	}
	r.fetched = len(added)
	e.log.Info("fallback fetch stored documents",
		zap.String("topic", topic),
		zap.Int("candidates", len(cands)),
		zap.Int("added", len(added)),
		zap.Duration("took", e.now().Sub(start)))
	return nil
}

func (e *Engine) answered(r *run) Result {
	return Result{
		Question:   r.question,
		Answer:     r.best.answer,
		Confidence: r.best.confidence,
		Outcome:    OutcomeAnswered,
		Citations:  []Citation{citation(r.best.hit)},
		Trace:      r.trace,
		Fetched:    r.fetched,
	}
}

func (e *Engine) unanswered(ctx context.Context, r *run) Result {
	if err := e.kb.LogUnanswered(ctx, r.question, r.best.confidence); err != nil {
		e.log.Warn("logging unanswered question failed", zap.String("question", r.question), zap.Error(err))
	}
	e.log.Info("question unanswered",
		zap.String("question", r.question),
		zap.Float64("confidence", r.best.confidence),
		zap.Bool("had_hits", r.hadHits))

	res := Result{
		Question:  r.question,
		Outcome:   OutcomeUnanswered,
		Citations: []Citation{},
		Trace:     r.trace,
		Fetched:   r.fetched,
	}
	if r.best.found() {
		res.Answer = r.best.answer
		res.Confidence = r.best.confidence
		res.LowConfidence = true
		res.Citations = []Citation{citation(r.best.hit)}
	}
	return res
}

var pronouns = map[string]struct{}{
	"it": {}, "its": {}, "he": {}, "him": {}, "his": {}, "she": {}, "her": {},
	"they": {}, "them": {}, "their": {},
}

// retrievalQuery prefixes the previous question when the new one refers
// back to it with a bare pronoun.
func (e *Engine) retrievalQuery(question string) string {
	last, ok := e.memory.Last()
	if !ok {
		return question
	}
	for _, t := range textutil.Tokens(question) {
		if _, ok := pronouns[t.Lower]; ok {
			return last.Question + " " + question
		}
	}
	return question
}

// Topic is the search topic sent to external sources for a question.
func Topic(question string) string {
	return strings.TrimSpace(strings.TrimRight(strings.TrimSpace(question), "?!.;: "))
}

func citation(hit domain.SearchResult) Citation {
	return Citation{
		Title:  hit.Chunk.Title,
		Source: hit.Chunk.Source,
		URL:    hit.Chunk.URL,
		Score:  hit.Score,
	}
}

func clamp01(x float64) float64 {
	return max(0, min(1, x))
}

// modelError marks a model failure as ErrModelUnavailable unless the
// request was cancelled.
func modelError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(err, domain.ErrModelUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrModelUnavailable, err)
}
