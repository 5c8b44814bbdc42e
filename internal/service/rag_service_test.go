package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragqa/internal/chunker"
	"ragqa/internal/conversation"
	"ragqa/internal/domain"
	"ragqa/internal/embedding/hashing"
	"ragqa/internal/extractor"
	"ragqa/internal/kb"
	"ragqa/internal/vectorstore/memory"
)

type stubFetcher struct {
	calls  atomic.Int32
	topics []string
	cands  []domain.Candidate
	err    error
	block  chan struct{}
}

func (s *stubFetcher) Name() string { return "stub" }

func (s *stubFetcher) FetchCandidates(_ context.Context, topic string, _ int) ([]domain.Candidate, error) {
	s.calls.Add(1)
	s.topics = append(s.topics, topic)
	if s.block != nil {
		<-s.block
	}
	return s.cands, s.err
}

type fixedExtractor struct {
	ex  domain.Extraction
	err error
}

func (f fixedExtractor) Name() string { return "fixed" }

func (f fixedExtractor) Extract(context.Context, string, string) (domain.Extraction, error) {
	return f.ex, f.err
}

type brokenEmbedder struct{ domain.Embedder }

func (brokenEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("onnx runtime missing")
}

type fixture struct {
	engine *Engine
	store  *kb.Store
	admin  *Admin
}

type setup struct {
	extractor domain.Extractor
	fetcher   domain.Fetcher
	embedder  domain.Embedder
	memory    *conversation.Memory
	opts      Options
}

func newFixture(t *testing.T, s setup) fixture {
	t.Helper()
	db, err := kb.Open(filepath.Join(t.TempDir(), "kb.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = kb.Close(db) })

	emb := domain.Embedder(hashing.NewEmbedder(hashing.DefaultDimension))
	idx := memory.NewStorage(emb.Dimension())
	store := kb.NewStore(db, idx, chunker.NewWindowChunker(500, 50), emb, zap.NewNop())
	require.NoError(t, store.Load(context.Background()))

	if s.embedder != nil {
		emb = s.embedder
	}
	if s.extractor == nil {
		s.extractor = extractor.NewLexical(extractor.Limits{})
	}
	if s.opts == (Options{}) {
		s.opts = Options{SimilarityThreshold: 0.3, AcceptanceThreshold: 0.3, FallbackEnabled: true}
	}
	engine := NewEngine(Deps{
		Embedder:  emb,
		Index:     idx,
		Extractor: s.extractor,
		KB:        store,
		Fetcher:   s.fetcher,
		Memory:    s.memory,
	}, s.opts)
	return fixture{engine: engine, store: store, admin: NewAdmin(store, s.fetcher, zap.NewNop())}
}

func pythonDoc() domain.Document {
	return domain.Document{
		Title:   "Python",
		Content: "Python is a programming language created by Guido van Rossum.",
		Source:  "Wikipedia: Python",
		URL:     "https://en.wikipedia.org/?curid=23862",
	}
}

func TestEmptyKnowledgeBaseGoesStraightToFetching(t *testing.T) {
	f := &stubFetcher{}
	fx := newFixture(t, setup{fetcher: f})

	res, err := fx.engine.Ask(context.Background(), "What is Python?")
	require.NoError(t, err)
	assert.Equal(t, []State{StateReceived, StateRetrieving, StateFetching, StateReRetrieving, StateUnanswered}, res.Trace)
	assert.Equal(t, OutcomeUnanswered, res.Outcome)
	assert.Equal(t, NoAnswerMessage, res.Text())
	assert.Zero(t, res.Confidence)
	assert.Equal(t, []string{"What is Python"}, f.topics)

	logged, err := fx.store.Unanswered(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.Equal(t, "What is Python?", logged[0].Question)
}

func TestAnswersFromKnowledgeBaseWithCitation(t *testing.T) {
	f := &stubFetcher{}
	fx := newFixture(t, setup{fetcher: f})
	_, _, err := fx.store.AddDocument(context.Background(), pythonDoc())
	require.NoError(t, err)

	res, err := fx.engine.Ask(context.Background(), "Who created Python?")
	require.NoError(t, err)
	assert.Equal(t, []State{StateReceived, StateRetrieving, StateExtracting, StateDeciding, StateAnswered}, res.Trace)
	assert.Equal(t, "Guido van Rossum", res.Answer)
	assert.Greater(t, res.Confidence, 0.3)
	assert.Equal(t, []string{"Wikipedia: Python"}, res.Sources())
	assert.Equal(t, "Guido van Rossum\n\n[Sources: Wikipedia: Python]", res.Text())
	assert.Zero(t, f.calls.Load())

	resp := res.Response()
	assert.Equal(t, res.Text(), resp.Response)
	assert.Equal(t, res.Confidence, resp.Confidence)
}

func TestLowConfidenceWithEmptyFetchIsUnanswered(t *testing.T) {
	f := &stubFetcher{}
	x := fixedExtractor{ex: domain.Extraction{Answer: "a language", Confidence: 0.05}}
	fx := newFixture(t, setup{fetcher: f, extractor: x})
	_, _, err := fx.store.AddDocument(context.Background(), pythonDoc())
	require.NoError(t, err)

	res, err := fx.engine.Ask(context.Background(), "Who created Python?")
	require.NoError(t, err)
	assert.Equal(t, StateUnanswered, res.Final())
	assert.Equal(t, []State{
		StateReceived, StateRetrieving, StateExtracting, StateDeciding,
		StateFetching, StateReRetrieving, StateReExtracting, StateReDeciding, StateUnanswered,
	}, res.Trace)
	assert.True(t, res.LowConfidence)
	assert.InDelta(t, 0.05, res.Confidence, 1e-12)
	assert.Equal(t, LowConfidencePrefix+"a language", res.Text())

	logged, err := fx.store.Unanswered(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, logged, 1)
	assert.InDelta(t, 0.05, logged[0].Confidence, 1e-12)
}

func TestFallbackFetchRunsAtMostOnce(t *testing.T) {
	f := &stubFetcher{cands: []domain.Candidate{{
		Title: "Python", Text: "Python is widely used in data science.", Source: "Wikipedia: Python",
	}}}
	x := fixedExtractor{ex: domain.Extraction{Answer: "maybe", Confidence: 0.1}}
	fx := newFixture(t, setup{fetcher: f, extractor: x})

	res, err := fx.engine.Ask(context.Background(), "Who created Python?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnanswered, res.Outcome)
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 1, res.Fetched)

	fetching := 0
	for _, s := range res.Trace {
		if s == StateFetching {
			fetching++
		}
	}
	assert.Equal(t, 1, fetching)
}

func TestFallbackFetchCanAnswer(t *testing.T) {
	doc := pythonDoc()
	f := &stubFetcher{cands: []domain.Candidate{{Title: doc.Title, Text: doc.Content, Source: doc.Source, URL: doc.URL}}}
	fx := newFixture(t, setup{fetcher: f})

	res, err := fx.engine.Ask(context.Background(), "Who created Python?")
	require.NoError(t, err)
	assert.Equal(t, []State{
		StateReceived, StateRetrieving, StateFetching,
		StateReRetrieving, StateReExtracting, StateReDeciding, StateAnswered,
	}, res.Trace)
	assert.Equal(t, "Guido van Rossum", res.Answer)
	assert.Equal(t, doc.URL, res.Citations[0].URL)

	st, err := fx.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.DocumentCount)
	assert.Equal(t, int(st.ChunkCount), st.IndexSize)
}

func TestGatewayFailureIsNotFatal(t *testing.T) {
	f := &stubFetcher{err: errors.Join(domain.ErrFetchGateway, errors.New("all providers down"))}
	fx := newFixture(t, setup{fetcher: f})

	res, err := fx.engine.Ask(context.Background(), "What is Python?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnanswered, res.Outcome)
	assert.Equal(t, NoAnswerMessage, res.Text())
}

func TestFetchTimeoutProceedsAsEmpty(t *testing.T) {
	f := &stubFetcher{block: make(chan struct{})}
	t.Cleanup(func() { close(f.block) })
	fx := newFixture(t, setup{fetcher: f, opts: Options{
		SimilarityThreshold: 0.3,
		AcceptanceThreshold: 0.3,
		FallbackEnabled:     true,
		FetchTimeout:        20 * time.Millisecond,
	}})

	start := time.Now()
	res, err := fx.engine.Ask(context.Background(), "What is Python?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnanswered, res.Outcome)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFallbackDisabledEndsUnanswered(t *testing.T) {
	fx := newFixture(t, setup{opts: Options{SimilarityThreshold: 0.3, AcceptanceThreshold: 0.3, FallbackEnabled: true}})

	res, err := fx.engine.Ask(context.Background(), "What is Python?")
	require.NoError(t, err)
	assert.Equal(t, []State{StateReceived, StateRetrieving, StateUnanswered}, res.Trace)
}

func TestExtractorFailureIsFatal(t *testing.T) {
	f := &stubFetcher{}
	x := fixedExtractor{err: errors.New("cuda out of memory")}
	fx := newFixture(t, setup{fetcher: f, extractor: x})
	_, _, err := fx.store.AddDocument(context.Background(), pythonDoc())
	require.NoError(t, err)

	_, err = fx.engine.Ask(context.Background(), "Who created Python?")
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
	assert.Zero(t, f.calls.Load())
	assert.Zero(t, fx.engine.Memory().Len())
}

func TestEmbedderFailureIsFatal(t *testing.T) {
	fx := newFixture(t, setup{embedder: brokenEmbedder{hashing.NewEmbedder(hashing.DefaultDimension)}})

	_, err := fx.engine.Ask(context.Background(), "Who created Python?")
	assert.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestEmptyQuestionIsRejected(t *testing.T) {
	fx := newFixture(t, setup{})
	_, err := fx.engine.Ask(context.Background(), "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestTrainingPairAnswersWithWholeText(t *testing.T) {
	fx := newFixture(t, setup{fetcher: &stubFetcher{}})
	_, err := fx.admin.AddPair(context.Background(), "What is your name?", "I am an AI assistant.")
	require.NoError(t, err)

	res, err := fx.engine.Ask(context.Background(), "What is your name?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, "I am an AI assistant.", res.Answer)
	assert.Equal(t, []string{domain.TrainingSource}, res.Sources())
	assert.InDelta(t, res.Citations[0].Score, res.Confidence, 1e-12)
}

func TestMemoryRecordsTurnsAndEvicts(t *testing.T) {
	mem := conversation.NewMemory(2)
	fx := newFixture(t, setup{memory: mem})
	_, _, err := fx.store.AddDocument(context.Background(), pythonDoc())
	require.NoError(t, err)

	for _, q := range []string{"Who created Python?", "What is Python?", "What is the capital of Mongolia?"} {
		_, err := fx.engine.Ask(context.Background(), q)
		require.NoError(t, err)
	}
	turns := mem.Recent(0)
	require.Len(t, turns, 2)
	assert.Equal(t, "What is Python?", turns[0].Question)
	assert.Equal(t, "What is the capital of Mongolia?", turns[1].Question)
	assert.False(t, turns[1].Answered)
	assert.Equal(t, NoAnswerMessage, turns[1].Answer)
}

func TestPronounQuestionsReuseLastQuestion(t *testing.T) {
	mem := conversation.NewMemory(4)
	fx := newFixture(t, setup{memory: mem})

	assert.Equal(t, "When was it released?", fx.engine.retrievalQuery("When was it released?"))
	mem.Append(conversation.Turn{Question: "Who created Python?"})
	assert.Equal(t, "Who created Python? When was it released?", fx.engine.retrievalQuery("When was it released?"))
	assert.Equal(t, "What is Go?", fx.engine.retrievalQuery("What is Go?"))
}

func TestAskRespectsCancelledContextWhileWaiting(t *testing.T) {
	fx := newFixture(t, setup{opts: Options{SimilarityThreshold: 0.3, AcceptanceThreshold: 0.3, MaxConcurrent: 1}})
	require.NoError(t, fx.engine.sem.Acquire(context.Background(), 1))
	defer fx.engine.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := fx.engine.Ask(ctx, "What is Python?")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "What is Python", Topic("  What is Python?? "))
	assert.Equal(t, "Go", Topic("Go"))
}

func TestTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateRetrieving, StateFetching))
	assert.True(t, CanTransition(StateReDeciding, StateUnanswered))
	assert.False(t, CanTransition(StateReDeciding, StateFetching))
	assert.False(t, CanTransition(StateAnswered, StateRetrieving))
	assert.True(t, StateAnswered.Terminal())
	assert.False(t, StateFetching.Terminal())
}

func TestResultTextCapsSources(t *testing.T) {
	r := Result{Answer: "42", Citations: []Citation{
		{Source: "a"}, {Source: "b"}, {Source: "a"}, {Source: "c"}, {Source: "d"},
	}}
	assert.Equal(t, []string{"a", "b", "c", "d"}, r.Sources())
	assert.Equal(t, "42\n\n[Sources: a, b, c]", r.Text())
	assert.Equal(t, "42", Result{Answer: "42"}.Text())
}
