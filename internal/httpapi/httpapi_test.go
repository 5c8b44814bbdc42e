package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ragqa/internal/domain"
	"ragqa/internal/kb"
	"ragqa/internal/service"
)

type fakeEngine struct {
	result   service.Result
	err      error
	question string
}

func (f *fakeEngine) Ask(_ context.Context, question string) (service.Result, error) {
	f.question = question
	return f.result, f.err
}

type fakeAdmin struct {
	pairs      []service.Pair
	unanswered []kb.UnansweredQuestion
	limit      int
	deleted    string
	rebuilt    bool
	topics     []string
	err        error
}

func (f *fakeAdmin) AddPair(_ context.Context, q, a string) (service.Pair, error) {
	if f.err != nil {
		return service.Pair{}, f.err
	}
	p := service.Pair{ID: "p1", Question: q, Answer: a, AddedAt: time.Unix(0, 0).UTC()}
	f.pairs = append(f.pairs, p)
	return p, nil
}

func (f *fakeAdmin) DeletePair(_ context.Context, q string) (int, error) {
	f.deleted = q
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

func (f *fakeAdmin) Pairs(context.Context) ([]service.Pair, error) { return f.pairs, f.err }

func (f *fakeAdmin) Stats(context.Context) (kb.Stats, error) {
	return kb.Stats{DocumentCount: 2, ChunkCount: 5, IndexSize: 5, ModelInfo: "hashing/384"}, f.err
}

func (f *fakeAdmin) Unanswered(_ context.Context, limit int) ([]kb.UnansweredQuestion, error) {
	f.limit = limit
	return f.unanswered, f.err
}

func (f *fakeAdmin) Rebuild(context.Context) error {
	f.rebuilt = true
	return f.err
}

func (f *fakeAdmin) Preload(_ context.Context, topics []string) ([]service.PreloadReport, error) {
	f.topics = topics
	out := make([]service.PreloadReport, len(topics))
	for i, t := range topics {
		out[i] = service.PreloadReport{Topic: t, Candidates: 2, Added: 1}
	}
	return out, f.err
}

func newServer(engine *fakeEngine, admin *fakeAdmin) http.Handler {
	return NewRouter(NewHandler(engine, admin, zap.NewNop()), RouterOptions{})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestChatReturnsFormattedAnswer(t *testing.T) {
	engine := &fakeEngine{result: service.Result{
		Answer:     "Guido van Rossum",
		Confidence: 0.9,
		Outcome:    service.OutcomeAnswered,
		Citations:  []service.Citation{{Source: "Wikipedia: Python"}},
	}}
	w := do(t, newServer(engine, &fakeAdmin{}), http.MethodPost, "/chat", `{"message":"  Who created Python?  "}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	resp := decodeBody[service.ChatResponse](t, w)
	assert.Equal(t, "Guido van Rossum\n\n[Sources: Wikipedia: Python]", resp.Response)
	assert.Equal(t, []string{"Wikipedia: Python"}, resp.Sources)
	assert.Equal(t, service.OutcomeAnswered, resp.Outcome)
	assert.Equal(t, "Who created Python?", engine.question)
}

func TestChatUnansweredUsesNoAnswerMessage(t *testing.T) {
	engine := &fakeEngine{result: service.Result{Outcome: service.OutcomeUnanswered}}
	w := do(t, newServer(engine, &fakeAdmin{}), http.MethodPost, "/chat", `{"message":"What is the airspeed of a swallow?"}`)

	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody[service.ChatResponse](t, w)
	assert.Equal(t, service.NoAnswerMessage, resp.Response)
	assert.Empty(t, resp.Sources)
}

func TestChatRejectsBadInput(t *testing.T) {
	h := newServer(&fakeEngine{}, &fakeAdmin{})

	w := do(t, h, http.MethodPost, "/chat", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeBody[ErrorResponse](t, w)
	assert.Equal(t, "bad_request", resp.Error)
	assert.NotEmpty(t, resp.Details)

	w = do(t, h, http.MethodPost, "/chat", `{"message":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("embed: %w", domain.ErrModelUnavailable), http.StatusServiceUnavailable, "model_unavailable"},
		{fmt.Errorf("%w: empty", domain.ErrInvalidInput), http.StatusBadRequest, "bad_request"},
		{fmt.Errorf("pair: %w", domain.ErrNotFound), http.StatusNotFound, "not_found"},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{fmt.Errorf("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			w := do(t, newServer(&fakeEngine{err: tc.err}, &fakeAdmin{}), http.MethodPost, "/chat", `{"message":"hi"}`)
			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.code, decodeBody[ErrorResponse](t, w).Error)
		})
	}
}

func TestAdminAddAcceptsBothFieldNames(t *testing.T) {
	admin := &fakeAdmin{}
	h := newServer(&fakeEngine{}, admin)

	w := do(t, h, http.MethodPost, "/admin/add", `{"question":"What is your name?","answer":"I am an AI assistant."}`)
	require.Equal(t, http.StatusCreated, w.Code)
	p := decodeBody[service.Pair](t, w)
	assert.Equal(t, "What is your name?", p.Question)

	w = do(t, h, http.MethodPost, "/admin/add", `{"input":"Who are you?","output":"A bot."}`)
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, admin.pairs, 2)
	assert.Equal(t, "Who are you?", admin.pairs[1].Question)
	assert.Equal(t, "A bot.", admin.pairs[1].Answer)

	w = do(t, h, http.MethodPost, "/admin/add", `{"question":"Half a pair"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Len(t, admin.pairs, 2)
}

func TestAdminDelete(t *testing.T) {
	admin := &fakeAdmin{}
	h := newServer(&fakeEngine{}, admin)

	w := do(t, h, http.MethodPost, "/admin/delete", `{"question":" What is your name? "}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "What is your name?", admin.deleted)
	assert.Equal(t, 1, decodeBody[statusResponse](t, w).Removed)

	admin.err = fmt.Errorf("delete %q: %w", "x", domain.ErrNotFound)
	w = do(t, h, http.MethodPost, "/admin/delete", `{"question":"x"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminUnansweredLimit(t *testing.T) {
	admin := &fakeAdmin{unanswered: []kb.UnansweredQuestion{{ID: 1, Question: "q"}}}
	h := newServer(&fakeEngine{}, admin)

	w := do(t, h, http.MethodGet, "/admin/unanswered", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultUnansweredLimit, admin.limit)
	assert.Len(t, decodeBody[[]kb.UnansweredQuestion](t, w), 1)

	w = do(t, h, http.MethodGet, "/admin/unanswered?limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, admin.limit)

	w = do(t, h, http.MethodGet, "/admin/unanswered?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminPairsEmptyListIsArray(t *testing.T) {
	w := do(t, newServer(&fakeEngine{}, &fakeAdmin{}), http.MethodGet, "/admin/pairs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestAdminRebuildReturnsStats(t *testing.T) {
	admin := &fakeAdmin{}
	w := do(t, newServer(&fakeEngine{}, admin), http.MethodPost, "/admin/rebuild", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, admin.rebuilt)
	assert.Equal(t, int64(2), decodeBody[kb.Stats](t, w).DocumentCount)
}

func TestAdminFetch(t *testing.T) {
	admin := &fakeAdmin{}
	h := newServer(&fakeEngine{}, admin)

	w := do(t, h, http.MethodPost, "/admin/fetch", `{"topics":[" Python ","Go"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"Python", "Go"}, admin.topics)
	assert.Len(t, decodeBody[[]service.PreloadReport](t, w), 2)

	w = do(t, h, http.MethodPost, "/admin/fetch", `{"topics":["Go","  "]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// no topics leaves the choice to the admin service
	w = do(t, h, http.MethodPost, "/admin/fetch", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, admin.topics)
}

func TestStatsAndHealth(t *testing.T) {
	h := newServer(&fakeEngine{}, &fakeAdmin{})

	w := do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decodeBody[kb.Stats](t, w)
	assert.Equal(t, "hashing/384", stats.ModelInfo)

	w = do(t, h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decodeBody[statusResponse](t, w).Status)
	assert.NotEmpty(t, w.Header().Get("Content-Type"))
}

func TestCORSPreflight(t *testing.T) {
	h := NewRouter(NewHandler(&fakeEngine{}, &fakeAdmin{}, zap.NewNop()), RouterOptions{CORSOrigins: []string{"https://app.example.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
