package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"ragqa/internal/domain"
	"ragqa/internal/kb"
	"ragqa/internal/service"
	"ragqa/internal/validation"
)

const (
	maxBodyBytes           = 1 << 20
	defaultUnansweredLimit = 100
)

// Asker answers questions.
type Asker interface {
	Ask(ctx context.Context, question string) (service.Result, error)
}

// AdminService is the admin surface exposed over HTTP.
type AdminService interface {
	AddPair(ctx context.Context, question, answer string) (service.Pair, error)
	DeletePair(ctx context.Context, question string) (int, error)
	Pairs(ctx context.Context) ([]service.Pair, error)
	Stats(ctx context.Context) (kb.Stats, error)
	Unanswered(ctx context.Context, limit int) ([]kb.UnansweredQuestion, error)
	Rebuild(ctx context.Context) error
	Preload(ctx context.Context, topics []string) ([]service.PreloadReport, error)
}

// Handler serves the chat and admin endpoints.
type Handler struct {
	engine Asker
	admin  AdminService
	log    *zap.Logger
}

func NewHandler(engine Asker, admin AdminService, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{engine: engine, admin: admin, log: log}
}

// addPairRequest accepts both the question/answer and the input/output field
// names.
type addPairRequest struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Input    string `json:"input"`
	Output   string `json:"output"`
}

type pairInput struct {
	Question string `json:"question" validate:"required"`
	Answer   string `json:"answer" validate:"required"`
}

func (r addPairRequest) normalize() pairInput {
	p := pairInput{Question: strings.TrimSpace(r.Question), Answer: strings.TrimSpace(r.Answer)}
	if p.Question == "" {
		p.Question = strings.TrimSpace(r.Input)
	}
	if p.Answer == "" {
		p.Answer = strings.TrimSpace(r.Output)
	}
	return p
}

type deletePairRequest struct {
	Question string `json:"question" validate:"required"`
}

type fetchRequest struct {
	Topics []string `json:"topics" validate:"dive,required"`
}

type statusResponse struct {
	Status  string `json:"status"`
	Removed int    `json:"removed,omitempty"`
}

func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req service.ChatRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if err := validation.Struct(req); err != nil {
		h.fail(w, err)
		return
	}
	res, err := h.engine.Ask(r.Context(), req.Message)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, res.Response())
}

func (h *Handler) AddPair(w http.ResponseWriter, r *http.Request) {
	var req addPairRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	in := req.normalize()
	if err := validation.Struct(in); err != nil {
		h.fail(w, err)
		return
	}
	pair, err := h.admin.AddPair(r.Context(), in.Question, in.Answer)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.created(w, pair)
}

func (h *Handler) DeletePair(w http.ResponseWriter, r *http.Request) {
	var req deletePairRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if err := validation.Struct(req); err != nil {
		h.fail(w, err)
		return
	}
	n, err := h.admin.DeletePair(r.Context(), req.Question)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, statusResponse{Status: "deleted", Removed: n})
}

func (h *Handler) Pairs(w http.ResponseWriter, r *http.Request) {
	pairs, err := h.admin.Pairs(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	if pairs == nil {
		pairs = []service.Pair{}
	}
	h.ok(w, pairs)
}

func (h *Handler) Unanswered(w http.ResponseWriter, r *http.Request) {
	limit := defaultUnansweredLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(w, fmt.Errorf("%w: limit must be a positive integer", domain.ErrInvalidInput))
			return
		}
		limit = n
	}
	items, err := h.admin.Unanswered(r.Context(), limit)
	if err != nil {
		h.fail(w, err)
		return
	}
	if items == nil {
		items = []kb.UnansweredQuestion{}
	}
	h.ok(w, items)
}

func (h *Handler) Rebuild(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.Rebuild(r.Context()); err != nil {
		h.fail(w, err)
		return
	}
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, stats)
}

func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, err)
		return
	}
	for i, t := range req.Topics {
		req.Topics[i] = strings.TrimSpace(t)
	}
	if err := validation.Struct(req); err != nil {
		h.fail(w, err)
		return
	}
	reports, err := h.admin.Preload(r.Context(), req.Topics)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, reports)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.ok(w, stats)
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	h.ok(w, statusResponse{Status: "ok"})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidInput, err)
	}
	return nil
}
