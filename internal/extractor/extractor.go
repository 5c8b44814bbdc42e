// Package extractor pulls answer spans for a question out of retrieved text.
package extractor

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"ragqa/internal/domain"
	"ragqa/internal/lazy"
)

const (
	DefaultMaxContextLength = 4000
	DefaultMaxAnswerLength  = 200
	DefaultMinScore         = 0.01
)

// Limits bounds what an extractor reads and returns.
type Limits struct {
	MaxContextLength int
	MaxAnswerLength  int
	MinScore         float64
}

func (l Limits) withDefaults() Limits {
	if l.MaxContextLength <= 0 {
		l.MaxContextLength = DefaultMaxContextLength
	}
	if l.MaxAnswerLength <= 0 {
		l.MaxAnswerLength = DefaultMaxAnswerLength
	}
	if l.MinScore < 0 {
		l.MinScore = 0
	}
	return l
}

// finish caps the answer length and drops answers below the score floor.
func (l Limits) finish(e domain.Extraction) domain.Extraction {
	if strings.TrimSpace(e.Answer) == "" || e.Confidence < l.MinScore || e.Confidence <= 0 {
		return domain.Extraction{}
	}
	if utf8.RuneCountInString(e.Answer) > l.MaxAnswerLength {
		e.Answer = Truncate(e.Answer, l.MaxAnswerLength)
		e.End = e.Start + len(e.Answer)
	}
	e.Confidence = min(e.Confidence, 1)
	return e
}

// Truncate shortens s to at most n runes, cutting at the last whitespace in
// the second half of the window when there is one.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)[:n]
	cut := n
	for i := n - 1; i > n/2; i-- {
		if unicode.IsSpace(runes[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(runes[:cut]), unicode.IsSpace)
}

// Lazy defers building the extractor model until the first Extract call.
type Lazy struct {
	name  string
	model *lazy.Value[domain.Extractor]
}

func NewLazy(name string, build func(context.Context) (domain.Extractor, error)) *Lazy {
	return &Lazy{name: name, model: lazy.New(build)}
}

func (l *Lazy) Name() string { return l.name }

// Warm forces initialisation.
func (l *Lazy) Warm(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

func (l *Lazy) Extract(ctx context.Context, question, text string) (domain.Extraction, error) {
	m, err := l.get(ctx)
	if err != nil {
		return domain.Extraction{}, err
	}
	return m.Extract(ctx, question, text)
}

func (l *Lazy) get(ctx context.Context) (domain.Extractor, error) {
	m, err := l.model.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: extractor %s: %w", domain.ErrModelUnavailable, l.name, err)
	}
	return m, nil
}
