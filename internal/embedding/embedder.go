// Package embedding provides the text embedders and the decorators that add
// caching and lazy model initialisation on top of them.
package embedding

import (
	"context"
	"fmt"

	"ragqa/internal/domain"
	"ragqa/internal/lazy"
)

// Embedder converts free text into a fixed-dimension vector.
type Embedder = domain.Embedder

// Info formats the identity of an embedder as "name/dimension".
func Info(e Embedder) string { return fmt.Sprintf("%s/%d", e.Name(), e.Dimension()) }

// Lazy defers construction of the underlying model until first use.
// Name and Dimension are known up front so callers can check stored vectors
// without loading the model.
type Lazy struct {
	name      string
	dimension int
	model     *lazy.Value[Embedder]
}

func NewLazy(name string, dimension int, build func(context.Context) (Embedder, error)) *Lazy {
	return &Lazy{name: name, dimension: dimension, model: lazy.New(build)}
}

func (l *Lazy) Name() string   { return l.name }
func (l *Lazy) Dimension() int { return l.dimension }

// Warm forces initialisation.
func (l *Lazy) Warm(ctx context.Context) error {
	_, err := l.get(ctx)
	return err
}

func (l *Lazy) Embed(ctx context.Context, text string) ([]float64, error) {
	m, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return m.Embed(ctx, text)
}

func (l *Lazy) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	m, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return m.EmbedBatch(ctx, texts)
}

func (l *Lazy) get(ctx context.Context) (Embedder, error) {
	m, err := l.model.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: embedder %s: %w", domain.ErrModelUnavailable, l.name, err)
	}
	if m.Dimension() != l.dimension {
		return nil, fmt.Errorf("%w: embedder %s has dimension %d, expected %d", domain.ErrModelUnavailable, l.name, m.Dimension(), l.dimension)
	}
	return m, nil
}
