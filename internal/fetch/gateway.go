package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragqa/internal/domain"
)

// DefaultLimits is how many candidates each provider contributes.
var DefaultLimits = map[string]int{
	"wikipedia":     3,
	"arxiv":         2,
	"pubmed":        2,
	"stackexchange": 3,
	"openlibrary":   2,
	"osm":           2,
}

// DefaultProviders are queried when none are configured.
var DefaultProviders = []string{"wikipedia", "stackexchange"}

// Source is one provider with the number of candidates taken from it.
type Source struct {
	Fetcher domain.Fetcher
	Limit   int
}

// Gateway queries every source concurrently and merges the results in
// source order.
type Gateway struct {
	sources []Source
	log     *zap.Logger
}

func NewGateway(log *zap.Logger, sources ...Source) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	for i := range sources {
		if sources[i].Limit <= 0 {
			sources[i].Limit = DefaultLimits[sources[i].Fetcher.Name()]
		}
		if sources[i].Limit <= 0 {
			sources[i].Limit = 3
		}
	}
	return &Gateway{sources: sources, log: log}
}

func (g *Gateway) Name() string { return "gateway" }

// Providers lists the source names in query order.
func (g *Gateway) Providers() []string {
	names := make([]string, len(g.sources))
	for i, s := range g.sources {
		names[i] = s.Fetcher.Name()
	}
	return names
}

// FetchCandidates returns up to limit candidates (all when limit <= 0).
// Failing providers are logged and skipped; an error is returned only when
// every provider failed.
func (g *Gateway) FetchCandidates(ctx context.Context, topic string, limit int) ([]domain.Candidate, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" || len(g.sources) == 0 {
		return []domain.Candidate{}, nil
	}
	results := make([][]domain.Candidate, len(g.sources))
	errs := make([]error, len(g.sources))

	var eg errgroup.Group
	for i, src := range g.sources {
		eg.Go(func() error {
			start := time.Now()
			cands, err := src.Fetcher.FetchCandidates(ctx, topic, src.Limit)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", src.Fetcher.Name(), err)
				g.log.Warn("provider failed",
					zap.String("provider", src.Fetcher.Name()),
					zap.String("topic", topic),
					zap.Error(err))
				return nil
			}
			if len(cands) > src.Limit {
				cands = cands[:src.Limit]
			}
			results[i] = cands
			g.log.Debug("provider returned",
				zap.String("provider", src.Fetcher.Name()),
				zap.Int("candidates", len(cands)),
				zap.Duration("took", time.Since(start)))
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(g.sources) {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchGateway, errors.Join(errs...))
	}

	out := []domain.Candidate{}
	for _, cands := range results {
		for _, c := range cands {
			c.Title = strings.TrimSpace(c.Title)
			c.Text = strings.TrimSpace(c.Text)
			if c.Text == "" {
				continue
			}
			out = append(out, c)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}
