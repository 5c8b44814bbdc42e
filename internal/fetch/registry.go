package fetch

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"ragqa/internal/domain"
)

// ProviderConfig configures one provider by name.
type ProviderConfig struct {
	Name      string
	BaseURL   string
	Limit     int
	RateLimit float64
	Site      string
}

// Options are shared by every provider the registry builds.
type Options struct {
	Timeout   time.Duration
	UserAgent string
}

// NewProvider builds the named provider with its own rate-limited client.
func NewProvider(cfg ProviderConfig, opts Options) (domain.Fetcher, error) {
	rps := cfg.RateLimit
	if rps == 0 {
		rps = DefaultRateLimit
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	clientOpts := []ClientOption{
		WithHTTPClient(&http.Client{Timeout: timeout}),
		WithRateLimit(rps),
	}
	if opts.UserAgent != "" {
		clientOpts = append(clientOpts, WithUserAgent(opts.UserAgent))
	}
	client := NewClient(clientOpts...)

	switch cfg.Name {
	case "wikipedia":
		return NewWikipedia(client, cfg.BaseURL), nil
	case "arxiv":
		return NewArxiv(client, cfg.BaseURL), nil
	case "pubmed":
		return NewPubMed(client, cfg.BaseURL), nil
	case "stackexchange", "stackoverflow":
		return NewStackExchange(client, cfg.BaseURL, cfg.Site), nil
	case "openlibrary":
		return NewOpenLibrary(client, cfg.BaseURL), nil
	case "osm", "openstreetmap":
		return NewOpenStreetMap(client, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, cfg.Name)
	}
}

// NewGatewayFromConfig builds a gateway over the configured providers.
func NewGatewayFromConfig(log *zap.Logger, providers []ProviderConfig, opts Options) (*Gateway, error) {
	sources := make([]Source, 0, len(providers))
	for _, p := range providers {
		f, err := NewProvider(p, opts)
		if err != nil {
			return nil, err
		}
		sources = append(sources, Source{Fetcher: f, Limit: p.Limit})
	}
	return NewGateway(log, sources...), nil
}
