package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragqa/internal/chunker"
	"ragqa/internal/config"
	"ragqa/internal/conversation"
	"ragqa/internal/domain"
	"ragqa/internal/embedding"
	"ragqa/internal/embedding/hashing"
	"ragqa/internal/embedding/openai"
	"ragqa/internal/extractor"
	"ragqa/internal/fetch"
	"ragqa/internal/kb"
	"ragqa/internal/logging"
	"ragqa/internal/service"
	"ragqa/internal/vectorstore"
	"ragqa/internal/vectorstore/memory"
)

// app holds the assembled components of one process.
type app struct {
	cfg     *config.AppConfig
	log     *zap.Logger
	store   *kb.Store
	engine  *service.Engine
	admin   *service.Admin
	warmers []func(context.Context) error
	closers []func()
}

func loadConfig() (*config.AppConfig, error) {
	if cfgPath == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(cfgPath)
}

// newApp assembles the components named in the config and loads the
// knowledge base into the vector index.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}

	emb, err := a.buildEmbedder()
	if err != nil {
		a.Close()
		return nil, err
	}
	ext, err := a.buildExtractor()
	if err != nil {
		a.Close()
		return nil, err
	}

	var idx vectorstore.Storage = memory.NewStorage(emb.Dimension())

	db, err := kb.Open(cfg.Store.Path, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := kb.Close(db); err != nil {
			log.Warn("closing knowledge base failed", zap.Error(err))
		}
	})

	ch := chunker.NewWindowChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	a.store = kb.NewStore(db, idx, ch, emb, log)
	if err := a.store.Load(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("load knowledge base: %w", err)
	}

	var fetcher domain.Fetcher
	if len(cfg.Fallback.Providers) > 0 {
		gw, err := fetch.NewGatewayFromConfig(log, providerConfigs(cfg.Fallback.Providers), fetch.Options{
			Timeout:   time.Duration(cfg.Fallback.TimeoutSecs) * time.Second,
			UserAgent: cfg.Fallback.UserAgent,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("fetch gateway: %w", err)
		}
		fetcher = gw
		log.Info("fetch gateway ready", zap.Strings("providers", gw.Providers()))
	}

	a.engine = service.NewEngine(service.Deps{
		Embedder:  emb,
		Index:     idx,
		Extractor: ext,
		KB:        a.store,
		Fetcher:   fetcher,
		Memory:    conversation.NewMemory(cfg.Memory.Capacity),
		Logger:    log,
	}, service.Options{
		TopK:                cfg.Retrieval.TopK,
		SimilarityThreshold: cfg.Retrieval.SimilarityThreshold,
		AcceptanceThreshold: cfg.Retrieval.AcceptanceThreshold,
		FallbackEnabled:     cfg.Fallback.Enabled,
		FetchTimeout:        time.Duration(cfg.Fallback.TimeoutSecs) * time.Second,
		FetchLimit:          cfg.Fallback.MaxCandidates,
		MaxConcurrent:       int64(cfg.Server.MaxConcurrent),
	})
	a.admin = service.NewAdmin(a.store, fetcher, log).WithTopics(cfg.Fallback.PreloadTopics)
	return a, nil
}

func (a *app) buildEmbedder() (domain.Embedder, error) {
	cfg := a.cfg.Embedder
	var emb domain.Embedder
	switch cfg.Type {
	case "hashing", "":
		emb = hashing.NewEmbedder(cfg.Dimension)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, fmt.Errorf("openai embedder config missing")
		}
		o := *cfg.OpenAI
		lazy := embedding.NewLazy("openai:"+o.Model, o.Dimension, func(context.Context) (embedding.Embedder, error) {
			c, err := openai.NewClient(openai.Config{
				BaseURL:   o.BaseURL,
				APIKeyEnv: o.APIKeyEnv,
				Model:     o.Model,
				Dimension: o.Dimension,
				BatchSize: o.BatchSize,
				Timeout:   time.Duration(o.TimeoutSecs) * time.Second,
			})
			if err != nil {
				return nil, err
			}
			a.log.Info("embedding model ready", zap.String("model", o.Model))
			return c, nil
		})
		a.warmers = append(a.warmers, lazy.Warm)
		emb = lazy
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}

	if mb := a.cfg.Cache.EmbeddingMB; mb > 0 {
		cached, err := embedding.NewCached(emb, int64(mb)<<20)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, cached.Close)
		emb = cached
	}
	return emb, nil
}

func (a *app) buildExtractor() (domain.Extractor, error) {
	cfg := a.cfg.Extractor
	limits := extractor.Limits{
		MaxContextLength: cfg.MaxContextLength,
		MaxAnswerLength:  cfg.MaxAnswerLength,
		MinScore:         cfg.MinScore,
	}
	switch cfg.Type {
	case "lexical", "":
		return extractor.NewLexical(limits), nil
	case "remote":
		if cfg.Remote == nil {
			return nil, fmt.Errorf("remote extractor config missing")
		}
		r := *cfg.Remote
		lazy := extractor.NewLazy("remote", func(context.Context) (domain.Extractor, error) {
			x, err := extractor.NewRemote(extractor.RemoteConfig{
				URL:     r.URL,
				Timeout: time.Duration(r.TimeoutSecs) * time.Second,
				Limits:  limits,
			})
			if err != nil {
				return nil, err
			}
			a.log.Info("extraction model ready", zap.String("url", r.URL))
			return x, nil
		})
		a.warmers = append(a.warmers, lazy.Warm)
		return lazy, nil
	default:
		return nil, fmt.Errorf("unknown extractor: %s", cfg.Type)
	}
}

// warm initialises the lazily built models. Failures are logged; the
// next request retries.
func (a *app) warm(ctx context.Context) {
	for _, w := range a.warmers {
		if err := w(ctx); err != nil {
			a.log.Warn("model warm-up failed", zap.Error(err))
		}
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	_ = a.log.Sync()
}

func providerConfigs(in []config.ProviderConfig) []fetch.ProviderConfig {
	out := make([]fetch.ProviderConfig, len(in))
	for i, p := range in {
		out[i] = fetch.ProviderConfig{
			Name:      p.Name,
			BaseURL:   p.BaseURL,
			Limit:     p.Limit,
			RateLimit: p.RateLimit,
			Site:      p.Site,
		}
	}
	return out
}
