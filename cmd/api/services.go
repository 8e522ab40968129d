package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/answer"
	"github.com/contract-intel/backend/internal/cache/redis"
	"github.com/contract-intel/backend/internal/chunker"
	"github.com/contract-intel/backend/internal/embedding"
	"github.com/contract-intel/backend/internal/ingestion"
	"github.com/contract-intel/backend/internal/llm"
	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/notify"
	"github.com/contract-intel/backend/internal/pdftext"
	"github.com/contract-intel/backend/internal/retrieval"
	"github.com/contract-intel/backend/internal/storage/sqlite"
	"github.com/contract-intel/backend/internal/vector"
	"github.com/contract-intel/backend/internal/vector/memory"
	"github.com/contract-intel/backend/internal/vector/zilliz"
	"github.com/contract-intel/backend/pkg/config"
	"github.com/contract-intel/backend/pkg/logger"
)

// services holds every collaborator. They are all built before the server
// accepts traffic and closed in reverse order.
type services struct {
	counters     *metrics.Counters
	registry     *prometheus.Registry
	index        *vector.Index
	ingestion    *ingestion.Controller
	orchestrator *answer.Orchestrator
	journal      *sqlite.Client
	dispatcher   *notify.Dispatcher

	closers []func() error
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}

func buildServices(ctx context.Context, cfg *config.Config) (*services, error) {
	svc := &services{
		counters: metrics.NewCounters(),
		registry: prometheus.NewRegistry(),
	}
	if err := svc.build(ctx, cfg); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

// build fills s in place so that clients opened before a failure are
// registered as closers and released by the caller.
func (s *services) build(ctx context.Context, cfg *config.Config) error {
	if err := s.counters.Register(s.registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	s.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	embedder, err := s.buildEmbedder(ctx, cfg)
	if err != nil {
		return err
	}

	store, err := s.buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	s.index = vector.NewIndex(embedder, store)
	s.closers = append(s.closers, s.index.Close)
	if err := s.index.EnsureCollection(ctx); err != nil {
		return err
	}

	ch, err := chunker.New(chunker.Settings{Size: cfg.Ingestion.ChunkSize, Overlap: cfg.Ingestion.ChunkOverlap})
	if err != nil {
		return err
	}
	s.ingestion = ingestion.NewController(pdftext.NewExtractor(), ch, s.index, s.counters, ingestion.Settings{
		BatchPages: cfg.Ingestion.BatchPages,
		TempDir:    cfg.Ingestion.TempDir,
		MaxFiles:   cfg.Ingestion.MaxFiles,
	})

	model := llm.NewClient(llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	opts := []answer.Option{answer.WithSettings(answer.Settings{
		AskK:     cfg.Retrieval.AskK,
		ExtractK: cfg.Retrieval.ExtractK,
		AuditK:   cfg.Retrieval.AuditK,
	})}
	if cfg.History.Enabled {
		s.journal, err = sqlite.NewClient(cfg.History.Path)
		if err != nil {
			return err
		}
		s.closers = append(s.closers, s.journal.Close)
		if err := s.journal.InitSchema(ctx); err != nil {
			return err
		}
		opts = append(opts, answer.WithJournal(s.journal))
	}

	s.orchestrator, err = answer.NewOrchestrator(retrieval.NewGateway(s.index), model, s.counters, opts...)
	if err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}

	s.dispatcher = notify.NewDispatcher(notify.Settings{
		Delay:   time.Duration(cfg.Notify.DelaySec) * time.Second,
		Timeout: time.Duration(cfg.Notify.TimeoutSec) * time.Second,
	})

	return nil
}

func (s *services) buildEmbedder(ctx context.Context, cfg *config.Config) (vector.Embedder, error) {
	client := embedding.NewClient(embedding.Config{
		BaseURL:   cfg.Embedding.BaseURL,
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Index.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   time.Duration(cfg.Embedding.TimeoutSec) * time.Second,
	})

	if !cfg.Redis.Enabled {
		return client, nil
	}

	cache, err := redis.NewClient(ctx, redis.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, cache.Close)

	return embedding.NewCachedEmbedder(client, cache, cfg.Embedding.Model, time.Duration(cfg.Redis.EmbeddingTTLSec)*time.Second), nil
}

func (s *services) buildStore(ctx context.Context, cfg *config.Config) (vector.Store, error) {
	switch cfg.Index.Backend {
	case config.IndexBackendMemory:
		logger.Warn("Using in-memory vector index; data is lost on restart")
		return memory.NewStore(), nil
	case config.IndexBackendZilliz, config.IndexBackendMilvus:
		return zilliz.NewClient(ctx, zilliz.Config{
			Endpoint:       cfg.Index.Endpoint,
			APIKey:         cfg.Index.APIKey,
			CollectionName: cfg.Index.Name,
		})
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// Close releases clients in reverse construction order.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil

	if err := errors.Join(errs...); err != nil {
		logger.Error("Failed to close services", zap.Error(err))
		return err
	}
	return nil
}
