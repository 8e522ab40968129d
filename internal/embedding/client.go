package embedding

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/llm"
	"github.com/contract-intel/backend/pkg/circuitbreaker"
	"github.com/contract-intel/backend/pkg/logger"
	"github.com/contract-intel/backend/pkg/retry"
)

type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	Dimension int
	BatchSize int
	Timeout   time.Duration
}

// Client talks to any OpenAI-compatible /embeddings endpoint serving the
// configured model.
type Client struct {
	client      *openai.Client
	model       string
	dimension   int
	batchSize   int
	cb          *circuitbreaker.CircuitBreaker
	retryConfig retry.Config
}

func NewClient(cfg Config) *Client {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	cb := circuitbreaker.New("embedding", circuitbreaker.Config{
		MaxRequests:      5,
		OpenTimeout:      30 * time.Second,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		IsFailure:        llm.Retryable,
		Logger:           logger.GetLogger(),
	})

	retryConfig := retry.DefaultConfig()
	retryConfig.Retryable = llm.Retryable
	retryConfig.Logger = logger.GetLogger()

	logger.Info("Embedding client initialized",
		zap.String("base_url", config.BaseURL),
		zap.String("model", cfg.Model),
		zap.Int("dim", cfg.Dimension),
	)

	return &Client{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		dimension:   cfg.Dimension,
		batchSize:   cfg.BatchSize,
		cb:          cb,
		retryConfig: retryConfig,
	}
}

func (c *Client) Dimension() int {
	return c.dimension
}

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	embeddings := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += c.batchSize {
		batch := texts[i:min(i+c.batchSize, len(texts))]

		var vectors [][]float32
		err := c.cb.Execute(ctx, func(ctx context.Context) error {
			return retry.Do(ctx, c.retryConfig, func(ctx context.Context) error {
				var err error
				vectors, err = c.embedBatch(ctx, batch)
				return err
			})
		})
		if err != nil {
			return nil, err
		}

		embeddings = append(embeddings, vectors...)
	}

	logger.Debug("Batch embeddings generated", zap.Int("count", len(embeddings)))

	return embeddings, nil
}

func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: batch,
		Model: openai.EmbeddingModel(c.model),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate batch embeddings: %w", err)
	}

	if len(resp.Data) != len(batch) {
		return nil, retry.Permanent(fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(batch)))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })

	vectors := make([][]float32, len(data))
	for i, d := range data {
		if c.dimension > 0 && len(d.Embedding) != c.dimension {
			return nil, retry.Permanent(fmt.Errorf("embedding has dimension %d, expected %d", len(d.Embedding), c.dimension))
		}
		vectors[i] = d.Embedding
	}

	return vectors, nil
}
