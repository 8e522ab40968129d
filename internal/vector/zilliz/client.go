package zilliz

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/internal/vector"
	"github.com/contract-intel/backend/pkg/logger"
)

const (
	fieldID        = "chunk_id"
	fieldEmbedding = "embedding"
	fieldText      = "text"
	fieldSource    = "source"
	fieldMetadata  = "metadata"

	maxTextLength     = 8192
	maxSourceLength   = 512
	maxMetadataLength = 2048
)

type Config struct {
	Endpoint       string
	APIKey         string
	CollectionName string
}

type Client struct {
	client         client.Client
	collectionName string
	vectorDim      int
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	c, err := client.NewClient(ctx, client.Config{
		Address:       cfg.Endpoint,
		APIKey:        cfg.APIKey,
		EnableTLSAuth: strings.HasPrefix(cfg.Endpoint, "https://"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Zilliz/Milvus client initialized",
		zap.String("endpoint", cfg.Endpoint),
		zap.String("collection", cfg.CollectionName),
	)

	return &Client{
		client:         c,
		collectionName: cfg.CollectionName,
	}, nil
}

func (z *Client) Close() error {
	return z.client.Close()
}

func (z *Client) EnsureCollection(ctx context.Context, dim int) error {
	z.vectorDim = dim

	has, err := z.client.HasCollection(ctx, z.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}

	if has {
		if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
			return fmt.Errorf("failed to load collection: %w", err)
		}
		logger.Info("Collection already exists", zap.String("collection", z.collectionName))
		return nil
	}

	err = z.client.CreateCollection(ctx, collectionSchema(z.collectionName, dim), entity.DefaultShardNumber,
		client.WithConsistencyLevel(entity.ClStrong))
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexHNSW(entity.COSINE, 16, 200)
	if err != nil {
		return fmt.Errorf("failed to build index params: %w", err)
	}
	if err := z.client.CreateIndex(ctx, z.collectionName, fieldEmbedding, idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := z.client.LoadCollection(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded",
		zap.String("collection", z.collectionName),
		zap.Int("dim", dim),
	)

	return nil
}

func collectionSchema(name string, dim int) *entity.Schema {
	return &entity.Schema{
		CollectionName: name,
		Description:    "Contract chunk embeddings",
		Fields: []*entity.Field{
			{
				Name:       fieldID,
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       fieldEmbedding,
				DataType:   entity.FieldTypeFloatVector,
				TypeParams: map[string]string{"dim": strconv.Itoa(dim)},
			},
			{
				Name:       fieldText,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(maxTextLength)},
			},
			{
				Name:       fieldSource,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(maxSourceLength)},
			},
			{
				Name:       fieldMetadata,
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": strconv.Itoa(maxMetadataLength)},
			},
		},
	}
}

func (z *Client) Upsert(ctx context.Context, records []vector.Record) error {
	if len(records) == 0 {
		return nil
	}

	columns, err := z.columns(records)
	if err != nil {
		return err
	}

	if _, err := z.client.Upsert(ctx, z.collectionName, "", columns...); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}

	if err := z.client.Flush(ctx, z.collectionName, false); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	logger.Info("Chunks upserted into vector DB", zap.Int("count", len(records)))

	return nil
}

func (z *Client) columns(records []vector.Record) ([]entity.Column, error) {
	ids := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	texts := make([]string, len(records))
	sources := make([]string, len(records))
	metadata := make([]string, len(records))

	for i, rec := range records {
		if len(rec.Embedding) != z.vectorDim {
			return nil, fmt.Errorf("embedding for %s has dimension %d, expected %d", rec.Chunk.ID, len(rec.Embedding), z.vectorDim)
		}
		meta, err := json.Marshal(rec.Chunk.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}

		ids[i] = rec.Chunk.ID
		embeddings[i] = rec.Embedding
		texts[i] = truncateBytes(rec.Chunk.Text, maxTextLength)
		sources[i] = rec.Chunk.Metadata[models.MetadataSource]
		metadata[i] = string(meta)
	}

	return []entity.Column{
		entity.NewColumnVarChar(fieldID, ids),
		entity.NewColumnFloatVector(fieldEmbedding, z.vectorDim, embeddings),
		entity.NewColumnVarChar(fieldText, texts),
		entity.NewColumnVarChar(fieldSource, sources),
		entity.NewColumnVarChar(fieldMetadata, metadata),
	}, nil
}

func (z *Client) Search(ctx context.Context, embedding []float32, k int, filter map[string]string) ([]models.ScoredChunk, error) {
	expr, err := filterExpr(filter)
	if err != nil {
		return nil, err
	}

	sp, err := entity.NewIndexHNSWSearchParam(max(64, k))
	if err != nil {
		return nil, fmt.Errorf("failed to build search params: %w", err)
	}

	searchResult, err := z.client.Search(
		ctx,
		z.collectionName,
		[]string{},
		expr,
		[]string{fieldID, fieldText, fieldMetadata},
		[]entity.Vector{entity.FloatVector(embedding)},
		fieldEmbedding,
		entity.COSINE,
		k,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]models.ScoredChunk, 0, k)
	for _, sr := range searchResult {
		idCol := sr.Fields.GetColumn(fieldID)
		textCol := sr.Fields.GetColumn(fieldText)
		metaCol := sr.Fields.GetColumn(fieldMetadata)
		if idCol == nil || textCol == nil || metaCol == nil {
			return nil, fmt.Errorf("search result is missing output fields")
		}

		for i := 0; i < sr.ResultCount; i++ {
			id, err := stringAt(idCol, i)
			if err != nil {
				return nil, err
			}
			text, err := stringAt(textCol, i)
			if err != nil {
				return nil, err
			}
			rawMeta, err := stringAt(metaCol, i)
			if err != nil {
				return nil, err
			}

			chunk := models.Chunk{ID: id, Text: text}
			if err := json.Unmarshal([]byte(rawMeta), &chunk.Metadata); err != nil {
				logger.Warn("Failed to decode chunk metadata", zap.String("chunk_id", id), zap.Error(err))
			}
			chunk.Index, _ = strconv.Atoi(chunk.Metadata[models.MetadataChunkIndex])
			chunk.Start, _ = strconv.Atoi(chunk.Metadata[models.MetadataStartIndex])

			results = append(results, models.ScoredChunk{Chunk: chunk, Score: sr.Scores[i]})
		}
	}

	logger.Info("Vector search completed",
		zap.Int("topK", k),
		zap.Int("results", len(results)),
		zap.String("filters", expr),
	)

	return results, nil
}

func filterExpr(filter map[string]string) (string, error) {
	keys := make([]string, 0, len(filter))
	for key := range filter {
		if key != models.MetadataSource {
			return "", fmt.Errorf("unsupported filter field %q", key)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s == %s", fieldSource, quote(filter[key])))
	}
	return strings.Join(parts, " && "), nil
}

func stringAt(col entity.Column, i int) (string, error) {
	v, err := col.Get(i)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", col.Name(), err)
	}
	str, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("column %s holds %T, expected string", col.Name(), v)
	}
	return str, nil
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
