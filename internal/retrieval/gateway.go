package retrieval

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

const (
	AskK     = 4
	ExtractK = 10
	AuditK   = 15
)

type Index interface {
	Query(ctx context.Context, text string, k int, filter map[string]string) ([]models.ScoredChunk, error)
}

type Context struct {
	Text      string
	Citations []string
	Chunks    []models.ScoredChunk
}

type Gateway struct {
	index Index
}

func NewGateway(index Index) *Gateway {
	return &Gateway{index: index}
}

// Retrieve returns the k chunks nearest to query. With a documentID, only that
// document's chunks are searched and finding none is a not-found error.
func (g *Gateway) Retrieve(ctx context.Context, query string, k int, documentID string) (*Context, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperror.InvalidInput("retrieval.Retrieve", "query must not be empty")
	}
	if k <= 0 {
		return nil, apperror.Newf(apperror.KindInvalidInput, "retrieval.Retrieve", "k must be positive, got %d", k)
	}

	var filter map[string]string
	if documentID != "" {
		filter = map[string]string{models.MetadataSource: documentID}
	}

	chunks, err := g.index.Query(ctx, query, k, filter)
	if err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			err = apperror.Upstream("retrieval.Retrieve", err)
		}
		return nil, err
	}

	if len(chunks) == 0 && documentID != "" {
		return nil, apperror.NotFound("retrieval.Retrieve", fmt.Sprintf("document %q not found", documentID))
	}

	logger.Debug("Context retrieved",
		zap.Int("k", k),
		zap.Int("chunks", len(chunks)),
		zap.String("document_id", documentID),
	)

	return assemble(chunks), nil
}

func assemble(chunks []models.ScoredChunk) *Context {
	texts := make([]string, len(chunks))
	seen := make(map[string]struct{}, len(chunks))
	citations := make([]string, 0, len(chunks))

	for i, chunk := range chunks {
		texts[i] = chunk.Text
		source := chunk.Source()
		if _, ok := seen[source]; ok {
			continue
		}
		seen[source] = struct{}{}
		citations = append(citations, source)
	}

	return &Context{
		Text:      strings.Join(texts, "\n\n"),
		Citations: citations,
		Chunks:    chunks,
	}
}
