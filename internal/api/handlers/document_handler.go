package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/contract-intel/backend/internal/ingestion"
)

const uploadField = "files"

type Ingester interface {
	Ingest(ctx context.Context, uploads []ingestion.Upload) (*ingestion.Result, error)
}

type DocumentHandler struct {
	ingester Ingester
}

func NewDocumentHandler(ingester Ingester) *DocumentHandler {
	return &DocumentHandler{
		ingester: ingester,
	}
}

// Ingest accepts multipart uploads under "files". A request that is not
// multipart reaches the controller with no uploads and is rejected there.
func (h *DocumentHandler) Ingest(c *fiber.Ctx) error {
	var uploads []ingestion.Upload
	if form, err := c.MultipartForm(); err == nil {
		for _, header := range form.File[uploadField] {
			uploads = append(uploads, ingestion.MultipartUpload{Header: header})
		}
	}

	result, err := h.ingester.Ingest(c.UserContext(), uploads)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(fiber.Map{
		"status":          "success",
		"processed_files": result.ProcessedFiles,
		"chunks_indexed":  result.Chunks,
	})
}
