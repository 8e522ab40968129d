package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/contract-intel/backend/internal/storage/models"
)

type Analyzer interface {
	Extract(ctx context.Context, documentID string) (*models.ExtractionResult, error)
	Audit(ctx context.Context, documentID string) (*models.AuditResult, error)
}

type ContractHandler struct {
	analyzer Analyzer
}

func NewContractHandler(analyzer Analyzer) *ContractHandler {
	return &ContractHandler{
		analyzer: analyzer,
	}
}

func (h *ContractHandler) Extract(c *fiber.Ctx) error {
	result, err := h.analyzer.Extract(c.UserContext(), c.Query("document_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

func (h *ContractHandler) Audit(c *fiber.Ctx) error {
	result, err := h.analyzer.Audit(c.UserContext(), c.Query("document_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}
