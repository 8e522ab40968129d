package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/ingestion"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

func StatusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindInvalidInput:
		return fiber.StatusBadRequest
	case apperror.KindNotFound:
		return fiber.StatusNotFound
	case apperror.KindUpstream:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(err error) fiber.Map {
	body := fiber.Map{
		"error": err.Error(),
		"kind":  apperror.KindOf(err).String(),
	}

	var ingestErr *ingestion.Error
	if errors.As(err, &ingestErr) {
		body["document"] = ingestErr.Document
		body["stage"] = string(ingestErr.Stage)
	}

	return body
}

func respondError(c *fiber.Ctx, err error) error {
	kind := apperror.KindOf(err)
	if kind == apperror.KindInternal || kind == apperror.KindIO {
		logger.Error("Request failed",
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(StatusFor(kind)).JSON(errorBody(err))
}
