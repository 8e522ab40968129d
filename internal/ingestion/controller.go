package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/chunker"
	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/pdftext"
	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

const (
	mimePDF = "application/pdf"

	// MaxFilenameBytes matches the widest source column of the vector backends.
	MaxFilenameBytes = 512
)

type Stage string

const (
	StageRead    Stage = "read"
	StageSpool   Stage = "spool"
	StageDetect  Stage = "detect"
	StageExtract Stage = "extract"
	StageIndex   Stage = "index"
)

// Error names the document and stage that failed. The wrapped error carries
// the apperror kind.
type Error struct {
	Document string
	Stage    Stage
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to ingest %s at %s stage: %v", e.Document, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

type Indexer interface {
	Upsert(ctx context.Context, chunks []models.Chunk) error
}

type Settings struct {
	BatchPages int
	TempDir    string
	MaxFiles   int
}

type Result struct {
	ProcessedFiles []string
	Chunks         int
}

type Controller struct {
	extractor pdftext.Extractor
	chunker   *chunker.Chunker
	index     Indexer
	counters  *metrics.Counters
	settings  Settings
}

func NewController(extractor pdftext.Extractor, ch *chunker.Chunker, index Indexer, counters *metrics.Counters, settings Settings) *Controller {
	if settings.BatchPages <= 0 {
		settings.BatchPages = 10
	}
	return &Controller{
		extractor: extractor,
		chunker:   ch,
		index:     index,
		counters:  counters,
		settings:  settings,
	}
}

// Ingest processes uploads in order and stops at the first failure. Documents
// indexed before the failure stay indexed.
func (c *Controller) Ingest(ctx context.Context, uploads []Upload) (*Result, error) {
	if err := c.validate(uploads); err != nil {
		c.counters.IncErrors()
		return nil, err
	}

	result := &Result{ProcessedFiles: make([]string, 0, len(uploads))}
	for _, up := range uploads {
		start := time.Now()
		name := up.Filename()

		chunks, err := c.ingestOne(ctx, name, up)
		if err != nil {
			c.counters.IncErrors()
			logger.Error("Document ingestion failed",
				zap.String("document", name),
				zap.Strings("processed", result.ProcessedFiles),
				zap.Error(err),
			)
			return result, err
		}

		c.counters.IncDocumentsIngested()
		result.ProcessedFiles = append(result.ProcessedFiles, name)
		result.Chunks += chunks

		logger.Info("Document ingested",
			zap.String("document", name),
			zap.Int("chunks", chunks),
			zap.Duration("duration", time.Since(start)),
		)
	}

	return result, nil
}

func (c *Controller) validate(uploads []Upload) error {
	if len(uploads) == 0 {
		return apperror.InvalidInput("ingestion.Ingest", "at least one file is required")
	}
	if c.settings.MaxFiles > 0 && len(uploads) > c.settings.MaxFiles {
		return apperror.Newf(apperror.KindInvalidInput, "ingestion.Ingest", "at most %d files per request, got %d", c.settings.MaxFiles, len(uploads))
	}
	for _, up := range uploads {
		name := up.Filename()
		if strings.TrimSpace(name) == "" {
			return apperror.InvalidInput("ingestion.Ingest", "every file needs a filename")
		}
		if len(name) > MaxFilenameBytes {
			return apperror.Newf(apperror.KindInvalidInput, "ingestion.Ingest", "filename exceeds %d bytes", MaxFilenameBytes)
		}
	}
	return nil
}

func (c *Controller) ingestOne(ctx context.Context, name string, up Upload) (int, error) {
	fail := func(stage Stage, err error) error {
		return &Error{Document: name, Stage: stage, Err: err}
	}

	path, stage, err := c.spool(up)
	if path != "" {
		defer removeTemp(path)
	}
	if err != nil {
		return 0, fail(stage, err)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return 0, fail(StageDetect, apperror.IO("ingestion.detect", err))
	}
	if !mt.Is(mimePDF) {
		return 0, fail(StageDetect, apperror.Newf(apperror.KindInvalidInput, "ingestion.detect", "%s is %s, not a PDF", name, mt.String()))
	}

	doc, err := c.extractor.Open(path)
	if err != nil {
		return 0, fail(StageExtract, apperror.New(apperror.KindInvalidInput, "ingestion.extract", err))
	}
	defer doc.Close()

	session := c.chunker.NewSession(name)
	pages := doc.NumPages()
	batch := make([]string, 0, c.settings.BatchPages)
	written, total := false, 0

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return total, fail(StageExtract, apperror.New(apperror.KindInternal, "ingestion.extract", err))
		}

		text, err := doc.PageText(page)
		if err != nil {
			return total, fail(StageExtract, apperror.New(apperror.KindInvalidInput, "ingestion.extract", err))
		}
		batch = append(batch, text)

		if len(batch) < c.settings.BatchPages && page < pages {
			continue
		}

		joined := strings.Join(batch, "\n\n")
		if written {
			joined = "\n\n" + joined
		}
		written = true
		batch = batch[:0]

		n, err := c.upsert(ctx, session.Write(joined))
		total += n
		if err != nil {
			return total, fail(StageIndex, err)
		}

		logger.Debug("Page batch indexed",
			zap.String("document", name),
			zap.Int("through_page", page),
			zap.Int("chunks", n),
		)
	}

	n, err := c.upsert(ctx, session.Flush())
	total += n
	if err != nil {
		return total, fail(StageIndex, err)
	}

	if total == 0 {
		logger.Warn("Document produced no text", zap.String("document", name), zap.Int("pages", pages))
	}

	return total, nil
}

func (c *Controller) upsert(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := c.index.Upsert(ctx, chunks); err != nil {
		if apperror.KindOf(err) == apperror.KindInternal {
			err = apperror.Upstream("ingestion.index", err)
		}
		return 0, err
	}
	c.counters.AddChunksIndexed(len(chunks))
	return len(chunks), nil
}

// spool copies the upload to a temp file owned by this call. The returned
// path is set whenever a file was created, even on error.
func (c *Controller) spool(up Upload) (string, Stage, error) {
	src, err := up.Open()
	if err != nil {
		return "", StageRead, apperror.IO("ingestion.read", fmt.Errorf("failed to open upload: %w", err))
	}
	defer src.Close()

	ext := filepath.Ext(up.Filename())
	if ext == "" || strings.ContainsAny(ext, `/\*`) {
		ext = ".pdf"
	}
	dst, err := os.CreateTemp(c.settings.TempDir, "contract-*"+ext)
	if err != nil {
		return "", StageSpool, apperror.IO("ingestion.spool", fmt.Errorf("failed to create temp file: %w", err))
	}

	_, copyErr := io.Copy(dst, src)
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return dst.Name(), StageSpool, apperror.IO("ingestion.spool", fmt.Errorf("failed to write temp file: %w", err))
	}

	return dst.Name(), "", nil
}

func removeTemp(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to remove temp file", zap.String("path", path), zap.Error(err))
	}
}
