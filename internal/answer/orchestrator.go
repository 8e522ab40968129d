package answer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/contract-intel/backend/internal/llm"
	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/retrieval"
	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
	"github.com/contract-intel/backend/pkg/logger"
)

const (
	ModeAsk     = "ask"
	ModeStream  = "stream"
	ModeExtract = "extract"
	ModeAudit   = "audit"

	MaxQuestionLength = 4000
)

type Model interface {
	Complete(ctx context.Context, msgs []llm.Message) (string, error)
	Stream(ctx context.Context, msgs []llm.Message, onFragment func(string) error) error
	CompleteStructured(ctx context.Context, prompt string, schema *llm.Schema, out any) error
}

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, documentID string) (*retrieval.Context, error)
}

type Journal interface {
	InsertQueryRecord(ctx context.Context, record *models.QueryRecord) error
}

type Settings struct {
	AskK     int
	ExtractK int
	AuditK   int
}

func DefaultSettings() Settings {
	return Settings{AskK: retrieval.AskK, ExtractK: retrieval.ExtractK, AuditK: retrieval.AuditK}
}

type AskRequest struct {
	Question   string
	DocumentID string
}

type Answer struct {
	Answer    string   `json:"answer"`
	Citations []string `json:"citations"`
}

type Orchestrator struct {
	retriever Retriever
	model     Model
	counters  *metrics.Counters
	journal   Journal
	settings  Settings

	extractSchema *llm.Schema
	auditSchema   *llm.Schema
}

type Option func(*Orchestrator)

func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

func WithSettings(s Settings) Option {
	return func(o *Orchestrator) { o.settings = s }
}

func NewOrchestrator(retriever Retriever, model Model, counters *metrics.Counters, opts ...Option) (*Orchestrator, error) {
	extractSchema, err := llm.NewSchema("record_extraction", "Record the fields extracted from the contract", &models.ExtractionResult{})
	if err != nil {
		return nil, err
	}
	auditSchema, err := llm.NewSchema("record_audit", "Record the risks found in the contract", &models.AuditResult{})
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		retriever:     retriever,
		model:         model,
		counters:      counters,
		settings:      DefaultSettings(),
		extractSchema: extractSchema,
		auditSchema:   auditSchema,
	}
	for _, opt := range opts {
		opt(o)
	}

	return o, nil
}

func (o *Orchestrator) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	start := time.Now()

	question, err := validateQuestion("answer.Ask", req.Question)
	if err != nil {
		return nil, o.fail(err)
	}
	o.counters.IncQuestionsAsked()

	rc, err := o.retriever.Retrieve(ctx, question, o.settings.AskK, req.DocumentID)
	if err != nil {
		return nil, o.fail(err)
	}

	text, err := o.model.Complete(ctx, qaMessages(rc.Text, question))
	if err != nil {
		return nil, o.fail(err)
	}

	elapsed := time.Since(start)
	o.counters.ObserveQuery(ModeAsk, elapsed)
	o.record(ctx, ModeAsk, question, text, rc.Citations, req.DocumentID, elapsed)

	logger.Info("Question answered",
		zap.Int("citations", len(rc.Citations)),
		zap.Duration("latency", elapsed),
	)

	return &Answer{Answer: text, Citations: rc.Citations}, nil
}

// Stream is a prepared streamed answer. Retrieval has already happened, so
// failures before the first fragment surface from PrepareStream.
type Stream struct {
	o          *Orchestrator
	messages   []llm.Message
	question   string
	documentID string
	citations  []string
	start      time.Time
}

func (o *Orchestrator) PrepareStream(ctx context.Context, req AskRequest) (*Stream, error) {
	start := time.Now()

	question, err := validateQuestion("answer.PrepareStream", req.Question)
	if err != nil {
		return nil, o.fail(err)
	}
	o.counters.IncQuestionsAsked()

	rc, err := o.retriever.Retrieve(ctx, question, o.settings.AskK, req.DocumentID)
	if err != nil {
		return nil, o.fail(err)
	}

	return &Stream{
		o:          o,
		messages:   qaMessages(rc.Text, question),
		question:   question,
		documentID: req.DocumentID,
		citations:  rc.Citations,
		start:      start,
	}, nil
}

func (s *Stream) Citations() []string {
	return s.citations
}

// Run forwards fragments to emit in generation order. An emit error means the
// consumer went away; generation stops and the error is returned as is.
func (s *Stream) Run(ctx context.Context, emit func(string) error) error {
	var (
		full    strings.Builder
		emitErr error
	)

	err := s.o.model.Stream(ctx, s.messages, func(fragment string) error {
		full.WriteString(fragment)
		if err := emit(fragment); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil && errors.Is(err, emitErr) {
		logger.Info("Stream consumer disconnected", zap.Int("bytes_sent", full.Len()))
		return err
	}
	if err != nil {
		return s.o.fail(err)
	}

	elapsed := time.Since(s.start)
	s.o.counters.ObserveQuery(ModeStream, elapsed)
	s.o.record(ctx, ModeStream, s.question, full.String(), s.citations, s.documentID, elapsed)

	return nil
}

func (o *Orchestrator) Extract(ctx context.Context, documentID string) (*models.ExtractionResult, error) {
	start := time.Now()

	if strings.TrimSpace(documentID) == "" {
		return nil, o.fail(apperror.InvalidInput("answer.Extract", "document_id is required"))
	}

	rc, err := o.retriever.Retrieve(ctx, extractQuery, o.settings.ExtractK, documentID)
	if err != nil {
		return nil, o.fail(err)
	}

	var result models.ExtractionResult
	if err := o.model.CompleteStructured(ctx, extractPrompt(rc.Text), o.extractSchema, &result); err != nil {
		return nil, o.fail(err)
	}
	if result.Parties == nil {
		result.Parties = []string{}
	}

	o.counters.ObserveQuery(ModeExtract, time.Since(start))

	logger.Info("Contract fields extracted",
		zap.String("document_id", documentID),
		zap.Int("parties", len(result.Parties)),
	)

	return &result, nil
}

func (o *Orchestrator) Audit(ctx context.Context, documentID string) (*models.AuditResult, error) {
	start := time.Now()

	if strings.TrimSpace(documentID) == "" {
		return nil, o.fail(apperror.InvalidInput("answer.Audit", "document_id is required"))
	}
	o.counters.IncRisksAudited()

	rc, err := o.retriever.Retrieve(ctx, auditQuery, o.settings.AuditK, documentID)
	if err != nil {
		return nil, o.fail(err)
	}

	var result models.AuditResult
	if err := o.model.CompleteStructured(ctx, auditPrompt(rc.Text), o.auditSchema, &result); err != nil {
		return nil, o.fail(err)
	}
	if result.Risks == nil {
		result.Risks = []models.AuditFinding{}
	}

	o.counters.ObserveQuery(ModeAudit, time.Since(start))

	logger.Info("Contract audited",
		zap.String("document_id", documentID),
		zap.Int("risks", len(result.Risks)),
	)

	return &result, nil
}

func (o *Orchestrator) fail(err error) error {
	o.counters.IncErrors()
	logger.Error("Query failed",
		zap.String("kind", apperror.KindOf(err).String()),
		zap.Error(err),
	)
	return err
}

func (o *Orchestrator) record(ctx context.Context, mode, question, text string, citations []string, documentID string, elapsed time.Duration) {
	if o.journal == nil {
		return
	}

	rec := &models.QueryRecord{
		ID:         uuid.NewString(),
		Question:   question,
		Answer:     text,
		Citations:  citations,
		DocumentID: documentID,
		Mode:       mode,
		LatencyMS:  elapsed.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := o.journal.InsertQueryRecord(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("Failed to record query", zap.Error(err))
	}
}

func validateQuestion(op, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", apperror.InvalidInput(op, "question is required")
	}
	if len([]rune(question)) > MaxQuestionLength {
		return "", apperror.Newf(apperror.KindInvalidInput, op, "question exceeds %d characters", MaxQuestionLength)
	}
	return question, nil
}
