package answer

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contract-intel/backend/internal/llm"
	"github.com/contract-intel/backend/internal/metrics"
	"github.com/contract-intel/backend/internal/retrieval"
	"github.com/contract-intel/backend/internal/storage/models"
	"github.com/contract-intel/backend/pkg/apperror"
)

type fakeRetriever struct {
	docs map[string]string
	err  error

	queries []string
	ks      []int
}

func (f *fakeRetriever) Retrieve(_ context.Context, query string, k int, documentID string) (*retrieval.Context, error) {
	f.queries = append(f.queries, query)
	f.ks = append(f.ks, k)
	if f.err != nil {
		return nil, f.err
	}
	if documentID != "" {
		text, ok := f.docs[documentID]
		if !ok {
			return nil, apperror.NotFound("retrieval.Retrieve", "document not found")
		}
		return &retrieval.Context{Text: text, Citations: []string{documentID}}, nil
	}
	var texts, cites []string
	for id, text := range f.docs {
		texts = append(texts, text)
		cites = append(cites, id)
	}
	return &retrieval.Context{Text: strings.Join(texts, "\n\n"), Citations: cites}, nil
}

type fakeModel struct {
	fragments  []string
	structured string
	err        error

	lastMessages []llm.Message
	lastPrompt   string
	lastSchema   *llm.Schema
}

func (m *fakeModel) Complete(_ context.Context, msgs []llm.Message) (string, error) {
	m.lastMessages = msgs
	if m.err != nil {
		return "", m.err
	}
	return strings.Join(m.fragments, ""), nil
}

func (m *fakeModel) Stream(_ context.Context, msgs []llm.Message, onFragment func(string) error) error {
	m.lastMessages = msgs
	if m.err != nil {
		return m.err
	}
	for _, f := range m.fragments {
		if err := onFragment(f); err != nil {
			return err
		}
	}
	return nil
}

func (m *fakeModel) CompleteStructured(_ context.Context, prompt string, schema *llm.Schema, out any) error {
	m.lastPrompt, m.lastSchema = prompt, schema
	if m.err != nil {
		return m.err
	}
	if err := schema.Decode([]byte(m.structured), out); err != nil {
		return apperror.Upstream("fake.CompleteStructured", err)
	}
	return nil
}

type memJournal struct {
	records []*models.QueryRecord
}

func (j *memJournal) InsertQueryRecord(_ context.Context, r *models.QueryRecord) error {
	j.records = append(j.records, r)
	return nil
}

func newOrchestrator(t *testing.T, r Retriever, m Model, opts ...Option) (*Orchestrator, *metrics.Counters) {
	t.Helper()
	counters := metrics.NewCounters()
	o, err := NewOrchestrator(r, m, counters, opts...)
	require.NoError(t, err)
	return o, counters
}

func TestOrchestrator_Ask(t *testing.T) {
	ctx := context.Background()
	docs := map[string]string{"test.pdf": "This is a test contract for unit testing."}

	t.Run("Should answer with citations", func(t *testing.T) {
		model := &fakeModel{fragments: []string{"It is ", "a test contract."}}
		journal := &memJournal{}
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, model, WithJournal(journal))

		got, err := o.Ask(ctx, AskRequest{Question: " What is this document about? "})
		require.NoError(t, err)
		assert.Equal(t, "It is a test contract.", got.Answer)
		assert.Equal(t, []string{"test.pdf"}, got.Citations)

		require.Len(t, model.lastMessages, 2)
		assert.Equal(t, "Answer based on this context:\nThis is a test contract for unit testing.", model.lastMessages[0].Content)
		assert.Equal(t, "What is this document about?", model.lastMessages[1].Content)

		snap := counters.Snapshot()
		assert.Equal(t, int64(1), snap.QuestionsAsked)
		assert.Zero(t, snap.Errors)

		require.Len(t, journal.records, 1)
		assert.Equal(t, ModeAsk, journal.records[0].Mode)
		assert.NotEmpty(t, journal.records[0].ID)
	})

	t.Run("Should count a failed retrieval once", func(t *testing.T) {
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, &fakeModel{})

		_, err := o.Ask(ctx, AskRequest{Question: "q", DocumentID: "missing.pdf"})
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
		assert.Equal(t, metrics.Snapshot{QuestionsAsked: 1, Errors: 1}, counters.Snapshot())
	})

	t.Run("Should reject an empty question before counting it", func(t *testing.T) {
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, &fakeModel{})

		_, err := o.Ask(ctx, AskRequest{Question: "   "})
		assert.True(t, apperror.Is(err, apperror.KindInvalidInput))
		assert.Equal(t, metrics.Snapshot{Errors: 1}, counters.Snapshot())
	})

	t.Run("Should surface model failures", func(t *testing.T) {
		model := &fakeModel{err: apperror.Upstream("llm.Complete", errors.New("timeout"))}
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, model)

		_, err := o.Ask(ctx, AskRequest{Question: "q"})
		assert.True(t, apperror.Is(err, apperror.KindUpstream))
		assert.Equal(t, int64(1), counters.Snapshot().Errors)
	})

	t.Run("Should use the configured k", func(t *testing.T) {
		r := &fakeRetriever{docs: docs}
		o, _ := newOrchestrator(t, r, &fakeModel{}, WithSettings(Settings{AskK: 7, ExtractK: 1, AuditK: 1}))

		_, err := o.Ask(ctx, AskRequest{Question: "q"})
		require.NoError(t, err)
		assert.Equal(t, []int{7}, r.ks)
	})
}

func TestOrchestrator_Stream(t *testing.T) {
	ctx := context.Background()
	docs := map[string]string{"test.pdf": "This is a test contract for unit testing."}

	t.Run("Should stream the same text as the synchronous answer", func(t *testing.T) {
		model := &fakeModel{fragments: []string{"The ", "contract ", "is a test."}}
		journal := &memJournal{}
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, model, WithJournal(journal))

		sync, err := o.Ask(ctx, AskRequest{Question: "What is it?"})
		require.NoError(t, err)

		stream, err := o.PrepareStream(ctx, AskRequest{Question: "What is it?"})
		require.NoError(t, err)
		assert.Equal(t, []string{"test.pdf"}, stream.Citations())

		var got []string
		require.NoError(t, stream.Run(ctx, func(f string) error {
			got = append(got, f)
			return nil
		}))

		assert.Equal(t, []string{"The ", "contract ", "is a test."}, got)
		assert.Equal(t, sync.Answer, strings.Join(got, ""))
		assert.Equal(t, int64(2), counters.Snapshot().QuestionsAsked)
		require.Len(t, journal.records, 2)
		assert.Equal(t, ModeStream, journal.records[1].Mode)
		assert.Equal(t, sync.Answer, journal.records[1].Answer)
	})

	t.Run("Should stop without counting an error when the consumer leaves", func(t *testing.T) {
		model := &fakeModel{fragments: []string{"a", "b", "c"}}
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, model)
		gone := errors.New("broken pipe")

		stream, err := o.PrepareStream(ctx, AskRequest{Question: "q"})
		require.NoError(t, err)

		sent := 0
		err = stream.Run(ctx, func(string) error {
			sent++
			return gone
		})
		assert.ErrorIs(t, err, gone)
		assert.Equal(t, 1, sent)
		assert.Zero(t, counters.Snapshot().Errors)
	})

	t.Run("Should count model failures mid-stream", func(t *testing.T) {
		model := &fakeModel{err: apperror.Upstream("llm.Stream", errors.New("reset"))}
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, model)

		stream, err := o.PrepareStream(ctx, AskRequest{Question: "q"})
		require.NoError(t, err)

		err = stream.Run(ctx, func(string) error { return nil })
		assert.True(t, apperror.Is(err, apperror.KindUpstream))
		assert.Equal(t, int64(1), counters.Snapshot().Errors)
	})
}

func TestOrchestrator_Extract(t *testing.T) {
	ctx := context.Background()
	docs := map[string]string{"msa.pdf": "Agreement between Acme Corp and Globex Inc."}

	t.Run("Should return structured fields", func(t *testing.T) {
		model := &fakeModel{structured: `{"parties":["Acme Corp","Globex Inc"],"governing_law":"Delaware","liability_cap":null}`}
		r := &fakeRetriever{docs: docs}
		o, counters := newOrchestrator(t, r, model)

		got, err := o.Extract(ctx, "msa.pdf")
		require.NoError(t, err)
		assert.Equal(t, []string{"Acme Corp", "Globex Inc"}, got.Parties)
		require.NotNil(t, got.GoverningLaw)
		assert.Equal(t, "Delaware", *got.GoverningLaw)
		assert.Nil(t, got.LiabilityCap)

		assert.Equal(t, []string{extractQuery}, r.queries)
		assert.Equal(t, []int{retrieval.ExtractK}, r.ks)
		assert.Contains(t, model.lastPrompt, "Agreement between Acme Corp and Globex Inc.")
		assert.Equal(t, "record_extraction", model.lastSchema.Name)
		assert.Equal(t, metrics.Snapshot{}, counters.Snapshot())
	})

	t.Run("Should report unknown documents", func(t *testing.T) {
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, &fakeModel{})

		_, err := o.Extract(ctx, "other.pdf")
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
		assert.Equal(t, int64(1), counters.Snapshot().Errors)
	})

	t.Run("Should reject output that breaks the schema", func(t *testing.T) {
		model := &fakeModel{structured: `{"parties":"Acme"}`}
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, model)

		_, err := o.Extract(ctx, "msa.pdf")
		assert.True(t, apperror.Is(err, apperror.KindUpstream))
		assert.Equal(t, int64(1), counters.Snapshot().Errors)
	})

	t.Run("Should require a document id", func(t *testing.T) {
		o, _ := newOrchestrator(t, &fakeRetriever{docs: docs}, &fakeModel{})
		_, err := o.Extract(ctx, "")
		assert.True(t, apperror.Is(err, apperror.KindInvalidInput))
	})
}

func TestOrchestrator_Audit(t *testing.T) {
	ctx := context.Background()
	docs := map[string]string{"msa.pdf": "Supplier liability shall be unlimited."}

	t.Run("Should return findings", func(t *testing.T) {
		findings := models.AuditResult{Risks: []models.AuditFinding{{
			RiskCategory: "Liability",
			Severity:     models.SeverityHigh,
			Evidence:     "Supplier liability shall be unlimited.",
			Explanation:  "No cap on liability.",
		}}}
		raw, _ := json.Marshal(findings)
		r := &fakeRetriever{docs: docs}
		model := &fakeModel{structured: string(raw)}
		o, counters := newOrchestrator(t, r, model)

		got, err := o.Audit(ctx, "msa.pdf")
		require.NoError(t, err)
		assert.Equal(t, findings, *got)
		assert.Equal(t, []string{auditQuery}, r.queries)
		assert.Equal(t, []int{retrieval.AuditK}, r.ks)
		assert.Contains(t, model.lastPrompt, "Auto-renewal")
		assert.Equal(t, metrics.Snapshot{RisksAudited: 1}, counters.Snapshot())
	})

	t.Run("Should return an empty list when nothing is risky", func(t *testing.T) {
		o, _ := newOrchestrator(t, &fakeRetriever{docs: docs}, &fakeModel{structured: `{"risks":[]}`})

		got, err := o.Audit(ctx, "msa.pdf")
		require.NoError(t, err)
		assert.NotNil(t, got.Risks)
		assert.Empty(t, got.Risks)
	})

	t.Run("Should count the attempt and the failure", func(t *testing.T) {
		o, counters := newOrchestrator(t, &fakeRetriever{docs: docs}, &fakeModel{})

		_, err := o.Audit(ctx, "missing.pdf")
		assert.True(t, apperror.Is(err, apperror.KindNotFound))
		assert.Equal(t, metrics.Snapshot{RisksAudited: 1, Errors: 1}, counters.Snapshot())
	})
}
