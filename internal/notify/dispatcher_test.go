package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contract-intel/backend/pkg/apperror"
)

type callbackRecorder struct {
	mu       sync.Mutex
	received []map[string]any
	status   int
}

func (r *callbackRecorder) handler(w http.ResponseWriter, req *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(req.Body).Decode(&body)

	r.mu.Lock()
	r.received = append(r.received, body)
	status := r.status
	r.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *callbackRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.received)
}

func TestNewTask(t *testing.T) {
	t.Run("Should default the task type", func(t *testing.T) {
		task := NewTask("http://example.com/hook", "")
		assert.Equal(t, DefaultTaskType, task.TaskType)
		assert.NotEmpty(t, task.ID)
		assert.False(t, task.CreatedAt.IsZero())
	})

	t.Run("Should keep an explicit task type and generate distinct ids", func(t *testing.T) {
		a := NewTask("http://example.com/hook", "review")
		b := NewTask("http://example.com/hook", "review")
		assert.Equal(t, "review", a.TaskType)
		assert.NotEqual(t, a.ID, b.ID)
	})
}

func TestDispatcher(t *testing.T) {
	t.Run("Should return before delivering and post the completion payload", func(t *testing.T) {
		rec := &callbackRecorder{}
		srv := httptest.NewServer(http.HandlerFunc(rec.handler))
		defer srv.Close()

		d := NewDispatcher(Settings{Delay: 50 * time.Millisecond, Timeout: time.Second})

		start := time.Now()
		require.NoError(t, d.Submit(NewTask(srv.URL, "audit_simulation")))
		assert.Less(t, time.Since(start), 50*time.Millisecond)
		assert.Equal(t, 0, rec.count())

		require.NoError(t, d.Shutdown(context.Background()))
		require.Equal(t, 1, rec.count())

		assert.Equal(t, map[string]any{
			"status": "completed",
			"event":  "analysis_finished",
			"data": map[string]any{
				"task":    "audit_simulation",
				"details": "Analysis complete",
			},
		}, rec.received[0])
	})

	t.Run("Should swallow callback failures", func(t *testing.T) {
		rec := &callbackRecorder{status: http.StatusInternalServerError}
		srv := httptest.NewServer(http.HandlerFunc(rec.handler))
		defer srv.Close()

		d := NewDispatcher(Settings{Delay: time.Millisecond, Timeout: time.Second})
		require.NoError(t, d.Submit(NewTask(srv.URL, "")))
		require.NoError(t, d.Submit(NewTask("http://127.0.0.1:1/unreachable", "")))

		require.NoError(t, d.Shutdown(context.Background()))
		assert.Equal(t, 1, rec.count())
	})

	t.Run("Should reject tasks after shutdown", func(t *testing.T) {
		d := NewDispatcher(DefaultSettings())
		require.NoError(t, d.Shutdown(context.Background()))

		err := d.Submit(NewTask("http://example.com/hook", ""))
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("Should reject a missing callback url", func(t *testing.T) {
		d := NewDispatcher(DefaultSettings())
		defer d.Shutdown(context.Background())

		err := d.Submit(NewTask(" ", ""))
		assert.Equal(t, apperror.KindInvalidInput, apperror.KindOf(err))
	})

	t.Run("Should cancel pending deliveries when the drain deadline passes", func(t *testing.T) {
		rec := &callbackRecorder{}
		srv := httptest.NewServer(http.HandlerFunc(rec.handler))
		defer srv.Close()

		d := NewDispatcher(Settings{Delay: time.Hour, Timeout: time.Second})
		require.NoError(t, d.Submit(NewTask(srv.URL, "")))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		err := d.Shutdown(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 0, rec.count())
	})
}
