package metrics

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Run("Should not lose concurrent increments", func(t *testing.T) {
		c := NewCounters()
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				c.IncQuestionsAsked()
				c.IncErrors()
			}()
		}
		wg.Wait()

		snap := c.Snapshot()
		assert.Equal(t, int64(50), snap.QuestionsAsked)
		assert.Equal(t, int64(50), snap.Errors)
		assert.Zero(t, snap.DocumentsIngested)
	})

	t.Run("Should export counters to prometheus", func(t *testing.T) {
		c := NewCounters()
		reg := prometheus.NewRegistry()
		require.NoError(t, c.Register(reg))

		c.IncDocumentsIngested()
		c.IncDocumentsIngested()
		c.IncWebhooksTriggered()
		c.ObserveQuery("ask", 200*time.Millisecond)

		expected := `
# HELP contract_documents_ingested_total Total documents ingested
# TYPE contract_documents_ingested_total counter
contract_documents_ingested_total 2
# HELP contract_webhooks_triggered_total Total webhook notifications accepted
# TYPE contract_webhooks_triggered_total counter
contract_webhooks_triggered_total 1
`
		assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
			"contract_documents_ingested_total", "contract_webhooks_triggered_total"))

		count, err := testutil.GatherAndCount(reg, "contract_query_duration_seconds")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("Should keep instances isolated", func(t *testing.T) {
		a, b := NewCounters(), NewCounters()
		a.IncRisksAudited()
		assert.Equal(t, int64(1), a.Snapshot().RisksAudited)
		assert.Zero(t, b.Snapshot().RisksAudited)
		require.NoError(t, a.Register(prometheus.NewRegistry()))
		require.NoError(t, b.Register(prometheus.NewRegistry()))
	})
}
