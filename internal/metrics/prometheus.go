package metrics

import (
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Snapshot struct {
	DocumentsIngested int64 `json:"documents_ingested"`
	QuestionsAsked    int64 `json:"questions_asked"`
	RisksAudited      int64 `json:"risks_audited"`
	WebhooksTriggered int64 `json:"webhooks_triggered"`
	Errors            int64 `json:"errors"`
}

// Counters holds the process counters. One instance is created at start-up
// and passed to every component that reports.
type Counters struct {
	documentsIngested atomic.Int64
	questionsAsked    atomic.Int64
	risksAudited      atomic.Int64
	webhooksTriggered atomic.Int64
	errors            atomic.Int64

	queryDuration *prometheus.HistogramVec
	chunksIndexed prometheus.Counter
}

func NewCounters() *Counters {
	return &Counters{
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "contract_query_duration_seconds",
				Help:    "Query processing duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		),
		chunksIndexed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "contract_chunks_indexed_total",
				Help: "Total chunks written to the vector index",
			},
		),
	}
}

func (c *Counters) IncDocumentsIngested() { c.documentsIngested.Add(1) }
func (c *Counters) IncQuestionsAsked()    { c.questionsAsked.Add(1) }
func (c *Counters) IncRisksAudited()      { c.risksAudited.Add(1) }
func (c *Counters) IncWebhooksTriggered() { c.webhooksTriggered.Add(1) }
func (c *Counters) IncErrors()            { c.errors.Add(1) }

func (c *Counters) AddChunksIndexed(n int) {
	c.chunksIndexed.Add(float64(n))
}

func (c *Counters) ObserveQuery(mode string, d time.Duration) {
	c.queryDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// Snapshot reads each counter independently; values are not taken atomically
// as a group.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		DocumentsIngested: c.documentsIngested.Load(),
		QuestionsAsked:    c.questionsAsked.Load(),
		RisksAudited:      c.risksAudited.Load(),
		WebhooksTriggered: c.webhooksTriggered.Load(),
		Errors:            c.errors.Load(),
	}
}

func (c *Counters) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		counterFunc("contract_documents_ingested_total", "Total documents ingested", &c.documentsIngested),
		counterFunc("contract_questions_asked_total", "Total questions asked", &c.questionsAsked),
		counterFunc("contract_risks_audited_total", "Total audit requests", &c.risksAudited),
		counterFunc("contract_webhooks_triggered_total", "Total webhook notifications accepted", &c.webhooksTriggered),
		counterFunc("contract_errors_total", "Total failed operations", &c.errors),
		c.queryDuration,
		c.chunksIndexed,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func counterFunc(name, help string, v *atomic.Int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	)
}

func MetricsHandler(gatherer prometheus.Gatherer) fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
