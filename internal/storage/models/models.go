package models

import (
	"time"

	"github.com/invopop/jsonschema"
)

const (
	MetadataSource     = "source"
	MetadataChunkIndex = "chunk_index"
	MetadataStartIndex = "start_index"

	UnknownSource = "unknown"
)

type Chunk struct {
	ID       string
	Text     string
	Index    int
	Start    int
	Metadata map[string]string
}

func (c Chunk) Source() string {
	if src := c.Metadata[MetadataSource]; src != "" {
		return src
	}
	return UnknownSource
}

type ScoredChunk struct {
	Chunk
	Score float32
}

type ExtractionResult struct {
	Parties           []string `json:"parties" jsonschema:"description=Names of the contracting parties"`
	EffectiveDate     *string  `json:"effective_date" jsonschema:"description=Date the agreement takes effect"`
	Term              *string  `json:"term" jsonschema:"description=Duration of the agreement"`
	GoverningLaw      *string  `json:"governing_law" jsonschema:"description=Jurisdiction whose law governs the contract"`
	PaymentTerms      *string  `json:"payment_terms" jsonschema:"description=Amounts and schedule of payment"`
	TerminationClause *string  `json:"termination_clause" jsonschema:"description=Conditions under which the agreement ends"`
	LiabilityCap      *string  `json:"liability_cap" jsonschema:"description=Limit on either party's liability"`
}

// JSONSchemaExtend lets every scalar field be null when the contract does not state it.
func (ExtractionResult) JSONSchemaExtend(s *jsonschema.Schema) {
	for _, name := range []string{"effective_date", "term", "governing_law", "payment_terms", "termination_clause", "liability_cap"} {
		prop, ok := s.Properties.Get(name)
		if !ok {
			continue
		}
		nullable := &jsonschema.Schema{
			Description: prop.Description,
			AnyOf: []*jsonschema.Schema{
				{Type: "string"},
				{Type: "null"},
			},
		}
		s.Properties.Set(name, nullable)
	}
	s.Required = []string{"parties"}
}

const (
	SeverityHigh   = "HIGH"
	SeverityMedium = "MEDIUM"
)

type AuditFinding struct {
	RiskCategory string `json:"risk_category" jsonschema:"description=Type of risk such as Liability or Termination"`
	Severity     string `json:"severity" jsonschema:"enum=HIGH,enum=MEDIUM"`
	Evidence     string `json:"evidence" jsonschema:"description=Exact quote from the contract"`
	Explanation  string `json:"explanation" jsonschema:"description=Why this clause is risky"`
}

type AuditResult struct {
	Risks []AuditFinding `json:"risks"`
}

type NotificationTask struct {
	ID          string
	CallbackURL string
	TaskType    string
	CreatedAt   time.Time
}

type QueryRecord struct {
	ID         string    `json:"id"`
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Citations  []string  `json:"citations"`
	DocumentID string    `json:"document_id,omitempty"`
	Mode       string    `json:"mode"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
