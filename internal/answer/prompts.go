package answer

import (
	"fmt"

	"github.com/contract-intel/backend/internal/llm"
)

const (
	extractQuery = "Extract contract parties, dates, liability, and terms."
	auditQuery   = "termination indemnity liability auto-renewal"
)

const extractTemplate = `You are an expert legal contract analyst.
Extract the following fields from the contract text below: parties, effective date, term,
governing law, payment terms, termination clause and liability cap.
Respond only with JSON that matches the record_extraction schema. Use null for any field
the text does not state.

Context:
%s`

const auditTemplate = `You are a senior legal risk auditor. Review the clauses below for risk factors.

Risks to flag:
1. Auto-renewal: any auto-renewal with less than 30 days notice.
2. Liability: unlimited liability or caps exceeding 5x the contract value.
3. Indemnity: broad or one-sided indemnification clauses.
4. Termination: termination for convenience without notice.

Contract text:
%s

Report every risk found as an object with:
- "risk_category": string
- "severity": "HIGH" or "MEDIUM"
- "evidence": an exact quote from the text
- "explanation": why the clause is risky
Return an empty "risks" list when none apply.`

func qaMessages(context, question string) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleSystem, Content: "Answer based on this context:\n" + context},
		{Role: llm.RoleUser, Content: question},
	}
}

func extractPrompt(context string) string {
	return fmt.Sprintf(extractTemplate, context)
}

func auditPrompt(context string) string {
	return fmt.Sprintf(auditTemplate, context)
}
