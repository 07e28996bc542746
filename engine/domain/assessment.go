package domain

import "time"

// Status is the compliance verdict of an assessment.
type Status string

const (
	StatusCompliant      Status = "compliant"
	StatusNonCompliant   Status = "non_compliant"
	StatusPartial        Status = "partial_compliance"
	StatusRequiresReview Status = "requires_review"
)

// ImpactLevel grades a single compliance detail.
type ImpactLevel string

const (
	ImpactHigh   ImpactLevel = "high"
	ImpactMedium ImpactLevel = "medium"
	ImpactLow    ImpactLevel = "low"
)

// ComplianceDetail is one rule-level finding.
type ComplianceDetail struct {
	RuleReference  string      `json:"rule_reference"`
	Description    string      `json:"description"`
	ImpactLevel    ImpactLevel `json:"impact_level"`
	RequiredAction string      `json:"required_action,omitempty"`
	Deadline       string      `json:"deadline,omitempty"`
}

// RelevantDocument cites a retrieved chunk backing the assessment.
type RelevantDocument struct {
	DocumentName   string  `json:"document_name"`
	Section        string  `json:"section"`
	Content        string  `json:"content"`
	RelevanceScore float64 `json:"relevance_score"`
}

// ComplianceAssessment is the structured answer to a compliance concern.
// Degraded is set when the model reply could not be parsed.
type ComplianceAssessment struct {
	Status            Status             `json:"status"`
	ConfidenceScore   float64            `json:"confidence_score"`
	Summary           string             `json:"summary"`
	ImpactedRules     []string           `json:"impacted_rules"`
	Reasoning         string             `json:"reasoning"`
	ComplianceDetails []ComplianceDetail `json:"compliance_details"`
	Recommendations   []string           `json:"recommendations"`
	RelevantDocuments []RelevantDocument `json:"relevant_documents"`
	QueryTimestamp    time.Time          `json:"query_timestamp"`
	ProcessingTimeMS  int64              `json:"processing_time_ms"`
	Degraded          bool               `json:"degraded"`
}
