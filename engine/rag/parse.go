package rag

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// Defaults for fields the model leaves out.
const (
	DefaultConfidence  = 0.5
	defaultSummary     = "Compliance analysis completed"
	defaultReasoning   = "No specific reasoning provided"
	defaultRule        = "Unknown"
	defaultDescription = "No description provided"
	degradedSummary    = "Structured compliance analysis could not be produced; the raw model response is included in the reasoning for manual review."
)

var (
	errNoJSON       = errors.New("no JSON object in response")
	errNoKnownField = errors.New("JSON object has none of the assessment fields")
)

// reply is the JSON schema requested from the model. Pointer fields tell a
// missing value from an empty one.
type reply struct {
	Status            *string       `json:"status"`
	ConfidenceScore   *flexFloat    `json:"confidence_score"`
	Summary           *string       `json:"summary"`
	ImpactedRules     []string      `json:"impacted_rules"`
	Reasoning         *string       `json:"reasoning"`
	ComplianceDetails []replyDetail `json:"compliance_details"`
	Recommendations   []string      `json:"recommendations"`
}

type replyDetail struct {
	RuleReference  string `json:"rule_reference"`
	Description    string `json:"description"`
	ImpactLevel    string `json:"impact_level"`
	RequiredAction string `json:"required_action"`
	Deadline       string `json:"deadline"`
}

var knownFields = []string{
	"status", "confidence_score", "summary", "impacted_rules",
	"reasoning", "compliance_details", "recommendations",
}

// flexFloat accepts a JSON number or a numeric string. Anything else
// decodes as invalid and falls back to the default.
type flexFloat struct {
	v     float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexFloat{v: n, valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = flexFloat{v: n, valid: true}
			return nil
		}
	}
	*f = flexFloat{}
	return nil
}

// extractJSON returns the text between the first '{' and the last '}'.
func extractJSON(raw string) (string, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return "", errNoJSON
	}
	return raw[start : end+1], nil
}

// Parse decodes a model reply into the assessment fields it carries, with
// defaults for anything missing. It fails when the reply holds no JSON
// object or one without any assessment field.
func Parse(raw string) (domain.ComplianceAssessment, error) {
	var a domain.ComplianceAssessment
	body, err := extractJSON(raw)
	if err != nil {
		return a, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return a, fmt.Errorf("decode reply: %w", err)
	}
	found := false
	for _, k := range knownFields {
		if _, ok := fields[k]; ok {
			found = true
			break
		}
	}
	if !found {
		return a, errNoKnownField
	}
	var r reply
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return a, fmt.Errorf("decode reply: %w", err)
	}

	a.Status = domain.StatusRequiresReview
	if r.Status != nil {
		a.Status = NormalizeStatus(*r.Status)
	}
	a.ConfidenceScore = DefaultConfidence
	if r.ConfidenceScore != nil && r.ConfidenceScore.valid {
		a.ConfidenceScore = clamp01(r.ConfidenceScore.v)
	}
	a.Summary = orDefault(r.Summary, defaultSummary)
	a.Reasoning = orDefault(r.Reasoning, defaultReasoning)
	a.ImpactedRules = nonNil(r.ImpactedRules)
	a.Recommendations = nonNil(r.Recommendations)
	a.ComplianceDetails = make([]domain.ComplianceDetail, 0, len(r.ComplianceDetails))
	for _, d := range r.ComplianceDetails {
		a.ComplianceDetails = append(a.ComplianceDetails, domain.ComplianceDetail{
			RuleReference:  nonBlank(d.RuleReference, defaultRule),
			Description:    nonBlank(d.Description, defaultDescription),
			ImpactLevel:    NormalizeImpact(d.ImpactLevel),
			RequiredAction: strings.TrimSpace(d.RequiredAction),
			Deadline:       strings.TrimSpace(d.Deadline),
		})
	}
	return a, nil
}

// NormalizeStatus maps common spellings onto the status enum. Unknown
// values become requires_review.
func NormalizeStatus(s string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compliant":
		return domain.StatusCompliant
	case "non_compliant", "non-compliant", "noncompliant", "non compliant":
		return domain.StatusNonCompliant
	case "partial_compliance", "partial", "partially_compliant", "partially compliant":
		return domain.StatusPartial
	default:
		return domain.StatusRequiresReview
	}
}

// NormalizeImpact maps an impact string onto high, medium or low,
// defaulting to medium.
func NormalizeImpact(s string) domain.ImpactLevel {
	switch domain.ImpactLevel(strings.ToLower(strings.TrimSpace(s))) {
	case domain.ImpactHigh:
		return domain.ImpactHigh
	case domain.ImpactLow:
		return domain.ImpactLow
	default:
		return domain.ImpactMedium
	}
}

func clamp01(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func orDefault(p *string, def string) string {
	if p == nil {
		return def
	}
	return nonBlank(*p, def)
}

func nonBlank(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
