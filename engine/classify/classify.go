// Package classify labels chunks with a content type using an ordered
// keyword table. The first rule with a matching keyword wins.
package classify

import (
	"strings"

	"github.com/WessleyAI/regcheck/engine/domain"
)

// Rule maps a set of lowercase keywords to a chunk type.
type Rule struct {
	Type     domain.ChunkType
	Keywords []string
}

// DefaultRules is evaluated top to bottom.
var DefaultRules = []Rule{
	{Type: domain.ChunkRegulatoryRule, Keywords: []string{"section", "article", "rule", "regulation"}},
	{Type: domain.ChunkProcedure, Keywords: []string{"procedure", "process", "step", "method"}},
	{Type: domain.ChunkRequirement, Keywords: []string{"requirement", "must", "shall", "mandatory"}},
	{Type: domain.ChunkDefinition, Keywords: []string{"definition", "means", "defined as"}},
	{Type: domain.ChunkExample, Keywords: []string{"example", "instance", "case study"}},
	{Type: domain.ChunkSchedule, Keywords: []string{"schedule", "timeline", "deadline", "date"}},
}

// Classifier is a pure function of its rule table.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier over rules, or DefaultRules when rules is empty.
func New(rules []Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	cp := make([]Rule, len(rules))
	for i, r := range rules {
		kw := make([]string, len(r.Keywords))
		for j, k := range r.Keywords {
			kw[j] = strings.ToLower(k)
		}
		cp[i] = Rule{Type: r.Type, Keywords: kw}
	}
	return &Classifier{rules: cp}
}

// Classify returns exactly one chunk type for text.
func (c *Classifier) Classify(text string) domain.ChunkType {
	lower := strings.ToLower(text)
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(lower, kw) {
				return r.Type
			}
		}
	}
	return domain.ChunkGeneral
}

// Classify labels text with DefaultRules.
func Classify(text string) domain.ChunkType {
	return defaultClassifier.Classify(text)
}

var defaultClassifier = New(nil)
