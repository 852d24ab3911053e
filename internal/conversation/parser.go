package conversation

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Metric field names
const (
	FieldBias                = "bias"
	FieldManipulativeFraming = "manipulative_framing"
	FieldReason              = "reason"
	FieldConfidence          = "confidence"
	FieldClassification      = "classification"
	FieldReliability         = "reliability"
	FieldAgreementScore      = "agreement_score"
	FieldRelevant            = "relevant"
	FieldInformative         = "informative"
	FieldInfluenceScore      = "influence_score"
	FieldOverallOpinion      = "overall_opinion"
	FieldFullResponse        = "full_response"
)

// NotFound is stored for text fields absent from a response.
const NotFound = "Not found in response"

// Field schemas per turn kind
var (
	SingleFields = []string{
		FieldBias, FieldManipulativeFraming, FieldReason,
		FieldConfidence, FieldClassification, FieldReliability,
	}
	FinalFields = []string{
		FieldBias, FieldManipulativeFraming, FieldAgreementScore, FieldReason,
		FieldConfidence, FieldClassification, FieldReliability,
	}
	AdversarialFinalFields = append(append([]string{}, FinalFields...),
		FieldRelevant, FieldInformative, FieldInfluenceScore, FieldOverallOpinion,
	)
	InterimFields = []string{
		FieldReason, FieldConfidence, FieldAgreementScore,
	}
	AdversarialInterimFields = []string{
		FieldReason, FieldConfidence, FieldAgreementScore,
		FieldRelevant, FieldInformative, FieldInfluenceScore, FieldOverallOpinion,
	}
)

// scoredFields hold 0-100 values and are coerced to float64.
var scoredFields = map[string]bool{
	FieldBias:                true,
	FieldManipulativeFraming: true,
	FieldConfidence:          true,
	FieldReliability:         true,
	FieldAgreementScore:      true,
	FieldRelevant:            true,
	FieldInformative:         true,
	FieldInfluenceScore:      true,
	FieldOverallOpinion:      true,
}

var (
	numericPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)`)
	fieldPatterns  sync.Map // field name -> *regexp.Regexp
)

// FieldsFor returns the schema for a turn.
func FieldsFor(final, adversarial bool) []string {
	switch {
	case final && adversarial:
		return AdversarialFinalFields
	case final:
		return FinalFields
	case adversarial:
		return AdversarialInterimFields
	default:
		return InterimFields
	}
}

// ExtractMetrics pulls "<Field Name>: value" lines out of a model response.
// The raw text is always kept under full_response.
func ExtractMetrics(text string, fields []string) map[string]interface{} {
	metrics := make(map[string]interface{}, len(fields)+1)

	for _, field := range fields {
		m := fieldPattern(field).FindStringSubmatch(text)
		if m == nil {
			metrics[field] = defaultValue(field)
			continue
		}
		metrics[field] = coerce(field, strings.TrimSpace(m[1]))
	}

	metrics[FieldFullResponse] = text
	return metrics
}

// DefaultMetrics returns the all-defaults metric map for a response that
// carries no usable content.
func DefaultMetrics(text string, fields []string) map[string]interface{} {
	metrics := make(map[string]interface{}, len(fields)+1)
	for _, field := range fields {
		metrics[field] = defaultValue(field)
	}
	metrics[FieldFullResponse] = text
	return metrics
}

// ParseReply turns a backend reply into metrics. Failed replies never go
// through pattern matching.
func ParseReply(r Reply, fields []string) map[string]interface{} {
	if !r.OK() {
		return DefaultMetrics(r.Text(), fields)
	}
	return ExtractMetrics(r.Text(), fields)
}

func coerce(field, value string) interface{} {
	switch {
	case field == FieldClassification:
		if isDigits(value) {
			if n, err := strconv.Atoi(value); err == nil {
				return n
			}
		}
		return 0
	case scoredFields[field]:
		num := numericPattern.FindString(value)
		if num == "" {
			return 0.0
		}
		f, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return value
	}
}

func defaultValue(field string) interface{} {
	switch {
	case field == FieldClassification:
		return 0
	case scoredFields[field]:
		return 0.0
	default:
		return NotFound
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// titleCase turns manipulative_framing into "Manipulative Framing".
func titleCase(field string) string {
	words := strings.Split(field, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

func fieldPattern(field string) *regexp.Regexp {
	if re, ok := fieldPatterns.Load(field); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(titleCase(field)) + `:\s*([^\n]+)`)
	fieldPatterns.Store(field, re)
	return re
}
