package conversation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractMetricsBasic(t *testing.T) {
	text := "Confidence: 87\nClassification: 1\nReason: looks legit"
	got := ExtractMetrics(text, []string{FieldClassification, FieldConfidence, FieldReason})

	assert.Equal(t, 1, got[FieldClassification])
	assert.Equal(t, 87.0, got[FieldConfidence])
	assert.Equal(t, "looks legit", got[FieldReason])
	assert.Equal(t, text, got[FieldFullResponse])
}

func TestExtractMetricsDefaults(t *testing.T) {
	got := ExtractMetrics("nothing useful here", []string{FieldClassification, FieldBias, FieldReason})

	assert.Equal(t, 0, got[FieldClassification])
	assert.Equal(t, 0.0, got[FieldBias])
	assert.Equal(t, NotFound, got[FieldReason])
}

func TestExtractMetricsCoercion(t *testing.T) {
	text := "MANIPULATIVE FRAMING: about 42.5 out of 100\n" +
		"agreement score:   high\n" +
		"Classification: 1 (real)\n" +
		"Influence Score: 7\n"
	got := ExtractMetrics(text, []string{
		FieldManipulativeFraming, FieldAgreementScore, FieldClassification, FieldInfluenceScore,
	})

	assert.Equal(t, 42.5, got[FieldManipulativeFraming])
	assert.Equal(t, 0.0, got[FieldAgreementScore], "no number in captured value")
	assert.Equal(t, 0, got[FieldClassification], "classification must be all digits")
	assert.Equal(t, 7.0, got[FieldInfluenceScore])
}

func TestExtractMetricsFirstMatchWins(t *testing.T) {
	got := ExtractMetrics("Confidence: 10\nConfidence: 90", []string{FieldConfidence})
	assert.Equal(t, 10.0, got[FieldConfidence])
}

func TestTitleCase(t *testing.T) {
	assert.Equal(t, "Manipulative Framing", titleCase("manipulative_framing"))
	assert.Equal(t, "Reason", titleCase("reason"))
	assert.Equal(t, "Overall Opinion", titleCase("overall_opinion"))
}

func TestParseReplyFailureUsesDefaults(t *testing.T) {
	r := Failed(errors.New("Confidence: 99 timeout"))
	got := ParseReply(r, []string{FieldConfidence, FieldReason})

	assert.Equal(t, 0.0, got[FieldConfidence])
	assert.Equal(t, NotFound, got[FieldReason])
	assert.Equal(t, "ERROR: API call failed - Confidence: 99 timeout", got[FieldFullResponse])
}

func TestFieldsFor(t *testing.T) {
	assert.Equal(t, FinalFields, FieldsFor(true, false))
	assert.Equal(t, AdversarialFinalFields, FieldsFor(true, true))
	assert.Equal(t, InterimFields, FieldsFor(false, false))
	assert.Equal(t, AdversarialInterimFields, FieldsFor(false, true))
	assert.Len(t, AdversarialFinalFields, len(FinalFields)+4)
	assert.NotContains(t, InterimFields, FieldClassification)
}
