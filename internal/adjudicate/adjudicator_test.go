package adjudicate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartrec/internal/evidence"
)

func observation(value string, st evidence.SourceType, conf evidence.Confidence, extractedAt time.Time) evidence.SourceObservation {
	obs := evidence.NewObservation(st, "src", value, evidence.MethodRule, conf, "")
	obs.ExtractedAt = extractedAt
	return obs
}

func TestUnanimousSources(t *testing.T) {
	now := time.Now()
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("adenocarcinoma", evidence.SourceStructuredField, evidence.ConfidenceHigh, now),
		observation("Adenocarcinoma", evidence.SourceDocumentText, evidence.ConfidenceMedium, now),
	})
	require.NoError(t, err)

	assert.Equal(t, "adenocarcinoma", adj.FinalValue)
	assert.Equal(t, MethodUnanimous, adj.Method)
	assert.False(t, adj.RequiresManualReview)
	assert.NotEmpty(t, adj.Rationale)
	assert.Equal(t, AdjudicatedBy, adj.AdjudicatedBy)
}

func TestStructuredOutranksDocument(t *testing.T) {
	now := time.Now()
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("left", evidence.SourceStructuredField, evidence.ConfidenceHigh, now),
		observation("right", evidence.SourceDocumentText, evidence.ConfidenceHigh, now),
	})
	require.NoError(t, err)

	assert.Equal(t, "left", adj.FinalValue)
	assert.Equal(t, MethodPriority, adj.Method)
	assert.False(t, adj.RequiresManualReview)
	// The rationale must name both sides of the disagreement.
	assert.Contains(t, adj.Rationale, "structured_field")
	assert.Contains(t, adj.Rationale, "document_text")
}

func TestConfidenceBreaksPriorityTie(t *testing.T) {
	now := time.Now()
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("positive", evidence.SourceDocumentText, evidence.ConfidenceHigh, now),
		observation("negative", evidence.SourceDocumentText, evidence.ConfidenceLow, now),
	})
	require.NoError(t, err)

	assert.Equal(t, "positive", adj.FinalValue)
	// Winner is high confidence, so no review flag despite the disagreement.
	assert.False(t, adj.RequiresManualReview)
}

func TestFullTieFallsToRecencyAndFlagsReview(t *testing.T) {
	older := time.Now().Add(-time.Hour)
	newer := time.Now()
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("left", evidence.SourceDocumentText, evidence.ConfidenceMedium, older),
		observation("right", evidence.SourceDocumentText, evidence.ConfidenceMedium, newer),
	})
	require.NoError(t, err)

	assert.Equal(t, "right", adj.FinalValue, "most recent extraction wins a full tie")
	assert.Equal(t, MethodRecency, adj.Method)
	assert.True(t, adj.RequiresManualReview, "a recency call always gets human confirmation")
}

func TestLowConfidenceWinnerFlagsReview(t *testing.T) {
	now := time.Now()
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("left", evidence.SourceStructuredField, evidence.ConfidenceLow, now),
		observation("right", evidence.SourceDocumentText, evidence.ConfidenceHigh, now),
	})
	require.NoError(t, err)

	assert.Equal(t, "left", adj.FinalValue, "priority still decides")
	assert.True(t, adj.RequiresManualReview, "a winner below medium confidence needs review")
}

func TestInferredRanksLast(t *testing.T) {
	now := time.Now()
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("negative", evidence.SourceInferred, evidence.ConfidenceHigh, now),
		observation("positive", evidence.SourceDocumentText, evidence.ConfidenceMedium, now),
	})
	require.NoError(t, err)
	assert.Equal(t, "positive", adj.FinalValue)
}

func TestSingleSourceIsUnanimous(t *testing.T) {
	adj, err := New().Adjudicate([]evidence.SourceObservation{
		observation("adenocarcinoma", evidence.SourceDocumentText, evidence.ConfidenceMedium, time.Now()),
	})
	require.NoError(t, err)
	assert.Equal(t, MethodUnanimous, adj.Method)
	assert.Equal(t, "adenocarcinoma", adj.FinalValue)
}

func TestZeroSourcesIsAnError(t *testing.T) {
	_, err := New().Adjudicate(nil)
	assert.Error(t, err)
}
