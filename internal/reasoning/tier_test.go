package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartrec/internal/evidence"
	"chartrec/internal/source"
)

func docCandidate(id, text string) source.RawCandidate {
	return source.RawCandidate{
		Kind:     source.KindDocument,
		ID:       id,
		Text:     text,
		Metadata: map[string]string{"category": "pathology"},
	}
}

func extractionRequest(docs ...source.RawCandidate) Request {
	return Request{
		TargetFactID: "histology",
		Schema:       ExtractionSchema("histology", nil),
		Documents:    docs,
	}
}

func TestExtractValidFirstResponse(t *testing.T) {
	oracle := &mockOracle{responses: []string{
		`{"value": "adenocarcinoma", "confidence": "high", "excerpt": "final diagnosis: adenocarcinoma"}`,
	}}
	tier := NewTier(oracle)

	obs, err := tier.Extract(context.Background(), extractionRequest(docCandidate("doc-1", "final diagnosis: adenocarcinoma")))
	require.NoError(t, err)
	require.Len(t, obs, 1)

	assert.Equal(t, "adenocarcinoma", obs[0].ExtractedValue)
	assert.Equal(t, evidence.ConfidenceHigh, obs[0].Confidence)
	assert.Equal(t, evidence.MethodReasoning, obs[0].Method)
	assert.Equal(t, evidence.SourceDocumentText, obs[0].SourceType)
	assert.Equal(t, "doc-1", obs[0].SourceID)
	assert.Equal(t, 1, oracle.callCount())
}

func TestCorrectiveRetryOnSchemaFailure(t *testing.T) {
	oracle := &mockOracle{responses: []string{
		`I think it is adenocarcinoma.`, // No JSON at all
		`{"value": "adenocarcinoma", "confidence": "medium"}`,
	}}
	tier := NewTier(oracle)

	obs, err := tier.Extract(context.Background(), extractionRequest(docCandidate("doc-1", "text")))
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 2, oracle.callCount())

	// The corrective prompt must name the violation and echo the bad response.
	second := oracle.prompts[1]
	assert.Contains(t, second, "rejected")
	assert.Contains(t, second, "adenocarcinoma")
}

func TestAttemptCeilingSkipsSource(t *testing.T) {
	oracle := &mockOracle{responses: []string{`not json, ever`}}
	tier := NewTier(oracle)
	tier.SetAttemptCeiling(2)

	obs, err := tier.Extract(context.Background(), extractionRequest(docCandidate("doc-1", "text")))
	require.NoError(t, err, "a source that never validates is skipped, not fatal")
	assert.Empty(t, obs)
	assert.Equal(t, 2, oracle.callCount())
}

func TestInsufficientConfidenceDropped(t *testing.T) {
	oracle := &mockOracle{responses: []string{
		`{"value": "unknown", "confidence": "insufficient"}`,
	}}
	tier := NewTier(oracle)

	obs, err := tier.Extract(context.Background(), extractionRequest(docCandidate("doc-1", "text")))
	require.NoError(t, err)
	assert.Empty(t, obs, "insufficient evidence must not become an observation")
}

func TestOracleErrorSkipsSourceNotRun(t *testing.T) {
	oracle := &mockOracle{err: errors.New("upstream 500")}
	tier := NewTier(oracle)

	obs, err := tier.Extract(context.Background(), extractionRequest(
		docCandidate("doc-1", "text"),
	))
	require.NoError(t, err, "oracle unavailability is tier-local")
	assert.Empty(t, obs)
	assert.Equal(t, 1, oracle.callCount(), "no corrective retry for transport errors")
}

func TestCancellationPropagates(t *testing.T) {
	oracle := &mockOracle{responses: []string{`{"value": "x", "confidence": "low"}`}}
	tier := NewTier(oracle)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tier.Extract(ctx, extractionRequest(docCandidate("doc-1", "text")))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPromptCarriesKnownFactsAndDocument(t *testing.T) {
	oracle := &mockOracle{responses: []string{`{"value": "left", "confidence": "medium"}`}}
	tier := NewTier(oracle)

	req := extractionRequest(docCandidate("doc-1", "mass in the left breast"))
	req.TargetFactID = "laterality"
	req.KnownFacts = map[string]string{"primary_site": "breast", "histology": "lobular carcinoma"}

	_, err := tier.Extract(context.Background(), req)
	require.NoError(t, err)

	prompt := oracle.prompts[0]
	assert.Contains(t, prompt, "laterality")
	assert.Contains(t, prompt, "primary_site: breast")
	assert.Contains(t, prompt, "mass in the left breast")
	// Known facts render in sorted order for prompt stability.
	assert.Less(t, strings.Index(prompt, "histology:"), strings.Index(prompt, "primary_site:"))
}

func TestDocumentTextBounded(t *testing.T) {
	oracle := &mockOracle{responses: []string{`{"value": "x", "confidence": "low"}`}}
	tier := NewTier(oracle)

	huge := strings.Repeat("a", maxDocumentChars*2)
	_, err := tier.Extract(context.Background(), extractionRequest(docCandidate("doc-1", huge)))
	require.NoError(t, err)
	assert.Less(t, len(oracle.prompts[0]), maxDocumentChars+2000)
}

func TestExtractBatchKeysResultsByFact(t *testing.T) {
	oracle := &mockOracle{responses: []string{`{"value": "v", "confidence": "medium"}`}}
	tier := NewTier(oracle)

	reqA := extractionRequest(docCandidate("doc-1", "text"))
	reqA.TargetFactID = "histology"
	reqB := extractionRequest(docCandidate("doc-2", "text"))
	reqB.TargetFactID = "laterality"

	results, err := tier.ExtractBatch(context.Background(), []Request{reqA, reqB})
	require.NoError(t, err)
	assert.Len(t, results["histology"], 1)
	assert.Len(t, results["laterality"], 1)
}
