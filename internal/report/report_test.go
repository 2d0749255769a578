package report

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chartrec/internal/evidence"
)

func sampleArtifact() *Artifact {
	rec := evidence.NewRecord("histology")
	rec.AppendSource(evidence.NewObservation(
		evidence.SourceStructuredField, "extract:42", "adenocarcinoma",
		evidence.MethodRule, evidence.ConfidenceHigh, "8140/3"))

	lat := evidence.NewRecord("laterality")
	lat.AppendSource(evidence.NewObservation(
		evidence.SourceDocumentText, "doc:7", "left",
		evidence.MethodReasoning, evidence.ConfidenceMedium, "left breast mass"))
	lat.AppendSource(evidence.NewObservation(
		evidence.SourceDocumentText, "doc:9", "right",
		evidence.MethodReasoning, evidence.ConfidenceMedium, "right breast"))
	lat.Finalize(evidence.Adjudication{
		FinalValue:           "left",
		Method:               "recency",
		Rationale:            "doc:7 vs doc:9: full tie, most recent wins",
		AdjudicatedBy:        "chartrec",
		AdjudicatedAt:        time.Now(),
		RequiresManualReview: true,
	})

	gap := evidence.NewGap(evidence.GapMissingFact, "er_status", evidence.PriorityHigh)
	gap.Status = evidence.GapManualReview
	gap.RecordAttempt(evidence.AttemptRecord{
		StrategyName: "expand_temporal_window",
		Outcome:      evidence.OutcomeNoEvidence,
		Timestamp:    time.Now(),
	})

	return &Artifact{
		SubjectID:    "subj-001",
		GeneratedAt:  time.Now(),
		Records:      map[string]*evidence.Record{"histology": rec, "laterality": lat},
		Gaps:         []*evidence.Gap{gap},
		ManualReview: []string{"laterality"},
		Elapsed:      1500 * time.Millisecond,
	}
}

func TestManualReviewNeeded(t *testing.T) {
	a := sampleArtifact()
	assert.True(t, a.ManualReviewNeeded())

	a.Gaps = nil
	a.ManualReview = nil
	assert.False(t, a.ManualReviewNeeded())

	a.ManualReview = []string{"laterality"}
	assert.True(t, a.ManualReviewNeeded())
}

func TestWriteJSONRoundTrip(t *testing.T) {
	dir := t.TempDir()
	a := sampleArtifact()

	path, err := a.WriteJSON(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "subj-001_chartrec.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var loaded Artifact
	require.NoError(t, json.Unmarshal(data, &loaded))
	assert.Equal(t, "subj-001", loaded.SubjectID)
	require.Contains(t, loaded.Records, "laterality")
	assert.Equal(t, "left", loaded.Records["laterality"].Value)
	require.Len(t, loaded.Gaps, 1)
	assert.Len(t, loaded.Gaps[0].Attempts, 1)
}

func TestMarkdownListsFactsAndGaps(t *testing.T) {
	md := sampleArtifact().Markdown()

	assert.Contains(t, md, "# Chart Reconstruction: subj-001")
	assert.Contains(t, md, "| histology | adenocarcinoma | 1 | high | rule |")
	assert.Contains(t, md, "| laterality | left | 2 | medium | recency | yes |")
	assert.Contains(t, md, "`er_status` missing_fact")
	assert.Contains(t, md, "expand_temporal_window: no_evidence")
	assert.Contains(t, md, "**Manual review required** for: er_status, laterality")
}

func TestMarkdownUnresolvedFact(t *testing.T) {
	a := &Artifact{
		SubjectID:   "subj-002",
		GeneratedAt: time.Now(),
		Records:     map[string]*evidence.Record{"primary_site": evidence.NewRecord("primary_site")},
	}
	md := a.Markdown()
	assert.Contains(t, md, "*(unresolved)*")
	assert.NotContains(t, md, "## Gaps")
}

func TestMarkdownSurfacesEncoderFallbacks(t *testing.T) {
	a := sampleArtifact()
	a.EncoderFallbacks = 3
	assert.Contains(t, a.Markdown(), "3 checkpoint value(s) degraded")
}

func TestMarkdownViolations(t *testing.T) {
	a := sampleArtifact()
	a.Records["histology"].Adjudication = &evidence.Adjudication{
		FinalValue: "adenocarcinoma",
		Method:     "unanimous",
		Rationale:  "single agreeing source group",
		Violations: []evidence.PlausibilityViolation{{
			RuleID:           "PL-001",
			ConflictingFacts: []string{"histology", "metastatic_status"},
			Explanation:      "in situ disease cannot be metastatic",
		}},
	}
	md := a.Markdown()
	assert.Contains(t, md, "## Plausibility Violations")
	assert.Contains(t, md, "PL-001")
	assert.Contains(t, md, "histology vs metastatic_status")
}

func TestFactTableSorted(t *testing.T) {
	md := sampleArtifact().Markdown()
	hist := strings.Index(md, "| histology |")
	lat := strings.Index(md, "| laterality |")
	require.Greater(t, hist, 0)
	require.Greater(t, lat, 0)
	assert.Less(t, hist, lat)
}
