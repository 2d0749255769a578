// Package report renders the pipeline's output: a machine-readable JSON
// artifact with the full audit trail, and a markdown summary for operators.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"chartrec/internal/evidence"
	"chartrec/internal/logging"
)

// Artifact is the complete output for one subject.
type Artifact struct {
	SubjectID        string                      `json:"subject_id"`
	GeneratedAt      time.Time                   `json:"generated_at"`
	Records          map[string]*evidence.Record `json:"records"`
	Gaps             []*evidence.Gap             `json:"gaps"`
	ManualReview     []string                    `json:"manual_review_facts,omitempty"`
	EncoderFallbacks int64                       `json:"encoder_fallbacks,omitempty"`
	Elapsed          time.Duration               `json:"elapsed_ns"`
}

// ManualReviewNeeded reports whether any fact or gap ended flagged for a
// human, which drives the process exit code.
func (a *Artifact) ManualReviewNeeded() bool {
	if len(a.ManualReview) > 0 {
		return true
	}
	for _, g := range a.Gaps {
		if g.Status == evidence.GapManualReview {
			return true
		}
	}
	return false
}

// WriteJSON writes the artifact to <dir>/<subject>_chartrec.json.
func (a *Artifact) WriteJSON(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}
	path := filepath.Join(dir, a.SubjectID+"_chartrec.json")
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	logging.Get(logging.CategoryReport).Info("wrote artifact %s (%d bytes)", path, len(data))
	return path, nil
}

// Markdown renders the operator summary.
func (a *Artifact) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Chart Reconstruction: %s\n\n", a.SubjectID)
	fmt.Fprintf(&b, "Generated %s in %s.\n\n", a.GeneratedAt.Format(time.RFC3339), a.Elapsed.Round(time.Millisecond))

	fmt.Fprintf(&b, "## Facts\n\n")
	fmt.Fprintf(&b, "| Fact | Value | Sources | Confidence | Method | Review |\n")
	fmt.Fprintf(&b, "|------|-------|---------|------------|--------|--------|\n")
	for _, factID := range a.sortedFactIDs() {
		r := a.Records[factID]
		value := r.Value
		if value == "" {
			value = "*(unresolved)*"
		}
		method, review := "-", ""
		if r.Adjudication != nil {
			method = r.Adjudication.Method
			if r.Adjudication.RequiresManualReview {
				review = "yes"
			}
		} else if len(r.Sources) == 1 {
			method = string(r.Sources[0].Method)
		}
		fmt.Fprintf(&b, "| %s | %s | %d | %s | %s | %s |\n",
			factID, value, len(r.Sources), r.BestConfidence(), method, review)
	}

	if violations := a.collectViolations(); len(violations) > 0 {
		fmt.Fprintf(&b, "\n## Plausibility Violations\n\n")
		for _, v := range violations {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", v.RuleID, strings.Join(v.ConflictingFacts, " vs "), v.Explanation)
		}
	}

	if len(a.Gaps) > 0 {
		fmt.Fprintf(&b, "\n## Gaps\n\n")
		for _, g := range a.Gaps {
			fmt.Fprintf(&b, "- `%s` %s (%s, %s): **%s**, %d attempt(s)\n",
				g.TargetFactID, g.Type, g.Priority, shortID(g.ID), g.Status, len(g.Attempts))
			for _, att := range g.Attempts {
				fmt.Fprintf(&b, "  - %s: %s\n", att.StrategyName, att.Outcome)
			}
		}
	}

	if a.EncoderFallbacks > 0 {
		fmt.Fprintf(&b, "\n> %d checkpoint value(s) degraded to string form; see checkpoint logs.\n", a.EncoderFallbacks)
	}
	if a.ManualReviewNeeded() {
		fmt.Fprintf(&b, "\n**Manual review required** for: %s\n", strings.Join(a.reviewSubjects(), ", "))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func (a *Artifact) sortedFactIDs() []string {
	ids := make([]string, 0, len(a.Records))
	for id := range a.Records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (a *Artifact) collectViolations() []evidence.PlausibilityViolation {
	var out []evidence.PlausibilityViolation
	for _, id := range a.sortedFactIDs() {
		if adj := a.Records[id].Adjudication; adj != nil {
			out = append(out, adj.Violations...)
		}
	}
	return out
}

func (a *Artifact) reviewSubjects() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(s string) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, f := range a.ManualReview {
		add(f)
	}
	for _, g := range a.Gaps {
		if g.Status == evidence.GapManualReview {
			add(g.TargetFactID)
		}
	}
	sort.Strings(out)
	return out
}
