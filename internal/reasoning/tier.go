package reasoning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"chartrec/internal/evidence"
	"chartrec/internal/logging"
	"chartrec/internal/source"
)

const (
	// DefaultAttemptCeiling is how many times a schema-invalid response is
	// retried with a corrective prompt before the tier fails for that source.
	DefaultAttemptCeiling = 3

	// DefaultCallTimeout bounds a single oracle call.
	DefaultCallTimeout = 2 * time.Minute

	// maxDocumentChars bounds the document text included in one prompt.
	maxDocumentChars = 12000

	systemPrompt = `You are a clinical abstraction assistant. You extract single facts from clinical document text.
Only report what the document states; never guess. If the document does not establish the fact, report confidence "insufficient".`
)

// Request is one fact-extraction task over one set of document candidates.
// Each request's outcome is attributable solely to its own evidence; the tier
// shares nothing across requests.
type Request struct {
	TargetFactID string
	Schema       Schema
	Documents    []source.RawCandidate
	KnownFacts   map[string]string // Adjudicated facts so far, for context
}

// Tier drives the reasoning oracle over document candidates.
type Tier struct {
	oracle      Oracle
	attempts    int
	callTimeout time.Duration
	maxWorkers  int
}

// NewTier creates a reasoning tier with default ceilings.
func NewTier(oracle Oracle) *Tier {
	return &Tier{
		oracle:      oracle,
		attempts:    DefaultAttemptCeiling,
		callTimeout: DefaultCallTimeout,
		maxWorkers:  4,
	}
}

// SetAttemptCeiling overrides the per-source retry ceiling.
func (t *Tier) SetAttemptCeiling(n int) {
	if n > 0 {
		t.attempts = n
	}
}

// SetCallTimeout overrides the per-call timeout.
func (t *Tier) SetCallTimeout(d time.Duration) {
	if d > 0 {
		t.callTimeout = d
	}
}

// Extract runs the oracle over each document candidate for one request.
// Schema-invalid responses are retried with a corrective prompt up to the
// attempt ceiling; a source that never validates is skipped, not fatal.
// Responses whose declared confidence is "insufficient" are dropped as
// unusable evidence.
func (t *Tier) Extract(ctx context.Context, req Request) ([]evidence.SourceObservation, error) {
	log := logging.Get(logging.CategoryReasoning)
	timer := logging.StartTimer(logging.CategoryReasoning, "Tier.Extract("+req.TargetFactID+")")
	defer timer.Stop()

	var out []evidence.SourceObservation
	for _, doc := range req.Documents {
		if doc.Kind != source.KindDocument || strings.TrimSpace(doc.Text) == "" {
			continue
		}
		obs, err := t.extractFromDocument(ctx, req, doc)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			// Tier-local failure for this source: log with full context and
			// move on. The cascade decides what "no evidence" means.
			log.Warn("extraction failed for fact=%s source=%s: %v", req.TargetFactID, doc.ID, err)
			continue
		}
		if obs != nil {
			out = append(out, *obs)
		}
	}
	return out, nil
}

// ExtractBatch runs independent requests concurrently. Results are keyed by
// target fact so each gap's outcome stays attributable to its own evidence.
func (t *Tier) ExtractBatch(ctx context.Context, reqs []Request) (map[string][]evidence.SourceObservation, error) {
	results := make(map[string][]evidence.SourceObservation, len(reqs))
	slots := make([][]evidence.SourceObservation, len(reqs))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(t.maxWorkers)
	for i, req := range reqs {
		eg.Go(func() error {
			obs, err := t.Extract(egCtx, req)
			if err != nil {
				return err
			}
			slots[i] = obs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	for i, req := range reqs {
		results[req.TargetFactID] = append(results[req.TargetFactID], slots[i]...)
	}
	return results, nil
}

// extractFromDocument runs the retry loop for one document. Returns a nil
// observation (and nil error) when the oracle validly reports insufficient
// evidence.
func (t *Tier) extractFromDocument(ctx context.Context, req Request, doc source.RawCandidate) (*evidence.SourceObservation, error) {
	log := logging.Get(logging.CategoryReasoning)
	prompt := t.buildPrompt(req, doc)

	var lastErr error
	for attempt := 1; attempt <= t.attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, t.callTimeout)
		raw, err := t.oracle.Infer(callCtx, systemPrompt, prompt)
		cancel()
		if err != nil {
			// Oracle unavailability is not a schema problem; retrying with a
			// clarified prompt will not help.
			return nil, fmt.Errorf("oracle call failed (attempt %d): %w", attempt, err)
		}

		obj, err := req.Schema.ParseResponse(raw)
		if err != nil {
			lastErr = err
			log.Debug("schema validation failed for fact=%s source=%s attempt=%d: %v",
				req.TargetFactID, doc.ID, attempt, err)
			prompt = t.buildCorrectivePrompt(req, doc, raw, err)
			continue
		}

		confStr, _ := obj["confidence"].(string)
		conf, err := evidence.ParseConfidence(confStr)
		if err != nil {
			// Unreachable in practice: the schema enum already constrained it.
			lastErr = err
			continue
		}
		if conf == evidence.ConfidenceInsufficient {
			log.Debug("oracle reports insufficient evidence for fact=%s source=%s", req.TargetFactID, doc.ID)
			return nil, nil
		}

		value, _ := obj["value"].(string)
		excerpt, _ := obj["excerpt"].(string)
		obs := evidence.NewObservation(
			evidence.SourceDocumentText,
			doc.ID,
			value,
			evidence.MethodReasoning,
			conf,
			excerpt,
		)
		return &obs, nil
	}

	return nil, fmt.Errorf("attempt ceiling (%d) reached: %w", t.attempts, lastErr)
}

// buildPrompt renders the extraction prompt: target fact, known context,
// schema contract, then the document text.
func (t *Tier) buildPrompt(req Request, doc source.RawCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the fact %q from the clinical document below.\n\n", req.TargetFactID)

	if len(req.KnownFacts) > 0 {
		b.WriteString("Facts already established for this subject:\n")
		keys := make([]string, 0, len(req.KnownFacts))
		for k := range req.KnownFacts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, req.KnownFacts[k])
		}
		b.WriteString("\n")
	}

	b.WriteString(req.Schema.PromptBlock())
	b.WriteString("\nDocument")
	if cat := doc.Metadata["category"]; cat != "" {
		fmt.Fprintf(&b, " (%s)", cat)
	}
	b.WriteString(":\n---\n")
	text := doc.Text
	if len(text) > maxDocumentChars {
		text = text[:maxDocumentChars]
	}
	b.WriteString(text)
	b.WriteString("\n---\n")
	return b.String()
}

// buildCorrectivePrompt clarifies the contract after a schema failure,
// naming the violations and the offending response.
func (t *Tier) buildCorrectivePrompt(req Request, doc source.RawCandidate, badResponse string, verr error) string {
	var b strings.Builder
	b.WriteString(t.buildPrompt(req, doc))
	b.WriteString("\nYour previous response was rejected: ")
	b.WriteString(strings.TrimPrefix(verr.Error(), ErrSchemaValidation.Error()+": "))
	b.WriteString("\nPrevious response:\n")
	if len(badResponse) > 1000 {
		badResponse = badResponse[:1000]
	}
	b.WriteString(badResponse)
	b.WriteString("\nRespond again with only the corrected JSON object.\n")
	return b.String()
}
