// Package cascade wires the three extraction tiers into one cost-ordered
// escalation: deterministic rule matching, then oracle reasoning, then
// alternative-strategy investigation. Tier-local errors never escape the
// cascade; every resolution ends in a valid gap status.
package cascade

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"chartrec/internal/evidence"
	"chartrec/internal/investigate"
	"chartrec/internal/logging"
	"chartrec/internal/reasoning"
	"chartrec/internal/rules"
	"chartrec/internal/source"
)

// FactSpec declares the expected shape of one fact: the values it may take
// (empty = free text) and the priority of closing a gap on it.
type FactSpec struct {
	FactID        string
	AllowedValues []string
	Priority      evidence.GapPriority
}

// Cascade resolves gaps through the tier escalation.
type Cascade struct {
	adapters  source.Set
	matcher   *rules.Matcher
	reasoner  *reasoning.Tier
	engine    *investigate.Engine
	cache     *source.ClassificationCache
	threshold evidence.Confidence
	specs     map[string]FactSpec

	mu         sync.RWMutex
	knownFacts map[string]string // Adjudicated facts so far, read by prompts
}

// Config collects the cascade's collaborators and tunables.
type Config struct {
	Adapters             source.Set
	Matcher              *rules.Matcher
	Reasoner             *reasoning.Tier
	Cache                *source.ClassificationCache // Optional cross-run reasoning cache
	SufficiencyThreshold evidence.Confidence  // Default medium
	ReviewPriority       evidence.GapPriority // Default high
	MaxStrategies        int                  // Default investigate.DefaultMaxAttempts
	FactSpecs            []FactSpec
}

// New builds a cascade. The investigation engine calls back into the cheaper
// tiers through the cascade itself.
func New(cfg Config) *Cascade {
	if cfg.SufficiencyThreshold == "" {
		cfg.SufficiencyThreshold = evidence.ConfidenceMedium
	}
	if cfg.ReviewPriority == "" {
		cfg.ReviewPriority = evidence.PriorityHigh
	}

	c := &Cascade{
		adapters:   cfg.Adapters,
		matcher:    cfg.Matcher,
		reasoner:   cfg.Reasoner,
		cache:      cfg.Cache,
		threshold:  cfg.SufficiencyThreshold,
		specs:      make(map[string]FactSpec, len(cfg.FactSpecs)),
		knownFacts: make(map[string]string),
	}
	for _, s := range cfg.FactSpecs {
		c.specs[s.FactID] = s
	}

	c.engine = investigate.NewEngine(c, cfg.ReviewPriority)
	if cfg.MaxStrategies > 0 {
		c.engine.SetMaxAttempts(cfg.MaxStrategies)
	}
	return c
}

// Engine exposes the investigation engine for operator-facing suggestions.
func (c *Cascade) Engine() *investigate.Engine { return c.engine }

// SetKnownFact records an adjudicated fact so later prompts can use it as
// context. Values flow one way: adjudication writes, prompts read.
func (c *Cascade) SetKnownFact(factID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.knownFacts[factID] = value
}

func (c *Cascade) snapshotKnown() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.knownFacts))
	for k, v := range c.knownFacts {
		out[k] = v
	}
	return out
}

// Resolve runs the full escalation for one gap and returns the record holding
// whatever evidence was found. The gap always ends in a valid status: resolved
// when any tier produced usable evidence, otherwise whatever terminal status
// the investigation engine assigned. Only cancellation is returned as an
// error.
func (c *Cascade) Resolve(ctx context.Context, gap *evidence.Gap, criteria source.Criteria) (*evidence.Record, error) {
	log := logging.Get(logging.CategoryPipeline)
	record := evidence.NewRecord(gap.TargetFactID)

	obs, err := c.runCheapTiers(ctx, gap, criteria)
	if err != nil {
		return record, err // Cancellation only
	}
	for _, o := range obs {
		record.AppendSource(o)
	}

	if len(obs) > 0 {
		gap.Status = evidence.GapResolved
		log.Debug("gap %s resolved without investigation (%d sources)", gap.ID, len(obs))
		return record, nil
	}

	outcome, err := c.engine.Investigate(ctx, gap, criteria)
	if err != nil && !errors.Is(err, investigate.ErrExhausted) {
		return record, err // Cancellation: gap already reverted by the engine
	}
	for _, o := range outcome.Evidence {
		// Evidence surfaced by investigation keeps its extraction provenance
		// but is re-labeled so the audit trail shows which tier closed the gap.
		o.Method = evidence.MethodInvestigation
		record.AppendSource(o)
	}
	return record, nil
}

// TryStrategy implements investigate.Resolver: one pass through the rule and
// reasoning tiers with strategy-altered criteria. It never recurses into the
// investigation tier.
func (c *Cascade) TryStrategy(ctx context.Context, gap *evidence.Gap, criteria source.Criteria) ([]evidence.SourceObservation, error) {
	return c.runCheapTiers(ctx, gap, criteria)
}

// runCheapTiers fetches candidates and applies Tier 1, escalating to Tier 2
// only when Tier 1's aggregate confidence is below the sufficiency threshold.
func (c *Cascade) runCheapTiers(ctx context.Context, gap *evidence.Gap, criteria source.Criteria) ([]evidence.SourceObservation, error) {
	log := logging.Get(logging.CategoryPipeline)

	structured, documents, err := c.fetchCandidates(ctx, criteria)
	if err != nil {
		return nil, err // Cancellation only; adapter failures are absorbed
	}

	// Tier 1: deterministic marker matching, no I/O.
	obs := c.matcher.Match(gap.TargetFactID, structured)
	if c.aggregateConfidence(obs).AtLeast(c.threshold) {
		log.Debug("gap %s: rule tier sufficient (%d observations)", gap.ID, len(obs))
		return usable(obs), nil
	}

	// A cached classification from a prior run stands in for the oracle when
	// its confidence alone meets the threshold.
	if cached, ok := c.cachedObservation(gap.TargetFactID); ok {
		obs = append(obs, cached)
		if cached.Confidence.AtLeast(c.threshold) {
			log.Debug("gap %s: cached classification sufficient", gap.ID)
			return usable(obs), nil
		}
	}

	// Tier 2: oracle reasoning over document text.
	if c.reasoner != nil && len(documents) > 0 {
		spec := c.specs[gap.TargetFactID]
		reasoned, err := c.reasoner.Extract(ctx, reasoning.Request{
			TargetFactID: gap.TargetFactID,
			Schema:       reasoning.ExtractionSchema(gap.TargetFactID, spec.AllowedValues),
			Documents:    documents,
			KnownFacts:   c.snapshotKnown(),
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Oracle trouble is tier-local: log and proceed with what Tier 1 gave.
			log.Warn("gap %s: reasoning tier failed: %v", gap.ID, err)
		}
		obs = append(obs, reasoned...)
		c.cacheBest(gap.TargetFactID, reasoned)
	}

	return usable(obs), nil
}

// fetchCandidates fans out read-only queries to every adapter concurrently
// and joins deterministically by waiting for all of them. An adapter failure
// is logged and contributes zero candidates; it never fails the fetch.
func (c *Cascade) fetchCandidates(ctx context.Context, criteria source.Criteria) (structured, documents []source.RawCandidate, err error) {
	log := logging.Get(logging.CategorySource)
	all := c.adapters.All()
	slots := make([][]source.RawCandidate, len(all))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, adapter := range all {
		eg.Go(func() error {
			cands, qerr := adapter.Query(egCtx, criteria)
			if qerr != nil {
				if egCtx.Err() != nil {
					return egCtx.Err()
				}
				log.Warn("adapter %s unavailable for %s/%s: %v",
					adapter.Name(), criteria.SubjectID, criteria.TargetFactID, qerr)
				return nil // Treated as no evidence
			}
			slots[i] = cands
			return nil
		})
	}
	if werr := eg.Wait(); werr != nil {
		return nil, nil, werr
	}

	for _, cands := range slots {
		for _, cand := range cands {
			switch cand.Kind {
			case source.KindStructured:
				structured = append(structured, cand)
			case source.KindDocument:
				documents = append(documents, cand)
			}
		}
	}
	return structured, documents, nil
}

// cachedObservation turns a cached classification into an inferred
// observation. Cached values always carry the inferred source type so
// adjudication ranks them below anything extracted this run.
func (c *Cascade) cachedObservation(factID string) (evidence.SourceObservation, bool) {
	if c.cache == nil {
		return evidence.SourceObservation{}, false
	}
	entry, ok := c.cache.Get(factID)
	if !ok {
		return evidence.SourceObservation{}, false
	}
	conf, err := evidence.ParseConfidence(entry.Confidence)
	if err != nil {
		return evidence.SourceObservation{}, false
	}
	return evidence.NewObservation(
		evidence.SourceInferred,
		"classification-cache",
		entry.Value,
		evidence.MethodReasoning,
		conf,
		"",
	), true
}

// cacheBest records the strongest reasoning result for later runs.
func (c *Cascade) cacheBest(factID string, obs []evidence.SourceObservation) {
	if c.cache == nil || len(obs) == 0 {
		return
	}
	best := obs[0]
	for _, o := range obs[1:] {
		if o.Confidence.Rank() > best.Confidence.Rank() {
			best = o
		}
	}
	c.cache.Put(factID, best.ExtractedValue, string(best.Confidence))
}

// aggregateConfidence is the highest confidence across observations;
// insufficient when there are none.
func (c *Cascade) aggregateConfidence(obs []evidence.SourceObservation) evidence.Confidence {
	best := evidence.ConfidenceInsufficient
	for _, o := range obs {
		if o.Confidence.Rank() > best.Rank() {
			best = o.Confidence
		}
	}
	return best
}

// usable filters out observations that carry no evidential weight.
func usable(obs []evidence.SourceObservation) []evidence.SourceObservation {
	out := obs[:0:0]
	for _, o := range obs {
		if o.Confidence.Rank() > evidence.ConfidenceInsufficient.Rank() {
			out = append(out, o)
		}
	}
	return out
}
