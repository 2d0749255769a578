// Package pipeline orchestrates the per-subject reconstruction run: phase
// sequencing, checkpoint/resume, the single-writer subject lock, and re-entry
// into investigation when validation finds an implausible value.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"chartrec/internal/adjudicate"
	"chartrec/internal/cascade"
	"chartrec/internal/checkpoint"
	"chartrec/internal/config"
	"chartrec/internal/evidence"
	"chartrec/internal/investigate"
	"chartrec/internal/logging"
	"chartrec/internal/report"
	"chartrec/internal/source"
)

// ErrSubjectLocked indicates another process is already running this subject.
var ErrSubjectLocked = errors.New("subject is locked by another run")

// maxValidationRounds bounds re-entry: one corrective investigation per
// violating fact, then the fact is handed to a human.
const maxValidationRounds = 2

// defaultParallelism bounds concurrent fact extraction. The oracle client
// rate-limits itself, so this mostly bounds adapter I/O.
const defaultParallelism = 4

// State is the serializable inter-phase state. It round-trips through the
// checkpoint manager, so a resumed run reconstructs exactly this.
type State struct {
	SubjectID string                      `json:"subject_id"`
	Records   map[string]*evidence.Record `json:"records"`
	Gaps      map[string]*evidence.Gap    `json:"gaps"` // Keyed by target fact ID
}

// RunOptions control a single pipeline invocation.
type RunOptions struct {
	ResumePhase Phase  // Force resume from this phase; empty = auto-detect
	OutDir      string // Artifact output directory
	Fresh       bool   // Ignore existing checkpoints
}

// RunResult is what a completed run hands back to the CLI.
type RunResult struct {
	Artifact     *report.Artifact
	ArtifactPath string
	StartedFrom  Phase
	Resumed      bool
}

// Orchestrator runs the pipeline for one subject at a time.
type Orchestrator struct {
	cfg         *config.Config
	cascade     *cascade.Cascade
	adjudicator *adjudicate.Adjudicator
	validator   *adjudicate.Validator
	checkpoints *checkpoint.Manager
	parallelism int

	mu sync.Mutex // Serializes record mutation across extraction workers
}

// NewOrchestrator wires the pipeline from configuration and an assembled
// cascade.
func NewOrchestrator(cfg *config.Config, casc *cascade.Cascade) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		cascade:     casc,
		adjudicator: adjudicate.New(),
		validator:   adjudicate.NewValidator(adjudicate.DefaultPlausibilityRules()),
		checkpoints: checkpoint.NewManager(cfg.CheckpointDir()),
		parallelism: defaultParallelism,
	}
}

// Checkpoints exposes the checkpoint manager for the status and clean
// commands.
func (o *Orchestrator) Checkpoints() *checkpoint.Manager { return o.checkpoints }

// Run executes the pipeline for a subject, resuming from the last published
// checkpoint unless options say otherwise. Checkpoint serialization failures
// are fatal; everything tier-local has already been absorbed further down.
func (o *Orchestrator) Run(ctx context.Context, subjectID string, opts RunOptions) (*RunResult, error) {
	log := logging.Get(logging.CategoryPipeline)
	started := time.Now()

	unlock, err := o.acquireLock(subjectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if opts.Fresh {
		if err := o.checkpoints.Clear(subjectID); err != nil {
			return nil, err
		}
	}

	state, startPhase, resumed, err := o.restore(subjectID, opts.ResumePhase)
	if err != nil {
		return nil, err
	}
	if resumed {
		log.Info("subject %s: resuming from phase %s", subjectID, startPhase)
	} else {
		log.Info("subject %s: fresh run", subjectID)
	}

	var artifact *report.Artifact
	for _, phase := range Order[startPhase.Index():] {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		timer := logging.StartTimer(logging.CategoryPipeline, fmt.Sprintf("phase %s", phase))

		switch phase {
		case PhaseDiscovery:
			err = o.discover(state)
		case PhaseExtraction:
			err = o.extract(ctx, state)
		case PhaseAdjudication:
			err = o.adjudicate(state)
		case PhaseValidation:
			err = o.validate(ctx, state)
		case PhaseReport:
			artifact, err = o.report(state, started)
		}
		timer.Stop()
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", phase, err)
		}

		if err := o.checkpoints.Save(subjectID, string(phase), state); err != nil {
			return nil, err // ErrSerialization: no resume point, stop here
		}
	}

	path, err := artifact.WriteJSON(opts.OutDir)
	if err != nil {
		return nil, err
	}
	return &RunResult{
		Artifact:     artifact,
		ArtifactPath: path,
		StartedFrom:  startPhase,
		Resumed:      resumed,
	}, nil
}

// restore decides where to start and reloads state if resuming. When forced
// to a phase, the checkpoint of the preceding phase must exist.
func (o *Orchestrator) restore(subjectID string, forced Phase) (*State, Phase, bool, error) {
	fresh := &State{
		SubjectID: subjectID,
		Records:   make(map[string]*evidence.Record),
		Gaps:      make(map[string]*evidence.Gap),
	}

	if forced != "" {
		if !forced.Valid() {
			return nil, "", false, fmt.Errorf("invalid resume phase %q", forced)
		}
		if forced == PhaseDiscovery {
			return fresh, PhaseDiscovery, false, nil
		}
		prev := Order[forced.Index()-1]
		state := fresh
		if _, err := o.checkpoints.Load(subjectID, string(prev), state); err != nil {
			return nil, "", false, fmt.Errorf("cannot resume from %s: %w", forced, err)
		}
		return state, forced, true, nil
	}

	done, err := o.checkpoints.Phases(subjectID)
	if err != nil {
		return nil, "", false, err
	}
	last := -1
	for _, name := range done {
		if p := Phase(name); p.Valid() && p.Index() > last {
			last = p.Index()
		}
	}
	if last < 0 || last >= len(Order)-1 {
		// Nothing checkpointed, or the run already finished: start over.
		return fresh, PhaseDiscovery, false, nil
	}

	state := fresh
	if _, err := o.checkpoints.Load(subjectID, string(Order[last]), state); err != nil {
		return nil, "", false, err
	}
	return state, Order[last+1], true, nil
}

// discover opens one record and one gap per configured target fact.
// Idempotent: facts already present in a resumed state are kept as-is.
func (o *Orchestrator) discover(state *State) error {
	for _, f := range o.cfg.Facts {
		if _, ok := state.Records[f.FactID]; ok {
			continue
		}
		state.Records[f.FactID] = evidence.NewRecord(f.FactID)
		state.Gaps[f.FactID] = evidence.NewGap(evidence.GapMissingFact, f.FactID, parsePriority(f.Priority))
	}
	logging.Get(logging.CategoryPipeline).Info("subject %s: %d target facts", state.SubjectID, len(state.Records))
	return nil
}

// extract runs the cascade for every non-terminal gap with bounded
// parallelism. Source fetch fan-out happens inside the cascade; here the
// shared state is the only thing guarded.
func (o *Orchestrator) extract(ctx context.Context, state *State) error {
	facts := o.pendingFacts(state)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(o.parallelism)

	for _, factID := range facts {
		gap := state.Gaps[factID]
		eg.Go(func() error {
			rec, err := o.cascade.Resolve(egCtx, gap, o.criteriaFor(state.SubjectID, factID))
			if err != nil {
				return err // Cancellation only
			}
			o.mu.Lock()
			defer o.mu.Unlock()
			existing := state.Records[factID]
			for _, obs := range rec.Sources {
				existing.AppendSource(obs)
			}
			return nil
		})
	}
	return eg.Wait()
}

// adjudicate resolves every multi-source record and publishes final values as
// known facts for later prompts.
func (o *Orchestrator) adjudicate(state *State) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, factID := range sortedKeys(state.Records) {
		rec := state.Records[factID]
		if rec.NeedsAdjudication() {
			adj, err := o.adjudicator.Adjudicate(rec.Sources)
			if err != nil {
				return fmt.Errorf("adjudicate %s: %w", factID, err)
			}
			rec.Finalize(adj)
		}
		if rec.Value != "" {
			o.cascade.SetKnownFact(factID, rec.Value)
		}
		if err := rec.CheckInvariant(); err != nil {
			return err
		}
	}
	return nil
}

// validate cross-checks adjudicated values and re-enters investigation with
// the conflict-resolution strategy for any violating fact. One corrective
// round; a fact still violating afterwards is flagged for manual review.
func (o *Orchestrator) validate(ctx context.Context, state *State) error {
	log := logging.Get(logging.CategoryAdjudication)

	for round := 1; round <= maxValidationRounds; round++ {
		violating := o.findViolations(state)
		if len(violating) == 0 {
			return nil
		}
		if round == maxValidationRounds {
			// Out of corrective rounds: record the violations and escalate.
			for factID, violations := range violating {
				rec := state.Records[factID]
				o.ensureAdjudication(rec)
				rec.Adjudication.Violations = violations
				rec.Adjudication.RequiresManualReview = true
				if gap := state.Gaps[factID]; gap != nil && gap.Status == evidence.GapResolved {
					gap.Status = evidence.GapManualReview
				}
				log.Warn("fact %s: %d unresolved plausibility violation(s), manual review", factID, len(violations))
			}
			return nil
		}

		for factID := range violating {
			gap := evidence.NewGap(evidence.GapFailedValidation, factID, parsePriority(o.priorityOf(factID)))
			state.Gaps[factID] = gap

			outcome, err := o.cascade.Engine().Investigate(ctx, gap, o.criteriaFor(state.SubjectID, factID))
			if err != nil && !errors.Is(err, investigate.ErrExhausted) {
				return err
			}
			rec := state.Records[factID]
			for _, obs := range outcome.Evidence {
				obs.Method = evidence.MethodInvestigation
				rec.AppendSource(obs) // Clears the stale adjudication
			}
			if rec.NeedsAdjudication() {
				adj, aerr := o.adjudicator.Adjudicate(rec.Sources)
				if aerr != nil {
					return aerr
				}
				rec.Finalize(adj)
				o.cascade.SetKnownFact(factID, rec.Value)
			}
		}
	}
	return nil
}

// report assembles the final artifact from state.
func (o *Orchestrator) report(state *State, started time.Time) (*report.Artifact, error) {
	art := &report.Artifact{
		SubjectID:        state.SubjectID,
		GeneratedAt:      time.Now(),
		Records:          state.Records,
		EncoderFallbacks: o.checkpoints.FallbackCount(),
		Elapsed:          time.Since(started),
	}
	for _, factID := range sortedKeys(state.Gaps) {
		art.Gaps = append(art.Gaps, state.Gaps[factID])
	}
	for _, factID := range sortedKeys(state.Records) {
		if adj := state.Records[factID].Adjudication; adj != nil && adj.RequiresManualReview {
			art.ManualReview = append(art.ManualReview, factID)
		}
	}
	return art, nil
}

// ====================================================================
// Helpers
// ====================================================================

// acquireLock takes the per-subject single-writer lock. The lock file holds
// the owning PID for post-mortem inspection.
func (o *Orchestrator) acquireLock(subjectID string) (func(), error) {
	dir := o.cfg.CheckpointDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	path := filepath.Join(dir, subjectID+".lock")

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("%w: %s", ErrSubjectLocked, path)
	}
	if err != nil {
		return nil, fmt.Errorf("acquire subject lock: %w", err)
	}
	fmt.Fprintf(f, "%d\n", os.Getpid())
	f.Close()

	return func() { os.Remove(path) }, nil
}

// pendingFacts lists facts whose gaps are not yet terminal, ordered critical
// first so high-value facts get the workers earliest.
func (o *Orchestrator) pendingFacts(state *State) []string {
	var facts []string
	for _, factID := range sortedKeys(state.Gaps) {
		if !state.Gaps[factID].Status.Terminal() {
			facts = append(facts, factID)
		}
	}
	sort.SliceStable(facts, func(i, j int) bool {
		return state.Gaps[facts[i]].Priority.Rank() > state.Gaps[facts[j]].Priority.Rank()
	})
	return facts
}

// criteriaFor builds the initial source criteria for one fact.
func (o *Orchestrator) criteriaFor(subjectID, factID string) source.Criteria {
	var fields []string
	for _, f := range o.cfg.Facts {
		if f.FactID == factID {
			fields = f.Fields
			break
		}
	}
	linkage := source.LinkageSubject
	if o.cfg.Source.EncounterFirst {
		linkage = source.LinkageEncounter
	}
	return source.Criteria{
		SubjectID:          subjectID,
		TargetFactID:       factID,
		Fields:             fields,
		DocumentCategories: o.cfg.Source.Categories,
		Since:              time.Now().AddDate(0, 0, -o.cfg.Source.LookbackDays),
		Linkage:            linkage,
		Limit:              o.cfg.Source.QueryLimit,
	}
}

func (o *Orchestrator) priorityOf(factID string) string {
	for _, f := range o.cfg.Facts {
		if f.FactID == factID {
			return f.Priority
		}
	}
	return string(evidence.PriorityRoutine)
}

// findViolations runs the validator over every finalized fact.
func (o *Orchestrator) findViolations(state *State) map[string][]evidence.PlausibilityViolation {
	finalValues := make(map[string]string)
	for factID, rec := range state.Records {
		if rec.Value != "" {
			finalValues[factID] = rec.Value
		}
	}

	out := make(map[string][]evidence.PlausibilityViolation)
	for _, factID := range sortedKeys(state.Records) {
		value, ok := finalValues[factID]
		if !ok {
			continue
		}
		if v := o.validator.Validate(factID, value, finalValues); len(v) > 0 {
			out[factID] = v
		}
	}
	return out
}

// ensureAdjudication guarantees the record carries an adjudication to attach
// violations to; a single-source record gets a unanimous one.
func (o *Orchestrator) ensureAdjudication(rec *evidence.Record) {
	if rec.Adjudication != nil {
		return
	}
	if adj, err := o.adjudicator.Adjudicate(rec.Sources); err == nil {
		rec.Finalize(adj)
	}
}

func parsePriority(s string) evidence.GapPriority {
	p := evidence.GapPriority(s)
	if p.Rank() == 0 {
		return evidence.PriorityRoutine
	}
	return p
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
