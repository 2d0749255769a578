package main

import (
	"context"
	"fmt"
	"path/filepath"

	"chartrec/internal/cascade"
	"chartrec/internal/config"
	"chartrec/internal/evidence"
	"chartrec/internal/pipeline"
	"chartrec/internal/reasoning"
	"chartrec/internal/rules"
	"chartrec/internal/source"
)

// engine bundles everything a command needs, with a single Close.
type engine struct {
	orchestrator *pipeline.Orchestrator
	cache        *source.ClassificationCache
	closers      []func() error
}

func (e *engine) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i]()
	}
}

// assemble wires adapters, oracle, cascade and orchestrator from config.
func assemble(ctx context.Context, cfg *config.Config) (*engine, error) {
	e := &engine{}

	var set source.Set
	if cfg.Source.StructuredDB != "" {
		sa, err := source.OpenSQLiteAdapter("extract-db", resolvePath(cfg.Workspace, cfg.Source.StructuredDB))
		if err != nil {
			return nil, fmt.Errorf("open structured source: %w", err)
		}
		e.closers = append(e.closers, sa.Close)
		set.Structured = append(set.Structured, sa)
	}
	if cfg.Source.DocumentsRoot != "" {
		set.Document = append(set.Document,
			source.NewDocumentAdapter("converted-documents", resolvePath(cfg.Workspace, cfg.Source.DocumentsRoot)))
	}

	var tier *reasoning.Tier
	oracle, err := buildOracle(ctx, cfg.Oracle)
	if err != nil {
		return nil, err
	}
	if oracle != nil {
		tier = reasoning.NewTier(oracle)
		tier.SetCallTimeout(cfg.Oracle.Timeout())
		tier.SetAttemptCeiling(cfg.Oracle.MaxAttempts)
	}

	if cfg.Source.CacheDB != "" {
		cache, err := source.OpenClassificationCache(resolvePath(cfg.Workspace, cfg.Source.CacheDB))
		if err != nil {
			return nil, fmt.Errorf("open classification cache: %w", err)
		}
		e.cache = cache
		e.closers = append(e.closers, cache.Close)
	}

	specs := make([]cascade.FactSpec, 0, len(cfg.Facts))
	for _, f := range cfg.Facts {
		specs = append(specs, cascade.FactSpec{
			FactID:        f.FactID,
			AllowedValues: f.AllowedValues,
			Priority:      evidence.GapPriority(f.Priority),
		})
	}

	casc := cascade.New(cascade.Config{
		Adapters:             set,
		Matcher:              rules.NewMatcher(rules.DefaultMarkerTable()),
		Reasoner:             tier,
		Cache:                e.cache,
		SufficiencyThreshold: evidence.Confidence(cfg.Cascade.SufficiencyThreshold),
		ReviewPriority:       evidence.GapPriority(cfg.Cascade.ReviewPriority),
		MaxStrategies:        cfg.Cascade.MaxStrategies,
		FactSpecs:            specs,
	})

	e.orchestrator = pipeline.NewOrchestrator(cfg, casc)
	return e, nil
}

func buildOracle(ctx context.Context, oc config.OracleConfig) (reasoning.Oracle, error) {
	switch oc.Provider {
	case "genai":
		return reasoning.NewGenAIOracle(ctx, oc.APIKey, oc.Model)
	case "http":
		return reasoning.NewHTTPOracle(reasoning.HTTPOracleConfig{
			APIKey:  oc.APIKey,
			BaseURL: oc.BaseURL,
			Model:   oc.Model,
			Timeout: oc.Timeout(),
		}), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", oc.Provider)
	}
}

func resolvePath(workspace, p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(workspace, p)
}
