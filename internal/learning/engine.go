package learning

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Mining pass constants. Confidence values are fixed per pass; tool-sequence
// and error-recovery success rates depend on the record's final decision.
const (
	guardrailPatternConfidence = 0.7
	coModificationConfidence   = 0.6
	toolSequenceConfidence     = 0.5
	errorRecoveryConfidence    = 0.8

	toolSequenceSuccessRate  = 0.9
	toolSequenceFailureRate  = 0.3
	errorRecoverySuccessRate = 0.9
)

// Engine turns consequence records into rankable adaptive strategies
type Engine struct {
	store Store
	now   func() time.Time
	newID func() string
}

// NewEngine creates a learning engine backed by the given store
func NewEngine(store Store) *Engine {
	return &Engine{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.New().String() },
	}
}

// LearnFromConsequences runs the four mining passes over a finalized record
// and persists every strategy produced. Each pass is isolated: a pass that
// panics is skipped and the others still contribute. Returns the strategies
// that were persisted, together with the joined errors for any strategy
// that could not be stored.
func (e *Engine) LearnFromConsequences(ctx context.Context, record *types.ConsequenceRecord) ([]*types.AdaptiveStrategy, error) {
	passes := []func(*types.ConsequenceRecord) []*types.AdaptiveStrategy{
		e.mineGuardrailPatterns,
		e.mineFileCoModification,
		e.mineToolSequence,
		e.mineErrorRecovery,
	}

	var persisted []*types.AdaptiveStrategy
	var errs []error
	for _, pass := range passes {
		for _, strategy := range runPass(pass, record) {
			if err := e.store.SaveStrategy(ctx, strategy); err != nil {
				// A storage failure for one strategy must not abort the
				// remaining passes; partial results still persist.
				errs = append(errs, fmt.Errorf("persist strategy %q: %w", strategy.Name, err))
				continue
			}
			persisted = append(persisted, strategy)
		}
	}
	return persisted, errors.Join(errs...)
}

// runPass isolates a mining pass so a panic inside it cannot abort learning
func runPass(pass func(*types.ConsequenceRecord) []*types.AdaptiveStrategy, record *types.ConsequenceRecord) (strategies []*types.AdaptiveStrategy) {
	defer func() {
		if r := recover(); r != nil {
			strategies = nil
		}
	}()
	return pass(record)
}

// mineGuardrailPatterns correlates touched file extensions with guardrails
// that failed in this record, one strategy per extension with at least one
// associated failure.
func (e *Engine) mineGuardrailPatterns(record *types.ConsequenceRecord) []*types.AdaptiveStrategy {
	var failed []string
	for _, g := range record.Guardrails {
		if g.Status == types.GuardrailFail || g.Status == types.GuardrailError {
			failed = append(failed, string(g.Name))
		}
	}
	if len(failed) == 0 {
		return nil
	}

	var strategies []*types.AdaptiveStrategy
	for _, ext := range distinctExtensions(record.Transformation.FilesTouched) {
		strategies = append(strategies, &types.AdaptiveStrategy{
			ID:       e.newID(),
			Name:     fmt.Sprintf("guardrail-risk for %s files", ext),
			Category: types.StrategyCodeGeneration,
			Pattern: fmt.Sprintf("Changes to {{fileType}} files have tripped %s; run those gates before committing %s changes.",
				strings.Join(failed, ", "), ext),
			Confidence:  guardrailPatternConfidence,
			UsageCount:  1,
			SuccessRate: decisionSuccessRate(record.Decision),
			LastUsed:    e.now(),
			Metadata: types.StrategyMetadata{
				FileTypes:    []string{ext},
				ErrorContext: failed,
				Source:       "guardrail_pattern",
			},
		})
	}
	return strategies
}

// mineFileCoModification groups touched files by directory and by extension
// and emits one strategy per group with more than one member.
func (e *Engine) mineFileCoModification(record *types.ConsequenceRecord) []*types.AdaptiveStrategy {
	byDir := map[string][]string{}
	byExt := map[string][]string{}
	for _, f := range record.Transformation.FilesTouched {
		byDir[path.Dir(f)] = append(byDir[path.Dir(f)], f)
		if ext := path.Ext(f); ext != "" {
			byExt[ext] = append(byExt[ext], f)
		}
	}

	var strategies []*types.AdaptiveStrategy
	for _, dir := range sortedKeys(byDir) {
		files := byDir[dir]
		if len(files) < 2 {
			continue
		}
		strategies = append(strategies, &types.AdaptiveStrategy{
			ID:       e.newID(),
			Name:     fmt.Sprintf("co-modification in %s", dir),
			Category: types.StrategyContextAdaptation,
			Pattern: fmt.Sprintf("Files under {{directory}} are often modified together: %s.",
				strings.Join(files, ", ")),
			Confidence:  coModificationConfidence,
			UsageCount:  1,
			SuccessRate: decisionSuccessRate(record.Decision),
			LastUsed:    e.now(),
			Metadata: types.StrategyMetadata{
				FileTypes: distinctExtensions(files),
				Directory: dir,
				Source:    "file_co_modification",
			},
		})
	}
	for _, ext := range sortedKeys(byExt) {
		files := byExt[ext]
		if len(files) < 2 {
			continue
		}
		strategies = append(strategies, &types.AdaptiveStrategy{
			ID:       e.newID(),
			Name:     fmt.Sprintf("co-modification of %s files", ext),
			Category: types.StrategyContextAdaptation,
			Pattern: fmt.Sprintf("{{fileType}} files are often modified together: %s.",
				strings.Join(files, ", ")),
			Confidence:  coModificationConfidence,
			UsageCount:  1,
			SuccessRate: decisionSuccessRate(record.Decision),
			LastUsed:    e.now(),
			Metadata: types.StrategyMetadata{
				FileTypes: []string{ext},
				Source:    "file_co_modification",
			},
		})
	}
	return strategies
}

// mineToolSequence captures the ordered tool-name sequence when the record
// contains more than one tool call.
func (e *Engine) mineToolSequence(record *types.ConsequenceRecord) []*types.AdaptiveStrategy {
	if len(record.ToolCalls) < 2 {
		return nil
	}

	names := make([]string, 0, len(record.ToolCalls))
	for _, call := range record.ToolCalls {
		names = append(names, call.Name)
	}

	successRate := toolSequenceFailureRate
	if record.Decision == types.DecisionProceed {
		successRate = toolSequenceSuccessRate
	}

	return []*types.AdaptiveStrategy{{
		ID:       e.newID(),
		Name:     "tool sequence",
		Category: types.StrategyOptimization,
		Pattern: fmt.Sprintf("Tool sequence %s led to decision %s.",
			strings.Join(names, " then "), record.Decision),
		Confidence:  toolSequenceConfidence,
		UsageCount:  1,
		SuccessRate: successRate,
		LastUsed:    e.now(),
		Metadata: types.StrategyMetadata{
			Tools:  names,
			Source: "tool_sequence",
		},
	}}
}

// mineErrorRecovery records a successful recovery when the record contains
// error or critical events and the final decision is still proceed.
func (e *Engine) mineErrorRecovery(record *types.ConsequenceRecord) []*types.AdaptiveStrategy {
	if record.Decision != types.DecisionProceed {
		return nil
	}

	var errorNames []string
	seen := map[string]bool{}
	for _, ev := range record.Events {
		if ev.Severity != types.SeverityError && ev.Severity != types.SeverityCritical {
			continue
		}
		if !seen[ev.Name] {
			seen[ev.Name] = true
			errorNames = append(errorNames, ev.Name)
		}
	}
	if len(errorNames) == 0 {
		return nil
	}

	var tools []string
	for _, call := range record.ToolCalls {
		tools = append(tools, call.Name)
	}

	return []*types.AdaptiveStrategy{{
		ID:       e.newID(),
		Name:     "error recovery",
		Category: types.StrategyErrorRecovery,
		Pattern: fmt.Sprintf("Recovered from %s and still proceeded; the recovery path is reusable.",
			strings.Join(errorNames, ", ")),
		Confidence:  errorRecoveryConfidence,
		UsageCount:  1,
		SuccessRate: errorRecoverySuccessRate,
		LastUsed:    e.now(),
		Metadata: types.StrategyMetadata{
			ErrorContext: errorNames,
			Tools:        tools,
			Source:       "error_recovery",
		},
	}}
}

// decisionSuccessRate seeds a mined strategy's success rate from the
// record's final decision.
func decisionSuccessRate(decision types.Decision) float64 {
	if decision == types.DecisionProceed {
		return 1.0
	}
	return 0.0
}

func distinctExtensions(files []string) []string {
	seen := map[string]bool{}
	var exts []string
	for _, f := range files {
		ext := path.Ext(f)
		if ext == "" || seen[ext] {
			continue
		}
		seen[ext] = true
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
