package learning

import (
	"fmt"
	"path"
	"sort"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Heuristic thresholds for optimization suggestions
const (
	slowGuardrailMS      = 30_000
	toolBudgetMS         = 60_000
	dominantExtThreshold = 3
)

// GenerateOptimizationSuggestions produces non-persisted, human-readable
// suggestions from a single record: slow guardrails, failed guardrails, a
// dominant touched-file extension, and tools whose cumulative duration
// exceeds the budget.
func (e *Engine) GenerateOptimizationSuggestions(record *types.ConsequenceRecord) []string {
	var suggestions []string

	for _, g := range record.Guardrails {
		if g.DurationMS > slowGuardrailMS {
			suggestions = append(suggestions,
				fmt.Sprintf("Guardrail %s took %.1fs; consider caching or scoping it to changed files.",
					g.Name, float64(g.DurationMS)/1000))
		}
		if g.Status == types.GuardrailFail || g.Status == types.GuardrailError {
			suggestions = append(suggestions,
				fmt.Sprintf("Guardrail %s failed; run it locally before recording the next transformation.", g.Name))
		}
	}

	extCounts := map[string]int{}
	for _, f := range record.Transformation.FilesTouched {
		if ext := path.Ext(f); ext != "" {
			extCounts[ext]++
		}
	}
	for _, ext := range sortedExtKeys(extCounts) {
		if extCounts[ext] > dominantExtThreshold {
			suggestions = append(suggestions,
				fmt.Sprintf("%d %s files touched in one transformation; consider splitting the patch.", extCounts[ext], ext))
		}
	}

	var totalToolMS int64
	for _, call := range record.ToolCalls {
		totalToolMS += call.DurationMS
	}
	if totalToolMS > toolBudgetMS {
		suggestions = append(suggestions,
			fmt.Sprintf("Cumulative tool time was %.1fs; look for redundant tool calls.", float64(totalToolMS)/1000))
	}

	return suggestions
}

func sortedExtKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
