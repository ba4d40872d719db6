package learning

import (
	"context"
	"sort"
	"time"

	"github.com/pristine-labs/coreguard/internal/types"
)

// maxRelevantStrategies caps GetRelevantStrategies output
const maxRelevantStrategies = 10

// recencyWindow is the span over which a strategy's recency score decays
// linearly from 1.0 down to the floor.
const (
	recencyWindow = 30 * 24 * time.Hour
	recencyFloor  = 0.1
)

// QueryContext narrows which strategies are relevant to a caller
type QueryContext struct {
	FileTypes    []string
	ToolsUsed    []string
	ErrorContext []string
	Category     types.StrategyCategory
}

// GetRelevantStrategies loads strategies (optionally filtered by category),
// discards any whose metadata fails to intersect with the supplied context,
// ranks the remainder by confidence x success rate x recency, and returns at
// most the top 10. Archived strategies are never returned.
func (e *Engine) GetRelevantStrategies(ctx context.Context, query QueryContext) ([]*types.AdaptiveStrategy, error) {
	strategies, err := e.store.LoadStrategies(ctx, query.Category)
	if err != nil {
		return nil, err
	}

	now := e.now()
	type scored struct {
		strategy *types.AdaptiveStrategy
		score    float64
	}

	var candidates []scored
	for _, s := range strategies {
		if s.Metadata.Archived {
			continue
		}
		if !matchesQuery(s, query) {
			continue
		}
		candidates = append(candidates, scored{
			strategy: s,
			score:    s.Confidence * s.SuccessRate * recencyScore(s.LastUsed, now),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	limit := len(candidates)
	if limit > maxRelevantStrategies {
		limit = maxRelevantStrategies
	}
	result := make([]*types.AdaptiveStrategy, 0, limit)
	for _, c := range candidates[:limit] {
		result = append(result, c.strategy)
	}
	return result, nil
}

// matchesQuery applies the intersection rule: a populated query dimension
// disqualifies a strategy only when the strategy declares values for that
// dimension and none of them intersect.
func matchesQuery(s *types.AdaptiveStrategy, q QueryContext) bool {
	if !intersectsOrEmpty(q.FileTypes, s.Metadata.FileTypes) {
		return false
	}
	if !intersectsOrEmpty(q.ToolsUsed, s.Metadata.Tools) {
		return false
	}
	if !intersectsOrEmpty(q.ErrorContext, s.Metadata.ErrorContext) {
		return false
	}
	return true
}

func intersectsOrEmpty(query, declared []string) bool {
	if len(query) == 0 || len(declared) == 0 {
		return true
	}
	for _, q := range query {
		for _, d := range declared {
			if q == d {
				return true
			}
		}
	}
	return false
}

// recencyScore decays linearly from 1.0 to a floor of 0.1 over a 30-day
// window. A never-used strategy scores the floor.
func recencyScore(lastUsed, now time.Time) float64 {
	if lastUsed.IsZero() {
		return recencyFloor
	}
	age := now.Sub(lastUsed)
	if age <= 0 {
		return 1.0
	}
	if age >= recencyWindow {
		return recencyFloor
	}
	fraction := float64(age) / float64(recencyWindow)
	return 1.0 - fraction*(1.0-recencyFloor)
}
