package learning

import (
	"context"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Confidence adjustment applied on each reported outcome, clamped to [0,1]
const (
	confidenceGainOnSuccess = 0.1
	confidenceLossOnFailure = 0.05
)

// archiveSuccessRateFloor marks strategies as archived once they have
// enough usage to judge and their success rate has collapsed. Archived
// strategies are excluded from ranking but never erased.
const (
	archiveSuccessRateFloor = 0.2
	archiveMinUsage         = 10
)

// RecordStrategyUsage reports one application of a strategy and its
// outcome. The success rate is recomputed as a running average over the new
// usage count; confidence moves up 0.1 on success or down 0.05 on failure.
// Updating an unknown id fails fast with no state mutation.
func (e *Engine) RecordStrategyUsage(ctx context.Context, id string, success bool) error {
	return e.store.UpdateStrategy(ctx, id, func(s *types.AdaptiveStrategy) error {
		oldCount := s.UsageCount
		s.UsageCount++

		outcome := 0.0
		if success {
			outcome = 1.0
		}
		s.SuccessRate = (s.SuccessRate*float64(oldCount) + outcome) / float64(s.UsageCount)

		if success {
			s.Confidence += confidenceGainOnSuccess
		} else {
			s.Confidence -= confidenceLossOnFailure
		}
		s.Confidence = clamp01(s.Confidence)
		s.LastUsed = e.now()

		if s.UsageCount >= archiveMinUsage && s.SuccessRate < archiveSuccessRateFloor {
			s.Metadata.Archived = true
		}
		return nil
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
