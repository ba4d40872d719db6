// Package learning mines reusable strategies from finalized consequence
// records, ranks them for relevance, and tracks their outcomes over time.
package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Store persists adaptive strategies. UpdateStrategy must serialize
// read-modify-write cycles per strategy id so concurrent usage updates never
// lose counts.
type Store interface {
	SaveStrategy(ctx context.Context, strategy *types.AdaptiveStrategy) error
	// LoadStrategies returns strategies sorted by descending confidence.
	// An empty category loads everything.
	LoadStrategies(ctx context.Context, category types.StrategyCategory) ([]*types.AdaptiveStrategy, error)
	// UpdateStrategy applies a mutation to one strategy under the store's
	// lock and persists the result.
	UpdateStrategy(ctx context.Context, id string, apply func(*types.AdaptiveStrategy) error) error
	DeleteStrategy(ctx context.Context, id string) error
}

// ErrStrategyNotFound is returned for usage updates against unknown ids
var ErrStrategyNotFound = fmt.Errorf("strategy not found")

// FileStore keeps one JSON document per strategy id in a directory.
// A process-wide mutex serializes read-modify-write cycles; writes are
// atomic via temp file + rename.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates the strategy directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating strategy directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// SaveStrategy persists a strategy document
func (s *FileStore) SaveStrategy(ctx context.Context, strategy *types.AdaptiveStrategy) error {
	if strategy.ID == "" {
		return fmt.Errorf("strategy has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(strategy)
}

func (s *FileStore) write(strategy *types.AdaptiveStrategy) error {
	data, err := json.MarshalIndent(strategy, "", "  ")
	if err != nil {
		return fmt.Errorf("serializing strategy: %w", err)
	}

	// Write atomically using temp file + rename.
	tmpPath := s.path(strategy.ID) + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing strategy file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(strategy.ID)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("committing strategy file: %w", err)
	}
	return nil
}

// LoadStrategies reads every strategy document, optionally filtered by
// category, sorted by descending confidence.
func (s *FileStore) LoadStrategies(ctx context.Context, category types.StrategyCategory) ([]*types.AdaptiveStrategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("reading strategy directory: %w", err)
	}

	var strategies []*types.AdaptiveStrategy
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading strategy %s: %w", entry.Name(), err)
		}
		var strategy types.AdaptiveStrategy
		if err := json.Unmarshal(data, &strategy); err != nil {
			return nil, fmt.Errorf("corrupt strategy %s: %w", entry.Name(), err)
		}
		if category != "" && strategy.Category != category {
			continue
		}
		strategies = append(strategies, &strategy)
	}

	sort.SliceStable(strategies, func(i, j int) bool {
		return strategies[i].Confidence > strategies[j].Confidence
	})
	return strategies, nil
}

// UpdateStrategy applies a mutation to one strategy under the store lock
func (s *FileStore) UpdateStrategy(ctx context.Context, id string, apply func(*types.AdaptiveStrategy) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
		}
		return fmt.Errorf("reading strategy %s: %w", id, err)
	}

	var strategy types.AdaptiveStrategy
	if err := json.Unmarshal(data, &strategy); err != nil {
		return fmt.Errorf("corrupt strategy %s: %w", id, err)
	}

	if err := apply(&strategy); err != nil {
		return err
	}
	return s.write(&strategy)
}

// DeleteStrategy removes a strategy document. Normal operation archives low
// performers instead; deletion exists for administrative cleanup.
func (s *FileStore) DeleteStrategy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(id)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
		}
		return fmt.Errorf("deleting strategy %s: %w", id, err)
	}
	return nil
}
