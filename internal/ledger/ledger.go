// Package ledger persists finalized consequence records: one JSON line per
// record appended to a patch-scoped ledger.jsonl, plus a rendered
// CONSEQUENCES.md report. The ledger is append-only and path-keyed by patch
// id so concurrent transformations never interleave.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Mirror receives a copy of every record written to the sink, e.g. the
// SQLite consequence index backing the query surface.
type Mirror interface {
	Put(ctx context.Context, record *types.ConsequenceRecord) error
}

// FileSink writes consequence records under root/<patchID>/
type FileSink struct {
	root     string
	lockWait time.Duration
	mirrors  []Mirror
}

// Option configures a FileSink
type Option func(*FileSink)

// WithMirror registers an additional destination for every written record
func WithMirror(m Mirror) Option {
	return func(s *FileSink) {
		s.mirrors = append(s.mirrors, m)
	}
}

// WithLockWait bounds how long Write waits for a live lock holder
func WithLockWait(d time.Duration) Option {
	return func(s *FileSink) {
		s.lockWait = d
	}
}

// NewFileSink creates a sink rooted at root (e.g. ".governance/consequences")
func NewFileSink(root string, opts ...Option) *FileSink {
	s := &FileSink{root: root, lockWait: 5 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LedgerPath returns where a patch's ledger lives
func (s *FileSink) LedgerPath(patchID string) string {
	return filepath.Join(s.root, patchID, "ledger.jsonl")
}

// ReportPath returns where a patch's rendered report lives
func (s *FileSink) ReportPath(patchID string) string {
	return filepath.Join(s.root, patchID, "CONSEQUENCES.md")
}

// Write appends the record to the patch ledger and rewrites the report.
// Appenders to the same patch ledger serialize through a lock file; writes
// for different patches are independent.
func (s *FileSink) Write(ctx context.Context, record *types.ConsequenceRecord) error {
	patchID := record.Transformation.PatchID
	if patchID == "" {
		return fmt.Errorf("consequence record has no patch id")
	}

	dir := filepath.Join(s.root, patchID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	lockPath := filepath.Join(dir, ".ledger-lock")
	if err := acquireLock(lockPath, s.lockWait); err != nil {
		return err
	}
	defer func() { _ = releaseLock(lockPath) }()

	if err := s.appendLine(s.LedgerPath(patchID), record); err != nil {
		return err
	}

	report := renderReport(record)
	if err := os.WriteFile(s.ReportPath(patchID), []byte(report), 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	for _, m := range s.mirrors {
		if err := m.Put(ctx, record); err != nil {
			return fmt.Errorf("failed to mirror record: %w", err)
		}
	}

	return nil
}

func (s *FileSink) appendLine(path string, record *types.ConsequenceRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append to ledger: %w", err)
	}
	return nil
}

// ReadAll loads every record appended to a patch's ledger, oldest first
func (s *FileSink) ReadAll(patchID string) ([]*types.ConsequenceRecord, error) {
	data, err := os.ReadFile(s.LedgerPath(patchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var records []*types.ConsequenceRecord
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var rec types.ConsequenceRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("corrupt ledger entry: %w", err)
		}
		records = append(records, &rec)
	}
	return records, nil
}
