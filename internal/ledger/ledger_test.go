package ledger

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pristine-labs/coreguard/internal/types"
)

func sampleRecord(patchID string) *types.ConsequenceRecord {
	exitCode := 1
	return &types.ConsequenceRecord{
		Transformation: types.Transformation{
			ID:                   types.TransformationID(patchID, "abc1234"),
			PatchID:              patchID,
			Branch:               "main",
			AuthorID:             "reviewer",
			Timestamp:            time.Now().UTC(),
			FilesTouched:         []string{"components/chat/chat-window.tsx"},
			GitStats:             types.GitStats{SHA: "abc1234", Additions: 4, Deletions: 1, ChangedFiles: 1},
			CoreProtectionStatus: types.ProtectionSafe,
		},
		Guardrails: []types.GuardrailResult{
			{Name: types.GuardrailTypecheck, Status: types.GuardrailPass, DurationMS: 120},
			{Name: types.GuardrailLint, Status: types.GuardrailFail, DurationMS: 95, ExitCode: &exitCode},
			{Name: types.GuardrailCoreProtection, Status: types.GuardrailPass},
		},
		Summary:               "tweak chat window",
		Decision:              types.DecisionFixRequired,
		CoreIntegrityVerified: true,
		LearningInsights:      []string{"Tools used: edit_file"},
		Version:               1,
	}
}

func TestWrite_CreatesLedgerAndReport(t *testing.T) {
	root := t.TempDir()
	sink := NewFileSink(root)

	require.NoError(t, sink.Write(context.Background(), sampleRecord("p-1")))

	ledgerData, err := os.ReadFile(sink.LedgerPath("p-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(ledgerData), "\n"))

	report, err := os.ReadFile(sink.ReportPath("p-1"))
	require.NoError(t, err)
	assert.Contains(t, string(report), "patch-p-1@abc1234")
	assert.Contains(t, string(report), "2 passed, 1 failed")
	assert.Contains(t, string(report), "components/chat/chat-window.tsx")
	assert.Contains(t, string(report), "fix_required")
}

func TestWrite_AppendsToSamePatch(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	ctx := context.Background()

	require.NoError(t, sink.Write(ctx, sampleRecord("p-2")))
	require.NoError(t, sink.Write(ctx, sampleRecord("p-2")))

	records, err := sink.ReadAll("p-2")
	require.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, "patch-p-2@abc1234", records[0].Transformation.ID)

	// The lock is released after each write.
	_, err = os.Stat(filepath.Join(sink.root, "p-2", ".ledger-lock"))
	assert.True(t, os.IsNotExist(err))
}

func TestWrite_RejectsEmptyPatchID(t *testing.T) {
	sink := NewFileSink(t.TempDir())
	rec := sampleRecord("p-3")
	rec.Transformation.PatchID = ""

	assert.Error(t, sink.Write(context.Background(), rec))
}

func TestReadAll_MissingLedger(t *testing.T) {
	sink := NewFileSink(t.TempDir())

	records, err := sink.ReadAll("nope")
	require.NoError(t, err)
	assert.Nil(t, records)
}

type captureMirror struct {
	records []*types.ConsequenceRecord
}

func (m *captureMirror) Put(_ context.Context, rec *types.ConsequenceRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func TestWrite_Mirrors(t *testing.T) {
	mirror := &captureMirror{}
	sink := NewFileSink(t.TempDir(), WithMirror(mirror))

	require.NoError(t, sink.Write(context.Background(), sampleRecord("p-4")))
	require.Len(t, mirror.records, 1)
	assert.Equal(t, "p-4", mirror.records[0].Transformation.PatchID)
}

func TestTryLock_ExclusiveCreate(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".ledger-lock")

	require.NoError(t, tryLock(lockPath))

	// The file now exists and names this live process, so a second claim
	// must fail rather than overwrite it.
	err := tryLock(lockPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by")

	require.NoError(t, releaseLock(lockPath))
	assert.NoError(t, tryLock(lockPath))
}

func TestAcquireLock_HeldByLiveProcess(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".ledger-lock")

	require.NoError(t, tryLock(lockPath))

	err := acquireLock(lockPath, 60*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by")
}

func TestAcquireLock_StaleLockOverwritten(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, ".ledger-lock")

	// A lock held by a dead PID on this host is stale.
	stale := `{"holder":"coreguard-recorder","pid":999999,"hostname":"` + hostname(t) + `","started_at":"2020-01-01T00:00:00Z"}`
	require.NoError(t, os.WriteFile(lockPath, []byte(stale), 0644))

	assert.NoError(t, acquireLock(lockPath, 100*time.Millisecond))
	assert.NoError(t, releaseLock(lockPath))
}

func hostname(t *testing.T) string {
	t.Helper()
	h, err := os.Hostname()
	require.NoError(t, err)
	return h
}
