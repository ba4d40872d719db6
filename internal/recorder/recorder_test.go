package recorder

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pristine-labs/coreguard/internal/gitinfo"
	"github.com/pristine-labs/coreguard/internal/protection"
	"github.com/pristine-labs/coreguard/internal/types"
)

type stubRunner struct {
	names  []types.GuardrailName
	status map[types.GuardrailName]types.GuardrailStatus
}

func (s *stubRunner) Names() []types.GuardrailName { return s.names }

func (s *stubRunner) Run(ctx context.Context, name types.GuardrailName) types.GuardrailResult {
	status, ok := s.status[name]
	if !ok {
		status = types.GuardrailPass
	}
	return types.GuardrailResult{
		Name:       name,
		Status:     status,
		Timestamp:  time.Now().UTC(),
		DurationMS: 5,
	}
}

type captureSink struct {
	records  []*types.ConsequenceRecord
	failures int
}

func (c *captureSink) Write(ctx context.Context, record *types.ConsequenceRecord) error {
	if c.failures > 0 {
		c.failures--
		return fmt.Errorf("sink unavailable")
	}
	c.records = append(c.records, record)
	return nil
}

type captureLearner struct {
	records []*types.ConsequenceRecord
	err     error
}

func (c *captureLearner) LearnFromConsequences(ctx context.Context, record *types.ConsequenceRecord) ([]*types.AdaptiveStrategy, error) {
	c.records = append(c.records, record)
	return nil, c.err
}

func newTestRecorder(t *testing.T, cfg Config) *Recorder {
	t.Helper()

	if cfg.Classifier == nil {
		policy := protection.DefaultPolicy()
		policy.AuditTargets = nil // the audit fixture is exercised separately
		classifier, err := protection.NewClassifier(policy, t.TempDir())
		require.NoError(t, err)
		cfg.Classifier = classifier
	}
	if cfg.Runner == nil {
		cfg.Runner = &stubRunner{
			names: []types.GuardrailName{
				types.GuardrailTypecheck,
				types.GuardrailLint,
				types.GuardrailTest,
				types.GuardrailBuild,
			},
		}
	}
	if cfg.Sink == nil {
		cfg.Sink = &captureSink{}
	}
	if cfg.VCS == nil {
		cfg.VCS = &gitinfo.Static{BranchName: "main", AuthorName: "dev", SHA: "abc1234"}
	}

	r, err := New(cfg)
	require.NoError(t, err)
	return r
}

func TestStart_CriticalViolationBlocks(t *testing.T) {
	r := newTestRecorder(t, Config{})

	_, err := r.Start(context.Background(), StartContext{
		PatchID:      "p-1",
		FilesTouched: []string{"src/types/agent.ts"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CRITICAL")
	assert.Contains(t, err.Error(), "src/types/agent.ts")

	_, open := r.OpenID()
	assert.False(t, open)
}

func TestStart_OrdinaryPathSucceeds(t *testing.T) {
	r := newTestRecorder(t, Config{})

	id, err := r.Start(context.Background(), StartContext{
		PatchID:      "p-1",
		FilesTouched: []string{"components/chat/chat-window.tsx"},
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^patch-p-1@[0-9a-f]{7}$`), id)

	openID, open := r.OpenID()
	assert.True(t, open)
	assert.Equal(t, id, openID)
}

func TestStart_WhileOpenIsCallerError(t *testing.T) {
	r := newTestRecorder(t, Config{})

	_, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	_, err = r.Start(context.Background(), StartContext{PatchID: "p-2"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still open")
}

func TestStart_FallbackSHAWithoutVCS(t *testing.T) {
	policy := protection.DefaultPolicy()
	policy.AuditTargets = nil
	classifier, err := protection.NewClassifier(policy, t.TempDir())
	require.NoError(t, err)

	r, err := New(Config{
		Classifier: classifier,
		Runner:     &stubRunner{names: []types.GuardrailName{types.GuardrailTest}},
		Sink:       &captureSink{},
	})
	require.NoError(t, err)

	id, err := r.Start(context.Background(), StartContext{PatchID: "p-9"})
	require.NoError(t, err)
	assert.Equal(t, types.TransformationID("p-9", gitinfo.FallbackSHA("p-9")), id)
}

func TestStart_NonCriticalViolationAnnotates(t *testing.T) {
	sink := &captureSink{}
	r := newTestRecorder(t, Config{Sink: sink})

	_, err := r.Start(context.Background(), StartContext{
		PatchID:      "p-1",
		FilesTouched: []string{"tsconfig.json"},
	})
	require.NoError(t, err)

	record, err := r.Finalize(context.Background(), "config tweak", types.DecisionProceed)
	require.NoError(t, err)
	assert.Equal(t, types.ProtectionViolationDetected, record.Transformation.CoreProtectionStatus)

	var found bool
	for _, e := range record.Events {
		if e.Name == "core_protection_violations" {
			found = true
		}
	}
	assert.True(t, found, "expected a core_protection_violations event")
}

func TestAttach_RequiresOpenTransformation(t *testing.T) {
	r := newTestRecorder(t, Config{})

	err := r.AttachEvent(types.ObservationEvent{Name: "e"})
	assert.Error(t, err)

	err = r.AttachToolCall(types.ToolCall{Name: "edit_file"})
	assert.Error(t, err)
}

func TestAttachToolCall_FlagsProtectedMutation(t *testing.T) {
	sink := &captureSink{}
	r := newTestRecorder(t, Config{Sink: sink})

	_, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	require.NoError(t, r.AttachToolCall(types.ToolCall{
		Name:       "edit_file",
		Parameters: map[string]interface{}{"path": "src/lib/core/engine.ts"},
	}))
	require.NoError(t, r.AttachToolCall(types.ToolCall{
		Name:       "read_file",
		Parameters: map[string]interface{}{"path": "src/lib/core/engine.ts"},
	}))
	require.NoError(t, r.AttachToolCall(types.ToolCall{
		Name:       "edit_file",
		Parameters: map[string]interface{}{"path": "components/button.tsx"},
	}))

	record, err := r.Finalize(context.Background(), "", "")
	require.NoError(t, err)

	require.Len(t, record.ToolCalls, 3)
	assert.True(t, record.ToolCalls[0].CoreProtectionCheck, "mutating call on protected path must be flagged")
	assert.False(t, record.ToolCalls[1].CoreProtectionCheck, "read of a protected path is not a mutation")
	assert.False(t, record.ToolCalls[2].CoreProtectionCheck, "mutation of an ordinary path is not flagged")
	assert.Equal(t, types.ProtectionViolationDetected, record.Transformation.CoreProtectionStatus)
	assert.NotEmpty(t, record.ToolCalls[0].ID)
}

func TestFinalize_FiveGuardrailsByDefault(t *testing.T) {
	sink := &captureSink{}
	learner := &captureLearner{}
	r := newTestRecorder(t, Config{Sink: sink, Learner: learner})

	_, err := r.Start(context.Background(), StartContext{
		PatchID:      "p-1",
		FilesTouched: []string{"components/chat/chat-window.tsx"},
	})
	require.NoError(t, err)

	require.NoError(t, r.AttachToolCall(types.ToolCall{Name: "edit_file", Parameters: map[string]interface{}{"path": "components/chat/chat-window.tsx"}}))

	record, err := r.Finalize(context.Background(), "chat window tweak", "")
	require.NoError(t, err)

	require.Len(t, record.Guardrails, 5)
	assert.Equal(t, types.GuardrailCoreProtection, record.Guardrails[4].Name)
	assert.Equal(t, types.DecisionProceed, record.Decision)
	assert.True(t, record.CoreIntegrityVerified)
	assert.Contains(t, record.LearningInsights[0], "Tools used: edit_file")

	// Written once, handed to the learner, and back to idle.
	require.Len(t, sink.records, 1)
	require.Len(t, learner.records, 1)
	assert.Same(t, record, sink.records[0])
	_, open := r.OpenID()
	assert.False(t, open)
}

func TestFinalize_GuardrailFailureIsRecordedNotFatal(t *testing.T) {
	runner := &stubRunner{
		names: []types.GuardrailName{
			types.GuardrailTypecheck,
			types.GuardrailLint,
			types.GuardrailTest,
			types.GuardrailBuild,
		},
		status: map[types.GuardrailName]types.GuardrailStatus{
			types.GuardrailTest: types.GuardrailFail,
		},
	}
	r := newTestRecorder(t, Config{Runner: runner})

	_, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	record, err := r.Finalize(context.Background(), "", types.DecisionFixRequired)
	require.NoError(t, err)

	var testStatus types.GuardrailStatus
	for _, g := range record.Guardrails {
		if g.Name == types.GuardrailTest {
			testStatus = g.Status
		}
	}
	assert.Equal(t, types.GuardrailFail, testStatus)
	assert.Contains(t, record.LearningInsights, "Guardrails failed: test")
}

func TestFinalize_FailedAuditFailsCoreProtection(t *testing.T) {
	policy := protection.DefaultPolicy()
	policy.AuditTargets = []protection.AuditTarget{
		{Path: "src/types/agent.ts", Tier: protection.TierCritical, RequiredToken: "export "},
	}
	classifier, err := protection.NewClassifier(policy, t.TempDir())
	require.NoError(t, err)

	r := newTestRecorder(t, Config{Classifier: classifier})

	_, err = r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	record, err := r.Finalize(context.Background(), "", "")
	require.NoError(t, err)

	core := record.Guardrails[len(record.Guardrails)-1]
	assert.Equal(t, types.GuardrailCoreProtection, core.Name)
	assert.Equal(t, types.GuardrailFail, core.Status)
	assert.False(t, record.CoreIntegrityVerified)
	assert.Contains(t, core.Stderr, "src/types/agent.ts")
}

func TestFinalize_SinkFailureLeavesTransformationOpen(t *testing.T) {
	sink := &captureSink{failures: 1}
	r := newTestRecorder(t, Config{Sink: sink})

	id, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	_, err = r.Finalize(context.Background(), "", "")
	require.Error(t, err)

	openID, open := r.OpenID()
	require.True(t, open, "sink failure must not discard the open transformation")
	assert.Equal(t, id, openID)

	// The retry succeeds once the sink recovers.
	record, err := r.Finalize(context.Background(), "", "")
	require.NoError(t, err)
	require.Len(t, sink.records, 1)
	assert.Equal(t, id, record.Transformation.ID)
}

func TestFinalize_RetryDoesNotDuplicateGuardrailEvents(t *testing.T) {
	sink := &captureSink{failures: 1}
	r := newTestRecorder(t, Config{Sink: sink})

	_, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	_, err = r.Finalize(context.Background(), "", "")
	require.Error(t, err)

	record, err := r.Finalize(context.Background(), "", "")
	require.NoError(t, err)

	// Guardrails reran on the retry, but only the written attempt's events
	// belong to the record: one per guardrail, including core_protection.
	guardrailEvents := 0
	for _, e := range record.Events {
		if strings.HasPrefix(e.Name, "guardrail_") {
			guardrailEvents++
		}
	}
	assert.Equal(t, len(record.Guardrails), guardrailEvents)
}

func TestFinalize_LearnerFailureSurfacedAfterPersist(t *testing.T) {
	sink := &captureSink{}
	learner := &captureLearner{err: fmt.Errorf("strategy store offline")}
	r := newTestRecorder(t, Config{Sink: sink, Learner: learner})

	id, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	record, err := r.Finalize(context.Background(), "", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy store offline")

	// The record was persisted and the id is terminal despite the failure.
	require.NotNil(t, record)
	require.Len(t, sink.records, 1)
	assert.Equal(t, id, record.Transformation.ID)
	_, open := r.OpenID()
	assert.False(t, open)
}

func TestFinalize_InvalidDecision(t *testing.T) {
	r := newTestRecorder(t, Config{})

	_, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)

	_, err = r.Finalize(context.Background(), "", types.Decision("shrug"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid decision")
}

func TestStart_FinalizedIDIsTerminal(t *testing.T) {
	r := newTestRecorder(t, Config{})

	_, err := r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.NoError(t, err)
	_, err = r.Finalize(context.Background(), "", "")
	require.NoError(t, err)

	// The static SHA makes the derived id identical the second time.
	_, err = r.Start(context.Background(), StartContext{PatchID: "p-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already finalized")
}

func TestFinalize_NothingOpen(t *testing.T) {
	r := newTestRecorder(t, Config{})

	_, err := r.Finalize(context.Background(), "", "")
	assert.Error(t, err)
}
