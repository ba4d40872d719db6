// Package recorder orchestrates one transformation's lifecycle: validating
// touched paths against the protection policy, capturing telemetry while the
// transformation is open, running the guardrail set on finalize, and handing
// the finalized consequence record to the storage sink and learning engine.
package recorder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pristine-labs/coreguard/internal/gitinfo"
	"github.com/pristine-labs/coreguard/internal/protection"
	"github.com/pristine-labs/coreguard/internal/types"
)

// Sink persists finalized consequence records
type Sink interface {
	Write(ctx context.Context, record *types.ConsequenceRecord) error
}

// GuardrailRunner executes named quality gates in its configured order
type GuardrailRunner interface {
	Names() []types.GuardrailName
	Run(ctx context.Context, name types.GuardrailName) types.GuardrailResult
}

// VCS supplies version-control facts about the governed repository
type VCS interface {
	Branch(ctx context.Context) (string, error)
	Author(ctx context.Context) (string, error)
	ShortSHA(ctx context.Context) (string, error)
	DiffStats(ctx context.Context, paths []string) (types.GitStats, error)
}

// Learner consumes finalized records to mine adaptive strategies
type Learner interface {
	LearnFromConsequences(ctx context.Context, record *types.ConsequenceRecord) ([]*types.AdaptiveStrategy, error)
}

// defaultMutatingTools names the tool calls that modify files. A mutating
// call targeting a pristine-core path is flagged and annotated, never
// blocked.
var defaultMutatingTools = []string{"edit_file", "write_file", "apply_patch", "delete_file"}

// Config wires a Recorder's collaborators. Classifier, Runner and Sink are
// required; VCS and Learner are optional.
type Config struct {
	Classifier *protection.Classifier
	Runner     GuardrailRunner
	Sink       Sink
	VCS        VCS
	Learner    Learner

	// MutatingTools overrides the default mutating tool-name set
	MutatingTools []string
}

// StartContext is the caller-supplied provenance for a new transformation.
// Branch and AuthorID fall back to the VCS collaborator when empty.
type StartContext struct {
	PatchID      string
	BatchID      string
	Branch       string
	AuthorID     string
	Categories   []string
	FilesTouched []string
}

type openState struct {
	tr        types.Transformation
	events    []types.ObservationEvent
	toolCalls []types.ToolCall
	artifacts []types.Artifact
	startedAt time.Time
}

// Recorder is the transformation lifecycle state machine: idle, open,
// finalized (terminal per transformation id). An instance holds at most one
// open transformation; starting a second while one is open is a caller
// error. Safe for concurrent use.
type Recorder struct {
	classifier *protection.Classifier
	runner     GuardrailRunner
	sink       Sink
	vcs        VCS
	learner    Learner
	mutating   map[string]bool

	mu        sync.Mutex
	open      *openState
	finalized map[string]bool

	now   func() time.Time
	newID func() string
}

// New creates a Recorder from its collaborators
func New(cfg Config) (*Recorder, error) {
	if cfg.Classifier == nil {
		return nil, fmt.Errorf("recorder requires a classifier")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("recorder requires a guardrail runner")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("recorder requires a storage sink")
	}

	tools := cfg.MutatingTools
	if tools == nil {
		tools = defaultMutatingTools
	}
	mutating := make(map[string]bool, len(tools))
	for _, t := range tools {
		mutating[t] = true
	}

	return &Recorder{
		classifier: cfg.Classifier,
		runner:     cfg.Runner,
		sink:       cfg.Sink,
		vcs:        cfg.VCS,
		learner:    cfg.Learner,
		mutating:   mutating,
		finalized:  map[string]bool{},
		now:        func() time.Time { return time.Now().UTC() },
		newID:      func() string { return uuid.NewString() },
	}, nil
}

// Start validates the touched paths and opens a transformation, returning
// its id. A critical protection violation fails immediately with a
// "CRITICAL:" error and the transformation is never opened. Non-critical
// violations open the transformation with status violation_detected and an
// annotating event.
func (r *Recorder) Start(ctx context.Context, sc StartContext) (string, error) {
	if sc.PatchID == "" {
		return "", fmt.Errorf("patch id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open != nil {
		return "", fmt.Errorf("transformation %s is still open; finalize it before starting another", r.open.tr.ID)
	}

	sha := r.shortSHA(ctx, sc.PatchID)
	id := types.TransformationID(sc.PatchID, sha)
	if r.finalized[id] {
		return "", fmt.Errorf("transformation %s is already finalized", id)
	}

	result := r.classifier.ValidateTransformation(sc.FilesTouched)
	if result.HasCritical() {
		return "", criticalViolationError(result.Violations)
	}

	status := types.ProtectionSafe
	if len(result.Violations) > 0 {
		status = types.ProtectionViolationDetected
	}

	branch := sc.Branch
	author := sc.AuthorID
	if r.vcs != nil {
		if branch == "" {
			branch, _ = r.vcs.Branch(ctx)
		}
		if author == "" {
			author, _ = r.vcs.Author(ctx)
		}
	}

	stats := types.GitStats{SHA: sha}
	if r.vcs != nil {
		if s, err := r.vcs.DiffStats(ctx, sc.FilesTouched); err == nil {
			stats = s
		}
	}
	if stats.SHA == "" {
		stats.SHA = sha
	}

	now := r.now()
	state := &openState{
		tr: types.Transformation{
			ID:                   id,
			PatchID:              sc.PatchID,
			BatchID:              sc.BatchID,
			Branch:               branch,
			AuthorID:             author,
			Timestamp:            now,
			Categories:           sc.Categories,
			FilesTouched:         append([]string(nil), sc.FilesTouched...),
			GitStats:             stats,
			CoreProtectionStatus: status,
		},
		startedAt: now,
	}

	if len(result.Violations) > 0 {
		paths := make([]string, 0, len(result.Violations))
		for _, v := range result.Violations {
			paths = append(paths, v.Path)
		}
		state.events = append(state.events, types.ObservationEvent{
			Name:      "core_protection_violations",
			Timestamp: now,
			Severity:  types.SeverityWarn,
			Category:  types.CategoryCoreProtection,
			Payload:   map[string]interface{}{"paths": paths},
		})
	}

	r.open = state
	return id, nil
}

// OpenID returns the id of the open transformation, if any
func (r *Recorder) OpenID() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.open == nil {
		return "", false
	}
	return r.open.tr.ID, true
}

// AttachEvent appends a telemetry event to the open transformation
func (r *Recorder) AttachEvent(event types.ObservationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return fmt.Errorf("no open transformation to attach event %q to", event.Name)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = r.now()
	}
	if !event.Severity.IsValid() {
		event.Severity = types.SeverityInfo
	}
	if event.Category == "" {
		event.Category = types.CategorySystem
	}

	r.open.events = append(r.open.events, event)
	return nil
}

// AttachToolCall appends a tool invocation to the open transformation. A
// mutating tool call whose target path is pristine-core is flagged with
// CoreProtectionCheck and a core_protection event; the transformation itself
// continues.
func (r *Recorder) AttachToolCall(call types.ToolCall) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return fmt.Errorf("no open transformation to attach tool call %q to", call.Name)
	}

	if call.ID == "" {
		call.ID = r.newID()
	}
	if call.Timestamp.IsZero() {
		call.Timestamp = r.now()
	}

	if target := toolTargetPath(call.Parameters); target != "" && r.mutating[call.Name] {
		if r.classifier.IsPristineCorePath(target) {
			call.CoreProtectionCheck = true
			r.open.tr.CoreProtectionStatus = types.ProtectionViolationDetected
			r.open.events = append(r.open.events, types.ObservationEvent{
				Name:      "protected_path_tool_call",
				Timestamp: call.Timestamp,
				Severity:  types.SeverityWarn,
				Category:  types.CategoryCoreProtection,
				Payload: map[string]interface{}{
					"tool": call.Name,
					"path": target,
				},
			})
		}
	}

	r.open.toolCalls = append(r.open.toolCalls, call)
	return nil
}

// AttachArtifact registers a file produced while processing the open
// transformation.
func (r *Recorder) AttachArtifact(artifact types.Artifact) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return fmt.Errorf("no open transformation to attach artifact %q to", artifact.Path)
	}

	if artifact.ID == "" {
		artifact.ID = r.newID()
	}
	artifact.TransformationID = r.open.tr.ID

	r.open.artifacts = append(r.open.artifacts, artifact)
	return nil
}

// Finalize runs the configured guardrails in order, appends the synthetic
// core_protection guardrail derived from the integrity audit, derives
// learning insights, persists the consequence record through the sink, and
// returns it. Guardrail failures never abort finalize; a sink failure does,
// leaving the transformation open so the caller can retry. On success the
// recorder returns to idle and the transformation id becomes terminal; if
// learning then fails, the persisted record is returned together with the
// learning error.
func (r *Recorder) Finalize(ctx context.Context, summary string, decision types.Decision) (*types.ConsequenceRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.open == nil {
		return nil, fmt.Errorf("no open transformation to finalize")
	}
	if decision == "" {
		decision = types.DecisionProceed
	}
	if !decision.IsValid() {
		return nil, fmt.Errorf("invalid decision %q", decision)
	}

	state := r.open

	// Guardrail events are kept per attempt: a retry after a sink failure
	// reruns the guardrails, and only that attempt's events may land in the
	// record that is finally written.
	guardrails := make([]types.GuardrailResult, 0, len(r.runner.Names())+1)
	attemptEvents := make([]types.ObservationEvent, 0, len(r.runner.Names())+1)
	for _, name := range r.runner.Names() {
		result := r.runner.Run(ctx, name)
		guardrails = append(guardrails, result)
		attemptEvents = append(attemptEvents, guardrailEvent(result, r.now()))
	}

	coreResult := r.coreProtectionGuardrail()
	guardrails = append(guardrails, coreResult)
	attemptEvents = append(attemptEvents, guardrailEvent(coreResult, r.now()))

	events := make([]types.ObservationEvent, 0, len(state.events)+len(attemptEvents))
	events = append(events, state.events...)
	events = append(events, attemptEvents...)

	record := &types.ConsequenceRecord{
		Transformation:        state.tr,
		Events:                events,
		Guardrails:            guardrails,
		Artifacts:             state.artifacts,
		ToolCalls:             state.toolCalls,
		Summary:               summary,
		Decision:              decision,
		CoreIntegrityVerified: coreResult.Status == types.GuardrailPass,
		LearningInsights:      buildInsights(state, guardrails),
		Version:               1,
	}

	if err := r.sink.Write(ctx, record); err != nil {
		return nil, fmt.Errorf("write consequence record: %w", err)
	}

	r.finalized[state.tr.ID] = true
	r.open = nil

	if r.learner != nil {
		if _, err := r.learner.LearnFromConsequences(ctx, record); err != nil {
			return record, fmt.Errorf("record %s persisted but learning failed: %w", state.tr.ID, err)
		}
	}

	return record, nil
}

// coreProtectionGuardrail wraps AuditCoreIntegrity as a synthetic guardrail
// result: pass when the audit is clean, fail on a critical violation, warn
// otherwise.
func (r *Recorder) coreProtectionGuardrail() types.GuardrailResult {
	started := r.now()
	audit := r.classifier.AuditCoreIntegrity()

	status := types.GuardrailPass
	switch {
	case audit.HasCritical():
		status = types.GuardrailFail
	case len(audit.Violations) > 0:
		status = types.GuardrailWarn
	}

	var lines []string
	for _, v := range audit.Violations {
		lines = append(lines, fmt.Sprintf("%s: %s", v.Path, v.Reason))
	}

	return types.GuardrailResult{
		Name:       types.GuardrailCoreProtection,
		Status:     status,
		Timestamp:  started,
		DurationMS: r.now().Sub(started).Milliseconds(),
		Metrics:    map[string]float64{"violations": float64(len(audit.Violations))},
		Stderr:     strings.Join(lines, "\n"),
	}
}

// shortSHA asks the VCS collaborator for the short commit sha, falling back
// to a deterministic hash of the patch id so transformation ids stay stable
// outside a repository.
func (r *Recorder) shortSHA(ctx context.Context, patchID string) string {
	if r.vcs != nil {
		if sha, err := r.vcs.ShortSHA(ctx); err == nil && sha != "" {
			return sha
		}
	}
	return gitinfo.FallbackSHA(patchID)
}

func criticalViolationError(violations []types.Violation) error {
	var b strings.Builder
	b.WriteString("CRITICAL: core protection violation:")
	for _, v := range violations {
		if v.Severity != types.SeverityCritical {
			continue
		}
		fmt.Fprintf(&b, "\n  %s: %s", v.Path, v.Reason)
	}
	return fmt.Errorf("%s", b.String())
}

func guardrailEvent(result types.GuardrailResult, at time.Time) types.ObservationEvent {
	severity := types.SeverityInfo
	switch result.Status {
	case types.GuardrailFail:
		severity = types.SeverityError
	case types.GuardrailError:
		severity = types.SeverityError
	case types.GuardrailWarn:
		severity = types.SeverityWarn
	}
	return types.ObservationEvent{
		Name:      fmt.Sprintf("guardrail_%s", result.Name),
		Timestamp: at,
		Severity:  severity,
		Category:  types.CategoryGuardrail,
		Payload: map[string]interface{}{
			"status":      string(result.Status),
			"duration_ms": result.DurationMS,
		},
	}
}

// buildInsights derives human-readable learning insights from the captured
// telemetry.
func buildInsights(state *openState, guardrails []types.GuardrailResult) []string {
	var insights []string

	if tools := distinctToolNames(state.toolCalls); len(tools) > 0 {
		insights = append(insights, fmt.Sprintf("Tools used: %s", strings.Join(tools, ", ")))
	}

	var failed []string
	for _, g := range guardrails {
		if g.Status == types.GuardrailFail || g.Status == types.GuardrailError {
			failed = append(failed, string(g.Name))
		}
	}
	if len(failed) > 0 {
		insights = append(insights, fmt.Sprintf("Guardrails failed: %s", strings.Join(failed, ", ")))
	}

	flagged := 0
	for _, c := range state.toolCalls {
		if c.CoreProtectionCheck {
			flagged++
		}
	}
	if flagged > 0 {
		insights = append(insights, fmt.Sprintf("%d tool call(s) targeted protected paths", flagged))
	}

	if n := len(state.tr.FilesTouched); n > 0 {
		dirs := map[string]bool{}
		for _, f := range state.tr.FilesTouched {
			dir := "."
			if i := strings.LastIndex(f, "/"); i >= 0 {
				dir = f[:i]
			}
			dirs[dir] = true
		}
		insights = append(insights, fmt.Sprintf("Touched %d file(s) across %d director(ies)", n, len(dirs)))
	}

	return insights
}

// distinctToolNames returns tool names in first-use order
func distinctToolNames(calls []types.ToolCall) []string {
	seen := map[string]bool{}
	var names []string
	for _, c := range calls {
		if !seen[c.Name] {
			seen[c.Name] = true
			names = append(names, c.Name)
		}
	}
	return names
}

// toolTargetPath extracts the target path from tool-call parameters. The
// well-known parameter names cover the tools in the default mutating set.
func toolTargetPath(params map[string]interface{}) string {
	for _, key := range []string{"path", "file_path", "filePath", "target"} {
		if v, ok := params[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}
