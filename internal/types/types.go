package types

import (
	"fmt"
	"time"
)

// Severity classifies how serious an observation or violation is
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarn, SeverityError, SeverityCritical:
		return true
	}
	return false
}

// EventCategory groups observation events by their origin
type EventCategory string

const (
	CategoryToolCall       EventCategory = "tool_call"
	CategoryGuardrail      EventCategory = "guardrail"
	CategoryCoreProtection EventCategory = "core_protection"
	CategoryUserAction     EventCategory = "user_action"
	CategorySystem         EventCategory = "system"
)

// GuardrailName identifies a quality gate run during finalize
type GuardrailName string

const (
	GuardrailTypecheck      GuardrailName = "typecheck"
	GuardrailLint           GuardrailName = "lint"
	GuardrailTest           GuardrailName = "test"
	GuardrailBuild          GuardrailName = "build"
	GuardrailE2E            GuardrailName = "e2e"
	GuardrailCoverage       GuardrailName = "coverage"
	GuardrailBundleSize     GuardrailName = "bundle_size"
	GuardrailDBHealth       GuardrailName = "db_health"
	GuardrailCoreProtection GuardrailName = "core_protection"
)

// GuardrailStatus is the outcome of a single guardrail invocation
type GuardrailStatus string

const (
	GuardrailPass  GuardrailStatus = "pass"
	GuardrailFail  GuardrailStatus = "fail"
	GuardrailWarn  GuardrailStatus = "warn"
	GuardrailSkip  GuardrailStatus = "skip"
	GuardrailError GuardrailStatus = "error"
)

// ArtifactKind identifies what a transformation artifact contains
type ArtifactKind string

const (
	ArtifactDiff         ArtifactKind = "diff"
	ArtifactLog          ArtifactKind = "log"
	ArtifactCoverage     ArtifactKind = "coverage"
	ArtifactJUnit        ArtifactKind = "junit"
	ArtifactHTML         ArtifactKind = "html"
	ArtifactJSON         ArtifactKind = "json"
	ArtifactScreenshot   ArtifactKind = "screenshot"
	ArtifactBundleReport ArtifactKind = "bundle_report"
)

// Decision is the final verdict recorded for a transformation
type Decision string

const (
	DecisionProceed      Decision = "proceed"
	DecisionFixRequired  Decision = "fix_required"
	DecisionRollback     Decision = "rollback"
	DecisionManualReview Decision = "manual_review"
)

// IsValid checks if the decision value is valid
func (d Decision) IsValid() bool {
	switch d {
	case DecisionProceed, DecisionFixRequired, DecisionRollback, DecisionManualReview:
		return true
	}
	return false
}

// CoreProtectionStatus summarizes whether a transformation touched the pristine core
type CoreProtectionStatus string

const (
	ProtectionSafe              CoreProtectionStatus = "safe"
	ProtectionViolationDetected CoreProtectionStatus = "violation_detected"
	ProtectionViolationBlocked  CoreProtectionStatus = "violation_blocked"
)

// StrategyCategory groups adaptive strategies by what they teach
type StrategyCategory string

const (
	StrategyCodeGeneration    StrategyCategory = "code_generation"
	StrategyErrorRecovery     StrategyCategory = "error_recovery"
	StrategyOptimization      StrategyCategory = "optimization"
	StrategyUserPreference    StrategyCategory = "user_preference"
	StrategyContextAdaptation StrategyCategory = "context_adaptation"
)

// IsValid checks if the strategy category is valid
func (c StrategyCategory) IsValid() bool {
	switch c {
	case StrategyCodeGeneration, StrategyErrorRecovery, StrategyOptimization,
		StrategyUserPreference, StrategyContextAdaptation:
		return true
	}
	return false
}

// ChannelType identifies a permeability channel. The wire names are kept
// from the original system: sodium = high-security, potassium = learning,
// calcium = emergency, data = general data, energy = throughput.
type ChannelType string

const (
	ChannelSodium    ChannelType = "sodium"
	ChannelPotassium ChannelType = "potassium"
	ChannelCalcium   ChannelType = "calcium"
	ChannelData      ChannelType = "data"
	ChannelEnergy    ChannelType = "energy"
)

// DataCategory classifies payloads crossing between the protected and
// learning zones. Categories are inferred from payload shape.
type DataCategory string

const (
	DataTransformation    DataCategory = "transformation"
	DataCoreProtection    DataCategory = "core_protection"
	DataSecurityCritical  DataCategory = "security_critical"
	DataConsequenceRecord DataCategory = "consequence_record"
	DataLearningStrategy  DataCategory = "learning_strategy"
	DataPerformanceMetric DataCategory = "performance_metric"
	DataSystemError       DataCategory = "system_error"
	DataUnknown           DataCategory = "unknown"
)

// GitStats captures the version-control footprint of a transformation
type GitStats struct {
	SHA          string `json:"sha"`
	Additions    int    `json:"additions"`
	Deletions    int    `json:"deletions"`
	ChangedFiles int    `json:"changed_files"`
}

// Transformation is one recorded unit of code change (one patch) with full
// provenance. Immutable once finalized; owned exclusively by the Recorder
// instance that created it.
type Transformation struct {
	ID                   string               `json:"id"`
	PatchID              string               `json:"patch_id"`
	BatchID              string               `json:"batch_id,omitempty"`
	Branch               string               `json:"branch"`
	AuthorID             string               `json:"author_id"`
	Timestamp            time.Time            `json:"timestamp"`
	Categories           []string             `json:"categories,omitempty"`
	FilesTouched         []string             `json:"files_touched"`
	GitStats             GitStats             `json:"git_stats"`
	CoreProtectionStatus CoreProtectionStatus `json:"core_protection_status"`
}

// TransformationID derives the deterministic transformation identity from
// the patch id and the 7-character short commit SHA.
func TransformationID(patchID, shortSHA string) string {
	return fmt.Sprintf("patch-%s@%s", patchID, shortSHA)
}

// ObservationEvent is a single telemetry event attached to an open
// transformation. The event list is append-only.
type ObservationEvent struct {
	Name      string                 `json:"name"`
	Timestamp time.Time              `json:"timestamp"`
	Severity  Severity               `json:"severity"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Category  EventCategory          `json:"category"`
}

// GuardrailResult is the recorded outcome of one guardrail invocation
type GuardrailResult struct {
	Name       GuardrailName      `json:"name"`
	Status     GuardrailStatus    `json:"status"`
	Timestamp  time.Time          `json:"timestamp"`
	DurationMS int64              `json:"duration_ms"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Artifacts  []string           `json:"artifacts,omitempty"`
	ExitCode   *int               `json:"exit_code,omitempty"`
	Stdout     string             `json:"stdout,omitempty"`
	Stderr     string             `json:"stderr,omitempty"`
}

// Artifact is a file produced while processing a transformation
type Artifact struct {
	ID               string            `json:"id"`
	TransformationID string            `json:"transformation_id"`
	Kind             ArtifactKind      `json:"kind"`
	Path             string            `json:"path"`
	Hash             string            `json:"hash,omitempty"`
	Size             int64             `json:"size,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

// ToolCall records one tool invocation made while a transformation was open.
// CoreProtectionCheck is set when the call targeted a pristine-core path.
type ToolCall struct {
	ID                  string                 `json:"id"`
	Name                string                 `json:"name"`
	Timestamp           time.Time              `json:"timestamp"`
	Parameters          map[string]interface{} `json:"parameters,omitempty"`
	Result              string                 `json:"result,omitempty"`
	Error               string                 `json:"error,omitempty"`
	DurationMS          int64                  `json:"duration_ms,omitempty"`
	CoreProtectionCheck bool                   `json:"core_protection_check"`
}

// ConsequenceRecord is the finalized, immutable aggregate for one
// transformation. Written once: an append-only ledger entry plus a rendered
// report.
type ConsequenceRecord struct {
	Transformation        Transformation     `json:"transformation"`
	Events                []ObservationEvent `json:"events"`
	Guardrails            []GuardrailResult  `json:"guardrails"`
	Artifacts             []Artifact         `json:"artifacts"`
	ToolCalls             []ToolCall         `json:"tool_calls"`
	Summary               string             `json:"summary"`
	Decision              Decision           `json:"decision"`
	CoreIntegrityVerified bool               `json:"core_integrity_verified"`
	LearningInsights      []string           `json:"learning_insights,omitempty"`
	Redactions            []string           `json:"redactions,omitempty"`
	Version               int                `json:"version"`
}

// Violation describes one protected path touched by a transformation
type Violation struct {
	Path     string   `json:"path"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// CoreProtectionResult is produced fresh on each validation or audit call.
// IsValid is false iff at least one violation has severity critical.
type CoreProtectionResult struct {
	IsValid        bool        `json:"is_valid"`
	Violations     []Violation `json:"violations"`
	ProtectedPaths []string    `json:"protected_paths"`
	AllowedPaths   []string    `json:"allowed_paths"`
	Timestamp      time.Time   `json:"timestamp"`
}

// HasCritical reports whether any violation has severity critical
func (r *CoreProtectionResult) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// StrategyMetadata carries the match surface used when ranking strategies
// against a query context. Empty lists never disqualify a strategy.
type StrategyMetadata struct {
	FileTypes    []string `json:"file_types,omitempty"`
	Tools        []string `json:"tools,omitempty"`
	ErrorContext []string `json:"error_context,omitempty"`
	Directory    string   `json:"directory,omitempty"`
	Archived     bool     `json:"archived,omitempty"`
	Source       string   `json:"source,omitempty"`
}

// AdaptiveStrategy is a mined, rankable, reusable pattern describing how
// past transformations behaved. Mutated in place on every recorded usage;
// low performers are archived, never erased.
type AdaptiveStrategy struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Category    StrategyCategory `json:"category"`
	Pattern     string           `json:"pattern"`
	Confidence  float64          `json:"confidence"`
	UsageCount  int              `json:"usage_count"`
	SuccessRate float64          `json:"success_rate"`
	LastUsed    time.Time        `json:"last_used"`
	Metadata    StrategyMetadata `json:"metadata,omitempty"`
}

// MembraneChannel is a typed, gated route controlling whether a category of
// data may move between the protected and learning zones.
type MembraneChannel struct {
	ID          string         `json:"id"`
	Type        ChannelType    `json:"type"`
	IsOpen      bool           `json:"is_open"`
	Selectivity []DataCategory `json:"selectivity"`
	Conductance float64        `json:"conductance"`
	GateVoltage float64        `json:"gate_voltage,omitempty"`
}

// Accepts reports whether the channel's allow-list includes the category
func (m *MembraneChannel) Accepts(category DataCategory) bool {
	for _, c := range m.Selectivity {
		if c == category {
			return true
		}
	}
	return false
}

// HomeostasisMetrics is the aggregate self-health signal of the governance
// system, recalculated periodically. It describes the governance system
// itself, not the guarded repository.
type HomeostasisMetrics struct {
	PH          float64                 `json:"ph"`
	Temperature float64                 `json:"temperature"`
	Pressure    float64                 `json:"pressure"`
	IonBalance  map[ChannelType]float64 `json:"ion_balance"`
	Timestamp   time.Time               `json:"timestamp"`
}
