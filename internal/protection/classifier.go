// Package protection classifies repository paths into pristine-core paths
// that automation must never modify, learning-layer paths the governance
// system itself writes to, and ordinary paths. It also audits the integrity
// of the pristine core on disk.
package protection

import (
	"fmt"
	"strings"
	"time"

	"github.com/pristine-labs/coreguard/internal/types"
)

// Policy configures the classifier. All pattern lists use the glob syntax
// documented on compileGlob. The zero value is not useful; start from
// DefaultPolicy and override fields as needed.
type Policy struct {
	// PristinePatterns define the pristine core. A path matching any of
	// these must never be modified by automation.
	PristinePatterns []string `yaml:"pristine_patterns"`

	// LearningPatterns define the learning layer: paths the governance
	// system itself is expected to write (ledgers, strategies, reports).
	// Disjoint from PristinePatterns.
	LearningPatterns []string `yaml:"learning_patterns"`

	// CriticalPatterns is the subset of protected paths whose modification
	// is a critical violation. Checked before ConfigPatterns.
	CriticalPatterns []string `yaml:"critical_patterns"`

	// ConfigPatterns name project configuration files whose modification is
	// an error-severity violation. Any other protected match is a warning.
	ConfigPatterns []string `yaml:"config_patterns"`

	// NormalizeDotPrefix controls whether a leading "./" is stripped during
	// path normalization. The original system leaves "./"-prefixed paths
	// unmatched against otherwise-identical patterns; that asymmetry is
	// preserved by default (false).
	NormalizeDotPrefix bool `yaml:"normalize_dot_prefix"`

	// AuditTargets are the files and directories walked by
	// AuditCoreIntegrity.
	AuditTargets []AuditTarget `yaml:"audit_targets"`
}

// DefaultPolicy returns the protection policy for the governed application.
// The governed repository is a TypeScript web application; its type
// definitions, core libraries, and database schema form the pristine core.
func DefaultPolicy() Policy {
	return Policy{
		PristinePatterns: []string{
			"src/types/**",
			"src/lib/core/**",
			"src/lib/protection/**",
			"src/middleware.ts",
			"supabase/migrations/**",
			"supabase/schema.sql",
			"package.json",
			"package-lock.json",
			"tsconfig.json",
			"next.config.mjs",
			".env",
			".env.*",
			".github/**",
			"docs/architecture/**",
		},
		LearningPatterns: []string{
			".governance/**",
			".learning/**",
			"docs/consequences/**",
		},
		CriticalPatterns: []string{
			"src/types/**",
			"src/lib/core/**",
			"src/middleware.ts",
			"supabase/migrations/**",
			"supabase/schema.sql",
		},
		ConfigPatterns: []string{
			"package.json",
			"package-lock.json",
			"tsconfig.json",
			"next.config.mjs",
			".env",
			".env.*",
			".github/**",
		},
		AuditTargets: DefaultAuditTargets(),
	}
}

// Classifier answers path-protection questions for a fixed policy.
// Construct once and reuse; all pattern compilation happens up front.
type Classifier struct {
	policy   Policy
	root     string
	pristine *patternList
	learning *patternList
	critical *patternList
	configs  *patternList
}

// NewClassifier compiles the policy's pattern lists. root is the filesystem
// directory audits run against (usually the governed repository root).
func NewClassifier(policy Policy, root string) (*Classifier, error) {
	pristine, err := newPatternList(policy.PristinePatterns)
	if err != nil {
		return nil, fmt.Errorf("pristine patterns: %w", err)
	}
	learning, err := newPatternList(policy.LearningPatterns)
	if err != nil {
		return nil, fmt.Errorf("learning patterns: %w", err)
	}
	critical, err := newPatternList(policy.CriticalPatterns)
	if err != nil {
		return nil, fmt.Errorf("critical patterns: %w", err)
	}
	configs, err := newPatternList(policy.ConfigPatterns)
	if err != nil {
		return nil, fmt.Errorf("config patterns: %w", err)
	}
	if root == "" {
		root = "."
	}
	return &Classifier{
		policy:   policy,
		root:     root,
		pristine: pristine,
		learning: learning,
		critical: critical,
		configs:  configs,
	}, nil
}

// NormalizePath strips leading slashes and converts backslashes to forward
// slashes. A leading "./" survives normalization unless NormalizeDotPrefix
// is set. Normalization is idempotent.
func (c *Classifier) NormalizePath(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	p = strings.TrimLeft(p, "/")
	if c.policy.NormalizeDotPrefix {
		for strings.HasPrefix(p, "./") {
			p = p[2:]
		}
	}
	return p
}

// IsPristineCorePath reports whether the path belongs to the pristine core.
// Matching is case-sensitive.
func (c *Classifier) IsPristineCorePath(path string) bool {
	return c.pristine.match(c.NormalizePath(path))
}

// IsLearningLayerPath reports whether the path belongs to the learning layer
func (c *Classifier) IsLearningLayerPath(path string) bool {
	return c.learning.match(c.NormalizePath(path))
}

// ValidateTransformation partitions the touched paths into protected and
// allowed, assigning a severity to every protected path. It never fails;
// IsValid reflects whether any critical violation exists.
func (c *Classifier) ValidateTransformation(paths []string) types.CoreProtectionResult {
	result := types.CoreProtectionResult{
		IsValid:        true,
		Violations:     []types.Violation{},
		ProtectedPaths: []string{},
		AllowedPaths:   []string{},
		Timestamp:      time.Now().UTC(),
	}

	for _, path := range paths {
		normalized := c.NormalizePath(path)
		if !c.pristine.match(normalized) {
			result.AllowedPaths = append(result.AllowedPaths, normalized)
			continue
		}

		result.ProtectedPaths = append(result.ProtectedPaths, normalized)
		severity := c.classifySeverity(normalized)
		result.Violations = append(result.Violations, types.Violation{
			Path:     normalized,
			Reason:   violationReason(severity),
			Severity: severity,
		})
		if severity == types.SeverityCritical {
			result.IsValid = false
		}
	}

	return result
}

// classifySeverity applies the fixed classification table: high-value
// files and directories are critical, named configuration files are errors,
// and any other protected match is a warning.
func (c *Classifier) classifySeverity(normalized string) types.Severity {
	if c.critical.match(normalized) {
		return types.SeverityCritical
	}
	if c.configs.match(normalized) {
		return types.SeverityError
	}
	return types.SeverityWarn
}

func violationReason(severity types.Severity) string {
	switch severity {
	case types.SeverityCritical:
		return "pristine core file must never be modified by automated transformations"
	case types.SeverityError:
		return "protected configuration file requires manual review before modification"
	default:
		return "protected path modified"
	}
}
