package protection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pristine-labs/coreguard/internal/types"
)

// AuditTier controls how hard an audit target's failures hit
type AuditTier string

const (
	// TierCritical targets block the workflow when missing or corrupted
	TierCritical AuditTier = "critical"
	// TierImportant targets surface as error-severity violations
	TierImportant AuditTier = "important"
)

// AuditTarget is one file or directory checked by AuditCoreIntegrity.
// When RequiredToken is non-empty the target file must contain it; this is a
// shallow content sanity check, not a parse.
type AuditTarget struct {
	Path          string    `yaml:"path"`
	Tier          AuditTier `yaml:"tier"`
	Directory     bool      `yaml:"directory,omitempty"`
	RequiredToken string    `yaml:"required_token,omitempty"`
}

// DefaultAuditTargets lists the critical files and directories of the
// governed application, with the token each is expected to contain.
func DefaultAuditTargets() []AuditTarget {
	return []AuditTarget{
		{Path: "src/types/agent.ts", Tier: TierCritical, RequiredToken: "export "},
		{Path: "src/types", Tier: TierCritical, Directory: true},
		{Path: "src/lib/core", Tier: TierCritical, Directory: true},
		{Path: "supabase/schema.sql", Tier: TierCritical, RequiredToken: "create table"},
		{Path: "package.json", Tier: TierImportant, RequiredToken: `"name"`},
		{Path: "tsconfig.json", Tier: TierImportant, RequiredToken: "compilerOptions"},
	}
}

// AuditCoreIntegrity walks the configured audit targets independent of any
// pending transformation, verifying each exists and passes its shallow
// content check. A missing critical target is always a critical violation;
// a failed content check is error severity, or critical for critical-tier
// targets. The result is produced fresh on every call.
func (c *Classifier) AuditCoreIntegrity() types.CoreProtectionResult {
	result := types.CoreProtectionResult{
		IsValid:        true,
		Violations:     []types.Violation{},
		ProtectedPaths: []string{},
		AllowedPaths:   []string{},
		Timestamp:      time.Now().UTC(),
	}

	for _, target := range c.policy.AuditTargets {
		result.ProtectedPaths = append(result.ProtectedPaths, target.Path)

		if v, ok := c.auditTarget(target); ok {
			result.Violations = append(result.Violations, v)
			if v.Severity == types.SeverityCritical {
				result.IsValid = false
			}
		}
	}

	return result
}

// auditTarget checks one target, returning a violation when it fails
func (c *Classifier) auditTarget(target AuditTarget) (types.Violation, bool) {
	full := filepath.Join(c.root, filepath.FromSlash(target.Path))

	info, err := os.Stat(full)
	if err != nil {
		severity := types.SeverityError
		if target.Tier == TierCritical {
			// Missing critical targets always block, regardless of the
			// content check outcome.
			severity = types.SeverityCritical
		}
		return types.Violation{
			Path:     target.Path,
			Reason:   "required file or directory is missing",
			Severity: severity,
		}, true
	}

	if target.Directory {
		if !info.IsDir() {
			return types.Violation{
				Path:     target.Path,
				Reason:   "expected a directory",
				Severity: tierSeverity(target.Tier),
			}, true
		}
		return types.Violation{}, false
	}

	if target.RequiredToken == "" {
		return types.Violation{}, false
	}

	content, err := os.ReadFile(full)
	if err != nil {
		return types.Violation{
			Path:     target.Path,
			Reason:   fmt.Sprintf("unreadable: %v", err),
			Severity: tierSeverity(target.Tier),
		}, true
	}

	if !strings.Contains(strings.ToLower(string(content)), strings.ToLower(target.RequiredToken)) {
		return types.Violation{
			Path:     target.Path,
			Reason:   fmt.Sprintf("content sanity check failed: missing %q", target.RequiredToken),
			Severity: tierSeverity(target.Tier),
		}, true
	}

	return types.Violation{}, false
}

func tierSeverity(tier AuditTier) types.Severity {
	if tier == TierCritical {
		return types.SeverityCritical
	}
	return types.SeverityError
}

// EnforceProtection runs AuditCoreIntegrity and fails with a blocking error
// when any critical violation is found. The error message enumerates every
// critical violation. Non-critical violations never block.
func (c *Classifier) EnforceProtection() error {
	audit := c.AuditCoreIntegrity()
	if audit.IsValid {
		return nil
	}

	var lines []string
	for _, v := range audit.Violations {
		if v.Severity == types.SeverityCritical {
			lines = append(lines, fmt.Sprintf("%s: %s", v.Path, v.Reason))
		}
	}
	return fmt.Errorf("CRITICAL: core integrity violated:\n  %s", strings.Join(lines, "\n  "))
}
