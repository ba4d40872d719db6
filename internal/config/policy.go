package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pristine-labs/coreguard/internal/guardrail"
	"github.com/pristine-labs/coreguard/internal/protection"
)

// PolicyFile is the YAML override surface: protection patterns and audit
// targets, plus the guardrail command table. Empty sections keep the
// built-in defaults.
type PolicyFile struct {
	Protection protection.Policy   `yaml:"protection"`
	Guardrails []guardrail.Command `yaml:"guardrails"`
}

// LoadPolicyFile parses a YAML policy file
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file: %w", err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}
	return &pf, nil
}

// EffectivePolicy merges the file's protection section over the defaults.
// Pattern lists and audit targets replace the defaults only when present in
// the file; the NormalizeDotPrefix flag always comes from the file.
func (pf *PolicyFile) EffectivePolicy() protection.Policy {
	policy := protection.DefaultPolicy()
	if pf == nil {
		return policy
	}

	if len(pf.Protection.PristinePatterns) > 0 {
		policy.PristinePatterns = pf.Protection.PristinePatterns
	}
	if len(pf.Protection.LearningPatterns) > 0 {
		policy.LearningPatterns = pf.Protection.LearningPatterns
	}
	if len(pf.Protection.CriticalPatterns) > 0 {
		policy.CriticalPatterns = pf.Protection.CriticalPatterns
	}
	if len(pf.Protection.ConfigPatterns) > 0 {
		policy.ConfigPatterns = pf.Protection.ConfigPatterns
	}
	if len(pf.Protection.AuditTargets) > 0 {
		policy.AuditTargets = pf.Protection.AuditTargets
	}
	policy.NormalizeDotPrefix = pf.Protection.NormalizeDotPrefix
	return policy
}

// EffectiveGuardrails returns the file's guardrail commands, or the default
// command table when the file defines none.
func (pf *PolicyFile) EffectiveGuardrails() []guardrail.Command {
	if pf == nil || len(pf.Guardrails) == 0 {
		return guardrail.DefaultCommands()
	}
	return pf.Guardrails
}
