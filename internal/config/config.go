// Package config loads governance configuration from environment variables
// with validated defaults, plus an optional YAML policy file overriding the
// protection patterns and guardrail commands.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// GovernanceConfig holds configuration for the governance core
type GovernanceConfig struct {
	// RepoRoot is the governed repository root, used for protection audits
	// and as the guardrail working directory
	// Default: "."
	RepoRoot string

	// LedgerDir is where per-patch consequence ledgers and reports live
	// Default: ".governance/consequences"
	LedgerDir string

	// StrategyDir is where the learning engine persists adaptive strategies
	// Default: ".learning/strategies"
	StrategyDir string

	// IndexPath is the SQLite consequence index database
	// Default: ".governance/index.db"
	IndexPath string

	// IndexEnabled controls whether ledger writes are mirrored into the
	// SQLite index
	// Default: true
	IndexEnabled bool

	// GuardrailTimeoutSeconds bounds each guardrail subprocess
	// Default: 600, Range: 1-7200
	GuardrailTimeoutSeconds int

	// GuardrailMaxProcs bounds concurrent guardrail subprocesses across
	// recorder instances
	// Default: 1, Range: 1-16
	GuardrailMaxProcs int

	// HomeostasisIntervalSeconds is the regulator tick interval
	// Default: 60, Range: 1-3600
	HomeostasisIntervalSeconds int

	// TransportRate is the sustained active-transport budget in units/second
	// Default: 10, must be positive
	TransportRate float64

	// TransportBurst is the instantaneous active-transport budget ceiling
	// Default: 100, Range: 1-100000
	TransportBurst int

	// PolicyFile is an optional YAML file overriding protection patterns,
	// audit targets and guardrail commands. Empty means built-in defaults.
	PolicyFile string
}

// DefaultGovernanceConfig returns the default governance configuration
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		RepoRoot:                   ".",
		LedgerDir:                  ".governance/consequences",
		StrategyDir:                ".learning/strategies",
		IndexPath:                  ".governance/index.db",
		IndexEnabled:               true,
		GuardrailTimeoutSeconds:    600,
		GuardrailMaxProcs:          1,
		HomeostasisIntervalSeconds: 60,
		TransportRate:              10,
		TransportBurst:             100,
	}
}

// Validate checks if the configuration has valid values
func (c GovernanceConfig) Validate() error {
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root cannot be empty")
	}
	if c.LedgerDir == "" {
		return fmt.Errorf("ledger_dir cannot be empty")
	}
	if c.StrategyDir == "" {
		return fmt.Errorf("strategy_dir cannot be empty")
	}
	if c.IndexEnabled && c.IndexPath == "" {
		return fmt.Errorf("index_path cannot be empty when the index is enabled")
	}
	if c.GuardrailTimeoutSeconds < 1 || c.GuardrailTimeoutSeconds > 7200 {
		return fmt.Errorf("guardrail_timeout_seconds must be between 1 and 7200 (got %d)",
			c.GuardrailTimeoutSeconds)
	}
	if c.GuardrailMaxProcs < 1 || c.GuardrailMaxProcs > 16 {
		return fmt.Errorf("guardrail_max_procs must be between 1 and 16 (got %d)",
			c.GuardrailMaxProcs)
	}
	if c.HomeostasisIntervalSeconds < 1 || c.HomeostasisIntervalSeconds > 3600 {
		return fmt.Errorf("homeostasis_interval_seconds must be between 1 and 3600 (got %d)",
			c.HomeostasisIntervalSeconds)
	}
	if c.TransportRate <= 0 {
		return fmt.Errorf("transport_rate must be positive (got %v)", c.TransportRate)
	}
	if c.TransportBurst < 1 || c.TransportBurst > 100000 {
		return fmt.Errorf("transport_burst must be between 1 and 100000 (got %d)",
			c.TransportBurst)
	}
	return nil
}

// GuardrailTimeout returns the subprocess timeout as a duration
func (c GovernanceConfig) GuardrailTimeout() time.Duration {
	return time.Duration(c.GuardrailTimeoutSeconds) * time.Second
}

// HomeostasisInterval returns the regulator tick interval as a duration
func (c GovernanceConfig) HomeostasisInterval() time.Duration {
	return time.Duration(c.HomeostasisIntervalSeconds) * time.Second
}

// FromEnv creates a GovernanceConfig from environment variables, falling
// back to defaults.
//
// Environment variables:
//   - COREGUARD_REPO_ROOT: governed repository root (default: ".")
//   - COREGUARD_LEDGER_DIR: consequence ledger directory (default: ".governance/consequences")
//   - COREGUARD_STRATEGY_DIR: strategy store directory (default: ".learning/strategies")
//   - COREGUARD_INDEX_PATH: SQLite index path (default: ".governance/index.db")
//   - COREGUARD_INDEX_ENABLED: mirror records into the index (default: true)
//   - COREGUARD_GUARDRAIL_TIMEOUT_SECONDS: per-guardrail timeout (default: 600)
//   - COREGUARD_GUARDRAIL_MAX_PROCS: concurrent guardrail subprocesses (default: 1)
//   - COREGUARD_HOMEOSTASIS_INTERVAL_SECONDS: regulator tick interval (default: 60)
//   - COREGUARD_TRANSPORT_RATE: active-transport budget refill rate (default: 10)
//   - COREGUARD_TRANSPORT_BURST: active-transport budget ceiling (default: 100)
//   - COREGUARD_POLICY_FILE: YAML policy override file (default: unset)
//
// Returns an error if any environment variable has an invalid value.
func FromEnv() (GovernanceConfig, error) {
	cfg := DefaultGovernanceConfig()

	parseEnvString("COREGUARD_REPO_ROOT", &cfg.RepoRoot)
	parseEnvString("COREGUARD_LEDGER_DIR", &cfg.LedgerDir)
	parseEnvString("COREGUARD_STRATEGY_DIR", &cfg.StrategyDir)
	parseEnvString("COREGUARD_INDEX_PATH", &cfg.IndexPath)
	parseEnvString("COREGUARD_POLICY_FILE", &cfg.PolicyFile)

	if err := parseEnvBool("COREGUARD_INDEX_ENABLED", &cfg.IndexEnabled); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("COREGUARD_GUARDRAIL_TIMEOUT_SECONDS", &cfg.GuardrailTimeoutSeconds); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("COREGUARD_GUARDRAIL_MAX_PROCS", &cfg.GuardrailMaxProcs); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("COREGUARD_HOMEOSTASIS_INTERVAL_SECONDS", &cfg.HomeostasisIntervalSeconds); err != nil {
		return cfg, err
	}
	if err := parseEnvFloat("COREGUARD_TRANSPORT_RATE", &cfg.TransportRate); err != nil {
		return cfg, err
	}
	if err := parseEnvInt("COREGUARD_TRANSPORT_BURST", &cfg.TransportBurst); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func parseEnvString(key string, target *string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

func parseEnvInt(key string, target *int) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not an integer", key, val)
	}
	*target = n
	return nil
}

func parseEnvFloat(key string, target *float64) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a number", key, val)
	}
	*target = f
	return nil
}

func parseEnvBool(key string, target *bool) error {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return fmt.Errorf("invalid %s: %q is not a boolean", key, val)
	}
	*target = b
	return nil
}
