package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pristine-labs/coreguard/internal/config"
	"github.com/pristine-labs/coreguard/internal/guardrail"
	"github.com/pristine-labs/coreguard/internal/protection"
)

var rootCmd = &cobra.Command{
	Use:   "coreguard",
	Short: "Transformation governance and adaptive learning",
	Long: `coreguard records code-change transformations applied to a repository,
enforces pristine-core path protection, runs the project's quality gates,
and mines reusable strategies from the outcomes.

Configuration comes from COREGUARD_* environment variables; protection
patterns and guardrail commands can be overridden with a YAML policy file
(COREGUARD_POLICY_FILE).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the environment configuration and the optional policy
// file named by it.
func loadConfig() (config.GovernanceConfig, *config.PolicyFile, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return cfg, nil, err
	}

	var pf *config.PolicyFile
	if cfg.PolicyFile != "" {
		pf, err = config.LoadPolicyFile(cfg.PolicyFile)
		if err != nil {
			return cfg, nil, err
		}
	}
	return cfg, pf, nil
}

func buildClassifier(cfg config.GovernanceConfig, pf *config.PolicyFile) (*protection.Classifier, error) {
	return protection.NewClassifier(pf.EffectivePolicy(), cfg.RepoRoot)
}

func buildRunner(cfg config.GovernanceConfig, pf *config.PolicyFile) *guardrail.Runner {
	return guardrail.NewRunner(&guardrail.Config{
		WorkingDir: cfg.RepoRoot,
		Commands:   pf.EffectiveGuardrails(),
		Timeout:    cfg.GuardrailTimeout(),
		MaxProcs:   int64(cfg.GuardrailMaxProcs),
	})
}
