package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pristine-labs/coreguard/internal/types"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit the integrity of the pristine core on disk",
	Long: `Walk the configured audit targets and verify each exists and passes its
shallow content check.

Examples:
  # Report violations without blocking
  coreguard audit

  # Exit non-zero when any critical violation exists
  coreguard audit --enforce`,
	Run: func(cmd *cobra.Command, args []string) {
		enforce, _ := cmd.Flags().GetBool("enforce")

		if err := runAudit(enforce); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	auditCmd.Flags().Bool("enforce", false, "Exit non-zero on any critical violation")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(enforce bool) error {
	cfg, pf, err := loadConfig()
	if err != nil {
		return err
	}
	classifier, err := buildClassifier(cfg, pf)
	if err != nil {
		return err
	}

	result := classifier.AuditCoreIntegrity()
	printAuditResult(result)

	if enforce {
		return classifier.EnforceProtection()
	}
	return nil
}

func printAuditResult(result types.CoreProtectionResult) {
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	fmt.Printf("%s %d target(s) checked\n", bold("Core integrity audit:"), len(result.ProtectedPaths))

	if len(result.Violations) == 0 {
		fmt.Printf("%s no violations\n", green("✓"))
		return
	}

	for _, v := range result.Violations {
		glyph := yellow("⚠")
		if v.Severity == types.SeverityCritical {
			glyph = red("✗")
		}
		fmt.Printf("%s [%s] %s: %s\n", glyph, v.Severity, v.Path, v.Reason)
	}

	if result.IsValid {
		fmt.Printf("%s no critical violations\n", green("✓"))
	} else {
		fmt.Printf("%s critical violations present\n", red("✗"))
	}
}
