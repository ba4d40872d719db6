package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pristine-labs/coreguard/internal/learning"
	"github.com/pristine-labs/coreguard/internal/types"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "Query and update mined adaptive strategies",
}

var strategiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List relevant strategies ranked by confidence, success rate and recency",
	Long: `Rank stored strategies against an optional query context. At most the
top 10 matches are returned.

Examples:
  coreguard strategies list
  coreguard strategies list --category optimization
  coreguard strategies list --file-types ts,tsx --tools edit_file`,
	Run: func(cmd *cobra.Command, args []string) {
		category, _ := cmd.Flags().GetString("category")
		fileTypes, _ := cmd.Flags().GetString("file-types")
		tools, _ := cmd.Flags().GetString("tools")
		errCtx, _ := cmd.Flags().GetString("errors")

		if err := runStrategiesList(cmd, category, fileTypes, tools, errCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

var strategiesMarkCmd = &cobra.Command{
	Use:   "mark <strategy-id>",
	Short: "Record one usage outcome for a strategy",
	Long: `Update a strategy after applying it: bump its usage count, fold the
outcome into its success rate, and adjust its confidence.

Examples:
  coreguard strategies mark 7d8f... --success
  coreguard strategies mark 7d8f... --failure`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		success, _ := cmd.Flags().GetBool("success")
		failure, _ := cmd.Flags().GetBool("failure")

		if err := runStrategiesMark(cmd, args[0], success, failure); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	strategiesListCmd.Flags().String("category", "", "Filter by strategy category")
	strategiesListCmd.Flags().String("file-types", "", "Comma-separated file extensions in the working context")
	strategiesListCmd.Flags().String("tools", "", "Comma-separated tool names in use")
	strategiesListCmd.Flags().String("errors", "", "Comma-separated error context tags")

	strategiesMarkCmd.Flags().Bool("success", false, "The strategy worked")
	strategiesMarkCmd.Flags().Bool("failure", false, "The strategy did not work")

	strategiesCmd.AddCommand(strategiesListCmd)
	strategiesCmd.AddCommand(strategiesMarkCmd)
	rootCmd.AddCommand(strategiesCmd)
}

func openEngine() (*learning.Engine, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	store, err := learning.NewFileStore(cfg.StrategyDir)
	if err != nil {
		return nil, err
	}
	return learning.NewEngine(store), nil
}

func runStrategiesList(cmd *cobra.Command, category, fileTypes, tools, errCtx string) error {
	engine, err := openEngine()
	if err != nil {
		return err
	}

	if category != "" && !types.StrategyCategory(category).IsValid() {
		return fmt.Errorf("invalid category %q", category)
	}

	strategies, err := engine.GetRelevantStrategies(cmd.Context(), learning.QueryContext{
		Category:     types.StrategyCategory(category),
		FileTypes:    splitCSV(fileTypes),
		ToolsUsed:    splitCSV(tools),
		ErrorContext: splitCSV(errCtx),
	})
	if err != nil {
		return err
	}

	if len(strategies) == 0 {
		fmt.Println("No matching strategies.")
		return nil
	}

	cyan := color.New(color.FgCyan).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	for _, s := range strategies {
		fmt.Printf("%s %s [%s]\n", bold(s.Name), cyan(s.ID), s.Category)
		fmt.Printf("    confidence=%.2f success=%.2f used=%d last=%s\n",
			s.Confidence, s.SuccessRate, s.UsageCount, s.LastUsed.Format("2006-01-02"))
		fmt.Printf("    %s\n", s.Pattern)
	}
	return nil
}

func runStrategiesMark(cmd *cobra.Command, id string, success, failure bool) error {
	if success == failure {
		return fmt.Errorf("exactly one of --success or --failure is required")
	}

	engine, err := openEngine()
	if err != nil {
		return err
	}

	if err := engine.RecordStrategyUsage(cmd.Context(), id, success); err != nil {
		return err
	}

	outcome := "success"
	if failure {
		outcome = "failure"
	}
	fmt.Printf("Recorded %s for strategy %s\n", outcome, id)
	return nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
