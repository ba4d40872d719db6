package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pristine-labs/coreguard/internal/index"
	"github.com/pristine-labs/coreguard/internal/types"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded transformations from the consequence index",
	Long: `List finalized consequence records, newest first, with optional filters.

Examples:
  coreguard list
  coreguard list --patch p-42
  coreguard list --branch main --author alice --limit 20`,
	Run: func(cmd *cobra.Command, args []string) {
		patchID, _ := cmd.Flags().GetString("patch")
		branch, _ := cmd.Flags().GetString("branch")
		author, _ := cmd.Flags().GetString("author")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		if err := runList(cmd, patchID, branch, author, limit, offset); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	listCmd.Flags().String("patch", "", "Filter by patch id")
	listCmd.Flags().String("branch", "", "Filter by branch")
	listCmd.Flags().String("author", "", "Filter by author id")
	listCmd.Flags().Int("limit", 20, "Maximum records to show")
	listCmd.Flags().Int("offset", 0, "Records to skip")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, patchID, branch, author string, limit, offset int) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.IndexEnabled {
		return fmt.Errorf("the consequence index is disabled (COREGUARD_INDEX_ENABLED=false)")
	}

	idx, err := index.Open(cfg.IndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	records, err := idx.List(cmd.Context(), index.Filter{
		PatchID:  patchID,
		Branch:   branch,
		AuthorID: author,
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Println("No transformations recorded.")
		return nil
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	for _, r := range records {
		integrity := green("✓")
		if !r.CoreIntegrityVerified {
			integrity = red("✗")
		}
		failed := 0
		for _, g := range r.Guardrails {
			if g.Status == types.GuardrailFail || g.Status == types.GuardrailError {
				failed++
			}
		}
		fmt.Printf("%s %s  branch=%s author=%s decision=%s guardrails=%d/%d  %s\n",
			integrity,
			r.Transformation.ID,
			r.Transformation.Branch,
			r.Transformation.AuthorID,
			r.Decision,
			len(r.Guardrails)-failed,
			len(r.Guardrails),
			r.Transformation.Timestamp.Format("2006-01-02 15:04"),
		)
		if r.Summary != "" {
			fmt.Printf("    %s\n", r.Summary)
		}
	}
	return nil
}
