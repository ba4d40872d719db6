package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pristine-labs/coreguard/internal/gitinfo"
	"github.com/pristine-labs/coreguard/internal/index"
	"github.com/pristine-labs/coreguard/internal/ledger"
	"github.com/pristine-labs/coreguard/internal/learning"
	"github.com/pristine-labs/coreguard/internal/recorder"
	"github.com/pristine-labs/coreguard/internal/types"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record one transformation: validate paths, run guardrails, write the ledger",
	Long: `Record a transformation for a patch. The touched files are validated
against the protection policy, the quality gates run in their fixed order,
and the finalized consequence record is appended to the patch ledger.

Examples:
  # Record a patch touching two files
  coreguard record --patch p-42 --files src/app/page.tsx,components/nav.tsx

  # Record with a summary and an explicit decision
  coreguard record --patch p-42 --files components/nav.tsx \
    --summary "nav refactor" --decision fix_required`,
	Run: func(cmd *cobra.Command, args []string) {
		patchID, _ := cmd.Flags().GetString("patch")
		files, _ := cmd.Flags().GetString("files")
		batchID, _ := cmd.Flags().GetString("batch")
		summary, _ := cmd.Flags().GetString("summary")
		decision, _ := cmd.Flags().GetString("decision")
		branch, _ := cmd.Flags().GetString("branch")
		author, _ := cmd.Flags().GetString("author")

		if err := runRecord(cmd.Context(), patchID, files, batchID, summary, decision, branch, author); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	recordCmd.Flags().String("patch", "", "Patch id (required)")
	recordCmd.Flags().String("files", "", "Comma-separated list of touched file paths")
	recordCmd.Flags().String("batch", "", "Optional batch id grouping related patches")
	recordCmd.Flags().String("summary", "", "Human-readable summary of the change")
	recordCmd.Flags().String("decision", "", "Final decision: proceed, fix_required, rollback, manual_review (default proceed)")
	recordCmd.Flags().String("branch", "", "Branch name (default: from git)")
	recordCmd.Flags().String("author", "", "Author identity (default: from git)")
	recordCmd.MarkFlagRequired("patch")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(ctx context.Context, patchID, files, batchID, summary, decision, branch, author string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, pf, err := loadConfig()
	if err != nil {
		return err
	}

	classifier, err := buildClassifier(cfg, pf)
	if err != nil {
		return err
	}
	runner := buildRunner(cfg, pf)

	var sinkOpts []ledger.Option
	if cfg.IndexEnabled {
		idx, err := index.Open(cfg.IndexPath)
		if err != nil {
			return err
		}
		defer idx.Close()
		sinkOpts = append(sinkOpts, ledger.WithMirror(idx))
	}
	sink := ledger.NewFileSink(cfg.LedgerDir, sinkOpts...)

	store, err := learning.NewFileStore(cfg.StrategyDir)
	if err != nil {
		return err
	}
	engine := learning.NewEngine(store)

	// Outside a git checkout the recorder falls back to a deterministic
	// sha derived from the patch id.
	var vcs recorder.VCS
	if client, err := gitinfo.New(ctx, cfg.RepoRoot); err == nil {
		vcs = client
	}

	rec, err := recorder.New(recorder.Config{
		Classifier: classifier,
		Runner:     runner,
		Sink:       sink,
		VCS:        vcs,
		Learner:    engine,
	})
	if err != nil {
		return err
	}

	fileList := splitFileList(files)
	id, err := rec.Start(ctx, recorder.StartContext{
		PatchID:      patchID,
		BatchID:      batchID,
		Branch:       branch,
		AuthorID:     author,
		FilesTouched: fileList,
	})
	if err != nil {
		return err
	}

	for _, f := range fileList {
		if err := rec.AttachToolCall(types.ToolCall{
			Name:       "apply_patch",
			Parameters: map[string]interface{}{"path": f},
		}); err != nil {
			return err
		}
	}

	// A non-nil record alongside an error means the record was persisted but
	// learning failed; show the summary either way.
	record, err := rec.Finalize(ctx, summary, types.Decision(decision))
	if record == nil {
		return err
	}
	printRecordSummary(record, id, sink, patchID)
	return err
}

func printRecordSummary(record *types.ConsequenceRecord, id string, sink *ledger.FileSink, patchID string) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	bold := color.New(color.Bold).SprintFunc()

	passed, failed := 0, 0
	for _, g := range record.Guardrails {
		switch g.Status {
		case types.GuardrailFail, types.GuardrailError:
			failed++
		default:
			passed++
		}
	}

	fmt.Printf("%s %s\n", bold("Transformation:"), id)
	fmt.Printf("%s %d passed, %d failed (%d total)\n", bold("Guardrails:"), passed, failed, len(record.Guardrails))
	fmt.Printf("%s %s\n", bold("Decision:"), record.Decision)

	integrity := green("verified")
	if !record.CoreIntegrityVerified {
		integrity = red("not verified")
	}
	fmt.Printf("%s %s\n", bold("Core integrity:"), integrity)

	for _, insight := range record.LearningInsights {
		fmt.Printf("  - %s\n", insight)
	}

	fmt.Printf("%s %s\n", bold("Ledger:"), sink.LedgerPath(patchID))
	fmt.Printf("%s %s\n", bold("Report:"), sink.ReportPath(patchID))
}

func splitFileList(files string) []string {
	var out []string
	for _, f := range strings.Split(files, ",") {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
