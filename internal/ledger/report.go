package ledger

import (
	"fmt"
	"strings"

	"github.com/pristine-labs/coreguard/internal/types"
)

// renderReport produces the human-readable CONSEQUENCES.md for a record
func renderReport(record *types.ConsequenceRecord) string {
	t := record.Transformation

	var sb strings.Builder
	fmt.Fprintf(&sb, "# Consequence Report: %s\n\n", t.ID)

	fmt.Fprintf(&sb, "- **Patch:** %s\n", t.PatchID)
	if t.BatchID != "" {
		fmt.Fprintf(&sb, "- **Batch:** %s\n", t.BatchID)
	}
	fmt.Fprintf(&sb, "- **Branch:** %s\n", t.Branch)
	fmt.Fprintf(&sb, "- **Author:** %s\n", t.AuthorID)
	fmt.Fprintf(&sb, "- **Recorded:** %s\n", t.Timestamp.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "- **Commit:** %s (+%d/-%d across %d files)\n",
		t.GitStats.SHA, t.GitStats.Additions, t.GitStats.Deletions, t.GitStats.ChangedFiles)
	fmt.Fprintf(&sb, "- **Core protection:** %s\n", t.CoreProtectionStatus)
	fmt.Fprintf(&sb, "- **Decision:** %s\n", record.Decision)
	fmt.Fprintf(&sb, "- **Core integrity verified:** %v\n\n", record.CoreIntegrityVerified)

	if record.Summary != "" {
		fmt.Fprintf(&sb, "%s\n\n", record.Summary)
	}

	passed, failed := 0, 0
	for _, g := range record.Guardrails {
		switch g.Status {
		case types.GuardrailPass, types.GuardrailWarn:
			passed++
		case types.GuardrailFail, types.GuardrailError:
			failed++
		}
	}
	fmt.Fprintf(&sb, "## Guardrails (%d passed, %d failed)\n\n", passed, failed)
	for _, g := range record.Guardrails {
		fmt.Fprintf(&sb, "- %s **%s**: %s (%dms)\n", statusGlyph(g.Status), g.Name, g.Status, g.DurationMS)
		if g.Status == types.GuardrailFail && g.ExitCode != nil {
			fmt.Fprintf(&sb, "  - exit code %d\n", *g.ExitCode)
		}
	}
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "## Files touched (%d)\n\n", len(t.FilesTouched))
	for _, f := range t.FilesTouched {
		fmt.Fprintf(&sb, "- `%s`\n", f)
	}
	sb.WriteString("\n")

	if len(record.LearningInsights) > 0 {
		sb.WriteString("## Learning insights\n\n")
		for _, insight := range record.LearningInsights {
			fmt.Fprintf(&sb, "- %s\n", insight)
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func statusGlyph(status types.GuardrailStatus) string {
	switch status {
	case types.GuardrailPass:
		return "✓"
	case types.GuardrailFail, types.GuardrailError:
		return "✗"
	case types.GuardrailWarn:
		return "⚠"
	default:
		return "○"
	}
}
