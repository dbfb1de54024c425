package taskrunner

import (
	"fmt"
	"strings"
	"time"

	"github.com/tyemirov/devsetup/internal/setup"
)

// RenderSummaryLine returns the summary line printed after a setup run.
func RenderSummaryLine(outcome setup.RunOutcome, elapsed time.Duration) string {
	if len(outcome.Tasks) == 0 {
		return ""
	}

	executed, skipped, pending := outcome.Counts()
	parts := []string{
		fmt.Sprintf("Summary: total.tasks=%d", len(outcome.Tasks)),
		fmt.Sprintf("executed=%d", executed),
		fmt.Sprintf("skipped=%d", skipped),
		fmt.Sprintf("pending=%d", pending),
	}
	if outcome.DryRun {
		parts = append(parts, "dry_run=true")
	}
	if len(outcome.RunIdentifier) > 0 {
		parts = append(parts, fmt.Sprintf("run_id=%s", outcome.RunIdentifier))
	}

	parts = append(parts, fmt.Sprintf("duration_human=%s", elapsed.Round(time.Millisecond)))
	parts = append(parts, fmt.Sprintf("duration_ms=%d", elapsed.Milliseconds()))

	return strings.Join(parts, " ")
}
