package usecase

import (
	"fmt"
	"strings"

	"BiblioScanner/internal/domain"
)

func buildDigestMessage(report Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "BiblioScanner: %d new summaries (%d discovered, run cost %.4f)\n\n",
		report.Synthesized, report.Discovered, report.RunCost)

	for _, o := range report.Outcomes {
		if o.State != domain.StateCommitted {
			continue
		}
		marker := ""
		if !o.Acquisition.FullText {
			marker = " [abstract only]"
		}
		fmt.Fprintf(&b, "- %s%s\n%s\n%s\n\n", o.Paper.Title, marker, o.Paper.Source, o.Paper.Link)
	}

	if len(report.Promoted) > 0 {
		fmt.Fprintf(&b, "Now monitoring: %s\n", strings.Join(report.Promoted, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
