package synthesis

import (
	"fmt"
	"strings"

	"BiblioScanner/internal/ports"
)

const abstractOnlyBanner = "> **Abstract-only summary.** The full text could not be retrieved; this summary is based on the abstract alone."

func renderMarkdown(req ports.SynthesisRequest, body string) string {
	p := req.Paper

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	if len(p.Authors) > 0 {
		fmt.Fprintf(&b, "**Authors:** %s  \n", strings.Join(p.Authors, ", "))
	}
	fmt.Fprintf(&b, "**Journal:** %s  \n", p.Source)
	fmt.Fprintf(&b, "**Published:** %s  \n", p.Published.Format("2006-01-02"))
	if p.DOI != "" {
		fmt.Fprintf(&b, "**DOI:** [%s](https://doi.org/%s)  \n", p.DOI, p.DOI)
	}
	fmt.Fprintf(&b, "**Link:** %s\n\n", p.Link)

	if !req.Acquisition.FullText {
		b.WriteString(abstractOnlyBanner)
		b.WriteString("\n\n")
	}

	b.WriteString(body)
	b.WriteString("\n")
	return b.String()
}
