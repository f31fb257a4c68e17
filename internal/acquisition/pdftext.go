package acquisition

import (
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDFText reads a PDF page by page and collapses whitespace. Parser
// panics on malformed files are returned as errors.
func extractPDFText(path string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf parser panic: %v", r)
		}
	}()

	file, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		b.WriteString(content)
		b.WriteByte(' ')
	}

	return collapseSpace(b.String()), nil
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
