package acquisition

import (
	"errors"
	"fmt"
)

var (
	// ErrNotPDF marks a successful response whose media type is not a PDF.
	ErrNotPDF = errors.New("response is not a pdf")
	// ErrTooShort marks extracted page text below the acceptance threshold.
	ErrTooShort = errors.New("extracted text too short")
	// ErrBlocked marks a rendered page that looks like a bot wall.
	ErrBlocked = errors.New("page looks blocked")

	errSkipped = errors.New("strategy not applicable")
)

// StatusError reports a non-200 upstream response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.Code)
}
