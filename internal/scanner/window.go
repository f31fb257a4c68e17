package scanner

import (
	"context"
	"time"

	"BiblioScanner/internal/domain"
)

// LastProcessedReader exposes the ledger's newest processed timestamp.
type LastProcessedReader interface {
	LastProcessedDate(ctx context.Context) (time.Time, bool, error)
}

// WindowPolicy holds the defaults used when a run does not override its window.
type WindowPolicy struct {
	Lookback     time.Duration
	SafetyMargin time.Duration
}

// ResolveWindow picks the discovery window: explicit overrides win, then the
// ledger's last processed date, then now minus the lookback. The end defaults
// to now plus the safety margin. A ledger error still yields the fallback window.
func ResolveWindow(ctx context.Context, ledger LastProcessedReader, policy WindowPolicy, override domain.Window, now time.Time) (domain.Window, error) {
	var (
		window domain.Window
		err    error
	)

	switch {
	case !override.From.IsZero():
		window.From = override.From
	default:
		window.From = now.Add(-policy.Lookback)
		if ledger != nil {
			last, ok, lerr := ledger.LastProcessedDate(ctx)
			if lerr != nil {
				err = lerr
			} else if ok {
				window.From = last
			}
		}
	}

	if !override.To.IsZero() {
		window.To = override.To
	} else {
		window.To = now.Add(policy.SafetyMargin)
	}

	window.From = truncateDay(window.From)
	window.To = truncateDay(window.To)
	return window, err
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
