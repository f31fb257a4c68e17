package usecase

import (
	"context"
	"fmt"
	"time"

	"BiblioScanner/internal/domain"
)

const (
	backfillCursorKey = "backfill_cursor"
	delayedCheckKey   = "last_delayed_check"
	dayLayout         = "2006-01-02"
	monthLayout       = "2006-01"
	delayedMonthsBack = 3
)

// BackfillOptions tunes the backward walk.
type BackfillOptions struct {
	StepDays int
	Floor    time.Time
}

// Backfill runs one step of the rolling backward walk. The window ends at the
// stored cursor (today when unset) and spans StepDays; it is clamped to the
// floor, and once the floor is reached every call is a no-op (ran = false).
func (p *Pipeline) Backfill(ctx context.Context, opts BackfillOptions) (Report, bool, error) {
	if opts.StepDays <= 0 {
		opts.StepDays = 7
	}
	log := p.log()

	end := truncateDay(p.opts.Clock())
	cursor, ok, err := p.ledger.Metadata(ctx, backfillCursorKey)
	if err != nil {
		return Report{}, false, fmt.Errorf("read backfill cursor: %w", err)
	}
	if ok && cursor != "" {
		parsed, err := time.ParseInLocation(dayLayout, cursor, end.Location())
		if err != nil {
			return Report{}, false, fmt.Errorf("parse backfill cursor %q: %w", cursor, err)
		}
		end = parsed
	}

	start := end.AddDate(0, 0, -opts.StepDays)
	floor := truncateDay(opts.Floor)
	if !opts.Floor.IsZero() && start.Before(floor) {
		if !end.After(floor) {
			log.Info("backfill reached floor, nothing to do", "floor", floor.Format(dayLayout))
			return Report{}, false, nil
		}
		start = floor
	}

	startMsg := fmt.Sprintf("Backfill started for %s to %s.", start.Format(dayLayout), end.Format(dayLayout))
	log.Info(startMsg)
	p.ledger.RecordEvent(ctx, domain.EventBackfillStart, startMsg)

	report, err := p.Run(ctx, RunRequest{Window: domain.Window{From: start, To: end}})
	if err != nil {
		return report, true, err
	}

	if err := p.ledger.SetMetadata(ctx, backfillCursorKey, start.Format(dayLayout)); err != nil {
		return report, true, fmt.Errorf("store backfill cursor: %w", err)
	}
	endMsg := fmt.Sprintf("Backfill finished for %s to %s: %d papers, %d synthesized.", start.Format(dayLayout), end.Format(dayLayout), report.Discovered, report.Synthesized)
	log.Info(endMsg)
	p.ledger.RecordEvent(ctx, domain.EventBackfillEnd, endMsg)
	return report, true, nil
}

// DelayedCheck re-scans the calendar month three months back to catch
// late-indexed papers. It runs at most once per calendar month.
func (p *Pipeline) DelayedCheck(ctx context.Context) (Report, bool, error) {
	now := p.opts.Clock()
	month := now.Format(monthLayout)

	marker, ok, err := p.ledger.Metadata(ctx, delayedCheckKey)
	if err != nil {
		return Report{}, false, fmt.Errorf("read delayed check marker: %w", err)
	}
	if ok && marker == month {
		return Report{}, false, nil
	}

	from := time.Date(now.Year(), now.Month()-delayedMonthsBack, 1, 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 1, -1)

	msg := fmt.Sprintf("Delayed check for late-indexed papers from %s to %s.", from.Format(dayLayout), to.Format(dayLayout))
	p.log().Info(msg)
	p.ledger.RecordEvent(ctx, domain.EventDelayedCheck, msg)

	report, err := p.Run(ctx, RunRequest{Window: domain.Window{From: from, To: to}})
	if err != nil {
		return report, true, err
	}
	if err := p.ledger.SetMetadata(ctx, delayedCheckKey, month); err != nil {
		return report, true, fmt.Errorf("store delayed check marker: %w", err)
	}
	return report, true, nil
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
