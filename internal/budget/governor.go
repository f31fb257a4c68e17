package budget

import (
	"context"
	"fmt"
	"log/slog"

	"BiblioScanner/internal/config"
	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

// Store is the slice of the ledger the governor reads and writes.
type Store interface {
	ports.CostReader
	ports.EventRecorder
}

// Governor picks the synthesis backend for one run and downgrades it to the
// free backend once the monthly cap is reached. Its state is never persisted.
type Governor struct {
	store     Store
	cap       float64
	preferred string
	fallback  string
	active    string
	warned    bool
	logger    *slog.Logger
}

// NewGovernor starts with preferred as the active backend; fallback must be free.
func NewGovernor(store Store, monthlyCap float64, preferred, fallback string, log *slog.Logger) *Governor {
	if fallback == "" {
		fallback = config.BackendOllama
	}
	return &Governor{
		store:     store,
		cap:       monthlyCap,
		preferred: preferred,
		fallback:  fallback,
		active:    preferred,
		logger:    log,
	}
}

// Active is the backend to use for the next paper.
func (g *Governor) Active() string {
	return g.active
}

// Downgraded reports whether the run switched to the free backend.
func (g *Governor) Downgraded() bool {
	return g.active != g.preferred
}

// Start evaluates the spend before the first paper.
func (g *Governor) Start(ctx context.Context) {
	g.active = g.preferred
	g.warned = false
	g.check(ctx, "monthly budget already exhausted")
}

// Select re-reads the spend and returns the backend for the paper about to
// be synthesized, so filter spend on that same paper counts.
func (g *Governor) Select(ctx context.Context) string {
	g.check(ctx, "monthly budget reached mid-run")
	return g.active
}

// AfterPaper re-reads the spend and downgrades once the cap is crossed.
func (g *Governor) AfterPaper(ctx context.Context) {
	g.check(ctx, "monthly budget reached mid-run")
}

// check downgrades when spent >= cap. A zero cap is therefore always reached;
// a negative cap disables the check.
func (g *Governor) check(ctx context.Context, reason string) {
	if !config.PaidBackend(g.active) || g.cap < 0 {
		return
	}

	spent, err := g.store.MonthlyCost(ctx)
	if err != nil {
		g.warn("cannot read monthly cost, keeping backend", "backend", g.active, "error", err)
		return
	}
	if spent < g.cap {
		g.debug("budget ok", "spent", spent, "cap", g.cap)
		return
	}

	g.active = g.fallback
	if g.warned {
		return
	}
	g.warned = true
	msg := fmt.Sprintf("%s: spent %.4f of %.2f, switching synthesis to %s", reason, spent, g.cap, g.fallback)
	g.warn(msg)
	g.store.RecordEvent(ctx, domain.EventBudgetWarning, msg)
}

func (g *Governor) debug(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Debug(msg, args...)
	}
}

func (g *Governor) warn(msg string, args ...any) {
	if g.logger != nil {
		g.logger.Warn(msg, args...)
	}
}
