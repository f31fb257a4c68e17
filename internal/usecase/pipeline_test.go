package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiblioScanner/internal/budget"
	"BiblioScanner/internal/config"
	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/scanner"
)

type harness struct {
	ledger   *memLedger
	source   *fakeSource
	filter   *fakeFilter
	acquirer *fakeAcquirer
	synth    *fakeSynthesizer
	governor *fakeGovernor
	notifier *fakeNotifier
	pipeline *Pipeline
}

func newHarness(now time.Time, tasks []domain.Task) *harness {
	h := &harness{
		ledger:   newMemLedger(),
		source:   &fakeSource{byDOI: map[string][]domain.Paper{}},
		filter:   &fakeFilter{rejected: map[string]bool{}},
		acquirer: &fakeAcquirer{empty: map[string]bool{}},
		synth:    &fakeSynthesizer{failing: map[string]bool{}},
		governor: &fakeGovernor{active: "gemini-api"},
		notifier: &fakeNotifier{},
	}
	h.pipeline = h.build(h.governor, now, tasks)
	return h
}

func (h *harness) build(governor BackendGovernor, now time.Time, tasks []domain.Task) *Pipeline {
	return NewPipeline(PipelineDeps{
		Source:      h.source,
		Ledger:      h.ledger,
		Filter:      h.filter,
		Acquirer:    h.acquirer,
		Synthesizer: h.synth,
		Governor:    governor,
		Notifier:    h.notifier,
	}, PipelineOptions{
		Window: scanner.WindowPolicy{Lookback: 90 * 24 * time.Hour, SafetyMargin: 7 * 24 * time.Hour},
		Tasks:  tasks,
		Clock:  fixedClock(now),
	})
}

func states(outcomes []domain.Outcome) []domain.State {
	out := make([]domain.State, 0, len(outcomes))
	for _, o := range outcomes {
		out = append(out, o.State)
	}
	return out
}

func TestRunDrivesEachPaperToATerminalState(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), nil)
	h.source.papers = []domain.Paper{paper("seen"), paper("offtopic"), paper("notext"), paper("broken"), paper("good"), paper("late")}
	h.ledger.seen["https://example.org/seen"] = true
	h.filter.rejected["offtopic"] = true
	h.acquirer.empty["notext"] = true
	h.synth.failing["broken"] = true
	h.governor.switchAfter = 4

	report, err := h.pipeline.Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, []domain.State{
		domain.StateSkippedSeen,
		domain.StateRejected,
		domain.StateNoText,
		domain.StateSynthesisFailed,
		domain.StateCommitted,
		domain.StateCommitted,
	}, states(report.Outcomes))

	var marked []string
	for _, e := range h.ledger.marked {
		marked = append(marked, e.Title)
	}
	assert.Equal(t, []string{"offtopic", "good", "late"}, marked)

	assert.Equal(t, []string{"gemini-api", "gemini-api", "ollama"}, h.synth.backends)
	assert.Equal(t, 1, h.governor.starts)
	assert.Equal(t, 5, h.governor.afters, "every paper except the seen one re-checks the budget")
	assert.Equal(t, 3, h.governor.selects)

	assert.Equal(t, []domain.EventCategory{domain.EventWarning, domain.EventError, domain.EventSummary}, h.ledger.categories())
	assert.Contains(t, h.ledger.events[2].Message, "Found 6 papers, 4 were relevant, 2 successfully synthesized")
	assert.Equal(t, 6, report.Discovered)
	assert.Equal(t, 4, report.Relevant)
	assert.Equal(t, 2, report.Synthesized)
	assert.NotEmpty(t, report.RunID)

	require.Len(t, h.notifier.digests, 1)
	assert.Contains(t, h.notifier.digests[0], "- good")
	assert.NotContains(t, h.notifier.digests[0], "broken")
}

func TestRunDowngradesAfterPaidFilterSpendOnRejectedPaper(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	h := newHarness(now, nil)
	h.ledger.cost = 9.5
	h.filter.ledger = h.ledger
	h.filter.costPerCall = 1.0
	h.filter.rejected["offtopic"] = true
	h.source.papers = []domain.Paper{paper("offtopic"), paper("good")}

	governor := budget.NewGovernor(h.ledger, 10, config.BackendGemini, config.BackendOllama, nil)
	pipeline := h.build(governor, now, nil)

	report, err := pipeline.Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, []domain.State{domain.StateRejected, domain.StateCommitted}, states(report.Outcomes))
	assert.Equal(t, []string{config.BackendOllama}, h.synth.backends, "spend crossed the cap on the rejected paper")

	warnings := 0
	for _, e := range h.ledger.events {
		if e.Category == domain.EventBudgetWarning {
			warnings++
		}
	}
	assert.Equal(t, 1, warnings)
}

func TestRunRechecksBudgetBeforeSynthesis(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	h := newHarness(now, nil)
	h.ledger.cost = 9.5
	h.filter.ledger = h.ledger
	h.filter.costPerCall = 1.0
	h.source.papers = []domain.Paper{paper("good")}

	governor := budget.NewGovernor(h.ledger, 10, config.BackendGemini, config.BackendOllama, nil)
	_, err := h.build(governor, now, nil).Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{config.BackendOllama}, h.synth.backends, "the judge's spend on this paper counts")
}

func TestRunKeepsPaidBackendUnderCap(t *testing.T) {
	now := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	h := newHarness(now, nil)
	h.ledger.cost = 1
	h.filter.ledger = h.ledger
	h.filter.costPerCall = 0.5
	h.source.papers = []domain.Paper{paper("a"), paper("b"), paper("c")}

	governor := budget.NewGovernor(h.ledger, 10, config.BackendGemini, config.BackendOllama, nil)
	_, err := h.build(governor, now, nil).Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{config.BackendGemini, config.BackendGemini, config.BackendGemini}, h.synth.backends)
}

func TestRunResolvesWindowFromLedger(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC), nil)
	h.ledger.last = time.Date(2024, 5, 10, 17, 30, 0, 0, time.UTC)

	_, err := h.pipeline.Run(context.Background(), RunRequest{ForceAll: true, LegacyRSS: true})
	require.NoError(t, err)

	require.Len(t, h.source.requests, 1)
	req := h.source.requests[0]
	assert.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), req.Window.From)
	assert.Equal(t, time.Date(2024, 6, 8, 0, 0, 0, 0, time.UTC), req.Window.To)
	assert.True(t, req.IgnoreSeen)
	assert.True(t, req.LegacyRSS)
	assert.Empty(t, h.notifier.digests, "no digest for an empty run")
}

func TestRunForceAllReprocessesSeenPapers(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), nil)
	h.source.papers = []domain.Paper{paper("again")}
	h.ledger.seen["https://example.org/again"] = true

	report, err := h.pipeline.Run(context.Background(), RunRequest{ForceAll: true})
	require.NoError(t, err)
	assert.Equal(t, []domain.State{domain.StateCommitted}, states(report.Outcomes))
}

func TestRunManualDOIBypassesSeenCheckAndFilter(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), nil)
	p := paper("manual")
	p.DOI = "10.1/manual"
	h.source.byDOI["10.1/manual"] = []domain.Paper{p}
	h.ledger.seen[p.Link] = true

	report, err := h.pipeline.Run(context.Background(), RunRequest{DOI: "https://doi.org/10.1/manual"})
	require.NoError(t, err)

	assert.Zero(t, h.filter.calls)
	assert.Empty(t, h.source.requests, "manual mode must not run discovery")
	require.Len(t, report.Outcomes, 1)
	o := report.Outcomes[0]
	assert.Equal(t, domain.StateCommitted, o.State)
	assert.Equal(t, "Manually added by user.", o.Verdict.Reason)
	assert.Equal(t, domain.StageManual, o.Verdict.Stage)
}

func TestRunManualDOIWithoutMetadata(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), nil)

	_, err := h.pipeline.Run(context.Background(), RunRequest{DOI: "10.1/missing"})
	require.ErrorIs(t, err, ErrDOINotFound)
	assert.Equal(t, []domain.EventCategory{domain.EventError}, h.ledger.categories())
}

func TestRunRejectsDOIThatNormalisesToNothing(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), nil)
	h.source.papers = []domain.Paper{paper("seen"), paper("offtopic")}
	h.ledger.seen["https://example.org/seen"] = true
	h.filter.rejected["offtopic"] = true

	for _, doi := range []string{"https://doi.org/", "doi:"} {
		_, err := h.pipeline.Run(context.Background(), RunRequest{DOI: doi})
		require.ErrorIs(t, err, ErrInvalidDOI, doi)
	}

	assert.Empty(t, h.source.requests, "no discovery without a usable DOI")
	assert.Empty(t, h.synth.backends)
	assert.Equal(t, []domain.EventCategory{domain.EventError, domain.EventError}, h.ledger.categories())
}

func TestRunBlankDOIIsAnOrdinaryRun(t *testing.T) {
	h := newHarness(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), nil)
	h.source.papers = []domain.Paper{paper("seen"), paper("offtopic")}
	h.ledger.seen["https://example.org/seen"] = true
	h.filter.rejected["offtopic"] = true

	report, err := h.pipeline.Run(context.Background(), RunRequest{DOI: "   "})
	require.NoError(t, err)

	assert.Equal(t, []domain.State{domain.StateSkippedSeen, domain.StateRejected}, states(report.Outcomes))
	assert.Equal(t, 1, h.filter.calls)
	assert.Empty(t, h.synth.backends)
}

func TestPromotionSkipsStaticTaskIDs(t *testing.T) {
	tasks := []domain.Task{
		{Name: "journals", Type: domain.TaskJournal, ID: "https://openalex.org/S1|S2"},
		{Name: "citations", Type: domain.TaskAuthorCitations, ID: "A1"},
		{Name: "search", Type: domain.TaskSearch, Query: "drought", ID: "S3"},
	}
	h := newHarness(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), tasks)
	h.ledger.promotableJ = []string{"S1", "S3"}
	h.ledger.promotableA = []string{"A1", "A2"}

	report, err := h.pipeline.Run(context.Background(), RunRequest{})
	require.NoError(t, err)

	assert.Equal(t, []string{"S3"}, h.ledger.promotedJ)
	assert.Equal(t, []string{"A2"}, h.ledger.promotedA)
	assert.Equal(t, []string{"S3", "A2"}, report.Promoted)
	assert.Equal(t, []domain.EventCategory{domain.EventSummary, domain.EventPromotion, domain.EventPromotion}, h.ledger.categories())
}

func TestBuildDigestMessage(t *testing.T) {
	abstractOnly := domain.Outcome{Paper: paper("thin"), State: domain.StateCommitted}
	full := domain.Outcome{Paper: paper("rich"), State: domain.StateCommitted, Acquisition: domain.Acquisition{FullText: true}}
	rejected := domain.Outcome{Paper: paper("nope"), State: domain.StateRejected}

	msg := buildDigestMessage(Report{Discovered: 3, Synthesized: 2, Outcomes: []domain.Outcome{abstractOnly, full, rejected}, Promoted: []string{"S9"}})

	for _, want := range []string{"2 new summaries", "- thin [abstract only]", "- rich\n", "Now monitoring: S9"} {
		assert.Contains(t, msg, want)
	}
	assert.NotContains(t, msg, "nope")
}
