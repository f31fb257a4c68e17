package usecase

import (
	"context"
	"errors"
	"time"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

type memLedger struct {
	seen        map[string]bool
	marked      []domain.SeenEntry
	events      []domain.Event
	meta        map[string]string
	cost        float64
	last        time.Time
	promotableJ []string
	promotableA []string
	promotedJ   []string
	promotedA   []string
}

var _ ports.Ledger = (*memLedger)(nil)

func newMemLedger() *memLedger {
	return &memLedger{seen: map[string]bool{}, meta: map[string]string{}}
}

func (l *memLedger) IsSeen(_ context.Context, link, doi string) (bool, error) {
	return l.seen[link] || (doi != "" && l.seen[doi]), nil
}

func (l *memLedger) MarkSeen(_ context.Context, e domain.SeenEntry) {
	l.marked = append(l.marked, e)
	l.seen[e.Link] = true
	if e.DOI != "" {
		l.seen[e.DOI] = true
	}
}

func (l *memLedger) RecordEvent(_ context.Context, c domain.EventCategory, msg string) {
	l.events = append(l.events, domain.Event{Category: c, Message: msg})
}

func (l *memLedger) RecordUsage(context.Context, domain.UsageRecord) {}

func (l *memLedger) MonthlyCost(context.Context) (float64, error) { return l.cost, nil }

func (l *memLedger) Metadata(_ context.Context, key string) (string, bool, error) {
	v, ok := l.meta[key]
	return v, ok, nil
}

func (l *memLedger) SetMetadata(_ context.Context, key, value string) error {
	l.meta[key] = value
	return nil
}

func (l *memLedger) MonitoredJournals(context.Context) ([]string, error) { return l.promotedJ, nil }
func (l *memLedger) MonitoredAuthors(context.Context) ([]string, error)  { return l.promotedA, nil }

func (l *memLedger) LastProcessedDate(context.Context) (time.Time, bool, error) {
	return l.last, !l.last.IsZero(), nil
}

func (l *memLedger) AllProcessedDates(context.Context) (map[string]time.Time, error) {
	return map[string]time.Time{}, nil
}

func (l *memLedger) RecentEvents(context.Context, int) ([]domain.Event, error) {
	return l.events, nil
}

func (l *memLedger) PromotableJournals(context.Context, int) ([]string, error) {
	return l.promotableJ, nil
}

func (l *memLedger) PromotableAuthors(context.Context, int) ([]string, error) {
	return l.promotableA, nil
}

func (l *memLedger) PromoteJournal(_ context.Context, id string) error {
	l.promotedJ = append(l.promotedJ, id)
	return nil
}

func (l *memLedger) PromoteAuthor(_ context.Context, id string) error {
	l.promotedA = append(l.promotedA, id)
	return nil
}

func (l *memLedger) categories() []domain.EventCategory {
	out := make([]domain.EventCategory, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Category)
	}
	return out
}

type fakeSource struct {
	papers   []domain.Paper
	byDOI    map[string][]domain.Paper
	requests []ports.DiscoverRequest
}

func (s *fakeSource) Discover(_ context.Context, req ports.DiscoverRequest) ([]domain.Paper, error) {
	s.requests = append(s.requests, req)
	return s.papers, nil
}

func (s *fakeSource) FetchByDOI(_ context.Context, doi string) ([]domain.Paper, error) {
	return s.byDOI[doi], nil
}

type fakeFilter struct {
	rejected map[string]bool
	calls    int
	// ledger and costPerCall simulate a paid judge recording usage.
	ledger      *memLedger
	costPerCall float64
}

func (f *fakeFilter) Check(_ context.Context, p domain.Paper) domain.Verdict {
	f.calls++
	if f.ledger != nil {
		f.ledger.cost += f.costPerCall
	}
	if f.rejected[p.Title] {
		return domain.Verdict{Relevant: false, Reason: "off topic", Stage: domain.StageLLM}
	}
	return domain.Verdict{Relevant: true, Reason: "on topic", Stage: domain.StageLLM}
}

type fakeAcquirer struct {
	empty map[string]bool
}

func (a *fakeAcquirer) Acquire(_ context.Context, p domain.Paper) domain.Acquisition {
	if a.empty[p.Title] {
		return domain.Acquisition{Strategy: domain.StrategyAbstract}
	}
	return domain.Acquisition{Text: "full text of " + p.Title, FullText: true, Strategy: domain.StrategyDirect}
}

type fakeSynthesizer struct {
	failing  map[string]bool
	backends []string
}

func (s *fakeSynthesizer) Synthesize(_ context.Context, req ports.SynthesisRequest) (domain.SynthesisResult, error) {
	s.backends = append(s.backends, req.Backend)
	if s.failing[req.Paper.Title] {
		return domain.SynthesisResult{}, errors.New("model timeout")
	}
	return domain.SynthesisResult{SummaryPath: req.Paper.Title + ".md", Backend: req.Backend}, nil
}

type fakeGovernor struct {
	active      string
	starts      int
	selects     int
	afters      int
	switchAfter int
}

func (g *fakeGovernor) Start(context.Context) { g.starts++ }

func (g *fakeGovernor) Select(context.Context) string {
	g.selects++
	return g.active
}

func (g *fakeGovernor) AfterPaper(context.Context) {
	g.afters++
	if g.switchAfter > 0 && g.afters >= g.switchAfter {
		g.active = "ollama"
	}
}

type fakeNotifier struct {
	digests []string
}

func (n *fakeNotifier) PublishDigest(_ context.Context, digest string) error {
	n.digests = append(n.digests, digest)
	return nil
}

func paper(title string) domain.Paper {
	return domain.Paper{
		Title:     title,
		Link:      "https://example.org/" + title,
		Source:    "Journal of Hydrology",
		Published: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
