package scanner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

type stubScanner struct {
	name     string
	types    []domain.TaskType
	results  map[string][]domain.Paper
	failures map[string]error
	requests []Request
}

func (s *stubScanner) Name() string                { return s.name }
func (s *stubScanner) Supports() []domain.TaskType { return s.types }

func (s *stubScanner) Scan(_ context.Context, req Request) ([]domain.Paper, error) {
	s.requests = append(s.requests, req)
	if err := s.failures[req.Task.Name]; err != nil {
		return nil, err
	}
	return s.results[req.Task.Name], nil
}

type stubLedger struct {
	seen     map[string]bool
	journals []string
	authors  []string
	events   []domain.EventCategory
}

func (l *stubLedger) IsSeen(_ context.Context, link, doi string) (bool, error) {
	return l.seen[link] || (doi != "" && l.seen[doi]), nil
}

func (l *stubLedger) RecordEvent(_ context.Context, category domain.EventCategory, _ string) {
	l.events = append(l.events, category)
}

func (l *stubLedger) MonitoredJournals(context.Context) ([]string, error) { return l.journals, nil }
func (l *stubLedger) MonitoredAuthors(context.Context) ([]string, error)  { return l.authors, nil }

func TestDiscoverAggregatesInTaskOrder(t *testing.T) {
	t.Parallel()

	scn := &stubScanner{
		name:  "stub",
		types: []domain.TaskType{domain.TaskSearch, domain.TaskJournal, domain.TaskAuthor},
		results: map[string][]domain.Paper{
			"first":  {{Link: "a"}, {Link: "b", DOI: "10.1/seen"}},
			"second": {{Link: "a"}, {Link: "c"}},
		},
		failures: map[string]error{"broken": errors.New("boom")},
	}
	reg := NewRegistry()
	reg.Register(scn)

	ledger := &stubLedger{
		seen:     map[string]bool{"10.1/seen": true},
		journals: []string{"S1", "S2"},
		authors:  []string{"A1"},
	}
	tasks := []domain.Task{
		{Name: "first", Type: domain.TaskSearch},
		{Name: "broken", Type: domain.TaskSearch},
		{Name: "second", Type: domain.TaskJournal},
	}

	src := NewStrategySource(reg, tasks, ledger, nil, nil)
	papers, err := src.Discover(context.Background(), ports.DiscoverRequest{})
	require.NoError(t, err)

	var links []string
	for _, p := range papers {
		links = append(links, p.Link)
	}
	assert.Equal(t, []string{"a", "a", "c"}, links, "no cross-task dedup, seen dropped")
	assert.Equal(t, []domain.EventCategory{domain.EventError}, ledger.events)

	require.Len(t, scn.requests, 5, "promoted tasks run after static ones")
	promotedJournals := scn.requests[3].Task
	assert.Equal(t, domain.TaskJournal, promotedJournals.Type)
	assert.Equal(t, "S1|S2", promotedJournals.ID)
	promotedAuthors := scn.requests[4].Task
	assert.Equal(t, domain.TaskAuthor, promotedAuthors.Type)
	assert.Equal(t, "A1", promotedAuthors.ID)
}

func TestDiscoverIgnoreSeenAndLegacyFeeds(t *testing.T) {
	t.Parallel()

	scn := &stubScanner{
		name:    "stub",
		types:   []domain.TaskType{domain.TaskSearch, domain.TaskRSS},
		results: map[string][]domain.Paper{"q": {{Link: "seen"}}, "feed": {{Link: "rss"}}},
	}
	reg := NewRegistry()
	reg.Register(scn)
	ledger := &stubLedger{seen: map[string]bool{"seen": true}}
	tasks := []domain.Task{{Name: "q", Type: domain.TaskSearch}, {Name: "feed", Type: domain.TaskRSS}}

	src := NewStrategySource(reg, tasks, ledger, nil, nil)

	papers, err := src.Discover(context.Background(), ports.DiscoverRequest{IgnoreSeen: true})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "seen", papers[0].Link)

	papers, err = src.Discover(context.Background(), ports.DiscoverRequest{LegacyRSS: true})
	require.NoError(t, err)
	require.Len(t, papers, 1)
	assert.Equal(t, "rss", papers[0].Link)
}

type lastProcessed struct {
	at  time.Time
	ok  bool
	err error
}

func (l lastProcessed) LastProcessedDate(context.Context) (time.Time, bool, error) {
	return l.at, l.ok, l.err
}

func TestResolveWindow(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 10, 15, 30, 0, 0, time.UTC)
	policy := WindowPolicy{Lookback: 90 * 24 * time.Hour, SafetyMargin: 7 * 24 * time.Hour}
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

	cases := []struct {
		name     string
		ledger   LastProcessedReader
		override domain.Window
		from     time.Time
		to       time.Time
		wantErr  bool
	}{
		{name: "first run", ledger: lastProcessed{}, from: day(2024, 3, 12), to: day(2024, 6, 17)},
		{name: "last processed", ledger: lastProcessed{at: day(2024, 6, 1).Add(5 * time.Hour), ok: true}, from: day(2024, 6, 1), to: day(2024, 6, 17)},
		{name: "overrides", ledger: lastProcessed{at: day(2024, 6, 1), ok: true}, override: domain.Window{From: day(2020, 1, 1), To: day(2020, 2, 1)}, from: day(2020, 1, 1), to: day(2020, 2, 1)},
		{name: "ledger error", ledger: lastProcessed{err: errors.New("locked")}, from: day(2024, 3, 12), to: day(2024, 6, 17), wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			window, err := ResolveWindow(context.Background(), tc.ledger, policy, tc.override, now)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.True(t, window.From.Equal(tc.from), "from %s, want %s", window.From, tc.from)
			assert.True(t, window.To.Equal(tc.to), "to %s, want %s", window.To, tc.to)
		})
	}
}

func TestRegistryResolve(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	reg.Register(&stubScanner{name: "stub", types: []domain.TaskType{domain.TaskISSN}})

	_, err := reg.Resolve(domain.TaskISSN)
	assert.NoError(t, err)
	_, err = reg.Resolve(domain.TaskRSS)
	assert.Error(t, err, "unregistered type")
}
