package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/usecase"
)

func TestRunFlagsRequest(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	req, err := runFlags{backfillDays: 30, forceAll: true}.request(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 16, 10, 0, 0, 0, time.UTC), req.Window.From)
	assert.True(t, req.Window.To.IsZero())
	assert.True(t, req.ForceAll)

	req, err = runFlags{from: "2024-01-01", to: "2024-01-31", legacyRSS: true, addDOI: "10.1/x"}.request(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), req.Window.From)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), req.Window.To)
	assert.True(t, req.LegacyRSS)
	assert.Equal(t, "10.1/x", req.DOI)

	_, err = runFlags{from: "2024-02-01", to: "2024-01-01"}.request(now)
	assert.Error(t, err)

	_, err = runFlags{from: "01/02/2024"}.request(now)
	assert.Error(t, err)

	_, err = runFlags{backfillDays: -1}.request(now)
	assert.Error(t, err)
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"run", "backfill", "watch", "events"}, names)

	run, _, err := root.Find([]string{"run"})
	require.NoError(t, err)
	for _, flag := range []string{"force-all", "rss", "add-doi", "backfill", "from", "to"} {
		assert.NotNil(t, run.Flags().Lookup(flag), flag)
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, usecase.Report{
		RunID:       "r1",
		Discovered:  2,
		Relevant:    1,
		Synthesized: 1,
		Outcomes: []domain.Outcome{
			{Paper: domain.Paper{Title: "Kept"}, State: domain.StateCommitted, Synthesis: domain.SynthesisResult{Backend: "ollama", SummaryPath: "s.md"}},
			{Paper: domain.Paper{Title: "Dropped"}, State: domain.StateRejected},
		},
	})

	out := buf.String()
	assert.True(t, strings.HasPrefix(out, "run r1: 2 discovered"))
	assert.Contains(t, out, "+ Kept (abstract, ollama) -> s.md")
	assert.NotContains(t, out, "Dropped")
}
