package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiblioScanner/internal/config"
	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/infrastructure/llm"
	"BiblioScanner/internal/logging"
	"BiblioScanner/internal/metrics"
	"BiblioScanner/internal/usecase"
)

func TestBackendName(t *testing.T) {
	cases := map[string]string{
		"ollama":     config.BackendOllama,
		" Local ":    config.BackendOllama,
		"gemini":     config.BackendGemini,
		"gemini-api": config.BackendGemini,
		"":           config.BackendGemini,
	}
	for in, want := range cases {
		assert.Equal(t, want, backendName(in), in)
	}
}

func TestAvailableBackendFallsBackToLocal(t *testing.T) {
	reg := llm.NewRegistry(llm.NewOllamaClient(config.OllamaConfig{Host: "http://localhost:11434"}))

	assert.Equal(t, config.BackendOllama, availableBackend(reg, config.BackendGemini, "relevance", logging.Discard()))
	assert.Equal(t, config.BackendOllama, availableBackend(reg, config.BackendOllama, "synthesis", logging.Discard()))

	gemini, err := llm.NewGeminiClient(context.Background(), config.GeminiConfig{APIKey: "k", Model: "gemini-2.5-flash"}, "", nil)
	require.NoError(t, err)
	reg = llm.NewRegistry(llm.NewOllamaClient(config.OllamaConfig{Host: "http://localhost:11434"}), gemini)
	assert.Equal(t, config.BackendGemini, availableBackend(reg, config.BackendGemini, "synthesis", logging.Discard()))
}

func TestTasksFromConfig(t *testing.T) {
	tasks := tasksFromConfig([]config.TaskConfig{
		{Name: "Journals", Type: " Journal ", ID: "S1|S2"},
		{Name: "Feed", Type: "rss", FeedURL: "https://example.org/rss"},
	})

	require.Len(t, tasks, 2)
	assert.Equal(t, domain.TaskType("journal"), tasks[0].Type)
	assert.Equal(t, "S1|S2", tasks[0].ID)
	assert.Equal(t, domain.TaskType("rss"), tasks[1].Type)
	assert.Equal(t, "https://example.org/rss", tasks[1].FeedURL)
}

func TestNewOpensLedgerAndListsEvents(t *testing.T) {
	t.Setenv("BIBLIO_SCANNER_CONFIG", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("DATABASE_PATH", "")

	dir := t.TempDir()
	cfg := config.Load()
	cfg.Database.Path = filepath.Join(dir, "nested", "ledger.db")
	cfg.Acquisition.RenderEnabled = false
	cfg.Paths.Papers = filepath.Join(dir, "papers")
	cfg.Paths.Summaries = filepath.Join(dir, "summaries")

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	_, err = os.Stat(cfg.Database.Path)
	require.NoError(t, err)

	events, err := a.Events(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestRunObserverWritesTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "biblioscanner.prom")
	obs := &runObserver{metrics: metrics.New(), textfile: path}

	obs.Discovered(2)
	obs.RecordOutcome(domain.Outcome{State: domain.StateRejected})
	started := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	obs.Finished(usecase.Report{Started: started, Finished: started.Add(time.Minute), MonthlyCost: 1.5})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "1.5")
}
