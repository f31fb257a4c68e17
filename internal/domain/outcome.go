package domain

import "time"

// Stage names the relevance cascade step that produced a verdict.
type Stage string

const (
	StageJournalBlacklist Stage = "journal_blacklist"
	StageTopicWhitelist   Stage = "topic_whitelist"
	StageTopicBlacklist   Stage = "topic_blacklist"
	StageLLM              Stage = "llm"
	StageManual           Stage = "manual"
	StageError            Stage = "error"
)

// Verdict is the relevance decision for a paper.
type Verdict struct {
	Relevant bool
	Reason   string
	Stage    Stage
}

// Strategy names the acquisition step that produced the text.
type Strategy string

const (
	StrategyCache     Strategy = "cache"
	StrategyDirect    Strategy = "direct"
	StrategyElsevier  Strategy = "elsevier"
	StrategyUnpaywall Strategy = "unpaywall"
	StrategyCORE      Strategy = "core"
	StrategyHTML      Strategy = "html"
	StrategyRendered  Strategy = "rendered"
	StrategyAbstract  Strategy = "abstract"
)

// Acquisition carries the text handed to synthesis and its provenance.
type Acquisition struct {
	Text     string
	FullText bool
	Strategy Strategy
	PDFPath  string
}

// SynthesisResult points at the artifacts written for a summarised paper.
type SynthesisResult struct {
	SummaryPath string
	SidecarPath string
	Backend     string
}

// State is the terminal pipeline state of a paper within one run.
type State string

const (
	StateSkippedSeen     State = "skipped_seen"
	StateRejected        State = "rejected"
	StateNoText          State = "no_text"
	StateSynthesisFailed State = "synthesis_failed"
	StateCommitted       State = "committed"
)

// Outcome accumulates the per-stage results for one paper.
type Outcome struct {
	Paper       Paper
	Verdict     Verdict
	Acquisition Acquisition
	Synthesis   SynthesisResult
	State       State
}

// EventCategory tags an operational event row.
type EventCategory string

const (
	EventError         EventCategory = "ERROR"
	EventWarning       EventCategory = "WARNING"
	EventInfo          EventCategory = "INFO"
	EventSummary       EventCategory = "SUMMARY"
	EventPromotion     EventCategory = "PROMOTION"
	EventBudgetWarning EventCategory = "BUDGET_WARNING"
	EventBackfillStart EventCategory = "BACKFILL_START"
	EventBackfillEnd   EventCategory = "BACKFILL_END"
	EventDelayedCheck  EventCategory = "DELAYED_CHECK"
)

// Event is an append-only operational log entry.
type Event struct {
	Category  EventCategory
	Message   string
	Timestamp time.Time
}

// UsageRecord captures token counts and cost of one paid model call.
type UsageRecord struct {
	Model            string
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	Timestamp        time.Time
}

// SeenEntry is what the ledger stores for a processed paper.
type SeenEntry struct {
	Link       string
	Title      string
	DOI        string
	SourceID   string
	SourceName string
	AuthorIDs  []string
}

// SeenEntryFor builds the ledger entry for a paper.
func SeenEntryFor(p Paper) SeenEntry {
	return SeenEntry{
		Link:       p.Link,
		Title:      p.Title,
		DOI:        p.DOI,
		SourceID:   p.SourceID,
		SourceName: p.Source,
		AuthorIDs:  p.AuthorIDs,
	}
}

// Window is an inclusive publication-date range.
type Window struct {
	From time.Time
	To   time.Time
}

// TaskType selects the query shape of a discovery task.
type TaskType string

const (
	TaskSearch          TaskType = "search"
	TaskAuthor          TaskType = "author"
	TaskCitation        TaskType = "citation"
	TaskAuthorCitations TaskType = "author_citations"
	TaskJournal         TaskType = "journal"
	TaskISSN            TaskType = "issn"
	TaskRSS             TaskType = "rss"
)

// Task is one configured discovery query.
type Task struct {
	Name    string
	Type    TaskType
	ID      string
	Query   string
	ISSN    string
	DOI     string
	FeedURL string
}
