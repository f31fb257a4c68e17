package ports

import (
	"context"
	"time"

	"BiblioScanner/internal/domain"
)

// SeenChecker answers whether a paper was already processed.
type SeenChecker interface {
	IsSeen(ctx context.Context, link, doi string) (bool, error)
}

// EventRecorder appends operational events; failures are logged, not returned.
type EventRecorder interface {
	RecordEvent(ctx context.Context, category domain.EventCategory, message string)
}

// UsageRecorder appends paid model usage.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, usage domain.UsageRecord)
}

// CostReader exposes the current calendar-month spend.
type CostReader interface {
	MonthlyCost(ctx context.Context) (float64, error)
}

// MetadataStore is the key/value store behind cursors and markers.
type MetadataStore interface {
	Metadata(ctx context.Context, key string) (string, bool, error)
	SetMetadata(ctx context.Context, key, value string) error
}

// MonitoredSource lists promoted entities for discovery.
type MonitoredSource interface {
	MonitoredJournals(ctx context.Context) ([]string, error)
	MonitoredAuthors(ctx context.Context) ([]string, error)
}

// Ledger is the persistent store of processed papers, promotions, events and usage.
type Ledger interface {
	SeenChecker
	EventRecorder
	UsageRecorder
	CostReader
	MetadataStore
	MonitoredSource

	MarkSeen(ctx context.Context, entry domain.SeenEntry)
	LastProcessedDate(ctx context.Context) (time.Time, bool, error)
	AllProcessedDates(ctx context.Context) (map[string]time.Time, error)
	RecentEvents(ctx context.Context, limit int) ([]domain.Event, error)
	PromotableJournals(ctx context.Context, threshold int) ([]string, error)
	PromotableAuthors(ctx context.Context, threshold int) ([]string, error)
	PromoteJournal(ctx context.Context, id string) error
	PromoteAuthor(ctx context.Context, id string) error
}

// DiscoverRequest scopes one discovery pass.
type DiscoverRequest struct {
	Window     domain.Window
	IgnoreSeen bool
	LegacyRSS  bool
}

// PaperSource pulls candidate papers from upstream providers.
type PaperSource interface {
	Discover(ctx context.Context, req DiscoverRequest) ([]domain.Paper, error)
	FetchByDOI(ctx context.Context, doi string) ([]domain.Paper, error)
}

// RelevanceFilter decides whether a paper deserves synthesis.
type RelevanceFilter interface {
	Check(ctx context.Context, paper domain.Paper) domain.Verdict
}

// Acquirer obtains the best available text for a paper.
type Acquirer interface {
	Acquire(ctx context.Context, paper domain.Paper) domain.Acquisition
}

// Synthesizer turns acquired text into a summary using the named backend.
type Synthesizer interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (domain.SynthesisResult, error)
}

// SynthesisRequest carries everything the synthesis collaborator consumes.
type SynthesisRequest struct {
	Paper       domain.Paper
	Verdict     domain.Verdict
	Acquisition domain.Acquisition
	Backend     string
}

// Notifier streams run digests to chat channels.
type Notifier interface {
	PublishDigest(ctx context.Context, digest string) error
}

// Scheduler controls when pipelines execute.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
