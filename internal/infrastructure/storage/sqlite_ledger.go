package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/ports"
)

const timestampLayout = "2006-01-02 15:04:05"

// Options tunes the ledger; zero values fall back to defaults.
type Options struct {
	BusyRetries int
	BusyBackoff time.Duration
	Clock       func() time.Time
	Logger      *slog.Logger
}

// Ledger persists processed papers, promotions, events and usage in SQLite.
type Ledger struct {
	db          *sql.DB
	busyRetries int
	busyBackoff time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

var _ ports.Ledger = (*Ledger)(nil)

// Open creates the database file if needed and applies migrations.
func Open(ctx context.Context, path string, opts Options) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create ledger directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping ledger: %w", err)
	}

	l := &Ledger{
		db:          db,
		busyRetries: opts.BusyRetries,
		busyBackoff: opts.BusyBackoff,
		now:         opts.Clock,
		logger:      opts.Logger,
	}
	if l.busyRetries <= 0 {
		l.busyRetries = 3
	}
	if l.busyBackoff < 0 {
		l.busyBackoff = 0
	}
	if l.now == nil {
		l.now = time.Now
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}

	if err := l.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return l, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) timestamp() string {
	return l.now().UTC().Format(timestampLayout)
}

// IsSeen reports whether a paper matches an existing record by link or DOI.
func (l *Ledger) IsSeen(ctx context.Context, link, doi string) (bool, error) {
	cond := sq.Or{sq.Eq{"link": link}}
	if doi != "" {
		cond = append(cond, sq.Eq{"doi": doi})
	}

	query, args, err := sq.Select("1").From("seen_papers").Where(cond).Limit(1).ToSql()
	if err != nil {
		return false, fmt.Errorf("build seen query: %w", err)
	}

	var one int
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query seen: %w", err)
	}
	return true, nil
}

// MarkSeen records a processed paper and its authors. Duplicates are accepted
// silently; busy errors are retried and a final failure is only logged.
func (l *Ledger) MarkSeen(ctx context.Context, entry domain.SeenEntry) {
	err := withBusyRetry(ctx, l.busyRetries, l.busyBackoff, func() error {
		return l.insertSeen(ctx, entry)
	}, func(attempt int, err error) {
		l.logger.Warn("ledger busy, retrying", "attempt", attempt, "max", l.busyRetries, "error", err)
	})
	if err != nil {
		l.logger.Error("mark seen failed", "link", entry.Link, "error", err)
		l.RecordEvent(ctx, domain.EventError, fmt.Sprintf("Could not mark %s as seen: %v", entry.Link, err))
	}
}

func (l *Ledger) insertSeen(ctx context.Context, entry domain.SeenEntry) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query, args, err := sq.Insert("seen_papers").
		Options("OR IGNORE").
		Columns("link", "doi", "title", "source_id", "source_name", "processed_date").
		Values(entry.Link, nullable(entry.DOI), entry.Title, nullable(entry.SourceID), nullable(entry.SourceName), l.timestamp()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert seen: %w", err)
	}

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("insert seen: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil
	}

	paperID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("last insert id: %w", err)
	}

	for _, authorID := range entry.AuthorIDs {
		authorID = shortID(authorID)
		if authorID == "" {
			continue
		}
		query, args, err := sq.Insert("paper_authors").
			Options("OR IGNORE").
			Columns("paper_id", "author_id").
			Values(paperID, authorID).
			ToSql()
		if err != nil {
			return fmt.Errorf("build insert author: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert author %s: %w", authorID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LastProcessedDate returns the latest processed timestamp, if any.
func (l *Ledger) LastProcessedDate(ctx context.Context) (time.Time, bool, error) {
	var raw sql.NullString
	err := l.db.QueryRowContext(ctx, `SELECT MAX(processed_date) FROM seen_papers`).Scan(&raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("query last processed: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return time.Time{}, false, nil
	}
	ts, err := parseTimestamp(raw.String)
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// AllProcessedDates maps every link to its processed timestamp.
func (l *Ledger) AllProcessedDates(ctx context.Context) (map[string]time.Time, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT link, processed_date FROM seen_papers WHERE link IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query processed dates: %w", err)
	}
	defer rows.Close()

	result := make(map[string]time.Time)
	for rows.Next() {
		var (
			link string
			raw  sql.NullString
		)
		if err := rows.Scan(&link, &raw); err != nil {
			return nil, fmt.Errorf("scan processed date: %w", err)
		}
		if !raw.Valid {
			continue
		}
		ts, err := parseTimestamp(raw.String)
		if err != nil {
			l.logger.Debug("skip unparsable processed date", "link", link, "value", raw.String)
			continue
		}
		result[link] = ts
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

// MonthlyCost sums usage cost for the current calendar month.
func (l *Ledger) MonthlyCost(ctx context.Context) (float64, error) {
	now := l.now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	query, args, err := sq.Select("COALESCE(SUM(cost), 0)").
		From("usage").
		Where(sq.GtOrEq{"timestamp": start.Format(timestampLayout)}).
		Where(sq.Lt{"timestamp": end.Format(timestampLayout)}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build monthly cost: %w", err)
	}

	var total float64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("query monthly cost: %w", err)
	}
	return total, nil
}

// RecordUsage appends a usage row; failures are logged.
func (l *Ledger) RecordUsage(ctx context.Context, usage domain.UsageRecord) {
	ts := usage.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	query, args, err := sq.Insert("usage").
		Columns("model", "prompt_tokens", "completion_tokens", "total_tokens", "cost", "timestamp").
		Values(usage.Model, usage.PromptTokens, usage.CompletionTokens, usage.PromptTokens+usage.CompletionTokens, usage.Cost, ts.UTC().Format(timestampLayout)).
		ToSql()
	if err == nil {
		_, err = l.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		l.logger.Error("record usage failed", "model", usage.Model, "error", err)
	}
}

// RecordEvent appends an event row; failures are logged.
func (l *Ledger) RecordEvent(ctx context.Context, category domain.EventCategory, message string) {
	query, args, err := sq.Insert("events").
		Columns("event_type", "message", "timestamp").
		Values(string(category), message, l.timestamp()).
		ToSql()
	if err == nil {
		_, err = l.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		l.logger.Error("record event failed", "category", category, "error", err)
	}
}

// RecentEvents returns the newest events first.
func (l *Ledger) RecentEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query, args, err := sq.Select("event_type", "message", "timestamp").
		From("events").
		OrderBy("timestamp DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build recent events: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			category, message string
			raw               sql.NullString
		)
		if err := rows.Scan(&category, &message, &raw); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev := domain.Event{Category: domain.EventCategory(category), Message: message}
		if raw.Valid {
			ev.Timestamp, _ = parseTimestamp(raw.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return events, nil
}

// PromotableJournals lists venues with at least threshold papers that are not monitored yet.
func (l *Ledger) PromotableJournals(ctx context.Context, threshold int) ([]string, error) {
	builder := sq.Select("source_id").
		From("seen_papers").
		Where("source_id IS NOT NULL AND source_id <> ''").
		Where("source_id NOT IN (SELECT source_id FROM monitored_journals WHERE source_id IS NOT NULL)").
		GroupBy("source_id").
		Having("COUNT(DISTINCT id) >= ?", threshold).
		OrderBy("source_id")
	return l.queryStrings(ctx, builder)
}

// PromotableAuthors lists authors with at least threshold papers that are not monitored yet.
func (l *Ledger) PromotableAuthors(ctx context.Context, threshold int) ([]string, error) {
	builder := sq.Select("author_id").
		From("paper_authors").
		Where("author_id NOT IN (SELECT author_id FROM monitored_authors WHERE author_id IS NOT NULL)").
		GroupBy("author_id").
		Having("COUNT(DISTINCT paper_id) >= ?", threshold).
		OrderBy("author_id")
	return l.queryStrings(ctx, builder)
}

// PromoteJournal starts monitoring a venue; repeated calls are no-ops.
func (l *Ledger) PromoteJournal(ctx context.Context, id string) error {
	return l.insertIgnore(ctx, "monitored_journals", "source_id", id)
}

// PromoteAuthor starts monitoring an author; repeated calls are no-ops.
func (l *Ledger) PromoteAuthor(ctx context.Context, id string) error {
	return l.insertIgnore(ctx, "monitored_authors", "author_id", id)
}

// MonitoredJournals returns promoted venue ids in promotion order.
func (l *Ledger) MonitoredJournals(ctx context.Context) ([]string, error) {
	return l.queryStrings(ctx, sq.Select("source_id").From("monitored_journals").OrderBy("id"))
}

// MonitoredAuthors returns promoted author ids in promotion order.
func (l *Ledger) MonitoredAuthors(ctx context.Context) ([]string, error) {
	return l.queryStrings(ctx, sq.Select("author_id").From("monitored_authors").OrderBy("id"))
}

// Metadata reads a cursor or marker value.
func (l *Ledger) Metadata(ctx context.Context, key string) (string, bool, error) {
	query, args, err := sq.Select("value").From("metadata").Where(sq.Eq{"key": key}).ToSql()
	if err != nil {
		return "", false, fmt.Errorf("build metadata query: %w", err)
	}
	var value sql.NullString
	err = l.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query metadata %s: %w", key, err)
	}
	return value.String, value.Valid, nil
}

// SetMetadata upserts a cursor or marker value.
func (l *Ledger) SetMetadata(ctx context.Context, key, value string) error {
	query, args, err := sq.Insert("metadata").
		Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return fmt.Errorf("build set metadata: %w", err)
	}
	return withBusyRetry(ctx, l.busyRetries, l.busyBackoff, func() error {
		if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("set metadata %s: %w", key, err)
		}
		return nil
	}, nil)
}

func (l *Ledger) insertIgnore(ctx context.Context, table, column, value string) error {
	query, args, err := sq.Insert(table).
		Options("OR IGNORE").
		Columns(column, "added_date").
		Values(value, l.timestamp()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", table, err)
	}
	return withBusyRetry(ctx, l.busyRetries, l.busyBackoff, func() error {
		if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	}, nil)
}

func (l *Ledger) queryStrings(ctx context.Context, builder sq.SelectBuilder) ([]string, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var value sql.NullString
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		if value.Valid && value.String != "" {
			result = append(result, value.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// shortID trims OpenAlex URLs such as https://openalex.org/A123 down to A123.
func shortID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// parseTimestamp parses SQLite timestamp strings.
func parseTimestamp(ts string) (time.Time, error) {
	formats := []string{
		timestampLayout,
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z",
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, ts); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", ts)
}
