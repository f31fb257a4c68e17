package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/logging"
	"BiblioScanner/internal/ports"
	"BiblioScanner/internal/scanner"
)

const manualReason = "Manually added by user."

var (
	// ErrDOINotFound is returned when manual mode finds no metadata for the DOI.
	ErrDOINotFound = errors.New("no metadata for doi")
	// ErrInvalidDOI is returned when a manual DOI is empty after normalisation.
	ErrInvalidDOI = errors.New("invalid doi")
)

// BackendGovernor chooses the synthesis backend paper by paper.
type BackendGovernor interface {
	Start(ctx context.Context)
	// Select re-reads the spend and returns the backend for the next synthesis.
	Select(ctx context.Context) string
	AfterPaper(ctx context.Context)
}

// Observer receives per-run counters, e.g. Prometheus metrics.
type Observer interface {
	Discovered(n int)
	RecordOutcome(o domain.Outcome)
	Finished(report Report)
}

// PipelineDeps wires all driven adapters into the orchestration pipeline.
type PipelineDeps struct {
	Source      ports.PaperSource
	Ledger      ports.Ledger
	Filter      ports.RelevanceFilter
	Acquirer    ports.Acquirer
	Synthesizer ports.Synthesizer
	Governor    BackendGovernor
	Notifier    ports.Notifier
	Observer    Observer
	Logger      *slog.Logger
}

// PipelineOptions holds run policy that does not come from adapters.
type PipelineOptions struct {
	Window           scanner.WindowPolicy
	Tasks            []domain.Task
	JournalThreshold int
	AuthorThreshold  int
	Clock            func() time.Time
}

// RunRequest carries the entry parameters of one run.
type RunRequest struct {
	// Window overrides the ledger-derived discovery window; zero ends are resolved.
	Window    domain.Window
	ForceAll  bool
	LegacyRSS bool
	// DOI switches to manual mode: only this paper, no seen-check, no filter.
	// It is normalised once at the start of Run.
	DOI string
}

// Report summarises a run for callers and downstream consumers.
type Report struct {
	RunID       string
	Window      domain.Window
	Started     time.Time
	Finished    time.Time
	Discovered  int
	Relevant    int
	Synthesized int
	RunCost     float64
	MonthlyCost float64
	Promoted    []string
	Outcomes    []domain.Outcome
}

// Pipeline implements the discover, filter, acquire, synthesize and commit workflow.
type Pipeline struct {
	source      ports.PaperSource
	ledger      ports.Ledger
	filter      ports.RelevanceFilter
	acquirer    ports.Acquirer
	synthesizer ports.Synthesizer
	governor    BackendGovernor
	notifier    ports.Notifier
	observer    Observer
	opts        PipelineOptions
	logger      *slog.Logger
}

// NewPipeline constructs the orchestration component.
func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.JournalThreshold <= 0 {
		opts.JournalThreshold = 3
	}
	if opts.AuthorThreshold <= 0 {
		opts.AuthorThreshold = 3
	}
	return &Pipeline{
		source:      deps.Source,
		ledger:      deps.Ledger,
		filter:      deps.Filter,
		acquirer:    deps.Acquirer,
		synthesizer: deps.Synthesizer,
		governor:    deps.Governor,
		notifier:    deps.Notifier,
		observer:    deps.Observer,
		opts:        opts,
		logger:      deps.Logger,
	}
}

// Run processes every discovered paper to completion, one at a time, then
// records a SUMMARY event and promotes frequently seen journals and authors.
func (p *Pipeline) Run(ctx context.Context, req RunRequest) (Report, error) {
	report := Report{RunID: uuid.NewString(), Started: p.opts.Clock()}
	log := p.log().With("run_id", report.RunID)

	if raw := strings.TrimSpace(req.DOI); raw != "" {
		req.DOI = domain.NormalizeDOI(raw)
		if req.DOI == "" {
			msg := fmt.Sprintf("Manual DOI %q is empty after normalisation", raw)
			log.Error(msg)
			p.ledger.RecordEvent(ctx, domain.EventError, msg)
			report.Finished = p.opts.Clock()
			return report, fmt.Errorf("%w: %q", ErrInvalidDOI, raw)
		}
	} else {
		req.DOI = ""
	}

	startCost := p.monthlyCost(ctx, log)

	papers, err := p.collect(ctx, req, &report, log)
	if err != nil {
		report.Finished = p.opts.Clock()
		return report, err
	}
	report.Discovered = len(papers)
	if p.observer != nil {
		p.observer.Discovered(len(papers))
	}
	if len(papers) == 0 {
		log.Info("no new papers found")
	}

	if p.governor != nil {
		p.governor.Start(ctx)
	}

	for _, paper := range papers {
		if err := ctx.Err(); err != nil {
			log.Warn("run cancelled", "processed", len(report.Outcomes), "error", err)
			break
		}
		outcome := p.process(ctx, paper, req, log)
		report.Outcomes = append(report.Outcomes, outcome)
		if p.observer != nil {
			p.observer.RecordOutcome(outcome)
		}
		switch outcome.State {
		case domain.StateCommitted:
			report.Relevant++
			report.Synthesized++
		case domain.StateNoText, domain.StateSynthesisFailed:
			report.Relevant++
		}
	}

	report.MonthlyCost = p.monthlyCost(ctx, log)
	report.RunCost = report.MonthlyCost - startCost
	if report.RunCost < 0 {
		// the calendar month rolled over during the run
		report.RunCost = report.MonthlyCost
	}

	msg := fmt.Sprintf("Pipeline finished. Found %d papers, %d were relevant, %d successfully synthesized. Run cost: %.4f. Monthly total: %.2f.",
		report.Discovered, report.Relevant, report.Synthesized, report.RunCost, report.MonthlyCost)
	log.Info(msg)
	p.ledger.RecordEvent(ctx, domain.EventSummary, msg)

	report.Promoted = p.promote(ctx, log)
	report.Finished = p.opts.Clock()
	if p.observer != nil {
		p.observer.Finished(report)
	}

	p.notify(ctx, report, log)
	return report, nil
}

func (p *Pipeline) collect(ctx context.Context, req RunRequest, report *Report, log *slog.Logger) ([]domain.Paper, error) {
	if doi := req.DOI; doi != "" {
		log.Info("manual mode", "doi", doi)
		papers, err := p.source.FetchByDOI(ctx, doi)
		if err != nil || len(papers) == 0 {
			msg := fmt.Sprintf("Could not find metadata for DOI %s", doi)
			if err != nil {
				msg = fmt.Sprintf("%s: %v", msg, err)
			}
			log.Error(msg)
			p.ledger.RecordEvent(ctx, domain.EventError, msg)
			return nil, fmt.Errorf("%w %s", ErrDOINotFound, doi)
		}
		return papers[:1], nil
	}

	window, err := scanner.ResolveWindow(ctx, p.ledger, p.opts.Window, req.Window, p.opts.Clock())
	if err != nil {
		log.Warn("cannot read last processed date, using fallback window", "error", err)
	}
	report.Window = window
	log.Info("discovery window", "from", window.From.Format("2006-01-02"), "to", window.To.Format("2006-01-02"))

	papers, err := p.source.Discover(ctx, ports.DiscoverRequest{
		Window:     window,
		IgnoreSeen: req.ForceAll,
		LegacyRSS:  req.LegacyRSS,
	})
	if err != nil {
		log.Error("discovery failed", "error", err, "kept", len(papers))
		p.ledger.RecordEvent(ctx, domain.EventError, fmt.Sprintf("Discovery failed: %v", err))
	}
	return papers, nil
}

// process drives one paper through the state machine. Nothing is marked seen
// unless the paper was rejected or its summary was written. Every paper not
// skipped as seen re-checks the budget afterwards, filter spend included.
func (p *Pipeline) process(ctx context.Context, paper domain.Paper, req RunRequest, log *slog.Logger) domain.Outcome {
	outcome := p.advance(ctx, paper, req, log)
	if outcome.State != domain.StateSkippedSeen {
		p.afterPaper(ctx)
	}
	return outcome
}

func (p *Pipeline) advance(ctx context.Context, paper domain.Paper, req RunRequest, log *slog.Logger) domain.Outcome {
	outcome := domain.Outcome{Paper: paper}
	manual := req.DOI != ""

	if !req.ForceAll && !manual {
		seen, err := p.ledger.IsSeen(ctx, paper.Link, paper.DOI)
		if err != nil {
			log.Warn("seen check failed, processing anyway", "title", paper.Title, "error", err)
		} else if seen {
			outcome.State = domain.StateSkippedSeen
			return outcome
		}
	}

	if manual {
		outcome.Verdict = domain.Verdict{Relevant: true, Reason: manualReason, Stage: domain.StageManual}
	} else {
		outcome.Verdict = p.filter.Check(ctx, paper)
	}
	if !outcome.Verdict.Relevant {
		log.Debug("rejected", "title", paper.Title, "stage", outcome.Verdict.Stage, "reason", outcome.Verdict.Reason)
		p.ledger.MarkSeen(ctx, domain.SeenEntryFor(paper))
		outcome.State = domain.StateRejected
		return outcome
	}
	log.Info("relevant", "title", paper.Title, "reason", outcome.Verdict.Reason)

	outcome.Acquisition = p.acquirer.Acquire(ctx, paper)
	if strings.TrimSpace(outcome.Acquisition.Text) == "" {
		msg := fmt.Sprintf("Skipping synthesis for %s due to missing text.", paper.Title)
		log.Warn(msg)
		p.ledger.RecordEvent(ctx, domain.EventWarning, msg)
		outcome.State = domain.StateNoText
		return outcome
	}

	backend := ""
	if p.governor != nil {
		backend = p.governor.Select(ctx)
	}
	result, err := p.synthesizer.Synthesize(ctx, ports.SynthesisRequest{
		Paper:       paper,
		Verdict:     outcome.Verdict,
		Acquisition: outcome.Acquisition,
		Backend:     backend,
	})
	if err != nil {
		msg := fmt.Sprintf("Synthesis failed for %s (%s): %v", paper.Title, backend, err)
		log.Error(msg)
		p.ledger.RecordEvent(ctx, domain.EventError, msg)
		outcome.State = domain.StateSynthesisFailed
		return outcome
	}

	outcome.Synthesis = result
	p.ledger.MarkSeen(ctx, domain.SeenEntryFor(paper))
	outcome.State = domain.StateCommitted
	return outcome
}

func (p *Pipeline) afterPaper(ctx context.Context) {
	if p.governor != nil {
		p.governor.AfterPaper(ctx)
	}
}

func (p *Pipeline) monthlyCost(ctx context.Context, log *slog.Logger) float64 {
	cost, err := p.ledger.MonthlyCost(ctx)
	if err != nil {
		log.Warn("cannot read monthly cost", "error", err)
		return 0
	}
	return cost
}

func (p *Pipeline) notify(ctx context.Context, report Report, log *slog.Logger) {
	if p.notifier == nil || report.Synthesized == 0 {
		return
	}
	if err := p.notifier.PublishDigest(ctx, buildDigestMessage(report)); err != nil {
		log.Warn("digest not delivered", "error", err)
	}
}

func (p *Pipeline) log() *slog.Logger {
	if p.logger != nil {
		return p.logger
	}
	return logging.Discard()
}
