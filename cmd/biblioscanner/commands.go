package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"BiblioScanner/internal/app"
	"BiblioScanner/internal/config"
	"BiblioScanner/internal/domain"
	"BiblioScanner/internal/logging"
	"BiblioScanner/internal/usecase"
)

const configEnv = "BIBLIO_SCANNER_CONFIG"

type runFlags struct {
	forceAll     bool
	legacyRSS    bool
	addDOI       string
	backfillDays int
	from         string
	to           string
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "biblioscanner",
		Short:         "Discover, filter and summarise new scientific papers",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if configPath != "" {
				return os.Setenv(configEnv, configPath)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (overrides "+configEnv+")")

	root.AddCommand(newRunCmd(), newBackfillCmd(), newWatchCmd(), newEventsCmd())
	return root
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the pipeline once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := f.request(time.Now())
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				report, err := a.Run(ctx, req)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&f.forceAll, "force-all", false, "ignore the seen ledger (use with caution)")
	cmd.Flags().BoolVar(&f.legacyRSS, "rss", false, "enable legacy RSS feed tasks")
	cmd.Flags().StringVar(&f.addDOI, "add-doi", "", "manually add a single paper by DOI")
	cmd.Flags().IntVar(&f.backfillDays, "backfill", 0, "days to go back for discovery (overrides last run date)")
	cmd.Flags().StringVar(&f.from, "from", "", "window start, YYYY-MM-DD")
	cmd.Flags().StringVar(&f.to, "to", "", "window end, YYYY-MM-DD")
	cmd.MarkFlagsMutuallyExclusive("backfill", "from")
	return cmd
}

// request turns flags into a run request; --from/--to win over --backfill.
func (f runFlags) request(now time.Time) (usecase.RunRequest, error) {
	req := usecase.RunRequest{ForceAll: f.forceAll, LegacyRSS: f.legacyRSS, DOI: f.addDOI}

	if f.backfillDays < 0 {
		return req, fmt.Errorf("--backfill must be positive, got %d", f.backfillDays)
	}
	if f.backfillDays > 0 {
		req.Window.From = now.AddDate(0, 0, -f.backfillDays)
	}

	var err error
	if f.from != "" {
		if req.Window.From, err = time.Parse("2006-01-02", f.from); err != nil {
			return req, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if f.to != "" {
		if req.Window.To, err = time.Parse("2006-01-02", f.to); err != nil {
			return req, fmt.Errorf("invalid --to: %w", err)
		}
	}
	if !req.Window.From.IsZero() && !req.Window.To.IsZero() && req.Window.To.Before(req.Window.From) {
		return req, fmt.Errorf("--to %s is before --from %s", f.to, req.Window.From.Format("2006-01-02"))
	}
	return req, nil
}

func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Process the next historical window of the rolling backfill",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				report, ran, err := a.Backfill(ctx)
				if err != nil {
					return err
				}
				if !ran {
					fmt.Fprintln(cmd.OutOrStdout(), "backfill floor reached, nothing to do")
					return nil
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run the pipeline on the configured interval until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				return a.Watch(ctx)
			})
		},
	}
}

func newEventsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Print recent operational events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Application) error {
				events, err := a.Events(ctx, limit)
				if err != nil {
					return err
				}
				printEvents(cmd.OutOrStdout(), events)
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of events")
	return cmd
}

func withApp(ctx context.Context, fn func(context.Context, *app.Application) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	logger := logging.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close ledger", "error", err)
		}
	}()
	return fn(ctx, a)
}

func printReport(w io.Writer, r usecase.Report) {
	fmt.Fprintf(w, "run %s: %d discovered, %d relevant, %d synthesized, run cost %.4f, month %.2f\n",
		r.RunID, r.Discovered, r.Relevant, r.Synthesized, r.RunCost, r.MonthlyCost)
	for _, o := range r.Outcomes {
		if o.State != domain.StateCommitted {
			continue
		}
		kind := "full text"
		if !o.Acquisition.FullText {
			kind = "abstract"
		}
		fmt.Fprintf(w, "  + %s (%s, %s) -> %s\n", o.Paper.Title, kind, o.Synthesis.Backend, o.Synthesis.SummaryPath)
	}
	for _, id := range r.Promoted {
		fmt.Fprintf(w, "  promoted %s\n", id)
	}
}

func printEvents(w io.Writer, events []domain.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "%s  %-15s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Category, e.Message)
	}
}
