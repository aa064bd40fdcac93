package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"IssueAssembler/internal/app"
)

func serveCmd(opts *options) *cobra.Command {
	var noScheduler bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the operator HTTP API (and the scheduler unless disabled)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, _ io.Writer) error {
				return a.Serve(ctx, !noScheduler)
			})
		},
	}
	cmd.Flags().BoolVar(&noScheduler, "no-scheduler", false, "serve the API without the recurring job")
	return cmd
}

func scheduleCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Create and assemble issues for configured publications on an interval",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, _ io.Writer) error {
				return a.Schedule(ctx)
			})
		},
	}
}

func assembleCmd(opts *options) *cobra.Command {
	var (
		publication string
		date        string
	)
	cmd := &cobra.Command{
		Use:   "assemble [issue-id]",
		Short: "Run or resume assembly for an issue",
		Long: `Run or resume assembly for an issue from its stored checkpoint.

Pass an issue id, or --publication with an optional --date (YYYY-MM-DD) to
create the day's issue when it does not exist yet.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, out io.Writer) error {
				issueID, err := resolveIssue(ctx, a, args, publication, date)
				if err != nil {
					return err
				}
				summary, err := a.Orchestrator().Run(ctx, issueID)
				printSummary(out, summary)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&publication, "publication", "", "publication id")
	cmd.Flags().StringVar(&date, "date", "", "issue date (YYYY-MM-DD, defaults to today)")
	return cmd
}

func reprocessCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <issue-id>",
		Short: "Discard working data for an issue and assemble it from scratch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, out io.Writer) error {
				summary, err := a.Orchestrator().Reprocess(ctx, args[0])
				printSummary(out, summary)
				return err
			})
		},
	}
}

func selectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "select <issue-id> <module-id> [candidate-id...]",
		Short: "Replace a module's selection with the given candidates (manual mode)",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, out io.Writer) error {
				sel, err := a.Orchestrator().OverrideSelection(ctx, args[0], args[1], args[2:])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s module %s now %s with %d candidate(s)\n",
					success("✓"), sel.ModuleID, sel.Mode, len(sel.CandidateIDs))
				return nil
			})
		},
	}
}

func rescoreCmd(opts *options) *cobra.Command {
	var criteria string
	cmd := &cobra.Command{
		Use:   "rescore <module-id> <candidate-id...>",
		Short: "Re-run AI scoring for selected criteria and merge into stored ratings",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			numbers, err := parseNumbers(criteria)
			if err != nil {
				return err
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, out io.Writer) error {
				n, err := a.Backfiller().Rescore(ctx, args[0], args[1:], numbers)
				fmt.Fprintf(out, "rescored %d candidate(s)\n", n)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&criteria, "criteria", "", "comma-separated criterion numbers (empty means all)")
	return cmd
}

func showCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show <issue-id>",
		Short: "Print an issue with its module selections",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, out io.Writer) error {
				view, err := a.Orchestrator().Inspect(ctx, args[0])
				if err != nil {
					return err
				}
				printIssue(out, view)
				return nil
			})
		},
	}
}

func ingestCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <publication-id>",
		Short: "Scan configured listing sources into the candidate pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app.Application, out io.Writer) error {
				n, err := a.Ingester().Ingest(ctx, args[0], time.Now())
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s %d new candidate(s)\n", success("✓"), n)
				return nil
			})
		},
	}
}

func migrateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, opts, func(_ context.Context, _ *app.Application, out io.Writer) error {
				fmt.Fprintf(out, "%s schema up to date\n", success("✓"))
				return nil
			})
		},
	}
}

func resolveIssue(ctx context.Context, a *app.Application, args []string, publication, date string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if publication == "" {
		return "", fmt.Errorf("either an issue id or --publication is required")
	}
	day := time.Now()
	if date != "" {
		parsed, err := time.Parse(time.DateOnly, date)
		if err != nil {
			return "", fmt.Errorf("invalid --date %q: %w", date, err)
		}
		day = parsed
	}
	issue, err := a.Scheduler().EnsureIssue(ctx, publication, day)
	if err != nil {
		return "", err
	}
	return issue.ID, nil
}

func parseNumbers(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(raw, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid criterion number %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}
