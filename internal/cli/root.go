// Package cli implements the issueassembler command tree.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"IssueAssembler/internal/app"
	"IssueAssembler/internal/config"
	"IssueAssembler/internal/logging"
)

type options struct {
	configPath string
}

// RootCmd returns the top-level command.
func RootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "issueassembler",
		Short:         "Assemble daily newsletter issues from curated candidates",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (defaults to $ISSUE_ASSEMBLER_CONFIG)")

	cmd.AddCommand(
		serveCmd(opts),
		scheduleCmd(opts),
		assembleCmd(opts),
		reprocessCmd(opts),
		selectCmd(opts),
		rescoreCmd(opts),
		showCmd(opts),
		ingestCmd(opts),
		migrateCmd(opts),
	)
	return cmd
}

// Execute runs the command tree with SIGINT/SIGTERM cancellation.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := RootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, failure("error:"), err)
		return 1
	}
	return 0
}

// withApp builds the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, opts *options, fn func(ctx context.Context, a *app.Application, out io.Writer) error) error {
	cfg := config.Load(opts.configPath)
	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	ctx := cmd.Context()
	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			logger.Warn("close application", "error", cerr)
		}
	}()
	return fn(ctx, application, cmd.OutOrStdout())
}
