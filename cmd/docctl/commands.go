package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docpipe/internal/core/domain"
	"github.com/kirillkom/docpipe/internal/core/ports"
)

type services struct {
	reader       ports.DocumentReader
	restarter    ports.PipelineRestarter
	diagnostics  ports.DiagnosticsRunner
	housekeeping ports.HousekeepingRunner
}

type servicesLoader func(ctx context.Context, logLevel string) (*services, func(), error)

func newRootCommand(load servicesLoader) *cobra.Command {
	var logLevel string
	cmd := &cobra.Command{
		Use:          "docctl",
		Short:        "Operator CLI for the document pipeline",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level for bootstrap output (written to stderr)")

	withServices := func(run func(cmd *cobra.Command, svc *services, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			svc, closeFn, err := load(cmd.Context(), logLevel)
			if err != nil {
				return err
			}
			defer closeFn()
			return run(cmd, svc, args)
		}
	}

	cmd.AddCommand(
		newDiagnoseCmd(withServices),
		newCleanupCmd(withServices),
		newRestartCmd(withServices),
		newShowCmd(withServices),
		newQueueCmd(withServices),
	)
	return cmd
}

type runWithServices func(run func(cmd *cobra.Command, svc *services, args []string) error) func(*cobra.Command, []string) error

func newDiagnoseCmd(with runWithServices) *cobra.Command {
	var failOnFault bool
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Report integrity faults, degraded and stuck documents",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, svc *services, _ []string) error {
			report, err := svc.diagnostics.Run(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if failOnFault && report.Count(domain.FindingIntegrityFault) > 0 {
				return fmt.Errorf("%d integrity faults found", report.Count(domain.FindingIntegrityFault))
			}
			return nil
		}),
	}
	cmd.Flags().BoolVar(&failOnFault, "fail-on-fault", false, "Exit non-zero when integrity faults are found")
	return cmd
}

func newCleanupCmd(with runWithServices) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired terminal documents and their files",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, svc *services, _ []string) error {
			result, err := svc.housekeeping.Cleanup(cmd.Context(), time.Now().UTC())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), result)
		}),
	}
}

func newRestartCmd(with runWithServices) *cobra.Command {
	return &cobra.Command{
		Use:   "restart <document-id>...",
		Short: "Re-enqueue the stage each document is waiting on",
		Args:  cobra.MinimumNArgs(1),
		RunE: with(func(cmd *cobra.Command, svc *services, args []string) error {
			failed := 0
			for _, id := range args {
				stage, err := svc.restarter.Restart(cmd.Context(), id)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: enqueued %s\n", id, stage)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d restarts failed", failed, len(args))
			}
			return nil
		}),
	}
}

func newShowCmd(with runWithServices) *cobra.Command {
	var responseOnly bool
	cmd := &cobra.Command{
		Use:   "show <document-id>",
		Short: "Print a document record or its response view",
		Args:  cobra.ExactArgs(1),
		RunE: with(func(cmd *cobra.Command, svc *services, args []string) error {
			if responseOnly {
				view, err := svc.reader.Response(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), view)
			}
			doc, err := svc.reader.GetByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), doc)
		}),
	}
	cmd.Flags().BoolVar(&responseOnly, "response", false, "Print the status-dependent response view")
	return cmd
}

func newQueueCmd(with runWithServices) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List in-progress documents, oldest first",
		Args:  cobra.NoArgs,
		RunE: with(func(cmd *cobra.Command, svc *services, _ []string) error {
			docs, err := svc.reader.ListQueue(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, doc := range docs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", doc.ID, doc.Status, doc.CreatedAt.Format(time.RFC3339), doc.Filename)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of documents to list")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
