package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/xraph/salvage/dlq"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "salvagectl",
		Short:         "Inspect and recover the salvage dead letter queue",
		Version:       fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVarP(&a.backend, "backend", "b", "redis", "Backing store: redis or nats")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		newListCmd(a),
		newGetCmd(a),
		newRetryCmd(a),
		newPurgeCmd(a),
		newCountCmd(a),
	)
	return root
}

func newListCmd(a *app) *cobra.Command {
	var (
		limit   int
		jobName string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered jobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, _, closeFn, err := a.session(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			records := store.List(cmd.Context(), dlq.ListOpts{Limit: limit, JobName: jobName})
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), records)
			}
			printRecords(cmd.OutOrStdout(), records)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", dlq.DefaultListLimit, "Maximum number of records")
	cmd.Flags().StringVarP(&jobName, "job-name", "j", "", "Only records for this job name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one dead-lettered job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, _, _, closeFn, err := a.session(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), rec)
		},
	}
}

func newRetryCmd(a *app) *cobra.Command {
	var (
		all     bool
		jobName string
		perSec  float64
	)
	cmd := &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Re-dispatch dead-lettered jobs as new submissions",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return fmt.Errorf("--all takes no job id")
			}
			if !all && len(args) != 1 {
				return fmt.Errorf("requires a job id or --all")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, cfg, logger, closeFn, err := a.session(ctx, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			d, closeDispatcher, err := a.openDispatcher(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer closeDispatcher()

			out := cmd.OutOrStdout()
			if !all {
				if !store.Retry(ctx, args[0], d) {
					return fmt.Errorf("job %s was not retried (see log)", args[0])
				}
				fmt.Fprintf(out, "retried %s\n", args[0])
				return nil
			}

			// Bulk recovery is paced so a recovering downstream is not flooded.
			limiter := rate.NewLimiter(rate.Limit(perSec), 1)
			records := store.List(ctx, dlq.ListOpts{Limit: cfg.MaxQueueSize, JobName: jobName})
			var ok, failed int
			for _, r := range records {
				if err := limiter.Wait(ctx); err != nil {
					return err
				}
				if store.Retry(ctx, r.JobID, d) {
					ok++
				} else {
					failed++
				}
			}
			fmt.Fprintf(out, "retried %d, skipped %d\n", ok, failed)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "Retry every listed record")
	cmd.Flags().StringVarP(&jobName, "job-name", "j", "", "With --all, only records for this job name")
	cmd.Flags().Float64Var(&perSec, "rate", 10, "With --all, maximum retries per second")
	return cmd
}

func newPurgeCmd(a *app) *cobra.Command {
	var olderThanDays int
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove dead-lettered jobs",
		Long:  "Remove records that failed more than --older-than-days ago. Zero removes every record.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if olderThanDays < 0 {
				return fmt.Errorf("--older-than-days must not be negative")
			}
			store, _, _, closeFn, err := a.session(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			n := store.Purge(cmd.Context(), dlq.PurgeOpts{OlderThan: time.Duration(olderThanDays) * 24 * time.Hour})
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d\n", n)
			return nil
		},
	}
	cmd.Flags().IntVar(&olderThanDays, "older-than-days", 7, "Age threshold in days")
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of dead-lettered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, _, closeFn, err := a.session(cmd.Context(), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeFn()

			fmt.Fprintln(cmd.OutOrStdout(), store.Count(cmd.Context()))
			return nil
		},
	}
}

func printRecords(w io.Writer, records []*dlq.Record) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB ID\tJOB NAME\tEXCEPTION\tRETRIES\tFAILED AT")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			r.JobID, r.JobName, r.ExceptionType, r.RetryCount, r.FailedAt.Format(time.RFC3339))
	}
	_ = tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
