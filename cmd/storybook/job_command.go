package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"storybook/internal/jobs"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var kindFlag string

	cmd := &cobra.Command{
		Use:   "job JOB_ID",
		Short: "Show the status and log of a backend job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			kind, terminal, err := parseKind(kindFlag)
			if err != nil {
				return err
			}
			client, err := ctx.backendClient()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			printer := newLogPrinter(out)
			jobID := args[0]

			if !follow {
				report, err := client.PollJob(cmd.Context(), jobID)
				if err != nil {
					return err
				}
				snap := jobs.NewSnapshot(jobID, kind, jobs.StatusRunning)
				if err := snap.Merge(report, time.Now()); err != nil {
					return err
				}
				printer.print(&snap)
				fmt.Fprintf(out, "Job %s: %s (%d%%)\n", jobID, snap.Status, snap.Progress)
				return nil
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tracker := jobs.NewTracker(client, jobs.TrackerOptions{
				Interval:        cfg.GenerationPollInterval(),
				Terminal:        terminal,
				MaxPollFailures: cfg.Polling.MaxPollFailures,
				Logger:          ctx.logger(),
				OnUpdate: func(snap jobs.Snapshot) {
					printer.print(&snap)
				},
			})
			if err := tracker.Start(runCtx, jobID, kind); err != nil {
				return err
			}
			defer tracker.Dispose()

			snap, err := tracker.Wait(runCtx)
			if err != nil {
				return fmt.Errorf("follow job %s: %w", jobID, err)
			}
			fmt.Fprintf(out, "Job %s: %s (%d%%)\n", jobID, snap.Status, snap.Progress)
			if snap.Status == jobs.StatusError {
				return fmt.Errorf("job %s failed", jobID)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Poll until the job reaches a terminal status")
	cmd.Flags().StringVar(&kindFlag, "kind", string(jobs.KindGenerate), "Job kind shown in output (generate, regen, finalize)")
	return cmd
}

func parseKind(raw string) (jobs.Kind, jobs.TerminalFunc, error) {
	switch kind := jobs.Kind(raw); kind {
	case jobs.KindGenerate:
		return kind, jobs.GenerationTerminal, nil
	case jobs.KindRegen, jobs.KindFinalize:
		return kind, jobs.DefaultTerminal, nil
	default:
		return "", nil, fmt.Errorf("unknown job kind %q (want generate, regen, or finalize)", raw)
	}
}
