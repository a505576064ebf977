package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"storybook/internal/jobs"
	"storybook/internal/logging"
	"storybook/internal/orchestrator"
	"storybook/internal/preflight"
	"storybook/internal/runlock"
)

type regenRequest struct {
	key         string
	instruction string
}

func parseRegenFlags(values []string) ([]regenRequest, error) {
	requests := make([]regenRequest, 0, len(values))
	for _, raw := range values {
		key, instruction, _ := strings.Cut(raw, "=")
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("invalid --regen %q (want PAGE=INSTRUCTION)", raw)
		}
		requests = append(requests, regenRequest{key: key, instruction: strings.TrimSpace(instruction)})
	}
	return requests, nil
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var regenFlags []string
	var noFinalize bool
	var skipChecks bool

	cmd := &cobra.Command{
		Use:   "run STORY",
		Short: "Generate, review, and finalize a story",
		Long: "Run uploads the story's reference images, generates every page, applies any\n" +
			"--regen requests once the pages are ready, and then builds the final PDF and video.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			regens, err := parseRegenFlags(regenFlags)
			if err != nil {
				return err
			}
			story, err := loadStory(cfg, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			logger := ctx.logger()

			lock, err := runlock.Acquire(cfg.Paths.LockDir, story.path)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Release(); err != nil {
					logger.Warn("failed to release story lock", logging.Error(err))
				}
			}()

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if !skipChecks {
				results := preflight.RunAll(runCtx, cfg, story.files())
				if preflight.Failed(results) {
					fmt.Fprintln(out, renderPreflight(results, shouldColorize(out)))
					return errors.New("preflight checks failed (use --skip-checks to bypass)")
				}
			}

			client, err := ctx.backendClient()
			if err != nil {
				return err
			}
			opts := orchestrator.Options{
				GenerationInterval: cfg.GenerationPollInterval(),
				RegenInterval:      cfg.RegenPollInterval(),
				MaxPollFailures:    cfg.Polling.MaxPollFailures,
				Build:              buildOptions(cfg),
				Logger:             logger,
			}
			session, err := orchestrator.New(runCtx, client, opts)
			if err != nil {
				return err
			}
			defer session.Close()
			fmt.Fprintf(out, "Project %s created\n", session.ProjectID())

			printer := newLogPrinter(out)
			if err := session.Submit(runCtx, story.input); err != nil {
				return fmt.Errorf("submit story: %w", err)
			}
			st, err := follow(runCtx, session, printer, func(st orchestrator.State) bool {
				return st.Phase == orchestrator.PhaseReview || (st.Phase == orchestrator.PhaseForm && !st.Submitting)
			})
			if err != nil {
				return err
			}
			if st.Phase != orchestrator.PhaseReview {
				return fmt.Errorf("image generation failed: %s", st.Error)
			}
			fmt.Fprintln(out, renderTiles(st.Tiles, client))

			if len(regens) > 0 {
				if st, err = applyRegenerations(runCtx, session, printer, regens, out); err != nil {
					return err
				}
				fmt.Fprintln(out, renderTiles(st.Tiles, client))
			}

			if noFinalize {
				fmt.Fprintln(out, "Skipping finalize (--no-finalize)")
				return nil
			}
			started, err := session.Finalize(runCtx)
			if err != nil {
				return fmt.Errorf("finalize: %w", err)
			}
			if !started {
				return errors.New("finalize refused while pages are regenerating")
			}
			st, err = follow(runCtx, session, printer, func(st orchestrator.State) bool {
				return st.Phase == orchestrator.PhaseDone || (st.Phase == orchestrator.PhaseFinalizing && st.CanFinalize)
			})
			if err != nil {
				return err
			}
			if st.Phase != orchestrator.PhaseDone {
				return fmt.Errorf("finalize failed: %s", st.Error)
			}
			fmt.Fprintln(out, renderOutputs(st.FinalOutputs, client))
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&regenFlags, "regen", nil, "Regenerate a page after generation, as PAGE=INSTRUCTION (repeatable)")
	cmd.Flags().BoolVar(&noFinalize, "no-finalize", false, "Stop after review without building the PDF and video")
	cmd.Flags().BoolVar(&skipChecks, "skip-checks", false, "Skip preflight checks")
	return cmd
}

// applyRegenerations starts every request and waits until no page is
// regenerating.
func applyRegenerations(ctx context.Context, session *orchestrator.Orchestrator, printer *logPrinter, requests []regenRequest, out io.Writer) (orchestrator.State, error) {
	for _, req := range requests {
		started, err := session.RequestRegeneration(ctx, req.key, req.instruction)
		if err != nil {
			return orchestrator.State{}, fmt.Errorf("regenerate %s: %w", req.key, err)
		}
		if !started {
			fmt.Fprintf(out, "%s is already regenerating; skipped\n", pageLabel(req.key))
			continue
		}
		fmt.Fprintf(out, "Regenerating %s\n", pageLabel(req.key))
	}
	st, err := follow(ctx, session, printer, func(st orchestrator.State) bool {
		return !st.AnyRegenerating()
	})
	if err != nil {
		return st, err
	}
	for _, tile := range st.Tiles {
		if tile.Regen == nil {
			continue
		}
		if tile.Regen.Err != "" {
			return st, fmt.Errorf("regenerate %s: %s", tile.Key, tile.Regen.Err)
		}
		if tile.Regen.Job.Status == jobs.StatusError {
			return st, fmt.Errorf("regenerate %s: %s", tile.Key, tile.Regen.Job.LastLog())
		}
	}
	return st, nil
}

// follow prints job log lines as they arrive until done holds.
func follow(ctx context.Context, session *orchestrator.Orchestrator, printer *logPrinter, done func(orchestrator.State) bool) (orchestrator.State, error) {
	var last uint64
	for {
		st, err := session.Wait(ctx, func(st orchestrator.State) bool {
			return st.Seq != last || done(st)
		})
		if err != nil {
			return st, err
		}
		last = st.Seq
		printer.print(st.Generation)
		printer.print(st.Finalize)
		for _, tile := range st.Tiles {
			if tile.Regen != nil {
				job := tile.Regen.Job
				printer.print(&job)
			}
		}
		if done(st) {
			return st, nil
		}
	}
}
