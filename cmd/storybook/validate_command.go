package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"storybook/internal/manifest"
)

func newValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "validate STORY",
		Short: "Validate a story file and show what would be uploaded",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			story, err := loadStory(cfg, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if err := manifest.Validate(story.input); err != nil {
				return fmt.Errorf("story invalid: %w", err)
			}
			uploads, err := manifest.Plan(story.input)
			if err != nil {
				return err
			}
			opts := buildOptions(cfg)
			opts.Logger = ctx.logger()
			m, _, err := manifest.NewBuilder(dryRunUploader{}, opts).Build(cmd.Context(), story.input)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Story: %s (%s theme)\n", m.Title.TitleText, m.Theme)
			if len(uploads) == 0 {
				fmt.Fprintln(out, "No reference images to upload")
			} else {
				fmt.Fprintln(out, renderPlan(uploads))
			}
			fmt.Fprintln(out, renderPages(m.Pages))
			fmt.Fprintln(out, "Story valid")
			return nil
		},
	}
}
