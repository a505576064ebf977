package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"storybook/internal/preflight"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check [STORY]",
		Short: "Check the job API, credential, and story images",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var files []string
			if len(args) == 1 {
				story, err := loadStory(cfg, args[0])
				if err != nil {
					return err
				}
				files = story.files()
			}

			out := cmd.OutOrStdout()
			results := preflight.RunAll(cmd.Context(), cfg, files)
			fmt.Fprintln(out, renderPreflight(results, shouldColorize(out)))
			if preflight.Failed(results) {
				return errors.New("preflight checks failed")
			}
			fmt.Fprintln(out, "All checks passed")
			return nil
		},
	}
}
