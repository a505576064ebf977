package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"storybook/internal/config"
	"storybook/internal/preflight"
)

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigValidateCommand(ctx))
	configCmd.AddCommand(newConfigInitCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool
	var sample config.SampleOptions

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		Long: "Init writes a commented sample config. --base-url and --api-key fill the [backend]\n" +
			"section; with --overwrite, [backend] values from the existing file are carried over\n" +
			"unless a flag replaces them.",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}

			_, statErr := os.Stat(target)
			switch {
			case statErr == nil && !overwrite:
				return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
			case statErr == nil:
				previous, err := config.ReadBackendSection(target)
				if err != nil {
					return fmt.Errorf("read existing [backend]: %w", err)
				}
				sample = carryBackend(sample, previous)
			case !errors.Is(statErr, fs.ErrNotExist):
				return fmt.Errorf("check config path: %w", statErr)
			}

			if err := config.CreateSample(target, sample); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			cfg, _, _, err := config.Load(target)
			if err != nil {
				return fmt.Errorf("written config does not load: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintln(out, renderConfigSummary(cfg))
			if strings.TrimSpace(cfg.Backend.APIKey) == "" {
				fmt.Fprintln(out, "Set backend.api_key (or export STORYBOOK_API_KEY) before running a story.")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	cmd.Flags().StringVar(&sample.BaseURL, "base-url", "", "Job API base URL written to [backend]")
	cmd.Flags().StringVar(&sample.APIKey, "api-key", "", "Image service credential written to [backend]")
	return cmd
}

func initTarget(raw string) (string, error) {
	target := strings.TrimSpace(raw)
	if target == "" {
		defaultPath, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return defaultPath, nil
	}
	expanded, err := config.ExpandPath(target)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return expanded, nil
}

// carryBackend keeps the previous file's connection settings for any field
// the caller did not set explicitly.
func carryBackend(opts config.SampleOptions, previous config.Backend) config.SampleOptions {
	if strings.TrimSpace(opts.BaseURL) == "" {
		opts.BaseURL = previous.BaseURL
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		opts.APIKey = previous.APIKey
	}
	return opts
}

func renderConfigSummary(cfg *config.Config) string {
	seconds := func(n int) string { return strconv.Itoa(n) + "s" }
	rows := [][]string{
		{"backend", "base_url", cfg.Backend.BaseURL},
		{"backend", "api_key", preflight.CheckCredentialFromConfig(cfg).Detail},
		{"backend", "timeouts", "request " + seconds(cfg.Backend.RequestTimeout) + ", upload " + seconds(cfg.Backend.UploadTimeout)},
		{"polling", "generation_interval", seconds(cfg.Polling.GenerationInterval)},
		{"polling", "regen_interval", seconds(cfg.Polling.RegenInterval)},
		{"polling", "max_poll_failures", strconv.Itoa(cfg.Polling.MaxPollFailures)},
		{"paths", "log_dir", cfg.Paths.LogDir},
		{"paths", "lock_dir", cfg.Paths.LockDir},
	}
	return renderTable([]column{
		{header: "Section"},
		{header: "Key"},
		{header: "Value", maxWidth: 60},
	}, rows)
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Validate configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, exists, err := config.Load(ctx.configPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", path)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults were used")
			}
			fmt.Fprintln(out, renderConfigSummary(cfg))
			if strings.TrimSpace(cfg.Backend.APIKey) == "" {
				fmt.Fprintln(out, "Warning: no API key configured")
			}
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
