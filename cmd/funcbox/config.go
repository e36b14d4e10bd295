// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/funcbox/funcbox/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `funcbox config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage funcbox configuration",
		Long: `Manage funcbox configuration.

Configuration is read from config.cue in the user config directory:
  - Linux: ~/.config/funcbox/config.cue
  - macOS: ~/Library/Application Support/funcbox/config.cue
  - Windows: %AppData%\funcbox\config.cue

A config.cue in the current directory is used when the user file is absent.
FUNCBOX_<KEY> environment variables override file values, for example
FUNCBOX_SSH_TOKEN or FUNCBOX_REDIS_ADDRESS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var (
		format     string
		showSecret bool
	)
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.LoadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if !showSecret {
				cfg.SSH.Token = masked(cfg.SSH.Token)
				cfg.Redis.Password = masked(cfg.Redis.Password)
			}
			data, err := config.Export(cfg, config.Format(format))
			if err != nil {
				return err
			}
			_, err = app.stdout.Write(data)
			return err
		},
	}
	showCmd.Flags().StringVarP(&format, "format", "f", string(config.FormatCUE), "output format: cue, yaml, toml or json")
	showCmd.Flags().BoolVar(&showSecret, "show-secrets", false, "print the SSH token and Redis password")

	var dir string
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, created, err := config.CreateDefaultConfig(dir)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(app.stdout, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
				return nil
			}
			fmt.Fprintf(app.stdout, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
			return nil
		},
	}
	initCmd.Flags().StringVar(&dir, "dir", "", "directory to write config.cue into (default: user config directory)")

	pathCmd := &cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.configPath != "" {
				fmt.Fprintln(app.stdout, app.configPath)
				return nil
			}
			cfgDir, err := config.ConfigDir()
			if err != nil {
				return err
			}
			fmt.Fprintln(app.stdout, filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
			return nil
		},
	}

	cfgCmd.AddCommand(showCmd, initCmd, pathCmd)
	return cfgCmd
}
