// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/invowk/batchsh/internal/config"
)

// newConfigCommand creates the `batchsh config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage batchsh configuration",
		Long: `Manage batchsh configuration.

Configuration is stored in:
  - Linux: ~/.config/batchsh/config.cue
  - macOS: ~/Library/Application Support/batchsh/config.cue
  - Windows: %APPDATA%\batchsh\config.cue

BATCHSH_* environment variables override file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.showConfig(cmd); err != nil {
				return app.fail(cmd, "show configuration", err)
			}
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.Dir()
			if err != nil {
				return app.fail(cmd, "locate configuration", err)
			}
			fmt.Fprintln(app.stdout, filepath.Join(dir, config.FileName))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := config.Dir()
			if err != nil {
				return app.fail(cmd, "locate configuration", err)
			}
			path, err := config.CreateDefault(dir)
			if err != nil {
				return app.fail(cmd, "create configuration", err)
			}
			fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("Configuration at"), path)
			return nil
		},
	})

	return cfgCmd
}

func (a *App) showConfig(cmd *cobra.Command) error {
	cfg, path, err := a.LoadConfig(cmd.Context(), config.LoadOptions{ConfigFilePath: a.flags.configPath})
	if err != nil {
		return err
	}

	fmt.Fprintln(a.stdout, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(a.stdout)
	if path != "" {
		fmt.Fprintf(a.stdout, "%s: %s\n", CmdStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(a.stdout, "%s: %s\n", CmdStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(a.stdout)

	out, err := config.ToTOML(cfg)
	if err != nil {
		return err
	}
	_, err = a.stdout.Write(out)
	return err
}
