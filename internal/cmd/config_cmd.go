package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/comanda/chatsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the settings file",
	}
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings (file plus environment)",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, settings)
			}
			out := cmd.OutOrStdout()
			if settings.Path != "" {
				_, _ = fmt.Fprintf(out, "# %s\n", settings.Path)
			} else {
				_, _ = fmt.Fprintln(out, "# defaults (no settings file)")
			}
			enc := yaml.NewEncoder(out)
			enc.SetIndent(2)
			if err := enc.Encode(settings); err != nil {
				return fmt.Errorf("encode settings: %w", err)
			}
			return enc.Close()
		}),
	}
}

func newConfigInitCmd() *cobra.Command {
	var (
		force bool
		url   string
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a settings file with defaults",
		Long:  "Write a settings file to --config, or to the default location. The format follows the extension (.yaml or .toml).",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			path := flags.Config
			if path == "" {
				path = config.DefaultSettingsPath()
			}
			if path == "" {
				return fmt.Errorf("no config directory available; pass --config")
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}

			settings := config.DefaultSettings()
			settings.Gateway.URL = url
			if err := settings.Validate(); err != nil {
				return err
			}
			if err := config.SaveSettings(path, settings); err != nil {
				return err
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"path": path})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.Flags().StringVar(&url, "url", "", "Gateway URL to record in the file")
	return cmd
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the settings file location",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			path := flags.Config
			if path == "" {
				path = config.DefaultSettingsPath()
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		}),
	}
}
