package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/config"
	"github.com/comanda/chatsync/internal/dryrun"
	"github.com/comanda/chatsync/internal/iocontext"
	"github.com/comanda/chatsync/internal/validation"
)

// newAuthCmd returns the auth command with subcommands
func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage gateway credentials",
		Long:  "Store the gateway URL and session token in the OS keychain, one set per profile.",
	}

	cmd.AddCommand(newAuthLoginCmd())
	cmd.AddCommand(newAuthStatusCmd())
	cmd.AddCommand(newAuthLogoutCmd())
	cmd.AddCommand(newAuthProfilesCmd())
	cmd.AddCommand(newAuthUseCmd())
	return cmd
}

func newAuthLoginCmd() *cobra.Command {
	var (
		url     string
		token   string
		device  string
		envFile string
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Save gateway credentials",
		Example: strings.TrimSpace(`
  # Save credentials for the default profile
  chatsync auth login --url wss://gateway.example.com/socket --token SECRET

  # A second restaurant under its own profile
  chatsync --profile centro auth login --url wss://gw2.example.com/socket --token SECRET

  # Read CHATSYNC_GATEWAY_URL and CHATSYNC_TOKEN from a .env file
  chatsync auth login --env-file .env
`),
		Args: cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profile := flags.Profile
			if envFile != "" {
				envVars, err := loadAuthEnvFile(envFile)
				if err != nil {
					return err
				}
				if url == "" {
					url = strings.TrimSpace(envVars["CHATSYNC_GATEWAY_URL"])
				}
				if token == "" {
					token = strings.TrimSpace(envVars["CHATSYNC_TOKEN"])
				}
				if profile == "" {
					profile = strings.TrimSpace(envVars["CHATSYNC_PROFILE"])
				}
				applyKeyringEnv(envVars)
			}

			if url == "" {
				return fmt.Errorf("--url is required")
			}
			url = strings.TrimSuffix(strings.TrimSpace(url), "/")
			if err := validation.ValidateGatewayURL(url); err != nil {
				return fmt.Errorf("--url: %w", err)
			}
			if profile != "" {
				if err := validation.ValidateProfileName(profile); err != nil {
					return err
				}
			}

			if token == "" {
				ios := iocontext.GetIO(cmd.Context())
				if !ios.InteractiveInput() {
					return fmt.Errorf("--token is required")
				}
				_, _ = fmt.Fprint(cmd.ErrOrStderr(), "Gateway token: ")
				line, err := bufio.NewReader(ios.In).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read token: %w", err)
				}
				token = strings.TrimSpace(line)
				if token == "" {
					return fmt.Errorf("--token is required")
				}
			}

			creds := config.Credentials{GatewayURL: url, Token: token, Device: device}
			if err := config.SaveProfile(profile, creds); err != nil {
				return fmt.Errorf("failed to save credentials: %w", err)
			}

			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"saved": true, "gateway_url": url, "profile": profileLabel(profile)})
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Credentials saved.")
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Gateway: %s\n", url)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  Profile: %s\n", profileLabel(profile))
			return nil
		}),
	}

	cmd.Flags().StringVar(&url, "url", "", "Gateway WebSocket URL (ws:// or wss://)")
	cmd.Flags().StringVar(&token, "token", "", "Session token (prompted when omitted on a terminal)")
	cmd.Flags().StringVar(&device, "device", "", "Client name announced to the gateway")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Load CHATSYNC_* values from a .env file")
	return cmd
}

func loadAuthEnvFile(path string) (map[string]string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("--env-file requires a file path")
	}
	envVars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read --env-file %q: %w", path, err)
	}
	return envVars, nil
}

// applyKeyringEnv exports keyring settings from an env file unless already
// set, so the credentials land in the keyring the file describes.
func applyKeyringEnv(envVars map[string]string) {
	for _, key := range []string{"CHATSYNC_KEYRING_BACKEND", "CHATSYNC_KEYRING_PASSWORD", "CHATSYNC_CREDENTIALS_DIR"} {
		value, ok := envVars[key]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		_ = os.Setenv(key, value)
	}
}

func newAuthStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the credentials in use (token masked)",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profile := resolveProfile()
			creds, err := config.LoadCredentials(profile)
			if err != nil {
				if err == config.ErrNotConfigured {
					if isJSON(cmd) {
						return printJSON(cmd, map[string]any{
							"authenticated": false,
							"message":       "Not configured. Run 'chatsync auth login'.",
						})
					}
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Not configured.")
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Run 'chatsync auth login' to save gateway credentials.")
					return nil
				}
				return fmt.Errorf("failed to load credentials: %w", err)
			}

			source := "keychain"
			if os.Getenv("CHATSYNC_GATEWAY_URL") != "" || os.Getenv("CHATSYNC_TOKEN") != "" {
				source = "env"
			}
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{
					"authenticated": true,
					"gateway_url":   creds.GatewayURL,
					"token":         maskToken(creds.Token),
					"device":        creds.Device,
					"profile":       profileLabel(profile),
					"source":        source,
				})
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Gateway: %s\n", creds.GatewayURL)
			_, _ = fmt.Fprintf(out, "Token:   %s\n", maskToken(creds.Token))
			if creds.Device != "" {
				_, _ = fmt.Fprintf(out, "Device:  %s\n", creds.Device)
			}
			_, _ = fmt.Fprintf(out, "Profile: %s\n", profileLabel(profile))
			_, _ = fmt.Fprintf(out, "Source:  %s\n", source)
			return nil
		}),
	}
}

func newAuthLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the profile's credentials from the keychain",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profile := resolveProfile()
			preview := &dryrun.Preview{Operation: "remove profile", Target: profileLabel(profile)}
			preview.Description = "Deletes the stored gateway URL and token from the keychain."
			if done, err := maybeDryRun(cmd, preview); done || err != nil {
				return err
			}
			if err := config.DeleteProfile(profile); err != nil {
				return fmt.Errorf("failed to remove credentials: %w", err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Profile %s removed.\n", profileLabel(profile))
			return nil
		}),
	}
}

func newAuthProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			profiles, err := config.ListProfiles()
			if err != nil {
				return err
			}
			current, _ := config.CurrentProfile()
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"profiles": profiles, "current": current})
			}
			f := newTextFormatter(cmd)
			if len(profiles) == 0 {
				f.Empty("No profiles saved")
				return nil
			}
			for _, p := range profiles {
				marker := " "
				if p == current {
					marker = "*"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, p)
			}
			return nil
		}),
	}
}

func newAuthUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <profile>",
		Short: "Make a saved profile the current one",
		Args:  cobra.ExactArgs(1),
		RunE: RunE(func(cmd *cobra.Command, args []string) error {
			profile := strings.TrimSpace(args[0])
			if err := validation.ValidateProfileName(profile); err != nil {
				return err
			}
			if _, err := config.LoadProfile(profile); err != nil {
				return fmt.Errorf("profile %q: %w", profile, err)
			}
			if err := config.SetCurrentProfile(profile); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Now using profile %s\n", profile)
			return nil
		}),
	}
}

func profileLabel(p string) string {
	if p == "" {
		return "default"
	}
	return p
}

// maskToken masks a token for display, showing only first and last 4 characters
func maskToken(token string) string {
	if len(token) < 8 {
		return strings.Repeat("*", len(token))
	}
	return token[:4] + strings.Repeat("*", len(token)-8) + token[len(token)-4:]
}
