package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/comanda/chatsync/internal/debug"
	"github.com/comanda/chatsync/internal/dryrun"
	"github.com/comanda/chatsync/internal/iocontext"
	"github.com/comanda/chatsync/internal/outfmt"
)

// rootFlags holds global CLI flags
type rootFlags struct {
	Config   string
	Profile  string
	Output   string
	JSON     bool
	Debug    bool
	JQ       string
	Template string
	Compact  bool
	Timeout  time.Duration
	DryRun   bool
}

const defaultTimeout = 15 * time.Second

// flags holds the global command flags. It is package-level state reset at
// the start of every Execute call; tests rely on that reset.
var flags = newRootFlags()

func newRootFlags() rootFlags {
	return rootFlags{
		Output:  defaultOutput(),
		Timeout: defaultTimeout,
	}
}

func defaultOutput() string {
	value := strings.TrimSpace(os.Getenv("CHATSYNC_OUTPUT"))
	if value != "" {
		return normalizeOutputFormat(value)
	}
	return "text"
}

func normalizeOutputFormat(value string) string {
	value = strings.TrimSpace(value)
	if value == "ndjson" {
		return "jsonl"
	}
	return value
}

// loadDotEnv loads .env from the working directory and from the chatsync
// config dir. Variables already exported win.
func loadDotEnv() {
	paths := []string{".env"}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "chatsync", ".env"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		_ = godotenv.Load(path)
	}
}

// Execute runs the root command
func Execute(ctx context.Context, args []string) error {
	// Before the flag reset so CHATSYNC_OUTPUT from .env applies.
	loadDotEnv()
	flags = newRootFlags()

	root := &cobra.Command{
		Use:                "chatsync",
		Short:              "Real-time chat sync for the restaurant back office",
		SilenceUsage:       true,
		SilenceErrors:      true,
		DisableSuggestions: true, // enhanceUnknownError suggests instead
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			flags.Output = normalizeOutputFormat(flags.Output)
			if flags.JSON {
				if cmd.Flags().Changed("output") && flags.Output != "json" {
					return fmt.Errorf("--json conflicts with --output %s", flags.Output)
				}
				flags.Output = "json"
			}
			needsJSON := flags.JQ != "" || flags.Template != ""
			if needsJSON && flags.Output != "json" && flags.Output != "jsonl" {
				if cmd.Flags().Changed("output") {
					return fmt.Errorf("--jq/--template require --output json or jsonl (or --json)")
				}
				flags.Output = "json"
			}
			if flags.Timeout <= 0 {
				return fmt.Errorf("--timeout must be positive")
			}

			mode, err := outfmt.Parse(flags.Output)
			if err != nil {
				return err
			}
			ctx = outfmt.WithMode(ctx, mode)
			ctx = outfmt.WithCompact(ctx, flags.Compact)
			if flags.JQ != "" {
				ctx = outfmt.WithQuery(ctx, flags.JQ)
			}
			if flags.Template != "" {
				tmpl, err := loadTemplate(flags.Template)
				if err != nil {
					return err
				}
				ctx = outfmt.WithTemplate(ctx, tmpl)
			}

			// Streams injected by the caller (tests) win over the process ones.
			ioStreams := iocontext.GetIO(ctx)
			ctx = iocontext.WithIO(ctx, ioStreams)
			cmd.SetOut(ioStreams.Out)
			cmd.SetErr(ioStreams.ErrOut)

			logger := debug.NewLogger(ioStreams.ErrOut, flags.Debug)
			ctx = logger.WithContext(ctx)
			ctx = debug.WithDebug(ctx, flags.Debug)
			ctx = dryrun.WithDryRun(ctx, flags.DryRun)

			cmd.SetContext(ctx)
			return nil
		},
	}

	root.SetContext(ctx)
	root.SetArgs(args)
	if ios, ok := injectedIO(ctx); ok {
		root.SetOut(ios.Out)
		root.SetErr(ios.ErrOut)
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.Config, "config", "", "Settings file (default: chatsync.yaml in the user config dir; env CHATSYNC_CONFIG)")
	pf.StringVarP(&flags.Profile, "profile", "p", "", "Credentials profile (env CHATSYNC_PROFILE)")
	pf.StringVarP(&flags.Output, "output", "o", flags.Output, "Output format: text|json|jsonl|ndjson (env CHATSYNC_OUTPUT)")
	pf.BoolVarP(&flags.JSON, "json", "j", false, "Shorthand for --output json")
	pf.BoolVar(&flags.Debug, "debug", false, "Enable debug logging")
	pf.StringVar(&flags.JQ, "jq", "", "jq expression to filter JSON output")
	pf.StringVar(&flags.Template, "template", "", "Go template string (or @path) to render JSON output")
	pf.BoolVar(&flags.Compact, "compact-json", false, "Compact JSON output (no indentation)")
	pf.BoolVar(&flags.DryRun, "dry-run", false, "Show what send, cache clear and auth logout would do without doing it")
	pf.DurationVar(&flags.Timeout, "timeout", flags.Timeout, "Time allowed to connect and get an answer (e.g. 15s, 1m)")

	root.AddCommand(newRunCmd())
	root.AddCommand(newConversationsCmd())
	root.AddCommand(newMessagesCmd())
	root.AddCommand(newSendCmd())
	root.AddCommand(newBotCmd())
	root.AddCommand(newCacheCmd())
	root.AddCommand(newAuthCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())

	targetCmd, err := root.ExecuteC()
	if err != nil {
		if !errors.Is(err, errAlreadyHandled) {
			_, _ = fmt.Fprintln(root.ErrOrStderr(), enhanceUnknownError(err, root, targetCmd))
		}
		return err
	}
	return nil
}

func injectedIO(ctx context.Context) (*iocontext.IO, bool) {
	if ctx == nil {
		return nil, false
	}
	ios := iocontext.GetIO(ctx)
	return ios, ios.Out != os.Stdout
}

// enhanceUnknownError adds "did you mean?" suggestions to unknown command/flag errors.
func enhanceUnknownError(err error, root *cobra.Command, targetCmd *cobra.Command) string {
	msg := err.Error()

	if strings.Contains(msg, "unknown command") {
		if unknown := extractQuoted(msg); unknown != "" {
			var names []string
			for _, c := range root.Commands() {
				if c.IsAvailableCommand() || c.Name() == "help" {
					names = append(names, c.Name())
					names = append(names, c.Aliases...)
				}
			}
			if suggestion := suggestCommand(unknown, names); suggestion != "" {
				return fmt.Sprintf("%s\n\nDid you mean %q?", msg, suggestion)
			}
		}
	}

	if strings.Contains(msg, "unknown flag") || strings.Contains(msg, "unknown shorthand flag") {
		if unknown := extractFlag(msg); unknown != "" {
			seen := make(map[string]bool)
			var flagNames []string
			addFlags := func(fs *pflag.FlagSet) {
				fs.VisitAll(func(f *pflag.Flag) {
					if name := "--" + f.Name; !seen[name] {
						seen[name] = true
						flagNames = append(flagNames, name)
					}
				})
			}
			cmd := targetCmd
			if cmd == nil {
				cmd = root
			}
			addFlags(cmd.Flags())
			addFlags(cmd.InheritedFlags())
			helpCmd := strings.TrimSpace(cmd.CommandPath()) + " --help"
			if suggestion := suggestFlag(unknown, flagNames); suggestion != "" {
				return fmt.Sprintf("%s\n\nDid you mean %q?\nRun %q to see supported flags.", msg, suggestion, helpCmd)
			}
			return fmt.Sprintf("%s\n\nRun %q to see supported flags.", msg, helpCmd)
		}
	}

	return msg
}

// extractQuoted extracts the first double-quoted substring from s.
func extractQuoted(s string) string {
	start := strings.IndexByte(s, '"')
	if start < 0 {
		return ""
	}
	end := strings.IndexByte(s[start+1:], '"')
	if end < 0 {
		return ""
	}
	return s[start+1 : start+1+end]
}

// extractFlag extracts a flag name (e.g., "--foo") from an error message.
func extractFlag(s string) string {
	idx := strings.Index(s, "--")
	if idx < 0 {
		// "unknown shorthand flag: 'a' in -a"
		idx = strings.LastIndex(s, " -")
		if idx < 0 {
			return ""
		}
		rest := strings.TrimSpace(s[idx+1:])
		if end := strings.IndexByte(rest, ' '); end >= 0 {
			rest = rest[:end]
		}
		rest = strings.TrimRight(rest, ".,;:!?\"'")
		if strings.HasPrefix(rest, "-") && len(rest) > 1 {
			return rest
		}
		return ""
	}
	rest := s[idx:]
	end := strings.IndexByte(rest, ' ')
	if end < 0 {
		end = len(rest)
	}
	return strings.TrimRight(rest[:end], ".,;:!?\"'")
}

func loadTemplate(value string) (string, error) {
	if strings.HasPrefix(value, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(value, "@"))
		if err != nil {
			return "", fmt.Errorf("failed to read template file: %w", err)
		}
		return string(data), nil
	}
	return value, nil
}
