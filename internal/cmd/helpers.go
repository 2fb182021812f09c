package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/config"
	"github.com/comanda/chatsync/internal/dryrun"
	"github.com/comanda/chatsync/internal/outfmt"
)

// errAlreadyHandled is a sentinel error indicating the error was already printed to stderr.
var errAlreadyHandled = errors.New("error already handled")

type handledError struct {
	err      error
	exitCode int
}

func (e *handledError) Error() string {
	return e.err.Error()
}

func (e *handledError) Unwrap() error {
	return errAlreadyHandled
}

func (e *handledError) ExitCode() int {
	return e.exitCode
}

// RunE wraps a command body so errors are printed once, as JSON in JSON
// modes, and carry their exit code.
func RunE(fn func(cmd *cobra.Command, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd, args)
		if err == nil {
			return nil
		}
		if isJSON(cmd) {
			_ = outfmt.WriteJSONMaybeCompact(cmd.ErrOrStderr(), errorPayload(err), outfmt.IsCompact(cmd.Context()))
		} else {
			_, _ = fmt.Fprint(cmd.ErrOrStderr(), HandleError(err))
		}
		return &handledError{err: err, exitCode: ExitCode(err)}
	}
}

type jsonError struct {
	Error    string `json:"error"`
	Code     string `json:"code"`
	ExitCode int    `json:"exitCode"`
}

func errorPayload(err error) jsonError {
	return jsonError{Error: err.Error(), Code: errorCode(err), ExitCode: ExitCode(err)}
}

func isJSON(cmd *cobra.Command) bool {
	return cmd.Context() != nil && outfmt.IsJSON(cmd.Context())
}

// printJSON writes v honoring --jq, --template and --compact-json.
func printJSON(cmd *cobra.Command, v any) error {
	return outfmt.NewFormatter(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr()).Output(v)
}

// logger returns the command logger set up by the root command.
func logger(cmd *cobra.Command) zerolog.Logger {
	return *zerolog.Ctx(cmd.Context())
}

// withTimeout bounds one-shot commands by --timeout.
func withTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flags.Timeout)
}

func loadSettings() (config.Settings, error) {
	return config.LoadSettings(flags.Config)
}

// resolveProfile picks --profile, then CHATSYNC_PROFILE, then the current
// keyring profile. Keyring failures fall back to the default profile.
func resolveProfile() string {
	if p := strings.TrimSpace(flags.Profile); p != "" {
		return p
	}
	if p := strings.TrimSpace(config.ProfileFromEnv()); p != "" {
		return p
	}
	if p, err := config.CurrentProfile(); err == nil {
		return p
	}
	return ""
}

func formatMillis(ms int64) string {
	if s := outfmt.FormatMillis(ms); s != "" {
		return s
	}
	return "-"
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func newTextFormatter(cmd *cobra.Command) *outfmt.Formatter {
	return outfmt.NewFormatter(cmd.Context(), cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// maybeDryRun prints preview and reports true when --dry-run is set; the
// caller then returns without acting.
func maybeDryRun(cmd *cobra.Command, preview *dryrun.Preview) (bool, error) {
	if !dryrun.IsEnabled(cmd.Context()) {
		return false, nil
	}
	preview.DryRun = true
	if isJSON(cmd) {
		return true, printJSON(cmd, preview)
	}
	preview.Write(cmd.OutOrStdout())
	return true, nil
}
