package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/update"
)

// version is set at build time via ldflags
var version = "dev"

type versionInfo struct {
	Version    string `json:"version"`
	Go         string `json:"go"`
	Platform   string `json:"platform"`
	MinGateway string `json:"minGateway,omitempty"`
	Latest     string `json:"latest,omitempty"`
	UpdateURL  string `json:"updateUrl,omitempty"`
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Aliases: []string{"v"},
		Short:   "Print version information",
		Long: `Print the chatsync version, the oldest gateway it accepts
(gateway.min_version in the settings file) and whether a newer release
exists. The release check never blocks and stays silent on failure.`,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			info := versionInfo{
				Version:  version,
				Go:       runtime.Version(),
				Platform: runtime.GOOS + "/" + runtime.GOARCH,
			}
			// A broken settings file must not hide the version.
			if settings, err := loadSettings(); err == nil {
				info.MinGateway = settings.Gateway.MinVersion
			}
			if result := update.CheckForUpdate(cmd.Context(), version); result != nil && result.UpdateAvailable {
				info.Latest, info.UpdateURL = result.LatestVersion, result.UpdateURL
			}

			if isJSON(cmd) {
				return printJSON(cmd, info)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "chatsync version %s (%s, %s)\n", info.Version, info.Go, info.Platform)
			if info.MinGateway != "" {
				_, _ = fmt.Fprintf(out, "Gateway: %s or newer\n", info.MinGateway)
			}
			if info.Latest != "" {
				errOut := cmd.ErrOrStderr()
				_, _ = fmt.Fprintf(errOut, "\nUpdate available: %s -> %s\n", info.Version, info.Latest)
				_, _ = fmt.Fprintf(errOut, "Download: %s\n", info.UpdateURL)
			}
			return nil
		}),
	}
}
