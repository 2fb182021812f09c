package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/comanda/chatsync/internal/cache"
	"github.com/comanda/chatsync/internal/config"
	"github.com/comanda/chatsync/internal/dryrun"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the local conversation cache",
	}
	cmd.AddCommand(newCacheClearCmd())
	cmd.AddCommand(newCacheInfoCmd())
	return cmd
}

// openProfileCache opens the cache of the current gateway and profile
// without connecting.
func openProfileCache(cmd *cobra.Command) (*cache.Store, config.Settings, string, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, settings, "", err
	}
	profile := resolveProfile()
	url := settings.Gateway.URL
	if creds, err := config.LoadCredentials(profile); err == nil {
		url = creds.GatewayURL
	}
	store, err := openCache(settings, url, profile, logger(cmd))
	return store, settings, url, err
}

func newCacheClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop cached conversations and messages for this gateway and profile",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			store, settings, _, err := openProfileCache(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			before := store.Len()
			preview := &dryrun.Preview{Operation: "clear", Target: "cache"}
			preview.Add("backend", backendName(settings)).Add("entries", before)
			if done, err := maybeDryRun(cmd, preview); done || err != nil {
				return err
			}
			store.Clear()
			if isJSON(cmd) {
				return printJSON(cmd, map[string]any{"backend": backendName(settings), "removed": before})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cache cleared (%s backend, %d entries)\n", backendName(settings), before)
			return nil
		}),
	}
}

func newCacheInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show where the cache lives and how many entries it holds",
		Args:  cobra.NoArgs,
		RunE: RunE(func(cmd *cobra.Command, _ []string) error {
			store, settings, url, err := openProfileCache(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			info := map[string]any{
				"backend":  backendName(settings),
				"location": cacheLocation(settings, url),
				"entries":  store.Len(),
			}
			if isJSON(cmd) {
				return printJSON(cmd, info)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "Backend:  %s\n", info["backend"])
			_, _ = fmt.Fprintf(out, "Location: %s\n", info["location"])
			_, _ = fmt.Fprintf(out, "Entries:  %d\n", info["entries"])
			return nil
		}),
	}
}

func backendName(s config.Settings) string {
	if s.Cache.Backend == "" {
		return config.CacheBackendFile
	}
	return s.Cache.Backend
}

func cacheLocation(s config.Settings, gatewayURL string) string {
	switch s.Cache.Backend {
	case config.CacheBackendRedis:
		return s.Cache.RedisURL
	case config.CacheBackendSQLite:
		if s.Cache.SQLitePath != "" {
			return s.Cache.SQLitePath
		}
	}
	dir, err := cacheDir(s)
	if err != nil {
		return ""
	}
	if s.Cache.Backend == config.CacheBackendSQLite {
		return filepath.Join(dir, "cache.db")
	}
	return cache.ScopedDir(dir, gatewayURL)
}
