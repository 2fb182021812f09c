package bot

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// LoadRules reads a rule file. ".toml" files are TOML, anything else YAML.
func LoadRules(path string) (RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, err
	}
	var rs RuleSet
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields().Decode(&rs)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&rs)
	}
	if err != nil {
		return RuleSet{}, fmt.Errorf("parse rules %s: %w", path, err)
	}
	for i, r := range rs.Rules {
		if len(r.Keywords) == 0 || strings.TrimSpace(r.Reply) == "" {
			return RuleSet{}, fmt.Errorf("parse rules %s: rule %d (%q) needs keywords and a reply", path, i+1, r.Name)
		}
	}
	return rs, nil
}

// reloadDelay coalesces the burst of events editors produce on save.
const reloadDelay = 100 * time.Millisecond

// WatchRules reloads path into r whenever it changes, until ctx ends. A file
// that fails to parse is logged and the previous rules stay active. The
// parent directory is watched so that editors replacing the file by rename
// are picked up.
func WatchRules(ctx context.Context, path string, r *Responder, log zerolog.Logger) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch rules directory: %w", err)
	}
	log = log.With().Str("component", "bot").Str("rules", path).Logger()

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				reload = time.After(reloadDelay)
			}
		case <-reload:
			reload = nil
			rs, err := LoadRules(path)
			if err != nil {
				log.Warn().Err(err).Msg("keeping previous rules")
				continue
			}
			r.SetRules(rs)
			log.Info().Int("rules", len(rs.Rules)).Msg("rules reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug().Err(err).Msg("watcher error")
		}
	}
}
