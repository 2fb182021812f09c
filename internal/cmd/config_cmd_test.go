package cmd

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/comanda/chatsync/internal/config"
)

func TestConfigInit_WritesDefaults(t *testing.T) {
	dir := setupTestEnv(t)
	path := filepath.Join(dir, "etc", "chatsync.toml")

	out, errOut, err := execute(t, "--config", path, "config", "init", "--url", "ws://127.0.0.1:3001")
	if err != nil {
		t.Fatalf("config init failed: %v (stderr %q)", err, errOut)
	}
	if !strings.Contains(out, "Wrote "+path) {
		t.Errorf("output = %q", out)
	}

	s, err := config.LoadSettings(path)
	if err != nil {
		t.Fatalf("written settings do not load: %v", err)
	}
	if s.Gateway.URL != "ws://127.0.0.1:3001" {
		t.Errorf("gateway url = %q", s.Gateway.URL)
	}

	_, errOut, err = execute(t, "--config", path, "config", "init")
	if err == nil || !strings.Contains(errOut, "already exists") {
		t.Errorf("second init should refuse to overwrite, err=%v stderr=%q", err, errOut)
	}
	if _, _, err := execute(t, "--config", path, "config", "init", "--force"); err != nil {
		t.Errorf("init --force failed: %v", err)
	}
}

func TestConfigInit_RejectsBadURL(t *testing.T) {
	dir := setupTestEnv(t)
	path := filepath.Join(dir, "chatsync.yaml")
	_, errOut, err := execute(t, "--config", path, "config", "init", "--url", "http://gw")
	if err == nil {
		t.Fatal("expected error for an http url")
	}
	if !strings.Contains(errOut, "ws://") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestConfigShow(t *testing.T) {
	dir := setupTestEnv(t)
	writeSettings(t, dir, "sync:\n  poll_interval: 20s\nbot:\n  enabled: true\n")
	t.Setenv("CHATSYNC_CACHE_BACKEND", "sqlite")

	out, _, err := execute(t, "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	for _, want := range []string{"# " + filepath.Join(dir, "chatsync.yaml"), "poll_interval: 20s", "backend: sqlite", "enabled: true"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}

	out, _, err = execute(t, "--json", "config", "show")
	if err != nil {
		t.Fatalf("config show --json failed: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if _, ok := got["gateway"]; !ok {
		t.Errorf("JSON settings missing gateway section: %v", got)
	}
}

func TestConfigPath(t *testing.T) {
	dir := setupTestEnv(t)
	out, _, err := execute(t, "config", "path")
	if err != nil {
		t.Fatalf("config path failed: %v", err)
	}
	if strings.TrimSpace(out) != filepath.Join(dir, "chatsync.yaml") {
		t.Errorf("config path = %q", out)
	}
}
