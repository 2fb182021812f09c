package cmd

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/comanda/chatsync/internal/update"
)

func TestExecute_Help(t *testing.T) {
	setupTestEnv(t)
	out, _, err := execute(t, "--help")
	if err != nil {
		t.Fatalf("--help failed: %v", err)
	}
	for _, want := range []string{"Available Commands", "conversations", "messages", "send", "run", "--profile", "--timeout"} {
		if !strings.Contains(out, want) {
			t.Errorf("help output missing %q", want)
		}
	}
}

func TestExecute_Version(t *testing.T) {
	setupTestEnv(t)
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "chatsync version dev") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestExecute_VersionJSONReportsGatewayMinimum(t *testing.T) {
	dir := setupTestEnv(t)
	writeSettings(t, dir, "gateway:\n  min_version: 1.4.0\n")

	out, _, err := execute(t, "version", "-o", "json")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var got struct {
		Version    string `json:"version"`
		Go         string `json:"go"`
		MinGateway string `json:"minGateway"`
	}
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("invalid JSON %q: %v", out, err)
	}
	if got.Version != "dev" || got.MinGateway != "1.4.0" || !strings.HasPrefix(got.Go, "go") {
		t.Errorf("version info = %+v", got)
	}

	out, _, err = execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "Gateway: 1.4.0 or newer") {
		t.Errorf("text output = %q", out)
	}
}

func TestExecute_VersionReportsUpdate(t *testing.T) {
	setupTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"tag_name": "v2.0.0",
			"html_url": "https://github.com/comanda/chatsync/releases/tag/v2.0.0",
		})
	}))
	defer srv.Close()

	origURL, origVersion := update.ReleasesURL, version
	update.ReleasesURL, version = srv.URL, "1.0.0"
	t.Cleanup(func() { update.ReleasesURL, version = origURL, origVersion })

	out, errOut, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.Contains(out, "chatsync version 1.0.0") {
		t.Errorf("stdout = %q", out)
	}
	if !strings.Contains(errOut, "Update available: 1.0.0 -> 2.0.0") {
		t.Errorf("stderr = %q, want update notice", errOut)
	}
}

func TestExecute_UnknownCommandSuggests(t *testing.T) {
	setupTestEnv(t)
	_, errOut, err := execute(t, "conversatins")
	if err == nil {
		t.Fatal("expected error for unknown command")
	}
	if ExitCode(err) != exitUsage {
		t.Errorf("exit code = %d, want %d", ExitCode(err), exitUsage)
	}
	if !strings.Contains(errOut, `Did you mean "conversations"?`) {
		t.Errorf("stderr = %q, want suggestion", errOut)
	}
}

func TestExecute_UnknownFlagSuggests(t *testing.T) {
	setupTestEnv(t)
	_, errOut, err := execute(t, "conversations", "list", "--refesh")
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
	if !strings.Contains(errOut, `Did you mean "--refresh"?`) {
		t.Errorf("stderr = %q, want flag suggestion", errOut)
	}
	if !strings.Contains(errOut, "chatsync conversations list --help") {
		t.Errorf("stderr = %q, want help hint", errOut)
	}
}

func TestExecute_OutputFlagValidation(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"json conflicts with text", []string{"--json", "--output", "text", "bot", "rules"}, "--json conflicts"},
		{"jq requires json output", []string{"--output", "text", "--jq", ".items", "bot", "rules"}, "--jq/--template require"},
		{"bad output", []string{"--output", "xml", "bot", "rules"}, "xml"},
		{"zero timeout", []string{"--timeout", "0s", "bot", "rules"}, "--timeout must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupTestEnv(t)
			_, errOut, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(errOut, tt.wantErr) {
				t.Errorf("stderr = %q, want %q", errOut, tt.wantErr)
			}
		})
	}
}

func TestExecute_JQImpliesJSON(t *testing.T) {
	setupTestEnv(t)
	out, _, err := execute(t, "--jq", ".rules[].name", "bot", "rules")
	if err != nil {
		t.Fatalf("bot rules --jq failed: %v", err)
	}
	if !strings.Contains(out, `"menu"`) || !strings.Contains(out, `"hours"`) {
		t.Errorf("jq output = %q, want rule names", out)
	}
}

func TestExecute_JSONErrors(t *testing.T) {
	setupTestEnv(t)
	_, errOut, err := execute(t, "-o", "json", "conversations", "list")
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	if ExitCode(err) != exitAuth {
		t.Errorf("exit code = %d, want %d", ExitCode(err), exitAuth)
	}
	var payload map[string]any
	if jerr := json.Unmarshal([]byte(errOut), &payload); jerr != nil {
		t.Fatalf("stderr is not JSON: %q (%v)", errOut, jerr)
	}
	if payload["code"] != "not_configured" {
		t.Errorf("code = %v, want not_configured", payload["code"])
	}
	if payload["exitCode"] != float64(exitAuth) {
		t.Errorf("exitCode = %v, want %d", payload["exitCode"], exitAuth)
	}
}

func TestExtractFlag(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"unknown flag: --refesh", "--refesh"},
		{"unknown shorthand flag: 'x' in -x", "-x"},
		{"something else", ""},
	}
	for _, tt := range tests {
		if got := extractFlag(tt.in); got != tt.want {
			t.Errorf("extractFlag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
