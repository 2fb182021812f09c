package update

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// setupTestServer creates a test server and overrides ReleasesURL.
// Returns a cleanup function that restores the original URL.
func setupTestServer(handler http.HandlerFunc) (*httptest.Server, func()) {
	server := httptest.NewServer(handler)
	originalURL := ReleasesURL
	ReleasesURL = server.URL
	cleanup := func() {
		server.Close()
		ReleasesURL = originalURL
	}
	return server, cleanup
}

func TestNormalizeVersion(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1.0.0", "v1.0.0"},
		{"v1.0.0", "v1.0.0"},
		{"0.1.0", "v0.1.0"},
		{"v0.0.1", "v0.0.1"},
		{"2.3.4", "v2.3.4"},
		{"v10.20.30", "v10.20.30"},
		{"", "v"},
		{"v", "v"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeVersion(tt.input)
			if got != tt.expected {
				t.Errorf("normalizeVersion(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestCheckForUpdate_DevVersion(t *testing.T) {
	result := CheckForUpdate(context.Background(), "dev")
	if result != nil {
		t.Error("Expected nil for dev version, got result")
	}
}

func TestCheckForUpdate_Success_UpdateAvailable(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET request, got %s", r.Method)
		}
		if r.Header.Get("Accept") != "application/vnd.github.v3+json" {
			t.Error("Expected GitHub API accept header")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		release := Release{
			TagName: "v2.0.0",
			HTMLURL: "https://github.com/comanda/chatsync/releases/tag/v2.0.0",
		}
		_ = json.NewEncoder(w).Encode(release)
	})
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result == nil {
		t.Fatal("Expected result, got nil")
	}
	if !result.UpdateAvailable {
		t.Error("Expected update to be available")
	}
	if result.CurrentVersion != "1.0.0" {
		t.Errorf("Expected current version 1.0.0, got %s", result.CurrentVersion)
	}
	if result.LatestVersion != "2.0.0" {
		t.Errorf("Expected latest version 2.0.0, got %s", result.LatestVersion)
	}
	if result.UpdateURL != "https://github.com/comanda/chatsync/releases/tag/v2.0.0" {
		t.Errorf("Unexpected update URL: %s", result.UpdateURL)
	}
}

func TestCheckForUpdate_Success_NoUpdateNeeded(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		release := Release{
			TagName: "v1.0.0",
			HTMLURL: "https://github.com/comanda/chatsync/releases/tag/v1.0.0",
		}
		_ = json.NewEncoder(w).Encode(release)
	})
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result == nil {
		t.Fatal("Expected result, got nil")
	}
	if result.UpdateAvailable {
		t.Error("Expected no update to be available")
	}
}

func TestCheckForUpdate_ServerError(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result != nil {
		t.Error("Expected nil on server error, got result")
	}
}

func TestCheckForUpdate_InvalidJSON(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("invalid json"))
	})
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result != nil {
		t.Error("Expected nil on invalid JSON, got result")
	}
}

func TestCheckForUpdate_InvalidSemverLatest(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		release := Release{
			TagName: "not-a-version",
			HTMLURL: "https://github.com/comanda/chatsync/releases/tag/not-a-version",
		}
		_ = json.NewEncoder(w).Encode(release)
	})
	defer cleanup()

	result := CheckForUpdate(context.Background(), "1.0.0")
	if result == nil {
		t.Fatal("Expected result, got nil")
	}
	if result.UpdateAvailable {
		t.Error("Expected UpdateAvailable to be false for invalid semver")
	}
}

func TestCheckForUpdate_ContextCanceled(t *testing.T) {
	_, cleanup := setupTestServer(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		release := Release{TagName: "v2.0.0", HTMLURL: "https://example.com"}
		_ = json.NewEncoder(w).Encode(release)
	})
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := CheckForUpdate(ctx, "1.0.0")
	if result != nil {
		t.Error("Expected nil on canceled context, got result")
	}
}

func TestCompare(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.2.0", "v1.1.9", 1},
		{"v1.0.0", "1.0.0", 0},
		{"0.9.0", "1.0.0", -1},
		{"garbage", "1.0.0", 0},
	}
	for _, tt := range tests {
		if got := Compare(tt.a, tt.b); got != tt.want {
			t.Errorf("Compare(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestCheckGateway(t *testing.T) {
	tests := []struct {
		name     string
		version  string
		minimum  string
		expected Compatibility
	}{
		{"newer", "2.1.0", "2.0.0", Compatible},
		{"equal", "v2.0.0", "2.0.0", Compatible},
		{"older", "1.4.2", "2.0.0", TooOld},
		{"missing", "", "2.0.0", Unknown},
		{"no minimum", "1.0.0", "", Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckGateway(tt.version, tt.minimum); got != tt.expected {
				t.Errorf("CheckGateway(%q, %q) = %v, want %v", tt.version, tt.minimum, got, tt.expected)
			}
		})
	}
}
