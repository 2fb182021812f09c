// Package update compares versions: the running binary against the latest
// release, and a paired gateway against the oldest protocol revision this
// build speaks.
package update

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

const (
	// DefaultReleasesURL is the default URL for checking releases.
	DefaultReleasesURL = "https://api.github.com/repos/comanda/chatsync/releases/latest"
	CheckTimeout       = 5 * time.Second
)

// ReleasesURL is the URL to check for releases. Can be overridden in tests.
var ReleasesURL = DefaultReleasesURL

type Release struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

type CheckResult struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateURL       string
	UpdateAvailable bool
}

// CheckForUpdate checks if a newer version is available.
// Returns nil if the check fails - never blocks the CLI.
func CheckForUpdate(ctx context.Context, currentVersion string) *CheckResult {
	if currentVersion == "dev" || currentVersion == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ReleasesURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil
	}

	result := &CheckResult{
		CurrentVersion: currentVersion,
		LatestVersion:  strings.TrimPrefix(release.TagName, "v"),
		UpdateURL:      release.HTMLURL,
	}
	result.UpdateAvailable = Compare(release.TagName, currentVersion) > 0
	return result
}

// Compare orders two versions with or without a leading "v". Invalid
// versions compare equal to everything, so callers never act on them.
func Compare(a, b string) int {
	a, b = normalizeVersion(a), normalizeVersion(b)
	if !semver.IsValid(a) || !semver.IsValid(b) {
		return 0
	}
	return semver.Compare(a, b)
}

// Compatibility is the outcome of checking a gateway version.
type Compatibility int

const (
	// Unknown means either version was missing or not semver.
	Unknown Compatibility = iota
	Compatible
	TooOld
)

// CheckGateway compares the version a gateway reports with the minimum this
// build supports.
func CheckGateway(gatewayVersion, minimum string) Compatibility {
	v, m := normalizeVersion(gatewayVersion), normalizeVersion(minimum)
	if !semver.IsValid(v) || !semver.IsValid(m) {
		return Unknown
	}
	if semver.Compare(v, m) < 0 {
		return TooOld
	}
	return Compatible
}

func normalizeVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		return "v" + v
	}
	return v
}
