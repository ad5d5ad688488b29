package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"

	"golang.org/x/mod/semver"
)

// Build identity, set with -ldflags "-X main.Version=...".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

const (
	githubRepo          = "huddlehq/huddle-recorder"
	versionCheckTimeout = 10000 * time.Millisecond // HTTP request timeout
)

// userAgent returns the client identity announced to the meeting server,
// e.g. "huddle-recorder/1.4.0 (darwin; arm64)".
func userAgent() string {
	return fmt.Sprintf("huddle-recorder/%s (%s; %s)", displayVersion(Version), runtime.GOOS, runtime.GOARCH)
}

// displayVersion returns v as canonical semver without the leading "v", or
// v unchanged when it is not a release version.
func displayVersion(v string) string {
	canon := semver.Canonical(canonicalVersion(v))
	if canon == "" {
		return normalizeVersion(v)
	}
	return strings.TrimPrefix(canon, "v")
}

// normalizeVersion returns a normalized version string.
func normalizeVersion(v string) string {
	return strings.TrimPrefix(strings.TrimSpace(v), "v")
}

// canonicalVersion returns the version in canonical semver format.
func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// isNewerVersion reports whether latest is newer than current.
func isNewerVersion(latest, current string) bool {
	latestCanon := canonicalVersion(latest)
	currentCanon := canonicalVersion(current)
	if !semver.IsValid(latestCanon) || !semver.IsValid(currentCanon) {
		return false
	}

	// semver.Compare returns 1 if latestCanon > currentCanon
	return semver.Compare(latestCanon, currentCanon) > 0
}

// githubRelease represents a release with version and status information.
type githubRelease struct {
	TagName    string `json:"tag_name"`
	Draft      bool   `json:"draft"`
	Prerelease bool   `json:"prerelease"`
}

// latestRelease returns the newest published release version. An empty
// string means no release exists yet.
func latestRelease(ctx context.Context, client *http.Client, apiBase string) (string, error) {
	ctx, cancel := context.WithTimeoutCause(ctx, versionCheckTimeout, errors.New("github API request timeout"))
	defer cancel()

	url := apiBase + "/repos/" + githubRepo + "/releases/latest"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return "", err
	}

	// Set required GitHub API headers.
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", userAgent())

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // Best-effort cleanup; error doesn't affect caller
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// No releases exist yet - not an error
		return "", nil
	default:
		return "", fmt.Errorf("release check failed: HTTP %d", resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", err
	}
	if release.Draft || release.Prerelease {
		return "", nil
	}
	return normalizeVersion(release.TagName), nil
}
