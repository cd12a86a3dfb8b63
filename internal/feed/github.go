package feed

import (
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/siid-ide/update-agent/pkg/api"
)

// Release is the GitHub Releases API wire shape for a single release.
type Release struct {
	TagName     string    `json:"tag_name"`
	Name        string    `json:"name"`
	PublishedAt time.Time `json:"published_at"`
	Prerelease  bool      `json:"prerelease"`
	Assets      []Asset   `json:"assets"`
}

// ProductMeta carries the installation facts asset selection and the
// version gate need.
type ProductMeta struct {
	// Target is the installation target, "user" or "system".
	Target string
	// CurrentVersion is the running product version, no leading "v".
	CurrentVersion string
	// RequireNewer gates the parsed release against CurrentVersion:
	// when set, a release that is not strictly newer (or whose version
	// cannot be compared) yields no update.
	RequireNewer bool
}

// ParseGitHubRelease normalizes a GitHub release into an update
// descriptor. Returns nil when the release offers nothing actionable:
// prereleases, releases with no asset for the platform, and, when the
// version gate is on, releases that are not strictly newer than the
// running version. A version that fails to parse also yields nil so an
// uncomparable release is never offered.
func ParseGitHubRelease(rel *Release, platform string, meta ProductMeta) *api.UpdateDescriptor {
	if rel == nil || rel.Prerelease {
		return nil
	}

	asset := SelectAsset(rel.Assets, platform, meta.Target)
	if asset == nil {
		return nil
	}

	productVersion := stripLeadingV(rel.TagName)
	if productVersion == "" {
		return nil
	}

	if meta.RequireNewer && !isStrictlyNewer(productVersion, meta.CurrentVersion) {
		return nil
	}

	var timestamp int64
	if !rel.PublishedAt.IsZero() {
		timestamp = rel.PublishedAt.UnixMilli()
	}

	return &api.UpdateDescriptor{
		Version:        rel.TagName,
		ProductVersion: productVersion,
		Timestamp:      timestamp,
		URL:            asset.BrowserDownloadURL,
		SHA256Hash:     stripDigestPrefix(asset.Digest),
	}
}

// stripLeadingV removes a single leading "v" from a tag, if present.
func stripLeadingV(tag string) string {
	if strings.HasPrefix(tag, "v") {
		return tag[1:]
	}
	return tag
}

// stripDigestPrefix removes the "sha256:" algorithm prefix from a
// content digest, leaving the bare hex string.
func stripDigestPrefix(digest string) string {
	return strings.TrimPrefix(digest, "sha256:")
}

// isStrictlyNewer compares two product versions using semantic-version
// ordering. It fails closed: if either version is not valid semver the
// comparison is treated as "not newer".
func isStrictlyNewer(candidate, current string) bool {
	cand := normalizeSemver(candidate)
	curr := normalizeSemver(current)
	if cand == "" || curr == "" {
		return false
	}
	return semver.Compare(cand, curr) > 0
}

// normalizeSemver ensures the "v" prefix the semver package requires
// and returns "" for versions that are not valid semver.
func normalizeSemver(v string) string {
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return v
}
