package feed

import "strings"

// Well-known asset names produced by the release pipeline.
const (
	userSetupAssetName   = "SIIDUserSetup.exe"
	systemSetupAssetName = "SIIDSetup.exe"

	userSetupMarker   = "UserSetup"
	systemSetupMarker = "SIIDSetup"

	checksumSidecarSuffix = ".sha256"
)

// Asset is one downloadable artifact attached to a release.
type Asset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
	// Digest, when present, is formatted "sha256:<hex>".
	Digest string `json:"digest,omitempty"`
}

// SelectAsset picks the single downloadable artifact matching the
// platform and installation target. Rules are evaluated in order and
// the first match wins, so selection is deterministic and ties are
// broken by input order. Returns nil when nothing matches.
func SelectAsset(assets []Asset, platform, target string) *Asset {
	switch {
	case strings.HasPrefix(platform, "win32"):
		return selectWindowsAsset(assets, target)
	case strings.HasPrefix(platform, "linux"):
		return firstWithSuffix(assets, ".tar.gz")
	case strings.HasPrefix(platform, "darwin"):
		return firstWithSuffix(assets, ".dmg")
	default:
		return nil
	}
}

func selectWindowsAsset(assets []Asset, target string) *Asset {
	if target == "user" {
		if a := firstNamed(assets, userSetupAssetName); a != nil {
			return a
		}
		if a := firstContaining(assets, userSetupMarker); a != nil {
			return a
		}
	} else {
		if a := firstNamed(assets, systemSetupAssetName); a != nil {
			return a
		}
		if a := firstContaining(assets, systemSetupMarker); a != nil {
			return a
		}
	}

	// Generic fallback: any executable that is not a checksum sidecar.
	for i := range assets {
		name := assets[i].Name
		if strings.HasSuffix(name, ".exe") && !strings.HasSuffix(name, checksumSidecarSuffix) {
			return &assets[i]
		}
	}

	return nil
}

func firstNamed(assets []Asset, name string) *Asset {
	for i := range assets {
		if assets[i].Name == name {
			return &assets[i]
		}
	}
	return nil
}

func firstContaining(assets []Asset, marker string) *Asset {
	for i := range assets {
		if strings.Contains(assets[i].Name, marker) {
			return &assets[i]
		}
	}
	return nil
}

func firstWithSuffix(assets []Asset, suffix string) *Asset {
	for i := range assets {
		if strings.HasSuffix(assets[i].Name, suffix) {
			return &assets[i]
		}
	}
	return nil
}
