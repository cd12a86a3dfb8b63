package driver

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/siid-ide/update-agent/pkg/api"
)

// uninstallerName is the artifact a setup-style install leaves next to
// the product binaries.
const uninstallerName = "unins000.exe"

var (
	kindOnce   sync.Once
	cachedKind api.UpdateKind
)

// DetectUpdateKind probes the install directory for an uninstaller to
// decide between archive and setup delivery. The result is cached for
// the process lifetime: an install never changes kind while running.
func DetectUpdateKind(installPath string) api.UpdateKind {
	kindOnce.Do(func() {
		cachedKind = probeUpdateKind(installPath)
	})
	return cachedKind
}

func probeUpdateKind(installPath string) api.UpdateKind {
	if installPath == "" {
		return api.UpdateKindArchive
	}

	if _, err := os.Stat(filepath.Join(installPath, uninstallerName)); err == nil {
		return api.UpdateKindSetup
	}

	return api.UpdateKindArchive
}
