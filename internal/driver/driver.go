// Package driver implements the per-platform update strategies: how an
// artifact is fetched, verified, staged and handed to the platform
// installer. The state machine owns the lifecycle; drivers only do the
// platform work.
package driver

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/siid-ide/update-agent/internal/logging"
	"github.com/siid-ide/update-agent/pkg/api"
)

var log = logging.L("driver")

var (
	// ErrChecksumMismatch indicates the downloaded artifact's digest
	// does not match the one announced by the feed.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNotSupported is returned by operations a driver variant does
	// not implement on this platform.
	ErrNotSupported = errors.New("operation not supported on this platform")
)

// Available is a staged artifact awaiting install. It is owned by the
// driver that produced it and lives until the installer consumes it or
// the update is superseded.
type Available struct {
	// Version is the product version the artifact installs.
	Version string
	// PackagePath is the staged artifact in the cache directory.
	PackagePath string
	// FlagPath, on setup installs, is the file telling the installer
	// which artifact to apply. Empty for archive installs.
	FlagPath string
}

// Driver is the per-OS strategy the state machine calls out to.
type Driver interface {
	// Kind reports how updates are delivered on this install.
	Kind() api.UpdateKind
	// Platform is the feed platform string, e.g. "win32-x64".
	Platform() string
	// Download fetches and verifies the artifact named by the
	// descriptor and stages it in the cache.
	Download(ctx context.Context, update *api.UpdateDescriptor) (*Available, error)
	// Apply stages the downloaded artifact for install: on setup
	// installs it writes the update flag, launches the installer
	// silently and waits for its readiness signal. Archive installs
	// are ready as soon as they are downloaded, so Apply is a no-op.
	Apply(ctx context.Context, avail *Available) error
	// QuitAndInstall performs the final install/relaunch hand-off.
	// Only called after a clean shutdown was negotiated.
	QuitAndInstall(ctx context.Context, avail *Available) error
	// Sideload stages a pre-downloaded artifact, bypassing the feed.
	Sideload(path string) (*Available, error)
}

// Options configures driver construction.
type Options struct {
	// Platform is the feed platform string. Empty means detect from
	// the runtime.
	Platform string
	// CachePath is the per-quality, per-architecture artifact cache.
	CachePath string
	// InstallPath is the product installation directory.
	InstallPath string
	// Target is the installation target, "user" or "system".
	Target string
	// HTTPClient overrides the artifact download client.
	HTTPClient *http.Client
}

func (o *Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Minute}
}

func (o *Options) platform() string {
	if o.Platform != "" {
		return o.Platform
	}
	return DetectPlatform()
}

// New selects the strategy for this install. Windows installs probe
// for the uninstaller to distinguish a setup install from an archive
// drop-in; everything else is archive-style.
func New(opts Options) Driver {
	if runtime.GOOS == "windows" && DetectUpdateKind(opts.InstallPath) == api.UpdateKindSetup {
		return NewSetupDriver(opts)
	}
	return NewArchiveDriver(opts)
}

// DetectPlatform maps the runtime OS/arch onto the feed's platform
// naming scheme.
func DetectPlatform() string {
	osName := runtime.GOOS
	if osName == "windows" {
		osName = "win32"
	}

	arch := runtime.GOARCH
	if arch == "amd64" {
		arch = "x64"
	}

	return osName + "-" + arch
}
